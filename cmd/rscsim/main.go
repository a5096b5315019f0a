// Command rscsim replays a memory-access trace through the coherence
// simulator and reports per-cache hit/safety statistics plus the
// directory-site sharing breakdown.
//
// Usage:
//
//	rscsim [flags] <trace file>
//
// Flags:
//
//	-o, --output    Report file (default: stdout)
//	-c, --config    Simulation config JSON file
//	-r, --reverse   Allow reverse transitions (unsafe lines may become safe again)
//	-v, --verbose   Verbose progress logging
//
// Example:
//
//	tracegen -w false-sharing -o fs.trace
//	rscsim -o fs.report fs.trace
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/sarchlab/rscsim/trace"
)

var (
	outputPath = flag.StringP("output", "o", "", "Report file (default: stdout)")
	configPath = flag.StringP("config", "c", "", "Simulation config JSON file")
	reverse    = flag.BoolP("reverse", "r", false, "Allow reverse transitions")
	verbose    = flag.BoolP("verbose", "v", false, "Verbose progress logging")
)

func main() {
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: rscsim [flags] <trace file>\n\nFlags:\n")
		flag.PrintDefaults()
		os.Exit(1)
	}
	tracePath := flag.Arg(0)

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	config := trace.DefaultConfig()
	if *configPath != "" {
		var err error
		config, err = trace.LoadConfig(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load config")
		}
	}
	if *reverse {
		config.AllowReverseTransition = true
	}

	driver, err := trace.NewDriver(config, trace.WithLogger(log))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build driver")
	}

	log.Debug().
		Uint64("cache_size", config.CacheSize).
		Uint64("line_size", config.LineSize).
		Int("associativity", config.Associativity).
		Int("directory_sites", config.DirectorySites).
		Bool("reverse", config.AllowReverseTransition).
		Msg("starting replay")

	if err := driver.ReplayFile(tracePath); err != nil {
		log.Fatal().Err(err).Str("trace", tracePath).Msg("replay failed")
	}

	out := os.Stdout
	if *outputPath != "" {
		f, err := os.Create(*outputPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create report file")
		}
		defer f.Close()
		out = f
	}

	if err := driver.WriteReport(out); err != nil {
		log.Fatal().Err(err).Msg("failed to write report")
	}
}
