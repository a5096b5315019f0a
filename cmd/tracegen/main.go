// Command tracegen writes a synthetic workload as a text trace file, so
// rscsim has inputs without a binary-instrumentation frontend.
//
// Usage:
//
//	tracegen [flags]
//
// Flags:
//
//	-w, --workload  Workload name (see --list)
//	-o, --output    Trace file (default: stdout)
//	-l, --list      List available workloads
package main

import (
	"bufio"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/sarchlab/rscsim/trace"
	"github.com/sarchlab/rscsim/workloads"
)

var (
	workloadName = flag.StringP("workload", "w", "private", "Workload name")
	outputPath   = flag.StringP("output", "o", "", "Trace file (default: stdout)")
	list         = flag.BoolP("list", "l", false, "List available workloads")
)

func main() {
	flag.Parse()

	if *list {
		for _, w := range workloads.Defaults() {
			fmt.Printf("%-18s %s\n", w.Name, w.Description)
		}
		return
	}

	workload, ok := workloads.ByName(*workloadName)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown workload %q (try --list)\n", *workloadName)
		os.Exit(1)
	}

	out := os.Stdout
	if *outputPath != "" {
		f, err := os.Create(*outputPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create trace file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	w := bufio.NewWriter(out)
	defer w.Flush()

	fmt.Fprintf(w, "# workload: %s (%s)\n", workload.Name, workload.Description)
	for _, a := range workload.Generate() {
		if err := trace.WriteAccess(w, a); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write trace: %v\n", err)
			os.Exit(1)
		}
	}
}
