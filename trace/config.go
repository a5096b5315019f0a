// Package trace replays observed load/store streams into a set of
// simulated per-thread caches. It stands in for the dynamic binary
// instrumentation frontend: accesses come from trace files (or a
// synthetic generator) instead of a live program, and the driver
// serialises them into the coherence core exactly the way the
// instrumentation tool's global lock would.
package trace

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config holds the simulation parameters for one run.
type Config struct {
	// CacheSize is each per-thread cache's capacity in bytes.
	// Default: 256 KiB.
	CacheSize uint64 `json:"cache_size"`

	// LineSize is the coherence-line size in bytes; must be a power of
	// two. Default: 64.
	LineSize uint64 `json:"line_size"`

	// Associativity is the number of ways per set. Default: 8.
	Associativity int `json:"associativity"`

	// DirectorySites is the number of home sites addresses are
	// distributed over. Default: 2.
	DirectorySites int `json:"directory_sites"`

	// AllowReverseTransition lets a directory entry whose sharer list
	// empties forget its sharing history, so a line can become safe
	// again. Default: false.
	AllowReverseTransition bool `json:"allow_reverse_transition"`
}

// DefaultConfig returns the configuration the original tool hard-coded:
// 256 KiB, 64-byte lines, 8-way, two home sites.
func DefaultConfig() Config {
	return Config{
		CacheSize:      256 * 1024,
		LineSize:       64,
		Associativity:  8,
		DirectorySites: 2,
	}
}

// LoadConfig reads a configuration from a JSON file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Save writes the configuration to a JSON file.
func (c Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration describes a buildable cache
// geometry.
func (c Config) Validate() error {
	if c.CacheSize == 0 {
		return fmt.Errorf("cache_size must be > 0")
	}
	if c.LineSize == 0 || c.LineSize&(c.LineSize-1) != 0 {
		return fmt.Errorf("line_size must be a power of two, got %d", c.LineSize)
	}
	if c.Associativity < 1 {
		return fmt.Errorf("associativity must be >= 1")
	}
	if c.CacheSize%(c.LineSize*uint64(c.Associativity)) != 0 {
		return fmt.Errorf("cache_size %d is not a multiple of line_size*associativity (%d)",
			c.CacheSize, c.LineSize*uint64(c.Associativity))
	}
	if c.DirectorySites < 1 {
		return fmt.Errorf("directory_sites must be >= 1")
	}
	return nil
}
