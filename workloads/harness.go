package workloads

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sarchlab/rscsim/trace"
)

// Result holds the aggregate statistics of one workload run.
type Result struct {
	// Name identifies the workload.
	Name string `json:"name"`

	// Description explains what the workload models.
	Description string `json:"description"`

	// Threads is the number of caches the run created.
	Threads int `json:"threads"`

	// Accesses is the total line accesses across all caches.
	Accesses uint64 `json:"accesses"`

	// HitRate is the aggregate full-hit fraction.
	HitRate float64 `json:"hit_rate"`

	// SafeRate is the aggregate safe-access fraction.
	SafeRate float64 `json:"safe_rate"`

	// Downgrades is the total downgrade callbacks delivered.
	Downgrades uint64 `json:"downgrades"`

	// RSCFlushes is the total safe-to-unsafe transitions.
	RSCFlushes uint64 `json:"rsc_flushes"`

	// WallTime is how long the replay took.
	WallTime time.Duration `json:"wall_time_ns"`
}

// HarnessConfig configures the workload harness.
type HarnessConfig struct {
	// Sim is the simulation configuration every workload runs under.
	Sim trace.Config

	// Output is where to write results (default: os.Stdout).
	Output io.Writer

	// Verbose prints a line as each workload starts.
	Verbose bool
}

// DefaultHarnessConfig returns a harness over the default simulation
// configuration.
func DefaultHarnessConfig() HarnessConfig {
	return HarnessConfig{
		Sim:    trace.DefaultConfig(),
		Output: os.Stdout,
	}
}

// Harness runs workloads through fresh drivers and collects results.
type Harness struct {
	config    HarnessConfig
	workloads []Workload
}

// NewHarness creates a harness with the given configuration.
func NewHarness(config HarnessConfig) *Harness {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	return &Harness{config: config}
}

// AddWorkloads appends workloads to the run list.
func (h *Harness) AddWorkloads(workloads []Workload) {
	h.workloads = append(h.workloads, workloads...)
}

// Run replays one workload through a fresh driver.
func (h *Harness) Run(w Workload) (Result, error) {
	driver, err := trace.NewDriver(h.config.Sim)
	if err != nil {
		return Result{}, fmt.Errorf("workload %s: %w", w.Name, err)
	}

	start := time.Now()
	for _, a := range w.Generate() {
		if _, err := driver.Dispatch(a); err != nil {
			return Result{}, fmt.Errorf("workload %s: %w", w.Name, err)
		}
	}
	elapsed := time.Since(start)

	result := Result{
		Name:        w.Name,
		Description: w.Description,
		WallTime:    elapsed,
	}
	var hits, safe uint64
	for _, cache := range driver.Caches() {
		if cache == nil {
			continue
		}
		result.Threads++
		stats := cache.Stats()
		result.Accesses += stats.Accesses()
		hits += stats.Hits
		safe += stats.SafeAccesses
		result.Downgrades += stats.Downgrades
		result.RSCFlushes += stats.RSCFlushes
	}
	if result.Accesses > 0 {
		result.HitRate = float64(hits) / float64(result.Accesses)
		result.SafeRate = float64(safe) / float64(result.Accesses)
	}
	return result, nil
}

// RunAll runs every added workload in order.
func (h *Harness) RunAll() ([]Result, error) {
	results := make([]Result, 0, len(h.workloads))
	for _, w := range h.workloads {
		if h.config.Verbose {
			fmt.Fprintf(h.config.Output, "running %s...\n", w.Name)
		}
		result, err := h.Run(w)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

// PrintResults writes a human-readable results table.
func (h *Harness) PrintResults(results []Result) {
	fmt.Fprintf(h.config.Output, "%-18s %8s %10s %9s %9s %11s %12s\n",
		"Workload", "Threads", "Accesses", "Hit Rate", "Safe Rate",
		"Downgrades", "RSC Flushes")
	for _, r := range results {
		fmt.Fprintf(h.config.Output, "%-18s %8d %10d %8.1f%% %8.1f%% %11d %12d\n",
			r.Name, r.Threads, r.Accesses,
			100*r.HitRate, 100*r.SafeRate, r.Downgrades, r.RSCFlushes)
	}
}

// PrintCSV writes the results as CSV for spreadsheet comparison.
func (h *Harness) PrintCSV(results []Result) {
	fmt.Fprintln(h.config.Output,
		"name,threads,accesses,hit_rate,safe_rate,downgrades,rsc_flushes,wall_time_ns")
	for _, r := range results {
		fmt.Fprintf(h.config.Output, "%s,%d,%d,%.4f,%.4f,%d,%d,%d\n",
			r.Name, r.Threads, r.Accesses, r.HitRate, r.SafeRate,
			r.Downgrades, r.RSCFlushes, r.WallTime.Nanoseconds())
	}
}

// PrintJSON writes the results as a JSON array.
func (h *Harness) PrintJSON(results []Result) error {
	enc := json.NewEncoder(h.config.Output)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}
