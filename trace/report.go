package trace

import (
	"fmt"
	"io"

	"github.com/sarchlab/rscsim/coherence"
)

// WriteReport renders the end-of-run statistics report: one row per
// cache, a totals row with the globally hottest downgraded line, and the
// directory-site entry classification.
func (d *Driver) WriteReport(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := fmt.Fprintf(w, "%-8s %15s %10s %10s %12s %12s\n",
		"", "Accesses", "Hit Rate", "Safe Rate", "Downgrades", "RSC Flushes")
	if err != nil {
		return err
	}

	var (
		totalAccesses   uint64
		totalHits       uint64
		totalSafe       uint64
		totalDowngrades uint64
		totalFlushes    uint64
	)
	totalDowngradeCount := make(map[uint64]uint64)

	for tid, cache := range d.caches {
		if cache == nil {
			continue
		}
		stats := cache.Stats()

		totalAccesses += stats.Accesses()
		totalHits += stats.Hits
		totalSafe += stats.SafeAccesses
		totalDowngrades += stats.Downgrades
		totalFlushes += stats.RSCFlushes

		if _, err := fmt.Fprintf(w, "%-8s %15d %9.1f%% %9.1f%% %12d %12d",
			fmt.Sprintf("Cache %d", tid),
			stats.Accesses(),
			100*stats.HitRate(),
			100*stats.SafeRate(),
			stats.Downgrades,
			stats.RSCFlushes,
		); err != nil {
			return err
		}

		// The three most-downgraded lines of this cache.
		for _, site := range cache.TopDowngrades(3) {
			if _, err := fmt.Fprintf(w, " (0x%x : %.1f%%)",
				site.Line, 100*float64(site.Count)/float64(stats.Downgrades)); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}

		for line, count := range cache.DowngradeCounts() {
			totalDowngradeCount[line] += count
		}
	}

	var hitRate, safeRate float64
	if totalAccesses > 0 {
		hitRate = float64(totalHits) / float64(totalAccesses)
		safeRate = float64(totalSafe) / float64(totalAccesses)
	}
	if _, err := fmt.Fprintf(w, "%-8s %15d %9.1f%% %9.1f%% %12d %12d",
		"Totals", totalAccesses, 100*hitRate, 100*safeRate,
		totalDowngrades, totalFlushes); err != nil {
		return err
	}

	var topLine, topCount uint64
	for line, count := range totalDowngradeCount {
		if count > topCount || (count == topCount && line < topLine) {
			topLine, topCount = line, count
		}
	}
	if totalDowngrades > 0 {
		if _, err := fmt.Fprintf(w, " (0x%x : %.1f%%)",
			topLine, 100*float64(topCount)/float64(totalDowngrades)); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "\n\n"); err != nil {
		return err
	}

	return writeDirectoryStats(w, d.dirs.Stats())
}

func writeDirectoryStats(w io.Writer, stats coherence.DirectoryStats) error {
	_, err := fmt.Fprintf(w, "%-8s %10s %10s %8s %8s %8s %8s\n",
		"", "Entries", "Untouched", "P_RO", "P_RW", "S_RO", "S_RW")
	if err != nil {
		return err
	}

	row := func(label string, s coherence.SiteStats) error {
		_, err := fmt.Fprintf(w, "%-8s %10d %10d %8d %8d %8d %8d\n",
			label, s.Entries, s.Untouched,
			s.PrivateReadOnly, s.PrivateReadWrite,
			s.SharedReadOnly, s.SharedReadWrite)
		return err
	}

	for i, site := range stats.Sites {
		if err := row(fmt.Sprintf("Site %d", i), site); err != nil {
			return err
		}
	}
	return row("Total", stats.Total)
}
