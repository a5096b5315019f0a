package coherence

import (
	"fmt"
)

// DirectorySet is the bank of home sites shared by every cache in the
// simulation, plus the page map that routes an address to its home.
//
// Homing emulates a first-touch page allocator feeding a low-order-bit
// home-site hash: virtual pages are numbered densely in the order the
// system first sees them, and a page's home is its number modulo the
// site count. The page map only grows.
type DirectorySet struct {
	lineSize uint64

	sites   []*Directory
	pageMap map[uint64]uint64
}

// NewDirectorySet builds numSites home sites for caches with the given
// line size.
func NewDirectorySet(numSites int, lineSize uint64) (*DirectorySet, error) {
	if numSites < 1 {
		return nil, fmt.Errorf("%w: need at least one directory site", ErrInvalidConfig)
	}
	if lineSize == 0 || !isPowerOfTwo(lineSize) {
		return nil, fmt.Errorf("%w: line size %d is not a power of two", ErrInvalidConfig, lineSize)
	}

	s := &DirectorySet{
		lineSize: lineSize,
		sites:    make([]*Directory, numSites),
		pageMap:  make(map[uint64]uint64),
	}
	for i := range s.sites {
		s.sites[i] = newDirectory(lineSize)
	}
	return s, nil
}

// LineSize returns the coherence-line size the sites were built for.
func (s *DirectorySet) LineSize() uint64 {
	return s.lineSize
}

// NumSites returns the number of home sites.
func (s *DirectorySet) NumSites() int {
	return len(s.sites)
}

// Find returns the home site for addr, assigning the address's page a
// dense physical page number on first sight.
func (s *DirectorySet) Find(addr uint64) *Directory {
	vpn := addr >> PageShift
	ppn, ok := s.pageMap[vpn]
	if !ok {
		ppn = uint64(len(s.pageMap))
		s.pageMap[vpn] = ppn
	}
	return s.sites[ppn%uint64(len(s.sites))]
}

// Site returns home site i, for introspection.
func (s *DirectorySet) Site(i int) *Directory {
	return s.sites[i]
}

// PageCount returns how many distinct pages the set has homed so far.
func (s *DirectorySet) PageCount() int {
	return len(s.pageMap)
}

// SetAllowReverseTransition controls whether a directory entry whose
// sharer list empties via writebacks resets its owner and safety history
// to the virgin state. The default is off: shared and readOnly are
// sticky for life.
func (s *DirectorySet) SetAllowReverseTransition(allow bool) {
	for _, site := range s.sites {
		site.allowReverse = allow
	}
}

// DirectoryStats is the per-site and aggregate entry classification.
type DirectoryStats struct {
	Sites []SiteStats
	Total SiteStats
}

// Stats classifies every entry of every site.
func (s *DirectorySet) Stats() DirectoryStats {
	stats := DirectoryStats{Sites: make([]SiteStats, len(s.sites))}
	for i, site := range s.sites {
		stats.Sites[i] = site.siteStats()
		stats.Total.add(stats.Sites[i])
	}
	return stats
}
