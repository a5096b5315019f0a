package coherence

import (
	"fmt"
	"sort"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"
	"golang.org/x/exp/maps"
)

// Statistics holds the counters a cache accumulates over a run.
type Statistics struct {
	// Hits is the number of full hits.
	Hits uint64
	// PartialHits counts stores that found the line resident in Shared
	// and needed a directory upgrade but no victim selection.
	PartialHits uint64
	// Misses counts accesses that found no resident line.
	Misses uint64
	// SafeAccesses counts full hits whose resident line carried a set
	// safety bit. Partial hits and misses never contribute, even when the
	// installed line is safe.
	SafeAccesses uint64
	// MultilineAccesses counts line-boundary crossings.
	MultilineAccesses uint64
	// Downgrades counts downgrade callbacks received from directories.
	Downgrades uint64
	// RSCFlushes counts downgrades that took a line from safe to unsafe.
	RSCFlushes uint64
}

// Accesses is the total number of line accesses delivered to the cache.
func (s Statistics) Accesses() uint64 {
	return s.Hits + s.PartialHits + s.Misses
}

// HitRate is the fraction of accesses that were full hits.
func (s Statistics) HitRate() float64 {
	if s.Accesses() == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Accesses())
}

// SafeRate is the fraction of accesses that hit a safe line.
func (s Statistics) SafeRate() float64 {
	if s.Accesses() == 0 {
		return 0
	}
	return float64(s.SafeAccesses) / float64(s.Accesses())
}

// DowngradeSite is one row of the per-line downgrade histogram.
type DowngradeSite struct {
	// Line is the coherence-line number (address >> log2(lineSize)).
	Line uint64
	// Count is how many downgrades hit that line.
	Count uint64
}

// LineView is a snapshot of one way, used by invariant checks and
// debugging tools. Invalid ways report a zero Addr.
type LineView struct {
	Addr  uint64
	State CoherenceState
	Safe  bool
}

// Cache is one core's private set-associative data cache. Tag storage,
// LRU bookkeeping and victim selection are delegated to the Akita cache
// directory; the coherence state and safety bit of each way live in side
// slices indexed by setID*assoc+wayID.
//
// A Cache participates in exactly one DirectorySet. All cross-cache
// interaction is indirect, through directory requests and downgrade
// callbacks, and the driver must serialise every top-level Access across
// the whole cache set.
type Cache struct {
	lineSize uint64
	assoc    int
	sets     int

	offsetMask uint64
	setShift   uint

	tags     *akitacache.DirectoryImpl
	states   []CoherenceState
	safeBits []bool

	dirs *DirectorySet

	stats          Statistics
	downgradeCount map[uint64]uint64
}

// NewCache builds a cache with the given geometry, participating in dirs.
// The line size must be a power of two and match the directory set's, the
// associativity must be at least one, and the cache size must divide
// evenly into lineSize*assoc sets.
func NewCache(cacheSize, lineSize uint64, assoc int, dirs *DirectorySet) (*Cache, error) {
	switch {
	case cacheSize == 0:
		return nil, fmt.Errorf("%w: cache size must be > 0", ErrInvalidConfig)
	case lineSize == 0 || !isPowerOfTwo(lineSize):
		return nil, fmt.Errorf("%w: line size %d is not a power of two", ErrInvalidConfig, lineSize)
	case assoc < 1:
		return nil, fmt.Errorf("%w: associativity must be >= 1", ErrInvalidConfig)
	case cacheSize%(lineSize*uint64(assoc)) != 0:
		return nil, fmt.Errorf("%w: cache size %d is not a multiple of lineSize*assoc (%d)",
			ErrInvalidConfig, cacheSize, lineSize*uint64(assoc))
	case dirs == nil:
		return nil, fmt.Errorf("%w: nil directory set", ErrInvalidConfig)
	case dirs.LineSize() != lineSize:
		return nil, fmt.Errorf("%w: line size %d does not match directory set line size %d",
			ErrInvalidConfig, lineSize, dirs.LineSize())
	}

	sets := int(cacheSize / (lineSize * uint64(assoc)))

	c := &Cache{
		lineSize:       lineSize,
		assoc:          assoc,
		sets:           sets,
		offsetMask:     lineSize - 1,
		setShift:       log2(lineSize),
		states:         make([]CoherenceState, sets*assoc),
		safeBits:       make([]bool, sets*assoc),
		dirs:           dirs,
		downgradeCount: make(map[uint64]uint64),
	}
	c.tags = akitacache.NewDirectory(
		sets,
		assoc,
		int(lineSize),
		akitacache.NewLRUVictimFinder(),
	)

	return c, nil
}

// LineSize returns the coherence-line size in bytes.
func (c *Cache) LineSize() uint64 {
	return c.lineSize
}

// Stats returns the accumulated counters by value.
func (c *Cache) Stats() Statistics {
	return c.stats
}

// blockIndex computes the index into the side slices for a block.
func (c *Cache) blockIndex(block *akitacache.Block) int {
	return block.SetID*c.assoc + block.WayID
}

// Access delivers one observed memory reference to the cache and reports
// whether every line it touched was a full hit. An access that crosses a
// line boundary recurses on the tail, so the coherence events for the
// spanned lines happen in address order.
func (c *Cache) Access(typ AccessType, addr, length uint64) bool {
	hit := c.accessLine(typ, addr)

	if length == 0 {
		return hit
	}
	lineBase := addr &^ c.offsetMask
	if (addr+length-1)&^c.offsetMask == lineBase {
		return hit
	}

	c.stats.MultilineAccesses++
	consumed := c.lineSize - (addr & c.offsetMask)
	tailHit := c.Access(typ, lineBase+c.lineSize, length-consumed)

	return hit && tailHit
}

// accessLine runs the hit/miss protocol for the single line containing
// addr.
func (c *Cache) accessLine(typ AccessType, addr uint64) bool {
	lineAddr := addr &^ c.offsetMask

	block := c.tags.Lookup(0, lineAddr)
	if block != nil {
		idx := c.blockIndex(block)

		if typ == Load || c.states[idx] >= Exclusive {
			// Full hit. A store to an Exclusive line is promoted to
			// Modified locally; the line is already write-owned and the
			// directory does not need to hear about it.
			c.stats.Hits++
			if typ == Store {
				c.states[idx] = Modified
				block.IsDirty = true
			}
			if c.safeBits[idx] {
				c.stats.SafeAccesses++
			}
			c.tags.Visit(block)
			return true
		}

		// Partial hit: a store found the line in Shared. Upgrade through
		// the directory; the line is already resident so no victim is
		// selected.
		granted, safe := c.dirs.Find(addr).Request(c, addr, Modified)
		if granted < Modified {
			panic(fmt.Sprintf(
				"coherence: directory granted %v for a %v upgrade of %#x",
				granted, Modified, addr))
		}
		c.states[idx] = granted
		c.safeBits[idx] = safe
		block.IsDirty = true
		c.stats.PartialHits++
		c.tags.Visit(block)
		return false
	}

	// Miss. Ask the home site for the line, then make room for it.
	reqState := Shared
	if typ == Store {
		reqState = Modified
	}
	granted, safe := c.dirs.Find(addr).Request(c, addr, reqState)
	if granted < reqState {
		panic(fmt.Sprintf(
			"coherence: directory granted %v for a %v request of %#x",
			granted, reqState, addr))
	}

	victim := c.tags.FindVictim(lineAddr)
	if victim.IsValid {
		// Tell the evicted line's own home site about the writeback.
		evictAddr := victim.Tag
		c.dirs.Find(evictAddr).Request(c, evictAddr, Invalid)
	}

	idx := c.blockIndex(victim)
	victim.Tag = lineAddr
	victim.IsValid = true
	victim.IsDirty = granted == Modified
	c.states[idx] = granted
	c.safeBits[idx] = safe
	c.stats.Misses++
	c.tags.Visit(victim)

	return false
}

// Downgrade is the directory's callback into this cache: another cache's
// request forces the line holding addr out of its current state.
// newState must be Invalid or Shared. The line must be resident; a
// downgrade for a line the cache no longer holds is a protocol bug.
func (c *Cache) Downgrade(addr uint64, newState CoherenceState, safe bool) {
	lineAddr := addr &^ c.offsetMask

	block := c.tags.Lookup(0, lineAddr)
	if block == nil {
		panic(fmt.Sprintf(
			"coherence: downgrade to %v for line %#x which is not resident",
			newState, lineAddr))
	}

	idx := c.blockIndex(block)
	if c.safeBits[idx] && !safe {
		c.stats.RSCFlushes++
	}
	c.states[idx] = newState
	c.safeBits[idx] = safe
	if newState == Invalid {
		block.IsValid = false
		block.IsDirty = false
	}

	c.stats.Downgrades++
	c.downgradeCount[addr>>c.setShift]++
}

// DowngradeCounts returns a copy of the per-line downgrade histogram,
// keyed by line number.
func (c *Cache) DowngradeCounts() map[uint64]uint64 {
	return maps.Clone(c.downgradeCount)
}

// TopDowngrades returns the n most-downgraded lines, most downgraded
// first. Ties are broken by line number so the order is deterministic.
func (c *Cache) TopDowngrades(n int) []DowngradeSite {
	lines := maps.Keys(c.downgradeCount)
	sort.Slice(lines, func(i, j int) bool {
		ci, cj := c.downgradeCount[lines[i]], c.downgradeCount[lines[j]]
		if ci != cj {
			return ci > cj
		}
		return lines[i] < lines[j]
	})

	if n > len(lines) {
		n = len(lines)
	}
	top := make([]DowngradeSite, 0, n)
	for _, line := range lines[:n] {
		top = append(top, DowngradeSite{Line: line, Count: c.downgradeCount[line]})
	}
	return top
}

// Snapshot returns a per-set, per-way view of the cache contents for
// invariant checking.
func (c *Cache) Snapshot() [][]LineView {
	sets := c.tags.GetSets()
	out := make([][]LineView, len(sets))
	for i, set := range sets {
		ways := make([]LineView, len(set.Blocks))
		for j, block := range set.Blocks {
			if !block.IsValid {
				ways[j] = LineView{State: Invalid}
				continue
			}
			idx := c.blockIndex(block)
			ways[j] = LineView{
				Addr:  block.Tag,
				State: c.states[idx],
				Safe:  c.safeBits[idx],
			}
		}
		out[i] = ways
	}
	return out
}
