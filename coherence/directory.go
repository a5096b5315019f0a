package coherence

import (
	"fmt"
)

// directoryEntry is the coherence metadata a home site keeps for one
// line. Entries are created lazily on first request and persist for the
// run (unless reverse transitions reset them to their virgin state).
type directoryEntry struct {
	// modified implies the single cache in sharers holds the line in
	// Modified.
	modified bool
	// sharers are the caches currently holding a valid copy, in the
	// order they acquired it. Handles only; the driver owns the caches.
	sharers []*Cache

	// owner is the first cache that ever requested the line.
	owner *Cache
	// readOnly stays true until some request asks for Modified.
	readOnly bool
	// shared becomes true once a cache other than owner makes a request.
	shared bool

	// safe is the verdict handed out with the most recent request:
	// !shared || readOnly.
	safe bool
}

func newDirectoryEntry() *directoryEntry {
	return &directoryEntry{readOnly: true, safe: true}
}

// EntryView is a read-only snapshot of one directory entry.
type EntryView struct {
	Modified bool
	Sharers  int
	HasOwner bool
	Shared   bool
	ReadOnly bool
	// Safe is the safety verdict returned with the entry's most recent
	// request.
	Safe bool
}

// Directory is one home site. It owns the entries for every line it has
// ever been asked about and mediates all state transitions for them,
// reaching into other caches to downgrade their copies when a request
// conflicts.
type Directory struct {
	addrShift    uint
	allowReverse bool

	entries map[uint64]*directoryEntry
}

func newDirectory(lineSize uint64) *Directory {
	return &Directory{
		addrShift: log2(lineSize),
		entries:   make(map[uint64]*directoryEntry),
	}
}

// Request processes one coherence request from cache c for the line
// holding addr and returns the granted state plus the line's safety
// verdict. The granted state is always at least reqState. A reqState of
// Invalid is a writeback: the cache is relinquishing the line.
//
// Request may call back into other caches' Downgrade while it runs; the
// driver-level serialisation makes that sound.
func (d *Directory) Request(c *Cache, addr uint64, reqState CoherenceState) (CoherenceState, bool) {
	key := addr >> d.addrShift
	entry := d.entries[key]
	if entry == nil {
		entry = newDirectoryEntry()
		d.entries[key] = entry
	}

	if entry.modified && len(entry.sharers) != 1 {
		panic(fmt.Sprintf(
			"coherence: line %#x is modified with %d sharers",
			key<<d.addrShift, len(entry.sharers)))
	}

	// Ownership and safety bookkeeping. owner, shared, and readOnly are
	// sticky for the entry's lifetime unless reverse transitions reset
	// the entry below.
	if entry.owner == nil {
		entry.owner = c
		entry.readOnly = reqState < Modified
	} else {
		entry.shared = entry.shared || c != entry.owner
		entry.readOnly = entry.readOnly && reqState < Modified
	}
	isSafe := !entry.shared || entry.readOnly
	entry.safe = isSafe

	switch reqState {
	case Shared:
		// A sole holder may have the line in Exclusive or Modified;
		// either way it drops to Shared.
		if len(entry.sharers) == 1 {
			entry.sharers[0].Downgrade(addr, Shared, isSafe)
		}
		entry.modified = false
		entry.sharers = append(entry.sharers, c)

		// An unshared request is silently promoted to Exclusive to avoid
		// a needless upgrade later.
		if len(entry.sharers) == 1 {
			return Exclusive, isSafe
		}
		return Shared, isSafe

	case Exclusive, Modified:
		for _, sharer := range entry.sharers {
			if sharer != c {
				sharer.Downgrade(addr, Invalid, isSafe)
			}
		}
		entry.sharers = append(entry.sharers[:0], c)
		entry.modified = reqState == Modified
		return reqState, isSafe

	case Invalid:
		// Writeback/eviction signal.
		if entry.modified {
			// The sole modified copy is the one being evicted.
			entry.modified = false
			entry.sharers = nil
		} else {
			for i, sharer := range entry.sharers {
				if sharer == c {
					entry.sharers = append(entry.sharers[:i], entry.sharers[i+1:]...)
					break
				}
			}
		}
		if d.allowReverse && len(entry.sharers) == 0 {
			entry.owner = nil
			entry.shared = false
			entry.readOnly = true
			isSafe = true
			entry.safe = isSafe
		}
		return Invalid, isSafe

	default:
		panic(fmt.Sprintf("coherence: request for unknown state %d", reqState))
	}
}

// EntryView returns a snapshot of the entry for the line holding addr,
// and whether the site has ever seen a request for it.
func (d *Directory) EntryView(addr uint64) (EntryView, bool) {
	entry, ok := d.entries[addr>>d.addrShift]
	if !ok {
		return EntryView{}, false
	}
	return EntryView{
		Modified: entry.modified,
		Sharers:  len(entry.sharers),
		HasOwner: entry.owner != nil,
		Shared:   entry.shared,
		ReadOnly: entry.readOnly,
		Safe:     entry.safe,
	}, true
}

// EntryCount returns how many lines this site has entries for.
func (d *Directory) EntryCount() int {
	return len(d.entries)
}

// SiteStats classifies every entry of a home site by its sharing
// history.
type SiteStats struct {
	// Entries is the total entry count at the site.
	Entries int
	// Untouched entries have no owner (possible only after a reverse
	// transition reset).
	Untouched int
	// PrivateReadOnly: one cache, never written.
	PrivateReadOnly int
	// PrivateReadWrite: one cache, written.
	PrivateReadWrite int
	// SharedReadOnly: several caches, never written.
	SharedReadOnly int
	// SharedReadWrite: several caches, written.
	SharedReadWrite int
}

func (s *SiteStats) add(o SiteStats) {
	s.Entries += o.Entries
	s.Untouched += o.Untouched
	s.PrivateReadOnly += o.PrivateReadOnly
	s.PrivateReadWrite += o.PrivateReadWrite
	s.SharedReadOnly += o.SharedReadOnly
	s.SharedReadWrite += o.SharedReadWrite
}

func (d *Directory) siteStats() SiteStats {
	var s SiteStats
	s.Entries = len(d.entries)
	for _, entry := range d.entries {
		switch {
		case entry.owner == nil:
			s.Untouched++
		case !entry.shared && entry.readOnly:
			s.PrivateReadOnly++
		case !entry.shared:
			s.PrivateReadWrite++
		case entry.readOnly:
			s.SharedReadOnly++
		default:
			s.SharedReadWrite++
		}
	}
	return s
}
