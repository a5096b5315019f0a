// Package workloads provides synthetic multi-thread access patterns for
// exercising the coherence simulator, plus a harness that runs them and
// collects results. The patterns are the classic sharing archetypes:
// private working sets, read-only sharing, producer/consumer,
// false sharing, and migratory data.
package workloads

import (
	"github.com/sarchlab/rscsim/coherence"
	"github.com/sarchlab/rscsim/trace"
)

// A Workload names a deterministic access stream.
type Workload struct {
	// Name identifies the workload.
	Name string

	// Description explains the sharing pattern it models.
	Description string

	// Threads is how many threads the stream interleaves.
	Threads int

	// Generate produces the access stream. Calling it twice yields the
	// same stream.
	Generate func() []trace.Access
}

// Region bases are page-separated so distinct threads touch distinct
// pages unless a workload deliberately shares.
const (
	privateBase = 0x10_0000
	sharedBase  = 0x80_0000
	threadSpan  = 0x1_0000
)

// PrivateWorkingSets gives every thread its own region that no other
// thread ever touches: every line stays private and safe.
func PrivateWorkingSets(threads, lines, rounds int) Workload {
	return Workload{
		Name:        "private",
		Description: "disjoint per-thread working sets, loads and stores",
		Threads:     threads,
		Generate: func() []trace.Access {
			var accesses []trace.Access
			for round := 0; round < rounds; round++ {
				for tid := 0; tid < threads; tid++ {
					base := uint64(privateBase + tid*threadSpan)
					for line := 0; line < lines; line++ {
						addr := base + uint64(line)*64
						accesses = append(accesses,
							trace.Access{TID: tid, Type: coherence.Load, Addr: addr, Size: 8},
							trace.Access{TID: tid, Type: coherence.Store, Addr: addr, Size: 8},
						)
					}
				}
			}
			return accesses
		},
	}
}

// SharedReadOnly has every thread repeatedly load one common region:
// shared, but never written, so every line stays safe.
func SharedReadOnly(threads, lines, rounds int) Workload {
	return Workload{
		Name:        "shared-readonly",
		Description: "all threads load a common read-only region",
		Threads:     threads,
		Generate: func() []trace.Access {
			var accesses []trace.Access
			for round := 0; round < rounds; round++ {
				for tid := 0; tid < threads; tid++ {
					for line := 0; line < lines; line++ {
						addr := uint64(sharedBase) + uint64(line)*64
						accesses = append(accesses,
							trace.Access{TID: tid, Type: coherence.Load, Addr: addr, Size: 8})
					}
				}
			}
			return accesses
		},
	}
}

// ProducerConsumer alternates a writing thread with a reading thread
// over one buffer: each handoff downgrades the producer's modified
// lines.
func ProducerConsumer(lines, rounds int) Workload {
	return Workload{
		Name:        "producer-consumer",
		Description: "thread 0 writes a buffer, thread 1 reads it, repeatedly",
		Threads:     2,
		Generate: func() []trace.Access {
			var accesses []trace.Access
			for round := 0; round < rounds; round++ {
				for line := 0; line < lines; line++ {
					addr := uint64(sharedBase) + uint64(line)*64
					accesses = append(accesses,
						trace.Access{TID: 0, Type: coherence.Store, Addr: addr, Size: 8})
				}
				for line := 0; line < lines; line++ {
					addr := uint64(sharedBase) + uint64(line)*64
					accesses = append(accesses,
						trace.Access{TID: 1, Type: coherence.Load, Addr: addr, Size: 8})
				}
			}
			return accesses
		},
	}
}

// FalseSharing has each thread store to its own word of one line: no
// data is logically shared, yet the line ping-pongs between the caches.
func FalseSharing(threads, rounds int) Workload {
	return Workload{
		Name:        "false-sharing",
		Description: "threads store disjoint words of the same line",
		Threads:     threads,
		Generate: func() []trace.Access {
			var accesses []trace.Access
			for round := 0; round < rounds; round++ {
				for tid := 0; tid < threads; tid++ {
					addr := uint64(sharedBase) + uint64(tid)*8
					accesses = append(accesses,
						trace.Access{TID: tid, Type: coherence.Store, Addr: addr, Size: 8})
				}
			}
			return accesses
		},
	}
}

// Migratory passes a region from thread to thread, each one reading and
// then updating it, the way a lock-protected structure migrates between
// cores.
func Migratory(threads, lines, rounds int) Workload {
	return Workload{
		Name:        "migratory",
		Description: "each thread in turn reads then updates a common region",
		Threads:     threads,
		Generate: func() []trace.Access {
			var accesses []trace.Access
			for round := 0; round < rounds; round++ {
				for tid := 0; tid < threads; tid++ {
					for line := 0; line < lines; line++ {
						addr := uint64(sharedBase) + uint64(line)*64
						accesses = append(accesses,
							trace.Access{TID: tid, Type: coherence.Load, Addr: addr, Size: 8},
							trace.Access{TID: tid, Type: coherence.Store, Addr: addr, Size: 8},
						)
					}
				}
			}
			return accesses
		},
	}
}

// Defaults returns the standard workload suite at a size small enough
// for tests and large enough to show the sharing effects.
func Defaults() []Workload {
	return []Workload{
		PrivateWorkingSets(4, 32, 8),
		SharedReadOnly(4, 32, 8),
		ProducerConsumer(32, 8),
		FalseSharing(4, 64),
		Migratory(4, 32, 8),
	}
}

// ByName finds a workload in the default suite.
func ByName(name string) (Workload, bool) {
	for _, w := range Defaults() {
		if w.Name == name {
			return w, true
		}
	}
	return Workload{}, false
}
