package coherence_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rscsim/coherence"
)

const lineSize = 64

// resident scans a cache snapshot for the line holding addr.
func resident(c *coherence.Cache, addr uint64) (coherence.LineView, bool) {
	lineAddr := addr &^ uint64(lineSize-1)
	for _, set := range c.Snapshot() {
		for _, way := range set {
			if way.State != coherence.Invalid && way.Addr == lineAddr {
				return way, true
			}
		}
	}
	return coherence.LineView{}, false
}

var _ = Describe("Cache", func() {
	var (
		dirs *coherence.DirectorySet
		c    *coherence.Cache
	)

	// 512 B, 2-way, 64 B lines: 4 sets. Small enough to force evictions.
	BeforeEach(func() {
		var err error
		dirs, err = coherence.NewDirectorySet(1, lineSize)
		Expect(err).NotTo(HaveOccurred())
		c, err = coherence.NewCache(512, lineSize, 2, dirs)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewCache", func() {
		It("should reject a zero cache size", func() {
			_, err := coherence.NewCache(0, 64, 2, dirs)
			Expect(err).To(MatchError(coherence.ErrInvalidConfig))
		})

		It("should reject a non-power-of-two line size", func() {
			badDirs, err := coherence.NewDirectorySet(1, 64)
			Expect(err).NotTo(HaveOccurred())
			_, err = coherence.NewCache(512, 48, 2, badDirs)
			Expect(err).To(MatchError(coherence.ErrInvalidConfig))
		})

		It("should reject a zero associativity", func() {
			_, err := coherence.NewCache(512, 64, 0, dirs)
			Expect(err).To(MatchError(coherence.ErrInvalidConfig))
		})

		It("should reject an indivisible geometry", func() {
			_, err := coherence.NewCache(1000, 64, 2, dirs)
			Expect(err).To(MatchError(coherence.ErrInvalidConfig))
		})

		It("should reject a line size that differs from the directory set's", func() {
			_, err := coherence.NewCache(512, 128, 2, dirs)
			Expect(err).To(MatchError(coherence.ErrInvalidConfig))
		})

		It("should expose the line size", func() {
			Expect(c.LineSize()).To(Equal(uint64(64)))
		})
	})

	Describe("cold loads", func() {
		It("should miss, then be granted Exclusive and marked safe", func() {
			hit := c.Access(coherence.Load, 0x100, 8)
			Expect(hit).To(BeFalse())

			stats := c.Stats()
			Expect(stats.Misses).To(Equal(uint64(1)))
			Expect(stats.Hits).To(Equal(uint64(0)))
			// Misses never count as safe accesses, even when the
			// installed line is safe.
			Expect(stats.SafeAccesses).To(Equal(uint64(0)))

			line, ok := resident(c, 0x100)
			Expect(ok).To(BeTrue())
			Expect(line.State).To(Equal(coherence.Exclusive))
			Expect(line.Safe).To(BeTrue())
		})

		It("should fully hit on the second load and count it safe", func() {
			c.Access(coherence.Load, 0x100, 8)
			hit := c.Access(coherence.Load, 0x100, 8)
			Expect(hit).To(BeTrue())

			stats := c.Stats()
			Expect(stats.Hits).To(Equal(uint64(1)))
			Expect(stats.SafeAccesses).To(Equal(uint64(1)))

			line, _ := resident(c, 0x100)
			Expect(line.State).To(Equal(coherence.Exclusive))
		})

		It("should hit anywhere within a cached line", func() {
			c.Access(coherence.Load, 0x100, 8)
			Expect(c.Access(coherence.Load, 0x138, 4)).To(BeTrue())
		})
	})

	Describe("stores", func() {
		It("should install a missing line in Modified", func() {
			Expect(c.Access(coherence.Store, 0x200, 8)).To(BeFalse())

			line, ok := resident(c, 0x200)
			Expect(ok).To(BeTrue())
			Expect(line.State).To(Equal(coherence.Modified))
		})

		It("should fully hit immediately after a store miss", func() {
			c.Access(coherence.Store, 0x200, 8)
			Expect(c.Access(coherence.Load, 0x200, 8)).To(BeTrue())
			Expect(c.Access(coherence.Store, 0x200, 8)).To(BeTrue())
			Expect(c.Stats().Misses).To(Equal(uint64(1)))
			Expect(c.Stats().Hits).To(Equal(uint64(2)))
		})

		It("should promote an Exclusive line to Modified locally, with no directory traffic", func() {
			c.Access(coherence.Load, 0x100, 8)

			hit := c.Access(coherence.Store, 0x100, 8)
			Expect(hit).To(BeTrue())

			stats := c.Stats()
			Expect(stats.Hits).To(Equal(uint64(1)))
			Expect(stats.PartialHits).To(Equal(uint64(0)))

			line, _ := resident(c, 0x100)
			Expect(line.State).To(Equal(coherence.Modified))

			// The directory never heard about the promotion.
			view, ok := dirs.Find(0x100).EntryView(0x100)
			Expect(ok).To(BeTrue())
			Expect(view.Modified).To(BeFalse())
		})
	})

	Describe("eviction", func() {
		// Addresses 0x000, 0x100, 0x200 all map to set 0 of a 4-set
		// cache with 64-byte lines.
		It("should evict the least recently used way and write it back", func() {
			c.Access(coherence.Load, 0x000, 8)
			c.Access(coherence.Load, 0x100, 8)

			c.Access(coherence.Load, 0x200, 8)

			_, ok := resident(c, 0x000)
			Expect(ok).To(BeFalse(), "oldest way should have been evicted")
			_, ok = resident(c, 0x100)
			Expect(ok).To(BeTrue())
			_, ok = resident(c, 0x200)
			Expect(ok).To(BeTrue())

			// The writeback emptied the victim's sharer list.
			view, ok := dirs.Find(0x000).EntryView(0x000)
			Expect(ok).To(BeTrue())
			Expect(view.Sharers).To(Equal(0))
		})

		It("should keep the most recently used way on eviction", func() {
			c.Access(coherence.Load, 0x000, 8)
			c.Access(coherence.Load, 0x100, 8)
			c.Access(coherence.Load, 0x000, 8) // refresh 0x000

			c.Access(coherence.Load, 0x200, 8)

			_, ok := resident(c, 0x000)
			Expect(ok).To(BeTrue())
			_, ok = resident(c, 0x100)
			Expect(ok).To(BeFalse())
		})

		It("should prefer an invalid way over any valid way", func() {
			c.Access(coherence.Load, 0x000, 8)

			c.Access(coherence.Load, 0x100, 8)

			// Both lines fit: the second install used the invalid way.
			_, ok := resident(c, 0x000)
			Expect(ok).To(BeTrue())
			_, ok = resident(c, 0x100)
			Expect(ok).To(BeTrue())
		})
	})

	Describe("multi-line accesses", func() {
		It("should span exactly one boundary for a straddling access", func() {
			hit := c.Access(coherence.Load, 0x03C, 8)
			Expect(hit).To(BeFalse())
			Expect(c.Stats().MultilineAccesses).To(Equal(uint64(1)))
			Expect(c.Stats().Misses).To(Equal(uint64(2)))

			_, ok := resident(c, 0x000)
			Expect(ok).To(BeTrue())
			_, ok = resident(c, 0x040)
			Expect(ok).To(BeTrue())
		})

		It("should report a hit only when every spanned line hits", func() {
			c.Access(coherence.Load, 0x03C, 8)
			Expect(c.Access(coherence.Load, 0x03C, 8)).To(BeTrue())

			// Knock out the second line only; the straddling access must
			// stop reporting a full hit.
			c.Access(coherence.Load, 0x140, 8)
			c.Access(coherence.Load, 0x240, 8) // evicts 0x040 (set 1)
			Expect(c.Access(coherence.Load, 0x03C, 8)).To(BeFalse())
		})

		It("should handle accesses spanning more than two lines", func() {
			hit := c.Access(coherence.Load, 0x03C, 140)
			Expect(hit).To(BeFalse())
			Expect(c.Stats().MultilineAccesses).To(BeNumerically(">=", 1))

			for _, addr := range []uint64{0x000, 0x040, 0x080} {
				_, ok := resident(c, addr)
				Expect(ok).To(BeTrue())
			}
		})

		It("should not count a perfectly aligned access as multi-line", func() {
			c.Access(coherence.Load, 0x040, 64)
			Expect(c.Stats().MultilineAccesses).To(Equal(uint64(0)))
			Expect(c.Stats().Misses).To(Equal(uint64(1)))
		})
	})

	Describe("a cache running in isolation", func() {
		It("should never see partial hits or RSC flushes", func() {
			for i := uint64(0); i < 200; i++ {
				addr := 0x1000 + (i*24)%0x800
				typ := coherence.Load
				if i%3 == 0 {
					typ = coherence.Store
				}
				c.Access(typ, addr, 8)
			}

			stats := c.Stats()
			Expect(stats.PartialHits).To(Equal(uint64(0)))
			Expect(stats.RSCFlushes).To(Equal(uint64(0)))
			Expect(stats.Downgrades).To(Equal(uint64(0)))
			Expect(stats.Accesses()).To(Equal(uint64(200)))
		})
	})

	Describe("Downgrade", func() {
		It("should panic for a line that is not resident", func() {
			Expect(func() {
				c.Downgrade(0x5000, coherence.Invalid, false)
			}).To(Panic())
		})
	})

	Describe("statistics", func() {
		It("should keep the counters consistent", func() {
			for i := uint64(0); i < 50; i++ {
				c.Access(coherence.Load, 0x2000+i*32, 8)
			}

			stats := c.Stats()
			Expect(stats.Hits + stats.PartialHits + stats.Misses).
				To(Equal(stats.Accesses()))
			Expect(stats.SafeAccesses).To(BeNumerically("<=", stats.Accesses()))
			Expect(stats.HitRate()).To(BeNumerically(">=", 0))
			Expect(stats.HitRate()).To(BeNumerically("<=", 1))
			Expect(stats.SafeRate()).To(BeNumerically(">=", 0))
			Expect(stats.SafeRate()).To(BeNumerically("<=", 1))
		})

		It("should report zero rates on an untouched cache", func() {
			Expect(c.Stats().HitRate()).To(BeZero())
			Expect(c.Stats().SafeRate()).To(BeZero())
		})
	})
})
