package trace

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sarchlab/rscsim/coherence"
)

// Driver owns the per-thread cache registry and feeds it accesses. A
// cache is created the first time a thread id appears, sharing the one
// DirectorySet with every other cache in the run.
//
// The coherence core is single-threaded cooperative: a directory request
// can reach into another thread's cache to downgrade it. The driver's
// mutex is held for the whole of every dispatch, including its recursive
// multi-line continuations, which is exactly the serialisation the core
// contract requires.
type Driver struct {
	mu sync.Mutex

	config Config
	dirs   *coherence.DirectorySet
	caches []*coherence.Cache

	dispatched uint64

	log zerolog.Logger
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithLogger routes the driver's progress logging to log. The default
// discards everything.
func WithLogger(log zerolog.Logger) DriverOption {
	return func(d *Driver) {
		d.log = log
	}
}

// NewDriver builds a driver for the given configuration.
func NewDriver(config Config, opts ...DriverOption) (*Driver, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("driver config: %w", err)
	}

	dirs, err := coherence.NewDirectorySet(config.DirectorySites, config.LineSize)
	if err != nil {
		return nil, err
	}
	dirs.SetAllowReverseTransition(config.AllowReverseTransition)

	d := &Driver{
		config: config,
		dirs:   dirs,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Config returns the configuration the driver was built with.
func (d *Driver) Config() Config {
	return d.config
}

// DirectorySet returns the shared directory bank.
func (d *Driver) DirectorySet() *coherence.DirectorySet {
	return d.dirs
}

// Dispatch delivers one access to the issuing thread's cache, creating
// the cache if the thread id is new, and reports whether the access was
// a full hit.
func (d *Driver) Dispatch(a Access) (bool, error) {
	if a.TID < 0 {
		return false, fmt.Errorf("negative thread id %d", a.TID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	cache, err := d.cacheForLocked(a.TID)
	if err != nil {
		return false, err
	}

	d.dispatched++
	return cache.Access(a.Type, a.Addr, a.Size), nil
}

// cacheForLocked grows the registry and lazily constructs the cache for
// tid. The caller must hold d.mu.
func (d *Driver) cacheForLocked(tid int) (*coherence.Cache, error) {
	for tid >= len(d.caches) {
		d.caches = append(d.caches, nil)
	}
	if d.caches[tid] == nil {
		cache, err := coherence.NewCache(
			d.config.CacheSize,
			d.config.LineSize,
			d.config.Associativity,
			d.dirs,
		)
		if err != nil {
			return nil, err
		}
		d.caches[tid] = cache
		d.log.Debug().Int("tid", tid).Msg("created cache for new thread")
	}
	return d.caches[tid], nil
}

// Replay streams a whole trace through the driver.
func (d *Driver) Replay(r io.Reader) error {
	err := Read(r, func(a Access) error {
		_, err := d.Dispatch(a)
		return err
	})
	if err != nil {
		return err
	}

	d.log.Info().
		Uint64("accesses", d.dispatched).
		Int("threads", d.threadCount()).
		Int("pages", d.dirs.PageCount()).
		Msg("replay finished")
	return nil
}

// ReplayFile streams a trace file through the driver.
func (d *Driver) ReplayFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	defer f.Close()

	return d.Replay(f)
}

// Dispatched returns the number of accesses delivered so far.
func (d *Driver) Dispatched() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dispatched
}

// Caches returns the per-thread caches, indexed by thread id. Slots for
// thread ids that never appeared are nil.
func (d *Driver) Caches() []*coherence.Cache {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*coherence.Cache, len(d.caches))
	copy(out, d.caches)
	return out
}

func (d *Driver) threadCount() int {
	n := 0
	for _, c := range d.caches {
		if c != nil {
			n++
		}
	}
	return n
}
