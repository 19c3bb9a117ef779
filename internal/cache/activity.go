package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/uayebforever/clan-stats/internal/timeperiod"
)

// ErrForbidden marks upstream refusals for a key. Getters wrap their
// access-denied errors with it so the refresh layer can tell them apart from
// transient failures.
var ErrForbidden = errors.New("access forbidden")

// Option configures an ActivityCache or Refresher.
type Option func(*options)

type options struct {
	name   string
	clock  clockwork.Clock
	logger *logrus.Entry
}

// WithName labels metrics and log lines.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithClock replaces the wall clock (for testing).
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithLogger replaces the default logger.
func WithLogger(logger *logrus.Entry) Option {
	return func(o *options) { o.logger = logger }
}

func buildOptions(opts []Option) options {
	o := options{name: "activity", clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logrus.WithField("component", "cache")
	}
	o.logger = o.logger.WithField("cache", o.name)
	return o
}

// entry is the in-process state of one key. mu serializes gap computation,
// fetching, storing and coverage updates for the key.
type entry struct {
	mu          sync.Mutex
	loaded      bool
	tracker     *timeperiod.Tracker
	forbiddenAt *time.Time
}

// ActivityCache fetches records per key from upstream, asking only for the
// periods not yet covered.
//
// Keys are independent: each has its own lock, created on first use, and
// the map lock is held only to find or create an entry.
type ActivityCache[K Key, R Record] struct {
	getter  Getter[K, R]
	backend Backend[R]
	opts    options

	mu      sync.Mutex
	entries map[K]*entry
}

// NewActivityCache creates a cache over getter and backend.
func NewActivityCache[K Key, R Record](getter Getter[K, R], backend Backend[R], opts ...Option) *ActivityCache[K, R] {
	return &ActivityCache[K, R]{
		getter:  getter,
		backend: backend,
		opts:    buildOptions(opts),
		entries: make(map[K]*entry),
	}
}

// Backend returns the durable store.
func (c *ActivityCache[K, R]) Backend() Backend[R] {
	return c.backend
}

// Get returns the records of key in [earliest, latest), ascending, fetching
// any uncovered periods first.
//
// Each missing period is credited as covered once its records are stored,
// even if there were none. A failed fetch leaves its period uncovered and the
// remaining periods are still fetched; the first error is then returned
// unchanged. A forbidden key or a cancelled context stops at once.
func (c *ActivityCache[K, R]) Get(ctx context.Context, key K, earliest, latest time.Time) ([]R, error) {
	query, err := timeperiod.Between(earliest, latest)
	if err != nil {
		return nil, err
	}

	e := c.entry(key)
	e.mu.Lock()
	err = c.fill(ctx, key, e, query)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return c.backend.Records(ctx, key.CacheKey(), query)
}

// GetUntilNow is Get with latest set to the current time.
func (c *ActivityCache[K, R]) GetUntilNow(ctx context.Context, key K, earliest time.Time) ([]R, error) {
	return c.Get(ctx, key, earliest, c.opts.clock.Now())
}

// HasRange reports whether [start, end) is fully covered for key. It never
// calls upstream.
func (c *ActivityCache[K, R]) HasRange(ctx context.Context, key K, start, end time.Time) (bool, error) {
	query, err := timeperiod.Between(start, end)
	if err != nil {
		return false, err
	}

	var covered bool
	err = c.withEntry(ctx, key, func(e *entry) error {
		covered = e.tracker.CoversPeriod(query)
		return nil
	})
	return covered, err
}

// Coverage returns the covered periods of key.
func (c *ActivityCache[K, R]) Coverage(ctx context.Context, key K) ([]timeperiod.Period, error) {
	var coverage []timeperiod.Period
	err := c.withEntry(ctx, key, func(e *entry) error {
		coverage = e.tracker.Coverage()
		return nil
	})
	return coverage, err
}

func (c *ActivityCache[K, R]) entry(key K) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	return e
}

// withEntry runs fn with the entry of key loaded and locked.
func (c *ActivityCache[K, R]) withEntry(ctx context.Context, key K, fn func(e *entry) error) error {
	e := c.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := c.load(ctx, key, e); err != nil {
		return err
	}
	return fn(e)
}

// load reads persisted coverage the first time a key is used.
func (c *ActivityCache[K, R]) load(ctx context.Context, key K, e *entry) error {
	if e.loaded {
		return nil
	}

	meta, err := c.backend.ReadMeta(ctx, key.CacheKey())
	if err != nil {
		return fmt.Errorf("load coverage for %s: %w", key.CacheKey(), err)
	}

	e.tracker = timeperiod.NewTracker()
	if meta != nil {
		e.tracker = timeperiod.NewTracker(meta.Coverage...)
		e.forbiddenAt = meta.ForbiddenAt
	}
	e.loaded = true
	return nil
}

// fill fetches every missing period of query. Caller holds e.mu.
func (c *ActivityCache[K, R]) fill(ctx context.Context, key K, e *entry, query timeperiod.Period) error {
	if err := c.load(ctx, key, e); err != nil {
		return err
	}

	missing := e.tracker.Missing(query)
	c.recordLookup(query, missing)
	if len(missing) == 0 {
		return nil
	}

	log := c.opts.logger.WithField("key", key.CacheKey())
	var firstErr error
	for _, sub := range missing {
		if err := ctx.Err(); err != nil {
			return err
		}

		log.WithField("period", sub.String()).Debug("fetching missing period")
		records, err := c.getter(ctx, key, sub.Start(), sub.End())
		if err != nil {
			forbidden := errors.Is(err, ErrForbidden)
			outcome := "error"
			if forbidden {
				outcome = "forbidden"
			}
			upstreamFetchesTotal.WithLabelValues(c.opts.name, outcome).Inc()
			log.WithError(err).WithField("period", sub.String()).Debug("upstream fetch failed")
			if forbidden || ctx.Err() != nil {
				return err
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		upstreamFetchesTotal.WithLabelValues(c.opts.name, "ok").Inc()

		if err := c.store(ctx, key, e, sub, records); err != nil {
			return err
		}
	}
	return firstErr
}

// store saves the records of sub and credits it as covered. Coverage is only
// updated in memory once it has been persisted.
func (c *ActivityCache[K, R]) store(ctx context.Context, key K, e *entry, sub timeperiod.Period, records []R) error {
	inRange := records[:0:0]
	for _, r := range records {
		if sub.Contains(r.Timestamp()) {
			inRange = append(inRange, r)
		}
	}

	added, err := c.backend.AddRecords(ctx, key.CacheKey(), inRange)
	if err != nil {
		return fmt.Errorf("store records for %s: %w", key.CacheKey(), err)
	}
	recordsStoredTotal.WithLabelValues(c.opts.name).Add(float64(added))

	next := e.tracker.Clone()
	next.Add(sub)
	if err := c.writeMeta(ctx, key, next, e.forbiddenAt); err != nil {
		return err
	}
	e.tracker = next

	c.opts.logger.WithFields(logrus.Fields{
		"key":      key.CacheKey(),
		"period":   sub.String(),
		"returned": len(records),
		"added":    added,
	}).Debug("period cached")
	return nil
}

// setForbidden persists the forbidden marker for key. Caller holds e.mu.
func (c *ActivityCache[K, R]) setForbidden(ctx context.Context, key K, e *entry, at *time.Time) error {
	if err := c.writeMeta(ctx, key, e.tracker, at); err != nil {
		return err
	}
	e.forbiddenAt = at
	return nil
}

func (c *ActivityCache[K, R]) writeMeta(ctx context.Context, key K, tracker *timeperiod.Tracker, forbiddenAt *time.Time) error {
	meta := &EntryMeta{
		Coverage:    tracker.Coverage(),
		UpdatedAt:   c.opts.clock.Now().UTC(),
		ForbiddenAt: forbiddenAt,
	}
	if err := c.backend.WriteMeta(ctx, key.CacheKey(), meta); err != nil {
		return fmt.Errorf("persist coverage for %s: %w", key.CacheKey(), err)
	}
	return nil
}

func (c *ActivityCache[K, R]) recordLookup(query timeperiod.Period, missing []timeperiod.Period) {
	result := "partial"
	switch {
	case len(missing) == 0:
		result = "hit"
	case len(missing) == 1 && missing[0].Equal(query):
		result = "miss"
	}
	lookupsTotal.WithLabelValues(c.opts.name, result).Inc()
}
