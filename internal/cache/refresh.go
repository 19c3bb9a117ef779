package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/uayebforever/clan-stats/internal/timeperiod"
)

// Default refresh settings.
const (
	DefaultStaleness        = timeperiod.Hour
	DefaultForbiddenBackoff = timeperiod.Day
)

// RefreshPolicy decides when a key is worth querying upstream again.
type RefreshPolicy struct {
	// Staleness is how old the newest covered instant may get before the
	// window since then is fetched again.
	Staleness time.Duration

	// ForbiddenBackoff is how long a key refused by upstream is left alone.
	ForbiddenBackoff time.Duration
}

// DefaultRefreshPolicy returns the policy used by the CLI.
func DefaultRefreshPolicy() RefreshPolicy {
	return RefreshPolicy{Staleness: DefaultStaleness, ForbiddenBackoff: DefaultForbiddenBackoff}
}

// Plan is the outcome of a refresh decision.
type Plan struct {
	// Query is the range to read through the cache.
	Query timeperiod.Period
	// Recent is set when the newest data is stale and is queried up to now.
	Recent bool
	// Backfill is set when history older than the coverage is requested.
	Backfill bool
}

// Plan returns the range to read for records since floor.
//
// With no coverage both triggers fire. Otherwise the range ends at now when
// the newest covered instant is older than Staleness, and at that instant
// when it is not, so fresh data is served without an upstream call. The
// range starts at floor; anything between floor and the oldest covered
// instant is fetched by the cache as a missing period.
//
// Coverage from a recency fetch always ends at the call time, even when
// upstream returned nothing, which is what stops the next call from fetching
// again.
func (p RefreshPolicy) Plan(coverage []timeperiod.Period, floor, now time.Time) Plan {
	if floor.After(now) {
		floor = now
	}
	tracker := timeperiod.NewTracker(coverage...)
	oldest, ok := tracker.Earliest()
	if !ok {
		return Plan{Query: timeperiod.MustBetween(floor, now), Recent: true, Backfill: true}
	}
	newest, _ := tracker.Latest()

	plan := Plan{Backfill: floor.Before(oldest)}
	end := newest
	if now.Sub(newest) > p.Staleness || newest.Before(floor) {
		plan.Recent = true
		end = now
	}
	if end.After(now) {
		end = now
	}
	plan.Query = timeperiod.MustBetween(floor, end)
	return plan
}

// Refresher serves records since a floor through an ActivityCache, applying
// a RefreshPolicy.
type Refresher[K Key, R Record] struct {
	cache  *ActivityCache[K, R]
	policy RefreshPolicy
	clock  clockwork.Clock
	logger *logrus.Entry
	name   string
}

// NewRefresher wraps cache with policy.
func NewRefresher[K Key, R Record](cache *ActivityCache[K, R], policy RefreshPolicy, opts ...Option) *Refresher[K, R] {
	o := cache.opts
	if len(opts) > 0 {
		o = buildOptions(opts)
	}
	return &Refresher[K, R]{
		cache:  cache,
		policy: policy,
		clock:  o.clock,
		logger: o.logger,
		name:   o.name,
	}
}

// Cache returns the wrapped cache.
func (r *Refresher[K, R]) Cache() *ActivityCache[K, R] {
	return r.cache
}

// Since returns the records of key from floor up to the newest data the
// policy considers fresh enough.
//
// Keys refused by upstream are not queried again until ForbiddenBackoff has
// passed; in the meantime an error wrapping ErrForbidden is returned.
func (r *Refresher[K, R]) Since(ctx context.Context, key K, floor time.Time) ([]R, error) {
	now := r.clock.Now()
	log := r.logger.WithField("key", key.CacheKey())

	var (
		plan           Plan
		forbiddenSince *time.Time
	)
	err := r.cache.withEntry(ctx, key, func(e *entry) error {
		forbiddenSince = e.forbiddenAt
		plan = r.policy.Plan(e.tracker.Coverage(), floor, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if forbiddenSince != nil && now.Sub(*forbiddenSince) < r.policy.ForbiddenBackoff {
		refreshDecisionsTotal.WithLabelValues(r.name, "forbidden").Inc()
		return nil, fmt.Errorf("%w: %s (since %s)", ErrForbidden, key.CacheKey(), forbiddenSince.Format(time.RFC3339))
	}

	r.recordDecision(plan)
	log.WithFields(logrus.Fields{
		"query":    plan.Query.String(),
		"recent":   plan.Recent,
		"backfill": plan.Backfill,
	}).Debug("refresh plan")

	records, err := r.cache.Get(ctx, key, plan.Query.Start(), plan.Query.End())
	switch {
	case errors.Is(err, ErrForbidden):
		log.WithError(err).Info("upstream refused key, backing off")
		if markErr := r.mark(ctx, key, &now); markErr != nil {
			return nil, errors.Join(err, markErr)
		}
		return nil, err
	case err != nil:
		return nil, err
	}

	if forbiddenSince != nil {
		if err := r.mark(ctx, key, nil); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (r *Refresher[K, R]) mark(ctx context.Context, key K, at *time.Time) error {
	return r.cache.withEntry(ctx, key, func(e *entry) error {
		return r.cache.setForbidden(ctx, key, e, at)
	})
}

func (r *Refresher[K, R]) recordDecision(plan Plan) {
	if plan.Recent {
		refreshDecisionsTotal.WithLabelValues(r.name, "recent").Inc()
	}
	if plan.Backfill {
		refreshDecisionsTotal.WithLabelValues(r.name, "backfill").Inc()
	}
	if !plan.Recent && !plan.Backfill {
		refreshDecisionsTotal.WithLabelValues(r.name, "fresh").Inc()
	}
}
