package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uayebforever/clan-stats/internal/timeperiod"
)

func TestRefreshPolicyPlan(t *testing.T) {
	policy := RefreshPolicy{Staleness: time.Hour, ForbiddenBackoff: 24 * time.Hour}
	now := h(100)

	tests := []struct {
		name     string
		coverage []timeperiod.Period
		floor    time.Time
		query    timeperiod.Period
		recent   bool
		backfill bool
	}{
		{"cold", nil, h(50), span(50, 100), true, true},
		{"fresh", []timeperiod.Period{span(40, 100)}, h(50), span(50, 100), false, false},
		{"fresh within staleness", []timeperiod.Period{span(40, 99)}, h(50), span(50, 99), false, false},
		{"stale", []timeperiod.Period{span(40, 97)}, h(50), span(50, 100), true, false},
		{"backfill only", []timeperiod.Period{span(60, 100)}, h(50), span(50, 100), false, true},
		{"both", []timeperiod.Period{span(60, 90)}, h(50), span(50, 100), true, true},
		{"floor after coverage", []timeperiod.Period{span(10, 20)}, h(50), span(50, 100), true, false},
		{"floor in future", []timeperiod.Period{span(10, 100)}, h(120), span(100, 100), false, false},
		{"unsorted coverage", []timeperiod.Period{span(70, 100), span(40, 60)}, h(50), span(50, 100), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := policy.Plan(tt.coverage, tt.floor, now)
			assert.True(t, tt.query.Equal(plan.Query), "expected %s, got %s", tt.query, plan.Query)
			assert.Equal(t, tt.recent, plan.Recent, "recent")
			assert.Equal(t, tt.backfill, plan.Backfill, "backfill")
		})
	}
}

func TestDefaultRefreshPolicy(t *testing.T) {
	policy := DefaultRefreshPolicy()
	assert.Equal(t, time.Hour, policy.Staleness)
	assert.Equal(t, 24*time.Hour, policy.ForbiddenBackoff)
}

func newTestRefresher(t *testing.T, up *fakeUpstream, clock clockwork.Clock) *Refresher[testKey, sample] {
	t.Helper()
	c := NewActivityCache[testKey, sample](up.get, NewMemoryBackend[sample](), WithName(t.Name()), WithClock(clock))
	return NewRefresher(c, RefreshPolicy{Staleness: time.Hour, ForbiddenBackoff: 24 * time.Hour})
}

func TestRefresherServesFreshDataWithoutUpstream(t *testing.T) {
	up := newFakeUpstream()
	key := testKey{"a"}
	up.addHourly(key, 0, 200)
	clock := clockwork.NewFakeClockAt(h(100))
	r := newTestRefresher(t, up, clock)
	ctx := context.Background()

	records, err := r.Since(ctx, key, h(90))
	require.NoError(t, err)
	assert.Len(t, records, 10)
	requireCalls(t, []timeperiod.Period{span(90, 100)}, up.callsSince(0))

	clock.Advance(30 * time.Minute)
	records, err = r.Since(ctx, key, h(90))
	require.NoError(t, err)
	assert.Len(t, records, 10)
	assert.Equal(t, 1, up.callCount(), "fresh data must not reach upstream")
	assert.Equal(t, 1.0, testutil.ToFloat64(refreshDecisionsTotal.WithLabelValues(t.Name(), "fresh")))
}

func TestRefresherFetchesOnlyTheStaleWindow(t *testing.T) {
	up := newFakeUpstream()
	key := testKey{"a"}
	up.addHourly(key, 0, 200)
	clock := clockwork.NewFakeClockAt(h(100))
	r := newTestRefresher(t, up, clock)
	ctx := context.Background()

	_, err := r.Since(ctx, key, h(90))
	require.NoError(t, err)

	clock.Advance(3 * time.Hour)
	records, err := r.Since(ctx, key, h(90))
	require.NoError(t, err)
	assert.Len(t, records, 13)
	requireCalls(t, []timeperiod.Period{span(100, 103)}, up.callsSince(1))
}

func TestRefresherStopsWhenUpstreamHasNothingNew(t *testing.T) {
	up := newFakeUpstream()
	key := testKey{"idle"}
	clock := clockwork.NewFakeClockAt(h(100))
	r := newTestRefresher(t, up, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		records, err := r.Since(ctx, key, h(0))
		require.NoError(t, err)
		assert.Empty(t, records)
	}
	assert.Equal(t, 1, up.callCount(), "empty answers must advance the refresh point")

	clock.Advance(2 * time.Hour)
	_, err := r.Since(ctx, key, h(0))
	require.NoError(t, err)
	requireCalls(t, []timeperiod.Period{span(100, 102)}, up.callsSince(1))
}

func TestRefresherBackfillsOlderHistory(t *testing.T) {
	up := newFakeUpstream()
	key := testKey{"a"}
	up.addHourly(key, 0, 200)
	clock := clockwork.NewFakeClockAt(h(100))
	r := newTestRefresher(t, up, clock)
	ctx := context.Background()

	_, err := r.Since(ctx, key, h(90))
	require.NoError(t, err)

	records, err := r.Since(ctx, key, h(70))
	require.NoError(t, err)
	assert.Len(t, records, 30)
	requireCalls(t, []timeperiod.Period{span(70, 90)}, up.callsSince(1))
	// The cold first call counts as a backfill too.
	assert.Equal(t, 2.0, testutil.ToFloat64(refreshDecisionsTotal.WithLabelValues(t.Name(), "backfill")))
}

func TestRefresherBacksOffForbiddenKeys(t *testing.T) {
	up := newFakeUpstream()
	key := testKey{"private"}
	up.addHourly(key, 0, 200)
	clock := clockwork.NewFakeClockAt(h(100))
	r := newTestRefresher(t, up, clock)
	ctx := context.Background()

	up.fail = func(call) error { return fmt.Errorf("%w: profile is private", ErrForbidden) }

	_, err := r.Since(ctx, key, h(90))
	require.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, 1, up.callCount())

	clock.Advance(time.Hour)
	_, err = r.Since(ctx, key, h(90))
	require.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, 1, up.callCount(), "forbidden key must not be retried during backoff")

	meta, err := r.Cache().Backend().ReadMeta(ctx, key.CacheKey())
	require.NoError(t, err)
	require.NotNil(t, meta)
	require.NotNil(t, meta.ForbiddenAt)
	assert.Empty(t, meta.Coverage, "forbidden keys get no coverage")

	up.fail = nil
	clock.Advance(24 * time.Hour)
	records, err := r.Since(ctx, key, h(90))
	require.NoError(t, err)
	assert.NotEmpty(t, records)

	meta, err = r.Cache().Backend().ReadMeta(ctx, key.CacheKey())
	require.NoError(t, err)
	assert.Nil(t, meta.ForbiddenAt, "success clears the forbidden marker")
}
