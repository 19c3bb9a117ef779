package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/uayebforever/clan-stats/internal/timeperiod"
)

var t0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

// h returns t0 + n hours.
func h(n int) time.Time {
	return t0.Add(time.Duration(n) * time.Hour)
}

type sample struct {
	At    time.Time `json:"at"`
	Value string    `json:"value"`
}

func (s sample) Timestamp() time.Time { return s.At }

type testKey struct {
	ID string
}

func (k testKey) CacheKey() string { return "test:" + k.ID }

type call struct {
	key        testKey
	start, end time.Time
}

func (c call) String() string {
	return fmt.Sprintf("%s %s", c.key.ID, timeperiod.MustBetween(c.start, c.end))
}

// fakeUpstream serves samples from a fixed timeline and records every call.
type fakeUpstream struct {
	mu       sync.Mutex
	timeline map[testKey][]sample
	calls    []call
	// fail, when set, is consulted before serving a call.
	fail  func(c call) error
	delay time.Duration
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{timeline: make(map[testKey][]sample)}
}

// addHourly adds one sample per hour in [from, to) for key.
func (u *fakeUpstream) addHourly(key testKey, from, to int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for i := from; i < to; i++ {
		u.timeline[key] = append(u.timeline[key], sample{At: h(i), Value: fmt.Sprintf("%s-%d", key.ID, i)})
	}
}

func (u *fakeUpstream) get(ctx context.Context, key testKey, start, end time.Time) ([]sample, error) {
	c := call{key: key, start: start, end: end}

	u.mu.Lock()
	u.calls = append(u.calls, c)
	fail := u.fail
	delay := u.delay
	u.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		if err := fail(c); err != nil {
			return nil, err
		}
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	var out []sample
	for _, s := range u.timeline[key] {
		if !s.At.Before(start) && s.At.Before(end) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (u *fakeUpstream) callCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.calls)
}

func (u *fakeUpstream) callsSince(n int) []call {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]call(nil), u.calls[n:]...)
}

func requireCalls(t *testing.T, want []timeperiod.Period, got []call) {
	t.Helper()
	require.Len(t, got, len(want), "calls: %v", got)
	for i := range want {
		p := timeperiod.MustBetween(got[i].start, got[i].end)
		require.True(t, want[i].Equal(p), "call %d: expected %s, got %s", i, want[i], p)
	}
}

func span(a, b int) timeperiod.Period {
	return timeperiod.MustBetween(h(a), h(b))
}
