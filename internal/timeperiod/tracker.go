package timeperiod

import (
	"encoding/json"
	"slices"
	"time"
)

// Tracker records which spans of the time axis are covered.
//
// The coverage is kept sorted by start, and no two tracked periods overlap or
// touch: adjacent spans are always merged. Zero-length periods cover nothing
// and are never stored.
//
// A Tracker is not safe for concurrent use; callers serialize access.
type Tracker struct {
	coverage []Period
}

// NewTracker returns a tracker covering the given periods.
func NewTracker(periods ...Period) *Tracker {
	t := &Tracker{}
	for _, p := range periods {
		t.Add(p)
	}
	return t
}

// Coverage returns a copy of the tracked periods in ascending order.
func (t *Tracker) Coverage() []Period {
	return slices.Clone(t.coverage)
}

// IsEmpty reports whether nothing is covered.
func (t *Tracker) IsEmpty() bool {
	return len(t.coverage) == 0
}

// Earliest returns the start of the oldest covered span.
func (t *Tracker) Earliest() (time.Time, bool) {
	if len(t.coverage) == 0 {
		return time.Time{}, false
	}
	return t.coverage[0].Start(), true
}

// Latest returns the end of the newest covered span.
func (t *Tracker) Latest() (time.Time, bool) {
	if len(t.coverage) == 0 {
		return time.Time{}, false
	}
	return t.coverage[len(t.coverage)-1].End(), true
}

// Covers reports whether some tracked period contains ts.
func (t *Tracker) Covers(ts time.Time) bool {
	// First period ending after ts is the only candidate.
	i, _ := slices.BinarySearchFunc(t.coverage, ts, func(p Period, target time.Time) int {
		if p.End().After(target) {
			return 1
		}
		return -1
	})
	return i < len(t.coverage) && t.coverage[i].Contains(ts)
}

// Add merges p into the coverage.
//
// Tracked periods that overlap or touch the growing merged span are folded
// into it, everything else is copied through in order. Adding a period that
// is already covered leaves the coverage unchanged.
func (t *Tracker) Add(p Period) {
	if p.IsEmpty() {
		return
	}

	merged := p
	inserted := false
	next := make([]Period, 0, len(t.coverage)+1)

	for _, existing := range t.coverage {
		switch {
		case existing.End().Before(merged.Start()):
			next = append(next, existing)
		case merged.End().Before(existing.Start()):
			if !inserted {
				next = append(next, merged)
				inserted = true
			}
			next = append(next, existing)
		default:
			combined, err := merged.CombineContiguous(existing)
			if err != nil {
				// Both cases above exclude disjoint periods.
				panic(err)
			}
			merged = combined
		}
	}
	if !inserted {
		next = append(next, merged)
	}
	t.coverage = next
}

// Missing returns the parts of q that are not covered, in ascending order.
// A zero-length query is always covered.
func (t *Tracker) Missing(q Period) []Period {
	if q.IsEmpty() {
		return nil
	}

	var missing []Period
	remaining := &q
	for _, covered := range t.coverage {
		if !covered.End().After(remaining.Start()) {
			continue
		}
		if !covered.Start().Before(remaining.End()) {
			break
		}
		before, after := remaining.Difference(covered)
		if before != nil {
			missing = append(missing, *before)
		}
		if after == nil {
			return missing
		}
		remaining = after
	}
	return append(missing, *remaining)
}

// CoversPeriod reports whether q has no missing parts.
func (t *Tracker) CoversPeriod(q Period) bool {
	return len(t.Missing(q)) == 0
}

// Clone returns an independent copy of the tracker.
func (t *Tracker) Clone() *Tracker {
	return &Tracker{coverage: slices.Clone(t.coverage)}
}

// MarshalJSON encodes the coverage as a list of periods.
func (t *Tracker) MarshalJSON() ([]byte, error) {
	if t.coverage == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(t.coverage)
}

// UnmarshalJSON rebuilds the coverage, re-merging any stored periods.
func (t *Tracker) UnmarshalJSON(data []byte) error {
	var periods []Period
	if err := json.Unmarshal(data, &periods); err != nil {
		return err
	}
	*t = *NewTracker(periods...)
	return nil
}
