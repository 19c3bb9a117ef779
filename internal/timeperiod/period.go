// Package timeperiod provides half-open time intervals and a tracker of
// which spans of a time axis are already known.
//
// A Period covers [Start, End). Two periods that only touch (one ends
// exactly where the other starts) do not overlap, but they can be combined
// into one contiguous period.
package timeperiod

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Common period lengths.
const (
	Hour = time.Hour
	Day  = 24 * time.Hour
)

var (
	// ErrMalformedRange is returned for negative lengths or ranges whose end
	// precedes their start.
	ErrMalformedRange = errors.New("malformed time range")

	// ErrIncompatiblePeriods is returned when two periods that neither
	// overlap nor touch are combined as if they were contiguous.
	ErrIncompatiblePeriods = errors.New("incompatible periods")
)

// Period is an immutable half-open interval [start, start+length).
type Period struct {
	start  time.Time
	length time.Duration
}

// New returns the period starting at start and lasting length.
func New(start time.Time, length time.Duration) (Period, error) {
	if length < 0 {
		return Period{}, fmt.Errorf("%w: negative length %s", ErrMalformedRange, length)
	}
	return Period{start: start.UTC(), length: length}, nil
}

// Between returns the period [start, end).
func Between(start, end time.Time) (Period, error) {
	if end.Before(start) {
		return Period{}, fmt.Errorf("%w: end %s before start %s",
			ErrMalformedRange, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return Period{start: start.UTC(), length: end.Sub(start)}, nil
}

// MustBetween is like Between but panics on a malformed range.
func MustBetween(start, end time.Time) Period {
	p, err := Between(start, end)
	if err != nil {
		panic(err)
	}
	return p
}

// Start returns the inclusive lower bound.
func (p Period) Start() time.Time { return p.start }

// End returns the exclusive upper bound.
func (p Period) End() time.Time { return p.start.Add(p.length) }

// Length returns the duration of the period.
func (p Period) Length() time.Duration { return p.length }

// IsEmpty reports whether the period has zero length.
func (p Period) IsEmpty() bool { return p.length == 0 }

// Equal reports whether both periods cover exactly the same span.
func (p Period) Equal(other Period) bool {
	return p.start.Equal(other.start) && p.length == other.length
}

// Compare orders periods by start, then by length.
func (p Period) Compare(other Period) int {
	if c := p.start.Compare(other.start); c != 0 {
		return c
	}
	switch {
	case p.length < other.length:
		return -1
	case p.length > other.length:
		return 1
	}
	return 0
}

// Contains reports whether start <= t < end.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.start) && t.Before(p.End())
}

// Overlaps reports whether the two periods share any instant.
func (p Period) Overlaps(other Period) bool {
	return p.End().After(other.start) && other.End().After(p.start)
}

// Touches reports whether one period ends exactly where the other starts.
func (p Period) Touches(other Period) bool {
	return p.End().Equal(other.start) || other.End().Equal(p.start)
}

// Difference subtracts other from p. before is the part of p that precedes
// other and after is the part that follows it; either may be nil.
func (p Period) Difference(other Period) (before, after *Period) {
	if !p.Overlaps(other) {
		if other.start.Before(p.start) {
			return nil, &p
		}
		return &p, nil
	}

	headCovered := !other.start.After(p.start)
	tailCovered := !other.End().Before(p.End())

	if !headCovered {
		b := Period{start: p.start, length: other.start.Sub(p.start)}
		before = &b
	}
	if !tailCovered {
		a := Period{start: other.End(), length: p.End().Sub(other.End())}
		after = &a
	}
	return before, after
}

// Combine returns the smallest period spanning both periods, even if they
// are disjoint.
func (p Period) Combine(other Period) Period {
	start := p.start
	if other.start.Before(start) {
		start = other.start
	}
	end := p.End()
	if other.End().After(end) {
		end = other.End()
	}
	return Period{start: start, length: end.Sub(start)}
}

// CombineContiguous is Combine for periods that overlap or touch.
func (p Period) CombineContiguous(other Period) (Period, error) {
	if !p.Overlaps(other) && !p.Touches(other) {
		return Period{}, fmt.Errorf("%w: %s and %s", ErrIncompatiblePeriods, p, other)
	}
	return p.Combine(other), nil
}

func (p Period) String() string {
	return fmt.Sprintf("[%s, %s)", p.start.Format(time.RFC3339), p.End().Format(time.RFC3339))
}

type periodJSON struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// MarshalJSON encodes the period as {"start": ..., "end": ...}.
func (p Period) MarshalJSON() ([]byte, error) {
	return json.Marshal(periodJSON{Start: p.start, End: p.End()})
}

// UnmarshalJSON decodes a period written by MarshalJSON.
func (p *Period) UnmarshalJSON(data []byte) error {
	var raw periodJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded, err := Between(raw.Start, raw.End)
	if err != nil {
		return err
	}
	*p = decoded
	return nil
}
