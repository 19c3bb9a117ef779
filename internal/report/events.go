package report

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/uayebforever/clan-stats/internal/model"
	"github.com/uayebforever/clan-stats/internal/retrieval"
)

// Event grouping defaults.
const (
	DefaultEventGap       = time.Hour
	DefaultEventMinLength = 45 * time.Minute
	highlightMinLength    = 45 * time.Minute
	maxHighlights         = 3
)

// Event is a run of clan fireteams with no long break between them.
type Event struct {
	Fireteams []Fireteam `json:"fireteams"`
}

// Start is when the first activity of the event started.
func (e Event) Start() time.Time {
	start := e.Fireteams[0].Start()
	for _, f := range e.Fireteams[1:] {
		if f.Start().Before(start) {
			start = f.Start()
		}
	}
	return start
}

// End is when the last activity of the event ended.
func (e Event) End() time.Time {
	end := e.Fireteams[0].End()
	for _, f := range e.Fireteams[1:] {
		if f.End().After(end) {
			end = f.End()
		}
	}
	return end
}

func (e Event) Length() time.Duration {
	return e.End().Sub(e.Start())
}

// Highlights picks the longest activity and up to two more that lasted
// longer than 45 minutes.
func (e Event) Highlights() []model.Activity {
	activities := make([]model.Activity, 0, len(e.Fireteams))
	for _, f := range e.Fireteams {
		activities = append(activities, f.Activity)
	}
	slices.SortStableFunc(activities, func(a, b model.Activity) int {
		return cmp.Compare(b.Period.Length(), a.Period.Length())
	})

	var highlights []model.Activity
	for _, a := range activities {
		if len(highlights) == 0 || a.Period.Length() > highlightMinLength {
			highlights = append(highlights, a)
		}
		if len(highlights) == maxHighlights {
			break
		}
	}
	return highlights
}

// Participants lists everyone who played in the event.
func (e Event) Participants() []string {
	seen := map[string]bool{}
	var names []string
	for _, f := range e.Fireteams {
		for _, name := range f.Members {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sortNames(names)
	return names
}

// FindEvents groups fireteams into events. A fireteam joins the current
// event when it starts less than maxGap after the previous one ended.
// Events not longer than minLength are dropped.
func FindEvents(fireteams []Fireteam, maxGap, minLength time.Duration) []Event {
	if len(fireteams) == 0 {
		return nil
	}
	sorted := slices.Clone(fireteams)
	slices.SortStableFunc(sorted, func(a, b Fireteam) int {
		return a.Start().Compare(b.Start())
	})

	events := []Event{{Fireteams: []Fireteam{sorted[0]}}}
	prev := sorted[0]
	for _, f := range sorted[1:] {
		if f.Start().Sub(prev.End()) < maxGap {
			last := &events[len(events)-1]
			last.Fireteams = append(last.Fireteams, f)
		} else {
			events = append(events, Event{Fireteams: []Fireteam{f}})
		}
		prev = f
	}

	return slices.DeleteFunc(events, func(e Event) bool {
		return e.Length() <= minLength
	})
}

// EventOptions tunes ClanEvents.
type EventOptions struct {
	FireteamOptions
	MaxGap    time.Duration
	MinLength time.Duration
}

// Attendance counts the events one member played in.
type Attendance struct {
	Name   string `json:"name"`
	Events int    `json:"events"`
}

// MarshalJSON includes the derived bounds, highlights and participants.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Start        time.Time        `json:"start"`
		End          time.Time        `json:"end"`
		Highlights   []model.Activity `json:"highlights"`
		Participants []string         `json:"participants"`
		Fireteams    []Fireteam       `json:"fireteams"`
	}{e.Start(), e.End(), e.Highlights(), e.Participants(), e.Fireteams})
}

// ClanEventReport lists the clan events found in recent history.
type ClanEventReport struct {
	ClanID     int64               `json:"clan_id"`
	Name       string              `json:"name"`
	Since      time.Time           `json:"since"`
	Active     []model.GroupMember `json:"active"`
	Events     []Event             `json:"events"`
	Attendance []Attendance        `json:"attendance"`
	Private    []string            `json:"private,omitempty"`
}

// ClanEvents finds the clan events since opts.Since.
func ClanEvents(ctx context.Context, r retrieval.DataRetriever, clanID int64, opts EventOptions) (*ClanEventReport, error) {
	opts.defaults()
	if opts.MaxGap <= 0 {
		opts.MaxGap = DefaultEventGap
	}
	if opts.MinLength <= 0 {
		opts.MinLength = DefaultEventMinLength
	}

	clan, active, fireteams, private, err := sharedClanFireteams(ctx, r, clanID, opts.FireteamOptions)
	if err != nil {
		return nil, err
	}

	rep := &ClanEventReport{
		ClanID:  clan.ID,
		Name:    clan.Name,
		Since:   opts.Since,
		Active:  active,
		Events:  FindEvents(fireteams, opts.MaxGap, opts.MinLength),
		Private: private,
	}
	counts := map[string]int{}
	for _, e := range rep.Events {
		for _, name := range e.Participants() {
			counts[name]++
		}
	}
	for name, n := range counts {
		rep.Attendance = append(rep.Attendance, Attendance{Name: name, Events: n})
	}
	slices.SortFunc(rep.Attendance, func(a, b Attendance) int {
		if c := cmp.Compare(b.Events, a.Events); c != 0 {
			return c
		}
		return cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return rep, nil
}
