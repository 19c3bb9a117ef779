package report

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/uayebforever/clan-stats/internal/core"
	"github.com/uayebforever/clan-stats/internal/model"
	"github.com/uayebforever/clan-stats/internal/retrieval"
)

// DefaultMinClanmates is how many clan members make a clan fireteam.
const DefaultMinClanmates = 2

// Fireteam is one activity instance that several clan members played.
type Fireteam struct {
	Activity model.Activity `json:"activity"`
	Members  []string       `json:"members"`
}

func (f Fireteam) Start() time.Time { return f.Activity.Period.Start() }

func (f Fireteam) End() time.Time { return f.Activity.Period.End() }

// SharedFireteams returns the activity instances that at least minSize of
// the players took part in, ordered by start. Each player sees the instance
// from their own character, so the periods of all sightings are combined.
func SharedFireteams(activitiesByPlayer map[string][]model.Activity, minSize int) []Fireteam {
	minSize = max(minSize, 2)

	type sighting struct {
		activity model.Activity
		members  map[string]bool
	}
	byInstance := map[int64]*sighting{}
	for name, activities := range activitiesByPlayer {
		for _, a := range activities {
			s, ok := byInstance[a.InstanceID]
			if !ok {
				byInstance[a.InstanceID] = &sighting{activity: a, members: map[string]bool{name: true}}
				continue
			}
			s.activity.Period = s.activity.Period.Combine(a.Period)
			s.members[name] = true
		}
	}

	var fireteams []Fireteam
	for _, s := range byInstance {
		if len(s.members) < minSize {
			continue
		}
		f := Fireteam{Activity: s.activity}
		for name := range s.members {
			f.Members = append(f.Members, name)
		}
		sortNames(f.Members)
		fireteams = append(fireteams, f)
	}
	slices.SortFunc(fireteams, func(a, b Fireteam) int {
		if c := a.Start().Compare(b.Start()); c != 0 {
			return c
		}
		return cmp.Compare(a.Activity.InstanceID, b.Activity.InstanceID)
	})
	return fireteams
}

// FireteamOptions tunes ClanFireteams and ClanEvents.
type FireteamOptions struct {
	// Since is the earliest activity start considered. Zero means the
	// default window before now.
	Since        time.Time
	MinClanmates int
	Concurrency  int
	Clock        clockwork.Clock
}

func (o *FireteamOptions) defaults() {
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Since.IsZero() {
		o.Since = o.Clock.Now().AddDate(0, 0, -core.DefaultActivityWindowDays)
	}
	if o.MinClanmates <= 0 {
		o.MinClanmates = DefaultMinClanmates
	}
	if o.Concurrency <= 0 {
		o.Concurrency = core.MaxConcurrentMembers
	}
}

// ClanFireteamReport lists the fireteams formed by clan members.
type ClanFireteamReport struct {
	ClanID       int64     `json:"clan_id"`
	Name         string    `json:"name"`
	Since        time.Time `json:"since"`
	MinClanmates int       `json:"min_clanmates"`
	// Active members were online since Since.
	Active    []model.GroupMember `json:"active"`
	Fireteams []Fireteam          `json:"fireteams"`
	// Participants played in at least one clan fireteam.
	Participants []string `json:"participants"`
	// Solo members were active but joined no clan fireteam. Private members
	// are only listed under Private.
	Solo     []string `json:"solo"`
	Inactive []string `json:"inactive"`
	// Private members hide their history and cannot be matched.
	Private []string `json:"private,omitempty"`
}

// ClanFireteams finds the activities that clan members active since
// opts.Since played together.
func ClanFireteams(ctx context.Context, r retrieval.DataRetriever, clanID int64, opts FireteamOptions) (*ClanFireteamReport, error) {
	opts.defaults()
	clan, active, fireteams, private, err := sharedClanFireteams(ctx, r, clanID, opts)
	if err != nil {
		return nil, err
	}

	rep := &ClanFireteamReport{
		ClanID:       clan.ID,
		Name:         clan.Name,
		Since:        opts.Since,
		MinClanmates: opts.MinClanmates,
		Active:       active,
		Fireteams:    fireteams,
		Private:      private,
	}

	joined := map[string]bool{}
	for _, f := range fireteams {
		for _, name := range f.Members {
			joined[name] = true
		}
	}
	isActive := map[string]bool{}
	for _, m := range active {
		isActive[m.Name] = true
	}
	hidden := map[string]bool{}
	for _, name := range private {
		hidden[name] = true
	}
	for _, m := range clan.Members {
		switch {
		case hidden[m.Name]:
			// listed under Private
		case joined[m.Name]:
			rep.Participants = append(rep.Participants, m.Name)
		case isActive[m.Name]:
			rep.Solo = append(rep.Solo, m.Name)
		default:
			rep.Inactive = append(rep.Inactive, m.Name)
		}
	}
	sortNames(rep.Participants)
	sortNames(rep.Solo)
	sortNames(rep.Inactive)
	return rep, nil
}

// sharedClanFireteams loads the clan, picks the members online since
// opts.Since and matches their activities.
func sharedClanFireteams(ctx context.Context, r retrieval.DataRetriever, clanID int64, opts FireteamOptions) (
	model.Clan, []model.GroupMember, []Fireteam, []string, error,
) {
	log := logrus.WithFields(logrus.Fields{"component": "report", "clan": clanID})

	clan, err := r.Clan(ctx, clanID)
	if err != nil {
		return model.Clan{}, nil, nil, nil, fmt.Errorf("clan %d: %w", clanID, err)
	}

	var active []model.GroupMember
	for _, m := range clan.Members {
		if m.LastOnline.After(opts.Since) {
			active = append(active, m)
		}
	}
	slices.SortFunc(active, func(a, b model.GroupMember) int {
		return cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	log.WithField("active", len(active)).Debug("matching fireteams")

	histories := make([][]model.Activity, len(active))
	hidden := make([]bool, len(active))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, m := range active {
		g.Go(func() error {
			activities, err := r.ActivitiesForPlayer(gctx, m.Membership, opts.Since, model.GameModeNone)
			if errors.Is(err, retrieval.ErrPrivate) {
				hidden[i] = true
				return nil
			}
			if err != nil {
				return fmt.Errorf("activity of %s: %w", m.Name, err)
			}
			histories[i] = activities
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.Clan{}, nil, nil, nil, err
	}

	byName := make(map[string][]model.Activity, len(active))
	var private []string
	for i, m := range active {
		if hidden[i] {
			private = append(private, m.Name)
			continue
		}
		byName[m.Name] = histories[i]
	}
	return clan, active, SharedFireteams(byName, opts.MinClanmates), private, nil
}

func sortNames(names []string) {
	slices.SortFunc(names, func(a, b string) int {
		return cmp.Compare(strings.ToLower(a), strings.ToLower(b))
	})
}
