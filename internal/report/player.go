package report

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/uayebforever/clan-stats/internal/core"
	"github.com/uayebforever/clan-stats/internal/model"
	"github.com/uayebforever/clan-stats/internal/retrieval"
)

// PlayerOptions tunes PlayerActivity.
type PlayerOptions struct {
	Since time.Time
	Mode  model.GameMode
	// Teammates fetches the post-game report of every activity to list who
	// played alongside the player.
	Teammates   bool
	Concurrency int
	Clock       clockwork.Clock
}

// ModeSummary totals the activities of one game mode.
type ModeSummary struct {
	Mode       model.GameMode `json:"mode"`
	Count      int            `json:"count"`
	TimePlayed time.Duration  `json:"time_played"`
}

// ActivityEntry is one activity in a player report.
type ActivityEntry struct {
	model.Activity
	Teammates     []model.MinimalPlayer `json:"teammates,omitempty"`
	WithClanmates bool                  `json:"with_clanmates,omitempty"`
}

// PlayerReport is the activity report of one player.
type PlayerReport struct {
	Player     model.Player    `json:"player"`
	Clan       *model.Clan     `json:"clan,omitempty"`
	Since      time.Time       `json:"since"`
	Mode       model.GameMode  `json:"mode"`
	ByMode     []ModeSummary   `json:"by_mode"`
	TimePlayed time.Duration   `json:"time_played"`
	Activities []ActivityEntry `json:"activities"`
}

// PlayerActivity reports what a player has been doing since opts.Since,
// newest activity first.
func PlayerActivity(ctx context.Context, r retrieval.DataRetriever, m model.Membership, opts PlayerOptions) (*PlayerReport, error) {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Since.IsZero() {
		opts.Since = opts.Clock.Now().AddDate(0, 0, -core.DefaultActivityWindowDays)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = core.MaxConcurrentMembers
	}

	player, err := r.Player(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("player %s: %w", m, err)
	}
	clan, err := r.ClanForPlayer(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("clan of %s: %w", m, err)
	}
	activities, err := r.ActivitiesForPlayer(ctx, m, opts.Since, opts.Mode)
	if err != nil {
		return nil, err
	}
	model.SortActivitiesDescending(activities)

	rep := &PlayerReport{
		Player:     player,
		Clan:       clan,
		Since:      opts.Since,
		Mode:       opts.Mode,
		Activities: make([]ActivityEntry, len(activities)),
	}

	totals := map[model.GameMode]*ModeSummary{}
	for i, a := range activities {
		rep.Activities[i] = ActivityEntry{Activity: a}
		s, ok := totals[a.Mode]
		if !ok {
			s = &ModeSummary{Mode: a.Mode}
			totals[a.Mode] = s
		}
		s.Count++
		s.TimePlayed += a.Period.Length()
		rep.TimePlayed += a.Period.Length()
	}
	for _, s := range totals {
		rep.ByMode = append(rep.ByMode, *s)
	}
	slices.SortFunc(rep.ByMode, func(a, b ModeSummary) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Mode, b.Mode)
	})

	if opts.Teammates {
		if err := rep.addTeammates(ctx, r, opts.Concurrency); err != nil {
			return nil, err
		}
	}
	return rep, nil
}

func (p *PlayerReport) addTeammates(ctx context.Context, r retrieval.DataRetriever, limit int) error {
	clanmates := map[model.Membership]bool{}
	if p.Clan != nil {
		for _, member := range p.Clan.Members {
			if member.Membership != p.Player.Membership {
				clanmates[member.Membership] = true
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range p.Activities {
		entry := &p.Activities[i]
		g.Go(func() error {
			pgcr, err := r.PostGameReport(gctx, entry.Activity)
			if err != nil {
				return fmt.Errorf("post-game report %d: %w", entry.InstanceID, err)
			}
			for _, player := range pgcr.Players {
				if player.Membership == p.Player.Membership {
					continue
				}
				entry.Teammates = append(entry.Teammates, player)
				if clanmates[player.Membership] {
					entry.WithClanmates = true
				}
			}
			return nil
		})
	}
	return g.Wait()
}
