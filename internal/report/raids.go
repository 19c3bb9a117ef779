package report

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/uayebforever/clan-stats/internal/core"
	"github.com/uayebforever/clan-stats/internal/model"
	"github.com/uayebforever/clan-stats/internal/retrieval"
	"github.com/uayebforever/clan-stats/internal/roster"
)

// RaidSort orders the rows of a raid summary.
type RaidSort string

const (
	RaidSortByName  RaidSort = "name"
	RaidSortByCount RaidSort = "count"
)

// DefaultRaidSince is the earliest raid history considered by default.
var DefaultRaidSince = time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)

// ParseRaidSort validates a raid summary sort order.
func ParseRaidSort(s string) (RaidSort, error) {
	switch RaidSort(s) {
	case "", RaidSortByName:
		return RaidSortByName, nil
	case RaidSortByCount:
		return RaidSortByCount, nil
	}
	return "", fmt.Errorf("unknown sort order %q (want name or count)", s)
}

// RaidOptions tunes RaidSummary.
type RaidOptions struct {
	// Since is the earliest raid start considered. Zero means
	// DefaultRaidSince.
	Since       time.Time
	Sort        RaidSort
	Concurrency int
	Discord     map[string]string
}

// RaidRow is the raid record of one clan member.
type RaidRow struct {
	Player      model.GroupMember `json:"player"`
	DiscordName string            `json:"discord_name,omitempty"`
	Clears      int               `json:"clears"`
	Attempts    int               `json:"attempts"`
	// ClearsByActivity counts clears per director activity hash.
	ClearsByActivity map[uint32]int `json:"clears_by_activity,omitempty"`
	LastClear        *time.Time     `json:"last_clear,omitempty"`
	Private          bool           `json:"private"`
}

// RaidSummary is the raid clear count of every member of a clan.
type RaidSummary struct {
	ClanID int64     `json:"clan_id"`
	Name   string    `json:"name"`
	Since  time.Time `json:"since"`
	Rows   []RaidRow `json:"rows"`
}

// CountRaids counts the completed raids among activities.
func CountRaids(activities []model.Activity) RaidRow {
	var row RaidRow
	for _, a := range activities {
		if !a.HasMode(model.GameModeRaid) {
			continue
		}
		row.Attempts++
		if a.Completed == nil || !*a.Completed {
			continue
		}
		row.Clears++
		if row.ClearsByActivity == nil {
			row.ClearsByActivity = map[uint32]int{}
		}
		row.ClearsByActivity[a.DirectorActivityHash]++
		if start := a.Period.Start(); row.LastClear == nil || start.After(*row.LastClear) {
			row.LastClear = &start
		}
	}
	return row
}

// RaidClears summarises the raid clears of every clan member since
// opts.Since. Private members are flagged rather than failing the summary.
func RaidClears(ctx context.Context, r retrieval.DataRetriever, clanID int64, opts RaidOptions) (*RaidSummary, error) {
	if opts.Since.IsZero() {
		opts.Since = DefaultRaidSince
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = core.MaxConcurrentMembers
	}
	sortBy, err := ParseRaidSort(string(opts.Sort))
	if err != nil {
		return nil, err
	}

	clan, err := r.Clan(ctx, clanID)
	if err != nil {
		return nil, fmt.Errorf("clan %d: %w", clanID, err)
	}

	rows := make([]RaidRow, len(clan.Members))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, member := range clan.Members {
		g.Go(func() error {
			raids, err := r.ActivitiesForPlayer(gctx, member.Membership, opts.Since, model.GameModeRaid)
			if errors.Is(err, retrieval.ErrPrivate) {
				rows[i] = RaidRow{Player: member, Private: true}
				return nil
			}
			if err != nil {
				return fmt.Errorf("raids of %s: %w", member.Name, err)
			}
			rows[i] = CountRaids(raids)
			rows[i].Player = member
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].DiscordName, _ = roster.LookupDiscord(opts.Discord, rows[i].Player.Name)
	}

	byName := func(a, b RaidRow) int {
		return cmp.Compare(strings.ToLower(a.Player.Name), strings.ToLower(b.Player.Name))
	}
	if sortBy == RaidSortByCount {
		slices.SortStableFunc(rows, func(a, b RaidRow) int {
			if c := cmp.Compare(a.Clears, b.Clears); c != 0 {
				return c
			}
			return byName(a, b)
		})
	} else {
		slices.SortStableFunc(rows, byName)
	}

	return &RaidSummary{ClanID: clan.ID, Name: clan.Name, Since: opts.Since, Rows: rows}, nil
}
