// Package report builds the clan and player activity reports shown by the
// CLI and the MCP tools.
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
	"github.com/uayebforever/clan-stats/internal/roster"
)

// SortOrder orders the rows of a member activity report.
type SortOrder string

const (
	SortByName    SortOrder = "name"
	SortByActive  SortOrder = "active"
	SortByDiscord SortOrder = "discord"
)

// SortOrders lists the accepted sort orders.
var SortOrders = []SortOrder{SortByName, SortByActive, SortByDiscord}

// ParseSortOrder validates a sort order name.
func ParseSortOrder(s string) (SortOrder, error) {
	if s == "" {
		return SortByName, nil
	}
	if slices.Contains(SortOrders, SortOrder(s)) {
		return SortOrder(s), nil
	}
	return "", fmt.Errorf("unknown sort order %q (want name, active or discord)", s)
}

// MemberActivityOptions tunes MemberActivity.
type MemberActivityOptions struct {
	// Since is the earliest activity start considered. Zero means the
	// default window before now.
	Since       time.Time
	Mode        model.GameMode
	Concurrency int
	Sort        SortOrder
	// Discord maps Bungie names to Discord names, see roster.DiscordNames.
	Discord map[string]string
	// Roster, when set, supplies Discord names and the missing players.
	Roster *roster.Store
	Clock  clockwork.Clock
}

// MemberRow is one clan member in a member activity report.
type MemberRow struct {
	Player       model.GroupMember `json:"player"`
	DiscordName  string            `json:"discord_name,omitempty"`
	LastActivity *model.Activity   `json:"last_activity,omitempty"`
	Activities   int               `json:"activities"`
	Private      bool              `json:"private"`
}

// LastActive returns when the member last started an activity.
func (r MemberRow) LastActive() (time.Time, bool) {
	if r.LastActivity == nil {
		return time.Time{}, false
	}
	return r.LastActivity.Period.Start(), true
}

// MissingMember is a current roster member who is not in the clan.
type MissingMember struct {
	BungieID    int64  `json:"bungie_id"`
	BungieName  string `json:"bungie_name"`
	DiscordName string `json:"discord_name,omitempty"`
}

// ClanActivity is the member activity report of one clan.
type ClanActivity struct {
	ClanID  int64          `json:"clan_id"`
	Name    string         `json:"name"`
	Since   time.Time      `json:"since"`
	Mode    model.GameMode `json:"mode"`
	Members []MemberRow    `json:"members"`
	// Unknown clan members have no roster entry.
	Unknown []model.GroupMember `json:"unknown,omitempty"`
	// Missing roster members are no longer in the clan.
	Missing    []MissingMember `json:"missing,omitempty"`
	RosterSize int             `json:"roster_size"`
}

// MemberActivity reports the recent activity of every member of a clan.
// Members whose history is private are flagged rather than failing the
// report.
func MemberActivity(ctx context.Context, r retrieval.DataRetriever, clanID int64, opts MemberActivityOptions) (*ClanActivity, error) {
	log := logrus.WithFields(logrus.Fields{"component": "report", "clan": clanID})
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Since.IsZero() {
		opts.Since = opts.Clock.Now().AddDate(0, 0, -core.DefaultActivityWindowDays)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = core.MaxConcurrentMembers
	}
	sortBy, err := ParseSortOrder(string(opts.Sort))
	if err != nil {
		return nil, err
	}

	clan, err := r.Clan(ctx, clanID)
	if err != nil {
		return nil, fmt.Errorf("clan %d: %w", clanID, err)
	}
	log.WithField("members", len(clan.Members)).Debug("fetching member activity")

	rows := make([]MemberRow, len(clan.Members))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, member := range clan.Members {
		g.Go(func() error {
			row, err := memberRow(gctx, r, member, opts.Since, opts.Mode)
			if err != nil {
				return fmt.Errorf("activity of %s: %w", member.Name, err)
			}
			rows[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &ClanActivity{
		ClanID:  clan.ID,
		Name:    clan.Name,
		Since:   opts.Since,
		Mode:    opts.Mode,
		Members: rows,
	}

	if opts.Roster != nil {
		if err := report.applyRoster(ctx, opts.Roster, clan); err != nil {
			return nil, err
		}
	}
	for i := range report.Members {
		if report.Members[i].DiscordName == "" {
			report.Members[i].DiscordName, _ = roster.LookupDiscord(opts.Discord, report.Members[i].Player.Name)
		}
	}

	sortRows(report.Members, sortBy)
	return report, nil
}

func memberRow(ctx context.Context, r retrieval.DataRetriever, member model.GroupMember, since time.Time, mode model.GameMode) (MemberRow, error) {
	row := MemberRow{Player: member}
	activities, err := r.ActivitiesForPlayer(ctx, member.Membership, since, mode)
	if errors.Is(err, retrieval.ErrPrivate) {
		row.Private = true
		return row, nil
	}
	if err != nil {
		return row, err
	}
	row.Activities = len(activities)
	if last, ok := model.LastActivity(activities); ok {
		row.LastActivity = &last
	}
	return row, nil
}

func (c *ClanActivity) applyRoster(ctx context.Context, store *roster.Store, clan model.Clan) error {
	current, err := store.CurrentMembers(ctx)
	if err != nil {
		return err
	}
	c.RosterSize = len(current)

	unknown, err := store.FindUnknownPlayers(ctx, clan.Members)
	if err != nil {
		return err
	}
	slices.SortFunc(unknown, func(a, b model.GroupMember) int {
		return cmp.Compare(a.Membership.ID, b.Membership.ID)
	})
	c.Unknown = unknown

	discord := make(map[int64]string, len(current))
	inClan := make(map[int64]bool, len(clan.Members))
	for _, p := range clan.Members {
		inClan[p.Membership.ID] = true
	}
	for _, m := range current {
		id, ok := m.BungieID()
		if !ok {
			continue
		}
		discord[id] = m.DiscordName()
		if !inClan[id] {
			c.Missing = append(c.Missing, MissingMember{BungieID: id, BungieName: m.BungieName(), DiscordName: m.DiscordName()})
		}
	}
	slices.SortFunc(c.Missing, func(a, b MissingMember) int {
		return cmp.Compare(strings.ToLower(a.BungieName), strings.ToLower(b.BungieName))
	})

	for i := range c.Members {
		c.Members[i].DiscordName = discord[c.Members[i].Player.Membership.ID]
	}
	return nil
}

// sortRows orders rows in place. Sorting by activity puts the least recently
// active first, with members who never played at the top.
func sortRows(rows []MemberRow, by SortOrder) {
	byName := func(a, b MemberRow) int {
		return cmp.Compare(strings.ToLower(a.Player.Name), strings.ToLower(b.Player.Name))
	}
	switch by {
	case SortByActive:
		slices.SortStableFunc(rows, func(a, b MemberRow) int {
			ta, _ := a.LastActive()
			tb, _ := b.LastActive()
			if c := ta.Compare(tb); c != 0 {
				return c
			}
			return byName(a, b)
		})
	case SortByDiscord:
		slices.SortStableFunc(rows, func(a, b MemberRow) int {
			if c := cmp.Compare(strings.ToLower(a.DiscordName), strings.ToLower(b.DiscordName)); c != 0 {
				return c
			}
			return byName(a, b)
		})
	default:
		slices.SortStableFunc(rows, byName)
	}
}

