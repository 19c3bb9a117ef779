// Package retrieval answers questions about players, clans and activities,
// either straight from the platform API or through the cache.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/uayebforever/clan-stats/internal/bungie"
	"github.com/uayebforever/clan-stats/internal/model"
)

// ErrPrivate is returned when a player's activity history is hidden by their
// privacy settings. Callers report such players as private rather than fail.
var ErrPrivate = errors.New("player activity is private")

// characterConcurrency bounds per-player fan-out over characters.
const characterConcurrency = 3

// DataRetriever is everything the reports need to know.
type DataRetriever interface {
	Player(ctx context.Context, m model.Membership) (model.Player, error)
	Characters(ctx context.Context, m model.Membership) ([]model.Character, error)
	Clan(ctx context.Context, clanID int64) (model.Clan, error)
	// ClanForPlayer returns nil when the player is in no clan.
	ClanForPlayer(ctx context.Context, m model.Membership) (*model.Clan, error)
	// ActivitiesForPlayer returns the activities of every character of the
	// player that started at or after floor, in ascending order.
	ActivitiesForPlayer(ctx context.Context, m model.Membership, floor time.Time, mode model.GameMode) ([]model.Activity, error)
	PostGameReport(ctx context.Context, a model.Activity) (model.PostGameReport, error)
	FindPlayers(ctx context.Context, namePrefix string) ([]model.Player, error)
}

// Upstream is a DataRetriever that can also read one character's history.
type Upstream interface {
	DataRetriever
	CharacterActivities(ctx context.Context, m model.Membership, characterID int64, mode model.GameMode, start, end time.Time) ([]model.Activity, error)
}

// APIRetriever answers every question with platform API calls.
type APIRetriever struct {
	api   *bungie.API
	clock clockwork.Clock
	log   *logrus.Entry
}

var _ Upstream = (*APIRetriever)(nil)

// NewAPIRetriever creates a retriever over api.
func NewAPIRetriever(api *bungie.API, clock clockwork.Clock) *APIRetriever {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &APIRetriever{api: api, clock: clock, log: logrus.WithField("component", "retrieval")}
}

func (r *APIRetriever) Player(ctx context.Context, m model.Membership) (model.Player, error) {
	res, err := r.api.GetLinkedProfiles(ctx, m)
	if err != nil {
		return model.Player{}, fmt.Errorf("player %s: %w", m, err)
	}
	return playerFromLinkedProfiles(m, res), nil
}

// Characters lists a player's characters. When the character component is
// private only the character ids are known.
func (r *APIRetriever) Characters(ctx context.Context, m model.Membership) ([]model.Character, error) {
	res, err := r.api.GetProfile(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("characters of %s: %w", m, err)
	}

	var chars []model.Character
	if res.Characters.Data != nil {
		for _, c := range res.Characters.Data {
			chars = append(chars, characterOf(c))
		}
	} else if res.Profile.Data != nil {
		for _, id := range res.Profile.Data.CharacterIDs {
			chars = append(chars, model.Character{Membership: m, CharacterID: int64(id), Class: model.ClassUnknown})
		}
	}
	slices.SortFunc(chars, func(a, b model.Character) int {
		return b.LastPlayed.Compare(a.LastPlayed)
	})
	return chars, nil
}

func (r *APIRetriever) Clan(ctx context.Context, clanID int64) (model.Clan, error) {
	group, err := r.api.GetGroup(ctx, clanID)
	if err != nil {
		return model.Clan{}, fmt.Errorf("clan %d: %w", clanID, err)
	}
	members, err := r.api.GetMembersOfGroup(ctx, clanID)
	if err != nil {
		return model.Clan{}, fmt.Errorf("members of clan %d: %w", clanID, err)
	}
	return clanOf(group.Detail, members), nil
}

func (r *APIRetriever) ClanForPlayer(ctx context.Context, m model.Membership) (*model.Clan, error) {
	res, err := r.api.GetGroupsForMember(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("clans of %s: %w", m, err)
	}
	for _, g := range res.Results {
		if g.Group.GroupType != bungie.GroupTypeClan {
			continue
		}
		clan, err := r.Clan(ctx, int64(g.Group.GroupID))
		if err != nil {
			return nil, err
		}
		return &clan, nil
	}
	return nil, nil
}

func (r *APIRetriever) ActivitiesForPlayer(ctx context.Context, m model.Membership, floor time.Time, mode model.GameMode) ([]model.Activity, error) {
	chars, err := r.Characters(ctx, m)
	if err != nil {
		return nil, err
	}
	activities, err := activitiesOfCharacters(ctx, chars, func(ctx context.Context, c model.Character) ([]model.Activity, error) {
		return r.CharacterActivities(ctx, m, c.CharacterID, mode, floor, r.clock.Now())
	})
	if errors.Is(err, bungie.ErrAccessForbidden) {
		return nil, fmt.Errorf("%w: %s", ErrPrivate, m)
	}
	return activities, err
}

// CharacterActivities returns the activities of one character that started
// in [start, end).
func (r *APIRetriever) CharacterActivities(ctx context.Context, m model.Membership, characterID int64, mode model.GameMode, start, end time.Time) ([]model.Activity, error) {
	groups, err := r.api.ActivityHistoryBetween(ctx, m, characterID, mode, start, end)
	if err != nil {
		return nil, err
	}
	activities := make([]model.Activity, 0, len(groups))
	for _, g := range groups {
		a, err := activityOf(g)
		if err != nil {
			r.log.WithError(err).WithField("instance", int64(g.ActivityDetails.InstanceID)).Warn("skipping malformed activity")
			continue
		}
		activities = append(activities, a)
	}
	return activities, nil
}

func (r *APIRetriever) PostGameReport(ctx context.Context, a model.Activity) (model.PostGameReport, error) {
	report, err := r.api.GetPostGameCarnageReport(ctx, a.InstanceID)
	if err != nil {
		return model.PostGameReport{}, fmt.Errorf("report for %d: %w", a.InstanceID, err)
	}
	return postGameReportOf(a, report), nil
}

// FindPlayers searches players by the start of their global name, following
// result pages.
func (r *APIRetriever) FindPlayers(ctx context.Context, namePrefix string) ([]model.Player, error) {
	var players []model.Player
	for page := 0; ; page++ {
		res, err := r.api.SearchByGlobalName(ctx, namePrefix, page)
		if err != nil {
			return nil, fmt.Errorf("search %q: %w", namePrefix, err)
		}
		for _, found := range res.SearchResults {
			primary, ok := primaryMembership(found.DestinyMemberships)
			if !ok {
				continue
			}
			p := model.Player{
				MinimalPlayer: model.MinimalPlayer{
					Membership: primary,
					Name: bungie.UserInfoCard{
						BungieGlobalDisplayName:     found.BungieGlobalDisplayName,
						BungieGlobalDisplayNameCode: found.BungieGlobalDisplayNameCode,
					}.GlobalName(),
				},
				BungieID: int64(found.BungieNetMembershipID),
			}
			for _, c := range found.DestinyMemberships {
				p.AllMemberships = append(p.AllMemberships, model.DetailedMembership{
					Membership:          membershipOf(c),
					PlatformDisplayName: c.DisplayName,
					CrossSave:           model.CrossSaveNone,
				})
			}
			players = append(players, p)
		}
		if !res.HasMore || len(res.SearchResults) == 0 {
			return players, nil
		}
	}
}

// activitiesOfCharacters fetches every character concurrently and merges the
// results in ascending order.
func activitiesOfCharacters(
	ctx context.Context,
	chars []model.Character,
	fetch func(ctx context.Context, c model.Character) ([]model.Activity, error),
) ([]model.Activity, error) {
	results := make([][]model.Activity, len(chars))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(characterConcurrency)
	for i, c := range chars {
		g.Go(func() error {
			activities, err := fetch(ctx, c)
			if err != nil {
				return err
			}
			results[i] = activities
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := slices.Concat(results...)
	slices.SortFunc(merged, func(a, b model.Activity) int {
		return a.Period.Start().Compare(b.Period.Start())
	})
	return merged, nil
}
