package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/uayebforever/clan-stats/internal/bungie"
	"github.com/uayebforever/clan-stats/internal/cache"
	"github.com/uayebforever/clan-stats/internal/core"
	"github.com/uayebforever/clan-stats/internal/model"
	"github.com/uayebforever/clan-stats/internal/timeperiod"
)

// Value store buckets.
const (
	bucketPlayers    = "players"
	bucketCharacters = "player_characters"
	bucketPlayerClan = "player_clan"
	bucketClans      = "clans"
	bucketReports    = "post_activities"
)

// ActivityKey identifies one activity timeline: a player's history in one
// game mode.
type ActivityKey struct {
	Membership model.Membership
	Mode       model.GameMode
}

const activityKeyPrefix = "activities:"

// CacheKey renders the key as "activities:<type>:<id>:<mode>".
func (k ActivityKey) CacheKey() string {
	return fmt.Sprintf("%s%s:%d", activityKeyPrefix, k.Membership, int(k.Mode))
}

// ParseActivityKey accepts the CacheKey form or a bare "type:id", which
// means every game mode.
func ParseActivityKey(s string) (ActivityKey, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), activityKeyPrefix)
	parts := strings.Split(s, ":")
	switch len(parts) {
	case 2:
		m, err := model.ParseMembership(s)
		return ActivityKey{Membership: m}, err
	case 3:
		m, err := model.ParseMembership(parts[0] + ":" + parts[1])
		if err != nil {
			return ActivityKey{}, err
		}
		mode, err := strconv.Atoi(parts[2])
		if err != nil {
			return ActivityKey{}, fmt.Errorf("bad mode in key %q: %w", s, err)
		}
		return ActivityKey{Membership: m, Mode: model.GameMode(mode)}, nil
	}
	return ActivityKey{}, fmt.Errorf("%w: key %q", model.ErrInvalidMembership, s)
}

// CachedOptions tunes a CachedRetriever.
type CachedOptions struct {
	// PlayerLifetime is how long players, characters and clans are reused.
	PlayerLifetime time.Duration
	Policy         cache.RefreshPolicy
	Clock          clockwork.Clock
}

// DefaultCachedOptions returns the lifetimes used by the CLI.
func DefaultCachedOptions() CachedOptions {
	return CachedOptions{
		PlayerLifetime: core.PlayerCacheLifetime,
		Policy: cache.RefreshPolicy{
			Staleness:        core.ActivityStaleness,
			ForbiddenBackoff: core.ForbiddenBackoff,
		},
	}
}

// CachedRetriever decorates an Upstream with a durable cache. Player,
// character and clan lookups are reused for PlayerLifetime; activities go
// through a coverage cache so only unseen spans of history are fetched.
type CachedRetriever struct {
	upstream   Upstream
	values     cache.ValueStore
	activities *cache.Refresher[ActivityKey, model.Activity]
	opts       CachedOptions
	log        *logrus.Entry
}

var _ DataRetriever = (*CachedRetriever)(nil)

// NewCachedRetriever creates a CachedRetriever storing everything in backend.
func NewCachedRetriever(upstream Upstream, backend cache.Backend[model.Activity], opts CachedOptions) *CachedRetriever {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.PlayerLifetime <= 0 {
		opts.PlayerLifetime = core.PlayerCacheLifetime
	}
	if opts.Policy == (cache.RefreshPolicy{}) {
		opts.Policy = cache.DefaultRefreshPolicy()
	}
	r := &CachedRetriever{
		upstream: upstream,
		values:   backend,
		opts:     opts,
		log:      logrus.WithField("component", "retrieval"),
	}
	activityCache := cache.NewActivityCache[ActivityKey, model.Activity](
		r.fetchActivities, backend,
		cache.WithName("activities"),
		cache.WithClock(opts.Clock),
	)
	r.activities = cache.NewRefresher(activityCache, opts.Policy)
	return r
}

// ActivityCache exposes the underlying coverage cache.
func (r *CachedRetriever) ActivityCache() *cache.ActivityCache[ActivityKey, model.Activity] {
	return r.activities.Cache()
}

func (r *CachedRetriever) now() time.Time {
	return r.opts.Clock.Now()
}

func (r *CachedRetriever) Player(ctx context.Context, m model.Membership) (model.Player, error) {
	return cache.Fetch(ctx, r.values, bucketPlayers, m.String(), r.opts.PlayerLifetime, r.now(),
		func(ctx context.Context) (model.Player, error) { return r.upstream.Player(ctx, m) })
}

func (r *CachedRetriever) Characters(ctx context.Context, m model.Membership) ([]model.Character, error) {
	return cache.Fetch(ctx, r.values, bucketCharacters, m.String(), r.opts.PlayerLifetime, r.now(),
		func(ctx context.Context) ([]model.Character, error) { return r.upstream.Characters(ctx, m) })
}

func (r *CachedRetriever) Clan(ctx context.Context, clanID int64) (model.Clan, error) {
	return cache.Fetch(ctx, r.values, bucketClans, strconv.FormatInt(clanID, 10), r.opts.PlayerLifetime, r.now(),
		func(ctx context.Context) (model.Clan, error) { return r.upstream.Clan(ctx, clanID) })
}

func (r *CachedRetriever) ClanForPlayer(ctx context.Context, m model.Membership) (*model.Clan, error) {
	return cache.Fetch(ctx, r.values, bucketPlayerClan, m.String(), r.opts.PlayerLifetime, r.now(),
		func(ctx context.Context) (*model.Clan, error) { return r.upstream.ClanForPlayer(ctx, m) })
}

// ActivitiesForPlayer serves activities since floor from the coverage cache,
// refreshing recent history when stale and backfilling older history when
// floor reaches past what is covered.
func (r *CachedRetriever) ActivitiesForPlayer(ctx context.Context, m model.Membership, floor time.Time, mode model.GameMode) ([]model.Activity, error) {
	activities, err := r.activities.Since(ctx, ActivityKey{Membership: m, Mode: mode}, floor)
	if errors.Is(err, cache.ErrForbidden) {
		r.log.WithField("membership", m.String()).Debug("activity history is private")
		return nil, fmt.Errorf("%w: %s", ErrPrivate, m)
	}
	return activities, err
}

// HasRange reports whether [start, end) of a timeline is fully cached.
func (r *CachedRetriever) HasRange(ctx context.Context, key ActivityKey, start, end time.Time) (bool, error) {
	return r.ActivityCache().HasRange(ctx, key, start, end)
}

// Coverage returns the cached spans of a timeline.
func (r *CachedRetriever) Coverage(ctx context.Context, key ActivityKey) ([]timeperiod.Period, error) {
	return r.ActivityCache().Coverage(ctx, key)
}

// PostGameReport reports never change once written, so they are kept forever.
func (r *CachedRetriever) PostGameReport(ctx context.Context, a model.Activity) (model.PostGameReport, error) {
	return cache.Fetch(ctx, r.values, bucketReports, strconv.FormatInt(a.InstanceID, 10), cache.Forever, r.now(),
		func(ctx context.Context) (model.PostGameReport, error) { return r.upstream.PostGameReport(ctx, a) })
}

func (r *CachedRetriever) FindPlayers(ctx context.Context, namePrefix string) ([]model.Player, error) {
	return r.upstream.FindPlayers(ctx, namePrefix)
}

// fetchActivities is the upstream getter of the coverage cache. Privacy
// refusals are reported as cache.ErrForbidden so the refresher backs off.
func (r *CachedRetriever) fetchActivities(ctx context.Context, key ActivityKey, start, end time.Time) ([]model.Activity, error) {
	// Ask upstream directly: a character created since the value cache was
	// filled would otherwise be missing from a period credited as covered.
	chars, err := r.upstream.Characters(ctx, key.Membership)
	if err != nil {
		return nil, forbiddenIfPrivate(err)
	}
	activities, err := activitiesOfCharacters(ctx, chars, func(ctx context.Context, c model.Character) ([]model.Activity, error) {
		return r.upstream.CharacterActivities(ctx, key.Membership, c.CharacterID, key.Mode, start, end)
	})
	return activities, forbiddenIfPrivate(err)
}

func forbiddenIfPrivate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, bungie.ErrAccessForbidden) || errors.Is(err, ErrPrivate) {
		return fmt.Errorf("%w: %w", cache.ErrForbidden, err)
	}
	return err
}
