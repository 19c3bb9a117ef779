package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uayebforever/clan-stats/internal/bungie"
	"github.com/uayebforever/clan-stats/internal/cache"
	"github.com/uayebforever/clan-stats/internal/model"
)

var (
	now    = time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC)
	alice  = model.Membership{ID: 4611686018467284386, Type: model.MembershipSteam}
	bob    = model.Membership{ID: 4611686018467284999, Type: model.MembershipPSN}
	charA1 = bungie.ID(2305843009260000001)
	charA2 = bungie.ID(2305843009260000002)
	charB1 = bungie.ID(2305843009260000101)
)

func card(m model.Membership, name string, code int) bungie.UserInfoCard {
	return bungie.UserInfoCard{
		MembershipID:                bungie.ID(m.ID),
		MembershipType:              int(m.Type),
		DisplayName:                 name,
		BungieGlobalDisplayName:     name,
		BungieGlobalDisplayNameCode: code,
		ApplicableMembershipTypes:   []int{int(m.Type)},
		IsPublic:                    true,
	}
}

func played(at time.Time, instance int64, mode model.GameMode) bungie.HistoricalStatsPeriodGroup {
	return bungie.HistoricalStatsPeriodGroup{
		Period: at,
		ActivityDetails: bungie.ActivityDetails{
			InstanceID: bungie.ID(instance),
			Mode:       int(mode),
			Modes:      []int{int(mode)},
		},
		Values: map[string]bungie.HistoricalStatsValue{
			"timePlayedSeconds": bungie.StatValue(1800),
			"completed":         bungie.StatValue(1),
		},
	}
}

// newWorld seeds two players: alice with two characters who played every
// three hours over the last few days, and bob with one quiet character.
func newWorld(t *testing.T) *bungie.InMemoryTransport {
	t.Helper()
	transport := bungie.NewInMemoryTransport()
	transport.SeedPlayer(card(alice, "Alice", 7), now.Add(-time.Hour),
		bungie.CharacterComponent{CharacterID: charA1, ClassType: 0, Light: 1990, DateLastPlayed: now.Add(-time.Hour)},
		bungie.CharacterComponent{CharacterID: charA2, ClassType: 2, Light: 1980, DateLastPlayed: now.Add(-48 * time.Hour)},
	)
	transport.SeedPlayer(card(bob, "Bob", 1234), now.Add(-72*time.Hour),
		bungie.CharacterComponent{CharacterID: charB1, ClassType: 1, Light: 1800},
	)
	for i := 1; i <= 40; i++ {
		at := now.Add(-time.Duration(3*i) * time.Hour)
		char := charA1
		if i%4 == 0 {
			char = charA2
		}
		mode := model.GameModeStrike
		if i%2 == 0 {
			mode = model.GameModeRaid
		}
		transport.SeedActivities(char, played(at, int64(9000+i), mode))
	}
	transport.SeedClan(bungie.GroupV2{GroupID: 77, Name: "Seventy Seven"},
		bungie.GroupMember{MemberType: 5, DestinyUserInfo: bungie.GroupUserInfoCard{UserInfoCard: card(alice, "Alice", 7)}, LastOnlineStatusChange: now.Add(-time.Hour).Unix()},
		bungie.GroupMember{MemberType: 2, DestinyUserInfo: bungie.GroupUserInfoCard{UserInfoCard: card(bob, "Bob", 1234)}, LastOnlineStatusChange: now.Add(-72 * time.Hour).Unix()},
	)
	return transport
}

func newCached(t *testing.T, transport *bungie.InMemoryTransport, clock clockwork.Clock) *CachedRetriever {
	t.Helper()
	upstream := NewAPIRetriever(bungie.NewAPI(transport), clock)
	opts := DefaultCachedOptions()
	opts.Clock = clock
	return NewCachedRetriever(upstream, cache.NewMemoryBackend[model.Activity](), opts)
}

func TestAPIRetrieverMergesCharacters(t *testing.T) {
	transport := newWorld(t)
	r := NewAPIRetriever(bungie.NewAPI(transport), clockwork.NewFakeClockAt(now))

	activities, err := r.ActivitiesForPlayer(context.Background(), alice, now.Add(-30*time.Hour), model.GameModeNone)
	require.NoError(t, err)
	require.Len(t, activities, 10)
	for i := 1; i < len(activities); i++ {
		assert.True(t, activities[i-1].Period.Start().Before(activities[i].Period.Start()), "ascending order")
	}
	last := activities[len(activities)-1]
	assert.Equal(t, int64(9001), last.InstanceID)
	assert.Equal(t, 30*time.Minute, last.Period.Length())
	require.NotNil(t, last.Completed)
	assert.True(t, *last.Completed)
}

func TestAPIRetrieverFiltersByMode(t *testing.T) {
	transport := newWorld(t)
	r := NewAPIRetriever(bungie.NewAPI(transport), clockwork.NewFakeClockAt(now))

	raids, err := r.ActivitiesForPlayer(context.Background(), alice, now.Add(-30*time.Hour), model.GameModeRaid)
	require.NoError(t, err)
	assert.Len(t, raids, 5)
	for _, a := range raids {
		assert.Equal(t, model.GameModeRaid, a.Mode)
	}
}

func TestAPIRetrieverPlayerAndClan(t *testing.T) {
	transport := newWorld(t)
	r := NewAPIRetriever(bungie.NewAPI(transport), clockwork.NewFakeClockAt(now))
	ctx := context.Background()

	player, err := r.Player(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "Alice#0007", player.Name)
	assert.Equal(t, alice, player.Membership)
	assert.True(t, player.LastSeen.Equal(now.Add(-time.Hour)))

	chars, err := r.Characters(ctx, alice)
	require.NoError(t, err)
	require.Len(t, chars, 2)
	assert.Equal(t, int64(charA1), chars[0].CharacterID, "most recently played first")
	assert.Equal(t, model.ClassWarlock, chars[1].Class)

	clan, err := r.ClanForPlayer(ctx, bob)
	require.NoError(t, err)
	require.NotNil(t, clan)
	assert.Equal(t, "Seventy Seven", clan.Name)
	require.Len(t, clan.Members, 2)
	member, ok := clan.Member(alice)
	require.True(t, ok)
	assert.Equal(t, model.ClanMemberFounder, member.MemberType)
	assert.True(t, member.LastOnline.Equal(now.Add(-time.Hour)))

	nobody := model.Membership{ID: 5, Type: model.MembershipXbox}
	none, err := r.ClanForPlayer(ctx, nobody)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestAPIRetrieverFindPlayers(t *testing.T) {
	transport := newWorld(t)
	r := NewAPIRetriever(bungie.NewAPI(transport), clockwork.NewFakeClockAt(now))

	players, err := r.FindPlayers(context.Background(), "al")
	require.NoError(t, err)
	require.Len(t, players, 1)
	assert.Equal(t, "Alice#0007", players[0].Name)
	assert.Equal(t, alice, players[0].Membership)
}

func TestAPIRetrieverPrivatePlayer(t *testing.T) {
	transport := newWorld(t)
	transport.SetPrivate(bungie.ID(alice.ID), true)
	r := NewAPIRetriever(bungie.NewAPI(transport), clockwork.NewFakeClockAt(now))

	chars, err := r.Characters(context.Background(), alice)
	require.NoError(t, err)
	assert.Len(t, chars, 2, "character ids are public even when details are not")

	_, err = r.ActivitiesForPlayer(context.Background(), alice, now.Add(-24*time.Hour), model.GameModeNone)
	require.ErrorIs(t, err, ErrPrivate)
}

func TestCachedRetrieverServesRepeatedQueriesFromCache(t *testing.T) {
	transport := newWorld(t)
	clock := clockwork.NewFakeClockAt(now)
	r := newCached(t, transport, clock)
	ctx := context.Background()

	first, err := r.ActivitiesForPlayer(ctx, alice, now.Add(-30*time.Hour), model.GameModeNone)
	require.NoError(t, err)
	require.Len(t, first, 10)
	historyCalls := transport.RequestsTo("Stats/Activities")
	assert.Equal(t, 2, historyCalls, "one history walk per character")

	clock.Advance(10 * time.Minute)
	second, err := r.ActivitiesForPlayer(ctx, alice, now.Add(-30*time.Hour), model.GameModeNone)
	require.NoError(t, err)
	assert.Len(t, second, 10)
	assert.Equal(t, historyCalls, transport.RequestsTo("Stats/Activities"), "fresh history is not fetched again")

	key := ActivityKey{Membership: alice}
	covered, err := r.HasRange(ctx, key, now.Add(-30*time.Hour), now)
	require.NoError(t, err)
	assert.True(t, covered)
}

func TestCachedRetrieverRefreshesAndBackfills(t *testing.T) {
	transport := newWorld(t)
	clock := clockwork.NewFakeClockAt(now)
	r := newCached(t, transport, clock)
	ctx := context.Background()

	_, err := r.ActivitiesForPlayer(ctx, alice, now.Add(-30*time.Hour), model.GameModeNone)
	require.NoError(t, err)

	// New activity after the cache was filled.
	transport.SeedActivities(charA1, played(now.Add(time.Hour), 9999, model.GameModeStrike))
	clock.Advance(2 * time.Hour)
	before := transport.RequestsTo("Stats/Activities")

	activities, err := r.ActivitiesForPlayer(ctx, alice, now.Add(-60*time.Hour), model.GameModeNone)
	require.NoError(t, err)
	assert.Len(t, activities, 21)
	assert.Equal(t, int64(9999), activities[len(activities)-1].InstanceID)
	assert.Greater(t, transport.RequestsTo("Stats/Activities"), before)

	coverage, err := r.Coverage(ctx, ActivityKey{Membership: alice})
	require.NoError(t, err)
	require.Len(t, coverage, 1)
	assert.True(t, coverage[0].Start().Equal(now.Add(-60*time.Hour)))
	assert.True(t, coverage[0].End().Equal(clock.Now()))
}

func TestCachedRetrieverFindsNewCharacters(t *testing.T) {
	transport := newWorld(t)
	clock := clockwork.NewFakeClockAt(now)
	upstream := NewAPIRetriever(bungie.NewAPI(transport), clock)
	opts := DefaultCachedOptions()
	opts.PlayerLifetime = 6 * time.Hour
	opts.Clock = clock
	r := NewCachedRetriever(upstream, cache.NewMemoryBackend[model.Activity](), opts)
	ctx := context.Background()

	chars, err := r.Characters(ctx, alice)
	require.NoError(t, err)
	require.Len(t, chars, 2)
	_, err = r.ActivitiesForPlayer(ctx, alice, now.Add(-30*time.Hour), model.GameModeNone)
	require.NoError(t, err)

	// A third character is created and played while the character list is
	// still cached.
	charA3 := bungie.ID(2305843009260000003)
	transport.SeedPlayer(card(alice, "Alice", 7), now.Add(30*time.Minute),
		bungie.CharacterComponent{CharacterID: charA1, ClassType: 0, Light: 1990, DateLastPlayed: now.Add(-time.Hour)},
		bungie.CharacterComponent{CharacterID: charA2, ClassType: 2, Light: 1980, DateLastPlayed: now.Add(-48 * time.Hour)},
		bungie.CharacterComponent{CharacterID: charA3, ClassType: 1, Light: 1700, DateLastPlayed: now.Add(30 * time.Minute)},
	)
	transport.SeedActivities(charA3, played(now.Add(30*time.Minute), 9998, model.GameModePatrol))
	clock.Advance(90 * time.Minute)

	chars, err = r.Characters(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, chars, 2, "character list is still served from the cache")

	activities, err := r.ActivitiesForPlayer(ctx, alice, now.Add(-30*time.Hour), model.GameModeNone)
	require.NoError(t, err)
	require.NotEmpty(t, activities)
	assert.Equal(t, int64(9998), activities[len(activities)-1].InstanceID)
}

func TestCachedRetrieverDefaultsRefreshPolicy(t *testing.T) {
	transport := newWorld(t)
	clock := clockwork.NewFakeClockAt(now)
	upstream := NewAPIRetriever(bungie.NewAPI(transport), clock)
	r := NewCachedRetriever(upstream, cache.NewMemoryBackend[model.Activity](), CachedOptions{Clock: clock})
	ctx := context.Background()

	_, err := r.ActivitiesForPlayer(ctx, alice, now.Add(-30*time.Hour), model.GameModeNone)
	require.NoError(t, err)
	calls := transport.RequestsTo("Stats/Activities")

	clock.Advance(30 * time.Minute)
	_, err = r.ActivitiesForPlayer(ctx, alice, now.Add(-30*time.Hour), model.GameModeNone)
	require.NoError(t, err)
	assert.Equal(t, calls, transport.RequestsTo("Stats/Activities"), "within the default staleness")

	clock.Advance(time.Hour)
	_, err = r.ActivitiesForPlayer(ctx, alice, now.Add(-30*time.Hour), model.GameModeNone)
	require.NoError(t, err)
	assert.Greater(t, transport.RequestsTo("Stats/Activities"), calls)
}

func TestCachedRetrieverBacksOffPrivatePlayers(t *testing.T) {
	transport := newWorld(t)
	transport.SetPrivate(bungie.ID(alice.ID), true)
	clock := clockwork.NewFakeClockAt(now)
	r := newCached(t, transport, clock)
	ctx := context.Background()

	_, err := r.ActivitiesForPlayer(ctx, alice, now.Add(-24*time.Hour), model.GameModeNone)
	require.ErrorIs(t, err, ErrPrivate)
	calls := transport.RequestsTo("Stats/Activities")

	clock.Advance(time.Hour)
	_, err = r.ActivitiesForPlayer(ctx, alice, now.Add(-24*time.Hour), model.GameModeNone)
	require.ErrorIs(t, err, ErrPrivate)
	assert.Equal(t, calls, transport.RequestsTo("Stats/Activities"), "private players are not asked again during back-off")

	transport.SetPrivate(bungie.ID(alice.ID), false)
	clock.Advance(25 * time.Hour)
	activities, err := r.ActivitiesForPlayer(ctx, alice, now.Add(-24*time.Hour), model.GameModeNone)
	require.NoError(t, err)
	assert.NotEmpty(t, activities)
}

func TestCachedRetrieverReusesPlayersWithinLifetime(t *testing.T) {
	transport := newWorld(t)
	clock := clockwork.NewFakeClockAt(now)
	r := newCached(t, transport, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, err := r.Player(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, "Alice#0007", p.Name)
	}
	assert.Equal(t, 1, transport.RequestsTo("LinkedProfiles"))

	clock.Advance(2 * time.Hour)
	_, err := r.Player(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 2, transport.RequestsTo("LinkedProfiles"))

	clan, err := r.Clan(ctx, 77)
	require.NoError(t, err)
	assert.Len(t, clan.Members, 2)
	_, err = r.Clan(ctx, 77)
	require.NoError(t, err)
	assert.Equal(t, 1, transport.RequestsTo("Members"))
}

func TestCachedRetrieverKeepsReportsForever(t *testing.T) {
	transport := newWorld(t)
	transport.SeedReport(bungie.PostGameCarnageReport{
		Period:          now.Add(-3 * time.Hour),
		ActivityDetails: bungie.ActivityDetails{InstanceID: 9001},
		Entries: []bungie.PostGameCarnageReportEntry{
			{Player: bungie.PostGameCarnageReportPlayer{DestinyUserInfo: card(alice, "Alice", 7)}, CharacterID: charA1},
			{Player: bungie.PostGameCarnageReportPlayer{DestinyUserInfo: card(bob, "Bob", 1234)}, CharacterID: charB1},
		},
	})
	clock := clockwork.NewFakeClockAt(now)
	r := newCached(t, transport, clock)
	ctx := context.Background()

	activity := model.Activity{InstanceID: 9001}
	report, err := r.PostGameReport(ctx, activity)
	require.NoError(t, err)
	require.Len(t, report.Players, 2)
	assert.Equal(t, "Bob#1234", report.Players[1].Name)

	clock.Advance(365 * 24 * time.Hour)
	_, err = r.PostGameReport(ctx, activity)
	require.NoError(t, err)
	assert.Equal(t, 1, transport.RequestsTo("PostGameCarnageReport"))
}

func TestParseActivityKey(t *testing.T) {
	key := ActivityKey{Membership: alice, Mode: model.GameModeRaid}
	parsed, err := ParseActivityKey(key.CacheKey())
	require.NoError(t, err)
	assert.Equal(t, key, parsed)

	parsed, err = ParseActivityKey(alice.String())
	require.NoError(t, err)
	assert.Equal(t, ActivityKey{Membership: alice}, parsed)

	_, err = ParseActivityKey("nonsense")
	assert.Error(t, err)
}
