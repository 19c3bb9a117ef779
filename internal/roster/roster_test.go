package roster

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uayebforever/clan-stats/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Path(t.TempDir(), 4242))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func groupMember(id int64, name string, joined time.Time) model.GroupMember {
	return model.GroupMember{
		MinimalPlayer: model.MinimalPlayer{
			Membership: model.Membership{ID: id, Type: model.MembershipSteam},
			Name:       name,
		},
		JoinDate: joined,
	}
}

var joined = time.Date(2023, 3, 1, 18, 30, 0, 0, time.UTC)

func TestPath(t *testing.T) {
	assert.True(t, strings.HasSuffix(Path("/tmp/rosters", 4242), "4242.sqlite"))
}

func TestAddMemberAndLookup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	added, err := s.AddMemberForPlayer(ctx, groupMember(1, "Alice#0007", joined), "alice")
	require.NoError(t, err)
	assert.NotZero(t, added.ID)

	m, err := s.MemberByBungieID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Alice#0007", m.BungieName())
	assert.Equal(t, "alice", m.DiscordName())
	assert.True(t, m.IsCurrent())
	assert.True(t, m.FirstJoin.Equal(time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)))
	id, ok := m.BungieID()
	require.True(t, ok)
	assert.Equal(t, int64(1), id)

	_, err = s.MemberByBungieID(ctx, 2)
	require.ErrorIs(t, err, ErrMemberNotFound)
}

func TestStatusHistoryDecidesCurrentMembers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	alice, err := s.AddMemberForPlayer(ctx, groupMember(1, "Alice", joined), "")
	require.NoError(t, err)
	bob, err := s.AddMemberForPlayer(ctx, groupMember(2, "Bob", joined), "")
	require.NoError(t, err)

	require.NoError(t, s.SetStatus(ctx, alice.ID, StatusAdmin, joined.AddDate(0, 1, 0), "promoted"))
	require.NoError(t, s.SetStatus(ctx, bob.ID, StatusKicked, joined.AddDate(0, 2, 0), "inactive"))

	current, err := s.CurrentMembers(ctx)
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, "Alice", current[0].BungieName())
	status, ok := current[0].CurrentStatus()
	require.True(t, ok)
	assert.Equal(t, StatusAdmin, status.Status)

	past, err := s.PastMembers(ctx)
	require.NoError(t, err)
	require.Len(t, past, 1)
	assert.Equal(t, "Bob", past[0].BungieName())

	require.ErrorIs(t, s.SetStatus(ctx, 999, StatusMember, joined, ""), ErrMemberNotFound)
}

func TestLinkDiscordReplacesActiveAccount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m, err := s.AddMemberForPlayer(ctx, groupMember(1, "Alice", joined), "old-name")
	require.NoError(t, err)

	require.NoError(t, s.LinkDiscord(ctx, m.ID, "new-name"))
	got, err := s.MemberByBungieID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "new-name", got.DiscordName())
	assert.Len(t, got.ActiveAccounts(AccountDiscord), 1)

	require.NoError(t, s.LinkDiscord(ctx, m.ID, "old-name"))
	got, err = s.MemberByBungieID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "old-name", got.DiscordName())
	assert.Len(t, got.Accounts, 3, "relinking reuses the old account")
}

func TestFindKnownAndUnknownPlayers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.AddMemberForPlayer(ctx, groupMember(1, "Alice", joined), "")
	require.NoError(t, err)

	players := []model.GroupMember{groupMember(1, "Alice", joined), groupMember(2, "Bob", joined)}
	unknown, err := s.FindUnknownPlayers(ctx, players)
	require.NoError(t, err)
	require.Len(t, unknown, 1)
	assert.Equal(t, "Bob", unknown[0].Name)

	known, err := s.FindKnownPlayers(ctx, players)
	require.NoError(t, err)
	require.Len(t, known, 1)
	assert.Equal(t, "Alice", known[0].Player.Name)
	assert.Equal(t, "Alice", known[0].Member.BungieName())
}

const clanList = `# bungie, discord, leave date, comment
Alice#0007, alice

Bob, bobby, 2024-02-01, moved on
Carol#0001,carol,,founding member
Dave, dave
`

func TestParseDiscordMapping(t *testing.T) {
	rows, err := ParseDiscordMapping(strings.NewReader(clanList))
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, "Alice#0007", rows[0].BungieName)
	assert.Equal(t, "alice", rows[0].DiscordName)
	assert.True(t, rows[0].Active())

	require.NotNil(t, rows[1].LeaveDate)
	assert.Equal(t, "2024-02-01", rows[1].LeaveDate.Format("2006-01-02"))
	assert.Equal(t, "moved on", rows[1].Comment)
	assert.False(t, rows[1].Active())

	assert.True(t, rows[2].Active())
	assert.Equal(t, "founding member", rows[2].Comment)
}

func TestParseDiscordMappingRejectsBadRows(t *testing.T) {
	_, err := ParseDiscordMapping(strings.NewReader("lonely\n"))
	assert.Error(t, err)

	_, err = ParseDiscordMapping(strings.NewReader("a,b,not-a-date\n"))
	assert.Error(t, err)
}

func TestDiscordNames(t *testing.T) {
	rows, err := ParseDiscordMapping(strings.NewReader(clanList))
	require.NoError(t, err)
	names := DiscordNames(rows)

	d, ok := LookupDiscord(names, "alice#0007")
	require.True(t, ok)
	assert.Equal(t, "alice", d)

	d, ok = LookupDiscord(names, "Dave#4321")
	require.True(t, ok, "names without a code match any code")
	assert.Equal(t, "dave", d)

	_, ok = LookupDiscord(names, "Bob#0001")
	assert.False(t, ok, "people who left are not mapped")
}

func TestImportDiscordMapping(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	clan := model.Clan{ID: 4242, Members: []model.GroupMember{
		groupMember(1, "Alice#0007", joined),
		groupMember(2, "Bob#0002", joined),
		groupMember(3, "Carol#0001", joined),
	}}
	_, err := s.AddMemberForPlayer(ctx, clan.Members[2], "caroline")
	require.NoError(t, err)

	rows, err := ParseDiscordMapping(strings.NewReader(clanList))
	require.NoError(t, err)

	res, err := s.ImportDiscordMapping(ctx, rows, clan)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Added, "alice and bob are new")
	assert.Equal(t, 1, res.Linked, "carol's discord name changed")
	assert.Equal(t, 1, res.Departed)
	require.Len(t, res.Unmatched, 1)
	assert.Equal(t, "Dave", res.Unmatched[0].BungieName)

	current, err := s.CurrentMembers(ctx)
	require.NoError(t, err)
	assert.Len(t, current, 2)

	carol, err := s.MemberByBungieID(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "carol", carol.DiscordName())

	again, err := s.ImportDiscordMapping(ctx, rows, clan)
	require.NoError(t, err)
	assert.Zero(t, again.Added)
	assert.Zero(t, again.Linked)
	assert.Zero(t, again.Departed, "import is idempotent")
}
