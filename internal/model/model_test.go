package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uayebforever/clan-stats/internal/timeperiod"
)

func TestMembershipStringRoundTrip(t *testing.T) {
	m := Membership{ID: 4611686018467284386, Type: MembershipSteam}
	assert.Equal(t, "3:4611686018467284386", m.String())

	parsed, err := ParseMembership(m.String())
	require.NoError(t, err)
	assert.Equal(t, m, parsed)
}

func TestParseMembershipRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "4611686018467284386", "x:1", "3:abc"} {
		_, err := ParseMembership(s)
		assert.ErrorIs(t, err, ErrInvalidMembership, s)
	}
}

func TestParseGameMode(t *testing.T) {
	tests := []struct {
		in   string
		want GameMode
	}{
		{"", GameModeNone},
		{"all", GameModeNone},
		{"Raid", GameModeRaid},
		{" trials ", GameModeTrials},
		{"63", GameModeGambit},
	}
	for _, tt := range tests {
		got, err := ParseGameMode(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseGameMode("golf")
	assert.Error(t, err)
	assert.Equal(t, "mode(999)", GameMode(999).String())
}

func TestActivityHasMode(t *testing.T) {
	a := Activity{Mode: GameModeDungeon, Modes: []GameMode{GameModeAllPvE, GameModeDungeon}}
	assert.True(t, a.HasMode(GameModeNone))
	assert.True(t, a.HasMode(GameModeDungeon))
	assert.True(t, a.HasMode(GameModeAllPvE))
	assert.False(t, a.HasMode(GameModeAllPvP))
}

func TestActivityJSONKeepsPeriod(t *testing.T) {
	start := time.Date(2024, 7, 15, 20, 0, 0, 0, time.UTC)
	done := true
	a := Activity{
		InstanceID: 12345,
		Period:     timeperiod.MustBetween(start, start.Add(40*time.Minute)),
		Mode:       GameModeRaid,
		Completed:  &done,
	}

	data, err := json.Marshal(a)
	require.NoError(t, err)
	var back Activity
	require.NoError(t, json.Unmarshal(data, &back))

	assert.True(t, back.Period.Equal(a.Period))
	assert.True(t, back.Timestamp().Equal(start))
	require.NotNil(t, back.Completed)
	assert.True(t, *back.Completed)
}

func TestLastActivityAndSort(t *testing.T) {
	at := func(h int) Activity {
		s := time.Date(2024, 1, 1, h, 0, 0, 0, time.UTC)
		return Activity{InstanceID: int64(h), Period: timeperiod.MustBetween(s, s.Add(time.Minute))}
	}
	activities := []Activity{at(3), at(9), at(1)}

	last, ok := LastActivity(activities)
	require.True(t, ok)
	assert.Equal(t, int64(9), last.InstanceID)

	SortActivitiesDescending(activities)
	assert.Equal(t, []int64{9, 3, 1}, []int64{activities[0].InstanceID, activities[1].InstanceID, activities[2].InstanceID})

	_, ok = LastActivity(nil)
	assert.False(t, ok)
}

func TestClanMember(t *testing.T) {
	m := Membership{ID: 7, Type: MembershipPSN}
	clan := Clan{Members: []GroupMember{{MinimalPlayer: MinimalPlayer{Membership: m, Name: "seven"}}}}

	member, ok := clan.Member(m)
	require.True(t, ok)
	assert.Equal(t, "seven", member.Name)
	assert.Len(t, clan.Players(), 1)

	_, ok = clan.Member(Membership{ID: 8})
	assert.False(t, ok)
}
