package report

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uayebforever/clan-stats/internal/model"
)

func raid(id int64, hash uint32, start time.Time, completed *bool) model.Activity {
	a := activity(id, start, time.Hour, model.GameModeRaid)
	a.DirectorActivityHash = hash
	a.Completed = completed
	return a
}

func TestCountRaids(t *testing.T) {
	yes, no := true, false
	row := CountRaids([]model.Activity{
		raid(1, 10, now.Add(-72*time.Hour), &yes),
		raid(2, 10, now.Add(-48*time.Hour), &yes),
		raid(3, 20, now.Add(-24*time.Hour), &no),
		raid(4, 30, now.Add(-12*time.Hour), nil),
		raid(5, 20, now.Add(-96*time.Hour), &yes),
		activity(6, now.Add(-time.Hour), time.Hour, model.GameModeStrike),
	})

	assert.Equal(t, 3, row.Clears)
	assert.Equal(t, 5, row.Attempts)
	assert.Equal(t, map[uint32]int{10: 2, 20: 1}, row.ClearsByActivity)
	require.NotNil(t, row.LastClear)
	assert.True(t, row.LastClear.Equal(now.Add(-48*time.Hour)))

	empty := CountRaids(nil)
	assert.Zero(t, empty.Clears)
	assert.Nil(t, empty.LastClear)
}

func TestParseRaidSort(t *testing.T) {
	s, err := ParseRaidSort("")
	require.NoError(t, err)
	assert.Equal(t, RaidSortByName, s)

	s, err = ParseRaidSort("count")
	require.NoError(t, err)
	assert.Equal(t, RaidSortByCount, s)

	_, err = ParseRaidSort("active")
	assert.Error(t, err)
}

func TestRaidClears(t *testing.T) {
	f := newFake()
	yes := true
	f.activities[2][0].Completed = &yes

	rep, err := RaidClears(context.Background(), f, 77, RaidOptions{
		Discord: map[string]string{"alice": "ally"},
	})
	require.NoError(t, err)
	assert.True(t, rep.Since.Equal(DefaultRaidSince))

	var names []string
	for _, r := range rep.Rows {
		names = append(names, r.Player.Name)
	}
	assert.Equal(t, []string{"Alice#0001", "bob#0002", "carol#0003"}, names)

	alice := rep.Rows[0]
	assert.Equal(t, 1, alice.Clears)
	assert.Equal(t, 2, alice.Attempts, "older raids count since the default floor")
	assert.Equal(t, "ally", alice.DiscordName)
	assert.True(t, rep.Rows[1].Private)
	assert.Zero(t, rep.Rows[2].Attempts, "carol ran no raids")

	rep, err = RaidClears(context.Background(), f, 77, RaidOptions{
		Sort:  RaidSortByCount,
		Since: now.AddDate(0, 0, -30),
	})
	require.NoError(t, err)
	names = names[:0]
	for _, r := range rep.Rows {
		names = append(names, r.Player.Name)
	}
	assert.Equal(t, []string{"bob#0002", "carol#0003", "Alice#0001"}, names, "fewest clears first")
	assert.Equal(t, 1, rep.Rows[2].Attempts)
}
