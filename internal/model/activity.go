package model

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/uayebforever/clan-stats/internal/timeperiod"
)

// GameMode is the platform's activity mode type.
type GameMode int

const (
	GameModeNone      GameMode = 0
	GameModeStory     GameMode = 2
	GameModeStrike    GameMode = 3
	GameModeRaid      GameMode = 4
	GameModeAllPvP    GameMode = 5
	GameModePatrol    GameMode = 6
	GameModeAllPvE    GameMode = 7
	GameModeNightfall GameMode = 46
	GameModeGambit    GameMode = 63
	GameModeDungeon   GameMode = 82
	GameModeTrials    GameMode = 84
)

var gameModeNames = []struct {
	mode GameMode
	name string
}{
	{GameModeNone, "all"},
	{GameModeStory, "story"},
	{GameModeStrike, "strike"},
	{GameModeRaid, "raid"},
	{GameModeAllPvP, "pvp"},
	{GameModePatrol, "patrol"},
	{GameModeAllPvE, "pve"},
	{GameModeNightfall, "nightfall"},
	{GameModeGambit, "gambit"},
	{GameModeDungeon, "dungeon"},
	{GameModeTrials, "trials"},
}

func (m GameMode) String() string {
	for _, n := range gameModeNames {
		if n.mode == m {
			return n.name
		}
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// GameModeNames lists the names accepted by ParseGameMode.
func GameModeNames() []string {
	names := make([]string, 0, len(gameModeNames))
	for _, n := range gameModeNames {
		names = append(names, n.name)
	}
	return names
}

// ParseGameMode accepts a mode name ("raid", "all") or its number.
func ParseGameMode(s string) (GameMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return GameModeNone, nil
	}
	for _, n := range gameModeNames {
		if n.name == s {
			return n.mode, nil
		}
	}
	if num, err := strconv.Atoi(s); err == nil {
		return GameMode(num), nil
	}
	return GameModeNone, fmt.Errorf("unknown game mode %q (choose from %s)", s, strings.Join(GameModeNames(), ", "))
}

// Activity is one played activity instance as seen by one character.
type Activity struct {
	InstanceID           int64             `json:"instance_id"`
	DirectorActivityHash uint32            `json:"director_activity_hash"`
	Period               timeperiod.Period `json:"period"`
	Mode                 GameMode          `json:"mode"`
	Modes                []GameMode        `json:"modes,omitempty"`
	Completed            *bool             `json:"completed,omitempty"`
}

// Timestamp places the activity on the time axis at its start.
func (a Activity) Timestamp() time.Time {
	return a.Period.Start()
}

// HasMode reports whether the activity counts towards mode.
// GameModeNone matches every activity.
func (a Activity) HasMode(mode GameMode) bool {
	if mode == GameModeNone || a.Mode == mode {
		return true
	}
	return slices.Contains(a.Modes, mode)
}

// PostGameReport is an activity together with everyone who took part.
type PostGameReport struct {
	Activity Activity        `json:"activity"`
	Players  []MinimalPlayer `json:"players"`
}

// SortActivitiesDescending orders activities newest first.
func SortActivitiesDescending(activities []Activity) {
	slices.SortFunc(activities, func(a, b Activity) int {
		return b.Period.Start().Compare(a.Period.Start())
	})
}

// LastActivity returns the most recently started activity.
func LastActivity(activities []Activity) (Activity, bool) {
	if len(activities) == 0 {
		return Activity{}, false
	}
	last := activities[0]
	for _, a := range activities[1:] {
		if a.Period.Start().After(last.Period.Start()) {
			last = a
		}
	}
	return last, true
}
