package model

import (
	"fmt"
	"time"
)

// MinimalPlayer is the least we know about a player: where to find them and
// what to call them.
type MinimalPlayer struct {
	Membership Membership `json:"membership"`
	Name       string     `json:"name"`
}

func (p MinimalPlayer) String() string {
	return fmt.Sprintf("%s (%s)", p.Name, p.Membership)
}

// ClanMemberType is the rank of a member within a clan.
type ClanMemberType int

const (
	ClanMemberNone          ClanMemberType = 0
	ClanMemberBeginner      ClanMemberType = 1
	ClanMemberMember        ClanMemberType = 2
	ClanMemberAdmin         ClanMemberType = 3
	ClanMemberActingFounder ClanMemberType = 4
	ClanMemberFounder       ClanMemberType = 5
)

func (t ClanMemberType) String() string {
	switch t {
	case ClanMemberBeginner:
		return "beginner"
	case ClanMemberMember:
		return "member"
	case ClanMemberAdmin:
		return "admin"
	case ClanMemberActingFounder:
		return "acting founder"
	case ClanMemberFounder:
		return "founder"
	default:
		return "none"
	}
}

// GroupMember is a player as listed by their clan.
type GroupMember struct {
	MinimalPlayer
	LastOnline time.Time      `json:"last_online"`
	JoinDate   time.Time      `json:"join_date"`
	MemberType ClanMemberType `json:"member_type"`
}

// Player is the full profile of a player.
type Player struct {
	MinimalPlayer
	BungieID       int64                `json:"bungie_id"`
	IsPrivate      bool                 `json:"is_private"`
	LastSeen       time.Time            `json:"last_seen"`
	AllMemberships []DetailedMembership `json:"all_memberships,omitempty"`
}

// CharacterClass is the class of a character.
type CharacterClass int

const (
	ClassTitan   CharacterClass = 0
	ClassHunter  CharacterClass = 1
	ClassWarlock CharacterClass = 2
	ClassUnknown CharacterClass = 3
)

func (c CharacterClass) String() string {
	switch c {
	case ClassTitan:
		return "Titan"
	case ClassHunter:
		return "Hunter"
	case ClassWarlock:
		return "Warlock"
	default:
		return "Unknown"
	}
}

// Character is one of a player's characters.
type Character struct {
	Membership  Membership     `json:"membership"`
	CharacterID int64          `json:"character_id"`
	Class       CharacterClass `json:"class"`
	PowerLevel  int            `json:"power_level"`
	LastPlayed  time.Time      `json:"last_played"`
}

// Clan is a group of players.
type Clan struct {
	ID      int64         `json:"id"`
	Name    string        `json:"name"`
	Members []GroupMember `json:"members"`
}

// Players returns the minimal form of every member.
func (c Clan) Players() []MinimalPlayer {
	players := make([]MinimalPlayer, 0, len(c.Members))
	for _, m := range c.Members {
		players = append(players, m.MinimalPlayer)
	}
	return players
}

// Member returns the member with the given membership.
func (c Clan) Member(m Membership) (GroupMember, bool) {
	for _, member := range c.Members {
		if member.Membership == m {
			return member, true
		}
	}
	return GroupMember{}, false
}
