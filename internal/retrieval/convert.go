package retrieval

import (
	"time"

	"github.com/uayebforever/clan-stats/internal/bungie"
	"github.com/uayebforever/clan-stats/internal/model"
	"github.com/uayebforever/clan-stats/internal/timeperiod"
)

func membershipOf(card bungie.UserInfoCard) model.Membership {
	return model.Membership{ID: int64(card.MembershipID), Type: model.MembershipType(card.MembershipType)}
}

func minimalPlayerOf(card bungie.UserInfoCard) model.MinimalPlayer {
	return model.MinimalPlayer{Membership: membershipOf(card), Name: card.GlobalName()}
}

// primaryMembership picks the membership that represents a player.
//
// A cross save primary applies to several membership types and wins. A
// membership overridden by cross save applies to none and is skipped. With
// no obvious primary the first remaining membership is used.
func primaryMembership(cards []bungie.UserInfoCard) (model.Membership, bool) {
	var possible []bungie.UserInfoCard
	for _, c := range cards {
		switch {
		case len(c.ApplicableMembershipTypes) > 1:
			return membershipOf(c), true
		case len(c.ApplicableMembershipTypes) == 1:
			possible = append(possible, c)
		}
	}
	if len(possible) == 0 {
		if len(cards) == 0 {
			return model.Membership{}, false
		}
		return membershipOf(cards[0]), true
	}
	return membershipOf(possible[0]), true
}

func crossSaveStatus(p bungie.ProfileUserInfoCard) model.CrossSaveStatus {
	switch {
	case p.IsCrossSavePrimary:
		return model.CrossSavePrimary
	case p.IsOverridden:
		return model.CrossSaveOverridden
	default:
		return model.CrossSaveNone
	}
}

func playerFromLinkedProfiles(requested model.Membership, res *bungie.LinkedProfilesResponse) model.Player {
	cards := make([]bungie.UserInfoCard, 0, len(res.Profiles))
	player := model.Player{BungieID: int64(res.BnetMembership.MembershipID)}
	for _, p := range res.Profiles {
		cards = append(cards, p.UserInfoCard)
		player.AllMemberships = append(player.AllMemberships, model.DetailedMembership{
			Membership:          membershipOf(p.UserInfoCard),
			PlatformDisplayName: p.DisplayName,
			CrossSave:           crossSaveStatus(p),
		})
		if p.DateLastPlayed.After(player.LastSeen) {
			player.LastSeen = p.DateLastPlayed
		}
		if membershipOf(p.UserInfoCard) == requested {
			player.Name = p.GlobalName()
			player.IsPrivate = !p.IsPublic
		}
	}

	player.Membership = requested
	if primary, ok := primaryMembership(cards); ok {
		player.Membership = primary
	}
	if player.Name == "" {
		player.Name = res.BnetMembership.GlobalName()
	}
	return player
}

func groupMemberOf(m bungie.GroupMember) model.GroupMember {
	return model.GroupMember{
		MinimalPlayer: minimalPlayerOf(m.DestinyUserInfo.UserInfoCard),
		LastOnline:    time.Unix(m.LastOnlineStatusChange, 0).UTC(),
		JoinDate:      m.JoinDate.UTC(),
		MemberType:    model.ClanMemberType(m.MemberType),
	}
}

func clanOf(group bungie.GroupV2, members []bungie.GroupMember) model.Clan {
	clan := model.Clan{ID: int64(group.GroupID), Name: group.Name}
	for _, m := range members {
		clan.Members = append(clan.Members, groupMemberOf(m))
	}
	return clan
}

func characterOf(c bungie.CharacterComponent) model.Character {
	return model.Character{
		Membership:  model.Membership{ID: int64(c.MembershipID), Type: model.MembershipType(c.MembershipType)},
		CharacterID: int64(c.CharacterID),
		Class:       model.CharacterClass(c.ClassType),
		PowerLevel:  c.Light,
		LastPlayed:  c.DateLastPlayed.UTC(),
	}
}

// activityOf converts one history entry. The activity's length is the time
// the player spent in it, falling back to the activity duration.
func activityOf(g bungie.HistoricalStatsPeriodGroup) (model.Activity, error) {
	length := time.Duration(g.Value("timePlayedSeconds")) * time.Second
	if length <= 0 {
		length = g.Duration()
	}
	period, err := timeperiod.New(g.Period, max(length, 0))
	if err != nil {
		return model.Activity{}, err
	}

	a := model.Activity{
		InstanceID:           int64(g.ActivityDetails.InstanceID),
		DirectorActivityHash: g.ActivityDetails.DirectorActivityHash,
		Period:               period,
		Mode:                 model.GameMode(g.ActivityDetails.Mode),
	}
	for _, m := range g.ActivityDetails.Modes {
		a.Modes = append(a.Modes, model.GameMode(m))
	}
	if v, ok := g.Values["completed"]; ok {
		done := v.Basic.Value > 0
		a.Completed = &done
	}
	return a, nil
}

func postGameReportOf(a model.Activity, report *bungie.PostGameCarnageReport) model.PostGameReport {
	post := model.PostGameReport{Activity: a}
	seen := map[model.Membership]bool{}
	for _, e := range report.Entries {
		p := minimalPlayerOf(e.Player.DestinyUserInfo)
		if seen[p.Membership] {
			continue
		}
		seen[p.Membership] = true
		post.Players = append(post.Players, p)
	}
	return post
}
