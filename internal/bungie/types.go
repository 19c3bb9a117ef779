// Package bungie provides the HTTP client and wire types for the Bungie.net
// platform API.
package bungie

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ID is a 64-bit identifier. The platform sends these as JSON strings.
type ID int64

func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatInt(int64(id), 10))
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*id = 0
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return err
	}
	*id = ID(n)
	return nil
}

// Envelope wraps every platform response.
type Envelope struct {
	Response        json.RawMessage   `json:"Response,omitempty"`
	ErrorCode       PlatformErrorCode `json:"ErrorCode"`
	ThrottleSeconds int               `json:"ThrottleSeconds"`
	ErrorStatus     string            `json:"ErrorStatus"`
	Message         string            `json:"Message"`
}

// UserInfoCard describes one platform membership.
type UserInfoCard struct {
	MembershipID                ID     `json:"membershipId"`
	MembershipType              int    `json:"membershipType"`
	DisplayName                 string `json:"displayName"`
	BungieGlobalDisplayName     string `json:"bungieGlobalDisplayName,omitempty"`
	BungieGlobalDisplayNameCode int    `json:"bungieGlobalDisplayNameCode,omitempty"`
	CrossSaveOverride           int    `json:"crossSaveOverride"`
	ApplicableMembershipTypes   []int  `json:"applicableMembershipTypes,omitempty"`
	IsPublic                    bool   `json:"isPublic"`
}

// GlobalName returns "Name#0123", falling back to the platform display name.
func (u UserInfoCard) GlobalName() string {
	if u.BungieGlobalDisplayName == "" {
		return u.DisplayName
	}
	return fmt.Sprintf("%s#%04d", u.BungieGlobalDisplayName, u.BungieGlobalDisplayNameCode)
}

// GroupUserInfoCard is a UserInfoCard as it appears in group listings.
type GroupUserInfoCard struct {
	UserInfoCard
	LastSeenDisplayName string `json:"LastSeenDisplayName,omitempty"`
}

// GroupMember is one entry of a group's member list.
type GroupMember struct {
	MemberType             int               `json:"memberType"`
	IsOnline               bool              `json:"isOnline"`
	LastOnlineStatusChange int64             `json:"lastOnlineStatusChange,string"`
	GroupID                ID                `json:"groupId"`
	DestinyUserInfo        GroupUserInfoCard `json:"destinyUserInfo"`
	BungieNetUserInfo      *UserInfoCard     `json:"bungieNetUserInfo,omitempty"`
	JoinDate               time.Time         `json:"joinDate"`
}

// SearchResultOfGroupMember is one page of a member listing.
type SearchResultOfGroupMember struct {
	Results      []GroupMember `json:"results"`
	TotalResults int           `json:"totalResults"`
	HasMore      bool          `json:"hasMore"`
}

// GroupV2 describes a group (a clan, for group type 1).
type GroupV2 struct {
	GroupID      ID        `json:"groupId"`
	Name         string    `json:"name"`
	GroupType    int       `json:"groupType"`
	MemberCount  int       `json:"memberCount"`
	About        string    `json:"about,omitempty"`
	Motto        string    `json:"motto,omitempty"`
	CreationDate time.Time `json:"creationDate"`
}

// GroupResponse is the answer to a group lookup.
type GroupResponse struct {
	Detail GroupV2 `json:"detail"`
}

// GroupMembership pairs a member with one of their groups.
type GroupMembership struct {
	Member GroupMember `json:"member"`
	Group  GroupV2     `json:"group"`
}

// GroupMembershipSearchResponse lists the groups of a member.
type GroupMembershipSearchResponse struct {
	Results      []GroupMembership `json:"results"`
	TotalResults int               `json:"totalResults"`
	HasMore      bool              `json:"hasMore"`
}

// ComponentPrivacy is the privacy setting attached to a profile component.
type ComponentPrivacy int

const (
	PrivacyNone    ComponentPrivacy = 0
	PrivacyPublic  ComponentPrivacy = 1
	PrivacyPrivate ComponentPrivacy = 2
)

// SingleComponentResponse wraps a profile component holding one value.
type SingleComponentResponse[T any] struct {
	Data    *T               `json:"data,omitempty"`
	Privacy ComponentPrivacy `json:"privacy"`
}

// DictionaryComponentResponse wraps a profile component keyed by id.
type DictionaryComponentResponse[T any] struct {
	Data    map[string]T     `json:"data,omitempty"`
	Privacy ComponentPrivacy `json:"privacy"`
}

// ProfileComponent is profile component 100.
type ProfileComponent struct {
	UserInfo       UserInfoCard `json:"userInfo"`
	DateLastPlayed time.Time    `json:"dateLastPlayed"`
	CharacterIDs   []ID         `json:"characterIds"`
}

// CharacterComponent is one entry of profile component 200.
type CharacterComponent struct {
	MembershipID       ID        `json:"membershipId"`
	MembershipType     int       `json:"membershipType"`
	CharacterID        ID        `json:"characterId"`
	DateLastPlayed     time.Time `json:"dateLastPlayed"`
	MinutesPlayedTotal int64     `json:"minutesPlayedTotal,string"`
	Light              int       `json:"light"`
	ClassType          int       `json:"classType"`
}

// ProfileResponse is the answer to a profile lookup with components 100 and 200.
type ProfileResponse struct {
	Profile    SingleComponentResponse[ProfileComponent]       `json:"profile"`
	Characters DictionaryComponentResponse[CharacterComponent] `json:"characters"`
}

// ProfileUserInfoCard is a membership as reported by the linked profiles call.
type ProfileUserInfoCard struct {
	UserInfoCard
	DateLastPlayed     time.Time `json:"dateLastPlayed"`
	IsOverridden       bool      `json:"isOverridden"`
	IsCrossSavePrimary bool      `json:"isCrossSavePrimary"`
}

// LinkedProfilesResponse lists every membership of one player.
type LinkedProfilesResponse struct {
	Profiles       []ProfileUserInfoCard `json:"profiles"`
	BnetMembership UserInfoCard          `json:"bnetMembership"`
}

// UserSearchResponseDetail is one player found by name.
type UserSearchResponseDetail struct {
	BungieGlobalDisplayName     string         `json:"bungieGlobalDisplayName"`
	BungieGlobalDisplayNameCode int            `json:"bungieGlobalDisplayNameCode"`
	BungieNetMembershipID       ID             `json:"bungieNetMembershipId"`
	DestinyMemberships          []UserInfoCard `json:"destinyMemberships"`
}

// UserSearchResponse is one page of a name search.
type UserSearchResponse struct {
	SearchResults []UserSearchResponseDetail `json:"searchResults"`
	Page          int                        `json:"page"`
	HasMore       bool                       `json:"hasMore"`
}

// HistoricalStatsValue is one named statistic.
type HistoricalStatsValue struct {
	StatID string `json:"statId,omitempty"`
	Basic  struct {
		Value        float64 `json:"value"`
		DisplayValue string  `json:"displayValue,omitempty"`
	} `json:"basic"`
}

// StatValue builds a HistoricalStatsValue.
func StatValue(v float64) HistoricalStatsValue {
	var s HistoricalStatsValue
	s.Basic.Value = v
	return s
}

// ActivityDetails identifies an activity instance.
type ActivityDetails struct {
	ReferenceID          uint32 `json:"referenceId"`
	DirectorActivityHash uint32 `json:"directorActivityHash"`
	InstanceID           ID     `json:"instanceId"`
	Mode                 int    `json:"mode"`
	Modes                []int  `json:"modes,omitempty"`
	IsPrivate            bool   `json:"isPrivate"`
	MembershipType       int    `json:"membershipType"`
}

// HistoricalStatsPeriodGroup is one activity in a character's history.
type HistoricalStatsPeriodGroup struct {
	Period          time.Time                       `json:"period"`
	ActivityDetails ActivityDetails                 `json:"activityDetails"`
	Values          map[string]HistoricalStatsValue `json:"values,omitempty"`
}

// Value returns the basic value of the named statistic, or zero.
func (g HistoricalStatsPeriodGroup) Value(name string) float64 {
	return g.Values[name].Basic.Value
}

// Duration is the activity length from the "activityDurationSeconds" stat.
func (g HistoricalStatsPeriodGroup) Duration() time.Duration {
	return time.Duration(g.Value("activityDurationSeconds")) * time.Second
}

// ActivityHistoryResponse is one page of a character's activity history.
type ActivityHistoryResponse struct {
	Activities []HistoricalStatsPeriodGroup `json:"activities,omitempty"`
}

// PostGameCarnageReportPlayer identifies a participant.
type PostGameCarnageReportPlayer struct {
	DestinyUserInfo UserInfoCard `json:"destinyUserInfo"`
	CharacterClass  string       `json:"characterClass,omitempty"`
	LightLevel      int          `json:"lightLevel"`
}

// PostGameCarnageReportEntry is one participant's result.
type PostGameCarnageReportEntry struct {
	Player      PostGameCarnageReportPlayer     `json:"player"`
	CharacterID ID                              `json:"characterId"`
	Values      map[string]HistoricalStatsValue `json:"values,omitempty"`
}

// PostGameCarnageReport lists everyone who took part in an activity instance.
type PostGameCarnageReport struct {
	Period          time.Time                    `json:"period"`
	ActivityDetails ActivityDetails              `json:"activityDetails"`
	Entries         []PostGameCarnageReportEntry `json:"entries"`
}
