package bungie

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// InMemoryTransport is a lightweight simulation of the platform API.
// It implements the routes used by API, sufficient for unit testing the
// retrieval and cache layers without a network.
type InMemoryTransport struct {
	mu          sync.Mutex
	profiles    map[ID]ProfileResponse
	linked      map[ID]LinkedProfilesResponse
	history     map[ID][]HistoricalStatsPeriodGroup
	groups      map[ID]GroupV2
	members     map[ID][]GroupMember
	memberOf    map[ID][]ID
	reports     map[ID]PostGameCarnageReport
	private     map[ID]bool
	requestLog  []Request
	memberPage  int

	// Fail, when set, is consulted before every request; a non-nil result is
	// returned instead of the simulated answer.
	Fail func(Request) error
}

// NewInMemoryTransport creates a new in-memory transport for testing.
func NewInMemoryTransport() *InMemoryTransport {
	t := &InMemoryTransport{memberPage: 100}
	t.Reset()
	return t
}

// SeedPlayer adds a player and their characters.
func (t *InMemoryTransport) SeedPlayer(card UserInfoCard, lastPlayed time.Time, characters ...CharacterComponent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	profile := ProfileComponent{UserInfo: card, DateLastPlayed: lastPlayed}
	chars := make(map[string]CharacterComponent, len(characters))
	for _, c := range characters {
		c.MembershipID = card.MembershipID
		c.MembershipType = card.MembershipType
		chars[strconv.FormatInt(int64(c.CharacterID), 10)] = c
		profile.CharacterIDs = append(profile.CharacterIDs, c.CharacterID)
	}
	t.profiles[card.MembershipID] = ProfileResponse{
		Profile:    SingleComponentResponse[ProfileComponent]{Data: &profile, Privacy: PrivacyPublic},
		Characters: DictionaryComponentResponse[CharacterComponent]{Data: chars, Privacy: PrivacyPublic},
	}
	t.linked[card.MembershipID] = LinkedProfilesResponse{
		Profiles: []ProfileUserInfoCard{{
			UserInfoCard:       card,
			DateLastPlayed:     lastPlayed,
			IsCrossSavePrimary: card.CrossSaveOverride == card.MembershipType,
		}},
		BnetMembership: UserInfoCard{MembershipID: card.MembershipID + 1, MembershipType: 254, DisplayName: card.DisplayName},
	}
}

// SeedActivities adds activities to a character's history.
func (t *InMemoryTransport) SeedActivities(characterID ID, activities ...HistoricalStatsPeriodGroup) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := append(t.history[characterID], activities...)
	slices.SortStableFunc(h, func(a, b HistoricalStatsPeriodGroup) int {
		return b.Period.Compare(a.Period)
	})
	t.history[characterID] = h
}

// SeedClan adds a clan and its members.
func (t *InMemoryTransport) SeedClan(group GroupV2, members ...GroupMember) {
	t.mu.Lock()
	defer t.mu.Unlock()

	group.GroupType = GroupTypeClan
	group.MemberCount = len(members)
	t.groups[group.GroupID] = group
	for i := range members {
		members[i].GroupID = group.GroupID
		id := members[i].DestinyUserInfo.MembershipID
		t.memberOf[id] = append(t.memberOf[id], group.GroupID)
	}
	t.members[group.GroupID] = append(t.members[group.GroupID], members...)
}

// SeedReport adds a post game carnage report.
func (t *InMemoryTransport) SeedReport(report PostGameCarnageReport) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reports[report.ActivityDetails.InstanceID] = report
}

// SetPrivate hides a player's characters and history behind a privacy error.
func (t *InMemoryTransport) SetPrivate(membershipID ID, private bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.private[membershipID] = private
}

// SetMemberPageSize changes how many members one listing page holds.
func (t *InMemoryTransport) SetMemberPageSize(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.memberPage = n
}

// Requests returns a copy of every request made so far.
func (t *InMemoryTransport) Requests() []Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.requestLog)
}

// RequestsMade returns the number of requests made to this transport.
func (t *InMemoryTransport) RequestsMade() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requestLog)
}

// RequestsTo counts requests whose endpoint contains fragment.
func (t *InMemoryTransport) RequestsTo(fragment string) int {
	n := 0
	for _, r := range t.Requests() {
		if strings.Contains(r.Endpoint, fragment) {
			n++
		}
	}
	return n
}

// Reset clears all seeded data and recorded requests.
func (t *InMemoryTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.profiles = make(map[ID]ProfileResponse)
	t.linked = make(map[ID]LinkedProfilesResponse)
	t.history = make(map[ID][]HistoricalStatsPeriodGroup)
	t.groups = make(map[ID]GroupV2)
	t.members = make(map[ID][]GroupMember)
	t.memberOf = make(map[ID][]ID)
	t.reports = make(map[ID]PostGameCarnageReport)
	t.private = make(map[ID]bool)
	t.requestLog = nil
}

// Do simulates a platform request.
func (t *InMemoryTransport) Do(ctx context.Context, req Request) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	req.Params = maps.Clone(req.Params)
	t.requestLog = append(t.requestLog, req)
	fail := t.Fail
	t.mu.Unlock()

	if fail != nil {
		if err := fail(req); err != nil {
			return nil, err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	result, err := t.route(req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

func (t *InMemoryTransport) route(req Request) (any, error) {
	parts := strings.Split(strings.Trim(req.Endpoint, "/"), "/")
	switch {
	case match(parts, "Destiny2", "*", "Profile", "*"):
		return t.profile(parseID(parts[3]))
	case match(parts, "Destiny2", "*", "Profile", "*", "LinkedProfiles"):
		linked, ok := t.linked[parseID(parts[3])]
		if !ok {
			return nil, notFound(CodeDestinyAccountNotFound, "DestinyAccountNotFound")
		}
		return linked, nil
	case match(parts, "Destiny2", "*", "Account", "*", "Character", "*", "Stats", "Activities"):
		return t.activityHistory(parseID(parts[3]), parseID(parts[5]), req.Params)
	case match(parts, "Destiny2", "Stats", "PostGameCarnageReport", "*"):
		report, ok := t.reports[parseID(parts[3])]
		if !ok {
			return nil, notFound(CodeDestinyAccountNotFound, "DestinyPGCRNotFound")
		}
		return report, nil
	case match(parts, "GroupV2", "User", "*", "*", "*", "*"):
		var res GroupMembershipSearchResponse
		id := parseID(parts[3])
		for _, gid := range t.memberOf[id] {
			for _, m := range t.members[gid] {
				if m.DestinyUserInfo.MembershipID == id {
					res.Results = append(res.Results, GroupMembership{Member: m, Group: t.groups[gid]})
				}
			}
		}
		res.TotalResults = len(res.Results)
		return res, nil
	case match(parts, "GroupV2", "*", "Members"):
		return t.groupMembers(parseID(parts[1]), req.Params)
	case match(parts, "GroupV2", "*"):
		group, ok := t.groups[parseID(parts[1])]
		if !ok {
			return nil, notFound(CodeGroupNotFound, "GroupNotFound")
		}
		return GroupResponse{Detail: group}, nil
	case match(parts, "User", "Search", "GlobalName", "*"):
		if req.Method != http.MethodPost {
			return nil, &APIError{StatusCode: http.StatusMethodNotAllowed, Message: "POST required"}
		}
		return t.search(req.Body), nil
	}
	return nil, &APIError{StatusCode: http.StatusNotFound, Message: fmt.Sprintf("no route for %s", req.Endpoint)}
}

func (t *InMemoryTransport) profile(id ID) (any, error) {
	p, ok := t.profiles[id]
	if !ok {
		return nil, notFound(CodeDestinyAccountNotFound, "DestinyAccountNotFound")
	}
	if t.private[id] {
		p.Characters = DictionaryComponentResponse[CharacterComponent]{Privacy: PrivacyPrivate}
	}
	return p, nil
}

func (t *InMemoryTransport) activityHistory(membershipID, characterID ID, params map[string]string) (any, error) {
	if t.private[membershipID] {
		return nil, &APIError{
			StatusCode:  http.StatusOK,
			ErrorCode:   CodeDestinyPrivacyRestriction,
			ErrorStatus: "DestinyPrivacyRestriction",
			Message:     "This user has chosen to keep their activity history private.",
		}
	}
	mode, _ := strconv.Atoi(params["mode"])
	page, _ := strconv.Atoi(params["page"])
	count, err := strconv.Atoi(params["count"])
	if err != nil || count <= 0 {
		count = 25
	}

	var matching []HistoricalStatsPeriodGroup
	for _, g := range t.history[characterID] {
		if mode == 0 || g.ActivityDetails.Mode == mode || slices.Contains(g.ActivityDetails.Modes, mode) {
			matching = append(matching, g)
		}
	}

	start := page * count
	if start >= len(matching) {
		return ActivityHistoryResponse{}, nil
	}
	end := min(start+count, len(matching))
	return ActivityHistoryResponse{Activities: matching[start:end]}, nil
}

func (t *InMemoryTransport) groupMembers(groupID ID, params map[string]string) (any, error) {
	if _, ok := t.groups[groupID]; !ok {
		return nil, notFound(CodeGroupNotFound, "GroupNotFound")
	}
	all := t.members[groupID]
	page, err := strconv.Atoi(params["currentpage"])
	if err != nil || page < 1 {
		page = 1
	}
	start := (page - 1) * t.memberPage
	if start >= len(all) {
		return SearchResultOfGroupMember{TotalResults: len(all)}, nil
	}
	end := min(start+t.memberPage, len(all))
	return SearchResultOfGroupMember{
		Results:      all[start:end],
		TotalResults: len(all),
		HasMore:      end < len(all),
	}, nil
}

func (t *InMemoryTransport) search(body any) UserSearchResponse {
	var prefix string
	if b, ok := body.(map[string]string); ok {
		prefix = strings.ToLower(b["displayNamePrefix"])
	}
	byBnet := map[ID]*UserSearchResponseDetail{}
	var order []ID
	for _, id := range slices.Sorted(maps.Keys(t.linked)) {
		linked := t.linked[id]
		for _, p := range linked.Profiles {
			name := p.BungieGlobalDisplayName
			if name == "" {
				name = p.DisplayName
			}
			if prefix == "" || !strings.HasPrefix(strings.ToLower(name), prefix) {
				continue
			}
			bnet := linked.BnetMembership.MembershipID
			d, ok := byBnet[bnet]
			if !ok {
				d = &UserSearchResponseDetail{
					BungieGlobalDisplayName:     name,
					BungieGlobalDisplayNameCode: p.BungieGlobalDisplayNameCode,
					BungieNetMembershipID:       bnet,
				}
				byBnet[bnet] = d
				order = append(order, bnet)
			}
			d.DestinyMemberships = append(d.DestinyMemberships, p.UserInfoCard)
		}
	}
	res := UserSearchResponse{}
	for _, id := range order {
		res.SearchResults = append(res.SearchResults, *byBnet[id])
	}
	return res
}

func match(parts []string, pattern ...string) bool {
	if len(parts) != len(pattern) {
		return false
	}
	for i, p := range pattern {
		if p != "*" && p != parts[i] {
			return false
		}
	}
	return true
}

func parseID(s string) ID {
	n, _ := strconv.ParseInt(s, 10, 64)
	return ID(n)
}

func notFound(code PlatformErrorCode, status string) *APIError {
	return &APIError{StatusCode: http.StatusOK, ErrorCode: code, ErrorStatus: status, Message: "not found"}
}
