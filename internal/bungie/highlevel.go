package bungie

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/uayebforever/clan-stats/internal/core"
	"github.com/uayebforever/clan-stats/internal/model"
)

// GroupTypeClan is the group type of clans.
const GroupTypeClan = 1

// API provides a typed convenience layer over the platform REST API.
type API struct {
	transport Transport
	// PageSize is the number of activities requested per history page.
	PageSize int
	log      *logrus.Entry
}

// NewAPI creates a new high-level API client.
func NewAPI(transport Transport) *API {
	return &API{
		transport: transport,
		PageSize:  core.ActivityPageSize,
		log:       logrus.WithField("component", "bungie"),
	}
}

// Transport returns the underlying transport.
func (a *API) Transport() Transport {
	return a.transport
}

func call[T any](ctx context.Context, a *API, req Request) (*T, error) {
	raw, err := a.transport.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	out := new(T)
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", req.Endpoint, err)
	}
	return out, nil
}

// GetProfile fetches a player's profile with their characters.
func (a *API) GetProfile(ctx context.Context, m model.Membership) (*ProfileResponse, error) {
	return call[ProfileResponse](ctx, a, Request{
		Endpoint: fmt.Sprintf("Destiny2/%d/Profile/%d/", m.Type, m.ID),
		Params:   map[string]string{"components": "100,200"},
	})
}

// GetLinkedProfiles fetches every membership linked to m.
func (a *API) GetLinkedProfiles(ctx context.Context, m model.Membership) (*LinkedProfilesResponse, error) {
	return call[LinkedProfilesResponse](ctx, a, Request{
		Endpoint: fmt.Sprintf("Destiny2/%d/Profile/%d/LinkedProfiles/", m.Type, m.ID),
	})
}

// GetGroup fetches a group's details.
func (a *API) GetGroup(ctx context.Context, groupID int64) (*GroupResponse, error) {
	return call[GroupResponse](ctx, a, Request{Endpoint: fmt.Sprintf("GroupV2/%d/", groupID)})
}

// GetMembersOfGroup fetches every member of a group, following pages.
func (a *API) GetMembersOfGroup(ctx context.Context, groupID int64) ([]GroupMember, error) {
	var members []GroupMember
	for page := 1; ; page++ {
		res, err := call[SearchResultOfGroupMember](ctx, a, Request{
			Endpoint: fmt.Sprintf("GroupV2/%d/Members/", groupID),
			Params:   map[string]string{"currentpage": strconv.Itoa(page)},
		})
		if err != nil {
			return nil, err
		}
		members = append(members, res.Results...)
		if !res.HasMore || len(res.Results) == 0 {
			return members, nil
		}
	}
}

// GetGroupsForMember lists the clans of a member.
func (a *API) GetGroupsForMember(ctx context.Context, m model.Membership) (*GroupMembershipSearchResponse, error) {
	return call[GroupMembershipSearchResponse](ctx, a, Request{
		Endpoint: fmt.Sprintf("GroupV2/User/%d/%d/0/%d/", m.Type, m.ID, GroupTypeClan),
	})
}

// SearchByGlobalName finds players whose global name starts with prefix.
// Pages are numbered from zero.
func (a *API) SearchByGlobalName(ctx context.Context, prefix string, page int) (*UserSearchResponse, error) {
	return call[UserSearchResponse](ctx, a, Request{
		Method:   http.MethodPost,
		Endpoint: fmt.Sprintf("User/Search/GlobalName/%d/", page),
		Body:     map[string]string{"displayNamePrefix": prefix},
	})
}

// GetActivityHistory fetches one page of a character's activity history,
// newest first.
func (a *API) GetActivityHistory(ctx context.Context, m model.Membership, characterID int64, mode model.GameMode, page, count int) (*ActivityHistoryResponse, error) {
	return call[ActivityHistoryResponse](ctx, a, Request{
		Endpoint: fmt.Sprintf("Destiny2/%d/Account/%d/Character/%d/Stats/Activities/", m.Type, m.ID, characterID),
		Params: map[string]string{
			"mode":  strconv.Itoa(int(mode)),
			"page":  strconv.Itoa(page),
			"count": strconv.Itoa(count),
		},
	})
}

// GetPostGameCarnageReport fetches the report of one activity instance.
func (a *API) GetPostGameCarnageReport(ctx context.Context, instanceID int64) (*PostGameCarnageReport, error) {
	return call[PostGameCarnageReport](ctx, a, Request{
		Endpoint: fmt.Sprintf("Destiny2/Stats/PostGameCarnageReport/%d/", instanceID),
	})
}

// ActivityHistoryBetween returns the activities of a character that started
// in [start, end), newest first. History is walked a page at a time and
// paging stops as soon as a page reaches back past start or comes up short.
func (a *API) ActivityHistoryBetween(ctx context.Context, m model.Membership, characterID int64, mode model.GameMode, start, end time.Time) ([]HistoricalStatsPeriodGroup, error) {
	pageSize := a.PageSize
	if pageSize <= 0 {
		pageSize = core.ActivityPageSize
	}

	var out []HistoricalStatsPeriodGroup
	pages := 0
	defer func() {
		a.log.WithFields(logrus.Fields{
			"membership": m.String(),
			"character":  characterID,
			"pages":      pages,
			"activities": len(out),
		}).Debug("activity history fetched")
	}()

	for page := 0; ; page++ {
		res, err := a.GetActivityHistory(ctx, m, characterID, mode, page, pageSize)
		if err != nil {
			return nil, err
		}
		pages++

		reachedStart := false
		for _, g := range res.Activities {
			if !g.Period.Before(end) {
				continue
			}
			if g.Period.Before(start) {
				reachedStart = true
				break
			}
			out = append(out, g)
		}
		if reachedStart || len(res.Activities) < pageSize {
			return out, nil
		}
	}
}
