// Package model holds the domain types shared by the retrieval, reporting
// and roster layers. They are independent of the wire format of the
// upstream platform API.
package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidMembership is returned when a membership string cannot be parsed.
var ErrInvalidMembership = errors.New("invalid membership")

// MembershipType is the platform a membership belongs to.
type MembershipType int

const (
	MembershipNone     MembershipType = 0
	MembershipXbox     MembershipType = 1
	MembershipPSN      MembershipType = 2
	MembershipSteam    MembershipType = 3
	MembershipBlizzard MembershipType = 4
	MembershipStadia   MembershipType = 5
	MembershipEpic     MembershipType = 6
	MembershipBungie   MembershipType = 254
	MembershipAll      MembershipType = -1
)

var membershipTypeNames = map[MembershipType]string{
	MembershipNone:     "none",
	MembershipXbox:     "xbox",
	MembershipPSN:      "psn",
	MembershipSteam:    "steam",
	MembershipBlizzard: "blizzard",
	MembershipStadia:   "stadia",
	MembershipEpic:     "epic",
	MembershipBungie:   "bungie",
	MembershipAll:      "all",
}

func (t MembershipType) String() string {
	if name, ok := membershipTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("membership(%d)", int(t))
}

// Membership identifies one platform account.
type Membership struct {
	ID   int64          `json:"id"`
	Type MembershipType `json:"type"`
}

// String renders the membership as "type:id", e.g. "3:4611686018467284386".
func (m Membership) String() string {
	return fmt.Sprintf("%d:%d", int(m.Type), m.ID)
}

// IsZero reports whether m is the zero membership.
func (m Membership) IsZero() bool {
	return m.ID == 0 && m.Type == MembershipNone
}

// ParseMembership parses the "type:id" form produced by Membership.String.
func ParseMembership(s string) (Membership, error) {
	typ, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Membership{}, fmt.Errorf("%w: %q (want type:id)", ErrInvalidMembership, s)
	}
	t, err := strconv.Atoi(typ)
	if err != nil {
		return Membership{}, fmt.Errorf("%w: %q: bad type: %v", ErrInvalidMembership, s, err)
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return Membership{}, fmt.Errorf("%w: %q: bad id: %v", ErrInvalidMembership, s, err)
	}
	return Membership{ID: n, Type: MembershipType(t)}, nil
}

// CrossSaveStatus describes how a membership takes part in cross save.
type CrossSaveStatus string

const (
	CrossSavePrimary    CrossSaveStatus = "primary"
	CrossSaveOverridden CrossSaveStatus = "overridden"
	CrossSaveNone       CrossSaveStatus = "none"
)

// Letter returns the one letter abbreviation used in tables.
func (s CrossSaveStatus) Letter() string {
	switch s {
	case CrossSavePrimary:
		return "P"
	case CrossSaveOverridden:
		return "O"
	default:
		return "N"
	}
}

// DetailedMembership is a membership with its platform display name.
type DetailedMembership struct {
	Membership
	PlatformDisplayName string          `json:"platform_display_name"`
	CrossSave           CrossSaveStatus `json:"cross_save"`
}
