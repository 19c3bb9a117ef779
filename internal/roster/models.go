// Package roster keeps the clan's own record of its members: when they
// joined, their rank history and their linked Bungie and Discord accounts.
// Each clan has its own SQLite file.
package roster

import (
	"slices"
	"strconv"
	"time"
)

// AccountKind says which service an account belongs to.
type AccountKind string

const (
	AccountBungie  AccountKind = "bungie_primary"
	AccountDiscord AccountKind = "discord"
)

// Status is a member's standing in the clan.
type Status string

const (
	StatusNew     Status = "new"
	StatusMember  Status = "member"
	StatusAdmin   Status = "admin"
	StatusFounder Status = "founder"
	StatusLeft    Status = "left"
	StatusKicked  Status = "kicked"
	StatusBanned  Status = "banned"
)

// Active reports whether the status makes someone a current member.
func (s Status) Active() bool {
	switch s {
	case StatusNew, StatusMember, StatusAdmin, StatusFounder:
		return true
	}
	return false
}

// Member is one person, however many accounts they use.
type Member struct {
	ID        uint               `gorm:"primaryKey;column:id"`
	FirstJoin time.Time          `gorm:"column:first_join"`
	Notes     string             `gorm:"column:notes;type:text"`
	Accounts  []Account          `gorm:"foreignKey:MemberID;constraint:OnDelete:CASCADE"`
	Statuses  []MembershipStatus `gorm:"foreignKey:MemberID;constraint:OnDelete:CASCADE"`
}

func (Member) TableName() string { return "member" }

// Account links a member to an identity on another service.
type Account struct {
	ID         uint        `gorm:"primaryKey;column:id"`
	MemberID   uint        `gorm:"column:member_id;not null;index"`
	Kind       AccountKind `gorm:"column:account_type;not null;index"`
	Name       string      `gorm:"column:name"`
	Identifier string      `gorm:"column:account_identifier;index"`
	Active     bool        `gorm:"column:is_active;not null"`
	Note       string      `gorm:"column:note;type:text"`
}

func (Account) TableName() string { return "account" }

// MembershipStatus is one entry of a member's rank history.
type MembershipStatus struct {
	ID        uint      `gorm:"primaryKey;column:id"`
	MemberID  uint      `gorm:"column:member_id;not null;index"`
	Status    Status    `gorm:"column:status;not null"`
	Conferred time.Time `gorm:"column:date_conferred;not null"`
	Notes     string    `gorm:"column:notes;type:text"`
}

func (MembershipStatus) TableName() string { return "membership_status" }

// CurrentStatus returns the most recently conferred status.
func (m Member) CurrentStatus() (MembershipStatus, bool) {
	if len(m.Statuses) == 0 {
		return MembershipStatus{}, false
	}
	return slices.MaxFunc(m.Statuses, func(a, b MembershipStatus) int {
		if c := a.Conferred.Compare(b.Conferred); c != 0 {
			return c
		}
		return int(a.ID) - int(b.ID)
	}), true
}

// IsCurrent reports whether the member is still in the clan.
func (m Member) IsCurrent() bool {
	s, ok := m.CurrentStatus()
	return ok && s.Status.Active()
}

// ActiveAccounts returns the member's active accounts of one kind.
func (m Member) ActiveAccounts(kind AccountKind) []Account {
	var out []Account
	for _, a := range m.Accounts {
		if a.Kind == kind && a.Active {
			out = append(out, a)
		}
	}
	return out
}

func (m Member) primary(kind AccountKind) (Account, bool) {
	accounts := m.ActiveAccounts(kind)
	if len(accounts) == 0 {
		return Account{}, false
	}
	return accounts[0], true
}

// BungieID returns the membership id of the primary Bungie account.
func (m Member) BungieID() (int64, bool) {
	a, ok := m.primary(AccountBungie)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(a.Identifier, 10, 64)
	return id, err == nil
}

// BungieName returns the name of the primary Bungie account.
func (m Member) BungieName() string {
	a, _ := m.primary(AccountBungie)
	return a.Name
}

// DiscordName returns the name of the primary Discord account.
func (m Member) DiscordName() string {
	a, _ := m.primary(AccountDiscord)
	return a.Name
}
