package roster

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/uayebforever/clan-stats/internal/core"
	"github.com/uayebforever/clan-stats/internal/model"
)

// ErrMemberNotFound is returned when no roster member matches.
var ErrMemberNotFound = errors.New("member not found")

// Store is the roster of one clan.
type Store struct {
	db  *gorm.DB
	log *logrus.Entry
}

// Path returns the roster file of a clan inside dir.
func Path(dir string, clanID int64) string {
	return filepath.Join(dir, strconv.FormatInt(clanID, 10)+".sqlite")
}

// Open opens (creating if needed) the roster database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := core.OpenSQLite(path, false)
	if err != nil {
		return nil, err
	}
	s, err := New(ctx, db)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	s.log = s.log.WithField("path", path)
	return s, nil
}

// New creates a Store over db and migrates its schema.
func New(ctx context.Context, db *gorm.DB) (*Store, error) {
	if err := db.WithContext(ctx).AutoMigrate(&Member{}, &Account{}, &MembershipStatus{}); err != nil {
		return nil, fmt.Errorf("migrate roster: %w", err)
	}
	return &Store{db: db, log: logrus.WithField("component", "roster")}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Members returns every member with their accounts and history.
func (s *Store) Members(ctx context.Context) ([]Member, error) {
	var members []Member
	err := s.db.WithContext(ctx).
		Preload("Accounts").
		Preload("Statuses").
		Order("id").
		Find(&members).Error
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

// CurrentMembers returns members whose latest status is an active one.
func (s *Store) CurrentMembers(ctx context.Context) ([]Member, error) {
	return s.filter(ctx, true)
}

// PastMembers returns members who left, were kicked or were banned.
func (s *Store) PastMembers(ctx context.Context) ([]Member, error) {
	return s.filter(ctx, false)
}

func (s *Store) filter(ctx context.Context, current bool) ([]Member, error) {
	all, err := s.Members(ctx)
	if err != nil {
		return nil, err
	}
	var out []Member
	for _, m := range all {
		if m.IsCurrent() == current {
			out = append(out, m)
		}
	}
	return out, nil
}

// AddMemberForPlayer records a clan member seen for the first time, with
// status new from their join date.
func (s *Store) AddMemberForPlayer(ctx context.Context, p model.GroupMember, discord string) (*Member, error) {
	joined := p.JoinDate
	if joined.IsZero() {
		joined = time.Now().UTC()
	}
	return s.AddMember(ctx, p.MinimalPlayer, discord, joined)
}

// AddMember records a new member with a Bungie account and, when discord is
// not empty, a Discord account.
func (s *Store) AddMember(ctx context.Context, p model.MinimalPlayer, discord string, joined time.Time) (*Member, error) {
	joined = core.DateOnly(joined)
	member := Member{
		FirstJoin: joined,
		Statuses:  []MembershipStatus{{Status: StatusNew, Conferred: joined}},
		Accounts: []Account{{
			Kind:       AccountBungie,
			Name:       p.Name,
			Identifier: strconv.FormatInt(p.Membership.ID, 10),
			Active:     true,
		}},
	}
	if discord != "" {
		member.Accounts = append(member.Accounts, Account{
			Kind:       AccountDiscord,
			Name:       discord,
			Identifier: discord,
			Active:     true,
		})
	}
	if err := s.db.WithContext(ctx).Create(&member).Error; err != nil {
		return nil, fmt.Errorf("add member %s: %w", p, err)
	}
	s.log.WithFields(logrus.Fields{"member": member.ID, "name": p.Name}).Info("member added")
	return &member, nil
}

// MemberByBungieID finds the member owning an active Bungie account.
func (s *Store) MemberByBungieID(ctx context.Context, membershipID int64) (*Member, error) {
	var account Account
	err := s.db.WithContext(ctx).
		Where("account_type = ? AND account_identifier = ? AND is_active = ?", AccountBungie, strconv.FormatInt(membershipID, 10), true).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: bungie id %d", ErrMemberNotFound, membershipID)
	}
	if err != nil {
		return nil, err
	}
	return s.member(ctx, account.MemberID)
}

func (s *Store) member(ctx context.Context, id uint) (*Member, error) {
	var m Member
	err := s.db.WithContext(ctx).Preload("Accounts").Preload("Statuses").First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrMemberNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// SetStatus appends a status to a member's history.
func (s *Store) SetStatus(ctx context.Context, memberID uint, status Status, at time.Time, notes string) error {
	if _, err := s.member(ctx, memberID); err != nil {
		return err
	}
	entry := MembershipStatus{MemberID: memberID, Status: status, Conferred: at.UTC(), Notes: notes}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("set status of member %d: %w", memberID, err)
	}
	s.log.WithFields(logrus.Fields{"member": memberID, "status": status}).Info("status changed")
	return nil
}

// LinkDiscord makes discord the member's only active Discord account.
func (s *Store) LinkDiscord(ctx context.Context, memberID uint, discord string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m Member
		if err := tx.First(&m, memberID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: id %d", ErrMemberNotFound, memberID)
			}
			return err
		}
		err := tx.Model(&Account{}).
			Where("member_id = ? AND account_type = ?", memberID, AccountDiscord).
			Update("is_active", false).Error
		if err != nil {
			return err
		}

		var existing Account
		err = tx.Where("member_id = ? AND account_type = ? AND account_identifier = ?", memberID, AccountDiscord, discord).
			First(&existing).Error
		switch {
		case err == nil:
			return tx.Model(&existing).Update("is_active", true).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&Account{MemberID: memberID, Kind: AccountDiscord, Name: discord, Identifier: discord, Active: true}).Error
		default:
			return err
		}
	})
}

// KnownPlayer pairs a clan member with their roster entry.
type KnownPlayer struct {
	Player model.GroupMember
	Member Member
}

// FindUnknownPlayers returns the players with no roster entry.
func (s *Store) FindUnknownPlayers(ctx context.Context, players []model.GroupMember) ([]model.GroupMember, error) {
	known, err := s.byBungieID(ctx)
	if err != nil {
		return nil, err
	}
	var unknown []model.GroupMember
	for _, p := range players {
		if _, ok := known[p.Membership.ID]; !ok {
			unknown = append(unknown, p)
		}
	}
	return unknown, nil
}

// FindKnownPlayers returns the players that have a roster entry.
func (s *Store) FindKnownPlayers(ctx context.Context, players []model.GroupMember) ([]KnownPlayer, error) {
	known, err := s.byBungieID(ctx)
	if err != nil {
		return nil, err
	}
	var out []KnownPlayer
	for _, p := range players {
		if m, ok := known[p.Membership.ID]; ok {
			out = append(out, KnownPlayer{Player: p, Member: m})
		}
	}
	return out, nil
}

func (s *Store) byBungieID(ctx context.Context) (map[int64]Member, error) {
	members, err := s.Members(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[int64]Member, len(members))
	for _, m := range members {
		for _, a := range m.ActiveAccounts(AccountBungie) {
			if id, err := strconv.ParseInt(a.Identifier, 10, 64); err == nil {
				known[id] = m
			}
		}
	}
	return known, nil
}
