package roster

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/uayebforever/clan-stats/internal/core"
	"github.com/uayebforever/clan-stats/internal/model"
)

// DiscordMapping is one row of the clan list: a Bungie name, the matching
// Discord name and, for people who have gone, the date they left.
type DiscordMapping struct {
	BungieName  string
	DiscordName string
	LeaveDate   *time.Time
	Comment     string
}

// Active reports whether the person is still around.
func (m DiscordMapping) Active() bool {
	return m.LeaveDate == nil
}

// ParseDiscordMapping reads rows of "bungie,discord[,leave date[,comment]]".
// Lines starting with # are comments; blank lines are ignored.
func ParseDiscordMapping(r io.Reader) ([]DiscordMapping, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	var out []DiscordMapping
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read discord mapping: %w", err)
		}
		line, _ := reader.FieldPos(0)
		if len(row) < 2 {
			return nil, fmt.Errorf("discord mapping line %d: want at least 2 fields, got %d", line, len(row))
		}

		m := DiscordMapping{
			BungieName:  strings.TrimSpace(row[0]),
			DiscordName: strings.TrimSpace(row[1]),
		}
		if len(row) > 2 && strings.TrimSpace(row[2]) != "" {
			left, err := core.ParseDate(strings.TrimSpace(row[2]))
			if err != nil {
				return nil, fmt.Errorf("discord mapping line %d: %w", line, err)
			}
			m.LeaveDate = &left
		}
		if len(row) > 3 {
			m.Comment = strings.TrimSpace(row[3])
		}
		out = append(out, m)
	}
}

// LoadDiscordMapping reads a mapping file.
func LoadDiscordMapping(path string) ([]DiscordMapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseDiscordMapping(f)
}

// DiscordNames maps the lower-cased Bungie names of active rows to Discord
// names.
func DiscordNames(mappings []DiscordMapping) map[string]string {
	names := make(map[string]string, len(mappings))
	for _, m := range mappings {
		if !m.Active() {
			continue
		}
		names[strings.ToLower(m.BungieName)] = m.DiscordName
	}
	return names
}

// LookupDiscord finds the Discord name of a player in a DiscordNames map,
// trying "Name#1234" first and then "Name".
func LookupDiscord(names map[string]string, playerName string) (string, bool) {
	key := strings.ToLower(playerName)
	if d, ok := names[key]; ok {
		return d, true
	}
	if base, _, found := strings.Cut(key, "#"); found {
		d, ok := names[base]
		return d, ok
	}
	return "", false
}

// ImportResult summarises an ImportDiscordMapping run.
type ImportResult struct {
	Added     int
	Linked    int
	Departed  int
	Unmatched []DiscordMapping
}

// ImportDiscordMapping brings the roster in line with the clan list:
// unknown clan members are added, Discord names are linked and people with a
// leave date are marked as having left.
func (s *Store) ImportDiscordMapping(ctx context.Context, mappings []DiscordMapping, clan model.Clan) (ImportResult, error) {
	var res ImportResult

	byName := make(map[string]model.GroupMember, len(clan.Members))
	for _, p := range clan.Members {
		key := strings.ToLower(p.Name)
		byName[key] = p
		if base, _, found := strings.Cut(key, "#"); found {
			if _, taken := byName[base]; !taken {
				byName[base] = p
			}
		}
	}

	for _, m := range mappings {
		player, inClan := byName[strings.ToLower(m.BungieName)]
		if !inClan {
			if m.Active() {
				res.Unmatched = append(res.Unmatched, m)
			}
			continue
		}

		member, err := s.MemberByBungieID(ctx, player.Membership.ID)
		switch {
		case errors.Is(err, ErrMemberNotFound):
			member, err = s.AddMemberForPlayer(ctx, player, m.DiscordName)
			if err != nil {
				return res, err
			}
			res.Added++
		case err != nil:
			return res, err
		case m.DiscordName != "" && member.DiscordName() != m.DiscordName:
			if err := s.LinkDiscord(ctx, member.ID, m.DiscordName); err != nil {
				return res, err
			}
			res.Linked++
		}

		if !m.Active() && member.IsCurrent() {
			if err := s.SetStatus(ctx, member.ID, StatusLeft, *m.LeaveDate, m.Comment); err != nil {
				return res, err
			}
			res.Departed++
		}
	}

	s.log.WithFields(logrus.Fields{
		"added":     res.Added,
		"linked":    res.Linked,
		"departed":  res.Departed,
		"unmatched": len(res.Unmatched),
	}).Info("discord mapping imported")
	return res, nil
}
