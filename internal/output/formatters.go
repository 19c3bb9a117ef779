// Package output renders reports for the terminal, as aligned tables or JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/uayebforever/clan-stats/internal/cache"
	"github.com/uayebforever/clan-stats/internal/core"
	"github.com/uayebforever/clan-stats/internal/model"
	"github.com/uayebforever/clan-stats/internal/report"
)

const day = 24 * time.Hour

// PrintJSON prints a single item as formatted JSON.
func PrintJSON(item interface{}) {
	if err := WriteJSON(os.Stdout, item); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
	}
}

// WriteJSON writes item to w as indented JSON.
func WriteJSON(w io.Writer, item interface{}) error {
	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// RelativeTime labels t relative to now in coarse buckets: Today, Yesterday,
// Past Week, then a humanized distance.
func RelativeTime(t, now time.Time) string {
	delta := t.Sub(now)
	switch {
	case delta > -day && delta < day:
		return "Today"
	case delta >= day && delta < 2*day:
		return "Tomorrow"
	case -delta >= day && -delta < 2*day:
		return "Yesterday"
	case delta >= 2*day && delta < 7*day:
		return "This Week"
	case -delta >= 2*day && -delta < 7*day:
		return "Past Week"
	default:
		return humanize.RelTime(t, now, "ago", "from now")
	}
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// WriteMemberActivity renders a member activity report.
func WriteMemberActivity(w io.Writer, rep *report.ClanActivity, now time.Time) error {
	fmt.Fprintf(w, "%s: %d members", rep.Name, len(rep.Members))
	if rep.RosterSize > 0 {
		fmt.Fprintf(w, "  Roster members: %d", rep.RosterSize)
	}
	fmt.Fprintf(w, "\nActivity since %s", core.FormatDate(rep.Since))
	if rep.Mode != model.GameModeNone {
		fmt.Fprintf(w, " (%s)", rep.Mode)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w)

	tw := newTable(w)
	fmt.Fprintln(tw, "#\tNAME\tMEMBERSHIP\tDISCORD\tLAST ACTIVE\tACTIVITIES\tLAST ONLINE")
	for i, row := range rep.Members {
		lastActive := "-"
		if t, ok := row.LastActive(); ok {
			lastActive = RelativeTime(t, now)
		}
		count := fmt.Sprint(row.Activities)
		if row.Private {
			lastActive, count = "private", "-"
		}
		lastOnline := "-"
		if !row.Player.LastOnline.IsZero() {
			lastOnline = humanize.RelTime(row.Player.LastOnline, now, "ago", "from now")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i+1, row.Player.Name, row.Player.Membership, orDash(row.DiscordName), lastActive, count, lastOnline)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(rep.Missing) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Roster members not found in the clan:")
		for _, m := range rep.Missing {
			fmt.Fprintf(w, "   %s / @%s\n", m.BungieName, orDash(m.DiscordName))
		}
	}
	if len(rep.Unknown) > 0 {
		fmt.Fprintf(w, "\nClan members missing from the roster: (%d)\n", len(rep.Unknown))
		for _, p := range rep.Unknown {
			fmt.Fprintf(w, "   %s (%s) Joined %s\n", p.Name, p.Membership, p.JoinDate.Format("2 January 2006"))
		}
	}
	return nil
}

// WritePlayerReport renders a player activity report.
func WritePlayerReport(w io.Writer, rep *report.PlayerReport, now time.Time) error {
	fmt.Fprintf(w, "Player activity report for %s (%s)\n", rep.Player.Name, rep.Player.Membership)
	if rep.Clan != nil {
		fmt.Fprintf(w, "Clan: %s\n", rep.Clan.Name)
	}
	fmt.Fprintf(w, "%d activities since %s, %s played\n\n",
		len(rep.Activities), core.FormatDate(rep.Since), FormatDuration(rep.TimePlayed))

	tw := newTable(w)
	fmt.Fprintln(tw, "MODE\tCOUNT\tTIME")
	for _, s := range rep.ByMode {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", s.Mode, s.Count, FormatDuration(s.TimePlayed))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)

	tw = newTable(w)
	fmt.Fprintln(tw, "WHEN\tSTARTED\tMODE\tLENGTH\tCLAN\tTEAMMATES")
	for _, a := range rep.Activities {
		clan := ""
		if a.WithClanmates {
			clan = "*"
		}
		names := make([]string, 0, len(a.Teammates))
		for _, p := range a.Teammates {
			names = append(names, p.Name)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			RelativeTime(a.Period.Start(), now), core.FormatDatetime(a.Period.Start()), a.Mode,
			FormatDuration(a.Period.Length()), clan, strings.Join(names, ", "))
	}
	return tw.Flush()
}

// WritePlayers renders player search results.
func WritePlayers(w io.Writer, players []model.Player, now time.Time) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "NAME\tMEMBERSHIP\tPLATFORMS\tLAST SEEN")
	for _, p := range players {
		platforms := make([]string, 0, len(p.AllMemberships))
		for _, m := range p.AllMemberships {
			platforms = append(platforms, m.Type.String()+"("+m.CrossSave.Letter()+")")
		}
		seen := "-"
		if !p.LastSeen.IsZero() {
			seen = RelativeTime(p.LastSeen, now)
		}
		if p.IsPrivate {
			seen += " (private)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, p.Membership, strings.Join(platforms, " "), seen)
	}
	return tw.Flush()
}

// WriteCacheStatus renders the keys held by a cache backend.
func WriteCacheStatus(w io.Writer, statuses []cache.KeyStatus, now time.Time) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "KEY\tRECORDS\tCOVERED\tSPANS\tUPDATED\tFORBIDDEN")
	for _, s := range statuses {
		spans := make([]string, 0, len(s.Coverage))
		for _, p := range s.Coverage {
			spans = append(spans, p.String())
		}
		updated := "-"
		if !s.UpdatedAt.IsZero() {
			updated = humanize.RelTime(s.UpdatedAt, now, "ago", "from now")
		}
		forbidden := ""
		if s.ForbiddenAt != nil {
			forbidden = core.FormatDatetime(*s.ForbiddenAt)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.Key, humanize.Comma(int64(s.Records)), FormatDuration(s.Covered), strings.Join(spans, " "), updated, forbidden)
	}
	return tw.Flush()
}

// weekdayTime is how fireteam and event times are shown.
const weekdayTime = "Mon 2 Jan 15:04"

func activityLabel(a model.Activity) string {
	return fmt.Sprintf("%s #%d", a.Mode, a.InstanceID)
}

// WriteClanFireteams renders a clan fireteam report.
func WriteClanFireteams(w io.Writer, rep *report.ClanFireteamReport) error {
	fmt.Fprintf(w, "Clan fireteam report for %s\n", rep.Name)
	fmt.Fprintf(w, "Activity since %s, at least %d clan members\n\n", core.FormatDate(rep.Since), rep.MinClanmates)

	fmt.Fprintf(w, "%d fireteams found:\n", len(rep.Fireteams))
	tw := newTable(w)
	for _, f := range rep.Fireteams {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", activityLabel(f.Activity), f.Start().Format(weekdayTime), strings.Join(f.Members, ", "))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	writeNameList(w, fmt.Sprintf("%d members played in clan fireteams:", len(rep.Participants)), rep.Participants)
	writeNameList(w, fmt.Sprintf("%d active members who have not joined a clan fireteam:", len(rep.Solo)), rep.Solo)
	writeNameList(w, fmt.Sprintf("%d members who were not active:", len(rep.Inactive)), rep.Inactive)
	if len(rep.Private) > 0 {
		writeNameList(w, fmt.Sprintf("%d members with private history:", len(rep.Private)), rep.Private)
	}
	return nil
}

// WriteClanEvents renders a clan event report.
func WriteClanEvents(w io.Writer, rep *report.ClanEventReport) error {
	fmt.Fprintf(w, "Clan events for %s since %s\n", rep.Name, core.FormatDate(rep.Since))
	for _, e := range rep.Events {
		fmt.Fprintf(w, "\nEvent %s to %s (%s):\n", e.Start().Format(weekdayTime), e.End().Format("15:04"), FormatDuration(e.Length()))
		fmt.Fprintln(w, "  including:")
		for _, a := range e.Highlights() {
			fmt.Fprintf(w, "    %s   (%s)\n", activityLabel(a), FormatDuration(a.Period.Length()))
		}
		fmt.Fprintf(w, "  participants: %s\n", strings.Join(e.Participants(), ", "))
	}
	fmt.Fprintf(w, "\nEvents: %d\n", len(rep.Events))

	names := make([]string, 0, len(rep.Attendance))
	for _, a := range rep.Attendance {
		names = append(names, fmt.Sprintf("%s (%d)", a.Name, a.Events))
	}
	writeNameList(w, "Participants in any event:", names)
	return nil
}

// WriteRaidSummary renders raid clears per member.
func WriteRaidSummary(w io.Writer, rep *report.RaidSummary, now time.Time) error {
	fmt.Fprintf(w, "%s: raid clears since %s\n\n", rep.Name, core.FormatDate(rep.Since))
	tw := newTable(w)
	fmt.Fprintln(tw, "NAME\tDISCORD\tCLEARS\tATTEMPTS\tRAIDS\tLAST CLEAR")
	for _, row := range rep.Rows {
		if row.Private {
			fmt.Fprintf(tw, "%s\t%s\t-\t-\t-\tprivate\n", row.Player.Name, orDash(row.DiscordName))
			continue
		}
		last := "-"
		if row.LastClear != nil {
			last = RelativeTime(*row.LastClear, now)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
			row.Player.Name, orDash(row.DiscordName), row.Clears, row.Attempts, len(row.ClearsByActivity), last)
	}
	return tw.Flush()
}

func writeNameList(w io.Writer, heading string, names []string) {
	fmt.Fprintf(w, "\n%s\n", heading)
	for _, name := range names {
		fmt.Fprintf(w, "   %s\n", name)
	}
}

// FormatDuration prints a duration as hours and minutes, with days when
// longer than a day.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	days := d / day
	d -= days * day
	hours := d / time.Hour
	minutes := (d - hours*time.Hour) / time.Minute
	if days > 0 {
		return fmt.Sprintf("%dd %dh %02dm", days, hours, minutes)
	}
	return fmt.Sprintf("%dh %02dm", hours, minutes)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
