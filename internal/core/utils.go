package core

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	monthDayRegex = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})$`)
	relativeRegex = regexp.MustCompile(`^([dwmy])-(\d+)$`)
)

// ProgressPrint writes msg to stderr unless quiet is true.
func ProgressPrint(msg string, quiet bool) {
	if !quiet {
		fmt.Fprintln(os.Stderr, msg)
	}
}

// GetTZ returns a *time.Location for the given timezone name.
// Falls back to UTC if the timezone is not found.
func GetTZ(name string) *time.Location {
	if name == "" {
		name = DefaultTZ
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		logrus.WithField("timezone", name).Warn("unknown timezone, falling back to UTC")
		return time.UTC
	}
	return loc
}

// ParseDate parses a YYYY-MM-DD string into a time.Time (date only, at midnight UTC).
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(APIDateFmt, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date '%s' (expected YYYY-MM-DD)", s)
	}
	return t, nil
}

// ParseDateSpecAt returns a concrete date for flexible spec strings.
// Supports:
// 1. Exact YYYY-MM-DD
// 2. M/D or MM/DD (most recent past occurrence)
// 3. Relative forms like d-7 (days), w-2 (weeks), m-3 (months), y-1 (years)
func ParseDateSpecAt(spec string, now time.Time, loc *time.Location) (time.Time, error) {
	now = now.In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	// 1. YYYY-MM-DD
	if t, err := time.ParseInLocation(APIDateFmt, spec, loc); err == nil {
		return t, nil
	}

	// 2. M/D or MM/DD
	if matches := monthDayRegex.FindStringSubmatch(spec); matches != nil {
		month, _ := strconv.Atoi(matches[1])
		day, _ := strconv.Atoi(matches[2])
		target := time.Date(now.Year(), time.Month(month), day, 0, 0, 0, 0, loc)
		if target.After(today) {
			target = time.Date(now.Year()-1, time.Month(month), day, 0, 0, 0, 0, loc)
		}
		return target, nil
	}

	// 3. Relative d/w/m/y-N
	if matches := relativeRegex.FindStringSubmatch(strings.ToLower(spec)); matches != nil {
		num, _ := strconv.Atoi(matches[2])

		switch matches[1] {
		case "d":
			return today.AddDate(0, 0, -num), nil
		case "w":
			return today.AddDate(0, 0, -num*7), nil
		case "m":
			return today.AddDate(0, -num, 0), nil
		case "y":
			return today.AddDate(-num, 0, 0), nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid date specification: '%s'", spec)
}

// GetTimeRange returns [start, end) for a named period relative to now.
// Supported periods: today, yesterday, this-week, last-week, this-month,
// last-month.
func GetTimeRange(period string, now time.Time, loc *time.Location) (time.Time, time.Time, error) {
	now = now.In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	mondayOf := func(t time.Time) time.Time {
		weekday := int(t.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		return t.AddDate(0, 0, -(weekday - 1))
	}

	switch period {
	case "today":
		return today, today.AddDate(0, 0, 1), nil

	case "yesterday":
		return today.AddDate(0, 0, -1), today, nil

	case "this-week":
		start := mondayOf(today)
		return start, start.AddDate(0, 0, 7), nil

	case "last-week":
		end := mondayOf(today)
		return end.AddDate(0, 0, -7), end, nil

	case "this-month":
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
		return first, first.AddDate(0, 1, 0), nil

	case "last-month":
		first := time.Date(now.Year(), now.Month()-1, 1, 0, 0, 0, 0, loc)
		return first, first.AddDate(0, 1, 0), nil
	}

	return time.Time{}, time.Time{}, fmt.Errorf("unknown period: %s", period)
}

// DateOnly returns a time.Time with only the date portion (midnight UTC).
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatDate formats a time.Time as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(APIDateFmt)
}

// FormatDatetime formats a time.Time as YYYY-MM-DD HH:MM:SS.
func FormatDatetime(t time.Time) string {
	return t.Format(APIDatetimeFmt)
}
