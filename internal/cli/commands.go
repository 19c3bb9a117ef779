package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/uayebforever/clan-stats/internal/cache"
	"github.com/uayebforever/clan-stats/internal/core"
	"github.com/uayebforever/clan-stats/internal/model"
	"github.com/uayebforever/clan-stats/internal/output"
	"github.com/uayebforever/clan-stats/internal/report"
	"github.com/uayebforever/clan-stats/internal/retrieval"
	"github.com/uayebforever/clan-stats/internal/roster"
)

const defaultSince = "d-30"

func (a *app) clanCmd() *cobra.Command {
	clan := &cobra.Command{
		Use:   "clan",
		Short: "Operations on a whole clan",
	}

	memberActivities := &cobra.Command{
		Use:   "member-activities [clan-id]",
		Short: "List clan members and their recent activity",
		Args:  maxArgs(1),
		RunE:  a.handleMemberActivities,
	}
	memberActivities.Flags().String("since", defaultSince, "Earliest activity date (YYYY-MM-DD, d-7, w-2, m-3, y-1)")
	memberActivities.Flags().String("sort", string(report.SortByName), "Sort by name, active or discord")
	memberActivities.Flags().String("mode", "all", "Activity mode: "+strings.Join(model.GameModeNames(), ", "))
	memberActivities.Flags().String("discord-file", "", "Bungie to Discord name mapping CSV (default: discord_mapping_file)")
	memberActivities.Flags().Bool("roster", false, "Compare against the clan roster database")
	memberActivities.Flags().IntP("parallel", "p", core.MaxConcurrentMembers, "Max members to fetch in parallel")

	importRoster := &cobra.Command{
		Use:   "import-roster [csv] [clan-id]",
		Short: "Load a Bungie to Discord mapping CSV into the clan roster",
		Args:  maxArgs(2),
		RunE:  a.handleImportRoster,
	}

	fireteams := &cobra.Command{
		Use:   "clan-fireteams [clan-id]",
		Short: "List recent clan fireteams and their members",
		Args:  maxArgs(1),
		RunE:  a.handleClanFireteams,
	}
	addFireteamFlags(fireteams)

	events := &cobra.Command{
		Use:   "clan-events [clan-id]",
		Short: "List recent clan events",
		Args:  maxArgs(1),
		RunE:  a.handleClanEvents,
	}
	addFireteamFlags(events)
	events.Flags().Duration("max-gap", report.DefaultEventGap, "Longest break between fireteams of one event")
	events.Flags().Duration("min-length", report.DefaultEventMinLength, "Events must last longer than this")

	raids := &cobra.Command{
		Use:   "raid-summary [clan-id]",
		Short: "Show clan raid clears",
		Args:  maxArgs(1),
		RunE:  a.handleRaidSummary,
	}
	raids.Flags().String("since", core.FormatDate(report.DefaultRaidSince), "Earliest raid date (YYYY-MM-DD, d-7, w-2, m-3, y-1)")
	raids.Flags().String("sort", string(report.RaidSortByName), "Sort by name or count")
	raids.Flags().String("discord-file", "", "Bungie to Discord name mapping CSV (default: discord_mapping_file)")
	raids.Flags().IntP("parallel", "p", core.MaxConcurrentMembers, "Max members to fetch in parallel")

	clan.AddCommand(memberActivities, importRoster, fireteams, events, raids)
	return clan
}

func addFireteamFlags(cmd *cobra.Command) {
	cmd.Flags().String("since", defaultSince, "Earliest activity date (YYYY-MM-DD, d-7, w-2, m-3, y-1)")
	cmd.Flags().Int("min-clanmates", report.DefaultMinClanmates, "Clan members needed to count as a clan fireteam")
	cmd.Flags().IntP("parallel", "p", core.MaxConcurrentMembers, "Max members to fetch in parallel")
}

func (a *app) playerCmd() *cobra.Command {
	player := &cobra.Command{
		Use:   "player",
		Short: "Commands for individual players",
	}

	activityReport := &cobra.Command{
		Use:   "activity-report [membership]",
		Short: "Activity report for one player (membership as type:id)",
		Args:  maxArgs(1),
		RunE:  a.handleActivityReport,
	}
	activityReport.Flags().String("since", defaultSince, "Earliest activity date (YYYY-MM-DD, d-7, w-2, m-3, y-1)")
	activityReport.Flags().String("mode", "all", "Activity mode: "+strings.Join(model.GameModeNames(), ", "))
	activityReport.Flags().Bool("teammates", false, "Fetch post-game reports to list teammates")

	find := &cobra.Command{
		Use:   "find [name-prefix]",
		Short: "Find players by Bungie name",
		Args:  exactArgs(1),
		RunE:  a.handleFind,
	}

	player.AddCommand(activityReport, find)
	return player
}

func (a *app) cacheCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the activity cache",
	}
	status := &cobra.Command{
		Use:   "status",
		Short: "List cached keys with their coverage and record counts",
		Args:  exactArgs(0),
		RunE:  a.handleCacheStatus,
	}
	hasRange := &cobra.Command{
		Use:   "has-range [key] [start] [end]",
		Short: "Report whether [start, end) is fully cached for a key (activities:type:id:mode)",
		Long: `Report whether [start, end) is fully cached for a key (activities:type:id:mode).

With only two arguments the second names a period instead: today, yesterday,
this-week, last-week, this-month or last-month.`,
		Args: rangeArgs(2, 3),
		RunE:  a.handleHasRange,
	}
	c.AddCommand(status, hasRange)
	return c
}

func maxArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.MaximumNArgs(n)(cmd, args); err != nil {
			return &ExitError{Code: ExitArgumentError, Err: err}
		}
		return nil
	}
}

func rangeArgs(lo, hi int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.RangeArgs(lo, hi)(cmd, args); err != nil {
			return &ExitError{Code: ExitArgumentError, Err: err}
		}
		return nil
	}
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return &ExitError{Code: ExitArgumentError, Err: err}
		}
		return nil
	}
}

func (a *app) clanID(args []string, i int) (int64, error) {
	if len(args) > i {
		id, err := strconv.ParseInt(args[i], 10, 64)
		if err != nil || id <= 0 {
			return 0, argumentError("invalid clan id %q", args[i])
		}
		return id, nil
	}
	if a.cfg.DefaultClanID > 0 {
		return a.cfg.DefaultClanID, nil
	}
	return 0, argumentError("no clan id given and default_clan_id is not configured")
}

func (a *app) membership(args []string) (model.Membership, error) {
	s := a.cfg.DefaultPlayerID
	if len(args) > 0 {
		s = args[0]
	}
	if s == "" {
		return model.Membership{}, argumentError("no membership given and default_player_id is not configured")
	}
	return model.ParseMembership(s)
}

func (a *app) dateFlag(cmd *cobra.Command, name string) (time.Time, error) {
	spec, _ := cmd.Flags().GetString(name)
	return a.parseDate(spec)
}

func (a *app) parseDate(spec string) (time.Time, error) {
	t, err := core.ParseDateSpecAt(spec, a.now(), a.location())
	if err != nil {
		return time.Time{}, argumentError("%v", err)
	}
	return t, nil
}

func modeFlag(cmd *cobra.Command) (model.GameMode, error) {
	s, _ := cmd.Flags().GetString("mode")
	mode, err := model.ParseGameMode(s)
	if err != nil {
		return 0, argumentError("%v", err)
	}
	return mode, nil
}

// discordNames loads the mapping file. A missing default file is not an
// error; a missing file named on the command line is.
func (a *app) discordNames(path string) (map[string]string, error) {
	explicit := path != ""
	if !explicit {
		path = a.cfg.DiscordMappingFile
	}
	if path == "" {
		return nil, nil
	}
	mappings, err := roster.LoadDiscordMapping(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return nil, nil
	}
	if err != nil {
		return nil, &ExitError{Code: ExitUserError, Err: err}
	}
	return roster.DiscordNames(mappings), nil
}

func (a *app) openRoster(ctx context.Context, clanID int64) (*roster.Store, error) {
	if err := os.MkdirAll(a.cfg.RosterDir, 0755); err != nil {
		return nil, err
	}
	return roster.Open(ctx, roster.Path(a.cfg.RosterDir, clanID))
}

func (a *app) handleMemberActivities(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	clanID, err := a.clanID(args, 0)
	if err != nil {
		return err
	}
	since, err := a.dateFlag(cmd, "since")
	if err != nil {
		return err
	}
	mode, err := modeFlag(cmd)
	if err != nil {
		return err
	}
	sortName, _ := cmd.Flags().GetString("sort")
	sortBy, err := report.ParseSortOrder(sortName)
	if err != nil {
		return argumentError("%v", err)
	}
	discordFile, _ := cmd.Flags().GetString("discord-file")
	discord, err := a.discordNames(discordFile)
	if err != nil {
		return err
	}
	parallel, _ := cmd.Flags().GetInt("parallel")

	opts := report.MemberActivityOptions{
		Since:       since,
		Mode:        mode,
		Concurrency: parallel,
		Sort:        sortBy,
		Discord:     discord,
		Clock:       a.clock,
	}
	if useRoster, _ := cmd.Flags().GetBool("roster"); useRoster {
		store, err := a.openRoster(ctx, clanID)
		if err != nil {
			return err
		}
		defer store.Close()
		opts.Roster = store
	}

	r, err := a.dataRetriever(ctx)
	if err != nil {
		return err
	}
	a.progress(fmt.Sprintf("Fetching activity of clan %d since %s", clanID, core.FormatDate(since)))
	rep, err := report.MemberActivity(ctx, r, clanID, opts)
	if err != nil {
		return err
	}
	return a.emit(rep, func(w io.Writer) error {
		return output.WriteMemberActivity(w, rep, a.now())
	})
}

func (a *app) fireteamOptions(cmd *cobra.Command) (report.FireteamOptions, error) {
	since, err := a.dateFlag(cmd, "since")
	if err != nil {
		return report.FireteamOptions{}, err
	}
	minClanmates, _ := cmd.Flags().GetInt("min-clanmates")
	if minClanmates < 2 {
		return report.FireteamOptions{}, argumentError("--min-clanmates must be at least 2")
	}
	parallel, _ := cmd.Flags().GetInt("parallel")
	return report.FireteamOptions{
		Since:        since,
		MinClanmates: minClanmates,
		Concurrency:  parallel,
		Clock:        a.clock,
	}, nil
}

func (a *app) handleClanFireteams(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	clanID, err := a.clanID(args, 0)
	if err != nil {
		return err
	}
	opts, err := a.fireteamOptions(cmd)
	if err != nil {
		return err
	}

	r, err := a.dataRetriever(ctx)
	if err != nil {
		return err
	}
	a.progress(fmt.Sprintf("Matching fireteams of clan %d since %s", clanID, core.FormatDate(opts.Since)))
	rep, err := report.ClanFireteams(ctx, r, clanID, opts)
	if err != nil {
		return err
	}
	return a.emit(rep, func(w io.Writer) error {
		return output.WriteClanFireteams(w, rep)
	})
}

func (a *app) handleClanEvents(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	clanID, err := a.clanID(args, 0)
	if err != nil {
		return err
	}
	fireteamOpts, err := a.fireteamOptions(cmd)
	if err != nil {
		return err
	}
	maxGap, _ := cmd.Flags().GetDuration("max-gap")
	minLength, _ := cmd.Flags().GetDuration("min-length")
	if maxGap <= 0 || minLength < 0 {
		return argumentError("--max-gap must be positive and --min-length not negative")
	}

	r, err := a.dataRetriever(ctx)
	if err != nil {
		return err
	}
	a.progress(fmt.Sprintf("Finding events of clan %d since %s", clanID, core.FormatDate(fireteamOpts.Since)))
	rep, err := report.ClanEvents(ctx, r, clanID, report.EventOptions{
		FireteamOptions: fireteamOpts,
		MaxGap:          maxGap,
		MinLength:       minLength,
	})
	if err != nil {
		return err
	}
	return a.emit(rep, func(w io.Writer) error {
		return output.WriteClanEvents(w, rep)
	})
}

func (a *app) handleRaidSummary(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	clanID, err := a.clanID(args, 0)
	if err != nil {
		return err
	}
	since, err := a.dateFlag(cmd, "since")
	if err != nil {
		return err
	}
	sortName, _ := cmd.Flags().GetString("sort")
	sortBy, err := report.ParseRaidSort(sortName)
	if err != nil {
		return argumentError("%v", err)
	}
	discordFile, _ := cmd.Flags().GetString("discord-file")
	discord, err := a.discordNames(discordFile)
	if err != nil {
		return err
	}
	parallel, _ := cmd.Flags().GetInt("parallel")

	r, err := a.dataRetriever(ctx)
	if err != nil {
		return err
	}
	a.progress(fmt.Sprintf("Counting raid clears of clan %d since %s", clanID, core.FormatDate(since)))
	rep, err := report.RaidClears(ctx, r, clanID, report.RaidOptions{
		Since:       since,
		Sort:        sortBy,
		Concurrency: parallel,
		Discord:     discord,
	})
	if err != nil {
		return err
	}
	return a.emit(rep, func(w io.Writer) error {
		return output.WriteRaidSummary(w, rep, a.now())
	})
}

func (a *app) handleImportRoster(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path := a.cfg.DiscordMappingFile
	if len(args) > 0 {
		path = args[0]
	}
	clanID, err := a.clanID(args, 1)
	if err != nil {
		return err
	}
	mappings, err := roster.LoadDiscordMapping(path)
	if err != nil {
		return &ExitError{Code: ExitUserError, Err: err}
	}

	r, err := a.dataRetriever(ctx)
	if err != nil {
		return err
	}
	clan, err := r.Clan(ctx, clanID)
	if err != nil {
		return err
	}
	store, err := a.openRoster(ctx, clanID)
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := store.ImportDiscordMapping(ctx, mappings, clan)
	if err != nil {
		return err
	}
	return a.emit(res, func(w io.Writer) error {
		fmt.Fprintf(w, "Added %d, linked %d, departed %d\n", res.Added, res.Linked, res.Departed)
		for _, m := range res.Unmatched {
			fmt.Fprintf(w, "Not in clan: %s / @%s\n", m.BungieName, m.DiscordName)
		}
		return nil
	})
}

func (a *app) handleActivityReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	m, err := a.membership(args)
	if err != nil {
		return err
	}
	since, err := a.dateFlag(cmd, "since")
	if err != nil {
		return err
	}
	mode, err := modeFlag(cmd)
	if err != nil {
		return err
	}
	teammates, _ := cmd.Flags().GetBool("teammates")

	r, err := a.dataRetriever(ctx)
	if err != nil {
		return err
	}
	rep, err := report.PlayerActivity(ctx, r, m, report.PlayerOptions{
		Since:     since,
		Mode:      mode,
		Teammates: teammates,
		Clock:     a.clock,
	})
	if err != nil {
		return err
	}
	return a.emit(rep, func(w io.Writer) error {
		return output.WritePlayerReport(w, rep, a.now())
	})
}

func (a *app) handleFind(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	r, err := a.dataRetriever(ctx)
	if err != nil {
		return err
	}
	players, err := r.FindPlayers(ctx, args[0])
	if err != nil {
		return err
	}
	if len(players) == 0 {
		return &ExitError{Code: ExitUserError, Err: fmt.Errorf("no players match %q", args[0])}
	}
	return a.emit(players, func(w io.Writer) error {
		return output.WritePlayers(w, players, a.now())
	})
}

func (a *app) handleCacheStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	backend, err := a.cacheBackendFor(ctx)
	if err != nil {
		return err
	}
	statuses, err := cache.Scan(ctx, backend)
	if err != nil {
		return err
	}
	return a.emit(statuses, func(w io.Writer) error {
		return output.WriteCacheStatus(w, statuses, a.now())
	})
}

// hasRangeResult is the JSON form of cache has-range.
type hasRangeResult struct {
	Key     string    `json:"key"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Covered bool      `json:"covered"`
}

func (a *app) handleHasRange(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	key, err := retrieval.ParseActivityKey(args[0])
	if err != nil {
		return &ExitError{Code: ExitArgumentError, Err: err}
	}
	start, end, err := a.timeRange(args[1:])
	if err != nil {
		return err
	}

	backend, err := a.cacheBackendFor(ctx)
	if err != nil {
		return err
	}
	coverage := cache.NewActivityCache[retrieval.ActivityKey, model.Activity](nil, backend, cache.WithName("activities"), cache.WithClock(a.clock))
	covered, err := coverage.HasRange(ctx, key, start, end)
	if err != nil {
		return err
	}
	res := hasRangeResult{Key: key.CacheKey(), Start: start, End: end, Covered: covered}
	return a.emit(res, func(w io.Writer) error {
		if covered {
			_, err := fmt.Fprintf(w, "%s: [%s, %s) is cached\n", res.Key, core.FormatDate(start), core.FormatDate(end))
			return err
		}
		_, err := fmt.Fprintf(w, "%s: [%s, %s) is not fully cached\n", res.Key, core.FormatDate(start), core.FormatDate(end))
		return err
	})
}

// timeRange resolves either a named period or a start and end date.
func (a *app) timeRange(args []string) (time.Time, time.Time, error) {
	if len(args) == 1 {
		start, end, err := core.GetTimeRange(args[0], a.now(), a.location())
		if err != nil {
			return time.Time{}, time.Time{}, argumentError("%v", err)
		}
		return start, end, nil
	}
	start, err := a.parseDate(args[0])
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := a.parseDate(args[1])
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, argumentError("end %s is before start %s", args[1], args[0])
	}
	return start, end, nil
}
