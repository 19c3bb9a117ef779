package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/uayebforever/clan-stats/internal/core"
	"github.com/uayebforever/clan-stats/internal/model"
	"github.com/uayebforever/clan-stats/internal/report"
	"github.com/uayebforever/clan-stats/internal/retrieval"
)

func (a *app) mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start MCP server on stdio for AI integration",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := a.mcpServer()
			logrus.WithField("component", "mcp").Info("serving MCP on stdio")
			return server.NewStdioServer(s).Listen(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
}

func (a *app) mcpServer() *server.MCPServer {
	s := server.NewMCPServer("clan-stats", core.Version, server.WithToolCapabilities(true))
	s.AddTool(toolClanMemberActivity(), a.handleClanMemberActivityTool)
	s.AddTool(toolPlayerActivity(), a.handlePlayerActivityTool)
	s.AddTool(toolCacheCoverage(), a.handleCacheCoverageTool)
	return s
}

func toolClanMemberActivity() mcp.Tool {
	return mcp.NewTool(
		"clan_member_activity",
		mcp.WithDescription("List the members of a Destiny 2 clan with their most recent activity, activity count and Discord name."),
		mcp.WithTitleAnnotation("Clan Member Activity"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("clan_id",
			mcp.Description("Bungie group id of the clan. Defaults to default_clan_id from the config."),
		),
		mcp.WithString("since",
			mcp.Description("Earliest activity date: YYYY-MM-DD or relative d-7, w-2, m-3, y-1."),
			mcp.DefaultString(defaultSince),
		),
		mcp.WithString("mode",
			mcp.Description("Activity mode to count."),
			mcp.Enum(model.GameModeNames()...),
			mcp.DefaultString("all"),
		),
		mcp.WithString("sort",
			mcp.Description("Row order."),
			mcp.Enum(string(report.SortByName), string(report.SortByActive), string(report.SortByDiscord)),
			mcp.DefaultString(string(report.SortByName)),
		),
	)
}

func toolPlayerActivity() mcp.Tool {
	return mcp.NewTool(
		"player_activity",
		mcp.WithDescription("Summarise what one player has played: per-mode counts, time played and the activity list, newest first."),
		mcp.WithTitleAnnotation("Player Activity"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("membership",
			mcp.Description("Destiny membership as type:id, e.g. 3:4611686018467284386."),
			mcp.Required(),
		),
		mcp.WithString("since",
			mcp.Description("Earliest activity date: YYYY-MM-DD or relative d-7, w-2, m-3, y-1."),
			mcp.DefaultString(defaultSince),
		),
		mcp.WithString("mode",
			mcp.Description("Activity mode to include."),
			mcp.Enum(model.GameModeNames()...),
			mcp.DefaultString("all"),
		),
		mcp.WithBoolean("teammates",
			mcp.Description("Include teammates from post-game reports."),
			mcp.DefaultBool(false),
		),
	)
}

func toolCacheCoverage() mcp.Tool {
	return mcp.NewTool(
		"cache_coverage",
		mcp.WithDescription("Show which time spans of a player's activity history are held in the local cache."),
		mcp.WithTitleAnnotation("Cache Coverage"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithString("key",
			mcp.Description("Cache key, activities:type:id:mode."),
			mcp.Required(),
		),
	)
}

func (a *app) handleClanMemberActivityTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	clanID := int64(request.GetFloat("clan_id", float64(a.cfg.DefaultClanID)))
	if clanID <= 0 {
		return mcp.NewToolResultError("clan_id is required when default_clan_id is not configured"), nil
	}
	since, err := a.parseDate(request.GetString("since", defaultSince))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	mode, err := model.ParseGameMode(request.GetString("mode", "all"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sortBy, err := report.ParseSortOrder(request.GetString("sort", string(report.SortByName)))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	discord, err := a.discordNames("")
	if err != nil {
		return nil, err
	}

	r, err := a.dataRetriever(ctx)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("cannot reach the Bungie API", err), nil
	}
	rep, err := report.MemberActivity(ctx, r, clanID, report.MemberActivityOptions{
		Since:   since,
		Mode:    mode,
		Sort:    sortBy,
		Discord: discord,
		Clock:   a.clock,
	})
	if err != nil {
		return mcp.NewToolResultErrorFromErr("member activity failed", err), nil
	}

	private := 0
	for _, row := range rep.Members {
		if row.Private {
			private++
		}
	}
	fallback := fmt.Sprintf("%s: %d members, %d private, activity since %s", rep.Name, len(rep.Members), private, core.FormatDate(since))
	return mcp.NewToolResultStructured(rep, fallback), nil
}

func (a *app) handlePlayerActivityTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := request.RequireString("membership")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	m, err := model.ParseMembership(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	since, err := a.parseDate(request.GetString("since", defaultSince))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	mode, err := model.ParseGameMode(request.GetString("mode", "all"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	r, err := a.dataRetriever(ctx)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("cannot reach the Bungie API", err), nil
	}
	rep, err := report.PlayerActivity(ctx, r, m, report.PlayerOptions{
		Since:     since,
		Mode:      mode,
		Teammates: request.GetBool("teammates", false),
		Clock:     a.clock,
	})
	if err != nil {
		return mcp.NewToolResultErrorFromErr("player activity failed", err), nil
	}
	fallback := fmt.Sprintf("%s: %d activities since %s", rep.Player.Name, len(rep.Activities), core.FormatDate(since))
	return mcp.NewToolResultStructured(rep, fallback), nil
}

// coverageResult is the structured result of cache_coverage.
type coverageResult struct {
	Key      string   `json:"key"`
	Coverage []string `json:"coverage"`
	Records  int      `json:"records"`
}

func (a *app) handleCacheCoverageTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := request.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	key, err := retrieval.ParseActivityKey(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	backend, err := a.cacheBackendFor(ctx)
	if err != nil {
		return nil, err
	}
	meta, err := backend.ReadMeta(ctx, key.CacheKey())
	if err != nil {
		return nil, err
	}
	count, err := backend.CountRecords(ctx, key.CacheKey())
	if err != nil {
		return nil, err
	}

	res := coverageResult{Key: key.CacheKey(), Coverage: []string{}, Records: count}
	if meta != nil {
		for _, p := range meta.Coverage {
			res.Coverage = append(res.Coverage, p.String())
		}
	}
	fallback := key.CacheKey() + ": " + strconv.Itoa(len(res.Coverage)) + " spans, " + strconv.Itoa(count) + " records"
	return mcp.NewToolResultStructured(res, fallback), nil
}
