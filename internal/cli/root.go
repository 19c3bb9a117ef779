// Package cli implements the command-line interface for clan-stats.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/uayebforever/clan-stats/internal/bungie"
	"github.com/uayebforever/clan-stats/internal/cache"
	"github.com/uayebforever/clan-stats/internal/core"
	"github.com/uayebforever/clan-stats/internal/model"
	"github.com/uayebforever/clan-stats/internal/output"
	"github.com/uayebforever/clan-stats/internal/retrieval"
)

// app holds the global flags and the resources shared by commands.
type app struct {
	// Global flags
	configPath   string
	verbose      bool
	quiet        bool
	jsonOutput   bool
	cacheDir     string
	cacheBackend string
	metricsFile  string

	cfg   *core.Config
	clock clockwork.Clock
	out   io.Writer
	// transport replaces the HTTP client, for tests.
	transport bungie.Transport

	backend   cache.Backend[model.Activity]
	retriever *retrieval.CachedRetriever
	logCloser io.Closer
	log       *logrus.Entry
}

func newApp() *app {
	return &app{clock: clockwork.NewRealClock(), out: os.Stdout}
}

// Execute runs the CLI and exits with the code matching the outcome.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := newApp().run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func (a *app) run(ctx context.Context, args []string) int {
	root := a.rootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	var exit *ExitError
	if err != nil && !errors.As(err, &exit) && strings.HasPrefix(err.Error(), "unknown command") {
		err = &ExitError{Code: ExitArgumentError, Err: err}
	}
	code := ExitCode(err)
	if a.log != nil {
		a.log.WithField("exit_code", code).Debug("finished")
	}
	if closeErr := a.close(); err == nil && closeErr != nil {
		err = closeErr
		code = ExitCode(err)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return code
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:               "clan-stats",
		Short:             "clan-stats – clan activity reports from the Bungie API",
		Long:              `A command-line utility for checking who in a Destiny 2 clan has been playing, backed by a local activity cache.`,
		Version:           core.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetOut(a.out)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ExitError{Code: ExitArgumentError, Err: err}
	})

	// Persistent flags available to all commands
	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Config file (default: nearest "+core.ConfigFileName+")")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Verbose debug output to stderr")
	flags.BoolVar(&a.quiet, "quiet", false, "Suppress progress messages")
	flags.BoolVar(&a.jsonOutput, "json", false, "Emit JSON instead of tables")
	flags.StringVar(&a.cacheDir, "cache-dir", "", "Cache directory (default: "+core.CacheRoot()+")")
	flags.StringVar(&a.cacheBackend, "cache-backend", "", "Cache backend: memory, filesystem, sqlite or valkey")
	flags.StringVar(&a.metricsFile, "metrics-file", "", "Write cache metrics in Prometheus text format to this file on exit")

	root.AddCommand(a.clanCmd(), a.playerCmd(), a.cacheCmd(), a.mcpCmd())
	return root
}

// setup loads configuration and logging before any command runs.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if a.cfg == nil {
		cfg, err := core.LoadConfig(a.configPath)
		if err != nil {
			return &ExitError{Code: ExitUserError, Err: err}
		}
		a.cfg = cfg
	}
	if a.cacheDir != "" {
		a.cfg.Cache.Dir = a.cacheDir
	}
	if a.cacheBackend != "" {
		a.cfg.Cache.Backend = a.cacheBackend
	}
	if a.metricsFile != "" {
		a.cfg.MetricsFile = a.metricsFile
	}
	if err := a.cfg.Validate(); err != nil {
		return &ExitError{Code: ExitArgumentError, Err: err}
	}

	closer, err := core.ConfigureLogging(a.verbose, a.quiet, a.cfg.LogFile)
	if err != nil {
		return err
	}
	a.logCloser = closer
	// Tag the log lines of this invocation.
	a.log = logrus.WithFields(logrus.Fields{"component": "cli", "run": uuid.NewString()})
	a.log.WithFields(logrus.Fields{
		"command": cmd.CommandPath(),
		"config":  a.cfg.Path,
		"backend": a.cfg.Cache.Backend,
	}).Debug("starting")
	return nil
}

// close releases the cache and writes metrics.
func (a *app) close() error {
	var errs []error
	if a.backend != nil {
		errs = append(errs, a.backend.Close())
		a.backend = nil
		a.retriever = nil
	}
	if a.cfg != nil && a.cfg.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(a.cfg.MetricsFile, prometheus.DefaultGatherer); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if a.logCloser != nil {
		errs = append(errs, a.logCloser.Close())
		a.logCloser = nil
	}
	return errors.Join(errs...)
}

func (a *app) location() *time.Location {
	return core.GetTZ(a.cfg.Timezone)
}

func (a *app) now() time.Time {
	return a.clock.Now()
}

// cacheBackendFor opens the configured backend once per run.
func (a *app) cacheBackendFor(ctx context.Context) (cache.Backend[model.Activity], error) {
	if a.backend != nil {
		return a.backend, nil
	}
	b, err := cache.OpenBackend[model.Activity](ctx, cache.BackendConfig{
		Kind: a.cfg.Cache.Backend,
		Dir:  a.cfg.Cache.Dir,
		Valkey: cache.ValkeyConfig{
			Address:   a.cfg.Cache.Valkey.Address,
			Password:  a.cfg.Cache.Valkey.Password,
			DB:        a.cfg.Cache.Valkey.DB,
			KeyPrefix: a.cfg.Cache.Valkey.Prefix,
		},
		Debug: a.verbose,
		Clock: a.clock,
	})
	if err != nil {
		return nil, &ExitError{Code: ExitApplicationError, Err: fmt.Errorf("open cache: %w", err)}
	}
	a.backend = b
	return b, nil
}

// dataRetriever builds the cached retriever over the platform API.
func (a *app) dataRetriever(ctx context.Context) (*retrieval.CachedRetriever, error) {
	if a.retriever != nil {
		return a.retriever, nil
	}
	transport := a.transport
	if transport == nil {
		key, err := a.cfg.RequireAPIKey()
		if err != nil {
			return nil, err
		}
		transport = bungie.NewClient(key)
	}
	backend, err := a.cacheBackendFor(ctx)
	if err != nil {
		return nil, err
	}

	opts := retrieval.DefaultCachedOptions()
	opts.PlayerLifetime = a.cfg.Cache.PlayerLifetime
	opts.Policy = cache.RefreshPolicy{
		Staleness:        a.cfg.Cache.ActivityStaleness,
		ForbiddenBackoff: a.cfg.Cache.ForbiddenBackoff,
	}
	opts.Clock = a.clock
	upstream := retrieval.NewAPIRetriever(bungie.NewAPI(transport), a.clock)
	a.retriever = retrieval.NewCachedRetriever(upstream, backend, opts)
	return a.retriever, nil
}

func (a *app) progress(msg string) {
	core.ProgressPrint(msg, a.quiet)
}

// emit prints v as JSON when --json is set, otherwise calls table.
func (a *app) emit(v any, table func(w io.Writer) error) error {
	if a.jsonOutput {
		return output.WriteJSON(a.out, v)
	}
	return table(a.out)
}
