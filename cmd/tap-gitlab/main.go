package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tap-gitlab/internal/pipeline"
	"github.com/ajitpratap0/tap-gitlab/pkg/compression"
	"github.com/ajitpratap0/tap-gitlab/pkg/config"
	"github.com/ajitpratap0/tap-gitlab/pkg/connector/core"
	"github.com/ajitpratap0/tap-gitlab/pkg/connector/destinations/singer"
	"github.com/ajitpratap0/tap-gitlab/pkg/connector/registry"
	"github.com/ajitpratap0/tap-gitlab/pkg/connector/sources/gitlab"
	"github.com/ajitpratap0/tap-gitlab/pkg/json"
	"github.com/ajitpratap0/tap-gitlab/pkg/logger"
	"github.com/ajitpratap0/tap-gitlab/pkg/metrics"
	"github.com/ajitpratap0/tap-gitlab/pkg/observability"

	// Register the source and every destination scheme
	_ "github.com/ajitpratap0/tap-gitlab/pkg/connector/destinations"
	_ "github.com/ajitpratap0/tap-gitlab/pkg/connector/sources"
)

const sourceName = "gitlab"

// options holds the flags shared by discover and sync
type options struct {
	configPath  string
	statePath   string
	catalogPath string
	output      string
	streams     []string
	metricsAddr string
	discover    bool
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "tap-gitlab",
		Short: "Singer tap for the GitLab API",
		Long: `tap-gitlab extracts projects, groups and their activity from the GitLab
REST and GraphQL APIs and writes Singer SCHEMA, RECORD and STATE messages.

Example:
  tap-gitlab --config config.json --discover > catalog.json
  tap-gitlab --config config.json --catalog catalog.json --state state.json`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.discover {
				return runDiscover(cmd.Context(), opts, cmd.OutOrStdout())
			}
			return runSync(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to the JSON or YAML config file")
	flags.StringVarP(&opts.statePath, "state", "s", "", "Path to a state file to resume from")
	flags.StringVar(&opts.catalogPath, "catalog", "", "Path to a catalog selecting the streams to sync")
	flags.StringVarP(&opts.output, "output", "o", "-", "Where to write messages: -, a file path, s3://bucket/key or gs://bucket/object")
	flags.StringSliceVar(&opts.streams, "streams", nil, "Comma-separated streams to sync; overrides the catalog selection")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the sync")
	root.Flags().BoolVar(&opts.discover, "discover", false, "Print the catalog and exit")

	root.AddCommand(&cobra.Command{
		Use:   "discover",
		Short: "Print the catalog of available streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiscover(cmd.Context(), opts, cmd.OutOrStdout())
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Sync the selected streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), opts, cmd.OutOrStdout())
		},
	})

	root.AddCommand(newConfigCmd(opts))

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered sources and destination schemes",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Sources:")
			for _, name := range registry.ListSources() {
				fmt.Fprintf(out, "  - %s\n", name)
			}
			fmt.Fprintln(out, "Destinations:")
			for _, scheme := range registry.ListDestinations() {
				fmt.Fprintf(out, "  - %s\n", scheme)
			}
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "tap-gitlab v%s\n", gitlab.Version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	return root
}

// newConfigCmd prints the config as the tap resolves it: file values,
// ${VAR} references and TAP_GITLAB_* overrides merged over the defaults.
func newConfigCmd(opts *options) *cobra.Command {
	var (
		writePath   string
		showSecrets bool
	)
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if !showSecrets {
				cfg = cfg.Redacted()
			}
			if writePath != "" {
				return config.Save(writePath, cfg)
			}
			return config.Write(cmd.OutOrStdout(), cfg)
		},
	}
	cmd.Flags().StringVar(&writePath, "write", "", "Write the resolved configuration to this YAML file instead of stdout")
	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Print access tokens instead of masking them")
	return cmd
}

// setup loads the config and brings up logging and tracing. The returned
// func flushes both.
func setup(opts *options) (*config.TapConfig, func(), error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}

	// stdout carries Singer messages, so logs always go to stderr
	if err := logger.Init(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Encoding:    cfg.Observability.LogEncoding,
		OutputPaths: []string{"stderr"},
	}); err != nil {
		return nil, nil, err
	}

	tracing := observability.DefaultTracingConfig()
	tracing.Enabled = cfg.Observability.EnableTracing
	tracing.ServiceVersion = gitlab.Version
	if cfg.Observability.TracingSampleRate > 0 {
		tracing.SamplingRate = cfg.Observability.TracingSampleRate
	}
	if err := observability.Initialize(tracing); err != nil {
		return nil, nil, err
	}

	teardown := func() {
		if err := observability.Shutdown(context.Background()); err != nil {
			logger.Warn("failed to flush traces", zap.Error(err))
		}
		_ = logger.Sync()
	}
	return cfg, teardown, nil
}

func newSource(ctx context.Context, cfg *config.TapConfig) (core.Source, error) {
	source, err := registry.CreateSource(sourceName, cfg)
	if err != nil {
		return nil, err
	}
	if err := source.Initialize(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize source: %w", err)
	}
	return source, nil
}

func runDiscover(ctx context.Context, opts *options, out io.Writer) error {
	cfg, teardown, err := setup(opts)
	if err != nil {
		return err
	}
	defer teardown()

	source, err := newSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer source.Close(ctx)

	catalog, err := source.Discover(ctx)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(catalog, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func runSync(ctx context.Context, opts *options, stdout io.Writer) error {
	cfg, teardown, err := setup(opts)
	if err != nil {
		return err
	}
	defer teardown()

	log := logger.Get().With(
		zap.String("component", "tap-gitlab-cli"),
		zap.String("output", opts.output))

	selected, err := selectedStreams(opts)
	if err != nil {
		return err
	}
	state, err := pipeline.LoadState(opts.statePath)
	if err != nil {
		return err
	}

	source, err := newSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := source.Close(context.Background()); err != nil {
			log.Warn("failed to close source", zap.Error(err))
		}
	}()

	dest, err := newDestination(opts.output, stdout)
	if err != nil {
		return fmt.Errorf("failed to open output %q: %w", opts.output, err)
	}

	metricsAddr := opts.metricsAddr
	if metricsAddr == "" && cfg.Observability.EnableMetrics {
		metricsAddr = cfg.Observability.MetricsAddr
	}
	if metricsAddr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := metrics.Serve(metricsCtx, metricsAddr); err != nil {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		log.Info("serving metrics", zap.String("addr", metricsAddr))
	}

	checkpoint := cfg.Performance.CheckpointInterval
	if checkpoint == 0 {
		checkpoint = -1
	}
	p := pipeline.NewSyncPipeline(source, dest, state, &pipeline.Options{
		Selected:           selected,
		CheckpointInterval: checkpoint,
	}, log)

	stats, runErr := p.Run(ctx)
	// close even after a failure so the records and states already written
	// reach the target
	if err := dest.Close(context.Background()); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to close output: %w", err)
	}
	if runErr != nil {
		return fmt.Errorf("sync failed: %w", runErr)
	}

	log.Info("sync finished",
		zap.String("job_id", stats.JobID),
		zap.Int64("records", stats.Records),
		zap.Int("streams", len(stats.Streams)),
		zap.Duration("duration", stats.Duration))
	return nil
}

// newDestination resolves the output target. Standard output goes through
// the command's writer so tests can capture it.
func newDestination(target string, stdout io.Writer) (core.Destination, error) {
	if (target == "" || target == "-") && stdout != os.Stdout {
		return singer.NewDestination("stdout", stdout, nil, compression.None)
	}
	return registry.CreateDestination(target)
}

// selectedStreams resolves the selection: --streams wins over the catalog,
// and neither means every stream.
func selectedStreams(opts *options) ([]string, error) {
	if len(opts.streams) > 0 {
		return opts.streams, nil
	}
	if opts.catalogPath == "" {
		return nil, nil
	}
	catalog, err := core.LoadCatalog(opts.catalogPath)
	if err != nil {
		return nil, err
	}
	selected := catalog.SelectedStreams()
	if len(selected) == 0 {
		return nil, fmt.Errorf("catalog %s selects no streams", opts.catalogPath)
	}
	return selected, nil
}
