package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/faultwatch/faultwatch/internal/clusterhealth"
	"github.com/faultwatch/faultwatch/internal/config"
	"github.com/faultwatch/faultwatch/internal/gateway"
	"github.com/faultwatch/faultwatch/internal/logging"
	"github.com/faultwatch/faultwatch/internal/maintenance"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "faultwatchd",
		Short:         "Stream maintenance and cluster health for the fault-diagnosis pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(opts),
		newTrimCmd(opts),
		newSnapshotCmd(opts),
		newVersionCmd(),
	)
	return root
}

// load reads the configuration and installs the global logger.
func (o *rootOptions) load() (*config.Config, *logging.Logger, error) {
	cfg, err := config.LoadFromPath(o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if o.logLevel != "" {
		cfg.Observability.LogLevel = o.logLevel
	}
	obs := cfg.Observability
	logger := logging.Configure(obs.LogLevel, obs.LogFormat, logging.FileOptions{
		Path:       obs.LogFile,
		MaxSizeMB:  obs.LogMaxSizeMB,
		MaxBackups: obs.LogMaxBackups,
		MaxAgeDays: obs.LogMaxAgeDays,
		Compress:   obs.LogCompress,
	})
	return cfg, logger, nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var healthAddr, metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the maintenance scheduler and health endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if healthAddr != "" {
				cfg.Health.ListenAddr = healthAddr
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.Observability.MetricsAddr = metricsAddr
			}
			defer logger.Sync()

			svc, err := NewService(ServiceOptions{Config: cfg, Logger: logger, Version: version})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := svc.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			logger.Info("received shutdown signal")

			timeout := cfg.Maintenance.ShutdownTimeout() + 5*time.Second
			shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			return svc.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&healthAddr, "health-addr", "", "Override health endpoint address (e.g., :8080)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Override metrics address; empty disables it")
	return cmd
}

func newTrimCmd(opts *rootOptions) *cobra.Command {
	var (
		all         bool
		maxLength   int64
		approximate bool
	)

	cmd := &cobra.Command{
		Use:   "trim [stream]",
		Short: "Trim one stream now, or run a full maintenance cycle with --all",
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return errors.New("--all takes no stream argument")
			}
			if !all && len(args) != 1 {
				return errors.New("exactly one stream is required unless --all is set")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := logging.WithCorrelationIDCtx(cmd.Context(), uuid.NewString())

			b, err := openBackend(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer b.Close()

			sched, err := maintenance.NewScheduler(b.store, cfg.Maintenance, maintenance.WithLogger(logger))
			if err != nil {
				return err
			}

			if all {
				cycleErr := sched.RunCycle(ctx)
				if err := writeJSON(cmd.OutOrStdout(), sched.Stats()); err != nil {
					return err
				}
				return cycleErr
			}

			var override maintenance.TrimOverride
			if cmd.Flags().Changed("max-length") {
				override.MaxLength = &maxLength
			}
			if cmd.Flags().Changed("approximate") {
				override.Approximate = &approximate
			}
			res, err := sched.ManualTrimWithOptions(ctx, args[0], override)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Run one maintenance cycle over every configured stream")
	cmd.Flags().Int64Var(&maxLength, "max-length", 0, "Entries to keep (default: configured limit)")
	cmd.Flags().BoolVar(&approximate, "approximate", false, "Allow an approximate trim (default: configured mode)")
	return cmd
}

func newSnapshotCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Print a cluster health snapshot as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			if t := cfg.Health.SnapshotTimeout(); t > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, t)
				defer cancel()
			}

			snap, err := snapshotOnce(ctx, cfg, logger)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), snap)
		},
	}
}

// snapshotOnce builds the collaborators, takes one snapshot and closes them.
// Without a gateway URL there are no counters to read, so the gateway
// section reports unknown.
func snapshotOnce(ctx context.Context, cfg *config.Config, logger *logging.Logger) (clusterhealth.Snapshot, error) {
	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return clusterhealth.Snapshot{}, err
	}
	defer b.Close()

	reg, err := openRegistry(ctx, cfg, b, logger)
	if err != nil {
		return clusterhealth.Snapshot{}, err
	}
	defer reg.Close()

	var gw gateway.Source
	if cfg.Gateway.URL != "" {
		if gw, _, err = openGateway(cfg); err != nil {
			return clusterhealth.Snapshot{}, err
		}
	}
	pf, err := openPerformance(cfg, logger)
	if err != nil {
		return clusterhealth.Snapshot{}, err
	}

	agg, err := clusterhealth.NewAggregator(b.store, reg, gw, pf, clusterhealth.Config{
		Streams:       cfg.ReportedStreams(),
		ExpectWorkers: cfg.Health.ExpectWorkers,
		Logger:        logger,
	})
	if err != nil {
		return clusterhealth.Snapshot{}, err
	}
	return agg.Snapshot(ctx)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "faultwatchd version %s (built %s, commit %s)\n", version, buildTime, gitCommit)
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
