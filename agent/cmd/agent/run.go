package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/obsidianstack/slaprobe/agent/internal/config"
	"github.com/obsidianstack/slaprobe/agent/internal/metrics"
	"github.com/obsidianstack/slaprobe/agent/internal/observability"
	"github.com/obsidianstack/slaprobe/agent/internal/probe"
	"github.com/obsidianstack/slaprobe/agent/internal/record"
	"github.com/obsidianstack/slaprobe/agent/internal/store"
	"github.com/obsidianstack/slaprobe/agent/internal/timeutil"
)

const shutdownTimeout = 10 * time.Second

func runCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the probe and serve its metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return run(ctx, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	return cmd
}

// run starts the pipeline and blocks until ctx is cancelled. It fails only
// when startup fails: bad initial config, store open or metrics port bind.
func run(ctx context.Context, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("slaprobe starting",
		zap.String("version", Version),
		zap.String("config", configPath),
		zap.String("storage", cfg.Storage.Backend),
		zap.Int("targets", len(cfg.Targets)))

	kv, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		logger.Error("failed to open store", zap.Error(err))
		return fmt.Errorf("open store: %w", err)
	}
	defer kv.Close()

	holder := config.NewHolder(cfg)
	fwd := make(chan record.OutcomeBucket, cfg.ForwardBuffer)
	agg := probe.NewAggregator(kv, fwd, logger.Named("aggregator"))

	stage := metrics.NewStage(logger.Named("metrics"))
	registerTargets(stage, cfg)

	// Counters are rebuilt from the store before the first scrape can be served.
	recovered, err := agg.Recover(ctx, cfg, timeutil.UnixMilli(time.Now()))
	if err != nil {
		logger.Error("bucket recovery failed, counters start from zero", zap.Error(err))
	}
	stage.Recover(recovered)

	srv := metrics.NewServer(stage, cfg.MetricsPort, logger.Named("metrics"))
	ln, err := srv.Listen()
	if err != nil {
		logger.Error("failed to bind metrics port", zap.Int("port", cfg.MetricsPort), zap.Error(err))
		return err
	}

	runner := probe.NewRunner(holder, kv, agg, logger.Named("probe"))
	reloader := config.NewReloader(configPath, holder, data, logger.Named("config"))
	reloader.OnReload(func(c *config.Config) { registerTargets(stage, c) })

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return stage.Run(gctx, fwd)
	})
	g.Go(func() error {
		return runner.Run(gctx)
	})
	g.Go(func() error {
		if err := config.Watch(gctx, reloader, cfg.HotUpdateInterval); err != nil {
			logger.Error("config watcher stopped", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	logger.Info("slaprobe stopped")
	return err
}

// registerTargets exposes zero-valued series for every configured target.
// Targets removed by a reload keep their series until restart.
func registerTargets(stage *metrics.Stage, cfg *config.Config) {
	for _, t := range cfg.Targets {
		stage.Register(t.ID)
	}
}
