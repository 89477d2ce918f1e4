package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlpool/internal/api"
	"github.com/JakeFAU/crawlpool/internal/autoscale"
	"github.com/JakeFAU/crawlpool/internal/config"
	"github.com/JakeFAU/crawlpool/internal/crawl"
	"github.com/JakeFAU/crawlpool/internal/fetcher"
	"github.com/JakeFAU/crawlpool/internal/logging"
	"github.com/JakeFAU/crawlpool/internal/metrics"
	"github.com/JakeFAU/crawlpool/internal/notify"
	"github.com/JakeFAU/crawlpool/internal/progress"
	"github.com/JakeFAU/crawlpool/internal/progress/sinks"
	"github.com/JakeFAU/crawlpool/internal/scheduler"
	"github.com/JakeFAU/crawlpool/internal/source"
	"github.com/JakeFAU/crawlpool/internal/storage/gcs"
	"github.com/JakeFAU/crawlpool/internal/storage/local"
	"github.com/JakeFAU/crawlpool/internal/storage/memory"
	"github.com/JakeFAU/crawlpool/internal/storage/postgres"
)

type runFlags struct {
	seedsFile string
	urls      []string
	resumeID  string
	maxItems  int
}

func newRunCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Starts a crawl run",
		Long: `Seeds the work queue from a URL list, then processes it with an
autoscaled pool of fetchers until the queue drains. SIGINT aborts the
run after in-flight fetches wind down; a checkpointed run can be picked
up again with --resume.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, flags)
		},
	}
	cmd.Flags().StringVar(&flags.seedsFile, "seeds", "", "newline-delimited seed URL file")
	cmd.Flags().StringArrayVar(&flags.urls, "url", nil, "seed URL (repeatable)")
	cmd.Flags().StringVar(&flags.resumeID, "resume", "", "resume the run with this ID from its checkpoint")
	cmd.Flags().IntVar(&flags.maxItems, "max-items", 0, "override pool.max_items")
	return cmd
}

func runCrawl(cmd *cobra.Command, flags *runFlags) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	metrics.Init()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := buildSource(flags)
	if err != nil {
		return err
	}

	state, pgPool, err := buildStateStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if state != nil {
			if cerr := state.Close(); cerr != nil {
				logger.Warn("state store close failed", zap.Error(cerr))
			}
		}
	}()

	hub, err := buildHub(cfg, logger, pgPool)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cerr := hub.Close(closeCtx); cerr != nil {
			logger.Warn("progress hub close failed", zap.Error(cerr))
		}
	}()

	handler := fetcher.New(fetcher.Config{
		UserAgent:      cfg.Fetcher.UserAgent,
		AllowedDomains: cfg.Fetcher.AllowedDomains,
		MaxDepth:       cfg.Fetcher.MaxDepth,
		FollowLinks:    cfg.Fetcher.FollowLinks,
		PerDomainRPS:   cfg.Fetcher.PerDomainRPS,
		Burst:          cfg.Fetcher.Burst,
		Timeout:        cfg.Fetcher.Timeout,
	}, logger)

	pool, err := scheduler.NewPool(poolConfig(cfg, flags), handler,
		scheduler.WithLogger(logger),
		scheduler.WithSource(src),
		scheduler.WithStateStore(state),
		scheduler.WithHub(hub),
	)
	if err != nil {
		return err
	}

	if cfg.API.Enabled {
		ops := api.New(api.Config{
			Listen:       cfg.API.Listen,
			ReadTimeout:  cfg.API.ReadTimeout,
			WriteTimeout: cfg.API.WriteTimeout,
		}, pool, logger)
		go func() {
			if serr := ops.Start(ctx); serr != nil {
				logger.Error("ops server failed", zap.Error(serr))
			}
		}()
	}

	// First signal: abort and let in-flight fetches wind down.
	go func() {
		<-ctx.Done()
		pool.Abort()
	}()

	report, runErr := pool.Run(ctx)
	notifyReport(cfg, logger, report)

	fmt.Fprintf(cmd.OutOrStdout(),
		"run %s: succeeded=%d failed=%d retried=%d aborted=%v runtime=%s\n",
		report.RunID,
		report.Counters.Succeeded,
		report.Counters.Failed,
		report.Counters.Retried,
		report.Aborted,
		report.Finished.Sub(report.Started).Round(time.Millisecond),
	)

	if runErr != nil && !errors.Is(runErr, crawl.ErrAborted) && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func buildSource(flags *runFlags) (crawl.Source, error) {
	switch {
	case flags.seedsFile != "":
		return source.Open(flags.seedsFile), nil
	case len(flags.urls) > 0:
		return source.FromURLs(flags.urls...), nil
	case flags.resumeID != "":
		// Resuming works off the checkpointed queue alone.
		return nil, nil
	default:
		return nil, errors.New("provide --seeds, --url, or --resume")
	}
}

func buildStateStore(
	ctx context.Context,
	cfg *config.Config,
	logger *zap.Logger,
) (crawl.StateStore, *pgxpool.Pool, error) {
	switch cfg.Storage.Provider {
	case "memory":
		logger.Info("using in-memory checkpoints")
		return memory.NewStateStore(), nil, nil
	case "local":
		logger.Info("using local checkpoints", zap.String("path", cfg.Storage.Local.Path))
		store, err := local.NewStateStore(cfg.Storage.Local.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case "postgres":
		logger.Info("using postgres checkpoints", zap.String("host", cfg.DB.Host))
		pool, err := postgres.Connect(ctx, cfg.DB.DSN(), cfg.DB.MaxConns)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewStateStore(pool), pool, nil
	case "gcs":
		logger.Info("using gcs checkpoints", zap.String("bucket", cfg.Storage.GCS.Bucket))
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := gcs.NewStateStore(client, gcs.Config{
			Bucket: cfg.Storage.GCS.Bucket,
			Prefix: cfg.Storage.GCS.Prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
}

func buildHub(cfg *config.Config, logger *zap.Logger, pgPool *pgxpool.Pool) (*progress.Hub, error) {
	sinkList := []progress.Sink{sinks.NewLogSink(logger)}
	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		return nil, fmt.Errorf("init prometheus sink: %w", err)
	}
	sinkList = append(sinkList, promSink)
	if pgPool != nil {
		sinkList = append(sinkList, sinks.NewStoreSink(postgres.NewProgressStore(pgPool), logger))
	}
	return progress.NewHub(progress.Config{Logger: logger}, sinkList...), nil
}

func poolConfig(cfg *config.Config, flags *runFlags) scheduler.Config {
	maxItems := cfg.Pool.MaxItems
	if flags.maxItems > 0 {
		maxItems = flags.maxItems
	}
	return scheduler.Config{
		Autoscale: autoscale.Config{
			MinConcurrency:     cfg.Pool.MinConcurrency,
			MaxConcurrency:     cfg.Pool.MaxConcurrency,
			DesiredRatio:       cfg.Pool.DesiredRatio,
			ScaleUpStepRatio:   cfg.Pool.ScaleUpStepRatio,
			ScaleDownStepRatio: cfg.Pool.ScaleDownStepRatio,
			CPUHighWater:       cfg.Pool.CPUHighWater,
			CPULowWater:        cfg.Pool.CPULowWater,
			MemHighWater:       cfg.Pool.MemHighWater,
			MemLowWater:        cfg.Pool.MemLowWater,
			ErrorHighWater:     cfg.Pool.ErrorHighWater,
			HealthyTicks:       cfg.Pool.HealthyTicks,
		},
		MaxRetries:         cfg.Pool.MaxRetries,
		MaxItems:           maxItems,
		HandlerTimeout:     cfg.Pool.HandlerTimeout,
		LeaseTimeout:       cfg.Pool.LeaseTimeout,
		SampleInterval:     cfg.Pool.SampleInterval,
		ReclaimInterval:    cfg.Pool.ReclaimInterval,
		CheckpointInterval: cfg.Pool.CheckpointInterval,
		HeartbeatInterval:  cfg.Pool.HeartbeatInterval,
		RetryBaseDelay:     cfg.Pool.RetryBaseDelay,
		RetryMaxDelay:      cfg.Pool.RetryMaxDelay,
		ResumeRunID:        flags.resumeID,
	}
}

func notifyReport(cfg *config.Config, logger *zap.Logger, report crawl.RunReport) {
	if !cfg.PubSub.Enabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		logger.Error("pubsub client init failed", zap.Error(err))
		return
	}
	pub, err := notify.NewPubSubPublisher(client)
	if err != nil {
		logger.Error("pubsub publisher init failed", zap.Error(err))
		return
	}
	defer func() {
		if cerr := pub.Close(); cerr != nil {
			logger.Warn("pubsub close failed", zap.Error(cerr))
		}
	}()

	id, err := pub.Publish(ctx, cfg.PubSub.Topic, notify.FromReport(report))
	if err != nil {
		logger.Error("run notification publish failed", zap.Error(err))
		return
	}
	logger.Info("run notification published",
		zap.String("topic", cfg.PubSub.Topic),
		zap.String("message_id", id),
	)
}
