package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"nearEventStreamer/internal/broker"
	"nearEventStreamer/internal/chain"
	"nearEventStreamer/internal/config"
	"nearEventStreamer/internal/enrich"
	"nearEventStreamer/internal/indexer"
	"nearEventStreamer/internal/metrics"
	"nearEventStreamer/internal/source"
	"nearEventStreamer/internal/stats"
	"nearEventStreamer/internal/storage/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "streamer",
		Short:        "NEAR event streamer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("home-dir", "~/.near", "directory searched for nes.toml|yaml|json")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Stream NEAR events to Kafka",
		RunE:  runStreamer,
	}

	runCmd.Flags().Int("concurrency", 1, "blocks handled concurrently")
	runCmd.Flags().String("source", config.SourceLake, "block source (lake, jsonl)")
	runCmd.Flags().String("in", "", "input blocks JSONL for the jsonl source, - for stdin")
	runCmd.Flags().Uint64("start-block-height", 0, "skip blocks below this height")
	runCmd.Flags().Bool("from-latest", false, "start at the chain head reported by --rpc")
	runCmd.Flags().String("rpc", "", "NEAR RPC URL")
	runCmd.Flags().String("dry-run-out", "", "write messages to this JSONL file instead of Kafka")
	runCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")
	runCmd.Flags().StringSlice("whitelist", nil, "only publish events of these contracts (comma-separated)")
	runCmd.Flags().StringSlice("blacklist", nil, "never publish events of these contracts (comma-separated)")

	root.AddCommand(runCmd)

	extractCmd := &cobra.Command{
		Use:   "extract",
		Short: "Print the events of a blocks JSONL file",
		RunE:  runExtract,
	}

	extractCmd.Flags().String("in", "-", "input blocks JSONL, - for stdin")
	extractCmd.Flags().Uint64("start-block-height", 0, "skip blocks below this height")
	extractCmd.Flags().StringSlice("whitelist", nil, "only print events of these contracts (comma-separated)")
	extractCmd.Flags().StringSlice("blacklist", nil, "never print events of these contracts (comma-separated)")

	root.AddCommand(extractCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	homeDir, _ := cmd.Flags().GetString("home-dir")
	return config.Load(cfgFile, homeDir, cmd.Flags())
}

func newContractFilter(cfg config.Config) (*indexer.ContractFilter, error) {
	whitelist, err := indexer.ParseAccountIDs(cfg.WhitelistContractIDs)
	if err != nil {
		return nil, fmt.Errorf("whitelist: %w", err)
	}
	blacklist, err := indexer.ParseAccountIDs(cfg.BlacklistContractIDs)
	if err != nil {
		return nil, fmt.Errorf("blacklist: %w", err)
	}
	return indexer.NewContractFilter(whitelist, blacklist), nil
}

func runStreamer(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.ValidateRun(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	filter, err := newContractFilter(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	producer, admin, closeProducer, err := newProducer(cfg, logger)
	if err != nil {
		return err
	}
	defer closeProducer()

	provisioner := broker.NewProvisioner(admin, broker.ProvisionConfig{
		Enabled:         cfg.ForceCreateNewTopic,
		Partitions:      cfg.NewTopicPartitions,
		Replication:     cfg.NewTopicReplication,
		MetadataTimeout: cfg.TopicMetadataTimeout,
	}, logger)
	publisher := broker.NewPublisher(provisioner, producer, logger)

	var (
		chainClient *chain.Client
		heights     stats.HeightFetcher
	)
	if cfg.RPCURL != "" {
		chainClient, err = chain.NewClient(ctx, cfg.RPCURL, chain.Options{
			MaxRetries:   cfg.RPCMaxRetries,
			RetryBackoff: cfg.RPCRetryBackoff,
			Logger:       logger,
		})
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		defer chainClient.Close()
		heights = chainClient
	}

	var enricher indexer.EventEnricher
	if cfg.EnrichMetadata {
		var tokens enrich.TokenStore
		if cfg.PGDSN != "" {
			store, err := postgres.NewStore(ctx, cfg.PGDSN)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer store.Close()
			if err := store.EnsureSchema(ctx); err != nil {
				return err
			}
			tokens = store
		}
		enricher = enrich.New(enrich.Config{
			Enabled:     true,
			Concurrency: cfg.EnrichConcurrency,
		}, chainClient, tokens, logger, m)
	}

	startHeight, err := resolveStartHeight(ctx, cfg, heights)
	if err != nil {
		return err
	}

	src, closeSource, err := newSource(ctx, cfg, startHeight, logger)
	if err != nil {
		return err
	}
	defer closeSource()

	handler := indexer.NewBlockHandler(indexer.HandlerConfig{
		TopicPrefix: cfg.TopicPrefix,
		AllTopic:    cfg.AllTopic,
	}, indexer.NewExtractor(logger, m), filter, publisher, enricher, logger, m)

	tracker := stats.NewTracker()
	runner := indexer.NewRunner(indexer.RunConfig{Concurrency: cfg.Concurrency}, handler, tracker, logger, m)

	logger.Info("streamer start",
		zap.String("source", cfg.Source),
		zap.Uint64("start_block_height", startHeight),
		zap.Int("concurrency", cfg.Concurrency),
		zap.String("topic_prefix", cfg.TopicPrefix),
		zap.String("all_topic", cfg.AllTopic),
		zap.Int("whitelist", len(cfg.WhitelistContractIDs)),
		zap.Int("blacklist", len(cfg.BlacklistContractIDs)),
		zap.Bool("enrich_metadata", cfg.EnrichMetadata),
		zap.Bool("dry_run", cfg.DryRunOut != ""),
	)

	bgCtx, stopBackground := context.WithCancel(ctx)
	var background errgroup.Group
	background.Go(func() error {
		tracker.Run(bgCtx, cfg.StatsInterval, heights, logger)
		return nil
	})
	if cfg.MetricsAddr != "" {
		background.Go(func() error {
			if err := metrics.Serve(bgCtx, cfg.MetricsAddr, reg, logger); err != nil {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
			return nil
		})
	}

	err = runner.RunSource(ctx, src)
	stopBackground()
	_ = background.Wait()

	if errors.Is(err, context.Canceled) {
		logger.Info("streamer stopped", zap.Uint64("last_processed", tracker.Snapshot().LastProcessedHeight))
		return nil
	}
	return err
}

// newProducer returns the Kafka producer and its admin client, or a file
// producer without admin in dry run mode.
func newProducer(cfg config.Config, logger *zap.Logger) (broker.Producer, broker.Admin, func(), error) {
	if cfg.DryRunOut != "" {
		logger.Info("dry run, writing messages to file", zap.String("out", cfg.DryRunOut))
		producer := broker.NewJSONLProducer(cfg.DryRunOut)
		return producer, nil, producer.Close, nil
	}
	producer, admin, err := broker.NewKafkaProducer(cfg.Kafka, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	closeFn := func() {
		admin.Close()
		producer.Close()
	}
	return producer, admin, closeFn, nil
}

// resolveStartHeight returns the configured start height, or the current
// chain head when start_from_latest is set.
func resolveStartHeight(ctx context.Context, cfg config.Config, heights stats.HeightFetcher) (uint64, error) {
	if !cfg.StartFromLatest {
		return cfg.StartBlockHeight, nil
	}
	if heights == nil {
		return 0, config.ErrMissingRPC
	}
	head, err := heights.LatestBlockHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolve latest block: %w", err)
	}
	return head, nil
}

func newSource(ctx context.Context, cfg config.Config, startHeight uint64, logger *zap.Logger) (indexer.Source, func() error, error) {
	switch cfg.Source {
	case config.SourceJSONL:
		src, closeFn, err := source.OpenJSONL(cfg.In, startHeight, logger)
		if err != nil {
			return nil, nil, err
		}
		return src, closeFn, nil
	default:
		client, err := source.NewS3Client(ctx, cfg.Lake.Region)
		if err != nil {
			return nil, nil, err
		}
		lake := source.NewLake(source.LakeConfig{
			Bucket:       cfg.Lake.Bucket,
			StartHeight:  startHeight,
			PollInterval: cfg.Lake.PollInterval,
		}, client, logger)
		return lake, func() error { return nil }, nil
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
