package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/flexprice/usageledger/internal/clickhouse"
	"github.com/flexprice/usageledger/internal/clock"
	"github.com/flexprice/usageledger/internal/config"
	"github.com/flexprice/usageledger/internal/domain/events"
	"github.com/flexprice/usageledger/internal/importer"
	"github.com/flexprice/usageledger/internal/logger"
	"github.com/flexprice/usageledger/internal/postgres"
	"github.com/flexprice/usageledger/internal/pubsub"
	"github.com/flexprice/usageledger/internal/pubsub/kafka"
	"github.com/flexprice/usageledger/internal/pubsub/memory"
	chRepo "github.com/flexprice/usageledger/internal/repository/clickhouse"
	pgRepo "github.com/flexprice/usageledger/internal/repository/postgres"
	"github.com/flexprice/usageledger/internal/sentry"
	"github.com/flexprice/usageledger/internal/service"
	"github.com/flexprice/usageledger/internal/types"
	"github.com/samber/lo"
)

// import loads usage rows from a CSV file and either resolves them into the ledger
// directly or publishes them to the usage topic.
func main() {
	file := flag.String("file", "", "path to the usage CSV file")
	publish := flag.Bool("publish", false, "publish to the usage topic instead of writing the ledger")
	batchSize := flag.Int("batch-size", 500, "events per processing call")
	dryRun := flag.Bool("dry-run", false, "parse and validate only")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "-file is required")
		os.Exit(2)
	}

	if err := run(*file, *publish, *dryRun, *batchSize); err != nil {
		fmt.Fprintf(os.Stderr, "import failed: %v\n", err)
		os.Exit(1)
	}
}

func run(path string, publish, dryRun bool, batchSize int) error {
	cfg, err := config.NewConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	evts, rowErrors, err := importer.ReadEvents(f)
	if err != nil {
		return err
	}
	for _, rowErr := range rowErrors {
		log.Warnw("skipping row", "line", rowErr.Line, "error", rowErr.Err)
	}
	log.Infow("parsed usage file", "file", path, "events", len(evts), "skipped_rows", len(rowErrors))

	if dryRun {
		invalid := lo.CountBy(evts, func(e *events.Event) bool { return e.Validate() != nil })
		log.Infow("dry run complete", "events", len(evts), "invalid", invalid)
		return nil
	}

	svc, cleanup, err := newEventService(cfg, log, publish)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	start := time.Now()

	if publish {
		if err := svc.PublishEvents(ctx, evts); err != nil {
			return err
		}
		log.Infow("published usage events", "events", len(evts), "duration", time.Since(start))
		return nil
	}

	total := &service.ProcessResult{}
	for i, chunk := range lo.Chunk(evts, batchSize) {
		result, err := svc.ProcessEvents(ctx, chunk)
		if err != nil {
			return fmt.Errorf("batch %d: %w", i, err)
		}
		total.Received += result.Received
		total.Invalid += result.Invalid
		total.Failed += result.Failed
		total.Records += result.Records
		total.Deductions += result.Deductions
		log.Debugw("processed batch", "batch", i, "records", result.Records, "deductions", result.Deductions)
	}

	log.Infow("import complete",
		"received", total.Received,
		"invalid", total.Invalid,
		"failed", total.Failed,
		"records", total.Records,
		"deductions", total.Deductions,
		"duration", time.Since(start),
	)
	return nil
}

// newEventService wires the processing service the same way the server does, without
// the fx container.
func newEventService(cfg *config.Configuration, log *logger.Logger, publish bool) (service.EventProcessingService, func(), error) {
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Errorw("failed to close resource", "error", err)
			}
		}
	}

	var (
		db   postgres.IClient
		repo events.Repository
		ps   pubsub.PubSub
	)

	c := clock.NewReal()
	ctx := context.Background()
	switch cfg.EventStore.Type {
	case types.EventStoreTypeClickHouse:
		store, err := clickhouse.NewClickHouseStore(cfg, log)
		if err != nil {
			return nil, cleanup, err
		}
		closers = append(closers, store.Close)
		if err := chRepo.Migrate(ctx, store); err != nil {
			return nil, cleanup, err
		}
		db, repo = store, chRepo.NewEventRepository(store, log, c)
	default:
		sqlDB, err := postgres.NewDB(cfg, log)
		if err != nil {
			return nil, cleanup, err
		}
		client := postgres.NewClient(sqlDB, log)
		closers = append(closers, client.Close)
		if err := pgRepo.Migrate(ctx, client); err != nil {
			return nil, cleanup, err
		}
		db, repo = client, pgRepo.NewEventRepository(client, log, c)
	}

	if publish && cfg.EventProcessing.PubSub == types.PubSubTypeKafka {
		kafkaPS, err := kafka.NewPubSubFromConfig(cfg, log, cfg.EventProcessing.ConsumerGroup)
		if err != nil {
			return nil, cleanup, err
		}
		ps = kafkaPS
	} else {
		ps = memory.NewPubSub(log)
	}
	closers = append(closers, ps.Close)

	sentryService := sentry.NewSentryService(cfg, log)
	params := service.NewServiceParams(log, cfg, db, repo, ps, sentryService)
	return service.NewEventProcessingService(params), cleanup, nil
}
