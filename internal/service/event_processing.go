package service

import (
	"context"
	"errors"
	"hash/fnv"
	"sort"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/cenkalti/backoff/v4"
	"github.com/flexprice/usageledger/internal/config"
	"github.com/flexprice/usageledger/internal/domain/events"
	ierr "github.com/flexprice/usageledger/internal/errors"
	"github.com/flexprice/usageledger/internal/logger"
	"github.com/flexprice/usageledger/internal/pubsub"
	pubsubRouter "github.com/flexprice/usageledger/internal/pubsub/router"
	"github.com/flexprice/usageledger/internal/types"
	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventProcessingService resolves and persists batches of usage events. Each batch is
// split by identity; every identity is resolved and saved inside one transaction
// holding that identity's lock, so concurrent batches never interleave on the same
// usage.
type EventProcessingService interface {
	// ProcessEvents validates, resolves and persists events. Invalid events are dropped
	// and counted; a partition that cannot be committed is retried event by event.
	ProcessEvents(ctx context.Context, evts []*events.Event) (*ProcessResult, error)

	// ProcessPayloads decodes JSON encoded events and processes them. Undecodable
	// payloads count as invalid.
	ProcessPayloads(ctx context.Context, payloads [][]byte) (*ProcessResult, error)

	// PublishEvents publishes events to the usage topic, one message per identity,
	// keyed so that an identity is always consumed by the same consumer.
	PublishEvents(ctx context.Context, evts []*events.Event) error

	// RegisterHandler registers the usage topic consumer with the router
	RegisterHandler(router *pubsubRouter.Router, cfg *config.Configuration)
}

// ProcessResult summarizes one processing call.
type ProcessResult struct {
	Received   int `json:"received"`
	Invalid    int `json:"invalid"`
	Failed     int `json:"failed"`
	Records    int `json:"records"`
	Deductions int `json:"deductions"`
}

func (r *ProcessResult) merge(other *ProcessResult) {
	if other == nil {
		return
	}
	r.Received += other.Received
	r.Invalid += other.Invalid
	r.Failed += other.Failed
	r.Records += other.Records
	r.Deductions += other.Deductions
}

// EventBatch is the Kafka message body: a JSON array of events of one identity.
type EventBatch struct {
	Data  []jsoniter.RawMessage `json:"data"`
	OrgID string                `json:"org_id,omitempty"`
}

type eventProcessingService struct {
	ServiceParams
	resolver EventConflictResolver
}

func NewEventProcessingService(params ServiceParams) EventProcessingService {
	return &eventProcessingService{
		ServiceParams: params,
		resolver:      NewEventConflictResolver(params.EventRepo, params.Logger),
	}
}

func (s *eventProcessingService) ProcessEvents(ctx context.Context, evts []*events.Event) (*ProcessResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if types.GetBatchID(ctx) == "" {
		ctx = types.SetBatchID(ctx, types.GenerateUUIDWithPrefix(types.UUID_PREFIX_BATCH))
	}
	log := s.Logger.WithContext(ctx)

	result := &ProcessResult{Received: len(evts)}
	valid := make([]*events.Event, 0, len(evts))
	for i, e := range evts {
		if e == nil {
			result.Invalid++
			log.Errorw("dropping nil event", "index", i)
			continue
		}
		if err := e.Validate(); err != nil {
			result.Invalid++
			log.Errorw("dropping invalid event",
				"index", i,
				"org_id", e.OrgID,
				"instance_id", e.InstanceID,
				"error", err,
			)
			continue
		}
		valid = append(valid, e)
	}

	if len(valid) == 0 {
		return result, nil
	}

	partitions := partitionByIdentity(valid, s.workers())
	p := pool.NewWithResults[*ProcessResult]().WithMaxGoroutines(len(partitions))
	for _, partition := range partitions {
		partition := partition
		p.Go(func() *ProcessResult {
			return s.processPartition(ctx, log, partition)
		})
	}
	for _, r := range p.Wait() {
		result.merge(r)
	}

	log.Infow("processed usage events",
		"received", result.Received,
		"invalid", result.Invalid,
		"failed", result.Failed,
		"records", result.Records,
		"deductions", result.Deductions,
		"partitions", len(partitions),
	)

	return result, nil
}

func (s *eventProcessingService) ProcessPayloads(ctx context.Context, payloads [][]byte) (*ProcessResult, error) {
	log := s.Logger.WithContext(ctx)

	evts := make([]*events.Event, 0, len(payloads))
	undecodable := 0
	for i, payload := range payloads {
		var e events.Event
		if err := json.Unmarshal(payload, &e); err != nil {
			undecodable++
			log.Errorw("dropping undecodable event payload",
				"index", i,
				"error", err,
			)
			continue
		}
		evts = append(evts, &e)
	}

	result, err := s.ProcessEvents(ctx, evts)
	if err != nil {
		return nil, err
	}
	result.Received += undecodable
	result.Invalid += undecodable
	return result, nil
}

func (s *eventProcessingService) PublishEvents(ctx context.Context, evts []*events.Event) error {
	if s.PubSub == nil {
		return ierr.NewError("event publishing is not configured").
			WithHint("Kafka publishing is not available").
			Mark(ierr.ErrSystem)
	}

	for i, e := range evts {
		if e == nil {
			return ierr.NewError("event is nil").
				WithHint("Events must not be null").
				WithReportableDetails(map[string]interface{}{"index": i}).
				Mark(ierr.ErrValidation)
		}
		if err := e.Validate(); err != nil {
			return err
		}
	}

	topic := s.Config.EventProcessing.Topic
	keys, groups := events.GroupByIdentity(evts)
	for _, key := range keys {
		batch := EventBatch{OrgID: key.OrgID}
		for _, e := range groups[key] {
			raw, err := json.Marshal(e)
			if err != nil {
				return ierr.WithError(err).
					WithHint("Failed to encode event").
					Mark(ierr.ErrInternal)
			}
			batch.Data = append(batch.Data, raw)
		}

		payload, err := json.Marshal(batch)
		if err != nil {
			return ierr.WithError(err).
				WithHint("Failed to encode event batch").
				Mark(ierr.ErrInternal)
		}

		msg := message.NewMessage(watermill.NewUUID(), payload)
		msg.Metadata.Set(pubsub.MetadataPartitionKey, key.LockKey())
		msg.Metadata.Set("org_id", key.OrgID)

		if err := s.PubSub.Publish(ctx, topic, msg); err != nil {
			return ierr.WithError(err).
				WithHint("Failed to publish usage events").
				WithReportableDetails(map[string]interface{}{
					"topic":    topic,
					"identity": key.String(),
				}).
				Mark(ierr.ErrSystem)
		}
	}

	s.Logger.WithContext(ctx).Debugw("published usage events",
		"events", len(evts),
		"messages", len(keys),
		"topic", topic,
	)
	return nil
}

func (s *eventProcessingService) RegisterHandler(router *pubsubRouter.Router, cfg *config.Configuration) {
	if !cfg.EventProcessing.Enabled {
		s.Logger.Infow("event processing handler disabled by configuration")
		return
	}

	var middlewares []message.HandlerMiddleware
	if cfg.EventProcessing.RateLimit > 0 {
		throttle := middleware.NewThrottle(cfg.EventProcessing.RateLimit, time.Second)
		middlewares = append(middlewares, throttle.Middleware)
	}

	router.AddNoPublishHandler(
		"event_processing_handler",
		cfg.EventProcessing.Topic,
		s.PubSub,
		s.processMessage,
		middlewares...,
	)

	s.Logger.Infow("registered event processing handler",
		"topic", cfg.EventProcessing.Topic,
		"rate_limit", cfg.EventProcessing.RateLimit,
	)
}

// processMessage handles one message from the usage topic. Undecodable messages are
// acknowledged and dropped; redelivery cannot fix them.
func (s *eventProcessingService) processMessage(msg *message.Message) error {
	var batch EventBatch
	if err := json.Unmarshal(msg.Payload, &batch); err != nil {
		s.Logger.Errorw("failed to unmarshal event batch",
			"error", err,
			"message_uuid", msg.UUID,
		)
		s.SentryService.CaptureException(err)
		return nil
	}

	ctx := types.SetRequestID(msg.Context(), msg.UUID)
	if batch.OrgID != "" {
		ctx = types.SetOrgID(ctx, batch.OrgID)
	}

	payloads := lo.Map(batch.Data, func(raw jsoniter.RawMessage, _ int) []byte {
		return raw
	})

	result, err := s.ProcessPayloads(ctx, payloads)
	if err != nil {
		return err
	}

	if result.Failed > 0 {
		s.Logger.WithContext(ctx).Warnw("event batch processed with failures",
			"message_uuid", msg.UUID,
			"failed", result.Failed,
			"received", result.Received,
		)
	}
	return nil
}

func (s *eventProcessingService) processPartition(ctx context.Context, log *logger.Logger, evts []*events.Event) *ProcessResult {
	result, err := s.commitWithRetry(ctx, evts)
	if err == nil {
		return result
	}

	s.SentryService.CaptureException(err)

	if len(evts) == 1 {
		log.Errorw("failed to process event",
			"identity", events.NewEventKey(evts[0]).String(),
			"error", err,
		)
		return &ProcessResult{Failed: 1}
	}

	log.Errorw("failed to commit partition, retrying events individually",
		"events", len(evts),
		"error", err,
	)

	result = &ProcessResult{}
	for _, e := range evts {
		r, err := s.commitWithRetry(ctx, []*events.Event{e})
		if err != nil {
			result.Failed++
			log.Errorw("failed to process event",
				"identity", events.NewEventKey(e).String(),
				"error", err,
			)
			continue
		}
		result.merge(r)
	}
	return result
}

func (s *eventProcessingService) commitWithRetry(ctx context.Context, evts []*events.Event) (*ProcessResult, error) {
	exp := backoff.NewExponentialBackOff()
	if s.Config.EventProcessing.RetryInitialInterval > 0 {
		exp.InitialInterval = s.Config.EventProcessing.RetryInitialInterval
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, s.Config.EventProcessing.MaxRetries), ctx)

	return backoff.RetryWithData(func() (*ProcessResult, error) {
		result, err := s.commit(ctx, evts)
		if err != nil && !isRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return result, err
	}, policy)
}

// commit resolves evts against the ledger and appends the result in one
// transaction, holding the locks of every identity involved.
func (s *eventProcessingService) commit(ctx context.Context, evts []*events.Event) (*ProcessResult, error) {
	result := &ProcessResult{}
	timeout := s.Config.EventProcessing.LockTimeout

	err := s.DB.WithTx(ctx, func(txCtx context.Context) error {
		for _, key := range lockKeys(evts) {
			if err := s.DB.LockKey(txCtx, types.LockRequest{Key: key, Timeout: &timeout}); err != nil {
				return err
			}
		}

		resolved, err := s.resolver.ResolveIncomingEvents(txCtx, evts)
		if err != nil {
			return err
		}
		if len(resolved) == 0 {
			return nil
		}

		saved, err := s.EventRepo.SaveAll(txCtx, resolved)
		if err != nil {
			return err
		}

		result.Records = len(saved)
		result.Deductions = lo.CountBy(saved, func(e *events.Event) bool {
			return e.IsDeduction()
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *eventProcessingService) workers() int {
	if s.Config.EventProcessing.Workers < 1 {
		return 1
	}
	return s.Config.EventProcessing.Workers
}

func isRetryable(err error) bool {
	switch {
	case ierr.IsValidation(err), ierr.IsInternal(err), ierr.IsInvalidOperation(err):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}

// lockKeys returns the sorted, distinct identity lock keys of evts. Acquiring locks
// in one global order keeps overlapping batches from deadlocking.
func lockKeys(evts []*events.Event) []string {
	keys := lo.Uniq(lo.Map(evts, func(e *events.Event, _ int) string {
		return events.NewEventKey(e).LockKey()
	}))
	sort.Strings(keys)
	return keys
}

// partitionByIdentity splits evts into at most n partitions such that all events of
// an identity share a partition and keep their relative order.
func partitionByIdentity(evts []*events.Event, n int) [][]*events.Event {
	buckets := make([][]*events.Event, n)
	for _, e := range evts {
		h := fnv.New32a()
		_, _ = h.Write([]byte(events.NewEventKey(e).LockKey()))
		i := int(h.Sum32() % uint32(n))
		buckets[i] = append(buckets[i], e)
	}
	return lo.Filter(buckets, func(b []*events.Event, _ int) bool {
		return len(b) > 0
	})
}
