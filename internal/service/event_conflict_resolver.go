package service

import (
	"context"
	"strings"

	"github.com/flexprice/usageledger/internal/domain/events"
	ierr "github.com/flexprice/usageledger/internal/errors"
	"github.com/flexprice/usageledger/internal/logger"
	"github.com/flexprice/usageledger/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// EventConflictResolver turns a batch of incoming usage events into the records that
// must be appended to the ledger so that, for every conflict key, the ledger sums to
// the latest reported value.
type EventConflictResolver interface {
	// ResolveIncomingEvents returns deductions and new records in emission order. For
	// each incoming event its deductions come first, in conflict key order, followed by
	// the record(s) of the event itself. Duplicates produce nothing. The ledger is only
	// read; the caller persists the result inside the same transaction.
	ResolveIncomingEvents(ctx context.Context, incoming []*events.Event) ([]*events.Event, error)
}

type eventConflictResolver struct {
	repo   events.Repository
	logger *logger.Logger
}

func NewEventConflictResolver(repo events.Repository, logger *logger.Logger) EventConflictResolver {
	return &eventConflictResolver{
		repo:   repo,
		logger: logger,
	}
}

type usageConflict struct {
	key          events.UsageConflictKey
	conflictType types.EventConflictType
	latest       *events.Event
	previous     decimal.Decimal
}

func (r *eventConflictResolver) ResolveIncomingEvents(ctx context.Context, incoming []*events.Event) ([]*events.Event, error) {
	log := r.logger.WithContext(ctx)

	if len(incoming) == 0 {
		return []*events.Event{}, nil
	}

	for i, e := range incoming {
		if e == nil {
			return nil, ierr.NewError("incoming event is nil").
				WithHint("Events must not be null").
				WithReportableDetails(map[string]interface{}{"index": i}).
				Mark(ierr.ErrValidation)
		}
		if err := e.Validate(); err != nil {
			log.Errorw("rejecting batch with malformed event",
				"index", i,
				"org_id", e.OrgID,
				"instance_id", e.InstanceID,
				"error", err,
			)
			return nil, err
		}
	}

	keys, groups := events.GroupByIdentity(incoming)

	log.Infow("resolving incoming events",
		"in", len(incoming),
		"identities", len(keys),
	)

	existing, err := r.repo.FindConflictingEvents(ctx, keys)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to look up existing usage").
			WithReportableDetails(map[string]interface{}{
				"identities": len(keys),
			}).
			Mark(ierr.ErrDatabase)
	}

	existingByKey := lo.GroupBy(existing, func(e *events.Event) events.EventKey {
		return events.NewEventKey(e)
	})

	resolved := make([]*events.Event, 0, len(incoming))
	deductions := 0
	for _, key := range keys {
		tracker := NewUsageConflictTracker(existingByKey[key])
		for _, tie := range tracker.Ties() {
			log.Warnw("persisted usage has records with equal record dates",
				"identity", key.String(),
				"conflict_key", tie.String(),
			)
		}

		for _, e := range groups[key] {
			out, n, err := r.resolveEvent(log, key, e, tracker)
			if err != nil {
				return nil, err
			}
			resolved = append(resolved, out...)
			deductions += n
		}
	}

	log.Infow("resolved incoming events",
		"in", len(incoming),
		"resolved", len(resolved),
		"deductions", deductions,
	)

	return resolved, nil
}

// resolveEvent classifies every conflict key of e against the tracker and returns the
// deductions and records e produces, along with the number of deductions.
func (r *eventConflictResolver) resolveEvent(
	log *logger.Logger,
	identity events.EventKey,
	e *events.Event,
	tracker *UsageConflictTracker,
) ([]*events.Event, int, error) {
	keys := events.ConflictKeysFor(e)
	conflicts := make([]usageConflict, 0, len(keys))
	identical := make(map[events.UsageConflictKey]bool)

	for _, key := range keys {
		c, err := classifyConflict(e, key, tracker)
		if err != nil {
			return nil, 0, err
		}
		log.Debugw("classified usage conflict",
			"identity", identity.String(),
			"conflict_key", key.String(),
			"conflict_type", c.conflictType,
		)
		if !c.conflictType.SaveIncoming() {
			identical[key] = true
		}
		conflicts = append(conflicts, c)
	}

	if len(identical) == len(conflicts) {
		log.Debugw("dropping duplicate event",
			"identity", identity.String(),
			"keys", len(conflicts),
		)
		return nil, 0, nil
	}

	out := make([]*events.Event, 0, len(conflicts)+1)
	for _, c := range conflicts {
		if !c.conflictType.RequiresDeduction() {
			continue
		}
		deduction := events.NewDeduction(c.latest, c.key, c.previous)
		log.Debugw("created deduction",
			"identity", identity.String(),
			"conflict_key", c.key.String(),
			"conflict_type", c.conflictType,
			"deducted", c.previous.String(),
		)
		out = append(out, deduction)
	}
	deductions := len(out)

	tracker.Track(e)

	if len(identical) == 0 {
		return append(out, e), deductions, nil
	}
	return append(out, narrowToChangedUsage(e, identical)...), deductions, nil
}

func classifyConflict(e *events.Event, key events.UsageConflictKey, tracker *UsageConflictTracker) (usageConflict, error) {
	latest, ok := tracker.GetLatest(key)
	if !ok {
		return usageConflict{key: key, conflictType: types.EventConflictTypeOriginal}, nil
	}

	previous, ok := latest.FindMeasurement(key.MetricID)
	if !ok {
		return usageConflict{}, ierr.NewError("tracked event has no measurement for its conflict key").
			WithHint("Tracked usage is inconsistent").
			WithReportableDetails(map[string]interface{}{
				"conflict_key": key.String(),
			}).
			Mark(ierr.ErrInternal)
	}
	current, _ := e.FindMeasurement(key.MetricID)

	return usageConflict{
		key:          key,
		conflictType: types.ClassifyEventConflict(current.Value.Equal(previous.Value), e.Descriptor() == latest.Descriptor()),
		latest:       latest,
		previous:     previous.Value,
	}, nil
}

// narrowToChangedUsage returns the records to persist for an event some of whose keys
// are unchanged duplicates. Each product tag keeps only the measurements whose key
// changed; tags retaining the same metrics share one record.
func narrowToChangedUsage(e *events.Event, identical map[events.UsageConflictKey]bool) []*events.Event {
	type usageGroup struct {
		metricIDs []string
		tags      []string
	}

	groups := make([]*usageGroup, 0)
	bySignature := make(map[string]*usageGroup)
	for _, tag := range e.ProductTags {
		metricIDs := lo.FilterMap(e.Measurements, func(m *events.Measurement, _ int) (string, bool) {
			id := m.EffectiveMetricID()
			return id, !identical[events.UsageConflictKey{ProductTag: tag, MetricID: id}]
		})
		if len(metricIDs) == 0 {
			continue
		}

		signature := strings.Join(metricIDs, "\x1f")
		g, ok := bySignature[signature]
		if !ok {
			g = &usageGroup{metricIDs: metricIDs}
			bySignature[signature] = g
			groups = append(groups, g)
		}
		g.tags = append(g.tags, tag)
	}

	return lo.Map(groups, func(g *usageGroup, _ int) *events.Event {
		rec := e.Copy()
		rec.ProductTags = g.tags
		rec.Measurements = lo.Filter(rec.Measurements, func(m *events.Measurement, _ int) bool {
			return lo.Contains(g.metricIDs, m.EffectiveMetricID())
		})
		return rec
	})
}
