package clickhouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/flexprice/usageledger/internal/clickhouse"
	"github.com/flexprice/usageledger/internal/clock"
	"github.com/flexprice/usageledger/internal/domain/events"
	ierr "github.com/flexprice/usageledger/internal/errors"
	"github.com/flexprice/usageledger/internal/logger"
	"github.com/flexprice/usageledger/internal/sentry"
	"github.com/flexprice/usageledger/internal/types"
)

// Schema creates the events table. The sort key starts with the identity so the
// conflict lookup reads a narrow range.
// - ORDER BY: (org_id, event_type, event_source, instance_id, timestamp, record_date, id)
// - PARTITION BY: toYYYYMM(timestamp)
// - ENGINE: MergeTree, append only
const Schema = `
CREATE TABLE IF NOT EXISTS events (
	id             String,
	org_id         String,
	event_type     String,
	event_source   String,
	instance_id    String,
	timestamp      DateTime64(6, 'UTC'),
	record_date    DateTime64(6, 'UTC'),
	amendment_type LowCardinality(String),
	data           String
)
ENGINE = MergeTree
PARTITION BY toYYYYMM(timestamp)
ORDER BY (org_id, event_type, event_source, instance_id, timestamp, record_date, id)
`

const eventColumns = "id, org_id, event_type, event_source, instance_id, timestamp, record_date, amendment_type, data"

type EventRepository struct {
	store  *clickhouse.ClickHouseStore
	logger *logger.Logger
	clock  clock.Clock
}

func NewEventRepository(store *clickhouse.ClickHouseStore, logger *logger.Logger, c clock.Clock) events.Repository {
	return &EventRepository{store: store, logger: logger, clock: c}
}

func (r *EventRepository) FindConflictingEvents(ctx context.Context, keys []events.EventKey) ([]*events.Event, error) {
	if len(keys) == 0 {
		return []*events.Event{}, nil
	}

	span := sentry.StartRepositorySpan(ctx, "event", "find_conflicting_events", map[string]interface{}{
		"identities": len(keys),
	})
	defer sentry.FinishSpan(span)

	query, args := buildFindConflictingQuery(keys)

	r.logger.Debugw("executing find conflicting events query",
		"identities", len(keys),
	)

	rows, err := r.store.GetConn().Query(ctx, query, args...)
	if err != nil {
		sentry.SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to query existing usage").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	found := make([]*events.Event, 0)
	for rows.Next() {
		var (
			e             events.Event
			amendmentType string
			data          string
			recordDate    time.Time
		)

		err := rows.Scan(
			&e.ID,
			&e.OrgID,
			&e.EventType,
			&e.EventSource,
			&e.InstanceID,
			&e.Timestamp,
			&recordDate,
			&amendmentType,
			&data,
		)
		if err != nil {
			sentry.SetSpanError(span, err)
			return nil, ierr.WithError(err).
				WithHint("Failed to scan event").
				Mark(ierr.ErrDatabase)
		}

		if err := events.DecodeData(&e, []byte(data)); err != nil {
			sentry.SetSpanError(span, err)
			return nil, err
		}
		e.Timestamp = e.Timestamp.UTC()
		recordDate = recordDate.UTC()
		e.RecordDate = &recordDate
		e.AmendmentType = types.AmendmentType(amendmentType)

		found = append(found, &e)
	}

	// Check for errors that occurred during iteration
	if err := rows.Err(); err != nil {
		sentry.SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Error occurred during row iteration").
			Mark(ierr.ErrDatabase)
	}

	sentry.SetSpanSuccess(span)
	return found, nil
}

func (r *EventRepository) SaveAll(ctx context.Context, evts []*events.Event) ([]*events.Event, error) {
	if len(evts) == 0 {
		return []*events.Event{}, nil
	}

	span := sentry.StartRepositorySpan(ctx, "event", "save_all", map[string]interface{}{
		"count": len(evts),
	})
	defer sentry.FinishSpan(span)

	newest, err := r.newestRecordDate(ctx, events.IdentitiesOf(evts))
	if err != nil {
		sentry.SetSpanError(span, err)
		return nil, err
	}
	stamped := events.StampForPersistence(evts, events.FirstRecordDate(r.clock.Now(), newest))

	batch, err := r.store.GetConn().PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (%s)", types.TableNameEvents, eventColumns))
	if err != nil {
		sentry.SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to prepare event batch").
			Mark(ierr.ErrDatabase)
	}

	for _, e := range stamped {
		data, err := events.EncodeData(e)
		if err != nil {
			_ = batch.Abort()
			sentry.SetSpanError(span, err)
			return nil, err
		}

		if err := batch.Append(
			e.ID,
			e.OrgID,
			e.EventType,
			e.EventSource,
			e.InstanceID,
			e.Timestamp,
			*e.RecordDate,
			string(e.AmendmentType),
			string(data),
		); err != nil {
			_ = batch.Abort()
			sentry.SetSpanError(span, err)
			return nil, ierr.WithError(err).
				WithHint("Failed to append event to batch").
				WithReportableDetails(map[string]interface{}{"event_id": e.ID}).
				Mark(ierr.ErrDatabase)
		}
	}

	if err := batch.Send(); err != nil {
		sentry.SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to save events").
			WithReportableDetails(map[string]interface{}{"count": len(stamped)}).
			Mark(ierr.ErrDatabase)
	}

	r.logger.Debugw("saved events to clickhouse", "count", len(stamped))

	sentry.SetSpanSuccess(span)
	return stamped, nil
}

// buildFindConflictingQuery selects every record of the given identities in ledger
// order, matching identities with a tuple IN list.
func buildFindConflictingQuery(keys []events.EventKey) (string, []interface{}) {
	in, args := identityFilter(keys)
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE %s
		ORDER BY record_date ASC, id ASC`,
		eventColumns,
		types.TableNameEvents,
		in,
	)
	return query, args
}

// buildNewestRecordDateQuery selects the latest record date of the given identities
// and the number of records it was taken over; max of an empty set is the epoch.
func buildNewestRecordDateQuery(keys []events.EventKey) (string, []interface{}) {
	in, args := identityFilter(keys)
	query := fmt.Sprintf(`
		SELECT max(record_date), count()
		FROM %s
		WHERE %s`,
		types.TableNameEvents,
		in,
	)
	return query, args
}

func identityFilter(keys []events.EventKey) (string, []interface{}) {
	tuples := make([]string, len(keys))
	args := make([]interface{}, 0, len(keys)*5)
	for i, k := range keys {
		tuples[i] = "(?, ?, ?, ?, ?)"
		args = append(args, k.OrgID, k.EventType, k.EventSource, k.InstanceID, k.Timestamp())
	}
	return fmt.Sprintf("(org_id, event_type, event_source, instance_id, timestamp) IN (%s)", strings.Join(tuples, ", ")), args
}

// newestRecordDate returns the latest record date persisted for keys, or nil when
// none of them has a record. The identity locks are held by the caller.
func (r *EventRepository) newestRecordDate(ctx context.Context, keys []events.EventKey) (*time.Time, error) {
	query, args := buildNewestRecordDateQuery(keys)

	var (
		newest time.Time
		count  uint64
	)
	if err := r.store.GetConn().QueryRow(ctx, query, args...).Scan(&newest, &count); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to read latest record date").
			WithReportableDetails(map[string]interface{}{"identities": len(keys)}).
			Mark(ierr.ErrDatabase)
	}
	if count == 0 {
		return nil, nil
	}
	newest = newest.UTC()
	return &newest, nil
}

// Migrate creates the schema when it does not exist.
func Migrate(ctx context.Context, store *clickhouse.ClickHouseStore) error {
	if err := store.GetConn().Exec(ctx, Schema); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to create events schema").
			Mark(ierr.ErrDatabase)
	}
	return nil
}
