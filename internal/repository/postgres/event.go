package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flexprice/usageledger/internal/clock"
	"github.com/flexprice/usageledger/internal/domain/events"
	ierr "github.com/flexprice/usageledger/internal/errors"
	"github.com/flexprice/usageledger/internal/logger"
	"github.com/flexprice/usageledger/internal/postgres"
	"github.com/flexprice/usageledger/internal/sentry"
	"github.com/flexprice/usageledger/internal/types"
	"github.com/lib/pq"
)

// Schema creates the events table. Records are append only; the identity index
// serves the conflict lookup.
const Schema = `
CREATE TABLE IF NOT EXISTS events (
	id             TEXT PRIMARY KEY,
	org_id         TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	event_source   TEXT NOT NULL,
	instance_id    TEXT NOT NULL,
	timestamp      TIMESTAMPTZ NOT NULL,
	record_date    TIMESTAMPTZ NOT NULL,
	amendment_type TEXT NOT NULL DEFAULT '',
	data           JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_identity
	ON events (org_id, event_type, event_source, instance_id, timestamp, record_date);
`

// timestampLayout keeps microseconds so the value round-trips through timestamptz.
const timestampLayout = "2006-01-02T15:04:05.999999Z07:00"

var eventColumns = []string{
	"id", "org_id", "event_type", "event_source", "instance_id",
	"timestamp", "record_date", "amendment_type", "data",
}

type EventRepository struct {
	client *postgres.Client
	log    *logger.Logger
	clock  clock.Clock
}

func NewEventRepository(client *postgres.Client, log *logger.Logger, c clock.Clock) events.Repository {
	return &EventRepository{
		client: client,
		log:    log,
		clock:  c,
	}
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

	rows, err := r.client.Querier(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		sentry.SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to query existing usage").
			WithReportableDetails(map[string]interface{}{"identities": len(keys)}).
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	found := make([]*events.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			sentry.SetSpanError(span, err)
			return nil, err
		}
		found = append(found, e)
	}
	if err := rows.Err(); err != nil {
		sentry.SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Error occurred during row iteration").
			Mark(ierr.ErrDatabase)
	}

	r.log.Debugw("found conflicting events",
		"identities", len(keys),
		"count", len(found),
	)

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

	query, args, err := buildInsertQuery(stamped)
	if err != nil {
		sentry.SetSpanError(span, err)
		return nil, err
	}

	if _, err := r.client.Querier(ctx).ExecContext(ctx, query, args...); err != nil {
		sentry.SetSpanError(span, err)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ierr.WithError(err).
				WithHint("Event record already exists").
				Mark(ierr.ErrAlreadyExists)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to save events").
			WithReportableDetails(map[string]interface{}{"count": len(stamped)}).
			Mark(ierr.ErrDatabase)
	}

	r.log.Debugw("saved events", "count", len(stamped))

	sentry.SetSpanSuccess(span)
	return stamped, nil
}

// newestRecordDate returns the latest record date persisted for keys, or nil when
// none of them has a record. Callers hold the identity locks, so no commit for these
// identities can land between this read and the insert.
func (r *EventRepository) newestRecordDate(ctx context.Context, keys []events.EventKey) (*time.Time, error) {
	query, args := buildNewestRecordDateQuery(keys)

	var newest sql.NullTime
	if err := r.client.Querier(ctx).QueryRowContext(ctx, query, args...).Scan(&newest); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to read latest record date").
			WithReportableDetails(map[string]interface{}{"identities": len(keys)}).
			Mark(ierr.ErrDatabase)
	}
	if !newest.Valid {
		return nil, nil
	}
	rd := newest.Time.UTC()
	return &rd, nil
}

// buildFindConflictingQuery selects every record of the given identities in ledger
// order. Keys are passed as parallel arrays joined with unnest.
func buildFindConflictingQuery(keys []events.EventKey) (string, []interface{}) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s e
		%s
		ORDER BY e.record_date ASC, e.id ASC`,
		"e."+strings.Join(eventColumns, ", e."),
		types.TableNameEvents,
		identityJoin,
	)
	return query, identityArgs(keys)
}

// buildNewestRecordDateQuery selects the latest record date of the given identities.
func buildNewestRecordDateQuery(keys []events.EventKey) (string, []interface{}) {
	query := fmt.Sprintf(`
		SELECT max(e.record_date)
		FROM %s e
		%s`,
		types.TableNameEvents,
		identityJoin,
	)
	return query, identityArgs(keys)
}

// identityJoin restricts events to the identities passed as parallel arrays.
const identityJoin = `JOIN unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::timestamptz[])
			AS k(org_id, event_type, event_source, instance_id, timestamp)
		ON e.org_id = k.org_id
			AND e.event_type = k.event_type
			AND e.event_source = k.event_source
			AND e.instance_id = k.instance_id
			AND e.timestamp = k.timestamp`

func identityArgs(keys []events.EventKey) []interface{} {
	orgIDs := make([]string, len(keys))
	eventTypes := make([]string, len(keys))
	eventSources := make([]string, len(keys))
	instanceIDs := make([]string, len(keys))
	timestamps := make([]string, len(keys))
	for i, k := range keys {
		orgIDs[i] = k.OrgID
		eventTypes[i] = k.EventType
		eventSources[i] = k.EventSource
		instanceIDs[i] = k.InstanceID
		timestamps[i] = k.Timestamp().Format(timestampLayout)
	}

	return []interface{}{
		pq.Array(orgIDs),
		pq.Array(eventTypes),
		pq.Array(eventSources),
		pq.Array(instanceIDs),
		pq.Array(timestamps),
	}
}

// buildInsertQuery builds one multi row insert for stamped records.
func buildInsertQuery(evts []*events.Event) (string, []interface{}, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", types.TableNameEvents, strings.Join(eventColumns, ", "))

	args := make([]interface{}, 0, len(evts)*len(eventColumns))
	for i, e := range evts {
		data, err := events.EncodeData(e)
		if err != nil {
			return "", nil, err
		}

		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range eventColumns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", len(args)+j+1)
		}
		b.WriteString(")")

		args = append(args,
			e.ID,
			e.OrgID,
			e.EventType,
			e.EventSource,
			e.InstanceID,
			e.Timestamp,
			*e.RecordDate,
			string(e.AmendmentType),
			string(data),
		)
	}

	return b.String(), args, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*events.Event, error) {
	var (
		e             events.Event
		recordDate    sql.NullTime
		amendmentType string
		data          []byte
	)
	err := row.Scan(
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
		return nil, ierr.WithError(err).
			WithHint("Failed to scan event").
			Mark(ierr.ErrDatabase)
	}

	if err := events.DecodeData(&e, data); err != nil {
		return nil, err
	}

	e.Timestamp = e.Timestamp.UTC()
	if recordDate.Valid {
		rd := recordDate.Time.UTC()
		e.RecordDate = &rd
	}
	e.AmendmentType = types.AmendmentType(amendmentType)
	return &e, nil
}

// Migrate creates the schema when it does not exist.
func Migrate(ctx context.Context, client *postgres.Client) error {
	if _, err := client.Querier(ctx).ExecContext(ctx, Schema); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to create events schema").
			Mark(ierr.ErrDatabase)
	}
	return nil
}
