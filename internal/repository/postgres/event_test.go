package postgres

import (
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/flexprice/usageledger/internal/domain/events"
	"github.com/flexprice/usageledger/internal/testutil"
	"github.com/flexprice/usageledger/internal/types"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ts = time.Date(2024, 6, 1, 10, 30, 0, 123456789, time.UTC)

func TestBuildFindConflictingQuery(t *testing.T) {
	keys := []events.EventKey{
		events.NewEventKey(testutil.NewEventBuilder(ts).WithInstance("a").Build()),
		events.NewEventKey(testutil.NewEventBuilder(ts).WithInstance("b").Build()),
	}

	query, args := buildFindConflictingQuery(keys)

	assert.Contains(t, query, "FROM events e")
	assert.Contains(t, query, "$5::timestamptz[]")
	assert.Contains(t, query, "ORDER BY e.record_date ASC, e.id ASC")
	require.Len(t, args, 5)

	instances, ok := args[3].(*pq.StringArray)
	require.True(t, ok)
	assert.Equal(t, pq.StringArray{"a", "b"}, *instances)

	timestamps := args[4].(*pq.StringArray)
	assert.Equal(t, "2024-06-01T10:30:00.123456Z", (*timestamps)[0])
}

func TestBuildNewestRecordDateQuery(t *testing.T) {
	keys := []events.EventKey{
		events.NewEventKey(testutil.NewEventBuilder(ts).WithInstance("a").Build()),
	}

	query, args := buildNewestRecordDateQuery(keys)

	assert.Contains(t, query, "SELECT max(e.record_date)")
	assert.Contains(t, query, "AND e.timestamp = k.timestamp")
	assert.NotContains(t, query, "ORDER BY")
	require.Len(t, args, 5)
	assert.Equal(t, pq.StringArray{"a"}, *args[3].(*pq.StringArray))
}

func TestBuildInsertQuery(t *testing.T) {
	stamped := events.StampForPersistence([]*events.Event{
		testutil.NewEventBuilder(ts).WithMeasurement("Cores", 5).Build(),
		testutil.NewEventBuilder(ts).WithMeasurement("Cores", -5).AsDeduction().Build(),
	}, ts)

	query, args, err := buildInsertQuery(stamped)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(query, "INSERT INTO events (id, org_id, event_type"))
	assert.Contains(t, query, "($1, $2, $3, $4, $5, $6, $7, $8, $9), ($10, $11")
	assert.True(t, strings.HasSuffix(query, "$18)"))
	require.Len(t, args, 18)

	assert.Equal(t, stamped[1].ID, args[9])
	assert.Equal(t, string(types.AmendmentTypeDeduction), args[16])
	assert.Contains(t, args[17], `"product_tags":["OpenShift"]`)
	assert.Contains(t, args[17], `"sla":"Premium"`)
}

type fakeRow struct {
	values []interface{}
}

func (r fakeRow) Scan(dest ...interface{}) error {
	for i, d := range dest {
		switch v := d.(type) {
		case *string:
			*v = r.values[i].(string)
		case *time.Time:
			*v = r.values[i].(time.Time)
		case *sql.NullTime:
			*v = r.values[i].(sql.NullTime)
		case *[]byte:
			*v = r.values[i].([]byte)
		}
	}
	return nil
}

func TestScanEvent(t *testing.T) {
	recordDate := ts.Add(time.Hour)
	row := fakeRow{values: []interface{}{
		"evt_1",
		"org123",
		"snapshot",
		"prometheus",
		"instance123",
		ts.In(time.FixedZone("EST", -5*3600)),
		sql.NullTime{Time: recordDate, Valid: true},
		"DEDUCTION",
		[]byte(`{"product_tags":["RHEL"],"measurements":[{"metric_id":"Cores","value":"-4"}],"sla":"Standard"}`),
	}}

	e, err := scanEvent(row)
	require.NoError(t, err)

	assert.Equal(t, "evt_1", e.ID)
	assert.Equal(t, time.UTC, e.Timestamp.Location())
	assert.Equal(t, recordDate, *e.RecordDate)
	assert.True(t, e.IsDeduction())
	assert.Equal(t, []string{"RHEL"}, e.ProductTags)
	assert.Equal(t, "-4", e.Measurements[0].Value.String())
	assert.Equal(t, "Standard", e.Sla)
}

func TestScanEvent_BadData(t *testing.T) {
	row := fakeRow{values: []interface{}{
		"evt_1", "org123", "snapshot", "prometheus", "instance123", ts,
		sql.NullTime{}, "", []byte(`{`),
	}}

	_, err := scanEvent(row)
	assert.Error(t, err)
}
