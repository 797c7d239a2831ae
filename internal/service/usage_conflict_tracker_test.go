package service

import (
	"testing"
	"time"

	"github.com/flexprice/usageledger/internal/domain/events"
	"github.com/flexprice/usageledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	trackerTimestamp = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	coresKey         = events.UsageConflictKey{ProductTag: "OpenShift", MetricID: "Cores"}
	hoursKey         = events.UsageConflictKey{ProductTag: "OpenShift", MetricID: "Instance-hours"}
)

func persisted(id string, recordDate time.Time) *testutil.EventBuilder {
	return testutil.NewEventBuilder(trackerTimestamp).WithID(id).WithRecordDate(recordDate)
}

func TestUsageConflictTracker_Empty(t *testing.T) {
	tracker := NewUsageConflictTracker(nil)

	assert.False(t, tracker.Contains(coresKey))
	latest, ok := tracker.GetLatest(coresKey)
	assert.False(t, ok)
	assert.Nil(t, latest)
	assert.Empty(t, tracker.Ties())
}

func TestUsageConflictTracker_LatestRecordDateWinsRegardlessOfSeedOrder(t *testing.T) {
	older := persisted("evt_1", trackerTimestamp.Add(time.Hour)).WithMeasurement("Cores", 5).Build()
	newer := persisted("evt_2", trackerTimestamp.Add(2*time.Hour)).WithMeasurement("Cores", 15).Build()

	for _, seeds := range [][]*events.Event{{older, newer}, {newer, older}} {
		tracker := NewUsageConflictTracker(seeds)
		latest, ok := tracker.GetLatest(coresKey)
		require.True(t, ok)
		assert.Equal(t, "evt_2", latest.ID)
	}
}

func TestUsageConflictTracker_SeedsSkipDeductions(t *testing.T) {
	original := persisted("evt_1", trackerTimestamp.Add(time.Hour)).WithMeasurement("Cores", 5).Build()
	deduction := persisted("evt_2", trackerTimestamp.Add(2*time.Hour)).WithMeasurement("Cores", -5).AsDeduction().Build()

	tracker := NewUsageConflictTracker([]*events.Event{original, deduction})

	latest, ok := tracker.GetLatest(coresKey)
	require.True(t, ok)
	assert.Equal(t, "evt_1", latest.ID)
}

func TestUsageConflictTracker_KeysAreIndependent(t *testing.T) {
	both := persisted("evt_1", trackerTimestamp.Add(time.Hour)).
		WithMeasurement("Cores", 5).
		WithMeasurement("Instance-hours", 1).
		Build()
	hoursOnly := persisted("evt_2", trackerTimestamp.Add(2*time.Hour)).WithMeasurement("Instance-hours", 2).Build()

	tracker := NewUsageConflictTracker([]*events.Event{both, hoursOnly})

	latest, _ := tracker.GetLatest(coresKey)
	assert.Equal(t, "evt_1", latest.ID)
	latest, _ = tracker.GetLatest(hoursKey)
	assert.Equal(t, "evt_2", latest.ID)
}

func TestUsageConflictTracker_TrackUnpersistedAlwaysWins(t *testing.T) {
	seed := persisted("evt_1", trackerTimestamp.Add(time.Hour)).WithMeasurement("Cores", 5).Build()
	tracker := NewUsageConflictTracker([]*events.Event{seed})

	incoming := testutil.NewEventBuilder(trackerTimestamp).WithMeasurement("Cores", 7).Build()
	tracker.Track(incoming)

	latest, ok := tracker.GetLatest(coresKey)
	require.True(t, ok)
	assert.Same(t, incoming, latest)

	// a later unpersisted event replaces an earlier one
	next := testutil.NewEventBuilder(trackerTimestamp).WithMeasurement("Cores", 9).Build()
	tracker.Track(next)
	latest, _ = tracker.GetLatest(coresKey)
	assert.Same(t, next, latest)
}

func TestUsageConflictTracker_PersistedDoesNotReplaceUnpersisted(t *testing.T) {
	tracker := NewUsageConflictTracker(nil)

	inflight := testutil.NewEventBuilder(trackerTimestamp).WithMeasurement("Cores", 7).Build()
	tracker.Track(inflight)
	tracker.Track(persisted("evt_1", trackerTimestamp.Add(time.Hour)).WithMeasurement("Cores", 5).Build())

	latest, _ := tracker.GetLatest(coresKey)
	assert.Same(t, inflight, latest)
}

func TestUsageConflictTracker_TrackRespectsRecordDates(t *testing.T) {
	seed := persisted("evt_2", trackerTimestamp.Add(2*time.Hour)).WithMeasurement("Cores", 5).Build()
	tracker := NewUsageConflictTracker([]*events.Event{seed})

	tracker.Track(persisted("evt_1", trackerTimestamp.Add(time.Hour)).WithMeasurement("Cores", 1).Build())
	latest, _ := tracker.GetLatest(coresKey)
	assert.Equal(t, "evt_2", latest.ID)

	tracker.Track(persisted("evt_3", trackerTimestamp.Add(2*time.Hour)).WithMeasurement("Cores", 3).Build())
	latest, _ = tracker.GetLatest(coresKey)
	assert.Equal(t, "evt_3", latest.ID, "equal record dates: last tracked wins")
}

func TestUsageConflictTracker_RecordDatesNormalizedToMicroseconds(t *testing.T) {
	recordDate := trackerTimestamp.Add(time.Hour)
	first := persisted("", recordDate.Add(100*time.Nanosecond)).WithMeasurement("Cores", 5).Build()
	second := persisted("", recordDate.Add(900*time.Nanosecond)).WithMeasurement("Cores", 6).Build()

	tracker := NewUsageConflictTracker(nil)
	tracker.Track(first)
	tracker.Track(second)
	latest, _ := tracker.GetLatest(coresKey)
	assert.Same(t, second, latest)

	// processed in the other order, the one tracked last still wins
	tracker = NewUsageConflictTracker(nil)
	tracker.Track(second)
	tracker.Track(first)
	latest, _ = tracker.GetLatest(coresKey)
	assert.Same(t, first, latest)
}

func TestUsageConflictTracker_EqualRecordDateSeedsAreFlagged(t *testing.T) {
	recordDate := trackerTimestamp.Add(time.Hour)
	a := persisted("", recordDate).WithMeasurement("Cores", 5).Build()
	b := persisted("", recordDate.Add(500*time.Nanosecond)).WithMeasurement("Cores", 6).Build()

	tracker := NewUsageConflictTracker([]*events.Event{a, b})
	assert.Equal(t, []events.UsageConflictKey{coresKey}, tracker.Ties())

	latest, _ := tracker.GetLatest(coresKey)
	assert.Equal(t, "6", latest.Measurements[0].Value.String(), "seed order decides")
}

func TestUsageConflictTracker_EqualRecordDatesOrderedById(t *testing.T) {
	recordDate := trackerTimestamp.Add(time.Hour)
	a := persisted("evt_a", recordDate).WithMeasurement("Cores", 5).Build()
	b := persisted("evt_b", recordDate).WithMeasurement("Cores", 6).Build()

	tracker := NewUsageConflictTracker([]*events.Event{b, a})
	assert.Equal(t, []events.UsageConflictKey{coresKey}, tracker.Ties(), "resolved by id but still flagged")

	latest, _ := tracker.GetLatest(coresKey)
	assert.Equal(t, "evt_b", latest.ID)
}

func TestUsageConflictTracker_SeedsWithoutRecordDateAreLatest(t *testing.T) {
	undated := testutil.NewEventBuilder(trackerTimestamp).WithID("evt_undated").WithMeasurement("Cores", 1).Build()
	dated := persisted("evt_dated", trackerTimestamp.Add(time.Hour)).WithMeasurement("Cores", 2).Build()

	tracker := NewUsageConflictTracker([]*events.Event{undated, dated})
	latest, _ := tracker.GetLatest(coresKey)
	assert.Equal(t, "evt_undated", latest.ID)
}

func TestUsageConflictTracker_UOMMeasurements(t *testing.T) {
	seed := persisted("evt_1", trackerTimestamp.Add(time.Hour)).WithUOM("Cores", 5).Build()
	tracker := NewUsageConflictTracker([]*events.Event{seed})

	assert.True(t, tracker.Contains(coresKey))
}
