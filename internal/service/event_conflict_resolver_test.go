package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/flexprice/usageledger/internal/domain/events"
	ierr "github.com/flexprice/usageledger/internal/errors"
	"github.com/flexprice/usageledger/internal/testutil"
	"github.com/flexprice/usageledger/internal/types"
	"github.com/stretchr/testify/suite"
)

type EventConflictResolverSuite struct {
	testutil.BaseServiceTestSuite
	resolver  EventConflictResolver
	timestamp time.Time
}

func TestEventConflictResolver(t *testing.T) {
	suite.Run(t, new(EventConflictResolverSuite))
}

func (s *EventConflictResolverSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.resolver = NewEventConflictResolver(s.GetStores().EventRepo, s.GetLogger())
	s.timestamp = s.GetNow().Add(-24 * time.Hour)
}

func (s *EventConflictResolverSuite) event() *testutil.EventBuilder {
	return testutil.NewEventBuilder(s.timestamp)
}

// persist seeds the ledger with builders as records written one minute apart, the
// last one a minute before now.
func (s *EventConflictResolverSuite) persist(builders ...*testutil.EventBuilder) {
	for i, b := range builders {
		recordDate := s.GetNow().Add(-time.Duration(len(builders)-i) * time.Minute)
		s.Require().NoError(s.GetStores().EventRepo.Seed(s.GetContext(), b.WithRecordDate(recordDate).Build()))
	}
}

func (s *EventConflictResolverSuite) resolve(incoming ...*events.Event) []*events.Event {
	out, err := s.resolver.ResolveIncomingEvents(s.GetContext(), incoming)
	s.Require().NoError(err)
	return out
}

func (s *EventConflictResolverSuite) assertDeduction(e *events.Event, tag, metricID, value string) {
	s.Equal(types.AmendmentTypeDeduction, e.AmendmentType)
	s.Equal([]string{tag}, e.ProductTags)
	s.Require().Len(e.Measurements, 1)
	s.Equal(metricID, e.Measurements[0].EffectiveMetricID())
	s.Equal(value, e.Measurements[0].Value.String())
	s.Empty(e.ID)
	s.Nil(e.RecordDate)
}

func (s *EventConflictResolverSuite) assertRecord(e *events.Event, values map[string]string) {
	s.False(e.IsDeduction())
	s.Require().Len(e.Measurements, len(values))
	for _, m := range e.Measurements {
		s.Equal(values[m.EffectiveMetricID()], m.Value.String(), m.EffectiveMetricID())
	}
}

func (s *EventConflictResolverSuite) TestEmptyInput() {
	out := s.resolve()
	s.Empty(out)
	s.Equal(0, s.GetStores().EventRepo.FindCalls())
}

func (s *EventConflictResolverSuite) TestOriginalEventPassesThrough() {
	incoming := s.event().WithMeasurement("Cores", 5).Build()

	out := s.resolve(incoming)

	s.Require().Len(out, 1)
	s.Same(incoming, out[0])
}

func (s *EventConflictResolverSuite) TestIdenticalEventIsDropped() {
	s.persist(s.event().WithMeasurement("Cores", 5))

	out := s.resolve(s.event().WithMeasurement("Cores", 5).Build())

	s.Empty(out)
}

func (s *EventConflictResolverSuite) TestSubMicrosecondTimestampIsSameIdentity() {
	s.persist(s.event().WithMeasurement("Cores", 5))

	incoming := testutil.NewEventBuilder(s.timestamp.Add(400 * time.Nanosecond)).WithMeasurement("Cores", 5).Build()

	s.Empty(s.resolve(incoming))
}

func (s *EventConflictResolverSuite) TestCorrectiveValueChange() {
	s.persist(s.event().WithMeasurement("Cores", 5))

	out := s.resolve(s.event().WithMeasurement("Cores", 15).Build())

	s.Require().Len(out, 2)
	s.assertDeduction(out[0], "OpenShift", "Cores", "-5")
	s.Equal("Premium", out[0].Sla)
	s.assertRecord(out[1], map[string]string{"Cores": "15"})
}

func (s *EventConflictResolverSuite) TestCorrectiveWithAddedMetric() {
	s.persist(s.event().WithMeasurement("Cores", 5))

	out := s.resolve(s.event().WithMeasurement("Cores", 15).WithMeasurement("Instance-hours", 15).Build())

	s.Require().Len(out, 2)
	s.assertDeduction(out[0], "OpenShift", "Cores", "-5")
	s.assertRecord(out[1], map[string]string{"Cores": "15", "Instance-hours": "15"})
}

func (s *EventConflictResolverSuite) TestKeyMissingFromNewerEventIsLeftUntouched() {
	s.persist(s.event().WithMeasurement("Cores", 5).WithMeasurement("Instance-hours", 1))

	out := s.resolve(s.event().WithMeasurement("Cores", 6).Build())

	s.Require().Len(out, 2)
	s.assertDeduction(out[0], "OpenShift", "Cores", "-5")
	s.assertRecord(out[1], map[string]string{"Cores": "6"})
}

func (s *EventConflictResolverSuite) TestContextualChangeDeductsUnderPreviousDescriptor() {
	s.persist(s.event().WithMeasurement("Cores", 5))

	out := s.resolve(s.event().WithSla("Standard").WithMeasurement("Cores", 5).Build())

	s.Require().Len(out, 2)
	s.assertDeduction(out[0], "OpenShift", "Cores", "-5")
	s.Equal("Premium", out[0].Sla)
	s.assertRecord(out[1], map[string]string{"Cores": "5"})
	s.Equal("Standard", out[1].Sla)
}

func (s *EventConflictResolverSuite) TestComprehensiveChange() {
	s.persist(s.event().WithMeasurement("Cores", 5))

	out := s.resolve(s.event().WithBillingProvider("aws", "acct-1").WithMeasurement("Cores", 8).Build())

	s.Require().Len(out, 2)
	s.assertDeduction(out[0], "OpenShift", "Cores", "-5")
	s.Empty(out[0].BillingProvider)
	s.Equal("aws", out[1].BillingProvider)
}

func (s *EventConflictResolverSuite) TestDeductionsDoNotAffectLatest() {
	s.persist(
		s.event().WithMeasurement("Cores", 5),
		s.event().WithMeasurement("Cores", -5).AsDeduction(),
		s.event().WithMeasurement("Cores", 15),
	)

	out := s.resolve(s.event().WithMeasurement("Cores", 25).Build())

	s.Require().Len(out, 2)
	s.assertDeduction(out[0], "OpenShift", "Cores", "-15")
	s.assertRecord(out[1], map[string]string{"Cores": "25"})
}

func (s *EventConflictResolverSuite) TestBatchResolvesAgainstEarlierIncoming() {
	a := s.event().WithMeasurement("Cores", 1).Build()
	b := s.event().WithMeasurement("Cores", 10).Build()
	c := s.event().WithMeasurement("Cores", 100).Build()

	out := s.resolve(a, b, c)

	s.Require().Len(out, 5)
	s.Same(a, out[0])
	s.assertDeduction(out[1], "OpenShift", "Cores", "-1")
	s.Same(b, out[2])
	s.assertDeduction(out[3], "OpenShift", "Cores", "-10")
	s.Same(c, out[4])
}

func (s *EventConflictResolverSuite) TestDuplicateWithinBatchIsDropped() {
	out := s.resolve(
		s.event().WithMeasurement("Cores", 1).Build(),
		s.event().WithMeasurement("Cores", 1).Build(),
	)

	s.Len(out, 1)
}

func (s *EventConflictResolverSuite) TestOneDeductionPerConflictKey() {
	s.persist(s.event().WithTags("OpenShift", "RHEL").WithMeasurement("Cores", 5).WithMeasurement("Instance-hours", 1))

	out := s.resolve(s.event().WithTags("OpenShift", "RHEL").WithMeasurement("Cores", 6).WithMeasurement("Instance-hours", 2).Build())

	s.Require().Len(out, 5)
	s.assertDeduction(out[0], "OpenShift", "Cores", "-5")
	s.assertDeduction(out[1], "RHEL", "Cores", "-5")
	s.assertDeduction(out[2], "OpenShift", "Instance-hours", "-1")
	s.assertDeduction(out[3], "RHEL", "Instance-hours", "-1")
	s.Equal([]string{"OpenShift", "RHEL"}, out[4].ProductTags)
}

func (s *EventConflictResolverSuite) TestConflictKeysResolveIndependently() {
	s.persist(
		s.event().WithTags("OpenShift").WithMeasurement("Cores", 5),
		s.event().WithTags("RHEL").WithMeasurement("Cores", 7),
	)

	out := s.resolve(s.event().WithTags("OpenShift", "RHEL").WithMeasurement("Cores", 7).Build())

	s.Require().Len(out, 2)
	s.assertDeduction(out[0], "OpenShift", "Cores", "-5")
	s.Equal([]string{"OpenShift"}, out[1].ProductTags, "unchanged RHEL usage is not recorded again")
	s.assertRecord(out[1], map[string]string{"Cores": "7"})
}

func (s *EventConflictResolverSuite) TestPartialDuplicateKeepsOnlyChangedMetrics() {
	s.persist(s.event().WithMeasurement("Cores", 5).WithMeasurement("Instance-hours", 1))

	out := s.resolve(s.event().WithMeasurement("Cores", 5).WithMeasurement("Instance-hours", 2).Build())

	s.Require().Len(out, 2)
	s.assertDeduction(out[0], "OpenShift", "Instance-hours", "-1")
	s.assertRecord(out[1], map[string]string{"Instance-hours": "2"})
}

func (s *EventConflictResolverSuite) TestUOMMeasurements() {
	s.persist(s.event().WithUOM("Cores", 5))

	s.Empty(s.resolve(s.event().WithMeasurement("Cores", 5).Build()), "uom and metric id name the same key")

	out := s.resolve(s.event().WithUOM("Cores", 8).Build())
	s.Require().Len(out, 2)
	s.assertDeduction(out[0], "OpenShift", "Cores", "-5")
	s.Equal("Cores", out[0].Measurements[0].UOM)
	s.Empty(out[0].Measurements[0].MetricID)
}

func (s *EventConflictResolverSuite) TestZeroValueIsDeducted() {
	s.persist(s.event().WithMeasurement("Cores", 0))

	out := s.resolve(s.event().WithMeasurement("Cores", 3).Build())

	s.Require().Len(out, 2)
	s.assertDeduction(out[0], "OpenShift", "Cores", "0")
}

func (s *EventConflictResolverSuite) TestResolvingPersistedOutputAgainIsNoop() {
	incoming := []*events.Event{
		s.event().WithMeasurement("Cores", 1).Build(),
		s.event().WithMeasurement("Cores", 4).WithMeasurement("Instance-hours", 1).Build(),
	}
	s.persist(s.event().WithMeasurement("Cores", 2))

	out := s.resolve(incoming...)
	_, err := s.GetStores().EventRepo.SaveAll(s.GetContext(), out)
	s.Require().NoError(err)

	s.Empty(s.resolve(s.event().WithMeasurement("Cores", 4).WithMeasurement("Instance-hours", 1).Build()))
}

func (s *EventConflictResolverSuite) TestSingleLookupForAllIdentities() {
	out := s.resolve(
		s.event().WithInstance("a").WithMeasurement("Cores", 1).Build(),
		s.event().WithInstance("b").WithMeasurement("Cores", 1).Build(),
		s.event().WithInstance("a").WithMeasurement("Cores", 2).Build(),
	)

	s.Len(out, 4)
	s.Equal(1, s.GetStores().EventRepo.FindCalls())
}

func (s *EventConflictResolverSuite) TestIdentitiesDoNotInteract() {
	s.persist(s.event().WithInstance("a").WithMeasurement("Cores", 5))

	out := s.resolve(s.event().WithInstance("b").WithMeasurement("Cores", 5).Build())

	s.Require().Len(out, 1)
	s.Equal("b", out[0].InstanceID)
}

func (s *EventConflictResolverSuite) TestLookupFailure() {
	s.GetStores().EventRepo.SetFindError(fmt.Errorf("connection refused"))

	_, err := s.resolver.ResolveIncomingEvents(s.GetContext(), []*events.Event{s.event().WithMeasurement("Cores", 1).Build()})

	s.Error(err)
	s.True(ierr.IsDatabase(err))
}

func (s *EventConflictResolverSuite) TestMalformedEventRejectsBatch() {
	valid := s.event().WithMeasurement("Cores", 1).Build()
	noMeasurements := s.event().Build()

	_, err := s.resolver.ResolveIncomingEvents(s.GetContext(), []*events.Event{valid, noMeasurements})
	s.True(ierr.IsValidation(err))

	_, err = s.resolver.ResolveIncomingEvents(s.GetContext(), []*events.Event{valid, nil})
	s.True(ierr.IsValidation(err))

	s.Equal(0, s.GetStores().EventRepo.FindCalls())
}
