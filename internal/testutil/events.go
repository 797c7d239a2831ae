package testutil

import (
	"time"

	"github.com/flexprice/usageledger/internal/domain/events"
	"github.com/flexprice/usageledger/internal/types"
	"github.com/shopspring/decimal"
)

// EventBuilder builds usage events for tests. Defaults describe one OpenShift
// instance with a Premium/Production descriptor.
type EventBuilder struct {
	e *events.Event
}

func NewEventBuilder(timestamp time.Time) *EventBuilder {
	return &EventBuilder{e: &events.Event{
		OrgID:       "org123",
		EventType:   "snapshot_openshift-container-platform",
		EventSource: "prometheus",
		InstanceID:  "instance123",
		Timestamp:   timestamp,
		ProductTags: []string{"OpenShift"},
		UsageDescriptor: events.UsageDescriptor{
			ServiceType: "OpenShift Cluster",
			Sla:         "Premium",
			Usage:       "Production",
		},
	}}
}

func (b *EventBuilder) WithID(id string) *EventBuilder {
	b.e.ID = id
	return b
}

func (b *EventBuilder) WithOrg(orgID string) *EventBuilder {
	b.e.OrgID = orgID
	return b
}

func (b *EventBuilder) WithInstance(instanceID string) *EventBuilder {
	b.e.InstanceID = instanceID
	return b
}

func (b *EventBuilder) WithRecordDate(t time.Time) *EventBuilder {
	b.e.RecordDate = &t
	return b
}

func (b *EventBuilder) WithTags(tags ...string) *EventBuilder {
	b.e.ProductTags = tags
	return b
}

// WithMeasurement adds a measurement keyed by metric id.
func (b *EventBuilder) WithMeasurement(metricID string, value float64) *EventBuilder {
	b.e.Measurements = append(b.e.Measurements, &events.Measurement{
		MetricID: metricID,
		Value:    decimal.NewFromFloat(value),
	})
	return b
}

// WithUOM adds a measurement keyed by the legacy unit of measure.
func (b *EventBuilder) WithUOM(uom string, value float64) *EventBuilder {
	b.e.Measurements = append(b.e.Measurements, &events.Measurement{
		UOM:   uom,
		Value: decimal.NewFromFloat(value),
	})
	return b
}

func (b *EventBuilder) WithSla(sla string) *EventBuilder {
	b.e.Sla = sla
	return b
}

func (b *EventBuilder) WithUsage(usage string) *EventBuilder {
	b.e.Usage = usage
	return b
}

func (b *EventBuilder) WithBillingProvider(provider, accountID string) *EventBuilder {
	b.e.BillingProvider = provider
	b.e.BillingAccountID = accountID
	return b
}

func (b *EventBuilder) AsDeduction() *EventBuilder {
	b.e.AmendmentType = types.AmendmentTypeDeduction
	return b
}

func (b *EventBuilder) Build() *events.Event {
	return b.e.Copy()
}
