package events

import (
	"time"

	ierr "github.com/flexprice/usageledger/internal/errors"
	"github.com/flexprice/usageledger/internal/types"
	"github.com/flexprice/usageledger/internal/validator"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Event is one reported usage record: a set of measured quantities for a set of
// product tags, observed for one instance at one timestamp. Persisted records also
// carry an id and the record date at which they were written.
type Event struct {
	ID            string              `json:"id,omitempty"`
	OrgID         string              `json:"org_id" validate:"required"`
	EventType     string              `json:"event_type" validate:"required"`
	EventSource   string              `json:"event_source" validate:"required"`
	InstanceID    string              `json:"instance_id" validate:"required"`
	Timestamp     time.Time           `json:"timestamp" validate:"required"`
	RecordDate    *time.Time          `json:"record_date,omitempty"`
	ProductTags   []string            `json:"product_tags" validate:"required,min=1,dive,required"`
	Measurements  []*Measurement      `json:"measurements" validate:"required,min=1,dive,required"`
	AmendmentType types.AmendmentType `json:"amendment_type,omitempty" validate:"omitempty,oneof=DEDUCTION"`
	DisplayName   string              `json:"display_name,omitempty"`
	Role          string              `json:"role,omitempty"`

	UsageDescriptor
}

// Measurement is a single quantity. MetricID is preferred; UOM is the legacy name of
// the same concept and is used when MetricID is empty.
type Measurement struct {
	MetricID string          `json:"metric_id,omitempty" validate:"required_without=UOM"`
	UOM      string          `json:"uom,omitempty"`
	Value    decimal.Decimal `json:"value"`
}

// UsageDescriptor is the billing context of an event. Two events reporting the same
// value under different descriptors are not duplicates.
type UsageDescriptor struct {
	ServiceType      string `json:"service_type,omitempty"`
	Sla              string `json:"sla,omitempty"`
	Usage            string `json:"usage,omitempty"`
	HardwareType     string `json:"hardware_type,omitempty"`
	BillingProvider  string `json:"billing_provider,omitempty"`
	BillingAccountID string `json:"billing_account_id,omitempty"`
}

// EffectiveMetricID returns MetricID, or UOM when no metric id is set.
func (m *Measurement) EffectiveMetricID() string {
	if m.MetricID != "" {
		return m.MetricID
	}
	return m.UOM
}

func (m *Measurement) Copy() *Measurement {
	return &Measurement{
		MetricID: m.MetricID,
		UOM:      m.UOM,
		Value:    m.Value,
	}
}

// FindMeasurement returns the measurement whose effective metric id is metricID.
func (e *Event) FindMeasurement(metricID string) (*Measurement, bool) {
	return lo.Find(e.Measurements, func(m *Measurement) bool {
		return m.EffectiveMetricID() == metricID
	})
}

// Descriptor returns the usage descriptor of the event.
func (e *Event) Descriptor() UsageDescriptor {
	return e.UsageDescriptor
}

func (e *Event) IsDeduction() bool {
	return e.AmendmentType.IsDeduction()
}

// Copy returns a deep copy of the event.
func (e *Event) Copy() *Event {
	out := &Event{
		ID:              e.ID,
		OrgID:           e.OrgID,
		EventType:       e.EventType,
		EventSource:     e.EventSource,
		InstanceID:      e.InstanceID,
		Timestamp:       e.Timestamp,
		AmendmentType:   e.AmendmentType,
		DisplayName:     e.DisplayName,
		Role:            e.Role,
		UsageDescriptor: e.UsageDescriptor,
		ProductTags:     append([]string(nil), e.ProductTags...),
		Measurements: lo.Map(e.Measurements, func(m *Measurement, _ int) *Measurement {
			return m.Copy()
		}),
	}
	if e.RecordDate != nil {
		rd := *e.RecordDate
		out.RecordDate = &rd
	}
	return out
}

// Validate checks that the event can be keyed: identity fields present, at least one
// product tag and measurement, no duplicated tags and no two measurements for the
// same metric.
func (e *Event) Validate() error {
	if err := validator.ValidateRequest(e); err != nil {
		return err
	}

	if dup := lo.FindDuplicates(e.ProductTags); len(dup) > 0 {
		return ierr.NewError("duplicate product tags").
			WithHint("Each product tag may appear only once per event").
			WithReportableDetails(map[string]interface{}{
				"product_tags": dup,
			}).
			Mark(ierr.ErrValidation)
	}

	metricIDs := lo.Map(e.Measurements, func(m *Measurement, _ int) string {
		return m.EffectiveMetricID()
	})
	if dup := lo.FindDuplicates(metricIDs); len(dup) > 0 {
		return ierr.NewError("duplicate metric ids").
			WithHint("Each metric may be measured only once per event").
			WithReportableDetails(map[string]interface{}{
				"metric_ids": dup,
			}).
			Mark(ierr.ErrValidation)
	}

	return nil
}
