package events

import (
	"github.com/flexprice/usageledger/internal/types"
	"github.com/shopspring/decimal"
)

// NewDeduction builds the record that cancels the usage previously recorded by
// superseded for key. It copies the identity and descriptor of superseded, carries
// only the key's product tag and a single measurement of -previous, and has no id or
// record date until it is persisted. decimal has no negative zero, so deducting a
// previous value of zero yields a measurement of 0 rather than -0.0.
func NewDeduction(superseded *Event, key UsageConflictKey, previous decimal.Decimal) *Event {
	m := &Measurement{Value: previous.Neg()}
	if orig, ok := superseded.FindMeasurement(key.MetricID); ok {
		m.MetricID = orig.MetricID
		m.UOM = orig.UOM
	} else {
		m.MetricID = key.MetricID
	}

	return &Event{
		OrgID:           superseded.OrgID,
		EventType:       superseded.EventType,
		EventSource:     superseded.EventSource,
		InstanceID:      superseded.InstanceID,
		Timestamp:       superseded.Timestamp,
		DisplayName:     superseded.DisplayName,
		Role:            superseded.Role,
		UsageDescriptor: superseded.UsageDescriptor,
		ProductTags:     []string{key.ProductTag},
		Measurements:    []*Measurement{m},
		AmendmentType:   types.AmendmentTypeDeduction,
	}
}
