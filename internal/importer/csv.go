package importer

import (
	"io"
	"strings"
	"time"

	"github.com/flexprice/usageledger/internal/domain/events"
	ierr "github.com/flexprice/usageledger/internal/errors"
	"github.com/gocarina/gocsv"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// UsageRowCSV is one measurement of one usage event. Consecutive rows describing the
// same event (same identity, tags and descriptor) are merged into one event.
type UsageRowCSV struct {
	OrgID            string `csv:"org_id"`
	EventType        string `csv:"event_type"`
	EventSource      string `csv:"event_source"`
	InstanceID       string `csv:"instance_id"`
	Timestamp        string `csv:"timestamp"`
	ProductTags      string `csv:"product_tags"`
	MetricID         string `csv:"metric_id"`
	UOM              string `csv:"uom"`
	Value            string `csv:"value"`
	ServiceType      string `csv:"service_type"`
	Sla              string `csv:"sla"`
	Usage            string `csv:"usage"`
	HardwareType     string `csv:"hardware_type"`
	BillingProvider  string `csv:"billing_provider"`
	BillingAccountID string `csv:"billing_account_id"`
	DisplayName      string `csv:"display_name"`
}

// RowError reports a row that could not be converted. Line is 1-based and counts the
// header.
type RowError struct {
	Line int
	Err  error
}

// TagSeparator separates product tags within the product_tags column.
const TagSeparator = "|"

// ReadEvents parses usage rows from r and converts them to events. Rows that cannot
// be converted are skipped and reported; a malformed file fails as a whole.
func ReadEvents(r io.Reader) ([]*events.Event, []RowError, error) {
	var rows []*UsageRowCSV
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, nil, ierr.WithError(err).
			WithHint("Failed to parse usage CSV").
			Mark(ierr.ErrValidation)
	}

	evts := make([]*events.Event, 0, len(rows))
	var rowErrors []RowError
	var last *events.Event
	for i, row := range rows {
		e, err := row.toEvent()
		if err != nil {
			rowErrors = append(rowErrors, RowError{Line: i + 2, Err: err})
			continue
		}

		if last != nil && sameEvent(last, e) {
			last.Measurements = append(last.Measurements, e.Measurements...)
			continue
		}
		evts = append(evts, e)
		last = e
	}

	return evts, rowErrors, nil
}

func (row *UsageRowCSV) toEvent() (*events.Event, error) {
	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(row.Timestamp))
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Invalid timestamp %q", row.Timestamp).
			Mark(ierr.ErrValidation)
	}

	value, err := decimal.NewFromString(strings.TrimSpace(row.Value))
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Invalid value %q", row.Value).
			Mark(ierr.ErrValidation)
	}

	tags := lo.Compact(lo.Map(strings.Split(row.ProductTags, TagSeparator), func(tag string, _ int) string {
		return strings.TrimSpace(tag)
	}))

	return &events.Event{
		OrgID:       row.OrgID,
		EventType:   row.EventType,
		EventSource: row.EventSource,
		InstanceID:  row.InstanceID,
		Timestamp:   ts,
		ProductTags: tags,
		Measurements: []*events.Measurement{{
			MetricID: row.MetricID,
			UOM:      row.UOM,
			Value:    value,
		}},
		DisplayName: row.DisplayName,
		UsageDescriptor: events.UsageDescriptor{
			ServiceType:      row.ServiceType,
			Sla:              row.Sla,
			Usage:            row.Usage,
			HardwareType:     row.HardwareType,
			BillingProvider:  row.BillingProvider,
			BillingAccountID: row.BillingAccountID,
		},
	}, nil
}

func sameEvent(a, b *events.Event) bool {
	return events.NewEventKey(a) == events.NewEventKey(b) &&
		a.Descriptor() == b.Descriptor() &&
		a.DisplayName == b.DisplayName &&
		strings.Join(a.ProductTags, TagSeparator) == strings.Join(b.ProductTags, TagSeparator)
}
