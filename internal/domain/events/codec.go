package events

import (
	ierr "github.com/flexprice/usageledger/internal/errors"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// storedData is the part of an event that stores keep as one JSON document next to
// the indexed identity columns.
type storedData struct {
	ProductTags  []string       `json:"product_tags"`
	Measurements []*Measurement `json:"measurements"`
	DisplayName  string         `json:"display_name,omitempty"`
	Role         string         `json:"role,omitempty"`

	UsageDescriptor
}

// EncodeData returns the JSON document holding the tags, measurements and
// descriptor of e.
func EncodeData(e *Event) ([]byte, error) {
	data, err := json.Marshal(storedData{
		ProductTags:     e.ProductTags,
		Measurements:    e.Measurements,
		DisplayName:     e.DisplayName,
		Role:            e.Role,
		UsageDescriptor: e.UsageDescriptor,
	})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to encode event").
			Mark(ierr.ErrInternal)
	}
	return data, nil
}

// DecodeData fills e from a document written by EncodeData.
func DecodeData(e *Event, data []byte) error {
	var d storedData
	if err := json.Unmarshal(data, &d); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to decode stored event").
			WithReportableDetails(map[string]interface{}{"event_id": e.ID}).
			Mark(ierr.ErrInternal)
	}
	e.ProductTags = d.ProductTags
	e.Measurements = d.Measurements
	e.DisplayName = d.DisplayName
	e.Role = d.Role
	e.UsageDescriptor = d.UsageDescriptor
	return nil
}
