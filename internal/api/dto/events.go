package dto

import (
	"github.com/flexprice/usageledger/internal/domain/events"
	"github.com/flexprice/usageledger/internal/service"
)

// ProcessEventsRequest carries a batch of usage events. Events are validated one by
// one by the service; invalid ones are dropped and counted.
type ProcessEventsRequest struct {
	Events []*events.Event `json:"events" binding:"required,min=1"`
}

type ProcessEventsResponse struct {
	Received   int `json:"received"`
	Invalid    int `json:"invalid"`
	Failed     int `json:"failed"`
	Records    int `json:"records"`
	Deductions int `json:"deductions"`
}

func NewProcessEventsResponse(r *service.ProcessResult) *ProcessEventsResponse {
	return &ProcessEventsResponse{
		Received:   r.Received,
		Invalid:    r.Invalid,
		Failed:     r.Failed,
		Records:    r.Records,
		Deductions: r.Deductions,
	}
}

type PublishEventsResponse struct {
	Published int `json:"published"`
}
