package v1

import (
	"net/http"

	"github.com/flexprice/usageledger/internal/api/dto"
	ierr "github.com/flexprice/usageledger/internal/errors"
	"github.com/flexprice/usageledger/internal/logger"
	"github.com/flexprice/usageledger/internal/service"
	"github.com/gin-gonic/gin"
)

type EventsHandler struct {
	service service.EventProcessingService
	log     *logger.Logger
}

func NewEventsHandler(service service.EventProcessingService, log *logger.Logger) *EventsHandler {
	return &EventsHandler{service: service, log: log}
}

// @Summary Process usage events
// @Description Resolve a batch of usage events against the ledger and persist the result synchronously
// @Tags Events
// @Accept json
// @Produce json
// @Param request body dto.ProcessEventsRequest true "Usage events"
// @Success 200 {object} dto.ProcessEventsResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /internal/events [post]
func (h *EventsHandler) ProcessEvents(c *gin.Context) {
	var req dto.ProcessEventsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Errorw("failed to bind JSON", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	result, err := h.service.ProcessEvents(c.Request.Context(), req.Events)
	if err != nil {
		h.log.Errorw("failed to process events", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.NewProcessEventsResponse(result))
}

// @Summary Publish usage events
// @Description Publish a batch of usage events to the usage topic for asynchronous processing
// @Tags Events
// @Accept json
// @Produce json
// @Param request body dto.ProcessEventsRequest true "Usage events"
// @Success 202 {object} dto.PublishEventsResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /internal/events/publish [post]
func (h *EventsHandler) PublishEvents(c *gin.Context) {
	var req dto.ProcessEventsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Errorw("failed to bind JSON", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	if err := h.service.PublishEvents(c.Request.Context(), req.Events); err != nil {
		h.log.Errorw("failed to publish events", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, dto.PublishEventsResponse{Published: len(req.Events)})
}
