package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	v1 "github.com/flexprice/usageledger/internal/api/v1"
	"github.com/flexprice/usageledger/internal/config"
	"github.com/flexprice/usageledger/internal/domain/events"
	ierr "github.com/flexprice/usageledger/internal/errors"
	"github.com/flexprice/usageledger/internal/logger"
	pubsubRouter "github.com/flexprice/usageledger/internal/pubsub/router"
	"github.com/flexprice/usageledger/internal/service"
	"github.com/flexprice/usageledger/internal/types"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type MockEventProcessingService struct {
	mock.Mock
}

func (m *MockEventProcessingService) ProcessEvents(ctx context.Context, evts []*events.Event) (*service.ProcessResult, error) {
	args := m.Called(ctx, evts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ProcessResult), args.Error(1)
}

func (m *MockEventProcessingService) ProcessPayloads(ctx context.Context, payloads [][]byte) (*service.ProcessResult, error) {
	args := m.Called(ctx, payloads)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ProcessResult), args.Error(1)
}

func (m *MockEventProcessingService) PublishEvents(ctx context.Context, evts []*events.Event) error {
	args := m.Called(ctx, evts)
	return args.Error(0)
}

func (m *MockEventProcessingService) RegisterHandler(router *pubsubRouter.Router, cfg *config.Configuration) {
	m.Called(router, cfg)
}

const eventsBody = `{"events":[{
	"org_id":"org123",
	"event_type":"snapshot_openshift-container-platform",
	"event_source":"prometheus",
	"instance_id":"instance123",
	"timestamp":"2024-06-01T00:00:00Z",
	"product_tags":["OpenShift"],
	"measurements":[{"metric_id":"Cores","value":"5"}],
	"sla":"Premium"
}]}`

func newTestRouter(svc service.EventProcessingService, cfg *config.Configuration) http.Handler {
	log := logger.NewNoopLogger()
	return NewRouter(Handlers{
		Events: v1.NewEventsHandler(svc, log),
		Health: v1.NewHealthHandler(),
	}, cfg, log)
}

func doRequest(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	w := doRequest(newTestRouter(new(MockEventProcessingService), config.GetDefaultConfig()), http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(types.HeaderRequestID))
}

func TestProcessEvents(t *testing.T) {
	svc := new(MockEventProcessingService)
	svc.On("ProcessEvents", mock.MatchedBy(func(ctx context.Context) bool {
		return types.GetRequestID(ctx) == "req-1" && types.GetOrgID(ctx) == "org123"
	}), mock.MatchedBy(func(evts []*events.Event) bool {
		return len(evts) == 1 && evts[0].Measurements[0].Value.String() == "5" && evts[0].Sla == "Premium"
	})).Return(&service.ProcessResult{Received: 1, Records: 1}, nil)

	w := doRequest(newTestRouter(svc, config.GetDefaultConfig()), http.MethodPost, "/v1/internal/events", eventsBody, map[string]string{
		types.HeaderRequestID: "req-1",
		types.HeaderOrgID:     "org123",
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "req-1", w.Header().Get(types.HeaderRequestID))

	var resp map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp["received"])
	assert.Equal(t, 1, resp["records"])
	svc.AssertExpectations(t)
}

func TestProcessEvents_BadRequest(t *testing.T) {
	svc := new(MockEventProcessingService)

	w := doRequest(newTestRouter(svc, config.GetDefaultConfig()), http.MethodPost, "/v1/internal/events", `{"events":`, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp ierr.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "Invalid request format", resp.Error.Display)
	svc.AssertNotCalled(t, "ProcessEvents", mock.Anything, mock.Anything)
}

func TestProcessEvents_ServiceError(t *testing.T) {
	svc := new(MockEventProcessingService)
	svc.On("ProcessEvents", mock.Anything, mock.Anything).Return(nil,
		ierr.NewError("connection refused").WithHint("Failed to look up existing usage").Mark(ierr.ErrDatabase))

	w := doRequest(newTestRouter(svc, config.GetDefaultConfig()), http.MethodPost, "/v1/internal/events", eventsBody, nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
	assert.Contains(t, w.Body.String(), "Failed to look up existing usage")
}

func TestPublishEvents(t *testing.T) {
	svc := new(MockEventProcessingService)
	svc.On("PublishEvents", mock.Anything, mock.Anything).Return(nil)

	w := doRequest(newTestRouter(svc, config.GetDefaultConfig()), http.MethodPost, "/v1/internal/events/publish", eventsBody, nil)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"published":1}`, w.Body.String())
}

func TestRateLimit(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.API.RateLimit = 0.001
	cfg.API.Burst = 1

	svc := new(MockEventProcessingService)
	svc.On("PublishEvents", mock.Anything, mock.Anything).Return(nil)
	router := newTestRouter(svc, cfg)

	w := doRequest(router, http.MethodPost, "/v1/internal/events/publish", eventsBody, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = doRequest(router, http.MethodPost, "/v1/internal/events/publish", eventsBody, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w = doRequest(router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
