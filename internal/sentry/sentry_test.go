package sentry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/flexprice/usageledger/internal/config"
	"github.com/flexprice/usageledger/internal/logger"
	"github.com/stretchr/testify/assert"
)

func TestDisabledServiceIsNoop(t *testing.T) {
	svc := NewSentryService(config.GetDefaultConfig(), logger.NewNoopLogger())
	assert.False(t, svc.IsEnabled())

	svc.CaptureException(fmt.Errorf("boom"))
	svc.CaptureExceptionWithContext(context.Background(), fmt.Errorf("boom"), nil)
	assert.True(t, svc.Flush(time.Millisecond))

	var zero *Service
	assert.False(t, zero.IsEnabled())
	(&Service{}).CaptureException(fmt.Errorf("boom"))
}

func TestSpanHelpersAcceptNil(t *testing.T) {
	span := StartRepositorySpan(context.Background(), "event", "save_all", map[string]interface{}{"count": 2})
	assert.Nil(t, span)

	SetSpanError(span, fmt.Errorf("boom"))
	SetSpanSuccess(span)
	FinishSpan(span)
}
