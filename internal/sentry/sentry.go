package sentry

import (
	"context"
	"time"

	"github.com/flexprice/usageledger/internal/config"
	"github.com/flexprice/usageledger/internal/logger"
	"github.com/getsentry/sentry-go"
)

// Service reports errors to Sentry. The zero value is a disabled service.
type Service struct {
	cfg    *config.Configuration
	logger *logger.Logger
}

func NewSentryService(cfg *config.Configuration, log *logger.Logger) *Service {
	if !cfg.Sentry.Enabled {
		log.Infow("sentry is disabled")
		return &Service{cfg: cfg, logger: log}
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.Sentry.DSN,
		Environment:      cfg.Sentry.Environment,
		EnableTracing:    true,
		TracesSampleRate: cfg.Sentry.SampleRate,
		AttachStacktrace: true,
	})
	if err != nil {
		log.Errorw("failed to initialize sentry, continuing without it", "error", err)
		cfg.Sentry.Enabled = false
	}

	return &Service{cfg: cfg, logger: log}
}

func (s *Service) IsEnabled() bool {
	return s != nil && s.cfg != nil && s.cfg.Sentry.Enabled
}

// CaptureException reports err if Sentry is enabled.
func (s *Service) CaptureException(err error) {
	if !s.IsEnabled() || err == nil {
		return
	}
	sentry.CaptureException(err)
}

// CaptureExceptionWithContext reports err on the hub bound to ctx, falling back to
// the current hub.
func (s *Service) CaptureExceptionWithContext(ctx context.Context, err error, tags map[string]string) {
	if !s.IsEnabled() || err == nil {
		return
	}
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		hub.CaptureException(err)
	})
}

func (s *Service) Flush(timeout time.Duration) bool {
	if !s.IsEnabled() {
		return true
	}
	return sentry.Flush(timeout)
}
