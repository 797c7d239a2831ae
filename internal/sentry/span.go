package sentry

import (
	"context"

	"github.com/getsentry/sentry-go"
)

// StartRepositorySpan starts a span for a repository call. It returns nil when no
// Sentry client is configured; the other span helpers accept nil.
func StartRepositorySpan(ctx context.Context, repository, operation string, params map[string]interface{}) *sentry.Span {
	if sentry.CurrentHub().Client() == nil && sentry.GetHubFromContext(ctx) == nil {
		return nil
	}

	span := sentry.StartSpan(ctx, "db.repository")
	span.Description = repository + "." + operation
	span.SetTag("repository", repository)
	span.SetTag("operation", operation)
	for k, v := range params {
		span.SetData(k, v)
	}
	return span
}

func FinishSpan(span *sentry.Span) {
	if span == nil {
		return
	}
	span.Finish()
}

func SetSpanError(span *sentry.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.Status = sentry.SpanStatusInternalError
	span.SetData("error", err.Error())
}

func SetSpanSuccess(span *sentry.Span) {
	if span == nil {
		return
	}
	span.Status = sentry.SpanStatusOK
}
