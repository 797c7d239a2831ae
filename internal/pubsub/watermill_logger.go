package pubsub

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/flexprice/usageledger/internal/logger"
)

// watermillLogger adapts our Logger to watermill's LoggerAdapter
type watermillLogger struct {
	logger *logger.Logger
	fields watermill.LogFields
}

func NewWatermillLogger(l *logger.Logger) watermill.LoggerAdapter {
	return &watermillLogger{logger: l}
}

func (w *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.logger.Errorw(msg, w.keysAndValues(fields, "error", err)...)
}

func (w *watermillLogger) Info(msg string, fields watermill.LogFields) {
	w.logger.Infow(msg, w.keysAndValues(fields)...)
}

func (w *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.logger.Debugw(msg, w.keysAndValues(fields)...)
}

// Trace is noisy (per message acks) and goes to debug.
func (w *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.logger.Debugw(msg, w.keysAndValues(fields)...)
}

func (w *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{
		logger: w.logger,
		fields: w.fields.Add(fields),
	}
}

func (w *watermillLogger) keysAndValues(fields watermill.LogFields, extra ...interface{}) []interface{} {
	all := w.fields.Add(fields)
	kv := make([]interface{}, 0, len(all)*2+len(extra))
	for k, v := range all {
		kv = append(kv, k, v)
	}
	return append(kv, extra...)
}
