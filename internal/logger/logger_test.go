package logger

import (
	"context"
	"testing"

	"github.com/flexprice/usageledger/internal/config"
	"github.com/flexprice/usageledger/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerFromDefaultConfig(t *testing.T) {
	l, err := NewLogger(config.GetDefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Nil(t, l.fluentdLogger)
}

func TestWithContextAddsIDs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := &Logger{SugaredLogger: zap.New(core).Sugar()}

	ctx := types.SetRequestID(context.Background(), "req-1")
	ctx = types.SetOrgID(ctx, "org-1")

	l.WithContext(ctx).Infow("resolving batch", "in", 3)

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "org-1", fields["org_id"])
	assert.Equal(t, int64(3), fields["in"])
}

func TestWithContextWithoutIDsReturnsSameLogger(t *testing.T) {
	l := NewNoopLogger()
	assert.Same(t, l, l.WithContext(context.Background()))
}

func TestKeysAndValuesToMap(t *testing.T) {
	l := NewNoopLogger()
	m := l.keysAndValuesToMap("a", 1, "b", "two", "dangling")
	assert.Equal(t, map[string]interface{}{"a": 1, "b": "two"}, m)
}
