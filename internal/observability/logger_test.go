package observability_test

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/auditpitcrew/audit-pit-crew/internal/config"
	"github.com/auditpitcrew/audit-pit-crew/internal/observability"
)

// syncBuffer is a thread-safe buffer implementing zapcore.WriteSyncer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Sync() error { return nil }

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var _ zapcore.WriteSyncer = (*syncBuffer)(nil)

func TestInitializeWritesStructuredLogs(t *testing.T) {
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	buf := &syncBuffer{}
	observability.Initialize(config.LoggerConfig{
		Level:       "debug",
		Format:      "json",
		ServiceName: "audit-pit-crew-test",
	}, buf)

	logger := observability.GetLogger()
	require.NotNil(t, logger)
	logger.Info("scan queued", zap.String("repo", "acme/vault"))

	out := buf.String()
	assert.Contains(t, out, `"msg":"scan queued"`)
	assert.Contains(t, out, `"repo":"acme/vault"`)
	assert.Contains(t, out, "audit-pit-crew-test")
}

func TestInitializeHonorsLevel(t *testing.T) {
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	buf := &syncBuffer{}
	observability.Initialize(config.LoggerConfig{Level: "error", Format: "json"}, buf)

	observability.GetLogger().Info("quiet please")
	assert.NotContains(t, buf.String(), "quiet please")
}

func TestInitializeOnlyRunsOnce(t *testing.T) {
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	first := &syncBuffer{}
	second := &syncBuffer{}
	observability.Initialize(config.LoggerConfig{Level: "info", Format: "json"}, first)
	observability.Initialize(config.LoggerConfig{Level: "info", Format: "json"}, second)

	observability.GetLogger().Info("hello")
	assert.Contains(t, first.String(), "hello")
	assert.Empty(t, second.String())
}

func TestGetLoggerFallback(t *testing.T) {
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	// Without initialization a usable fallback logger is returned.
	logger := observability.GetLogger()
	require.NotNil(t, logger)
	assert.NotPanics(t, func() { logger.Debug("fallback works") })
}
