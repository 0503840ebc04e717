package analysis_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/auditpitcrew/audit-pit-crew/api/schemas"
	"github.com/auditpitcrew/audit-pit-crew/internal/analysis"
)

// stubAnalyzer lets tests script adapter behavior.
type stubAnalyzer struct {
	name     string
	findings []schemas.Finding
	err      error
	calls    int
}

func (s *stubAnalyzer) Name() string { return s.name }

func (s *stubAnalyzer) Run(ctx context.Context, repoRoot string, files []string, minSeverity schemas.Severity) ([]schemas.Finding, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.findings, nil
}

func TestUnifiedAggregatesAndDedupes(t *testing.T) {
	shared := schemas.Finding{Tool: "a", Type: "reentrancy", File: "v.sol", Line: 3}
	first := &stubAnalyzer{name: "a", findings: []schemas.Finding{
		shared,
		{Tool: "a", Type: "tx-origin", File: "v.sol", Line: 9},
	}}
	second := &stubAnalyzer{name: "b", findings: []schemas.Finding{
		shared, // identical fingerprint, must be dropped
		{Tool: "b", Type: "reentrancy", File: "v.sol", Line: 3},
	}}

	u := analysis.NewUnified([]analysis.Analyzer{first, second}, zap.NewNop())
	out, err := u.Run(context.Background(), t.TempDir(), nil, schemas.SeverityLow)
	require.NoError(t, err)
	require.Len(t, out, 3)

	// First occurrence wins and declared adapter order is preserved.
	assert.Equal(t, "a", out[0].Tool)
	assert.Equal(t, "tx-origin", out[1].Type)
	assert.Equal(t, "b", out[2].Tool)
}

func TestUnifiedIsolatesAdapterFailure(t *testing.T) {
	finding := schemas.Finding{Tool: "b", Type: "unchecked-call", File: "v.sol", Line: 5}
	failing := &stubAnalyzer{name: "a", err: &analysis.ToolError{Tool: "a", ExitCode: 2}}
	healthy := &stubAnalyzer{name: "b", findings: []schemas.Finding{finding}}

	u := analysis.NewUnified([]analysis.Analyzer{failing, healthy}, zap.NewNop())
	out, err := u.Run(context.Background(), t.TempDir(), nil, schemas.SeverityLow)
	require.NoError(t, err)

	// The failing adapter must not prevent the healthy one from running.
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, healthy.calls)
	require.Len(t, out, 1)
	assert.Equal(t, finding.Fingerprint(), out[0].Fingerprint())
}

func TestUnifiedAllAdaptersFailedReturnsEmpty(t *testing.T) {
	u := analysis.NewUnified([]analysis.Analyzer{
		&stubAnalyzer{name: "a", err: &analysis.ToolError{Tool: "a"}},
		&stubAnalyzer{name: "b", err: &analysis.ToolError{Tool: "b"}},
	}, zap.NewNop())

	out, err := u.Run(context.Background(), t.TempDir(), nil, schemas.SeverityLow)
	assert.NoError(t, err)
	assert.Empty(t, out)
}

func TestUnifiedCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stub := &stubAnalyzer{name: "a"}
	u := analysis.NewUnified([]analysis.Analyzer{stub}, zap.NewNop())
	_, err := u.Run(ctx, t.TempDir(), nil, schemas.SeverityLow)
	assert.Error(t, err)
	assert.Equal(t, 0, stub.calls)
}

func TestToolErrorClassification(t *testing.T) {
	err := &analysis.ToolError{Tool: "slither", ExitCode: 1, Stderr: "boom"}
	assert.True(t, analysis.IsToolError(err))
	assert.Contains(t, err.Error(), "slither")
	assert.Contains(t, err.Error(), "boom")
	assert.False(t, analysis.IsToolError(context.Canceled))
}
