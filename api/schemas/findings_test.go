package schemas_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditpitcrew/audit-pit-crew/api/schemas"
)

var severityScale = []schemas.Severity{
	schemas.SeverityInformational,
	schemas.SeverityLow,
	schemas.SeverityMedium,
	schemas.SeverityHigh,
	schemas.SeverityCritical,
}

func TestSeverityTotalOrder(t *testing.T) {
	// Exactly one of a < b, a == b, a > b must hold for every pair.
	for _, a := range severityScale {
		for _, b := range severityScale {
			less := a.Ordinal() < b.Ordinal()
			equal := a.Ordinal() == b.Ordinal()
			greater := a.Ordinal() > b.Ordinal()

			count := 0
			for _, v := range []bool{less, equal, greater} {
				if v {
					count++
				}
			}
			assert.Equal(t, 1, count, "severity pair %s/%s", a, b)
		}
	}
}

func TestSeverityOrdinalOrdering(t *testing.T) {
	for i := 1; i < len(severityScale); i++ {
		assert.Greater(t, severityScale[i].Ordinal(), severityScale[i-1].Ordinal())
	}
	assert.Equal(t, -1, schemas.Severity("bogus").Ordinal())
}

func TestSeverityAtLeast(t *testing.T) {
	assert.True(t, schemas.SeverityHigh.AtLeast(schemas.SeverityHigh))
	assert.True(t, schemas.SeverityCritical.AtLeast(schemas.SeverityLow))
	assert.False(t, schemas.SeverityInformational.AtLeast(schemas.SeverityLow))
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in   string
		want schemas.Severity
		ok   bool
	}{
		{"High", schemas.SeverityHigh, true},
		{"CRITICAL", schemas.SeverityCritical, true},
		{"informational", schemas.SeverityInformational, true},
		{" medium ", schemas.SeverityMedium, true},
		{"weird", schemas.SeverityLow, false},
		{"", schemas.SeverityLow, false},
	}
	for _, tc := range tests {
		got, ok := schemas.ParseSeverity(tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
		assert.Equal(t, tc.ok, ok, "input %q", tc.in)
	}
}

func TestSeverityTitle(t *testing.T) {
	assert.Equal(t, "High", schemas.SeverityHigh.Title())
	assert.Equal(t, "Informational", schemas.SeverityInformational.Title())
}

func TestFingerprintDeterminism(t *testing.T) {
	f := schemas.Finding{
		Tool: "slither", Type: "reentrancy",
		File: "contracts/Vault.sol", Line: 42,
		Severity: schemas.SeverityHigh,
	}
	assert.Equal(t, "slither|reentrancy|contracts/Vault.sol|42", f.Fingerprint())
	assert.Equal(t, f.Fingerprint(), f.Fingerprint())

	// Description changes must not affect identity.
	g := f
	g.Description = "something else"
	assert.Equal(t, f.Fingerprint(), g.Fingerprint())

	// File-level findings share one fingerprint per file/rule/tool.
	fileLevelA := schemas.Finding{Tool: "mythril", Type: "unchecked-call", File: "a.sol", Line: 0}
	fileLevelB := schemas.Finding{Tool: "mythril", Type: "unchecked-call", File: "a.sol", Line: 0, Description: "other"}
	assert.Equal(t, fileLevelA.Fingerprint(), fileLevelB.Fingerprint())
}

func TestFingerprintKeepsToolOrigin(t *testing.T) {
	a := schemas.Finding{Tool: "slither", Type: "reentrancy", File: "v.sol", Line: 7}
	b := schemas.Finding{Tool: "mythril", Type: "reentrancy", File: "v.sol", Line: 7}
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestDedupFindings(t *testing.T) {
	a := schemas.Finding{Tool: "slither", Type: "reentrancy", File: "v.sol", Line: 1}
	b := schemas.Finding{Tool: "slither", Type: "tx-origin", File: "v.sol", Line: 2}
	c := schemas.Finding{Tool: "mythril", Type: "reentrancy", File: "v.sol", Line: 1}

	in := []schemas.Finding{a, b, a, c, b}
	out := schemas.DedupFindings(in)
	require.Len(t, out, 3)

	// Order preservation: first occurrence wins.
	assert.Equal(t, a.Fingerprint(), out[0].Fingerprint())
	assert.Equal(t, b.Fingerprint(), out[1].Fingerprint())
	assert.Equal(t, c.Fingerprint(), out[2].Fingerprint())

	// Idempotence.
	assert.Equal(t, out, schemas.DedupFindings(out))

	// dedup(xs ++ xs) == dedup(xs).
	doubled := append(append([]schemas.Finding{}, in...), in...)
	assert.Equal(t, out, schemas.DedupFindings(doubled))
}

func TestDiffAgainstBaseline(t *testing.T) {
	a := schemas.Finding{Tool: "slither", Type: "reentrancy", File: "contracts/Vault.sol", Line: 42, Severity: schemas.SeverityHigh}
	b := schemas.Finding{Tool: "mythril", Type: "unchecked-call", File: "contracts/Vault.sol", Line: 55, Severity: schemas.SeverityMedium}

	baseline := map[string]struct{}{a.Fingerprint(): {}}
	fresh := schemas.DiffAgainstBaseline([]schemas.Finding{a, b}, baseline)
	require.Len(t, fresh, 1)
	assert.Equal(t, b.Fingerprint(), fresh[0].Fingerprint())

	// Empty baseline keeps everything, in order.
	all := schemas.DiffAgainstBaseline([]schemas.Finding{a, b}, map[string]struct{}{})
	require.Len(t, all, 2)
	assert.Equal(t, a.Fingerprint(), all[0].Fingerprint())
}

func TestSortFindings(t *testing.T) {
	findings := []schemas.Finding{
		{Tool: "t", Type: "c", Severity: schemas.SeverityLow, File: "a.sol", Line: 10},
		{Tool: "t", Type: "a", Severity: schemas.SeverityHigh, File: "b.sol", Line: 5},
		{Tool: "t", Type: "b", Severity: schemas.SeverityHigh, File: "a.sol", Line: 9},
		{Tool: "t", Type: "d", Severity: schemas.SeverityHigh, File: "a.sol", Line: 2},
	}
	schemas.SortFindings(findings)

	assert.Equal(t, "d", findings[0].Type) // high, a.sol:2
	assert.Equal(t, "b", findings[1].Type) // high, a.sol:9
	assert.Equal(t, "a", findings[2].Type) // high, b.sol:5
	assert.Equal(t, "c", findings[3].Type) // low
}

func TestScanJobMode(t *testing.T) {
	assert.Equal(t, schemas.ModeBaseline, schemas.ScanJob{}.Mode())
	assert.Equal(t, schemas.ModePR, schemas.ScanJob{PR: &schemas.PRContext{}}.Mode())
}
