package manifest_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/auditpitcrew/audit-pit-crew/api/schemas"
	"github.com/auditpitcrew/audit-pit-crew/internal/manifest"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg := manifest.Load(t.TempDir(), zap.NewNop())
	assert.Equal(t, manifest.Default(), cfg)
}

func TestLoadValidManifest(t *testing.T) {
	dir := t.TempDir()
	doc := `
scan:
  contracts_path: "contracts"
  ignore_paths:
    - "contracts/mocks/**"
  min_severity: "Medium"
  block_on_severity: "Critical"
  enabled_tools: ["slither", "aderyn"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.Filename), []byte(doc), 0o644))

	cfg := manifest.Load(dir, zap.NewNop())
	assert.Equal(t, "contracts", cfg.ContractsPath)
	assert.Equal(t, []string{"contracts/mocks/**"}, cfg.IgnorePaths)
	assert.Equal(t, schemas.SeverityMedium, cfg.MinSeverity)
	assert.Equal(t, schemas.SeverityCritical, cfg.BlockOnSeverity)
	assert.Equal(t, []string{"slither", "aderyn"}, cfg.EnabledTools)
}

func TestLoadPartialManifestKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	doc := "scan:\n  min_severity: \"High\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.Filename), []byte(doc), 0o644))

	cfg := manifest.Load(dir, zap.NewNop())
	assert.Equal(t, schemas.SeverityHigh, cfg.MinSeverity)
	assert.Equal(t, ".", cfg.ContractsPath)
	assert.Equal(t, manifest.Default().IgnorePaths, cfg.IgnorePaths)
	assert.Equal(t, manifest.Default().EnabledTools, cfg.EnabledTools)
}

func TestParseRejections(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown field under scan", "scan:\n  surprise: true\n"},
		{"invalid severity", "scan:\n  min_severity: \"extreme\"\n"},
		{"invalid block severity", "scan:\n  block_on_severity: \"nope\"\n"},
		{"unknown tool", "scan:\n  enabled_tools: [\"sonar\"]\n"},
		{"wrong type", "scan:\n  ignore_paths: 12\n"},
		{"not yaml", "{{{{"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := manifest.Parse([]byte(tc.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadRejectedManifestFallsBack(t *testing.T) {
	dir := t.TempDir()
	doc := "scan:\n  surprise: true\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.Filename), []byte(doc), 0o644))

	// Failure must never propagate; the default policy is used.
	cfg := manifest.Load(dir, zap.NewNop())
	assert.Equal(t, manifest.Default(), cfg)
}

func TestLoadNeverPanicsOnArbitraryBytes(t *testing.T) {
	inputs := [][]byte{
		nil,
		[]byte(""),
		[]byte("\x00\x01\x02"),
		[]byte("scan: [not, a, mapping]"),
		[]byte("just a string"),
		[]byte("scan:\n  min_severity: [1,2]"),
	}
	dir := t.TempDir()
	for _, in := range inputs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.Filename), in, 0o644))
		assert.NotPanics(t, func() {
			cfg := manifest.Load(dir, zap.NewNop())
			assert.NotEmpty(t, cfg.EnabledTools)
		})
	}
}

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"node_modules/**", "node_modules/a", true},
		{"node_modules/**", "node_modules/a/b", true},
		{"node_modules/**", "src/node_modules", false},
		{"**/node_modules/**", "src/node_modules/a", true},
		{"test/**", "test/Vault.t.sol", true},
		{"test/**", "contracts/test.sol", false},
		{"*.sol", "Vault.sol", true},
		{"*.sol", "contracts/Vault.sol", false},
		{"contracts/*Test.sol", "contracts/VaultTest.sol", true},
		{"contracts/?ault.sol", "contracts/Vault.sol", true},
		{"contracts/mocks/*", "contracts/mocks/Fake.sol", true},
		{"contracts/mocks/*", "contracts/mocks/deep/Fake.sol", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, manifest.MatchGlob(tc.pattern, tc.path),
			"pattern %q against %q", tc.pattern, tc.path)
	}
}

func TestIgnoredTestsBothPathForms(t *testing.T) {
	cfg := manifest.Default()
	cfg.ContractsPath = "contracts"
	cfg.IgnorePaths = []string{"mocks/**"}

	// Relative to contracts_path.
	assert.True(t, cfg.Ignored("contracts/mocks/Fake.sol"))
	// Full repo-relative form.
	cfg.IgnorePaths = []string{"contracts/mocks/**"}
	assert.True(t, cfg.Ignored("contracts/mocks/Fake.sol"))

	assert.False(t, cfg.Ignored("contracts/Vault.sol"))
}

func TestInContractsPath(t *testing.T) {
	cfg := manifest.Default()
	assert.True(t, cfg.InContractsPath("anything/goes.sol"))

	cfg.ContractsPath = "contracts"
	assert.True(t, cfg.InContractsPath("contracts/Vault.sol"))
	assert.True(t, cfg.InContractsPath("contracts"))
	assert.False(t, cfg.InContractsPath("contracts2/Vault.sol"))
	assert.False(t, cfg.InContractsPath("src/Vault.sol"))
}
