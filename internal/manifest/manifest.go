// File: internal/manifest/manifest.go
// Description: Loads the per-repository audit-pit-crew.yml scan policy. A
// broken manifest must never block scanning, so every failure path degrades
// to safe defaults.
package manifest

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/auditpitcrew/audit-pit-crew/api/schemas"
)

// Filename is the fixed manifest name looked up at the repository root.
const Filename = "audit-pit-crew.yml"

// KnownTools is the set of adapter names a manifest may enable.
var KnownTools = []string{"slither", "mythril", "oyente", "aderyn"}

// ScanConfig is the validated per-repository scan policy.
type ScanConfig struct {
	ContractsPath   string
	IgnorePaths     []string
	MinSeverity     schemas.Severity
	BlockOnSeverity schemas.Severity
	EnabledTools    []string
}

// Default returns the policy used when no manifest exists or the manifest is
// rejected.
func Default() ScanConfig {
	return ScanConfig{
		ContractsPath:   ".",
		IgnorePaths:     []string{"node_modules/**", "test/**"},
		MinSeverity:     schemas.SeverityLow,
		BlockOnSeverity: schemas.SeverityHigh,
		EnabledTools:    []string{"slither", "mythril"},
	}
}

// manifestFile mirrors the YAML document. Decoding is strict: any key not
// declared here rejects the whole manifest.
type manifestFile struct {
	Scan *scanSection `yaml:"scan"`
}

type scanSection struct {
	ContractsPath   *string  `yaml:"contracts_path"`
	IgnorePaths     []string `yaml:"ignore_paths"`
	MinSeverity     *string  `yaml:"min_severity"`
	BlockOnSeverity *string  `yaml:"block_on_severity"`
	EnabledTools    []string `yaml:"enabled_tools"`
}

// Load reads the manifest at repoRoot and returns the effective scan policy.
// It never returns an error: parse and validation failures log and fall back
// to Default.
func Load(repoRoot string, logger *zap.Logger) ScanConfig {
	log := logger.Named("manifest")

	path := filepath.Join(repoRoot, Filename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info("No manifest found, using default scan policy.", zap.String("path", path))
		} else {
			log.Error("Failed to read manifest, using default scan policy.", zap.String("path", path), zap.Error(err))
		}
		return Default()
	}

	cfg, err := Parse(data)
	if err != nil {
		log.Error("Manifest rejected, using default scan policy.", zap.String("path", path), zap.Error(err))
		return Default()
	}

	log.Info("Loaded scan policy from manifest.",
		zap.String("contracts_path", cfg.ContractsPath),
		zap.Strings("enabled_tools", cfg.EnabledTools),
		zap.String("min_severity", string(cfg.MinSeverity)),
		zap.String("block_on_severity", string(cfg.BlockOnSeverity)))
	return cfg
}

// Parse decodes and validates raw manifest bytes. Callers wanting the
// never-fails contract use Load; Parse surfaces the cause for logging and
// tests.
func Parse(data []byte) (ScanConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	// Strict schema: unknown fields reject the manifest.
	dec.KnownFields(true)

	var doc manifestFile
	if err := dec.Decode(&doc); err != nil {
		return ScanConfig{}, fmt.Errorf("manifest parse failed: %w", err)
	}

	cfg := Default()
	if doc.Scan == nil {
		// A manifest without a scan section is treated as empty.
		return cfg, nil
	}

	s := doc.Scan
	if s.ContractsPath != nil {
		cp := strings.TrimSuffix(strings.TrimSpace(*s.ContractsPath), "/")
		if cp == "" {
			cp = "."
		}
		cfg.ContractsPath = cp
	}
	if s.IgnorePaths != nil {
		cfg.IgnorePaths = s.IgnorePaths
	}
	if s.MinSeverity != nil {
		sev, ok := schemas.ParseSeverity(*s.MinSeverity)
		if !ok {
			return ScanConfig{}, fmt.Errorf("invalid min_severity %q", *s.MinSeverity)
		}
		cfg.MinSeverity = sev
	}
	if s.BlockOnSeverity != nil {
		sev, ok := schemas.ParseSeverity(*s.BlockOnSeverity)
		if !ok {
			return ScanConfig{}, fmt.Errorf("invalid block_on_severity %q", *s.BlockOnSeverity)
		}
		cfg.BlockOnSeverity = sev
	}
	if s.EnabledTools != nil {
		for _, tool := range s.EnabledTools {
			if !isKnownTool(tool) {
				return ScanConfig{}, fmt.Errorf("unknown tool %q in enabled_tools", tool)
			}
		}
		cfg.EnabledTools = s.EnabledTools
	}

	return cfg, nil
}

func isKnownTool(name string) bool {
	for _, t := range KnownTools {
		if t == name {
			return true
		}
	}
	return false
}

// Ignored reports whether a repo-relative path is excluded by the policy's
// ignore globs. Patterns are tested both against the full repo-relative path
// and against the path relative to contracts_path.
func (c ScanConfig) Ignored(relPath string) bool {
	candidates := []string{relPath}
	if c.ContractsPath != "." {
		prefix := c.ContractsPath + "/"
		if strings.HasPrefix(relPath, prefix) {
			candidates = append(candidates, strings.TrimPrefix(relPath, prefix))
		}
	}
	for _, pattern := range c.IgnorePaths {
		for _, candidate := range candidates {
			if MatchGlob(pattern, candidate) {
				return true
			}
		}
	}
	return false
}

// InContractsPath reports whether a repo-relative path falls under the
// configured contracts root.
func (c ScanConfig) InContractsPath(relPath string) bool {
	if c.ContractsPath == "." {
		return true
	}
	return relPath == c.ContractsPath || strings.HasPrefix(relPath, c.ContractsPath+"/")
}

// MatchGlob matches a shell-style pattern against a slash-separated relative
// path. `*` and `?` never cross a path separator; `**` matches any number of
// whole segments, so "node_modules/**" matches "node_modules/a/b" but not
// "src/node_modules".
func MatchGlob(pattern, path string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(path, "/"))
}

func matchSegments(pattern, segments []string) bool {
	if len(pattern) == 0 {
		return len(segments) == 0
	}
	if pattern[0] == "**" {
		// `**` may swallow zero or more leading segments.
		for skip := 0; skip <= len(segments); skip++ {
			if matchSegments(pattern[1:], segments[skip:]) {
				return true
			}
		}
		return false
	}
	if len(segments) == 0 {
		return false
	}
	ok, err := path.Match(pattern[0], segments[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pattern[1:], segments[1:])
}
