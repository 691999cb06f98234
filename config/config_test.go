package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/ir"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "R4", cfg.FHIRVersion)
	assert.Equal(t, fc.R4, cfg.Version())
	assert.Empty(t, cfg.Packages)
	assert.Equal(t, "https://packages.fhir.org", cfg.Registry.URL)
	assert.Equal(t, 60*time.Second, cfg.Registry.Timeout)
	assert.Equal(t, 1000, cfg.Build.StructureDefinitionLimit)
	assert.Equal(t, 1000, cfg.Build.SearchParameterLimit)
	assert.False(t, cfg.Build.CheckConstraints)
	assert.Equal(t, ir.FormatJSON, cfg.Format())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 1.0, cfg.Tracing.SampleRate)
	assert.Len(t, cfg.BuildOptions(), 5)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FHIRCODEGEN_FHIR_VERSION", "5.0.0")
	t.Setenv("FHIRCODEGEN_BUILD_CHECK_CONSTRAINTS", "true")
	t.Setenv("FHIRCODEGEN_BUILD_SEARCH_PARAMETER_LIMIT", "50")
	t.Setenv("FHIRCODEGEN_REGISTRY_OFFLINE", "1")
	t.Setenv("FHIRCODEGEN_OUTPUT_FORMAT", "yaml")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, fc.R5, cfg.Version())
	assert.True(t, cfg.Build.CheckConstraints)
	assert.Equal(t, 50, cfg.Build.SearchParameterLimit)
	assert.True(t, cfg.Registry.Offline)
	assert.Equal(t, ir.FormatYAML, cfg.Format())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codegen.yaml")
	content := `
fhir_version: R4B
packages:
  - hl7.fhir.r4b.core#4.3.0
  - hl7.fhir.us.core#6.1.0
build:
  separate_profiles: true
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("FHIRCODEGEN_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, fc.R4B, cfg.Version())
	assert.Equal(t, []string{"hl7.fhir.r4b.core#4.3.0", "hl7.fhir.us.core#6.1.0"}, cfg.Packages)
	assert.True(t, cfg.Build.SeparateProfiles)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.Is(err, fc.ErrConfig))
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"version", func(c *Config) { c.FHIRVersion = "R9" }},
		{"package", func(c *Config) { c.Packages = []string{"#1.0.0"} }},
		{"limit", func(c *Config) { c.Build.SearchParameterLimit = -1 }},
		{"format", func(c *Config) { c.Output.Format = "xml" }},
		{"level", func(c *Config) { c.Log.Level = "loud" }},
		{"sample rate", func(c *Config) { c.Tracing.SampleRate = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, fc.ErrConfig))
		})
	}
}
