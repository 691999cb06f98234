// Package config loads fhir-codegen settings from defaults, an optional YAML
// file and FHIRCODEGEN_ environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/ir"
	"github.com/gofhir/codegen/pkg/loader"
	"github.com/gofhir/codegen/pkg/logger"
)

// EnvPrefix prefixes every environment override; "build.check_constraints"
// is read from FHIRCODEGEN_BUILD_CHECK_CONSTRAINTS.
const EnvPrefix = "FHIRCODEGEN"

// Config is the complete runtime configuration.
type Config struct {
	FHIRVersion  string   `mapstructure:"fhir_version"`
	Packages     []string `mapstructure:"packages"`
	PackageDirs  []string `mapstructure:"package_dirs"`
	PackageFiles []string `mapstructure:"package_files"`

	Registry RegistryConfig `mapstructure:"registry"`
	Build    BuildConfig    `mapstructure:"build"`
	Output   OutputConfig   `mapstructure:"output"`
	Log      LogConfig      `mapstructure:"log"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Store    StoreConfig    `mapstructure:"store"`
	Server   ServerConfig   `mapstructure:"server"`
}

// RegistryConfig configures package downloads.
type RegistryConfig struct {
	URL      string        `mapstructure:"url"`
	CacheDir string        `mapstructure:"cache_dir"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Offline  bool          `mapstructure:"offline"`
}

// BuildConfig mirrors the builder options.
type BuildConfig struct {
	StructureDefinitionLimit int  `mapstructure:"structure_definition_limit"`
	SearchParameterLimit     int  `mapstructure:"search_parameter_limit"`
	CheckConstraints         bool `mapstructure:"check_constraints"`
	SeparateProfiles         bool `mapstructure:"separate_profiles"`
	Deduplicate              bool `mapstructure:"deduplicate"`
}

// OutputConfig selects where and how a built graph is written.
type OutputConfig struct {
	Path   string `mapstructure:"path"`
	Format string `mapstructure:"format"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TracingConfig configures span export. An empty endpoint disables it.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	ServiceName string  `mapstructure:"service_name"`
}

// StoreConfig selects the graph store. An empty DSN keeps graphs in memory.
type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ServerConfig configures the graph server.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("fhir_version", string(fc.R4))
	v.SetDefault("packages", []string{})
	v.SetDefault("package_dirs", []string{})
	v.SetDefault("package_files", []string{})

	v.SetDefault("registry.url", "https://packages.fhir.org")
	v.SetDefault("registry.cache_dir", loader.DefaultPackagePath())
	v.SetDefault("registry.timeout", 60*time.Second)
	v.SetDefault("registry.offline", false)

	v.SetDefault("build.structure_definition_limit", 1000)
	v.SetDefault("build.search_parameter_limit", 1000)
	v.SetDefault("build.check_constraints", false)
	v.SetDefault("build.separate_profiles", false)
	v.SetDefault("build.deduplicate", false)

	v.SetDefault("output.path", "")
	v.SetDefault("output.format", string(ir.FormatJSON))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", string(logger.FormatConsole))

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.service_name", "fhir-codegen")

	v.SetDefault("store.dsn", "")
	v.SetDefault("server.addr", ":8080")
}

// New returns a viper instance with defaults and environment binding but
// no file. Callers may bind flags to it before calling Decode.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration. An empty path skips the file; a path that
// cannot be read is an error.
func Load(path string) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fc.NewError(fc.ErrConfig, "read "+path, err)
		}
	}
	return Decode(v)
}

// Decode unmarshals and validates v.
func Decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fc.NewError(fc.ErrConfig, "unmarshal config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field that has a closed set of values or a range.
func (c *Config) Validate() error {
	var errs []error
	if _, err := fc.ParseFHIRVersion(c.FHIRVersion); err != nil {
		errs = append(errs, err)
	}
	for _, p := range c.Packages {
		if name, _ := loader.ParsePackageSpec(p); strings.TrimSpace(name) == "" {
			errs = append(errs, fc.Errorf(fc.ErrConfig, "package %q has no name", p))
		}
	}
	if c.Build.StructureDefinitionLimit < 0 {
		errs = append(errs, fc.Errorf(fc.ErrConfig, "build.structure_definition_limit must not be negative"))
	}
	if c.Build.SearchParameterLimit < 0 {
		errs = append(errs, fc.Errorf(fc.ErrConfig, "build.search_parameter_limit must not be negative"))
	}
	if c.Registry.Timeout < 0 {
		errs = append(errs, fc.Errorf(fc.ErrConfig, "registry.timeout must not be negative"))
	}
	if _, err := ir.ParseFormat(c.Output.Format); err != nil {
		errs = append(errs, err)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fc.Errorf(fc.ErrConfig, "log.level: %v", err))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fc.Errorf(fc.ErrConfig, "tracing.sample_rate must be within [0, 1]"))
	}
	return errors.Join(errs...)
}

// Version returns the configured FHIR release. It assumes Validate passed.
func (c *Config) Version() fc.FHIRVersion {
	v, _ := fc.ParseFHIRVersion(c.FHIRVersion)
	return v
}

// BuildOptions converts the build section into builder options.
func (c *Config) BuildOptions() []fc.Option {
	return []fc.Option{
		fc.WithStructureDefinitionLimit(c.Build.StructureDefinitionLimit),
		fc.WithSearchParameterLimit(c.Build.SearchParameterLimit),
		fc.WithConstraintCheck(c.Build.CheckConstraints),
		fc.WithSeparateProfiles(c.Build.SeparateProfiles),
		fc.WithDeduplication(c.Build.Deduplicate),
	}
}

// Format returns the configured output format. It assumes Validate passed.
func (c *Config) Format() ir.Format {
	f, _ := ir.ParseFormat(c.Output.Format)
	return f
}

// String renders the settings worth logging at startup.
func (c *Config) String() string {
	return fmt.Sprintf("fhir_version=%s packages=%v offline=%t format=%s",
		c.FHIRVersion, c.Packages, c.Registry.Offline, c.Output.Format)
}
