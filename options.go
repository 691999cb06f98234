package fhircodegen

import (
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Option configures a builder or resolver.
type Option func(*Options)

// Options holds the configuration shared by the graph builder and the resolver.
type Options struct {
	// Enumeration limits for package manager searches
	StructureDefinitionLimit int
	SearchParameterLimit     int

	// Build behaviour
	CheckConstraints    bool
	SeparateProfiles    bool
	FilterByFHIRVersion bool
	Deduplicate         bool

	// Metadata
	GeneratorVersion string
	Custom           map[string]string

	// Observability
	Logger         zerolog.Logger
	Metrics        *Metrics
	TracerProvider trace.TracerProvider

	// Now returns the generation timestamp.
	Now func() time.Time
}

// DefaultOptions returns the default configuration.
func DefaultOptions() *Options {
	return &Options{
		StructureDefinitionLimit: 1000,
		SearchParameterLimit:     1000,

		FilterByFHIRVersion: true,

		GeneratorVersion: GeneratorVersion,

		Logger:         zerolog.Nop(),
		TracerProvider: noop.NewTracerProvider(),
		Now:            time.Now,
	}
}

// Apply returns the defaults with opts applied in order.
func Apply(opts ...Option) *Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// --- Limit Options ---

// WithStructureDefinitionLimit caps how many StructureDefinitions are enumerated.
func WithStructureDefinitionLimit(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.StructureDefinitionLimit = n
		}
	}
}

// WithSearchParameterLimit caps how many SearchParameters are enumerated.
func WithSearchParameterLimit(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.SearchParameterLimit = n
		}
	}
}

// --- Build Options ---

// WithConstraintCheck compiles invariant expressions with FHIRPath and
// reports the ones that do not compile. Expressions are never evaluated.
func WithConstraintCheck(enable bool) Option {
	return func(o *Options) {
		o.CheckConstraints = enable
	}
}

// WithSeparateProfiles routes constraint-derivation definitions into the
// profiles map instead of treating them as their base kind.
func WithSeparateProfiles(enable bool) Option {
	return func(o *Options) {
		o.SeparateProfiles = enable
	}
}

// WithVersionFilter drops definitions whose fhirVersion belongs to another release.
func WithVersionFilter(enable bool) Option {
	return func(o *Options) {
		o.FilterByFHIRVersion = enable
	}
}

// WithDeduplication collapses concurrent resolver misses for the same key.
func WithDeduplication(enable bool) Option {
	return func(o *Options) {
		o.Deduplicate = enable
	}
}

// WithGeneratorVersion overrides the generator version recorded in metadata.
func WithGeneratorVersion(v string) Option {
	return func(o *Options) {
		if v != "" {
			o.GeneratorVersion = v
		}
	}
}

// WithCustomMetadata adds a key to the graph metadata custom map.
func WithCustomMetadata(key, value string) Option {
	return func(o *Options) {
		if o.Custom == nil {
			o.Custom = make(map[string]string)
		}
		o.Custom[key] = value
	}
}

// --- Observability Options ---

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(o *Options) {
		o.Metrics = m
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Options) {
		if tp != nil {
			o.TracerProvider = tp
		}
	}
}

// WithClock sets the clock used for generation timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		if now != nil {
			o.Now = now
		}
	}
}

// --- Presets ---

// StrictOptions returns options that check constraints and keep profiles apart.
func StrictOptions() []Option {
	return []Option{
		WithConstraintCheck(true),
		WithSeparateProfiles(true),
		WithVersionFilter(true),
	}
}
