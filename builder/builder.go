// Package builder assembles a TypeGraph from every StructureDefinition and
// SearchParameter known to a package manager.
//
// Definitions are converted in dependency order: primitives, then complex
// datatypes, then resources, then (optionally) profiles. A definition that
// fails to parse or convert is dropped with a warning and recorded in the
// build report; only failures to enumerate input, install packages or list
// packages abort a build.
package builder

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"time"

	"github.com/buger/jsonparser"
	"github.com/gofhir/fhirpath"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/cache"
	"github.com/gofhir/codegen/ir"
	"github.com/gofhir/codegen/parser"
	"github.com/gofhir/codegen/resolver"
)

// Builder builds type graphs for one FHIR release. Several builders may share
// one resolver. A Builder is safe for concurrent use; each build gets its own
// parser.
type Builder struct {
	installer resolver.Installer
	resolver  *resolver.SchemaResolver
	version   fc.FHIRVersion
	opts      *fc.Options

	logger  zerolog.Logger
	metrics *fc.Metrics
	tracer  trace.Tracer

	// compile results by expression; "" means the expression compiled
	expressions *cache.Cache[string, string]
}

// New creates a builder with its own resolver over manager.
func New(manager resolver.PackageManager, version fc.FHIRVersion, opts ...fc.Option) *Builder {
	return NewWithResolver(manager, resolver.New(manager, opts...), version, opts...)
}

// NewWithResolver creates a builder over an existing, possibly shared, resolver.
func NewWithResolver(installer resolver.Installer, r *resolver.SchemaResolver, version fc.FHIRVersion, opts ...fc.Option) *Builder {
	o := fc.Apply(opts...)
	return &Builder{
		installer:   installer,
		resolver:    r,
		version:     version,
		opts:        o,
		logger:      o.Logger.With().Str("component", "builder").Str("fhir_version", version.String()).Logger(),
		metrics:     o.Metrics,
		tracer:      o.TracerProvider.Tracer("github.com/gofhir/codegen/builder"),
		expressions: cache.New[string, string](),
	}
}

// Resolver returns the builder's resolver.
func (b *Builder) Resolver() *resolver.SchemaResolver {
	return b.resolver
}

// Version returns the FHIR release the builder targets.
func (b *Builder) Version() fc.FHIRVersion {
	return b.version
}

// Build builds the graph from every installed definition.
func (b *Builder) Build(ctx context.Context) (*ir.TypeGraph, error) {
	g, _, err := b.BuildWithReport(ctx)
	return g, err
}

// BuildFromPackage installs name#version (and its dependencies) and then builds.
func (b *Builder) BuildFromPackage(ctx context.Context, name, version string) (*ir.TypeGraph, error) {
	b.logger.Info().Str("package", name).Str("version", version).Msg("building type graph from package")
	if err := b.installer.InstallPackage(ctx, name, version); err != nil {
		return nil, fc.NewError(fc.ErrCanonicalManager, "install package "+name+"#"+version, err)
	}
	return b.Build(ctx)
}

// BuildWithReport builds the graph and returns a report of every skipped
// item. The report is returned even when the build fails.
func (b *Builder) BuildWithReport(ctx context.Context) (g *ir.TypeGraph, report *Report, err error) {
	start := time.Now()
	report = &Report{BuildID: uuid.NewString()}

	ctx, span := b.tracer.Start(ctx, "builder.build", trace.WithAttributes(
		attribute.String("fhir_version", b.version.String()),
		attribute.String("build_id", report.BuildID),
	))
	defer func() {
		report.Duration = time.Since(start)
		b.metrics.RecordBuild(report.Duration, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "build failed")
		}
		span.End()
	}()

	if !b.version.IsValid() {
		return nil, report, fc.Errorf(fc.ErrConfig, "unsupported FHIR version %q", b.version)
	}

	b.logger.Info().Str("build_id", report.BuildID).Msg("building type graph")

	docs, err := b.resolver.GetAllStructureDefinitions(ctx, b.version)
	if err != nil {
		return nil, report, err
	}
	report.Definitions = len(docs)
	b.logger.Info().Int("definitions", len(docs)).Msg("loaded structure definitions")

	buckets := Categorize(docs, b.opts.SeparateProfiles)
	for _, s := range buckets.Skipped {
		b.logger.Warn().Str("name", s.Name).Str("url", s.URL).Msg("unknown or missing kind, skipping")
		b.metrics.RecordSkipped(s.Reason)
	}
	report.Skipped = append(report.Skipped, buckets.Skipped...)

	b.logger.Info().
		Int("primitives", len(buckets.Primitives)).
		Int("datatypes", len(buckets.Datatypes)).
		Int("resources", len(buckets.Resources)).
		Int("profiles", len(buckets.Profiles)).
		Msg("categorized structure definitions")

	g = ir.NewTypeGraph(b.version)
	p := parser.New(parser.WithLogger(b.logger))

	b.process(ctx, p, buckets.Primitives, report, func(s *parser.ParsedStructure) error {
		pt, err := s.ToPrimitiveType()
		if err != nil {
			return err
		}
		return g.AddPrimitive(s.Name, pt)
	})
	b.process(ctx, p, buckets.Datatypes, report, func(s *parser.ParsedStructure) error {
		dt, err := s.ToDataType()
		if err != nil {
			return err
		}
		return g.AddDatatype(s.Name, dt)
	})
	b.process(ctx, p, buckets.Resources, report, func(s *parser.ParsedStructure) error {
		rt, err := s.ToResourceType()
		if err != nil {
			return err
		}
		return g.AddResource(s.Name, rt)
	})
	b.process(ctx, p, buckets.Profiles, report, func(s *parser.ParsedStructure) error {
		pt, err := s.ToProfile()
		if err != nil {
			return err
		}
		return g.AddProfile(s.Name, pt)
	})

	if err := b.attachSearchParameters(ctx, g, report); err != nil {
		return nil, report, err
	}

	packages, err := b.installer.ListPackages(ctx)
	if err != nil {
		return nil, report, fc.NewError(fc.ErrCanonicalManager, "list packages", err)
	}

	g.Metadata = ir.GraphMetadata{
		GeneratedAt:      b.opts.Now().UTC().Format(time.RFC3339),
		GeneratorVersion: b.opts.GeneratorVersion,
		SourcePackages:   packages,
		BuildID:          report.BuildID,
		Custom:           maps.Clone(b.opts.Custom),
	}

	b.metrics.RecordTypes(fc.CategoryPrimitive, g.Primitives.Len())
	b.metrics.RecordTypes(fc.CategoryDatatype, g.Datatypes.Len())
	b.metrics.RecordTypes(fc.CategoryResource, g.Resources.Len())
	b.metrics.RecordTypes(fc.CategoryProfile, g.Profiles.Len())
	span.SetAttributes(attribute.Int("types", g.TotalTypes()), attribute.Int("skipped", len(report.Skipped)))

	b.logger.Info().
		Int("total_types", g.TotalTypes()).
		Int("skipped", len(report.Skipped)).
		Msg("type graph built")
	return g, report, nil
}

// process parses and converts each document in order. A failing item is
// logged, counted and recorded in the report; the rest continue.
func (b *Builder) process(ctx context.Context, p *parser.Parser, docs []json.RawMessage, report *Report, add func(*parser.ParsedStructure) error) {
	for _, doc := range docs {
		name, url := identify(doc)

		parsed, err := p.Parse(doc)
		if err != nil {
			b.drop(report, name, url, ReasonParseError, err)
			continue
		}
		if err := add(parsed); err != nil {
			reason := ReasonConversionError
			if errors.Is(err, fc.ErrDuplicateType) {
				reason = ReasonDuplicateType
			}
			b.drop(report, name, url, reason, err)
			continue
		}
		if b.opts.CheckConstraints {
			b.checkConstraints(ctx, parsed, report)
		}
	}
}

func (b *Builder) drop(report *Report, name, url, reason string, err error) {
	b.logger.Warn().Err(err).Str("name", name).Str("url", url).Str("reason", reason).Msg("skipping definition")
	b.metrics.RecordSkipped(reason)
	report.skip(name, url, reason, err)
}

// checkConstraints compiles every invariant expression of s. Expressions are
// never evaluated; a compile failure is a report entry, not an error.
func (b *Builder) checkConstraints(_ context.Context, s *parser.ParsedStructure, report *Report) {
	for _, elem := range s.Elements {
		for _, rule := range elem.Invariants() {
			if rule.Expression == nil {
				continue
			}
			expr := *rule.Expression
			msg := b.expressions.GetOrSet(expr, func() string {
				if _, err := fhirpath.Compile(expr); err != nil {
					return err.Error()
				}
				return ""
			})
			if msg == "" {
				continue
			}
			b.logger.Debug().Str("type", s.Name).Str("key", rule.Key).Str("error", msg).Msg("invariant does not compile")
			report.ConstraintIssues = append(report.ConstraintIssues, ConstraintIssue{
				Type:       s.Name,
				Path:       elem.Path,
				Key:        rule.Key,
				Severity:   rule.Severity,
				Expression: expr,
				Error:      msg,
			})
		}
	}
}

func identify(doc []byte) (name, url string) {
	name, _ = jsonparser.GetString(doc, "name")
	url, _ = jsonparser.GetString(doc, "url")
	if name == "" {
		name = "unknown"
	}
	return name, url
}

// Buckets holds definitions grouped by kind, each in input order.
type Buckets struct {
	Primitives []json.RawMessage
	Datatypes  []json.RawMessage
	Resources  []json.RawMessage
	Profiles   []json.RawMessage
	Skipped    []SkippedItem
}

// Categorize groups definitions by their kind field. Definitions with a
// missing or other kind (including logical models) are returned as skipped.
// With separateProfiles, constraint derivations go to Profiles.
func Categorize(docs []json.RawMessage, separateProfiles bool) Buckets {
	var out Buckets
	for _, doc := range docs {
		if separateProfiles {
			if d, _ := jsonparser.GetString(doc, "derivation"); d == parser.DerivationConstraint {
				out.Profiles = append(out.Profiles, doc)
				continue
			}
		}

		kind, _ := jsonparser.GetString(doc, "kind")
		switch parser.StructureKind(kind) {
		case parser.KindPrimitiveType:
			out.Primitives = append(out.Primitives, doc)
		case parser.KindComplexType:
			out.Datatypes = append(out.Datatypes, doc)
		case parser.KindResource:
			out.Resources = append(out.Resources, doc)
		default:
			name, url := identify(doc)
			out.Skipped = append(out.Skipped, SkippedItem{Name: name, URL: url, Reason: ReasonUnknownKind})
		}
	}
	return out
}

// BuildTypeGraph installs a package and builds the graph for version. An
// empty name selects the release's core package.
func BuildTypeGraph(ctx context.Context, manager resolver.PackageManager, version fc.FHIRVersion, name, pkgVersion string, opts ...fc.Option) (*ir.TypeGraph, error) {
	if name == "" {
		core, coreVersion, ok := version.CorePackage()
		if !ok {
			return nil, fc.Errorf(fc.ErrConfig, "unsupported FHIR version %q", version)
		}
		name, pkgVersion = core, coreVersion
	}
	return New(manager, version, opts...).BuildFromPackage(ctx, name, pkgVersion)
}
