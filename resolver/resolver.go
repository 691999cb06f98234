// Package resolver provides a caching facade over a FHIR package manager.
//
// The resolver answers three questions for the graph builder: what document
// lives at a canonical URL, whether a type code names a primitive, and which
// resources of a given type are installed. Lookup failures are logged and
// reported as misses; only enumeration failures reach the caller.
package resolver

import (
	"context"
	"encoding/json"

	"github.com/buger/jsonparser"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/cache"
)

// CoreStructureBase is the canonical URL prefix of core FHIR type definitions.
const CoreStructureBase = "http://hl7.org/fhir/StructureDefinition/"

// DefaultSearchLimit is used when a caller passes a non-positive limit.
const DefaultSearchLimit = 1000

// ResolvedResource is a resource returned by the package manager.
type ResolvedResource struct {
	URL          string
	ResourceType string
	Package      string
	Content      json.RawMessage
}

// SearchQuery selects installed resources.
type SearchQuery struct {
	ResourceType string
	Limit        int
}

// SearchHit is one search result. Content is fetched separately by URL.
type SearchHit struct {
	URL          string
	ResourceType string
	Package      string
}

// Fetcher resolves canonical URLs.
type Fetcher interface {
	Resolve(ctx context.Context, url string) (*ResolvedResource, error)
}

// Searcher enumerates installed resources.
type Searcher interface {
	Search(ctx context.Context, q SearchQuery) ([]SearchHit, error)
}

// Installer installs packages and lists what is installed.
type Installer interface {
	InstallPackage(ctx context.Context, name, version string) error
	ListPackages(ctx context.Context) ([]string, error)
}

// Source is what the resolver reads from.
type Source interface {
	Fetcher
	Searcher
}

// PackageManager is the full package manager collaborator.
type PackageManager interface {
	Source
	Installer
}

// SchemaResolver caches canonical lookups and primitive checks. It is safe
// for concurrent use and may be shared by several builders.
type SchemaResolver struct {
	source Source

	structures *cache.Cache[string, json.RawMessage]
	primitives *cache.Cache[string, bool]

	dedup bool
	group singleflight.Group

	sdLimit int
	filter  bool
	logger  zerolog.Logger
	metrics *fc.Metrics
	tracer  trace.Tracer
}

// New creates a resolver over source.
func New(source Source, opts ...fc.Option) *SchemaResolver {
	o := fc.Apply(opts...)
	return &SchemaResolver{
		source:     source,
		structures: cache.New[string, json.RawMessage](cache.WithMetrics(o.Metrics, fc.CacheStructure)),
		primitives: cache.New[string, bool](cache.WithMetrics(o.Metrics, fc.CachePrimitive)),
		dedup:      o.Deduplicate,
		sdLimit:    o.StructureDefinitionLimit,
		filter:     o.FilterByFHIRVersion,
		logger:     o.Logger.With().Str("component", "resolver").Logger(),
		metrics:    o.Metrics,
		tracer:     o.TracerProvider.Tracer("github.com/gofhir/codegen/resolver"),
	}
}

// ResolveType returns the document at url. Failures are logged and reported
// as false; they are not cached.
func (r *SchemaResolver) ResolveType(ctx context.Context, url string) (json.RawMessage, bool) {
	if content, ok := r.structures.Get(url); ok {
		return content, true
	}

	if !r.dedup {
		return r.fetch(ctx, url)
	}

	// Callers waiting on the same url share this fetch, so one caller's
	// cancellation must not turn into a miss for the others.
	shared := context.WithoutCancel(ctx)
	v, _, _ := r.group.Do(url, func() (any, error) {
		content, ok := r.fetch(shared, url)
		if !ok {
			return nil, nil
		}
		return content, nil
	})
	content, ok := v.(json.RawMessage)
	return content, ok && content != nil
}

func (r *SchemaResolver) fetch(ctx context.Context, url string) (json.RawMessage, bool) {
	ctx, span := r.tracer.Start(ctx, "resolver.resolve", trace.WithAttributes(attribute.String("url", url)))
	defer span.End()

	res, err := r.source.Resolve(ctx, url)
	if err != nil {
		r.metrics.RecordResolveFailure()
		span.SetStatus(codes.Error, err.Error())
		r.logger.Debug().Err(err).Str("url", url).Msg("canonical lookup failed")
		return nil, false
	}
	if res == nil || len(res.Content) == 0 {
		r.metrics.RecordResolveFailure()
		r.logger.Debug().Str("url", url).Msg("canonical lookup returned no content")
		return nil, false
	}

	r.structures.Set(url, res.Content)
	return res.Content, true
}

// ResolveBaseType resolves the definition named by a baseDefinition URL.
func (r *SchemaResolver) ResolveBaseType(ctx context.Context, url string) (json.RawMessage, bool) {
	return r.ResolveType(ctx, url)
}

// ResolveValueSet looks up a ValueSet without caching it.
func (r *SchemaResolver) ResolveValueSet(ctx context.Context, url string) (json.RawMessage, bool) {
	res, err := r.source.Resolve(ctx, url)
	if err != nil || res == nil || len(res.Content) == 0 {
		r.metrics.RecordResolveFailure()
		r.logger.Debug().Err(err).Str("url", url).Msg("value set lookup failed")
		return nil, false
	}
	return res.Content, true
}

// IsPrimitiveType reports whether code names a primitive-type definition.
// Unresolvable codes report false and are not cached.
func (r *SchemaResolver) IsPrimitiveType(ctx context.Context, code string) bool {
	if v, ok := r.primitives.Get(code); ok {
		return v
	}

	content, ok := r.ResolveType(ctx, CoreStructureBase+code)
	if !ok {
		return false
	}
	kind, err := jsonparser.GetString(content, "kind")
	primitive := err == nil && kind == "primitive-type"
	r.primitives.Set(code, primitive)
	return primitive
}

// GetResourcesByType returns installed resources of the given type with full
// content. A search failure is returned; hits that cannot be resolved are skipped.
func (r *SchemaResolver) GetResourcesByType(ctx context.Context, resourceType string, limit int) ([]ResolvedResource, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	ctx, span := r.tracer.Start(ctx, "resolver.search", trace.WithAttributes(
		attribute.String("resource_type", resourceType),
		attribute.Int("limit", limit),
	))
	defer span.End()

	hits, err := r.source.Search(ctx, SearchQuery{ResourceType: resourceType, Limit: limit})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, fc.NewError(fc.ErrCanonicalManager, "search "+resourceType, err)
	}
	if len(hits) >= limit {
		span.SetAttributes(attribute.Bool("truncated", true))
		r.logger.Warn().
			Str("resource_type", resourceType).
			Int("limit", limit).
			Msg("search hit the result limit; later resources are ignored")
	}

	out := make([]ResolvedResource, 0, len(hits))
	for _, hit := range hits {
		if hit.URL == "" {
			continue
		}
		content, ok := r.ResolveType(ctx, hit.URL)
		if !ok {
			continue
		}
		out = append(out, ResolvedResource{
			URL:          hit.URL,
			ResourceType: hit.ResourceType,
			Package:      hit.Package,
			Content:      content,
		})
	}
	span.SetAttributes(attribute.Int("hits", len(hits)), attribute.Int("resolved", len(out)))
	return out, nil
}

// GetAllStructureDefinitions returns every installed StructureDefinition
// belonging to version. Documents without a fhirVersion are kept.
func (r *SchemaResolver) GetAllStructureDefinitions(ctx context.Context, version fc.FHIRVersion) ([]json.RawMessage, error) {
	resources, err := r.GetResourcesByType(ctx, "StructureDefinition", r.sdLimit)
	if err != nil {
		return nil, err
	}

	docs := make([]json.RawMessage, 0, len(resources))
	for _, res := range resources {
		if r.filter {
			if v, err := jsonparser.GetString(res.Content, "fhirVersion"); err == nil && v != "" && !version.Matches(v) {
				r.logger.Debug().Str("url", res.URL).Str("fhir_version", v).Msg("skipping definition from another release")
				continue
			}
		}
		docs = append(docs, res.Content)
	}
	return docs, nil
}

// ClearCache drops both caches.
func (r *SchemaResolver) ClearCache() {
	r.structures.Clear()
	r.primitives.Clear()
}

// CacheStats reports the sizes and hit counts of both caches.
type CacheStats struct {
	Structures cache.Stats
	Primitives cache.Stats
}

// CacheStats returns statistics for both caches.
func (r *SchemaResolver) CacheStats() CacheStats {
	return CacheStats{
		Structures: r.structures.Stats(),
		Primitives: r.primitives.Stats(),
	}
}
