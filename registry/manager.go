package registry

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/pkg/loader"
	"github.com/gofhir/codegen/resolver"
)

// Manager installs packages into the local cache and serves their resources.
// It implements resolver.PackageManager and is safe for concurrent use.
type Manager struct {
	client  *Client
	loader  *loader.Loader
	index   *Index
	offline bool
	logger  zerolog.Logger
	tracer  trace.Tracer
}

var _ resolver.PackageManager = (*Manager)(nil)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClient sets the registry client used for downloads.
func WithClient(c *Client) ManagerOption {
	return func(m *Manager) {
		if c != nil {
			m.client = c
		}
	}
}

// WithOffline disables downloads; only cached packages can be installed.
func WithOffline(offline bool) ManagerOption {
	return func(m *Manager) {
		m.offline = offline
	}
}

// WithLogger sets the manager logger.
func WithLogger(l zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) ManagerOption {
	return func(m *Manager) {
		if tp != nil {
			m.tracer = tp.Tracer("github.com/gofhir/codegen/registry")
		}
	}
}

// NewManager creates a Manager over the package cache at cacheDir. An empty
// cacheDir selects ~/.fhir/packages.
func NewManager(cacheDir string, opts ...ManagerOption) *Manager {
	m := &Manager{
		index:  NewIndex(),
		logger: zerolog.Nop(),
		tracer: noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.client == nil {
		m.client = NewClient(WithCacheDir(cacheDir), WithClientLogger(m.logger))
	}
	if cacheDir == "" {
		cacheDir = m.client.CacheDir()
	}
	m.loader = loader.NewLoader(cacheDir, loader.WithLogger(m.logger))
	return m
}

// Client returns the registry client used for downloads.
func (m *Manager) Client() *Client {
	return m.client
}

// Index returns the manager's canonical index.
func (m *Manager) Index() *Index {
	return m.index
}

// Stats returns cumulative load statistics.
func (m *Manager) Stats() LoadStats {
	return m.index.Stats()
}

// InstallPackage makes name#version and its dependencies available, loading
// dependencies first. Packages missing from the cache are downloaded unless
// the manager is offline.
func (m *Manager) InstallPackage(ctx context.Context, name, version string) error {
	ctx, span := m.tracer.Start(ctx, "registry.install", trace.WithAttributes(
		attribute.String("package", name),
		attribute.String("version", version),
	))
	defer span.End()

	deps := NewDependencyResolver(m.ensure)
	order, err := deps.Resolve(ctx, loader.PackageRef{Name: name, Version: version})
	if err != nil {
		span.RecordError(err)
		return fc.NewError(fc.ErrCanonicalManager, "install "+name+"#"+version, err)
	}

	for _, ref := range order {
		if m.index.HasPackage(ref.String()) {
			continue
		}
		pkg, err := m.loader.LoadPackage(ctx, ref.Name, ref.Version)
		if err != nil {
			span.RecordError(err)
			return fc.NewError(fc.ErrCanonicalManager, "load "+ref.String(), err)
		}
		m.add(pkg)
	}
	return nil
}

// ensure downloads ref when needed and returns its resolved reference and dependencies.
func (m *Manager) ensure(ctx context.Context, ref loader.PackageRef) (loader.PackageRef, map[string]string, error) {
	dir := m.client.PackagePath(ref.Name, ref.Version)
	if ref.Version == "" || ref.Version == VersionLatest || !m.client.IsCached(dir) {
		if m.offline {
			return ref, nil, fc.NewError(fc.ErrNotFound, fmt.Sprintf("package %s is not cached and downloads are disabled", ref), nil)
		}
		var err error
		if dir, err = m.client.DownloadPackage(ctx, ref.Name, ref.Version); err != nil {
			return ref, nil, err
		}
	}

	manifest, err := m.client.ReadManifest(dir)
	if err != nil {
		return ref, nil, err
	}
	resolved := ref
	if manifest.Version != "" {
		resolved.Version = manifest.Version
	}
	return resolved, manifest.Dependencies, nil
}

// LoadDirectory loads an unpacked package directory.
func (m *Manager) LoadDirectory(ctx context.Context, dir string) error {
	pkg, err := m.loader.LoadDirectory(ctx, dir)
	if err != nil {
		return fc.NewError(fc.ErrCanonicalManager, "load "+dir, err)
	}
	if pkg.Name == "" {
		pkg.Name = dir
	}
	m.add(pkg)
	return nil
}

// LoadTgz loads a package archive.
func (m *Manager) LoadTgz(path string) error {
	pkg, err := m.loader.LoadFromTgz(path)
	if err != nil {
		return fc.NewError(fc.ErrCanonicalManager, "load "+path, err)
	}
	m.add(pkg)
	return nil
}

func (m *Manager) add(pkg *loader.Package) {
	stats := m.index.Add(pkg)
	m.logger.Info().
		Str("package", pkg.Ref().String()).
		Int("structure_definitions", stats.StructureDefinitions).
		Int("search_parameters", stats.SearchParameters).
		Int("resources", stats.Total()).
		Int("duplicates", stats.Duplicates).
		Msg("package loaded")
}

// AddResource indexes one in-process JSON document, or every entry of a
// Bundle, under the given package label.
func (m *Manager) AddResource(pkg string, data []byte) error {
	resources := loader.ExtractResources(data)
	if len(resources) == 0 {
		return fc.NewError(fc.ErrValidation, "document has no resourceType", nil)
	}
	for _, r := range resources {
		if !m.index.AddResource(pkg, r) {
			m.logger.Debug().Str("key", r.Key()).Msg("resource not indexed")
		}
	}
	return nil
}

// Resolve returns the resource with the given canonical URL.
func (m *Manager) Resolve(_ context.Context, url string) (*resolver.ResolvedResource, error) {
	r, pkg, ok := m.index.Get(url)
	if !ok {
		return nil, fc.NewError(fc.ErrNotFound, url, nil)
	}
	return &resolver.ResolvedResource{
		URL:          url,
		ResourceType: r.ResourceType,
		Package:      pkg,
		Content:      r.Content,
	}, nil
}

// Search returns installed resources of the queried type in load order.
func (m *Manager) Search(ctx context.Context, q resolver.SearchQuery) ([]resolver.SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.ResourceType == "" {
		return nil, fc.NewError(fc.ErrValidation, "search requires a resource type", nil)
	}
	return m.index.Search(q.ResourceType, q.Limit), nil
}

// ListPackages returns the loaded packages as "name#version".
func (m *Manager) ListPackages(_ context.Context) ([]string, error) {
	return m.index.Packages(), nil
}
