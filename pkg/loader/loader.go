// Package loader reads FHIR NPM packages from the local package cache,
// unpacked directories, or .tgz archives.
package loader

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	fc "github.com/gofhir/codegen"
)

// DefaultPackagePath returns the default FHIR package cache path.
func DefaultPackagePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".fhir", "packages")
}

// PackageRef represents a reference to a FHIR package.
type PackageRef struct {
	Name    string
	Version string
}

// String returns the package spec in "name#version" format.
func (p PackageRef) String() string {
	return fmt.Sprintf("%s#%s", p.Name, p.Version)
}

// ParsePackageSpec parses "name#version" into separate components.
func ParsePackageSpec(spec string) (name, version string) {
	parts := strings.SplitN(spec, "#", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return spec, ""
}

// DefaultPackages lists the packages installed for each release when the
// caller names none. The core package comes first.
var DefaultPackages = map[fc.FHIRVersion][]PackageRef{
	fc.R4: {
		{Name: "hl7.fhir.r4.core", Version: "4.0.1"},
	},
	fc.R4B: {
		{Name: "hl7.fhir.r4b.core", Version: "4.3.0"},
	},
	fc.R5: {
		{Name: "hl7.fhir.r5.core", Version: "5.0.0"},
	},
	fc.R6: {
		{Name: "hl7.fhir.r6.core", Version: "6.0.0-ballot2"},
	},
}

// Resource is one resource found in a package.
type Resource struct {
	URL          string
	ResourceType string
	ID           string
	Content      []byte
}

// Key returns the canonical URL, or resourceType/id when the resource has none.
func (r Resource) Key() string {
	if r.URL != "" {
		return r.URL
	}
	if r.ResourceType != "" && r.ID != "" {
		return r.ResourceType + "/" + r.ID
	}
	return ""
}

// Package represents a loaded FHIR package. Resources keep the package's file order.
type Package struct {
	Name         string
	Version      string
	Path         string
	FHIRVersion  string
	Dependencies map[string]string
	Resources    []Resource
}

// Ref returns the package reference.
func (p *Package) Ref() PackageRef {
	return PackageRef{Name: p.Name, Version: p.Version}
}

// PackageManifest represents the package.json of a FHIR NPM package.
type PackageManifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	FHIRVersion  string            `json:"fhirVersion,omitempty"`
	FHIRVersions []string          `json:"fhirVersions,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// ReleaseVersion returns the FHIR version the package declares, preferring
// the singular field.
func (m *PackageManifest) ReleaseVersion() string {
	if m.FHIRVersion != "" {
		return m.FHIRVersion
	}
	if len(m.FHIRVersions) > 0 {
		return m.FHIRVersions[0]
	}
	return ""
}

// ParseManifest decodes package.json.
func ParseManifest(data []byte) (*PackageManifest, error) {
	var m PackageManifest
	var err error
	if m.Name, err = jsonparser.GetString(data, "name"); err != nil {
		return nil, fmt.Errorf("package.json: missing name: %w", err)
	}
	m.Version, _ = jsonparser.GetString(data, "version")
	m.FHIRVersion, _ = jsonparser.GetString(data, "fhirVersion")
	_, _ = jsonparser.ArrayEach(data, func(v []byte, dt jsonparser.ValueType, _ int, _ error) {
		if dt == jsonparser.String {
			if s, err := jsonparser.ParseString(v); err == nil {
				m.FHIRVersions = append(m.FHIRVersions, s)
			}
		}
	}, "fhirVersions")
	_ = jsonparser.ObjectEach(data, func(k, v []byte, dt jsonparser.ValueType, _ int) error {
		if dt != jsonparser.String {
			return nil
		}
		if m.Dependencies == nil {
			m.Dependencies = make(map[string]string)
		}
		val, err := jsonparser.ParseString(v)
		if err != nil {
			return nil
		}
		m.Dependencies[string(k)] = val
		return nil
	}, "dependencies")
	return &m, nil
}

// Loader loads FHIR packages from the NPM cache.
type Loader struct {
	basePath    string
	concurrency int
	logger      zerolog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the loader logger.
func WithLogger(l zerolog.Logger) Option {
	return func(ld *Loader) {
		ld.logger = l
	}
}

// WithConcurrency bounds the number of files read in parallel.
func WithConcurrency(n int) Option {
	return func(ld *Loader) {
		if n > 0 {
			ld.concurrency = n
		}
	}
}

// NewLoader creates a new Loader with the given base path.
func NewLoader(basePath string, opts ...Option) *Loader {
	if basePath == "" {
		basePath = DefaultPackagePath()
	}
	l := &Loader{
		basePath:    basePath,
		concurrency: 8,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// BasePath returns the base path for packages.
func (l *Loader) BasePath() string {
	return l.basePath
}

// PackageDir returns the cache directory of a package.
func (l *Loader) PackageDir(name, version string) string {
	return filepath.Join(l.basePath, PackageRef{Name: name, Version: version}.String())
}

// IsInstalled reports whether the package has a manifest in the cache.
func (l *Loader) IsInstalled(name, version string) bool {
	_, err := os.Stat(filepath.Join(l.PackageDir(name, version), "package", "package.json"))
	return err == nil
}

// LoadPackage loads a specific package by name and version from the cache.
func (l *Loader) LoadPackage(ctx context.Context, name, version string) (*Package, error) {
	pkgDir := l.PackageDir(name, version)
	if _, err := os.Stat(pkgDir); os.IsNotExist(err) {
		return nil, fc.NewError(fc.ErrNotFound, fmt.Sprintf("package %s#%s not found at %s", name, version, pkgDir), nil)
	}
	pkg, err := l.LoadDirectory(ctx, pkgDir)
	if err != nil {
		return nil, err
	}
	if pkg.Name == "" {
		pkg.Name = name
	}
	if pkg.Version == "" {
		pkg.Version = version
	}
	return pkg, nil
}

// LoadDirectory loads an unpacked package. dir may be the package root or
// the directory holding its "package" folder.
func (l *Loader) LoadDirectory(ctx context.Context, dir string) (*Package, error) {
	contentDir := dir
	if info, err := os.Stat(filepath.Join(dir, "package")); err == nil && info.IsDir() {
		contentDir = filepath.Join(dir, "package")
	}

	pkg := &Package{Path: dir}

	manifestData, err := os.ReadFile(filepath.Join(contentDir, "package.json"))
	switch {
	case err == nil:
		manifest, err := ParseManifest(manifestData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse package manifest: %w", err)
		}
		pkg.applyManifest(manifest)
	case errors.Is(err, os.ErrNotExist):
		l.logger.Debug().Str("dir", dir).Msg("directory has no package.json")
	default:
		return nil, fmt.Errorf("failed to read package manifest: %w", err)
	}

	entries, err := os.ReadDir(contentDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read package directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !isResourceFile(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(contentDir, entry.Name()))
	}
	sortByLoadOrder(files)

	contents := make([][]byte, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i, path := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				l.logger.Warn().Err(err).Str("file", path).Msg("skipping unreadable file")
				return nil
			}
			contents[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, data := range contents {
		if data == nil {
			continue
		}
		pkg.Resources = append(pkg.Resources, ExtractResources(data)...)
	}

	l.logger.Debug().
		Str("package", pkg.Ref().String()).
		Int("files", len(files)).
		Int("resources", len(pkg.Resources)).
		Msg("loaded package directory")
	return pkg, nil
}

// ListPackages returns all available packages in the cache.
func (l *Loader) ListPackages() ([]string, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var packages []string
	for _, entry := range entries {
		if entry.IsDir() && strings.Contains(entry.Name(), "#") {
			packages = append(packages, entry.Name())
		}
	}
	return packages, nil
}

// LoadFromTgz loads a FHIR package from a local .tgz file without unpacking it to disk.
func (l *Loader) LoadFromTgz(tgzPath string) (*Package, error) {
	file, err := os.Open(tgzPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open tgz file: %w", err)
	}
	defer file.Close()

	return l.LoadFromReader(file, tgzPath)
}

// maxEntrySize bounds a single archive member.
const maxEntrySize = 100 * 1024 * 1024

// LoadFromReader loads a package from a gzipped tar stream.
func (l *Loader) LoadFromReader(reader io.Reader, source string) (*Package, error) {
	gzReader, err := gzip.NewReader(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)

	type member struct {
		name string
		data []byte
	}
	var (
		members      []member
		manifestData []byte
	)

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar entry: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		// Only top-level members of package/ are resources.
		name := strings.TrimPrefix(header.Name, "package/")
		if strings.Contains(name, "/") {
			continue
		}
		if name != "package.json" && !isResourceFile(name) {
			continue
		}

		data, err := io.ReadAll(io.LimitReader(tarReader, maxEntrySize))
		if err != nil {
			l.logger.Warn().Err(err).Str("member", header.Name).Msg("skipping unreadable archive member")
			continue
		}
		if name == "package.json" {
			manifestData = data
			continue
		}
		members = append(members, member{name: name, data: data})
	}

	if manifestData == nil {
		return nil, fc.NewError(fc.ErrValidation, "package.json not found in "+source, nil)
	}
	manifest, err := ParseManifest(manifestData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse package manifest: %w", err)
	}

	slices.SortStableFunc(members, func(a, b member) int {
		return compareLoadOrder(a.name, b.name)
	})

	pkg := &Package{Path: source}
	pkg.applyManifest(manifest)
	for _, m := range members {
		pkg.Resources = append(pkg.Resources, ExtractResources(m.data)...)
	}
	return pkg, nil
}

func (p *Package) applyManifest(m *PackageManifest) {
	p.Name = m.Name
	p.Version = m.Version
	p.FHIRVersion = m.ReleaseVersion()
	p.Dependencies = m.Dependencies
}

// ExtractResources returns the resources in one JSON document. Bundles are
// flattened into their entries; documents without a resourceType yield nothing.
func ExtractResources(data []byte) []Resource {
	resourceType, err := jsonparser.GetString(data, "resourceType")
	if err != nil || resourceType == "" {
		return nil
	}

	if resourceType != "Bundle" {
		return []Resource{probe(data, resourceType)}
	}

	var out []Resource
	_, _ = jsonparser.ArrayEach(data, func(entry []byte, _ jsonparser.ValueType, _ int, _ error) {
		raw, dt, _, err := jsonparser.Get(entry, "resource")
		if err != nil || dt != jsonparser.Object {
			return
		}
		out = append(out, ExtractResources(raw)...)
	}, "entry")
	return out
}

func probe(data []byte, resourceType string) Resource {
	r := Resource{ResourceType: resourceType, Content: data}
	r.URL, _ = jsonparser.GetString(data, "url")
	r.ID, _ = jsonparser.GetString(data, "id")
	return r
}

func isResourceFile(name string) bool {
	if !strings.HasSuffix(name, ".json") {
		return false
	}
	return name != "package.json" && name != ".index.json"
}

// loadOrder puts definitions before terminology so that dependent lookups
// in the same package see their targets first.
var loadOrder = []string{
	"StructureDefinition-",
	"CodeSystem-",
	"ValueSet-",
	"SearchParameter-",
}

func loadRank(name string) int {
	base := filepath.Base(name)
	for i, prefix := range loadOrder {
		if strings.HasPrefix(base, prefix) {
			return i
		}
	}
	return len(loadOrder)
}

func compareLoadOrder(a, b string) int {
	if ra, rb := loadRank(a), loadRank(b); ra != rb {
		return ra - rb
	}
	return strings.Compare(filepath.Base(a), filepath.Base(b))
}

func sortByLoadOrder(files []string) {
	slices.SortStableFunc(files, compareLoadOrder)
}
