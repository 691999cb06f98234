package registry

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/pkg/loader"
	"github.com/gofhir/codegen/resolver"
)

func tgz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: "package/" + name, Mode: 0o600, Size: int64(len(body)), Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

var (
	corePackage = map[string]string{
		"package.json": `{"name":"hl7.fhir.r4.core","version":"4.0.1","fhirVersions":["4.0.1"]}`,
		"StructureDefinition-Patient.json": `{"resourceType":"StructureDefinition","id":"Patient",
			"url":"http://hl7.org/fhir/StructureDefinition/Patient","name":"Patient","kind":"resource"}`,
		"SearchParameter-Patient-active.json": `{"resourceType":"SearchParameter","id":"Patient-active",
			"url":"http://hl7.org/fhir/SearchParameter/Patient-active","code":"active","type":"token","base":["Patient"]}`,
	}
	igPackage = map[string]string{
		"package.json": `{"name":"example.ig","version":"1.0.0","fhirVersion":"4.0.1",
			"dependencies":{"hl7.fhir.r4.core":"4.0.1"}}`,
		"StructureDefinition-Patient.json": `{"resourceType":"StructureDefinition","id":"ig-patient",
			"url":"http://hl7.org/fhir/StructureDefinition/Patient","name":"Shadow","kind":"resource"}`,
		"StructureDefinition-MyPatient.json": `{"resourceType":"StructureDefinition","id":"MyPatient",
			"url":"http://example.org/StructureDefinition/MyPatient","name":"MyPatient","kind":"resource"}`,
	}
)

// fakeRegistry serves registry documents and tarballs for the given packages.
type fakeRegistry struct {
	*httptest.Server
	packages  map[string]map[string]string
	downloads atomic.Int64
	failing   atomic.Bool
}

func newFakeRegistry(t *testing.T) *fakeRegistry {
	t.Helper()
	reg := &fakeRegistry{packages: map[string]map[string]string{
		"hl7.fhir.r4.core#4.0.1": corePackage,
		"example.ig#1.0.0":       igPackage,
	}}
	versions := map[string]string{"hl7.fhir.r4.core": "4.0.1", "example.ig": "1.0.0"}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{name}", func(w http.ResponseWriter, r *http.Request) {
		if reg.failing.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		name := r.PathValue("name")
		v, ok := versions[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `{"name":%q,"dist-tags":{"latest":%q},"versions":{%q:{"version":%q,"fhirVersion":"4.0.1","dist":{"tarball":"%s/tarballs/%s/%s"}}}}`,
			name, v, v, v, reg.URL, name, v)
	})
	mux.HandleFunc("GET /tarballs/{name}/{version}", func(w http.ResponseWriter, r *http.Request) {
		files, ok := reg.packages[r.PathValue("name")+"#"+r.PathValue("version")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		reg.downloads.Add(1)
		_, _ = w.Write(tgz(t, files))
	})
	reg.Server = httptest.NewServer(mux)
	t.Cleanup(reg.Close)
	return reg
}

func TestClientGetPackageInfo(t *testing.T) {
	reg := newFakeRegistry(t)
	c := NewClient(WithRegistryURL(reg.URL), WithCacheDir(t.TempDir()))
	ctx := context.Background()

	info, err := c.GetPackageInfo(ctx, "example.ig", VersionLatest)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", info.Version)
	assert.Equal(t, "4.0.1", info.FHIRVersion)
	assert.Contains(t, info.Tarball, "/tarballs/example.ig/1.0.0")

	_, err = c.GetPackageInfo(ctx, "example.ig", "9.9.9")
	assert.ErrorIs(t, err, fc.ErrNotFound)

	_, err = c.GetPackageInfo(ctx, "no.such.package", "")
	assert.ErrorIs(t, err, fc.ErrNotFound)
}

func TestClientDownloadPackage(t *testing.T) {
	reg := newFakeRegistry(t)
	cacheDir := t.TempDir()
	c := NewClient(WithRegistryURL(reg.URL+"/"), WithCacheDir(cacheDir))
	ctx := context.Background()

	dir, err := c.DownloadPackage(ctx, "hl7.fhir.r4.core", "4.0.1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cacheDir, "hl7.fhir.r4.core#4.0.1"), dir)
	assert.True(t, c.IsCached(dir))

	manifest, err := c.ReadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, "hl7.fhir.r4.core", manifest.Name)

	_, err = c.DownloadPackage(ctx, "hl7.fhir.r4.core", "4.0.1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), reg.downloads.Load(), "cached package is not downloaded again")

	list, err := c.ListCachedPackages()
	require.NoError(t, err)
	assert.Equal(t, []string{"hl7.fhir.r4.core#4.0.1"}, list)

	require.NoError(t, c.ClearCache())
	_, err = os.Stat(cacheDir)
	assert.True(t, os.IsNotExist(err))
}

func TestClientCircuitBreaker(t *testing.T) {
	reg := newFakeRegistry(t)
	reg.failing.Store(true)
	c := NewClient(WithRegistryURL(reg.URL), WithCacheDir(t.TempDir()))
	ctx := context.Background()

	for range 3 {
		_, err := c.GetPackageInfo(ctx, "example.ig", "")
		require.Error(t, err)
	}
	_, err := c.GetPackageInfo(ctx, "example.ig", "")
	assert.ErrorIs(t, err, fc.ErrCanonicalManager, "breaker opens after consecutive failures")
}

func TestExtractTarGzRejectsTraversal(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "../evil.json", Mode: 0o600, Size: 2, Typeflag: tar.TypeReg}))
	_, _ = tw.Write([]byte("{}"))
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	err := extractTarGz(&buf, t.TempDir())
	assert.ErrorContains(t, err, "invalid tar path")
}

func TestDependencyResolverOrder(t *testing.T) {
	graph := map[string]map[string]string{
		"app":   {"lib-b": "1", "lib-a": "1"},
		"lib-a": {"core": "1"},
		"lib-b": {"core": "1", "app": "1"},
		"core":  nil,
	}
	r := NewDependencyResolver(func(_ context.Context, ref loader.PackageRef) (loader.PackageRef, map[string]string, error) {
		return ref, graph[ref.Name], nil
	})

	order, err := r.Resolve(context.Background(), loader.PackageRef{Name: "app", Version: "1"})
	require.NoError(t, err)

	names := make([]string, len(order))
	for i, ref := range order {
		names[i] = ref.Name
	}
	assert.Equal(t, []string{"core", "lib-a", "lib-b", "app"}, names)
}

func TestDependencyResolverError(t *testing.T) {
	boom := errors.New("boom")
	r := NewDependencyResolver(func(_ context.Context, ref loader.PackageRef) (loader.PackageRef, map[string]string, error) {
		if ref.Name == "dep" {
			return ref, nil, boom
		}
		return ref, map[string]string{"dep": "1"}, nil
	})
	_, err := r.Resolve(context.Background(), loader.PackageRef{Name: "root"})
	assert.ErrorIs(t, err, boom)
}

func TestManagerInstallPackage(t *testing.T) {
	reg := newFakeRegistry(t)
	cacheDir := t.TempDir()
	m := NewManager(cacheDir, WithClient(NewClient(WithRegistryURL(reg.URL), WithCacheDir(cacheDir))))
	ctx := context.Background()

	require.NoError(t, m.InstallPackage(ctx, "example.ig", "1.0.0"))

	pkgs, err := m.ListPackages(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"hl7.fhir.r4.core#4.0.1", "example.ig#1.0.0"}, pkgs)

	res, err := m.Resolve(ctx, "http://hl7.org/fhir/StructureDefinition/Patient")
	require.NoError(t, err)
	assert.Equal(t, "hl7.fhir.r4.core#4.0.1", res.Package, "dependency loaded first wins")
	assert.Contains(t, string(res.Content), `"name":"Patient"`)

	hits, err := m.Search(ctx, resolver.SearchQuery{ResourceType: "StructureDefinition", Limit: 10})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "http://example.org/StructureDefinition/MyPatient", hits[1].URL)

	stats := m.Stats()
	assert.Equal(t, 2, stats.PackagesLoaded)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 1, stats.SearchParameters)

	// Installing again touches nothing.
	require.NoError(t, m.InstallPackage(ctx, "example.ig", "1.0.0"))
	assert.Equal(t, int64(2), reg.downloads.Load())
}

func TestManagerOffline(t *testing.T) {
	m := NewManager(t.TempDir(), WithOffline(true))
	err := m.InstallPackage(context.Background(), "hl7.fhir.r4.core", "4.0.1")
	require.Error(t, err)
	assert.ErrorIs(t, err, fc.ErrCanonicalManager)
	assert.ErrorIs(t, err, fc.ErrNotFound)
}

func TestManagerLoadTgzAndDirectory(t *testing.T) {
	ctx := context.Background()
	m := NewManager(t.TempDir())

	path := filepath.Join(t.TempDir(), "core.tgz")
	require.NoError(t, os.WriteFile(path, tgz(t, corePackage), 0o600))
	require.NoError(t, m.LoadTgz(path))

	dir := filepath.Join(t.TempDir(), "ig")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, body := range igPackage {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	require.NoError(t, m.LoadDirectory(ctx, dir))

	pkgs, _ := m.ListPackages(ctx)
	assert.Equal(t, []string{"hl7.fhir.r4.core#4.0.1", "example.ig#1.0.0"}, pkgs)
	assert.Equal(t, 3, m.Index().Len())

	assert.Error(t, m.LoadTgz(filepath.Join(t.TempDir(), "missing.tgz")))
}

func TestManagerAddResourceAndResolve(t *testing.T) {
	ctx := context.Background()
	m := NewManager(t.TempDir())

	require.NoError(t, m.AddResource("local", []byte(`{"resourceType":"Bundle","entry":[
		{"resource":{"resourceType":"StructureDefinition","url":"http://example.org/A"}},
		{"resource":{"resourceType":"StructureDefinition","url":"http://example.org/B"}}
	]}`)))
	err := m.AddResource("local", []byte(`{"id":"x"}`))
	assert.ErrorIs(t, err, fc.ErrValidation)

	res, err := m.Resolve(ctx, "http://example.org/B")
	require.NoError(t, err)
	assert.Equal(t, "local", res.Package)
	assert.Equal(t, "StructureDefinition", res.ResourceType)

	_, err = m.Resolve(ctx, "http://example.org/C")
	assert.ErrorIs(t, err, fc.ErrNotFound)

	hits, err := m.Search(ctx, resolver.SearchQuery{ResourceType: "StructureDefinition", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	_, err = m.Search(ctx, resolver.SearchQuery{})
	assert.ErrorIs(t, err, fc.ErrValidation)
}
