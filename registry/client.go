// Package registry installs FHIR packages and serves their resources to the
// resolver.
//
// The FHIR Package Registry (https://packages.fhir.org) hosts FHIR
// Implementation Guides and core packages. Client downloads them into the
// local package cache; Manager indexes installed packages by canonical URL
// and resource type.
package registry

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/pkg/loader"
)

const (
	// DefaultRegistryURL is the primary FHIR package registry.
	DefaultRegistryURL = "https://packages.fhir.org"

	// DefaultRegistry2URL is the secondary/mirror registry.
	DefaultRegistry2URL = "https://packages2.fhir.org"

	// DefaultTimeout for HTTP requests.
	DefaultTimeout = 30 * time.Second

	// VersionLatest represents the "latest" version tag.
	VersionLatest = "latest"
)

// Client is a FHIR Package Registry client. Every request goes through a
// circuit breaker so an unreachable registry fails fast.
type Client struct {
	httpClient  *http.Client
	registryURL string
	cacheDir    string
	breaker     *gobreaker.CircuitBreaker
	logger      zerolog.Logger
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithRegistryURL sets a custom registry URL.
func WithRegistryURL(url string) ClientOption {
	return func(c *Client) {
		if url != "" {
			c.registryURL = strings.TrimSuffix(url, "/")
		}
	}
}

// WithCacheDir sets a custom cache directory.
func WithCacheDir(dir string) ClientOption {
	return func(c *Client) {
		if dir != "" {
			c.cacheDir = dir
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithClientLogger sets the client logger.
func WithClientLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a new registry client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		registryURL: DefaultRegistryURL,
		cacheDir:    loader.DefaultPackagePath(),
		logger:      zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "fhir-package-registry",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("registry circuit breaker state changed")
		},
	})

	return c
}

// PackageInfo contains metadata about a package version.
type PackageInfo struct {
	Name        string
	Version     string
	Description string
	FHIRVersion string
	URL         string
	Canonical   string
	Tarball     string
}

type registryDocument struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	DistTags    map[string]string `json:"dist-tags"`
	Versions    map[string]struct {
		Version     string `json:"version"`
		FHIRVersion string `json:"fhirVersion"`
		URL         string `json:"url"`
		Canonical   string `json:"canonical"`
		Dist        struct {
			Tarball string `json:"tarball"`
		} `json:"dist"`
	} `json:"versions"`
}

// do sends req through the breaker. Server errors count as failures; other
// statuses are returned to the caller.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	v, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			resp.Body.Close()
			return nil, fmt.Errorf("registry %s: status %d", req.URL.Host, resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fc.NewError(fc.ErrCanonicalManager, "package registry unavailable", err)
		}
		return nil, err
	}
	return v.(*http.Response), nil
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req)
}

// GetPackageInfo retrieves metadata about a package. An empty version or
// "latest" selects the registry's latest tag.
func (c *Client) GetPackageInfo(ctx context.Context, name, version string) (*PackageInfo, error) {
	resp, err := c.get(ctx, fmt.Sprintf("%s/%s", c.registryURL, name))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch package info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fc.NewError(fc.ErrNotFound, fmt.Sprintf("package %s (status %d)", name, resp.StatusCode), nil)
	}

	var doc registryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode package info: %w", err)
	}

	resolved := version
	if version == VersionLatest || version == "" {
		latest, ok := doc.DistTags[VersionLatest]
		if !ok {
			return nil, fc.NewError(fc.ErrNotFound, "no latest version for package "+name, nil)
		}
		resolved = latest
	}

	v, ok := doc.Versions[resolved]
	if !ok {
		return nil, fc.NewError(fc.ErrNotFound, fmt.Sprintf("version %s of package %s", resolved, name), nil)
	}

	info := &PackageInfo{
		Name:        doc.Name,
		Version:     resolved,
		Description: doc.Description,
		FHIRVersion: v.FHIRVersion,
		URL:         v.URL,
		Canonical:   v.Canonical,
		Tarball:     v.Dist.Tarball,
	}
	if info.Name == "" {
		info.Name = name
	}
	// Some registries only publish the version URL.
	if info.Tarball == "" {
		info.Tarball = v.URL
	}
	return info, nil
}

// DownloadPackage downloads and extracts a package into the cache directory
// and returns the package directory. Cached packages are not downloaded again.
func (c *Client) DownloadPackage(ctx context.Context, name, version string) (string, error) {
	if version != VersionLatest && version != "" {
		if dir := c.PackagePath(name, version); c.IsCached(dir) {
			return dir, nil
		}
	}

	info, err := c.GetPackageInfo(ctx, name, version)
	if err != nil {
		return "", err
	}

	packageDir := c.PackagePath(name, info.Version)
	if c.IsCached(packageDir) {
		return packageDir, nil
	}
	if info.Tarball == "" {
		return "", fc.NewError(fc.ErrNotFound, fmt.Sprintf("no download URL for %s#%s", name, info.Version), nil)
	}

	resp, err := c.get(ctx, info.Tarball)
	if err != nil {
		return "", fmt.Errorf("failed to download package: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download package %s#%s: status %d", name, info.Version, resp.StatusCode)
	}

	if err := os.MkdirAll(packageDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}

	if err := extractTarGz(resp.Body, packageDir); err != nil {
		os.RemoveAll(packageDir)
		return "", fmt.Errorf("failed to extract package: %w", err)
	}

	c.logger.Info().Str("package", name+"#"+info.Version).Str("dir", packageDir).Msg("downloaded package")
	return packageDir, nil
}

// ReadManifest reads the package.json from a downloaded package.
func (c *Client) ReadManifest(packageDir string) (*loader.PackageManifest, error) {
	data, err := os.ReadFile(filepath.Join(packageDir, "package", "package.json"))
	if err != nil {
		data, err = os.ReadFile(filepath.Join(packageDir, "package.json"))
		if err != nil {
			return nil, fmt.Errorf("failed to read package.json: %w", err)
		}
	}
	return loader.ParseManifest(data)
}

// ListCachedPackages returns all packages in the cache.
func (c *Client) ListCachedPackages() ([]string, error) {
	entries, err := os.ReadDir(c.cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
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

// ClearCache removes all cached packages.
func (c *Client) ClearCache() error {
	return os.RemoveAll(c.cacheDir)
}

// CacheDir returns the cache directory path.
func (c *Client) CacheDir() string {
	return c.cacheDir
}

// PackagePath returns the local path for a package.
func (c *Client) PackagePath(name, version string) string {
	safeName := strings.ReplaceAll(name, "/", "-")
	return filepath.Join(c.cacheDir, fmt.Sprintf("%s#%s", safeName, version))
}

// IsCached checks if a package directory holds a manifest.
func (c *Client) IsCached(packageDir string) bool {
	if _, err := os.Stat(filepath.Join(packageDir, "package", "package.json")); err == nil {
		return true
	}
	_, err := os.Stat(filepath.Join(packageDir, "package.json"))
	return err == nil
}

// maxFileSize bounds one extracted file.
const maxFileSize = 100 * 1024 * 1024

// extractTarGz extracts a tar.gz archive to a directory.
func extractTarGz(r io.Reader, destDir string) error {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	root := filepath.Clean(destDir) + string(os.PathSeparator)

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read tar: %w", err)
		}

		target := filepath.Join(destDir, header.Name) //nolint:gosec // G305: Path is validated below
		if !strings.HasPrefix(target, root) {
			return fmt.Errorf("invalid tar path: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("failed to create parent directory: %w", err)
			}

			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return fmt.Errorf("failed to create file: %w", err)
			}
			if _, err := io.Copy(f, io.LimitReader(tr, maxFileSize)); err != nil {
				f.Close()
				return fmt.Errorf("failed to write file: %w", err)
			}
			f.Close()
		}
	}

	return nil
}
