package main

import (
	"context"

	"github.com/rs/zerolog"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/config"
	"github.com/gofhir/codegen/pkg/loader"
	"github.com/gofhir/codegen/registry"
)

// newManager creates the package manager described by cfg.
func newManager(cfg *config.Config, log zerolog.Logger, opts ...registry.ManagerOption) *registry.Manager {
	client := registry.NewClient(
		registry.WithRegistryURL(cfg.Registry.URL),
		registry.WithCacheDir(cfg.Registry.CacheDir),
		registry.WithTimeout(cfg.Registry.Timeout),
		registry.WithClientLogger(log),
	)
	opts = append([]registry.ManagerOption{
		registry.WithClient(client),
		registry.WithOffline(cfg.Registry.Offline),
		registry.WithLogger(log),
	}, opts...)
	return registry.NewManager(cfg.Registry.CacheDir, opts...)
}

// loadSources loads local directories and archives, then installs the
// configured packages. With no sources at all the release's default
// packages are installed.
func loadSources(ctx context.Context, cfg *config.Config, m *registry.Manager) error {
	for _, dir := range cfg.PackageDirs {
		if err := m.LoadDirectory(ctx, dir); err != nil {
			return err
		}
	}
	for _, file := range cfg.PackageFiles {
		if err := m.LoadTgz(file); err != nil {
			return err
		}
	}

	refs := make([]loader.PackageRef, 0, len(cfg.Packages))
	for _, spec := range cfg.Packages {
		name, version := loader.ParsePackageSpec(spec)
		refs = append(refs, loader.PackageRef{Name: name, Version: version})
	}
	if len(refs) == 0 && len(cfg.PackageDirs) == 0 && len(cfg.PackageFiles) == 0 {
		refs = loader.DefaultPackages[cfg.Version()]
	}

	for _, ref := range refs {
		if err := m.InstallPackage(ctx, ref.Name, ref.Version); err != nil {
			return err
		}
	}
	if m.Index().Len() == 0 {
		return fc.NewError(fc.ErrConfig, "no FHIR resources were loaded", nil)
	}
	return nil
}
