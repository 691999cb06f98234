package registry

import (
	"context"
	"fmt"
	"slices"

	"github.com/gofhir/codegen/pkg/loader"
)

// ManifestFunc makes a package available and returns its resolved reference
// and declared dependencies.
type ManifestFunc func(ctx context.Context, ref loader.PackageRef) (loader.PackageRef, map[string]string, error)

// DependencyResolver orders a package and its transitive dependencies so that
// every package comes after the packages it depends on.
type DependencyResolver struct {
	fetch ManifestFunc
}

// NewDependencyResolver creates a resolver backed by fetch.
func NewDependencyResolver(fetch ManifestFunc) *DependencyResolver {
	return &DependencyResolver{fetch: fetch}
}

// Resolve returns the install order for root. Each name is installed once;
// the first version reached wins. A failure on any package is returned.
func (r *DependencyResolver) Resolve(ctx context.Context, root loader.PackageRef) ([]loader.PackageRef, error) {
	var (
		order    []loader.PackageRef
		visited  = make(map[string]bool)
		visiting = make(map[string]bool)
	)

	var visit func(ref loader.PackageRef) error
	visit = func(ref loader.PackageRef) error {
		if visited[ref.Name] || visiting[ref.Name] {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		visiting[ref.Name] = true

		resolved, deps, err := r.fetch(ctx, ref)
		if err != nil {
			return fmt.Errorf("package %s: %w", ref, err)
		}

		// Map order is random; sort for a stable install order.
		names := make([]string, 0, len(deps))
		for name := range deps {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			if err := visit(loader.PackageRef{Name: name, Version: deps[name]}); err != nil {
				return err
			}
		}

		visiting[ref.Name] = false
		visited[ref.Name] = true
		order = append(order, resolved)
		return nil
	}

	if err := visit(root); err != nil {
		return nil, err
	}
	return order, nil
}
