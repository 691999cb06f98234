package registry

import (
	"sync"

	"github.com/gofhir/codegen/pkg/loader"
	"github.com/gofhir/codegen/resolver"
)

// LoadStats counts what Index.Add indexed.
type LoadStats struct {
	StructureDefinitions int
	SearchParameters     int
	ValueSets            int
	CodeSystems          int
	Others               int
	Duplicates           int
	PackagesLoaded       int
}

func (s *LoadStats) count(resourceType string) {
	switch resourceType {
	case "StructureDefinition":
		s.StructureDefinitions++
	case "SearchParameter":
		s.SearchParameters++
	case "ValueSet":
		s.ValueSets++
	case "CodeSystem":
		s.CodeSystems++
	default:
		s.Others++
	}
}

func (s *LoadStats) merge(o LoadStats) {
	s.StructureDefinitions += o.StructureDefinitions
	s.SearchParameters += o.SearchParameters
	s.ValueSets += o.ValueSets
	s.CodeSystems += o.CodeSystems
	s.Others += o.Others
	s.Duplicates += o.Duplicates
	s.PackagesLoaded += o.PackagesLoaded
}

// Total returns the number of indexed resources.
func (s LoadStats) Total() int {
	return s.StructureDefinitions + s.SearchParameters + s.ValueSets + s.CodeSystems + s.Others
}

type indexEntry struct {
	resource loader.Resource
	pkg      string
}

// Index maps canonical URLs and resource types to loaded resources. The
// first resource loaded under a key wins, so packages loaded earlier take
// precedence. Search results keep load order.
type Index struct {
	mu       sync.RWMutex
	byKey    map[string]*indexEntry
	byType   map[string][]*indexEntry
	packages []string
	loaded   map[string]bool
	stats    LoadStats
}

// NewIndex creates an empty Index.
func NewIndex() *Index {
	return &Index{
		byKey:  make(map[string]*indexEntry),
		byType: make(map[string][]*indexEntry),
		loaded: make(map[string]bool),
	}
}

// Add indexes every resource of pkg. A package already added is ignored.
func (ix *Index) Add(pkg *loader.Package) LoadStats {
	ref := pkg.Ref().String()

	ix.mu.Lock()
	defer ix.mu.Unlock()

	var stats LoadStats
	if ix.loaded[ref] {
		return stats
	}
	ix.loaded[ref] = true
	ix.packages = append(ix.packages, ref)

	for _, r := range pkg.Resources {
		if ix.addLocked(ref, r) {
			stats.count(r.ResourceType)
		} else {
			stats.Duplicates++
		}
	}
	stats.PackagesLoaded = 1
	ix.stats.merge(stats)
	return stats
}

// AddResource indexes a single resource under the given package label.
// It reports false when the key is empty or already taken.
func (ix *Index) AddResource(pkg string, r loader.Resource) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if !ix.addLocked(pkg, r) {
		ix.stats.Duplicates++
		return false
	}
	ix.stats.count(r.ResourceType)
	return true
}

func (ix *Index) addLocked(pkg string, r loader.Resource) bool {
	key := r.Key()
	if key == "" {
		return false
	}
	if _, exists := ix.byKey[key]; exists {
		return false
	}
	e := &indexEntry{resource: r, pkg: pkg}
	ix.byKey[key] = e
	ix.byType[r.ResourceType] = append(ix.byType[r.ResourceType], e)
	return true
}

// Get returns the resource stored under a canonical URL or resourceType/id.
func (ix *Index) Get(key string) (loader.Resource, string, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	e, ok := ix.byKey[key]
	if !ok {
		return loader.Resource{}, "", false
	}
	return e.resource, e.pkg, true
}

// Search returns up to limit hits of resourceType in load order.
func (ix *Index) Search(resourceType string, limit int) []resolver.SearchHit {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	entries := ix.byType[resourceType]
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	hits := make([]resolver.SearchHit, 0, len(entries))
	for _, e := range entries {
		hits = append(hits, resolver.SearchHit{
			URL:          e.resource.Key(),
			ResourceType: e.resource.ResourceType,
			Package:      e.pkg,
		})
	}
	return hits
}

// Packages returns the loaded packages as "name#version" in load order.
func (ix *Index) Packages() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]string, len(ix.packages))
	copy(out, ix.packages)
	return out
}

// HasPackage reports whether ref ("name#version") was added.
func (ix *Index) HasPackage(ref string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.loaded[ref]
}

// Len returns the number of indexed resources.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byKey)
}

// Stats returns cumulative load statistics.
func (ix *Index) Stats() LoadStats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.stats
}
