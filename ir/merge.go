package ir

// Conflict records a type name present in both graphs of a merge.
type Conflict struct {
	Name string
	// Existing is the category the name had in the destination graph.
	Existing string
	// Incoming is the category it has in the merged graph.
	Incoming string
}

// Merge copies every type of src into dst. On a name collision the type
// from src wins; each collision is reported. Source packages are appended
// without duplicates.
func Merge(dst, src *TypeGraph) []Conflict {
	var conflicts []Conflict

	claim := func(name, category string) {
		existing, ok := dst.Category(name)
		if !ok {
			return
		}
		conflicts = append(conflicts, Conflict{Name: name, Existing: existing, Incoming: category})
		if existing != category {
			dst.remove(name, existing)
		}
	}

	src.Primitives.Range(func(name string, p PrimitiveType) bool {
		claim(name, CategoryPrimitive)
		dst.Primitives.Set(name, p)
		return true
	})
	src.Datatypes.Range(func(name string, d DataType) bool {
		claim(name, CategoryDatatype)
		dst.Datatypes.Set(name, d)
		return true
	})
	src.Resources.Range(func(name string, r ResourceType) bool {
		claim(name, CategoryResource)
		dst.Resources.Set(name, r)
		return true
	})
	src.Profiles.Range(func(name string, p ProfileType) bool {
		claim(name, CategoryProfile)
		dst.Profiles.Set(name, p)
		return true
	})

	seen := make(map[string]bool, len(dst.Metadata.SourcePackages))
	for _, p := range dst.Metadata.SourcePackages {
		seen[p] = true
	}
	for _, p := range src.Metadata.SourcePackages {
		if !seen[p] {
			dst.Metadata.SourcePackages = append(dst.Metadata.SourcePackages, p)
			seen[p] = true
		}
	}
	return conflicts
}

func (g *TypeGraph) remove(name, category string) {
	switch category {
	case CategoryResource:
		g.Resources.Delete(name)
	case CategoryDatatype:
		g.Datatypes.Delete(name)
	case CategoryPrimitive:
		g.Primitives.Delete(name)
	case CategoryProfile:
		g.Profiles.Delete(name)
	}
}
