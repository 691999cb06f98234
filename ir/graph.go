package ir

import (
	"gopkg.in/yaml.v3"

	fc "github.com/gofhir/codegen"
)

// TypeGraph is the complete set of types generated from one package set.
// A type name appears in at most one of the four maps.
type TypeGraph struct {
	Resources   OrderedMap[ResourceType]  `json:"resources" yaml:"resources"`
	Datatypes   OrderedMap[DataType]      `json:"datatypes" yaml:"datatypes"`
	Primitives  OrderedMap[PrimitiveType] `json:"primitives" yaml:"primitives"`
	Profiles    OrderedMap[ProfileType]   `json:"profiles" yaml:"profiles"`
	FHIRVersion fc.FHIRVersion            `json:"fhir_version" yaml:"fhir_version"`
	Metadata    GraphMetadata             `json:"metadata" yaml:"metadata"`
}

// GraphMetadata describes how a graph was produced.
type GraphMetadata struct {
	GeneratedAt      string         `json:"generated_at" yaml:"generated_at"`
	GeneratorVersion string         `json:"generator_version" yaml:"generator_version"`
	SourcePackages   []string          `json:"source_packages" yaml:"source_packages"`
	BuildID          string            `json:"build_id" yaml:"build_id"`
	Custom           map[string]string `json:"custom" yaml:"custom"`
}

// yamlMetadata keeps nil and empty collections apart in YAML: nil is
// written as null, empty as [] or {}.
type yamlMetadata struct {
	GeneratedAt      string             `yaml:"generated_at"`
	GeneratorVersion string             `yaml:"generator_version"`
	SourcePackages   *[]string          `yaml:"source_packages"`
	BuildID          string             `yaml:"build_id"`
	Custom           *map[string]string `yaml:"custom"`
}

// MarshalYAML implements yaml.Marshaler.
func (m GraphMetadata) MarshalYAML() (any, error) {
	out := yamlMetadata{
		GeneratedAt:      m.GeneratedAt,
		GeneratorVersion: m.GeneratorVersion,
		BuildID:          m.BuildID,
	}
	if m.SourcePackages != nil {
		out.SourcePackages = &m.SourcePackages
	}
	if m.Custom != nil {
		out.Custom = &m.Custom
	}
	return out, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *GraphMetadata) UnmarshalYAML(node *yaml.Node) error {
	var in yamlMetadata
	if err := node.Decode(&in); err != nil {
		return err
	}
	*m = GraphMetadata{
		GeneratedAt:      in.GeneratedAt,
		GeneratorVersion: in.GeneratorVersion,
		BuildID:          in.BuildID,
	}
	if in.SourcePackages != nil {
		m.SourcePackages = *in.SourcePackages
	}
	if in.Custom != nil {
		m.Custom = *in.Custom
	}
	return nil
}

// NewTypeGraph returns an empty graph for version.
func NewTypeGraph(version fc.FHIRVersion) *TypeGraph {
	return &TypeGraph{FHIRVersion: version}
}

// Category names returned by Category.
const (
	CategoryResource  = fc.CategoryResource
	CategoryDatatype  = fc.CategoryDatatype
	CategoryPrimitive = fc.CategoryPrimitive
	CategoryProfile   = fc.CategoryProfile
)

// Category returns which map holds name.
func (g *TypeGraph) Category(name string) (string, bool) {
	switch {
	case g.Resources.Has(name):
		return CategoryResource, true
	case g.Datatypes.Has(name):
		return CategoryDatatype, true
	case g.Primitives.Has(name):
		return CategoryPrimitive, true
	case g.Profiles.Has(name):
		return CategoryProfile, true
	}
	return "", false
}

// Lookup returns the type registered under name and its category.
func (g *TypeGraph) Lookup(name string) (category string, value any, ok bool) {
	if v, ok := g.Resources.Get(name); ok {
		return CategoryResource, v, true
	}
	if v, ok := g.Datatypes.Get(name); ok {
		return CategoryDatatype, v, true
	}
	if v, ok := g.Primitives.Get(name); ok {
		return CategoryPrimitive, v, true
	}
	if v, ok := g.Profiles.Get(name); ok {
		return CategoryProfile, v, true
	}
	return "", nil, false
}

func (g *TypeGraph) checkUnique(name, category string) error {
	if existing, ok := g.Category(name); ok && existing != category {
		return fc.Errorf(fc.ErrDuplicateType, "%s already registered as %s", name, existing)
	}
	return nil
}

// AddResource registers r under name, replacing a resource of the same name.
func (g *TypeGraph) AddResource(name string, r ResourceType) error {
	if err := g.checkUnique(name, CategoryResource); err != nil {
		return err
	}
	g.Resources.Set(name, r)
	return nil
}

// AddDatatype registers d under name, replacing a datatype of the same name.
func (g *TypeGraph) AddDatatype(name string, d DataType) error {
	if err := g.checkUnique(name, CategoryDatatype); err != nil {
		return err
	}
	g.Datatypes.Set(name, d)
	return nil
}

// AddPrimitive registers p under name, replacing a primitive of the same name.
func (g *TypeGraph) AddPrimitive(name string, p PrimitiveType) error {
	if err := g.checkUnique(name, CategoryPrimitive); err != nil {
		return err
	}
	g.Primitives.Set(name, p)
	return nil
}

// AddProfile registers p under name, replacing a profile of the same name.
func (g *TypeGraph) AddProfile(name string, p ProfileType) error {
	if err := g.checkUnique(name, CategoryProfile); err != nil {
		return err
	}
	g.Profiles.Set(name, p)
	return nil
}

// TotalTypes returns the number of types across all four maps.
func (g *TypeGraph) TotalTypes() int {
	return g.Resources.Len() + g.Datatypes.Len() + g.Primitives.Len() + g.Profiles.Len()
}

// BaseName returns the declared base of the named type.
func (g *TypeGraph) BaseName(name string) (string, bool) {
	_, v, ok := g.Lookup(name)
	if !ok {
		return "", false
	}
	var base *string
	switch t := v.(type) {
	case ResourceType:
		base = t.Base
	case DataType:
		base = t.Base
	case PrimitiveType:
		base = t.Base
	case ProfileType:
		if t.Base != "" {
			return t.Base, true
		}
	}
	if base == nil {
		return "", false
	}
	return *base, true
}

// BaseChain follows base names from name towards the root. The last entry
// may name a type that is not in the graph.
func (g *TypeGraph) BaseChain(name string) []string {
	var chain []string
	seen := map[string]bool{name: true}
	for {
		base, ok := g.BaseName(name)
		if !ok || seen[base] {
			return chain
		}
		chain = append(chain, base)
		seen[base] = true
		name = base
	}
}
