package parser

// StructureKind is the kind of a StructureDefinition.
type StructureKind string

// Structure kinds.
const (
	KindResource      StructureKind = "resource"
	KindComplexType   StructureKind = "complex-type"
	KindPrimitiveType StructureKind = "primitive-type"
	KindLogical       StructureKind = "logical"
)

// ParseKind maps a StructureDefinition kind code to a StructureKind.
func ParseKind(s string) (StructureKind, bool) {
	switch k := StructureKind(s); k {
	case KindResource, KindComplexType, KindPrimitiveType, KindLogical:
		return k, true
	}
	return "", false
}

// DerivationConstraint marks a StructureDefinition that profiles its base.
const DerivationConstraint = "constraint"

// ParsedStructure is the normalized form of one StructureDefinition.
// It is immutable once returned by the parser.
type ParsedStructure struct {
	URL            string
	Name           string
	Type           string
	Kind           StructureKind
	BaseDefinition string
	Derivation     string
	FHIRVersion    string
	IsAbstract     bool

	// Elements comes from the snapshot when present, otherwise from the differential.
	Elements []ElementDefinition
	// Differential reports that Elements came from the differential.
	Differential bool
	// DifferentialElements holds the differential list whenever the document has one.
	DifferentialElements []ElementDefinition
}

// RootPath returns the path of the root element: the constrained type when
// declared, otherwise the definition name.
func (p *ParsedStructure) RootPath() string {
	if p.Type != "" {
		return p.Type
	}
	return p.Name
}

// BaseName returns the last path segment of the base definition URL.
func (p *ParsedStructure) BaseName() string {
	if p.BaseDefinition == "" {
		return ""
	}
	return lastSegment(p.BaseDefinition)
}

// IsProfile reports a constraint derivation.
func (p *ParsedStructure) IsProfile() bool {
	return p.Derivation == DerivationConstraint
}

// Root returns the root element, if present.
func (p *ParsedStructure) Root() (ElementDefinition, bool) {
	root := p.RootPath()
	for _, e := range p.Elements {
		if e.Path == root {
			return e, true
		}
	}
	return ElementDefinition{}, false
}

// Cardinality is the upper bound of an element.
type Cardinality struct {
	// Unbounded is true for "*".
	Unbounded bool
	// N is the bound when Unbounded is false.
	N uint32
}

// Finite returns a bounded Cardinality.
func Finite(n uint32) Cardinality {
	return Cardinality{N: n}
}

// Unlimited returns the "*" Cardinality.
func Unlimited() Cardinality {
	return Cardinality{Unbounded: true}
}

// ElementDefinition is one element of a snapshot or differential.
type ElementDefinition struct {
	ID          string
	Path        string
	SliceName   string
	Short       string
	Definition  string
	Comment     string
	Min         uint32
	Max         Cardinality
	Types       []ElementType
	Binding     *Binding
	Constraints []Constraint
	IsModifier  bool
	IsSummary   bool
	MustSupport bool

	// DeclaresCardinality reports that min or max was present in the document.
	DeclaresCardinality bool
}

// TypeCodes returns the declared type codes in order.
func (e ElementDefinition) TypeCodes() []string {
	if len(e.Types) == 0 {
		return nil
	}
	codes := make([]string, len(e.Types))
	for i, t := range e.Types {
		codes[i] = t.Code
	}
	return codes
}

// ElementType is one entry of an element's type list.
type ElementType struct {
	Code           string
	TargetProfiles []string
}

// Binding is an element's value set binding.
type Binding struct {
	Strength    string
	ValueSet    string
	Description string
}

// Constraint is an element invariant.
type Constraint struct {
	Key        string
	Severity   string
	Human      string
	Expression string
	XPath      string
}
