package ir

// ResourceType is a FHIR resource such as Patient or Observation.
type ResourceType struct {
	Name             string            `json:"name" yaml:"name"`
	Base             *string           `json:"base" yaml:"base,omitempty"`
	Properties       []Property        `json:"properties" yaml:"properties,omitempty"`
	SearchParameters []SearchParameter `json:"search_parameters" yaml:"search_parameters,omitempty"`
	Documentation    Documentation     `json:"documentation" yaml:"documentation"`
	URL              string            `json:"url" yaml:"url"`
	IsAbstract       bool              `json:"is_abstract" yaml:"is_abstract"`
}

// DataType is a complex datatype such as HumanName or Address.
type DataType struct {
	Name          string        `json:"name" yaml:"name"`
	Base          *string       `json:"base" yaml:"base,omitempty"`
	Properties    []Property    `json:"properties" yaml:"properties,omitempty"`
	Documentation Documentation `json:"documentation" yaml:"documentation"`
	URL           string        `json:"url" yaml:"url"`
	IsAbstract    bool          `json:"is_abstract" yaml:"is_abstract"`
}

// PrimitiveType is a FHIR primitive such as string or dateTime.
type PrimitiveType struct {
	Name          string        `json:"name" yaml:"name"`
	Base          *string       `json:"base" yaml:"base,omitempty"`
	Pattern       *string       `json:"pattern" yaml:"pattern,omitempty"`
	Documentation Documentation `json:"documentation" yaml:"documentation"`
	URL           string        `json:"url" yaml:"url"`
}

// ProfileType constrains a base resource or datatype.
type ProfileType struct {
	Name                string               `json:"name" yaml:"name"`
	Base                string               `json:"base" yaml:"base"`
	PropertyConstraints []PropertyConstraint `json:"property_constraints" yaml:"property_constraints,omitempty"`
	NewProperties       []Property           `json:"new_properties" yaml:"new_properties,omitempty"`
	Documentation       Documentation        `json:"documentation" yaml:"documentation"`
	URL                 string               `json:"url" yaml:"url"`
}

// PropertyConstraint narrows one element of a profile's base type.
type PropertyConstraint struct {
	Path            string            `json:"path" yaml:"path"`
	Cardinality     *CardinalityRange `json:"cardinality" yaml:"cardinality,omitempty"`
	TypeConstraints []string          `json:"type_constraints" yaml:"type_constraints,omitempty"`
	Binding         *ValueSetBinding  `json:"binding" yaml:"binding,omitempty"`
	MustSupport     bool              `json:"must_support" yaml:"must_support"`
}

// Property is one member of a type.
type Property struct {
	Name             string           `json:"name" yaml:"name"`
	Path             string           `json:"path" yaml:"path"`
	PropertyType     PropertyType     `json:"property_type" yaml:"property_type"`
	Cardinality      CardinalityRange `json:"cardinality" yaml:"cardinality"`
	IsChoice         bool             `json:"is_choice" yaml:"is_choice"`
	ChoiceTypes      []string         `json:"choice_types" yaml:"choice_types,omitempty"`
	IsModifier       bool             `json:"is_modifier" yaml:"is_modifier"`
	IsSummary        bool             `json:"is_summary" yaml:"is_summary"`
	Binding          *ValueSetBinding `json:"binding" yaml:"binding,omitempty"`
	Constraints      []InvariantRule  `json:"constraints" yaml:"constraints,omitempty"`
	ShortDescription string           `json:"short_description" yaml:"short_description"`
	Definition       string           `json:"definition" yaml:"definition"`
	Comments         *string          `json:"comments" yaml:"comments,omitempty"`
	Examples         []Example        `json:"examples" yaml:"examples,omitempty"`
}

// Documentation is human-readable text attached to a type.
type Documentation struct {
	Short        string   `json:"short" yaml:"short"`
	Definition   string   `json:"definition" yaml:"definition"`
	Comments     *string  `json:"comments" yaml:"comments,omitempty"`
	Requirements *string  `json:"requirements" yaml:"requirements,omitempty"`
	UsageNotes   []string `json:"usage_notes" yaml:"usage_notes,omitempty"`
	URL          *string  `json:"url" yaml:"url,omitempty"`
}

// BindingStrength is the conformance level of a value set binding.
type BindingStrength string

// Binding strengths.
const (
	BindingRequired   BindingStrength = "required"
	BindingExtensible BindingStrength = "extensible"
	BindingPreferred  BindingStrength = "preferred"
	BindingExample    BindingStrength = "example"
)

// IsValid reports whether s is one of the four FHIR binding strengths.
func (s BindingStrength) IsValid() bool {
	switch s {
	case BindingRequired, BindingExtensible, BindingPreferred, BindingExample:
		return true
	}
	return false
}

// ValueSetBinding ties a coded element to a value set.
type ValueSetBinding struct {
	Strength    BindingStrength `json:"strength" yaml:"strength"`
	ValueSet    string          `json:"value_set" yaml:"value_set"`
	Description *string         `json:"description" yaml:"description,omitempty"`
}

// ConstraintSeverity is the severity of an invariant.
type ConstraintSeverity string

// Constraint severities.
const (
	SeverityError   ConstraintSeverity = "error"
	SeverityWarning ConstraintSeverity = "warning"
)

// InvariantRule is a FHIRPath/XPath invariant recorded as text.
type InvariantRule struct {
	Key        string             `json:"key" yaml:"key"`
	Severity   ConstraintSeverity `json:"severity" yaml:"severity"`
	Human      string             `json:"human" yaml:"human"`
	Expression *string            `json:"expression" yaml:"expression,omitempty"`
	XPath      *string            `json:"xpath" yaml:"xpath,omitempty"`
}

// Example is a labelled sample value.
type Example struct {
	Label string `json:"label" yaml:"label"`
	Value any    `json:"value" yaml:"value"`
}

// SearchParamType is the FHIR search parameter type code.
type SearchParamType string

// Search parameter types.
const (
	SearchNumber    SearchParamType = "number"
	SearchDate      SearchParamType = "date"
	SearchString    SearchParamType = "string"
	SearchToken     SearchParamType = "token"
	SearchReference SearchParamType = "reference"
	SearchComposite SearchParamType = "composite"
	SearchQuantity  SearchParamType = "quantity"
	SearchURI       SearchParamType = "uri"
	SearchSpecial   SearchParamType = "special"
)

// ParseSearchParamType maps a FHIR type code to a SearchParamType.
func ParseSearchParamType(code string) (SearchParamType, bool) {
	switch t := SearchParamType(code); t {
	case SearchNumber, SearchDate, SearchString, SearchToken, SearchReference,
		SearchComposite, SearchQuantity, SearchURI, SearchSpecial:
		return t, true
	}
	return "", false
}

// SearchParameter is a search parameter attached to a resource.
type SearchParameter struct {
	Code        string          `json:"code" yaml:"code"`
	Type        SearchParamType `json:"param_type" yaml:"param_type"`
	Description string          `json:"description" yaml:"description"`
	Expression  *string         `json:"expression" yaml:"expression,omitempty"`
	TargetTypes []string        `json:"target_types" yaml:"target_types,omitempty"`
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
