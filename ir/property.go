package ir

import (
	"encoding/json"
	"fmt"

	"github.com/buger/jsonparser"
	"gopkg.in/yaml.v3"
)

// PropertyKind discriminates the PropertyType variants.
type PropertyKind string

// Property type variants.
const (
	KindPrimitive       PropertyKind = "Primitive"
	KindComplex         PropertyKind = "Complex"
	KindReference       PropertyKind = "Reference"
	KindBackboneElement PropertyKind = "BackboneElement"
	KindChoice          PropertyKind = "Choice"
)

// PropertyType is a closed set of variants. Only the fields belonging to
// Kind are meaningful; use the constructors to build values.
type PropertyType struct {
	Kind PropertyKind

	// Name is set for Primitive and Complex.
	Name string
	// TargetTypes is set for Reference. Empty means any resource.
	TargetTypes []string
	// Properties is set for BackboneElement.
	Properties []Property
	// Types is set for Choice.
	Types []string
}

// Primitive returns a primitive property type such as "string".
func Primitive(name string) PropertyType {
	return PropertyType{Kind: KindPrimitive, Name: name}
}

// Complex returns a complex property type such as "HumanName".
func Complex(name string) PropertyType {
	return PropertyType{Kind: KindComplex, Name: name}
}

// Reference returns a reference to the given resource types.
func Reference(targets ...string) PropertyType {
	return PropertyType{Kind: KindReference, TargetTypes: nilIfEmpty(targets)}
}

// BackboneElement returns an inline complex type.
func BackboneElement(props ...Property) PropertyType {
	if len(props) == 0 {
		props = nil
	}
	return PropertyType{Kind: KindBackboneElement, Properties: props}
}

// Choice returns a polymorphic property type.
func Choice(types ...string) PropertyType {
	return PropertyType{Kind: KindChoice, Types: nilIfEmpty(types)}
}

// TypeName returns the type name of Primitive and Complex variants.
func (p PropertyType) TypeName() (string, bool) {
	switch p.Kind {
	case KindPrimitive, KindComplex:
		return p.Name, true
	default:
		return "", false
	}
}

func (p PropertyType) String() string {
	switch p.Kind {
	case KindPrimitive, KindComplex:
		return fmt.Sprintf("%s(%s)", p.Kind, p.Name)
	case KindReference:
		return fmt.Sprintf("Reference(%v)", p.TargetTypes)
	case KindBackboneElement:
		return fmt.Sprintf("BackboneElement(%d properties)", len(p.Properties))
	case KindChoice:
		return fmt.Sprintf("Choice(%v)", p.Types)
	default:
		return "PropertyType(?)"
	}
}

type namedWire struct {
	Kind     PropertyKind `json:"kind" yaml:"kind"`
	TypeName string       `json:"type_name" yaml:"type_name"`
}

type referenceWire struct {
	Kind        PropertyKind `json:"kind" yaml:"kind"`
	TargetTypes []string     `json:"target_types" yaml:"target_types"`
}

type backboneWire struct {
	Kind       PropertyKind `json:"kind" yaml:"kind"`
	Properties []Property   `json:"properties" yaml:"properties"`
}

type choiceWire struct {
	Kind  PropertyKind `json:"kind" yaml:"kind"`
	Types []string     `json:"types" yaml:"types"`
}

type propertyTypeWire struct {
	Kind        PropertyKind `json:"kind" yaml:"kind"`
	TypeName    string       `json:"type_name" yaml:"type_name"`
	TargetTypes []string     `json:"target_types" yaml:"target_types"`
	Properties  []Property   `json:"properties" yaml:"properties"`
	Types       []string     `json:"types" yaml:"types"`
}

func (p PropertyType) wire() (any, error) {
	switch p.Kind {
	case KindPrimitive, KindComplex:
		return namedWire{Kind: p.Kind, TypeName: p.Name}, nil
	case KindReference:
		return referenceWire{Kind: p.Kind, TargetTypes: emptyIfNil(p.TargetTypes)}, nil
	case KindBackboneElement:
		props := p.Properties
		if props == nil {
			props = []Property{}
		}
		return backboneWire{Kind: p.Kind, Properties: props}, nil
	case KindChoice:
		return choiceWire{Kind: p.Kind, Types: emptyIfNil(p.Types)}, nil
	default:
		return nil, fmt.Errorf("unknown property kind %q", p.Kind)
	}
}

func (p *PropertyType) fromWire(w propertyTypeWire) error {
	switch w.Kind {
	case KindPrimitive:
		*p = Primitive(w.TypeName)
	case KindComplex:
		*p = Complex(w.TypeName)
	case KindReference:
		*p = Reference(w.TargetTypes...)
	case KindBackboneElement:
		*p = BackboneElement(w.Properties...)
	case KindChoice:
		*p = Choice(w.Types...)
	default:
		return fmt.Errorf("unknown property kind %q", w.Kind)
	}
	return nil
}

// MarshalJSON encodes the variant with a "kind" discriminator.
func (p PropertyType) MarshalJSON() ([]byte, error) {
	w, err := p.wire()
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a variant written by MarshalJSON.
func (p *PropertyType) UnmarshalJSON(data []byte) error {
	if _, err := jsonparser.GetString(data, "kind"); err != nil {
		return fmt.Errorf("property type: missing kind: %w", err)
	}
	var w propertyTypeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	return p.fromWire(w)
}

// MarshalYAML encodes the variant with a "kind" discriminator.
func (p PropertyType) MarshalYAML() (any, error) {
	return p.wire()
}

// UnmarshalYAML decodes a variant written by MarshalYAML.
func (p *PropertyType) UnmarshalYAML(node *yaml.Node) error {
	var w propertyTypeWire
	if err := node.Decode(&w); err != nil {
		return err
	}
	return p.fromWire(w)
}

// CardinalityRange is an element's occurrence range. A nil Max is unbounded.
type CardinalityRange struct {
	Min uint32  `json:"min" yaml:"min"`
	Max *uint32 `json:"max" yaml:"max"`
}

// Cardinality returns a bounded range.
func Cardinality(min, max uint32) CardinalityRange {
	return CardinalityRange{Min: min, Max: &max}
}

// Unbounded returns a range with no upper bound.
func Unbounded(min uint32) CardinalityRange {
	return CardinalityRange{Min: min}
}

// Optional is 0..1.
func Optional() CardinalityRange { return Cardinality(0, 1) }

// Required is 1..1.
func Required() CardinalityRange { return Cardinality(1, 1) }

// OptionalArray is 0..*.
func OptionalArray() CardinalityRange { return Unbounded(0) }

// RequiredArray is 1..*.
func RequiredArray() CardinalityRange { return Unbounded(1) }

// IsRequired reports min >= 1.
func (c CardinalityRange) IsRequired() bool {
	return c.Min >= 1
}

// IsArray reports an unbounded max or a max above one.
func (c CardinalityRange) IsArray() bool {
	return c.Max == nil || *c.Max > 1
}

// IsOptional reports min == 0.
func (c CardinalityRange) IsOptional() bool {
	return c.Min == 0
}

func (c CardinalityRange) String() string {
	if c.Max == nil {
		return fmt.Sprintf("%d..*", c.Min)
	}
	return fmt.Sprintf("%d..%d", c.Min, *c.Max)
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
