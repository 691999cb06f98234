package parser

import (
	"strings"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/ir"
)

// primitiveCodes is the fixed set of FHIR primitive type codes.
var primitiveCodes = map[string]struct{}{
	"base64Binary": {},
	"boolean":      {},
	"canonical":    {},
	"code":         {},
	"date":         {},
	"dateTime":     {},
	"decimal":      {},
	"id":           {},
	"instant":      {},
	"integer":      {},
	"integer64":    {},
	"markdown":     {},
	"oid":          {},
	"positiveInt":  {},
	"string":       {},
	"time":         {},
	"unsignedInt":  {},
	"uri":          {},
	"url":          {},
	"uuid":         {},
	"xhtml":        {},
}

// IsPrimitive reports whether code is a FHIR primitive type code.
func IsPrimitive(code string) bool {
	_, ok := primitiveCodes[code]
	return ok
}

const choiceSuffix = "[x]"

// ElementsToProperties flattens elements of typeName into one property per
// top-level field. Nested paths collapse onto their first segment and only the
// first element for a given field is used.
func ElementsToProperties(elements []ElementDefinition, typeName string) []ir.Property {
	prefix := typeName + "."
	seen := make(map[string]struct{}, len(elements))
	var props []ir.Property

	for i := range elements {
		elem := &elements[i]
		if elem.Path == typeName {
			continue
		}
		rest, ok := strings.CutPrefix(elem.Path, prefix)
		if !ok || rest == "" {
			continue
		}
		leaf, _, _ := strings.Cut(rest, ".")
		if _, dup := seen[leaf]; dup {
			continue
		}
		seen[leaf] = struct{}{}

		props = append(props, elementToProperty(elem, leaf))
	}
	return props
}

func elementToProperty(elem *ElementDefinition, leaf string) ir.Property {
	prop := ir.Property{
		Name:             leaf,
		Path:             elem.Path,
		PropertyType:     propertyType(elem),
		Cardinality:      cardinality(elem),
		ShortDescription: elem.Short,
		Definition:       elem.Definition,
	}
	if name, ok := strings.CutSuffix(leaf, choiceSuffix); ok {
		prop.Name = name
		prop.IsChoice = true
		prop.ChoiceTypes = elem.TypeCodes()
	}
	if elem.Comment != "" {
		prop.Comments = ir.StringPtr(elem.Comment)
	}
	return prop
}

func propertyType(elem *ElementDefinition) ir.PropertyType {
	switch len(elem.Types) {
	case 0:
		return ir.BackboneElement()
	case 1:
		t := elem.Types[0]
		switch {
		case t.Code == "Reference" && len(t.TargetProfiles) > 0:
			return ir.Reference(targetNames(t.TargetProfiles)...)
		case IsPrimitive(t.Code):
			return ir.Primitive(t.Code)
		default:
			return ir.Complex(t.Code)
		}
	default:
		return ir.Choice(elem.TypeCodes()...)
	}
}

func cardinality(elem *ElementDefinition) ir.CardinalityRange {
	if elem.Max.Unbounded {
		return ir.Unbounded(elem.Min)
	}
	return ir.Cardinality(elem.Min, elem.Max.N)
}

func targetNames(profiles []string) []string {
	names := make([]string, 0, len(profiles))
	for _, p := range profiles {
		if n := lastSegment(p); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// lastSegment returns the text after the last "/" of a canonical URL with
// any "|version" suffix removed.
func lastSegment(url string) string {
	url, _, _ = strings.Cut(url, "|")
	if i := strings.LastIndexByte(url, '/'); i >= 0 {
		return url[i+1:]
	}
	return url
}

// --- Conversions ---

func (p *ParsedStructure) checkKind(want StructureKind) error {
	if p.Kind != want {
		return fc.Errorf(fc.ErrKindMismatch, "%s is %s, not %s", p.Name, p.Kind, want)
	}
	return nil
}

// documentation reads the root element docs. fallback is the short text
// used when the root has none.
func (p *ParsedStructure) documentation(fallback string) ir.Documentation {
	doc := ir.Documentation{URL: ir.StringPtr(p.URL)}
	root, ok := p.Root()
	if ok {
		doc.Short = root.Short
		doc.Definition = root.Definition
		if root.Comment != "" {
			doc.Comments = ir.StringPtr(root.Comment)
		}
	}
	if doc.Short == "" {
		doc.Short = fallback
	}
	return doc
}

func (p *ParsedStructure) base() *string {
	if b := p.BaseName(); b != "" {
		return ir.StringPtr(b)
	}
	return nil
}

// ToResourceType converts a resource definition.
func (p *ParsedStructure) ToResourceType() (ir.ResourceType, error) {
	if err := p.checkKind(KindResource); err != nil {
		return ir.ResourceType{}, err
	}
	return ir.ResourceType{
		Name:          p.Name,
		Base:          p.base(),
		Properties:    ElementsToProperties(p.Elements, p.RootPath()),
		Documentation: p.documentation("FHIR " + p.Name + " Resource"),
		URL:           p.URL,
		IsAbstract:    p.IsAbstract,
	}, nil
}

// ToDataType converts a complex-type definition.
func (p *ParsedStructure) ToDataType() (ir.DataType, error) {
	if err := p.checkKind(KindComplexType); err != nil {
		return ir.DataType{}, err
	}
	return ir.DataType{
		Name:          p.Name,
		Base:          p.base(),
		Properties:    ElementsToProperties(p.Elements, p.RootPath()),
		Documentation: p.documentation("FHIR " + p.Name + " DataType"),
		URL:           p.URL,
		IsAbstract:    p.IsAbstract,
	}, nil
}

// ToPrimitiveType converts a primitive-type definition. Pattern is never set.
func (p *ParsedStructure) ToPrimitiveType() (ir.PrimitiveType, error) {
	if err := p.checkKind(KindPrimitiveType); err != nil {
		return ir.PrimitiveType{}, err
	}
	return ir.PrimitiveType{
		Name:          p.Name,
		Base:          p.base(),
		Documentation: p.documentation("FHIR primitive type " + p.Name),
		URL:           p.URL,
	}, nil
}

// ToProfile converts a constraint-derivation definition. Constraints are read
// from the differential when the document has one.
func (p *ParsedStructure) ToProfile() (ir.ProfileType, error) {
	if !p.IsProfile() {
		return ir.ProfileType{}, fc.Errorf(fc.ErrKindMismatch, "%s is not a constraint profile", p.Name)
	}

	elements := p.DifferentialElements
	if len(elements) == 0 {
		elements = p.Elements
	}
	root := p.RootPath()

	profile := ir.ProfileType{
		Name:          p.Name,
		Base:          p.BaseName(),
		Documentation: p.documentation("FHIR " + p.Name + " Profile"),
		URL:           p.URL,
	}
	if profile.Base == "" {
		profile.Base = p.Type
	}

	for i := range elements {
		elem := &elements[i]
		if elem.Path == root {
			continue
		}
		if isExtensionSlice(elem) {
			profile.NewProperties = append(profile.NewProperties, extensionProperty(elem))
			continue
		}
		if c, ok := propertyConstraint(elem); ok {
			profile.PropertyConstraints = append(profile.PropertyConstraints, c)
		}
	}
	return profile, nil
}

func isExtensionSlice(elem *ElementDefinition) bool {
	if elem.SliceName == "" {
		return false
	}
	return strings.HasSuffix(elem.Path, ".extension") || strings.HasSuffix(elem.Path, ".modifierExtension")
}

func extensionProperty(elem *ElementDefinition) ir.Property {
	prop := ir.Property{
		Name:             elem.SliceName,
		Path:             elem.Path + ":" + elem.SliceName,
		PropertyType:     ir.Complex("Extension"),
		Cardinality:      cardinality(elem),
		IsModifier:       elem.IsModifier,
		ShortDescription: elem.Short,
		Definition:       elem.Definition,
	}
	if elem.Comment != "" {
		prop.Comments = ir.StringPtr(elem.Comment)
	}
	return prop
}

// propertyConstraint reports false for elements that narrow nothing.
func propertyConstraint(elem *ElementDefinition) (ir.PropertyConstraint, bool) {
	c := ir.PropertyConstraint{
		Path:        elem.Path,
		MustSupport: elem.MustSupport,
	}
	if elem.SliceName != "" {
		c.Path += ":" + elem.SliceName
	}
	if elem.DeclaresCardinality {
		card := cardinality(elem)
		c.Cardinality = &card
	}
	for _, t := range elem.Types {
		if t.Code == "Reference" && len(t.TargetProfiles) > 0 {
			c.TypeConstraints = append(c.TypeConstraints, targetNames(t.TargetProfiles)...)
			continue
		}
		c.TypeConstraints = append(c.TypeConstraints, t.Code)
	}
	if elem.Binding != nil {
		c.Binding = convertBinding(elem.Binding)
	}

	empty := c.Cardinality == nil && len(c.TypeConstraints) == 0 && c.Binding == nil && !c.MustSupport
	return c, !empty
}

func convertBinding(b *Binding) *ir.ValueSetBinding {
	out := &ir.ValueSetBinding{
		Strength: ir.BindingStrength(b.Strength),
		ValueSet: b.ValueSet,
	}
	if b.Description != "" {
		out.Description = ir.StringPtr(b.Description)
	}
	return out
}

// Invariants returns the element constraints as IR invariant rules.
func (e ElementDefinition) Invariants() []ir.InvariantRule {
	if len(e.Constraints) == 0 {
		return nil
	}
	rules := make([]ir.InvariantRule, 0, len(e.Constraints))
	for _, c := range e.Constraints {
		r := ir.InvariantRule{
			Key:      c.Key,
			Severity: ir.ConstraintSeverity(c.Severity),
			Human:    c.Human,
		}
		if c.Expression != "" {
			r.Expression = ir.StringPtr(c.Expression)
		}
		if c.XPath != "" {
			r.XPath = ir.StringPtr(c.XPath)
		}
		rules = append(rules, r)
	}
	return rules
}
