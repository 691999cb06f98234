package ir

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	fc "github.com/gofhir/codegen"
)

func samplePatient() ResourceType {
	return ResourceType{
		Name: "Patient",
		Base: StringPtr("DomainResource"),
		Properties: []Property{
			{
				Name:             "active",
				Path:             "Patient.active",
				PropertyType:     Primitive("boolean"),
				Cardinality:      Optional(),
				ShortDescription: "Whether this patient's record is in active use",
			},
			{
				Name:         "name",
				Path:         "Patient.name",
				PropertyType: Complex("HumanName"),
				Cardinality:  OptionalArray(),
			},
			{
				Name:         "deceased",
				Path:         "Patient.deceased[x]",
				PropertyType: Choice("boolean", "dateTime"),
				Cardinality:  Optional(),
				IsChoice:     true,
				ChoiceTypes:  []string{"boolean", "dateTime"},
			},
			{
				Name:         "generalPractitioner",
				Path:         "Patient.generalPractitioner",
				PropertyType: Reference("Organization", "Practitioner"),
				Cardinality:  OptionalArray(),
				Comments:     StringPtr("Not the same as a care team member"),
				Examples:     []Example{{Label: "gp", Value: "Practitioner/123"}},
			},
			{
				Name:         "contact",
				Path:         "Patient.contact",
				PropertyType: BackboneElement(),
				Cardinality:  OptionalArray(),
				Binding: &ValueSetBinding{
					Strength: BindingExtensible,
					ValueSet: "http://hl7.org/fhir/ValueSet/patient-contactrelationship",
				},
				Constraints: []InvariantRule{{
					Key:        "pat-1",
					Severity:   SeverityError,
					Human:      "SHALL at least contain a contact's details or a reference to an organization",
					Expression: StringPtr("name.exists() or telecom.exists()"),
				}},
			},
		},
		SearchParameters: []SearchParameter{{
			Code:        "family",
			Type:        SearchString,
			Description: "A portion of the family name of the patient",
			Expression:  StringPtr("Patient.name.family"),
		}},
		Documentation: Documentation{
			Short:      "Information about an individual receiving health care services",
			Definition: "Demographics and other administrative information about an individual.",
		},
		URL: "http://hl7.org/fhir/StructureDefinition/Patient",
	}
}

func sampleGraph() *TypeGraph {
	g := NewTypeGraph(fc.R4)
	_ = g.AddPrimitive("boolean", PrimitiveType{Name: "boolean", Base: StringPtr("Element"), URL: "http://hl7.org/fhir/StructureDefinition/boolean"})
	_ = g.AddDatatype("HumanName", DataType{
		Name: "HumanName",
		Base: StringPtr("Element"),
		Properties: []Property{{
			Name:         "family",
			Path:         "HumanName.family",
			PropertyType: Primitive("string"),
			Cardinality:  Optional(),
		}},
		URL: "http://hl7.org/fhir/StructureDefinition/HumanName",
	})
	_ = g.AddResource("Patient", samplePatient())
	_ = g.AddProfile("USCorePatient", ProfileType{
		Name: "USCorePatient",
		Base: "Patient",
		PropertyConstraints: []PropertyConstraint{{
			Path:        "Patient.identifier",
			Cardinality: &CardinalityRange{Min: 1},
			MustSupport: true,
		}},
		URL: "http://hl7.org/fhir/us/core/StructureDefinition/us-core-patient",
	})
	g.Metadata = GraphMetadata{
		GeneratedAt:      "2024-05-01T10:00:00Z",
		GeneratorVersion: "0.1.0",
		SourcePackages:   []string{"hl7.fhir.r4.core#4.0.1"},
		BuildID:          "6f1c1d8e-6d0b-4bb3-8e7e-000000000001",
		Custom:           map[string]string{"team": "sdk", "run": "3", "nightly": "true"},
	}
	return g
}

func TestTypeGraph_AddAndCount(t *testing.T) {
	g := sampleGraph()

	assert.Equal(t, 4, g.TotalTypes())
	assert.Equal(t, 1, g.Resources.Len())
	assert.Equal(t, 1, g.Datatypes.Len())
	assert.Equal(t, 1, g.Primitives.Len())
	assert.Equal(t, 1, g.Profiles.Len())
}

func TestTypeGraph_DuplicateAcrossMaps(t *testing.T) {
	g := NewTypeGraph(fc.R4)
	require.NoError(t, g.AddDatatype("Address", DataType{Name: "Address"}))

	err := g.AddResource("Address", ResourceType{Name: "Address"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, fc.ErrDuplicateType))
	assert.Equal(t, 1, g.TotalTypes())
}

func TestTypeGraph_OverwriteWithinMap(t *testing.T) {
	g := NewTypeGraph(fc.R4)
	require.NoError(t, g.AddResource("Patient", ResourceType{Name: "Patient", URL: "old"}))
	require.NoError(t, g.AddResource("Observation", ResourceType{Name: "Observation"}))
	require.NoError(t, g.AddResource("Patient", ResourceType{Name: "Patient", URL: "new"}))

	assert.Equal(t, []string{"Patient", "Observation"}, g.Resources.Keys())
	p, _ := g.Resources.Get("Patient")
	assert.Equal(t, "new", p.URL)
}

func TestTypeGraph_Lookup(t *testing.T) {
	g := sampleGraph()

	category, v, ok := g.Lookup("HumanName")
	require.True(t, ok)
	assert.Equal(t, CategoryDatatype, category)
	assert.Equal(t, "HumanName", v.(DataType).Name)

	_, _, ok = g.Lookup("Nope")
	assert.False(t, ok)
}

func TestTypeGraph_BaseChain(t *testing.T) {
	g := NewTypeGraph(fc.R4)
	_ = g.AddResource("Resource", ResourceType{Name: "Resource"})
	_ = g.AddResource("DomainResource", ResourceType{Name: "DomainResource", Base: StringPtr("Resource")})
	_ = g.AddResource("Patient", ResourceType{Name: "Patient", Base: StringPtr("DomainResource")})
	_ = g.AddProfile("MyPatient", ProfileType{Name: "MyPatient", Base: "Patient"})

	assert.Equal(t, []string{"DomainResource", "Resource"}, g.BaseChain("Patient"))
	assert.Equal(t, []string{"Patient", "DomainResource", "Resource"}, g.BaseChain("MyPatient"))
	assert.Empty(t, g.BaseChain("Resource"))
}

func TestTypeGraph_BaseChainCycle(t *testing.T) {
	g := NewTypeGraph(fc.R4)
	_ = g.AddDatatype("A", DataType{Name: "A", Base: StringPtr("B")})
	_ = g.AddDatatype("B", DataType{Name: "B", Base: StringPtr("A")})

	assert.Equal(t, []string{"B"}, g.BaseChain("A"))
}

// metadataVariants covers nil and empty collections, which both formats
// must keep apart.
func metadataVariants() map[string]GraphMetadata {
	return map[string]GraphMetadata{
		"nil collections": {BuildID: "b1"},
		"empty collections": {
			BuildID:        "b2",
			SourcePackages: []string{},
			Custom:         map[string]string{},
		},
		"scalar-looking values": {
			BuildID:        "b3",
			SourcePackages: []string{"hl7.fhir.r4.core#4.0.1"},
			Custom:         map[string]string{"n": "1", "flag": "false", "empty": "", "nothing": "null"},
		},
	}
}

func TestTypeGraph_JSONRoundTrip(t *testing.T) {
	g := sampleGraph()

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, g, FormatJSON))

	back, err := Decode(&buf, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, g, back)
	assert.Equal(t, g.Resources.Keys(), back.Resources.Keys())

	for name, meta := range metadataVariants() {
		g.Metadata = meta
		buf.Reset()
		require.NoError(t, Encode(&buf, g, FormatJSON), name)
		back, err := Decode(&buf, FormatJSON)
		require.NoError(t, err, name)
		assert.Equal(t, meta, back.Metadata, name)
	}
}

func TestTypeGraph_YAMLRoundTrip(t *testing.T) {
	g := sampleGraph()

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, g, FormatYAML))
	assert.Contains(t, buf.String(), "fhir_version: R4")

	back, err := Decode(&buf, FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, g, back)

	for name, meta := range metadataVariants() {
		g.Metadata = meta
		buf.Reset()
		require.NoError(t, Encode(&buf, g, FormatYAML), name)
		back, err := Decode(&buf, FormatYAML)
		require.NoError(t, err, name)
		assert.Equal(t, meta, back.Metadata, name)
	}
}

func TestGraphMetadata_YAMLWithoutCollections(t *testing.T) {
	var m GraphMetadata
	require.NoError(t, yaml.Unmarshal([]byte("build_id: abc\n"), &m))
	assert.Equal(t, GraphMetadata{BuildID: "abc"}, m)
}

func TestTypeGraph_EmptyRoundTrip(t *testing.T) {
	g := NewTypeGraph(fc.R5)

	for _, f := range []Format{FormatJSON, FormatYAML} {
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, g, f))
		back, err := Decode(&buf, f)
		require.NoError(t, err, f)
		assert.Equal(t, 0, back.TotalTypes())
		assert.Equal(t, fc.R5, back.FHIRVersion)
	}
}
