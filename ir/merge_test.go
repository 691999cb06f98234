package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"

	fc "github.com/gofhir/codegen"
)

func TestMerge_Disjoint(t *testing.T) {
	dst := NewTypeGraph(fc.R4)
	_ = dst.AddResource("Patient", ResourceType{Name: "Patient"})
	dst.Metadata.SourcePackages = []string{"hl7.fhir.r4.core#4.0.1"}

	src := NewTypeGraph(fc.R4)
	_ = src.AddProfile("USCorePatient", ProfileType{Name: "USCorePatient", Base: "Patient"})
	src.Metadata.SourcePackages = []string{"hl7.fhir.r4.core#4.0.1", "hl7.fhir.us.core#6.1.0"}

	conflicts := Merge(dst, src)

	assert.Empty(t, conflicts)
	assert.Equal(t, 2, dst.TotalTypes())
	assert.Equal(t, []string{"hl7.fhir.r4.core#4.0.1", "hl7.fhir.us.core#6.1.0"}, dst.Metadata.SourcePackages)
}

func TestMerge_SameCategoryConflict(t *testing.T) {
	dst := NewTypeGraph(fc.R4)
	_ = dst.AddResource("Patient", ResourceType{Name: "Patient", URL: "a"})

	src := NewTypeGraph(fc.R4)
	_ = src.AddResource("Patient", ResourceType{Name: "Patient", URL: "b"})

	conflicts := Merge(dst, src)

	assert.Equal(t, []Conflict{{Name: "Patient", Existing: CategoryResource, Incoming: CategoryResource}}, conflicts)
	p, _ := dst.Resources.Get("Patient")
	assert.Equal(t, "b", p.URL)
}

func TestMerge_CrossCategoryConflict(t *testing.T) {
	dst := NewTypeGraph(fc.R4)
	_ = dst.AddDatatype("Money", DataType{Name: "Money"})

	src := NewTypeGraph(fc.R4)
	_ = src.AddPrimitive("Money", PrimitiveType{Name: "Money"})

	conflicts := Merge(dst, src)

	assert.Equal(t, []Conflict{{Name: "Money", Existing: CategoryDatatype, Incoming: CategoryPrimitive}}, conflicts)
	category, ok := dst.Category("Money")
	assert.True(t, ok)
	assert.Equal(t, CategoryPrimitive, category)
	assert.Equal(t, 1, dst.TotalTypes())
}
