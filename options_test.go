package fhircodegen

import (
	"testing"
	"time"
)

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()

	if o.StructureDefinitionLimit != 1000 {
		t.Errorf("StructureDefinitionLimit = %d; want 1000", o.StructureDefinitionLimit)
	}
	if o.SearchParameterLimit != 1000 {
		t.Errorf("SearchParameterLimit = %d; want 1000", o.SearchParameterLimit)
	}
	if !o.FilterByFHIRVersion {
		t.Error("FilterByFHIRVersion should be enabled by default")
	}
	if o.CheckConstraints {
		t.Error("CheckConstraints should be disabled by default")
	}
	if o.SeparateProfiles {
		t.Error("SeparateProfiles should be disabled by default")
	}
	if o.Deduplicate {
		t.Error("Deduplicate should be disabled by default")
	}
	if o.GeneratorVersion != GeneratorVersion {
		t.Errorf("GeneratorVersion = %q; want %q", o.GeneratorVersion, GeneratorVersion)
	}
	if o.TracerProvider == nil {
		t.Error("TracerProvider should not be nil")
	}
	if o.Now == nil {
		t.Error("Now should not be nil")
	}
	if o.Metrics != nil {
		t.Error("Metrics should be nil by default")
	}
}

func TestLimitOptions(t *testing.T) {
	o := Apply(WithStructureDefinitionLimit(50), WithSearchParameterLimit(25))
	if o.StructureDefinitionLimit != 50 {
		t.Errorf("StructureDefinitionLimit = %d; want 50", o.StructureDefinitionLimit)
	}
	if o.SearchParameterLimit != 25 {
		t.Errorf("SearchParameterLimit = %d; want 25", o.SearchParameterLimit)
	}

	// Non-positive values keep the defaults
	o = Apply(WithStructureDefinitionLimit(0), WithSearchParameterLimit(-1))
	if o.StructureDefinitionLimit != 1000 {
		t.Errorf("StructureDefinitionLimit = %d; want 1000", o.StructureDefinitionLimit)
	}
	if o.SearchParameterLimit != 1000 {
		t.Errorf("SearchParameterLimit = %d; want 1000", o.SearchParameterLimit)
	}
}

func TestBuildOptions(t *testing.T) {
	o := Apply(
		WithConstraintCheck(true),
		WithSeparateProfiles(true),
		WithVersionFilter(false),
		WithDeduplication(true),
	)

	if !o.CheckConstraints {
		t.Error("CheckConstraints should be enabled")
	}
	if !o.SeparateProfiles {
		t.Error("SeparateProfiles should be enabled")
	}
	if o.FilterByFHIRVersion {
		t.Error("FilterByFHIRVersion should be disabled")
	}
	if !o.Deduplicate {
		t.Error("Deduplicate should be enabled")
	}
}

func TestMetadataOptions(t *testing.T) {
	o := Apply(
		WithGeneratorVersion("9.9.9"),
		WithCustomMetadata("team", "sdk"),
		WithCustomMetadata("run", "3"),
	)

	if o.GeneratorVersion != "9.9.9" {
		t.Errorf("GeneratorVersion = %q; want %q", o.GeneratorVersion, "9.9.9")
	}
	if o.Custom["team"] != "sdk" || o.Custom["run"] != "3" {
		t.Errorf("Custom = %v", o.Custom)
	}

	o = Apply(WithGeneratorVersion(""))
	if o.GeneratorVersion != GeneratorVersion {
		t.Errorf("empty WithGeneratorVersion should keep default, got %q", o.GeneratorVersion)
	}
}

func TestWithClock(t *testing.T) {
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	o := Apply(WithClock(func() time.Time { return fixed }))
	if got := o.Now(); !got.Equal(fixed) {
		t.Errorf("Now() = %v; want %v", got, fixed)
	}

	o = Apply(WithClock(nil))
	if o.Now == nil {
		t.Error("WithClock(nil) should keep the default clock")
	}
}

func TestWithTracerProvider_Nil(t *testing.T) {
	o := Apply(WithTracerProvider(nil))
	if o.TracerProvider == nil {
		t.Error("WithTracerProvider(nil) should keep the default provider")
	}
}

func TestStrictOptions(t *testing.T) {
	o := Apply(StrictOptions()...)
	if !o.CheckConstraints || !o.SeparateProfiles || !o.FilterByFHIRVersion {
		t.Errorf("StrictOptions() = %+v", o)
	}
}
