package fhircodegen

import (
	"strconv"
	"strings"
)

// GeneratorVersion is recorded in the metadata of every generated type graph.
const GeneratorVersion = "0.1.0"

// FHIRVersion represents a FHIR specification version.
type FHIRVersion string

// Supported FHIR versions.
const (
	// R4 is FHIR Release 4 (4.0.1)
	R4 FHIRVersion = "R4"
	// R4B is FHIR Release 4B (4.3.0)
	R4B FHIRVersion = "R4B"
	// R5 is FHIR Release 5 (5.0.0)
	R5 FHIRVersion = "R5"
	// R6 is FHIR Release 6 (ballot)
	R6 FHIRVersion = "R6"
)

// String returns the version string.
func (v FHIRVersion) String() string {
	return string(v)
}

// IsValid returns true if this is a supported FHIR version.
func (v FHIRVersion) IsValid() bool {
	switch v {
	case R4, R4B, R5, R6:
		return true
	default:
		return false
	}
}

// ParseFHIRVersion accepts release names ("R4", "r4b") and
// specification version strings ("4.0.1", "5.0.0").
func ParseFHIRVersion(s string) (FHIRVersion, error) {
	s = strings.TrimSpace(s)
	if v := FHIRVersion(strings.ToUpper(s)); v.IsValid() {
		return v, nil
	}
	for v, cfg := range versionConfigs {
		if strings.HasPrefix(s, cfg.ReleasePrefix) {
			return v, nil
		}
	}
	return "", NewError(ErrConfig, "unsupported FHIR version "+strconv.Quote(s), nil)
}

// CorePackage returns the core package name and version for v.
func (v FHIRVersion) CorePackage() (name, version string, ok bool) {
	cfg, ok := getVersionConfig(v)
	if !ok {
		return "", "", false
	}
	return cfg.CorePackageName, cfg.CorePackageVersion, true
}

// Matches reports whether a StructureDefinition fhirVersion string
// (e.g. "4.0.1") belongs to this release.
func (v FHIRVersion) Matches(fhirVersion string) bool {
	cfg, ok := getVersionConfig(v)
	if !ok {
		return false
	}
	return strings.HasPrefix(fhirVersion, cfg.ReleasePrefix)
}

// versionConfig holds version-specific configuration.
type versionConfig struct {
	// CorePackage is the FHIR core package name and version
	CorePackageName    string
	CorePackageVersion string

	// ReleasePrefix is the major.minor prefix of fhirVersion values
	// declared by StructureDefinitions of this release.
	ReleasePrefix string
}

// versionConfigs maps FHIR versions to their configurations.
var versionConfigs = map[FHIRVersion]versionConfig{
	R4: {
		CorePackageName:    "hl7.fhir.r4.core",
		CorePackageVersion: "4.0.1",
		ReleasePrefix:      "4.0",
	},
	R4B: {
		CorePackageName:    "hl7.fhir.r4b.core",
		CorePackageVersion: "4.3.0",
		ReleasePrefix:      "4.3",
	},
	R5: {
		CorePackageName:    "hl7.fhir.r5.core",
		CorePackageVersion: "5.0.0",
		ReleasePrefix:      "5.0",
	},
	R6: {
		CorePackageName:    "hl7.fhir.r6.core",
		CorePackageVersion: "6.0.0-ballot2",
		ReleasePrefix:      "6.0",
	},
}

// getVersionConfig returns the configuration for a FHIR version.
func getVersionConfig(v FHIRVersion) (versionConfig, bool) {
	cfg, ok := versionConfigs[v]
	return cfg, ok
}
