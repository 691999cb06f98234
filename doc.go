// Package fhircodegen turns FHIR StructureDefinitions into a language-neutral
// type graph that code generators consume.
//
// The pipeline has three stages:
//
//   - parser: validates one StructureDefinition document and converts it
//     into a resource, datatype, primitive or profile of the ir package.
//   - resolver: a cached, read-only view over a package manager that finds
//     definitions by canonical URL or resource type.
//   - builder: enumerates every installed definition, converts it in
//     dependency order and attaches search parameters.
//
// # Quick Start
//
//	import (
//	    fc "github.com/gofhir/codegen"
//	    "github.com/gofhir/codegen/builder"
//	    "github.com/gofhir/codegen/registry"
//	)
//
//	m := registry.NewManager("")
//	g, err := builder.BuildTypeGraph(ctx, m, fc.R4, "", "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(g.TotalTypes())
//
// # Options
//
// Builds are configured with functional options from this package:
//
//	b := builder.New(m, fc.R5,
//	    fc.WithSeparateProfiles(true),
//	    fc.WithConstraintCheck(true),
//	    fc.WithLogger(logger),
//	    fc.WithMetrics(fc.NewMetrics(prometheus.DefaultRegisterer)),
//	)
//
// # Errors
//
// Every error returned by the pipeline is an *Error whose kind (ErrParser,
// ErrKindMismatch, ErrCanonicalManager, ErrNotFound, ErrDuplicateType,
// ErrConfig, ErrValidation) matches with errors.Is. Definitions that fail to
// parse or convert do not fail a build; they are listed in the build report.
package fhircodegen
