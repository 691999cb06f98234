package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/gofhir/fhir/r4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/config"
	"github.com/gofhir/codegen/ir"
	"github.com/gofhir/codegen/parser"
)

func newInspectCmd(v *viper.Viper) *cobra.Command {
	var (
		format           string
		separateProfiles bool
	)

	cmd := &cobra.Command{
		Use:   "inspect FILE...",
		Short: "Convert StructureDefinition files without loading packages",
		Example: `  fhir-codegen inspect StructureDefinition-Patient.json
  fhir-codegen inspect --fhir-version R5 --format yaml profiles/*.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(v)
			if err != nil {
				return err
			}
			f := cfg.Format()
			if format != "" {
				if f, err = ir.ParseFormat(format); err != nil {
					return err
				}
			}
			return runInspect(cfg, log, args, f, separateProfiles, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&format, "format", "f", "", "output format (json, yaml)")
	flags.BoolVar(&separateProfiles, "separate-profiles", false, "convert constraint derivations into profiles")
	return cmd
}

// runInspect converts each file into a one-off graph, in argument order.
func runInspect(cfg *config.Config, log zerolog.Logger, paths []string, format ir.Format, separateProfiles bool, stdout io.Writer) error {
	version := cfg.Version()
	g := ir.NewTypeGraph(version)
	p := parser.New(parser.WithLogger(log))

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		s, err := parseDefinition(p, version, data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := addDefinition(g, s, separateProfiles); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		log.Debug().Str("file", path).Str("name", s.Name).Msg("converted structure definition")
	}

	if err := ir.Encode(stdout, g, format); err != nil {
		return fmt.Errorf("write graph: %w", err)
	}
	return nil
}

// parseDefinition reads R4 documents through the typed R4 model so that
// fields of the wrong JSON type are rejected before conversion.
func parseDefinition(p *parser.Parser, version fc.FHIRVersion, data []byte) (*parser.ParsedStructure, error) {
	if version != fc.R4 {
		return p.Parse(data)
	}
	var sd r4.StructureDefinition
	if err := json.Unmarshal(data, &sd); err != nil {
		return nil, fc.NewError(fc.ErrParser, "decode R4 StructureDefinition", err)
	}
	return p.ParseR4(&sd)
}

func addDefinition(g *ir.TypeGraph, s *parser.ParsedStructure, separateProfiles bool) error {
	if separateProfiles && s.IsProfile() {
		pt, err := s.ToProfile()
		if err != nil {
			return err
		}
		return g.AddProfile(s.Name, pt)
	}

	switch s.Kind {
	case parser.KindPrimitiveType:
		pt, err := s.ToPrimitiveType()
		if err != nil {
			return err
		}
		return g.AddPrimitive(s.Name, pt)
	case parser.KindComplexType:
		dt, err := s.ToDataType()
		if err != nil {
			return err
		}
		return g.AddDatatype(s.Name, dt)
	case parser.KindResource:
		rt, err := s.ToResourceType()
		if err != nil {
			return err
		}
		return g.AddResource(s.Name, rt)
	}
	return fc.Errorf(fc.ErrKindMismatch, "%s has kind %s, which has no type graph category", s.Name, s.Kind)
}
