package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/builder"
	"github.com/gofhir/codegen/config"
	"github.com/gofhir/codegen/ir"
	"github.com/gofhir/codegen/pkg/tracing"
	"github.com/gofhir/codegen/registry"
	"github.com/gofhir/codegen/store"
)

func newBuildCmd(v *viper.Viper) *cobra.Command {
	keys := map[string]string{
		"output.path":             "output",
		"output.format":           "format",
		"build.check_constraints": "check-constraints",
		"build.separate_profiles": "separate-profiles",
		"store.dsn":               "store",
	}

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a type graph and write it as JSON or YAML",
		Example: `  fhir-codegen build --fhir-version R4 -o r4.json
  fhir-codegen build --package hl7.fhir.us.core#6.1.0 --separate-profiles --format yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bindFlags(v, cmd.Flags(), keys)
			cfg, log, err := loadConfig(v)
			if err != nil {
				return err
			}
			return runBuild(cmd.Context(), cfg, log, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringP("output", "o", "", "output file (default stdout)")
	flags.StringP("format", "f", "", "output format (json, yaml)")
	flags.Bool("check-constraints", false, "compile invariant expressions and report failures")
	flags.Bool("separate-profiles", false, "convert constraint derivations into profiles")
	flags.String("store", "", "PostgreSQL DSN to save the graph in")
	return cmd
}

// buildGraph loads every configured source and builds one graph.
func buildGraph(ctx context.Context, cfg *config.Config, log zerolog.Logger, metrics *fc.Metrics) (*ir.TypeGraph, *builder.Report, error) {
	tp, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: fc.GeneratorVersion,
		Endpoint:       cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("tracer shutdown")
		}
	}()

	m := newManager(cfg, log, registry.WithTracerProvider(tp.TracerProvider()))
	if err := loadSources(ctx, cfg, m); err != nil {
		return nil, nil, err
	}

	opts := append(cfg.BuildOptions(),
		fc.WithLogger(log),
		fc.WithMetrics(metrics),
		fc.WithTracerProvider(tp.TracerProvider()),
	)
	b := builder.New(m, cfg.Version(), opts...)
	g, report, err := b.BuildWithReport(ctx)
	if err != nil {
		return nil, report, err
	}

	stats := m.Stats()
	log.Info().
		Int("packages", stats.PackagesLoaded).
		Int("resources", stats.Total()).
		Int("skipped", len(report.Skipped)).
		Int("constraint_issues", len(report.ConstraintIssues)).
		Dur("duration", report.Duration).
		Msg("build finished")
	for _, issue := range report.ConstraintIssues {
		log.Warn().Str("type", issue.Type).Str("key", issue.Key).Str("error", issue.Error).Msg("invariant does not compile")
	}
	return g, report, nil
}

func runBuild(ctx context.Context, cfg *config.Config, log zerolog.Logger, stdout io.Writer) error {
	g, _, err := buildGraph(ctx, cfg, log, fc.NewMetrics(nil))
	if err != nil {
		return err
	}

	if cfg.Store.DSN != "" {
		st, err := store.Open(ctx, cfg.Store.DSN, log)
		if err != nil {
			return err
		}
		defer st.Close()
		id, err := st.Save(ctx, g)
		if err != nil {
			return err
		}
		log.Info().Str("id", id.String()).Msg("graph saved")
	}

	if cfg.Output.Path == "" {
		if err := ir.Encode(stdout, g, cfg.Format()); err != nil {
			return fmt.Errorf("write graph: %w", err)
		}
		return nil
	}
	return writeGraphFile(cfg.Output.Path, g, cfg.Format())
}

// writeGraphFile encodes g into path. A failed close is reported because
// buffered data may not have reached the file.
func writeGraphFile(path string, g *ir.TypeGraph, format ir.Format) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close output: %w", cerr)
		}
	}()
	if err := ir.Encode(f, g, format); err != nil {
		return fmt.Errorf("write graph: %w", err)
	}
	return nil
}
