package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/server"
	"github.com/gofhir/codegen/store"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	var buildFirst bool
	keys := map[string]string{
		"server.addr": "addr",
		"store.dsn":   "store",
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored type graphs over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			bindFlags(v, cmd.Flags(), keys)
			cfg, log, err := loadConfig(v)
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			metrics := fc.NewMetrics(reg)

			var st store.GraphStore = store.NewMemory()
			if cfg.Store.DSN != "" {
				if st, err = store.Open(ctx, cfg.Store.DSN, log); err != nil {
					return err
				}
			}
			defer st.Close()

			if buildFirst {
				g, _, err := buildGraph(ctx, cfg, log, metrics)
				if err != nil {
					return err
				}
				if _, err := st.Save(ctx, g); err != nil {
					return err
				}
			}

			return server.New(st, server.WithLogger(log), server.WithGatherer(reg)).ListenAndServe(ctx, cfg.Server.Addr)
		},
	}

	flags := cmd.Flags()
	flags.String("addr", "", "listen address")
	flags.String("store", "", "PostgreSQL DSN (default in-memory)")
	flags.BoolVar(&buildFirst, "build", false, "build a graph from the configured packages before serving")
	return cmd
}
