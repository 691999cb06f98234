package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gofhir/codegen/pkg/loader"
)

func newPackagesCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "packages",
		Short: "Manage the local FHIR package cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List cached packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(v)
			if err != nil {
				return err
			}
			refs, err := newManager(cfg, log).Client().ListCachedPackages()
			if err != nil {
				return err
			}
			for _, ref := range refs {
				fmt.Fprintln(cmd.OutOrStdout(), ref)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "install name#version...",
		Short: "Download packages and their dependencies into the cache",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(v)
			if err != nil {
				return err
			}
			m := newManager(cfg, log)
			for _, spec := range args {
				name, version := loader.ParsePackageSpec(spec)
				if err := m.InstallPackage(cmd.Context(), name, version); err != nil {
					return err
				}
			}
			for _, ref := range m.Index().Packages() {
				fmt.Fprintln(cmd.OutOrStdout(), ref)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every cached package",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(v)
			if err != nil {
				return err
			}
			return newManager(cfg, log).Client().ClearCache()
		},
	})
	return cmd
}
