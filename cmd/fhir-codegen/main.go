// Command fhir-codegen builds FHIR type graphs from installed packages and
// serves them over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/config"
	"github.com/gofhir/codegen/pkg/logger"
)

var configPath string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()

	root := &cobra.Command{
		Use:           "fhir-codegen",
		Short:         "Build language-neutral type graphs from FHIR packages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	flags.String("fhir-version", "", "FHIR release (R4, R4B, R5, R6 or 4.0.1, ...)")
	flags.StringSlice("package", nil, "package to install as name#version (repeatable)")
	flags.StringSlice("package-dir", nil, "unpacked package directory to load (repeatable)")
	flags.StringSlice("package-file", nil, "package .tgz archive to load (repeatable)")
	flags.String("cache-dir", "", "FHIR package cache directory")
	flags.Bool("offline", false, "never download packages")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (console, json)")

	bindFlags(v, flags, map[string]string{
		"fhir_version":       "fhir-version",
		"packages":           "package",
		"package_dirs":       "package-dir",
		"package_files":      "package-file",
		"registry.cache_dir": "cache-dir",
		"registry.offline":   "offline",
		"log.level":          "log-level",
		"log.format":         "log-format",
	})

	root.AddCommand(
		newBuildCmd(v),
		newServeCmd(v),
		newInspectCmd(v),
		newPackagesCmd(v),
		newVersionCmd(),
	)
	return root
}

// bindFlags lets each flag override its configuration key when the flag is
// set on the command line.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		_ = v.BindPFlag(key, flags.Lookup(name))
	}
}

// loadConfig reads the optional file, decodes everything bound to v and
// installs the configured logger as the process default.
func loadConfig(v *viper.Viper) (*config.Config, zerolog.Logger, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, zerolog.Nop(), fc.NewError(fc.ErrConfig, "read "+configPath, err)
		}
	}
	cfg, err := config.Decode(v)
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	level, _ := logger.ParseLevel(cfg.Log.Level)
	log := logger.New(os.Stderr, level, logger.ParseFormat(cfg.Log.Format))
	logger.SetDefault(log)
	log.Debug().Str("config", cfg.String()).Msg("configuration loaded")
	return cfg, log, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the generator version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fhir-codegen %s\n", fc.GeneratorVersion)
		},
	}
}
