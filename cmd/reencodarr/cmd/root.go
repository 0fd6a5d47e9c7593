// Package cmd implements the CLI commands for reencodarr.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mjc/reencodarr-sub000/internal/config"
	"github.com/mjc/reencodarr-sub000/internal/observability"
	"github.com/mjc/reencodarr-sub000/internal/version"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "reencodarr",
	Short:   "Automated AV1 re-encoding orchestrator",
	Version: version.Short(),
	Long: `reencodarr watches a media library and re-encodes videos to AV1.

It analyzes files with mediainfo, finds the lowest CRF meeting a VMAF
target with ab-av1 crf-search, encodes with ab-av1 encode, and replaces
the originals in place. Sonarr and Radarr push file listings through
the sync API.`,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	// Flags are not bound to viper; explicitly-set flags override via
	// Changed() so the priority stays flag > env > config > default.
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default searches ., /etc/reencodarr, ~/.reencodarr)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "json", "log format (text, json)")
	flags.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
}

// initConfig seeds viper with defaults, the config file, and env vars.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/reencodarr")
		viper.AddConfigPath("$HOME/.reencodarr")
	}

	viper.SetEnvPrefix("REENCODARR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Missing config file is fine; defaults and env vars apply.
	_ = viper.ReadInConfig()
}

// initLogging builds the default slog logger from config, letting
// explicitly-set CLI flags win.
func initLogging() error {
	level := viper.GetString("logging.level")
	format := viper.GetString("logging.format")

	if rootCmd.PersistentFlags().Changed("log-level") {
		level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}

	logger := observability.NewLogger(config.LoggingConfig{
		Level:      level,
		Format:     format,
		AddSource:  viper.GetBool("logging.add_source"),
		TimeFormat: viper.GetString("logging.time_format"),
	})
	observability.SetDefault(logger)
	return nil
}

// loadConfig materializes the validated Config for subcommands.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}
