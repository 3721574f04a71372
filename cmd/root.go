// Package cmd provides the mermaidlive command-line interface.
//
// Configuration is read from several sources with clear precedence:
//
//  1. Command-line flags (--config, --port, etc.)
//  2. MERMAIDLIVE_CONFIG_FILE, naming a custom config file
//  3. Individual environment variables (MERMAIDLIVE_SERVER_PORT, etc.)
//  4. The .mermaidlive.yml file in the working directory
//
// Every key follows the MERMAIDLIVE_<SECTION>_<OPTION> pattern, for example
// MERMAIDLIVE_PREVIEW_DEBOUNCE_INTERVAL=750ms or MERMAIDLIVE_CACHE_EVICTION=lru.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/mermaidlive/internal/config"
	"github.com/conneroisu/mermaidlive/internal/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mermaidlive",
	Short: "Live preview for Mermaid diagrams",
	Long: `mermaidlive renders Mermaid diagram source as you type.

Edits are debounced, obviously incomplete fragments are skipped, identical
source is served from a cache and a slow render never overwrites a newer one.
Rendering is done by the Mermaid CLI (mmdc).

Quick Start:
  mermaidlive serve flow.mmd        Preview a file, re-rendering on save
  mermaidlive serve                 Open an empty editor in the browser
  mermaidlive render flow.mmd       Render once to flow.svg
  mermaidlive check flow.mmd        Would this source be sent to the renderer?
  mermaidlive doctor                Check mmdc and the configuration`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is .mermaidlive.yml, can also use MERMAIDLIVE_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig points viper at the config file and environment.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv(config.EnvPrefix + "_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(config.ConfigFileName)
	}

	config.BindEnv()

	// A missing default file is fine; an explicit file that cannot be read
	// surfaces when the command loads its configuration.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	} else {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && viper.ConfigFileUsed() != "" {
			fmt.Fprintf(os.Stderr, "Warning: failed to read config file %s: %v\n", viper.ConfigFileUsed(), err)
		}
	}
}

// loadConfig loads the validated configuration and a logger built from it.
func loadConfig() (*config.Config, *logging.PreviewLogger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, logging.NewLogger(cfg.LoggerConfig()), nil
}
