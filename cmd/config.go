package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/mermaidlive/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
	Long: `Inspect the configuration after files, environment and flags are merged.

Examples:
  mermaidlive config show            # Effective configuration as YAML
  mermaidlive config validate        # Report errors and warnings
  mermaidlive config env             # Environment variable names`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Decode()
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		encoder := yaml.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent(2)
		if err := encoder.Encode(cfg); err != nil {
			return err
		}
		return encoder.Close()
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Decode()
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		out := cmd.OutOrStdout()
		result := config.ValidateConfigWithDetails(cfg)
		if file := viper.ConfigFileUsed(); file != "" {
			fmt.Fprintf(out, "Config file: %s\n", file)
		}
		if !result.HasErrors() && !result.HasWarnings() {
			fmt.Fprintln(out, "✅ Configuration is valid")
			return nil
		}

		fmt.Fprint(out, result.String())
		if result.HasErrors() {
			return fmt.Errorf("configuration has %d errors", len(result.Errors))
		}
		return nil
	},
}

var configEnvCmd = &cobra.Command{
	Use:   "env",
	Short: "List the environment variables that override each key",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		keys := make([]string, 0, len(config.Defaults))
		for key := range config.Defaults {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		out := cmd.OutOrStdout()
		for _, key := range keys {
			fmt.Fprintf(out, "%-40s %s\n", envName(key), key)
		}
	},
}

func envName(key string) string {
	return config.EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configValidateCmd, configEnvCmd)
}
