package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/mermaidlive/internal/version"
)

var (
	versionFormat OutputFormat
	versionShort  bool
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display version information for mermaidlive including:

- Semantic version number
- Git commit hash
- Build timestamp
- Go version used for compilation
- Target platform (OS/architecture)

Examples:
  mermaidlive version              # Show version
  mermaidlive version --short      # Version number only
  mermaidlive version --detailed   # Show detailed version info
  mermaidlive version -o json      # Output as JSON`,
	RunE: runVersionCommand,
}

func init() {
	rootCmd.AddCommand(versionCmd)

	addOutputFlag(versionCmd, &versionFormat)
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show short version only")
	versionCmd.Flags().Bool("detailed", false, "Show detailed version information")
}

func runVersionCommand(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if versionFormat != OutputText {
		return writeStructured(out, versionFormat, struct {
			version.BuildInfo `yaml:",inline"`
			IsRelease         bool `json:"is_release" yaml:"is_release"`
		}{*version.GetBuildInfo(), version.IsRelease()})
	}

	if versionShort {
		fmt.Fprintln(out, version.GetShortVersion())
		return nil
	}

	if detailed, _ := cmd.Flags().GetBool("detailed"); detailed {
		fmt.Fprintln(out, version.GetDetailedVersion())
		if version.IsRelease() {
			fmt.Fprintln(out, "Build type: release")
		} else {
			fmt.Fprintln(out, "Build type: development")
		}
		return nil
	}

	info := version.GetBuildInfo()
	fmt.Fprintf(out, "%s %s", version.Name, info.Version)
	if len(info.GitCommit) >= 7 && info.GitCommit != "unknown" {
		fmt.Fprintf(out, " (%s)", info.GitCommit[:7])
	}
	if info.Dirty {
		fmt.Fprint(out, " (dirty)")
	}
	fmt.Fprintln(out)
	return nil
}
