package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/conneroisu/folio/internal/version"
)

var (
	versionFormat   string
	versionShort    bool
	versionDetailed bool
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display version information for folio including the version, git commit,
build time, Go version and target platform.

Examples:
  folio version              # Show version
  folio version --short      # Version only
  folio version --detailed   # One line per build fact
  folio version --format json`,
	Args: cobra.NoArgs,
	RunE: runVersionCommand,
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().StringVarP(&versionFormat, "format", "f", "text", "Output format (text, json, yaml)")
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show short version only")
	versionCmd.Flags().BoolVar(&versionDetailed, "detailed", false, "Show detailed version information")
}

func runVersionCommand(cmd *cobra.Command, args []string) error {
	return writeVersion(cmd.OutOrStdout(), versionFormat, versionShort, versionDetailed)
}

func writeVersion(w io.Writer, format string, short, detailed bool) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, version.GetBuildInfo())
	case FormatYAML:
		return writeYAML(w, version.GetBuildInfo())
	case "text":
		switch {
		case short:
			_, err := fmt.Fprintln(w, version.GetShortVersion())
			return err
		case detailed:
			_, err := fmt.Fprintln(w, version.GetDetailedVersion())
			return err
		default:
			_, err := fmt.Fprintf(w, "%s %s\n", version.Name, version.GetShortVersion())
			return err
		}
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json, yaml)", format)
	}
}
