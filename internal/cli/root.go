package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Verify pending CI pipelines and act on the ones that pass",
	Long: `The scheduler checks every CI pipeline submitted since its last successful
run, verifies that protected configuration files match the reference branch,
posts the result on the associated pull request, and runs the configured
action on the pipelines that pass.

Examples:
	# Show available commands and global flags
	scheduler --help

	# Run one scheduling pass
	scheduler run --repository org/repo

	# Print build info
	scheduler version`,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&cfg.Output.Verbose, "verbose", false, "Enable verbose logging (prints every API call and full error details)")
}

func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if date != "" {
		buildDate = date
	}

	rootCmd.Version = fmt.Sprintf("%s (%s) %s", buildVersion, buildCommit, buildDate)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func BuildInfo() (version, commit, date string) {
	return buildVersion, buildCommit, buildDate
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
