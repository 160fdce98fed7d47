package cmd

import (
	"runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show CLI version information",
	Long:  `Display the version, commit hash, and build date of pipedbundle.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return formatter.PrintKeyValues(
			[]string{"version", "commit", "build_date", "go"},
			map[string]string{
				"version":    Version,
				"commit":     Commit,
				"build_date": BuildDate,
				"go":         runtime.Version(),
			},
		)
	},
}
