package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string

	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "distill",
	Short: "Distill - Turn conversations into validated knowledge",
	Long: `Distill ingests conversation transcripts and turns them into validated,
deduplicated claims about the user and concrete follow-up actions.

Turns flow through a Redis-backed task queue: an analyzer extracts
candidates, a validator deduplicates them against stored records and flags
semantic conflicts for review, and a publisher surfaces the surviving
action suggestions.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "distill.yml", "Path to the configuration file")
}
