package main

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	// Set by goreleaser.
	version = "dev"

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "cafebabe",
	Short: "A hosted JVM bytecode interpreter",
	Long: `cafebabe loads Java class files and archives, links them, and
interprets their bytecode against a managed heap. Host functions can be
exposed as native methods.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			log.SetLevel(log.DebugLevel)
		}
	},
}

func main() {
	log.SetReportTimestamp(false)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
