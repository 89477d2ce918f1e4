// Package cmd defines the CLI commands for the crawlpool executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawlpool",
		Short: "An autoscaling, deduplicating crawl scheduler.",
		Long: `crawlpool runs large crawls politely: it keeps a deduplicated,
lease-based work queue and scales handler concurrency up and down in
response to system load, so a run uses what the machine can spare and
nothing more.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default searches ./crawlpool.yaml and /etc/crawlpool)")
	cmd.AddCommand(newRunCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
