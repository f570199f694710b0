package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	yes     bool
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disclosure-crawler",
		Short: "A resumable crawler for the public disclosure portal",
		Long: `disclosure-crawler walks the disclosure portal's paginated listing,
requests transaction documents in batches, and downloads directly linked
files. Every unit of work is recorded in durable ledgers before the crawl
moves on, so an interrupted run can always be resumed without repeating
submissions or downloads.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./disclosure-crawler.yaml)")
	cmd.PersistentFlags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newDownloadCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
