// Package cmd defines and implements the CLI commands for the
// disclosure-crawler executable.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/disclosure-crawler/internal/crawl"
)

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Requests transaction documents in batches",
		Long: `Walks the configured page range, discovers the individuals behind each
transaction row, and submits document requests in batches. Rows and
individuals already recorded in the ledgers are skipped, so the command is
safe to re-run after an interruption.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEngine(cmd, crawl.ModeAll, true)
		},
	}
}
