package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/disclosure-crawler/internal/crawl"
)

// newDownloadCmd creates and configures the 'download' subcommand.
func newDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download",
		Short: "Downloads directly linked files",
		Long: `Walks the configured page range and downloads every directly linked
file into the download directory, organized per filer name. Files already
on disk are skipped, so the command is safe to re-run. Transaction request
rows are left for the crawl command.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEngine(cmd, crawl.ModeDownload, false)
		},
	}
}
