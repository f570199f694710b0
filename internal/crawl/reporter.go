package crawl

import "github.com/JakeFAU/disclosure-crawler/internal/portal"

// Reporter receives progress callbacks as the run advances. Implementations
// must be cheap; the controller calls them inline between portal operations.
type Reporter interface {
	PageStarted(page int)
	RowSkipped(row portal.Row, reason string)
	IndividualRetired(individual string)
	BatchSubmitted(individual string, docs int)
	RowFinished(rowKey string)
	FileDownloaded(row portal.Row, path string)
	RunCompleted(summary Summary, last CrawlState, aborted bool)
}

// NopReporter discards all progress callbacks.
type NopReporter struct{}

func (NopReporter) PageStarted(int)                        {}
func (NopReporter) RowSkipped(portal.Row, string)          {}
func (NopReporter) IndividualRetired(string)               {}
func (NopReporter) BatchSubmitted(string, int)             {}
func (NopReporter) RowFinished(string)                     {}
func (NopReporter) FileDownloaded(portal.Row, string)      {}
func (NopReporter) RunCompleted(Summary, CrawlState, bool) {}
