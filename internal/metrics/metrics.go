// Package metrics exposes Prometheus collectors for the crawl engine.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlPagesTotal         prometheus.Counter
	crawlRowsTotal          *prometheus.CounterVec
	crawlBatchesTotal       prometheus.Counter
	crawlDocumentsTotal     prometheus.Counter
	crawlDownloadsTotal     prometheus.Counter
	crawlIndividualsRetired prometheus.Counter
	crawlRetriesTotal       *prometheus.CounterVec
	crawlReestablishesTotal prometheus.Counter
	crawlRunsTotal          *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlPagesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawl_pages_total",
				Help: "Total number of listing pages visited.",
			},
		)

		crawlRowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_rows_total",
				Help: "Total number of rows handled, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlBatchesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawl_batches_submitted_total",
				Help: "Total number of document batches submitted.",
			},
		)

		crawlDocumentsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawl_documents_requested_total",
				Help: "Total number of documents requested across all batches.",
			},
		)

		crawlDownloadsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawl_files_downloaded_total",
				Help: "Total number of direct files downloaded.",
			},
		)

		crawlIndividualsRetired = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawl_individuals_retired_total",
				Help: "Total number of individuals fully processed.",
			},
		)

		crawlRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_portal_retries_total",
				Help: "Total number of portal operation retries, labeled by operation.",
			},
			[]string{"op"},
		)

		crawlReestablishesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawl_session_reestablishes_total",
				Help: "Total number of full session re-establishments.",
			},
		)

		crawlRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_runs_total",
				Help: "Total number of runs, labeled by result.",
			},
			[]string{"result"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage increments the visited page counter.
func ObservePage() {
	crawlPagesTotal.Inc()
}

// ObserveRow increments the row counter for the given outcome.
func ObserveRow(outcome string) {
	crawlRowsTotal.WithLabelValues(outcome).Inc()
}

// ObserveBatch records a confirmed batch submission of n documents.
func ObserveBatch(n int) {
	crawlBatchesTotal.Inc()
	crawlDocumentsTotal.Add(float64(n))
}

// ObserveDownload increments the direct download counter.
func ObserveDownload() {
	crawlDownloadsTotal.Inc()
}

// ObserveIndividualRetired increments the retired individual counter.
func ObserveIndividualRetired() {
	crawlIndividualsRetired.Inc()
}

// ObserveRetry increments the retry counter for a portal operation.
func ObserveRetry(op string) {
	crawlRetriesTotal.WithLabelValues(op).Inc()
}

// ObserveReestablish increments the session re-establishment counter.
func ObserveReestablish() {
	crawlReestablishesTotal.Inc()
}

// ObserveRun increments the run counter for the given result.
func ObserveRun(result string) {
	crawlRunsTotal.WithLabelValues(result).Inc()
}
