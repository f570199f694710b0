// Package progress reports the running tally of a crawl: structured logs,
// Prometheus counters, and an operator-readable markdown file.
package progress

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/disclosure-crawler/internal/crawl"
	"github.com/JakeFAU/disclosure-crawler/internal/metrics"
	"github.com/JakeFAU/disclosure-crawler/internal/portal"
)

// Tally implements crawl.Reporter and portal.RetryObserver. The markdown
// file is advisory; write failures are logged and never interrupt the run.
type Tally struct {
	logger *zap.Logger
	path   string
	runID  string

	mu      sync.Mutex
	started time.Time
	summary crawl.Summary
	last    crawl.CrawlState
	running bool
}

// Snapshot is a point-in-time view of the run for the status endpoint.
type Snapshot struct {
	RunID     string        `json:"run_id"`
	Running   bool          `json:"running"`
	StartedAt time.Time     `json:"started_at"`
	Page      int           `json:"page"`
	State     string        `json:"state"`
	Summary   crawl.Summary `json:"summary"`
}

// New creates a Tally appending to the markdown file at path. An empty path
// disables the file and keeps logs and metrics only.
func New(path string, logger *zap.Logger) *Tally {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	t := &Tally{
		logger:  logger,
		path:    path,
		runID:   uuid.NewString(),
		started: time.Now(),
		running: true,
	}
	t.appendLine(fmt.Sprintf("\n## Run `%s`\n\nStarted %s\n", t.runID, t.started.Format(time.RFC3339)))
	return t
}

// RunID returns this run's identifier, stamped into logs and the progress file.
func (t *Tally) RunID() string { return t.runID }

// Snapshot returns a point-in-time view of the run.
func (t *Tally) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		RunID:     t.runID,
		Running:   t.running,
		StartedAt: t.started,
		Page:      t.last.Page,
		State:     t.last.State.String(),
		Summary:   t.summary,
	}
}

func (t *Tally) PageStarted(page int) {
	metrics.ObservePage()
	t.mu.Lock()
	t.last.Page = page
	t.last.State = crawl.StatePageLoaded
	t.summary.PagesVisited++
	t.mu.Unlock()
	t.logger.Info("page started", zap.String("run", t.runID), zap.Int("page", page))
	t.appendLine(fmt.Sprintf("- page %d started %s", page, time.Now().Format(time.RFC3339)))
}

func (t *Tally) RowSkipped(row portal.Row, reason string) {
	metrics.ObserveRow("skipped")
	t.mu.Lock()
	t.summary.RowsSkipped++
	t.mu.Unlock()
	t.logger.Debug("row skipped",
		zap.String("name", row.Name),
		zap.String("reason", reason),
	)
}

func (t *Tally) IndividualRetired(individual string) {
	metrics.ObserveIndividualRetired()
	t.mu.Lock()
	t.summary.IndividualsRetired++
	t.mu.Unlock()
	t.logger.Info("individual retired", zap.String("individual", individual))
}

func (t *Tally) BatchSubmitted(individual string, docs int) {
	metrics.ObserveBatch(docs)
	t.mu.Lock()
	t.summary.BatchesSubmitted++
	t.summary.DocumentsRequested += docs
	t.mu.Unlock()
	t.appendLine(fmt.Sprintf("  - submitted %d document(s) for `%s`", docs, individual))
}

func (t *Tally) RowFinished(rowKey string) {
	metrics.ObserveRow("finished")
	t.mu.Lock()
	t.summary.RowsFinished++
	t.mu.Unlock()
	t.logger.Info("row finished", zap.String("row", rowKey))
}

func (t *Tally) FileDownloaded(row portal.Row, path string) {
	metrics.ObserveDownload()
	t.mu.Lock()
	t.summary.FilesDownloaded++
	t.mu.Unlock()
	t.appendLine(fmt.Sprintf("  - downloaded file for `%s` to %s", row.Name, path))
}

func (t *Tally) RunCompleted(summary crawl.Summary, last crawl.CrawlState, aborted bool) {
	result := "completed"
	if aborted {
		result = "aborted"
	}
	metrics.ObserveRun(result)
	t.mu.Lock()
	t.summary = summary
	t.last = last
	t.running = false
	t.mu.Unlock()
	t.logger.Info("run "+result,
		zap.String("run", t.runID),
		zap.Int("pages", summary.PagesVisited),
		zap.Int("rows_processed", summary.RowsProcessed),
		zap.Int("rows_skipped", summary.RowsSkipped),
		zap.Int("rows_finished", summary.RowsFinished),
		zap.Int("individuals_retired", summary.IndividualsRetired),
		zap.Int("batches", summary.BatchesSubmitted),
		zap.Int("documents_requested", summary.DocumentsRequested),
		zap.Int("files_downloaded", summary.FilesDownloaded),
		zap.Int("last_page", last.Page),
		zap.String("last_row", last.RowKey),
	)
	t.appendLine(fmt.Sprintf(
		"\nRun %s after %s: %d pages, %d rows processed, %d skipped, %d finished, %d batches (%d documents), %d downloads. Last position: page %d, row `%s`.\n",
		result, time.Since(t.started).Round(time.Second),
		summary.PagesVisited, summary.RowsProcessed, summary.RowsSkipped,
		summary.RowsFinished, summary.BatchesSubmitted, summary.DocumentsRequested,
		summary.FilesDownloaded, last.Page, last.RowKey,
	))
}

func (t *Tally) ObserveRetry(op string) {
	metrics.ObserveRetry(op)
	t.logger.Debug("portal operation retried", zap.String("op", op))
}

func (t *Tally) ObserveReestablish() {
	metrics.ObserveReestablish()
	t.logger.Warn("session re-established", zap.String("run", t.runID))
}

func (t *Tally) appendLine(line string) {
	if t.path == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		t.logger.Warn("progress file open failed", zap.Error(err))
		return
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, line); err != nil {
		t.logger.Warn("progress file write failed", zap.Error(err))
	}
}
