package crawl

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/disclosure-crawler/internal/ledger"
	"github.com/JakeFAU/disclosure-crawler/internal/portal"
)

// Mode restricts which row kinds a run engages.
type Mode int

const (
	// ModeAll processes request rows and direct-download rows alike.
	ModeAll Mode = iota
	// ModeDownload only fetches direct-download rows.
	ModeDownload
)

// Config carries the run parameters the controller needs.
type Config struct {
	StartPage   int
	EndPage     int
	BatchSize   int
	DownloadDir string
	Mode        Mode
}

// Controller walks the configured page range row by row, consulting the
// ledger to skip finished work and driving the submitter and downloader for
// the rest. Strictly sequential; the session is a single stateful resource.
type Controller struct {
	session    portal.Session
	ledger     *ledger.Ledger
	submitter  *Submitter
	downloader *Downloader
	reporter   Reporter
	logger     *zap.Logger

	startPage int
	endPage   int
	mode      Mode

	state   CrawlState
	summary Summary
}

func NewController(session portal.Session, led *ledger.Ledger, cfg Config, reporter Reporter, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reporter == nil {
		reporter = NopReporter{}
	}
	if cfg.StartPage <= 0 {
		cfg.StartPage = 1
	}
	if cfg.EndPage < cfg.StartPage {
		cfg.EndPage = cfg.StartPage
	}
	return &Controller{
		session:    session,
		ledger:     led,
		submitter:  NewSubmitter(session, led, cfg.BatchSize, logger),
		downloader: NewDownloader(session, cfg.DownloadDir, logger),
		reporter:   reporter,
		logger:     logger,
		startPage:  cfg.StartPage,
		endPage:    cfg.EndPage,
		mode:       cfg.Mode,
		state:      CrawlState{State: StateIdle},
	}
}

// State returns the controller's current cursor.
func (c *Controller) State() CrawlState { return c.state }

// Run executes the crawl over the configured page range. The returned
// Summary is valid whether the run completed or aborted; the ledgers are
// flushed on both paths.
func (c *Controller) Run(ctx context.Context) (Summary, error) {
	for page := c.startPage; page <= c.endPage; page++ {
		if err := ctx.Err(); err != nil {
			return c.abort(ctx, fmt.Errorf("run cancelled: %w", err))
		}
		if err := c.session.GoToPage(ctx, page); err != nil {
			return c.abort(ctx, fmt.Errorf("go to page %d: %w", page, err))
		}
		c.state = CrawlState{State: StatePageLoaded, Page: page}
		c.reporter.PageStarted(page)

		rows, err := c.session.ListRows(ctx)
		if err != nil {
			return c.abort(ctx, fmt.Errorf("list rows on page %d: %w", page, err))
		}
		for _, row := range rows {
			if err := c.processRow(ctx, row); err != nil {
				return c.abort(ctx, err)
			}
		}
		c.summary.PagesVisited++

		if page < c.endPage {
			next, err := c.session.HasNextPage(ctx)
			if err != nil {
				return c.abort(ctx, err)
			}
			if !next {
				c.logger.Info("no further pages reported", zap.Int("page", page))
				break
			}
		}
	}
	c.state.State = StateDone
	if err := c.ledger.FlushAll(ctx); err != nil {
		c.logger.Error("final ledger flush failed", zap.Error(err))
		c.reporter.RunCompleted(c.summary, c.state, true)
		return c.summary, err
	}
	c.reporter.RunCompleted(c.summary, c.state, false)
	return c.summary, nil
}

func (c *Controller) processRow(ctx context.Context, row portal.Row) error {
	rowKey := ledger.RowKey(row.Name, row.Title, row.DateAdded)
	c.state = CrawlState{State: StateRowSelected, Page: c.state.Page, RowKey: rowKey}
	switch {
	case row.CanRequest:
		if c.mode == ModeDownload {
			c.skipRow(row, "request rows out of scope for a download pass")
			return nil
		}
		return c.processRequestRow(ctx, row, rowKey)
	case row.CanDownload:
		return c.processDownloadRow(ctx, row)
	default:
		c.skipRow(row, "no request or download capability")
		return nil
	}
}

func (c *Controller) processRequestRow(ctx context.Context, row portal.Row, rowKey string) error {
	if c.ledger.IsRowFinished(rowKey) {
		c.skipRow(row, "already finished")
		return nil
	}

	individuals, registered := c.ledger.IndividualsForRow(rowKey)
	popupOpen := false
	if !registered {
		discovered, err := c.session.OpenIndividuals(ctx, row)
		if err != nil {
			return c.rowFailure(ctx, row, "open individuals", err)
		}
		if len(discovered) == 0 {
			// Register nothing: a row with no recorded individuals would be
			// recomputed as finished, and finished rows never reopen. Leave
			// it untouched so a later run retries the popup.
			c.logger.Warn("no individuals discovered", zap.String("row", rowKey))
			c.skipRow(row, "no individuals discovered")
			return nil
		}
		popupOpen = true
		individuals, err = c.ledger.RegisterIndividualsForRow(ctx, rowKey, discovered)
		if err != nil {
			return err
		}
	}
	c.state.State = StateIndividualsDiscovered

	for {
		next := ""
		for _, ind := range individuals {
			if !c.ledger.IsIndividualSeen(ind) {
				next = ind
				break
			}
		}
		if next == "" {
			break
		}
		res, stillOpen, err := c.processIndividual(ctx, row, next, popupOpen)
		popupOpen = stillOpen
		if err != nil {
			return c.rowFailure(ctx, row, "process individual", err)
		}
		switch res {
		case cycleIndividualAbsent:
			// The individual stays unseen for a later run.
			c.skipRow(row, "individual missing from popup")
			return nil
		case cycleBatchAbandoned:
			c.skipRow(row, "batch submission failed")
			return nil
		}
	}

	finished, err := c.ledger.RecomputeRowFinished(ctx, rowKey)
	if err != nil {
		return err
	}
	c.summary.RowsProcessed++
	if finished {
		c.state.State = StateRowFinished
		c.summary.RowsFinished++
		c.reporter.RowFinished(rowKey)
	}
	return nil
}

// cycleResult reports how one individual cycle ended.
type cycleResult int

const (
	cycleAdvanced cycleResult = iota
	cycleIndividualAbsent
	cycleBatchAbandoned
)

// processIndividual runs one cycle for one individual: select it, diff its
// document list against the ledger, and either retire it (nothing pending)
// or submit a single batch. The popup closes when a batch is submitted, so
// the caller learns whether it is still open.
func (c *Controller) processIndividual(ctx context.Context, row portal.Row, individual string, popupOpen bool) (res cycleResult, stillOpen bool, err error) {
	c.state.Individual = individual
	c.state.State = StateIndividualSelected

	if !popupOpen {
		if _, err := c.session.OpenIndividuals(ctx, row); err != nil {
			return cycleBatchAbandoned, false, err
		}
	}
	if err := c.session.SelectIndividual(ctx, individual); err != nil {
		if portal.IsAbsent(err) {
			// The portal no longer lists this individual. Leave it unseen so
			// a later run can reconcile.
			c.logger.Warn("individual absent from popup", zap.String("individual", individual))
			return cycleIndividualAbsent, true, nil
		}
		return cycleBatchAbandoned, true, err
	}
	docs, err := c.session.ListDocuments(ctx)
	if err != nil {
		return cycleBatchAbandoned, true, err
	}

	pending := c.ledger.PendingDocuments(individual, docs)
	if len(pending) == 0 {
		if err := c.ledger.MarkIndividualSeen(ctx, individual); err != nil {
			return cycleBatchAbandoned, true, err
		}
		c.summary.IndividualsRetired++
		c.reporter.IndividualRetired(individual)
		return cycleAdvanced, true, nil
	}

	c.state.State = StateBatchPending
	batch, err := c.submitter.SubmitNext(ctx, individual, pending)
	if err != nil {
		if isFatal(err) {
			return cycleBatchAbandoned, false, err
		}
		c.logger.Warn("batch abandoned",
			zap.String("individual", individual),
			zap.Int("pending", len(pending)),
			zap.Error(err),
		)
		return cycleBatchAbandoned, false, nil
	}
	c.state.State = StateBatchCommitted
	c.summary.BatchesSubmitted++
	c.summary.DocumentsRequested += len(batch)
	c.reporter.BatchSubmitted(individual, len(batch))
	// Submission closes the request flow; the next cycle reopens it.
	return cycleAdvanced, false, nil
}

func (c *Controller) processDownloadRow(ctx context.Context, row portal.Row) error {
	path, downloaded, err := c.downloader.Fetch(ctx, row)
	if err != nil {
		if portal.IsAbsent(err) {
			c.skipRow(row, "no direct link")
			return nil
		}
		return c.rowFailure(ctx, row, "download", err)
	}
	c.summary.RowsProcessed++
	if downloaded {
		c.summary.FilesDownloaded++
		c.reporter.FileDownloaded(row, path)
	}
	return nil
}

// rowFailure resolves a row-level error: fatal faults abort the run,
// anything else abandons the row for this run and moves on.
func (c *Controller) rowFailure(ctx context.Context, row portal.Row, op string, err error) error {
	if err == nil {
		return nil
	}
	if isFatal(err) {
		return err
	}
	if cerr := ctx.Err(); cerr != nil {
		return fmt.Errorf("%s: %w", op, cerr)
	}
	c.logger.Warn("row abandoned",
		zap.String("name", row.Name),
		zap.String("op", op),
		zap.Error(err),
	)
	c.skipRow(row, op+" failed")
	return nil
}

func (c *Controller) skipRow(row portal.Row, reason string) {
	c.summary.RowsSkipped++
	c.reporter.RowSkipped(row, reason)
}

func (c *Controller) abort(ctx context.Context, cause error) (Summary, error) {
	c.logger.Error("run aborted",
		zap.String("state", c.state.State.String()),
		zap.Int("page", c.state.Page),
		zap.String("row", c.state.RowKey),
		zap.Error(cause),
	)
	if err := c.ledger.FlushAll(ctx); err != nil {
		c.logger.Error("ledger flush on abort failed", zap.Error(err))
	} else {
		c.logger.Info("ledgers flushed, resume is safe",
			zap.Int("last_page", c.state.Page),
			zap.String("last_row", c.state.RowKey),
		)
	}
	c.reporter.RunCompleted(c.summary, c.state, true)
	return c.summary, cause
}

func isFatal(err error) bool {
	if errors.Is(err, ledger.ErrPersist) {
		return true
	}
	return portal.ClassOf(err) == portal.FaultFatal
}
