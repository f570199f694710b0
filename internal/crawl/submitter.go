package crawl

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/disclosure-crawler/internal/ledger"
	"github.com/JakeFAU/disclosure-crawler/internal/portal"
)

// Submitter turns an individual's pending document list into portal batch
// requests. One call, one batch: the controller loops until nothing is
// pending.
type Submitter struct {
	session   portal.Session
	ledger    *ledger.Ledger
	batchSize int
	logger    *zap.Logger
}

func NewSubmitter(session portal.Session, led *ledger.Ledger, batchSize int, logger *zap.Logger) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = 5
	}
	return &Submitter{session: session, ledger: led, batchSize: batchSize, logger: logger}
}

// SubmitNext submits the first batch of pending documents, at most the batch
// size, preserving the portal-reported order. The batch is committed to the
// ledger only after the portal confirms the submission; a failed submit
// commits nothing, so the same documents stay pending for a later run.
func (s *Submitter) SubmitNext(ctx context.Context, individualKey string, pending []string) ([]string, error) {
	if len(pending) == 0 {
		return nil, nil
	}
	batch := pending
	if len(batch) > s.batchSize {
		batch = batch[:s.batchSize]
	}
	if err := s.session.SubmitBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("submit batch for %q: %w", individualKey, err)
	}
	if err := s.ledger.CommitRequestedDocuments(ctx, individualKey, batch); err != nil {
		return nil, err
	}
	s.logger.Info("batch submitted",
		zap.String("individual", individualKey),
		zap.Int("documents", len(batch)),
		zap.Int("remaining", len(pending)-len(batch)),
	)
	return batch, nil
}
