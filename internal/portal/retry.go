package portal

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RetryConfig bounds the retry behavior of ResilientSession.
type RetryConfig struct {
	Attempts int
	Backoff  time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 500 * time.Millisecond
	}
	return c
}

// RetryObserver is notified of retries and session re-establishments so the
// tally and metrics layers can count them. May be nil.
type RetryObserver interface {
	ObserveRetry(op string)
	ObserveReestablish()
}

// ResilientSession decorates another Session with uniform fault handling.
// Transient faults are retried up to a fixed bound with a fixed backoff,
// dismissing any pending interruption before each retry. Session-lost faults
// trigger full re-establishment and one further attempt. Absence sentinels
// and fatal faults pass straight through.
type ResilientSession struct {
	inner    Session
	cfg      RetryConfig
	logger   *zap.Logger
	observer RetryObserver
	sleep    func(time.Duration)
}

// NewResilientSession wraps inner. observer may be nil.
func NewResilientSession(inner Session, cfg RetryConfig, logger *zap.Logger, observer RetryObserver) *ResilientSession {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResilientSession{
		inner:    inner,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		observer: observer,
		sleep:    time.Sleep,
	}
}

func (s *ResilientSession) do(ctx context.Context, op string, call func() error) error {
	var lastErr error
	for attempt := 0; attempt < s.cfg.Attempts; attempt++ {
		if attempt > 0 {
			if s.observer != nil {
				s.observer.ObserveRetry(op)
			}
			if err := s.inner.DismissInterruption(ctx); err != nil {
				s.logger.Debug("dismiss before retry failed", zap.String("op", op), zap.Error(err))
			}
			s.sleep(s.cfg.Backoff)
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		err := call()
		if err == nil {
			return nil
		}
		if IsAbsent(err) {
			return err
		}
		switch ClassOf(err) {
		case FaultTransient:
			lastErr = err
			s.logger.Warn("transient portal fault",
				zap.String("op", op), zap.Int("attempt", attempt+1), zap.Error(err))
		case FaultSessionLost:
			s.logger.Warn("portal session lost, re-establishing",
				zap.String("op", op), zap.Error(err))
			if s.observer != nil {
				s.observer.ObserveReestablish()
			}
			if reErr := s.inner.Reestablish(ctx); reErr != nil {
				return Fatal(op, fmt.Errorf("re-establish session: %w", reErr))
			}
			lastErr = err
		default:
			return err
		}
	}
	return fmt.Errorf("%s: attempts exhausted: %w", op, lastErr)
}

// ListRows implements Session.
func (s *ResilientSession) ListRows(ctx context.Context) ([]Row, error) {
	var rows []Row
	err := s.do(ctx, "list_rows", func() error {
		var callErr error
		rows, callErr = s.inner.ListRows(ctx)
		return callErr
	})
	return rows, err
}

// OpenIndividuals implements Session.
func (s *ResilientSession) OpenIndividuals(ctx context.Context, row Row) ([]string, error) {
	var individuals []string
	err := s.do(ctx, "open_individuals", func() error {
		var callErr error
		individuals, callErr = s.inner.OpenIndividuals(ctx, row)
		return callErr
	})
	return individuals, err
}

// SelectIndividual implements Session.
func (s *ResilientSession) SelectIndividual(ctx context.Context, individual string) error {
	return s.do(ctx, "select_individual", func() error {
		return s.inner.SelectIndividual(ctx, individual)
	})
}

// ListDocuments implements Session.
func (s *ResilientSession) ListDocuments(ctx context.Context) ([]string, error) {
	var docs []string
	err := s.do(ctx, "list_documents", func() error {
		var callErr error
		docs, callErr = s.inner.ListDocuments(ctx)
		return callErr
	})
	return docs, err
}

// SubmitBatch implements Session.
func (s *ResilientSession) SubmitBatch(ctx context.Context, docs []string) error {
	return s.do(ctx, "submit_batch", func() error {
		return s.inner.SubmitBatch(ctx, docs)
	})
}

// DownloadFile implements Session.
func (s *ResilientSession) DownloadFile(ctx context.Context, row Row, dest string) error {
	return s.do(ctx, "download_file", func() error {
		return s.inner.DownloadFile(ctx, row, dest)
	})
}

// GoToPage implements Session.
func (s *ResilientSession) GoToPage(ctx context.Context, n int) error {
	return s.do(ctx, "go_to_page", func() error {
		return s.inner.GoToPage(ctx, n)
	})
}

// HasNextPage implements Session.
func (s *ResilientSession) HasNextPage(ctx context.Context) (bool, error) {
	var next bool
	err := s.do(ctx, "has_next_page", func() error {
		var callErr error
		next, callErr = s.inner.HasNextPage(ctx)
		return callErr
	})
	return next, err
}

// DismissInterruption implements Session; it is not itself retried.
func (s *ResilientSession) DismissInterruption(ctx context.Context) error {
	return s.inner.DismissInterruption(ctx)
}

// Reestablish implements Session; callers normally never need it directly.
func (s *ResilientSession) Reestablish(ctx context.Context) error {
	return s.inner.Reestablish(ctx)
}

// Close implements Session.
func (s *ResilientSession) Close(ctx context.Context) error {
	return s.inner.Close(ctx)
}
