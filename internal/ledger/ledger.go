package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrPersist marks a durable-write failure. Callers treat it as fatal for
// the run: the crawl flushes what it can and aborts rather than advancing
// past state it could not record.
var ErrPersist = errors.New("ledger persistence failed")

// Ledger wraps a Store with the dedup invariants the crawl depends on:
// first-seen-wins row registration, append-only requested-document sets, and
// monotonic finished rows. Every mutating operation persists the affected
// map before returning; the persistence step is retried once and a second
// failure is returned to the caller, which treats it as fatal for the run.
type Ledger struct {
	store  Store
	logger *zap.Logger

	rowIndividuals map[string][]string
	individualSeen map[string]bool
	requestedDocs  map[string][]string
	finishedRows   map[string]bool
}

// Open loads all four ledgers from the store. With freshStart set the
// in-memory state starts empty while the on-disk payloads stay untouched
// until the first mutation replaces them.
func Open(ctx context.Context, store Store, logger *zap.Logger, freshStart bool) (*Ledger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		store:          store,
		logger:         logger,
		rowIndividuals: make(map[string][]string),
		individualSeen: make(map[string]bool),
		requestedDocs:  make(map[string][]string),
		finishedRows:   make(map[string]bool),
	}
	if freshStart {
		logger.Info("fresh start requested, ignoring persisted ledgers")
		return l, nil
	}
	if err := loadInto(ctx, store, NameRowIndividuals, &l.rowIndividuals); err != nil {
		return nil, err
	}
	if err := loadInto(ctx, store, NameIndividualSeen, &l.individualSeen); err != nil {
		return nil, err
	}
	if err := loadInto(ctx, store, NameRequestedDocs, &l.requestedDocs); err != nil {
		return nil, err
	}
	if err := loadInto(ctx, store, NameFinishedRows, &l.finishedRows); err != nil {
		return nil, err
	}
	logger.Info("ledgers loaded",
		zap.Int("rows", len(l.rowIndividuals)),
		zap.Int("individuals_seen", len(l.individualSeen)),
		zap.Int("individuals_with_requests", len(l.requestedDocs)),
		zap.Int("finished_rows", len(l.finishedRows)),
	)
	return l, nil
}

func loadInto[M any](ctx context.Context, store Store, name string, target *M) error {
	payload, err := store.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// RegisterIndividualsForRow stores the individual list for a row the first
// time the row is seen and returns the newly registered keys. A row that
// already has a mapping is a no-op returning nil: first seen wins, and a
// later rediscovery of the same individual under another row never moves it.
func (l *Ledger) RegisterIndividualsForRow(ctx context.Context, rowKey string, individuals []string) ([]string, error) {
	rowKey = NormalizeKey(rowKey)
	if _, ok := l.rowIndividuals[rowKey]; ok {
		return nil, nil
	}
	// An individual already claimed by another row stays there; each
	// individual key lives under exactly one row.
	claimed := make(map[string]bool)
	for _, list := range l.rowIndividuals {
		for _, key := range list {
			claimed[key] = true
		}
	}
	keys := make([]string, 0, len(individuals))
	for _, ind := range individuals {
		key := NormalizeKey(ind)
		if key == "" || claimed[key] {
			continue
		}
		claimed[key] = true
		keys = append(keys, key)
	}
	l.rowIndividuals[rowKey] = keys
	if err := l.persist(ctx, NameRowIndividuals, l.rowIndividuals); err != nil {
		return nil, err
	}
	return keys, nil
}

// IndividualsForRow returns the registered individual keys for a row, and
// whether the row has a recorded mapping at all.
func (l *Ledger) IndividualsForRow(rowKey string) ([]string, bool) {
	keys, ok := l.rowIndividuals[NormalizeKey(rowKey)]
	return keys, ok
}

// IsIndividualSeen reports whether every document for the individual has
// been requested or downloaded.
func (l *Ledger) IsIndividualSeen(individual string) bool {
	return l.individualSeen[NormalizeKey(individual)]
}

// MarkIndividualSeen records the individual as fully processed and persists
// immediately. Idempotent.
func (l *Ledger) MarkIndividualSeen(ctx context.Context, individual string) error {
	key := NormalizeKey(individual)
	if l.individualSeen[key] {
		return nil
	}
	l.individualSeen[key] = true
	return l.persist(ctx, NameIndividualSeen, l.individualSeen)
}

// PendingDocuments returns portalReported minus the individual's requested
// set, preserving the portal's reported order. Pure; no mutation.
func (l *Ledger) PendingDocuments(individual string, portalReported []string) []string {
	requested := make(map[string]bool)
	for _, doc := range l.requestedDocs[NormalizeKey(individual)] {
		requested[doc] = true
	}
	var pending []string
	dedup := make(map[string]bool)
	for _, doc := range portalReported {
		key := NormalizeKey(doc)
		if key == "" || requested[key] || dedup[key] {
			continue
		}
		dedup[key] = true
		pending = append(pending, key)
	}
	return pending
}

// RequestedDocuments returns the individual's committed document set.
func (l *Ledger) RequestedDocuments(individual string) []string {
	return l.requestedDocs[NormalizeKey(individual)]
}

// CommitRequestedDocuments appends docs to the individual's requested set
// and persists before returning. The set only ever grows.
func (l *Ledger) CommitRequestedDocuments(ctx context.Context, individual string, docs []string) error {
	if len(docs) == 0 {
		return nil
	}
	key := NormalizeKey(individual)
	existing := make(map[string]bool)
	for _, doc := range l.requestedDocs[key] {
		existing[doc] = true
	}
	changed := false
	for _, doc := range docs {
		docKey := NormalizeKey(doc)
		if docKey == "" || existing[docKey] {
			continue
		}
		existing[docKey] = true
		l.requestedDocs[key] = append(l.requestedDocs[key], docKey)
		changed = true
	}
	if !changed {
		return nil
	}
	return l.persist(ctx, NameRequestedDocs, l.requestedDocs)
}

// IsRowFinished reports the cached finished status for a row.
func (l *Ledger) IsRowFinished(rowKey string) bool {
	return l.finishedRows[NormalizeKey(rowKey)]
}

// RecomputeRowFinished re-derives the finished status of a row from its
// registered individuals and persists a true result. A row with no recorded
// mapping is never finished. Once finished, a row stays finished.
func (l *Ledger) RecomputeRowFinished(ctx context.Context, rowKey string) (bool, error) {
	key := NormalizeKey(rowKey)
	if l.finishedRows[key] {
		return true, nil
	}
	individuals, ok := l.rowIndividuals[key]
	if !ok {
		return false, nil
	}
	for _, ind := range individuals {
		if !l.individualSeen[ind] {
			return false, nil
		}
	}
	l.finishedRows[key] = true
	if err := l.persist(ctx, NameFinishedRows, l.finishedRows); err != nil {
		return false, err
	}
	return true, nil
}

// FlushAll writes every ledger to the store. Called on Done and on every
// abort path so the operator knows resuming is safe.
func (l *Ledger) FlushAll(ctx context.Context) error {
	if err := l.persist(ctx, NameRowIndividuals, l.rowIndividuals); err != nil {
		return err
	}
	if err := l.persist(ctx, NameIndividualSeen, l.individualSeen); err != nil {
		return err
	}
	if err := l.persist(ctx, NameRequestedDocs, l.requestedDocs); err != nil {
		return err
	}
	return l.persist(ctx, NameFinishedRows, l.finishedRows)
}

func (l *Ledger) persist(ctx context.Context, name string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrPersist, name, err)
	}
	firstErr := l.store.Save(ctx, name, payload)
	if firstErr == nil {
		return nil
	}
	l.logger.Warn("ledger save failed, retrying once",
		zap.String("ledger", name), zap.Error(firstErr))
	if err := l.store.Save(ctx, name, payload); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPersist, name, err)
	}
	return nil
}
