// Package ledger implements the durable dedup ledgers that make the crawl
// idempotent: the row-to-individuals map, the individual seen set, the
// per-individual requested-document sets, and the finished-row cache.
package ledger

import "context"

// Ledger payload names used by every Store backend.
const (
	NameRowIndividuals = "row_individuals"
	NameIndividualSeen = "individual_seen"
	NameRequestedDocs  = "requested_docs"
	NameFinishedRows   = "finished_rows"
)

// Store persists whole ledger payloads by name. Implementations replace the
// payload atomically on Save; Load is fail-soft and returns (nil, nil) for a
// missing payload rather than an error, so a first run starts empty.
type Store interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, payload []byte) error
}
