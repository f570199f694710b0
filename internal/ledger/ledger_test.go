package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store that records every save and can be told to
// fail a number of upcoming saves.
type memStore struct {
	payloads map[string][]byte
	saves    []string
	failNext int
}

func newMemStore() *memStore {
	return &memStore{payloads: make(map[string][]byte)}
}

func (m *memStore) Load(_ context.Context, name string) ([]byte, error) {
	payload, ok := m.payloads[name]
	if !ok {
		return nil, nil
	}
	return payload, nil
}

func (m *memStore) Save(_ context.Context, name string, payload []byte) error {
	if m.failNext > 0 {
		m.failNext--
		return errors.New("disk full")
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	m.payloads[name] = cp
	m.saves = append(m.saves, name)
	return nil
}

func openTestLedger(t *testing.T, store Store) *Ledger {
	t.Helper()
	led, err := Open(context.Background(), store, nil, false)
	require.NoError(t, err)
	return led
}

func TestRegisterIndividualsFirstSeenWins(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	led := openTestLedger(t, store)

	keys, err := led.RegisterIndividualsForRow(ctx, "Smith, John|report|01/02/2026",
		[]string{"Smith, John - Director", "Smith, John - Director (2)"})
	require.NoError(t, err)
	assert.Equal(t, []string{"smith, john - director", "smith, john - director (2)"}, keys)

	// Re-registration with a different list is a no-op.
	keys, err = led.RegisterIndividualsForRow(ctx, "SMITH, JOHN|Report|01/02/2026",
		[]string{"Someone Else"})
	require.NoError(t, err)
	assert.Nil(t, keys)

	stored, ok := led.IndividualsForRow("smith, john|report|01/02/2026")
	require.True(t, ok)
	assert.Equal(t, []string{"smith, john - director", "smith, john - director (2)"}, stored)
}

func TestRegisterIndividualsAcrossRows(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	led := openTestLedger(t, store)

	keys, err := led.RegisterIndividualsForRow(ctx, "row one", []string{"Shared Individual", "Only One"})
	require.NoError(t, err)
	assert.Equal(t, []string{"shared individual", "only one"}, keys)

	// A second row reporting the same individual does not claim it.
	keys, err = led.RegisterIndividualsForRow(ctx, "row two", []string{"Shared Individual", "Only Two"})
	require.NoError(t, err)
	assert.Equal(t, []string{"only two"}, keys)

	one, _ := led.IndividualsForRow("row one")
	two, _ := led.IndividualsForRow("row two")
	assert.Contains(t, one, "shared individual")
	assert.NotContains(t, two, "shared individual")
}

func TestRegisterIndividualsPersistsImmediately(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	led := openTestLedger(t, store)

	_, err := led.RegisterIndividualsForRow(ctx, "row", []string{"a"})
	require.NoError(t, err)
	require.Contains(t, store.payloads, NameRowIndividuals)

	var onDisk map[string][]string
	require.NoError(t, json.Unmarshal(store.payloads[NameRowIndividuals], &onDisk))
	assert.Equal(t, []string{"a"}, onDisk["row"])
}

func TestPendingDocuments(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	led := openTestLedger(t, store)

	reported := []string{"Doc 1", "Doc 2", "Doc 3", "Doc 2"}
	pending := led.PendingDocuments("ind", reported)
	assert.Equal(t, []string{"doc 1", "doc 2", "doc 3"}, pending, "order preserved, duplicates dropped")

	require.NoError(t, led.CommitRequestedDocuments(ctx, "ind", []string{"Doc 2"}))
	pending = led.PendingDocuments("ind", reported)
	assert.Equal(t, []string{"doc 1", "doc 3"}, pending)

	require.NoError(t, led.CommitRequestedDocuments(ctx, "ind", []string{"doc 1", "doc 3"}))
	assert.Empty(t, led.PendingDocuments("ind", reported))
}

func TestCommitRequestedDocumentsAppendOnly(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	led := openTestLedger(t, store)

	require.NoError(t, led.CommitRequestedDocuments(ctx, "ind", []string{"a", "b"}))
	require.NoError(t, led.CommitRequestedDocuments(ctx, "ind", []string{"b", "c"}))

	assert.Equal(t, []string{"a", "b", "c"}, led.RequestedDocuments("ind"))

	// A commit with nothing new does not rewrite the store.
	saves := len(store.saves)
	require.NoError(t, led.CommitRequestedDocuments(ctx, "ind", []string{"a"}))
	assert.Equal(t, saves, len(store.saves))
}

func TestMarkIndividualSeenIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	led := openTestLedger(t, store)

	require.NoError(t, led.MarkIndividualSeen(ctx, "Smith, John - Director"))
	assert.True(t, led.IsIndividualSeen("smith, john - director"))

	saves := len(store.saves)
	require.NoError(t, led.MarkIndividualSeen(ctx, "SMITH, John - Director"))
	assert.Equal(t, saves, len(store.saves), "second mark must not persist again")
}

func TestRecomputeRowFinished(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	led := openTestLedger(t, store)

	// A row with no recorded mapping is never finished.
	finished, err := led.RecomputeRowFinished(ctx, "unknown row")
	require.NoError(t, err)
	assert.False(t, finished)
	assert.False(t, led.IsRowFinished("unknown row"))

	_, err = led.RegisterIndividualsForRow(ctx, "row", []string{"a", "b"})
	require.NoError(t, err)

	finished, err = led.RecomputeRowFinished(ctx, "row")
	require.NoError(t, err)
	assert.False(t, finished)

	require.NoError(t, led.MarkIndividualSeen(ctx, "a"))
	require.NoError(t, led.MarkIndividualSeen(ctx, "b"))

	finished, err = led.RecomputeRowFinished(ctx, "row")
	require.NoError(t, err)
	assert.True(t, finished)
	assert.True(t, led.IsRowFinished("ROW"))
}

func TestFinishedRowStaysFinished(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	led := openTestLedger(t, store)

	_, err := led.RegisterIndividualsForRow(ctx, "row", []string{"a"})
	require.NoError(t, err)
	require.NoError(t, led.MarkIndividualSeen(ctx, "a"))

	finished, err := led.RecomputeRowFinished(ctx, "row")
	require.NoError(t, err)
	require.True(t, finished)

	// Recomputing again, even repeatedly, never flips it back.
	for i := 0; i < 3; i++ {
		finished, err = led.RecomputeRowFinished(ctx, "row")
		require.NoError(t, err)
		assert.True(t, finished)
	}
}

func TestPersistRetriesOnce(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	led := openTestLedger(t, store)

	store.failNext = 1
	require.NoError(t, led.MarkIndividualSeen(ctx, "a"), "single save failure is retried")

	store.failNext = 2
	err := led.MarkIndividualSeen(ctx, "b")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersist)
}

func TestOpenResumesFromStore(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	led := openTestLedger(t, store)
	_, err := led.RegisterIndividualsForRow(ctx, "row", []string{"a", "b"})
	require.NoError(t, err)
	require.NoError(t, led.MarkIndividualSeen(ctx, "a"))
	require.NoError(t, led.CommitRequestedDocuments(ctx, "a", []string{"doc 1"}))

	resumed := openTestLedger(t, store)
	individuals, ok := resumed.IndividualsForRow("row")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, individuals)
	assert.True(t, resumed.IsIndividualSeen("a"))
	assert.False(t, resumed.IsIndividualSeen("b"))
	assert.Equal(t, []string{"doc 1"}, resumed.RequestedDocuments("a"))
}

func TestFreshStartIgnoresStoreButKeepsIt(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	led := openTestLedger(t, store)
	require.NoError(t, led.MarkIndividualSeen(ctx, "a"))

	fresh, err := Open(ctx, store, nil, true)
	require.NoError(t, err)
	assert.False(t, fresh.IsIndividualSeen("a"), "fresh start begins empty")
	assert.Contains(t, store.payloads, NameIndividualSeen, "on-disk payloads are not deleted")
}

func TestFlushAllWritesEveryLedger(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	led := openTestLedger(t, store)

	require.NoError(t, led.FlushAll(ctx))
	for _, name := range []string{NameRowIndividuals, NameIndividualSeen, NameRequestedDocs, NameFinishedRows} {
		assert.Contains(t, store.payloads, name)
	}
}
