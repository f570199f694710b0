package crawl

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/disclosure-crawler/internal/ledger"
	"github.com/JakeFAU/disclosure-crawler/internal/portal"
)

// fakePortal simulates the document portal with static data. It can be told
// to fail fatally after a number of successful submissions, which stands in
// for a crash between ledger commits.
type fakePortal struct {
	pages       map[int][]portal.Row
	individuals map[string][]string // row key -> individual display strings
	documents   map[string][]string // individual key -> document ids

	currentPage int
	selected    string

	submitted    [][]string
	failSubmits  int  // fail this many upcoming submissions
	crashAfter   int  // fatal error once this many submissions succeeded (0 = never)
	downloadFail bool
}

func newFakePortal() *fakePortal {
	return &fakePortal{
		pages:       make(map[int][]portal.Row),
		individuals: make(map[string][]string),
		documents:   make(map[string][]string),
	}
}

func (f *fakePortal) rowKey(row portal.Row) string {
	return ledger.RowKey(row.Name, row.Title, row.DateAdded)
}

func (f *fakePortal) ListRows(context.Context) ([]portal.Row, error) {
	return f.pages[f.currentPage], nil
}

func (f *fakePortal) OpenIndividuals(_ context.Context, row portal.Row) ([]string, error) {
	return f.individuals[f.rowKey(row)], nil
}

func (f *fakePortal) SelectIndividual(_ context.Context, individual string) error {
	key := ledger.NormalizeKey(individual)
	if _, ok := f.documents[key]; !ok {
		return fmt.Errorf("individual %q: %w", individual, portal.ErrAbsent)
	}
	f.selected = key
	return nil
}

func (f *fakePortal) ListDocuments(context.Context) ([]string, error) {
	return f.documents[f.selected], nil
}

func (f *fakePortal) SubmitBatch(_ context.Context, docs []string) error {
	if f.crashAfter > 0 && len(f.submitted) >= f.crashAfter {
		return portal.Fatal("submit_batch", errors.New("simulated crash"))
	}
	if f.failSubmits > 0 {
		f.failSubmits--
		return portal.Transient("submit_batch", errors.New("no acknowledgement"))
	}
	batch := make([]string, len(docs))
	copy(batch, docs)
	f.submitted = append(f.submitted, batch)
	return nil
}

func (f *fakePortal) DownloadFile(_ context.Context, row portal.Row, dest string) error {
	if f.downloadFail {
		return portal.Transient("download_file", errors.New("portal hiccup"))
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return err
	}
	return os.WriteFile(dest, []byte("pdf"), 0o600)
}

func (f *fakePortal) GoToPage(_ context.Context, n int) error {
	f.currentPage = n
	return nil
}

func (f *fakePortal) HasNextPage(context.Context) (bool, error) {
	_, ok := f.pages[f.currentPage+1]
	return ok, nil
}

func (f *fakePortal) DismissInterruption(context.Context) error { return nil }
func (f *fakePortal) Reestablish(context.Context) error         { return nil }
func (f *fakePortal) Close(context.Context) error               { return nil }

// memStore is a minimal in-memory ledger.Store shared across simulated runs.
type memStore struct {
	payloads map[string][]byte
	failAll  bool
}

func newMemStore() *memStore { return &memStore{payloads: make(map[string][]byte)} }

func (m *memStore) Load(_ context.Context, name string) ([]byte, error) {
	return m.payloads[name], nil
}

func (m *memStore) Save(_ context.Context, name string, payload []byte) error {
	if m.failAll {
		return errors.New("disk full")
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	m.payloads[name] = cp
	return nil
}

func openLedger(t *testing.T, store ledger.Store) *ledger.Ledger {
	t.Helper()
	led, err := ledger.Open(context.Background(), store, nil, false)
	require.NoError(t, err)
	return led
}

// smithPortal builds the worked example: one page, one request row whose
// first individual has seven documents and whose second has none.
func smithPortal() (*fakePortal, portal.Row) {
	f := newFakePortal()
	row := portal.Row{
		Name:       "Smith, John",
		Title:      "Periodic Transaction Report",
		DateAdded:  "01/02/2026",
		CanRequest: true,
		PageNumber: 1,
	}
	f.pages[1] = []portal.Row{row}
	f.individuals[f.rowKey(row)] = []string{"Smith, John - Director", "Smith, John - Director (2)"}
	f.documents["smith, john - director"] = []string{
		"doc 1", "doc 2", "doc 3", "doc 4", "doc 5", "doc 6", "doc 7",
	}
	f.documents["smith, john - director (2)"] = nil
	return f, row
}

func runController(t *testing.T, f *fakePortal, led *ledger.Ledger, cfg Config) (Summary, error) {
	t.Helper()
	if cfg.StartPage == 0 {
		cfg.StartPage = 1
	}
	if cfg.EndPage == 0 {
		cfg.EndPage = 1
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 5
	}
	c := NewController(f, led, cfg, nil, nil)
	return c.Run(context.Background())
}

func TestControllerSmithScenario(t *testing.T) {
	f, row := smithPortal()
	store := newMemStore()
	led := openLedger(t, store)

	summary, err := runController(t, f, led, Config{})
	require.NoError(t, err)

	// Seven pending documents, batch size five: exactly two submissions.
	require.Len(t, f.submitted, 2)
	assert.Equal(t, []string{"doc 1", "doc 2", "doc 3", "doc 4", "doc 5"}, f.submitted[0])
	assert.Equal(t, []string{"doc 6", "doc 7"}, f.submitted[1])

	assert.True(t, led.IsIndividualSeen("smith, john - director"))
	assert.True(t, led.IsIndividualSeen("smith, john - director (2)"))
	assert.True(t, led.IsRowFinished(ledger.RowKey(row.Name, row.Title, row.DateAdded)))

	assert.Equal(t, 1, summary.PagesVisited)
	assert.Equal(t, 1, summary.RowsProcessed)
	assert.Equal(t, 1, summary.RowsFinished)
	assert.Equal(t, 2, summary.BatchesSubmitted)
	assert.Equal(t, 7, summary.DocumentsRequested)
	assert.Equal(t, 2, summary.IndividualsRetired)
}

func TestControllerIdempotentResume(t *testing.T) {
	f, _ := smithPortal()
	store := newMemStore()

	_, err := runController(t, f, openLedger(t, store), Config{})
	require.NoError(t, err)
	firstRunBatches := len(f.submitted)

	// Second run over identical portal data with the persisted ledgers.
	summary, err := runController(t, f, openLedger(t, store), Config{})
	require.NoError(t, err)

	assert.Equal(t, firstRunBatches, len(f.submitted), "no new submissions on resume")
	assert.Equal(t, 0, summary.BatchesSubmitted)
	assert.Equal(t, 0, summary.FilesDownloaded)
	assert.Equal(t, 1, summary.RowsSkipped, "finished row is skipped outright")
}

func TestControllerCrashAfterFirstCommitResumesWithRemainder(t *testing.T) {
	f, _ := smithPortal()
	store := newMemStore()

	// Run 1 crashes right after the first batch commits.
	f.crashAfter = 1
	_, err := runController(t, f, openLedger(t, store), Config{})
	require.Error(t, err)
	require.Len(t, f.submitted, 1)
	require.Len(t, f.submitted[0], 5)

	// Run 2 must skip straight to the remaining two documents.
	f.crashAfter = 0
	_, err = runController(t, f, openLedger(t, store), Config{})
	require.NoError(t, err)
	require.Len(t, f.submitted, 2)
	assert.Equal(t, []string{"doc 6", "doc 7"}, f.submitted[1])

	assertNoDuplicateSubmissions(t, f.submitted)
}

func TestControllerNoDoubleSubmissionAcrossRandomCrashes(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 10; trial++ {
		f, row := smithPortal()
		store := newMemStore()

		for run := 0; run < 25; run++ {
			f.crashAfter = len(f.submitted) + rng.Intn(2) + 1
			led := openLedger(t, store)
			_, err := runController(t, f, led, Config{})
			if err == nil {
				break
			}
		}
		f.crashAfter = 0
		led := openLedger(t, store)
		_, err := runController(t, f, led, Config{})
		require.NoError(t, err)

		assertNoDuplicateSubmissions(t, f.submitted)
		assert.True(t, led.IsRowFinished(ledger.RowKey(row.Name, row.Title, row.DateAdded)),
			"trial %d must converge to a finished row", trial)
	}
}

func assertNoDuplicateSubmissions(t *testing.T, batches [][]string) {
	t.Helper()
	seen := make(map[string]bool)
	for _, batch := range batches {
		for _, doc := range batch {
			require.False(t, seen[doc], "document %q submitted twice", doc)
			seen[doc] = true
		}
	}
}

func TestControllerBatchSizeBound(t *testing.T) {
	f := newFakePortal()
	row := portal.Row{Name: "Lee, Kim", Title: "Report", DateAdded: "02/02/2026", CanRequest: true}
	f.pages[1] = []portal.Row{row}
	f.individuals[f.rowKey(row)] = []string{"Lee, Kim - Member"}
	docs := make([]string, 11)
	for i := range docs {
		docs[i] = fmt.Sprintf("doc %02d", i+1)
	}
	f.documents["lee, kim - member"] = docs

	store := newMemStore()
	summary, err := runController(t, f, openLedger(t, store), Config{BatchSize: 4})
	require.NoError(t, err)

	// ceil(11/4) submissions, none larger than the bound.
	require.Len(t, f.submitted, 3)
	for _, batch := range f.submitted {
		assert.LessOrEqual(t, len(batch), 4)
	}
	assert.Equal(t, 11, summary.DocumentsRequested)
}

func TestControllerFirstSeenWinsAcrossRows(t *testing.T) {
	f := newFakePortal()
	rowA := portal.Row{Name: "Shared, Sam", Title: "Report A", DateAdded: "03/01/2026", CanRequest: true}
	rowB := portal.Row{Name: "Shared, Sam", Title: "Report B", DateAdded: "03/02/2026", CanRequest: true}
	f.pages[1] = []portal.Row{rowA, rowB}
	f.individuals[f.rowKey(rowA)] = []string{"Shared, Sam - Member"}
	f.individuals[f.rowKey(rowB)] = []string{"Shared, Sam - Member"}
	f.documents["shared, sam - member"] = []string{"doc 1"}

	store := newMemStore()
	led := openLedger(t, store)
	_, err := runController(t, f, led, Config{})
	require.NoError(t, err)

	underA, _ := led.IndividualsForRow(f.rowKey(rowA))
	underB, _ := led.IndividualsForRow(f.rowKey(rowB))
	assert.Equal(t, []string{"shared, sam - member"}, underA)
	assert.Empty(t, underB, "the individual stays under the first row that reported it")

	require.Len(t, f.submitted, 1, "the shared individual's documents are requested once")
	assert.True(t, led.IsRowFinished(f.rowKey(rowA)))
	assert.True(t, led.IsRowFinished(f.rowKey(rowB)), "row with no remaining individuals is vacuously finished")
}

func TestControllerAbandonsRowOnSubmitFailure(t *testing.T) {
	f, row := smithPortal()
	f.failSubmits = 1
	store := newMemStore()
	led := openLedger(t, store)

	summary, err := runController(t, f, led, Config{})
	require.NoError(t, err, "a failed batch abandons the row, not the run")

	assert.Empty(t, f.submitted)
	assert.False(t, led.IsIndividualSeen("smith, john - director"))
	assert.Empty(t, led.RequestedDocuments("smith, john - director"), "nothing committed for a failed batch")
	assert.False(t, led.IsRowFinished(ledger.RowKey(row.Name, row.Title, row.DateAdded)))
	assert.Equal(t, 1, summary.RowsSkipped)
}

func TestControllerEmptyDiscoveryLeavesRowOpen(t *testing.T) {
	f := newFakePortal()
	row := portal.Row{Name: "Case, Ann", Title: "Report", DateAdded: "05/01/2026", CanRequest: true}
	f.pages[1] = []portal.Row{row}
	key := f.rowKey(row)
	store := newMemStore()

	// Run 1: the popup surfaces nobody. The row must stay unregistered and
	// unfinished, since finished rows never reopen.
	led := openLedger(t, store)
	summary, err := runController(t, f, led, Config{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RowsSkipped)
	assert.Equal(t, 0, summary.RowsFinished)
	_, registered := led.IndividualsForRow(key)
	assert.False(t, registered, "an empty discovery must not be registered")
	assert.False(t, led.IsRowFinished(key))

	// Run 2: the popup works; the documents must still be requested.
	f.individuals[key] = []string{"Case, Ann - Member"}
	f.documents["case, ann - member"] = []string{"doc 1"}
	led = openLedger(t, store)
	summary, err = runController(t, f, led, Config{})
	require.NoError(t, err)
	require.Len(t, f.submitted, 1)
	assert.Equal(t, 1, summary.BatchesSubmitted)
	assert.True(t, led.IsRowFinished(key))
}

// recordingReporter captures skip reasons for assertions.
type recordingReporter struct {
	NopReporter
	skipReasons []string
}

func (r *recordingReporter) RowSkipped(_ portal.Row, reason string) {
	r.skipReasons = append(r.skipReasons, reason)
}

func TestControllerSkipReasonsDistinguishFailures(t *testing.T) {
	f, _ := smithPortal()
	f.failSubmits = 1
	rep := &recordingReporter{}
	c := NewController(f, openLedger(t, newMemStore()), Config{StartPage: 1, EndPage: 1, BatchSize: 5}, rep, nil)
	_, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"batch submission failed"}, rep.skipReasons)

	// An individual the popup no longer lists is reported as missing, not as
	// a failed submission.
	f = newFakePortal()
	row := portal.Row{Name: "Gone, Pat", Title: "Report", DateAdded: "06/01/2026", CanRequest: true}
	f.pages[1] = []portal.Row{row}
	f.individuals[f.rowKey(row)] = []string{"Gone, Pat - Member"}
	rep = &recordingReporter{}
	c = NewController(f, openLedger(t, newMemStore()), Config{StartPage: 1, EndPage: 1, BatchSize: 5}, rep, nil)
	_, err = c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"individual missing from popup"}, rep.skipReasons)
}

func TestControllerPersistenceFaultAborts(t *testing.T) {
	f, _ := smithPortal()
	store := newMemStore()
	led := openLedger(t, store)

	store.failAll = true
	_, err := runController(t, f, led, Config{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrPersist)
}

func TestControllerDownloadRows(t *testing.T) {
	f := newFakePortal()
	row := portal.Row{Name: "Doe, Jane", Title: "Annual Report", DateAdded: "01/03/2026", CanDownload: true}
	f.pages[1] = []portal.Row{row}

	dir := t.TempDir()
	store := newMemStore()

	summary, err := runController(t, f, openLedger(t, store), Config{DownloadDir: dir})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FilesDownloaded)

	// The file landed under the sanitized filer name.
	matches, err := filepath.Glob(filepath.Join(dir, "Doe, Jane", "*.pdf"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	// A second run finds the file on disk and downloads nothing.
	summary, err = runController(t, f, openLedger(t, store), Config{DownloadDir: dir})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.FilesDownloaded)
	assert.Equal(t, 1, summary.RowsProcessed)
}

func TestControllerDownloadFailureAbandonsRow(t *testing.T) {
	f := newFakePortal()
	row := portal.Row{Name: "Doe, Jane", Title: "Annual Report", DateAdded: "01/03/2026", CanDownload: true}
	f.pages[1] = []portal.Row{row}
	f.downloadFail = true

	summary, err := runController(t, f, openLedger(t, newMemStore()), Config{DownloadDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.FilesDownloaded)
	assert.Equal(t, 1, summary.RowsSkipped)
}

func TestControllerSkipsRowsWithoutCapability(t *testing.T) {
	f := newFakePortal()
	f.pages[1] = []portal.Row{{Name: "Static, Entry", Title: "Notice", DateAdded: "01/05/2026"}}

	summary, err := runController(t, f, openLedger(t, newMemStore()), Config{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RowsSkipped)
	assert.Equal(t, 0, summary.RowsProcessed)
}

func TestControllerDownloadModeSkipsRequestRows(t *testing.T) {
	f, _ := smithPortal()
	dl := portal.Row{Name: "Doe, Jane", Title: "Annual Report", DateAdded: "01/03/2026", CanDownload: true}
	f.pages[1] = append(f.pages[1], dl)

	summary, err := runController(t, f, openLedger(t, newMemStore()),
		Config{Mode: ModeDownload, DownloadDir: t.TempDir()})
	require.NoError(t, err)

	assert.Empty(t, f.submitted)
	assert.Equal(t, 1, summary.FilesDownloaded)
	assert.Equal(t, 1, summary.RowsSkipped)
}

func TestControllerWalksMultiplePages(t *testing.T) {
	f := newFakePortal()
	for page := 1; page <= 3; page++ {
		row := portal.Row{
			Name:       fmt.Sprintf("Filer %d", page),
			Title:      "Report",
			DateAdded:  "04/01/2026",
			CanRequest: true,
			PageNumber: page,
		}
		f.pages[page] = []portal.Row{row}
		f.individuals[f.rowKey(row)] = []string{fmt.Sprintf("Filer %d - Member", page)}
		f.documents[fmt.Sprintf("filer %d - member", page)] = []string{fmt.Sprintf("page %d doc", page)}
	}

	summary, err := runController(t, f, openLedger(t, newMemStore()), Config{StartPage: 1, EndPage: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.PagesVisited)
	assert.Equal(t, 3, summary.RowsProcessed)
	assert.Len(t, f.submitted, 3)
}

func TestControllerStopsWhenNoNextPage(t *testing.T) {
	f := newFakePortal()
	f.pages[1] = nil // one empty page, nothing beyond it

	summary, err := runController(t, f, openLedger(t, newMemStore()), Config{StartPage: 1, EndPage: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.PagesVisited, "listing reported no further pages")
}
