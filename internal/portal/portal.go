// Package portal defines the capability surface of the external document
// portal consumed by the crawl engine, the fault taxonomy for its failures,
// and the retry decorator applied to every call. Concrete bindings live in
// this package too; the engine only sees the Session interface.
package portal

import "context"

// Row is one entry in the portal's paginated result listing. Its identity is
// derived from the displayed name/title/date, never from the page number.
type Row struct {
	Name       string
	Title      string
	DateAdded  string
	Agency     string
	PageNumber int
	// CanRequest is set when the row carries a "request this document" link.
	CanRequest bool
	// CanDownload is set when the row links a file directly.
	CanDownload bool
}

// Session is the capability to drive the portal: enumerate rows, open a
// row's individual list, select one, enumerate its documents, submit a batch
// of document selections, or download a file directly. Every call may fail
// transiently; expected absence (a row with no individuals, a page past the
// end) is an empty or zero result, not an error.
type Session interface {
	// ListRows enumerates the rows of the current page in display order.
	ListRows(ctx context.Context) ([]Row, error)
	// OpenIndividuals opens the row's individual-selection popup and returns
	// the full display strings of every individual in it. An empty slice is
	// a structural absence.
	OpenIndividuals(ctx context.Context, row Row) ([]string, error)
	// SelectIndividual selects the named individual in the open popup so its
	// documents become listable. Returns ErrAbsent when no entry matches.
	SelectIndividual(ctx context.Context, individual string) error
	// ListDocuments enumerates the documents of the selected individual in
	// the portal's display order.
	ListDocuments(ctx context.Context) ([]string, error)
	// SubmitBatch submits the document selections and returns nil only on a
	// confirmed acknowledgement from the portal.
	SubmitBatch(ctx context.Context, docs []string) error
	// DownloadFile downloads the row's directly linked file to dest.
	DownloadFile(ctx context.Context, row Row, dest string) error
	// GoToPage navigates the listing to page n.
	GoToPage(ctx context.Context, n int) error
	// HasNextPage reports whether the listing has a page after the current one.
	HasNextPage(ctx context.Context) (bool, error)
	// DismissInterruption clears any pending modal/alert the portal raised.
	DismissInterruption(ctx context.Context) error
	// Reestablish rebuilds the whole session after it was lost: re-navigate,
	// re-apply filter and sort, and return to the last known page.
	Reestablish(ctx context.Context) error
	// Close releases the session.
	Close(ctx context.Context) error
}
