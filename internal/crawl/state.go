package crawl

// State names the controller's position in the page/row/individual walk.
type State int

const (
	StateIdle State = iota
	StatePageLoaded
	StateRowSelected
	StateIndividualsDiscovered
	StateIndividualSelected
	StateBatchPending
	StateBatchCommitted
	StateRowFinished
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePageLoaded:
		return "page_loaded"
	case StateRowSelected:
		return "row_selected"
	case StateIndividualsDiscovered:
		return "individuals_discovered"
	case StateIndividualSelected:
		return "individual_selected"
	case StateBatchPending:
		return "batch_pending"
	case StateBatchCommitted:
		return "batch_committed"
	case StateRowFinished:
		return "row_finished"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// CrawlState is the controller's explicit cursor. On abort it tells the
// operator the last stable position reached.
type CrawlState struct {
	State      State
	Page       int
	RowKey     string
	Individual string
}

// Summary is the running tally the controller maintains and reports.
type Summary struct {
	PagesVisited       int
	RowsProcessed      int
	RowsSkipped        int
	RowsFinished       int
	IndividualsRetired int
	BatchesSubmitted   int
	DocumentsRequested int
	FilesDownloaded    int
}
