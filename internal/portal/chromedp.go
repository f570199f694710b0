package portal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/disclosure-crawler/internal/ledger"
)

// Requester is the identity stamped into the portal's request form.
type Requester struct {
	Name       string
	Email      string
	Occupation string
}

// ChromeSessionConfig parameterizes the chromedp-backed Session.
type ChromeSessionConfig struct {
	BaseURL    string
	Headless   bool
	NavTimeout time.Duration
	// OpDelay paces consecutive portal operations so the listing has time to
	// settle between interactions.
	OpDelay   time.Duration
	Requester Requester
}

func (c ChromeSessionConfig) withDefaults() ChromeSessionConfig {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.OpDelay <= 0 {
		c.OpDelay = 500 * time.Millisecond
	}
	return c
}

// ChromeSession drives the portal with a headless Chrome instance. One
// logical session: a single browser context, a single listing tab, plus the
// form/popup targets the request flow opens and closes. Not safe for
// concurrent use; the engine is strictly sequential.
type ChromeSession struct {
	cfg    ChromeSessionConfig
	logger *zap.Logger

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	limiter *rate.Limiter

	currentPage int
	// requestURLs remembers, per row key, the href behind the row's request
	// link as parsed from the current listing page.
	requestURLs map[string]string
	// downloadURLs likewise remembers direct file hrefs.
	downloadURLs map[string]string

	// formCtx and popupCtx track the open request-form tab and its
	// individual-selection popup; nil when no request flow is in progress.
	formCtx     context.Context
	formCancel  context.CancelFunc
	popupCtx    context.Context
	popupCancel context.CancelFunc

	// lastDialog is written by the CDP event listener goroutine and read by
	// the submission flow, so access goes through dialogMu.
	dialogMu   sync.Mutex
	lastDialog string
}

func (s *ChromeSession) setLastDialog(msg string) {
	s.dialogMu.Lock()
	s.lastDialog = msg
	s.dialogMu.Unlock()
}

func (s *ChromeSession) lastDialogText() string {
	s.dialogMu.Lock()
	defer s.dialogMu.Unlock()
	return s.lastDialog
}

// NewChromeSession starts the browser and establishes the session: navigate,
// affirm banner, transaction filter, name sort.
func NewChromeSession(ctx context.Context, cfg ChromeSessionConfig, logger *zap.Logger) (*ChromeSession, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("portal base URL is required")
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1920, 1080),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	s := &ChromeSession{
		cfg:           cfg,
		logger:        logger,
		allocCtx:      allocCtx,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		limiter:       rate.NewLimiter(rate.Every(cfg.OpDelay), 1),
		currentPage:   1,
		requestURLs:   make(map[string]string),
		downloadURLs:  make(map[string]string),
	}
	s.autoAcceptDialogs(browserCtx)

	if err := s.establish(browserCtx); err != nil {
		s.teardown()
		return nil, err
	}
	return s, nil
}

// autoAcceptDialogs accepts every JavaScript dialog the portal raises and
// remembers its text; the submission flow inspects it for the confirmation
// acknowledgement.
func (s *ChromeSession) autoAcceptDialogs(tabCtx context.Context) {
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if dialog, ok := ev.(*page.EventJavascriptDialogOpening); ok {
			s.setLastDialog(dialog.Message)
			go func() {
				if err := chromedp.Run(tabCtx, page.HandleJavaScriptDialog(true)); err != nil {
					s.logger.Debug("dialog accept failed", zap.Error(err))
				}
			}()
		}
	})
}

func (s *ChromeSession) teardown() {
	if s.popupCancel != nil {
		s.popupCancel()
	}
	if s.formCancel != nil {
		s.formCancel()
	}
	s.browserCancel()
	s.allocCancel()
}

// establish navigates to the listing and applies the filter and sort the
// crawl depends on.
func (s *ChromeSession) establish(tabCtx context.Context) error {
	runCtx, cancel := context.WithTimeout(tabCtx, s.cfg.NavTimeout)
	defer cancel()
	if err := chromedp.Run(runCtx,
		chromedp.Navigate(s.cfg.BaseURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return SessionLost("navigate", err)
	}
	if err := s.clickIfPresent(tabCtx, `//div[contains(., 'I affirm')]`); err != nil {
		s.logger.Debug("affirm banner click failed", zap.Error(err))
	}
	if err := s.waitTableLoad(tabCtx); err != nil {
		return err
	}
	if err := s.applyFilterAndSort(tabCtx); err != nil {
		return err
	}
	return nil
}

func (s *ChromeSession) applyFilterAndSort(tabCtx context.Context) error {
	runCtx, cancel := context.WithTimeout(tabCtx, s.cfg.NavTimeout)
	defer cancel()
	if err := chromedp.Run(runCtx,
		chromedp.SetValue(`//input[@placeholder='Filter Type']`, "Transaction", chromedp.BySearch),
	); err != nil {
		return Transient("apply_filter", err)
	}
	if err := s.waitTableLoad(tabCtx); err != nil {
		return err
	}

	// Sort by name ascending; a second click flips a descending sort.
	nameHeader := `//th[contains(., 'Name')]`
	if err := chromedp.Run(runCtx, chromedp.Click(nameHeader, chromedp.BySearch)); err != nil {
		return Transient("sort_by_name", err)
	}
	if err := s.waitTableLoad(tabCtx); err != nil {
		return err
	}
	var ariaSort string
	var ok bool
	if err := chromedp.Run(runCtx,
		chromedp.AttributeValue(nameHeader, "aria-sort", &ariaSort, &ok, chromedp.BySearch),
	); err == nil && ok && ariaSort == "descending" {
		if err := chromedp.Run(runCtx, chromedp.Click(nameHeader, chromedp.BySearch)); err != nil {
			return Transient("sort_by_name", err)
		}
		if err := s.waitTableLoad(tabCtx); err != nil {
			return err
		}
	}
	return nil
}

// waitTableLoad polls until the listing stops showing its Loading cell.
func (s *ChromeSession) waitTableLoad(tabCtx context.Context) error {
	deadline := time.Now().Add(s.cfg.NavTimeout)
	for {
		var loading bool
		runCtx, cancel := context.WithTimeout(tabCtx, 5*time.Second)
		err := chromedp.Run(runCtx, chromedp.Evaluate(
			`Array.from(document.querySelectorAll('td')).some(td => td.textContent.includes('Loading'))`,
			&loading,
		))
		cancel()
		if err != nil {
			return s.classify("wait_table", err)
		}
		if !loading {
			return nil
		}
		if time.Now().After(deadline) {
			return Transient("wait_table", fmt.Errorf("listing did not finish loading within %s", s.cfg.NavTimeout))
		}
		time.Sleep(500 * time.Millisecond)
	}
}

// classify maps a raw chromedp error to the fault taxonomy: a dead browser
// context means the whole session is lost, anything else is transient.
func (s *ChromeSession) classify(op string, err error) error {
	if s.browserCtx.Err() != nil {
		return SessionLost(op, err)
	}
	return Transient(op, err)
}

func (s *ChromeSession) pace(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pace portal op: %w", err)
	}
	return nil
}

func (s *ChromeSession) clickIfPresent(tabCtx context.Context, xpath string) error {
	runCtx, cancel := context.WithTimeout(tabCtx, 5*time.Second)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.Click(xpath, chromedp.BySearch))
}

// ListRows snapshots the listing table and parses its rows.
func (s *ChromeSession) ListRows(ctx context.Context) ([]Row, error) {
	if err := s.pace(ctx); err != nil {
		return nil, err
	}
	if err := s.waitTableLoad(s.browserCtx); err != nil {
		return nil, err
	}
	var html string
	runCtx, cancel := context.WithTimeout(s.browserCtx, s.cfg.NavTimeout)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("table", &html, chromedp.ByQuery)); err != nil {
		return nil, s.classify("list_rows", err)
	}
	return s.parseRows(html)
}

func (s *ChromeSession) parseRows(html string) ([]Row, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, Transient("list_rows", fmt.Errorf("parse listing: %w", err))
	}
	var rows []Row
	doc.Find("tbody tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() < 5 {
			return
		}
		row := Row{
			DateAdded:  strings.TrimSpace(cells.Eq(0).Text()),
			Title:      strings.TrimSpace(cells.Eq(1).Text()),
			Name:       strings.TrimSpace(cells.Eq(3).Text()),
			Agency:     strings.TrimSpace(cells.Eq(4).Text()),
			PageNumber: s.currentPage,
		}
		key := ledger.RowKey(row.Name, row.Title, row.DateAdded)
		typeCell := cells.Eq(2)
		typeCell.Find("a").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			text := strings.ToLower(strings.TrimSpace(a.Text()))
			switch {
			case strings.Contains(text, "request"):
				row.CanRequest = true
				s.requestURLs[key] = href
			case strings.Contains(strings.ToLower(href), ".pdf"):
				row.CanDownload = true
				s.downloadURLs[key] = href
			}
		})
		if strings.Contains(typeCell.Text(), "Transaction") {
			rows = append(rows, row)
		}
	})
	return rows, nil
}

// OpenIndividuals opens the row's request form in a new tab, clicks through
// to the individual-selection popup, and returns the full display strings of
// its entries. The popup stays open for SelectIndividual/ListDocuments.
func (s *ChromeSession) OpenIndividuals(ctx context.Context, row Row) ([]string, error) {
	if err := s.pace(ctx); err != nil {
		return nil, err
	}
	key := ledger.RowKey(row.Name, row.Title, row.DateAdded)
	requestURL, ok := s.requestURLs[key]
	if !ok || requestURL == "" {
		// Row parsed on an earlier snapshot; refresh the listing.
		if _, err := s.ListRows(ctx); err != nil {
			return nil, err
		}
		requestURL, ok = s.requestURLs[key]
		if !ok || requestURL == "" {
			return nil, nil
		}
	}
	s.closeRequestFlow()

	formCtx, formCancel := chromedp.NewContext(s.browserCtx)
	runCtx, cancel := context.WithTimeout(formCtx, s.cfg.NavTimeout)
	defer cancel()
	findButton := `//input[@value='Find Individual by Name']`
	if err := chromedp.Run(runCtx,
		chromedp.Navigate(requestURL),
		chromedp.WaitVisible(findButton, chromedp.BySearch),
	); err != nil {
		formCancel()
		return nil, s.classify("open_form", err)
	}
	s.formCtx, s.formCancel = formCtx, formCancel

	popupCh := chromedp.WaitNewTarget(formCtx, func(info *target.Info) bool {
		return info.Type == "page" && info.OpenerID != ""
	})
	if err := chromedp.Run(runCtx, chromedp.Click(findButton, chromedp.BySearch)); err != nil {
		return nil, s.classify("open_popup", err)
	}
	var popupID target.ID
	select {
	case popupID = <-popupCh:
	case <-time.After(s.cfg.NavTimeout):
		// A slow or wedged popup is indistinguishable from a missing one
		// here, so let the retry wrapper take another look.
		return nil, Transient("open_popup", fmt.Errorf("popup did not open within %s", s.cfg.NavTimeout))
	case <-ctx.Done():
		return nil, fmt.Errorf("open popup: %w", ctx.Err())
	}

	popupCtx, popupCancel := chromedp.NewContext(formCtx, chromedp.WithTargetID(popupID))
	s.popupCtx, s.popupCancel = popupCtx, popupCancel
	s.autoAcceptDialogs(popupCtx)

	return s.listPopupIndividuals(popupCtx)
}

func (s *ChromeSession) listPopupIndividuals(popupCtx context.Context) ([]string, error) {
	runCtx, cancel := context.WithTimeout(popupCtx, s.cfg.NavTimeout)
	defer cancel()
	var html string
	if err := chromedp.Run(runCtx,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return nil, s.classify("list_individuals", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, Transient("list_individuals", fmt.Errorf("parse popup: %w", err))
	}
	var individuals []string
	doc.Find(`input[type="radio"]`).Each(func(_ int, radio *goquery.Selection) {
		label := strings.TrimSpace(radio.Parent().Text())
		if label != "" {
			individuals = append(individuals, label)
		}
	})
	return individuals, nil
}

// SelectIndividual clicks the popup radio whose label matches individual.
func (s *ChromeSession) SelectIndividual(ctx context.Context, individual string) error {
	if s.popupCtx == nil {
		return Transient("select_individual", fmt.Errorf("no popup is open"))
	}
	if err := s.pace(ctx); err != nil {
		return err
	}
	wanted := ledger.NormalizeKey(individual)
	js := fmt.Sprintf(`(() => {
		const norm = s => s.trim().replace(/\s+/g, ' ').toLowerCase();
		for (const radio of document.querySelectorAll('input[type="radio"]')) {
			if (norm(radio.parentElement.textContent) === %q) {
				radio.click();
				return true;
			}
		}
		return false;
	})()`, wanted)
	var clicked bool
	runCtx, cancel := context.WithTimeout(s.popupCtx, s.cfg.NavTimeout)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Evaluate(js, &clicked)); err != nil {
		return s.classify("select_individual", err)
	}
	if !clicked {
		return fmt.Errorf("individual %q: %w", individual, ErrAbsent)
	}
	// Give the popup time to load the individual's document table.
	time.Sleep(s.cfg.OpDelay)
	return nil
}

// ListDocuments parses the document checkboxes of the selected individual.
func (s *ChromeSession) ListDocuments(ctx context.Context) ([]string, error) {
	if s.popupCtx == nil {
		return nil, Transient("list_documents", fmt.Errorf("no popup is open"))
	}
	if err := s.pace(ctx); err != nil {
		return nil, err
	}
	var html string
	runCtx, cancel := context.WithTimeout(s.popupCtx, s.cfg.NavTimeout)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, s.classify("list_documents", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, Transient("list_documents", fmt.Errorf("parse documents: %w", err))
	}
	var docs []string
	doc.Find(`table input[type="checkbox"]`).Each(func(_ int, cb *goquery.Selection) {
		cell := cb.Closest("td")
		label := strings.TrimSpace(cell.Text())
		if label != "" {
			docs = append(docs, label)
		}
	})
	return docs, nil
}

// SubmitBatch ticks the named document checkboxes, adds them to the cart,
// fills the request form, and submits. nil is returned only when the portal
// acknowledges the submission.
func (s *ChromeSession) SubmitBatch(ctx context.Context, docs []string) error {
	if s.popupCtx == nil || s.formCtx == nil {
		return Transient("submit_batch", fmt.Errorf("no request flow is open"))
	}
	if len(docs) == 0 {
		return nil
	}
	if err := s.pace(ctx); err != nil {
		return err
	}
	if err := s.tickDocuments(docs); err != nil {
		return err
	}
	if err := s.fillAndSubmitForm(); err != nil {
		return err
	}
	if dialog := s.lastDialogText(); !strings.Contains(strings.ToLower(dialog), "submitted") {
		return Transient("submit_batch", fmt.Errorf("no submission acknowledgement (last dialog %q)", dialog))
	}
	s.closeRequestFlow()
	return nil
}

func (s *ChromeSession) tickDocuments(docs []string) error {
	wanted := make([]string, 0, len(docs))
	for _, d := range docs {
		wanted = append(wanted, ledger.NormalizeKey(d))
	}
	js := fmt.Sprintf(`(() => {
		const wanted = new Set(%s);
		const norm = s => s.trim().replace(/\s+/g, ' ').toLowerCase();
		let ticked = 0;
		for (const cb of document.querySelectorAll('table input[type="checkbox"]')) {
			const cell = cb.closest('td');
			if (cell && wanted.has(norm(cell.textContent)) && !cb.checked) {
				cb.click();
				ticked++;
			}
		}
		return ticked;
	})()`, jsStringArray(wanted))
	var ticked int
	runCtx, cancel := context.WithTimeout(s.popupCtx, s.cfg.NavTimeout)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Evaluate(js, &ticked)); err != nil {
		return s.classify("tick_documents", err)
	}
	if ticked == 0 {
		return fmt.Errorf("documents no longer listed: %w", ErrAbsent)
	}
	addToCart := `//button[contains(text(), 'Add to Cart')] | //input[@value='Add to Cart']`
	if err := chromedp.Run(runCtx, chromedp.Click(addToCart, chromedp.BySearch)); err != nil {
		return s.classify("add_to_cart", err)
	}
	return nil
}

func (s *ChromeSession) fillAndSubmitForm() error {
	s.setLastDialog("")
	req := s.cfg.Requester
	runCtx, cancel := context.WithTimeout(s.formCtx, s.cfg.NavTimeout)
	defer cancel()
	if err := chromedp.Run(runCtx,
		chromedp.SetValue("#Name", req.Name, chromedp.ByID),
		chromedp.SetValue("#Email", req.Email, chromedp.ByID),
		chromedp.SetValue("#Occupation", req.Occupation, chromedp.ByID),
		chromedp.Evaluate(`(() => {
			for (const cb of document.querySelectorAll('input[type="checkbox"]')) {
				const text = (cb.parentElement.textContent || '').toLowerCase();
				if (text.includes('private citizen') && !cb.checked) cb.click();
			}
			const agree = document.getElementById('CheckBoxAgree');
			if (agree && !agree.checked) agree.click();
			return true;
		})()`, nil),
		chromedp.Click(`//input[@value='Submit Request']`, chromedp.BySearch),
	); err != nil {
		return s.classify("submit_form", err)
	}
	// The acknowledgement dialog is accepted by the dialog listener; give it
	// a moment to arrive.
	time.Sleep(2 * s.cfg.OpDelay)
	return nil
}

// closeRequestFlow tears down the popup and form targets, returning to the
// listing tab only.
func (s *ChromeSession) closeRequestFlow() {
	if s.popupCancel != nil {
		s.popupCancel()
		s.popupCtx, s.popupCancel = nil, nil
	}
	if s.formCancel != nil {
		s.formCancel()
		s.formCtx, s.formCancel = nil, nil
	}
}

// DownloadFile downloads the row's direct file link into dest. The download
// lands in dest's directory under the browser-chosen name and is renamed.
func (s *ChromeSession) DownloadFile(ctx context.Context, row Row, dest string) error {
	if err := s.pace(ctx); err != nil {
		return err
	}
	key := ledger.RowKey(row.Name, row.Title, row.DateAdded)
	href, ok := s.downloadURLs[key]
	if !ok || href == "" {
		return fmt.Errorf("no direct link for row %q: %w", row.Name, ErrAbsent)
	}
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Fatal("download_file", fmt.Errorf("create download dir: %w", err))
	}
	runCtx, cancel := context.WithTimeout(s.browserCtx, s.cfg.NavTimeout)
	defer cancel()
	if err := chromedp.Run(runCtx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).WithDownloadPath(dir),
	); err != nil {
		return s.classify("download_file", err)
	}
	started := time.Now()
	if err := chromedp.Run(runCtx, chromedp.Evaluate(
		fmt.Sprintf(`(() => { const a = document.createElement('a'); a.href = %q; a.click(); return true; })()`, href),
		nil,
	)); err != nil {
		return s.classify("download_file", err)
	}
	name, err := waitForDownload(ctx, dir, started, s.cfg.NavTimeout)
	if err != nil {
		return Transient("download_file", err)
	}
	if err := os.Rename(filepath.Join(dir, name), dest); err != nil {
		return Fatal("download_file", fmt.Errorf("move download into place: %w", err))
	}
	return nil
}

// waitForDownload polls dir for a file newer than started that is not a
// Chrome partial download.
func waitForDownload(ctx context.Context, dir string, started time.Time, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return "", fmt.Errorf("scan download dir: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || strings.HasSuffix(entry.Name(), ".crdownload") {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(started) {
				return entry.Name(), nil
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	return "", fmt.Errorf("download did not complete within %s", timeout)
}

// GoToPage walks the pager to page n: direct page link when visible,
// otherwise repeated Next clicks.
func (s *ChromeSession) GoToPage(ctx context.Context, n int) error {
	if err := s.pace(ctx); err != nil {
		return err
	}
	if s.currentPage == n {
		return nil
	}
	s.closeRequestFlow()
	if err := s.clickPageLink(n); err == nil {
		s.currentPage = n
		return s.waitTableLoad(s.browserCtx)
	}
	for s.currentPage != n {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("go to page: %w", err)
		}
		if err := s.clickPageLink(n); err == nil {
			s.currentPage = n
			break
		}
		next, err := s.HasNextPage(ctx)
		if err != nil {
			return err
		}
		if !next || s.currentPage > n {
			return Transient("go_to_page", fmt.Errorf("page %d is not reachable from page %d", n, s.currentPage))
		}
		runCtx, cancel := context.WithTimeout(s.browserCtx, s.cfg.NavTimeout)
		err = chromedp.Run(runCtx, chromedp.Click(`//a[contains(text(), 'Next')]`, chromedp.BySearch))
		cancel()
		if err != nil {
			return s.classify("go_to_page", err)
		}
		s.currentPage++
		if err := s.waitTableLoad(s.browserCtx); err != nil {
			return err
		}
	}
	return s.waitTableLoad(s.browserCtx)
}

func (s *ChromeSession) clickPageLink(n int) error {
	runCtx, cancel := context.WithTimeout(s.browserCtx, 5*time.Second)
	defer cancel()
	return chromedp.Run(runCtx,
		chromedp.Click(fmt.Sprintf(`//a[normalize-space()='%d']`, n), chromedp.BySearch),
	)
}

// HasNextPage reports whether the pager shows a Next link.
func (s *ChromeSession) HasNextPage(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("has next page: %w", err)
	}
	var next bool
	runCtx, cancel := context.WithTimeout(s.browserCtx, 10*time.Second)
	defer cancel()
	err := chromedp.Run(runCtx, chromedp.Evaluate(
		`Array.from(document.querySelectorAll('a')).some(a => a.textContent.includes('Next'))`,
		&next,
	))
	if err != nil {
		return false, s.classify("has_next_page", err)
	}
	return next, nil
}

// DismissInterruption accepts any pending dialog. The listener already
// accepts dialogs as they open; this is the explicit pre-retry sweep.
func (s *ChromeSession) DismissInterruption(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("dismiss: %w", err)
	}
	runCtx, cancel := context.WithTimeout(s.browserCtx, 3*time.Second)
	defer cancel()
	// Fails harmlessly when no dialog is open.
	_ = chromedp.Run(runCtx, page.HandleJavaScriptDialog(true))
	return nil
}

// Reestablish rebuilds the session in place: close stray targets, re-open
// the listing, re-apply filter and sort, and return to the last known page.
func (s *ChromeSession) Reestablish(ctx context.Context) error {
	s.closeRequestFlow()
	if s.browserCtx.Err() != nil {
		// The browser itself died; start a fresh one off the allocator.
		browserCtx, browserCancel := chromedp.NewContext(s.allocCtx)
		if err := chromedp.Run(browserCtx); err != nil {
			browserCancel()
			return fmt.Errorf("restart browser: %w", err)
		}
		s.browserCancel()
		s.browserCtx, s.browserCancel = browserCtx, browserCancel
		s.autoAcceptDialogs(browserCtx)
	}
	if err := s.establish(s.browserCtx); err != nil {
		return err
	}
	lastPage := s.currentPage
	s.currentPage = 1
	if lastPage > 1 {
		return s.GoToPage(ctx, lastPage)
	}
	return nil
}

// Close tears down the browser.
func (s *ChromeSession) Close(_ context.Context) error {
	s.teardown()
	return nil
}

func jsStringArray(items []string) string {
	quoted := make([]string, 0, len(items))
	for _, item := range items {
		quoted = append(quoted, fmt.Sprintf("%q", item))
	}
	return "[" + strings.Join(quoted, ",") + "]"
}
