// Package automation implements the browser automation collaborator on top
// of chromedp. The pipeline only sees the interfaces.Automator capabilities;
// everything Chrome-specific stays here.
package automation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
)

// Config holds browser session configuration.
type Config struct {
	Headless      bool          `json:"headless"`
	UserAgent     string        `json:"user_agent"`
	NoSandbox     bool          `json:"no_sandbox"`
	DisableGPU    bool          `json:"disable_gpu"`
	StabilizeWait time.Duration `json:"stabilize_wait"` // Wait after navigation for scripts to render
	DownloadDir   string        `json:"download_dir"`   // Where the browser lands transfers
}

// DefaultConfig returns sensible browser defaults.
func DefaultConfig() Config {
	return Config{
		Headless:      true,
		DisableGPU:    true,
		StabilizeWait: 2 * time.Second,
	}
}

// Chrome drives a single navigable browser session. It implements both
// interfaces.Automator and interfaces.SessionPreparer. Calls must stay
// sequential; there is one page and no cross-call isolation.
type Chrome struct {
	config Config
	source SourceFlow
	target TargetFlow
	logger arbor.ILogger

	browserCtx      context.Context
	browserCancel   context.CancelFunc
	allocatorCancel context.CancelFunc

	mu        sync.Mutex
	transfers map[string]*transfer
	pending   chan *transfer

	started bool
}

// NewChrome creates a Chrome automator. Start must be called before any
// capability is used.
func NewChrome(config Config, source SourceFlow, target TargetFlow, logger arbor.ILogger) *Chrome {
	return &Chrome{
		config:    config,
		source:    source,
		target:    target,
		logger:    logger,
		transfers: make(map[string]*transfer),
	}
}

// Start launches the browser, verifies it responds, and enables download
// eventing into the configured download directory.
func (c *Chrome) Start(ctx context.Context) error {
	if c.started {
		return fmt.Errorf("browser session already started")
	}

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", c.config.Headless),
		chromedp.Flag("disable-gpu", c.config.DisableGPU),
		chromedp.Flag("no-sandbox", c.config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if c.config.UserAgent != "" {
		allocatorOpts = append(allocatorOpts, chromedp.UserAgent(c.config.UserAgent))
	}

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(ctx, allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	c.browserCtx = browserCtx
	c.browserCancel = browserCancel
	c.allocatorCancel = allocatorCancel

	// Startup test, same idea as a pool instance health check.
	testCtx, testCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer testCancel()
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		c.Stop()
		return fmt.Errorf("browser failed startup test: %w", err)
	}

	if c.config.DownloadDir != "" {
		if err := os.MkdirAll(c.config.DownloadDir, 0755); err != nil {
			c.Stop()
			return fmt.Errorf("failed to create download directory: %w", err)
		}
		if err := chromedp.Run(browserCtx,
			browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
				WithDownloadPath(c.config.DownloadDir).
				WithEventsEnabled(true),
		); err != nil {
			c.Stop()
			return fmt.Errorf("failed to enable download events: %w", err)
		}
	}

	chromedp.ListenTarget(browserCtx, c.handleDownloadEvent)

	c.started = true
	c.logger.Info().
		Bool("headless", c.config.Headless).
		Str("download_dir", c.config.DownloadDir).
		Msg("Browser session started")

	return nil
}

// Stop tears down the browser session.
func (c *Chrome) Stop() {
	if c.browserCancel != nil {
		c.browserCancel()
	}
	if c.allocatorCancel != nil {
		c.allocatorCancel()
	}
	c.started = false
}

// run executes chromedp actions against the session, honoring the caller's
// context for cancellation.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(c.browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads a URL in the session's page.
func (c *Chrome) Navigate(ctx context.Context, url string) error {
	c.logger.Debug().Str("url", url).Msg("Navigating")
	return c.run(ctx, chromedp.Navigate(url))
}

// WaitStable waits for the page's scripts to settle. CDP exposes no reliable
// network-idle signal for this portal's SPA, so a fixed render wait is used.
func (c *Chrome) WaitStable(ctx context.Context) error {
	return c.run(ctx, chromedp.Sleep(c.config.StabilizeWait))
}

// ReadTable returns the outer HTML of the page's results table.
func (c *Chrome) ReadTable(ctx context.Context) (string, error) {
	var html string
	err := c.run(ctx,
		chromedp.WaitReady("table", chromedp.ByQuery),
		chromedp.OuterHTML("table", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("failed to read table: %w", err)
	}
	return html, nil
}

// Click activates the element matching the selector.
func (c *Chrome) Click(ctx context.Context, selector string) error {
	return c.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

// Fill types a value into the field matching the selector.
func (c *Chrome) Fill(ctx context.Context, selector, value string) error {
	return c.run(ctx, chromedp.SendKeys(selector, value, chromedp.ByQuery))
}

// SetFiles attaches local files to the file input matching the selector.
func (c *Chrome) SetFiles(ctx context.Context, selector string, paths ...string) error {
	return c.run(ctx, chromedp.SetUploadFiles(selector, paths, chromedp.ByQuery))
}

// Exists reports whether an element matching the selector is present.
func (c *Chrome) Exists(ctx context.Context, selector string) (bool, error) {
	var found bool
	js := fmt.Sprintf("document.querySelector(%s) !== null", strconv.Quote(selector))
	if err := c.run(ctx, chromedp.Evaluate(js, &found)); err != nil {
		return false, fmt.Errorf("existence probe failed: %w", err)
	}
	return found, nil
}

// TriggerDownload clicks the export control and returns a handle for the
// transfer the browser starts.
func (c *Chrome) TriggerDownload(ctx context.Context, selector string) (interfaces.DownloadHandle, error) {
	pending := make(chan *transfer, 1)
	c.mu.Lock()
	c.pending = pending
	c.mu.Unlock()

	if err := c.run(ctx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		c.clearPending(pending)
		return nil, fmt.Errorf("failed to click export control: %w", err)
	}

	select {
	case t := <-pending:
		c.logger.Debug().
			Str("guid", t.guid).
			Str("suggested_name", t.suggested).
			Msg("Download started")
		return t, nil
	case <-ctx.Done():
		c.clearPending(pending)
		return nil, fmt.Errorf("no download started: %w", ctx.Err())
	}
}

func (c *Chrome) clearPending(pending chan *transfer) {
	c.mu.Lock()
	if c.pending == pending {
		c.pending = nil
	}
	c.mu.Unlock()
}

func (c *Chrome) handleDownloadEvent(ev interface{}) {
	switch e := ev.(type) {
	case *browser.EventDownloadWillBegin:
		t := &transfer{
			chrome:    c,
			guid:      e.GUID,
			suggested: e.SuggestedFilename,
			done:      make(chan struct{}),
		}
		c.mu.Lock()
		c.transfers[e.GUID] = t
		if c.pending != nil {
			c.pending <- t
			c.pending = nil
		}
		c.mu.Unlock()

	case *browser.EventDownloadProgress:
		c.mu.Lock()
		t := c.transfers[e.GUID]
		c.mu.Unlock()
		if t == nil {
			return
		}
		switch e.State {
		case browser.DownloadProgressStateCompleted:
			t.finish(false)
		case browser.DownloadProgressStateCanceled:
			t.finish(true)
		}
	}
}

// transfer is an in-flight browser download. With allowAndName behavior the
// browser lands the file under its GUID in the download directory; SaveTo
// renames it to the final path once the browser reports completion.
type transfer struct {
	chrome    *Chrome
	guid      string
	suggested string

	once     sync.Once
	done     chan struct{}
	canceled bool
}

func (t *transfer) finish(canceled bool) {
	t.once.Do(func() {
		t.canceled = canceled
		close(t.done)
	})
}

// SuggestedName is the filename proposed by the portal.
func (t *transfer) SuggestedName() string {
	return t.suggested
}

// SaveTo persists the finished transfer at path.
func (t *transfer) SaveTo(ctx context.Context, path string) error {
	select {
	case <-t.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if t.canceled {
		return fmt.Errorf("browser canceled download %s", t.guid)
	}

	landed := filepath.Join(t.chrome.config.DownloadDir, t.guid)
	if err := os.Rename(landed, path); err != nil {
		return fmt.Errorf("failed to place download at %s: %w", path, err)
	}
	return nil
}
