package interfaces

import "context"

// DownloadHandle represents an in-flight browser download. The collaborator
// hands one back after the export control is triggered; SaveTo persists the
// transfer under the given path once the browser reports completion.
type DownloadHandle interface {
	// SuggestedName is the filename proposed by the portal.
	SuggestedName() string

	// SaveTo persists the finished transfer at path. It blocks until the
	// browser reports the download complete or ctx expires.
	SaveTo(ctx context.Context, path string) error
}

// Automator is the narrow contract against the browser automation session.
// The pipeline never inspects DOM structure directly; it only invokes these
// named capabilities with configured selectors. One navigable session exists
// per run, so calls must stay strictly sequential.
type Automator interface {
	// Navigate loads a URL in the session's page.
	Navigate(ctx context.Context, url string) error

	// WaitStable blocks until the current page has settled enough for the
	// next capability call (script rendering, late XHRs).
	WaitStable(ctx context.Context) error

	// ReadTable returns the outer HTML of the current results table.
	ReadTable(ctx context.Context) (string, error)

	// Click activates the element matching the selector.
	Click(ctx context.Context, selector string) error

	// Fill types a value into the field matching the selector.
	Fill(ctx context.Context, selector, value string) error

	// SetFiles attaches local files to the file input matching the selector.
	SetFiles(ctx context.Context, selector string, paths ...string) error

	// Exists reports whether an element matching the selector is present.
	Exists(ctx context.Context, selector string) (bool, error)

	// TriggerDownload clicks the export control matching the selector and
	// returns a handle for the download it starts.
	TriggerDownload(ctx context.Context, selector string) (DownloadHandle, error)
}

// SessionPreparer opens the authenticated sessions a run depends on.
// Failure to prepare a session is fatal to the whole run: nothing has been
// processed yet and no watermark change may be committed.
type SessionPreparer interface {
	// PrepareSource logs in to the listing portal and opens the results
	// table at the configured page size.
	PrepareSource(ctx context.Context) error

	// PrepareTarget logs in to the remote document library. Called lazily
	// before the first relay of a run.
	PrepareTarget(ctx context.Context) error
}
