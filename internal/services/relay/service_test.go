package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// libraryAutomator scripts the document library's upload flow.
type libraryAutomator struct {
	clickErr      error
	setFilesErr   error
	existsErr     error
	confirmAfter  int // Exists probes before the confirmation appears; -1 = never
	existsProbes  int
	attachedPaths []string
	navigated     []string
}

func (a *libraryAutomator) Navigate(ctx context.Context, url string) error {
	a.navigated = append(a.navigated, url)
	return nil
}
func (a *libraryAutomator) WaitStable(ctx context.Context) error          { return nil }
func (a *libraryAutomator) ReadTable(ctx context.Context) (string, error) { return "", nil }
func (a *libraryAutomator) Click(ctx context.Context, selector string) error {
	return a.clickErr
}
func (a *libraryAutomator) Fill(ctx context.Context, selector, value string) error { return nil }
func (a *libraryAutomator) SetFiles(ctx context.Context, selector string, paths ...string) error {
	if a.setFilesErr != nil {
		return a.setFilesErr
	}
	a.attachedPaths = append(a.attachedPaths, paths...)
	return nil
}
func (a *libraryAutomator) Exists(ctx context.Context, selector string) (bool, error) {
	if a.existsErr != nil {
		return false, a.existsErr
	}
	a.existsProbes++
	if a.confirmAfter < 0 {
		return false, nil
	}
	return a.existsProbes > a.confirmAfter, nil
}
func (a *libraryAutomator) TriggerDownload(ctx context.Context, selector string) (interfaces.DownloadHandle, error) {
	return nil, errors.New("not supported")
}

func testResult() *models.DownloadResult {
	return &models.DownloadResult{
		Filename:  "184523_submission.pdf",
		LocalPath: "/tmp/downloads/184523_submission.pdf",
		SizeBytes: 4096,
	}
}

func newTestService(automator interfaces.Automator, confirmSelector string) *Service {
	return NewService(automator, Config{
		FolderURL:       "https://library.example.com/folder",
		ConfirmSelector: confirmSelector,
		PollInterval:    10 * time.Millisecond,
		SettleTimeout:   300 * time.Millisecond,
		SettleDelay:     20 * time.Millisecond,
		Targets:         DefaultTargets(),
	}, arbor.NewLogger())
}

func TestRelayConfirmed(t *testing.T) {
	automator := &libraryAutomator{confirmAfter: 2}
	svc := newTestService(automator, `div[data-uploaded="true"]`)

	if err := svc.Relay(context.Background(), testResult()); err != nil {
		t.Fatalf("Relay failed: %v", err)
	}

	if len(automator.navigated) != 1 || automator.navigated[0] != "https://library.example.com/folder" {
		t.Errorf("navigated = %v, want the folder view", automator.navigated)
	}
	if len(automator.attachedPaths) != 1 || automator.attachedPaths[0] != testResult().LocalPath {
		t.Errorf("attached = %v, want the artifact path", automator.attachedPaths)
	}
	if automator.existsProbes < 3 {
		t.Errorf("exists probes = %d, want at least 3", automator.existsProbes)
	}
}

func TestRelayConfirmationNeverAppears(t *testing.T) {
	svc := newTestService(&libraryAutomator{confirmAfter: -1}, `div[data-uploaded="true"]`)

	err := svc.Relay(context.Background(), testResult())
	if !errors.Is(err, ErrRelayFailed) {
		t.Fatalf("err = %v, want ErrRelayFailed", err)
	}
}

func TestRelayFallbackSettleDelay(t *testing.T) {
	// No confirmation selector configured: the relay blind-waits the settle
	// delay and reports success.
	automator := &libraryAutomator{}
	svc := newTestService(automator, "")

	start := time.Now()
	if err := svc.Relay(context.Background(), testResult()); err != nil {
		t.Fatalf("Relay failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("relay returned after %v, before the settle delay", elapsed)
	}
	if automator.existsProbes != 0 {
		t.Errorf("exists probes = %d, want none without a selector", automator.existsProbes)
	}
}

func TestRelayUploadControlFailure(t *testing.T) {
	svc := newTestService(&libraryAutomator{clickErr: errors.New("button not found")}, "")

	err := svc.Relay(context.Background(), testResult())
	if !errors.Is(err, ErrRelayFailed) {
		t.Fatalf("err = %v, want ErrRelayFailed", err)
	}
}

func TestRelayAttachFailure(t *testing.T) {
	svc := newTestService(&libraryAutomator{setFilesErr: errors.New("input rejected path")}, "")

	err := svc.Relay(context.Background(), testResult())
	if !errors.Is(err, ErrRelayFailed) {
		t.Fatalf("err = %v, want ErrRelayFailed", err)
	}
}

func TestRelayProbeFailure(t *testing.T) {
	svc := newTestService(&libraryAutomator{existsErr: errors.New("session gone")}, `div[data-uploaded="true"]`)

	err := svc.Relay(context.Background(), testResult())
	if !errors.Is(err, ErrRelayFailed) {
		t.Fatalf("err = %v, want ErrRelayFailed", err)
	}
}

func TestRelayHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := newTestService(&libraryAutomator{confirmAfter: -1}, "")
	err := svc.Relay(ctx, testResult())
	if !errors.Is(err, ErrRelayFailed) {
		t.Fatalf("err = %v, want ErrRelayFailed", err)
	}
}
