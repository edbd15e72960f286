package automation

import (
	"context"
	"fmt"
)

// SourceFlow describes how to open an authenticated results view on the
// listing portal: login selectors, the results navigation entry, and the
// page-size controls. Selector defaults match the portal; credentials and
// URL come from configuration.
type SourceFlow struct {
	URL      string
	Email    string
	Password string

	CookieButton  string // Cookie consent, clicked only when present
	EmailField    string
	PasswordField string
	LoginButton   string
	ResultsNav    string // Navigation entry for the results table
	PageSizeMenu  string // "results per page" dropdown
	PageSizeItem  string // The configured page-size entry
}

// DefaultSourceFlow returns the portal's login and navigation selectors.
func DefaultSourceFlow() SourceFlow {
	return SourceFlow{
		CookieButton:  `button.cookie-session-only`,
		EmailField:    `input[type="email"]`,
		PasswordField: `input[type="password"]`,
		LoginButton:   `.modal-body button[type="submit"]`,
		ResultsNav:    `a.nav-submission-results`,
		PageSizeMenu:  `button.results-per-page`,
		PageSizeItem:  `.dropdown-menu [data-page-size="100"]`,
	}
}

// TargetFlow describes how to authenticate against the remote document
// library before uploads.
type TargetFlow struct {
	SiteURL  string
	Email    string
	Password string

	EmailField    string
	SubmitButton  string
	PasswordField string
	StaySignedIn  string // "stay signed in" prompt, clicked only when present
}

// DefaultTargetFlow returns the document library's login selectors.
func DefaultTargetFlow() TargetFlow {
	return TargetFlow{
		EmailField:    `input[type="email"]`,
		SubmitButton:  `input[type="submit"]`,
		PasswordField: `input[type="password"]`,
		StaySignedIn:  `input[value="Yes"]`,
	}
}

// PrepareSource logs in to the listing portal and opens the results table at
// the configured page size.
func (c *Chrome) PrepareSource(ctx context.Context) error {
	c.logger.Info().Str("url", c.source.URL).Msg("Opening listing portal")

	if err := c.Navigate(ctx, c.source.URL); err != nil {
		return fmt.Errorf("portal unreachable: %w", err)
	}
	if err := c.WaitStable(ctx); err != nil {
		return err
	}

	// Cookie consent only shows on a fresh session.
	if found, _ := c.Exists(ctx, c.source.CookieButton); found {
		if err := c.Click(ctx, c.source.CookieButton); err != nil {
			return fmt.Errorf("failed to dismiss cookie prompt: %w", err)
		}
		if err := c.WaitStable(ctx); err != nil {
			return err
		}
	}

	if err := c.Fill(ctx, c.source.EmailField, c.source.Email); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if err := c.Fill(ctx, c.source.PasswordField, c.source.Password); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if err := c.Click(ctx, c.source.LoginButton); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if err := c.WaitStable(ctx); err != nil {
		return err
	}

	if err := c.Click(ctx, c.source.ResultsNav); err != nil {
		return fmt.Errorf("failed to open results view: %w", err)
	}
	if err := c.WaitStable(ctx); err != nil {
		return err
	}

	if c.source.PageSizeMenu != "" {
		if err := c.Click(ctx, c.source.PageSizeMenu); err != nil {
			return fmt.Errorf("failed to open page-size menu: %w", err)
		}
		if err := c.Click(ctx, c.source.PageSizeItem); err != nil {
			return fmt.Errorf("failed to set page size: %w", err)
		}
		if err := c.WaitStable(ctx); err != nil {
			return err
		}
	}

	c.logger.Info().Msg("Listing portal session ready")
	return nil
}

// PrepareTarget logs in to the remote document library. The library's login
// is a two-step email/password exchange followed by an optional
// stay-signed-in prompt.
func (c *Chrome) PrepareTarget(ctx context.Context) error {
	c.logger.Info().Str("url", c.target.SiteURL).Msg("Opening document library")

	if err := c.Navigate(ctx, c.target.SiteURL); err != nil {
		return fmt.Errorf("document library unreachable: %w", err)
	}
	if err := c.WaitStable(ctx); err != nil {
		return err
	}

	if err := c.Fill(ctx, c.target.EmailField, c.target.Email); err != nil {
		return fmt.Errorf("library login failed: %w", err)
	}
	if err := c.Click(ctx, c.target.SubmitButton); err != nil {
		return fmt.Errorf("library login failed: %w", err)
	}
	if err := c.WaitStable(ctx); err != nil {
		return err
	}
	if err := c.Fill(ctx, c.target.PasswordField, c.target.Password); err != nil {
		return fmt.Errorf("library login failed: %w", err)
	}
	if err := c.Click(ctx, c.target.SubmitButton); err != nil {
		return fmt.Errorf("library login failed: %w", err)
	}
	if err := c.WaitStable(ctx); err != nil {
		return err
	}

	if found, _ := c.Exists(ctx, c.target.StaySignedIn); found {
		if err := c.Click(ctx, c.target.StaySignedIn); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to acknowledge stay-signed-in prompt")
		}
	}

	c.logger.Info().Msg("Document library session ready")
	return nil
}
