package browser

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Browser owns the Playwright runtime, the launched Chromium instance and
// the primary browsing context used for login and listing discovery. Detail
// fetches run in throwaway contexts created via NewIsolatedContext.
type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	opts    *Options
	logger  *slog.Logger
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       false,
		Timeout:        60 * time.Second,
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
	}
}

func New(opts *Options) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			fmt.Sprintf("--window-size=%d,%d", opts.ViewportWidth, opts.ViewportHeight),
		},
	}

	b, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	br := &Browser{
		pw:      pw,
		browser: b,
		opts:    opts,
		logger:  slog.Default().With("component", "browser"),
	}

	ctx, err := br.newContext()
	if err != nil {
		b.Close()
		pw.Stop()
		return nil, err
	}
	br.context = ctx

	return br, nil
}

func (b *Browser) newContext() (playwright.BrowserContext, error) {
	ctx, err := b.browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: &b.opts.UserAgent,
		Viewport: &playwright.Size{
			Width:  b.opts.ViewportWidth,
			Height: b.opts.ViewportHeight,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	return ctx, nil
}

func (b *Browser) NewPage() (playwright.Page, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}
	page.SetDefaultTimeout(float64(b.opts.Timeout.Milliseconds()))
	return page, nil
}

// Context returns the primary browsing context.
func (b *Browser) Context() playwright.BrowserContext {
	return b.context
}

// NewIsolatedContext creates a fresh browsing context seeded with the given
// cookie bundle. Detail pages use it so their response listeners and any
// cookie churn never touch the listing context. The caller must close it.
func (b *Browser) NewIsolatedContext(cookies []playwright.OptionalCookie) (playwright.BrowserContext, error) {
	ctx, err := b.newContext()
	if err != nil {
		return nil, err
	}
	if len(cookies) > 0 {
		if err := ctx.AddCookies(cookies); err != nil {
			ctx.Close()
			return nil, fmt.Errorf("failed to seed cookies: %w", err)
		}
	}
	return ctx, nil
}

// RefreshContext closes the primary context and replaces it with a fresh one
// seeded with cookies. Used after login so crawling starts from a clean
// context carrying only the persisted session.
func (b *Browser) RefreshContext(cookies []playwright.OptionalCookie) error {
	if b.context != nil {
		if err := b.context.Close(); err != nil {
			b.logger.Warn("failed to close stale context", "error", err)
		}
	}
	ctx, err := b.newContext()
	if err != nil {
		return err
	}
	if len(cookies) > 0 {
		if err := ctx.AddCookies(cookies); err != nil {
			ctx.Close()
			return fmt.Errorf("failed to seed cookies: %w", err)
		}
	}
	b.context = ctx
	return nil
}

func (b *Browser) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}

	return nil
}
