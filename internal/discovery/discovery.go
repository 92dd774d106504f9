// Package discovery walks a category's listing pages and produces the
// deduplicated list of SKU identifiers, reconciling scroll-driven lazy
// loading with the asynchronous list-API responses observed by the network
// listener.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/joneqian/b2b-jd-crawl/internal/config"
	"github.com/joneqian/b2b-jd-crawl/internal/listener"
	"github.com/joneqian/b2b-jd-crawl/internal/metrics"
	"github.com/joneqian/b2b-jd-crawl/internal/poll"
	"github.com/joneqian/b2b-jd-crawl/internal/session"
)

// ErrFilterNotMatched reports that no filter option matched the requested
// value; the caller proceeds with the unfiltered listing.
var ErrFilterNotMatched = errors.New("no filter option matched")

// ChallengeResolver is the slice of the session manager the engine needs.
type ChallengeResolver interface {
	ResolveChallenge(ctx context.Context, nav session.Navigator) (session.ChallengeState, error)
}

type Engine struct {
	cfg      *config.Config
	verifier ChallengeResolver
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewEngine(cfg *config.Config, verifier ChallengeResolver, m *metrics.Metrics) *Engine {
	return &Engine{
		cfg:      cfg,
		verifier: verifier,
		metrics:  m,
		logger:   slog.Default().With("component", "discovery"),
	}
}

// DiscoverCategory walks the configured page window for one category and
// returns all identifiers, deduplicated globally across pages in first-seen
// order.
func (e *Engine) DiscoverCategory(ctx context.Context, page playwright.Page, category string) ([]string, error) {
	var all []string
	seen := make(map[string]struct{})

	for pageNum := e.cfg.Crawl.StartPage; pageNum <= e.cfg.Crawl.EndPage; pageNum++ {
		select {
		case <-ctx.Done():
			return all, ctx.Err()
		default:
		}

		ids, err := e.DiscoverPage(ctx, page, pageNum, category)
		if err != nil {
			return all, fmt.Errorf("page %d: %w", pageNum, err)
		}
		e.logger.Info("page discovered", "category", category, "page", pageNum, "skus", len(ids))

		added := 0
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			all = append(all, id)
			added++
		}
		e.metrics.AddSKUs(added)

		e.settle(ctx, e.cfg.Crawl.PageCooldown)
	}

	e.logger.Info("category discovery complete", "category", category, "skus", len(all))
	return all, nil
}

// DiscoverPage collects the identifiers for a single listing page. Page 1
// performs the full navigation and filter selection; later pages go through
// the pager so applied filters survive.
func (e *Engine) DiscoverPage(ctx context.Context, page playwright.Page, pageNum int, category string) ([]string, error) {
	capture := listener.NewCapture(e.cfg.Site.APIHost)
	capture.Attach(page)
	defer capture.Close()

	if pageNum == e.cfg.Crawl.StartPage {
		if err := e.openListing(ctx, page, capture, category); err != nil {
			return nil, err
		}
	} else {
		e.turnPage(ctx, page, pageNum)
	}

	iterations, err := saturate(ctx, pageView{page}, capture.Len, e.cfg.Crawl.MaxScrolls, sleepSettle(e.cfg.Crawl.ScrollSettle))
	if err != nil {
		return capture.SKUs(), err
	}
	e.metrics.ObserveScrollIterations(iterations)
	e.settle(ctx, 2*time.Second)

	return capture.SKUs(), nil
}

func (e *Engine) openListing(ctx context.Context, page playwright.Page, capture *listener.Capture, category string) error {
	e.logger.Info("opening listing", "url", e.cfg.Site.ListingURL)
	if _, err := page.Goto(e.cfg.Site.ListingURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(60000),
	}); err != nil {
		return fmt.Errorf("failed to open listing page: %w", err)
	}
	e.settle(ctx, 3*time.Second)

	if _, err := e.verifier.ResolveChallenge(ctx, page); err != nil {
		return err
	}

	if err := e.applyFilter(ctx, page, capture, "类型", e.cfg.Crawl.SelfOperatedFilter); err != nil {
		e.logger.Warn("type filter not applied, continuing unfiltered",
			"value", e.cfg.Crawl.SelfOperatedFilter, "error", err)
	}

	// Anything captured before the filters settled belongs to the
	// unfiltered listing.
	capture.ResetSKUs()

	if category != "" {
		if err := e.applyFilter(ctx, page, capture, "类目", category); err != nil {
			e.logger.Warn("category filter not applied, using default listing",
				"category", category, "error", err)
		}
	}

	return nil
}

// applyFilter locates the filter row labelled label, ranks its options
// against value and clicks the winner, then waits for the listing API to
// confirm the reload. A fixed settle is not enough here: the click and the
// refreshed list race, and API latency varies.
func (e *Engine) applyFilter(ctx context.Context, page playwright.Page, capture *listener.Capture, label, value string) error {
	row := page.Locator(".shop-filter-item").Filter(playwright.LocatorFilterOptions{HasText: label})
	if err := row.First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(e.cfg.Timeouts.ElementWait.Milliseconds())),
	}); err != nil {
		return fmt.Errorf("filter row %q not found: %w", label, err)
	}

	items := row.Locator(".content-item")
	count, err := items.Count()
	if err != nil {
		return fmt.Errorf("failed to enumerate filter options: %w", err)
	}

	options := make([]string, count)
	for i := 0; i < count; i++ {
		text, err := items.Nth(i).TextContent()
		if err != nil {
			continue
		}
		options[i] = strings.TrimSpace(text)
	}

	idx, kind := BestMatch(value, options)
	if kind == MatchNone {
		return fmt.Errorf("%w: label=%q value=%q options=%d", ErrFilterNotMatched, label, value, count)
	}
	e.logger.Info("filter option selected", "label", label, "value", value,
		"option", options[idx], "match", kind.String())

	before := capture.ListResponses()
	if err := items.Nth(idx).Locator("p").First().Click(); err != nil {
		return fmt.Errorf("failed to click filter option: %w", err)
	}

	arrived, err := poll.Until(ctx, poll.Config{
		Interval: 200 * time.Millisecond,
		Ceiling:  e.cfg.Timeouts.APIWait,
	}, func() bool {
		return capture.ListResponses() > before
	})
	if err != nil {
		return err
	}
	if !arrived {
		e.logger.Warn("list API did not respond after filter click", "label", label)
		return nil
	}
	// Give the DOM a beat to render the refreshed list.
	e.settle(ctx, time.Second)
	return nil
}

// turnPage clicks the pager instead of navigating, preserving the filters
// applied on page 1. Exact page-number buttons are preferred; the next
// button is the fallback. Pager failures are not fatal; the current page is
// simply re-scrolled.
func (e *Engine) turnPage(ctx context.Context, page playwright.Page, pageNum int) {
	e.logger.Info("turning page", "page", pageNum)

	if _, err := page.Evaluate("window.scrollTo(0, document.body.scrollHeight)"); err != nil {
		e.logger.Warn("failed to scroll to pager", "error", err)
	}
	e.settle(ctx, 2*time.Second)

	clicked := false
	numberSelectors := []string{
		fmt.Sprintf(`.rcd-pager__number:text-is("%d")`, pageNum),
		fmt.Sprintf(`[class*='pager'] [class*='number']:has-text("%d")`, pageNum),
	}
	for _, sel := range numberSelectors {
		loc := page.Locator(sel).First()
		count, err := loc.Count()
		if err != nil || count == 0 {
			continue
		}
		if err := loc.Click(); err != nil {
			e.logger.Warn("pager number click failed", "selector", sel, "error", err)
			continue
		}
		clicked = true
		break
	}

	if !clicked {
		next := page.Locator(".rcd-pagination__btn-next").First()
		if count, err := next.Count(); err == nil && count > 0 {
			if err := next.Click(); err != nil {
				e.logger.Warn("next-page click failed", "error", err)
			} else {
				clicked = true
			}
		}
	}
	if !clicked {
		e.logger.Warn("no pager control found", "page", pageNum)
	}

	e.settle(ctx, 2*time.Second)
	if _, err := page.Evaluate("window.scrollTo(0, 0)"); err != nil {
		e.logger.Warn("failed to scroll back to top", "error", err)
	}
	e.settle(ctx, time.Second)
}

func (e *Engine) settle(ctx context.Context, d time.Duration) {
	sleepSettle(d)(ctx)
}
