// Package harvester fetches and normalises one product record per
// discovered identifier. Every identifier yields a record: a fetch that
// fails in any way degrades to a stub carrying only the SKU ID, and the
// batch moves on.
package harvester

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/joneqian/b2b-jd-crawl/internal/browser"
	"github.com/joneqian/b2b-jd-crawl/internal/config"
	"github.com/joneqian/b2b-jd-crawl/internal/listener"
	"github.com/joneqian/b2b-jd-crawl/internal/metrics"
	"github.com/joneqian/b2b-jd-crawl/internal/models"
	"github.com/joneqian/b2b-jd-crawl/internal/queue"
	"github.com/joneqian/b2b-jd-crawl/internal/ratelimit"
)

// detailSelectors are tried in order when the API payload carries no rich
// description and images must come from the DOM.
var detailSelectors = []string{
	".goodsdetail-content__image img",
	"[class*='detail'] img",
}

// Fetcher produces the record for one identifier. It never fails: degraded
// fetches return the stub record.
type Fetcher interface {
	Fetch(ctx context.Context, skuID string) *models.ProductRecord
}

// CookieSource supplies the cookie bundle used to seed each isolated detail
// context.
type CookieSource interface {
	Cookies() ([]playwright.OptionalCookie, error)
}

type Harvester struct {
	browser *browser.Browser
	cookies CookieSource
	cfg     *config.Config
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(b *browser.Browser, cookies CookieSource, cfg *config.Config, m *metrics.Metrics) *Harvester {
	return &Harvester{
		browser: b,
		cookies: cookies,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "harvester"),
	}
}

// Drain pops tasks from the queue until it closes, fetching each one
// strictly sequentially and appending the record to the run as soon as it is
// finished, so an interrupt loses nothing already harvested. The inter-item
// limiter throttles request rate.
func Drain(ctx context.Context, run *models.RunContext, q queue.Queue, f Fetcher, limiter ratelimit.RateLimiter, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	processed := 0
	for {
		select {
		case <-ctx.Done():
			logger.Warn("harvest interrupted", "processed", processed)
			return ctx.Err()
		default:
		}

		task, err := q.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) {
				return nil
			}
			logger.Warn("harvest interrupted", "processed", processed, "error", err)
			return err
		}

		logger.Info("harvesting product", "sku", task.SKUID, "index", processed+1)
		run.Append(f.Fetch(ctx, task.SKUID))
		processed++

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}
	}
}

// HarvestQueue runs the sequential drain loop against the live site.
func (h *Harvester) HarvestQueue(ctx context.Context, run *models.RunContext, q queue.Queue) error {
	limiter := ratelimit.NewSimpleRateLimiter(h.cfg.Crawl.ItemDelay)
	return Drain(ctx, run, q, h, limiter, h.logger)
}

// Fetch opens an isolated context for one SKU, waits out client-side
// rendering and staged lazy loading, and builds the record from the captured
// detail payload with a DOM fallback for detail images.
func (h *Harvester) Fetch(ctx context.Context, skuID string) *models.ProductRecord {
	payload, htmlImages, err := h.fetchDetail(ctx, skuID)
	if err != nil {
		h.logger.Warn("detail fetch degraded to stub record", "sku", skuID, "error", err)
		h.metrics.IncHarvestError()
		return models.NewProductRecord(skuID)
	}

	rec := BuildRecord(skuID, payload, htmlImages)
	if rec.SKUID == "" {
		rec.SKUID = skuID
	}
	h.metrics.IncHarvested()
	h.logger.Info("product harvested", "sku", rec.SKUID, "name", rec.Name,
		"main_images", len(rec.MainImages), "detail_images", len(rec.DetailImages))
	return rec
}

func (h *Harvester) fetchDetail(ctx context.Context, skuID string) (map[string]any, []string, error) {
	cookies, err := h.cookies.Cookies()
	if err != nil {
		h.logger.Warn("failed to read session cookies for detail context", "error", err)
	}

	detailCtx, err := h.browser.NewIsolatedContext(cookies)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create detail context: %w", err)
	}
	defer detailCtx.Close()

	page, err := detailCtx.NewPage()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open detail page: %w", err)
	}

	capture := listener.NewCapture(h.cfg.Site.APIHost)
	capture.Attach(page)
	defer capture.Close()

	detailURL := fmt.Sprintf("%s/goods/goods-detail/%s", h.cfg.Site.BaseURL, skuID)
	if _, err := page.Goto(detailURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(60000),
	}); err != nil {
		return nil, nil, fmt.Errorf("failed to navigate to detail page: %w", err)
	}
	h.settle(ctx, 8*time.Second)

	h.stagedScroll(ctx, page)

	payload, ok := capture.Detail()
	if !ok {
		return nil, nil, fmt.Errorf("no detail payload captured for sku %s", skuID)
	}

	// Only scrape the DOM when the payload's rich description is empty;
	// otherwise BuildRecord extracts images from the description itself.
	var htmlImages []string
	graphic := getMap(payload, "viewGraphicDetailDTO")
	if getString(graphic, "productDesc") == "" {
		htmlImages = h.scrapeDetailImages(page)
	}

	return payload, htmlImages, nil
}

// stagedScroll walks the page in thirds three times to trigger the remaining
// lazy-loaded sections.
func (h *Harvester) stagedScroll(ctx context.Context, page playwright.Page) {
	steps := []string{
		"window.scrollTo(0, document.body.scrollHeight / 3)",
		"window.scrollTo(0, document.body.scrollHeight * 2 / 3)",
		"window.scrollTo(0, document.body.scrollHeight)",
	}
	for i := 0; i < 3; i++ {
		for _, step := range steps {
			if _, err := page.Evaluate(step); err != nil {
				return
			}
			h.settle(ctx, time.Second)
		}
	}
}

// scrapeDetailImages is the DOM fallback: <img> nodes under the known
// detail containers, normalised and deduplicated.
func (h *Harvester) scrapeDetailImages(page playwright.Page) []string {
	var images []string
	for _, selector := range detailSelectors {
		handles, err := page.QuerySelectorAll(selector)
		if err != nil {
			continue
		}
		for _, handle := range handles {
			src, err := handle.GetAttribute("src")
			if err != nil {
				continue
			}
			if url := normalizeGalleryImage(src); url != "" && !contains(images, url) {
				images = append(images, url)
			}
		}
	}
	return images
}

func (h *Harvester) settle(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
