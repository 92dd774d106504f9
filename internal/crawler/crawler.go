// Package crawler wires the session, discovery, harvest and export stages
// into the per-category run loop. All stages share one logical thread of
// control; an interrupt or failure anywhere unwinds to the category's export
// checkpoint so accumulated records are never lost.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/joneqian/b2b-jd-crawl/internal/api"
	"github.com/joneqian/b2b-jd-crawl/internal/browser"
	"github.com/joneqian/b2b-jd-crawl/internal/config"
	"github.com/joneqian/b2b-jd-crawl/internal/discovery"
	"github.com/joneqian/b2b-jd-crawl/internal/export"
	"github.com/joneqian/b2b-jd-crawl/internal/harvester"
	"github.com/joneqian/b2b-jd-crawl/internal/metrics"
	"github.com/joneqian/b2b-jd-crawl/internal/models"
	"github.com/joneqian/b2b-jd-crawl/internal/queue"
	"github.com/joneqian/b2b-jd-crawl/internal/session"
)

type Crawler struct {
	cfg       *config.Config
	browser   *browser.Browser
	session   *session.Manager
	engine    *discovery.Engine
	harvester *harvester.Harvester
	exporter  *export.Exporter
	metrics   *metrics.Metrics
	run       *models.RunContext
	logger    *slog.Logger
}

func New(cfg *config.Config, b *browser.Browser, m *metrics.Metrics) *Crawler {
	sess := session.NewManager(cfg, b.Context(), nil)
	run := models.NewRunContext()
	return &Crawler{
		cfg:       cfg,
		browser:   b,
		session:   sess,
		engine:    discovery.NewEngine(cfg, sess, m),
		harvester: harvester.New(b, sess, cfg, m),
		exporter:  export.New(cfg.Output.Dir, m),
		metrics:   m,
		run:       run,
		logger:    slog.Default().With("component", "crawler"),
	}
}

// Run establishes a valid session and then crawls every configured category.
// A category failure aborts that category only; cancellation stops the run.
// Either way each category's accumulated records go through its export
// checkpoint before control leaves crawlCategory.
func (c *Crawler) Run(ctx context.Context) error {
	c.logger.Info("crawl starting",
		"run_id", c.run.RunID,
		"categories", c.cfg.Crawl.Categories,
		"pages", fmt.Sprintf("%d-%d", c.cfg.Crawl.StartPage, c.cfg.Crawl.EndPage))

	page, err := c.establishSession(ctx)
	if err != nil {
		return err
	}

	for i, category := range c.cfg.Crawl.Categories {
		c.logger.Info("category starting", "category", category,
			"progress", fmt.Sprintf("%d/%d", i+1, len(c.cfg.Crawl.Categories)))

		if err := c.crawlCategory(ctx, page, category); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.logger.Error("category aborted", "category", category, "error", err)
			continue
		}
		c.logger.Info("category complete", "category", category, "records", c.run.Len())
	}

	c.logger.Info("crawl finished", "categories", len(c.cfg.Crawl.Categories))
	return nil
}

// establishSession restores or creates an authenticated session, then
// refreshes the browsing context so crawling starts from a clean context
// carrying only the persisted cookies.
func (c *Crawler) establishSession(ctx context.Context) (playwright.Page, error) {
	page, err := c.browser.NewPage()
	if err != nil {
		return nil, err
	}

	found, err := c.session.Load()
	if err != nil {
		c.logger.Warn("failed to load persisted session", "error", err)
	} else if !found {
		c.logger.Info("no persisted session, fresh login required")
	}

	loggedIn, err := c.session.CheckLoginStatus(ctx, page)
	if err != nil {
		if errors.Is(err, session.ErrVerificationTimeout) {
			c.metrics.IncChallenge("timed_out")
		}
		return nil, err
	}

	if !loggedIn {
		if err := c.session.Login(ctx, page, c.cfg.Auth.Username, c.cfg.Auth.Password); err != nil {
			return nil, fmt.Errorf("login failed: %w", err)
		}
	}

	cookies, err := c.session.Cookies()
	if err != nil {
		return nil, fmt.Errorf("failed to reload session cookies: %w", err)
	}
	if err := c.browser.RefreshContext(cookies); err != nil {
		return nil, fmt.Errorf("failed to refresh browsing context: %w", err)
	}
	c.session.SetContext(c.browser.Context())

	return c.browser.NewPage()
}

// crawlCategory resets the run for one category, discovers its identifiers,
// harvests them and exports on every exit path.
func (c *Crawler) crawlCategory(ctx context.Context, page playwright.Page, category string) (err error) {
	c.run.Reset(category)

	defer func() {
		if c.run.Len() == 0 {
			return
		}
		if exportErr := c.exporter.Export(category, c.run.Records()); exportErr != nil {
			// Export already degraded to the emergency dump.
			c.logger.Error("export failed", "category", category, "error", exportErr)
			if err == nil {
				err = exportErr
			}
		}
	}()

	skus, err := c.engine.DiscoverCategory(ctx, page, category)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}
	if len(skus) == 0 {
		c.logger.Warn("no products discovered", "category", category)
		return nil
	}

	// The queue decouples the discovery list from the harvest loop while
	// preserving first-seen order.
	q := queue.NewInMemoryQueue()
	for _, id := range skus {
		if qErr := q.Push(&queue.Task{SKUID: id, Category: category, DiscoveredAt: time.Now()}); qErr != nil {
			break
		}
	}
	q.Close()

	if err := c.harvester.HarvestQueue(ctx, c.run, q); err != nil {
		return fmt.Errorf("harvest interrupted: %w", err)
	}
	return nil
}

// Snapshot implements api.StatusSource.
func (c *Crawler) Snapshot() api.Status {
	return api.Status{
		RunID:      c.run.RunID,
		StartedAt:  c.run.StartedAt,
		Category:   c.run.Category(),
		Records:    c.run.Len(),
		Categories: c.cfg.Crawl.Categories,
	}
}
