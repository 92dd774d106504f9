package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joneqian/b2b-jd-crawl/internal/api"
	"github.com/joneqian/b2b-jd-crawl/internal/browser"
	"github.com/joneqian/b2b-jd-crawl/internal/config"
	"github.com/joneqian/b2b-jd-crawl/internal/crawler"
	"github.com/joneqian/b2b-jd-crawl/internal/metrics"
)

func main() {
	var (
		categories   = flag.String("categories", "", "Comma-separated category names (overrides CATEGORY_NAMES)")
		pages        = flag.String("pages", "", "Inclusive page range, e.g. 1-3 (overrides START_PAGE/END_PAGE)")
		headless     = flag.Bool("headless", false, "Run the browser headless (verification challenges need a visible window)")
		savePassword = flag.Bool("save-password", false, "Store JD_PASSWORD in the OS keychain for JD_USERNAME and exit")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *savePassword {
		if err := config.StorePassword(cfg.Auth.Username, os.Getenv("JD_PASSWORD")); err != nil {
			log.Fatalf("Failed to store password: %v", err)
		}
		fmt.Println("Password stored in OS keychain.")
		return
	}

	if *categories != "" {
		cfg.Crawl.Categories = splitCategories(*categories)
	}
	if *pages != "" {
		start, end, err := parsePageRange(*pages)
		if err != nil {
			log.Fatalf("Invalid -pages value: %v", err)
		}
		cfg.Crawl.StartPage, cfg.Crawl.EndPage = start, end
	}
	cfg.Browser.Headless = cfg.Browser.Headless || *headless

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	setupLogger(cfg.Logging)
	logger := slog.Default()
	logger.Info("starting b2b-jd-crawl",
		"categories", cfg.Crawl.Categories,
		"pages", fmt.Sprintf("%d-%d", cfg.Crawl.StartPage, cfg.Crawl.EndPage))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SIGINT and SIGTERM take the same path: cancel the run and let every
	// stage unwind to its export checkpoint.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Warn("shutdown signal received, flushing accumulated records", "signal", sig.String())
		cancel()
	}()

	b, err := browser.New(&browser.Options{
		Headless:       cfg.Browser.Headless,
		Timeout:        cfg.Browser.Timeout,
		UserAgent:      cfg.Browser.UserAgent,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
	})
	if err != nil {
		logger.Error("failed to initialize browser", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	m := metrics.New()
	c := crawler.New(cfg, b, m)

	if cfg.Server.Addr != "" {
		server := api.NewServer(cfg.Server.Addr, c, m)
		server.Start()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			server.Shutdown(shutdownCtx)
		}()
	}

	if err := c.Run(ctx); err != nil {
		logger.Error("crawl ended with error", "error", err)
		b.Close()
		os.Exit(1)
	}
}

func setupLogger(cfg config.LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func splitCategories(s string) []string {
	var out []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func parsePageRange(s string) (int, int, error) {
	parts := strings.SplitN(s, "-", 2)
	start, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("bad start page: %w", err)
	}
	end := start
	if len(parts) == 2 {
		if end, err = strconv.Atoi(strings.TrimSpace(parts[1])); err != nil {
			return 0, 0, fmt.Errorf("bad end page: %w", err)
		}
	}
	return start, end, nil
}
