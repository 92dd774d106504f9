package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/zalando/go-keyring"
)

const keyringService = "b2b-jd-crawl"

type Config struct {
	Site     SiteConfig
	Crawl    CrawlConfig
	Browser  BrowserConfig
	Auth     AuthConfig
	Output   OutputConfig
	Timeouts TimeoutConfig
	Server   ServerConfig
	Logging  LoggingConfig
}

type SiteConfig struct {
	BaseURL    string
	LoginURL   string
	ListingURL string
	APIHost    string
	// LoginFramePattern identifies the embedded login form's frame by URL.
	LoginFramePattern string
	// ChallengePatterns mark a navigation as a risk-verification interstitial.
	ChallengePatterns []string
}

type CrawlConfig struct {
	Categories []string
	StartPage  int
	EndPage    int
	// SelfOperatedFilter is the listing type filter applied before the
	// category filter on page 1.
	SelfOperatedFilter string
	MaxScrolls         int
	ScrollSettle       time.Duration
	ItemDelay          time.Duration
	PageCooldown       time.Duration
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	UserAgent      string
}

type AuthConfig struct {
	Username    string
	Password    string
	CookiesFile string
}

type OutputConfig struct {
	Dir            string
	ScreenshotsDir string
}

type TimeoutConfig struct {
	Verification time.Duration
	Login        time.Duration
	APIWait      time.Duration
	ElementWait  time.Duration
	PollInterval time.Duration
}

type ServerConfig struct {
	// Addr enables the status HTTP server when non-empty, e.g. ":9090".
	Addr string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment, after loading a .env file
// when one is present. Credentials fall back to the OS keychain when the
// environment does not provide them.
func Load() (*Config, error) {
	// Absence of a .env file is not an error; the environment may be set
	// directly.
	_ = godotenv.Load()

	cfg := &Config{
		Site: SiteConfig{
			BaseURL:           getEnvOrDefault("JD_BASE_URL", "https://b2b.jd.com"),
			LoginURL:          getEnvOrDefault("JD_LOGIN_URL", "https://b2b.jd.com/account/login"),
			ListingURL:        getEnvOrDefault("JD_LISTING_URL", "https://b2b.jd.com/index/jdgp-list"),
			APIHost:           getEnvOrDefault("JD_API_HOST", "api.m.jd.com"),
			LoginFramePattern: getEnvOrDefault("JD_LOGIN_FRAME_PATTERN", "passport.jd.com/common/loginPage"),
			ChallengePatterns: getStringSliceOrDefault("JD_CHALLENGE_PATTERNS", []string{"risk_handler", "cfe.m.jd.com"}),
		},
		Crawl: CrawlConfig{
			Categories:         getStringSliceOrDefault("CATEGORY_NAMES", []string{"休闲零食"}),
			StartPage:          getIntOrDefault("START_PAGE", 1),
			EndPage:            getIntOrDefault("END_PAGE", 3),
			SelfOperatedFilter: getEnvOrDefault("TYPE_FILTER", "自营"),
			MaxScrolls:         getIntOrDefault("MAX_SCROLLS", 20),
			ScrollSettle:       getDurationOrDefault("SCROLL_SETTLE", 1500*time.Millisecond),
			ItemDelay:          getDurationOrDefault("ITEM_DELAY", time.Second),
			PageCooldown:       getDurationOrDefault("PAGE_COOLDOWN", 2*time.Second),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", false),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 60*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			UserAgent:      getEnvOrDefault("BROWSER_USER_AGENT", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
		},
		Auth: AuthConfig{
			Username:    os.Getenv("JD_USERNAME"),
			Password:    os.Getenv("JD_PASSWORD"),
			CookiesFile: getEnvOrDefault("COOKIES_FILE", "cookies.json"),
		},
		Output: OutputConfig{
			Dir:            getEnvOrDefault("OUTPUT_DIR", "output"),
			ScreenshotsDir: getEnvOrDefault("SCREENSHOTS_DIR", "screenshots"),
		},
		Timeouts: TimeoutConfig{
			Verification: getDurationOrDefault("VERIFICATION_TIMEOUT", 180*time.Second),
			Login:        getDurationOrDefault("LOGIN_TIMEOUT", 120*time.Second),
			APIWait:      getDurationOrDefault("API_WAIT_TIMEOUT", 15*time.Second),
			ElementWait:  getDurationOrDefault("ELEMENT_WAIT_TIMEOUT", 10*time.Second),
			PollInterval: getDurationOrDefault("POLL_INTERVAL", time.Second),
		},
		Server: ServerConfig{
			Addr: os.Getenv("STATUS_ADDR"),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "text"),
		},
	}

	if cfg.Auth.Username != "" && cfg.Auth.Password == "" {
		if pw, err := keyring.Get(keyringService, cfg.Auth.Username); err == nil {
			cfg.Auth.Password = pw
		}
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Auth.Username == "" || c.Auth.Password == "" {
		return fmt.Errorf("JD_USERNAME and JD_PASSWORD must be configured (env, .env or OS keychain)")
	}
	if len(c.Crawl.Categories) == 0 {
		return fmt.Errorf("CATEGORY_NAMES must name at least one category")
	}
	if c.Crawl.StartPage < 1 {
		return fmt.Errorf("START_PAGE must be at least 1")
	}
	if c.Crawl.EndPage < c.Crawl.StartPage {
		return fmt.Errorf("END_PAGE cannot be smaller than START_PAGE")
	}
	if c.Crawl.MaxScrolls < 1 {
		return fmt.Errorf("MAX_SCROLLS must be at least 1")
	}
	return nil
}

// StorePassword writes a password for username into the OS keychain so later
// runs can omit JD_PASSWORD from the environment.
func StorePassword(username, password string) error {
	if username == "" || password == "" {
		return fmt.Errorf("username and password are required")
	}
	if err := keyring.Set(keyringService, username, password); err != nil {
		return fmt.Errorf("failed to store password in keyring: %w", err)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
