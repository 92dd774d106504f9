package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := &Config{}
	cfg.Auth.Username = "user"
	cfg.Auth.Password = "secret"
	cfg.Crawl.Categories = []string{"休闲零食"}
	cfg.Crawl.StartPage = 1
	cfg.Crawl.EndPage = 3
	cfg.Crawl.MaxScrolls = 20
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://b2b.jd.com/index/jdgp-list", cfg.Site.ListingURL)
	assert.Equal(t, "api.m.jd.com", cfg.Site.APIHost)
	assert.Contains(t, cfg.Site.ChallengePatterns, "risk_handler")
	assert.Equal(t, 20, cfg.Crawl.MaxScrolls)
	assert.Equal(t, 180*time.Second, cfg.Timeouts.Verification)
	assert.Equal(t, 120*time.Second, cfg.Timeouts.Login)
	assert.Equal(t, 15*time.Second, cfg.Timeouts.APIWait)
}

func TestLoadCategoriesFromEnv(t *testing.T) {
	t.Setenv("CATEGORY_NAMES", "休闲零食, 饮料冲调 ,,粮油调味")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"休闲零食", "饮料冲调", "粮油调味"}, cfg.Crawl.Categories)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{
			name:    "missing credentials",
			mutate:  func(c *Config) { c.Auth.Password = "" },
			wantErr: "JD_USERNAME and JD_PASSWORD",
		},
		{
			name:    "no categories",
			mutate:  func(c *Config) { c.Crawl.Categories = nil },
			wantErr: "CATEGORY_NAMES",
		},
		{
			name:    "inverted page range",
			mutate:  func(c *Config) { c.Crawl.StartPage = 5; c.Crawl.EndPage = 2 },
			wantErr: "END_PAGE",
		},
		{
			name:    "zero start page",
			mutate:  func(c *Config) { c.Crawl.StartPage = 0 },
			wantErr: "START_PAGE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
