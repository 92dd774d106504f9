package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joneqian/b2b-jd-crawl/internal/config"
)

// fakeNav simulates a page whose URL changes after a number of polls.
type fakeNav struct {
	urls    []string
	polls   int
	current string
}

func (f *fakeNav) URL() string {
	if f.polls < len(f.urls) {
		f.current = f.urls[f.polls]
	}
	f.polls++
	return f.current
}

// stuckNav always reports the same URL.
type stuckNav string

func (s stuckNav) URL() string { return string(s) }

func testManager(t *testing.T, saves *int) *Manager {
	t.Helper()
	cfg := &config.Config{}
	cfg.Site.ChallengePatterns = []string{"risk_handler", "cfe.m.jd.com"}
	cfg.Timeouts.PollInterval = time.Second
	cfg.Timeouts.Verification = 180 * time.Second
	cfg.Timeouts.Login = 120 * time.Second
	cfg.Auth.CookiesFile = t.TempDir() + "/cookies.json"

	m := NewManager(cfg, nil, nil)
	m.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	m.saveHook = func() error {
		if saves != nil {
			*saves++
		}
		return nil
	}
	return m
}

func TestResolveChallengeNormalURL(t *testing.T) {
	var saves int
	m := testManager(t, &saves)

	state, err := m.ResolveChallenge(context.Background(), stuckNav("https://b2b.jd.com/index/jdgp-list"))
	require.NoError(t, err)
	assert.Equal(t, ChallengeNormal, state)
	assert.Zero(t, saves)
}

func TestResolveChallengeClearsOnFifthPoll(t *testing.T) {
	var saves int
	m := testManager(t, &saves)

	// two pre-poll reads (detection check, then the warning log) plus four
	// challenged polls; the redirect lands on the fifth poll
	nav := &fakeNav{urls: []string{
		"https://cfe.m.jd.com/risk_handler?x=1", // detection check
		"https://cfe.m.jd.com/risk_handler?x=1", // logged URL
		"https://cfe.m.jd.com/risk_handler?x=1",
		"https://cfe.m.jd.com/risk_handler?x=1",
		"https://cfe.m.jd.com/risk_handler?x=1",
		"https://cfe.m.jd.com/risk_handler?x=1",
		"https://b2b.jd.com/index/jdgp-list",
	}}

	state, err := m.ResolveChallenge(context.Background(), nav)
	require.NoError(t, err)
	assert.Equal(t, ChallengeResolved, state)
	assert.Equal(t, 1, saves, "resolution must trigger exactly one session save")
	// 2 pre-poll reads + 5 polls
	assert.Equal(t, 7, nav.polls)
}

func TestResolveChallengeTimesOutAtCeiling(t *testing.T) {
	var saves int
	m := testManager(t, &saves)

	nav := &countingNav{url: "https://cfe.m.jd.com/risk_handler"}
	state, err := m.ResolveChallenge(context.Background(), nav)
	assert.ErrorIs(t, err, ErrVerificationTimeout)
	assert.Equal(t, ChallengeTimedOut, state)
	assert.Zero(t, saves)
	// 2 pre-poll reads + exactly 180 polls, not more, not fewer
	assert.Equal(t, 182, nav.reads)
}

type countingNav struct {
	url   string
	reads int
}

func (c *countingNav) URL() string {
	c.reads++
	return c.url
}

func TestIsChallengeURL(t *testing.T) {
	m := testManager(t, nil)
	assert.True(t, m.IsChallengeURL("https://cfe.m.jd.com/anything"))
	assert.True(t, m.IsChallengeURL("https://jd.com/risk_handler?token=a"))
	assert.False(t, m.IsChallengeURL("https://b2b.jd.com/index/jdgp-list"))
}

func TestCookiesRoundTripAbsentFile(t *testing.T) {
	m := testManager(t, nil)
	cookies, err := m.Cookies()
	require.NoError(t, err)
	assert.Nil(t, cookies)
}
