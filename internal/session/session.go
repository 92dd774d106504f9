// Package session owns the persisted cookie bundle and the login and
// risk-verification state machines. A session is proven by a navigation that
// stays off the login and challenge URLs; every transition that proves
// authentication persists the cookie bundle.
package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/joneqian/b2b-jd-crawl/internal/config"
	"github.com/joneqian/b2b-jd-crawl/internal/poll"
)

var (
	// ErrVerificationTimeout means the risk challenge never cleared within
	// the ceiling. The caller must not scrape unauthenticated content.
	ErrVerificationTimeout = errors.New("risk verification timed out")
	// ErrLoginFrameNotFound means the embedded login form never appeared.
	ErrLoginFrameNotFound = errors.New("login frame not found")
	// ErrLoginFailed means neither the automatic wait nor the manual
	// fallback left the login URL.
	ErrLoginFailed = errors.New("login failed")
)

// ChallengeState enumerates the risk-verification machine.
type ChallengeState int

const (
	ChallengeNormal ChallengeState = iota
	ChallengeChallenged
	ChallengeResolved
	ChallengeTimedOut
)

func (s ChallengeState) String() string {
	switch s {
	case ChallengeNormal:
		return "normal"
	case ChallengeChallenged:
		return "challenged"
	case ChallengeResolved:
		return "resolved"
	case ChallengeTimedOut:
		return "timed_out"
	}
	return "unknown"
}

// Navigator is the slice of a page the verification machine needs. Satisfied
// by playwright.Page.
type Navigator interface {
	URL() string
}

// Manager persists and restores the cookie bundle and drives login and
// verification against the primary browsing context.
type Manager struct {
	site     config.SiteConfig
	timeouts config.TimeoutConfig

	cookiesFile    string
	screenshotsDir string

	context playwright.BrowserContext
	logger  *slog.Logger

	// control is read for the manual-intervention checkpoint; stdin in
	// production.
	control io.Reader

	// sleep and saveHook are injection points for tests of the state
	// machines; nil means real time and the real Save.
	sleep    poll.Sleeper
	saveHook func() error
}

func NewManager(cfg *config.Config, browserContext playwright.BrowserContext, control io.Reader) *Manager {
	if control == nil {
		control = os.Stdin
	}
	return &Manager{
		site:           cfg.Site,
		timeouts:       cfg.Timeouts,
		cookiesFile:    cfg.Auth.CookiesFile,
		screenshotsDir: cfg.Output.ScreenshotsDir,
		context:        browserContext,
		logger:         slog.Default().With("component", "session"),
		control:        control,
	}
}

// SetContext points the manager at a new browsing context, used after the
// post-login context refresh.
func (m *Manager) SetContext(browserContext playwright.BrowserContext) {
	m.context = browserContext
}

// Load injects a previously persisted cookie bundle into the browsing
// context. A missing bundle is not an error; it reports false and the caller
// falls back to a fresh login.
func (m *Manager) Load() (bool, error) {
	cookies, err := m.Cookies()
	if err != nil {
		return false, err
	}
	if cookies == nil {
		return false, nil
	}
	if err := m.context.AddCookies(cookies); err != nil {
		return false, fmt.Errorf("failed to inject cookies: %w", err)
	}
	m.logger.Info("session cookies loaded", "file", m.cookiesFile)
	return true, nil
}

// Cookies reads the persisted bundle without touching the browsing context.
// Returns (nil, nil) when no bundle exists.
func (m *Manager) Cookies() ([]playwright.OptionalCookie, error) {
	data, err := os.ReadFile(m.cookiesFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cookies file: %w", err)
	}
	var cookies []playwright.OptionalCookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("failed to parse cookies file: %w", err)
	}
	return cookies, nil
}

// Save reads all cookies from the browsing context and overwrites the
// persisted bundle. The write goes through a temp file so an interrupt
// cannot leave a truncated bundle behind.
func (m *Manager) Save() error {
	cookies, err := m.context.Cookies()
	if err != nil {
		return fmt.Errorf("failed to read cookies from context: %w", err)
	}

	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cookies: %w", err)
	}

	tmp := m.cookiesFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write cookies file: %w", err)
	}
	if err := os.Rename(tmp, m.cookiesFile); err != nil {
		return fmt.Errorf("failed to replace cookies file: %w", err)
	}

	m.logger.Info("session cookies saved", "file", m.cookiesFile, "count", len(cookies))
	return nil
}

func (m *Manager) save() error {
	if m.saveHook != nil {
		return m.saveHook()
	}
	return m.Save()
}

// IsChallengeURL reports whether url matches a known risk-verification
// pattern.
func (m *Manager) IsChallengeURL(url string) bool {
	for _, p := range m.site.ChallengePatterns {
		if p != "" && strings.Contains(url, p) {
			return true
		}
	}
	return false
}

// ResolveChallenge runs the verification state machine. When the current URL
// matches a challenge pattern the machine enters Challenged and polls every
// second up to the verification ceiling; any poll whose URL has left the
// challenge pattern transitions to Resolved, saves the session and settles
// briefly. Exhausting the ceiling reports TimedOut with
// ErrVerificationTimeout.
func (m *Manager) ResolveChallenge(ctx context.Context, nav Navigator) (ChallengeState, error) {
	if !m.IsChallengeURL(nav.URL()) {
		return ChallengeNormal, nil
	}

	m.logger.Warn("risk verification challenge detected; complete it in the browser",
		"url", nav.URL())

	cleared, err := poll.Until(ctx, poll.Config{
		Interval:      m.timeouts.PollInterval,
		Ceiling:       m.timeouts.Verification,
		ProgressEvery: 30 * time.Second,
		OnProgress: func(elapsed time.Duration) {
			m.logger.Info("waiting for verification", "elapsed", elapsed)
		},
		Sleep: m.sleep,
	}, func() bool {
		return !m.IsChallengeURL(nav.URL())
	})
	if err != nil {
		return ChallengeChallenged, err
	}
	if !cleared {
		m.logger.Error("verification timed out", "ceiling", m.timeouts.Verification)
		return ChallengeTimedOut, ErrVerificationTimeout
	}

	m.logger.Info("verification resolved")
	if err := m.save(); err != nil {
		m.logger.Warn("failed to save session after verification", "error", err)
	}
	m.settle(ctx, 3*time.Second)
	return ChallengeResolved, nil
}

// CheckLoginStatus navigates to the listing page and reports whether the
// session is valid. A redirect to a login URL means it is not.
func (m *Manager) CheckLoginStatus(ctx context.Context, page playwright.Page) (bool, error) {
	m.logger.Info("checking login status")
	if _, err := page.Goto(m.site.ListingURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(60000),
	}); err != nil {
		return false, fmt.Errorf("failed to open listing page: %w", err)
	}
	m.settle(ctx, 5*time.Second)

	if _, err := m.ResolveChallenge(ctx, page); err != nil {
		return false, err
	}

	if strings.Contains(strings.ToLower(page.URL()), "login") {
		m.logger.Info("session invalid, login required")
		return false, nil
	}
	m.logger.Info("session valid")
	return true, nil
}

// Login runs the login state machine: locate the embedded form frame, fill
// credentials, dispatch a synthetic click on the submit control, then wait
// for the URL to leave the login page. The automatic wait escalates to a
// manual checkpoint read from the control reader.
func (m *Manager) Login(ctx context.Context, page playwright.Page, username, password string) error {
	m.logger.Info("logging in", "username", username)

	if _, err := page.Goto(m.site.LoginURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(60000),
	}); err != nil {
		return fmt.Errorf("failed to open login page: %w", err)
	}
	m.settle(ctx, 3*time.Second)

	frame := m.findLoginFrame(page)
	if frame == nil {
		m.captureDiagnostic(page, "login_error.png")
		return ErrLoginFrameNotFound
	}
	m.logger.Debug("login frame located", "url", frame.URL())

	if err := m.fillLoginForm(ctx, frame, username, password); err != nil {
		return err
	}

	if err := m.submitLoginForm(frame); err != nil {
		m.logger.Warn("synthetic submit dispatch failed", "error", err)
	}
	m.settle(ctx, 3*time.Second)

	offLogin := func() bool {
		return !strings.Contains(strings.ToLower(page.URL()), "login")
	}

	m.logger.Info("waiting for login response")
	done, err := poll.Until(ctx, poll.Config{
		Interval:      m.timeouts.PollInterval,
		Ceiling:       m.timeouts.Login,
		ProgressEvery: 15 * time.Second,
		OnProgress: func(elapsed time.Duration) {
			m.logger.Info("still waiting for login", "elapsed", elapsed)
		},
		Sleep: m.sleep,
	}, offLogin)
	if err != nil {
		return err
	}

	if !done {
		// Manual-intervention checkpoint: a captcha or SMS step needs a
		// human. Block until the operator confirms, then re-check once.
		m.logger.Warn("automatic login wait expired; finish login in the browser and press Enter")
		if err := m.awaitOperator(ctx); err != nil {
			return err
		}
		done = offLogin()
	}

	if !done {
		return ErrLoginFailed
	}

	m.logger.Info("login successful")
	if err := m.save(); err != nil {
		m.logger.Warn("failed to save session after login", "error", err)
	}
	return nil
}

func (m *Manager) findLoginFrame(page playwright.Page) playwright.Frame {
	for _, frame := range page.Frames() {
		if strings.Contains(frame.URL(), m.site.LoginFramePattern) {
			return frame
		}
	}
	return nil
}

func (m *Manager) fillLoginForm(ctx context.Context, frame playwright.Frame, username, password string) error {
	waitOpts := playwright.FrameWaitForSelectorOptions{
		Timeout: playwright.Float(float64(m.timeouts.ElementWait.Milliseconds())),
	}
	if _, err := frame.WaitForSelector("#loginname", waitOpts); err != nil {
		return fmt.Errorf("username field not found: %w", err)
	}
	if _, err := frame.WaitForSelector("#nloginpwd", waitOpts); err != nil {
		return fmt.Errorf("password field not found: %w", err)
	}

	if err := frame.Fill("#loginname", ""); err != nil {
		return fmt.Errorf("failed to clear username field: %w", err)
	}
	if err := frame.Type("#loginname", username, playwright.FrameTypeOptions{
		Delay: playwright.Float(100),
	}); err != nil {
		return fmt.Errorf("failed to type username: %w", err)
	}
	m.settle(ctx, 500*time.Millisecond)

	if err := frame.Fill("#nloginpwd", ""); err != nil {
		return fmt.Errorf("failed to clear password field: %w", err)
	}
	if err := frame.Type("#nloginpwd", password, playwright.FrameTypeOptions{
		Delay: playwright.Float(100),
	}); err != nil {
		return fmt.Errorf("failed to type password: %w", err)
	}
	m.settle(ctx, 500*time.Millisecond)

	return nil
}

// submitLoginForm dispatches a synthetic MouseEvent instead of a native form
// submit: the control is not a standard submit button.
func (m *Manager) submitLoginForm(frame playwright.Frame) error {
	_, err := frame.Evaluate(`() => {
		const btn = document.querySelector("#paipaiLoginSubmit");
		if (btn) {
			btn.dispatchEvent(new MouseEvent('click', {
				view: window,
				bubbles: true,
				cancelable: true
			}));
		}
	}`)
	return err
}

// awaitOperator blocks until a line arrives on the control reader or the
// context is cancelled.
func (m *Manager) awaitOperator(ctx context.Context) error {
	lineCh := make(chan struct{}, 1)
	go func() {
		reader := bufio.NewReader(m.control)
		_, _ = reader.ReadString('\n')
		lineCh <- struct{}{}
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-lineCh:
		return nil
	}
}

func (m *Manager) captureDiagnostic(page playwright.Page, name string) {
	if err := os.MkdirAll(m.screenshotsDir, 0755); err != nil {
		m.logger.Warn("failed to create screenshots dir", "error", err)
		return
	}
	path := filepath.Join(m.screenshotsDir, name)
	if _, err := page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	}); err != nil {
		m.logger.Warn("failed to capture diagnostic screenshot", "error", err)
		return
	}
	m.logger.Info("diagnostic screenshot captured", "path", path)
}

func (m *Manager) settle(ctx context.Context, d time.Duration) {
	sleep := m.sleep
	if sleep == nil {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
		}
		return
	}
	_ = sleep(ctx, d)
}
