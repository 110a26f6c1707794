// Package browser drives the Chrome instance a live review session runs
// in: launch or connect through rod, stealth tabs, and LivePage, the
// dom.Page backed by a real tab.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// Mode controls how Chrome is started.
type Mode string

const (
	// Headless runs an invisible Chrome with stealth patches.
	Headless Mode = "headless"
	// Headful opens a visible window for the reviewer, on XvfbDisplay when
	// one is set.
	Headful Mode = "headful"
	// Plain runs headless without stealth patches.
	Plain Mode = "plain"
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("browser: closed")

// Config configures the review browser.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of a Chrome the reviewer
	// already runs. Empty launches a local one.
	RemoteURL string `yaml:"remote_url"`
	// Bin overrides the Chrome binary.
	Bin  string `yaml:"bin"`
	Mode Mode   `yaml:"mode"`
	// Width and Height size the window, which decides the viewport
	// category new annotations are captured in. Zero keeps Chrome's size.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	// XvfbDisplay starts Xvfb on this display for headful mode on hosts
	// without a screen, e.g. ":99".
	XvfbDisplay string `yaml:"xvfb_display"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.Mode == "" {
		c.Mode = Headless
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns the Chrome a review session is displayed in.
type Manager struct {
	cfg Config

	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	closed  bool
}

func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start returns the session's browser, launching or connecting on the
// first call.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.closed:
		return nil, ErrClosed
	case m.browser != nil:
		return m.browser, nil
	}

	if m.cfg.Mode == Headful && m.cfg.XvfbDisplay != "" {
		if err := m.startXvfb(); err != nil {
			return nil, fmt.Errorf("browser: %w", err)
		}
	}
	control, err := m.controlURL(ctx)
	if err != nil {
		m.release()
		return nil, err
	}
	b := rod.New().ControlURL(control)
	if err := b.Connect(); err != nil {
		m.release()
		return nil, fmt.Errorf("browser: connect %s: %w", control, err)
	}
	m.browser = b
	return b, nil
}

// controlURL returns the DevTools endpoint to attach to, starting Chrome
// when no remote one is configured.
func (m *Manager) controlURL(ctx context.Context) (string, error) {
	if m.cfg.RemoteURL != "" {
		m.cfg.Logger.Info("browser: attaching to reviewer chrome", "url", m.cfg.RemoteURL)
		return m.cfg.RemoteURL, nil
	}
	l := m.launcher(ctx)
	u, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("browser: launch chrome: %w", err)
	}
	m.lnch = l
	m.cfg.Logger.Info("browser: chrome started for review",
		"mode", m.cfg.Mode, "window", l.Get("window-size"))
	return u, nil
}

func (m *Manager) launcher(ctx context.Context) *launcher.Launcher {
	l := launcher.New().Context(ctx).Headless(m.cfg.Mode != Headful)
	if m.cfg.Bin != "" {
		l = l.Bin(m.cfg.Bin)
	}
	if m.cfg.Mode == Headful && m.cfg.XvfbDisplay != "" {
		l = l.Env("DISPLAY=" + m.cfg.XvfbDisplay)
	}
	if m.cfg.Width > 0 && m.cfg.Height > 0 {
		l = l.Set("window-size", strconv.Itoa(m.cfg.Width)+","+strconv.Itoa(m.cfg.Height))
	}
	if m.cfg.Mode != Plain {
		l = l.Set("disable-blink-features", "AutomationControlled")
	}
	return l
}

// Browser returns the session's browser, nil before Start.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Close ends the browser session and stops anything Start launched.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.release()
}

func (m *Manager) release() error {
	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.stopXvfb()
	return err
}
