// CLAUDE:SUMMARY Chrome lifecycle for dominject: launch or connect via go-rod, optional time/heap based recycling with before/after callbacks.
// Package browser launches Chrome (or connects to a running one), opens tabs
// and optionally recycles the process when it ages or its JS heap grows.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of a running Chrome. Empty
	// launches a local one.
	RemoteURL string

	// Bin is the Chrome binary. Empty lets the launcher find or fetch one.
	Bin string

	// Headful shows the browser window. Controls are meant to be clicked,
	// so interactive sessions want this.
	Headful bool

	// UserDataDir keeps cookies and logins across runs.
	UserDataDir string

	// ResourceBlocking lists resource types to block (images, fonts, media, stylesheets).
	ResourceBlocking []string

	// NavigateTimeout bounds navigation and load. Default: 30s.
	NavigateTimeout time.Duration

	// RecycleInterval restarts Chrome after this lifetime. Zero disables.
	RecycleInterval time.Duration

	// MemoryLimit restarts Chrome when the JS heap of the first page exceeds
	// it, in bytes. Zero disables.
	MemoryLimit int64

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// RecycleCallback lets the owner of open tabs detach before Chrome is killed
// and reattach afterwards.
type RecycleCallback struct {
	BeforeRecycle func()
	AfterRecycle  func(browser *rod.Browser)
}

// Manager manages the Chrome lifecycle.
type Manager struct {
	cfg     Config
	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	startAt time.Time
	closed  bool
	cb      *RecycleCallback
}

// NewManager creates a Manager. Call Start to launch Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// SetRecycleCallback sets the callback for recycle events.
func (m *Manager) SetRecycleCallback(cb *RecycleCallback) {
	m.mu.Lock()
	m.cb = cb
	m.mu.Unlock()
}

// Start launches or connects Chrome and starts the recycle monitor when
// recycling is enabled.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("browser: manager is closed")
	}
	if m.browser != nil {
		return m.browser, nil
	}

	b, err := m.launch()
	if err != nil {
		return nil, err
	}
	m.browser = b
	m.startAt = time.Now()

	if m.cfg.RecycleInterval > 0 || m.cfg.MemoryLimit > 0 {
		go m.monitorLoop(ctx)
	}
	return b, nil
}

// Browser returns the current browser handle, nil before Start.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Recycle kills Chrome, restarts it and runs the callbacks around it.
func (m *Manager) Recycle() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("browser: manager is closed")
	}
	cb := m.cb
	m.mu.Unlock()

	if cb != nil && cb.BeforeRecycle != nil {
		cb.BeforeRecycle()
	}

	m.mu.Lock()
	b, err := m.recycleLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}

	if cb != nil && cb.AfterRecycle != nil {
		cb.AfterRecycle(b)
	}
	return nil
}

// Close shuts Chrome down. A remote browser is only disconnected.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.cleanup()
}

func (m *Manager) launch() (*rod.Browser, error) {
	log := m.cfg.Logger

	wsURL := m.cfg.RemoteURL
	if wsURL != "" {
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Headless(!m.cfg.Headful)
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		if m.cfg.UserDataDir != "" {
			l = l.UserDataDir(m.cfg.UserDataDir)
		}
		l = l.Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "headful", m.cfg.Headful)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if m.lnch != nil {
			m.lnch.Cleanup()
			m.lnch = nil
		}
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

func (m *Manager) recycleLocked() (*rod.Browser, error) {
	log := m.cfg.Logger
	log.Info("browser: recycling", "uptime", time.Since(m.startAt))

	if err := m.cleanup(); err != nil {
		log.Warn("browser: cleanup during recycle", "error", err)
	}

	b, err := m.launch()
	if err != nil {
		return nil, fmt.Errorf("browser: relaunch: %w", err)
	}
	m.browser = b
	m.startAt = time.Now()
	log.Info("browser: recycled")
	return b, nil
}

func (m *Manager) cleanup() error {
	var err error
	if m.browser != nil {
		if m.lnch != nil {
			err = m.browser.Close()
		}
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	return err
}

func (m *Manager) monitorLoop(ctx context.Context) {
	log := m.cfg.Logger
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.RLock()
		closed, b, startAt := m.closed, m.browser, m.startAt
		m.mu.RUnlock()
		if closed {
			return
		}
		if b == nil {
			continue
		}

		if m.shouldRecycle(b, startAt) {
			if err := m.Recycle(); err != nil {
				log.Error("browser: recycle failed", "error", err)
			}
		}
	}
}

func (m *Manager) shouldRecycle(b *rod.Browser, startAt time.Time) bool {
	log := m.cfg.Logger
	if m.cfg.RecycleInterval > 0 && time.Since(startAt) > m.cfg.RecycleInterval {
		log.Info("browser: recycle interval reached")
		return true
	}
	if m.cfg.MemoryLimit <= 0 {
		return false
	}
	used, err := jsHeapUsage(b)
	if err != nil {
		log.Debug("browser: heap check failed", "error", err)
		return false
	}
	if used > m.cfg.MemoryLimit {
		log.Info("browser: memory limit exceeded", "used", used, "limit", m.cfg.MemoryLimit)
		return true
	}
	return false
}

// jsHeapUsage reads performance.memory of the first page as a proxy for the
// whole browser.
func jsHeapUsage(b *rod.Browser) (int64, error) {
	pages, err := b.Pages()
	if err != nil || len(pages) == 0 {
		return 0, fmt.Errorf("browser: no pages for heap check")
	}
	res, err := pages[0].Eval(`() => performance.memory ? performance.memory.usedJSHeapSize : 0`)
	if err != nil {
		return 0, err
	}
	return int64(res.Value.Int()), nil
}
