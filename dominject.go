// CLAUDE:SUMMARY Top-level orchestrator: owns the browser, one session per page with one coordinator per integration, hot reload of integrations and scan/click events to sinks.
// Package dominject keeps injected controls attached to the repeated items of
// live pages. Each page is a session; each integration on a page is driven by
// an inject.Coordinator that mounts one control per anchor and keeps doing so
// as the page mutates.
//
// Pages opened in Chrome get live controls (rodpage). Any other
// inject.Document, an htmldoc tree for instance, can be attached with
// AttachDocument. Scans and control clicks are reported to the sinks.
package dominject

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/dominject/event"
	"github.com/hazyhaar/dominject/inject"
	"github.com/hazyhaar/dominject/internal/browser"
	"github.com/hazyhaar/dominject/internal/config"
	"github.com/hazyhaar/dominject/internal/idgen"
	"github.com/hazyhaar/dominject/internal/rodpage"
	"github.com/hazyhaar/dominject/internal/sink"
)

var (
	ErrStopped            = errors.New("dominject: injector stopped")
	ErrUnknownPage        = errors.New("dominject: unknown page")
	ErrPageExists         = errors.New("dominject: page already attached")
	ErrUnknownIntegration = errors.New("dominject: unknown integration")
)

// Injector is the top-level orchestrator. Create one per process.
type Injector struct {
	cfg    *config.Config
	mgr    *browser.Manager
	sinkR  *sink.Router
	logger *slog.Logger
	ids    idgen.Generator

	life   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	registry map[string]registered
	sessions map[string]*session
	recycled []config.PageConfig
	stopped  bool
}

type registered struct {
	in  inject.Integration
	rev string
}

type session struct {
	id    string
	url   string
	names []string
	doc   inject.Document

	// Browser pages only.
	page *config.PageConfig
	tab  *browser.Tab

	// Attached documents only.
	renderer func(inject.Integration) inject.Renderer

	bindings map[string]*binding
}

// binding is one running integration on one session.
type binding struct {
	name  string
	rev   string
	coord *inject.Coordinator
	rend  *rodpage.Renderer
	seq   atomic.Uint64
}

// New creates an Injector from cfg. cfg must have been through Prepare (as
// LoadConfigFile does). Nothing runs until Start or an Attach call.
func New(cfg *Config, logger *slog.Logger, sinks ...Sink) (*Injector, error) {
	if cfg == nil {
		return nil, fmt.Errorf("dominject: nil config")
	}
	if logger == nil {
		logger = slog.Default()
	}
	reg, err := buildRegistry(cfg.Integrations, cfg.Debounce)
	if err != nil {
		return nil, fmt.Errorf("dominject: %w", err)
	}

	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		Bin:              cfg.Browser.Bin,
		Headful:          cfg.Browser.Headful,
		UserDataDir:      cfg.Browser.UserDataDir,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		NavigateTimeout:  cfg.Browser.NavigateTimeout,
		RecycleInterval:  cfg.Browser.RecycleInterval,
		MemoryLimit:      cfg.Browser.MemoryLimit,
		Logger:           logger,
	})

	life, cancel := context.WithCancel(context.Background())
	return &Injector{
		cfg:      cfg,
		mgr:      mgr,
		sinkR:    sink.NewRouter(logger, sinks...),
		logger:   logger,
		ids:      idgen.Default,
		life:     life,
		cancel:   cancel,
		registry: reg,
		sessions: make(map[string]*session),
	}, nil
}

// Start launches the browser and attaches every configured page. A page that
// fails to attach is logged and skipped.
func (i *Injector) Start(ctx context.Context) error {
	if _, err := i.mgr.Start(ctx); err != nil {
		return fmt.Errorf("dominject: start browser: %w", err)
	}

	i.mgr.SetRecycleCallback(&browser.RecycleCallback{
		BeforeRecycle: i.detachTabs,
		AfterRecycle:  func(*rod.Browser) { i.reattachTabs(ctx) },
	})

	for _, p := range i.cfg.Pages {
		if err := i.AttachPage(ctx, p); err != nil {
			i.logger.Error("dominject: failed to attach page", "page", p.ID, "url", p.URL, "error", err)
		}
	}
	return nil
}

// AttachPage opens p in a new tab and starts its integrations. The browser
// must be started.
func (i *Injector) AttachPage(ctx context.Context, p config.PageConfig) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.attachPageLocked(ctx, p)
}

func (i *Injector) attachPageLocked(ctx context.Context, p config.PageConfig) error {
	names, err := i.checkAttachLocked(p.ID, p.Integrations)
	if err != nil {
		return err
	}

	tab, err := browser.OpenTab(ctx, i.mgr, p.URL, p.ID, p.Stealth)
	if err != nil {
		return fmt.Errorf("dominject: open tab: %w", err)
	}

	s := &session{
		id:       p.ID,
		url:      p.URL,
		names:    names,
		doc:      rodpage.New(tab.Page, i.logger.With("page", p.ID)),
		page:     &p,
		tab:      tab,
		bindings: make(map[string]*binding),
	}
	if err := i.startSessionLocked(s); err != nil {
		tab.Close()
		return err
	}
	i.sessions[p.ID] = s

	i.logger.Info("dominject: page attached", "page", p.ID, "url", p.URL, "integrations", names)
	return nil
}

// DocumentConfig attaches a Document that is not a browser tab.
type DocumentConfig struct {
	ID       string
	URL      string
	Document inject.Document
	// Integrations to run. Empty runs every registered integration.
	Integrations []string
	// Renderer builds the renderer of each integration. Nil, or a nil
	// result, mounts empty hosts.
	Renderer func(inject.Integration) inject.Renderer
}

// AttachDocument starts the integrations of dc on dc.Document.
func (i *Injector) AttachDocument(ctx context.Context, dc DocumentConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dc.Document == nil {
		return fmt.Errorf("dominject: attach %s: nil document", dc.ID)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	names, err := i.checkAttachLocked(dc.ID, dc.Integrations)
	if err != nil {
		return err
	}
	s := &session{
		id:       dc.ID,
		url:      dc.URL,
		names:    names,
		doc:      dc.Document,
		renderer: dc.Renderer,
		bindings: make(map[string]*binding),
	}
	if err := i.startSessionLocked(s); err != nil {
		return err
	}
	i.sessions[dc.ID] = s

	i.logger.Info("dominject: document attached", "page", dc.ID, "integrations", names)
	return nil
}

// DetachPage stops the integrations of a page and closes its tab.
func (i *Injector) DetachPage(id string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	s, ok := i.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPage, id)
	}
	delete(i.sessions, id)
	i.stopSessionLocked(s)
	i.logger.Info("dominject: page detached", "page", id)
	return nil
}

// PageStatus describes one attached page.
type PageStatus struct {
	ID           string         `json:"id"`
	URL          string         `json:"url"`
	Browser      bool           `json:"browser"`
	Integrations []inject.Stats `json:"integrations"`
}

// Status returns every attached page, sorted by id.
func (i *Injector) Status() []PageStatus {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := make([]PageStatus, 0, len(i.sessions))
	for _, s := range i.sessions {
		ps := PageStatus{ID: s.id, URL: s.url, Browser: s.tab != nil}
		for _, name := range s.names {
			if b := s.bindings[name]; b != nil {
				ps.Integrations = append(ps.Integrations, b.coord.Stats())
			}
		}
		out = append(out, ps)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// ScanResult is the outcome of one integration in Rescan.
type ScanResult struct {
	Integration string        `json:"integration"`
	Result      inject.Result `json:"result"`
	Error       string        `json:"error,omitempty"`
}

// Rescan runs an immediate scan of every integration of a page.
func (i *Injector) Rescan(ctx context.Context, id string) ([]ScanResult, error) {
	i.mu.Lock()
	s, ok := i.sessions[id]
	var coords []*inject.Coordinator
	if ok {
		for _, name := range s.names {
			if b := s.bindings[name]; b != nil {
				coords = append(coords, b.coord)
			}
		}
	}
	i.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPage, id)
	}

	out := make([]ScanResult, 0, len(coords))
	for _, c := range coords {
		res, err := c.ScanNow(ctx)
		sr := ScanResult{Integration: c.Name(), Result: res}
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			sr.Error = err.Error()
		}
		out = append(out, sr)
	}
	return out, nil
}

// Integrations returns the registered integration names, sorted.
func (i *Injector) Integrations() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	names := make([]string, 0, len(i.registry))
	for name := range i.registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reload rebuilds the registry from the configured integrations overridden by
// defs, then restarts the bindings whose definition changed. Bindings of
// removed integrations stop; a session gets its binding back when the
// integration returns. It reports how many bindings were (re)started.
func (i *Injector) Reload(ctx context.Context, defs []IntegrationConfig) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	reg, err := buildRegistry(config.Merge(i.cfg.Integrations, defs), i.cfg.Debounce)
	if err != nil {
		return 0, fmt.Errorf("dominject: reload: %w", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.stopped {
		return 0, ErrStopped
	}
	i.registry = reg

	started := 0
	for _, s := range i.sessions {
		started += i.reconcileLocked(s)
	}
	return started, nil
}

// WatchDatabase loads the active integrations of db, applies them, and keeps
// applying them on every change until ctx ends.
func (i *Injector) WatchDatabase(ctx context.Context, db *sql.DB) error {
	load := func(ctx context.Context) error {
		defs, err := config.LoadIntegrations(ctx, db)
		if err != nil {
			return err
		}
		n, err := i.Reload(ctx, defs)
		if err != nil {
			return err
		}
		i.logger.Info("dominject: integrations loaded", "definitions", len(defs), "restarted", n)
		return nil
	}
	w := config.WatchIntegrations(db, i.logger)
	if err := w.Prime(ctx); err != nil {
		return fmt.Errorf("dominject: watch integrations: %w", err)
	}
	if err := load(ctx); err != nil {
		return err
	}
	go w.OnChange(ctx, load)
	return nil
}

// Stop detaches every page, closes the sinks and shuts the browser down.
func (i *Injector) Stop() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.stopped {
		return
	}
	i.stopped = true

	for id, s := range i.sessions {
		i.stopSessionLocked(s)
		i.logger.Info("dominject: page stopped", "page", id)
	}
	i.sessions = make(map[string]*session)
	i.cancel()

	if err := i.sinkR.Close(); err != nil {
		i.logger.Warn("dominject: close sinks", "error", err)
	}
	if err := i.mgr.Close(); err != nil {
		i.logger.Warn("dominject: close browser", "error", err)
	}
}

func (i *Injector) checkAttachLocked(id string, want []string) ([]string, error) {
	if i.stopped {
		return nil, ErrStopped
	}
	if id == "" {
		return nil, fmt.Errorf("dominject: attach: missing page id")
	}
	if _, ok := i.sessions[id]; ok {
		return nil, fmt.Errorf("%w: %q", ErrPageExists, id)
	}
	if len(want) == 0 {
		names := make([]string, 0, len(i.registry))
		for name := range i.registry {
			names = append(names, name)
		}
		sort.Strings(names)
		return names, nil
	}
	names := make([]string, 0, len(want))
	for _, name := range want {
		if _, ok := i.registry[name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownIntegration, name)
		}
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	return names, nil
}

func (i *Injector) startSessionLocked(s *session) error {
	for _, name := range s.names {
		b, err := i.startBindingLocked(s, i.registry[name])
		if err != nil {
			i.stopBindings(s)
			return fmt.Errorf("dominject: %s: start %s: %w", s.id, name, err)
		}
		s.bindings[name] = b
	}
	return nil
}

func (i *Injector) startBindingLocked(s *session, r registered) (*binding, error) {
	logger := i.logger.With("page", s.id)
	b := &binding{name: r.in.Name, rev: r.rev}

	var rend inject.Renderer
	switch {
	case s.tab != nil:
		rr, err := rodpage.NewRenderer(i.life, rodpage.RendererConfig{
			Page:        s.tab.Page,
			Integration: r.in,
			OnClick:     func(ctx context.Context, c rodpage.Click) { i.emitAction(ctx, s, c) },
			Alert:       s.page.Alert,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		b.rend = rr
		rend = rr
	case s.renderer != nil:
		rend = s.renderer(r.in)
	}

	coord, err := inject.NewCoordinator(inject.CoordinatorConfig{
		Document:    s.doc,
		Integration: r.in,
		Renderer:    rend,
		OnScan:      func(res inject.Result) { i.emitScan(s, b, res) },
		Logger:      logger,
	})
	if err != nil {
		b.close(logger)
		return nil, err
	}
	b.coord = coord
	if err := coord.Start(i.life); err != nil {
		b.close(logger)
		return nil, err
	}
	return b, nil
}

// reconcileLocked brings the bindings of s in line with the registry.
func (i *Injector) reconcileLocked(s *session) int {
	logger := i.logger.With("page", s.id)
	started := 0
	for _, name := range s.names {
		r, ok := i.registry[name]
		b := s.bindings[name]
		switch {
		case !ok:
			if b != nil {
				b.close(logger)
				delete(s.bindings, name)
				logger.Warn("dominject: integration removed", "integration", name)
			}
		case b != nil && b.rev == r.rev:
		default:
			if b != nil {
				b.close(logger)
				delete(s.bindings, name)
			}
			nb, err := i.startBindingLocked(s, r)
			if err != nil {
				logger.Error("dominject: restart integration", "integration", name, "error", err)
				continue
			}
			s.bindings[name] = nb
			started++
			logger.Info("dominject: integration started", "integration", name, "revision", r.rev)
		}
	}
	return started
}

func (i *Injector) stopSessionLocked(s *session) {
	i.stopBindings(s)
	if s.tab != nil {
		if err := s.tab.Close(); err != nil {
			i.logger.Debug("dominject: close tab", "page", s.id, "error", err)
		}
	}
}

func (i *Injector) stopBindings(s *session) {
	logger := i.logger.With("page", s.id)
	for name, b := range s.bindings {
		b.close(logger)
		delete(s.bindings, name)
	}
}

// detachTabs runs before the browser is recycled: browser sessions are
// stopped and remembered, attached documents are left alone.
func (i *Injector) detachTabs() {
	i.mu.Lock()
	defer i.mu.Unlock()
	for id, s := range i.sessions {
		if s.tab == nil {
			continue
		}
		i.stopSessionLocked(s)
		delete(i.sessions, id)
		i.recycled = append(i.recycled, *s.page)
	}
}

func (i *Injector) reattachTabs(ctx context.Context) {
	i.mu.Lock()
	defer i.mu.Unlock()
	pages := i.recycled
	i.recycled = nil
	for _, p := range pages {
		if err := i.attachPageLocked(ctx, p); err != nil {
			i.logger.Error("dominject: reattach page failed", "page", p.ID, "url", p.URL, "error", err)
		}
	}
}

func (i *Injector) emitScan(s *session, b *binding, res inject.Result) {
	ev := event.Scan{
		ID:          i.ids(),
		PageID:      s.id,
		PageURL:     s.url,
		Integration: b.name,
		Seq:         b.seq.Add(1),
		Result:      res,
		Timestamp:   time.Now().UnixMilli(),
	}
	i.sinkR.SendScan(i.life, ev)
}

func (i *Injector) emitAction(ctx context.Context, s *session, c rodpage.Click) {
	ev := event.Action{
		ID:          i.ids(),
		PageID:      s.id,
		PageURL:     s.url,
		Integration: c.Integration,
		HostID:      c.HostID,
		Text:        c.Text,
		Empty:       c.Empty,
		Timestamp:   time.Now().UnixMilli(),
	}
	i.sinkR.SendAction(ctx, ev)
}

func (b *binding) close(logger *slog.Logger) {
	if b.coord != nil {
		b.coord.Stop()
	}
	if b.rend != nil {
		if err := b.rend.Close(); err != nil {
			logger.Debug("dominject: close renderer", "integration", b.name, "error", err)
		}
	}
}

func buildRegistry(defs []config.IntegrationConfig, debounce time.Duration) (map[string]registered, error) {
	ins, err := config.Registry(defs, debounce)
	if err != nil {
		return nil, err
	}
	revs := make(map[string]string, len(defs))
	for _, d := range defs {
		revs[d.Key()] = d.Revision()
	}
	reg := make(map[string]registered, len(ins))
	for name, in := range ins {
		reg[name] = registered{in: in, rev: revs[name]}
	}
	return reg, nil
}
