package rodpage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/dominject/inject"
	"github.com/hazyhaar/dominject/internal/idgen"
)

//go:embed control.js
var controlJS string

const (
	alertJS     = `(text) => { setTimeout(() => alert(text), 0); }`
	connectedJS = `() => this.isConnected`
)

// minSweep is the accessor count that triggers the first sweep of hosts
// removed from the page.
const minSweep = 256

// ErrUnknownHost is returned by Click for a host id the renderer never
// rendered, or rendered before Close.
var ErrUnknownHost = errors.New("rodpage: unknown host")

// Click is the outcome of pressing an injected control.
type Click struct {
	Integration string
	HostID      string
	Text        string
	// Empty reports that no content was found and Text is the placeholder.
	Empty bool
}

// RendererConfig configures a Renderer for one integration on one page.
type RendererConfig struct {
	Page        *rod.Page
	Integration inject.Integration
	// OnClick receives every resolved click. Optional.
	OnClick func(context.Context, Click)
	// Alert also shows the clicked text in the page with window.alert.
	Alert  bool
	Logger *slog.Logger
}

// Renderer draws a labelled button in an open shadow root on each mount host.
// A click is routed back through a page binding, resolved against the content
// accessor of that host and reported through OnClick.
type Renderer struct {
	page        *rod.Page
	integration string
	label       string
	placeholder string
	accent      string
	alert       bool
	onClick     func(context.Context, Click)
	logger      *slog.Logger
	hostID      idgen.Generator

	binding string
	cancel  context.CancelFunc

	mu        sync.Mutex
	accessors map[string]mounted
	sweepAt   int
	closed    bool
}

// mounted is a rendered host. alive reports whether it is still in the
// page; nil means always.
type mounted struct {
	content inject.ContentAccessor
	alive   func(context.Context) bool
}

// NewRenderer registers the click binding on the page and starts listening.
// ctx bounds the listener; Close releases it earlier.
func NewRenderer(ctx context.Context, cfg RendererConfig) (*Renderer, error) {
	if cfg.Page == nil {
		return nil, fmt.Errorf("rodpage: renderer: nil page")
	}
	r := newRenderer(cfg)

	if err := (proto.RuntimeAddBinding{Name: r.binding}).Call(r.page); err != nil {
		return nil, fmt.Errorf("rodpage: add click binding: %w", err)
	}

	lctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	wait := r.page.Context(lctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != r.binding {
			return
		}
		go r.handleClick(lctx, e.Payload)
	})
	go wait()

	return r, nil
}

func newRenderer(cfg RendererConfig) *Renderer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	in := cfg.Integration
	label := in.Label
	if label == "" {
		label = in.Name
	}
	accent := in.Accent
	if accent == "" {
		accent = "#2563eb"
	}
	return &Renderer{
		page:        cfg.Page,
		integration: in.Name,
		label:       label,
		placeholder: in.Placeholder,
		accent:      accent,
		alert:       cfg.Alert,
		onClick:     cfg.OnClick,
		logger:      cfg.Logger.With("integration", in.Name),
		hostID:      idgen.Prefixed("h", idgen.NanoID(12)),
		binding:     idgen.Prefixed("__dominject_click_", idgen.NanoID(10))(),
		accessors:   make(map[string]mounted),
		sweepAt:     minSweep,
	}
}

// Render implements inject.Renderer. host must come from a rodpage Document.
func (r *Renderer) Render(ctx context.Context, host inject.Element, content inject.ContentAccessor) error {
	el, ok := host.(*Element)
	if !ok {
		return fmt.Errorf("rodpage: render: host %T is not a page element", host)
	}

	id := r.hostID()
	if err := r.register(id, content, el.connected); err != nil {
		return err
	}
	if _, err := el.el.Context(ctx).Eval(controlJS, r.binding, id, r.label, r.accent); err != nil {
		r.forget(id)
		return fmt.Errorf("rodpage: render control: %w", err)
	}
	r.maybeSweep(ctx)
	return nil
}

// Click resolves the content of a rendered host as a button press would.
func (r *Renderer) Click(ctx context.Context, hostID string) (Click, error) {
	r.mu.Lock()
	m, ok := r.accessors[hostID]
	r.mu.Unlock()
	if !ok {
		return Click{}, fmt.Errorf("%w: %q", ErrUnknownHost, hostID)
	}

	c := Click{Integration: r.integration, HostID: hostID, Text: m.content(ctx)}
	if c.Text == "" {
		c.Text, c.Empty = r.placeholder, true
	}
	return c, nil
}

// Hosts returns the number of live accessors.
func (r *Renderer) Hosts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.accessors)
}

// Close stops the click listener and drops every accessor. Controls already
// in the page stay visible but do nothing.
func (r *Renderer) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.accessors = make(map[string]mounted)
	r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	if r.page == nil {
		return nil
	}
	p := r.page.Timeout(cleanupTimeout)
	defer p.CancelTimeout()
	if err := (proto.RuntimeRemoveBinding{Name: r.binding}).Call(p); err != nil {
		return fmt.Errorf("rodpage: remove click binding: %w", err)
	}
	return nil
}

func (r *Renderer) register(id string, content inject.ContentAccessor, alive func(context.Context) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("rodpage: render: renderer closed")
	}
	r.accessors[id] = mounted{content: content, alive: alive}
	return nil
}

// maybeSweep drops the accessors of detached hosts once the map has grown
// past sweepAt. The next sweep waits until the map doubles again.
func (r *Renderer) maybeSweep(ctx context.Context) {
	r.mu.Lock()
	due := len(r.accessors) >= r.sweepAt
	r.mu.Unlock()
	if due {
		r.sweep(ctx)
	}
}

// sweep checks every host outside the lock and forgets the detached ones.
func (r *Renderer) sweep(ctx context.Context) int {
	r.mu.Lock()
	snapshot := make(map[string]mounted, len(r.accessors))
	for id, m := range r.accessors {
		snapshot[id] = m
	}
	r.mu.Unlock()

	var dead []string
	for id, m := range snapshot {
		if ctx.Err() != nil {
			return 0
		}
		if m.alive != nil && !m.alive(ctx) {
			dead = append(dead, id)
		}
	}

	r.mu.Lock()
	for _, id := range dead {
		delete(r.accessors, id)
	}
	r.sweepAt = max(minSweep, 2*len(r.accessors))
	r.mu.Unlock()

	if len(dead) > 0 {
		r.logger.Debug("rodpage: dropped detached hosts", "dropped", len(dead))
	}
	return len(dead)
}

func (r *Renderer) forget(id string) {
	r.mu.Lock()
	delete(r.accessors, id)
	r.mu.Unlock()
}

func (r *Renderer) handleClick(ctx context.Context, hostID string) {
	c, err := r.Click(ctx, hostID)
	if err != nil {
		r.logger.Warn("rodpage: click", "host", hostID, "error", err)
		return
	}
	r.logger.Info("rodpage: control clicked", "host", hostID, "empty", c.Empty, "chars", len(c.Text))

	if r.onClick != nil {
		r.onClick(ctx, c)
	}
	if r.alert && r.page != nil {
		if _, err := r.page.Context(ctx).Eval(alertJS, c.Text); err != nil {
			r.logger.Debug("rodpage: alert", "error", err)
		}
	}
}

// connected reports whether e is still attached to the document. A node
// the browser no longer knows is detached; a cancelled ctx decides nothing.
func (e *Element) connected(ctx context.Context) bool {
	res, err := e.el.Context(ctx).Eval(connectedJS)
	if err != nil {
		return ctx.Err() != nil
	}
	return res.Value.Bool()
}

var (
	_ inject.Document = (*Document)(nil)
	_ inject.Element  = (*Element)(nil)
	_ inject.Renderer = (*Renderer)(nil)
)
