// CLAUDE:SUMMARY inject.Document over a live go-rod page: querySelector lookups, readiness promise, MutationObserver feed bridged through Runtime.addBinding.
// Package rodpage implements inject.Document and inject.Renderer on a live
// Chrome page driven by go-rod.
//
// Lookups never wait: a selector with no match returns an empty result at
// once, which is what the synchronizer expects from a discovery pass.
// Mutations are observed by an injected MutationObserver that calls back into
// Go through a CDP binding; the observer is also registered for future
// documents of the page so it survives navigations.
package rodpage

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/dominject/inject"
	"github.com/hazyhaar/dominject/internal/idgen"
)

//go:embed observer.js
var observerJS string

const (
	readyJS = `() => document.readyState !== "loading"`

	waitReadyJS = `() => new Promise((resolve) => {
		if (document.readyState !== "loading") { resolve(true); return; }
		document.addEventListener("DOMContentLoaded", () => resolve(true), { once: true });
	})`

	disconnectJS = `(binding) => {
		const reg = window.__dominjectObservers;
		if (reg && reg[binding]) { reg[binding].disconnect(); delete reg[binding]; }
	}`
)

// cleanupTimeout bounds the page calls made while detaching.
const cleanupTimeout = 2 * time.Second

// Document is an inject.Document on a rod page.
type Document struct {
	page    *rod.Page
	logger  *slog.Logger
	binding idgen.Generator
}

// New wraps page. The page should already be navigated.
func New(page *rod.Page, logger *slog.Logger) *Document {
	if logger == nil {
		logger = slog.Default()
	}
	return &Document{
		page:    page,
		logger:  logger,
		binding: idgen.Prefixed("__dominject_mut_", idgen.NanoID(10)),
	}
}

// Page returns the underlying rod page.
func (d *Document) Page() *rod.Page { return d.page }

// QueryAll implements inject.Document.
func (d *Document) QueryAll(ctx context.Context, selector string) ([]inject.Element, error) {
	els, err := d.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("rodpage: query %q: %w", selector, err)
	}
	return wrapAll(els), nil
}

// Ready implements inject.Document.
func (d *Document) Ready(ctx context.Context) (bool, error) {
	res, err := d.page.Context(ctx).Eval(readyJS)
	if err != nil {
		return false, fmt.Errorf("rodpage: ready state: %w", err)
	}
	return res.Value.Bool(), nil
}

// OnReady implements inject.Document. fn runs on its own goroutine once
// DOMContentLoaded has fired; it does not run if ctx ends first.
func (d *Document) OnReady(ctx context.Context, fn func()) error {
	go func() {
		if _, err := d.page.Context(ctx).Eval(waitReadyJS); err != nil {
			if ctx.Err() == nil {
				d.logger.Warn("rodpage: wait ready", "error", err)
			}
			return
		}
		fn()
	}()
	return nil
}

// Observe implements inject.Document.
func (d *Document) Observe(ctx context.Context, opts inject.ObserveOptions, fn func()) (func(), error) {
	name := d.binding()
	ignore := opts.IgnoreClasses
	if ignore == nil {
		ignore = []string{}
	}

	if err := (proto.RuntimeAddBinding{Name: name}).Call(d.page); err != nil {
		return nil, fmt.Errorf("rodpage: add binding: %w", err)
	}

	obsCtx, cancel := context.WithCancel(ctx)
	wait := d.page.Context(obsCtx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name == name {
			fn()
		}
	})
	go wait()

	script, err := callScript(observerJS, name, ignore)
	if err != nil {
		cancel()
		d.removeBinding(name)
		return nil, err
	}
	removeScript, err := d.page.EvalOnNewDocument(script)
	if err != nil {
		cancel()
		d.removeBinding(name)
		return nil, fmt.Errorf("rodpage: register observer: %w", err)
	}
	if _, err := d.page.Context(ctx).Eval(observerJS, name, ignore); err != nil {
		cancel()
		_ = removeScript()
		d.removeBinding(name)
		return nil, fmt.Errorf("rodpage: install observer: %w", err)
	}
	d.logger.Debug("rodpage: observer installed", "binding", name, "ignore", ignore)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			p := d.page.Timeout(cleanupTimeout)
			defer p.CancelTimeout()
			if _, err := p.Eval(disconnectJS, name); err != nil {
				d.logger.Debug("rodpage: disconnect observer", "error", err)
			}
			if err := removeScript(); err != nil {
				d.logger.Debug("rodpage: unregister observer", "error", err)
			}
			d.removeBinding(name)
		})
	}
	context.AfterFunc(ctx, stop)
	return stop, nil
}

func (d *Document) removeBinding(name string) {
	p := d.page.Timeout(cleanupTimeout)
	defer p.CancelTimeout()
	if err := (proto.RuntimeRemoveBinding{Name: name}).Call(p); err != nil {
		d.logger.Debug("rodpage: remove binding", "binding", name, "error", err)
	}
}

// callScript renders an immediately invoked call of fn with JSON arguments,
// for scripts evaluated before a document exists.
func callScript(fn string, args ...any) (string, error) {
	b, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("rodpage: encode script args: %w", err)
	}
	return fmt.Sprintf("(%s).apply(null, %s);", fn, b), nil
}
