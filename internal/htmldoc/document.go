// Package htmldoc is an in-memory inject.Document backed by golang.org/x/net/html.
//
// It stands in for a browser page wherever no browser is available: tests,
// server-side decoration of fetched markup, replaying captured pages. Host
// page changes are applied through Mutate or AppendHTML, which notify
// observers the way a MutationObserver would. Elements appended by the
// synchronizer notify too, filtered by ObserveOptions.IgnoreClasses.
//
// The tree itself is not synchronised per call: a Document implements
// sync.Locker and callers that share it across goroutines hold the lock
// while reading or writing. inject.Coordinator does so around each scan.
package htmldoc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/dominject/inject"
)

// Document is a parsed HTML document with readiness and mutation feeds.
type Document struct {
	tree sync.Mutex
	root *html.Node

	mu        sync.Mutex
	ready     bool
	readyFns  []func()
	observers map[int]*observer
	nextObsID int

	selMu sync.Mutex
	sels  map[string]Selector
}

type observer struct {
	ignore []string
	fn     func()
}

// Option configures Parse.
type Option func(*Document)

// WithLoading starts the document in the loading state; MarkReady ends it.
func WithLoading() Option {
	return func(d *Document) { d.ready = false }
}

// Parse reads a full HTML document.
func Parse(r io.Reader, opts ...Option) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("htmldoc: parse: %w", err)
	}
	d := &Document{
		root:      root,
		ready:     true,
		observers: make(map[int]*observer),
		sels:      make(map[string]Selector),
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// ParseString is Parse on a string.
func ParseString(s string, opts ...Option) (*Document, error) {
	return Parse(strings.NewReader(s), opts...)
}

// Lock acquires the tree lock.
func (d *Document) Lock() { d.tree.Lock() }

// Unlock releases the tree lock.
func (d *Document) Unlock() { d.tree.Unlock() }

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// Mutate applies a host-page change under the tree lock, then notifies
// every observer.
func (d *Document) Mutate(fn func(root *html.Node) error) error {
	d.tree.Lock()
	err := fn(d.root)
	d.tree.Unlock()
	if err != nil {
		return err
	}
	d.notify(nil)
	return nil
}

// AppendHTML parses fragment in the context of the first element matching
// parentSel and appends the resulting nodes to it.
func (d *Document) AppendHTML(parentSel, fragment string) error {
	sel, err := d.compile(parentSel)
	if err != nil {
		return err
	}
	return d.Mutate(func(root *html.Node) error {
		parent := sel.MatchFirst(root)
		if parent == nil {
			return fmt.Errorf("htmldoc: no element matches %q", parentSel)
		}
		nodes, err := html.ParseFragment(strings.NewReader(fragment), parent)
		if err != nil {
			return fmt.Errorf("htmldoc: parse fragment: %w", err)
		}
		for _, n := range nodes {
			parent.AppendChild(n)
		}
		return nil
	})
}

// MarkReady ends the loading state and runs the pending OnReady callbacks.
func (d *Document) MarkReady() {
	d.mu.Lock()
	if d.ready {
		d.mu.Unlock()
		return
	}
	d.ready = true
	fns := d.readyFns
	d.readyFns = nil
	d.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Render serialises the current tree.
func (d *Document) Render(w io.Writer) error {
	d.tree.Lock()
	defer d.tree.Unlock()
	return html.Render(w, d.root)
}

// String renders the document, or an error marker.
func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return "<!-- htmldoc: " + err.Error() + " -->"
	}
	return buf.String()
}

// QueryAll implements inject.Document.
func (d *Document) QueryAll(ctx context.Context, selector string) ([]inject.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sel, err := d.compile(selector)
	if err != nil {
		return nil, err
	}
	return d.wrapAll(sel.MatchAll(d.root)), nil
}

// Ready implements inject.Document.
func (d *Document) Ready(context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready, nil
}

// OnReady implements inject.Document. An already ready document runs fn
// immediately.
func (d *Document) OnReady(_ context.Context, fn func()) error {
	d.mu.Lock()
	if !d.ready {
		d.readyFns = append(d.readyFns, fn)
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()
	fn()
	return nil
}

// Observe implements inject.Document. The subscription also ends with ctx.
func (d *Document) Observe(ctx context.Context, opts inject.ObserveOptions, fn func()) (func(), error) {
	d.mu.Lock()
	id := d.nextObsID
	d.nextObsID++
	d.observers[id] = &observer{ignore: opts.IgnoreClasses, fn: fn}
	d.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.observers, id)
			d.mu.Unlock()
		})
	}
	context.AfterFunc(ctx, stop)
	return stop, nil
}

// notify calls observers outside the state lock. added is the element
// inserted by AppendElement, nil for host-page changes.
func (d *Document) notify(added *html.Node) {
	d.mu.Lock()
	fns := make([]func(), 0, len(d.observers))
	for _, o := range d.observers {
		if added != nil && hasAnyClass(added, o.ignore) {
			continue
		}
		fns = append(fns, o.fn)
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (d *Document) compile(selector string) (Selector, error) {
	d.selMu.Lock()
	defer d.selMu.Unlock()
	if s, ok := d.sels[selector]; ok {
		return s, nil
	}
	s, err := Compile(selector)
	if err != nil {
		return nil, err
	}
	d.sels[selector] = s
	return s, nil
}

func (d *Document) wrap(n *html.Node) inject.Element {
	if n == nil {
		return nil
	}
	return Element{doc: d, n: n}
}

func (d *Document) wrapAll(nodes []*html.Node) []inject.Element {
	out := make([]inject.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, Element{doc: d, n: n})
	}
	return out
}

// Element is an inject.Element on a node of a Document. Two Elements are
// equal when they wrap the same node.
type Element struct {
	doc *Document
	n   *html.Node
}

// Node returns the wrapped node.
func (e Element) Node() *html.Node { return e.n }

// Query implements inject.Element.
func (e Element) Query(_ context.Context, selector string) (inject.Element, error) {
	sel, err := e.doc.compile(selector)
	if err != nil {
		return nil, err
	}
	return e.doc.wrap(sel.MatchFirst(e.n)), nil
}

// QueryAll implements inject.Element.
func (e Element) QueryAll(_ context.Context, selector string) ([]inject.Element, error) {
	sel, err := e.doc.compile(selector)
	if err != nil {
		return nil, err
	}
	return e.doc.wrapAll(sel.MatchAll(e.n)), nil
}

// Children implements inject.Element.
func (e Element) Children(_ context.Context, selector string) ([]inject.Element, error) {
	sel, err := e.doc.compile(selector)
	if err != nil {
		return nil, err
	}
	var out []inject.Element
	for c := e.n.FirstChild; c != nil; c = c.NextSibling {
		if sel.Match(c) {
			out = append(out, Element{doc: e.doc, n: c})
		}
	}
	return out, nil
}

// Closest implements inject.Element.
func (e Element) Closest(_ context.Context, selector string) (inject.Element, error) {
	sel, err := e.doc.compile(selector)
	if err != nil {
		return nil, err
	}
	for n := e.n; n != nil; n = parentElement(n) {
		if sel.Match(n) {
			return e.doc.wrap(n), nil
		}
	}
	return nil, nil
}

// Parent implements inject.Element.
func (e Element) Parent(context.Context) (inject.Element, error) {
	return e.doc.wrap(parentElement(e.n)), nil
}

// Text implements inject.Element with textContent semantics.
func (e Element) Text(context.Context) (string, error) {
	return TextContent(e.n), nil
}

// AppendElement implements inject.Element.
func (e Element) AppendElement(_ context.Context, tag, class string) (inject.Element, error) {
	tag = strings.ToLower(tag)
	n := &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
	}
	if class != "" {
		n.Attr = []html.Attribute{{Key: "class", Val: class}}
	}
	e.n.AppendChild(n)
	e.doc.notify(n)
	return Element{doc: e.doc, n: n}, nil
}

// TextContent concatenates the text nodes under n.
func TextContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
