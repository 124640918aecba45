// Package inject keeps interactive controls mounted inside a third-party page
// while that page mutates underneath it.
//
// The page is reached only through Document and Element, so the same
// synchronizer runs against a live Chrome tab (internal/rodpage) or an
// in-memory tree (internal/htmldoc). One Integration describes one kind of
// decorated item: which elements are anchors, where the mount host goes, and
// how the content for a control is found.
//
// Flow per page and integration:
//
//	readiness / mutation burst → Coordinator (debounce) → Scanner → MountGuard → Renderer
package inject

import (
	"context"
	"errors"
)

// Element is one node of the page. Lookups that find nothing return (nil, nil).
type Element interface {
	// Query returns the first descendant matching selector.
	Query(ctx context.Context, selector string) (Element, error)
	// QueryAll returns all descendants matching selector in document order.
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	// Children returns the direct children matching selector.
	Children(ctx context.Context, selector string) ([]Element, error)
	// Closest returns the element itself or its nearest ancestor matching selector.
	Closest(ctx context.Context, selector string) (Element, error)
	// Parent returns the parent element.
	Parent(ctx context.Context) (Element, error)
	// Text returns the textContent of the subtree.
	Text(ctx context.Context) (string, error)
	// AppendElement creates a tag element with the given class and appends it
	// as the last child.
	AppendElement(ctx context.Context, tag, class string) (Element, error)
}

// ObserveOptions tunes a mutation subscription.
type ObserveOptions struct {
	// IgnoreClasses suppresses notifications for insertions whose added
	// elements all carry one of these classes.
	IgnoreClasses []string
}

// Document is the page being decorated.
type Document interface {
	// QueryAll returns all elements matching selector in document order.
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	// Ready reports whether the document has finished loading.
	Ready(ctx context.Context) (bool, error)
	// OnReady calls fn once when the document becomes ready.
	OnReady(ctx context.Context, fn func()) error
	// Observe calls fn for every child-list change under the body, at any depth.
	// The returned stop function detaches the subscription.
	Observe(ctx context.Context, opts ObserveOptions, fn func()) (stop func(), err error)
}

// ContentAccessor returns the current content for a mounted control.
type ContentAccessor func(ctx context.Context) string

// Renderer draws a control into a mount host. It must not touch anything
// outside host.
type Renderer interface {
	Render(ctx context.Context, host Element, content ContentAccessor) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, host Element, content ContentAccessor) error

// Render implements Renderer.
func (f RendererFunc) Render(ctx context.Context, host Element, content ContentAccessor) error {
	return f(ctx, host, content)
}

var (
	// ErrRenderer wraps failures (errors and panics) raised by a Renderer.
	ErrRenderer = errors.New("inject: renderer failed")
	// ErrInvalidIntegration is returned by Integration.Validate.
	ErrInvalidIntegration = errors.New("inject: invalid integration")
)
