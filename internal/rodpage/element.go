package rodpage

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/dominject/inject"
)

// Lookups return arrays so that "no match" is an empty result rather than
// rod's not-found error.
const (
	queryJS    = `(s) => { const e = this.querySelector(s); return e ? [e] : []; }`
	closestJS  = `(s) => { const e = this.closest(s); return e ? [e] : []; }`
	parentJS   = `() => this.parentElement ? [this.parentElement] : []`
	childrenJS = `(s) => Array.from(this.children).filter((c) => c.matches(s))`
	textJS     = `() => this.textContent`
	appendJS   = `(tag, cls) => {
		const h = document.createElement(tag);
		if (cls) h.className = cls;
		this.appendChild(h);
		return [h];
	}`
)

// Element is an inject.Element on a remote DOM node.
type Element struct {
	el *rod.Element
}

// Rod returns the underlying rod element.
func (e *Element) Rod() *rod.Element { return e.el }

// Query implements inject.Element.
func (e *Element) Query(ctx context.Context, selector string) (inject.Element, error) {
	return e.one(ctx, "query", queryJS, selector)
}

// QueryAll implements inject.Element.
func (e *Element) QueryAll(ctx context.Context, selector string) ([]inject.Element, error) {
	els, err := e.el.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("rodpage: query all %q: %w", selector, err)
	}
	return wrapAll(els), nil
}

// Children implements inject.Element.
func (e *Element) Children(ctx context.Context, selector string) ([]inject.Element, error) {
	els, err := e.el.Context(ctx).ElementsByJS(rod.Eval(childrenJS, selector))
	if err != nil {
		return nil, fmt.Errorf("rodpage: children %q: %w", selector, err)
	}
	return wrapAll(els), nil
}

// Closest implements inject.Element.
func (e *Element) Closest(ctx context.Context, selector string) (inject.Element, error) {
	return e.one(ctx, "closest", closestJS, selector)
}

// Parent implements inject.Element.
func (e *Element) Parent(ctx context.Context) (inject.Element, error) {
	return e.one(ctx, "parent", parentJS)
}

// Text implements inject.Element.
func (e *Element) Text(ctx context.Context) (string, error) {
	res, err := e.el.Context(ctx).Eval(textJS)
	if err != nil {
		return "", fmt.Errorf("rodpage: text: %w", err)
	}
	return res.Value.Str(), nil
}

// AppendElement implements inject.Element.
func (e *Element) AppendElement(ctx context.Context, tag, class string) (inject.Element, error) {
	return e.one(ctx, "append", appendJS, tag, class)
}

func (e *Element) one(ctx context.Context, op, js string, args ...any) (inject.Element, error) {
	els, err := e.el.Context(ctx).ElementsByJS(rod.Eval(js, args...))
	if err != nil {
		return nil, fmt.Errorf("rodpage: %s: %w", op, err)
	}
	if len(els) == 0 {
		return nil, nil
	}
	return &Element{el: els[0]}, nil
}

func wrapAll(els rod.Elements) []inject.Element {
	out := make([]inject.Element, 0, len(els))
	for _, el := range els {
		out = append(out, &Element{el: el})
	}
	return out
}
