package inject_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/dominject/inject"
	"github.com/hazyhaar/dominject/internal/htmldoc"
)

// threadPage is a support thread: a header block without editor, then two
// comments.
const threadPage = `<html><body><div id="thread">
<div class="support"><div class="support-body"><div class="support-bod-bottom"><div class="support-txt">header</div></div></div></div>
<div class="support"><div class="support-body"><div class="support-bod-bottom"><div class="content-quill-editor">  hello  </div></div></div></div>
<div class="support"><div class="support-body"><div class="support-bod-bottom"><div class="content-quill-editor">world</div></div></div></div>
</div></body></html>`

const commentFragment = `<div class="support"><div class="support-body"><div class="support-bod-bottom"><div class="content-quill-editor">%s</div></div></div></div>`

// plainComment mounts directly under the anchor so hosts are easy to count.
func plainComment() inject.Integration {
	in := inject.SupportComment()
	in.InsertionPoints = nil
	return in
}

type recorder struct {
	mu        sync.Mutex
	hosts     []inject.Element
	accessors []inject.ContentAccessor
	fail      func(n int) error
}

func (r *recorder) Render(_ context.Context, host inject.Element, content inject.ContentAccessor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.hosts)
	r.hosts = append(r.hosts, host)
	r.accessors = append(r.accessors, content)
	if r.fail != nil {
		return r.fail(n)
	}
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hosts)
}

func (r *recorder) accessor(i int) inject.ContentAccessor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accessors[i]
}

func mustParse(t *testing.T, s string, opts ...htmldoc.Option) *htmldoc.Document {
	t.Helper()
	doc, err := htmldoc.ParseString(s, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

// hostsPerAnchor counts marker-carrying direct children of every anchor.
func hostsPerAnchor(t *testing.T, doc *htmldoc.Document, in inject.Integration) []int {
	t.Helper()
	ctx := context.Background()
	doc.Lock()
	defer doc.Unlock()
	anchors, err := doc.QueryAll(ctx, in.Anchor)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]int, len(anchors))
	for i, a := range anchors {
		hosts, err := a.Children(ctx, "."+in.Marker)
		if err != nil {
			t.Fatal(err)
		}
		out[i] = len(hosts)
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func waitResult(t *testing.T, ch <-chan inject.Result) inject.Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a scan")
		return inject.Result{}
	}
}

func expectNoResult(t *testing.T, ch <-chan inject.Result, d time.Duration) {
	t.Helper()
	select {
	case r := <-ch:
		t.Fatalf("unexpected scan: %+v", r)
	case <-time.After(d):
	}
}

// brokenElement fails every call.
type brokenElement struct{}

var errBroken = errors.New("broken element")

func (brokenElement) Query(context.Context, string) (inject.Element, error) { return nil, errBroken }
func (brokenElement) QueryAll(context.Context, string) ([]inject.Element, error) {
	return nil, errBroken
}
func (brokenElement) Children(context.Context, string) ([]inject.Element, error) {
	return nil, errBroken
}
func (brokenElement) Closest(context.Context, string) (inject.Element, error) { return nil, errBroken }
func (brokenElement) Parent(context.Context) (inject.Element, error)          { return nil, errBroken }
func (brokenElement) Text(context.Context) (string, error)                    { return "", errBroken }
func (brokenElement) AppendElement(context.Context, string, string) (inject.Element, error) {
	return nil, errBroken
}

// spliceDoc returns the anchors of an htmldoc with a broken element inserted
// at position at.
type spliceDoc struct {
	*htmldoc.Document
	at int
}

func (d spliceDoc) QueryAll(ctx context.Context, sel string) ([]inject.Element, error) {
	els, err := d.Document.QueryAll(ctx, sel)
	if err != nil {
		return nil, err
	}
	out := append([]inject.Element{}, els[:d.at]...)
	out = append(out, brokenElement{})
	return append(out, els[d.at:]...), nil
}
