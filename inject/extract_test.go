package inject_test

import (
	"context"
	"testing"

	"github.com/hazyhaar/dominject/inject"
)

func firstAnchor(t *testing.T, page, sel string) inject.Element {
	t.Helper()
	doc := mustParse(t, page)
	els, err := doc.QueryAll(context.Background(), sel)
	if err != nil || len(els) == 0 {
		t.Fatalf("QueryAll(%q): %d, %v", sel, len(els), err)
	}
	return els[0]
}

func TestExtract_SpecificScopeWins(t *testing.T) {
	page := `<html><body>
<div class="support">
  <div class="content-quill-editor">general</div>
  <div class="support-body">
    <div class="support-bod-bottom"></div>
    <div class="content-quill-editor">  specific  </div>
  </div>
</div></body></html>`
	a := firstAnchor(t, page, ".support-bod-bottom")
	x := inject.NewExtractor(inject.SupportComment(), nil)

	if got := x.Extract(context.Background(), a); got != "specific" {
		t.Errorf("Extract: got %q, want %q", got, "specific")
	}
}

func TestExtract_GeneralScopeWhenNoSpecific(t *testing.T) {
	page := `<html><body>
<div class="support">
  <div class="content-quill-editor">general</div>
  <div class="wrapper"><div class="support-bod-bottom"></div></div>
</div></body></html>`
	a := firstAnchor(t, page, ".support-bod-bottom")
	x := inject.NewExtractor(inject.SupportComment(), nil)

	if got := x.Extract(context.Background(), a); got != "general" {
		t.Errorf("Extract: got %q, want %q", got, "general")
	}
}

func TestExtract_ParentFallback(t *testing.T) {
	page := `<html><body>
<div class="content-quill-editor">outside</div>
<div class="row"><div class="support-bod-bottom"></div><p class="content-quill-editor">sibling</p></div>
</body></html>`
	a := firstAnchor(t, page, ".support-bod-bottom")
	x := inject.NewExtractor(inject.SupportComment(), nil)

	if got := x.Extract(context.Background(), a); got != "sibling" {
		t.Errorf("Extract: got %q, want %q", got, "sibling")
	}
}

func TestExtract_PolicyLastWithSelfScope(t *testing.T) {
	page := `<html><body>
<div class="timeLine groupboard-timeline">
  <div class="content-quill-editor">first</div>
  <div class="reply"><div class="content-quill-editor"> latest </div></div>
</div>
<div class="content-quill-editor">next post</div>
</body></html>`
	a := firstAnchor(t, page, ".timeLine.groupboard-timeline")
	x := inject.NewExtractor(inject.TimelinePost(), nil)

	if got := x.Extract(context.Background(), a); got != "latest" {
		t.Errorf("Extract: got %q, want %q", got, "latest")
	}

	in := inject.TimelinePost()
	in.Policy = inject.PolicyFirst
	if got := inject.NewExtractor(in, nil).Extract(context.Background(), a); got != "first" {
		t.Errorf("Extract(first): got %q, want %q", got, "first")
	}
}

func TestExtract_NotFoundIsEmpty(t *testing.T) {
	a := firstAnchor(t, `<html><body><div class="timeLine groupboard-timeline"><p>no editor</p></div></body></html>`,
		".timeLine.groupboard-timeline")
	x := inject.NewExtractor(inject.TimelinePost(), nil)

	if got := x.Extract(context.Background(), a); got != "" {
		t.Errorf("Extract: got %q, want empty", got)
	}
	if got := x.Extract(context.Background(), nil); got != "" {
		t.Errorf("Extract(nil): got %q, want empty", got)
	}
}

func TestExtract_BackendErrorsAreMisses(t *testing.T) {
	x := inject.NewExtractor(inject.SupportComment(), nil)
	if got := x.Extract(context.Background(), brokenElement{}); got != "" {
		t.Errorf("Extract(broken): got %q, want empty", got)
	}
}

func TestExtract_SiblingAnchorsReadTheirOwnContent(t *testing.T) {
	page := `<html><body><div id="thread">
<div class="support-bod-bottom"><div class="support-txt">header</div></div>
<div class="support-bod-bottom"><div class="content-quill-editor">  hello  </div></div>
<div class="support-bod-bottom"><div class="content-quill-editor">world</div></div>
</div></body></html>`
	doc := mustParse(t, page)
	ctx := context.Background()
	rec := &recorder{}
	s, err := inject.NewScanner(doc, inject.SupportComment(), rec, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Scan(ctx); err != nil {
		t.Fatal(err)
	}
	if rec.count() != 2 {
		t.Fatalf("renders: got %d, want 2", rec.count())
	}
	for i, want := range []string{"hello", "world"} {
		if got := rec.accessor(i)(ctx); got != want {
			t.Errorf("accessor %d: got %q, want %q", i, got, want)
		}
	}
}
