package inject_test

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/net/html"

	"github.com/hazyhaar/dominject/inject"
	"github.com/hazyhaar/dominject/internal/htmldoc"
)

func TestMountGuard_InsertionPointAndIdempotence(t *testing.T) {
	ctx := context.Background()
	doc := mustParse(t, `<html><body><div class="support"><div class="support-bod-bottom">
<div class="support-txt"><div class="content-quill-editor">text</div></div>
</div></div></body></html>`)
	in := inject.SupportComment()
	rec := &recorder{}
	g := inject.NewMountGuard(in, inject.NewExtractor(in, nil), rec, nil)

	anchors, _ := doc.QueryAll(ctx, in.Anchor)
	created, err := g.Ensure(ctx, anchors[0])
	if err != nil || !created {
		t.Fatalf("first Ensure: created=%v err=%v", created, err)
	}
	created, err = g.Ensure(ctx, anchors[0])
	if err != nil || created {
		t.Fatalf("second Ensure: created=%v err=%v", created, err)
	}

	txt, _ := anchors[0].Query(ctx, ".support-txt")
	hosts, _ := txt.Children(ctx, "."+in.Marker)
	if len(hosts) != 1 {
		t.Fatalf("hosts under .support-txt: got %d, want 1", len(hosts))
	}
	if rec.count() != 1 || rec.hosts[0] != hosts[0] {
		t.Fatalf("renderer calls: got %d, want 1 on the host", rec.count())
	}
	if got := rec.accessor(0)(ctx); got != "text" {
		t.Errorf("accessor: got %q, want %q", got, "text")
	}
}

func TestMountGuard_HostUnderAnchorBlocksInsertionPoint(t *testing.T) {
	ctx := context.Background()
	// A host mounted before the insertion point was rendered.
	doc := mustParse(t, `<html><body><div class="support-bod-bottom">
<div class="drjoy-support-host"></div><div class="support-content-txt"></div>
</div></body></html>`)
	in := inject.SupportComment()
	g := inject.NewMountGuard(in, nil, nil, nil)

	anchors, _ := doc.QueryAll(ctx, in.Anchor)
	created, err := g.Ensure(ctx, anchors[0])
	if err != nil || created {
		t.Fatalf("Ensure: created=%v err=%v, want no new host", created, err)
	}
	all, _ := anchors[0].QueryAll(ctx, "."+in.Marker)
	if len(all) != 1 {
		t.Errorf("hosts: got %d, want 1", len(all))
	}
}

func TestMountGuard_AccessorReadsLiveContent(t *testing.T) {
	ctx := context.Background()
	doc := mustParse(t, `<html><body><div class="support"><div class="support-bod-bottom">
<div class="content-quill-editor">draft</div></div></div></body></html>`)
	in := plainComment()
	rec := &recorder{}
	g := inject.NewMountGuard(in, inject.NewExtractor(in, nil), rec, nil)

	anchors, _ := doc.QueryAll(ctx, in.Anchor)
	if _, err := g.Ensure(ctx, anchors[0]); err != nil {
		t.Fatal(err)
	}

	err := doc.Mutate(func(root *html.Node) error {
		ed := htmldoc.MustCompile(".content-quill-editor").MatchFirst(root)
		ed.FirstChild.Data = "  edited  "
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := rec.accessor(0)(ctx); got != "edited" {
		t.Errorf("accessor after edit: got %q, want %q", got, "edited")
	}
}

func TestMountGuard_RendererFailureKeepsHost(t *testing.T) {
	ctx := context.Background()
	const page = `<html><body><div class="support-bod-bottom"></div></body></html>`
	in := plainComment()
	boom := errors.New("boom")

	cases := []struct {
		name string
		r    inject.Renderer
	}{
		{"error", inject.RendererFunc(func(context.Context, inject.Element, inject.ContentAccessor) error {
			return boom
		})},
		{"panic", inject.RendererFunc(func(context.Context, inject.Element, inject.ContentAccessor) error {
			panic("kaput")
		})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := mustParse(t, page)
			anchors, _ := doc.QueryAll(ctx, in.Anchor)
			g := inject.NewMountGuard(in, nil, tc.r, nil)

			created, err := g.Ensure(ctx, anchors[0])
			if !created {
				t.Error("created: want true, the host stays in place")
			}
			if !errors.Is(err, inject.ErrRenderer) {
				t.Errorf("err: got %v, want ErrRenderer", err)
			}
			if created, err = g.Ensure(ctx, anchors[0]); created || err != nil {
				t.Errorf("retry: created=%v err=%v, want no-op", created, err)
			}
		})
	}
}

func TestMountGuard_BackendError(t *testing.T) {
	g := inject.NewMountGuard(plainComment(), nil, nil, nil)
	created, err := g.Ensure(context.Background(), brokenElement{})
	if created || !errors.Is(err, errBroken) {
		t.Errorf("Ensure(broken): created=%v err=%v", created, err)
	}
}
