package dominject

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/dominject/event"
	"github.com/hazyhaar/dominject/inject"
	"github.com/hazyhaar/dominject/internal/config"
	"github.com/hazyhaar/dominject/internal/htmldoc"
	"github.com/hazyhaar/dominject/internal/idgen"
)

const threadPage = `<html><body><div id="thread">
<div class="support"><div class="support-body"><div class="support-bod-bottom"><div class="support-txt">header</div></div></div></div>
<div class="support"><div class="support-body"><div class="support-bod-bottom"><div class="content-quill-editor">  hello  </div></div></div></div>
<div class="support"><div class="support-body"><div class="support-bod-bottom"><div class="content-quill-editor">world</div></div></div></div>
</div></body></html>`

const commentFragment = `<div class="support"><div class="support-body"><div class="support-bod-bottom"><div class="content-quill-editor">%s</div></div></div></div>`

var faq = IntegrationConfig{
	Name:      "faq",
	Anchor:    ".faq-item",
	Exclude:   "none",
	Marker:    "dj-faq-host",
	Candidate: ".faq-answer",
}

// eventLog is a callback sink recording every event.
type eventLog struct {
	mu      sync.Mutex
	scans   []event.Scan
	actions []event.Action
	scanCh  chan event.Scan
}

func newEventLog() *eventLog {
	return &eventLog{scanCh: make(chan event.Scan, 64)}
}

func (l *eventLog) sink() Sink {
	return NewCallbackSink(
		func(_ context.Context, s event.Scan) error {
			l.mu.Lock()
			l.scans = append(l.scans, s)
			l.mu.Unlock()
			l.scanCh <- s
			return nil
		},
		func(_ context.Context, a event.Action) error {
			l.mu.Lock()
			l.actions = append(l.actions, a)
			l.mu.Unlock()
			return nil
		},
	)
}

func (l *eventLog) next(t *testing.T) event.Scan {
	t.Helper()
	select {
	case s := <-l.scanCh:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a scan event")
		return event.Scan{}
	}
}

func newTestInjector(t *testing.T, defs ...IntegrationConfig) (*Injector, *eventLog) {
	t.Helper()
	cfg := &Config{Integrations: defs, Debounce: 30 * time.Millisecond}
	if err := cfg.Prepare(); err != nil {
		t.Fatal(err)
	}
	log := newEventLog()
	i, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), log.sink())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(i.Stop)
	return i, log
}

func parseDoc(t *testing.T, s string) *htmldoc.Document {
	t.Helper()
	doc, err := htmldoc.ParseString(s)
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestAttachDocument_ScansAndEmits(t *testing.T) {
	i, log := newTestInjector(t)
	doc := parseDoc(t, threadPage)

	err := i.AttachDocument(context.Background(), DocumentConfig{
		ID:           "thread",
		URL:          "https://example.test/support/1",
		Document:     doc,
		Integrations: []string{"support-comment"},
	})
	if err != nil {
		t.Fatal(err)
	}

	first := log.next(t)
	if first.PageID != "thread" || first.Integration != "support-comment" || first.Seq != 1 {
		t.Errorf("first event: %+v", first)
	}
	if first.Result.Matched != 3 || first.Result.Mounted != 2 {
		t.Errorf("initial scan: got %+v, want 3 matched, 2 mounted", first.Result)
	}
	if _, err := idgen.Parse(first.ID); err != nil {
		t.Errorf("event id: %v", err)
	}
	if first.PageURL != "https://example.test/support/1" || first.Timestamp == 0 {
		t.Errorf("event page/timestamp: %q %d", first.PageURL, first.Timestamp)
	}

	if err := doc.AppendHTML("#thread", fmt.Sprintf(commentFragment, "late")); err != nil {
		t.Fatal(err)
	}
	second := log.next(t)
	if second.Seq != 2 || second.Result.Matched != 4 || second.Result.Mounted != 1 {
		t.Errorf("append scan: got seq %d %+v, want seq 2, 4 matched, 1 mounted", second.Seq, second.Result)
	}
}

func TestAttachDocument_Errors(t *testing.T) {
	i, _ := newTestInjector(t)
	ctx := context.Background()
	doc := parseDoc(t, threadPage)

	if err := i.AttachDocument(ctx, DocumentConfig{ID: "a", Document: doc, Integrations: []string{"nope"}}); !errors.Is(err, ErrUnknownIntegration) {
		t.Errorf("unknown integration: got %v", err)
	}
	if err := i.AttachDocument(ctx, DocumentConfig{ID: "a"}); err == nil {
		t.Error("nil document: want error")
	}
	if err := i.AttachDocument(ctx, DocumentConfig{Document: doc}); err == nil {
		t.Error("missing id: want error")
	}
	if err := i.AttachDocument(ctx, DocumentConfig{ID: "a", Document: doc}); err != nil {
		t.Fatal(err)
	}
	if err := i.AttachDocument(ctx, DocumentConfig{ID: "a", Document: doc}); !errors.Is(err, ErrPageExists) {
		t.Errorf("duplicate: got %v", err)
	}
}

func TestAttachDocument_DefaultsToAllIntegrations(t *testing.T) {
	i, _ := newTestInjector(t, faq)
	if err := i.AttachDocument(context.Background(), DocumentConfig{ID: "p", Document: parseDoc(t, threadPage)}); err != nil {
		t.Fatal(err)
	}

	st := i.Status()
	if len(st) != 1 || st[0].Browser {
		t.Fatalf("Status: %+v", st)
	}
	var names []string
	for _, s := range st[0].Integrations {
		names = append(names, s.Integration)
	}
	want := []string{"faq", "support-comment", "timeline-post"}
	if !slices.Equal(names, want) {
		t.Errorf("integrations: got %v, want %v", names, want)
	}
}

func TestAttachDocument_RendererFactory(t *testing.T) {
	i, _ := newTestInjector(t)
	var rendered atomic.Int32
	var texts sync.Map

	err := i.AttachDocument(context.Background(), DocumentConfig{
		ID:           "p",
		Document:     parseDoc(t, threadPage),
		Integrations: []string{"support-comment"},
		Renderer: func(in inject.Integration) inject.Renderer {
			return inject.RendererFunc(func(ctx context.Context, _ inject.Element, content inject.ContentAccessor) error {
				n := rendered.Add(1)
				texts.Store(n, content(ctx))
				return nil
			})
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if rendered.Load() != 2 {
		t.Fatalf("rendered: got %d, want 2", rendered.Load())
	}
	if v, _ := texts.Load(int32(1)); v != "hello" {
		t.Errorf("first accessor: got %v, want hello", v)
	}
}

func TestRescan(t *testing.T) {
	i, log := newTestInjector(t)
	ctx := context.Background()
	if err := i.AttachDocument(ctx, DocumentConfig{ID: "p", Document: parseDoc(t, threadPage), Integrations: []string{"support-comment"}}); err != nil {
		t.Fatal(err)
	}
	log.next(t)

	res, err := i.Rescan(ctx, "p")
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].Integration != "support-comment" || res[0].Result.Matched != 3 || res[0].Result.Mounted != 0 {
		t.Errorf("Rescan: %+v", res)
	}
	if ev := log.next(t); ev.Seq != 2 {
		t.Errorf("rescan event seq: got %d, want 2", ev.Seq)
	}

	if _, err := i.Rescan(ctx, "nope"); !errors.Is(err, ErrUnknownPage) {
		t.Errorf("unknown page: got %v", err)
	}
}

func TestDetachPage(t *testing.T) {
	i, _ := newTestInjector(t)
	if err := i.AttachDocument(context.Background(), DocumentConfig{ID: "p", Document: parseDoc(t, threadPage)}); err != nil {
		t.Fatal(err)
	}
	if err := i.DetachPage("p"); err != nil {
		t.Fatal(err)
	}
	if len(i.Status()) != 0 {
		t.Error("page still listed after detach")
	}
	if err := i.DetachPage("p"); !errors.Is(err, ErrUnknownPage) {
		t.Errorf("second detach: got %v", err)
	}
}

func TestReload_RestartsChangedOnly(t *testing.T) {
	i, _ := newTestInjector(t)
	ctx := context.Background()

	if n, err := i.Reload(ctx, []IntegrationConfig{faq}); err != nil || n != 0 {
		t.Fatalf("Reload(add): %d, %v", n, err)
	}
	if err := i.AttachDocument(ctx, DocumentConfig{ID: "p", Document: parseDoc(t, threadPage), Integrations: []string{"faq", "support-comment"}}); err != nil {
		t.Fatal(err)
	}

	if n, _ := i.Reload(ctx, []IntegrationConfig{faq}); n != 0 {
		t.Errorf("unchanged reload restarted %d", n)
	}

	changed := faq
	changed.Label = "Answer"
	if n, _ := i.Reload(ctx, []IntegrationConfig{changed}); n != 1 {
		t.Errorf("changed reload restarted %d, want 1", n)
	}

	if n, _ := i.Reload(ctx, nil); n != 0 {
		t.Errorf("removal reload started %d", n)
	}
	if got := len(i.Status()[0].Integrations); got != 1 {
		t.Errorf("after removal: %d integrations running, want 1", got)
	}

	if n, _ := i.Reload(ctx, []IntegrationConfig{changed}); n != 1 {
		t.Errorf("re-add reload started %d, want 1", n)
	}

	bad := faq
	bad.Policy = "middle"
	if _, err := i.Reload(ctx, []IntegrationConfig{bad}); !errors.Is(err, inject.ErrInvalidIntegration) {
		t.Errorf("invalid reload: got %v", err)
	}
}

func TestWatchDatabase(t *testing.T) {
	i, _ := newTestInjector(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := OpenIntegrationDB(filepath.Join(t.TempDir(), "integrations.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := config.SaveIntegration(ctx, db, faq); err != nil {
		t.Fatal(err)
	}

	if err := i.WatchDatabase(ctx, db); err != nil {
		t.Fatal(err)
	}
	if !slices.Contains(i.Integrations(), "faq") {
		t.Fatalf("initial load: %v", i.Integrations())
	}

	if err := config.SaveIntegration(ctx, db, IntegrationConfig{Name: "board", Base: "timeline-post"}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for !slices.Contains(i.Integrations(), "board") {
		if time.Now().After(deadline) {
			t.Fatalf("board never loaded: %v", i.Integrations())
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestStop(t *testing.T) {
	i, _ := newTestInjector(t)
	ctx := context.Background()
	if err := i.AttachDocument(ctx, DocumentConfig{ID: "p", Document: parseDoc(t, threadPage)}); err != nil {
		t.Fatal(err)
	}
	i.Stop()
	i.Stop()

	if len(i.Status()) != 0 {
		t.Error("pages left after Stop")
	}
	if err := i.AttachDocument(ctx, DocumentConfig{ID: "q", Document: parseDoc(t, threadPage)}); !errors.Is(err, ErrStopped) {
		t.Errorf("attach after stop: got %v", err)
	}
	if _, err := i.Reload(ctx, nil); !errors.Is(err, ErrStopped) {
		t.Errorf("reload after stop: got %v", err)
	}
}

func TestNew_InvalidIntegration(t *testing.T) {
	cfg := &Config{Integrations: []IntegrationConfig{{Name: "x", Anchor: ".a"}}}
	if _, err := New(cfg, nil); !errors.Is(err, inject.ErrInvalidIntegration) {
		t.Errorf("got %v, want ErrInvalidIntegration", err)
	}
	if _, err := New(nil, nil); err == nil {
		t.Error("nil config: want error")
	}
}

func TestOpenSinks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	db := filepath.Join(t.TempDir(), "events.db")
	cfg := &Config{Sinks: []SinkConfig{{Type: "stdout"}, {Type: "stdout", Path: path}, {Type: "sqlite", Path: db}}}
	sinks, err := OpenSinks(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(sinks) != 3 {
		t.Fatalf("sinks: got %d, want 3", len(sinks))
	}
	closeAll(sinks)

	if _, err := OpenSinks(&Config{Sinks: []SinkConfig{{Type: "webhook"}}}, nil); err == nil {
		t.Error("unknown sink type: want error")
	}
}
