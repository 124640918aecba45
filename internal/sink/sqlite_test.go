package sink

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hazyhaar/dominject/event"
	"github.com/hazyhaar/dominject/inject"
	"github.com/hazyhaar/dominject/internal/dbopen"
)

func TestSQLite_FlushOnClose(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(EventSchema))
	s := NewSQLite(db, nil)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	s.SendScan(ctx, event.Scan{ID: "s1", PageID: "p", Integration: "support-comment", Seq: 1,
		Result: inject.Result{Matched: 3, Mounted: 2}, Timestamp: now - 10})
	s.SendAction(ctx, event.Action{ID: "a1", PageID: "p", Integration: "support-comment",
		HostID: "h1", Text: "hello", Timestamp: now})
	s.SendScan(ctx, event.Scan{ID: "s2", PageID: "q", Integration: "timeline-post", Timestamp: now})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := s.Recent(ctx, "p", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "a1" || got[1].ID != "s1" {
		t.Fatalf("Recent(p): %+v", got)
	}
	var a event.Action
	if err := json.Unmarshal(got[0].Payload, &a); err != nil || a.Text != "hello" {
		t.Errorf("payload: %+v %v", a, err)
	}

	var mounted int
	db.QueryRow(`SELECT mounted FROM inject_events WHERE id = 's1'`).Scan(&mounted)
	if mounted != 2 {
		t.Errorf("mounted column: got %d, want 2", mounted)
	}

	all, _ := s.Recent(ctx, "", 0)
	if len(all) != 3 {
		t.Errorf("Recent(all): got %d, want 3", len(all))
	}

	if err := s.SendScan(ctx, event.Scan{ID: "late"}); err == nil {
		t.Error("send after Close: want error")
	}
}

func TestSQLite_Cleanup(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(EventSchema))
	s := NewSQLite(db, nil)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour).UnixMilli()

	s.SendScan(ctx, event.Scan{ID: "old", PageID: "p", Integration: "x", Timestamp: old})
	s.SendScan(ctx, event.Scan{ID: "new", PageID: "p", Integration: "x", Timestamp: time.Now().UnixMilli()})
	s.Close()

	n, err := s.Cleanup(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Cleanup: removed %d, want 1", n)
	}
}
