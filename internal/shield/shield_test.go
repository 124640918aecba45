package shield

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/dominject/internal/kit"
)

func chain(h http.Handler) http.Handler {
	mws := Stack(nil)
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func TestStack_HeadersAndRequestID(t *testing.T) {
	var gotID, gotMethod string
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = kit.GetRequestID(r.Context())
		gotMethod = r.Method
	}))

	req := httptest.NewRequest(http.MethodHead, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if gotMethod != http.MethodGet {
		t.Errorf("method: got %s, want GET", gotMethod)
	}
	if gotID == "" || rec.Header().Get("X-Request-ID") != gotID {
		t.Errorf("request id: ctx %q, header %q", gotID, rec.Header().Get("X-Request-ID"))
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff header")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if gotID != "abc" {
		t.Errorf("request id: got %q, want caller's", gotID)
	}
}

func TestLimitBody(t *testing.T) {
	var readErr error
	h := LimitBody(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("too long"))
	h.ServeHTTP(httptest.NewRecorder(), req)
	if readErr == nil {
		t.Error("want error reading an oversized body")
	}
}
