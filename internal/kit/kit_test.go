package kit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func TestChain_Order(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}

	base := func(_ context.Context, _ any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	resp, err := Chain(mw("a"), mw("b"))(base)(context.Background(), nil)
	if err != nil || resp != "ok" {
		t.Fatalf("response: got %v, %v", resp, err)
	}

	want := []string{"a_before", "b_before", "endpoint", "b_after", "a_after"}
	if len(order) != len(want) {
		t.Fatalf("order: got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d]: got %q, want %q", i, order[i], want[i])
		}
	}
}

func TestLogging_PassesErrorThrough(t *testing.T) {
	errFail := errors.New("fail")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ep := Logging(logger, "op")(func(context.Context, any) (any, error) { return nil, errFail })

	if _, err := ep(context.Background(), nil); !errors.Is(err, errFail) {
		t.Fatalf("error: got %v, want %v", err, errFail)
	}
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	if got := GetTransport(ctx); got != "http" {
		t.Errorf("default transport: got %q", got)
	}
	ctx = WithRequestID(WithTransport(ctx, "mcp"), "r1")
	if GetTransport(ctx) != "mcp" || GetRequestID(ctx) != "r1" {
		t.Errorf("got %q %q", GetTransport(ctx), GetRequestID(ctx))
	}
}
