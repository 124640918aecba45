package sink

import (
	"context"

	"github.com/hazyhaar/dominject/event"
)

// ScanFunc is called for each scan event.
type ScanFunc func(ctx context.Context, s event.Scan) error

// ActionFunc is called for each action event.
type ActionFunc func(ctx context.Context, a event.Action) error

// Callback delivers events as in-process function calls.
type Callback struct {
	onScan   ScanFunc
	onAction ActionFunc
}

// NewCallback creates a Callback sink. Either handler may be nil.
func NewCallback(onScan ScanFunc, onAction ActionFunc) *Callback {
	return &Callback{onScan: onScan, onAction: onAction}
}

func (c *Callback) SendScan(ctx context.Context, s event.Scan) error {
	if c.onScan != nil {
		return c.onScan(ctx, s)
	}
	return nil
}

func (c *Callback) SendAction(ctx context.Context, a event.Action) error {
	if c.onAction != nil {
		return c.onAction(ctx, a)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
