// Package sink delivers dominject events to output backends.
package sink

import (
	"context"

	"github.com/hazyhaar/dominject/event"
)

// Sink is the output interface.
type Sink interface {
	SendScan(ctx context.Context, s event.Scan) error
	SendAction(ctx context.Context, a event.Action) error
	Close() error
}
