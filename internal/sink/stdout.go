// CLAUDE:SUMMARY Writes scan and action events as JSON lines to an io.Writer (defaults to stdout).
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hazyhaar/dominject/event"
)

// Stdout writes one JSON envelope per line to an io.Writer (default os.Stdout).
type Stdout struct {
	mu  sync.Mutex
	enc *json.Encoder
	c   io.Closer
}

// NewStdout creates a Stdout sink. If w is nil, os.Stdout is used.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{enc: json.NewEncoder(w)}
}

func (s *Stdout) SendScan(_ context.Context, sc event.Scan) error {
	return s.write("scan", sc)
}

func (s *Stdout) SendAction(_ context.Context, a event.Action) error {
	return s.write("action", a)
}

// OpenFile creates a Stdout sink appending to path. Close closes the file.
func OpenFile(path string) (*Stdout, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink: open %s: %w", path, err)
	}
	return &Stdout{enc: json.NewEncoder(f), c: f}, nil
}

func (s *Stdout) Close() error {
	if s.c == nil {
		return nil
	}
	return s.c.Close()
}

func (s *Stdout) write(typ string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(Envelope{Type: typ, Data: data})
}

// Envelope is the line format of Stdout.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
