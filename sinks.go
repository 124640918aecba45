package dominject

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/dominject/event"
	"github.com/hazyhaar/dominject/internal/sink"
)

// Sink is the output interface for scan and action events.
type Sink = sink.Sink

// NewStdoutSink creates a JSON-lines sink on w (stdout when nil).
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewCallbackSink creates an in-process sink. Either function may be nil.
func NewCallbackSink(
	onScan func(ctx context.Context, s event.Scan) error,
	onAction func(ctx context.Context, a event.Action) error,
) Sink {
	return sink.NewCallback(onScan, onAction)
}

// OpenSinks builds the sinks listed in cfg. On error the sinks already
// opened are closed.
func OpenSinks(cfg *Config, logger *slog.Logger) ([]Sink, error) {
	var out []Sink
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			if sc.Path == "" {
				out = append(out, sink.NewStdout(nil))
				continue
			}
			s, err := sink.OpenFile(sc.Path)
			if err != nil {
				closeAll(out)
				return nil, err
			}
			out = append(out, s)
		case "sqlite":
			s, err := sink.OpenSQLite(sc.Path, logger)
			if err != nil {
				closeAll(out)
				return nil, err
			}
			out = append(out, s)
		default:
			closeAll(out)
			return nil, fmt.Errorf("dominject: unknown sink type %q", sc.Type)
		}
	}
	return out, nil
}

func closeAll(sinks []Sink) {
	for _, s := range sinks {
		s.Close()
	}
}
