package inject

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Result summarises one scan.
type Result struct {
	Matched   int           `json:"matched"`   // anchors found
	Processed int           `json:"processed"` // anchors left after exclusion
	Mounted   int           `json:"mounted"`   // hosts created by this scan
	Failed    int           `json:"failed"`    // anchors whose mount or render failed
	Duration  time.Duration `json:"duration"`
}

// Scanner enumerates the anchors of one integration and mounts each of them.
// Scanning an unchanged document twice performs no mutation the second time.
type Scanner struct {
	name    string
	doc     Document
	anchor  string
	exclude ExcludeFunc
	guard   *MountGuard
	logger  *slog.Logger
}

// NewScanner wires extractor, guard and scanner for in.
func NewScanner(doc Document, in Integration, r Renderer, logger *slog.Logger) (*Scanner, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	in.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("integration", in.Name)

	x := NewExtractor(in, logger)
	return &Scanner{
		name:    in.Name,
		doc:     doc,
		anchor:  in.Anchor,
		exclude: in.Exclude,
		guard:   NewMountGuard(in, x, r, logger),
		logger:  logger,
	}, nil
}

// Scan runs one discovery pass. Only a failing anchor query is returned as
// an error; per-anchor failures are logged and counted.
func (s *Scanner) Scan(ctx context.Context) (Result, error) {
	start := time.Now()

	anchors, err := s.doc.QueryAll(ctx, s.anchor)
	if err != nil {
		return Result{}, fmt.Errorf("inject: query anchors %q: %w", s.anchor, err)
	}

	res := Result{Matched: len(anchors)}
	for i, a := range anchors {
		if s.exclude(i, a) {
			continue
		}
		res.Processed++

		created, err := s.mountOne(ctx, a)
		if created {
			res.Mounted++
		}
		if err != nil {
			res.Failed++
			s.logger.Warn("inject: mount failed", "index", i, "error", err)
		}
	}
	res.Duration = time.Since(start)

	if res.Mounted > 0 || res.Failed > 0 {
		s.logger.Debug("inject: scan",
			"matched", res.Matched, "mounted", res.Mounted, "failed", res.Failed)
	}
	return res, nil
}

// mountOne isolates a single anchor: a panic in a backend stays here.
func (s *Scanner) mountOne(ctx context.Context, a Element) (created bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("inject: panic while mounting: %v", r)
		}
	}()
	return s.guard.Ensure(ctx, a)
}
