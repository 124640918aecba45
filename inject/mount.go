package inject

import (
	"context"
	"fmt"
	"log/slog"
)

// MountGuard attaches at most one mount host per anchor and hands it to the
// renderer together with a content accessor bound to that anchor.
type MountGuard struct {
	marker          string
	markerSel       string
	hostTag         string
	insertionPoints []string
	extractor       *Extractor
	renderer        Renderer
	logger          *slog.Logger
}

// NewMountGuard builds the guard for in. The renderer may be nil, in which
// case hosts are created empty.
func NewMountGuard(in Integration, x *Extractor, r Renderer, logger *slog.Logger) *MountGuard {
	if logger == nil {
		logger = slog.Default()
	}
	hostTag := in.HostTag
	if hostTag == "" {
		hostTag = "div"
	}
	return &MountGuard{
		marker:          in.Marker,
		markerSel:       "." + in.Marker,
		hostTag:         hostTag,
		insertionPoints: in.InsertionPoints,
		extractor:       x,
		renderer:        r,
		logger:          logger,
	}
}

// Ensure mounts a host under anchor unless one is already there. It reports
// whether a host was created by this call; a renderer failure after creation
// still reports true because the host stays in place.
func (g *MountGuard) Ensure(ctx context.Context, anchor Element) (bool, error) {
	target := g.insertionPoint(ctx, anchor)

	mounted, err := g.hasHost(ctx, anchor)
	if err != nil {
		return false, err
	}
	if !mounted && target != anchor {
		if mounted, err = g.hasHost(ctx, target); err != nil {
			return false, err
		}
	}
	if mounted {
		return false, nil
	}

	host, err := target.AppendElement(ctx, g.hostTag, g.marker)
	if err != nil {
		return false, fmt.Errorf("inject: append mount host: %w", err)
	}
	if host == nil {
		return false, nil
	}

	if g.renderer == nil {
		return true, nil
	}
	x := g.extractor
	content := func(ctx context.Context) string {
		if x == nil {
			return ""
		}
		return x.Extract(ctx, anchor)
	}
	return true, g.render(ctx, host, content)
}

// hasHost looks at direct children only; a host nested deeper belongs to
// another anchor.
func (g *MountGuard) hasHost(ctx context.Context, el Element) (bool, error) {
	hosts, err := el.Children(ctx, g.markerSel)
	if err != nil {
		return false, fmt.Errorf("inject: check mount host: %w", err)
	}
	return len(hosts) > 0, nil
}

func (g *MountGuard) insertionPoint(ctx context.Context, anchor Element) Element {
	for _, sel := range g.insertionPoints {
		el, err := anchor.Query(ctx, sel)
		if err != nil {
			g.logger.Debug("inject: insertion point lookup", "selector", sel, "error", err)
			continue
		}
		if el != nil {
			return el
		}
	}
	return anchor
}

func (g *MountGuard) render(ctx context.Context, host Element, content ContentAccessor) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrRenderer, r)
		}
	}()
	if rerr := g.renderer.Render(ctx, host, content); rerr != nil {
		return fmt.Errorf("%w: %w", ErrRenderer, rerr)
	}
	return nil
}
