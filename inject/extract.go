package inject

import (
	"context"
	"log/slog"
	"strings"
)

// Extractor finds the display text for an anchor using an ordered fallback.
// Candidates inside the anchor come first. Without one, the search widens to
// the scope: the first matching ancestor pattern, else the parent. The first
// hit wins.
type Extractor struct {
	scope     []string
	selfScope bool
	candidate string
	policy    Policy
	logger    *slog.Logger
}

// NewExtractor builds the extractor described by in.
func NewExtractor(in Integration, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	policy := in.Policy
	if policy == "" {
		policy = PolicyFirst
	}
	return &Extractor{
		scope:     in.Scope,
		selfScope: in.SelfScope,
		candidate: in.Candidate,
		policy:    policy,
		logger:    logger,
	}
}

// Extract returns the trimmed textContent of the selected candidate, or "".
// Backend errors are treated as misses.
func (x *Extractor) Extract(ctx context.Context, from Element) string {
	if from == nil {
		return ""
	}

	el := x.pick(ctx, from)
	if el == nil && !x.selfScope {
		if scope := x.resolveScope(ctx, from); scope != from {
			el = x.pick(ctx, scope)
		}
	}
	if el == nil {
		return ""
	}

	text, err := el.Text(ctx)
	if err != nil {
		x.logger.Debug("inject: read candidate text", "error", err)
		return ""
	}
	return strings.TrimSpace(text)
}

func (x *Extractor) resolveScope(ctx context.Context, from Element) Element {
	for _, pattern := range x.scope {
		anc, err := from.Closest(ctx, pattern)
		if err != nil {
			x.logger.Debug("inject: scope lookup", "pattern", pattern, "error", err)
			continue
		}
		if anc != nil {
			return anc
		}
	}
	parent, err := from.Parent(ctx)
	if err != nil {
		x.logger.Debug("inject: parent lookup", "error", err)
	}
	if parent != nil {
		return parent
	}
	return from
}

func (x *Extractor) pick(ctx context.Context, scope Element) Element {
	if x.policy == PolicyLast {
		all, err := scope.QueryAll(ctx, x.candidate)
		if err != nil {
			x.logger.Debug("inject: candidate lookup", "error", err)
			return nil
		}
		if len(all) == 0 {
			return nil
		}
		return all[len(all)-1]
	}

	el, err := scope.Query(ctx, x.candidate)
	if err != nil {
		x.logger.Debug("inject: candidate lookup", "error", err)
		return nil
	}
	return el
}
