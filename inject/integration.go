package inject

import (
	"fmt"
	"time"
)

// DefaultDebounce is the trailing quiet period before a mutation burst is rescanned.
const DefaultDebounce = 150 * time.Millisecond

// Policy selects which content candidate wins when a scope holds several.
type Policy string

const (
	PolicyFirst Policy = "first" // single comment: the first editor surface
	PolicyLast  Policy = "last"  // ordered post list: the most recent entry
)

// ExcludeFunc reports whether the anchor at index must be left undecorated.
type ExcludeFunc func(index int, anchor Element) bool

// ExcludeFirst skips the first matched anchor. The rule is positional: a real
// item that ends up at index 0 loses its control.
func ExcludeFirst(index int, _ Element) bool { return index == 0 }

// ExcludeNone decorates every anchor.
func ExcludeNone(int, Element) bool { return false }

// ExcludeIndices skips the given positions.
func ExcludeIndices(indices ...int) ExcludeFunc {
	set := make(map[int]struct{}, len(indices))
	for _, i := range indices {
		set[i] = struct{}{}
	}
	return func(index int, _ Element) bool {
		_, ok := set[index]
		return ok
	}
}

// ExcludeByName resolves a configuration name ("first", "none") to a rule.
// The empty name is "first".
func ExcludeByName(name string) (ExcludeFunc, error) {
	switch name {
	case "", "first":
		return ExcludeFirst, nil
	case "none":
		return ExcludeNone, nil
	default:
		return nil, fmt.Errorf("%w: unknown exclusion rule %q", ErrInvalidIntegration, name)
	}
}

// Integration describes one kind of decorated item on a page.
type Integration struct {
	// Name identifies the integration in logs, events and stats.
	Name string

	// Anchor selects the elements that each get one control.
	Anchor string

	// Exclude leaves some anchors undecorated. Default: ExcludeFirst.
	Exclude ExcludeFunc

	// Marker is the reserved class carried by mount hosts.
	Marker string

	// HostTag is the mount host element. Default: "div".
	HostTag string

	// InsertionPoints are tried in order inside the anchor; the anchor itself
	// is the fallback.
	InsertionPoints []string

	// Scope lists ancestor patterns, most specific first, used to bound the
	// candidate search. No hit falls back to the parent, then the anchor.
	Scope []string

	// SelfScope makes the anchor its own scope and ignores Scope.
	SelfScope bool

	// Candidate selects the elements holding the content.
	Candidate string

	// Policy picks among several candidates. Default: PolicyFirst.
	Policy Policy

	// Label, Placeholder and Accent are passed to the control renderer.
	Label       string
	Placeholder string
	Accent      string

	// Debounce overrides DefaultDebounce.
	Debounce time.Duration
}

// Validate checks the fields the synchronizer cannot default.
func (in *Integration) Validate() error {
	if in.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidIntegration)
	}
	if in.Anchor == "" {
		return fmt.Errorf("%w: %s: missing anchor selector", ErrInvalidIntegration, in.Name)
	}
	if in.Marker == "" {
		return fmt.Errorf("%w: %s: missing marker class", ErrInvalidIntegration, in.Name)
	}
	if in.Candidate == "" {
		return fmt.Errorf("%w: %s: missing candidate selector", ErrInvalidIntegration, in.Name)
	}
	switch in.Policy {
	case "", PolicyFirst, PolicyLast:
	default:
		return fmt.Errorf("%w: %s: unknown policy %q", ErrInvalidIntegration, in.Name, in.Policy)
	}
	return nil
}

func (in *Integration) defaults() {
	if in.Exclude == nil {
		in.Exclude = ExcludeFirst
	}
	if in.HostTag == "" {
		in.HostTag = "div"
	}
	if in.Policy == "" {
		in.Policy = PolicyFirst
	}
	if in.Debounce <= 0 {
		in.Debounce = DefaultDebounce
	}
}

// SupportComment decorates every comment block of the support thread except
// the first, which is the thread header.
func SupportComment() Integration {
	return Integration{
		Name:            "support-comment",
		Anchor:          ".support-bod-bottom",
		Exclude:         ExcludeFirst,
		Marker:          "drjoy-support-host",
		InsertionPoints: []string{".support-txt", ".support-content-txt"},
		Scope:           []string{".support-body", ".support"},
		Candidate:       ".content-quill-editor",
		Policy:          PolicyFirst,
		Label:           "⚡ Support Action",
		Placeholder:     "(Không có nội dung)",
		Accent:          "#10b981",
	}
}

// TimelinePost decorates every post of a group board timeline with a control
// reading its most recent editor.
func TimelinePost() Integration {
	return Integration{
		Name:        "timeline-post",
		Anchor:      ".timeLine.groupboard-timeline",
		Exclude:     ExcludeNone,
		Marker:      "drjoy-timeline-host",
		SelfScope:   true,
		Candidate:   ".content-quill-editor",
		Policy:      PolicyLast,
		Label:       "🧰 Dr.JOY",
		Placeholder: "(Content not found in this post)",
		Accent:      "#2563eb",
	}
}

// Builtin returns the preset integration with the given name.
func Builtin(name string) (Integration, bool) {
	switch name {
	case "support-comment":
		return SupportComment(), true
	case "timeline-post":
		return TimelinePost(), true
	}
	return Integration{}, false
}
