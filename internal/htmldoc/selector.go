// CLAUDE:SUMMARY CSS-subset selector compiler and matcher over golang.org/x/net/html trees.
package htmldoc

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Selector is a compiled comma-separated selector list. Supported syntax:
//   - type and universal: "div", "*"
//   - compound classes: ".a", ".a.b", "div.a.b"
//   - id: "#main", "div#main"
//   - attribute: "[data-x]", "[role=main]", `[role="main"]`
//   - descendant (space) and child (">") combinators
//
// Pseudo-classes are rejected at compile time.
type Selector []complexSelector

type complexSelector struct {
	parts []compound
	// combs[i] joins parts[i] and parts[i+1]: ' ' or '>'.
	combs []byte
}

type compound struct {
	tag     string
	id      string
	classes []string
	attrs   []attrSelector
}

type attrSelector struct {
	key    string
	val    string
	hasVal bool
}

// Compile parses a selector list.
func Compile(sel string) (Selector, error) {
	var out Selector
	for _, group := range strings.Split(sel, ",") {
		group = strings.TrimSpace(group)
		if group == "" {
			return nil, fmt.Errorf("htmldoc: empty selector in %q", sel)
		}
		cs, err := compileComplex(group)
		if err != nil {
			return nil, fmt.Errorf("htmldoc: %q: %w", sel, err)
		}
		out = append(out, cs)
	}
	return out, nil
}

// MustCompile is Compile for selectors known at build time.
func MustCompile(sel string) Selector {
	s, err := Compile(sel)
	if err != nil {
		panic(err)
	}
	return s
}

func compileComplex(s string) (complexSelector, error) {
	var cs complexSelector
	pendingComb := byte(0)
	i := 0
	for i < len(s) {
		switch c := s[i]; {
		case c == ' ' || c == '\t' || c == '\n':
			if pendingComb == 0 && len(cs.parts) > 0 {
				pendingComb = ' '
			}
			i++
		case c == '>':
			if len(cs.parts) == 0 {
				return cs, fmt.Errorf("leading combinator")
			}
			pendingComb = '>'
			i++
		default:
			j := i
			inAttr := false
			for j < len(s) {
				ch := s[j]
				if ch == '[' {
					inAttr = true
				} else if ch == ']' {
					inAttr = false
				} else if !inAttr && (ch == ' ' || ch == '\t' || ch == '\n' || ch == '>') {
					break
				}
				j++
			}
			comp, err := parseCompound(s[i:j])
			if err != nil {
				return cs, err
			}
			if len(cs.parts) > 0 {
				cs.combs = append(cs.combs, pendingComb)
			}
			cs.parts = append(cs.parts, comp)
			pendingComb = 0
			i = j
		}
	}
	if len(cs.parts) == 0 {
		return cs, fmt.Errorf("empty selector")
	}
	if pendingComb == '>' {
		return cs, fmt.Errorf("trailing combinator")
	}
	return cs, nil
}

// parseCompound parses "tag.class#id[attr=val]" in any order after the tag.
func parseCompound(s string) (compound, error) {
	var c compound

	i := 0
	for i < len(s) && isIdentByte(s[i]) {
		i++
	}
	c.tag = strings.ToLower(s[:i])
	if i < len(s) && s[i] == '*' {
		if c.tag != "" {
			return c, fmt.Errorf("bad universal selector in %q", s)
		}
		i++
	}

	for i < len(s) {
		switch s[i] {
		case '.', '#':
			kind := s[i]
			j := i + 1
			for j < len(s) && isIdentByte(s[j]) {
				j++
			}
			name := s[i+1 : j]
			if name == "" {
				return c, fmt.Errorf("empty name in %q", s)
			}
			if kind == '.' {
				c.classes = append(c.classes, name)
			} else {
				c.id = name
			}
			i = j
		case '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return c, fmt.Errorf("unterminated attribute in %q", s)
			}
			body := s[i+1 : i+end]
			var a attrSelector
			if eq := strings.IndexByte(body, '='); eq >= 0 {
				a.key = strings.TrimSpace(body[:eq])
				a.val = strings.Trim(strings.TrimSpace(body[eq+1:]), `"'`)
				a.hasVal = true
			} else {
				a.key = strings.TrimSpace(body)
			}
			if a.key == "" {
				return c, fmt.Errorf("empty attribute in %q", s)
			}
			c.attrs = append(c.attrs, a)
			i += end + 1
		default:
			return c, fmt.Errorf("unsupported syntax %q in %q", s[i:], s)
		}
	}
	return c, nil
}

func isIdentByte(b byte) bool {
	return b == '-' || b == '_' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// Match reports whether n matches any selector of the list. Ancestors are
// looked up in the whole tree, as Element.matches does.
func (s Selector) Match(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	for _, cs := range s {
		if cs.matchAt(n, len(cs.parts)-1) {
			return true
		}
	}
	return false
}

// MatchAll returns the descendants of root (root excluded) matching the
// list, in document order.
func (s Selector) MatchAll(root *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if s.Match(c) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}

// MatchFirst returns the first descendant of root matching the list.
func (s Selector) MatchFirst(root *html.Node) *html.Node {
	var found *html.Node
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if s.Match(c) {
				found = c
				return true
			}
			if walk(c) {
				return true
			}
		}
		return false
	}
	if root != nil {
		walk(root)
	}
	return found
}

func (cs complexSelector) matchAt(n *html.Node, i int) bool {
	if !cs.parts[i].match(n) {
		return false
	}
	if i == 0 {
		return true
	}
	switch cs.combs[i-1] {
	case '>':
		p := parentElement(n)
		return p != nil && cs.matchAt(p, i-1)
	default:
		for p := parentElement(n); p != nil; p = parentElement(p) {
			if cs.matchAt(p, i-1) {
				return true
			}
		}
		return false
	}
}

func (c compound) match(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if c.tag != "" && n.Data != c.tag {
		return false
	}
	if c.id != "" && attr(n, "id") != c.id {
		return false
	}
	if len(c.classes) > 0 {
		have := strings.Fields(attr(n, "class"))
		for _, want := range c.classes {
			if !contains(have, want) {
				return false
			}
		}
	}
	for _, a := range c.attrs {
		v, ok := lookupAttr(n, a.key)
		if !ok || (a.hasVal && v != a.val) {
			return false
		}
	}
	return true
}

func parentElement(n *html.Node) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode {
			return p
		}
		if p.Type == html.DocumentNode {
			return nil
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func hasAnyClass(n *html.Node, classes []string) bool {
	if n.Type != html.ElementNode {
		return false
	}
	have := strings.Fields(attr(n, "class"))
	for _, c := range classes {
		if contains(have, c) {
			return true
		}
	}
	return false
}
