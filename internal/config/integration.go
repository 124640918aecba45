package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/dominject/inject"
)

// IntegrationConfig is the serialised form of an inject.Integration. Base
// names a built-in preset to start from; set fields override it.
type IntegrationConfig struct {
	Name            string        `yaml:"name"`
	Base            string        `yaml:"base"`
	Anchor          string        `yaml:"anchor"`
	Exclude         string        `yaml:"exclude"` // first | none | comma-separated indices
	Marker          string        `yaml:"marker"`
	HostTag         string        `yaml:"host_tag"`
	InsertionPoints []string      `yaml:"insertion_points"`
	Scope           []string      `yaml:"scope"`
	SelfScope       bool          `yaml:"self_scope"`
	Candidate       string        `yaml:"candidate"`
	Policy          string        `yaml:"policy"`
	Label           string        `yaml:"label"`
	Placeholder     string        `yaml:"placeholder"`
	Accent          string        `yaml:"accent"`
	Debounce        time.Duration `yaml:"debounce"`
}

var (
	strict    = bluemonday.StrictPolicy()
	accentRe  = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3,4}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)
	markerRe  = regexp.MustCompile(`^-?[_a-zA-Z][_a-zA-Z0-9-]*$`)
	hostTagRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9-]*$`)
)

// ToIntegration builds the validated integration. debounce applies when
// neither the config nor the base sets one.
func (ic IntegrationConfig) ToIntegration(debounce time.Duration) (inject.Integration, error) {
	var in inject.Integration
	if ic.Base != "" {
		base, ok := inject.Builtin(ic.Base)
		if !ok {
			return in, fmt.Errorf("%w: %s: unknown base %q", inject.ErrInvalidIntegration, ic.Name, ic.Base)
		}
		in = base
	}
	if ic.Name != "" {
		in.Name = ic.Name
	}

	setString(&in.Anchor, ic.Anchor)
	setString(&in.Marker, ic.Marker)
	setString(&in.HostTag, ic.HostTag)
	setString(&in.Candidate, ic.Candidate)
	if len(ic.InsertionPoints) > 0 {
		in.InsertionPoints = ic.InsertionPoints
	}
	if len(ic.Scope) > 0 {
		in.Scope = ic.Scope
	}
	if ic.SelfScope {
		in.SelfScope = true
	}
	if ic.Policy != "" {
		in.Policy = inject.Policy(ic.Policy)
	}
	setString(&in.Label, plainText(ic.Label))
	setString(&in.Placeholder, plainText(ic.Placeholder))
	setString(&in.Accent, ic.Accent)
	if ic.Debounce > 0 {
		in.Debounce = ic.Debounce
	}
	if in.Debounce <= 0 {
		in.Debounce = debounce
	}

	if ic.Exclude != "" || in.Exclude == nil {
		ex, err := parseExclude(ic.Exclude)
		if err != nil {
			return in, fmt.Errorf("%s: %w", ic.Name, err)
		}
		in.Exclude = ex
	}

	if in.Accent != "" && !accentRe.MatchString(in.Accent) {
		return in, fmt.Errorf("%w: %s: accent %q is not a hex colour", inject.ErrInvalidIntegration, in.Name, in.Accent)
	}
	if in.Marker != "" && !markerRe.MatchString(in.Marker) {
		return in, fmt.Errorf("%w: %s: marker %q is not a class name", inject.ErrInvalidIntegration, in.Name, in.Marker)
	}
	if in.HostTag != "" && !hostTagRe.MatchString(in.HostTag) {
		return in, fmt.Errorf("%w: %s: host tag %q", inject.ErrInvalidIntegration, in.Name, in.HostTag)
	}
	if err := in.Validate(); err != nil {
		return in, err
	}
	return in, nil
}

// Registry resolves integration names: the built-in presets, overridden and
// extended by defs.
func Registry(defs []IntegrationConfig, debounce time.Duration) (map[string]inject.Integration, error) {
	reg := make(map[string]inject.Integration, len(defs)+2)
	for _, name := range []string{"support-comment", "timeline-post"} {
		in, _ := inject.Builtin(name)
		if in.Debounce <= 0 {
			in.Debounce = debounce
		}
		reg[name] = in
	}
	for _, d := range defs {
		in, err := d.ToIntegration(debounce)
		if err != nil {
			return nil, err
		}
		reg[in.Name] = in
	}
	return reg, nil
}

// Revision fingerprints a definition. Equal revisions build equal
// integrations.
func (ic IntegrationConfig) Revision() string {
	data, _ := json.Marshal(ic)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// Key is the name the definition registers under: Name, or Base when it
// only tunes a preset.
func (ic IntegrationConfig) Key() string {
	if ic.Name != "" {
		return ic.Name
	}
	return ic.Base
}

// Merge returns base with every definition of over replacing the one of the
// same key, then the remaining ones appended in order.
func Merge(base, over []IntegrationConfig) []IntegrationConfig {
	idx := make(map[string]int, len(base))
	out := make([]IntegrationConfig, 0, len(base)+len(over))
	for _, d := range base {
		idx[d.Key()] = len(out)
		out = append(out, d)
	}
	for _, d := range over {
		if i, ok := idx[d.Key()]; ok {
			out[i] = d
			continue
		}
		idx[d.Key()] = len(out)
		out = append(out, d)
	}
	return out
}

func parseExclude(s string) (inject.ExcludeFunc, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "first" || s == "none" {
		return inject.ExcludeByName(s)
	}
	var idx []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: exclusion %q", inject.ErrInvalidIntegration, s)
		}
		idx = append(idx, n)
	}
	return inject.ExcludeIndices(idx...), nil
}

// plainText strips markup from config-supplied strings. Controls set them
// as textContent, so entities are decoded back.
func plainText(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(strict.Sanitize(s)))
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
