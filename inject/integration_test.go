package inject_test

import (
	"errors"
	"testing"

	"github.com/hazyhaar/dominject/inject"
)

func TestBuiltin(t *testing.T) {
	for _, name := range []string{"support-comment", "timeline-post"} {
		in, ok := inject.Builtin(name)
		if !ok || in.Name != name {
			t.Fatalf("Builtin(%q): %v %q", name, ok, in.Name)
		}
		if err := in.Validate(); err != nil {
			t.Errorf("Builtin(%q).Validate: %v", name, err)
		}
	}
	if _, ok := inject.Builtin("nope"); ok {
		t.Error("Builtin(nope): want false")
	}
}

func TestExcludeByName(t *testing.T) {
	cases := []struct {
		name string
		at0  bool
		at1  bool
	}{
		{"", true, false},
		{"first", true, false},
		{"none", false, false},
	}
	for _, tc := range cases {
		f, err := inject.ExcludeByName(tc.name)
		if err != nil {
			t.Fatalf("ExcludeByName(%q): %v", tc.name, err)
		}
		if f(0, nil) != tc.at0 || f(1, nil) != tc.at1 {
			t.Errorf("ExcludeByName(%q): got %v,%v", tc.name, f(0, nil), f(1, nil))
		}
	}
	if _, err := inject.ExcludeByName("odd"); !errors.Is(err, inject.ErrInvalidIntegration) {
		t.Errorf("ExcludeByName(odd): got %v", err)
	}
}

func TestStateString(t *testing.T) {
	if inject.Idle.String() != "idle" || inject.ScanPending.String() != "scan_pending" {
		t.Errorf("State.String: %s %s", inject.Idle, inject.ScanPending)
	}
}
