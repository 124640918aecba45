package browser

import "testing"

func TestShouldBlock(t *testing.T) {
	set := map[string]bool{"images": true, "fonts": true, "xhr": true}
	cases := []struct {
		typ  string
		want bool
	}{
		{"Image", true},
		{"Font", true},
		{"Stylesheet", false},
		{"Media", false},
		{"XHR", true},
		{"Document", false},
	}
	for _, tc := range cases {
		if got := shouldBlock(set, tc.typ); got != tc.want {
			t.Errorf("shouldBlock(%q): got %v, want %v", tc.typ, got, tc.want)
		}
	}
}

func TestManager_ClosedAndDefaults(t *testing.T) {
	m := NewManager(Config{})
	if m.cfg.NavigateTimeout == 0 || m.cfg.Logger == nil {
		t.Fatalf("defaults not applied: %+v", m.cfg)
	}
	if m.Browser() != nil {
		t.Error("Browser before Start: want nil")
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Start(t.Context()); err == nil {
		t.Error("Start after Close: want error")
	}
	if err := m.Recycle(); err == nil {
		t.Error("Recycle after Close: want error")
	}
}
