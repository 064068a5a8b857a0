package markdown

import "testing"

func TestEscape(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain path", "config/settings.yml", "config/settings.yml"},
		{"underscores", "build_config.json", `build\_config.json`},
		{"backtick", "a`b", "a\\`b"},
		{"asterisk and brackets", "*[all]*", `\*\[all\]\*`},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Escape(tt.in); got != tt.want {
				t.Errorf("Escape(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestEscapeJoin(t *testing.T) {
	got := EscapeJoin([]string{"a_b.yml", "c.json"})
	want := `a\_b.yml, c.json`
	if got != want {
		t.Errorf("EscapeJoin = %q, want %q", got, want)
	}
	if EscapeJoin(nil) != "" {
		t.Errorf("EscapeJoin(nil) = %q, want empty", EscapeJoin(nil))
	}
}
