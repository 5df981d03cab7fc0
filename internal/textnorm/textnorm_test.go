package textnorm

import "testing"

func TestClean(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  hello   world ", "hello world"},
		{"line\none\ttab", "line one tab"},
		{"１，５００円", "1,500円"},
		{"ＡＢＣ　ｄｅｆ", "ABC def"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := Clean(tt.in); got != tt.want {
			t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTitleKey(t *testing.T) {
	if got := TitleKey("  Vintage  SEIKO Watch "); got != "vintage seiko watch" {
		t.Errorf("TitleKey() = %q", got)
	}
}

func TestPrefix(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"abcdef", 3, "abc"},
		{"abc", 10, "abc"},
		{"日本語テキスト", 3, "日本語"},
		{"abc", 0, ""},
	}

	for _, tt := range tests {
		if got := Prefix(tt.in, tt.n); got != tt.want {
			t.Errorf("Prefix(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}

	if Len("日本語") != 3 {
		t.Errorf("Len() = %d, want 3", Len("日本語"))
	}
}
