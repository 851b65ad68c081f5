package blogdesk

import (
	"reflect"
	"testing"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Hello World", "hello-world"},
		{"  Go 1.24: What's New?  ", "go-1-24-what-s-new"},
		{"---", ""},
		{"Ünïcode Títle", "n-code-t-tle"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildURL(t *testing.T) {
	tests := []struct {
		base     string
		segments []string
		want     string
	}{
		{"https://blog.example.com", []string{"blog", "abc"}, "https://blog.example.com/blog/abc"},
		{"https://blog.example.com/", []string{"blog", "abc"}, "https://blog.example.com/blog/abc"},
		{"https://example.com/sub", []string{"blog"}, "https://example.com/sub/blog"},
	}
	for _, tt := range tests {
		if got := BuildURL(tt.base, tt.segments...); got != tt.want {
			t.Errorf("BuildURL(%q, %v) = %q, want %q", tt.base, tt.segments, got, tt.want)
		}
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" a@example.com, ,b@example.com,,")
	want := []string{"a@example.com", "b@example.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitList = %v, want %v", got, want)
	}
	if got := SplitList(""); got != nil {
		t.Errorf("SplitList(\"\") = %v, want nil", got)
	}
}

func TestExcerpt(t *testing.T) {
	if got := Excerpt("short text", 50); got != "short text" {
		t.Errorf("Excerpt = %q", got)
	}
	if got := Excerpt("the quick brown fox jumps", 12); got != "the quick…" {
		t.Errorf("Excerpt = %q, want %q", got, "the quick…")
	}
	if got := Excerpt("  spaced \n\n out  ", 50); got != "spaced out" {
		t.Errorf("Excerpt = %q, want %q", got, "spaced out")
	}
}
