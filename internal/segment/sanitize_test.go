package segment

import "testing"

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Nothing to do here.", "Nothing to do here."},
		{"url", "Check https://example.com/path?q=1 now", "Check now"},
		{"bare domain", "see reddit.com for more", "see for more"},
		{"symbols", "Wait... what?! (really) [yes] {no}", "Wait... what? really yes no"},
		{"spelled out", "Tom & Jerry + friends", "Tom and Jerry plus friends"},
		{"apostrophes", "don't 'quote' me", "don't quote me"},
		{"whitespace", "  lots\n\tof   space  ", "lots of space"},
		{"only symbols", "*** ### ---", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.in); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPrepareComment(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"adds period", "I agree", "I agree."},
		{"keeps period", "I agree.", "I agree."},
		{"newlines", "Line one\nLine two", "Line one. Line two."},
		{"acronyms", "AI and AGI are not the same as AIM", "A.I and A.G.I are not the same as AIM."},
		{"quoted end", `He said "stop."`, `He said "stop".`},
		{"link only", "https://example.com", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PrepareComment(tt.in); got != tt.want {
				t.Errorf("PrepareComment(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
