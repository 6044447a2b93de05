package tts

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Hello there.", "Hello there."},
		{"bold and italic", "This is **very** *important*.", "This is very important."},
		{"inline code", "Run `ls` now.", "Run ls now."},
		{"strikethrough", "It is ~~not~~ done.", "It is not done."},
		{"link", "See [the docs](https://example.com) first.", "See the docs first."},
		{"heading", "## Summary\nAll good.", "Summary All good."},
		{"bullets", "Steps:\n- one\n- two\n1. three", "Steps: one two three"},
		{"emoji", "Great job 🎉👍!", "Great job !"},
		{"whitespace", "  a \t b\n\nc  ", "a b c"},
		{"keeps numbers and currency", "It costs $5, about 20% off.", "It costs $5, about 20% off."},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}
