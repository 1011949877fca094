package voicebridge

import "testing"

func TestFormatText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "hello", "hello"},
		{"escapes html", "<script>alert(1)</script>", "&lt;script&gt;alert(1)&lt;/script&gt;"},
		{"bold", "this is **important** text", "this is <b>important</b> text"},
		{"italic", "this is *subtle* text", "this is <i>subtle</i> text"},
		{"bold before italic", "**a** and *b*", "<b>a</b> and <i>b</i>"},
		{"numbered list", "steps: 1. first 2. second", "steps: <br><b>1.</b> first <br><b>2.</b> second"},
		{"newlines", "line one\nline two", "line one<br>line two"},
		{"trims whitespace", "  padded  ", "padded"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatText(tt.input); got != tt.want {
				t.Errorf("FormatText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
