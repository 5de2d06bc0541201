package cli

import (
	"bytes"
	"strings"
	"testing"
)

func prompter(input string) *Prompter {
	return &Prompter{In: strings.NewReader(input), Out: &bytes.Buffer{}}
}

func TestAsk(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		defaultVal string
		want       string
	}{
		{"typed answer wins", "hub-1\n", "default", "hub-1"},
		{"enter takes default", "\n", "fallback", "fallback"},
		{"whitespace takes default", "   \n", "fallback", "fallback"},
		{"eof takes default", "", "fallback", "fallback"},
		{"answer is trimmed", "  spaced  \n", "", "spaced"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := prompter(tt.input).Ask("Question", tt.defaultVal); got != tt.want {
				t.Errorf("Ask() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAskPasswordPlainFallback(t *testing.T) {
	// strings.Reader is not a terminal, so the echo-less path is skipped.
	if got := prompter("s3cret\n").AskPassword("Password"); got != "s3cret" {
		t.Errorf("AskPassword() = %q", got)
	}
}

func TestAskInt(t *testing.T) {
	if got := prompter("8080\n").AskInt("Port", 15377); got != 8080 {
		t.Errorf("AskInt() = %d, want 8080", got)
	}
	if got := prompter("\n").AskInt("Port", 15377); got != 15377 {
		t.Errorf("AskInt() default = %d, want 15377", got)
	}
	// Rejected answers re-prompt until a valid one arrives.
	if got := prompter("zero\n-4\n42\n").AskInt("Port", 1); got != 42 {
		t.Errorf("AskInt() after retries = %d, want 42", got)
	}
}

func TestChoose(t *testing.T) {
	options := []string{"sqlite", "postgres"}
	if got := prompter("2\n").Choose("Driver", options, 0); got != "postgres" {
		t.Errorf("Choose() = %q, want postgres", got)
	}
	if got := prompter("\n").Choose("Driver", options, 0); got != "sqlite" {
		t.Errorf("Choose() default = %q, want sqlite", got)
	}
	// Out-of-range picks re-prompt.
	if got := prompter("9\n1\n").Choose("Driver", options, 1); got != "sqlite" {
		t.Errorf("Choose() after retry = %q, want sqlite", got)
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input      string
		defaultYes bool
		want       bool
	}{
		{"y\n", false, true},
		{"yes\n", false, true},
		{"n\n", true, false},
		{"\n", true, true},
		{"\n", false, false},
	}
	for _, tt := range tests {
		if got := prompter(tt.input).Confirm("Continue?", tt.defaultYes); got != tt.want {
			t.Errorf("Confirm(%q, default=%v) = %v, want %v", strings.TrimSpace(tt.input), tt.defaultYes, got, tt.want)
		}
	}
}
