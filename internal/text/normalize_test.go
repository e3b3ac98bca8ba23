package text

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain sentence", "Hello there.", "Hello there."},
		{"edge whitespace trimmed", " \t Hello there. \n", "Hello there."},
		{"interior spacing kept", "one   two", "one   two"},
		{"crlf collapses", "one\r\ntwo", "one\ntwo"},
		{"bare cr collapses", "one\rtwo", "one\ntwo"},
		{"mixed endings", "a\r\nb\rc\nd", "a\nb\nc\nd"},
		{"consecutive crlf", "a\r\n\r\nb", "a\n\nb"},
		{"bom dropped", "\ufeffHello", "Hello"},
		{"zero width dropped", "He\u200bllo wor\u200cld", "Hello world"},
		{"unicode untouched", "Héllo, wörld?", "Héllo, wörld?"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.input)
			if err != nil {
				t.Fatalf("Normalize(%q): %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeRejectsEmptyInput(t *testing.T) {
	for _, input := range []string{"", "   ", "\r\n\t ", "\ufeff\u200b"} {
		if _, err := Normalize(input); !errors.Is(err, ErrEmptyText) {
			t.Errorf("Normalize(%q) err = %v, want ErrEmptyText", input, err)
		}
	}
}
