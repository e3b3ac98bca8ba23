package text

import (
	"errors"
	"strings"
)

// ErrEmptyText reports speech input with nothing to synthesize.
var ErrEmptyText = errors.New("text is empty")

// Normalize prepares request text for the synthesis pipeline. Line
// endings collapse to \n, byte-order marks and zero-width runes are
// dropped so the grapheme tokenizers never see them, and surrounding
// whitespace is trimmed. Whitespace-only input is rejected up front;
// an empty utterance would otherwise surface as an executor error
// after a model is already leased.
func Normalize(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))

	pendingCR := false
	for _, r := range s {
		if pendingCR {
			pendingCR = false
			if r == '\n' {
				continue // CRLF already emitted as one \n
			}
		}
		switch r {
		case '\r':
			b.WriteByte('\n')
			pendingCR = true
		case '\ufeff', '\u200b', '\u200c', '\u200d':
			// zero-width; skip
		default:
			b.WriteRune(r)
		}
	}

	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", ErrEmptyText
	}
	return out, nil
}
