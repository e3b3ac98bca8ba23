package text

import (
	"regexp"
	"strings"
)

// emojiPattern covers the pictographic blocks stripped before
// synthesis; TTS models render them as garbage otherwise.
var emojiPattern = regexp.MustCompile("[" +
	"\U0001F600-\U0001F64F" + // emoticons
	"\U0001F300-\U0001F5FF" + // symbols & pictographs
	"\U0001F680-\U0001F6FF" + // transport & map symbols
	"\U0001F700-\U0001F77F" + // alchemical symbols
	"\U0001F780-\U0001F7FF" + // geometric shapes extended
	"\U0001F800-\U0001F8FF" + // supplemental arrows-C
	"\U0001F900-\U0001F9FF" + // supplemental symbols and pictographs
	"\U0001FA00-\U0001FA6F" + // chess symbols
	"\U0001FA70-\U0001FAFF" + // symbols and pictographs extended-A
	"✂-➰" + // dingbats
	"Ⓜ-\U0001F251" +
	"]+")

var (
	boldPattern             = regexp.MustCompile(`\*\*(.*?)\*\*`)
	italicPattern           = regexp.MustCompile(`\*(.*?)\*`)
	underlinePattern        = regexp.MustCompile(`__(.*?)__`)
	italicUnderscorePattern = regexp.MustCompile(`_(.*?)_`)
)

// StripEmojis removes emoji codepoints from text.
func StripEmojis(text string) string {
	return emojiPattern.ReplaceAllString(text, "")
}

// StripMarkdownEmphasis removes markdown emphasis markers:
// **bold**, *italic*, __underlined__, and _italic_. Idempotent;
// strings without markers pass through unchanged.
func StripMarkdownEmphasis(text string) string {
	text = boldPattern.ReplaceAllString(text, "$1")
	text = italicPattern.ReplaceAllString(text, "$1")
	text = underlinePattern.ReplaceAllString(text, "$1")
	text = italicUnderscorePattern.ReplaceAllString(text, "$1")
	return text
}

// CleanForSpeech prepares a text fragment for synthesis: trim, strip
// markdown emphasis, strip emojis, trim again. Returns "" for
// fragments with no speakable residue.
func CleanForSpeech(text string) string {
	text = strings.TrimSpace(text)
	text = StripMarkdownEmphasis(text)
	text = StripEmojis(text)
	return strings.TrimSpace(text)
}
