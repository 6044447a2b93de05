package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Sentences splits text after sentence-ending punctuation that is followed by
// whitespace, and after line breaks. Terminators and closing quotes stay with
// their sentence; "3.14" or "e.g.x" are not split.
func Sentences(text string) []string {
	var sentences []string
	start := 0
	for _, cut := range boundaries(text) {
		if s := strings.TrimSpace(text[start:cut]); s != "" {
			sentences = append(sentences, s)
		}
		start = cut
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// SplitReady returns the prefix of a streaming buffer that can be spoken now and
// the remainder that should keep accumulating.
//
// The ready prefix runs through the last confirmed sentence boundary. A buffer that
// reached maxLen without one is cut at its last whitespace so a word is never split.
// When final is set the whole buffer is ready.
func SplitReady(buffer string, maxLen int, final bool) (ready, rest string) {
	if final {
		return buffer, ""
	}
	if cuts := boundaries(buffer); len(cuts) > 0 {
		cut := cuts[len(cuts)-1]
		return buffer[:cut], buffer[cut:]
	}
	if maxLen > 0 && runeLen(buffer) >= maxLen {
		if idx := strings.LastIndexFunc(buffer, unicode.IsSpace); idx > 0 {
			return buffer[:idx], buffer[idx:]
		}
		return buffer, ""
	}
	return "", buffer
}

// boundaries returns byte offsets at which text can be cut between sentences.
// A terminator at the very end of text is not a boundary yet: a streaming buffer
// may still be in the middle of a number or an abbreviation.
func boundaries(text string) []int {
	var cuts []int
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if r == '\n' {
			cuts = append(cuts, i)
			continue
		}
		if !isTerminator(r) {
			continue
		}

		j := i
		for j < len(text) {
			next, n := utf8.DecodeRuneInString(text[j:])
			if !isTerminator(next) && !isCloser(next) {
				break
			}
			j += n
		}
		if j < len(text) {
			next, _ := utf8.DecodeRuneInString(text[j:])
			if unicode.IsSpace(next) {
				cuts = append(cuts, j)
			}
		}
		i = j
	}
	return cuts
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '»':
		return true
	}
	return false
}
