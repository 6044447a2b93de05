package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxLen is the default upper bound (in characters) of a speakable chunk
const DefaultMaxLen = 200

// wordsPerGroup is the size of the whitespace fallback groups
const wordsPerGroup = 6

// maxClauseParts bounds the comma split: the first two commas only
const maxClauseParts = 3

// Chunk splits text into speakable segments no longer than maxLen characters.
//
// Short text is returned whole. Longer text is split on its first two commas and
// the clauses are packed back together while they fit; clauses that are still too
// long, and text without commas, fall back to groups of a few words. A single word
// longer than maxLen is cut at its last punctuation mark, or hard-cut as a last
// resort. No text is ever dropped, and blank input yields no chunks.
func Chunk(text string, maxLen int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if maxLen <= 0 || runeLen(trimmed) < maxLen {
		return []string{trimmed}
	}

	if !strings.Contains(trimmed, ",") {
		return wordGroups(trimmed, maxLen)
	}

	raw := strings.SplitN(trimmed, ",", maxClauseParts)
	parts := make([]string, 0, len(raw))
	for i, part := range raw {
		// keep the comma with the clause it closes
		if i < len(raw)-1 {
			part += ","
		}
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if runeLen(part) > maxLen {
			parts = append(parts, wordGroups(part, maxLen)...)
			continue
		}
		parts = append(parts, part)
	}

	return pack(parts, maxLen)
}

// pack greedily joins parts while the running length stays under maxLen
func pack(parts []string, maxLen int) []string {
	var chunks []string
	acc := ""
	for _, part := range parts {
		if acc == "" {
			acc = part
			continue
		}
		if runeLen(acc)+1+runeLen(part) < maxLen {
			acc += " " + part
			continue
		}
		chunks = append(chunks, acc)
		acc = part
	}
	if acc != "" {
		chunks = append(chunks, acc)
	}
	return chunks
}

// wordGroups splits text on whitespace into groups of up to wordsPerGroup words,
// each no longer than maxLen
func wordGroups(text string, maxLen int) []string {
	var words []string
	for _, field := range strings.Fields(text) {
		if runeLen(field) > maxLen {
			words = append(words, splitLongWord(field, maxLen)...)
			continue
		}
		words = append(words, field)
	}

	var groups []string
	var group []string
	groupLen := 0
	for _, word := range words {
		wordLen := runeLen(word)
		nextLen := groupLen + wordLen
		if len(group) > 0 {
			nextLen++
		}
		if len(group) > 0 && (len(group) >= wordsPerGroup || nextLen > maxLen) {
			groups = append(groups, strings.Join(group, " "))
			group = group[:0]
			nextLen = wordLen
		}
		group = append(group, word)
		groupLen = nextLen
	}
	if len(group) > 0 {
		groups = append(groups, strings.Join(group, " "))
	}
	return groups
}

// splitLongWord cuts a whitespace-free run longer than maxLen. It prefers to cut
// after the last non-alphanumeric rune inside the window and hard-cuts otherwise.
func splitLongWord(word string, maxLen int) []string {
	var pieces []string
	runes := []rune(word)
	for len(runes) > maxLen {
		cut := maxLen
		for i := maxLen - 1; i > 0; i-- {
			if !isWordRune(runes[i]) {
				cut = i + 1
				break
			}
		}
		pieces = append(pieces, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		pieces = append(pieces, string(runes))
	}
	return pieces
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
