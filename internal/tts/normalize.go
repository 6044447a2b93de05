package tts

import (
	"regexp"
	"strings"
)

var (
	markdownLinkRegex   = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	headingRegex        = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s+`)
	bulletRegex         = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+\.)\s+`)
	emojiRegex          = regexp.MustCompile(`[\p{So}\p{Cs}\p{Co}\x{200D}\x{FE0E}\x{FE0F}]`)
	multipleSpacesRegex = regexp.MustCompile(`\s+`)

	markdownReplacer = strings.NewReplacer(
		"**", "", // bold
		"__", "", // underline
		"~~", "", // strikethrough
		"`", "", // inline code
		"*", "", // italic
	)
)

// Normalize strips markdown and emoji from model output so that it reads
// naturally when spoken, and collapses whitespace
func Normalize(text string) string {
	text = markdownLinkRegex.ReplaceAllString(text, "$1")
	text = headingRegex.ReplaceAllString(text, "")
	text = bulletRegex.ReplaceAllString(text, "")
	text = markdownReplacer.Replace(text)
	text = emojiRegex.ReplaceAllString(text, "")
	text = multipleSpacesRegex.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
