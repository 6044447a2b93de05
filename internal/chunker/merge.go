package chunker

import "strings"

// Merge joins adjacent chunks while the running length stays under maxLen/2, so
// that synthesis is not asked for many very short utterances. Order is preserved.
func Merge(chunks []string, maxLen int) []string {
	limit := maxLen / 2
	merged := make([]string, 0, len(chunks))
	acc := ""
	for _, chunk := range chunks {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		if acc == "" {
			acc = chunk
			continue
		}
		if runeLen(acc)+1+runeLen(chunk) < limit {
			acc += " " + chunk
			continue
		}
		merged = append(merged, acc)
		acc = chunk
	}
	if acc != "" {
		merged = append(merged, acc)
	}
	return merged
}
