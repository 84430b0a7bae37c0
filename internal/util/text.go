package util

import "strings"

// SplitText breaks text into chunks of at most max runes, preferring to cut after a newline.
// A non-positive max returns text as a single chunk.
func SplitText(text string, max int) []string {
	runes := []rune(text)
	if max <= 0 || len(runes) <= max {
		return []string{text}
	}
	var chunks []string
	for len(runes) > max {
		cut := max
		if i := strings.LastIndex(string(runes[:max]), "\n"); i > 0 {
			// i is a byte offset; convert back to runes.
			cut = len([]rune(string(runes[:max])[:i+1]))
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
