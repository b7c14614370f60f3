package analysis

import "strings"

const snippetWords = 12

// FocusSnippet returns the first sentence of message cut to twelve words, with "..."
// appended when words were dropped. ok is false for blank input.
func FocusSnippet(message string) (snippet string, ok bool) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return "", false
	}

	var first string
	for _, part := range strings.FieldsFunc(trimmed, isSentenceEnd) {
		if p := strings.TrimSpace(part); p != "" {
			first = p
			break
		}
	}
	if first == "" {
		return "", false
	}

	words := strings.Fields(first)
	if len(words) > snippetWords {
		words = words[:snippetWords]
	}
	preview := strings.Join(words, " ")
	if len(preview) < len(first) {
		return preview + "...", true
	}
	return preview, true
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
