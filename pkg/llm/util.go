package llm

import (
	"strings"
	"unicode/utf8"
)

// CleanJSONBlock removes markdown code fences from a JSON string if present.
func CleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)

	// Look for ```json start
	start := strings.Index(text, "```json")
	if start != -1 {
		text = text[start+len("```json"):]
		end := strings.LastIndex(text, "```")
		if end != -1 {
			text = text[:end]
		}
		return strings.TrimSpace(text)
	}

	// Look for generic ``` start
	start = strings.Index(text, "```")
	if start != -1 {
		text = text[start+len("```"):]
		end := strings.LastIndex(text, "```")
		if end != -1 {
			text = text[:end]
		}
		return strings.TrimSpace(text)
	}

	return strings.TrimSpace(text)
}

// TruncateBytes caps s at max bytes without splitting a UTF-8 rune, appending
// a marker when content was cut. Used to bound tool output fed back to a model.
func TruncateBytes(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…[truncated]"
}
