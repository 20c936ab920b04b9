package pipeline

import (
	"log/slog"
	"regexp"
)

// injectionPatterns match known prompt-injection shapes in user text. Each
// hit is replaced in place with a [filtered] marker before the text reaches
// any LLM prompt.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions|prompts|rules)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|your)\s+(instructions|prompts|rules|training)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|the)\s+\w+`),
	regexp.MustCompile(`(?i)new\s+system\s+prompt\s*:`),
	regexp.MustCompile(`(?i)\[?\s*system\s*\]?\s*:\s*`),
	regexp.MustCompile(`(?i)pretend\s+(you\s+are|to\s+be)\s+`),
	regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system\s+prompt|instructions|prompt)`),
	regexp.MustCompile(`(?i)<\s*/?\s*(system|assistant|instructions?)\s*>`),
	regexp.MustCompile("(?s)```\\s*(system|instructions?)\\b.*?```"),
}

const filteredMarker = "[filtered]"

// Sanitize strips known injection patterns from user text, replacing each
// match with a marker. Returns the sanitized text and how many patterns hit.
func Sanitize(text string) (string, int) {
	hits := 0
	for _, p := range injectionPatterns {
		text = p.ReplaceAllStringFunc(text, func(string) string {
			hits++
			return filteredMarker
		})
	}
	if hits > 0 {
		slog.Warn("Stripped prompt-injection patterns from user text", "hits", hits)
	}
	return text, hits
}
