package prompt

import "strings"

// A capsule summary is the compact line-oriented form in which prior-session
// context travels: one "key: value" entry per line, optionally dash-bulleted.
// Parse and render are order-stable inverses, so re-rendering a parsed
// capsule never perturbs the prompt hash.

// CapsuleEntry is one key/value line of a capsule summary.
type CapsuleEntry struct {
	Key   string
	Value string
}

// ParseCapsuleSummary parses capsule text into entries, preserving line
// order. Headings and blank lines are skipped; a line without a "key: value"
// shape becomes a "note" entry.
func ParseCapsuleSummary(text string) []CapsuleEntry {
	var entries []CapsuleEntry
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimSpace(strings.TrimPrefix(line, "- "))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, ": "); ok && strings.TrimSpace(k) != "" {
			entries = append(entries, CapsuleEntry{
				Key:   strings.TrimSpace(k),
				Value: strings.TrimSpace(v),
			})
			continue
		}
		entries = append(entries, CapsuleEntry{Key: "note", Value: line})
	}
	return entries
}

// BuildContextPrefix renders entries back into the canonical prefix block,
// one bulleted line per entry in input order. Empty input renders nothing.
func BuildContextPrefix(entries []CapsuleEntry) string {
	if len(entries) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Prior Context\n")
	for _, e := range entries {
		sb.WriteString("- ")
		sb.WriteString(e.Key)
		sb.WriteString(": ")
		sb.WriteString(e.Value)
		sb.WriteString("\n")
	}
	return sb.String()
}

// ContextPrefixSection renders capsule entries as the prior-context section
// that precedes the live transcript.
func ContextPrefixSection(entries []CapsuleEntry) Section {
	return Section{
		ID:         SectionContextPrefix,
		Priority:   5,
		Content:    BuildContextPrefix(entries),
		Volatility: VolatilityVolatile,
	}
}
