// Package redaction scrubs PII and credentials from log output and audit
// detail blobs. Created once at application startup (singleton). Thread-safe
// and stateless aside from compiled patterns.
package redaction

import (
	"fmt"
	"strings"
)

// Redactor applies regex redaction to strings and key-aware redaction to
// nested structures.
type Redactor struct {
	enabled  bool
	patterns []*CompiledPattern
}

// NewRedactor compiles the builtin pattern set. When enabled is false every
// method passes input through unchanged; the instance is still safe to share.
func NewRedactor(enabled bool) *Redactor {
	return &Redactor{
		enabled:  enabled,
		patterns: compilePatterns(),
	}
}

// Enabled reports whether redaction is active. Nil receivers are disabled.
func (r *Redactor) Enabled() bool { return r != nil && r.enabled }

// String applies every compiled pattern to s.
func (r *Redactor) String(s string) string {
	if !r.Enabled() || s == "" {
		return s
	}
	for _, p := range r.patterns {
		s = p.Regex.ReplaceAllString(s, p.Replacement)
	}
	return s
}

// Value redacts an arbitrary value. Maps and slices are walked recursively;
// values under sensitive keys are replaced wholesale; strings go through the
// pattern sweep. Other scalar types pass through untouched.
func (r *Redactor) Value(v any) any {
	if !r.Enabled() {
		return v
	}
	return r.walk(v, 0)
}

// Map redacts a detail blob in place-compatible fashion: the returned map is
// a deep copy with sensitive values replaced.
func (r *Redactor) Map(m map[string]any) map[string]any {
	if !r.Enabled() || m == nil {
		return m
	}
	out, _ := r.walk(m, 0).(map[string]any)
	return out
}

// maxWalkDepth bounds recursion on hostile or cyclic-ish payloads.
const maxWalkDepth = 16

func (r *Redactor) walk(v any, depth int) any {
	if depth > maxWalkDepth {
		return "[REDACTED_DEPTH]"
	}
	switch t := v.(type) {
	case string:
		return r.String(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if isSensitiveKey(k) {
				out[k] = "[REDACTED]"
				continue
			}
			out[k] = r.walk(val, depth+1)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if isSensitiveKey(k) {
				out[k] = "[REDACTED]"
				continue
			}
			out[k] = r.String(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = r.walk(val, depth+1)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = r.String(val)
		}
		return out
	case fmt.Stringer:
		return r.String(t.String())
	default:
		return v
	}
}

func isSensitiveKey(k string) bool {
	redact, ok := sensitiveKeys[strings.ToLower(k)]
	return ok && redact
}
