package redaction

import (
	"log/slog"
	"regexp"
)

// Pattern pairs a named regex with its replacement marker.
type Pattern struct {
	Name        string
	Pattern     string
	Replacement string
	Description string
}

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// builtinPatterns is the closed set of patterns applied to every log line
// and audit detail blob. Order matters: more specific patterns run first so
// a JWT is not half-eaten by the generic secret-assignment pattern.
var builtinPatterns = []Pattern{
	{
		Name:        "jwt",
		Pattern:     `\beyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\b`,
		Replacement: "[REDACTED_JWT]",
		Description: "JWT-style three-part tokens",
	},
	{
		Name:        "bearer",
		Pattern:     `(?i)\bbearer\s+[A-Za-z0-9._~+/-]{8,}=*`,
		Replacement: "[REDACTED_BEARER]",
		Description: "Bearer authorization values",
	},
	{
		Name:        "mongodb_uri",
		Pattern:     `\bmongodb(?:\+srv)?://[^\s"']+`,
		Replacement: "[REDACTED_URI]",
		Description: "MongoDB-style connection URIs with embedded credentials",
	},
	{
		Name:        "email",
		Pattern:     `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`,
		Replacement: "[REDACTED_EMAIL]",
		Description: "Email addresses",
	},
	{
		Name:        "ssn",
		Pattern:     `\b\d{3}-\d{2}-\d{4}\b`,
		Replacement: "[REDACTED_SSN]",
		Description: "US social security numbers",
	},
	{
		Name:        "phone_intl",
		Pattern:     `\+\d{1,3}[\s.-]?\(?\d{1,4}\)?(?:[\s.-]?\d{2,4}){2,4}`,
		Replacement: "[REDACTED_PHONE]",
		Description: "International phone numbers",
	},
	{
		Name:        "secret_assignment",
		Pattern:     `(?i)\b(api[_-]?key|token|secret|password)\b\s*[:=]\s*["']?[^\s"',;]{4,}["']?`,
		Replacement: "${1}=[REDACTED]",
		Description: "key/token/secret/password assignments",
	},
}

// sensitiveKeys is the key set used by structured redaction. Values under
// these keys are replaced wholesale regardless of content.
var sensitiveKeys = map[string]bool{
	"token":          true,
	"access_token":   true,
	"refresh_token":  true,
	"touch_token":    true,
	"touchtoken":     true,
	"authorization":  true,
	"password":       true,
	"secret":         true,
	"api_key":        true,
	"apikey":         true,
	"llm_api_key":    true,
	"dispatch_token": true,
	"jwt_secret":     true,
	"sso_hs_secret":  true,
	"biometricproof": true,
	"signature":      false, // signatures are integrity data, not secrets
}

// compilePatterns compiles the builtin pattern set. Invalid patterns are
// logged and skipped so one bad regex cannot disable redaction entirely.
func compilePatterns() []*CompiledPattern {
	compiled := make([]*CompiledPattern, 0, len(builtinPatterns))
	for _, p := range builtinPatterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			slog.Error("Failed to compile redaction pattern, skipping",
				"pattern", p.Name, "error", err)
			continue
		}
		compiled = append(compiled, &CompiledPattern{
			Name:        p.Name,
			Regex:       re,
			Replacement: p.Replacement,
		})
	}
	return compiled
}
