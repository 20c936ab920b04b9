package pipeline

import (
	"regexp"
	"strings"
)

// GuardrailAction is the gate verdict. Only PASS lets the mandate proceed.
type GuardrailAction string

const (
	GuardrailPass     GuardrailAction = "PASS"
	GuardrailSilence  GuardrailAction = "SILENCE"
	GuardrailCooldown GuardrailAction = "COOLDOWN"
	GuardrailRefuse   GuardrailAction = "REFUSE"
	GuardrailClarify  GuardrailAction = "CLARIFY"
)

// GuardrailSignals are the inputs the gate evaluates.
type GuardrailSignals struct {
	Ambiguity       float64 // 0..1
	EmotionalLoad   float64 // 0..1
	Transcript      string
	L1TopConfidence float64
}

// GuardrailVerdict is the gate outcome plus the nudge text for the user.
type GuardrailVerdict struct {
	Action GuardrailAction `json:"action"`
	Reason string          `json:"reason,omitempty"`
	Nudge  string          `json:"nudge,omitempty"`
}

const (
	ambiguityThreshold     = 0.30
	emotionalLoadThreshold = 0.70
	l1ConfidenceFloor      = 0.40
)

// harmKeywords is a closed list matched on strict word boundaries.
var harmKeywords = []string{
	"kill", "hurt", "attack", "weapon", "bomb", "poison",
	"suicide", "overdose", "stalk", "kidnap",
}

// policyKeywords catch requests the product refuses regardless of context.
var policyKeywords = []string{
	"impersonate", "deepfake", "launder", "counterfeit",
	"wiretap", "blackmail", "extort",
}

var (
	harmPattern   = compileKeywordPattern(harmKeywords)
	policyPattern = compileKeywordPattern(policyKeywords)
)

func compileKeywordPattern(words []string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b(` + strings.Join(words, "|") + `)\b`)
}

// emotionWords is a coarse lexicon for the emotional-load estimate.
var emotionWords = []string{
	"furious", "hate", "angry", "devastated", "desperate", "terrified",
	"panicking", "panic", "screaming", "crying", "rage", "unbearable",
}

var emotionPattern = compileKeywordPattern(emotionWords)

// EstimateAmbiguity measures how contested the L1 ranking is: two
// hypotheses with near-equal confidence are ambiguous, a clear leader is
// not. Single-hypothesis results are unambiguous by definition.
func EstimateAmbiguity(l1 *L1Result) float64 {
	if l1 == nil || len(l1.Hypotheses) < 2 {
		return 0
	}
	gap := l1.Hypotheses[0].Confidence - l1.Hypotheses[1].Confidence
	if gap < 0 {
		gap = 0
	}
	// A gap of 0.5 or more is treated as fully unambiguous.
	ambiguity := 1 - gap/0.5
	if ambiguity < 0 {
		return 0
	}
	return ambiguity
}

// EstimateEmotionalLoad is a coarse lexical estimate: emotion keywords and
// exclamation density over the transcript.
func EstimateEmotionalLoad(transcript string) float64 {
	words := strings.Fields(transcript)
	if len(words) == 0 {
		return 0
	}
	hits := len(emotionPattern.FindAllString(transcript, -1))
	hits += strings.Count(transcript, "!")
	load := float64(hits) * 4 / float64(len(words))
	if load > 1 {
		return 1
	}
	return load
}

// EvaluateGuardrails checks the gates in order; the most restrictive
// matching gate wins.
func EvaluateGuardrails(sig GuardrailSignals) GuardrailVerdict {
	if sig.Ambiguity > ambiguityThreshold {
		return GuardrailVerdict{
			Action: GuardrailSilence,
			Reason: "ambiguity above threshold",
			Nudge:  "I want to get this right. Could you say a bit more about what you need?",
		}
	}
	if sig.EmotionalLoad > emotionalLoadThreshold {
		return GuardrailVerdict{
			Action: GuardrailCooldown,
			Reason: "emotional load above threshold",
			Nudge:  "Let's take a moment. I'll hold this until you're ready to continue.",
		}
	}
	if m := harmPattern.FindString(sig.Transcript); m != "" {
		return GuardrailVerdict{
			Action: GuardrailRefuse,
			Reason: "harm pattern match: " + strings.ToLower(m),
		}
	}
	if m := policyPattern.FindString(sig.Transcript); m != "" {
		return GuardrailVerdict{
			Action: GuardrailRefuse,
			Reason: "policy violation match: " + strings.ToLower(m),
		}
	}
	if sig.L1TopConfidence < l1ConfidenceFloor {
		return GuardrailVerdict{
			Action: GuardrailClarify,
			Reason: "low hypothesis confidence",
			Nudge:  "I'm not sure I understood. Could you rephrase that?",
		}
	}
	return GuardrailVerdict{Action: GuardrailPass}
}
