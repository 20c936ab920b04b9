package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/myndlens/vox/pkg/audit"
	"github.com/myndlens/vox/pkg/breaker"
	"github.com/myndlens/vox/pkg/llm"
	"github.com/myndlens/vox/pkg/prompt"
)

const verifierTimeout = 10 * time.Second

// Agreement rule constants between L1 and the L2 shadow derivation.
const (
	maxConfidenceDelta = 0.25
	minAgreeConfidence = 0.55
)

const verifierSchema = `{
  "intent": "string",
  "action_class": "string",
  "canonical_target": "string",
  "primary_outcome": "string",
  "risk_tier": 0,
  "confidence": 0.0,
  "chain_of_logic": "string",
  "shadow_agrees_with_l1": true,
  "conflicts": ["string"]
}`

// Verifier is the L2 shadow derivation: an independent reading of the
// transcript whose agreement with L1 is checked deterministically here,
// never trusted from the model's own claim.
type Verifier struct {
	gateway  *llm.Gateway
	builder  *prompt.Builder
	breakers *breaker.Registry
	auditor  *audit.Logger
}

// NewVerifier wires the L2 stage.
func NewVerifier(gateway *llm.Gateway, builder *prompt.Builder, breakers *breaker.Registry, auditor *audit.Logger) *Verifier {
	return &Verifier{gateway: gateway, builder: builder, breakers: breakers, auditor: auditor}
}

// Verify derives the intent independently and applies the agreement rule.
// Failures degrade to a disagreeing low-confidence result so downstream
// trust is reduced rather than the pipeline aborted.
func (v *Verifier) Verify(ctx context.Context, sessionID, transcript string, l1 *L1Result) *L2Result {
	fallback := &L2Result{
		Intent:             transcript,
		RiskTier:           2,
		Confidence:         0.2,
		ShadowAgreesWithL1: false,
		Conflicts:          []string{"shadow derivation unavailable"},
		Degraded:           true,
	}

	sanitized, _ := Sanitize(transcript)
	artifact, err := v.builder.Build(prompt.PurposeVerify, "json", []prompt.Section{
		prompt.IdentitySection(),
		prompt.PurposeContractSection(prompt.PurposeVerify,
			"Derive the user's intent from the transcript alone. Do not assume any prior interpretation is correct."),
		prompt.OutputSchemaSection(verifierSchema),
		prompt.TaskContextSection(sanitized),
	}, sanitized)
	if err != nil {
		slog.Error("Verifier prompt build failed", "error", err)
		return fallback
	}

	ctx, cancel := context.WithTimeout(ctx, verifierTimeout)
	defer cancel()

	var completion *llm.Completion
	err = v.breakers.Execute("l2", func() error {
		var callErr error
		completion, callErr = v.gateway.Complete(ctx, "pipeline.verifier", artifact)
		return callErr
	})
	if err != nil {
		slog.Warn("L2 shadow derivation degraded to fallback", "error", err)
		return fallback
	}

	var result L2Result
	if err := json.Unmarshal([]byte(completion.Content), &result); err != nil {
		slog.Warn("L2 parse failure, using fallback", "error", err)
		return fallback
	}

	agrees, conflicts := CheckAgreement(l1.Top(), &result)
	result.ShadowAgreesWithL1 = agrees
	result.Conflicts = append(result.Conflicts, conflicts...)
	if !agrees {
		v.auditor.Record(ctx, audit.EventShadowDisagreed, sessionID, "", map[string]any{
			"l1_action_class": l1.Top().ActionClass,
			"l1_confidence":   l1.Top().Confidence,
			"l2_confidence":   result.Confidence,
			"conflicts":       conflicts,
		})
	}
	return &result
}

// CheckAgreement applies the deterministic L1/L2 agreement rule: normalized
// action classes match, confidence delta within bounds, both confidences
// above the floor. Returns the verdict and the conflict strings.
func CheckAgreement(l1Top Hypothesis, l2 *L2Result) (bool, []string) {
	var conflicts []string

	if normalizeActionClass(l1Top.ActionClass) != normalizeActionClass(l2.ActionClass) {
		conflicts = append(conflicts, fmt.Sprintf(
			"action class mismatch: l1=%q l2=%q", l1Top.ActionClass, l2.ActionClass))
	}
	if delta := math.Abs(l1Top.Confidence - l2.Confidence); delta > maxConfidenceDelta {
		conflicts = append(conflicts, fmt.Sprintf(
			"confidence delta %.2f exceeds %.2f", delta, maxConfidenceDelta))
	}
	if l1Top.Confidence < minAgreeConfidence || l2.Confidence < minAgreeConfidence {
		conflicts = append(conflicts, fmt.Sprintf(
			"confidence below %.2f floor: l1=%.2f l2=%.2f",
			minAgreeConfidence, l1Top.Confidence, l2.Confidence))
	}
	return len(conflicts) == 0, conflicts
}

func normalizeActionClass(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	return strings.ReplaceAll(s, " ", "_")
}
