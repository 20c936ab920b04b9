package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/myndlens/vox/pkg/breaker"
	"github.com/myndlens/vox/pkg/llm"
	"github.com/myndlens/vox/pkg/prompt"
)

const qcTimeout = 10 * time.Second

// qcSystemErrorReason is the reason attached to every fail-safe block.
const qcSystemErrorReason = "QC system error"

const qcSchema = `{
  "passes": [{
    "pass_name": "persona_drift | capability_leak | harm_projection",
    "passed": true,
    "severity": "none | nudge | block",
    "reason": "string",
    "cited_spans": ["string"]
  }]
}`

// QCSentry runs the three adversarial passes after L2 and before signing.
// Unlike every other stage it fails closed: any exception or parse failure
// blocks the mandate.
type QCSentry struct {
	gateway  *llm.Gateway
	builder  *prompt.Builder
	breakers *breaker.Registry
}

// NewQCSentry wires the adversarial QC stage.
func NewQCSentry(gateway *llm.Gateway, builder *prompt.Builder, breakers *breaker.Registry) *QCSentry {
	return &QCSentry{gateway: gateway, builder: builder, breakers: breakers}
}

// failSafeBlock is the result for any QC malfunction.
func failSafeBlock(reason string) *QCResult {
	return &QCResult{
		Passes: []QCPass{{
			PassName: "qc_system",
			Passed:   false,
			Severity: SeverityBlock,
			Reason:   reason,
		}},
		Passed: false,
		Reason: qcSystemErrorReason,
	}
}

// Review runs the adversarial passes against the proposed intent.
func (q *QCSentry) Review(ctx context.Context, transcript string, l1 *L1Result, l2 *L2Result) *QCResult {
	sanitized, _ := Sanitize(transcript)

	conflictLines := make([]string, 0, len(l2.Conflicts))
	conflictLines = append(conflictLines, l2.Conflicts...)

	userContent := fmt.Sprintf(
		"Proposed action: %s (class %s, confidence %.2f)\nShadow intent: %s (confidence %.2f)",
		l1.Top().Hypothesis, l1.Top().ActionClass, l1.Top().Confidence,
		l2.Intent, l2.Confidence)

	artifact, err := q.builder.Build(prompt.PurposeSafetyGate, "json", []prompt.Section{
		prompt.IdentitySection(),
		prompt.PurposeContractSection(prompt.PurposeSafetyGate,
			"Adversarially attack the proposed action in three passes: persona drift, capability leak, harm projection. A block verdict must cite transcript spans."),
		prompt.OutputSchemaSection(qcSchema),
		prompt.SafetyGuardrailsSection(),
		prompt.TaskContextSection(sanitized),
		prompt.ConflictsSummarySection(conflictLines),
	}, userContent)
	if err != nil {
		slog.Error("QC prompt build failed, blocking", "error", err)
		return failSafeBlock(err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, qcTimeout)
	defer cancel()

	var completion *llm.Completion
	err = q.breakers.Execute("ambiguity", func() error {
		var callErr error
		completion, callErr = q.gateway.Complete(ctx, "pipeline.qc_sentry", artifact)
		return callErr
	})
	if err != nil {
		slog.Error("QC call failed, blocking", "error", err)
		return failSafeBlock(err.Error())
	}

	var parsed struct {
		Passes []QCPass `json:"passes"`
	}
	if err := json.Unmarshal([]byte(completion.Content), &parsed); err != nil || len(parsed.Passes) == 0 {
		slog.Error("QC response unparsable, blocking", "error", err)
		return failSafeBlock("unparsable QC response")
	}

	return GradePasses(parsed.Passes)
}

// GradePasses applies the grounding rule and computes the overall verdict:
// a block without cited spans is downgraded to nudge; the mandate passes
// only when no block severity remains.
func GradePasses(passes []QCPass) *QCResult {
	result := &QCResult{Passes: make([]QCPass, len(passes))}
	copy(result.Passes, passes)

	var blockReasons []string
	for i := range result.Passes {
		p := &result.Passes[i]
		if p.Severity == SeverityBlock && len(p.CitedSpans) == 0 {
			slog.Warn("QC block without cited spans downgraded to nudge",
				"pass", p.PassName, "reason", p.Reason)
			p.Severity = SeverityNudge
		}
		if p.Severity == SeverityBlock {
			blockReasons = append(blockReasons, fmt.Sprintf("%s: %s", p.PassName, p.Reason))
		}
	}

	result.Passed = len(blockReasons) == 0
	if !result.Passed {
		result.Reason = strings.Join(blockReasons, "; ")
	}
	return result
}
