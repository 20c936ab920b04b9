// Package pipeline is the mandate inference cascade: fragment analysis,
// hypothesis generation, shadow verification, adversarial quality control,
// dimension extraction, and skill determination. Every stage degrades to a
// defined default on failure except quality control, which fails closed.
package pipeline

import (
	"context"
	"time"
)

// Stage indices for PIPELINE_STAGE pushes. Ten stages, 0..9.
const (
	StageCaptureClose = iota
	StageFragmentAnalysis
	StageMemoryRecall
	StageHypothesize
	StageShadowVerify
	StageQualityControl
	StageGuardrails
	StageDimensionExtract
	StageSkillDetermine
	StageExecutionReady

	TotalStages = 10
)

// stageNames maps indices to the names pushed to clients.
var stageNames = [TotalStages]string{
	"capture_close",
	"fragment_analysis",
	"memory_recall",
	"hypothesize",
	"shadow_verify",
	"quality_control",
	"guardrails",
	"dimension_extract",
	"skill_determine",
	"execution_ready",
}

// StageName returns the wire name for a stage index.
func StageName(index int) string {
	if index < 0 || index >= TotalStages {
		return "unknown"
	}
	return stageNames[index]
}

// StageStatus is the status of one stage in a progress push.
type StageStatus string

const (
	StageActive StageStatus = "active"
	StageDone   StageStatus = "done"
	StageFailed StageStatus = "failed"
)

// Progress is one PIPELINE_STAGE update, pushed to the client and persisted
// so a reconnect can reconstruct where the pipeline stands.
type Progress struct {
	ExecutionID string      `json:"execution_id"`
	SessionID   string      `json:"session_id"`
	StageID     string      `json:"stage_id"`
	StageIndex  int         `json:"stage_index"`
	TotalStages int         `json:"total_stages"`
	StageName   string      `json:"stage_name"`
	Status      StageStatus `json:"status"`
	SubStatus   string      `json:"sub_status,omitempty"`
	ProgressPct int         `json:"progress"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Broadcaster pushes messages to a connected session; delivery is
// best-effort. The gateway implements it.
type Broadcaster interface {
	Broadcast(sessionID string, msgType string, payload any)
}

// ProgressStore persists stage progress independently of the push channel.
type ProgressStore interface {
	Save(ctx context.Context, p Progress) error
	// Latest returns the most recent progress per stage for an execution.
	Latest(ctx context.Context, executionID string) ([]Progress, error)
	// LatestBySession returns the per-stage progress of the newest execution
	// recorded for a session; the gateway replays it on reconnect.
	LatestBySession(ctx context.Context, sessionID string) ([]Progress, error)
}

// FragmentAnalysis is the analyzer's verdict on one utterance fragment.
type FragmentAnalysis struct {
	SubIntents        []string          `json:"sub_intents"`
	DimensionsFound   map[string]string `json:"dimensions_found"`
	DimensionsMissing []string          `json:"dimensions_missing"`
	Confidence        float64           `json:"confidence"`
	Degraded          bool              `json:"degraded,omitempty"`
}

// EvidenceSpan cites a region of the transcript.
type EvidenceSpan struct {
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Hypothesis is one ranked L1 interpretation of the mandate.
type Hypothesis struct {
	Hypothesis           string            `json:"hypothesis"`
	ActionClass          string            `json:"action_class"`
	Confidence           float64           `json:"confidence"`
	EvidenceSpans        []EvidenceSpan    `json:"evidence_spans"`
	DimensionSuggestions map[string]string `json:"dimension_suggestions"`
}

// L1Result carries at most three ranked hypotheses. Non-authoritative:
// downstream stages treat it as a proposal, never ground truth.
type L1Result struct {
	Hypotheses []Hypothesis `json:"hypotheses"`
	Degraded   bool         `json:"degraded,omitempty"`
}

// Top returns the highest-confidence hypothesis, or a zero value.
func (r *L1Result) Top() Hypothesis {
	if len(r.Hypotheses) == 0 {
		return Hypothesis{}
	}
	return r.Hypotheses[0]
}

// L2Result is the independent shadow derivation of the intent.
type L2Result struct {
	Intent             string   `json:"intent"`
	ActionClass        string   `json:"action_class"`
	CanonicalTarget    string   `json:"canonical_target"`
	PrimaryOutcome     string   `json:"primary_outcome"`
	RiskTier           int      `json:"risk_tier"`
	Confidence         float64  `json:"confidence"`
	ChainOfLogic       string   `json:"chain_of_logic"`
	ShadowAgreesWithL1 bool     `json:"shadow_agrees_with_l1"`
	Conflicts          []string `json:"conflicts"`
	Degraded           bool     `json:"degraded,omitempty"`
}

// QCSeverity is the severity of one adversarial QC pass.
type QCSeverity string

const (
	SeverityNone  QCSeverity = "none"
	SeverityNudge QCSeverity = "nudge"
	SeverityBlock QCSeverity = "block"
)

// QCPass is the outcome of one adversarial pass.
type QCPass struct {
	PassName   string     `json:"pass_name"`
	Passed     bool       `json:"passed"`
	Severity   QCSeverity `json:"severity"`
	Reason     string     `json:"reason"`
	CitedSpans []string   `json:"cited_spans"`
}

// QCResult aggregates the three adversarial passes. Passed is true only
// when no block severity remains after the grounding rule.
type QCResult struct {
	Passes []QCPass `json:"passes"`
	Passed bool     `json:"passed"`
	Reason string   `json:"reason,omitempty"`
}
