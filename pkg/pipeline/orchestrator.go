package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/myndlens/vox/pkg/audit"
	"github.com/myndlens/vox/pkg/conversation"
	"github.com/myndlens/vox/pkg/mandate"
	"github.com/myndlens/vox/pkg/metrics"
)

// groundingHash is the sha256 hex digest of a value's JSON form, used to tie
// the mandate (and later the MIO) back to the evidence it was derived from.
func groundingHash(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Result is the outcome of one full cascade run.
type Result struct {
	ExecutionID string            `json:"execution_id"`
	Analysis    *FragmentAnalysis `json:"analysis"`
	L1          *L1Result         `json:"l1"`
	L2          *L2Result         `json:"l2"`
	QC          *QCResult         `json:"qc"`
	Guardrail   GuardrailVerdict  `json:"guardrail"`
	Mandate     *mandate.Mandate  `json:"mandate,omitempty"`
	Topology    Topology          `json:"topology"`
	Blocked     bool              `json:"blocked"`
	BlockReason string            `json:"block_reason,omitempty"`
}

// Orchestrator runs the sequential cascade on capture-close, pushing stage
// progress to the client and persisting it for reconnect catch-up. Stage
// failures degrade to each stage's defined default; only QC and the
// guardrail gate block.
type Orchestrator struct {
	analyzer      *Analyzer
	hypothesizer  *Hypothesizer
	verifier      *Verifier
	qc            *QCSentry
	extractor     *Extractor
	questioner    *Questioner
	library       *SkillLibrary
	conversations *conversation.Manager
	mandates      mandate.Store
	broadcaster   Broadcaster
	progress      ProgressStore
	auditor       *audit.Logger
}

// NewOrchestrator wires the cascade. questioner, conversations, broadcaster,
// and progress may be nil; a nil questioner or conversations disables the
// clarification step.
func NewOrchestrator(
	analyzer *Analyzer,
	hypothesizer *Hypothesizer,
	verifier *Verifier,
	qc *QCSentry,
	extractor *Extractor,
	questioner *Questioner,
	library *SkillLibrary,
	conversations *conversation.Manager,
	mandates mandate.Store,
	broadcaster Broadcaster,
	progress ProgressStore,
	auditor *audit.Logger,
) *Orchestrator {
	return &Orchestrator{
		analyzer:      analyzer,
		hypothesizer:  hypothesizer,
		verifier:      verifier,
		qc:            qc,
		extractor:     extractor,
		questioner:    questioner,
		library:       library,
		conversations: conversations,
		mandates:      mandates,
		broadcaster:   broadcaster,
		progress:      progress,
		auditor:       auditor,
	}
}

func (o *Orchestrator) publish(ctx context.Context, sessionID, executionID string, index int, status StageStatus, subStatus string) {
	pct := (index*100 + 50) / TotalStages
	if status == StageDone {
		pct = ((index + 1) * 100) / TotalStages
	}
	p := Progress{
		ExecutionID: executionID,
		SessionID:   sessionID,
		StageID:     uuid.New().String(),
		StageIndex:  index,
		TotalStages: TotalStages,
		StageName:   StageName(index),
		Status:      status,
		SubStatus:   subStatus,
		ProgressPct: pct,
		Timestamp:   time.Now().UTC(),
	}
	if o.progress != nil {
		if err := o.progress.Save(ctx, p); err != nil {
			slog.Error("Failed to persist pipeline progress",
				"execution_id", executionID, "stage", p.StageName, "error", err)
		}
	}
	if o.broadcaster != nil {
		o.broadcaster.Broadcast(sessionID, "PIPELINE_STAGE", p)
	}
}

// stageStep marks a stage active then done around fn.
func (o *Orchestrator) stageStep(ctx context.Context, sessionID, executionID string, index int, fn func()) {
	o.publish(ctx, sessionID, executionID, index, StageActive, "")
	start := time.Now()
	fn()
	metrics.ObservePipelineStage(StageName(index), time.Since(start))
	o.publish(ctx, sessionID, executionID, index, StageDone, "")
}

// Run executes the cascade for a closed capture. It never returns an error:
// blocks are expressed in the result, degradations inside stage results.
func (o *Orchestrator) Run(ctx context.Context, sessionID, userID, transcript string) *Result {
	executionID := uuid.New().String()
	result := &Result{ExecutionID: executionID}

	slog.Info("Pipeline run started",
		"execution_id", executionID, "session_id", sessionID, "user_id", userID)

	// Stages sanitize their own prompt inputs; the run-level check is where
	// session context exists for the audit trail.
	if _, hits := Sanitize(transcript); hits > 0 {
		o.auditor.Record(ctx, audit.EventInjectionFiltered, sessionID, userID, map[string]any{
			"execution_id": executionID,
			"hits":         hits,
		})
	}

	o.publish(ctx, sessionID, executionID, StageCaptureClose, StageDone, "")

	o.stageStep(ctx, sessionID, executionID, StageFragmentAnalysis, func() {
		result.Analysis = o.analyzer.Analyze(ctx, transcript)
	})

	// Recall happens inside the hypothesizer; the stage split keeps the
	// client's progress bar honest about where time goes.
	o.publish(ctx, sessionID, executionID, StageMemoryRecall, StageActive, "")
	o.publish(ctx, sessionID, executionID, StageHypothesize, StageActive, "")
	l1, snippets := o.hypothesizer.Hypothesize(ctx, userID, transcript)
	result.L1 = l1
	o.publish(ctx, sessionID, executionID, StageMemoryRecall, StageDone, "")
	o.publish(ctx, sessionID, executionID, StageHypothesize, StageDone, "")

	if o.broadcaster != nil {
		o.broadcaster.Broadcast(sessionID, "DRAFT_UPDATE", map[string]any{
			"execution_id": executionID,
			"hypotheses":   l1.Hypotheses,
			"degraded":     l1.Degraded,
		})
	}

	o.stageStep(ctx, sessionID, executionID, StageShadowVerify, func() {
		result.L2 = o.verifier.Verify(ctx, sessionID, transcript, l1)
	})

	o.publish(ctx, sessionID, executionID, StageQualityControl, StageActive, "")
	result.QC = o.qc.Review(ctx, transcript, l1, result.L2)
	if !result.QC.Passed {
		o.publish(ctx, sessionID, executionID, StageQualityControl, StageFailed, result.QC.Reason)
		return o.block(ctx, sessionID, userID, result, "quality control: "+result.QC.Reason)
	}
	o.publish(ctx, sessionID, executionID, StageQualityControl, StageDone, "")

	o.publish(ctx, sessionID, executionID, StageGuardrails, StageActive, "")
	result.Guardrail = EvaluateGuardrails(GuardrailSignals{
		Ambiguity:       EstimateAmbiguity(l1),
		EmotionalLoad:   EstimateEmotionalLoad(transcript),
		Transcript:      transcript,
		L1TopConfidence: l1.Top().Confidence,
	})
	if result.Guardrail.Action != GuardrailPass {
		o.publish(ctx, sessionID, executionID, StageGuardrails, StageFailed, string(result.Guardrail.Action))
		o.auditor.Record(ctx, audit.EventGuardrailBlocked, sessionID, userID, map[string]any{
			"execution_id": executionID,
			"action":       string(result.Guardrail.Action),
			"reason":       result.Guardrail.Reason,
		})
		// A CLARIFY nudge is a question to the user and spends the capture's
		// question budget like any other.
		if result.Guardrail.Action == GuardrailClarify && o.conversations != nil && result.Guardrail.Nudge != "" {
			if err := o.conversations.RecordQuestion(sessionID, result.Guardrail.Nudge); err != nil {
				slog.Warn("Clarify nudge not recorded", "session_id", sessionID, "error", err)
			}
		}
		return o.block(ctx, sessionID, userID, result, "guardrail: "+result.Guardrail.Reason)
	}
	o.publish(ctx, sessionID, executionID, StageGuardrails, StageDone, "")

	o.stageStep(ctx, sessionID, executionID, StageDimensionExtract, func() {
		known := map[string]string{}
		if result.Analysis != nil {
			for k, v := range result.Analysis.DimensionsFound {
				known[k] = v
			}
		}
		for k, v := range l1.Top().DimensionSuggestions {
			known[k] = v
		}
		result.Mandate = o.extractor.Extract(ctx, sessionID, userID, transcript, result.L2, known)
	})

	o.askClarification(ctx, sessionID, executionID, transcript, result.Mandate)

	o.stageStep(ctx, sessionID, executionID, StageSkillDetermine, func() {
		selections := o.library.Determine(result.Mandate, l1.Top().ActionClass, transcript)
		result.Topology = BuildTopology(selections)
	})

	result.Mandate.TranscriptHash = groundingHash(transcript)
	result.Mandate.L1Hash = groundingHash(l1)
	result.Mandate.L2AuditHash = groundingHash(result.L2)
	for _, snip := range snippets {
		result.Mandate.MemoryNodeIDs = append(result.Mandate.MemoryNodeIDs, snip.NodeID)
	}

	if err := o.mandates.Put(ctx, result.Mandate); err != nil {
		slog.Error("Failed to persist mandate",
			"mandate_id", result.Mandate.MandateID, "error", err)
		return o.block(ctx, sessionID, userID, result, "mandate persistence failed")
	}
	if err := o.mandates.Transition(ctx, result.Mandate.MandateID,
		mandate.StateDimensionsExtracted, mandate.StateGuardrailsPassed); err != nil {
		return o.block(ctx, sessionID, userID, result, "mandate transition failed")
	}
	if err := o.mandates.Transition(ctx, result.Mandate.MandateID,
		mandate.StateGuardrailsPassed, mandate.StateApprovalPending); err != nil {
		return o.block(ctx, sessionID, userID, result, "mandate transition failed")
	}
	result.Mandate.State = mandate.StateApprovalPending

	o.publish(ctx, sessionID, executionID, StageExecutionReady, StageDone, "")

	metrics.IncPipelineRun("draft")
	slog.Info("Pipeline run completed",
		"execution_id", executionID, "session_id", sessionID,
		"mandate_id", result.Mandate.MandateID,
		"snippets", len(snippets), "degraded_l1", l1.Degraded)
	return result
}

// askClarification syncs the extracted dimensions onto the conversation
// checklist, then spends one question from the capture's budget on the first
// dimension still missing. Advisory: the draft reaches approval either way,
// the question just invites the user to fill the gap before approving.
func (o *Orchestrator) askClarification(ctx context.Context, sessionID, executionID, transcript string, doc *mandate.Mandate) {
	if o.conversations == nil || o.questioner == nil || doc == nil {
		return
	}

	for _, action := range doc.Actions {
		for name, dim := range action.Dimensions {
			if dim.Source == mandate.SourceMissing || dim.Value == "" {
				continue
			}
			o.conversations.FillChecklist(sessionID, name, dim.Value, checklistSource(dim.Source))
		}
	}
	for _, dim := range doc.Missing {
		o.conversations.RequireDimension(sessionID, dim)
	}

	unfilled := o.conversations.Unfilled(sessionID)
	if len(unfilled) == 0 {
		return
	}
	if !o.conversations.CanAskQuestion(sessionID) {
		slog.Info("Question budget exhausted, proceeding with missing dimensions",
			"session_id", sessionID, "missing", len(unfilled))
		return
	}

	target := unfilled[0].Dimension
	question := o.questioner.Ask(ctx, transcript, target)
	if err := o.conversations.RecordQuestion(sessionID, question); err != nil {
		slog.Warn("Clarification question dropped", "session_id", sessionID, "error", err)
		return
	}
	if o.broadcaster != nil {
		o.broadcaster.Broadcast(sessionID, "DRAFT_UPDATE", map[string]any{
			"execution_id":        executionID,
			"question":            question,
			"dimension":           target,
			"questions_remaining": o.conversations.Get(sessionID, doc.UserID).QuestionsRemaining(),
		})
	}
	slog.Info("Clarification question asked",
		"session_id", sessionID, "execution_id", executionID, "dimension", target)
}

// checklistSource maps an extractor dimension source onto the checklist's
// provenance labels.
func checklistSource(src mandate.DimensionSource) conversation.ChecklistSource {
	switch src {
	case mandate.SourceStated:
		return conversation.SourceUserSaid
	case mandate.SourceDigitalSelf:
		return conversation.SourceDigitalSelf
	default:
		return conversation.SourceDefault
	}
}

func (o *Orchestrator) block(ctx context.Context, sessionID, userID string, result *Result, reason string) *Result {
	result.Blocked = true
	result.BlockReason = reason
	metrics.IncPipelineRun("blocked")
	slog.Warn("Pipeline run blocked",
		"execution_id", result.ExecutionID, "session_id", sessionID, "reason", reason)
	if o.broadcaster != nil {
		payload := map[string]any{
			"execution_id": result.ExecutionID,
			"reason":       reason,
			"code":         "GUARDRAIL_VIOLATION",
		}
		if result.Guardrail.Nudge != "" {
			payload["nudge"] = result.Guardrail.Nudge
		}
		o.broadcaster.Broadcast(sessionID, "EXECUTE_BLOCKED", payload)
	}
	return result
}
