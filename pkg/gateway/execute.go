package gateway

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/myndlens/vox/pkg/audit"
	"github.com/myndlens/vox/pkg/auth"
	"github.com/myndlens/vox/pkg/commit"
	"github.com/myndlens/vox/pkg/dispatch"
	"github.com/myndlens/vox/pkg/mandate"
	"github.com/myndlens/vox/pkg/mio"
	"github.com/myndlens/vox/pkg/session"
)

// Dispatcher hands a signed MIO to the execution adapter. Implemented by
// dispatch.Dispatcher; faked in tests.
type Dispatcher interface {
	Dispatch(ctx context.Context, m *mio.MIO, sessionID, deviceID, tenantID string) (*dispatch.Record, error)
}

// Notifier reports dispatch outcomes to ops channels. Nil disables it.
type Notifier interface {
	NotifyDispatch(ctx context.Context, rec *dispatch.Record, intent string)
}

// ExecuteService runs the EXECUTE_REQUEST sequence: presence and subscription
// gates, draft resolution, commit bookkeeping, MIO assembly and signing, and
// dispatch. Every refusal maps to a typed EXECUTE_BLOCKED payload; nothing
// here panics or propagates errors to the connection loop.
type ExecuteService struct {
	presence   mio.PresenceChecker
	mandates   mandate.Store
	commits    commit.Store
	signer     *mio.Signer
	dispatcher Dispatcher
	auditor    *audit.Logger
	notifier   Notifier
	now        func() time.Time
}

// NewExecuteService wires the execute edge. notifier may be nil.
func NewExecuteService(presence mio.PresenceChecker, mandates mandate.Store, commits commit.Store, signer *mio.Signer, dispatcher Dispatcher, auditor *audit.Logger, notifier Notifier) *ExecuteService {
	return &ExecuteService{
		presence:   presence,
		mandates:   mandates,
		commits:    commits,
		signer:     signer,
		dispatcher: dispatcher,
		auditor:    auditor,
		notifier:   notifier,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func blocked(code, reason, draftID string) *ExecuteBlockedPayload {
	return &ExecuteBlockedPayload{Reason: reason, Code: code, DraftID: draftID}
}

// Execute runs the full sequence for one EXECUTE_REQUEST. Exactly one of the
// return values is non-nil.
func (e *ExecuteService) Execute(ctx context.Context, sess *session.Session, p ExecuteRequestPayload) (*ExecuteOKPayload, *ExecuteBlockedPayload) {
	e.auditor.Record(ctx, audit.EventExecuteRequested, sess.SessionID, sess.UserID, map[string]any{
		"draft_id": p.DraftID,
	})

	if !e.presence.CheckPresence(ctx, sess.SessionID) {
		return nil, e.refuse(ctx, sess, p.DraftID, CodePresenceStale, "session presence stale")
	}
	if sess.SubscriptionStatus != auth.SubscriptionActive {
		return nil, e.refuse(ctx, sess, p.DraftID, CodeSubscriptionInactive,
			"subscription is "+sess.SubscriptionStatus)
	}

	doc, err := e.mandates.Get(ctx, p.DraftID)
	if errors.Is(err, mandate.ErrNotFound) {
		return nil, e.refuse(ctx, sess, p.DraftID, CodeDraftNotFound, "no such draft")
	}
	if err != nil {
		return nil, e.refuse(ctx, sess, p.DraftID, CodePipelineNotReady, "mandate store unavailable")
	}
	if doc.State != mandate.StateApprovalPending {
		return nil, e.refuse(ctx, sess, p.DraftID, CodePipelineNotReady,
			"draft is not awaiting approval (state "+string(doc.State)+")")
	}

	// The commit's idempotency key makes execution at-most-once per draft:
	// a second EXECUTE_REQUEST for the same draft hits the duplicate key.
	now := e.now()
	c := &commit.Commit{
		CommitID:       uuid.New().String(),
		SessionID:      sess.SessionID,
		DraftID:        p.DraftID,
		IdempotencyKey: commit.IdempotencyKey(sess.SessionID, p.DraftID),
		State:          commit.StateDraft,
		IntentSummary:  doc.Summary,
		Intent:         doc.Intent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.commits.Create(ctx, c); err != nil {
		if errors.Is(err, commit.ErrDuplicateIdempotencyKey) {
			return nil, e.refuse(ctx, sess, p.DraftID, CodePipelineNotReady,
				"draft already executed or executing")
		}
		return nil, e.refuse(ctx, sess, p.DraftID, CodePipelineNotReady, "commit store unavailable")
	}

	// EXECUTE_REQUEST is the user's confirmation.
	if err := e.advanceCommit(ctx, c.CommitID,
		commit.StateDraft, commit.StatePendingConfirmation, commit.StateConfirmed); err != nil {
		return nil, e.refuse(ctx, sess, p.DraftID, CodePipelineNotReady, "concurrent execute in progress")
	}
	if err := e.mandates.Transition(ctx, doc.MandateID, mandate.StateApprovalPending, mandate.StateApproved); err != nil {
		return nil, e.refuse(ctx, sess, p.DraftID, CodePipelineNotReady, "concurrent execute in progress")
	}
	if err := e.mandates.Transition(ctx, doc.MandateID, mandate.StateApproved, mandate.StateProvisioning); err != nil {
		return nil, e.refuse(ctx, sess, p.DraftID, CodePipelineNotReady, "concurrent execute in progress")
	}

	m := e.assemble(doc, sess.SessionID, p)
	sig, err := e.signer.Sign(m)
	if err != nil {
		e.failEverything(ctx, doc.MandateID, c.CommitID, commit.StateConfirmed, "signing failed")
		return nil, e.refuse(ctx, sess, p.DraftID, CodePipelineNotReady, "signing failed")
	}
	m.SecurityProof.Signature = sig
	e.auditor.Record(ctx, audit.EventMIOSigned, sess.SessionID, sess.UserID, map[string]any{
		"mio_id":       m.Header.MIOID,
		"draft_id":     p.DraftID,
		"action_class": m.Envelope.ActionClass,
		"tier":         m.Envelope.Constraints.Tier,
	})

	if err := e.commits.Transition(ctx, c.CommitID,
		commit.StateConfirmed, commit.StateDispatching, "mio signed"); err != nil {
		return nil, e.refuse(ctx, sess, p.DraftID, CodePipelineNotReady, "concurrent execute in progress")
	}

	rec, err := e.dispatcher.Dispatch(ctx, m, sess.SessionID, sess.DeviceID, sess.TenantID)
	if err != nil {
		e.failEverything(ctx, doc.MandateID, c.CommitID, commit.StateDispatching, err.Error())
		b := e.refuse(ctx, sess, p.DraftID, dispatchBlockCode(err), err.Error())
		if e.notifier != nil && rec != nil {
			e.notifier.NotifyDispatch(ctx, rec, doc.Intent)
		}
		return nil, b
	}

	if err := e.commits.Transition(ctx, c.CommitID,
		commit.StateDispatching, commit.StateCompleted, "dispatch submitted"); err != nil {
		slog.Error("Commit completion transition failed",
			"commit_id", c.CommitID, "error", err)
	}
	if err := e.mandates.Transition(ctx, doc.MandateID,
		mandate.StateProvisioning, mandate.StateDispatched); err != nil {
		slog.Error("Mandate dispatched transition failed",
			"mandate_id", doc.MandateID, "error", err)
	}
	if e.notifier != nil {
		e.notifier.NotifyDispatch(ctx, rec, doc.Intent)
	}

	return &ExecuteOKPayload{
		DraftID:    p.DraftID,
		MIOID:      m.Header.MIOID,
		DispatchID: rec.DispatchID,
		Status:     string(rec.Status),
	}, nil
}

// assemble builds the MIO from the mandate. Proofs go in before signing so
// the signature covers them.
func (e *ExecuteService) assemble(doc *mandate.Mandate, sessionID string, p ExecuteRequestPayload) *mio.MIO {
	action := doc.Intent
	params := map[string]any{}
	if len(doc.Actions) > 0 {
		action = doc.Actions[0].Name
		for dim, d := range doc.Actions[0].Dimensions {
			params[dim] = d.Value
		}
	}
	tier := doc.RiskTier
	if tier < mio.TierRoutine {
		tier = mio.TierRoutine
	}
	if tier > mio.TierBiometric {
		tier = mio.TierBiometric
	}

	return &mio.MIO{
		Header: mio.Header{
			MIOID:      uuid.New().String(),
			Timestamp:  e.now(),
			SignerID:   e.signer.SignerID(),
			TTLSeconds: mio.DefaultTTLSeconds,
		},
		Envelope: mio.Envelope{
			Action:      action,
			ActionClass: doc.ActionClass,
			Params:      params,
			Constraints: mio.Constraints{
				Tier:                  tier,
				PhysicalLatchRequired: tier >= mio.TierPhysicalLatch,
				BiometricRequired:     tier >= mio.TierBiometric,
			},
		},
		Grounding: mio.Grounding{
			TranscriptHash: doc.TranscriptHash,
			L1Hash:         doc.L1Hash,
			L2AuditHash:    doc.L2AuditHash,
			MemoryNodeIDs:  doc.MemoryNodeIDs,
			ProvenanceFlags: map[string]bool{
				"dimensions_extracted": true,
			},
		},
		SecurityProof: mio.SecurityProof{
			TouchToken:     p.TouchToken,
			BiometricProof: p.BiometricProof,
		},
	}
}

func (e *ExecuteService) advanceCommit(ctx context.Context, commitID string, states ...commit.State) error {
	for i := 0; i+1 < len(states); i++ {
		if err := e.commits.Transition(ctx, commitID, states[i], states[i+1], ""); err != nil {
			return err
		}
	}
	return nil
}

// failEverything moves the commit and mandate to FAILED after a mid-flight
// error. Transition failures here are logged only; the refusal already
// carries the user-facing outcome.
func (e *ExecuteService) failEverything(ctx context.Context, mandateID, commitID string, commitFrom commit.State, reason string) {
	if err := e.commits.Transition(ctx, commitID, commitFrom, commit.StateFailed, reason); err != nil {
		slog.Error("Commit failure transition failed", "commit_id", commitID, "error", err)
	}
	if err := e.mandates.Transition(ctx, mandateID, mandate.StateProvisioning, mandate.StateFailed); err != nil {
		slog.Error("Mandate failure transition failed", "mandate_id", mandateID, "error", err)
	}
}

func (e *ExecuteService) refuse(ctx context.Context, sess *session.Session, draftID, code, reason string) *ExecuteBlockedPayload {
	e.auditor.Record(ctx, audit.EventExecuteBlocked, sess.SessionID, sess.UserID, map[string]any{
		"draft_id": draftID, "code": code, "reason": reason,
	})
	return blocked(code, reason, draftID)
}

// dispatchBlockCode maps a dispatch error to an EXECUTE_BLOCKED code.
func dispatchBlockCode(err error) string {
	switch {
	case errors.Is(err, dispatch.ErrEnvGuard):
		return CodeEnvGuard
	case errors.Is(err, dispatch.ErrVerificationFailed):
		if strings.Contains(err.Error(), "presence") {
			return CodePresenceStale
		}
		return CodeGuardrailViolation
	default:
		return CodePipelineNotReady
	}
}
