package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/myndlens/vox/pkg/conversation"
	"github.com/myndlens/vox/pkg/mandate"
	"github.com/myndlens/vox/pkg/pipeline"
	"github.com/myndlens/vox/pkg/session"
)

// PipelineRunner runs the inference cascade for a closed capture.
type PipelineRunner interface {
	Run(ctx context.Context, sessionID, userID, transcript string) *pipeline.Result
}

// NewSessionSweepTask deactivates sessions whose heartbeat lapsed past the
// grace window.
func NewSessionSweepTask(sessions *session.Service, grace, interval time.Duration) Task {
	return Task{
		Name:     "session_sweep",
		Interval: interval,
		Run: func(ctx context.Context) error {
			n, err := sessions.SweepStale(ctx, grace)
			if err != nil {
				return err
			}
			if n > 0 {
				slog.Info("Swept stale sessions", "count", n)
			}
			return nil
		},
	}
}

// NewCaptureCloseTask closes captures whose accumulation window elapsed in
// silence: the combined transcript goes through the pipeline exactly as if
// the client had stopped talking.
func NewCaptureCloseTask(conversations *conversation.Manager, runner PipelineRunner, interval time.Duration) Task {
	return Task{
		Name:     "capture_close",
		Interval: interval,
		Run: func(ctx context.Context) error {
			for _, sessionID := range conversations.ExpiredCaptures() {
				st := conversations.Get(sessionID, "")
				transcript := st.CombinedTranscript()
				if transcript == "" {
					conversations.Reset(sessionID)
					continue
				}
				if err := conversations.Transition(sessionID, conversation.PhaseProcessing); err != nil {
					slog.Warn("Capture close transition rejected",
						"session_id", sessionID, "error", err)
					continue
				}
				result := runner.Run(ctx, sessionID, st.UserID, transcript)
				if result.Blocked {
					conversations.Reset(sessionID)
					continue
				}
				if err := conversations.Transition(sessionID, conversation.PhaseApprovalPending); err != nil {
					slog.Warn("Approval transition rejected",
						"session_id", sessionID, "error", err)
				}
			}
			return nil
		},
	}
}

// NewNudgeTask reminds users about drafts that have sat in approval for at
// least age. Each draft is nudged once; entries leave the once-map as soon
// as the draft leaves the pending set, so the map tracks open drafts only.
func NewNudgeTask(mandates mandate.Store, broadcaster pipeline.Broadcaster, age, interval time.Duration) Task {
	nudged := make(map[string]struct{})
	return Task{
		Name:     "approval_nudge",
		Interval: interval,
		Run: func(ctx context.Context) error {
			pending, err := mandates.ApprovalPendingOlderThan(ctx, age)
			if err != nil {
				return err
			}
			open := make(map[string]struct{}, len(pending))
			for _, doc := range pending {
				open[doc.MandateID] = struct{}{}
			}
			for id := range nudged {
				if _, still := open[id]; !still {
					delete(nudged, id)
				}
			}
			for _, doc := range pending {
				if _, done := nudged[doc.MandateID]; done {
					continue
				}
				nudged[doc.MandateID] = struct{}{}
				broadcaster.Broadcast(doc.SessionID, "DRAFT_UPDATE", map[string]any{
					"draft_id": doc.MandateID,
					"intent":   doc.Intent,
					"summary":  doc.Summary,
					"state":    string(doc.State),
					"nudge":    true,
				})
				slog.Info("Nudged pending approval",
					"mandate_id", doc.MandateID, "session_id", doc.SessionID)
			}
			return nil
		},
	}
}
