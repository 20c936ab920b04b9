// Package audit records security-relevant events. Every detail blob passes
// through redaction before it is persisted or logged.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/myndlens/vox/pkg/redaction"
)

// Event types emitted by the command plane core.
const (
	EventAuthSuccess       = "AUTH_SUCCESS"
	EventAuthFailure       = "AUTH_FAILURE"
	EventSessionClosed     = "SESSION_CLOSED"
	EventExecuteRequested  = "EXECUTE_REQUESTED"
	EventExecuteBlocked    = "EXECUTE_BLOCKED"
	EventExecuteCompleted  = "EXECUTE_COMPLETED"
	EventMIOSigned         = "MIO_SIGNED"
	EventMIOVerifyFailed   = "MIO_VERIFY_FAILED"
	EventReplayDetected    = "REPLAY_DETECTED"
	EventPromptBypass      = "PROMPT_BYPASS_ATTEMPT"
	EventShadowDisagreed   = "SHADOW_DISAGREED"
	EventGuardrailBlocked  = "GUARDRAIL_BLOCKED"
	EventInjectionFiltered = "INJECTION_FILTERED"
	EventRateLimited       = "RATE_LIMITED"
)

// Event is a single audit record.
type Event struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	EventType string         `json:"event_type"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Store persists audit events. Implementations: memory (tests), postgres.
type Store interface {
	Append(ctx context.Context, ev Event) error
	// BySession returns events for a session, newest first, up to limit.
	BySession(ctx context.Context, sessionID string, limit int) ([]Event, error)
}

// Logger writes audit events to the store and mirrors them to slog.
// Nil-safe: all methods are no-ops on a nil Logger.
type Logger struct {
	store    Store
	redactor *redaction.Redactor
	log      *slog.Logger
}

// NewLogger creates an audit logger. store may be nil (log-only mode).
func NewLogger(store Store, redactor *redaction.Redactor) *Logger {
	return &Logger{
		store:    store,
		redactor: redactor,
		log:      slog.Default().With("component", "audit"),
	}
}

// Record redacts details, persists the event, and mirrors it to the log.
// Persistence failures are logged, never propagated: audit must not take
// down the request path.
func (l *Logger) Record(ctx context.Context, eventType, sessionID, userID string, details map[string]any) {
	if l == nil {
		return
	}
	ev := Event{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		UserID:    userID,
		EventType: eventType,
		Details:   l.redactor.Map(details),
		Timestamp: time.Now().UTC(),
	}
	if l.store != nil {
		if err := l.store.Append(ctx, ev); err != nil {
			l.log.Error("Failed to persist audit event",
				"event_type", eventType, "session_id", sessionID, "error", err)
		}
	}
	l.log.Info("audit", "event_type", eventType, "session_id", sessionID,
		"user_id", userID, "details", ev.Details)
}
