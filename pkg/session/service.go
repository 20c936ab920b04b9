package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/myndlens/vox/pkg/auth"
)

// Service manages session lifecycle and presence.
type Service struct {
	store            Store
	heartbeatTimeout time.Duration
	// now is injectable for boundary tests on the staleness threshold.
	now func() time.Time
}

// NewService creates a session service. heartbeatTimeout is the staleness
// threshold (15 s by default in config).
func NewService(store Store, heartbeatTimeout time.Duration) *Service {
	return &Service{
		store:            store,
		heartbeatTimeout: heartbeatTimeout,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// Create mints a session for a validated identity, deactivating any prior
// active session for the same (userID, deviceID) tuple.
func (s *Service) Create(ctx context.Context, id *auth.Identity, clientVersion string) (*Session, error) {
	now := s.now()
	sess := &Session{
		SessionID:          uuid.New().String(),
		UserID:             id.UserID,
		DeviceID:           id.DeviceID,
		TenantID:           id.TenantID,
		Env:                id.Env,
		ClientVersion:      clientVersion,
		SubscriptionStatus: id.SubscriptionStatus,
		CreatedAt:          now,
		LastHeartbeatAt:    now,
		Active:             true,
	}
	deactivated, err := s.store.Create(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if len(deactivated) > 0 {
		slog.Info("Deactivated prior sessions for device",
			"user_id", id.UserID, "device_id", id.DeviceID,
			"replaced", deactivated, "session_id", sess.SessionID)
	}
	return sess, nil
}

// Get returns a session by ID.
func (s *Service) Get(ctx context.Context, sessionID string) (*Session, error) {
	return s.store.Get(ctx, sessionID)
}

// Heartbeat records a heartbeat against an active session. Unknown or
// inactive sessions are rejected.
func (s *Service) Heartbeat(ctx context.Context, sessionID string, seq int64) error {
	return s.store.Heartbeat(ctx, sessionID, seq, s.now())
}

// Close deactivates a session on disconnect or protocol error.
func (s *Service) Close(ctx context.Context, sessionID string) error {
	return s.store.Deactivate(ctx, sessionID)
}

// ActiveByUser returns the user's active sessions, newest first.
func (s *Service) ActiveByUser(ctx context.Context, userID string) ([]*Session, error) {
	return s.store.ActiveByUser(ctx, userID)
}

// CheckPresence reports whether the session's latest heartbeat is within the
// staleness threshold. Age exactly at the threshold is stale. Missing or
// inactive sessions are never present.
func (s *Service) CheckPresence(ctx context.Context, sessionID string) bool {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil || !sess.Active {
		return false
	}
	age := s.now().Sub(sess.LastHeartbeatAt)
	return age < s.heartbeatTimeout
}

// SweepStale deactivates sessions whose heartbeat has lapsed well past the
// threshold. Run from the retention sweeper.
func (s *Service) SweepStale(ctx context.Context, grace time.Duration) (int, error) {
	return s.store.DeactivateStale(ctx, s.now().Add(-s.heartbeatTimeout-grace))
}
