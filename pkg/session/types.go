// Package session owns authenticated gateway sessions, heartbeat liveness,
// and the presence checks that gate signing and dispatch.
package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for unknown session IDs.
	ErrNotFound = errors.New("session not found")
	// ErrInactive is returned when an operation requires an active session.
	ErrInactive = errors.New("session is not active")
)

// Session is one authenticated device connection. Exactly one active session
// exists per (userID, deviceID) tuple; creating a new one deactivates the
// prior. A session with Active=false is terminal.
type Session struct {
	SessionID          string    `json:"session_id"`
	UserID             string    `json:"user_id"`
	DeviceID           string    `json:"device_id"`
	TenantID           string    `json:"tenant_id,omitempty"`
	Env                string    `json:"env"`
	ClientVersion      string    `json:"client_version,omitempty"`
	SubscriptionStatus string    `json:"subscription_status"`
	CreatedAt          time.Time `json:"created_at"`
	LastHeartbeatAt    time.Time `json:"last_heartbeat_at"`
	HeartbeatSeq       int64     `json:"heartbeat_seq"`
	Active             bool      `json:"active"`
}

// Store persists sessions. Implementations: memory (tests, dev), postgres.
type Store interface {
	// Create inserts the session after deactivating any prior active
	// session for the same (userID, deviceID) tuple. Returns the IDs of
	// the sessions it deactivated.
	Create(ctx context.Context, s *Session) (deactivated []string, err error)
	Get(ctx context.Context, sessionID string) (*Session, error)
	// Heartbeat atomically updates lastHeartbeatAt and heartbeatSeq on an
	// active session. ErrNotFound for unknown IDs, ErrInactive otherwise.
	Heartbeat(ctx context.Context, sessionID string, seq int64, at time.Time) error
	Deactivate(ctx context.Context, sessionID string) error
	// ActiveByUser returns the user's active sessions, newest first.
	ActiveByUser(ctx context.Context, userID string) ([]*Session, error)
	// DeactivateStale deactivates active sessions whose last heartbeat is
	// before cutoff; returns how many it touched. Used by the sweeper.
	DeactivateStale(ctx context.Context, cutoff time.Time) (int, error)
}
