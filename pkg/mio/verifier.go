package mio

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/myndlens/vox/pkg/audit"
)

// PresenceChecker reports whether a session's heartbeat is fresh. The
// session service implements it.
type PresenceChecker interface {
	CheckPresence(ctx context.Context, sessionID string) bool
}

// Verdict is the outcome of VerifyForExecution. Reason is human-readable
// and safe to surface to the client.
type Verdict struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

func failure(reason string) Verdict { return Verdict{Valid: false, Reason: reason} }

// Verifier runs the complete pre-dispatch verification pipeline.
type Verifier struct {
	pub      ed25519.PublicKey
	replays  ReplayStore
	presence PresenceChecker
	auditor  *audit.Logger
	// now is injectable for TTL boundary tests.
	now func() time.Time
}

// NewVerifier wires the execution verifier against the signer's public key.
func NewVerifier(pub ed25519.PublicKey, replays ReplayStore, presence PresenceChecker, auditor *audit.Logger) *Verifier {
	return &Verifier{
		pub:      pub,
		replays:  replays,
		presence: presence,
		auditor:  auditor,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// VerifyForExecution runs every gate in order; all must pass. Any
// unexplained failure rejects: the gates fail closed.
func (v *Verifier) VerifyForExecution(ctx context.Context, m *MIO, sessionID, deviceID string) Verdict {
	// 1. Signature.
	if m.SecurityProof.Signature == "" {
		return v.reject(ctx, m, sessionID, failure("MIO is unsigned"))
	}
	if !Verify(v.pub, m, m.SecurityProof.Signature) {
		return v.reject(ctx, m, sessionID, failure("MIO signature invalid"))
	}

	// 2. TTL. Age exactly at the TTL is expired.
	ttl := m.Header.TTLSeconds
	if ttl <= 0 {
		ttl = DefaultTTLSeconds
	}
	age := v.now().Sub(m.Header.Timestamp)
	if age >= time.Duration(ttl)*time.Second {
		return v.reject(ctx, m, sessionID, failure(fmt.Sprintf("MIO expired (TTL=%ds)", ttl)))
	}

	// 3. Replay. Recording is the check: first writer wins.
	replayTTL := 2 * time.Duration(ttl) * time.Second
	fresh, err := v.replays.MarkUsed(ctx, ExecutionTokenHash(m.Header.MIOID, sessionID, deviceID), replayTTL)
	if err != nil {
		return v.reject(ctx, m, sessionID, failure("replay table unavailable"))
	}
	if !fresh {
		v.auditor.Record(ctx, audit.EventReplayDetected, sessionID, "", map[string]any{
			"mio_id": m.Header.MIOID, "device_id": deviceID,
		})
		return v.reject(ctx, m, sessionID, failure("MIO replay detected"))
	}

	// 4. Presence.
	if !v.presence.CheckPresence(ctx, sessionID) {
		return v.reject(ctx, m, sessionID, failure("session presence stale"))
	}

	// 5. Tier >= 2 requires a single-use touch token.
	if m.Envelope.Constraints.Tier >= TierPhysicalLatch {
		if m.SecurityProof.TouchToken == "" {
			return v.reject(ctx, m, sessionID, failure("touch token required for this action tier"))
		}
		fresh, err := v.replays.MarkUsed(ctx, TouchTokenHash(m.SecurityProof.TouchToken), replayTTL)
		if err != nil {
			return v.reject(ctx, m, sessionID, failure("replay table unavailable"))
		}
		if !fresh {
			v.auditor.Record(ctx, audit.EventReplayDetected, sessionID, "", map[string]any{
				"mio_id": m.Header.MIOID, "token": "touch",
			})
			return v.reject(ctx, m, sessionID, failure("touch token already used"))
		}
	}

	// 6. Tier >= 3 additionally requires a biometric proof. The proof body
	// is validated by the OS layer; its presence is mandatory here.
	if m.Envelope.Constraints.Tier >= TierBiometric && m.SecurityProof.BiometricProof == "" {
		return v.reject(ctx, m, sessionID, failure("biometric proof required for this action tier"))
	}

	return Verdict{Valid: true}
}

func (v *Verifier) reject(ctx context.Context, m *MIO, sessionID string, verdict Verdict) Verdict {
	v.auditor.Record(ctx, audit.EventMIOVerifyFailed, sessionID, "", map[string]any{
		"mio_id": m.Header.MIOID, "reason": verdict.Reason,
	})
	return verdict
}
