package mio

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myndlens/vox/pkg/audit"
)

func testMIO(t *testing.T, signer *Signer, tier int) *MIO {
	t.Helper()
	m := &MIO{
		Header: Header{
			MIOID:      uuid.New().String(),
			Timestamp:  time.Now().UTC(),
			SignerID:   signer.SignerID(),
			TTLSeconds: DefaultTTLSeconds,
		},
		Envelope: Envelope{
			Action:      "send_email",
			ActionClass: "COMM_SEND",
			Params:      map[string]any{"to": "bob", "subject": "Q3 budget"},
			Constraints: Constraints{Tier: tier},
		},
		Grounding: Grounding{
			TranscriptHash: "th",
			L1Hash:         "l1h",
			L2AuditHash:    "l2h",
			MemoryNodeIDs:  []string{"n1"},
		},
	}
	sig, err := signer.Sign(m)
	require.NoError(t, err)
	m.SecurityProof.Signature = sig
	return m
}

type stubPresence struct{ present bool }

func (s stubPresence) CheckPresence(context.Context, string) bool { return s.present }

func newTestVerifier(t *testing.T, signer *Signer, present bool) *Verifier {
	t.Helper()
	auditor := audit.NewLogger(audit.NewMemoryStore(), nil)
	return NewVerifier(signer.PublicKey(), NewMemoryReplayStore(), stubPresence{present}, auditor)
}

func TestSignVerify_RoundTrip(t *testing.T) {
	signer, err := NewSigner("test")
	require.NoError(t, err)
	m := testMIO(t, signer, TierRoutine)

	assert.True(t, Verify(signer.PublicKey(), m, m.SecurityProof.Signature))
}

func TestVerify_TamperedEnvelopeFails(t *testing.T) {
	signer, err := NewSigner("test")
	require.NoError(t, err)
	m := testMIO(t, signer, TierRoutine)

	m.Envelope.Params["to"] = "mallory"
	assert.False(t, Verify(signer.PublicKey(), m, m.SecurityProof.Signature))
}

func TestCanonicalBytes_IgnoresSignatureField(t *testing.T) {
	signer, err := NewSigner("test")
	require.NoError(t, err)
	m := testMIO(t, signer, TierRoutine)

	withSig, err := CanonicalBytes(m)
	require.NoError(t, err)
	m.SecurityProof.Signature = ""
	withoutSig, err := CanonicalBytes(m)
	require.NoError(t, err)
	assert.Equal(t, withSig, withoutSig)
}

func TestVerifyForExecution_HappyPath(t *testing.T) {
	signer, err := NewSigner("test")
	require.NoError(t, err)
	v := newTestVerifier(t, signer, true)
	m := testMIO(t, signer, TierRoutine)

	verdict := v.VerifyForExecution(context.Background(), m, "S-1", "D-1")
	assert.True(t, verdict.Valid, "reason: %s", verdict.Reason)
}

func TestVerifyForExecution_ReplayDetected(t *testing.T) {
	signer, err := NewSigner("test")
	require.NoError(t, err)
	v := newTestVerifier(t, signer, true)
	m := testMIO(t, signer, TierRoutine)

	first := v.VerifyForExecution(context.Background(), m, "S-1", "D-1")
	require.True(t, first.Valid)

	second := v.VerifyForExecution(context.Background(), m, "S-1", "D-1")
	assert.False(t, second.Valid)
	assert.Equal(t, "MIO replay detected", second.Reason)
}

func TestVerifyForExecution_TTLBoundary(t *testing.T) {
	signer, err := NewSigner("test")
	require.NoError(t, err)
	m := testMIO(t, signer, TierRoutine)
	signedAt := m.Header.Timestamp

	// 119.99 s old: valid.
	v := newTestVerifier(t, signer, true)
	v.now = func() time.Time { return signedAt.Add(120*time.Second - 10*time.Millisecond) }
	verdict := v.VerifyForExecution(context.Background(), m, "S-1", "D-1")
	assert.True(t, verdict.Valid, "reason: %s", verdict.Reason)

	// Exactly 120.00 s old: expired.
	v = newTestVerifier(t, signer, true)
	v.now = func() time.Time { return signedAt.Add(120 * time.Second) }
	verdict = v.VerifyForExecution(context.Background(), m, "S-2", "D-1")
	assert.False(t, verdict.Valid)
	assert.Equal(t, "MIO expired (TTL=120s)", verdict.Reason)
}

func TestVerifyForExecution_StalePresence(t *testing.T) {
	signer, err := NewSigner("test")
	require.NoError(t, err)
	v := newTestVerifier(t, signer, false)
	m := testMIO(t, signer, TierRoutine)

	verdict := v.VerifyForExecution(context.Background(), m, "S-1", "D-1")
	assert.False(t, verdict.Valid)
	assert.Equal(t, "session presence stale", verdict.Reason)
}

func TestVerifyForExecution_TouchTokenTier(t *testing.T) {
	signer, err := NewSigner("test")
	require.NoError(t, err)
	v := newTestVerifier(t, signer, true)

	// Missing touch token rejects.
	m := testMIO(t, signer, TierPhysicalLatch)
	verdict := v.VerifyForExecution(context.Background(), m, "S-1", "D-1")
	assert.False(t, verdict.Valid)
	assert.Equal(t, "touch token required for this action tier", verdict.Reason)

	// Token present: passes once. The token is set before signing so the
	// signature covers it.
	m2 := &MIO{
		Header:   Header{MIOID: uuid.New().String(), Timestamp: time.Now().UTC(), SignerID: "test", TTLSeconds: 120},
		Envelope: Envelope{Action: "unlock_door", ActionClass: "PHYSICAL", Constraints: Constraints{Tier: TierPhysicalLatch, PhysicalLatchRequired: true}},
	}
	m2.SecurityProof.TouchToken = "touch-once"
	sig, err := signer.Sign(m2)
	require.NoError(t, err)
	m2.SecurityProof.Signature = sig

	verdict = v.VerifyForExecution(context.Background(), m2, "S-1", "D-1")
	assert.True(t, verdict.Valid, "reason: %s", verdict.Reason)

	// Same touch token on a different MIO: single-use.
	m3 := &MIO{
		Header:   Header{MIOID: uuid.New().String(), Timestamp: time.Now().UTC(), SignerID: "test", TTLSeconds: 120},
		Envelope: Envelope{Action: "unlock_door", ActionClass: "PHYSICAL", Constraints: Constraints{Tier: TierPhysicalLatch, PhysicalLatchRequired: true}},
	}
	m3.SecurityProof.TouchToken = "touch-once"
	sig, err = signer.Sign(m3)
	require.NoError(t, err)
	m3.SecurityProof.Signature = sig

	verdict = v.VerifyForExecution(context.Background(), m3, "S-1", "D-1")
	assert.False(t, verdict.Valid)
	assert.Equal(t, "touch token already used", verdict.Reason)
}

func TestVerifyForExecution_BiometricTier(t *testing.T) {
	signer, err := NewSigner("test")
	require.NoError(t, err)
	v := newTestVerifier(t, signer, true)

	m := &MIO{
		Header:   Header{MIOID: uuid.New().String(), Timestamp: time.Now().UTC(), SignerID: "test", TTLSeconds: 120},
		Envelope: Envelope{Action: "transfer_funds", ActionClass: "PAYMENTS", Constraints: Constraints{Tier: TierBiometric, BiometricRequired: true}},
	}
	m.SecurityProof.TouchToken = "touch-bio"
	sig, err := signer.Sign(m)
	require.NoError(t, err)
	m.SecurityProof.Signature = sig

	verdict := v.VerifyForExecution(context.Background(), m, "S-1", "D-1")
	assert.False(t, verdict.Valid)
	assert.Equal(t, "biometric proof required for this action tier", verdict.Reason)
}

func TestRedisReplayStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisReplayStore(client)
	ctx := context.Background()

	fresh, err := store.MarkUsed(ctx, "hash-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = store.MarkUsed(ctx, "hash-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, fresh)

	// Expired hashes are usable again.
	mr.FastForward(2 * time.Minute)
	fresh, err = store.MarkUsed(ctx, "hash-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestMemoryReplayStore_Expiry(t *testing.T) {
	store := NewMemoryReplayStore()
	now := time.Now().UTC()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	fresh, err := store.MarkUsed(ctx, "h", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, _ = store.MarkUsed(ctx, "h", time.Minute)
	assert.False(t, fresh)

	now = now.Add(2 * time.Minute)
	fresh, _ = store.MarkUsed(ctx, "h", time.Minute)
	assert.True(t, fresh)
}
