package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myndlens/vox/pkg/audit"
	"github.com/myndlens/vox/pkg/commit"
	"github.com/myndlens/vox/pkg/dispatch"
	"github.com/myndlens/vox/pkg/mandate"
	"github.com/myndlens/vox/pkg/mio"
	"github.com/myndlens/vox/pkg/session"
)

type stubPresence struct{ present bool }

func (s stubPresence) CheckPresence(context.Context, string) bool { return s.present }

type fakeDispatcher struct {
	err error
	got *mio.MIO
}

func (f *fakeDispatcher) Dispatch(_ context.Context, m *mio.MIO, sessionID, _, tenantID string) (*dispatch.Record, error) {
	f.got = m
	if f.err != nil {
		return nil, f.err
	}
	return &dispatch.Record{
		DispatchID:     uuid.New().String(),
		IdempotencyKey: sessionID + ":" + m.Header.MIOID,
		MIOID:          m.Header.MIOID,
		SessionID:      sessionID,
		TenantID:       tenantID,
		Status:         dispatch.StatusSubmitted,
		Timestamp:      time.Now().UTC(),
	}, nil
}

type executeFixture struct {
	svc        *ExecuteService
	mandates   *mandate.MemoryStore
	commits    *commit.MemoryStore
	signer     *mio.Signer
	dispatcher *fakeDispatcher
	sess       *session.Session
	draftID    string
}

func newExecuteFixture(t *testing.T, present bool) *executeFixture {
	t.Helper()
	signer, err := mio.NewSigner("test")
	require.NoError(t, err)

	mandates := mandate.NewMemoryStore()
	draftID := uuid.New().String()
	require.NoError(t, mandates.Put(context.Background(), &mandate.Mandate{
		MandateID:   draftID,
		SessionID:   "S-1",
		UserID:      "U-1",
		State:       mandate.StateApprovalPending,
		Intent:      "send the budget to bob",
		Summary:     "send Bob the Q3 budget",
		ActionClass: "COMM_SEND",
		RiskTier:    1,
		Actions: []mandate.Action{{
			Name:     "send_email",
			Priority: "high",
			Dimensions: map[string]mandate.Dimension{
				"recipient": {Value: "bob", Source: mandate.SourceStated},
			},
		}},
		TranscriptHash: "th",
		L1Hash:         "l1",
		L2AuditHash:    "l2",
		Confidence:     0.8,
	}))

	commits := commit.NewMemoryStore()
	dispatcher := &fakeDispatcher{}
	svc := NewExecuteService(stubPresence{present}, mandates, commits, signer,
		dispatcher, audit.NewLogger(audit.NewMemoryStore(), nil), nil)

	return &executeFixture{
		svc:        svc,
		mandates:   mandates,
		commits:    commits,
		signer:     signer,
		dispatcher: dispatcher,
		sess: &session.Session{
			SessionID:          "S-1",
			UserID:             "U-1",
			DeviceID:           "D-1",
			TenantID:           "T-1",
			SubscriptionStatus: "ACTIVE",
			Active:             true,
		},
		draftID: draftID,
	}
}

func TestExecute_HappyPath(t *testing.T) {
	f := newExecuteFixture(t, true)

	ok, blk := f.svc.Execute(context.Background(), f.sess, ExecuteRequestPayload{
		DraftID:    f.draftID,
		TouchToken: "touch-1",
	})
	require.Nil(t, blk)
	require.NotNil(t, ok)
	assert.Equal(t, f.draftID, ok.DraftID)
	assert.Equal(t, string(dispatch.StatusSubmitted), ok.Status)
	assert.NotEmpty(t, ok.DispatchID)

	// The dispatched MIO is signed over the proofs and grounding.
	m := f.dispatcher.got
	require.NotNil(t, m)
	assert.Equal(t, "send_email", m.Envelope.Action)
	assert.Equal(t, "COMM_SEND", m.Envelope.ActionClass)
	assert.Equal(t, "bob", m.Envelope.Params["recipient"])
	assert.Equal(t, 1, m.Envelope.Constraints.Tier)
	assert.Equal(t, "touch-1", m.SecurityProof.TouchToken)
	assert.Equal(t, "th", m.Grounding.TranscriptHash)
	assert.True(t, mio.Verify(f.signer.PublicKey(), m, m.SecurityProof.Signature))

	doc, err := f.mandates.Get(context.Background(), f.draftID)
	require.NoError(t, err)
	assert.Equal(t, mandate.StateDispatched, doc.State)

	c, err := f.commits.GetByIdempotencyKey(context.Background(),
		commit.IdempotencyKey("S-1", f.draftID))
	require.NoError(t, err)
	assert.Equal(t, commit.StateCompleted, c.State)
	require.NotEmpty(t, c.Transitions)
	assert.Equal(t, commit.StateDraft, c.Transitions[0].From)
}

func TestExecute_PresenceStale(t *testing.T) {
	f := newExecuteFixture(t, false)

	ok, blk := f.svc.Execute(context.Background(), f.sess, ExecuteRequestPayload{DraftID: f.draftID})
	require.Nil(t, ok)
	require.NotNil(t, blk)
	assert.Equal(t, CodePresenceStale, blk.Code)
	assert.Nil(t, f.dispatcher.got)
}

func TestExecute_SubscriptionInactive(t *testing.T) {
	f := newExecuteFixture(t, true)
	f.sess.SubscriptionStatus = "SUSPENDED"

	ok, blk := f.svc.Execute(context.Background(), f.sess, ExecuteRequestPayload{DraftID: f.draftID})
	require.Nil(t, ok)
	require.NotNil(t, blk)
	assert.Equal(t, CodeSubscriptionInactive, blk.Code)
}

func TestExecute_DraftNotFound(t *testing.T) {
	f := newExecuteFixture(t, true)

	ok, blk := f.svc.Execute(context.Background(), f.sess, ExecuteRequestPayload{DraftID: "missing"})
	require.Nil(t, ok)
	require.NotNil(t, blk)
	assert.Equal(t, CodeDraftNotFound, blk.Code)
}

func TestExecute_DraftNotAwaitingApproval(t *testing.T) {
	f := newExecuteFixture(t, true)
	other := uuid.New().String()
	require.NoError(t, f.mandates.Put(context.Background(), &mandate.Mandate{
		MandateID: other,
		SessionID: "S-1",
		UserID:    "U-1",
		State:     mandate.StateDimensionsExtracted,
	}))

	ok, blk := f.svc.Execute(context.Background(), f.sess, ExecuteRequestPayload{DraftID: other})
	require.Nil(t, ok)
	require.NotNil(t, blk)
	assert.Equal(t, CodePipelineNotReady, blk.Code)
}

func TestExecute_SecondRequestForSameDraftBlocked(t *testing.T) {
	f := newExecuteFixture(t, true)

	ok, blk := f.svc.Execute(context.Background(), f.sess, ExecuteRequestPayload{DraftID: f.draftID})
	require.Nil(t, blk)
	require.NotNil(t, ok)

	ok, blk = f.svc.Execute(context.Background(), f.sess, ExecuteRequestPayload{DraftID: f.draftID})
	require.Nil(t, ok)
	require.NotNil(t, blk)
	assert.Equal(t, CodePipelineNotReady, blk.Code)
}

func TestExecute_EnvGuardMapsToEnvGuardCode(t *testing.T) {
	f := newExecuteFixture(t, true)
	f.dispatcher.err = dispatch.ErrEnvGuard

	ok, blk := f.svc.Execute(context.Background(), f.sess, ExecuteRequestPayload{DraftID: f.draftID})
	require.Nil(t, ok)
	require.NotNil(t, blk)
	assert.Equal(t, CodeEnvGuard, blk.Code)

	doc, err := f.mandates.Get(context.Background(), f.draftID)
	require.NoError(t, err)
	assert.Equal(t, mandate.StateFailed, doc.State)

	c, err := f.commits.GetByIdempotencyKey(context.Background(),
		commit.IdempotencyKey("S-1", f.draftID))
	require.NoError(t, err)
	assert.Equal(t, commit.StateFailed, c.State)
}
