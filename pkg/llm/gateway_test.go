package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myndlens/vox/pkg/audit"
	"github.com/myndlens/vox/pkg/prompt"
)

func analyzerArtifact(t *testing.T, transcript string) *prompt.Artifact {
	t.Helper()
	a, err := prompt.NewBuilder().Build(prompt.PurposeThoughtToIntent, "json", []prompt.Section{
		prompt.IdentitySection(),
		prompt.PurposeContractSection(prompt.PurposeThoughtToIntent, "extract intent"),
		prompt.OutputSchemaSection("{}"),
		prompt.TaskContextSection(transcript),
	}, transcript)
	require.NoError(t, err)
	return a
}

func newTestGateway(client Client) (*Gateway, *audit.MemoryStore) {
	store := audit.NewMemoryStore()
	auditor := audit.NewLogger(store, nil)
	return NewGateway(client, prompt.NewRegistry(), prompt.NewMemorySnapshotStore(), auditor), store
}

func TestComplete_AuthorizedCall(t *testing.T) {
	gw, _ := newTestGateway(NewMockClient())

	c, err := gw.Complete(context.Background(), "pipeline.fragment_analyzer", analyzerArtifact(t, "book a table"))
	require.NoError(t, err)
	assert.Equal(t, "mock", c.Model)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(c.Content), &parsed))
	assert.Contains(t, parsed, "sub_intents")
	assert.Contains(t, parsed, "confidence")
}

func TestComplete_BypassIsRejectedAndAudited(t *testing.T) {
	gw, store := newTestGateway(NewMockClient())

	_, err := gw.Complete(context.Background(), "rogue.component", analyzerArtifact(t, "hi"))
	assert.ErrorIs(t, err, prompt.ErrBypassAttempt)

	events := store.All()
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventPromptBypass, events[0].EventType)
}

func TestComplete_PurposeMismatchNeverReachesProvider(t *testing.T) {
	calls := 0
	client := clientFunc(func(ctx context.Context, a *prompt.Artifact) (*Completion, error) {
		calls++
		return &Completion{Content: "{}"}, nil
	})
	gw, _ := newTestGateway(client)

	_, err := gw.Complete(context.Background(), "pipeline.verifier", analyzerArtifact(t, "hi"))
	assert.ErrorIs(t, err, prompt.ErrBypassAttempt)
	assert.Zero(t, calls)
}

func TestComplete_SnapshotPersistedBeforeProviderCall(t *testing.T) {
	snapshots := prompt.NewMemorySnapshotStore()
	auditor := audit.NewLogger(audit.NewMemoryStore(), nil)
	gw := NewGateway(NewMockClient(), prompt.NewRegistry(), snapshots, auditor)

	a := analyzerArtifact(t, "book a table")
	_, err := gw.Complete(context.Background(), "pipeline.fragment_analyzer", a)
	require.NoError(t, err)

	snap, err := snapshots.Get(context.Background(), a.PromptID)
	require.NoError(t, err)
	assert.Equal(t, a.PromptID, snap.PromptID)
	assert.Equal(t, a.StableHash, snap.StableHash)
	assert.Equal(t, "pipeline.fragment_analyzer", snap.CallSiteID)
	assert.Equal(t, prompt.PurposeThoughtToIntent, snap.Purpose)
}

func TestComplete_RejectedCallLeavesNoSnapshot(t *testing.T) {
	snapshots := prompt.NewMemorySnapshotStore()
	auditor := audit.NewLogger(audit.NewMemoryStore(), nil)
	gw := NewGateway(NewMockClient(), prompt.NewRegistry(), snapshots, auditor)

	a := analyzerArtifact(t, "hi")
	_, err := gw.Complete(context.Background(), "rogue.component", a)
	assert.ErrorIs(t, err, prompt.ErrBypassAttempt)

	_, err = snapshots.Get(context.Background(), a.PromptID)
	assert.ErrorIs(t, err, prompt.ErrSnapshotNotFound)
}

func TestComplete_ProviderErrorPropagates(t *testing.T) {
	mock := NewMockClient()
	mock.Err = errors.New("provider down")
	gw, _ := newTestGateway(mock)

	_, err := gw.Complete(context.Background(), "pipeline.fragment_analyzer", analyzerArtifact(t, "hi"))
	assert.ErrorContains(t, err, "provider down")
}

func TestMock_DeterministicAcrossReplays(t *testing.T) {
	mock := NewMockClient()
	a := analyzerArtifact(t, "send flowers to mom tomorrow")

	c1, err := mock.Complete(context.Background(), a)
	require.NoError(t, err)
	c2, err := mock.Complete(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, c1.Content, c2.Content)
}

type clientFunc func(ctx context.Context, a *prompt.Artifact) (*Completion, error)

func (f clientFunc) Complete(ctx context.Context, a *prompt.Artifact) (*Completion, error) {
	return f(ctx, a)
}
