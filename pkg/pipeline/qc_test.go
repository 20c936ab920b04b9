package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myndlens/vox/pkg/audit"
	"github.com/myndlens/vox/pkg/breaker"
	"github.com/myndlens/vox/pkg/llm"
	"github.com/myndlens/vox/pkg/prompt"
)

func TestGradePasses_AllClean(t *testing.T) {
	r := GradePasses([]QCPass{
		{PassName: "persona_drift", Passed: true, Severity: SeverityNone},
		{PassName: "capability_leak", Passed: true, Severity: SeverityNone},
		{PassName: "harm_projection", Passed: true, Severity: SeverityNone},
	})
	assert.True(t, r.Passed)
	assert.Empty(t, r.Reason)
}

func TestGradePasses_BlockWithSpansBlocks(t *testing.T) {
	r := GradePasses([]QCPass{
		{PassName: "harm_projection", Severity: SeverityBlock, Reason: "threatens a person", CitedSpans: []string{"hurt him"}},
	})
	assert.False(t, r.Passed)
	assert.Contains(t, r.Reason, "harm_projection")
}

func TestGradePasses_GroundingRuleDowngradesUncitedBlock(t *testing.T) {
	r := GradePasses([]QCPass{
		{PassName: "harm_projection", Severity: SeverityBlock, Reason: "vibes"},
	})
	assert.True(t, r.Passed)
	assert.Equal(t, SeverityNudge, r.Passes[0].Severity)
}

func TestGradePasses_NudgesDoNotBlock(t *testing.T) {
	r := GradePasses([]QCPass{
		{PassName: "persona_drift", Severity: SeverityNudge, Reason: "unusual phrasing"},
		{PassName: "capability_leak", Severity: SeverityNone},
	})
	assert.True(t, r.Passed)
}

func newTestQC(client llm.Client) *QCSentry {
	auditor := audit.NewLogger(audit.NewMemoryStore(), nil)
	gw := llm.NewGateway(client, prompt.NewRegistry(), nil, auditor)
	return NewQCSentry(gw, prompt.NewBuilder(), breaker.NewRegistry())
}

func qcInputs() (*L1Result, *L2Result) {
	l1 := &L1Result{Hypotheses: []Hypothesis{{Hypothesis: "send budget", ActionClass: "COMM_SEND", Confidence: 0.8}}}
	l2 := &L2Result{Intent: "send budget", ActionClass: "comm_send", Confidence: 0.78}
	return l1, l2
}

func TestReview_CleanMockPasses(t *testing.T) {
	q := newTestQC(llm.NewMockClient())
	l1, l2 := qcInputs()

	r := q.Review(context.Background(), "send bob the q3 budget", l1, l2)
	require.True(t, r.Passed)
	assert.Len(t, r.Passes, 3)
}

func TestReview_ProviderErrorFailsClosed(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Err = errors.New("provider down")
	q := newTestQC(mock)
	l1, l2 := qcInputs()

	r := q.Review(context.Background(), "send it", l1, l2)
	assert.False(t, r.Passed)
	assert.Equal(t, "QC system error", r.Reason)
}

func TestReview_UnparsableResponseFailsClosed(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Responses = map[prompt.Purpose]string{prompt.PurposeSafetyGate: "not json at all"}
	q := newTestQC(mock)
	l1, l2 := qcInputs()

	r := q.Review(context.Background(), "send it", l1, l2)
	assert.False(t, r.Passed)
	assert.Equal(t, "QC system error", r.Reason)
}
