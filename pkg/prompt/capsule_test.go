package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCapsuleSummary(t *testing.T) {
	text := "## Prior Context\n" +
		"- recipient: bob@corp.example\n" +
		"timezone: Europe/Berlin\n" +
		"\n" +
		"prefers morning meetings\n"

	entries := ParseCapsuleSummary(text)
	require.Len(t, entries, 3)
	assert.Equal(t, CapsuleEntry{Key: "recipient", Value: "bob@corp.example"}, entries[0])
	assert.Equal(t, CapsuleEntry{Key: "timezone", Value: "Europe/Berlin"}, entries[1])
	assert.Equal(t, CapsuleEntry{Key: "note", Value: "prefers morning meetings"}, entries[2])
}

func TestCapsuleRoundTrip_OrderStable(t *testing.T) {
	entries := []CapsuleEntry{
		{Key: "zeta", Value: "last spoken"},
		{Key: "alpha", Value: "first spoken"},
		{Key: "note", Value: "no reordering allowed"},
	}

	rendered := BuildContextPrefix(entries)
	reparsed := ParseCapsuleSummary(rendered)
	require.Equal(t, entries, reparsed)

	// Render of the reparse is byte-identical, so the prompt hash is too.
	assert.Equal(t, rendered, BuildContextPrefix(reparsed))
}

func TestBuildContextPrefix_Empty(t *testing.T) {
	assert.Empty(t, BuildContextPrefix(nil))
	assert.Empty(t, ParseCapsuleSummary(""))
}

func TestContextPrefixSection_PrecedesTaskContext(t *testing.T) {
	b := NewBuilder()
	artifact, err := b.Build(PurposePlan, "json", []Section{
		IdentitySection(),
		PurposeContractSection(PurposePlan, "test"),
		OutputSchemaSection("{}"),
		TaskContextSection("send bob the budget"),
		ContextPrefixSection([]CapsuleEntry{{Key: "recipient", Value: "bob"}}),
	}, "send bob the budget")
	require.NoError(t, err)

	require.NotEmpty(t, artifact.Messages)
	system := artifact.Messages[0].Content
	prefixAt := strings.Index(system, "## Prior Context")
	taskAt := strings.Index(system, "## Task Context")
	require.GreaterOrEqual(t, prefixAt, 0)
	require.GreaterOrEqual(t, taskAt, 0)
	assert.Less(t, prefixAt, taskAt)
}
