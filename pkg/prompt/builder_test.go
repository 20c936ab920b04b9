package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func thoughtToIntentSections(transcript string) []Section {
	return []Section{
		IdentitySection(),
		PurposeContractSection(PurposeThoughtToIntent, "Extract sub-intents and dimensions from one utterance fragment."),
		OutputSchemaSection(`{"sub_intents": [], "dimensions_found": {}, "dimensions_missing": [], "confidence": 0.0}`),
		TaskContextSection(transcript),
	}
}

func TestBuild_AssemblesSortedSections(t *testing.T) {
	b := NewBuilder()

	a, err := b.Build(PurposeThoughtToIntent, "json", thoughtToIntentSections("book a table"), "book a table")
	require.NoError(t, err)

	require.Len(t, a.Messages, 2)
	assert.Equal(t, RoleSystem, a.Messages[0].Role)
	assert.Equal(t, RoleUser, a.Messages[1].Role)
	assert.NotEmpty(t, a.PromptID)

	// Identity (priority 0) renders before the purpose contract (priority 1).
	sys := a.Messages[0].Content
	assert.Less(t, strings.Index(sys, "## Identity"), strings.Index(sys, "## Purpose Contract"))
	assert.Equal(t, []string{"identity", "purpose-contract", "output-schema", "task-context"}, a.IncludedSectionIDs)
}

func TestBuild_BannedSectionNeverEmitted(t *testing.T) {
	b := NewBuilder()

	sections := append(thoughtToIntentSections("hi"), ToolingSection([]string{"adapter_dispatch"}))
	a, err := b.Build(PurposeThoughtToIntent, "json", sections, "hi")
	require.NoError(t, err)

	assert.NotContains(t, a.Messages[0].Content, "## Tooling")
	assert.Contains(t, a.ExcludedSectionIDs, "tooling")
	assert.NotContains(t, a.IncludedSectionIDs, "tooling")
}

func TestBuild_MissingRequiredSectionFails(t *testing.T) {
	b := NewBuilder()

	_, err := b.Build(PurposeThoughtToIntent, "json", []Section{IdentitySection()}, "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires section")
}

func TestBuild_UnknownPurposeFails(t *testing.T) {
	b := NewBuilder()
	_, err := b.Build(Purpose("MADE_UP"), "json", nil, "")
	assert.Error(t, err)
}

func TestHashes_StableAcrossVolatileChanges(t *testing.T) {
	b := NewBuilder()

	a1, err := b.Build(PurposeThoughtToIntent, "json", thoughtToIntentSections("first transcript"), "x")
	require.NoError(t, err)
	a2, err := b.Build(PurposeThoughtToIntent, "json", thoughtToIntentSections("second transcript"), "x")
	require.NoError(t, err)

	// Only the volatile task-context changed.
	assert.Equal(t, a1.StableHash, a2.StableHash)
	assert.NotEqual(t, a1.VolatileHash, a2.VolatileHash)
}

func TestHashes_StableChangesWithStableContent(t *testing.T) {
	b := NewBuilder()

	s1 := thoughtToIntentSections("same")
	s2 := thoughtToIntentSections("same")
	s2[2] = OutputSchemaSection(`{"different": true}`)

	a1, err := b.Build(PurposeThoughtToIntent, "json", s1, "x")
	require.NoError(t, err)
	a2, err := b.Build(PurposeThoughtToIntent, "json", s2, "x")
	require.NoError(t, err)

	assert.NotEqual(t, a1.StableHash, a2.StableHash)
	assert.Equal(t, a1.VolatileHash, a2.VolatileHash)
}

func TestMemoryRecallSection_CapsAtThree(t *testing.T) {
	s := MemoryRecallSection([]string{"a", "b", "c", "d"})
	assert.Contains(t, s.Content, "3. c")
	assert.NotContains(t, s.Content, "4. d")
}
