// Package prompt is the single source of prompt text for every LLM call in
// the system. It builds prompt artifacts from policy-governed sections,
// hashes them for cache keys, and enforces that only registered call sites
// may reach the provider.
package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Purpose identifies what a prompt is for. Policies are keyed by purpose.
type Purpose string

const (
	PurposeThoughtToIntent   Purpose = "THOUGHT_TO_INTENT"
	PurposeDimensionsExtract Purpose = "DIMENSIONS_EXTRACT"
	PurposePlan              Purpose = "PLAN"
	PurposeExecute           Purpose = "EXECUTE"
	PurposeVerify            Purpose = "VERIFY"
	PurposeSafetyGate        Purpose = "SAFETY_GATE"
	PurposeSummarize         Purpose = "SUMMARIZE"
	PurposeSubagentTask      Purpose = "SUBAGENT_TASK"
	PurposeMicroQuestion     Purpose = "MICRO_QUESTION"
)

// Role is a chat message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat message in an artifact.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Volatility classifies how often a section's content changes. Stable and
// semistable sections feed the stable hash; volatile sections feed the
// volatile hash.
type Volatility int

const (
	VolatilityStable Volatility = iota
	VolatilitySemistable
	VolatilityVolatile
)

// Section is one rendered prompt section with its identity and priority.
type Section struct {
	ID         SectionID
	Content    string
	Priority   int
	Volatility Volatility
}

// Artifact is a fully assembled prompt ready for the gateway. Immutable
// once built.
type Artifact struct {
	PromptID           string    `json:"prompt_id"`
	Purpose            Purpose   `json:"purpose"`
	Mode               string    `json:"mode"`
	Messages           []Message `json:"messages"`
	IncludedSectionIDs []string  `json:"included_section_ids"`
	ExcludedSectionIDs []string  `json:"excluded_section_ids,omitempty"`
	StableHash         string    `json:"stable_hash"`
	VolatileHash       string    `json:"volatile_hash"`
	TotalTokensEst     int       `json:"total_tokens_est"`
	CreatedAt          time.Time `json:"created_at"`
}

// estimateTokens is the rough 4-chars-per-token heuristic used only for
// budget enforcement, never billing.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// hashSections computes the sha256 over section contents sorted by
// priority, then by ID for a deterministic tiebreak.
func hashSections(sections []Section) string {
	sorted := make([]Section, len(sections))
	copy(sorted, sections)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].ID < sorted[j].ID
	})

	h := sha256.New()
	for _, s := range sorted {
		h.Write([]byte(s.ID))
		h.Write([]byte{0})
		h.Write([]byte(s.Content))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// buildArtifact assembles sections into messages and computes both hashes.
// Sections are already policy-filtered by the caller.
func buildArtifact(purpose Purpose, mode string, sections []Section, userContent string, excluded []SectionID) *Artifact {
	sorted := make([]Section, len(sections))
	copy(sorted, sections)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].ID < sorted[j].ID
	})

	var system strings.Builder
	var stable, volatile []Section
	included := make([]string, 0, len(sorted))
	for _, s := range sorted {
		if system.Len() > 0 {
			system.WriteString("\n\n")
		}
		system.WriteString(s.Content)
		included = append(included, string(s.ID))
		if s.Volatility == VolatilityVolatile {
			volatile = append(volatile, s)
		} else {
			stable = append(stable, s)
		}
	}

	messages := []Message{{Role: RoleSystem, Content: system.String()}}
	if userContent != "" {
		messages = append(messages, Message{Role: RoleUser, Content: userContent})
	}

	total := 0
	for _, m := range messages {
		total += estimateTokens(m.Content)
	}

	excludedIDs := make([]string, 0, len(excluded))
	for _, id := range excluded {
		excludedIDs = append(excludedIDs, string(id))
	}

	return &Artifact{
		PromptID:           uuid.New().String(),
		Purpose:            purpose,
		Mode:               mode,
		Messages:           messages,
		IncludedSectionIDs: included,
		ExcludedSectionIDs: excludedIDs,
		StableHash:         hashSections(stable),
		VolatileHash:       hashSections(volatile),
		TotalTokensEst:     total,
		CreatedAt:          time.Now().UTC(),
	}
}
