package prompt

import (
	"fmt"
	"log/slog"
)

// Builder assembles policy-filtered artifacts. Stateless and thread-safe;
// all state comes from parameters.
type Builder struct{}

// NewBuilder creates a Builder.
func NewBuilder() *Builder { return &Builder{} }

// Build filters the requested sections through the purpose's policy and
// assembles the artifact. Banned sections are dropped and recorded in
// ExcludedSectionIDs rather than erroring: callers ask for what they have,
// the policy decides what ships. A missing required section is an error.
func (b *Builder) Build(purpose Purpose, mode string, sections []Section, userContent string) (*Artifact, error) {
	policy, err := PolicyFor(purpose)
	if err != nil {
		return nil, err
	}

	var kept []Section
	var excluded []SectionID
	present := make(map[SectionID]bool)
	for _, s := range sections {
		switch {
		case policy.banned(s.ID):
			excluded = append(excluded, s.ID)
		case !policy.allowed(s.ID):
			excluded = append(excluded, s.ID)
		default:
			kept = append(kept, s)
			present[s.ID] = true
		}
	}

	for _, req := range policy.RequiredSections {
		if !present[req] {
			return nil, fmt.Errorf("purpose %s requires section %q", purpose, req)
		}
	}

	artifact := buildArtifact(purpose, mode, kept, userContent, excluded)
	if policy.TokenBudget > 0 && artifact.TotalTokensEst > policy.TokenBudget {
		slog.Warn("Prompt exceeds purpose token budget",
			"purpose", purpose, "prompt_id", artifact.PromptID,
			"tokens_est", artifact.TotalTokensEst, "budget", policy.TokenBudget)
	}
	return artifact, nil
}
