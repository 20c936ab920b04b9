package prompt

import "fmt"

// SectionID names one member of the closed section set.
type SectionID string

const (
	SectionIdentity            SectionID = "identity"
	SectionPurposeContract     SectionID = "purpose-contract"
	SectionOutputSchema        SectionID = "output-schema"
	SectionTooling             SectionID = "tooling"
	SectionSafetyGuardrails    SectionID = "safety-guardrails"
	SectionTaskContext         SectionID = "task-context"
	SectionContextPrefix       SectionID = "context-prefix"
	SectionMemoryRecall        SectionID = "memory-recall"
	SectionLearnedExamples     SectionID = "learned-examples"
	SectionDimensionsInjected  SectionID = "dimensions-injected"
	SectionConflictsSummary    SectionID = "conflicts-summary"
	SectionRuntimeCapabilities SectionID = "runtime-capabilities"
	SectionSkillsIndex         SectionID = "skills-index"
	SectionWorkspaceBootstrap  SectionID = "workspace-bootstrap"
)

// Policy declares what a purpose may, must, and must never include.
type Policy struct {
	RequiredSections []SectionID
	OptionalSections []SectionID
	BannedSections   []SectionID
	AllowedTools     []string
	TokenBudget      int
}

// policies is the fixed per-purpose policy table. A section listed in
// BannedSections is never emitted for that purpose, even if requested.
var policies = map[Purpose]Policy{
	PurposeThoughtToIntent: {
		RequiredSections: []SectionID{SectionIdentity, SectionPurposeContract, SectionOutputSchema},
		OptionalSections: []SectionID{SectionTaskContext, SectionLearnedExamples},
		BannedSections:   []SectionID{SectionTooling, SectionWorkspaceBootstrap, SectionSkillsIndex},
		TokenBudget:      2000,
	},
	PurposeDimensionsExtract: {
		RequiredSections: []SectionID{SectionIdentity, SectionPurposeContract, SectionOutputSchema, SectionTaskContext},
		OptionalSections: []SectionID{SectionMemoryRecall, SectionDimensionsInjected},
		BannedSections:   []SectionID{SectionTooling, SectionWorkspaceBootstrap},
		TokenBudget:      4000,
	},
	PurposePlan: {
		RequiredSections: []SectionID{SectionIdentity, SectionPurposeContract, SectionOutputSchema, SectionTaskContext},
		OptionalSections: []SectionID{SectionContextPrefix, SectionMemoryRecall, SectionLearnedExamples, SectionDimensionsInjected, SectionSkillsIndex, SectionRuntimeCapabilities},
		BannedSections:   []SectionID{SectionWorkspaceBootstrap},
		TokenBudget:      6000,
	},
	PurposeExecute: {
		RequiredSections: []SectionID{SectionIdentity, SectionPurposeContract, SectionTooling, SectionSafetyGuardrails, SectionTaskContext},
		OptionalSections: []SectionID{SectionDimensionsInjected, SectionSkillsIndex, SectionRuntimeCapabilities, SectionWorkspaceBootstrap},
		AllowedTools:     []string{"adapter_dispatch", "status_poll"},
		TokenBudget:      8000,
	},
	PurposeVerify: {
		RequiredSections: []SectionID{SectionIdentity, SectionPurposeContract, SectionOutputSchema, SectionTaskContext},
		OptionalSections: []SectionID{SectionConflictsSummary, SectionDimensionsInjected},
		BannedSections:   []SectionID{SectionTooling, SectionMemoryRecall, SectionLearnedExamples, SectionWorkspaceBootstrap},
		TokenBudget:      4000,
	},
	PurposeSafetyGate: {
		RequiredSections: []SectionID{SectionIdentity, SectionPurposeContract, SectionOutputSchema, SectionSafetyGuardrails, SectionTaskContext},
		OptionalSections: []SectionID{SectionConflictsSummary},
		// The safety gate judges the transcript alone. Memory and examples
		// would let a poisoned recall talk the judge out of a block.
		BannedSections: []SectionID{SectionTooling, SectionMemoryRecall, SectionLearnedExamples, SectionSkillsIndex, SectionWorkspaceBootstrap},
		TokenBudget:    3000,
	},
	PurposeSummarize: {
		RequiredSections: []SectionID{SectionIdentity, SectionPurposeContract, SectionTaskContext},
		OptionalSections: []SectionID{SectionDimensionsInjected},
		BannedSections:   []SectionID{SectionTooling, SectionSkillsIndex, SectionWorkspaceBootstrap},
		TokenBudget:      3000,
	},
	PurposeSubagentTask: {
		RequiredSections: []SectionID{SectionIdentity, SectionPurposeContract, SectionTooling, SectionTaskContext, SectionWorkspaceBootstrap},
		OptionalSections: []SectionID{SectionSkillsIndex, SectionRuntimeCapabilities, SectionDimensionsInjected},
		AllowedTools:     []string{"adapter_dispatch"},
		TokenBudget:      8000,
	},
	PurposeMicroQuestion: {
		RequiredSections: []SectionID{SectionIdentity, SectionPurposeContract, SectionTaskContext},
		BannedSections:   []SectionID{SectionTooling, SectionMemoryRecall, SectionLearnedExamples, SectionSkillsIndex, SectionWorkspaceBootstrap, SectionRuntimeCapabilities},
		TokenBudget:      800,
	},
}

// PolicyFor returns the policy for a purpose.
func PolicyFor(purpose Purpose) (Policy, error) {
	p, ok := policies[purpose]
	if !ok {
		return Policy{}, fmt.Errorf("no policy for purpose %q", purpose)
	}
	return p, nil
}

func (p Policy) banned(id SectionID) bool {
	for _, b := range p.BannedSections {
		if b == id {
			return true
		}
	}
	return false
}

func (p Policy) allowed(id SectionID) bool {
	for _, s := range p.RequiredSections {
		if s == id {
			return true
		}
	}
	for _, s := range p.OptionalSections {
		if s == id {
			return true
		}
	}
	return false
}
