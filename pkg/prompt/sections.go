package prompt

import (
	"fmt"
	"sort"
	"strings"
)

// Section generators are pure functions: same inputs, same rendered text.
// Each returns a Section with its fixed ID, priority, and volatility.

// IdentitySection is the fixed assistant identity preamble.
func IdentitySection() Section {
	return Section{
		ID:       SectionIdentity,
		Priority: 0,
		Content: "## Identity\n" +
			"You are the command-plane reasoning engine of a personal voice assistant. " +
			"You act only on the user's behalf, within the mandate they spoke.",
		Volatility: VolatilityStable,
	}
}

// PurposeContractSection states the single job this call performs.
func PurposeContractSection(purpose Purpose, contract string) Section {
	return Section{
		ID:       SectionPurposeContract,
		Priority: 1,
		Content: fmt.Sprintf("## Purpose Contract\nPurpose: %s\n%s\n"+
			"Do nothing outside this purpose.", purpose, contract),
		Volatility: VolatilityStable,
	}
}

// OutputSchemaSection embeds the strict JSON schema the response must match.
func OutputSchemaSection(schema string) Section {
	return Section{
		ID:       SectionOutputSchema,
		Priority: 2,
		Content: "## Output Schema\nRespond with a single JSON object matching exactly:\n" +
			"```json\n" + schema + "\n```\nNo prose outside the JSON.",
		Volatility: VolatilityStable,
	}
}

// ToolingSection lists the tools a purpose may invoke.
func ToolingSection(tools []string) Section {
	var sb strings.Builder
	sb.WriteString("## Tooling\n")
	if len(tools) == 0 {
		sb.WriteString("No tools are available for this call.\n")
	} else {
		sb.WriteString("Available tools:\n")
		for _, t := range tools {
			sb.WriteString("- ")
			sb.WriteString(t)
			sb.WriteString("\n")
		}
	}
	return Section{ID: SectionTooling, Priority: 3, Content: sb.String(), Volatility: VolatilitySemistable}
}

// SafetyGuardrailsSection carries the non-negotiable refusal rules.
func SafetyGuardrailsSection() Section {
	return Section{
		ID:       SectionSafetyGuardrails,
		Priority: 4,
		Content: "## Safety Guardrails\n" +
			"Never fabricate user consent. Never widen the action beyond the spoken mandate. " +
			"When harm is plausible, cite the exact transcript span that concerns you.",
		Volatility: VolatilityStable,
	}
}

// TaskContextSection wraps the sanitized user transcript for this call.
func TaskContextSection(transcript string) Section {
	var sb strings.Builder
	sb.WriteString("## Task Context\n")
	if transcript == "" {
		sb.WriteString("No transcript captured yet.\n")
	} else {
		sb.WriteString("<!-- TRANSCRIPT_START -->\n")
		sb.WriteString(transcript)
		sb.WriteString("\n<!-- TRANSCRIPT_END -->\n")
	}
	return Section{ID: SectionTaskContext, Priority: 5, Content: sb.String(), Volatility: VolatilityVolatile}
}

// MemoryRecallSection renders recalled memory snippets, capped at three.
func MemoryRecallSection(snippets []string) Section {
	var sb strings.Builder
	sb.WriteString("## Memory Recall\n")
	if len(snippets) == 0 {
		sb.WriteString("No relevant memories recalled.\n")
	} else {
		if len(snippets) > 3 {
			snippets = snippets[:3]
		}
		for i, s := range snippets {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, s)
		}
	}
	return Section{ID: SectionMemoryRecall, Priority: 6, Content: sb.String(), Volatility: VolatilityVolatile}
}

// LearnedExamplesSection renders per-user correction examples.
func LearnedExamplesSection(examples []string) Section {
	var sb strings.Builder
	sb.WriteString("## Learned Examples\n")
	if len(examples) == 0 {
		sb.WriteString("No correction examples for this user.\n")
	} else {
		for _, e := range examples {
			sb.WriteString("- ")
			sb.WriteString(e)
			sb.WriteString("\n")
		}
	}
	return Section{ID: SectionLearnedExamples, Priority: 7, Content: sb.String(), Volatility: VolatilitySemistable}
}

// DimensionsInjectedSection renders already-extracted dimensions so later
// stages do not re-derive them.
func DimensionsInjectedSection(dims map[string]string) Section {
	var sb strings.Builder
	sb.WriteString("## Known Dimensions\n")
	if len(dims) == 0 {
		sb.WriteString("None extracted yet.\n")
	} else {
		keys := make([]string, 0, len(dims))
		for k := range dims {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "- %s: %s\n", k, dims[k])
		}
	}
	return Section{ID: SectionDimensionsInjected, Priority: 8, Content: sb.String(), Volatility: VolatilityVolatile}
}

// ConflictsSummarySection surfaces L1/L2 disagreements to the verifier.
func ConflictsSummarySection(conflicts []string) Section {
	var sb strings.Builder
	sb.WriteString("## Conflicts\n")
	if len(conflicts) == 0 {
		sb.WriteString("No conflicts recorded.\n")
	} else {
		for _, c := range conflicts {
			sb.WriteString("- ")
			sb.WriteString(c)
			sb.WriteString("\n")
		}
	}
	return Section{ID: SectionConflictsSummary, Priority: 9, Content: sb.String(), Volatility: VolatilityVolatile}
}

// RuntimeCapabilitiesSection describes what the execution plane can do.
func RuntimeCapabilitiesSection(capabilities []string) Section {
	var sb strings.Builder
	sb.WriteString("## Runtime Capabilities\n")
	for _, c := range capabilities {
		sb.WriteString("- ")
		sb.WriteString(c)
		sb.WriteString("\n")
	}
	return Section{ID: SectionRuntimeCapabilities, Priority: 10, Content: sb.String(), Volatility: VolatilitySemistable}
}

// SkillsIndexSection lists candidate skills by name and category.
func SkillsIndexSection(skills map[string]string) Section {
	var sb strings.Builder
	sb.WriteString("## Skills Index\n")
	names := make([]string, 0, len(skills))
	for name := range skills {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&sb, "- %s (%s)\n", name, skills[name])
	}
	return Section{ID: SectionSkillsIndex, Priority: 11, Content: sb.String(), Volatility: VolatilitySemistable}
}

// WorkspaceBootstrapSection seeds a sub-agent's working directory contract.
func WorkspaceBootstrapSection(workdir string) Section {
	return Section{
		ID:       SectionWorkspaceBootstrap,
		Priority: 12,
		Content: fmt.Sprintf("## Workspace\nYour working directory is %s. "+
			"Write intermediate artifacts there and nowhere else.", workdir),
		Volatility: VolatilityVolatile,
	}
}
