package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/myndlens/vox/pkg/breaker"
	"github.com/myndlens/vox/pkg/llm"
	"github.com/myndlens/vox/pkg/prompt"
	"github.com/myndlens/vox/pkg/recall"
)

const (
	hypothesizerTimeout = 5 * time.Second
	maxHypotheses       = 3
)

const hypothesizerSchema = `{
  "hypotheses": [{
    "hypothesis": "string",
    "action_class": "string",
    "confidence": 0.0,
    "evidence_spans": [{"text": "string", "start": 0, "end": 0}],
    "dimension_suggestions": {"name": "value"}
  }]
}`

// Hypothesizer is the L1 fast path: at most three ranked hypotheses from
// the combined transcript, recalled memories, and learned examples.
type Hypothesizer struct {
	gateway  *llm.Gateway
	builder  *prompt.Builder
	breakers *breaker.Registry
	recaller recall.Recaller
	// examples returns per-user correction examples from the learned cache.
	examples func(userID string) []string
}

// NewHypothesizer wires the L1 stage. examples may be nil.
func NewHypothesizer(gateway *llm.Gateway, builder *prompt.Builder, breakers *breaker.Registry, recaller recall.Recaller, examples func(userID string) []string) *Hypothesizer {
	if examples == nil {
		examples = func(string) []string { return nil }
	}
	return &Hypothesizer{
		gateway:  gateway,
		builder:  builder,
		breakers: breakers,
		recaller: recaller,
		examples: examples,
	}
}

// Hypothesize produces the ranked L1 result. Failures degrade to a single
// low-confidence hypothesis over the raw transcript.
func (h *Hypothesizer) Hypothesize(ctx context.Context, userID, transcript string) (*L1Result, []recall.MemorySnippet) {
	fallback := &L1Result{
		Hypotheses: []Hypothesis{{
			Hypothesis:  transcript,
			ActionClass: "UNKNOWN",
			Confidence:  0.2,
		}},
		Degraded: true,
	}

	sanitized, _ := Sanitize(transcript)

	// Recall is best-effort; an empty snippet set is a valid input. Capsule
	// summaries (key: value lines) become the prior-context prefix; free-text
	// snippets stay in the memory recall list.
	var capsuleEntries []prompt.CapsuleEntry
	var snippetTexts []string
	snippets, err := h.recaller.Recall(ctx, userID, sanitized)
	if err != nil {
		slog.Warn("Memory recall failed, hypothesizing without memories",
			"user_id", userID, "error", err)
		snippets = nil
	}
	for _, s := range snippets {
		if entries := prompt.ParseCapsuleSummary(s.Text); len(entries) > 0 && entries[0].Key != "note" {
			capsuleEntries = append(capsuleEntries, entries...)
			continue
		}
		snippetTexts = append(snippetTexts, s.Text)
	}

	sections := []prompt.Section{
		prompt.IdentitySection(),
		prompt.PurposeContractSection(prompt.PurposePlan,
			"Produce up to three ranked hypotheses of what the user wants, each with an action class, confidence, and evidence spans from the transcript."),
		prompt.OutputSchemaSection(hypothesizerSchema),
		prompt.TaskContextSection(sanitized),
		prompt.MemoryRecallSection(snippetTexts),
		prompt.LearnedExamplesSection(h.examples(userID)),
	}
	if len(capsuleEntries) > 0 {
		sections = append(sections, prompt.ContextPrefixSection(capsuleEntries))
	}

	artifact, err := h.builder.Build(prompt.PurposePlan, "json", sections, sanitized)
	if err != nil {
		slog.Error("Hypothesizer prompt build failed", "error", err)
		return fallback, snippets
	}

	ctx, cancel := context.WithTimeout(ctx, hypothesizerTimeout)
	defer cancel()

	var completion *llm.Completion
	err = h.breakers.Execute("l1", func() error {
		var callErr error
		completion, callErr = h.gateway.Complete(ctx, "pipeline.hypothesizer", artifact)
		return callErr
	})
	if err != nil {
		slog.Warn("L1 hypothesis degraded to fallback", "error", err)
		return fallback, snippets
	}

	var result L1Result
	if err := json.Unmarshal([]byte(completion.Content), &result); err != nil {
		slog.Warn("L1 parse failure, using fallback", "error", err)
		return fallback, snippets
	}
	if len(result.Hypotheses) == 0 {
		return fallback, snippets
	}

	sort.SliceStable(result.Hypotheses, func(i, j int) bool {
		return result.Hypotheses[i].Confidence > result.Hypotheses[j].Confidence
	})
	if len(result.Hypotheses) > maxHypotheses {
		result.Hypotheses = result.Hypotheses[:maxHypotheses]
	}
	return &result, snippets
}
