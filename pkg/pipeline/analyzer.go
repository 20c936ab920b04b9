package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/myndlens/vox/pkg/breaker"
	"github.com/myndlens/vox/pkg/llm"
	"github.com/myndlens/vox/pkg/prompt"
)

const analyzerTimeout = 500 * time.Millisecond

const analyzerSchema = `{
  "sub_intents": ["string"],
  "dimensions_found": {"name": "value"},
  "dimensions_missing": ["string"],
  "confidence": 0.0
}`

// Analyzer classifies one utterance fragment into sub-intents and
// dimensions. Never raises: any failure degrades to a low-confidence
// fallback carrying the raw fragment text.
type Analyzer struct {
	gateway  *llm.Gateway
	builder  *prompt.Builder
	breakers *breaker.Registry
}

// NewAnalyzer wires the fragment analyzer to the LLM gateway.
func NewAnalyzer(gateway *llm.Gateway, builder *prompt.Builder, breakers *breaker.Registry) *Analyzer {
	return &Analyzer{gateway: gateway, builder: builder, breakers: breakers}
}

// Analyze runs one bounded THOUGHT_TO_INTENT call for a fragment.
func (a *Analyzer) Analyze(ctx context.Context, fragmentText string) *FragmentAnalysis {
	fallback := &FragmentAnalysis{
		SubIntents: []string{fragmentText},
		Confidence: 0.2,
		Degraded:   true,
	}

	sanitized, _ := Sanitize(fragmentText)
	artifact, err := a.builder.Build(prompt.PurposeThoughtToIntent, "json", []prompt.Section{
		prompt.IdentitySection(),
		prompt.PurposeContractSection(prompt.PurposeThoughtToIntent,
			"Classify one utterance fragment into sub-intents; list dimensions found and still missing."),
		prompt.OutputSchemaSection(analyzerSchema),
		prompt.TaskContextSection(sanitized),
	}, sanitized)
	if err != nil {
		slog.Error("Fragment analyzer prompt build failed", "error", err)
		return fallback
	}

	ctx, cancel := context.WithTimeout(ctx, analyzerTimeout)
	defer cancel()

	var completion *llm.Completion
	err = a.breakers.Execute("l1", func() error {
		var callErr error
		completion, callErr = a.gateway.Complete(ctx, "pipeline.fragment_analyzer", artifact)
		return callErr
	})
	if err != nil {
		slog.Warn("Fragment analysis degraded to fallback", "error", err)
		return fallback
	}

	var analysis FragmentAnalysis
	if err := json.Unmarshal([]byte(completion.Content), &analysis); err != nil {
		slog.Warn("Fragment analysis parse failure, using fallback", "error", err)
		return fallback
	}
	if len(analysis.SubIntents) == 0 {
		analysis.SubIntents = []string{fragmentText}
	}
	return &analysis
}
