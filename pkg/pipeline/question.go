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

const questionTimeout = 5 * time.Second

// Questioner phrases one targeted clarification question for a dimension the
// extractor could not fill. The question text is all it produces; recording
// it against the capture's budget is the orchestrator's job.
type Questioner struct {
	gateway  *llm.Gateway
	builder  *prompt.Builder
	breakers *breaker.Registry
}

// NewQuestioner wires the micro-question stage.
func NewQuestioner(gateway *llm.Gateway, builder *prompt.Builder, breakers *breaker.Registry) *Questioner {
	return &Questioner{gateway: gateway, builder: builder, breakers: breakers}
}

// Ask returns one short question targeting the missing dimension. Failures
// degrade to a template question so the user is still asked something.
func (q *Questioner) Ask(ctx context.Context, transcript, dimension string) string {
	fallback := "Could you tell me the " + dimension + "?"

	artifact, err := q.builder.Build(prompt.PurposeMicroQuestion, "json", []prompt.Section{
		prompt.IdentitySection(),
		prompt.PurposeContractSection(prompt.PurposeMicroQuestion,
			"Ask exactly one short, specific question that fills the missing \""+dimension+"\" dimension of the user's request. One sentence, no preamble."),
		prompt.TaskContextSection(transcript),
	}, transcript)
	if err != nil {
		slog.Error("Micro-question prompt build failed", "dimension", dimension, "error", err)
		return fallback
	}

	ctx, cancel := context.WithTimeout(ctx, questionTimeout)
	defer cancel()

	var completion *llm.Completion
	err = q.breakers.Execute("ambiguity", func() error {
		var callErr error
		completion, callErr = q.gateway.Complete(ctx, "pipeline.micro_question", artifact)
		return callErr
	})
	if err != nil {
		slog.Warn("Micro-question degraded to template", "dimension", dimension, "error", err)
		return fallback
	}

	var parsed struct {
		Question string `json:"question"`
	}
	if err := json.Unmarshal([]byte(completion.Content), &parsed); err != nil || parsed.Question == "" {
		return fallback
	}
	return parsed.Question
}
