package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/myndlens/vox/pkg/breaker"
	"github.com/myndlens/vox/pkg/llm"
	"github.com/myndlens/vox/pkg/mandate"
	"github.com/myndlens/vox/pkg/prompt"
)

const extractorTimeout = 15 * time.Second

const extractorSchema = `{
  "intent": "string",
  "summary": "string",
  "people": [{"name": "string", "role": "string", "contact": "string"}],
  "actions": [{
    "name": "string",
    "priority": "high | med | low",
    "dimensions": {"name": {"value": "string", "source": "stated | digital_self | inferred | missing"}}
  }],
  "timing": "string",
  "location": "string",
  "preferences": ["string"],
  "constraints": ["string"],
  "missing": ["string"],
  "confidence": 0.0
}`

// Extractor turns the verified intent plus the complete transcript into a
// mandate-ready structured document. Unknown dimensions land in missing[],
// never silently guessed.
type Extractor struct {
	gateway  *llm.Gateway
	builder  *prompt.Builder
	breakers *breaker.Registry
}

// NewExtractor wires the dimension extraction stage.
func NewExtractor(gateway *llm.Gateway, builder *prompt.Builder, breakers *breaker.Registry) *Extractor {
	return &Extractor{gateway: gateway, builder: builder, breakers: breakers}
}

// Extract assembles the mandate document. Failures degrade to a minimal
// low-confidence mandate carrying the intent text, with everything missing.
func (e *Extractor) Extract(ctx context.Context, sessionID, userID, transcript string, l2 *L2Result, known map[string]string) *mandate.Mandate {
	now := time.Now().UTC()
	fallback := &mandate.Mandate{
		MandateID:   uuid.New().String(),
		SessionID:   sessionID,
		UserID:      userID,
		State:       mandate.StateDimensionsExtracted,
		Intent:      l2.Intent,
		Summary:     l2.Intent,
		ActionClass: l2.ActionClass,
		RiskTier:    l2.RiskTier,
		Actions:     []mandate.Action{{Name: "primary", Priority: "high", Dimensions: map[string]mandate.Dimension{}}},
		Missing:     []string{"all dimensions"},
		Confidence:  0.2,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	sanitized, _ := Sanitize(transcript)
	artifact, err := e.builder.Build(prompt.PurposeDimensionsExtract, "json", []prompt.Section{
		prompt.IdentitySection(),
		prompt.PurposeContractSection(prompt.PurposeDimensionsExtract,
			"Extract a structured mandate from the transcript. Tag every dimension with its source; list unknowns in missing, never guess."),
		prompt.OutputSchemaSection(extractorSchema),
		prompt.TaskContextSection(sanitized),
		prompt.DimensionsInjectedSection(known),
	}, sanitized)
	if err != nil {
		slog.Error("Extractor prompt build failed", "error", err)
		return fallback
	}

	ctx, cancel := context.WithTimeout(ctx, extractorTimeout)
	defer cancel()

	var completion *llm.Completion
	err = e.breakers.Execute("l2", func() error {
		var callErr error
		completion, callErr = e.gateway.Complete(ctx, "pipeline.dimension_extractor", artifact)
		return callErr
	})
	if err != nil {
		slog.Warn("Dimension extraction degraded to fallback", "error", err)
		return fallback
	}

	var doc mandate.Mandate
	if err := json.Unmarshal([]byte(completion.Content), &doc); err != nil {
		slog.Warn("Dimension extraction parse failure, using fallback", "error", err)
		return fallback
	}

	doc.MandateID = uuid.New().String()
	doc.SessionID = sessionID
	doc.UserID = userID
	doc.State = mandate.StateDimensionsExtracted
	doc.ActionClass = l2.ActionClass
	doc.RiskTier = l2.RiskTier
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if doc.Intent == "" {
		doc.Intent = l2.Intent
	}
	if len(doc.Actions) == 0 {
		doc.Actions = fallback.Actions
	}
	return &doc
}
