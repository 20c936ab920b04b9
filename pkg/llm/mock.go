package llm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/myndlens/vox/pkg/prompt"
)

// MockClient is the deterministic provider used when MOCK_LLM is set and in
// tests. Responses depend only on the artifact's purpose and user content,
// so replays produce identical pipelines.
type MockClient struct {
	// Responses overrides the canned response per purpose when set.
	Responses map[prompt.Purpose]string
	// Err makes every call fail; exercises fail-open paths.
	Err error
}

// NewMockClient creates a mock with the default canned responses.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) Complete(_ context.Context, artifact *prompt.Artifact) (*Completion, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if r, ok := m.Responses[artifact.Purpose]; ok {
		return &Completion{Content: r, Model: "mock", LatencyMs: 1}, nil
	}

	content, err := m.canned(artifact)
	if err != nil {
		return nil, err
	}
	return &Completion{Content: content, Model: "mock", LatencyMs: 1}, nil
}

// seedConfidence derives a stable confidence in [0.70, 0.95) from the user
// content, so different transcripts look different but replays match.
func seedConfidence(text string) float64 {
	sum := sha256.Sum256([]byte(text))
	n := binary.BigEndian.Uint16(sum[:2])
	return 0.70 + float64(n%25)/100
}

func userContent(artifact *prompt.Artifact) string {
	for _, msg := range artifact.Messages {
		if msg.Role == prompt.RoleUser {
			return msg.Content
		}
	}
	return ""
}

func (m *MockClient) canned(artifact *prompt.Artifact) (string, error) {
	text := userContent(artifact)
	conf := seedConfidence(text)

	var out any
	switch artifact.Purpose {
	case prompt.PurposeThoughtToIntent:
		out = map[string]any{
			"sub_intents":        []string{firstWords(text, 4)},
			"dimensions_found":   map[string]string{},
			"dimensions_missing": []string{"timing"},
			"confidence":         conf,
		}
	case prompt.PurposePlan:
		out = map[string]any{
			"hypotheses": []map[string]any{{
				"hypothesis":            "User wants: " + firstWords(text, 8),
				"action_class":          "communicate",
				"confidence":            conf,
				"evidence_spans":        []map[string]any{{"text": firstWords(text, 3), "start": 0, "end": len(firstWords(text, 3))}},
				"dimension_suggestions": map[string]string{},
			}},
		}
	case prompt.PurposeVerify:
		out = map[string]any{
			"intent":                "User wants: " + firstWords(text, 8),
			"action_class":          "communicate",
			"canonical_target":      "default",
			"primary_outcome":       firstWords(text, 6),
			"risk_tier":             1,
			"confidence":            conf,
			"chain_of_logic":        "mock shadow derivation",
			"shadow_agrees_with_l1": true,
			"conflicts":             []string{},
		}
	case prompt.PurposeSafetyGate:
		out = map[string]any{
			"passes": []map[string]any{
				{"pass_name": "persona_drift", "passed": true, "severity": "none", "reason": "", "cited_spans": []string{}},
				{"pass_name": "capability_leak", "passed": true, "severity": "none", "reason": "", "cited_spans": []string{}},
				{"pass_name": "harm_projection", "passed": true, "severity": "none", "reason": "", "cited_spans": []string{}},
			},
		}
	case prompt.PurposeDimensionsExtract:
		out = map[string]any{
			"intent":  firstWords(text, 8),
			"summary": firstWords(text, 12),
			"people":  []any{},
			"actions": []map[string]any{{
				"name":       "primary",
				"priority":   "high",
				"dimensions": map[string]any{},
			}},
			"missing":    []string{},
			"confidence": conf,
		}
	case prompt.PurposeMicroQuestion:
		out = map[string]any{"question": "Could you clarify the timing?"}
	case prompt.PurposeSummarize:
		out = map[string]any{"summary": firstWords(text, 15)}
	default:
		return "", fmt.Errorf("mock llm has no canned response for purpose %s", artifact.Purpose)
	}

	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func firstWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
