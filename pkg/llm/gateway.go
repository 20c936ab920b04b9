package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/myndlens/vox/pkg/audit"
	"github.com/myndlens/vox/pkg/metrics"
	"github.com/myndlens/vox/pkg/prompt"
)

// Gateway is the sole path to the provider. It authorizes the call site
// against the registry, persists a snapshot of every artifact it forwards,
// records bypass attempts, and mirrors per-call metadata to the log.
type Gateway struct {
	client    Client
	registry  *prompt.Registry
	snapshots prompt.SnapshotStore
	auditor   *audit.Logger
}

// NewGateway wires the provider client behind registry enforcement.
// snapshots may be nil to skip persistence.
func NewGateway(client Client, registry *prompt.Registry, snapshots prompt.SnapshotStore, auditor *audit.Logger) *Gateway {
	return &Gateway{client: client, registry: registry, snapshots: snapshots, auditor: auditor}
}

// Complete authorizes and executes one LLM call. A registry rejection is a
// fail-closed bypass attempt: audited, never forwarded to the provider. The
// snapshot is persisted before the provider sees the prompt, so every call
// that reaches the provider has a stored record under its prompt ID.
func (g *Gateway) Complete(ctx context.Context, callSiteID string, artifact *prompt.Artifact) (*Completion, error) {
	if err := g.registry.Authorize(artifact, callSiteID); err != nil {
		details := map[string]any{"call_site": callSiteID, "error": err.Error()}
		if artifact != nil {
			details["purpose"] = string(artifact.Purpose)
			details["prompt_id"] = artifact.PromptID
			metrics.IncLLMCall(string(artifact.Purpose), "bypass_rejected")
		}
		g.auditor.Record(ctx, audit.EventPromptBypass, "", "", details)
		return nil, err
	}

	if g.snapshots != nil {
		if err := g.snapshots.Save(ctx, prompt.SnapshotFromArtifact(artifact, callSiteID)); err != nil {
			return nil, fmt.Errorf("persist prompt snapshot: %w", err)
		}
	}

	completion, err := g.client.Complete(ctx, artifact)
	if err != nil {
		metrics.IncLLMCall(string(artifact.Purpose), "error")
		slog.Error("LLM call failed",
			"call_site", callSiteID, "purpose", artifact.Purpose,
			"prompt_id", artifact.PromptID, "error", err)
		return nil, err
	}
	metrics.IncLLMCall(string(artifact.Purpose), "ok")

	slog.Debug("LLM call completed",
		"call_site", callSiteID, "purpose", artifact.Purpose,
		"prompt_id", artifact.PromptID, "stable_hash", artifact.StableHash,
		"latency_ms", completion.LatencyMs,
		"input_tokens", completion.InputTokens, "output_tokens", completion.OutputTokens)
	return completion, nil
}
