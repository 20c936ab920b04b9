package prompt

import (
	"errors"
	"fmt"
	"sync"
)

// ErrBypassAttempt marks a call that tried to reach the LLM outside the
// registered path. Always fail-closed.
var ErrBypassAttempt = errors.New("prompt gateway bypass attempt")

// CallSiteStatus gates whether a registered site may currently call.
type CallSiteStatus string

const (
	CallSiteActive   CallSiteStatus = "active"
	CallSiteDisabled CallSiteStatus = "disabled"
)

// CallSite is one registered origin of LLM calls.
type CallSite struct {
	ID              string
	AllowedPurposes []Purpose
	Owner           string
	Status          CallSiteStatus
}

// Registry holds the closed set of call sites. The gateway consults it on
// every call; unregistered sites never reach the provider.
type Registry struct {
	mu    sync.RWMutex
	sites map[string]CallSite
}

// NewRegistry creates a registry pre-populated with the core call sites.
func NewRegistry() *Registry {
	r := &Registry{sites: make(map[string]CallSite)}
	for _, site := range coreCallSites {
		r.sites[site.ID] = site
	}
	return r
}

// coreCallSites are the pipeline's known LLM call origins.
var coreCallSites = []CallSite{
	{ID: "pipeline.fragment_analyzer", AllowedPurposes: []Purpose{PurposeThoughtToIntent}, Owner: "pipeline", Status: CallSiteActive},
	{ID: "pipeline.hypothesizer", AllowedPurposes: []Purpose{PurposePlan}, Owner: "pipeline", Status: CallSiteActive},
	{ID: "pipeline.verifier", AllowedPurposes: []Purpose{PurposeVerify}, Owner: "pipeline", Status: CallSiteActive},
	{ID: "pipeline.qc_sentry", AllowedPurposes: []Purpose{PurposeSafetyGate}, Owner: "pipeline", Status: CallSiteActive},
	{ID: "pipeline.dimension_extractor", AllowedPurposes: []Purpose{PurposeDimensionsExtract}, Owner: "pipeline", Status: CallSiteActive},
	{ID: "pipeline.micro_question", AllowedPurposes: []Purpose{PurposeMicroQuestion}, Owner: "pipeline", Status: CallSiteActive},
	{ID: "pipeline.summarizer", AllowedPurposes: []Purpose{PurposeSummarize}, Owner: "pipeline", Status: CallSiteActive},
	{ID: "dispatch.subagent", AllowedPurposes: []Purpose{PurposeSubagentTask, PurposeExecute}, Owner: "dispatch", Status: CallSiteActive},
}

// Register adds or replaces a call site.
func (r *Registry) Register(site CallSite) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sites[site.ID] = site
}

// Authorize enforces the gateway's fail-closed checks in order: artifact
// shape, site registration, site status, purpose allowance. Any violation
// is a bypass attempt.
func (r *Registry) Authorize(artifact *Artifact, callSiteID string) error {
	if artifact == nil || artifact.PromptID == "" || len(artifact.Messages) == 0 {
		return fmt.Errorf("%w: malformed artifact from %q", ErrBypassAttempt, callSiteID)
	}

	r.mu.RLock()
	site, ok := r.sites[callSiteID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: unregistered call site %q", ErrBypassAttempt, callSiteID)
	}
	if site.Status != CallSiteActive {
		return fmt.Errorf("%w: call site %q is %s", ErrBypassAttempt, callSiteID, site.Status)
	}

	for _, p := range site.AllowedPurposes {
		if p == artifact.Purpose {
			return nil
		}
	}
	return fmt.Errorf("%w: purpose %s not allowed for call site %q",
		ErrBypassAttempt, artifact.Purpose, callSiteID)
}
