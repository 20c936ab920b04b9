// Package mio implements the Master Intent Object: the immutable, signed
// record that authorizes exactly one dispatch. Signing uses Ed25519 over the
// RFC 8785 canonical JSON form; verification gates on signature, TTL,
// replay, presence, and the tier-appropriate proofs.
package mio

import "time"

// DefaultTTLSeconds bounds how long a signed MIO stays dispatchable.
const DefaultTTLSeconds = 120

// Tier constants for the envelope constraints.
const (
	TierRoutine       = 0
	TierElevated      = 1
	TierPhysicalLatch = 2
	TierBiometric     = 3
)

// Header identifies the MIO and its signing context.
type Header struct {
	MIOID      string    `json:"mioID"`
	Timestamp  time.Time `json:"timestamp"`
	SignerID   string    `json:"signerID"`
	TTLSeconds int       `json:"ttlSeconds"`
}

// Constraints carry the execution tier and its proof requirements.
type Constraints struct {
	Tier                  int  `json:"tier"`
	PhysicalLatchRequired bool `json:"physicalLatchRequired"`
	BiometricRequired     bool `json:"biometricRequired"`
}

// Envelope is the action payload the adapter will execute.
type Envelope struct {
	Action      string         `json:"action"`
	ActionClass string         `json:"actionClass"`
	Params      map[string]any `json:"params"`
	Constraints Constraints    `json:"constraints"`
}

// Grounding ties the MIO back to the evidence it was derived from.
type Grounding struct {
	TranscriptHash  string          `json:"transcriptHash"`
	L1Hash          string          `json:"l1Hash"`
	L2AuditHash     string          `json:"l2AuditHash"`
	MemoryNodeIDs   []string        `json:"memoryNodeIDs"`
	ProvenanceFlags map[string]bool `json:"provenanceFlags"`
}

// SecurityProof carries the user-side proofs and the signature. The
// signature covers everything except this struct's Signature field.
type SecurityProof struct {
	TouchToken     string `json:"touchToken,omitempty"`
	BiometricProof string `json:"biometricProof,omitempty"`
	Signature      string `json:"signature,omitempty"`
}

// MIO is the full Master Intent Object. Append-only once signed.
type MIO struct {
	Header        Header        `json:"header"`
	Envelope      Envelope      `json:"envelope"`
	Grounding     Grounding     `json:"grounding"`
	SecurityProof SecurityProof `json:"securityProof"`
}
