// Package gateway is the duplex session gateway: one WebSocket per client,
// AUTH-first handshake, serial per-connection message handling, and the
// outbound push channel the pipeline broadcasts through.
package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Client → server message types, protocol v1.
const (
	TypeAuth           = "AUTH"
	TypeHeartbeat      = "HEARTBEAT"
	TypeAudioChunk     = "AUDIO_CHUNK"
	TypeTextInput      = "TEXT_INPUT"
	TypeExecuteRequest = "EXECUTE_REQUEST"
	TypeCancel         = "CANCEL"
)

// Server → client message types, protocol v1.
const (
	TypeAuthOK            = "AUTH_OK"
	TypeAuthFail          = "AUTH_FAIL"
	TypeHeartbeatAck      = "HEARTBEAT_ACK"
	TypeTranscriptPartial = "TRANSCRIPT_PARTIAL"
	TypeTranscriptFinal   = "TRANSCRIPT_FINAL"
	TypeDraftUpdate       = "DRAFT_UPDATE"
	TypeTTSAudio          = "TTS_AUDIO"
	TypePipelineStage     = "PIPELINE_STAGE"
	TypeExecuteBlocked    = "EXECUTE_BLOCKED"
	TypeExecuteOK         = "EXECUTE_OK"
	TypeError             = "ERROR"
	TypeSessionTerminated = "SESSION_TERMINATED"
)

// EXECUTE_BLOCKED codes.
const (
	CodePresenceStale        = "PRESENCE_STALE"
	CodeSubscriptionInactive = "SUBSCRIPTION_INACTIVE"
	CodeEnvGuard             = "ENV_GUARD"
	CodeGuardrailViolation   = "GUARDRAIL_VIOLATION"
	CodeDraftNotFound        = "DRAFT_NOT_FOUND"
	CodePipelineNotReady     = "PIPELINE_NOT_READY"
)

// ERROR codes.
const (
	CodeUnknownMsgType = "UNKNOWN_MSG_TYPE"
	CodeRateLimited    = "RATE_LIMITED"
	CodeInternal       = "INTERNAL_ERROR"
)

// Envelope wraps every message in both directions.
type Envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// newEnvelope builds an outbound envelope around an already-marshaled payload.
func newEnvelope(msgType string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Type:      msgType,
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}, nil
}

// AuthPayload is the first message on every connection.
type AuthPayload struct {
	Token         string `json:"token"`
	DeviceID      string `json:"deviceID"`
	ClientVersion string `json:"clientVersion,omitempty"`
}

// AuthOKPayload acknowledges a successful handshake.
type AuthOKPayload struct {
	SessionID           string `json:"sessionID"`
	UserID              string `json:"userID"`
	HeartbeatIntervalMs int64  `json:"heartbeatIntervalMs"`
}

// AuthFailPayload is sent exactly once before the connection closes.
type AuthFailPayload struct {
	Reason string `json:"reason"`
}

// HeartbeatPayload keeps presence fresh.
type HeartbeatPayload struct {
	SessionID string `json:"sessionID"`
	Seq       int64  `json:"seq"`
	ClientTs  int64  `json:"clientTs,omitempty"`
}

// HeartbeatAckPayload echoes the sequence and carries server time for client
// skew correction.
type HeartbeatAckPayload struct {
	Seq      int64     `json:"seq"`
	ServerTs time.Time `json:"serverTs"`
}

// TextInputPayload carries one typed utterance.
type TextInputPayload struct {
	Text string `json:"text"`
}

// AudioChunkPayload carries one audio frame. Data is base64 on the wire;
// in mock STT mode Text stands in for the decoded speech.
type AudioChunkPayload struct {
	Data  []byte `json:"data,omitempty"`
	Text  string `json:"text,omitempty"`
	Final bool   `json:"final,omitempty"`
}

// ExecuteRequestPayload asks the server to execute an approved draft.
type ExecuteRequestPayload struct {
	SessionID      string `json:"sessionID"`
	DraftID        string `json:"draftID"`
	TouchToken     string `json:"touchToken,omitempty"`
	BiometricProof string `json:"biometricProof,omitempty"`
}

// ExecuteOKPayload confirms a dispatched execution.
type ExecuteOKPayload struct {
	DraftID    string `json:"draftID"`
	MIOID      string `json:"mioID"`
	DispatchID string `json:"dispatchID"`
	Status     string `json:"status"`
}

// ExecuteBlockedPayload explains a refused execution.
type ExecuteBlockedPayload struct {
	Reason  string `json:"reason"`
	Code    string `json:"code"`
	DraftID string `json:"draftID,omitempty"`
}

// ErrorPayload is the typed error envelope for protocol-level failures.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
