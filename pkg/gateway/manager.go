package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/myndlens/vox/pkg/audit"
	"github.com/myndlens/vox/pkg/auth"
	"github.com/myndlens/vox/pkg/breaker"
	"github.com/myndlens/vox/pkg/conversation"
	"github.com/myndlens/vox/pkg/mandate"
	"github.com/myndlens/vox/pkg/metrics"
	"github.com/myndlens/vox/pkg/pipeline"
	"github.com/myndlens/vox/pkg/ratelimit"
	"github.com/myndlens/vox/pkg/session"
)

// authTimeout bounds how long a fresh connection may sit before sending AUTH.
const authTimeout = 10 * time.Second

// defaultWriteTimeout bounds a single outbound WebSocket write.
const defaultWriteTimeout = 5 * time.Second

// RateLimiter is the sliding-window limiter contract. Implemented by
// ratelimit.Limiter; nil disables limiting.
type RateLimiter interface {
	Allow(ctx context.Context, limitType, key string) (ratelimit.Result, error)
}

// PipelineRunner runs the inference cascade for a closed capture.
// Implemented by pipeline.Orchestrator.
type PipelineRunner interface {
	Run(ctx context.Context, sessionID, userID, transcript string) *pipeline.Result
}

// Connection is one authenticated WebSocket client. All reads happen on the
// single goroutine that owns the connection; coder/websocket serializes
// concurrent writers internally.
type Connection struct {
	sess   *session.Session
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// Deps wires the ConnectionManager's collaborators.
type Deps struct {
	Validator     *auth.Validator
	Sessions      *session.Service
	Conversations *conversation.Manager
	Mandates      mandate.Store
	Limiter       RateLimiter
	Runner        PipelineRunner
	Executor      *ExecuteService
	STT           Transcriber
	Breakers      *breaker.Registry
	Auditor       *audit.Logger
	// Progress feeds the reconnect catch-up push; nil disables it.
	Progress pipeline.ProgressStore

	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
}

// ConnectionManager owns the active-connection map and the lifecycle of every
// WebSocket client: AUTH-first handshake, serial message loop, push channel,
// and disconnect cleanup. Each process has one instance.
type ConnectionManager struct {
	deps         Deps
	writeTimeout time.Duration

	// Active connections: sessionID → *Connection. Single writer per key
	// (the owning connection goroutine); Broadcast only reads.
	mu          sync.RWMutex
	connections map[string]*Connection
}

// NewConnectionManager creates the manager.
func NewConnectionManager(deps Deps) *ConnectionManager {
	wt := deps.WriteTimeout
	if wt <= 0 {
		wt = defaultWriteTimeout
	}
	return &ConnectionManager{
		deps:         deps,
		writeTimeout: wt,
		connections:  make(map[string]*Connection),
	}
}

// ActiveConnections returns the count of authenticated connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// HandleConnection manages one WebSocket from upgrade to close. Blocks until
// the connection ends. The first message must be AUTH; anything else closes
// the connection with a protocol error.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	c, ok := m.handshake(ctx, cancel, conn)
	if !ok {
		return
	}
	defer m.disconnect(c)

	// Read loop — per-session messages are processed serially in arrival
	// order on this goroutine.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// Malformed JSON is logged; the connection stays open.
			slog.Warn("Malformed gateway message",
				"session_id", c.sess.SessionID, "error", err)
			continue
		}

		if !m.allow(ctx, c, "ws_messages", c.sess.SessionID) {
			continue
		}
		m.handleMessage(ctx, c, &env)
	}
}

// handshake performs the AUTH-first exchange and session creation. On any
// failure it closes the connection after at most one AUTH_FAIL.
func (m *ConnectionManager) handshake(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) (*Connection, bool) {
	authCtx, authCancel := context.WithTimeout(ctx, authTimeout)
	defer authCancel()

	_, data, err := conn.Read(authCtx)
	if err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "AUTH required")
		return nil, false
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != TypeAuth {
		_ = conn.Close(websocket.StatusPolicyViolation, "first message must be AUTH")
		return nil, false
	}
	var p AuthPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.Token == "" || p.DeviceID == "" {
		m.authFail(ctx, conn, "", "token and deviceID are required")
		return nil, false
	}

	if m.deps.Limiter != nil {
		res, err := m.deps.Limiter.Allow(ctx, "auth_attempts", p.DeviceID)
		if err != nil {
			slog.Warn("Auth rate limit check failed, allowing", "error", err)
		}
		if !res.Allowed {
			m.deps.Auditor.Record(ctx, audit.EventRateLimited, "", "", map[string]any{
				"limit_type": "auth_attempts", "device_id": p.DeviceID,
			})
			m.authFail(ctx, conn, p.DeviceID, "too many authentication attempts")
			return nil, false
		}
	}

	identity, err := m.deps.Validator.Validate(p.Token, p.DeviceID)
	if err != nil {
		m.deps.Auditor.Record(ctx, audit.EventAuthFailure, "", "", map[string]any{
			"device_id": p.DeviceID, "error": err.Error(),
		})
		m.authFail(ctx, conn, p.DeviceID, "token validation failed")
		return nil, false
	}

	// Snapshot the user's prior active sessions before Create deactivates
	// the same-device one; resumable mandates rebind to the new session.
	prior, err := m.deps.Sessions.ActiveByUser(ctx, identity.UserID)
	if err != nil {
		slog.Warn("Prior session lookup failed", "user_id", identity.UserID, "error", err)
	}

	sess, err := m.deps.Sessions.Create(ctx, identity, p.ClientVersion)
	if err != nil {
		m.authFail(ctx, conn, p.DeviceID, "session creation failed")
		return nil, false
	}

	c := &Connection{sess: sess, conn: conn, ctx: ctx, cancel: cancel}
	m.mu.Lock()
	m.connections[sess.SessionID] = c
	metrics.SetActiveConnections(len(m.connections))
	m.mu.Unlock()
	metrics.IncAuthAttempt("ok")

	m.send(c, TypeAuthOK, AuthOKPayload{
		SessionID:           sess.SessionID,
		UserID:              sess.UserID,
		HeartbeatIntervalMs: m.deps.HeartbeatInterval.Milliseconds(),
	})

	m.adoptPriorSessions(ctx, c, prior)

	m.deps.Auditor.Record(ctx, audit.EventAuthSuccess, sess.SessionID, sess.UserID, map[string]any{
		"device_id": sess.DeviceID, "source": identity.Source,
		"subscription": sess.SubscriptionStatus,
	})
	slog.Info("Gateway session established",
		"session_id", sess.SessionID, "user_id", sess.UserID,
		"device_id", sess.DeviceID, "source", identity.Source)
	return c, true
}

// adoptPriorSessions migrates in-flight conversation state and resumable
// mandates from the user's older sessions, terminates displaced same-device
// connections, and pushes the catch-up state: a DRAFT_UPDATE for anything
// still awaiting approval and the stage ladder of any pipeline run that was
// mid-flight when the old connection dropped.
func (m *ConnectionManager) adoptPriorSessions(ctx context.Context, c *Connection, prior []*session.Session) {
	sess := c.sess
	if st := m.deps.Conversations.Migrate(sess.UserID, sess.SessionID); st != nil {
		slog.Info("Conversation capture carried across reconnect",
			"session_id", sess.SessionID, "fragments", len(st.Fragments))
	}
	for _, old := range prior {
		if old.SessionID == sess.SessionID {
			continue
		}
		if err := m.deps.Mandates.Rebind(ctx, old.SessionID, sess.SessionID); err != nil {
			slog.Warn("Mandate rebind failed",
				"from_session", old.SessionID, "to_session", sess.SessionID, "error", err)
		}
		if old.DeviceID != sess.DeviceID {
			continue
		}
		// Same device reconnected; the displaced connection, if still
		// open, is told why it is going away.
		m.mu.RLock()
		displaced := m.connections[old.SessionID]
		m.mu.RUnlock()
		if displaced != nil {
			m.send(displaced, TypeSessionTerminated, map[string]string{
				"reason": "replaced by a newer session for this device",
			})
			displaced.cancel()
		}
	}

	resumable, err := m.deps.Mandates.ResumableByUser(ctx, sess.UserID)
	if err != nil {
		slog.Warn("Resumable mandate lookup failed", "user_id", sess.UserID, "error", err)
	}
	for _, doc := range resumable {
		if doc.State != mandate.StateApprovalPending {
			continue
		}
		m.send(c, TypeDraftUpdate, map[string]any{
			"draft_id": doc.MandateID,
			"intent":   doc.Intent,
			"summary":  doc.Summary,
			"state":    string(doc.State),
			"resumed":  true,
		})
	}

	m.replayPipelineProgress(ctx, c, prior)
}

// replayPipelineProgress re-pushes the persisted stage ladder of an
// execution that was still running under a prior session, so the new
// client's progress bar resumes where it stood. Finished executions stay
// quiet; their outcome already reached the client as a draft or a block.
func (m *ConnectionManager) replayPipelineProgress(ctx context.Context, c *Connection, prior []*session.Session) {
	if m.deps.Progress == nil {
		return
	}
	for _, old := range prior {
		if old.SessionID == c.sess.SessionID {
			continue
		}
		stages, err := m.deps.Progress.LatestBySession(ctx, old.SessionID)
		if err != nil {
			slog.Warn("Pipeline progress lookup failed",
				"session_id", old.SessionID, "error", err)
			continue
		}
		if len(stages) == 0 || pipelineFinished(stages) {
			continue
		}
		for _, p := range stages {
			p.SessionID = c.sess.SessionID
			m.send(c, TypePipelineStage, p)
		}
		slog.Info("Replayed pipeline progress across reconnect",
			"from_session", old.SessionID, "to_session", c.sess.SessionID,
			"execution_id", stages[0].ExecutionID, "stages", len(stages))
	}
}

// pipelineFinished reports whether the execution reached a terminal stage.
func pipelineFinished(stages []pipeline.Progress) bool {
	for _, p := range stages {
		if p.Status == pipeline.StageFailed {
			return true
		}
		if p.StageIndex == pipeline.StageExecutionReady && p.Status == pipeline.StageDone {
			return true
		}
	}
	return false
}

// disconnect tears the connection down: session deactivation, non-resumable
// mandate purge, map removal, audit. Conversation state is kept so a
// reconnect within the capture window can migrate it.
func (m *ConnectionManager) disconnect(c *Connection) {
	// The connection context is gone; cleanup gets its own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sessionID := c.sess.SessionID
	if err := m.deps.Sessions.Close(ctx, sessionID); err != nil {
		slog.Warn("Session deactivation failed", "session_id", sessionID, "error", err)
	}
	purged, err := m.deps.Mandates.PurgeSession(ctx, sessionID)
	if err != nil {
		slog.Warn("Mandate purge failed", "session_id", sessionID, "error", err)
	}

	m.mu.Lock()
	delete(m.connections, sessionID)
	metrics.SetActiveConnections(len(m.connections))
	m.mu.Unlock()

	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")

	m.deps.Auditor.Record(ctx, audit.EventSessionClosed, sessionID, c.sess.UserID, map[string]any{
		"purged_mandates": purged,
	})
	slog.Info("Gateway session closed",
		"session_id", sessionID, "user_id", c.sess.UserID, "purged_mandates", purged)
}

// handleMessage dispatches one inbound envelope. Errors never escape: the
// connection loop must survive anything a client sends.
func (m *ConnectionManager) handleMessage(ctx context.Context, c *Connection, env *Envelope) {
	metrics.IncMessageReceived(env.Type)
	switch env.Type {
	case TypeHeartbeat:
		var p HeartbeatPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			slog.Warn("Malformed heartbeat", "session_id", c.sess.SessionID, "error", err)
			return
		}
		if err := m.deps.Sessions.Heartbeat(ctx, c.sess.SessionID, p.Seq); err != nil {
			slog.Warn("Heartbeat rejected",
				"session_id", c.sess.SessionID, "seq", p.Seq, "error", err)
			return
		}
		m.send(c, TypeHeartbeatAck, HeartbeatAckPayload{Seq: p.Seq, ServerTs: time.Now().UTC()})

	case TypeTextInput:
		var p TextInputPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			slog.Warn("Malformed text input", "session_id", c.sess.SessionID, "error", err)
			return
		}
		m.handleUtterance(c, p.Text)

	case TypeAudioChunk:
		if !m.allow(ctx, c, "audio_chunks", c.sess.SessionID) {
			return
		}
		var p AudioChunkPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			slog.Warn("Malformed audio chunk", "session_id", c.sess.SessionID, "error", err)
			return
		}
		m.handleAudio(ctx, c, p)

	case TypeExecuteRequest:
		if !m.allow(ctx, c, "execute_requests", c.sess.UserID) {
			m.send(c, TypeExecuteBlocked, blocked(CodePipelineNotReady, "execute rate limit exceeded", ""))
			return
		}
		var p ExecuteRequestPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			m.send(c, TypeExecuteBlocked, blocked(CodeDraftNotFound, "malformed execute request", ""))
			return
		}
		m.handleExecute(ctx, c, p)

	case TypeCancel:
		m.deps.Conversations.Reset(c.sess.SessionID)
		slog.Info("Capture cancelled by client", "session_id", c.sess.SessionID)

	default:
		m.send(c, TypeError, ErrorPayload{
			Code:    CodeUnknownMsgType,
			Message: "unknown message type " + env.Type,
		})
	}
}

// handleUtterance routes one utterance deterministically; only intent
// fragments reach the pipeline.
func (m *ConnectionManager) handleUtterance(c *Connection, text string) {
	sessionID, userID := c.sess.SessionID, c.sess.UserID
	decision := conversation.RouteUtterance(text)

	switch decision.Route {
	case conversation.RouteNoise:
		return

	case conversation.RouteCommand:
		switch decision.Command {
		case conversation.CommandHold:
			if err := m.deps.Conversations.Hold(sessionID); err != nil {
				slog.Warn("Hold rejected", "session_id", sessionID, "error", err)
			}
		case conversation.CommandResume:
			if err := m.deps.Conversations.Resume(sessionID); err != nil {
				slog.Warn("Resume rejected", "session_id", sessionID, "error", err)
			}
		case conversation.CommandCancel, conversation.CommandKill:
			m.deps.Conversations.Reset(sessionID)
		}
		return

	case conversation.RouteInterruption:
		slog.Debug("Interruption", "session_id", sessionID, "text", text)
		return
	}

	st := m.deps.Conversations.AddFragment(sessionID, userID, text, nil, 1.0)
	m.send(c, TypeTranscriptFinal, map[string]string{"text": text})

	// Inference runs off the read loop; stage progress and draft updates
	// stream back through Broadcast.
	transcript := st.CombinedTranscript()
	go m.runPipeline(c, transcript)
}

func (m *ConnectionManager) runPipeline(c *Connection, transcript string) {
	sessionID, userID := c.sess.SessionID, c.sess.UserID
	result := m.deps.Runner.Run(c.ctx, sessionID, userID, transcript)
	if result.Blocked {
		return
	}
	// Successful assembly closes the capture into approval.
	if err := m.deps.Conversations.Transition(sessionID, conversation.PhaseProcessing); err == nil {
		if err := m.deps.Conversations.Transition(sessionID, conversation.PhaseApprovalPending); err != nil {
			slog.Warn("Approval transition rejected", "session_id", sessionID, "error", err)
		}
	}
}

func (m *ConnectionManager) handleAudio(ctx context.Context, c *Connection, p AudioChunkPayload) {
	var text string
	var final bool
	err := m.deps.Breakers.Execute("stt", func() error {
		var sttErr error
		text, final, sttErr = m.deps.STT.Transcribe(ctx, c.sess.SessionID, p)
		return sttErr
	})
	if err != nil {
		// STT degradation never kills the connection.
		slog.Warn("Transcription failed", "session_id", c.sess.SessionID, "error", err)
		return
	}
	if text == "" {
		return
	}
	if !final {
		m.send(c, TypeTranscriptPartial, map[string]string{"text": text})
		return
	}
	m.handleUtterance(c, text)
}

func (m *ConnectionManager) handleExecute(ctx context.Context, c *Connection, p ExecuteRequestPayload) {
	p.SessionID = c.sess.SessionID
	ok, blk := m.deps.Executor.Execute(ctx, c.sess, p)
	if blk != nil {
		metrics.IncExecuteBlocked(blk.Code)
		m.send(c, TypeExecuteBlocked, blk)
		return
	}
	m.send(c, TypeExecuteOK, ok)
	m.send(c, TypePipelineStage, pipeline.Progress{
		ExecutionID: ok.DispatchID,
		SessionID:   c.sess.SessionID,
		StageIndex:  pipeline.StageExecutionReady,
		TotalStages: pipeline.TotalStages,
		StageName:   pipeline.StageName(pipeline.StageExecutionReady),
		Status:      pipeline.StageDone,
		ProgressPct: 100,
		Timestamp:   time.Now().UTC(),
	})
}

// allow applies one rate limit; rejections are answered and audited here.
// Fail-open on limiter errors.
func (m *ConnectionManager) allow(ctx context.Context, c *Connection, limitType, key string) bool {
	if m.deps.Limiter == nil {
		return true
	}
	res, err := m.deps.Limiter.Allow(ctx, limitType, key)
	if err != nil {
		slog.Warn("Rate limit check failed, allowing",
			"limit_type", limitType, "error", err)
		return true
	}
	if res.Allowed {
		return true
	}
	metrics.IncRateLimited(limitType)
	m.deps.Auditor.Record(ctx, audit.EventRateLimited, c.sess.SessionID, c.sess.UserID, map[string]any{
		"limit_type": limitType, "count": res.Count, "max": res.Max,
	})
	m.send(c, TypeError, ErrorPayload{Code: CodeRateLimited, Message: res.Reason})
	return false
}

// Broadcast pushes a message to a connected session. Best-effort: absent or
// closing sessions drop the message; persisted state covers reconnects.
// Implements pipeline.Broadcaster.
func (m *ConnectionManager) Broadcast(sessionID string, msgType string, payload any) {
	m.mu.RLock()
	c, ok := m.connections[sessionID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	m.send(c, msgType, payload)
}

func (m *ConnectionManager) authFail(ctx context.Context, conn *websocket.Conn, deviceID, reason string) {
	env, err := newEnvelope(TypeAuthFail, AuthFailPayload{Reason: reason})
	if err == nil {
		data, _ := json.Marshal(env)
		writeCtx, cancel := context.WithTimeout(ctx, m.writeTimeout)
		_ = conn.Write(writeCtx, websocket.MessageText, data)
		cancel()
	}
	metrics.IncAuthAttempt("fail")
	slog.Info("Gateway authentication failed", "device_id", deviceID, "reason", reason)
	_ = conn.Close(websocket.StatusPolicyViolation, "authentication failed")
}

// send marshals and writes one envelope with the write timeout.
func (m *ConnectionManager) send(c *Connection, msgType string, payload any) {
	env, err := newEnvelope(msgType, payload)
	if err != nil {
		slog.Warn("Failed to build envelope",
			"session_id", c.sess.SessionID, "type", msgType, "error", err)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	if err := c.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		slog.Warn("Failed to push to client",
			"session_id", c.sess.SessionID, "type", msgType, "error", err)
	}
}
