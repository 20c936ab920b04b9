// Package dispatch hands verified MIOs to the external execution adapter
// with at-most-once semantics per (sessionID, mioID). Every preflight
// failure surfaces as a typed error; nothing retries silently.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/myndlens/vox/pkg/audit"
	"github.com/myndlens/vox/pkg/breaker"
	"github.com/myndlens/vox/pkg/metrics"
	"github.com/myndlens/vox/pkg/mio"
)

const (
	adapterTimeout = 30 * time.Second
	pollInterval   = 2 * time.Second
	pollMaxRounds  = 150
)

var (
	// ErrEnvGuard is returned when the server env does not match the
	// dispatch target env. Production targets from non-production servers
	// are rejected unconditionally.
	ErrEnvGuard = errors.New("dispatch environment guard rejection")
	// ErrVerificationFailed is returned when the dispatch-edge re-run of
	// VerifyForExecution fails.
	ErrVerificationFailed = errors.New("mio verification failed at dispatch edge")
	// ErrAdapterRejected is returned on an HTTP >= 400 adapter response.
	ErrAdapterRejected = errors.New("adapter rejected dispatch")
)

// bridgePayload is the zero-semantic-change translation of an MIO for the
// adapter.
type bridgePayload struct {
	MIO       bridgeMIO `json:"mio"`
	Signature string    `json:"signature"`
	TenantID  string    `json:"tenantID"`
	SessionID string    `json:"sessionID"`
}

type bridgeMIO struct {
	MIOID       string         `json:"mioID"`
	ActionClass string         `json:"actionClass"`
	Params      map[string]any `json:"params"`
	SessionID   string         `json:"sessionID"`
	ExpiresAt   time.Time      `json:"expiresAt"`
}

// Dispatcher runs the dispatch sequence for verified MIOs.
type Dispatcher struct {
	serverEnv string
	targetEnv string
	token     string
	verifier  *mio.Verifier
	tenants   TenantRegistry
	records   RecordStore
	breakers  *breaker.Registry
	auditor   *audit.Logger
	http      *http.Client
}

// NewDispatcher wires the dispatch edge. targetEnv is the environment the
// adapter is declared to execute in.
func NewDispatcher(serverEnv, targetEnv, token string, verifier *mio.Verifier, tenants TenantRegistry, records RecordStore, breakers *breaker.Registry, auditor *audit.Logger) *Dispatcher {
	return &Dispatcher{
		serverEnv: serverEnv,
		targetEnv: targetEnv,
		token:     token,
		verifier:  verifier,
		tenants:   tenants,
		records:   records,
		breakers:  breakers,
		auditor:   auditor,
		http:      &http.Client{Timeout: adapterTimeout},
	}
}

// Dispatch runs the full sequence: env guard, re-verification, idempotency
// lookup, tenant resolution, adapter POST, record + audit. A prior record
// for the same key is returned verbatim without side effects.
func (d *Dispatcher) Dispatch(ctx context.Context, m *mio.MIO, sessionID, deviceID, tenantID string) (*Record, error) {
	// 1. Environment guard, unconditional.
	if d.serverEnv != d.targetEnv {
		return nil, fmt.Errorf("%w: server env %q, target env %q", ErrEnvGuard, d.serverEnv, d.targetEnv)
	}

	// 2. Re-verify at the dispatch edge.
	verdict := d.verifier.VerifyForExecution(ctx, m, sessionID, deviceID)
	if !verdict.Valid {
		return nil, fmt.Errorf("%w: %s", ErrVerificationFailed, verdict.Reason)
	}

	// 3. Idempotency: a prior record is returned verbatim.
	key := sessionID + ":" + m.Header.MIOID
	if prior, err := d.records.GetByKey(ctx, key); err == nil {
		slog.Info("Dispatch idempotency hit, returning prior record",
			"idempotency_key", key, "dispatch_id", prior.DispatchID, "status", prior.Status)
		return prior, nil
	} else if !errors.Is(err, ErrRecordNotFound) {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}

	// 4. Tenant binding.
	tenant, err := d.tenants.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	// 5. Bridge payload, zero semantic change.
	expiresAt := m.Header.Timestamp.Add(time.Duration(m.Header.TTLSeconds) * time.Second)
	payload := bridgePayload{
		MIO: bridgeMIO{
			MIOID:       m.Header.MIOID,
			ActionClass: m.Envelope.ActionClass,
			Params:      m.Envelope.Params,
			SessionID:   sessionID,
			ExpiresAt:   expiresAt,
		},
		Signature: m.SecurityProof.Signature,
		TenantID:  tenantID,
		SessionID: sessionID,
	}

	// 6. Adapter POST under the dispatch breaker.
	start := time.Now()
	status := StatusSubmitted
	var postErr error
	err = d.breakers.Execute("dispatch", func() error {
		postErr = d.post(ctx, tenant, key, payload)
		return postErr
	})
	if err != nil {
		status = StatusRejected
	}

	// 7. Record and audit regardless of outcome.
	record := &Record{
		DispatchID:     uuid.New().String(),
		IdempotencyKey: key,
		MIOID:          m.Header.MIOID,
		SessionID:      sessionID,
		TenantID:       tenantID,
		Action:         m.Envelope.Action,
		Status:         status,
		LatencyMs:      time.Since(start).Milliseconds(),
		Timestamp:      time.Now().UTC(),
	}
	metrics.IncDispatch(string(status))
	metrics.ObserveDispatchLatency(time.Since(start))
	if putErr := d.records.Put(ctx, record); putErr != nil {
		slog.Error("Failed to persist dispatch record",
			"dispatch_id", record.DispatchID, "error", putErr)
	}
	d.auditor.Record(ctx, audit.EventExecuteCompleted, sessionID, "", map[string]any{
		"dispatch_id": record.DispatchID,
		"mio_id":      m.Header.MIOID,
		"tenant_id":   tenantID,
		"action":      m.Envelope.Action,
		"status":      string(status),
		"latency_ms":  record.LatencyMs,
	})

	if err != nil {
		return record, fmt.Errorf("%w: %v", ErrAdapterRejected, err)
	}
	return record, nil
}

func (d *Dispatcher) post(ctx context.Context, tenant *Tenant, idempotencyKey string, payload bridgePayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal bridge payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		tenant.Endpoint+"/v1/dispatch", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-DISPATCH-TOKEN", d.token)
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("adapter call: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	// No retry here: >= 400 is a terminal rejection for this attempt.
	if resp.StatusCode >= 400 {
		return fmt.Errorf("adapter returned %d", resp.StatusCode)
	}
	return nil
}

// PollStatus polls the adapter's execution status every 2 s for up to 150
// rounds (about five minutes), then marks the dispatch timed out.
func (d *Dispatcher) PollStatus(ctx context.Context, tenant *Tenant, record *Record) (Status, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for i := 0; i < pollMaxRounds; i++ {
		select {
		case <-ctx.Done():
			return record.Status, ctx.Err()
		case <-ticker.C:
		}

		status, err := d.fetchStatus(ctx, tenant, record.MIOID)
		if err != nil {
			slog.Warn("Dispatch status poll failed",
				"dispatch_id", record.DispatchID, "round", i, "error", err)
			continue
		}
		if status == StatusCompleted || status == StatusFailed {
			if err := d.records.UpdateStatus(ctx, record.DispatchID, status); err != nil {
				slog.Error("Failed to update dispatch status",
					"dispatch_id", record.DispatchID, "error", err)
			}
			return status, nil
		}
	}

	if err := d.records.UpdateStatus(ctx, record.DispatchID, StatusTimedOut); err != nil {
		slog.Error("Failed to mark dispatch timed out",
			"dispatch_id", record.DispatchID, "error", err)
	}
	return StatusTimedOut, nil
}

func (d *Dispatcher) fetchStatus(ctx context.Context, tenant *Tenant, mioID string) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		tenant.Endpoint+"/v1/dispatch/"+mioID+"/status", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-DISPATCH-TOKEN", d.token)

	resp, err := d.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}

	var out struct {
		Status Status `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Status, nil
}
