// Vox command plane server — owns the session gateway, the mandate
// inference cascade, and the signed dispatch edge.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/myndlens/vox/pkg/audit"
	"github.com/myndlens/vox/pkg/auth"
	"github.com/myndlens/vox/pkg/breaker"
	"github.com/myndlens/vox/pkg/commit"
	"github.com/myndlens/vox/pkg/config"
	"github.com/myndlens/vox/pkg/conversation"
	"github.com/myndlens/vox/pkg/database"
	"github.com/myndlens/vox/pkg/dispatch"
	"github.com/myndlens/vox/pkg/gateway"
	"github.com/myndlens/vox/pkg/llm"
	"github.com/myndlens/vox/pkg/mandate"
	"github.com/myndlens/vox/pkg/metrics"
	"github.com/myndlens/vox/pkg/mio"
	"github.com/myndlens/vox/pkg/notify"
	"github.com/myndlens/vox/pkg/pipeline"
	"github.com/myndlens/vox/pkg/prompt"
	"github.com/myndlens/vox/pkg/ratelimit"
	"github.com/myndlens/vox/pkg/recall"
	"github.com/myndlens/vox/pkg/redaction"
	"github.com/myndlens/vox/pkg/scheduler"
	"github.com/myndlens/vox/pkg/session"
)

// Background loop cadences. The sweep grace keeps a lapsed session visible
// long enough for the nudge and reconnect paths to see it before it is
// deactivated.
const (
	sessionSweepGrace    = time.Minute
	sessionSweepInterval = 30 * time.Second
	captureCloseInterval = 2 * time.Second
	nudgeAge             = 10 * time.Minute
	nudgeInterval        = time.Minute
)

// stores is the persistence seam: postgres when DATABASE_URL is set,
// in-memory otherwise (dev and tests).
type stores struct {
	sessions  session.Store
	commits   commit.Store
	mandates  mandate.Store
	audits    audit.Store
	records   dispatch.RecordStore
	tenants   dispatch.TenantRegistry
	snapshots prompt.SnapshotStore
	progress  pipeline.ProgressStore
}

// broadcasterFunc adapts a closure to pipeline.Broadcaster so the
// orchestrator can be constructed before the connection manager behind it.
type broadcasterFunc func(sessionID, msgType string, payload any)

func (f broadcasterFunc) Broadcast(sessionID, msgType string, payload any) {
	f(sessionID, msgType, payload)
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Install the redacting log handler before anything else logs payloads.
	redactor := redaction.NewRedactor(cfg.LogRedactionEnabled)
	slog.SetDefault(slog.New(redaction.NewHandler(
		slog.NewJSONHandler(os.Stderr, nil), redactor)))

	slog.Info("Starting vox command plane",
		"env", cfg.Env, "http_port", cfg.HTTPPort,
		"redaction", cfg.LogRedactionEnabled, "mock_llm", cfg.MockLLM)

	ctx := context.Background()

	// 1. Persistence.
	var dbClient *database.Client
	var st stores
	if cfg.DatabaseURL != "" {
		dbClient, err = database.NewClient(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbClient.Close()
		st = stores{
			sessions:  database.NewSessionStore(dbClient),
			commits:   database.NewCommitStore(dbClient),
			mandates:  database.NewMandateStore(dbClient),
			audits:    database.NewAuditStore(dbClient),
			records:   database.NewDispatchRecordStore(dbClient),
			tenants:   database.NewTenantRegistry(dbClient),
			snapshots: database.NewSnapshotStore(dbClient),
			progress:  database.NewProgressStore(dbClient),
		}
		slog.Info("Connected to PostgreSQL, migrations applied")
	} else {
		if cfg.Env != config.EnvDev {
			slog.Error("DATABASE_URL is required outside dev")
			os.Exit(1)
		}
		st = stores{
			sessions: session.NewMemoryStore(),
			commits:  commit.NewMemoryStore(),
			mandates: mandate.NewMemoryStore(),
			audits:   audit.NewMemoryStore(),
			records:  dispatch.NewMemoryRecordStore(),
			tenants: dispatch.NewMemoryTenantRegistry(dispatch.Tenant{
				TenantID: "dev",
				Endpoint: cfg.DispatchAdapterURL,
				Token:    cfg.DispatchToken,
				Status:   dispatch.TenantActive,
			}),
			snapshots: prompt.NewMemorySnapshotStore(),
			progress:  pipeline.NewMemoryProgressStore(),
		}
		slog.Warn("DATABASE_URL not set, using in-memory stores")
	}

	// 2. Redis: rate-limit windows and the MIO replay cache, both TTL-based.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	limiter := ratelimit.NewLimiter(rdb)
	replays := mio.NewRedisReplayStore(rdb)

	// 3. Core security plumbing.
	auditor := audit.NewLogger(st.audits, redactor)
	sessions := session.NewService(st.sessions, cfg.HeartbeatTimeout)

	signer, err := mio.ProcessSigner()
	if err != nil {
		slog.Error("Failed to create signing keypair", "error", err)
		os.Exit(1)
	}
	verifier := mio.NewVerifier(signer.PublicKey(), replays, sessions, auditor)

	var jwks *auth.JWKSClient
	if cfg.SSOValidationMode == config.SSOModeJWKS {
		jwks = auth.NewJWKSClient(cfg.JWKSURL)
	}
	validator := auth.NewValidator(cfg, jwks)

	// 4. LLM gateway and the inference cascade.
	var llmClient llm.Client
	if cfg.MockLLM {
		llmClient = llm.NewMockClient()
		slog.Warn("Using mock LLM client")
	} else {
		llmClient = llm.NewHTTPClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
	}
	llmGateway := llm.NewGateway(llmClient, prompt.NewRegistry(), st.snapshots, auditor)

	builder := prompt.NewBuilder()
	breakers := breaker.NewRegistry()

	var recaller recall.Recaller = &recall.StaticRecaller{}
	if cfg.MemoryServiceURL != "" {
		recaller = recall.NewHTTPRecaller(cfg.MemoryServiceURL)
	}

	library := pipeline.BuiltinSkillLibrary()
	if cfg.SkillsFile != "" {
		library, err = pipeline.LoadSkillLibrary(cfg.SkillsFile)
		if err != nil {
			slog.Error("Failed to load skill library", "path", cfg.SkillsFile, "error", err)
			os.Exit(1)
		}
	}
	slog.Info("Skill library loaded", "skills", len(library.Skills()))

	// The connection manager is the broadcaster, but it also needs the
	// orchestrator as its pipeline runner; bind the push path late.
	var connManager *gateway.ConnectionManager
	broadcaster := broadcasterFunc(func(sessionID, msgType string, payload any) {
		if connManager != nil {
			connManager.Broadcast(sessionID, msgType, payload)
		}
	})

	conversations := conversation.NewManager()
	orchestrator := pipeline.NewOrchestrator(
		pipeline.NewAnalyzer(llmGateway, builder, breakers),
		pipeline.NewHypothesizer(llmGateway, builder, breakers, recaller, nil),
		pipeline.NewVerifier(llmGateway, builder, breakers, auditor),
		pipeline.NewQCSentry(llmGateway, builder, breakers),
		pipeline.NewExtractor(llmGateway, builder, breakers),
		pipeline.NewQuestioner(llmGateway, builder, breakers),
		library,
		conversations,
		st.mandates,
		broadcaster,
		st.progress,
		auditor,
	)

	// 5. Dispatch edge and the EXECUTE surface.
	dispatcher := dispatch.NewDispatcher(cfg.Env, cfg.DispatchTargetEnv, cfg.DispatchToken,
		verifier, st.tenants, st.records, breakers, auditor)
	notifier := notify.NewService(notify.ServiceConfig{
		Token:   cfg.SlackToken,
		Channel: cfg.SlackChannel,
	})
	executor := gateway.NewExecuteService(sessions, st.mandates, st.commits,
		signer, dispatcher, auditor, notifier)

	// 6. Gateway.
	connManager = gateway.NewConnectionManager(gateway.Deps{
		Validator:         validator,
		Sessions:          sessions,
		Conversations:     conversations,
		Mandates:          st.mandates,
		Limiter:           limiter,
		Runner:            orchestrator,
		Executor:          executor,
		STT:               gateway.MockTranscriber{},
		Breakers:          breakers,
		Auditor:           auditor,
		Progress:          st.progress,
		HeartbeatInterval: cfg.HeartbeatInterval,
	})

	health := func(ctx context.Context) error {
		if dbClient != nil {
			if err := dbClient.Ping(ctx); err != nil {
				return err
			}
		}
		return rdb.Ping(ctx).Err()
	}
	httpServer := gateway.NewServer(connManager, health, metrics.Handler())

	// 7. Background loops.
	supervisor := scheduler.NewSupervisor(
		scheduler.NewSessionSweepTask(sessions, sessionSweepGrace, sessionSweepInterval),
		scheduler.NewCaptureCloseTask(conversations, orchestrator, captureCloseInterval),
		scheduler.NewNudgeTask(st.mandates, broadcaster, nudgeAge, nudgeInterval),
	)
	supervisor.Start(ctx)

	// 8. Serve.
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.HTTPPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown: stop accepting work, drain loops, close clients.
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	supervisor.Stop()

	slog.Info("Shutdown complete")
}
