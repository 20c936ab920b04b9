// Package config loads and validates the command plane configuration from
// the environment. Missing required configuration is a hard startup error
// (fail-closed); nothing in this package guesses credentials.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Environment names. Production gets stricter validation.
const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

// SSO validation modes.
const (
	SSOModeHS256 = "HS256"
	SSOModeJWKS  = "JWKS"
)

// Config holds all runtime configuration for the command plane.
type Config struct {
	Env      string
	HTTPPort string

	DatabaseURL string
	RedisAddr   string

	// Legacy token validation.
	JWTSecret        string
	JWTAlgorithm     string
	JWTExpirySeconds int

	// SSO token validation.
	SSOHSSecret       string
	SSOValidationMode string
	JWKSURL           string

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	DispatchAdapterURL string
	DispatchToken      string
	// DispatchTargetEnv is the environment the adapter is declared to
	// execute in. The env guard rejects any mismatch with Env.
	DispatchTargetEnv string

	LLMAPIKey  string
	LLMBaseURL string
	LLMModel   string

	// MemoryServiceURL points at the externally-owned memory service;
	// empty disables recall.
	MemoryServiceURL string

	LogRedactionEnabled bool

	// Mock flags for external providers.
	MockSTT bool
	MockTTS bool
	MockLLM bool

	// Optional ops notifications.
	SlackToken   string
	SlackChannel string

	// SkillsFile points at the YAML skill library; empty uses builtins only.
	SkillsFile string
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Env:                 getEnv("ENV", EnvDev),
		HTTPPort:            getEnv("HTTP_PORT", "8080"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		JWTAlgorithm:        getEnv("JWT_ALGORITHM", "HS256"),
		JWTExpirySeconds:    getEnvInt("JWT_EXPIRY_SECONDS", 3600),
		SSOHSSecret:         os.Getenv("SSO_HS_SECRET"),
		SSOValidationMode:   getEnv("SSO_VALIDATION_MODE", SSOModeHS256),
		JWKSURL:             os.Getenv("JWKS_URL"),
		HeartbeatInterval:   time.Duration(getEnvInt("HEARTBEAT_INTERVAL_S", 5)) * time.Second,
		HeartbeatTimeout:    time.Duration(getEnvInt("HEARTBEAT_TIMEOUT_S", 15)) * time.Second,
		DispatchAdapterURL:  os.Getenv("DISPATCH_ADAPTER_IP"),
		DispatchToken:       os.Getenv("DISPATCH_TOKEN"),
		DispatchTargetEnv:   os.Getenv("DISPATCH_TARGET_ENV"),
		LLMAPIKey:           os.Getenv("LLM_API_KEY"),
		LLMBaseURL:          getEnv("LLM_BASE_URL", "https://api.llm-provider.invalid/v1"),
		LLMModel:            getEnv("LLM_MODEL", "gpt-4o-mini"),
		MemoryServiceURL:    os.Getenv("MEMORY_SERVICE_URL"),
		LogRedactionEnabled: getEnvBool("LOG_REDACTION_ENABLED", true),
		MockSTT:             getEnvBool("MOCK_STT", false),
		MockTTS:             getEnvBool("MOCK_TTS", false),
		MockLLM:             getEnvBool("MOCK_LLM", false),
		SlackToken:          os.Getenv("SLACK_TOKEN"),
		SlackChannel:        os.Getenv("SLACK_CHANNEL"),
		SkillsFile:          os.Getenv("SKILLS_FILE"),
	}

	// Production always validates SSO tokens against the issuer's JWKS;
	// a shared HS secret is a dev/staging convenience only.
	if cfg.Env == EnvProd {
		cfg.SSOValidationMode = SSOModeJWKS
	}

	// The adapter target defaults to the server's own environment; crossing
	// environments requires an explicit declaration, which the dispatch env
	// guard then rejects.
	if cfg.DispatchTargetEnv == "" {
		cfg.DispatchTargetEnv = cfg.Env
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Env {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("ENV must be one of dev, staging, prod; got %q", c.Env)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required (fail-closed)")
	}
	switch c.SSOValidationMode {
	case SSOModeHS256:
		if c.SSOHSSecret == "" {
			return fmt.Errorf("SSO_HS_SECRET is required when SSO_VALIDATION_MODE=HS256")
		}
	case SSOModeJWKS:
		if c.JWKSURL == "" {
			return fmt.Errorf("JWKS_URL is required when SSO_VALIDATION_MODE=JWKS")
		}
	default:
		return fmt.Errorf("SSO_VALIDATION_MODE must be HS256 or JWKS; got %q", c.SSOValidationMode)
	}
	if c.Env != EnvDev {
		if c.DispatchToken == "" {
			return fmt.Errorf("DISPATCH_TOKEN is required outside dev")
		}
		if c.DispatchAdapterURL == "" {
			return fmt.Errorf("DISPATCH_ADAPTER_IP is required outside dev")
		}
	}
	if !c.MockLLM && c.LLMAPIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required unless MOCK_LLM=true")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}
