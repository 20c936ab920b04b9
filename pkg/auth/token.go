// Package auth validates the two token formats accepted at the gateway edge:
// SSO tokens minted by the obegee issuer and legacy device tokens signed with
// the server secret. SSO is tried first; legacy is the fallback.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/myndlens/vox/pkg/config"
)

// Expected SSO claims.
const (
	SSOIssuer   = "obegee"
	SSOAudience = "myndlens"
)

// Subscription statuses carried by SSO tokens.
const (
	SubscriptionActive    = "ACTIVE"
	SubscriptionSuspended = "SUSPENDED"
	SubscriptionCancelled = "CANCELLED"
)

// Token sources.
const (
	SourceSSO    = "sso"
	SourceLegacy = "legacy"
)

var (
	ErrTokenInvalid    = errors.New("token invalid")
	ErrDeviceMismatch  = errors.New("token device does not match connection")
	ErrEnvMismatch     = errors.New("token env does not match server env")
	ErrMissingClaims   = errors.New("token missing required claims")
	ErrBadSubscription = errors.New("unknown subscription status")
)

// Identity is the validated result of token validation.
type Identity struct {
	UserID             string
	TenantID           string
	DeviceID           string
	SubscriptionStatus string
	Env                string
	Source             string
}

// ssoClaims is the claim set on tokens from the obegee issuer.
type ssoClaims struct {
	jwt.RegisteredClaims
	UserID             string `json:"obegee_user_id"`
	TenantID           string `json:"myndlens_tenant_id"`
	SubscriptionStatus string `json:"subscription_status"`
	Env                string `json:"env,omitempty"`
}

// legacyClaims is the claim set on device tokens signed with the server secret.
type legacyClaims struct {
	jwt.RegisteredClaims
	UserID    string `json:"user_id"`
	DeviceID  string `json:"device_id"`
	SessionID string `json:"session_id,omitempty"`
	Env       string `json:"env"`
}

// Validator validates gateway tokens.
type Validator struct {
	cfg  *config.Config
	jwks *JWKSClient
}

// NewValidator creates a token validator. The JWKS client is only consulted
// when SSO_VALIDATION_MODE=JWKS.
func NewValidator(cfg *config.Config, jwks *JWKSClient) *Validator {
	return &Validator{cfg: cfg, jwks: jwks}
}

// Validate tries SSO first, then the legacy format. deviceID is the device
// the connection declared in its AUTH payload; it must match the legacy
// token's binding.
func (v *Validator) Validate(token, deviceID string) (*Identity, error) {
	id, ssoErr := v.validateSSO(token)
	if ssoErr == nil {
		id.DeviceID = deviceID
		return id, nil
	}

	id, legacyErr := v.validateLegacy(token, deviceID)
	if legacyErr == nil {
		return id, nil
	}

	return nil, fmt.Errorf("%w: sso: %v; legacy: %v", ErrTokenInvalid, ssoErr, legacyErr)
}

func (v *Validator) validateSSO(token string) (*Identity, error) {
	claims := &ssoClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.ssoKeyFunc(),
		jwt.WithIssuer(SSOIssuer),
		jwt.WithAudience(SSOAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.UserID == "" || claims.TenantID == "" {
		return nil, ErrMissingClaims
	}
	switch claims.SubscriptionStatus {
	case SubscriptionActive, SubscriptionSuspended, SubscriptionCancelled:
	default:
		return nil, ErrBadSubscription
	}

	// SSO tokens may omit env; the issuer is environment-pinned, so the
	// server env applies. A present claim must still agree.
	env := claims.Env
	if env == "" {
		env = v.cfg.Env
	}
	if env != v.cfg.Env {
		return nil, ErrEnvMismatch
	}

	return &Identity{
		UserID:             claims.UserID,
		TenantID:           claims.TenantID,
		SubscriptionStatus: claims.SubscriptionStatus,
		Env:                env,
		Source:             SourceSSO,
	}, nil
}

func (v *Validator) ssoKeyFunc() jwt.Keyfunc {
	if v.cfg.SSOValidationMode == config.SSOModeJWKS && v.jwks != nil {
		return v.jwks.KeyFunc()
	}
	secret := []byte(v.cfg.SSOHSSecret)
	return func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return secret, nil
	}
}

func (v *Validator) validateLegacy(token, deviceID string) (*Identity, error) {
	claims := &legacyClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return []byte(v.cfg.JWTSecret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.UserID == "" || claims.DeviceID == "" {
		return nil, ErrMissingClaims
	}
	if claims.DeviceID != deviceID {
		return nil, ErrDeviceMismatch
	}
	if claims.Env != v.cfg.Env {
		return nil, ErrEnvMismatch
	}

	return &Identity{
		UserID:             claims.UserID,
		DeviceID:           claims.DeviceID,
		SubscriptionStatus: SubscriptionActive,
		Env:                claims.Env,
		Source:             SourceLegacy,
	}, nil
}
