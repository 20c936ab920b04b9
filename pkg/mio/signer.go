package mio

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gowebpki/jcs"
)

// Signer holds the process-lifetime Ed25519 keypair. The keypair is
// generated on first use and immutable afterwards.
type Signer struct {
	signerID string
	priv     ed25519.PrivateKey
	pub      ed25519.PublicKey
}

var (
	signerOnce sync.Once
	signer     *Signer
	signerErr  error
)

// ProcessSigner returns the process-wide signer, creating the keypair on
// first call.
func ProcessSigner() (*Signer, error) {
	signerOnce.Do(func() {
		signer, signerErr = NewSigner("vox-core")
	})
	return signer, signerErr
}

// NewSigner generates a fresh keypair. Used directly in tests; production
// code goes through ProcessSigner.
func NewSigner(signerID string) (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing keypair: %w", err)
	}
	slog.Info("Signing keypair generated",
		"signer_id", signerID, "public_key", base64.StdEncoding.EncodeToString(pub))
	return &Signer{signerID: signerID, priv: priv, pub: pub}, nil
}

// SignerID returns the identity recorded in signed headers.
func (s *Signer) SignerID() string { return s.signerID }

// PublicKey returns the verification key.
func (s *Signer) PublicKey() ed25519.PublicKey { return s.pub }

// CanonicalBytes serializes the MIO to its RFC 8785 canonical JSON form
// with the signature field cleared. This is the exact byte string that is
// signed and verified.
func CanonicalBytes(m *MIO) ([]byte, error) {
	unsigned := *m
	unsigned.SecurityProof.Signature = ""
	raw, err := json.Marshal(unsigned)
	if err != nil {
		return nil, fmt.Errorf("marshal mio: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize mio: %w", err)
	}
	return canonical, nil
}

// Sign computes the base64 Ed25519 signature over the canonical form and
// returns it. The caller stores it in SecurityProof.Signature; the rest of
// the document is append-only from here on.
func (s *Signer) Sign(m *MIO) (string, error) {
	payload, err := CanonicalBytes(m)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(s.priv, payload)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify re-serializes the MIO and checks the signature against pub.
func Verify(pub ed25519.PublicKey, m *MIO, signature string) bool {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	payload, err := CanonicalBytes(m)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, payload, sig)
}
