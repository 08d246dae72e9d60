// Package signing provides deterministic canonical encoding and signing
// of audit payloads. The default implementation mirrors the Python
// original's cbor2 + HMAC-SHA256 scheme: canonicalize with CBOR's
// map-key-sorted encoding, HMAC the bytes, and base64url-encode the
// digest.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// DefaultAlgorithm identifies the default signing scheme.
const DefaultAlgorithm = "HS256"

const devFallbackSecret = "switchboard-dev-key"

// SigningError wraps a failure to canonically encode or sign a payload.
// Per the error taxonomy, this is always an integrity error: it must
// propagate to the caller, never be swallowed into a fallback.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string { return fmt.Sprintf("signing: %v", e.Err) }
func (e *SigningError) Unwrap() error { return e.Err }

// Signer produces and checks signatures over arbitrary payloads.
type Signer interface {
	Sign(payload any) (algorithm, signature string, err error)
	Verify(payload any, algorithm, signature string) (bool, error)
}

// HMACSigner is the default Signer: HMAC-SHA256 over a canonical CBOR
// encoding of the payload.
type HMACSigner struct {
	secret []byte
}

// NewHMACSigner builds a signer from an explicit secret. An empty secret
// falls back to AUDIT_SIGNING_KEY, and failing that to a fixed
// development key — exactly the Python original's fallback chain.
// `cmd/switchboardd` always passes internal/config's own default secret,
// so this fallback applies only to callers passing an empty secret.
func NewHMACSigner(secret string) *HMACSigner {
	if secret == "" {
		secret = os.Getenv("AUDIT_SIGNING_KEY")
	}
	if secret == "" {
		secret = devFallbackSecret
	}
	return &HMACSigner{secret: []byte(secret)}
}

var canonicalEncMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("signing: invalid canonical cbor options: %v", err))
	}
	return mode
}()

func canonicalize(payload any) ([]byte, error) {
	data, err := canonicalEncMode.Marshal(payload)
	if err != nil {
		return nil, &SigningError{Err: err}
	}
	return data, nil
}

// Sign canonically encodes payload and returns the algorithm used plus a
// URL-safe base64 signature.
func (s *HMACSigner) Sign(payload any) (string, string, error) {
	data, err := canonicalize(payload)
	if err != nil {
		return "", "", err
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(data)
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return DefaultAlgorithm, sig, nil
}

// Verify recomputes the signature over payload and compares it in
// constant time against the supplied one.
func (s *HMACSigner) Verify(payload any, algorithm, signature string) (bool, error) {
	if algorithm != DefaultAlgorithm {
		return false, nil
	}
	_, expected, err := s.Sign(payload)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(expected), []byte(signature)), nil
}
