// Package auth authenticates service-to-service callers via HMAC-SHA256
// hashed API keys. Raw keys are never stored; the database holds only the
// peppered hash.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/go-faster/errors"
)

// ErrUnauthorized is returned for any failed authentication. The cause is
// deliberately not distinguished to the caller.
var ErrUnauthorized = errors.New("unauthorized")

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key grants the named scope.
func (k *APIKeyInfo) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// HashKey computes the hex-encoded HMAC-SHA256 of a raw API key under the
// given pepper. Seeding tools and the verifier must agree on this form.
func HashKey(pepper []byte, rawKey string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(rawKey))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verifier authenticates raw API keys against the repository.
type Verifier struct {
	apikeys Repository
	pepper  []byte
}

// NewVerifier creates a Verifier with the given API key repository and HMAC
// pepper.
func NewVerifier(apikeys Repository, pepper []byte) *Verifier {
	return &Verifier{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// Verify authenticates a raw API key by computing its HMAC-SHA256 hash,
// looking it up, and performing a constant-time comparison to prevent timing
// side-channels. Any failure yields ErrUnauthorized.
func (v *Verifier) Verify(ctx context.Context, rawKey string) (*APIKeyInfo, error) {
	mac := hmac.New(sha256.New, v.pepper)
	mac.Write([]byte(rawKey))
	hash := mac.Sum(nil)

	info, err := v.apikeys.FindByHash(ctx, hex.EncodeToString(hash))
	if err != nil {
		return nil, ErrUnauthorized
	}

	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if subtle.ConstantTimeCompare(hash, stored) != 1 {
		return nil, ErrUnauthorized
	}

	return info, nil
}
