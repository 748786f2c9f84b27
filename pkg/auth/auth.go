// Package auth checks the optional API key guarding the HTTP surface.
// Only a bcrypt hash of the key is ever configured.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingKey = errors.New("missing API key")
	ErrInvalidKey = errors.New("invalid API key")
)

// KeyChecker validates bearer keys against a bcrypt hash.
// A zero hash disables the check.
type KeyChecker struct {
	hash []byte

	// fingerprint of the last key that passed bcrypt, so repeat callers
	// do not pay the bcrypt cost on every request
	mu       sync.RWMutex
	accepted []byte
}

// NewKeyChecker builds a checker from a bcrypt hash ("" disables)
func NewKeyChecker(hash string) (*KeyChecker, error) {
	if hash == "" {
		return &KeyChecker{}, nil
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("api key hash is not a bcrypt hash: %w", err)
	}
	return &KeyChecker{hash: []byte(hash)}, nil
}

// Enabled reports whether a key is required
func (kc *KeyChecker) Enabled() bool {
	return len(kc.hash) > 0
}

// Validate checks a presented key
func (kc *KeyChecker) Validate(key string) error {
	if !kc.Enabled() {
		return nil
	}
	if key == "" {
		return ErrMissingKey
	}

	sum := sha256.Sum256([]byte(key))
	kc.mu.RLock()
	cached := kc.accepted
	kc.mu.RUnlock()
	if cached != nil && subtle.ConstantTimeCompare(cached, sum[:]) == 1 {
		return nil
	}

	if err := bcrypt.CompareHashAndPassword(kc.hash, []byte(key)); err != nil {
		return ErrInvalidKey
	}

	kc.mu.Lock()
	kc.accepted = sum[:]
	kc.mu.Unlock()
	return nil
}

// Middleware rejects requests without a valid key with 401.
// Paths in open are served without a key.
func (kc *KeyChecker) Middleware(open ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range open {
				if r.URL.Path == p {
					next.ServeHTTP(w, r)
					return
				}
			}

			if err := kc.Validate(KeyFromRequest(r)); err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="hpoprun"`)
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// KeyFromRequest reads "Authorization: Bearer <key>", falling back to X-API-Key
func KeyFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.Header.Get("X-API-Key")
}

// GenerateAPIKey returns a random key and its bcrypt hash
func GenerateAPIKey(cost int) (key, hash string, err error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate API key: %w", err)
	}
	key = base64.RawURLEncoding.EncodeToString(keyBytes)

	h, err := HashKey(key, cost)
	if err != nil {
		return "", "", err
	}
	return key, h, nil
}

// HashKey bcrypt-hashes a key for serve.api_key_hash
func HashKey(key string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(h), nil
}
