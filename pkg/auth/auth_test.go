package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newChecker(t *testing.T) (*KeyChecker, string) {
	t.Helper()
	key, hash, err := GenerateAPIKey(bcrypt.MinCost)
	require.NoError(t, err)
	kc, err := NewKeyChecker(hash)
	require.NoError(t, err)
	return kc, key
}

func TestKeyChecker(t *testing.T) {
	kc, key := newChecker(t)
	assert.True(t, kc.Enabled())

	assert.NoError(t, kc.Validate(key))
	assert.NoError(t, kc.Validate(key), "cached key")
	assert.ErrorIs(t, kc.Validate(""), ErrMissingKey)
	assert.ErrorIs(t, kc.Validate(key+"x"), ErrInvalidKey)
}

func TestKeyCheckerDisabled(t *testing.T) {
	kc, err := NewKeyChecker("")
	require.NoError(t, err)
	assert.False(t, kc.Enabled())
	assert.NoError(t, kc.Validate(""))
}

func TestNewKeyCheckerRejectsPlaintext(t *testing.T) {
	_, err := NewKeyChecker("not-a-hash")
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	kc, key := newChecker(t)
	handler := kc.Middleware("/healthz")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"open path", "/healthz", nil, http.StatusNoContent},
		{"no key", "/api/runs", nil, http.StatusUnauthorized},
		{"bearer", "/api/runs", map[string]string{"Authorization": "Bearer " + key}, http.StatusNoContent},
		{"lowercase scheme", "/api/runs", map[string]string{"Authorization": "bearer " + key}, http.StatusNoContent},
		{"x-api-key", "/api/runs", map[string]string{"X-API-Key": key}, http.StatusNoContent},
		{"wrong key", "/api/runs", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestHashKeyRoundTrip(t *testing.T) {
	hash, err := HashKey("s3cret", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))
}
