// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identityEcho(t *testing.T, got *Identity) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		require.True(t, ok, "identity missing from request context")
		*got = id
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareDefaultsToDemoTenant(t *testing.T) {
	var got Identity
	h := NewAuthenticator(nil).Middleware(identityEcho(t, &got))

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "demo", got.TenantID)
	assert.Equal(t, "u1", got.UserID)
}

func TestMiddlewareReadsTenantHeader(t *testing.T) {
	var got Identity
	h := NewAuthenticator(nil).Middleware(identityEcho(t, &got))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(TenantHeader, "507f1f77bcf86cd799439011")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "507f1f77bcf86cd799439011", got.TenantID)
}

func TestNewAuthenticatorWarnsWhenVerificationDisabled(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	NewAuthenticator(nil)
	assert.Contains(t, buf.String(), "Token verification is disabled")

	buf.Reset()
	NewAuthenticator([]byte("key"))
	assert.Empty(t, buf.String(), "a configured key must not trigger the open-mode warning")
}

func signToken(t *testing.T, key []byte, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestMiddlewareVerifiesToken(t *testing.T) {
	key := []byte("test-signing-key")
	var got Identity
	h := NewAuthenticator(key).Middleware(identityEcho(t, &got))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, "user-42"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-42", got.UserID)
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	h := NewAuthenticator([]byte("key")).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run for unauthenticated requests")
	}))

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareRejectsWrongKey(t *testing.T) {
	h := NewAuthenticator([]byte("right-key")).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run for forged tokens")
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, []byte("wrong-key"), "user-42"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareRejectsExpiredToken(t *testing.T) {
	key := []byte("key")
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID: "user-42",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	signed, err := token.SignedString(key)
	require.NoError(t, err)

	h := NewAuthenticator(key).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run for expired tokens")
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
