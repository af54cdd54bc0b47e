// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"tenantgate/platform/shared/logger"
)

// TenantHeader names the header selecting the tenant for a request. Absent,
// the reserved demo tenant is used.
const TenantHeader = "tenantId"

type contextKey string

const identityKey contextKey = "identity"

// Identity is the authenticated caller attached to each request.
type Identity struct {
	UserID   string
	TenantID string
}

// IdentityFrom extracts the caller identity set by the auth middleware.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// Authenticator verifies bearer tokens and resolves the request identity.
// With no signing key configured the middleware runs open, assigning a
// fixed development identity.
type Authenticator struct {
	signingKey []byte
}

// NewAuthenticator creates an Authenticator. An empty key disables token
// verification (development mode); the open configuration is logged loudly
// so it is never missed in a deployed environment.
func NewAuthenticator(signingKey []byte) *Authenticator {
	if len(signingKey) == 0 {
		logger.New("auth").Warn("", "", "Token verification is disabled: no signing key configured, requests run as a fixed development identity", nil)
	}
	return &Authenticator{signingKey: signingKey}
}

type claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// Middleware authenticates the request and attaches the Identity to its
// context. The tenant comes from the tenantId header, defaulting to demo.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get(TenantHeader)
		if tenantID == "" {
			tenantID = "demo"
		}

		userID := "u1"
		if len(a.signingKey) > 0 {
			var err error
			userID, err = a.verify(r)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
				return
			}
		}

		identity := Identity{UserID: userID, TenantID: tenantID}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
	})
}

func (a *Authenticator) verify(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return "", fmt.Errorf("missing bearer token")
	}

	var c claims
	token, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.signingKey, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid || c.UserID == "" {
		return "", fmt.Errorf("invalid token")
	}

	return c.UserID, nil
}
