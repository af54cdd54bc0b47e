// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"tenantgate/platform/conncache"
	"tenantgate/platform/dataops"
	"tenantgate/platform/orchestrator"
	"tenantgate/platform/sandbox"
	"tenantgate/platform/tenant"
	"tenantgate/platform/vault"
)

// errorResponse is the uniform error body every endpoint returns.
type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps the gateway's error taxonomy to HTTP status codes. Every
// recoverable failure surfaces here; only startup config errors abort the
// process.
func statusFor(err error) int {
	switch {
	case errors.Is(err, tenant.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dataops.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, sandbox.ErrDisallowedOperation):
		return http.StatusBadRequest
	case errors.Is(err, sandbox.ErrEvaluation):
		return http.StatusBadRequest
	case errors.Is(err, conncache.ErrConnectionFailure):
		return http.StatusBadGateway
	case errors.Is(err, orchestrator.ErrAbnormalTermination):
		return http.StatusBadGateway
	case errors.Is(err, vault.ErrCorruptCredential):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		// Internal details stay in the logs.
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
