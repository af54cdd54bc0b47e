// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

// Package api exposes the gateway over HTTP. Handlers stay thin: decode,
// delegate to the domain services, encode. All policy lives below this
// layer.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"tenantgate/platform/conncache"
	"tenantgate/platform/dataops"
	"tenantgate/platform/orchestrator"
	"tenantgate/platform/shared/logger"
	"tenantgate/platform/tenant"
)

// Server wires the HTTP surface to the domain services.
type Server struct {
	tenants      *tenant.Store
	data         *dataops.Service
	orchestrator *orchestrator.Orchestrator
	cache        *conncache.Cache
	auth         *Authenticator
	log          *logger.Logger

	started time.Time

	// ownsTenant is replaced in tests.
	ownsTenant func(ctx context.Context, tenantID, userID string) error
}

// NewServer creates the HTTP server.
func NewServer(tenants *tenant.Store, data *dataops.Service, orch *orchestrator.Orchestrator, cache *conncache.Cache, auth *Authenticator) *Server {
	s := &Server{
		tenants:      tenants,
		data:         data,
		orchestrator: orch,
		cache:        cache,
		auth:         auth,
		log:          logger.New("api"),
		started:      time.Now(),
	}
	s.ownsTenant = func(ctx context.Context, tenantID, userID string) error {
		t, err := s.tenants.Get(ctx, tenantID)
		if err != nil {
			return err
		}
		if t.UserID != userID {
			// Foreign tenants are indistinguishable from absent ones.
			return fmt.Errorf("%w: %s", tenant.ErrNotFound, tenantID)
		}
		return nil
	}
	return s
}

// Handler builds the full route table with CORS and auth applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	authed := r.NewRoute().Subrouter()
	authed.Use(s.auth.Middleware)

	authed.HandleFunc("/data/collections", s.handleListCollections).Methods("GET")
	authed.HandleFunc("/data/queries", s.handleRunQueries).Methods("POST")
	authed.HandleFunc("/data/{collection}/{id}", s.handleGetDocument).Methods("GET")
	authed.HandleFunc("/data/{collection}/{id}", s.handleUpdateDocument).Methods("PUT")
	authed.HandleFunc("/data/{collection}/{id}", s.handleDeleteDocument).Methods("DELETE")

	authed.HandleFunc("/prompts", s.handlePrompt).Methods("POST")

	authed.HandleFunc("/tenants", s.handleListTenants).Methods("GET")
	authed.HandleFunc("/tenants", s.handleCreateTenant).Methods("POST")
	authed.HandleFunc("/tenants/{id}", s.handleDeleteTenant).Methods("DELETE")
	authed.HandleFunc("/tenants/{id}/connection", s.handleEvictConnection).Methods("DELETE")

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	return c.Handler(r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Seconds(),
	})
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	collections, err := s.data.ListCollections(r.Context(), id.TenantID)
	if err != nil {
		s.logError(r, id, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"collections": collections})
}

func (s *Server) handleRunQueries(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	var queries []string
	if err := json.NewDecoder(r.Body).Decode(&queries); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "request body must be a JSON array of expressions"})
		return
	}
	if len(queries) == 0 {
		writeJSON(w, http.StatusOK, map[string]interface{}{"results": []interface{}{}})
		return
	}

	outcomes, err := s.data.RunQueries(r.Context(), id.TenantID, queries)
	if err != nil {
		s.logError(r, id, err)
		writeError(w, err)
		return
	}

	results := make([]map[string]interface{}, len(outcomes))
	for i, o := range outcomes {
		entry := map[string]interface{}{"query": o.Query}
		if o.Err != nil {
			entry["error"] = o.Err.Error()
		} else {
			entry["result"] = o.Value
		}
		results[i] = entry
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	vars := mux.Vars(r)

	doc, err := s.data.GetDocument(r.Context(), id.TenantID, vars["collection"], vars["id"])
	if err != nil {
		s.logError(r, id, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	vars := mux.Vars(r)

	var fields map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "request body must be a JSON object"})
		return
	}

	doc, err := s.data.UpdateDocument(r.Context(), id.TenantID, vars["collection"], vars["id"], fields)
	if err != nil {
		s.logError(r, id, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	vars := mux.Vars(r)

	deleted, err := s.data.DeleteDocument(r.Context(), id.TenantID, vars["collection"], vars["id"])
	if err != nil {
		s.logError(r, id, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "deletedCount": deleted})
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	var body struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "prompt is required"})
		return
	}

	result, err := s.orchestrator.Run(r.Context(), orchestrator.RunParams{
		TenantID: id.TenantID,
		Prompt:   body.Prompt,
	})
	if err != nil {
		s.logError(r, id, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result": result.Narrative,
		"data":   result.Payloads,
		"debug":  result.Transcript,
	})
}

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	tenants, err := s.tenants.List(r.Context(), id.UserID)
	if err != nil {
		s.logError(r, id, err)
		writeError(w, err)
		return
	}

	out := make([]map[string]interface{}, len(tenants))
	for i, t := range tenants {
		out[i] = map[string]interface{}{
			"id":            t.ID.Hex(),
			"dbName":        t.Database,
			"hostname":      t.Hostname,
			"displayConfig": t.DisplayConfig,
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"tenants": out})
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())

	var body struct {
		DBConnectionString string              `json:"dbConnectionString"`
		DBName             string              `json:"dbName"`
		DisplayConfig      map[string][]string `json:"displayConfig"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if body.DBConnectionString == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Please provide dbConnectionString"})
		return
	}
	if body.DBName == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Please provide dbName"})
		return
	}
	if body.DisplayConfig == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Please provide displayConfig as an object with collection names as keys and field arrays as values"})
		return
	}

	created, err := s.tenants.Create(r.Context(), tenant.CreateParams{
		UserID:           id.UserID,
		ConnectionString: body.DBConnectionString,
		Database:         body.DBName,
		DisplayConfig:    body.DisplayConfig,
	})
	if err != nil {
		s.logError(r, id, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tenant": map[string]interface{}{
			"id":            created.ID.Hex(),
			"dbName":        created.Database,
			"hostname":      created.Hostname,
			"displayConfig": created.DisplayConfig,
		},
	})
}

func (s *Server) handleDeleteTenant(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	tenantID := mux.Vars(r)["id"]

	deleted, err := s.tenants.Delete(r.Context(), tenantID, id.UserID)
	if err != nil {
		s.logError(r, id, err)
		writeError(w, err)
		return
	}
	if !deleted {
		writeError(w, tenant.ErrNotFound)
		return
	}

	// Drop any live connection for the removed tenant.
	s.cache.Evict(r.Context(), tenantID)

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleEvictConnection(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	tenantID := mux.Vars(r)["id"]

	// Only the owner may force a redial of a tenant's connection.
	if err := s.ownsTenant(r.Context(), tenantID, id.UserID); err != nil {
		s.logError(r, id, err)
		writeError(w, err)
		return
	}

	s.cache.Evict(r.Context(), tenantID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) logError(r *http.Request, id Identity, err error) {
	s.log.ErrorWithErr(id.TenantID, "", "Request failed", err, map[string]interface{}{
		"method": r.Method,
		"path":   r.URL.Path,
	})
}
