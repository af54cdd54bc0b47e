// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

// Command gateway runs the TenantGate multi-tenant database gateway.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"tenantgate/platform/api"
	"tenantgate/platform/audit"
	"tenantgate/platform/conncache"
	"tenantgate/platform/correlation"
	"tenantgate/platform/dataops"
	"tenantgate/platform/orchestrator"
	"tenantgate/platform/orchestrator/llm"
	"tenantgate/platform/tenant"
	"tenantgate/platform/vault"
)

func main() {
	logger := log.New(os.Stdout, "[GATEWAY] ", log.LstdFlags)

	cfg, err := LoadConfig()
	if err != nil {
		logger.Fatalf("Configuration error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	key, err := vault.LoadKey(ctx)
	if err != nil {
		logger.Fatalf("Encryption key error: %v", err)
	}
	v, err := vault.New(key)
	if err != nil {
		logger.Fatalf("Vault error: %v", err)
	}

	managerClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.ManagerDBURI))
	if err != nil {
		logger.Fatalf("Manager database connection error: %v", err)
	}
	if err := managerClient.Ping(ctx, readpref.Primary()); err != nil {
		logger.Fatalf("Manager database ping error: %v", err)
	}
	managerDB := managerClient.Database(managerDatabaseName(cfg.ManagerDBURI))

	tenants := tenant.NewStore(managerDB, v)
	resolver := tenant.NewStoreResolver(tenants, v)
	cache := conncache.New(resolver, v, conncache.NewMongoDialer())
	correlations := correlation.NewStore()
	recorder := audit.NewRecorder(audit.NewMongoSink(managerDB))

	client, err := llm.NewAnthropicClient(llm.Config{
		APIKey: cfg.AnthropicAPIKey,
		Model:  cfg.Model,
	})
	if err != nil {
		logger.Fatalf("Model client error: %v", err)
	}

	orch := orchestrator.New(client, cache, correlations, recorder, orchestrator.Options{
		Model:    cfg.Model,
		MaxSteps: cfg.MaxSteps,
	})
	data := dataops.NewService(cache, recorder)
	auth := api.NewAuthenticator([]byte(cfg.JWTSecret))

	server := api.NewServer(tenants, data, orch, cache, auth)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Handler(),
	}

	go func() {
		logger.Printf("TenantGate gateway listening on port %s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Println("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP shutdown error: %v", err)
	}
	cache.Close(shutdownCtx)
	if err := managerClient.Disconnect(shutdownCtx); err != nil {
		logger.Printf("Manager database disconnect error: %v", err)
	}
}
