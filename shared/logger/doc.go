// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

/*
Package logger provides structured JSON logging with per-tenant context for
TenantGate components.

Each log entry is a single JSON line on stdout carrying timestamp, level,
component, instance/container identity, tenant id and request id, so that
log aggregation can isolate one tenant's traffic across components.

Create a logger for your component:

	log := logger.New("conncache")

Log messages with tenant and request context:

	log.Info("tenant-123", "req-456", "Connection established", map[string]interface{}{
	    "database": "orders",
	})

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
