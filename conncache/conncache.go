// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

// Package conncache maintains one live database handle per tenant. Handles
// are created on first use (tenant resolution, secret decryption, dial,
// ping), cached for the life of the process, and shared by all concurrent
// callers for that tenant. Concurrent first acquires are coalesced so a
// tenant is never dialed twice at once.
package conncache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/singleflight"

	"tenantgate/platform/shared/logger"
	"tenantgate/platform/tenant"
	"tenantgate/platform/vault"
)

// ErrConnectionFailure is returned when dialing or pinging a tenant's
// database fails. The failed attempt leaves no cache entry.
var ErrConnectionFailure = errors.New("connection failure")

// Prometheus metrics for the connection cache
var (
	promCacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantgate_conncache_requests_total",
			Help: "Total number of connection cache acquisitions",
		},
		[]string{"outcome"},
	)
	promConnectDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tenantgate_conncache_connect_duration_milliseconds",
			Help:    "Time spent establishing a tenant connection in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
	)
	promEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenantgate_conncache_evictions_total",
			Help: "Total number of connection cache evictions",
		},
	)
)

func init() {
	prometheus.MustRegister(promCacheRequests)
	prometheus.MustRegister(promConnectDuration)
	prometheus.MustRegister(promEvictions)
}

// Conn is a live connection scoped to one tenant's target database.
// Implementations must be safe for concurrent use.
type Conn interface {
	Database() *mongo.Database
	Ping(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// Dialer opens a Conn for a connection string and database name.
type Dialer interface {
	Dial(ctx context.Context, uri, database string) (Conn, error)
}

// Handle pairs a resolved tenant with its live connection. A handle is
// shared by every caller for that tenant; the underlying connection supports
// concurrent use.
type Handle struct {
	Tenant *tenant.Tenant
	Conn   Conn
}

// Cache is the per-tenant connection cache.
type Cache struct {
	resolver tenant.Resolver
	vault    *vault.Vault
	dialer   Dialer
	log      *logger.Logger

	group singleflight.Group

	mu      sync.RWMutex
	handles map[string]*Handle
}

// New creates a Cache. The dialer is injectable for tests; production code
// passes NewMongoDialer().
func New(resolver tenant.Resolver, v *vault.Vault, dialer Dialer) *Cache {
	return &Cache{
		resolver: resolver,
		vault:    v,
		dialer:   dialer,
		log:      logger.New("conncache"),
		handles:  make(map[string]*Handle),
	}
}

// Acquire returns the handle for tenantID, establishing it on first use.
// A cached handle is returned unconditionally, without a liveness probe;
// callers surface stale-connection errors and may Evict. Concurrent misses
// for one tenant share a single connection attempt.
func (c *Cache) Acquire(ctx context.Context, tenantID string) (*Handle, error) {
	c.mu.RLock()
	h, ok := c.handles[tenantID]
	c.mu.RUnlock()
	if ok {
		promCacheRequests.WithLabelValues("hit").Inc()
		return h, nil
	}

	v, err, _ := c.group.Do(tenantID, func() (interface{}, error) {
		// Re-check under the flight: a previous flight may have landed
		// between our miss and this call.
		c.mu.RLock()
		h, ok := c.handles[tenantID]
		c.mu.RUnlock()
		if ok {
			return h, nil
		}
		return c.connect(ctx, tenantID)
	})
	if err != nil {
		promCacheRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	promCacheRequests.WithLabelValues("miss").Inc()
	return v.(*Handle), nil
}

// connect resolves the tenant, decrypts its secret and dials the target
// database. The plaintext connection string never leaves this frame.
func (c *Cache) connect(ctx context.Context, tenantID string) (*Handle, error) {
	t, err := c.resolver.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	uri, err := c.vault.Decrypt(t.EncryptedSecret)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, err)
	}

	start := time.Now()
	conn, err := c.dialer.Dial(ctx, uri, t.Database)
	if err != nil {
		return nil, fmt.Errorf("%w: tenant %s: %v", ErrConnectionFailure, tenantID, err)
	}

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: tenant %s: ping: %v", ErrConnectionFailure, tenantID, err)
	}
	promConnectDuration.Observe(float64(time.Since(start).Milliseconds()))

	h := &Handle{Tenant: t, Conn: conn}

	c.mu.Lock()
	c.handles[tenantID] = h
	c.mu.Unlock()

	c.log.Info(tenantID, "", "Tenant connection established", map[string]interface{}{
		"database": t.Database,
		"hostname": t.Hostname,
	})

	return h, nil
}

// Evict removes the cached handle for tenantID and closes it best-effort.
// Unknown ids are a no-op; a subsequent Acquire establishes a fresh
// connection.
func (c *Cache) Evict(ctx context.Context, tenantID string) {
	c.mu.Lock()
	h, ok := c.handles[tenantID]
	if ok {
		delete(c.handles, tenantID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}

	promEvictions.Inc()
	if err := h.Conn.Disconnect(ctx); err != nil {
		c.log.Warn(tenantID, "", "Error closing evicted connection", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// Close evicts every cached handle. Used at shutdown.
func (c *Cache) Close(ctx context.Context) {
	c.mu.Lock()
	handles := c.handles
	c.handles = make(map[string]*Handle)
	c.mu.Unlock()

	for tenantID, h := range handles {
		if err := h.Conn.Disconnect(ctx); err != nil {
			c.log.Warn(tenantID, "", "Error closing connection at shutdown", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}
