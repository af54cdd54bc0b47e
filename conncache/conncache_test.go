// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

package conncache

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"tenantgate/platform/tenant"
	"tenantgate/platform/vault"
)

type fakeConn struct {
	id           int32
	pingErr      error
	disconnects  int32
	disconnectCh chan struct{}
}

func (c *fakeConn) Database() *mongo.Database { return nil }
func (c *fakeConn) Ping(context.Context) error {
	return c.pingErr
}
func (c *fakeConn) Disconnect(context.Context) error {
	atomic.AddInt32(&c.disconnects, 1)
	if c.disconnectCh != nil {
		close(c.disconnectCh)
	}
	return nil
}

type fakeDialer struct {
	mu      sync.Mutex
	dials   int32
	delay   time.Duration
	dialErr error
	pingErr error
	conns   []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, uri, database string) (Conn, error) {
	n := atomic.AddInt32(&d.dials, 1)
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	conn := &fakeConn{id: n, pingErr: d.pingErr}
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

type staticResolver struct {
	tenants map[string]*tenant.Tenant
}

func (r *staticResolver) Resolve(_ context.Context, tenantID string) (*tenant.Tenant, error) {
	if t, ok := r.tenants[tenantID]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %s", tenant.ErrNotFound, tenantID)
}

func newTestCache(t *testing.T, dialer Dialer) (*Cache, *vault.Vault) {
	t.Helper()
	key := make([]byte, vault.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	v, err := vault.New(key)
	require.NoError(t, err)

	encrypted, err := v.Encrypt("mongodb://db.example.com:27017/orders")
	require.NoError(t, err)

	resolver := &staticResolver{tenants: map[string]*tenant.Tenant{
		"t1": {EncryptedSecret: encrypted, Database: "orders", Hostname: "db.example.com:27017"},
	}}

	return New(resolver, v, dialer), v
}

func TestAcquireCachesHandle(t *testing.T) {
	dialer := &fakeDialer{}
	c, _ := newTestCache(t, dialer)

	h1, err := c.Acquire(t.Context(), "t1")
	require.NoError(t, err)
	require.NotNil(t, h1)
	assert.Equal(t, "orders", h1.Tenant.Database)

	h2, err := c.Acquire(t.Context(), "t1")
	require.NoError(t, err)

	assert.Same(t, h1, h2, "second acquire must return the cached handle")
	assert.EqualValues(t, 1, atomic.LoadInt32(&dialer.dials))
}

func TestAcquireUnknownTenant(t *testing.T) {
	dialer := &fakeDialer{}
	c, _ := newTestCache(t, dialer)

	_, err := c.Acquire(t.Context(), "nope")
	assert.True(t, errors.Is(err, tenant.ErrNotFound))
	assert.EqualValues(t, 0, atomic.LoadInt32(&dialer.dials), "failed resolution must not dial")

	// A failed acquire must leave no entry behind.
	c.mu.RLock()
	assert.Empty(t, c.handles)
	c.mu.RUnlock()
}

func TestAcquireDialFailureLeavesNoEntry(t *testing.T) {
	dialer := &fakeDialer{dialErr: errors.New("network down")}
	c, _ := newTestCache(t, dialer)

	_, err := c.Acquire(t.Context(), "t1")
	assert.True(t, errors.Is(err, ErrConnectionFailure))

	// The next acquire retries from scratch.
	dialer.dialErr = nil
	h, err := c.Acquire(t.Context(), "t1")
	require.NoError(t, err)
	assert.NotNil(t, h)
}

func TestAcquirePingFailureClosesConn(t *testing.T) {
	dialer := &fakeDialer{pingErr: errors.New("unreachable")}
	c, _ := newTestCache(t, dialer)

	_, err := c.Acquire(t.Context(), "t1")
	assert.True(t, errors.Is(err, ErrConnectionFailure))

	dialer.mu.Lock()
	require.Len(t, dialer.conns, 1)
	assert.EqualValues(t, 1, atomic.LoadInt32(&dialer.conns[0].disconnects))
	dialer.mu.Unlock()
}

func TestAcquireCorruptSecret(t *testing.T) {
	dialer := &fakeDialer{}
	c, _ := newTestCache(t, dialer)

	resolver := c.resolver.(*staticResolver)
	resolver.tenants["t1"].EncryptedSecret = "aa:bb:cc"

	_, err := c.Acquire(t.Context(), "t1")
	assert.True(t, errors.Is(err, vault.ErrCorruptCredential))
	assert.EqualValues(t, 0, atomic.LoadInt32(&dialer.dials))
}

// TestConcurrentAcquireCoalesces checks that N concurrent first acquires
// for one tenant produce exactly one dial, with every caller sharing the
// same handle.
func TestConcurrentAcquireCoalesces(t *testing.T) {
	dialer := &fakeDialer{delay: 20 * time.Millisecond}
	c, _ := newTestCache(t, dialer)

	const callers = 16
	handles := make([]*Handle, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			h, err := c.Acquire(context.Background(), "t1")
			if err != nil {
				t.Errorf("acquire %d: %v", n, err)
				return
			}
			handles[n] = h
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&dialer.dials), "concurrent acquires must share one dial")
	for i := 1; i < callers; i++ {
		assert.Same(t, handles[0], handles[i])
	}
}

func TestEvictThenAcquireDialsFresh(t *testing.T) {
	dialer := &fakeDialer{}
	c, _ := newTestCache(t, dialer)

	h1, err := c.Acquire(t.Context(), "t1")
	require.NoError(t, err)

	c.Evict(t.Context(), "t1")

	old := h1.Conn.(*fakeConn)
	assert.EqualValues(t, 1, atomic.LoadInt32(&old.disconnects), "evicted conn must be closed")

	h2, err := c.Acquire(t.Context(), "t1")
	require.NoError(t, err)
	assert.NotSame(t, h1, h2)
	assert.EqualValues(t, 2, atomic.LoadInt32(&dialer.dials))
}

func TestEvictUnknownTenantIsNoop(t *testing.T) {
	dialer := &fakeDialer{}
	c, _ := newTestCache(t, dialer)

	c.Evict(t.Context(), "never-acquired")
	c.Evict(t.Context(), "never-acquired")
}

func TestCloseEvictsAll(t *testing.T) {
	dialer := &fakeDialer{}
	c, _ := newTestCache(t, dialer)

	h, err := c.Acquire(t.Context(), "t1")
	require.NoError(t, err)

	c.Close(t.Context())

	conn := h.Conn.(*fakeConn)
	assert.EqualValues(t, 1, atomic.LoadInt32(&conn.disconnects))

	c.mu.RLock()
	assert.Empty(t, c.handles)
	c.mu.RUnlock()
}
