// Package cachemanager implements the two-tier key/value cache fronting
// provider responses and other pipeline artifacts: a process-local expiring
// map backed by a caller-supplied distributed store for cross-process hits.
package cachemanager

import (
	"context"
	"sync"
	"time"

	"github.com/gobwas/glob"
)

// RemoteKV is the distributed tier a Manager writes through to. A caller
// wires in whatever store it has (Redis, Memcached, a shared SQL table);
// cachemanager has no opinion on the transport.
type RemoteKV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
}

type localEntry struct {
	value     []byte
	expiresAt time.Time
}

// Stats is the snapshot returned by Manager.Stats.
type Stats struct {
	Hits        int64
	Misses      int64
	Keys        int
	MemoryBytes int64
	Uptime      time.Duration
}

// Manager is the two-tier cache: local-first reads, dual writes, glob
// invalidation across both tiers.
type Manager struct {
	mu      sync.Mutex
	local   map[string]localEntry
	remote  RemoteKV
	ttl     time.Duration
	started time.Time
	hits    int64
	misses  int64
	stop    chan struct{}
}

// New builds a Manager with the given default local TTL. remote may be nil,
// in which case the manager behaves as a local-only cache. A background
// sweeper evicts expired local entries every 60 seconds.
func New(remote RemoteKV, ttl time.Duration) *Manager {
	m := &Manager{
		local:   make(map[string]localEntry),
		remote:  remote,
		ttl:     ttl,
		started: time.Now(),
		stop:    make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Get reads local-first; on a local miss it falls through to the remote
// tier and populates the local entry on a remote hit. A remote error is
// treated as a miss rather than propagated, so a distributed-store outage
// degrades the cache instead of failing the caller.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := m.getLocal(key); ok {
		m.recordHit()
		return v, true
	}
	if m.remote == nil {
		m.recordMiss()
		return nil, false
	}
	v, ok, err := m.remote.Get(ctx, key)
	if err != nil || !ok {
		m.recordMiss()
		return nil, false
	}
	m.setLocal(key, v, m.ttl)
	m.recordHit()
	return v, true
}

func (m *Manager) getLocal(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.local[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(m.local, key)
		return nil, false
	}
	return e.value, true
}

func (m *Manager) setLocal(key string, value []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.local[key] = localEntry{value: value, expiresAt: time.Now().Add(ttl)}
}

func (m *Manager) recordHit() {
	m.mu.Lock()
	m.hits++
	m.mu.Unlock()
}

func (m *Manager) recordMiss() {
	m.mu.Lock()
	m.misses++
	m.mu.Unlock()
}

// Set writes through both tiers. A remote write failure is swallowed; the
// local write still lands so the caller's hot path isn't blocked on the
// distributed store being up.
func (m *Manager) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.ttl
	}
	m.setLocal(key, value, ttl)
	if m.remote != nil {
		_ = m.remote.Set(ctx, key, value, ttl)
	}
	return nil
}

// Invalidate evicts every key matching pattern (a glob, e.g. "budget:*")
// from both tiers.
func (m *Manager) Invalidate(ctx context.Context, pattern string) error {
	g, err := glob.Compile(pattern)
	if err != nil {
		return err
	}
	m.mu.Lock()
	for k := range m.local {
		if g.Match(k) {
			delete(m.local, k)
		}
	}
	m.mu.Unlock()

	if m.remote == nil {
		return nil
	}
	keys, err := m.remote.Keys(ctx, pattern)
	if err != nil {
		return nil // best-effort: a remote listing failure shouldn't block local invalidation
	}
	for _, k := range keys {
		_ = m.remote.Delete(ctx, k)
	}
	return nil
}

// Stats returns a snapshot of hit/miss counters, local key count, an
// estimate of local memory usage, and process uptime.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	var mem int64
	for k, e := range m.local {
		mem += int64(len(k)) + int64(len(e.value))
	}
	return Stats{
		Hits:        m.hits,
		Misses:      m.misses,
		Keys:        len(m.local),
		MemoryBytes: mem,
		Uptime:      time.Since(m.started),
	}
}

// Stop terminates the background sweeper.
func (m *Manager) Stop() {
	close(m.stop)
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for k, e := range m.local {
		if now.After(e.expiresAt) {
			delete(m.local, k)
		}
	}
}
