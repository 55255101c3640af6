package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"onboardr/internal/metrics"
	"onboardr/pkg/errors"
	"onboardr/pkg/logger"
)

const (
	DefaultPrefix = "onboardr:"
	DefaultTTL    = time.Minute

	tierMemory   = "memory"
	tierExternal = "external"

	pingTimeout = 500 * time.Millisecond
)

type entry struct {
	value  []byte
	expiry time.Time
}

// Options configures a Manager
type Options struct {
	Prefix     string
	DefaultTTL time.Duration
	Store      ExternalStore // nil means memory only
	Logger     *logger.Logger
}

// Stats is a point-in-time view of the cache
type Stats struct {
	MemoryEntries     int  `json:"memory_entries"`
	MemoryBytes       int  `json:"memory_bytes"`
	ExternalEnabled   bool `json:"external_enabled"`
	ExternalConnected bool `json:"external_connected"`
}

// Manager is a two-tier cache. The in-memory tier is authoritative and always
// written; the external tier is consulted first on reads when present.
// External tier failures are logged and never returned to callers.
type Manager struct {
	prefix     string
	defaultTTL time.Duration
	store      ExternalStore
	log        *logger.Logger

	mu     sync.RWMutex
	memory map[string]entry
}

// New creates a cache manager
func New(opts Options) *Manager {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = logger.Get()
	}

	log := opts.Logger.Component("cache")
	if opts.Store == nil {
		log.Infow("No external store configured, using memory cache only")
	}

	return &Manager{
		prefix:     opts.Prefix,
		defaultTTL: opts.DefaultTTL,
		store:      opts.Store,
		log:        log,
		memory:     make(map[string]entry),
	}
}

// Prefix returns the namespace applied to every key
func (m *Manager) Prefix() string {
	return m.prefix
}

// HasExternal reports whether an external tier is configured
func (m *Manager) HasExternal() bool {
	return m.store != nil
}

// GetRaw returns the serialized value for key
func (m *Manager) GetRaw(ctx context.Context, key string) ([]byte, bool) {
	fullKey := m.prefix + key

	if m.store != nil {
		data, found, err := m.store.Get(ctx, fullKey)
		switch {
		case err != nil:
			metrics.RecordCacheOp(tierExternal, "get", "error")
			m.log.Warnw("External cache get failed", "key", key, "error", err)
		case found:
			metrics.RecordCacheOp(tierExternal, "get", "hit")
			return data, true
		default:
			metrics.RecordCacheOp(tierExternal, "get", "miss")
		}
	}

	return m.getMemory(fullKey)
}

func (m *Manager) getMemory(fullKey string) ([]byte, bool) {
	now := time.Now()

	m.mu.RLock()
	e, ok := m.memory[fullKey]
	m.mu.RUnlock()

	if !ok {
		metrics.RecordCacheOp(tierMemory, "get", "miss")
		return nil, false
	}

	if !now.Before(e.expiry) {
		m.mu.Lock()
		// re-check: a concurrent Set may have replaced it
		if cur, still := m.memory[fullKey]; still && !now.Before(cur.expiry) {
			delete(m.memory, fullKey)
		}
		m.mu.Unlock()
		metrics.RecordCacheOp(tierMemory, "get", "miss")
		return nil, false
	}

	metrics.RecordCacheOp(tierMemory, "get", "hit")
	return e.value, true
}

// Get decodes the cached value for key into dest. Returns false on a miss
// or when the stored value cannot be decoded into dest.
func (m *Manager) Get(ctx context.Context, key string, dest interface{}) bool {
	data, ok := m.GetRaw(ctx, key)
	if !ok {
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		m.log.Warnw("Failed to deserialize cache value", "key", key, "error", err)
		return false
	}
	return true
}

// Value is a typed convenience over Get
func Value[T any](ctx context.Context, m *Manager, key string) (T, bool) {
	var v T
	ok := m.Get(ctx, key, &v)
	return v, ok
}

// Has reports whether key currently holds a value
func (m *Manager) Has(ctx context.Context, key string) bool {
	_, ok := m.GetRaw(ctx, key)
	return ok
}

// Set stores value under key for ttl (zero means the default TTL).
// The only error is a serialization failure; external tier errors are logged.
func (m *Manager) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "serialize cache value %q", key)
	}

	m.setRaw(ctx, key, data, ttl)
	return nil
}

func (m *Manager) setRaw(ctx context.Context, key string, data []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	fullKey := m.prefix + key

	m.mu.Lock()
	m.memory[fullKey] = entry{value: data, expiry: time.Now().Add(ttl)}
	m.mu.Unlock()
	metrics.RecordCacheOp(tierMemory, "set", "ok")

	if m.store != nil {
		if err := m.store.Set(ctx, fullKey, data, ttl); err != nil {
			metrics.RecordCacheOp(tierExternal, "set", "error")
			m.log.Warnw("External cache set failed", "key", key, "error", err)
		} else {
			metrics.RecordCacheOp(tierExternal, "set", "ok")
		}
	}

	m.sweep()
}

// sweep drops expired memory entries; it piggybacks on writes
func (m *Manager) sweep() {
	now := time.Now()
	cleaned := 0

	m.mu.Lock()
	for k, e := range m.memory {
		if !now.Before(e.expiry) {
			delete(m.memory, k)
			cleaned++
		}
	}
	m.mu.Unlock()

	if cleaned > 0 {
		m.log.Debugw("Cleaned expired entries from memory cache", "count", cleaned)
	}
}

// Delete removes key from both tiers
func (m *Manager) Delete(ctx context.Context, key string) {
	fullKey := m.prefix + key

	m.mu.Lock()
	delete(m.memory, fullKey)
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Del(ctx, fullKey); err != nil {
			m.log.Warnw("External cache delete failed", "key", key, "error", err)
		}
	}
}

// Clear removes every entry under this manager's prefix from both tiers
func (m *Manager) Clear(ctx context.Context) {
	m.mu.Lock()
	for k := range m.memory {
		if strings.HasPrefix(k, m.prefix) {
			delete(m.memory, k)
		}
	}
	m.mu.Unlock()

	if m.store == nil {
		return
	}

	keys, err := m.store.Keys(ctx, m.prefix)
	if err != nil {
		m.log.Warnw("External cache clear failed", "error", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := m.store.Del(ctx, keys...); err != nil {
		m.log.Warnw("External cache clear failed", "keys", len(keys), "error", err)
	}
}

// GetMany returns the serialized values found for keys. The external tier is
// queried with a single multi-get; gaps are filled from memory.
func (m *Manager) GetMany(ctx context.Context, keys []string) map[string][]byte {
	results := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return results
	}

	if m.store != nil {
		fullKeys := make([]string, len(keys))
		for i, k := range keys {
			fullKeys[i] = m.prefix + k
		}

		values, err := m.store.MGet(ctx, fullKeys)
		if err != nil {
			metrics.RecordCacheOp(tierExternal, "mget", "error")
			m.log.Warnw("External cache mget failed", "keys", len(keys), "error", err)
		} else {
			for i, v := range values {
				if i < len(keys) && v != nil {
					results[keys[i]] = v
				}
			}
		}
	}

	for _, k := range keys {
		if _, ok := results[k]; ok {
			continue
		}
		if v, ok := m.getMemory(m.prefix + k); ok {
			results[k] = v
		}
	}

	return results
}

// Values decodes a GetMany result, skipping entries that do not decode as T
func Values[T any](ctx context.Context, m *Manager, keys []string) map[string]T {
	raw := m.GetMany(ctx, keys)
	out := make(map[string]T, len(raw))
	for k, data := range raw {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			m.log.Warnw("Failed to deserialize cache value", "key", k, "error", err)
			continue
		}
		out[k] = v
	}
	return out
}

// SetMany stores every entry with the same ttl. Nothing is written if any
// value fails to serialize.
func (m *Manager) SetMany(ctx context.Context, entries map[string]interface{}, ttl time.Duration) error {
	encoded := make(map[string][]byte, len(entries))
	for k, v := range entries {
		data, err := json.Marshal(v)
		if err != nil {
			return errors.Wrapf(err, "serialize cache value %q", k)
		}
		encoded[k] = data
	}

	for k, data := range encoded {
		m.setRaw(ctx, k, data, ttl)
	}
	return nil
}

// Len returns the number of entries in the memory tier, expired or not
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.memory)
}

// Stats returns memory tier size and external tier reachability
func (m *Manager) Stats(ctx context.Context) Stats {
	m.mu.RLock()
	stats := Stats{MemoryEntries: len(m.memory)}
	for _, e := range m.memory {
		stats.MemoryBytes += len(e.value)
	}
	m.mu.RUnlock()

	if m.store != nil {
		stats.ExternalEnabled = true
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		stats.ExternalConnected = m.store.Ping(pingCtx) == nil
		cancel()
	}
	return stats
}

// Close releases the external tier and empties memory
func (m *Manager) Close() error {
	m.mu.Lock()
	m.memory = make(map[string]entry)
	m.mu.Unlock()

	if m.store != nil {
		return m.store.Close()
	}
	return nil
}
