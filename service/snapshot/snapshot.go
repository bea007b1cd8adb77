// Package snapshot is a versioned, namespaced, TTL-bounded key/value cache for
// locally persisted chain state: owned-asset lists, per-asset event history, and
// last-scanned-block watermarks, scoped per (network, account, contract).
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/DaveHalls/nft-dark-forest/service/logger"
	"github.com/DaveHalls/nft-dark-forest/service/persist"
)

const (
	namespace = "darkforest"
	// schemaVersion is bumped whenever the shape of any cached value changes;
	// entries written under an older version read as absent.
	schemaVersion = 1
)

// Envelope wraps every stored value with the schema version, the write time and an
// optional time-to-live.
type Envelope struct {
	Version    int             `json:"v"`
	WrittenAt  int64           `json:"at"` // unix milliseconds
	TTLSeconds int64           `json:"ttl,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// Expired reports whether the envelope's TTL has elapsed at now.
func (e Envelope) Expired(now time.Time) bool {
	if e.TTLSeconds <= 0 {
		return false
	}
	return now.UnixMilli()-e.WrittenAt > e.TTLSeconds*1000
}

// Backend is the pluggable persistence capability under the store. Absence is
// reported via the bool, not an error.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Store is the local snapshot store. It writes through the configured backend and
// falls back to an in-memory map transparently when the backend is unavailable or a
// write fails, preserving the same get/set/ttl contract for the rest of the session.
type Store struct {
	mu       sync.Mutex
	backend  Backend
	fallback *MemoryBackend
	degraded bool

	now func() time.Time
}

// NewStore creates a store over backend. A nil backend starts degraded, serving
// everything from memory.
func NewStore(backend Backend) *Store {
	s := &Store{
		backend:  backend,
		fallback: NewMemoryBackend(),
		now:      time.Now,
	}
	if backend == nil {
		s.degraded = true
	}
	return s
}

func (s *Store) active() Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return s.fallback
	}
	return s.backend
}

func (s *Store) degrade(ctx context.Context, err error) {
	s.mu.Lock()
	alreadyDegraded := s.degraded
	s.degraded = true
	s.mu.Unlock()
	if !alreadyDegraded {
		logger.For(ctx).WithError(err).Warn("snapshot backend failed, falling back to in-memory store for this session")
	}
}

// Get unmarshals the value stored at key into dest, reporting absent for missing
// keys, version mismatches and expired entries. Expired entries are deleted.
func (s *Store) Get(ctx context.Context, key string, dest any) (bool, error) {
	backend := s.active()
	raw, ok, err := backend.Get(ctx, key)
	if err != nil {
		s.degrade(ctx, err)
		raw, ok, err = s.fallback.Get(ctx, key)
		if err != nil {
			return false, err
		}
	}
	if !ok {
		return false, nil
	}

	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		// Corrupted payload; clear it so the next write starts clean.
		_ = backend.Delete(ctx, key)
		return false, nil
	}
	if envelope.Version != schemaVersion {
		return false, nil
	}
	if envelope.Expired(s.now()) {
		if err := backend.Delete(ctx, key); err != nil {
			s.degrade(ctx, err)
		}
		_ = s.fallback.Delete(ctx, key)
		return false, nil
	}

	if err := json.Unmarshal(envelope.Data, dest); err != nil {
		return false, fmt.Errorf("snapshot: unmarshaling %s: %w", key, err)
	}
	return true, nil
}

// Set stores value at key wrapped in a schema envelope. A zero ttl means the entry
// never expires.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("snapshot: marshaling %s: %w", key, err)
	}
	envelope := Envelope{
		Version:    schemaVersion,
		WrittenAt:  s.now().UnixMilli(),
		TTLSeconds: int64(ttl / time.Second),
		Data:       data,
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	if err := s.active().Set(ctx, key, raw); err != nil {
		s.degrade(ctx, err)
		return s.fallback.Set(ctx, key, raw)
	}
	return nil
}

// Remove deletes the entry at key from both the backend and the fallback.
func (s *Store) Remove(ctx context.Context, key string) error {
	err := s.active().Delete(ctx, key)
	if err != nil {
		s.degrade(ctx, err)
	}
	_ = s.fallback.Delete(ctx, key)
	return err
}

// Scope pins cache keys to one (network, account, contract) triple so switching
// account or network never reads stale data under the same logical name.
type Scope struct {
	ChainID  int64
	Account  persist.EthereumAddress
	Contract persist.EthereumAddress
}

// Key builds a namespaced, versioned cache key for a logical name within the scope.
func (s Scope) Key(name string, parts ...string) string {
	segments := []string{
		namespace,
		fmt.Sprintf("v%d", schemaVersion),
		name,
		fmt.Sprintf("%d", s.ChainID),
		s.Account.String(),
		s.Contract.String(),
	}
	segments = append(segments, parts...)
	return strings.Join(segments, ":")
}

// MemoryBackend is the in-memory fallback backend.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: map[string][]byte{}}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.entries[key]
	return raw, ok, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}
