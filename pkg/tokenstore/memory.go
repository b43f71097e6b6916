package tokenstore

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity bounds the number of tokens a MemoryStore keeps.
const DefaultCapacity = 128

// MemoryStore is a bounded in-memory token store. When full, the least
// recently used token is evicted.
type MemoryStore struct {
	cache *lru.Cache[string, *Token]
	now   func() time.Time
}

// NewMemoryStore creates a store holding up to DefaultCapacity tokens.
func NewMemoryStore() *MemoryStore {
	s, _ := NewMemoryStoreSize(DefaultCapacity)
	return s
}

// NewMemoryStoreSize creates a store holding up to size tokens.
func NewMemoryStoreSize(size int) (*MemoryStore, error) {
	cache, err := lru.New[string, *Token](size)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{cache: cache, now: time.Now}, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.cache.Add(key, &Token{
		Key:       key,
		Value:     value,
		ExpiresAt: m.now().Add(ttl),
	})
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Token, error) {
	tok, ok := m.cache.Get(key)
	if !ok {
		return nil, ErrTokenNotFound
	}
	if tok.IsExpired() {
		return nil, ErrTokenExpired
	}
	return tok, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.cache.Remove(key)
	return nil
}

func (m *MemoryStore) Cleanup(_ context.Context) (int, error) {
	count := 0
	for _, k := range m.cache.Keys() {
		tok, ok := m.cache.Peek(k)
		if ok && tok.IsExpired() {
			m.cache.Remove(k)
			count++
		}
	}
	return count, nil
}

// Len returns the number of stored tokens, expired ones included.
func (m *MemoryStore) Len() int { return m.cache.Len() }
