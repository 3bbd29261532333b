package tokenstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the default in-process token store. Tokens are lost on
// restart and are not shared between instances.
type MemoryStore struct {
	tokens map[string]*Token
	mu     sync.RWMutex
	now    func() time.Time
}

// NewMemoryStore creates a new in-memory token store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens: make(map[string]*Token),
		now:    time.Now,
	}
}

func (m *MemoryStore) Put(_ context.Context, shopperReference, token string) error {
	if err := validate(shopperReference, token); err != nil {
		observe("memory", "put", err)
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if existing, ok := m.tokens[shopperReference]; ok {
		m.tokens[shopperReference] = &Token{
			ShopperReference:         shopperReference,
			RecurringDetailReference: token,
			CreatedAt:                existing.CreatedAt,
			UpdatedAt:                now,
		}
	} else {
		m.tokens[shopperReference] = &Token{
			ShopperReference:         shopperReference,
			RecurringDetailReference: token,
			CreatedAt:                now,
			UpdatedAt:                now,
		}
	}
	observe("memory", "put", nil)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, shopperReference string) (*Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tokens[shopperReference]
	if !ok {
		observe("memory", "get", ErrTokenNotFound)
		return nil, ErrTokenNotFound
	}
	observe("memory", "get", nil)
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) Delete(_ context.Context, shopperReference string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.tokens[shopperReference]
	if ok {
		delete(m.tokens, shopperReference)
	}
	observe("memory", "delete", nil)
	return ok, nil
}

func (m *MemoryStore) Exists(_ context.Context, shopperReference string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.tokens[shopperReference]
	observe("memory", "exists", nil)
	return ok, nil
}

// Len returns the number of stored tokens.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tokens)
}

var _ Store = (*MemoryStore)(nil)
