package gate

import (
	"context"
	"sync"
)

var _ LocalStorage = (*MemoryStorage)(nil)

// Scope binds storage to clientID
func Scope(storage LocalStorage, clientID string) ClientStorage {
	return scopedStorage{storage: storage, clientID: clientID}
}

type scopedStorage struct {
	storage  LocalStorage
	clientID string
}

func (s scopedStorage) Get(ctx context.Context, key string) (string, bool, error) {
	return s.storage.Get(ctx, s.clientID, key)
}

func (s scopedStorage) Set(ctx context.Context, key, value string) error {
	return s.storage.Set(ctx, s.clientID, key, value)
}

func (s scopedStorage) Delete(ctx context.Context, key string) error {
	return s.storage.Delete(ctx, s.clientID, key)
}

// MemoryStorage keeps values in process. Nothing survives a restart.
type MemoryStorage struct {
	mu      sync.RWMutex
	clients map[string]map[string]string
}

// NewMemoryStorage returns an empty MemoryStorage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{clients: make(map[string]map[string]string)}
}

func (m *MemoryStorage) Get(ctx context.Context, clientID, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.clients[clientID][key]
	return value, ok, nil
}

func (m *MemoryStorage) Set(ctx context.Context, clientID, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	values, ok := m.clients[clientID]
	if !ok {
		values = make(map[string]string)
		m.clients[clientID] = values
	}
	values[key] = value
	return nil
}

func (m *MemoryStorage) Delete(ctx context.Context, clientID, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	values, ok := m.clients[clientID]
	if !ok {
		return nil
	}
	delete(values, key)
	if len(values) == 0 {
		delete(m.clients, clientID)
	}
	return nil
}
