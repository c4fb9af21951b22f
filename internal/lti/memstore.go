// internal/lti/memstore.go
package lti

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process registry/user/launch store. It backs tests and
// single-node dev runs; production uses the sqlstore package.
type MemoryStore struct {
	mu        sync.RWMutex
	platforms map[string]Platform
	users     map[string]LocalUser // keyed by email
	launches  map[string]LaunchContext
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		platforms: map[string]Platform{},
		users:     map[string]LocalUser{},
		launches:  map[string]LaunchContext{},
	}
}

func (m *MemoryStore) AddPlatform(p Platform) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.platforms[p.Issuer] = p
}

func (m *MemoryStore) GetPlatform(_ context.Context, issuer string) (*Platform, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.platforms[issuer]; ok {
		return &p, nil
	}
	return nil, nil
}

func (m *MemoryStore) FindUserByEmail(_ context.Context, email string) (*LocalUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.users[email]; ok {
		return &u, nil
	}
	return nil, nil
}

func (m *MemoryStore) CreateUser(_ context.Context, u LocalUser, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.Email] = u
	return nil
}

func (m *MemoryStore) ListUsers(_ context.Context) ([]LocalUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]LocalUser, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (m *MemoryStore) UpsertLaunch(_ context.Context, l LaunchContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := l.PlatformIssuer + "|" + l.Subject + "|" + l.ResourceLinkID
	if prev, ok := m.launches[key]; ok {
		l.ID = prev.ID
	}
	m.launches[key] = l
	return nil
}

func (m *MemoryStore) ListLaunchesByUser(_ context.Context, userID string) ([]LaunchContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []LaunchContext
	for _, l := range m.launches {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
