package license

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kiranshivaraju/licensegate/internal/cache"
	"github.com/kiranshivaraju/licensegate/internal/store"
	"github.com/kiranshivaraju/licensegate/pkg/models"
)

// --- in-memory Store ---

type memStore struct {
	mu       sync.Mutex
	licenses map[string]*models.License
	bindings map[string]map[string]*models.ServerBinding
	logs     []*models.ActionLog
	err      error

	// afterGet runs once GetLicense has released the lock, before it returns.
	afterGet func(key string)
}

func newMemStore() *memStore {
	return &memStore{
		licenses: map[string]*models.License{},
		bindings: map[string]map[string]*models.ServerBinding{},
	}
}

func (m *memStore) Ping(_ context.Context) error { return m.err }

func (m *memStore) CreateLicense(_ context.Context, lic *models.License) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.licenses[lic.Key]; ok {
		return store.ErrDuplicateKey
	}
	cp := *lic
	m.licenses[lic.Key] = &cp
	return nil
}

func (m *memStore) GetLicense(_ context.Context, key string) (*models.License, error) {
	lic, err := m.getLicense(key)
	if m.afterGet != nil {
		m.afterGet(key)
	}
	return lic, err
}

func (m *memStore) getLicense(key string) (*models.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	lic, ok := m.licenses[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *lic
	return &cp, nil
}

func (m *memStore) ListLicenses(_ context.Context, activeSince time.Time) ([]*models.LicenseSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := []*models.LicenseSummary{}
	for key, lic := range m.licenses {
		sum := &models.LicenseSummary{License: *lic}
		for _, b := range m.bindings[key] {
			if !b.LastSeen.Before(activeSince) {
				sum.ActiveServers++
			}
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) DeleteLicense(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.licenses[key]; !ok {
		return store.ErrNotFound
	}
	delete(m.licenses, key)
	delete(m.bindings, key)
	return nil
}

func (m *memStore) LockLicense(_ context.Context, key string, fn func(tx store.LicenseTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	lic, ok := m.licenses[key]
	if !ok {
		return store.ErrNotFound
	}

	cp := *lic
	tx := &memTx{lic: &cp, bindings: map[string]*models.ServerBinding{}}
	for id, b := range m.bindings[key] {
		bc := *b
		tx.bindings[id] = &bc
	}

	if err := fn(tx); err != nil {
		return err
	}
	m.licenses[key] = tx.lic
	m.bindings[key] = tx.bindings
	return nil
}

func (m *memStore) ListBindings(_ context.Context, key string) ([]*models.ServerBinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.ServerBinding{}
	for _, b := range m.bindings[key] {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out, nil
}

func (m *memStore) AppendLog(_ context.Context, entry *models.ActionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, entry)
	return nil
}

func (m *memStore) bindingCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bindings[key])
}

func (m *memStore) binding(key, serverID string) *models.ServerBinding {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[key][serverID]
	if !ok {
		return nil
	}
	cp := *b
	return &cp
}

type memTx struct {
	lic      *models.License
	bindings map[string]*models.ServerBinding
}

func (t *memTx) License() *models.License { return t.lic }

func (t *memTx) SetStatus(_ context.Context, status models.LicenseStatus, reason *string) error {
	t.lic.Status = status
	t.lic.Reason = reason
	return nil
}

func (t *memTx) TouchLastCheck(_ context.Context, at time.Time) error {
	t.lic.LastCheck = &at
	return nil
}

func (t *memTx) CountBindings(_ context.Context) (int, error) { return len(t.bindings), nil }

func (t *memTx) HasBinding(_ context.Context, serverID string) (bool, error) {
	_, ok := t.bindings[serverID]
	return ok, nil
}

func (t *memTx) UpsertBinding(_ context.Context, b *models.ServerBinding) error {
	cp := *b
	if existing, ok := t.bindings[b.ServerID]; ok {
		cp.FirstSeen = existing.FirstSeen
	}
	t.bindings[b.ServerID] = &cp
	return nil
}

var _ store.Store = (*memStore)(nil)

// --- in-memory Cache ---

type memCache struct {
	mu      sync.Mutex
	entries map[string]cache.StatusSnapshot
	gens    map[string]int64
	err     error
	hits    int
}

func newMemCache() *memCache {
	return &memCache{entries: map[string]cache.StatusSnapshot{}, gens: map[string]int64{}}
}

func (c *memCache) Ping(_ context.Context) error { return c.err }

func (c *memCache) GetLicenseStatus(_ context.Context, key string) (*cache.StatusSnapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, false, c.err
	}
	snap, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	c.hits++
	return &snap, true, nil
}

func (c *memCache) LicenseGeneration(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	return c.gens[key], nil
}

func (c *memCache) SetLicenseStatus(_ context.Context, key string, gen int64, snap *cache.StatusSnapshot, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	if c.gens[key] != gen {
		return false, nil
	}
	c.entries[key] = *snap
	return true, nil
}

func (c *memCache) InvalidateLicense(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.gens[key]++
	delete(c.entries, key)
	return nil
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

var _ cache.Cache = (*memCache)(nil)

// --- recording audit.Recorder ---

type recordedAction struct {
	Key     string
	Action  string
	Details string
}

type memRecorder struct {
	mu      sync.Mutex
	actions []recordedAction
}

func (r *memRecorder) Record(_ context.Context, key, action, details string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, recordedAction{Key: key, Action: action, Details: details})
}

func (r *memRecorder) last() recordedAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.actions) == 0 {
		return recordedAction{}
	}
	return r.actions[len(r.actions)-1]
}

func (r *memRecorder) count(action string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.actions {
		if a.Action == action {
			n++
		}
	}
	return n
}
