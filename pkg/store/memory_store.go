package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"photorevive/pkg/domain"
)

type jobKey struct {
	telegramID int64
	messageID  int
}

// MemoryStore keeps everything in-process. It mirrors the GormStore
// semantics and backs the worker tests.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[int64]domain.User
	jobs     map[jobKey]domain.PendingJob
	payments map[jobKey]domain.Payment
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[int64]domain.User),
		jobs:     make(map[jobKey]domain.PendingJob),
		payments: make(map[jobKey]domain.Payment),
	}
}

// UpsertUser registers or refreshes a user, preserving FreeQuota and
// CreatedAt for existing rows.
func (m *MemoryStore) UpsertUser(_ context.Context, u domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.users[u.TelegramID]; ok {
		u.FreeQuota = existing.FreeQuota
		u.CreatedAt = existing.CreatedAt
	} else if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	m.users[u.TelegramID] = u
	return u, nil
}

// GetUser returns a user by account id.
func (m *MemoryStore) GetUser(_ context.Context, telegramID int64) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[telegramID]
	return u, ok, nil
}

// ConsumeFreeQuota flips the flag from true to false under the store lock.
func (m *MemoryStore) ConsumeFreeQuota(_ context.Context, telegramID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[telegramID]
	if !ok || !u.FreeQuota {
		return false, nil
	}
	u.FreeQuota = false
	m.users[telegramID] = u
	return true, nil
}

// SetFreeQuota overwrites the quota flag.
func (m *MemoryStore) SetFreeQuota(_ context.Context, telegramID int64, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[telegramID]
	if !ok {
		return nil
	}
	u.FreeQuota = available
	m.users[telegramID] = u
	return nil
}

// SavePendingJob inserts or overwrites the entry for the job's key.
func (m *MemoryStore) SavePendingJob(_ context.Context, job domain.PendingJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[jobKey{job.TelegramID, job.MessageID}] = job
	return nil
}

// SetPendingInvoice records the invoice message issued for a cache entry.
func (m *MemoryStore) SetPendingInvoice(_ context.Context, telegramID int64, messageID, invoiceMessageID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := jobKey{telegramID, messageID}
	job, ok := m.jobs[key]
	if !ok {
		return nil
	}
	job.InvoiceMessageID = invoiceMessageID
	m.jobs[key] = job
	return nil
}

// GetPendingJob looks up a cache entry by its composite key.
func (m *MemoryStore) GetPendingJob(_ context.Context, telegramID int64, messageID int) (domain.PendingJob, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobKey{telegramID, messageID}]
	return job, ok, nil
}

// ListPendingJobs returns an account's entries ordered by message id.
func (m *MemoryStore) ListPendingJobs(_ context.Context, telegramID int64) ([]domain.PendingJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.PendingJob, 0)
	for key, job := range m.jobs {
		if key.telegramID == telegramID {
			res = append(res, job)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].MessageID < res[j].MessageID })
	return res, nil
}

// DeletePendingJob removes a cache entry.
func (m *MemoryStore) DeletePendingJob(_ context.Context, telegramID int64, messageID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobKey{telegramID, messageID})
	return nil
}

// SavePayment records a payment once; duplicates are ignored.
func (m *MemoryStore) SavePayment(_ context.Context, p domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := jobKey{p.TelegramID, p.MessageID}
	if _, exists := m.payments[key]; exists {
		return nil
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	m.payments[key] = p
	return nil
}

// Payments returns all recorded payments. Test helper.
func (m *MemoryStore) Payments() []domain.Payment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Payment, 0, len(m.payments))
	for _, p := range m.payments {
		res = append(res, p)
	}
	return res
}
