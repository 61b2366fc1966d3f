package account

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/medclinic/clinic/internal/platform/apperr"
)

// MemoryRepo is an in-process Repository used by tests.
type MemoryRepo struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{accounts: make(map[string]*Account)}
}

// Add stores a, assigning an id when it has none.
func (m *MemoryRepo) Add(a *Account) *Account {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[strings.ToLower(a.Email)] = a
	return a
}

func (m *MemoryRepo) GetByEmail(_ context.Context, email string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[strings.ToLower(email)]
	if !ok {
		return nil, apperr.NotFound("account not found")
	}
	cp := *a
	return &cp, nil
}
