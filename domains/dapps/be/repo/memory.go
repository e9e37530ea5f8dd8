package repo

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/zenGate-Global/dappbot-ops/domains/dapps/be/service"
)

// MemoryRepository is an in-memory implementation suitable for tests and local runs.
type MemoryRepository struct {
	mu     sync.RWMutex
	dapps  map[string]service.Dapp
	lapsed map[string]service.LapsedUser
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		dapps:  make(map[string]service.Dapp),
		lapsed: make(map[string]service.LapsedUser),
	}
}

func (r *MemoryRepository) Get(ctx context.Context, name string) (service.Dapp, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.dapps[name]
	if !ok {
		return service.Dapp{}, service.ErrNotFound
	}
	return clone(d), nil
}

func (r *MemoryRepository) Put(ctx context.Context, d service.Dapp) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dapps[d.Name] = clone(d)
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.dapps, name)
	return nil
}

func (r *MemoryRepository) ListByOwner(ctx context.Context, email string) ([]service.Dapp, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []service.Dapp
	for _, d := range r.dapps {
		if d.OwnerEmail == email {
			out = append(out, clone(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemoryRepository) PutLapsedUser(ctx context.Context, u service.LapsedUser) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lapsed[u.OwnerEmail] = u
	return nil
}

func (r *MemoryRepository) DeleteLapsedUser(ctx context.Context, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lapsed, email)
	return nil
}

func (r *MemoryRepository) ScanLapsedUsers(ctx context.Context) ([]service.LapsedUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]service.LapsedUser, 0, len(r.lapsed))
	for _, u := range r.lapsed {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OwnerEmail < out[j].OwnerEmail })
	return out, nil
}

func clone(d service.Dapp) service.Dapp {
	if d.Attributes != nil {
		d.Attributes = maps.Clone(d.Attributes)
	}
	return d
}

// Ensure interface compliance.
var _ service.Repository = (*MemoryRepository)(nil)
