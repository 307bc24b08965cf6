package job

import (
	"context"
	"slices"
	"sync"
)

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// DefaultRetention is the number of terminal records MemoryRepository keeps.
const DefaultRetention = 200

// MemoryRepository is an in-memory implementation of Repository.
// Records do not survive a restart. Once more than the retention limit of
// terminal records exist, the oldest terminal ones are dropped.
type MemoryRepository struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	order     []string
	retention int
}

// NewMemoryRepository creates a repository keeping up to retention terminal
// records. A non-positive retention selects DefaultRetention.
func NewMemoryRepository(retention int) *MemoryRepository {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryRepository{
		jobs:      make(map[string]*Job),
		retention: retention,
	}
}

// Save persists a clone of the record.
func (r *MemoryRepository) Save(_ context.Context, job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; !ok {
		r.order = append(r.order, job.ID)
	}
	r.jobs[job.ID] = job.Clone()
	r.prune()
	return nil
}

// FindByID retrieves a clone of the record.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// List returns clones of all records in insertion order.
func (r *MemoryRepository) List(_ context.Context) ([]*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Job, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.jobs[id].Clone())
	}
	return result, nil
}

// prune drops the oldest terminal records beyond the retention limit.
// Must be called with r.mu held.
func (r *MemoryRepository) prune() {
	terminal := 0
	for _, id := range r.order {
		if r.jobs[id].IsTerminal() {
			terminal++
		}
	}
	excess := terminal - r.retention
	if excess <= 0 {
		return
	}
	r.order = slices.DeleteFunc(r.order, func(id string) bool {
		if excess > 0 && r.jobs[id].IsTerminal() {
			delete(r.jobs, id)
			excess--
			return true
		}
		return false
	})
}
