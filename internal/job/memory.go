package job

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository keeps job snapshots in a map. Jobs are cloned on the
// way in and on the way out, so callers never share state with it.
type MemoryRepository struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{jobs: make(map[string]*Job)}
}

// Save implements Repository.
func (r *MemoryRepository) Save(_ context.Context, j *Job) error {
	snapshot := j.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[snapshot.ID] = snapshot
	return nil
}

// FindByID implements Repository.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j.Clone(), nil
}

// List implements Repository. Jobs created at the same instant are
// ordered by ID.
func (r *MemoryRepository) List(_ context.Context, f Filter) ([]*Job, error) {
	r.mu.RLock()
	out := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		if f.Match(j) {
			out = append(out, j.Clone())
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// Prune implements Repository.
func (r *MemoryRepository) Prune(_ context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, j := range r.jobs {
		if j.IsTerminal() && j.CompletedAt.Before(before) {
			delete(r.jobs, id)
			n++
		}
	}
	return n, nil
}
