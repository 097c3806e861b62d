package job

import (
	"context"
	"errors"
	"slices"
	"time"
)

// ErrJobNotFound is returned when a job cannot be found by ID.
var ErrJobNotFound = errors.New("job not found")

// Filter selects jobs returned by Repository.List. The zero Filter
// matches every job.
type Filter struct {
	// Statuses keeps jobs in any of the listed states.
	Statuses []Status
	// Workflow keeps jobs started from the named workflow.
	Workflow string
}

// Match reports whether j passes the filter.
func (f Filter) Match(j *Job) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, j.Status) {
		return false
	}
	return f.Workflow == "" || f.Workflow == j.Workflow
}

// Repository stores jobs.
type Repository interface {
	// Save stores a snapshot of job, replacing any earlier one.
	Save(ctx context.Context, job *Job) error

	// FindByID returns ErrJobNotFound for unknown IDs.
	FindByID(ctx context.Context, id string) (*Job, error)

	// List returns the jobs matching f, oldest first.
	List(ctx context.Context, f Filter) ([]*Job, error)

	// Prune removes terminal jobs that finished before the cutoff and
	// returns how many were removed.
	Prune(ctx context.Context, before time.Time) (int, error)
}
