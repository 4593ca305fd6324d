package job

import (
	"context"
	"errors"
)

// ErrJobNotFound is returned when a job cannot be found by ID.
var ErrJobNotFound = errors.New("job not found")

// Repository stores transcription jobs. Implementations hand out copies, so a
// caller must Save a job again for its changes to be visible.
type Repository interface {
	// Save inserts or replaces the job with the same ID.
	Save(ctx context.Context, job *Job) error

	// FindByID returns ErrJobNotFound if the job does not exist.
	FindByID(ctx context.Context, id string) (*Job, error)

	// List returns every stored job, oldest first.
	List(ctx context.Context) ([]*Job, error)

	// Delete forgets a job. Returns ErrJobNotFound if the job does not exist.
	Delete(ctx context.Context, id string) error
}
