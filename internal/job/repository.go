package job

import (
	"context"
	"errors"
)

// ErrJobNotFound is returned when a unit record cannot be found by ID.
var ErrJobNotFound = errors.New("unit not found")

// Repository stores unit records.
type Repository interface {
	// Save persists a record. An existing record with the same id is replaced.
	Save(ctx context.Context, job *Job) error

	// FindByID retrieves a record by its unit id.
	// Returns ErrJobNotFound if the record does not exist.
	FindByID(ctx context.Context, id string) (*Job, error)

	// List returns all records, oldest first.
	List(ctx context.Context) ([]*Job, error)
}
