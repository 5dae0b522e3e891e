package remember

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no record exists for a device.
var ErrNotFound = errors.New("remember-me record not found")

type Repository interface {
	Get(ctx context.Context, deviceID uuid.UUID) (*Record, error)
	Put(ctx context.Context, r *Record) error
	Delete(ctx context.Context, deviceID uuid.UUID) error
}
