package remember

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Save records the phone for the device with a fresh 30-day window. Written
// only when the user opts in; the handler enforces that.
func (s *Service) Save(ctx context.Context, deviceID uuid.UUID, phone string) error {
	return s.repo.Put(ctx, &Record{
		DeviceID:  deviceID,
		Phone:     phone,
		ExpiresAt: s.now().Add(TTL),
	})
}

// Load returns the remembered phone for the device. An expired record is
// treated as absent and removed from storage as a side effect.
func (s *Service) Load(ctx context.Context, deviceID uuid.UUID) (string, error) {
	rec, err := s.repo.Get(ctx, deviceID)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if rec.Expired(s.now()) {
		_ = s.repo.Delete(ctx, deviceID)
		return "", nil
	}
	return rec.Phone, nil
}

// Clear removes the record. Called on explicit logout.
func (s *Service) Clear(ctx context.Context, deviceID uuid.UUID) error {
	return s.repo.Delete(ctx, deviceID)
}
