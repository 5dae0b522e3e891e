package remember

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

type mockRepo struct {
	records map[uuid.UUID]*Record
}

func newMockRepo() *mockRepo {
	return &mockRepo{records: make(map[uuid.UUID]*Record)}
}

func (m *mockRepo) Get(_ context.Context, deviceID uuid.UUID) (*Record, error) {
	r, ok := m.records[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

func (m *mockRepo) Put(_ context.Context, r *Record) error {
	m.records[r.DeviceID] = r
	return nil
}

func (m *mockRepo) Delete(_ context.Context, deviceID uuid.UUID) error {
	delete(m.records, deviceID)
	return nil
}

func TestService_SaveAndLoad(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	device := uuid.New()

	if err := svc.Save(context.Background(), device, "+15551234567"); err != nil {
		t.Fatalf("save: %v", err)
	}
	phone, err := svc.Load(context.Background(), device)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if phone != "+15551234567" {
		t.Errorf("got %q, want saved phone", phone)
	}
}

func TestService_LoadUnknownDevice(t *testing.T) {
	svc := NewService(newMockRepo())
	phone, err := svc.Load(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if phone != "" {
		t.Errorf("got %q, want empty", phone)
	}
}

// A record past its window is treated as absent and deleted on read.
func TestService_ExpiredRecordRemoved(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	device := uuid.New()

	repo.records[device] = &Record{
		DeviceID:  device,
		Phone:     "+15551234567",
		ExpiresAt: time.Now().Add(-time.Hour),
	}

	phone, err := svc.Load(context.Background(), device)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if phone != "" {
		t.Errorf("expired record returned %q", phone)
	}
	if _, ok := repo.records[device]; ok {
		t.Error("expired record not removed from storage")
	}
}

func TestService_Clear(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	device := uuid.New()

	if err := svc.Save(context.Background(), device, "+15551234567"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := svc.Clear(context.Background(), device); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if phone, _ := svc.Load(context.Background(), device); phone != "" {
		t.Errorf("record survives clear: %q", phone)
	}
}

func TestService_SaveRefreshesWindow(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	device := uuid.New()

	if err := svc.Save(context.Background(), device, "+15551234567"); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec := repo.records[device]
	until := time.Until(rec.ExpiresAt)
	if until < TTL-time.Minute || until > TTL {
		t.Errorf("expiry window = %v, want about %v", until, TTL)
	}
}
