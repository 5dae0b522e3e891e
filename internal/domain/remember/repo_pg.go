package remember

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) Get(ctx context.Context, deviceID uuid.UUID) (*Record, error) {
	var rec Record
	err := r.pool.QueryRow(ctx, `
		SELECT device_id, phone, expires_at, created_at
		FROM remember_me WHERE device_id = $1`, deviceID).
		Scan(&rec.DeviceID, &rec.Phone, &rec.ExpiresAt, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *repoPG) Put(ctx context.Context, rec *Record) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO remember_me (device_id, phone, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (device_id) DO UPDATE SET phone = $2, expires_at = $3`,
		rec.DeviceID, rec.Phone, rec.ExpiresAt)
	return err
}

func (r *repoPG) Delete(ctx context.Context, deviceID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM remember_me WHERE device_id = $1`, deviceID)
	return err
}
