package device

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// probeDocumentID is the fixed row the access probe writes per user.
const probeDocumentID = "test_document"

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL device repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Get retrieves a device by code.
func (r *PostgresRepository) Get(ctx context.Context, code string) (*Device, error) {
	query := `
		SELECT code, user_id, user_email, status, registered_at, last_seen, is_placeholder
		FROM devices
		WHERE code = $1
	`

	var device Device
	err := r.pool.QueryRow(ctx, query, code).Scan(
		&device.Code,
		&device.UserID,
		&device.UserEmail,
		&device.Status,
		&device.RegisteredAt,
		&device.LastSeen,
		&device.IsPlaceholder,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}

	return &device, nil
}

// ListByUser retrieves the devices owned by a user.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*Device, error) {
	query := `
		SELECT code, user_id, user_email, status, registered_at, last_seen, is_placeholder
		FROM devices
		WHERE user_id = $1 AND NOT is_placeholder
		ORDER BY last_seen DESC, code
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		var device Device
		err := rows.Scan(
			&device.Code,
			&device.UserID,
			&device.UserEmail,
			&device.Status,
			&device.RegisteredAt,
			&device.LastSeen,
			&device.IsPlaceholder,
		)
		if err != nil {
			return nil, err
		}
		devices = append(devices, &device)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return devices, nil
}

// Upsert creates or updates a device by code.
func (r *PostgresRepository) Upsert(ctx context.Context, device *Device) (bool, error) {
	// LastSeen strictly increases across registrations.
	query := `
		INSERT INTO devices (code, user_id, user_email, status, registered_at, last_seen, is_placeholder)
		VALUES ($1, $2, $3, $4, $5, $6, false)
		ON CONFLICT (code) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			user_email = EXCLUDED.user_email,
			status = EXCLUDED.status,
			registered_at = CASE WHEN devices.is_placeholder THEN EXCLUDED.registered_at ELSE devices.registered_at END,
			last_seen = GREATEST(EXCLUDED.last_seen, devices.last_seen + interval '1 microsecond'),
			is_placeholder = false
		RETURNING (xmax = 0) AS inserted, registered_at, last_seen
	`

	var inserted bool
	err := r.pool.QueryRow(ctx, query,
		device.Code,
		device.UserID,
		device.UserEmail,
		device.Status,
		device.RegisteredAt,
		device.LastSeen,
	).Scan(&inserted, &device.RegisteredAt, &device.LastSeen)

	if err != nil {
		return false, err
	}

	return inserted, nil
}

// SetStatus updates the status and LastSeen of an existing device.
func (r *PostgresRepository) SetStatus(ctx context.Context, code string, status Status, seenAt time.Time) error {
	query := `
		UPDATE devices SET
			status = $2,
			last_seen = GREATEST($3, last_seen + interval '1 microsecond')
		WHERE code = $1
	`

	result, err := r.pool.Exec(ctx, query, code, status, seenAt)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// Probe writes an access record for userID and reads it back.
func (r *PostgresRepository) Probe(ctx context.Context, userID string, now time.Time) (*Access, error) {
	write := `
		INSERT INTO test_access (id, user_id, checked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id, user_id) DO UPDATE SET checked_at = EXCLUDED.checked_at
	`
	if _, err := r.pool.Exec(ctx, write, probeDocumentID, userID, now); err != nil {
		return nil, err
	}

	read := `SELECT user_id, checked_at FROM test_access WHERE id = $1 AND user_id = $2`
	var access Access
	if err := r.pool.QueryRow(ctx, read, probeDocumentID, userID).Scan(&access.UserID, &access.CheckedAt); err != nil {
		return nil, err
	}
	return &access, nil
}

// EnsureBootstrap inserts a placeholder row when the table is empty.
func (r *PostgresRepository) EnsureBootstrap(ctx context.Context) error {
	query := `
		INSERT INTO devices (code, user_id, user_email, status, registered_at, last_seen, is_placeholder)
		SELECT $1, '', '', 'offline', now(), now(), true
		WHERE NOT EXISTS (SELECT 1 FROM devices)
		ON CONFLICT (code) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query, PlaceholderCode)
	return err
}

// Ensure PostgresRepository implements Repository interface.
var _ Repository = (*PostgresRepository)(nil)
