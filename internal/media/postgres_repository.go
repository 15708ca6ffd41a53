package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrWatchUnavailable is returned by Watch when no listener is configured.
var ErrWatchUnavailable = errors.New("media change notifications unavailable")

const mediaColumns = `id, title, file_name, file_url, file_path, file_type, device_code, user_id,
	created_at, ts, expires_at, expired, expired_at, original_file_path, fallback_image_url, is_placeholder`

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool     *pgxpool.Pool
	listener *Listener
}

// NewPostgresRepository creates a new PostgreSQL media repository.
// listener may be nil, in which case Watch is unavailable.
func NewPostgresRepository(pool *pgxpool.Pool, listener *Listener) *PostgresRepository {
	return &PostgresRepository{pool: pool, listener: listener}
}

// Create stores a new item.
func (r *PostgresRepository) Create(ctx context.Context, item *Item) error {
	query := `
		INSERT INTO media (` + mediaColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := r.pool.Exec(ctx, query,
		item.ID,
		item.Title,
		item.FileName,
		item.FileURL,
		item.FilePath,
		item.FileType,
		item.DeviceCode,
		item.UserID,
		item.CreatedAt,
		item.Timestamp,
		item.ExpiresAt,
		item.Expired,
		item.ExpiredAt,
		item.OriginalFilePath,
		item.FallbackImageURL,
		item.IsPlaceholder,
	)
	return err
}

// Get retrieves an item by ID.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Item, error) {
	query := `SELECT ` + mediaColumns + ` FROM media WHERE id = $1`

	item, err := scanItem(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMediaNotFound
		}
		return nil, err
	}
	return item, nil
}

// ListByDevice returns the device's items in insertion order.
func (r *PostgresRepository) ListByDevice(ctx context.Context, deviceCode string) ([]*Item, error) {
	query := `
		SELECT ` + mediaColumns + `
		FROM media
		WHERE device_code = $1
		ORDER BY seq
	`
	return r.queryItems(ctx, query, deviceCode)
}

// ListByOwner returns the user's items for a device, newest first.
func (r *PostgresRepository) ListByOwner(ctx context.Context, userID, deviceCode string) ([]*Item, error) {
	query := `
		SELECT ` + mediaColumns + `
		FROM media
		WHERE user_id = $1 AND device_code = $2 AND NOT is_placeholder
		ORDER BY created_at DESC, seq
	`
	return r.queryItems(ctx, query, userID, deviceCode)
}

// ListDue returns non-expired items whose expiration has been reached.
// A limit of zero or less returns all of them.
func (r *PostgresRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*Item, error) {
	query := `
		SELECT ` + mediaColumns + `
		FROM media
		WHERE expires_at <= $1 AND expired = false AND NOT is_placeholder
		ORDER BY seq
	`
	if limit <= 0 {
		return r.queryItems(ctx, query, now)
	}
	return r.queryItems(ctx, query+" LIMIT $2", now, limit)
}

const expireQuery = `
	UPDATE media SET
		file_url = $2,
		file_type = 'image',
		expired = true,
		expired_at = $3,
		original_file_path = $4,
		file_path = NULL
	WHERE id = $1 AND expired = false
`

// Expire applies the patch if the item is not yet expired.
func (r *PostgresRepository) Expire(ctx context.Context, patch ExpirePatch) (bool, error) {
	result, err := r.pool.Exec(ctx, expireQuery, patch.ID, FallbackURL, patch.ExpiredAt, patch.OriginalFilePath)
	if err != nil {
		return false, err
	}
	if result.RowsAffected() == 0 {
		// Distinguish a missing row from an already expired one.
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM media WHERE id = $1)`, patch.ID).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, ErrMediaNotFound
		}
		return false, nil
	}
	return true, nil
}

// ExpireBatch applies all patches in one transaction.
func (r *PostgresRepository) ExpireBatch(ctx context.Context, patches []ExpirePatch) (int, error) {
	if len(patches) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	batch := &pgx.Batch{}
	for _, patch := range patches {
		batch.Queue(expireQuery, patch.ID, FallbackURL, patch.ExpiredAt, patch.OriginalFilePath)
	}

	results := tx.SendBatch(ctx, batch)
	applied := 0
	for range patches {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return 0, fmt.Errorf("expire batch: %w", err)
		}
		applied += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return applied, nil
}

// Watch subscribes to changes of a device's media via LISTEN/NOTIFY.
func (r *PostgresRepository) Watch(_ context.Context, deviceCode string) (<-chan Notification, func(), error) {
	if r.listener == nil {
		return nil, nil, ErrWatchUnavailable
	}
	ch, stop := r.listener.hub.subscribe(deviceCode)
	return ch, stop, nil
}

// EnsureBootstrap inserts a placeholder row when the table is empty.
func (r *PostgresRepository) EnsureBootstrap(ctx context.Context) error {
	query := `
		INSERT INTO media (` + mediaColumns + `)
		SELECT $1, '', '', $2, NULL, 'image', '', '', now(), NULL, now(), true, now(), NULL, $2, true
		WHERE NOT EXISTS (SELECT 1 FROM media)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query, PlaceholderID, FallbackURL)
	return err
}

func (r *PostgresRepository) queryItems(ctx context.Context, query string, args ...interface{}) ([]*Item, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanItem(row pgx.Row) (*Item, error) {
	var item Item
	err := row.Scan(
		&item.ID,
		&item.Title,
		&item.FileName,
		&item.FileURL,
		&item.FilePath,
		&item.FileType,
		&item.DeviceCode,
		&item.UserID,
		&item.CreatedAt,
		&item.Timestamp,
		&item.ExpiresAt,
		&item.Expired,
		&item.ExpiredAt,
		&item.OriginalFilePath,
		&item.FallbackImageURL,
		&item.IsPlaceholder,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Ensure PostgresRepository implements Repository interface.
var _ Repository = (*PostgresRepository)(nil)
