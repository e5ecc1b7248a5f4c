package notify

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists notifications in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, n Notification) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO notifications (salespoint_id, kind, message, link)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		n.SalesPointID, n.Kind, n.Message, n.Link).Scan(&id)
	return id, err
}

func (r *Repository) List(ctx context.Context, salesPointID int64, unreadOnly bool, limit int) ([]Notification, error) {
	query := `
		SELECT id, salespoint_id, kind, message, link, read_at, created_at
		FROM notifications
		WHERE salespoint_id = $1`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, salesPointID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Notification, 0)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.SalesPointID, &n.Kind, &n.Message, &n.Link, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *Repository) MarkRead(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET read_at = $2 WHERE id = $1 AND read_at IS NULL`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) MarkAllRead(ctx context.Context, salesPointID int64, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notifications SET read_at = $2 WHERE salespoint_id = $1 AND read_at IS NULL`, salesPointID, at)
	return err
}
