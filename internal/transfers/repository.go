package transfers

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-erp/atlas-erp/internal/stock"
)

// TxRepository exposes the transactional surface of the transfer workflow;
// Stock() is bound to the same transaction.
type TxRepository interface {
	FindDraftForRoute(ctx context.Context, fromID, toID int64) (Request, error)
	InsertRequest(ctx context.Context, req Request) (int64, error)
	GetForUpdate(ctx context.Context, id int64) (Request, error)
	ReplaceLines(ctx context.Context, requestID int64, lines []Line) error
	GetLines(ctx context.Context, requestID int64) ([]Line, error)
	UpdateRequest(ctx context.Context, req Request) error
	UpdateLine(ctx context.Context, line Line) error
	LockNumbers(ctx context.Context, toID int64, prefix string) ([]string, error)
	Stock() stock.TxRepository
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Request, []Line, error)
	List(ctx context.Context, filter ListFilter) ([]Request, error)
}

// ListFilter narrows request listings.
type ListFilter struct {
	FromSalesPointID int64
	ToSalesPointID   int64
	Status           Status
	Limit            int
}

// Repository persists transfer requests in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &txRepo{tx: tx}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) Stock() stock.TxRepository {
	return stock.NewTxRepository(t.tx)
}

const requestColumns = `id, from_salespoint_id, to_salespoint_id, requested_by, decided_by, number, status, created_at, sent_at, decided_at, fulfilled_at`

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	err := row.Scan(&req.ID, &req.FromSalesPointID, &req.ToSalesPointID,
		&req.RequestedBy, &req.DecidedBy, &req.Number, &req.Status,
		&req.CreatedAt, &req.SentAt, &req.DecidedAt, &req.FulfilledAt)
	return req, err
}

// FindDraftForRoute returns the newest draft between the two endpoints, locked.
func (t *txRepo) FindDraftForRoute(ctx context.Context, fromID, toID int64) (Request, error) {
	req, err := scanRequest(t.tx.QueryRow(ctx, `
		SELECT `+requestColumns+`
		FROM transfer_requests
		WHERE from_salespoint_id = $1 AND to_salespoint_id = $2 AND status = 'draft'
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE`,
		fromID, toID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, ErrNotFound
	}
	return req, err
}

func (t *txRepo) InsertRequest(ctx context.Context, req Request) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO transfer_requests (from_salespoint_id, to_salespoint_id, requested_by, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		req.FromSalesPointID, req.ToSalesPointID, req.RequestedBy, req.Status).Scan(&id)
	return id, err
}

func (t *txRepo) GetForUpdate(ctx context.Context, id int64) (Request, error) {
	req, err := scanRequest(t.tx.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM transfer_requests WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, ErrNotFound
	}
	return req, err
}

func (t *txRepo) ReplaceLines(ctx context.Context, requestID int64, lines []Line) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM transfer_request_lines WHERE request_id = $1`, requestID); err != nil {
		return err
	}
	for _, l := range lines {
		_, err := t.tx.Exec(ctx, `
			INSERT INTO transfer_request_lines (request_id, product_id, qty_requested, qty_granted, available_at_source)
			VALUES ($1, $2, $3, $4, $5)`,
			requestID, l.ProductID, l.QtyRequested, l.QtyGranted, l.AvailableAtSource)
		if err != nil {
			return err
		}
	}
	return nil
}

const lineColumns = `id, request_id, product_id, qty_requested, qty_granted, available_at_source`

func scanLines(rows pgx.Rows) ([]Line, error) {
	defer rows.Close()
	out := make([]Line, 0)
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.RequestID, &l.ProductID, &l.QtyRequested, &l.QtyGranted, &l.AvailableAtSource); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *txRepo) GetLines(ctx context.Context, requestID int64) ([]Line, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+lineColumns+` FROM transfer_request_lines WHERE request_id = $1 ORDER BY id`, requestID)
	if err != nil {
		return nil, err
	}
	return scanLines(rows)
}

func (t *txRepo) UpdateRequest(ctx context.Context, req Request) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE transfer_requests
		SET decided_by = $2, number = $3, status = $4, sent_at = $5, decided_at = $6, fulfilled_at = $7
		WHERE id = $1`,
		req.ID, req.DecidedBy, req.Number, req.Status, req.SentAt, req.DecidedAt, req.FulfilledAt)
	return err
}

func (t *txRepo) UpdateLine(ctx context.Context, line Line) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE transfer_request_lines
		SET qty_requested = $2, qty_granted = $3
		WHERE id = $1`,
		line.ID, line.QtyRequested, line.QtyGranted)
	return err
}

// LockNumbers returns the references already issued to the destination under
// the prefix, locked for sequencing.
func (t *txRepo) LockNumbers(ctx context.Context, toID int64, prefix string) ([]string, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT number FROM transfer_requests
		WHERE to_salespoint_id = $1 AND number LIKE $2 || '%'
		FOR UPDATE`,
		toID, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var numbers []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}

func (r *Repository) Get(ctx context.Context, id int64) (Request, []Line, error) {
	req, err := scanRequest(r.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM transfer_requests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, nil, ErrNotFound
	}
	if err != nil {
		return Request{}, nil, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+lineColumns+` FROM transfer_request_lines WHERE request_id = $1 ORDER BY id`, id)
	if err != nil {
		return Request{}, nil, err
	}
	lines, err := scanLines(rows)
	return req, lines, err
}

func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Request, error) {
	query := `SELECT ` + requestColumns + ` FROM transfer_requests WHERE 1=1`
	args := []interface{}{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		query += ` AND ` + clause + ` $` + strconv.Itoa(len(args))
	}
	if filter.FromSalesPointID > 0 {
		add(`from_salespoint_id =`, filter.FromSalesPointID)
	}
	if filter.ToSalesPointID > 0 {
		add(`to_salespoint_id =`, filter.ToSalesPointID)
	}
	if filter.Status != "" {
		add(`status =`, filter.Status)
	}
	query += ` ORDER BY created_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Request, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}
