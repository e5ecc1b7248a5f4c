package restock

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-erp/atlas-erp/internal/stock"
)

// TxRepository exposes the transactional surface of the restock workflow;
// Stock() is bound to the same transaction.
type TxRepository interface {
	FindDraftForSalesPoint(ctx context.Context, salesPointID int64) (Request, error)
	InsertRequest(ctx context.Context, req Request) (int64, error)
	GetForUpdate(ctx context.Context, id int64) (Request, error)
	ReplaceLines(ctx context.Context, requestID int64, lines []Line) error
	GetLines(ctx context.Context, requestID int64) ([]Line, error)
	DeleteLine(ctx context.Context, lineID int64) error
	UpdateRequest(ctx context.Context, req Request) error
	UpdateLine(ctx context.Context, line Line) error
	PendingProductIDs(ctx context.Context, salesPointID, excludeRequestID int64) (map[int64]struct{}, error)
	LockReferences(ctx context.Context, prefix string) ([]string, error)
	InsertAudit(ctx context.Context, audit ValidationAudit) error
	Stock() stock.TxRepository
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Request, []Line, error)
	List(ctx context.Context, filter ListFilter) ([]Request, error)
	ListAudits(ctx context.Context, requestID int64) ([]ValidationAudit, error)
}

// ListFilter narrows request listings.
type ListFilter struct {
	SalesPointID int64
	Status       Status
	Limit        int
}

// Repository persists restock requests in PostgreSQL.
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

const requestColumns = `id, salespoint_id, requested_by, reference, status, created_at, sent_at, decided_by, decided_at, validated_at`

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	err := row.Scan(&req.ID, &req.SalesPointID, &req.RequestedBy, &req.Reference,
		&req.Status, &req.CreatedAt, &req.SentAt, &req.DecidedBy, &req.DecidedAt, &req.ValidatedAt)
	return req, err
}

// FindDraftForSalesPoint returns the salespoint's newest draft, locked.
func (t *txRepo) FindDraftForSalesPoint(ctx context.Context, salesPointID int64) (Request, error) {
	req, err := scanRequest(t.tx.QueryRow(ctx, `
		SELECT `+requestColumns+`
		FROM restock_requests
		WHERE salespoint_id = $1 AND status = 'draft'
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE`,
		salesPointID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, ErrNotFound
	}
	return req, err
}

func (t *txRepo) InsertRequest(ctx context.Context, req Request) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO restock_requests (salespoint_id, requested_by, reference, status, sent_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		req.SalesPointID, req.RequestedBy, req.Reference, req.Status, req.SentAt).Scan(&id)
	return id, err
}

func (t *txRepo) GetForUpdate(ctx context.Context, id int64) (Request, error) {
	req, err := scanRequest(t.tx.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM restock_requests WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, ErrNotFound
	}
	return req, err
}

const lineColumns = `id, request_id, product_id, qty_requested, qty_approved, remaining_at_request, alert_at_request, validated_at, stock_at_validation`

func scanLines(rows pgx.Rows) ([]Line, error) {
	defer rows.Close()
	out := make([]Line, 0)
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.RequestID, &l.ProductID, &l.QtyRequested, &l.QtyApproved,
			&l.RemainingAtRequest, &l.AlertAtRequest, &l.ValidatedAt, &l.StockAtValidation); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *txRepo) ReplaceLines(ctx context.Context, requestID int64, lines []Line) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM restock_lines WHERE request_id = $1`, requestID); err != nil {
		return err
	}
	for _, l := range lines {
		_, err := t.tx.Exec(ctx, `
			INSERT INTO restock_lines (request_id, product_id, qty_requested, qty_approved, remaining_at_request, alert_at_request)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			requestID, l.ProductID, l.QtyRequested, l.QtyApproved, l.RemainingAtRequest, l.AlertAtRequest)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) GetLines(ctx context.Context, requestID int64) ([]Line, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+lineColumns+` FROM restock_lines WHERE request_id = $1 ORDER BY id`, requestID)
	if err != nil {
		return nil, err
	}
	return scanLines(rows)
}

func (t *txRepo) DeleteLine(ctx context.Context, lineID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM restock_lines WHERE id = $1`, lineID)
	return err
}

func (t *txRepo) UpdateRequest(ctx context.Context, req Request) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE restock_requests
		SET reference = $2, status = $3, sent_at = $4, decided_by = $5, decided_at = $6, validated_at = $7
		WHERE id = $1`,
		req.ID, req.Reference, req.Status, req.SentAt, req.DecidedBy, req.DecidedAt, req.ValidatedAt)
	return err
}

func (t *txRepo) UpdateLine(ctx context.Context, line Line) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE restock_lines
		SET qty_requested = $2, qty_approved = $3, validated_at = $4, stock_at_validation = $5
		WHERE id = $1`,
		line.ID, line.QtyRequested, line.QtyApproved, line.ValidatedAt, line.StockAtValidation)
	return err
}

// PendingProductIDs lists products the salespoint is already awaiting on open
// requests, so a new send does not double-order them.
func (t *txRepo) PendingProductIDs(ctx context.Context, salesPointID, excludeRequestID int64) (map[int64]struct{}, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT l.product_id
		FROM restock_lines l
		JOIN restock_requests r ON r.id = l.request_id
		WHERE r.salespoint_id = $1
		  AND r.id <> $2
		  AND r.status IN ('sent', 'approved', 'partially_validated')`,
		salesPointID, excludeRequestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]struct{})
	for rows.Next() {
		var pid int64
		if err := rows.Scan(&pid); err != nil {
			return nil, err
		}
		out[pid] = struct{}{}
	}
	return out, rows.Err()
}

// LockReferences returns the references already issued under the prefix,
// locked for sequencing. Restock references are warehouse-wide, not scoped to
// a salespoint.
func (t *txRepo) LockReferences(ctx context.Context, prefix string) ([]string, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT reference FROM restock_requests
		WHERE reference LIKE $1 || '%'
		FOR UPDATE`,
		prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (t *txRepo) InsertAudit(ctx context.Context, audit ValidationAudit) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO restock_validation_audits (request_id, product_id, validated_by, qty_validated, stock_before, stock_after, cost_price, total_value)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		audit.RequestID, audit.ProductID, audit.ValidatedBy, audit.QtyValidated,
		audit.StockBefore, audit.StockAfter, audit.CostPrice, audit.TotalValue)
	return err
}

func (r *Repository) Get(ctx context.Context, id int64) (Request, []Line, error) {
	req, err := scanRequest(r.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM restock_requests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, nil, ErrNotFound
	}
	if err != nil {
		return Request{}, nil, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+lineColumns+` FROM restock_lines WHERE request_id = $1 ORDER BY id`, id)
	if err != nil {
		return Request{}, nil, err
	}
	lines, err := scanLines(rows)
	return req, lines, err
}

func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Request, error) {
	query := `SELECT ` + requestColumns + ` FROM restock_requests WHERE 1=1`
	args := []interface{}{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		query += ` AND ` + clause + ` $` + strconv.Itoa(len(args))
	}
	if filter.SalesPointID > 0 {
		add(`salespoint_id =`, filter.SalesPointID)
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

func (r *Repository) ListAudits(ctx context.Context, requestID int64) ([]ValidationAudit, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, request_id, product_id, validated_by, qty_validated, stock_before, stock_after, cost_price, total_value, created_at
		FROM restock_validation_audits
		WHERE request_id = $1
		ORDER BY id`,
		requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ValidationAudit, 0)
	for rows.Next() {
		var a ValidationAudit
		if err := rows.Scan(&a.ID, &a.RequestID, &a.ProductID, &a.ValidatedBy, &a.QtyValidated,
			&a.StockBefore, &a.StockAfter, &a.CostPrice, &a.TotalValue, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
