package stock

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists stock rows in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const rowColumns = `id, salespoint_id, product_id, opening_qty, sold_qty, transfer_in, transfer_out, reserved_qty, alert_qty, updated_at`

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

// NewTxRepository wraps an existing transaction so document workflows can
// mutate stock rows atomically with their own writes.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

// LockRow creates the row if absent, then locks it for the transaction. The
// insert and select are separate statements so the FOR UPDATE lock is taken on
// the surviving row regardless of which transaction created it.
func (t *txRepo) LockRow(ctx context.Context, salesPointID, productID int64) (Row, error) {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO stock_rows (salespoint_id, product_id)
		VALUES ($1, $2)
		ON CONFLICT (salespoint_id, product_id) DO NOTHING`,
		salesPointID, productID)
	if err != nil {
		return Row{}, err
	}

	var row Row
	err = t.tx.QueryRow(ctx, `
		SELECT `+rowColumns+`
		FROM stock_rows
		WHERE salespoint_id = $1 AND product_id = $2
		FOR UPDATE`,
		salesPointID, productID).Scan(
		&row.ID, &row.SalesPointID, &row.ProductID,
		&row.OpeningQty, &row.SoldQty, &row.TransferIn, &row.TransferOut,
		&row.ReservedQty, &row.AlertQty, &row.UpdatedAt)
	if err != nil {
		return Row{}, err
	}
	return row, nil
}

func (t *txRepo) UpdateCounters(ctx context.Context, row Row) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE stock_rows
		SET opening_qty = $2, sold_qty = $3, transfer_in = $4, transfer_out = $5,
		    reserved_qty = $6, alert_qty = $7, updated_at = now()
		WHERE id = $1`,
		row.ID, row.OpeningQty, row.SoldQty, row.TransferIn, row.TransferOut,
		row.ReservedQty, row.AlertQty)
	return err
}

func (r *Repository) GetRow(ctx context.Context, salesPointID, productID int64) (Row, error) {
	var row Row
	err := r.pool.QueryRow(ctx, `
		SELECT `+rowColumns+`
		FROM stock_rows
		WHERE salespoint_id = $1 AND product_id = $2`,
		salesPointID, productID).Scan(
		&row.ID, &row.SalesPointID, &row.ProductID,
		&row.OpeningQty, &row.SoldQty, &row.TransferIn, &row.TransferOut,
		&row.ReservedQty, &row.AlertQty, &row.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Missing rows read as empty: lazy creation means absence and zero
		// stock are the same thing.
		return Row{SalesPointID: salesPointID, ProductID: productID}, nil
	}
	if err != nil {
		return Row{}, err
	}
	return row, nil
}

func (r *Repository) ListRows(ctx context.Context, salesPointID int64, limit, offset int) ([]Row, int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM stock_rows WHERE salespoint_id = $1`,
		salesPointID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + rowColumns + ` FROM stock_rows WHERE salespoint_id = $1 ORDER BY product_id`
	args := []interface{}{salesPointID}
	if limit > 0 {
		query += ` LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]Row, 0)
	for rows.Next() {
		var row Row
		if err := rows.Scan(
			&row.ID, &row.SalesPointID, &row.ProductID,
			&row.OpeningQty, &row.SoldQty, &row.TransferIn, &row.TransferOut,
			&row.ReservedQty, &row.AlertQty, &row.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, row)
	}
	return out, total, rows.Err()
}

// ListBelowAlert returns rows at or under their alert threshold. The remaining
// formula is repeated in SQL so the scan stays a single query; GREATEST keeps
// it aligned with Row.Remaining for drifted counters.
func (r *Repository) ListBelowAlert(ctx context.Context, salesPointID int64) ([]Row, error) {
	query := `
		SELECT ` + rowColumns + `
		FROM stock_rows
		WHERE alert_qty > 0
		  AND GREATEST(opening_qty + transfer_in - transfer_out - sold_qty, 0) <= alert_qty`
	args := []interface{}{}
	if salesPointID > 0 {
		query += ` AND salespoint_id = $` + strconv.Itoa(len(args)+1)
		args = append(args, salesPointID)
	}
	query += ` ORDER BY salespoint_id, product_id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Row, 0)
	for rows.Next() {
		var row Row
		if err := rows.Scan(
			&row.ID, &row.SalesPointID, &row.ProductID,
			&row.OpeningQty, &row.SoldQty, &row.TransferIn, &row.TransferOut,
			&row.ReservedQty, &row.AlertQty, &row.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
