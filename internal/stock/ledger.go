package stock

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ledger writes and reads the immutable stock journal. Entries describe counter
// changes after the fact; a lost entry never blocks the movement it describes,
// so workflow code records through RecordBestEffort after its transaction
// commits.
type Ledger struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewLedger returns a new Ledger.
func NewLedger(pool *pgxpool.Pool, logger *slog.Logger) *Ledger {
	return &Ledger{pool: pool, logger: logger}
}

const entryColumns = `id, salespoint_id, product_id, qty, reason, reference, actor_id, document_type, document_id, notes, is_reversal, reversed_entry_id, reversal_reason, created_at`

// Record persists the entry and returns its id.
func (l *Ledger) Record(ctx context.Context, e Entry) (int64, error) {
	if e.Qty == 0 {
		return 0, errors.New("stock: ledger entry requires non-zero qty")
	}
	if e.Reason == "" {
		return 0, errors.New("stock: ledger entry requires a reason")
	}
	var id int64
	err := l.pool.QueryRow(ctx, `
		INSERT INTO stock_ledger (salespoint_id, product_id, qty, reason, reference, actor_id,
			document_type, document_id, notes, is_reversal, reversed_entry_id, reversal_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		e.SalesPointID, e.ProductID, e.Qty, e.Reason, e.Reference, e.ActorID,
		e.DocumentType, e.DocumentID, e.Notes, e.IsReversal, e.ReversedEntryID, e.ReversalReason).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// RecordBestEffort persists the entry, logging instead of failing. Counter
// updates have already committed by the time this runs; surfacing the error
// would fail an operation that in fact succeeded.
func (l *Ledger) RecordBestEffort(ctx context.Context, e Entry) {
	if l == nil {
		return
	}
	if _, err := l.Record(ctx, e); err != nil {
		l.logger.Error("stock ledger write failed",
			"salespoint_id", e.SalesPointID,
			"product_id", e.ProductID,
			"reason", e.Reason,
			"reference", e.Reference,
			"error", err)
	}
}

// Reverse appends a compensating entry for id. The original entry is never
// touched; reversals of reversals are rejected.
func (l *Ledger) Reverse(ctx context.Context, id, actorID int64, reason string) (int64, error) {
	var orig Entry
	err := l.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM stock_ledger WHERE id = $1`, id).Scan(
		&orig.ID, &orig.SalesPointID, &orig.ProductID, &orig.Qty, &orig.Reason,
		&orig.Reference, &orig.ActorID, &orig.DocumentType, &orig.DocumentID, &orig.Notes,
		&orig.IsReversal, &orig.ReversedEntryID, &orig.ReversalReason, &orig.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrEntryNotFound
	}
	if err != nil {
		return 0, err
	}
	if orig.IsReversal {
		return 0, ErrReverseReversal
	}

	return l.Record(ctx, Entry{
		SalesPointID:    orig.SalesPointID,
		ProductID:       orig.ProductID,
		Qty:             -orig.Qty,
		Reason:          orig.Reason,
		Reference:       orig.Reference,
		ActorID:         actorID,
		DocumentType:    orig.DocumentType,
		DocumentID:      orig.DocumentID,
		IsReversal:      true,
		ReversedEntryID: &orig.ID,
		ReversalReason:  reason,
	})
}

// List returns journal entries matching the filter, newest first.
func (l *Ledger) List(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM stock_ledger WHERE 1=1`
	args := []interface{}{}

	add := func(clause string, v interface{}) {
		args = append(args, v)
		query += ` AND ` + clause + ` $` + strconv.Itoa(len(args))
	}
	if filter.SalesPointID > 0 {
		add(`salespoint_id =`, filter.SalesPointID)
	}
	if filter.ProductID > 0 {
		add(`product_id =`, filter.ProductID)
	}
	if filter.Reason != "" {
		add(`reason =`, filter.Reason)
	}
	if filter.Reference != "" {
		add(`reference =`, filter.Reference)
	}
	if !filter.From.IsZero() {
		add(`created_at >=`, filter.From)
	}
	if !filter.To.IsZero() {
		add(`created_at <=`, filter.To)
	}

	query += ` ORDER BY created_at DESC, id DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ID, &e.SalesPointID, &e.ProductID, &e.Qty, &e.Reason,
			&e.Reference, &e.ActorID, &e.DocumentType, &e.DocumentID, &e.Notes,
			&e.IsReversal, &e.ReversedEntryID, &e.ReversalReason, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
