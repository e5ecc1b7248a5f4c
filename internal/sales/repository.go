package sales

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atlas-erp/atlas-erp/internal/stock"
)

// TxRepository exposes the transactional surface the sale workflows need.
// Stock() is bound to the same transaction, so reservations and sale writes
// commit or roll back together.
type TxRepository interface {
	LockNumbers(ctx context.Context, salesPointID int64, prefix string) ([]string, error)
	InsertSale(ctx context.Context, sale Sale) (int64, error)
	InsertLines(ctx context.Context, saleID int64, lines []Line) error
	GetSaleForUpdate(ctx context.Context, id int64) (Sale, error)
	GetLines(ctx context.Context, saleID int64) ([]Line, error)
	UpdateSale(ctx context.Context, sale Sale) error
	UpdateLine(ctx context.Context, line Line) error
	DeleteLine(ctx context.Context, id int64) error
	InsertRequest(ctx context.Context, req CancellationRequest) (int64, error)
	InsertRequestLines(ctx context.Context, requestID int64, lines []CancellationLine) error
	GetRequestForUpdate(ctx context.Context, id int64) (CancellationRequest, error)
	GetRequestLines(ctx context.Context, requestID int64) ([]CancellationLine, error)
	UpdateRequest(ctx context.Context, req CancellationRequest) error
	Stock() stock.TxRepository
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSale(ctx context.Context, id int64) (Sale, []Line, error)
	GetSaleByNumber(ctx context.Context, salesPointID int64, number string) (Sale, []Line, error)
	ListSales(ctx context.Context, filter ListFilter) ([]Sale, int64, error)
	GetRequest(ctx context.Context, id int64) (CancellationRequest, []CancellationLine, error)
	ListRequests(ctx context.Context, status RequestStatus) ([]CancellationRequest, error)
}

// ListFilter narrows sale listings.
type ListFilter struct {
	SalesPointID int64
	Status       Status
	Kind         string
	From         time.Time
	To           time.Time
	Limit        int
	Offset       int
}

// Repository persists sales in PostgreSQL.
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

const saleColumns = `id, salespoint_id, seller_id, cashier_id, kind, number, customer_name, customer_phone, payment_type, status, total_amount, total_cost, gross_profit, received_amount, approved_at, cancelled_at, created_at`

func scanSale(row pgx.Row) (Sale, error) {
	var s Sale
	var received decimal.NullDecimal
	err := row.Scan(&s.ID, &s.SalesPointID, &s.SellerID, &s.CashierID, &s.Kind, &s.Number,
		&s.CustomerName, &s.CustomerPhone, &s.PaymentType, &s.Status,
		&s.TotalAmount, &s.TotalCost, &s.GrossProfit, &received,
		&s.ApprovedAt, &s.CancelledAt, &s.CreatedAt)
	if err != nil {
		return Sale{}, err
	}
	if received.Valid {
		s.ReceivedAmount = &received.Decimal
	}
	return s, nil
}

// LockNumbers returns the invoice numbers already issued under the prefix,
// locking them so concurrent drafts sequence one at a time.
func (t *txRepo) LockNumbers(ctx context.Context, salesPointID int64, prefix string) ([]string, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT number FROM sales
		WHERE salespoint_id = $1 AND number LIKE $2 || '%'
		FOR UPDATE`,
		salesPointID, prefix)
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

func (t *txRepo) InsertSale(ctx context.Context, sale Sale) (int64, error) {
	var received decimal.NullDecimal
	if sale.ReceivedAmount != nil {
		received = decimal.NullDecimal{Decimal: *sale.ReceivedAmount, Valid: true}
	}
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO sales (salespoint_id, seller_id, cashier_id, kind, number, customer_name, customer_phone,
			payment_type, status, total_amount, total_cost, gross_profit, received_amount, approved_at, cancelled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`,
		sale.SalesPointID, sale.SellerID, sale.CashierID, sale.Kind, sale.Number,
		sale.CustomerName, sale.CustomerPhone, sale.PaymentType, sale.Status,
		sale.TotalAmount, sale.TotalCost, sale.GrossProfit, received,
		sale.ApprovedAt, sale.CancelledAt).Scan(&id)
	if isUniqueViolation(err) {
		return 0, ErrDuplicateNumber
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (t *txRepo) InsertLines(ctx context.Context, saleID int64, lines []Line) error {
	for _, l := range lines {
		_, err := t.tx.Exec(ctx, `
			INSERT INTO sale_lines (sale_id, product_id, quantity, unit_price, unit_cost, line_total, line_cost, line_profit)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			saleID, l.ProductID, l.Quantity, l.UnitPrice, l.UnitCost, l.LineTotal, l.LineCost, l.LineProfit)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) GetSaleForUpdate(ctx context.Context, id int64) (Sale, error) {
	s, err := scanSale(t.tx.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, ErrSaleNotFound
	}
	return s, err
}

const lineColumns = `id, sale_id, product_id, quantity, unit_price, unit_cost, line_total, line_cost, line_profit`

func scanLines(rows pgx.Rows) ([]Line, error) {
	defer rows.Close()
	out := make([]Line, 0)
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.SaleID, &l.ProductID, &l.Quantity,
			&l.UnitPrice, &l.UnitCost, &l.LineTotal, &l.LineCost, &l.LineProfit); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *txRepo) GetLines(ctx context.Context, saleID int64) ([]Line, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+lineColumns+` FROM sale_lines WHERE sale_id = $1 ORDER BY id`, saleID)
	if err != nil {
		return nil, err
	}
	return scanLines(rows)
}

func (t *txRepo) UpdateSale(ctx context.Context, sale Sale) error {
	var received decimal.NullDecimal
	if sale.ReceivedAmount != nil {
		received = decimal.NullDecimal{Decimal: *sale.ReceivedAmount, Valid: true}
	}
	_, err := t.tx.Exec(ctx, `
		UPDATE sales
		SET cashier_id = $2, status = $3, total_amount = $4, total_cost = $5, gross_profit = $6,
		    received_amount = $7, approved_at = $8, cancelled_at = $9
		WHERE id = $1`,
		sale.ID, sale.CashierID, sale.Status, sale.TotalAmount, sale.TotalCost, sale.GrossProfit,
		received, sale.ApprovedAt, sale.CancelledAt)
	return err
}

func (t *txRepo) UpdateLine(ctx context.Context, line Line) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE sale_lines
		SET quantity = $2, line_total = $3, line_cost = $4, line_profit = $5
		WHERE id = $1`,
		line.ID, line.Quantity, line.LineTotal, line.LineCost, line.LineProfit)
	return err
}

func (t *txRepo) DeleteLine(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM sale_lines WHERE id = $1`, id)
	return err
}

const requestColumns = `id, sale_id, requested_by, approver_id, status, reason, approved_at, created_at`

func scanRequest(row pgx.Row) (CancellationRequest, error) {
	var req CancellationRequest
	err := row.Scan(&req.ID, &req.SaleID, &req.RequestedBy, &req.ApproverID,
		&req.Status, &req.Reason, &req.ApprovedAt, &req.CreatedAt)
	return req, err
}

func (t *txRepo) InsertRequest(ctx context.Context, req CancellationRequest) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO sale_cancellation_requests (sale_id, requested_by, status, reason)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		req.SaleID, req.RequestedBy, req.Status, req.Reason).Scan(&id)
	return id, err
}

func (t *txRepo) InsertRequestLines(ctx context.Context, requestID int64, lines []CancellationLine) error {
	for _, l := range lines {
		_, err := t.tx.Exec(ctx, `
			INSERT INTO sale_cancellation_lines (request_id, sale_line_id, product_id, quantity, unit_price, unit_cost, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			requestID, l.SaleLineID, l.ProductID, l.Quantity, l.UnitPrice, l.UnitCost, l.LineTotal)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) GetRequestForUpdate(ctx context.Context, id int64) (CancellationRequest, error) {
	req, err := scanRequest(t.tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM sale_cancellation_requests WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return CancellationRequest{}, ErrRequestNotFound
	}
	return req, err
}

func scanRequestLines(rows pgx.Rows) ([]CancellationLine, error) {
	defer rows.Close()
	out := make([]CancellationLine, 0)
	for rows.Next() {
		var l CancellationLine
		if err := rows.Scan(&l.ID, &l.RequestID, &l.SaleLineID, &l.ProductID,
			&l.Quantity, &l.UnitPrice, &l.UnitCost, &l.LineTotal); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

const requestLineColumns = `id, request_id, sale_line_id, product_id, quantity, unit_price, unit_cost, line_total`

func (t *txRepo) GetRequestLines(ctx context.Context, requestID int64) ([]CancellationLine, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+requestLineColumns+` FROM sale_cancellation_lines WHERE request_id = $1 ORDER BY id`, requestID)
	if err != nil {
		return nil, err
	}
	return scanRequestLines(rows)
}

func (t *txRepo) UpdateRequest(ctx context.Context, req CancellationRequest) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE sale_cancellation_requests
		SET status = $2, approver_id = $3, approved_at = $4
		WHERE id = $1`,
		req.ID, req.Status, req.ApproverID, req.ApprovedAt)
	return err
}

func (r *Repository) GetSale(ctx context.Context, id int64) (Sale, []Line, error) {
	s, err := scanSale(r.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, nil, ErrSaleNotFound
	}
	if err != nil {
		return Sale{}, nil, err
	}
	lines, err := r.lines(ctx, id)
	return s, lines, err
}

func (r *Repository) GetSaleByNumber(ctx context.Context, salesPointID int64, number string) (Sale, []Line, error) {
	s, err := scanSale(r.pool.QueryRow(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE salespoint_id = $1 AND number = $2`,
		salesPointID, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, nil, ErrSaleNotFound
	}
	if err != nil {
		return Sale{}, nil, err
	}
	lines, err := r.lines(ctx, s.ID)
	return s, lines, err
}

func (r *Repository) lines(ctx context.Context, saleID int64) ([]Line, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+lineColumns+` FROM sale_lines WHERE sale_id = $1 ORDER BY id`, saleID)
	if err != nil {
		return nil, err
	}
	return scanLines(rows)
}

func (r *Repository) ListSales(ctx context.Context, filter ListFilter) ([]Sale, int64, error) {
	where := ` FROM sales WHERE 1=1`
	args := []interface{}{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where += ` AND ` + clause + ` $` + strconv.Itoa(len(args))
	}
	if filter.SalesPointID > 0 {
		add(`salespoint_id =`, filter.SalesPointID)
	}
	if filter.Status != "" {
		add(`status =`, filter.Status)
	}
	if filter.Kind != "" {
		add(`kind =`, filter.Kind)
	}
	if !filter.From.IsZero() {
		add(`created_at >=`, filter.From)
	}
	if !filter.To.IsZero() {
		add(`created_at <=`, filter.To)
	}

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*)`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + saleColumns + where + ` ORDER BY created_at DESC, id DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))
	args = append(args, filter.Offset)
	query += ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]Sale, 0)
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func (r *Repository) GetRequest(ctx context.Context, id int64) (CancellationRequest, []CancellationLine, error) {
	req, err := scanRequest(r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM sale_cancellation_requests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return CancellationRequest{}, nil, ErrRequestNotFound
	}
	if err != nil {
		return CancellationRequest{}, nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+requestLineColumns+` FROM sale_cancellation_lines WHERE request_id = $1 ORDER BY id`, id)
	if err != nil {
		return CancellationRequest{}, nil, err
	}
	lines, err := scanRequestLines(rows)
	return req, lines, err
}

func (r *Repository) ListRequests(ctx context.Context, status RequestStatus) ([]CancellationRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM sale_cancellation_requests`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]CancellationRequest, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
