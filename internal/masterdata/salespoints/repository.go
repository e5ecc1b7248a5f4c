package salespoints

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-erp/atlas-erp/internal/platform/httpx"
)

// Repository persists salespoints in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const columns = `id, name, code, address, phone, is_warehouse, created_at, updated_at`

func scan(row pgx.Row) (SalesPoint, error) {
	var sp SalesPoint
	err := row.Scan(&sp.ID, &sp.Name, &sp.Code, &sp.Address, &sp.Phone, &sp.IsWarehouse, &sp.CreatedAt, &sp.UpdatedAt)
	return sp, err
}

func (r *Repository) List(ctx context.Context, search string) ([]SalesPoint, error) {
	query := `SELECT ` + columns + ` FROM salespoints WHERE 1=1`
	args := []interface{}{}
	if search != "" {
		args = append(args, "%"+search+"%")
		query += ` AND (name ILIKE $` + strconv.Itoa(len(args)) + ` OR code ILIKE $` + strconv.Itoa(len(args)) + `)`
	}
	query += ` ORDER BY name`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]SalesPoint, 0)
	for rows.Next() {
		sp, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

func (r *Repository) Get(ctx context.Context, id int64) (SalesPoint, error) {
	sp, err := scan(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM salespoints WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return SalesPoint{}, httpx.ErrNotFound
	}
	return sp, err
}

// Warehouse returns the salespoint flagged as the central warehouse.
func (r *Repository) Warehouse(ctx context.Context) (SalesPoint, error) {
	sp, err := scan(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM salespoints WHERE is_warehouse ORDER BY id LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return SalesPoint{}, httpx.ErrNotFound
	}
	return sp, err
}

func (r *Repository) Create(ctx context.Context, sp SalesPoint) (SalesPoint, error) {
	created, err := scan(r.pool.QueryRow(ctx, `
		INSERT INTO salespoints (name, code, address, phone, is_warehouse)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+columns,
		sp.Name, sp.Code, sp.Address, sp.Phone, sp.IsWarehouse))
	if isUniqueViolation(err) {
		return SalesPoint{}, httpx.ErrDuplicate
	}
	return created, err
}

func (r *Repository) Update(ctx context.Context, id int64, sp SalesPoint) (SalesPoint, error) {
	updated, err := scan(r.pool.QueryRow(ctx, `
		UPDATE salespoints
		SET name = $2, code = $3, address = $4, phone = $5, is_warehouse = $6, updated_at = now()
		WHERE id = $1
		RETURNING `+columns,
		id, sp.Name, sp.Code, sp.Address, sp.Phone, sp.IsWarehouse))
	if errors.Is(err, pgx.ErrNoRows) {
		return SalesPoint{}, httpx.ErrNotFound
	}
	if isUniqueViolation(err) {
		return SalesPoint{}, httpx.ErrDuplicate
	}
	return updated, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
