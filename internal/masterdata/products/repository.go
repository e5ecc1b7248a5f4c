package products

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-erp/atlas-erp/internal/platform/httpx"
)

// Repository persists products in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const columns = `id, name, model, sku, kind, cost_price, selling_price, wholesale_price, discount_price, min_quantity, is_active, created_at, updated_at`

func scan(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Model, &p.SKU, &p.Kind,
		&p.CostPrice, &p.SellingPrice, &p.WholesalePrice, &p.DiscountPrice,
		&p.MinQuantity, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// ListFilter narrows product listings.
type ListFilter struct {
	Search     string
	Kind       Kind
	ActiveOnly bool
	Limit      int
	Offset     int
}

func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Product, int64, error) {
	where := ` FROM products WHERE 1=1`
	args := []interface{}{}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := strconv.Itoa(len(args))
		where += ` AND (name ILIKE $` + n + ` OR sku ILIKE $` + n + ` OR model ILIKE $` + n + `)`
	}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		where += ` AND kind = $` + strconv.Itoa(len(args))
	}
	if filter.ActiveOnly {
		where += ` AND is_active`
	}

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*)`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + columns + where + ` ORDER BY name`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]Product, 0)
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (r *Repository) Get(ctx context.Context, id int64) (Product, error) {
	p, err := scan(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, httpx.ErrNotFound
	}
	return p, err
}

// GetMany loads products by id in one query. Missing ids are simply absent
// from the result; callers decide whether that is an error.
func (r *Repository) GetMany(ctx context.Context, ids []int64) (map[int64]Product, error) {
	if len(ids) == 0 {
		return map[int64]Product{}, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+columns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]Product, len(ids))
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (r *Repository) Create(ctx context.Context, p Product) (Product, error) {
	return scan(r.pool.QueryRow(ctx, `
		INSERT INTO products (name, model, sku, kind, cost_price, selling_price, wholesale_price, discount_price, min_quantity, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+columns,
		p.Name, p.Model, p.SKU, p.Kind,
		p.CostPrice, p.SellingPrice, p.WholesalePrice, p.DiscountPrice,
		p.MinQuantity, p.IsActive))
}

func (r *Repository) Update(ctx context.Context, id int64, p Product) (Product, error) {
	updated, err := scan(r.pool.QueryRow(ctx, `
		UPDATE products
		SET name = $2, model = $3, sku = $4, kind = $5,
		    cost_price = $6, selling_price = $7, wholesale_price = $8, discount_price = $9,
		    min_quantity = $10, is_active = $11, updated_at = now()
		WHERE id = $1
		RETURNING `+columns,
		id, p.Name, p.Model, p.SKU, p.Kind,
		p.CostPrice, p.SellingPrice, p.WholesalePrice, p.DiscountPrice,
		p.MinQuantity, p.IsActive))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, httpx.ErrNotFound
	}
	return updated, err
}
