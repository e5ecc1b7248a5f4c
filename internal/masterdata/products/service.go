package products

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	List(ctx context.Context, filter ListFilter) ([]Product, int64, error)
	Get(ctx context.Context, id int64) (Product, error)
	GetMany(ctx context.Context, ids []int64) (map[int64]Product, error)
	Create(ctx context.Context, p Product) (Product, error)
	Update(ctx context.Context, id int64, p Product) (Product, error)
}

// Service manages the product catalog.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]Product, int64, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	return s.repo.Get(ctx, id)
}

// GetMany loads a batch of products keyed by id.
func (s *Service) GetMany(ctx context.Context, ids []int64) (map[int64]Product, error) {
	return s.repo.GetMany(ctx, ids)
}

func (s *Service) Create(ctx context.Context, p Product) (Product, error) {
	normalize(&p)
	if err := validate(p); err != nil {
		return Product{}, err
	}
	return s.repo.Create(ctx, p)
}

func (s *Service) Update(ctx context.Context, id int64, p Product) (Product, error) {
	normalize(&p)
	if err := validate(p); err != nil {
		return Product{}, err
	}
	return s.repo.Update(ctx, id, p)
}

func normalize(p *Product) {
	p.Name = strings.TrimSpace(p.Name)
	p.SKU = strings.TrimSpace(p.SKU)
	if p.Kind == "" {
		p.Kind = KindPart
	}
}

func validate(p Product) error {
	if p.Name == "" {
		return errors.New("product name is required")
	}
	if p.Kind != KindPart && p.Kind != KindVehicle {
		return errors.New("unknown product kind")
	}
	for _, price := range []decimal.Decimal{p.CostPrice, p.SellingPrice, p.WholesalePrice, p.DiscountPrice} {
		if price.IsNegative() {
			return errors.New("prices cannot be negative")
		}
	}
	if p.MinQuantity < 0 {
		return errors.New("min quantity cannot be negative")
	}
	return nil
}
