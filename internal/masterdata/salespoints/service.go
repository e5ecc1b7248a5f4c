package salespoints

import (
	"context"
	"strings"

	"github.com/atlas-erp/atlas-erp/internal/refs"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	List(ctx context.Context, search string) ([]SalesPoint, error)
	Get(ctx context.Context, id int64) (SalesPoint, error)
	Warehouse(ctx context.Context) (SalesPoint, error)
	Create(ctx context.Context, sp SalesPoint) (SalesPoint, error)
	Update(ctx context.Context, id int64, sp SalesPoint) (SalesPoint, error)
}

// Service manages salespoints.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, search string) ([]SalesPoint, error) {
	return s.repo.List(ctx, search)
}

func (s *Service) Get(ctx context.Context, id int64) (SalesPoint, error) {
	return s.repo.Get(ctx, id)
}

// Warehouse resolves the central warehouse location.
func (s *Service) Warehouse(ctx context.Context) (SalesPoint, error) {
	return s.repo.Warehouse(ctx)
}

// Create registers a salespoint. The invoice code is derived from the name
// unless given explicitly; it feeds every reference this location will ever
// number, so it is fixed at creation.
func (s *Service) Create(ctx context.Context, sp SalesPoint) (SalesPoint, error) {
	sp.Name = strings.TrimSpace(sp.Name)
	if err := s.validate(sp); err != nil {
		return SalesPoint{}, err
	}
	if sp.Code == "" {
		sp.Code = refs.SalesPointCode(sp.Name)
	}
	sp.Code = strings.ToUpper(strings.TrimSpace(sp.Code))
	return s.repo.Create(ctx, sp)
}

func (s *Service) Update(ctx context.Context, id int64, sp SalesPoint) (SalesPoint, error) {
	sp.Name = strings.TrimSpace(sp.Name)
	if err := s.validate(sp); err != nil {
		return SalesPoint{}, err
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return SalesPoint{}, err
	}
	// References already issued embed the code; renames never change it.
	sp.Code = current.Code
	sp.CreatedAt = current.CreatedAt
	return s.repo.Update(ctx, id, sp)
}
