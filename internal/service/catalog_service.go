package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/minwoneasy/minwon-api/internal/domain"
	"github.com/minwoneasy/minwon-api/internal/repository"
)

var ErrDepartmentNotFound = errors.New("department not found")

// CatalogService serves the category and department lookups
type CatalogService struct {
	categories  repository.CategoryRepository
	departments repository.DepartmentRepository
}

func NewCatalogService(repos *repository.Repositories) *CatalogService {
	return &CatalogService{
		categories:  repos.Category,
		departments: repos.Department,
	}
}

func (s *CatalogService) Categories(ctx context.Context) ([]*domain.Category, error) {
	categories, err := s.categories.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return categories, nil
}

// Departments lists departments, optionally only those of one category
func (s *CatalogService) Departments(ctx context.Context, categoryID *int64) ([]*domain.Department, error) {
	departments, err := s.departments.List(ctx, categoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list departments: %w", err)
	}
	return departments, nil
}

func (s *CatalogService) Department(ctx context.Context, id int64) (*domain.Department, error) {
	d, err := s.departments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDepartmentNotFound
		}
		return nil, fmt.Errorf("failed to get department: %w", err)
	}
	return d, nil
}
