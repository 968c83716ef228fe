package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/minwoneasy/minwon-api/internal/domain"
	"github.com/minwoneasy/minwon-api/pkg/database"
)

type categoryRepository struct {
	db *database.Postgres
}

// NewCategoryRepository creates a new category repository
func NewCategoryRepository(db *database.Postgres) CategoryRepository {
	return &categoryRepository{db: db}
}

func (r *categoryRepository) List(ctx context.Context) ([]*domain.Category, error) {
	query := `SELECT category_id, name, display_name FROM categories ORDER BY category_id`

	rows, err := r.db.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	categories := []*domain.Category{}
	for rows.Next() {
		c := &domain.Category{}
		if err := rows.Scan(&c.ID, &c.Name, &c.DisplayName); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate categories: %w", err)
	}

	return categories, nil
}

func (r *categoryRepository) Exists(ctx context.Context, id int64) (bool, error) {
	return exists(ctx, r.db, `SELECT EXISTS (SELECT 1 FROM categories WHERE category_id = $1)`, id)
}

type departmentRepository struct {
	db *database.Postgres
}

// NewDepartmentRepository creates a new department repository
func NewDepartmentRepository(db *database.Postgres) DepartmentRepository {
	return &departmentRepository{db: db}
}

const departmentColumns = `department_id, category_id, name, organization, contact_phone, contact_email`

// List returns departments ordered by id, optionally limited to one category
func (r *departmentRepository) List(ctx context.Context, categoryID *int64) ([]*domain.Department, error) {
	query := `SELECT ` + departmentColumns + ` FROM departments`
	args := []any{}
	if categoryID != nil {
		query += ` WHERE category_id = $1`
		args = append(args, *categoryID)
	}
	query += ` ORDER BY department_id`

	rows, err := r.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list departments: %w", err)
	}
	defer rows.Close()

	departments := []*domain.Department{}
	for rows.Next() {
		d, err := scanDepartment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan department: %w", err)
		}
		departments = append(departments, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate departments: %w", err)
	}

	return departments, nil
}

func (r *departmentRepository) GetByID(ctx context.Context, id int64) (*domain.Department, error) {
	query := `SELECT ` + departmentColumns + ` FROM departments WHERE department_id = $1`

	d, err := scanDepartment(r.db.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("department with id %d not found: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get department: %w", err)
	}

	return d, nil
}

func (r *departmentRepository) Exists(ctx context.Context, id int64) (bool, error) {
	return exists(ctx, r.db, `SELECT EXISTS (SELECT 1 FROM departments WHERE department_id = $1)`, id)
}

func scanDepartment(row scanner) (*domain.Department, error) {
	d := &domain.Department{}
	var categoryID sql.NullInt64
	var organization, phone, email sql.NullString

	if err := row.Scan(&d.ID, &categoryID, &d.Name, &organization, &phone, &email); err != nil {
		return nil, err
	}

	d.CategoryID = nullInt64(categoryID)
	d.Organization = nullString(organization)
	d.ContactPhone = nullString(phone)
	d.ContactEmail = nullString(email)

	return d, nil
}

func exists(ctx context.Context, db *database.Postgres, query string, id int64) (bool, error) {
	var found bool
	if err := db.DB.QueryRowContext(ctx, query, id).Scan(&found); err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return found, nil
}
