package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/minwoneasy/minwon-api/internal/domain"
	"github.com/minwoneasy/minwon-api/pkg/database"
)

const complaintColumns = `complaint_id, user_id, submission_type, original_text, processed_text, location,
	location_details, category_id, department_id, status, created_at, updated_at`

type complaintRepository struct {
	db *database.Postgres
}

// NewComplaintRepository creates a new complaint repository
func NewComplaintRepository(db *database.Postgres) ComplaintRepository {
	return &complaintRepository{db: db}
}

func (r *complaintRepository) Create(ctx context.Context, c *domain.Complaint) error {
	query := `
		INSERT INTO complaints (user_id, submission_type, original_text, processed_text, location,
			location_details, category_id, department_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING complaint_id, created_at, updated_at
	`

	err := r.db.DB.QueryRowContext(ctx, query,
		c.UserID,
		c.SubmissionType,
		c.OriginalText,
		c.ProcessedText,
		c.Location,
		c.LocationDetails,
		c.CategoryID,
		c.DepartmentID,
		c.Status,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create complaint: %w", err)
	}

	return nil
}

func (r *complaintRepository) GetByID(ctx context.Context, id int64) (*domain.Complaint, error) {
	query := `SELECT ` + complaintColumns + ` FROM complaints WHERE complaint_id = $1`

	c, err := scanComplaint(r.db.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("complaint with id %d not found: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get complaint: %w", err)
	}

	return c, nil
}

// ListByUser returns the user's complaints, newest first
func (r *complaintRepository) ListByUser(ctx context.Context, userID int64) ([]*domain.Complaint, error) {
	query := `SELECT ` + complaintColumns + ` FROM complaints WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list complaints: %w", err)
	}
	defer rows.Close()

	complaints := []*domain.Complaint{}
	for rows.Next() {
		c, err := scanComplaint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan complaint: %w", err)
		}
		complaints = append(complaints, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate complaints: %w", err)
	}

	return complaints, nil
}

func (r *complaintRepository) Update(ctx context.Context, c *domain.Complaint) error {
	query := `
		UPDATE complaints
		SET submission_type = $2, original_text = $3, processed_text = $4, location = $5,
			location_details = $6, category_id = $7, department_id = $8, status = $9, updated_at = NOW()
		WHERE complaint_id = $1
		RETURNING updated_at
	`

	err := r.db.DB.QueryRowContext(ctx, query,
		c.ID,
		c.SubmissionType,
		c.OriginalText,
		c.ProcessedText,
		c.Location,
		c.LocationDetails,
		c.CategoryID,
		c.DepartmentID,
		c.Status,
	).Scan(&c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("complaint with id %d not found: %w", c.ID, ErrNotFound)
		}
		return fmt.Errorf("failed to update complaint: %w", err)
	}

	return nil
}

func (r *complaintRepository) UpdateSubmissionType(ctx context.Context, id int64, submissionType domain.SubmissionType) error {
	query := `UPDATE complaints SET submission_type = $2, updated_at = NOW() WHERE complaint_id = $1`

	result, err := r.db.DB.ExecContext(ctx, query, id, submissionType)
	if err != nil {
		return fmt.Errorf("failed to update submission type: %w", err)
	}

	return expectAffected(result, "complaint", id)
}

func (r *complaintRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM complaints WHERE complaint_id = $1`

	result, err := r.db.DB.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete complaint: %w", err)
	}

	return expectAffected(result, "complaint", id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanComplaint(row scanner) (*domain.Complaint, error) {
	c := &domain.Complaint{Files: []domain.File{}}
	var originalText, processedText, location, locationDetails sql.NullString
	var categoryID, departmentID sql.NullInt64

	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.SubmissionType,
		&originalText,
		&processedText,
		&location,
		&locationDetails,
		&categoryID,
		&departmentID,
		&c.Status,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.OriginalText = nullString(originalText)
	c.ProcessedText = nullString(processedText)
	c.Location = nullString(location)
	c.LocationDetails = nullString(locationDetails)
	c.CategoryID = nullInt64(categoryID)
	c.DepartmentID = nullInt64(departmentID)

	return c, nil
}

func expectAffected(result sql.Result, what string, id int64) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%s with id %d not found: %w", what, id, ErrNotFound)
	}

	return nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}
