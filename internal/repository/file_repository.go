package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/minwoneasy/minwon-api/internal/domain"
	"github.com/minwoneasy/minwon-api/pkg/database"
)

const fileColumns = `file_id, complaint_id, original_filename, stored_filename, file_type, minio_bucket, minio_object_key, uploaded_at`

type fileRepository struct {
	db *database.Postgres
}

// NewFileRepository creates a new file metadata repository
func NewFileRepository(db *database.Postgres) FileRepository {
	return &fileRepository{db: db}
}

func (r *fileRepository) Create(ctx context.Context, f *domain.File) error {
	query := `
		INSERT INTO files (complaint_id, original_filename, stored_filename, file_type, minio_bucket, minio_object_key, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING file_id, uploaded_at
	`

	err := r.db.DB.QueryRowContext(ctx, query,
		f.ComplaintID,
		f.OriginalFilename,
		f.StoredFilename,
		f.FileType,
		f.Bucket,
		f.ObjectKey,
	).Scan(&f.ID, &f.UploadedAt)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	return nil
}

func (r *fileRepository) GetByID(ctx context.Context, id int64) (*domain.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE file_id = $1`

	f, err := scanFile(r.db.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("file with id %d not found: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}

	return f, nil
}

// ListByComplaint returns attachments, newest first
func (r *fileRepository) ListByComplaint(ctx context.Context, complaintID int64) ([]domain.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE complaint_id = $1 ORDER BY uploaded_at DESC`

	rows, err := r.db.DB.QueryContext(ctx, query, complaintID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	files := []domain.File{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, *f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate files: %w", err)
	}

	return files, nil
}

func (r *fileRepository) CountByComplaint(ctx context.Context, complaintID int64) (int, error) {
	var n int
	err := r.db.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE complaint_id = $1`, complaintID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count files: %w", err)
	}
	return n, nil
}

func scanFile(row scanner) (*domain.File, error) {
	f := &domain.File{}
	err := row.Scan(
		&f.ID,
		&f.ComplaintID,
		&f.OriginalFilename,
		&f.StoredFilename,
		&f.FileType,
		&f.Bucket,
		&f.ObjectKey,
		&f.UploadedAt,
	)
	if err != nil {
		return nil, err
	}
	return f, nil
}
