package repository

import (
	"context"
	"time"

	"github.com/minwoneasy/minwon-api/internal/domain"
)

// UserRepository defines methods for user operations
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetBySubject(ctx context.Context, subject string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
}

// TokenRepository defines methods for refresh token rows
type TokenRepository interface {
	// Replace deletes any row for (UserID, DeviceInfo) and inserts token in one transaction
	Replace(ctx context.Context, token *domain.RefreshToken) error
	// GetActive returns the row only when it expires strictly after now
	GetActive(ctx context.Context, userID int64, deviceInfo string, now time.Time) (*domain.RefreshToken, error)
	Delete(ctx context.Context, userID int64, deviceInfo string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ComplaintRepository defines methods for complaint operations
type ComplaintRepository interface {
	Create(ctx context.Context, complaint *domain.Complaint) error
	GetByID(ctx context.Context, id int64) (*domain.Complaint, error)
	ListByUser(ctx context.Context, userID int64) ([]*domain.Complaint, error)
	Update(ctx context.Context, complaint *domain.Complaint) error
	UpdateSubmissionType(ctx context.Context, id int64, submissionType domain.SubmissionType) error
	Delete(ctx context.Context, id int64) error
}

// CategoryRepository defines methods for category lookups
type CategoryRepository interface {
	List(ctx context.Context) ([]*domain.Category, error)
	Exists(ctx context.Context, id int64) (bool, error)
}

// DepartmentRepository defines methods for department lookups
type DepartmentRepository interface {
	List(ctx context.Context, categoryID *int64) ([]*domain.Department, error)
	GetByID(ctx context.Context, id int64) (*domain.Department, error)
	Exists(ctx context.Context, id int64) (bool, error)
}

// FileRepository defines methods for attachment metadata
type FileRepository interface {
	Create(ctx context.Context, file *domain.File) error
	GetByID(ctx context.Context, id int64) (*domain.File, error)
	ListByComplaint(ctx context.Context, complaintID int64) ([]domain.File, error)
	CountByComplaint(ctx context.Context, complaintID int64) (int, error)
}
