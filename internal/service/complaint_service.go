package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/minwoneasy/minwon-api/internal/domain"
	"github.com/minwoneasy/minwon-api/internal/dto"
	"github.com/minwoneasy/minwon-api/internal/repository"
	"go.uber.org/zap"
)

var (
	ErrComplaintNotFound = errors.New("complaint not found")
	ErrInvalidCategory   = errors.New("invalid category_id")
	ErrInvalidDepartment = errors.New("invalid department_id")
	ErrInvalidStatus     = errors.New("invalid status")
)

// ComplaintService manages a citizen's own complaints
type ComplaintService struct {
	complaints  repository.ComplaintRepository
	categories  repository.CategoryRepository
	departments repository.DepartmentRepository
	files       repository.FileRepository
	storage     ObjectStorage
	logger      *zap.Logger
}

// NewComplaintService creates a new complaint service
func NewComplaintService(repos *repository.Repositories, storage ObjectStorage, logger *zap.Logger) *ComplaintService {
	return &ComplaintService{
		complaints:  repos.Complaint,
		categories:  repos.Category,
		departments: repos.Department,
		files:       repos.File,
		storage:     storage,
		logger:      logger,
	}
}

// Create stores a new complaint owned by userID
func (s *ComplaintService) Create(ctx context.Context, userID int64, req *dto.CreateComplaintRequest) (*domain.Complaint, error) {
	if err := s.validateRefs(ctx, req.CategoryID, req.DepartmentID); err != nil {
		return nil, err
	}

	status := domain.StatusSubmitted
	if req.Status != nil {
		status = domain.ComplaintStatus(*req.Status)
		if !status.Valid() {
			return nil, ErrInvalidStatus
		}
	}

	c := &domain.Complaint{
		UserID:          userID,
		OriginalText:    req.InputText,
		Location:        req.Location,
		LocationDetails: req.LocationDetails,
		CategoryID:      req.CategoryID,
		DepartmentID:    req.DepartmentID,
		Status:          status,
		Files:           []domain.File{},
	}
	c.SubmissionType = domain.SubmissionTypeFor(c.HasText(), false)

	if err := s.complaints.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create complaint: %w", err)
	}

	return c, nil
}

// List returns the caller's complaints, newest first, with attachments
func (s *ComplaintService) List(ctx context.Context, userID int64) ([]*domain.Complaint, error) {
	complaints, err := s.complaints.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list complaints: %w", err)
	}

	for _, c := range complaints {
		if c.Files, err = s.files.ListByComplaint(ctx, c.ID); err != nil {
			return nil, fmt.Errorf("failed to list files: %w", err)
		}
	}

	return complaints, nil
}

// Get returns one of the caller's complaints
func (s *ComplaintService) Get(ctx context.Context, userID, id int64) (*domain.Complaint, error) {
	c, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if c.Files, err = s.files.ListByComplaint(ctx, c.ID); err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return c, nil
}

// Update applies the non-nil fields of req
func (s *ComplaintService) Update(ctx context.Context, userID, id int64, req *dto.UpdateComplaintRequest) (*domain.Complaint, error) {
	c, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if err := s.validateRefs(ctx, req.CategoryID, req.DepartmentID); err != nil {
		return nil, err
	}

	if req.Status != nil {
		status := domain.ComplaintStatus(*req.Status)
		if !status.Valid() {
			return nil, ErrInvalidStatus
		}
		c.Status = status
	}

	files, err := s.files.ListByComplaint(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	if req.InputText != nil {
		c.OriginalText = req.InputText
		c.SubmissionType = domain.SubmissionTypeFor(c.HasText(), len(files) > 0)
	}
	if req.ProcessedText != nil {
		c.ProcessedText = req.ProcessedText
	}
	if req.Location != nil {
		c.Location = req.Location
	}
	if req.LocationDetails != nil {
		c.LocationDetails = req.LocationDetails
	}
	if req.CategoryID != nil {
		c.CategoryID = req.CategoryID
	}
	if req.DepartmentID != nil {
		c.DepartmentID = req.DepartmentID
	}

	if err := s.complaints.Update(ctx, c); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrComplaintNotFound
		}
		return nil, fmt.Errorf("failed to update complaint: %w", err)
	}

	c.Files = files
	return c, nil
}

// Delete removes the complaint and its stored objects
func (s *ComplaintService) Delete(ctx context.Context, userID, id int64) error {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return err
	}

	files, err := s.files.ListByComplaint(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to list files: %w", err)
	}

	if err := s.complaints.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrComplaintNotFound
		}
		return fmt.Errorf("failed to delete complaint: %w", err)
	}

	for _, f := range files {
		if err := s.storage.Remove(ctx, f.ObjectKey); err != nil {
			s.logger.Warn("Failed to remove stored object",
				zap.Int64("complaint_id", id),
				zap.String("object_key", f.ObjectKey),
				zap.Error(err),
			)
		}
	}
	return nil
}

// owned hides other users' complaints behind ErrComplaintNotFound
func (s *ComplaintService) owned(ctx context.Context, userID, id int64) (*domain.Complaint, error) {
	c, err := s.complaints.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrComplaintNotFound
		}
		return nil, fmt.Errorf("failed to get complaint: %w", err)
	}
	if userID == 0 || c.UserID != userID {
		return nil, ErrComplaintNotFound
	}
	return c, nil
}

func (s *ComplaintService) validateRefs(ctx context.Context, categoryID, departmentID *int64) error {
	if categoryID != nil {
		ok, err := s.categories.Exists(ctx, *categoryID)
		if err != nil {
			return fmt.Errorf("failed to check category: %w", err)
		}
		if !ok {
			return ErrInvalidCategory
		}
	}

	if departmentID != nil {
		ok, err := s.departments.Exists(ctx, *departmentID)
		if err != nil {
			return fmt.Errorf("failed to check department: %w", err)
		}
		if !ok {
			return ErrInvalidDepartment
		}
	}
	return nil
}
