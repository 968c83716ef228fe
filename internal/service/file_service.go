package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/minwoneasy/minwon-api/internal/domain"
	"github.com/minwoneasy/minwon-api/internal/repository"
	"go.uber.org/zap"
)

var (
	ErrFileNotFound = errors.New("file not found")
	ErrNoFiles      = errors.New("no files uploaded")
)

// Upload is one attachment from a multipart form
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// FileService stores complaint attachments in object storage
type FileService struct {
	complaints repository.ComplaintRepository
	files      repository.FileRepository
	storage    ObjectStorage
	logger     *zap.Logger
}

// NewFileService creates a new file service
func NewFileService(repos *repository.Repositories, storage ObjectStorage, logger *zap.Logger) *FileService {
	return &FileService{
		complaints: repos.Complaint,
		files:      repos.File,
		storage:    storage,
		logger:     logger,
	}
}

// ObjectKey is the storage key of a stored attachment
func ObjectKey(complaintID int64, storedFilename string) string {
	return fmt.Sprintf("complaints/%d/%s", complaintID, storedFilename)
}

// StoredFilename is a random hex name keeping the original extension
func StoredFilename(original string) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "") + strings.ToLower(path.Ext(original))
}

// Upload stores every upload and marks the complaint as carrying attachments
func (s *FileService) Upload(ctx context.Context, userID, complaintID int64, uploads []Upload) ([]domain.File, error) {
	if len(uploads) == 0 {
		return nil, ErrNoFiles
	}

	complaint, err := s.complaints.GetByID(ctx, complaintID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrComplaintNotFound
		}
		return nil, fmt.Errorf("failed to get complaint: %w", err)
	}
	if userID == 0 || complaint.UserID != userID {
		return nil, ErrComplaintNotFound
	}

	stored := make([]domain.File, 0, len(uploads))
	for _, u := range uploads {
		f, err := s.store(ctx, complaintID, u)
		if err != nil {
			// files stored before the failure stay attached
			if len(stored) > 0 {
				if markErr := s.markHasFiles(ctx, complaint); markErr != nil {
					s.logger.Error("Failed to update submission type after partial upload",
						zap.Int64("complaint_id", complaintID),
						zap.Error(markErr),
					)
				}
			}
			return nil, err
		}
		stored = append(stored, *f)
	}

	if err := s.markHasFiles(ctx, complaint); err != nil {
		return nil, err
	}

	return stored, nil
}

func (s *FileService) markHasFiles(ctx context.Context, complaint *domain.Complaint) error {
	submissionType := domain.SubmissionTypeFor(complaint.HasText(), true)
	if err := s.complaints.UpdateSubmissionType(ctx, complaint.ID, submissionType); err != nil {
		return fmt.Errorf("failed to update submission type: %w", err)
	}
	return nil
}

func (s *FileService) store(ctx context.Context, complaintID int64, u Upload) (*domain.File, error) {
	body, err := u.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload %q: %w", u.Filename, err)
	}
	defer body.Close()

	storedName := StoredFilename(u.Filename)
	f := &domain.File{
		ComplaintID:      complaintID,
		OriginalFilename: u.Filename,
		StoredFilename:   storedName,
		FileType:         domain.FileTypeFor(u.ContentType),
		Bucket:           s.storage.Bucket(),
		ObjectKey:        ObjectKey(complaintID, storedName),
	}

	if err := s.storage.Put(ctx, f.ObjectKey, body, u.Size, u.ContentType); err != nil {
		return nil, fmt.Errorf("failed to store %q: %w", u.Filename, err)
	}

	if err := s.files.Create(ctx, f); err != nil {
		if rmErr := s.storage.Remove(ctx, f.ObjectKey); rmErr != nil {
			s.logger.Warn("Failed to remove orphaned object",
				zap.String("object_key", f.ObjectKey),
				zap.Error(rmErr),
			)
		}
		return nil, fmt.Errorf("failed to save file metadata: %w", err)
	}

	return f, nil
}

// Get returns the metadata of a file on one of the caller's complaints
func (s *FileService) Get(ctx context.Context, userID, fileID int64) (*domain.File, error) {
	f, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}

	complaint, err := s.complaints.GetByID(ctx, f.ComplaintID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to get complaint: %w", err)
	}
	if userID == 0 || complaint.UserID != userID {
		return nil, ErrFileNotFound
	}

	return f, nil
}

// Open returns the file metadata and a reader over its content. The caller closes the reader.
func (s *FileService) Open(ctx context.Context, userID, fileID int64) (*domain.File, io.ReadCloser, int64, error) {
	f, err := s.Get(ctx, userID, fileID)
	if err != nil {
		return nil, nil, 0, err
	}

	body, size, err := s.storage.Get(ctx, f.Bucket, f.ObjectKey)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to read stored object: %w", err)
	}
	return f, body, size, nil
}
