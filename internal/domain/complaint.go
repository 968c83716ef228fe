package domain

import (
	"strings"
	"time"
)

type SubmissionType string

const (
	SubmissionText      SubmissionType = "TEXT"
	SubmissionImage     SubmissionType = "IMAGE"
	SubmissionTextImage SubmissionType = "TEXT_IMAGE"
)

type ComplaintStatus string

const (
	StatusDraft      ComplaintStatus = "DRAFT"
	StatusSubmitted  ComplaintStatus = "SUBMITTED"
	StatusProcessing ComplaintStatus = "PROCESSING"
	StatusCompleted  ComplaintStatus = "COMPLETED"
)

// Valid reports whether s is one of the known statuses
func (s ComplaintStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusProcessing, StatusCompleted:
		return true
	}
	return false
}

// SubmissionTypeFor derives the submission type from text and attachment presence
func SubmissionTypeFor(hasText, hasFiles bool) SubmissionType {
	switch {
	case hasText && hasFiles:
		return SubmissionTextImage
	case hasText:
		return SubmissionText
	default:
		return SubmissionImage
	}
}

type Complaint struct {
	ID              int64           `json:"complaint_id"`
	UserID          int64           `json:"user_id"`
	SubmissionType  SubmissionType  `json:"submission_type"`
	OriginalText    *string         `json:"original_text"`
	ProcessedText   *string         `json:"processed_text"`
	Location        *string         `json:"location"`
	LocationDetails *string         `json:"location_details"`
	CategoryID      *int64          `json:"category_id"`
	DepartmentID    *int64          `json:"department_id"`
	Status          ComplaintStatus `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Files           []File          `json:"files"`
}

// HasText reports whether the complaint carries a non-empty original text
func (c Complaint) HasText() bool {
	return c.OriginalText != nil && *c.OriginalText != ""
}

type Category struct {
	ID          int64  `json:"category_id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

type Department struct {
	ID           int64   `json:"department_id"`
	CategoryID   *int64  `json:"category_id"`
	Name         string  `json:"name"`
	Organization *string `json:"organization"`
	ContactPhone *string `json:"contact_phone"`
	ContactEmail *string `json:"contact_email"`
}

type FileType string

const (
	FileImage    FileType = "IMAGE"
	FilePDF      FileType = "PDF"
	FileDocument FileType = "DOCUMENT"
)

// FileTypeFor classifies an upload by its content type
func FileTypeFor(contentType string) FileType {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.HasPrefix(ct, "image/"):
		return FileImage
	case ct == "application/pdf":
		return FilePDF
	default:
		return FileDocument
	}
}

// MediaType is the content type used when streaming the file back
func (t FileType) MediaType() string {
	switch t {
	case FileImage:
		return "image/*"
	case FilePDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

type File struct {
	ID               int64     `json:"file_id"`
	ComplaintID      int64     `json:"complaint_id"`
	OriginalFilename string    `json:"original_filename"`
	StoredFilename   string    `json:"stored_filename"`
	FileType         FileType  `json:"file_type"`
	Bucket           string    `json:"minio_bucket"`
	ObjectKey        string    `json:"minio_object_key"`
	UploadedAt       time.Time `json:"uploaded_at"`
}
