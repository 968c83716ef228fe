package handler

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/minwoneasy/minwon-api/internal/dto"
	"github.com/minwoneasy/minwon-api/internal/service"
	"go.uber.org/zap"
)

// FileHandler uploads and serves complaint attachments
type FileHandler struct {
	files  *service.FileService
	logger *zap.Logger
}

// NewFileHandler creates a new file handler
func NewFileHandler(files *service.FileService, logger *zap.Logger) *FileHandler {
	return &FileHandler{files: files, logger: logger}
}

// Upload accepts a multipart form with complaint_id and one or more file_list parts
func (h *FileHandler) Upload(c *gin.Context) {
	identity, ok := mustIdentity(c)
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		validationFailed(c, err)
		return
	}

	complaintID, err := strconv.ParseInt(strings.TrimSpace(c.PostForm("complaint_id")), 10, 64)
	if err != nil {
		badRequest(c, "Invalid complaint_id")
		return
	}

	headers := form.File["file_list"]
	uploads := make([]service.Upload, 0, len(headers))
	for _, fh := range headers {
		uploads = append(uploads, formUpload(fh))
	}

	stored, err := h.files.Upload(c.Request.Context(), identity.UserID, complaintID, uploads)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoFiles):
			badRequest(c, "file_list is required")
		case errors.Is(err, service.ErrComplaintNotFound):
			notFound(c, "Complaint not found")
		default:
			internalError(c, h.logger, err)
		}
		return
	}

	c.JSON(http.StatusOK, dto.UploadResponse{Files: stored})
}

func formUpload(fh *multipart.FileHeader) service.Upload {
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return service.Upload{
		Filename:    fh.Filename,
		ContentType: contentType,
		Size:        fh.Size,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

// Get returns attachment metadata
func (h *FileHandler) Get(c *gin.Context) {
	identity, ok := mustIdentity(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	f, err := h.files.Get(c.Request.Context(), identity.UserID, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

// Download streams the stored object as an attachment
func (h *FileHandler) Download(c *gin.Context) {
	identity, ok := mustIdentity(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	f, body, size, err := h.files.Open(c.Request.Context(), identity.UserID, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	defer body.Close()

	name := f.OriginalFilename
	if name == "" {
		name = f.StoredFilename
	}

	c.DataFromReader(http.StatusOK, size, f.FileType.MediaType(), body, map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s"`, strings.ReplaceAll(name, `"`, "")),
	})
}

func (h *FileHandler) fail(c *gin.Context, err error) {
	if errors.Is(err, service.ErrFileNotFound) {
		notFound(c, "File not found")
		return
	}
	internalError(c, h.logger, err)
}
