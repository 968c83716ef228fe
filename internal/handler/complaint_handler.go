package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/minwoneasy/minwon-api/internal/dto"
	"github.com/minwoneasy/minwon-api/internal/service"
	"go.uber.org/zap"
)

// ComplaintHandler serves the caller's own complaints
type ComplaintHandler struct {
	complaints *service.ComplaintService
	logger     *zap.Logger
}

// NewComplaintHandler creates a new complaint handler
func NewComplaintHandler(complaints *service.ComplaintService, logger *zap.Logger) *ComplaintHandler {
	return &ComplaintHandler{
		complaints: complaints,
		logger:     logger,
	}
}

func (h *ComplaintHandler) Create(c *gin.Context) {
	identity, ok := mustIdentity(c)
	if !ok {
		return
	}

	var req dto.CreateComplaintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationFailed(c, err)
		return
	}

	complaint, err := h.complaints.Create(c.Request.Context(), identity.UserID, &req)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, complaint)
}

func (h *ComplaintHandler) List(c *gin.Context) {
	identity, ok := mustIdentity(c)
	if !ok {
		return
	}

	complaints, err := h.complaints.List(c.Request.Context(), identity.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, complaints)
}

func (h *ComplaintHandler) Get(c *gin.Context) {
	identity, ok := mustIdentity(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	complaint, err := h.complaints.Get(c.Request.Context(), identity.UserID, id)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, complaint)
}

func (h *ComplaintHandler) Update(c *gin.Context) {
	identity, ok := mustIdentity(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.UpdateComplaintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationFailed(c, err)
		return
	}

	complaint, err := h.complaints.Update(c.Request.Context(), identity.UserID, id, &req)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, complaint)
}

func (h *ComplaintHandler) Delete(c *gin.Context) {
	identity, ok := mustIdentity(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.complaints.Delete(c.Request.Context(), identity.UserID, id); err != nil {
		h.fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *ComplaintHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrComplaintNotFound):
		notFound(c, "Complaint not found")
	case errors.Is(err, service.ErrInvalidCategory):
		badRequest(c, "Invalid category_id")
	case errors.Is(err, service.ErrInvalidDepartment):
		badRequest(c, "Invalid department_id")
	case errors.Is(err, service.ErrInvalidStatus):
		badRequest(c, "Invalid status")
	default:
		internalError(c, h.logger, err)
	}
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "Invalid "+name)
		return 0, false
	}
	return id, true
}

func validationFailed(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{
		Error:   "Validation failed",
		Message: err.Error(),
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{
		Error:   "Bad request",
		Message: message,
	})
}

func notFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, dto.ErrorResponse{
		Error:   "Not found",
		Message: message,
	})
}

func internalError(c *gin.Context, logger *zap.Logger, err error) {
	logger.Error("Request failed",
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
		Error:   "Internal server error",
		Message: "Something went wrong",
	})
}
