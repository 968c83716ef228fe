package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/minwoneasy/minwon-api/internal/service"
	"go.uber.org/zap"
)

// CatalogHandler serves categories and departments
type CatalogHandler struct {
	catalog *service.CatalogService
	logger  *zap.Logger
}

func NewCatalogHandler(catalog *service.CatalogService, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, logger: logger}
}

func (h *CatalogHandler) Categories(c *gin.Context) {
	categories, err := h.catalog.Categories(c.Request.Context())
	if err != nil {
		internalError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, categories)
}

// Departments lists departments, filtered by ?category_id when present
func (h *CatalogHandler) Departments(c *gin.Context) {
	var categoryID *int64
	if raw, ok := c.GetQuery("category_id"); ok {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			badRequest(c, "Invalid category_id")
			return
		}
		categoryID = &id
	}

	departments, err := h.catalog.Departments(c.Request.Context(), categoryID)
	if err != nil {
		internalError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, departments)
}

func (h *CatalogHandler) Department(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	department, err := h.catalog.Department(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrDepartmentNotFound) {
			notFound(c, "Department not found")
			return
		}
		internalError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, department)
}
