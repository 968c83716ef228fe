package handler

import (
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/minwoneasy/minwon-api/internal/classifier"
	"github.com/minwoneasy/minwon-api/internal/dto"
	"go.uber.org/zap"
)

// Classifier is the subset of classifier.Client the handler needs
type Classifier interface {
	Call(ctx context.Context, endpoint string, payload any) (json.RawMessage, error)
	Process(ctx context.Context, rawText string, ocrText *string) (*classifier.Outcome, error)
	OCR(ctx context.Context, filename, contentType string, content []byte) string
	OCRLimit() int64
}

// AgenticaHandler proxies complaint text to the classification and OCR services
type AgenticaHandler struct {
	classifier Classifier
	logger     *zap.Logger
}

func NewAgenticaHandler(client Classifier, logger *zap.Logger) *AgenticaHandler {
	return &AgenticaHandler{classifier: client, logger: logger}
}

// ProcessComplaint takes a form with raw_text and an optional file to OCR
func (h *AgenticaHandler) ProcessComplaint(c *gin.Context) {
	rawText, ok := c.GetPostForm("raw_text")
	if !ok || rawText == "" {
		badRequest(c, "raw_text is required")
		return
	}

	var ocrText *string
	if fh, err := c.FormFile("file"); err == nil {
		text := h.ocr(c.Request.Context(), fh)
		ocrText = &text
	}

	outcome, err := h.classifier.Process(c.Request.Context(), rawText, ocrText)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, processResponse(outcome))
}

func (h *AgenticaHandler) ocr(ctx context.Context, fh *multipart.FileHeader) string {
	limit := h.classifier.OCRLimit()
	if fh.Size > limit {
		return classifier.OCRTooLarge
	}

	f, err := fh.Open()
	if err != nil {
		h.logger.Warn("Failed to open upload for OCR", zap.Error(err))
		return classifier.OCRServiceError
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		h.logger.Warn("Failed to read upload for OCR", zap.Error(err))
		return classifier.OCRServiceError
	}
	return h.classifier.OCR(ctx, fh.Filename, fh.Header.Get("Content-Type"), content)
}

// TransformText returns the text service answer unchanged
func (h *AgenticaHandler) TransformText(c *gin.Context) {
	h.proxy(c, "/text/transform", func(req dto.ProcessTextRequest) any {
		return map[string]string{"rawText": req.RawText}
	})
}

// ClassifyDepartment returns the classification answer unchanged
func (h *AgenticaHandler) ClassifyDepartment(c *gin.Context) {
	h.proxy(c, "/classify", func(req dto.ProcessTextRequest) any {
		return map[string]string{"text": req.RawText}
	})
}

func (h *AgenticaHandler) proxy(c *gin.Context, endpoint string, payload func(dto.ProcessTextRequest) any) {
	var req dto.ProcessTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationFailed(c, err)
		return
	}

	data, err := h.classifier.Call(c.Request.Context(), endpoint, payload(req))
	if err != nil {
		h.fail(c, err)
		return
	}

	c.Data(http.StatusOK, "application/json", data)
}

// ProcessTextOnly transforms and classifies without OCR
func (h *AgenticaHandler) ProcessTextOnly(c *gin.Context) {
	var req dto.ProcessTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationFailed(c, err)
		return
	}

	outcome, err := h.classifier.Process(c.Request.Context(), req.RawText, nil)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, processResponse(outcome))
}

func (h *AgenticaHandler) fail(c *gin.Context, err error) {
	status := classifier.StatusCode(err)
	h.logger.Error("Agentica request failed",
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	)

	message := "Agentica request failed"
	switch status {
	case http.StatusServiceUnavailable:
		message = "Agentica service unavailable"
	case http.StatusGatewayTimeout:
		message = "Agentica service timed out"
	}
	c.JSON(status, dto.ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}

func processResponse(o *classifier.Outcome) dto.ProcessComplaintResponse {
	return dto.ProcessComplaintResponse{
		Success:      true,
		OriginalText: o.OriginalText,
		FormalText:   o.FormalText,
		Department:   o.Department,
		Reason:       o.Reason,
		Confidence:   o.Confidence,
		OCRText:      o.OCRText,
	}
}
