// Package classifier talks to the Agentica text service and the OCR service
// that turn a citizen's raw complaint into formal text and a department.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	DefaultDepartment = "일반민원과"
	DefaultReason     = "자동 분류"
	DefaultConfidence = 0.8

	OCRTooLarge     = "[파일 크기 초과]"
	OCRNoText       = "[텍스트 없음]"
	OCRServiceError = "[OCR 서비스 오류]"
)

var (
	ErrUnavailable = errors.New("agentica service unavailable")
	ErrTimeout     = errors.New("agentica service timed out")
	ErrBadResponse = errors.New("unexpected agentica response")
)

// UpstreamError is a non-200 answer from the Agentica service
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("agentica returned HTTP %d", e.Status)
}

// StatusCode is the HTTP status a handler should answer with for err
func StatusCode(err error) int {
	var upstream *UpstreamError
	switch {
	case errors.As(err, &upstream):
		return upstream.Status
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type Config struct {
	ServiceURL  string
	OCRURL      string
	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
	MaxOCRBytes int64
}

// Classification is the department suggestion for a complaint text
type Classification struct {
	Department string
	Reason     string
	Confidence float64
}

// Outcome is the combined result of transforming and classifying a complaint
type Outcome struct {
	OriginalText string
	FormalText   string
	Classification
	OCRText *string
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Call posts payload to endpoint and returns the raw JSON answer. Every
// failure is retried until MaxAttempts is reached.
func (c *Client) Call(ctx context.Context, endpoint string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	url := strings.TrimRight(c.cfg.ServiceURL, "/") + endpoint

	var result json.RawMessage
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return classify(err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return &UpstreamError{Status: resp.StatusCode, Body: string(data)}
		}
		if !json.Valid(data) {
			return fmt.Errorf("%w: invalid JSON from %s", ErrBadResponse, endpoint)
		}
		result = data
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.RetryDelay), uint64(c.cfg.MaxAttempts-1)),
		ctx,
	)
	err = backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		c.logger.Warn("Agentica call failed, retrying",
			zap.String("endpoint", endpoint),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		c.logger.Error("Agentica call failed",
			zap.String("endpoint", endpoint),
			zap.Int("status", StatusCode(err)),
			zap.Error(err),
		)
		return nil, err
	}
	return result, nil
}

func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return fmt.Errorf("failed to call agentica: %w", err)
}

// Transform rewrites raw complaint text in a formal register. The raw text is
// returned when the service omits formalText.
func (c *Client) Transform(ctx context.Context, rawText string) (string, error) {
	data, err := c.Call(ctx, "/text/transform", map[string]string{"rawText": rawText})
	if err != nil {
		return "", err
	}

	var out struct {
		FormalText *string `json:"formalText"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if out.FormalText == nil {
		return rawText, nil
	}
	return *out.FormalText, nil
}

type classifyPayload struct {
	BestDepartment *string  `json:"best_department"`
	Reason         *string  `json:"reason"`
	Confidence     *float64 `json:"confidence"`
}

// Classify suggests a department. A list answer is reduced to its first entry
// and missing fields take the defaults.
func (c *Client) Classify(ctx context.Context, text string) (Classification, error) {
	data, err := c.Call(ctx, "/classify", map[string]string{"text": text})
	if err != nil {
		return Classification{}, err
	}
	return parseClassification(data)
}

func parseClassification(data json.RawMessage) (Classification, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return Classification{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
		if len(items) == 0 {
			return Classification{}, fmt.Errorf("%w: empty classification list", ErrBadResponse)
		}
		trimmed = items[0]
	}

	var p classifyPayload
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return Classification{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	out := Classification{
		Department: DefaultDepartment,
		Reason:     DefaultReason,
		Confidence: DefaultConfidence,
	}
	if p.BestDepartment != nil {
		out.Department = *p.BestDepartment
	}
	if p.Reason != nil {
		out.Reason = *p.Reason
	}
	if p.Confidence != nil {
		out.Confidence = *p.Confidence
	}
	return out, nil
}

// Process transforms and classifies rawText. Classification runs on the raw
// text, not the formal rewrite.
func (c *Client) Process(ctx context.Context, rawText string, ocrText *string) (*Outcome, error) {
	formal, err := c.Transform(ctx, rawText)
	if err != nil {
		return nil, err
	}
	classification, err := c.Classify(ctx, rawText)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		OriginalText:   rawText,
		FormalText:     formal,
		Classification: classification,
		OCRText:        ocrText,
	}, nil
}

// OCRLimit is the largest upload OCR accepts, in bytes
func (c *Client) OCRLimit() int64 {
	return c.cfg.MaxOCRBytes
}

// OCR extracts text from an uploaded image. It never fails: problems are
// reported as bracketed placeholder text.
func (c *Client) OCR(ctx context.Context, filename, contentType string, content []byte) string {
	if int64(len(content)) > c.cfg.MaxOCRBytes {
		return OCRTooLarge
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreatePart(filePartHeader(filename, contentType))
	if err == nil {
		_, err = part.Write(content)
	}
	if err == nil {
		err = mw.Close()
	}
	if err != nil {
		c.logger.Error("Failed to build OCR request", zap.Error(err))
		return OCRServiceError
	}

	url := strings.TrimRight(c.cfg.OCRURL, "/") + "/ocr/extract"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		c.logger.Error("Failed to build OCR request", zap.Error(err))
		return OCRServiceError
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("OCR call failed", zap.String("filename", filename), zap.Error(err))
		return OCRServiceError
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("OCR service rejected file",
			zap.String("filename", filename),
			zap.Int("status", resp.StatusCode),
		)
		return fmt.Sprintf("[OCR 실패: HTTP %d]", resp.StatusCode)
	}

	var out struct {
		ExtractedText string `json:"extracted_text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.logger.Error("Failed to decode OCR response", zap.Error(err))
		return OCRServiceError
	}

	text := strings.TrimSpace(out.ExtractedText)
	if text == "" {
		return OCRNoText
	}
	return text
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func filePartHeader(filename, contentType string) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	return h
}
