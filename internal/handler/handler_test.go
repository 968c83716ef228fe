package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/minwoneasy/minwon-api/internal/classifier"
	"github.com/minwoneasy/minwon-api/internal/domain"
	"github.com/minwoneasy/minwon-api/internal/dto"
	"github.com/minwoneasy/minwon-api/internal/repository/repotest"
	"github.com/minwoneasy/minwon-api/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// as stands in for CurrentUser
func as(userID int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(identityKey, &domain.Identity{UserID: userID, Username: "hong", Email: "hong@example.kr", Roles: []string{}})
		c.Set(userIDKey, userID)
		c.Next()
	}
}

type contentAPI struct {
	router  *gin.Engine
	repos   *repotest.Fixture
	storage *repotest.ObjectStore
}

func newContentAPI(userID int64) *contentAPI {
	repos := repotest.New()
	storage := repotest.NewObjectStore()
	logger := zap.NewNop()

	complaints := NewComplaintHandler(service.NewComplaintService(repos.Repos, storage, logger), logger)
	files := NewFileHandler(service.NewFileService(repos.Repos, storage, logger), logger)
	catalog := NewCatalogHandler(service.NewCatalogService(repos.Repos), logger)

	r := gin.New()
	api := r.Group("/api", as(userID))
	api.POST("/complaints/create", complaints.Create)
	api.GET("/complaints/list", complaints.List)
	api.GET("/complaints/:id", complaints.Get)
	api.PUT("/complaints/:id", complaints.Update)
	api.DELETE("/complaints/:id", complaints.Delete)
	api.GET("/categories", catalog.Categories)
	api.GET("/departments", catalog.Departments)
	api.GET("/departments/:id", catalog.Department)
	api.POST("/files/upload", files.Upload)
	api.GET("/files/:id", files.Get)
	api.GET("/files/:id/download", files.Download)

	return &contentAPI{router: r, repos: repos, storage: storage}
}

func (a *contentAPI) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

type formFile struct {
	name, contentType, body string
}

func (a *contentAPI) upload(fields map[string]string, files ...formFile) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file_list"; filename="%s"`, f.name))
		h.Set("Content-Type", f.contentType)
		part, _ := mw.CreatePart(h)
		_, _ = io.WriteString(part, f.body)
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestComplaintLifecycle(t *testing.T) {
	api := newContentAPI(1)

	rec := api.do(http.MethodPost, "/api/complaints/create", `{"input_text":"가로등 고장","category_id":1}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[domain.Complaint](t, rec)
	assert.Equal(t, domain.SubmissionText, created.SubmissionType)
	assert.Equal(t, domain.StatusSubmitted, created.Status)

	rec = api.do(http.MethodGet, "/api/complaints/list", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.Complaint](t, rec), 1)

	rec = api.do(http.MethodPut, fmt.Sprintf("/api/complaints/%d", created.ID), `{"status":"PROCESSING","department_id":10}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.StatusProcessing, decode[domain.Complaint](t, rec).Status)

	rec = api.do(http.MethodGet, fmt.Sprintf("/api/complaints/%d", created.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(http.MethodDelete, fmt.Sprintf("/api/complaints/%d", created.ID), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(http.MethodGet, fmt.Sprintf("/api/complaints/%d", created.ID), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Complaint not found", decode[dto.ErrorResponse](t, rec).Message)
}

func TestComplaintErrors(t *testing.T) {
	api := newContentAPI(1)

	tests := []struct {
		name    string
		method  string
		path    string
		body    string
		status  int
		message string
	}{
		{"unknown category", http.MethodPost, "/api/complaints/create", `{"category_id":99}`, http.StatusBadRequest, "Invalid category_id"},
		{"unknown department", http.MethodPost, "/api/complaints/create", `{"department_id":99}`, http.StatusBadRequest, "Invalid department_id"},
		{"bad status", http.MethodPost, "/api/complaints/create", `{"status":"LOST"}`, http.StatusBadRequest, "Invalid status"},
		{"malformed body", http.MethodPost, "/api/complaints/create", `{`, http.StatusBadRequest, ""},
		{"bad id", http.MethodGet, "/api/complaints/abc", "", http.StatusBadRequest, "Invalid id"},
		{"missing", http.MethodGet, "/api/complaints/42", "", http.StatusNotFound, "Complaint not found"},
		{"missing update", http.MethodPut, "/api/complaints/42", `{}`, http.StatusNotFound, "Complaint not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			if tt.message != "" {
				assert.Equal(t, tt.message, decode[dto.ErrorResponse](t, rec).Message)
			}
		})
	}
}

func TestComplaintsOfOtherUsersAreHidden(t *testing.T) {
	owner := newContentAPI(1)
	rec := owner.do(http.MethodPost, "/api/complaints/create", `{"input_text":"민원"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[domain.Complaint](t, rec).ID

	// same repositories, different caller
	other := gin.New()
	logger := zap.NewNop()
	complaints := NewComplaintHandler(service.NewComplaintService(owner.repos.Repos, owner.storage, logger), logger)
	other.GET("/api/complaints/:id", as(2), complaints.Get)

	rec = httptest.NewRecorder()
	other.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/complaints/%d", id), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCatalogRoutes(t *testing.T) {
	api := newContentAPI(1)

	rec := api.do(http.MethodGet, "/api/categories", "")
	require.Equal(t, http.StatusOK, rec.Code)
	categories := decode[[]domain.Category](t, rec)
	require.Len(t, categories, 2)
	assert.Equal(t, int64(1), categories[0].ID)

	rec = api.do(http.MethodGet, "/api/departments?category_id=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	departments := decode[[]domain.Department](t, rec)
	require.Len(t, departments, 1)
	assert.Equal(t, int64(20), departments[0].ID)

	rec = api.do(http.MethodGet, "/api/departments", "")
	assert.Len(t, decode[[]domain.Department](t, rec), 2)

	rec = api.do(http.MethodGet, "/api/departments?category_id=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodGet, "/api/departments/10", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(http.MethodGet, "/api/departments/99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Department not found", decode[dto.ErrorResponse](t, rec).Message)
}

func TestUploadAndDownload(t *testing.T) {
	api := newContentAPI(1)

	rec := api.do(http.MethodPost, "/api/complaints/create", `{}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	complaintID := decode[domain.Complaint](t, rec).ID

	rec = api.upload(map[string]string{"complaint_id": fmt.Sprint(complaintID)},
		formFile{"pothole.jpg", "image/jpeg", "jpeg-bytes"},
		formFile{"report.pdf", "application/pdf", "%PDF-1.7"},
	)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	uploaded := decode[dto.UploadResponse](t, rec)
	require.Len(t, uploaded.Files, 2)
	assert.Equal(t, domain.FileImage, uploaded.Files[0].FileType)
	assert.Len(t, api.storage.Keys(), 2)

	complaint, err := api.repos.Complaints.GetByID(context.Background(), complaintID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionImage, complaint.SubmissionType)

	rec = api.do(http.MethodGet, fmt.Sprintf("/api/files/%d", uploaded.Files[1].ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "report.pdf", decode[domain.File](t, rec).OriginalFilename)

	rec = api.do(http.MethodGet, fmt.Sprintf("/api/files/%d/download", uploaded.Files[1].ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="report.pdf"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "%PDF-1.7", rec.Body.String())

	rec = api.do(http.MethodGet, fmt.Sprintf("/api/files/%d/download", uploaded.Files[0].ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/*", rec.Header().Get("Content-Type"))
}

func TestUploadErrors(t *testing.T) {
	api := newContentAPI(1)

	rec := api.upload(map[string]string{"complaint_id": "abc"}, formFile{"a.png", "image/png", "png"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.upload(map[string]string{"complaint_id": "77"}, formFile{"a.png", "image/png", "png"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Complaint not found", decode[dto.ErrorResponse](t, rec).Message)

	rec = api.do(http.MethodPost, "/api/complaints/create", `{}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[domain.Complaint](t, rec).ID

	rec = api.upload(map[string]string{"complaint_id": fmt.Sprint(id)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodGet, "/api/files/5", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "File not found", decode[dto.ErrorResponse](t, rec).Message)
}

type fakeClassifier struct {
	calls    []string
	payloads []any
	raw      json.RawMessage
	err      error
	ocrFile  string
	ocrCalls int
	limit    int64
}

func (f *fakeClassifier) Call(_ context.Context, endpoint string, payload any) (json.RawMessage, error) {
	f.calls = append(f.calls, endpoint)
	f.payloads = append(f.payloads, payload)
	return f.raw, f.err
}

func (f *fakeClassifier) Process(_ context.Context, rawText string, ocrText *string) (*classifier.Outcome, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &classifier.Outcome{
		OriginalText: rawText,
		FormalText:   "formal: " + rawText,
		Classification: classifier.Classification{
			Department: "도로관리과",
			Reason:     "도로 파손",
			Confidence: 0.9,
		},
		OCRText: ocrText,
	}, nil
}

func (f *fakeClassifier) OCR(_ context.Context, filename, _ string, content []byte) string {
	f.ocrFile = filename
	f.ocrCalls++
	return "ocr:" + string(content)
}

func (f *fakeClassifier) OCRLimit() int64 {
	if f.limit == 0 {
		return 1 << 20
	}
	return f.limit
}

func agenticaRouter(fc *fakeClassifier) *gin.Engine {
	h := NewAgenticaHandler(fc, zap.NewNop())
	r := gin.New()
	g := r.Group("/api/agentica")
	g.POST("/process-complaint", h.ProcessComplaint)
	g.POST("/transform-text", h.TransformText)
	g.POST("/classify-department", h.ClassifyDepartment)
	g.POST("/process-text-only", h.ProcessTextOnly)
	return r
}

func TestProcessComplaintWithFile(t *testing.T) {
	fc := &fakeClassifier{}
	r := agenticaRouter(fc)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("raw_text", "길에 구멍")
	part, _ := mw.CreateFormFile("file", "scan.png")
	_, _ = io.WriteString(part, "pixels")
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/agentica/process-complaint", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[dto.ProcessComplaintResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "길에 구멍", resp.OriginalText)
	assert.Equal(t, "도로관리과", resp.Department)
	require.NotNil(t, resp.OCRText)
	assert.Equal(t, "ocr:pixels", *resp.OCRText)
	assert.Equal(t, "scan.png", fc.ocrFile)
}

func TestProcessComplaintOversizedFileSkipsOCR(t *testing.T) {
	fc := &fakeClassifier{limit: 4}
	r := agenticaRouter(fc)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("raw_text", "길에 구멍")
	part, _ := mw.CreateFormFile("file", "scan.png")
	_, _ = io.WriteString(part, "pixels")
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/agentica/process-complaint", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[dto.ProcessComplaintResponse](t, rec)
	require.NotNil(t, resp.OCRText)
	assert.Equal(t, classifier.OCRTooLarge, *resp.OCRText)
	assert.Zero(t, fc.ocrCalls)
}

func TestProcessComplaintWithoutFile(t *testing.T) {
	r := agenticaRouter(&fakeClassifier{})

	req := httptest.NewRequest(http.MethodPost, "/api/agentica/process-complaint", strings.NewReader("raw_text=hello"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ocr_text":null`)

	req = httptest.NewRequest(http.MethodPost, "/api/agentica/process-complaint", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAgenticaProxyRoutes(t *testing.T) {
	fc := &fakeClassifier{raw: json.RawMessage(`{"formalText":"정중한 문장"}`)}
	r := agenticaRouter(fc)

	send := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := send("/api/agentica/transform-text", `{"raw_text":"문장"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"formalText":"정중한 문장"}`, rec.Body.String())

	rec = send("/api/agentica/classify-department", `{"raw_text":"문장"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{"/text/transform", "/classify"}, fc.calls)
	assert.Equal(t, map[string]string{"rawText": "문장"}, fc.payloads[0])
	assert.Equal(t, map[string]string{"text": "문장"}, fc.payloads[1])

	rec = send("/api/agentica/process-text-only", `{"raw_text":"문장","ocr_text":"ignored"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[dto.ProcessComplaintResponse](t, rec)
	assert.Equal(t, "formal: 문장", resp.FormalText)
	assert.Nil(t, resp.OCRText)

	rec = send("/api/agentica/process-text-only", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAgenticaErrorStatuses(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: dial", classifier.ErrUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: slow", classifier.ErrTimeout), http.StatusGatewayTimeout},
		{&classifier.UpstreamError{Status: http.StatusUnprocessableEntity}, http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		r := agenticaRouter(&fakeClassifier{err: tt.err})
		req := httptest.NewRequest(http.MethodPost, "/api/agentica/process-text-only", strings.NewReader(`{"raw_text":"x"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, tt.status, rec.Code, tt.err.Error())
	}
}

type fakeLimiter struct {
	decision service.RateLimitDecision
	err      error
	keys     []string
}

func (f *fakeLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (service.RateLimitDecision, error) {
	f.keys = append(f.keys, key)
	return f.decision, f.err
}

func TestRateLimitMiddleware(t *testing.T) {
	serve := func(l *fakeLimiter) *httptest.ResponseRecorder {
		r := gin.New()
		r.GET("/api/login", RateLimitMiddleware(l, 20, time.Minute, RouteAndIPKey, zap.NewNop()), func(c *gin.Context) {
			c.Status(http.StatusOK)
		})
		req := httptest.NewRequest(http.MethodGet, "/api/login", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	allowed := &fakeLimiter{decision: service.RateLimitDecision{Allowed: true, Remaining: 19}}
	rec := serve(allowed)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "20", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "19", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, []string{"/api/login:203.0.113.7"}, allowed.keys)

	rec = serve(&fakeLimiter{decision: service.RateLimitDecision{RetryAfter: 42 * time.Second}})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "42", rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate limit exceeded, try again in 42s", decode[dto.ErrorResponse](t, rec).Message)

	rec = serve(&fakeLimiter{err: errors.New("redis down")})
	assert.Equal(t, http.StatusOK, rec.Code, "limiter failures let requests through")
}

func TestCORSMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware([]string{"http://localhost:3000"}, []string{"GET", "POST"}, []string{"Content-Type"}))
	r.GET("/api/userinfo", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/api/userinfo", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))

	req = httptest.NewRequest(http.MethodGet, "/api/userinfo", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/userinfo", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "GET, POST", rec.Header().Get("Access-Control-Allow-Methods"))
}
