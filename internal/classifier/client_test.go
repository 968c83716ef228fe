package classifier

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(serviceURL, ocrURL string) *Client {
	return NewClient(Config{
		ServiceURL:  serviceURL,
		OCRURL:      ocrURL,
		Timeout:     time.Second,
		MaxAttempts: 2,
		RetryDelay:  10 * time.Millisecond,
		MaxOCRBytes: 1024,
	}, zap.NewNop())
}

func agentica(t *testing.T, transform, classify string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/text/transform":
			assert.Contains(t, body, "rawText")
			_, _ = io.WriteString(w, transform)
		case "/classify":
			assert.Contains(t, body, "text")
			_, _ = io.WriteString(w, classify)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProcess(t *testing.T) {
	srv := agentica(t,
		`{"formalText":"도로에 파손이 있어 보수를 요청드립니다."}`,
		`{"best_department":"도로관리과","reason":"도로 파손","confidence":0.93}`,
	)
	c := newTestClient(srv.URL, "")

	ocr := "사진 속 텍스트"
	out, err := c.Process(context.Background(), "길에 구멍남", &ocr)
	require.NoError(t, err)
	assert.Equal(t, "길에 구멍남", out.OriginalText)
	assert.Equal(t, "도로에 파손이 있어 보수를 요청드립니다.", out.FormalText)
	assert.Equal(t, "도로관리과", out.Department)
	assert.Equal(t, "도로 파손", out.Reason)
	assert.InDelta(t, 0.93, out.Confidence, 1e-9)
	assert.Equal(t, &ocr, out.OCRText)
}

func TestProcessDefaults(t *testing.T) {
	srv := agentica(t, `{}`, `[{"best_department":"환경정책과"},{"best_department":"ignored"}]`)
	c := newTestClient(srv.URL, "")

	out, err := c.Process(context.Background(), "쓰레기 무단투기", nil)
	require.NoError(t, err)
	assert.Equal(t, "쓰레기 무단투기", out.FormalText, "missing formalText falls back to the raw text")
	assert.Equal(t, "환경정책과", out.Department)
	assert.Equal(t, DefaultReason, out.Reason)
	assert.Equal(t, DefaultConfidence, out.Confidence)
	assert.Nil(t, out.OCRText)
}

func TestParseClassification(t *testing.T) {
	got, err := parseClassification(json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, Classification{Department: DefaultDepartment, Reason: DefaultReason, Confidence: DefaultConfidence}, got)

	_, err = parseClassification(json.RawMessage(`[]`))
	assert.ErrorIs(t, err, ErrBadResponse)

	_, err = parseClassification(json.RawMessage(`"text"`))
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestCallRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"formalText":"ok"}`)
	}))
	defer srv.Close()

	formal, err := newTestClient(srv.URL, "").Transform(context.Background(), "raw")
	require.NoError(t, err)
	assert.Equal(t, "ok", formal)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCallReturnsUpstreamStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"detail":"bad text"}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, "").Call(context.Background(), "/classify", map[string]string{"text": "x"})
	require.Error(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, StatusCode(err))
	assert.Equal(t, int32(2), calls.Load(), "attempts are bounded")

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Contains(t, upstream.Body, "bad text")
}

func TestCallUnavailable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = newTestClient("http://"+addr, "").Transform(context.Background(), "raw")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err))
}

func TestCallTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(srv.URL, "")
	c.http.Timeout = 50 * time.Millisecond

	_, err := c.Classify(context.Background(), "raw")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, http.StatusGatewayTimeout, StatusCode(err))
}

func TestStatusCodeOtherErrors(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusCode(ErrBadResponse))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(io.ErrUnexpectedEOF))
}

func ocrServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ocr/extract", r.URL.Path)
		file, header, err := r.FormFile("file")
		if assert.NoError(t, err) {
			defer file.Close()
			assert.Equal(t, "scan.png", header.Filename)
			assert.Equal(t, "image/png", header.Header.Get("Content-Type"))
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOCR(t *testing.T) {
	ctx := context.Background()
	image := []byte("png")

	srv := ocrServer(t, http.StatusOK, `{"extracted_text":"  불법 주차 차량  "}`)
	assert.Equal(t, "불법 주차 차량", newTestClient("", srv.URL).OCR(ctx, "scan.png", "image/png", image))

	srv = ocrServer(t, http.StatusOK, `{"extracted_text":"   "}`)
	assert.Equal(t, OCRNoText, newTestClient("", srv.URL).OCR(ctx, "scan.png", "image/png", image))

	srv = ocrServer(t, http.StatusBadRequest, `bad image`)
	assert.Equal(t, "[OCR 실패: HTTP 400]", newTestClient("", srv.URL).OCR(ctx, "scan.png", "image/png", image))

	srv = ocrServer(t, http.StatusOK, `not json`)
	assert.Equal(t, OCRServiceError, newTestClient("", srv.URL).OCR(ctx, "scan.png", "image/png", image))
}

func TestOCRLimitsAndFailures(t *testing.T) {
	c := newTestClient("", "http://127.0.0.1:1")
	ctx := context.Background()

	assert.Equal(t, int64(1024), c.OCRLimit())
	assert.Equal(t, OCRTooLarge, c.OCR(ctx, "big.png", "image/png", []byte(strings.Repeat("x", 1025))))
	assert.Equal(t, OCRServiceError, c.OCR(ctx, "scan.png", "image/png", []byte("png")))
}
