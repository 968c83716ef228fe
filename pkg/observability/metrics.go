package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PrometheusHandler returns a Gin handler for Prometheus metrics
func PrometheusHandler(handler http.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		if handler != nil {
			handler.ServeHTTP(c.Writer, c.Request)
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "metrics handler not initialized",
			})
		}
	}
}

// AuthMetrics counts login, refresh and resolution outcomes. A nil
// *AuthMetrics records nothing.
type AuthMetrics struct {
	logins      metric.Int64Counter
	refreshes   metric.Int64Counter
	resolutions metric.Int64Counter
}

// NewAuthMetrics registers the auth counters on meter
func NewAuthMetrics(meter metric.Meter) (*AuthMetrics, error) {
	logins, err := meter.Int64Counter("auth_logins_total",
		metric.WithDescription("Completed login callbacks by result"))
	if err != nil {
		return nil, fmt.Errorf("failed to create logins counter: %w", err)
	}

	refreshes, err := meter.Int64Counter("auth_refresh_total",
		metric.WithDescription("Access token refresh attempts by result"))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh counter: %w", err)
	}

	resolutions, err := meter.Int64Counter("auth_resolutions_total",
		metric.WithDescription("Current user resolutions by outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create resolutions counter: %w", err)
	}

	return &AuthMetrics{
		logins:      logins,
		refreshes:   refreshes,
		resolutions: resolutions,
	}, nil
}

// Login records a callback result ("success" or "failure")
func (m *AuthMetrics) Login(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// Refresh records a refresh grant result
func (m *AuthMetrics) Refresh(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// Resolution records how a protected request was resolved
func (m *AuthMetrics) Resolution(ctx context.Context, outcome, source string) {
	if m == nil {
		return
	}
	m.resolutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("source", source),
	))
}
