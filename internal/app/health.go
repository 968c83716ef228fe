package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

const healthCheckTimeout = 2 * time.Second

// Pinger is a backing service the health check can reach
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthChecker struct {
	checks map[string]Pinger
}

func NewHealthChecker(checks map[string]Pinger) *HealthChecker {
	return &HealthChecker{
		checks: checks,
	}
}

type checkResult struct {
	name string
	err  error
}

// check pings every dependency in parallel
func (h *HealthChecker) check(ctx context.Context) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	results := make(chan checkResult, len(h.checks))
	for name, p := range h.checks {
		go func() {
			results <- checkResult{name: name, err: p.Ping(ctx)}
		}()
	}

	status := make(map[string]string, len(h.checks))
	var errs []error
	for range h.checks {
		r := <-results
		if r.err != nil {
			status[r.name] = "fail"
			errs = append(errs, fmt.Errorf("%s: %w", r.name, r.err))
			continue
		}
		status[r.name] = "pass"
	}

	sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
	return status, errors.Join(errs...)
}

func (h *HealthChecker) Handler(c *gin.Context) {
	checks, err := h.check(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "fail",
			"checks": checks,
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "pass",
		"checks": checks,
	})
}
