package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/file-converter/pkg/logger"
)

// Check probes one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

// HealthHandler answers /healthz and feeds the gRPC health service.
type HealthHandler struct {
	mu      sync.RWMutex
	checks  map[string]Check
	timeout time.Duration
	logger  logger.Logger
}

func NewHealthHandler(timeout time.Duration, log logger.Logger) *HealthHandler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthHandler{
		checks:  map[string]Check{},
		timeout: timeout,
		logger:  log.Named("health"),
	}
}

// Register adds a named check. Registering a name twice replaces the check.
func (h *HealthHandler) Register(name string, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Check runs every registered check and reports per-check results.
func (h *HealthHandler) Check(ctx context.Context) (map[string]string, bool) {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	h.mu.RUnlock()
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	results := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		h.mu.RLock()
		check := h.checks[name]
		h.mu.RUnlock()
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			healthy = false
			continue
		}
		results[name] = "ok"
	}
	return results, healthy
}

func (h *HealthHandler) Healthz(c *gin.Context) {
	results, healthy := h.Check(c.Request.Context())
	status, state := http.StatusOK, "ok"
	if !healthy {
		status, state = http.StatusServiceUnavailable, "degraded"
		h.logger.Warn("Health check failed", logger.Any("checks", results))
	}
	c.JSON(status, gin.H{"status": state, "checks": results})
}

// Watch runs the checks every interval and reports each result to report
// until ctx is done.
func (h *HealthHandler) Watch(ctx context.Context, interval time.Duration, report func(healthy bool)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		_, healthy := h.Check(ctx)
		report(healthy)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
