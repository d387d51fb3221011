package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	domain "github.com/lionbidi/storefront/internal/domain"
	"github.com/lionbidi/storefront/internal/platform/httpx"
	"github.com/lionbidi/storefront/internal/platform/requestctx"
)

// HealthReporter collects dependency checks for readiness.
type HealthReporter interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
}

// HealthHandlers serves /healthz and /readyz.
type HealthHandlers struct {
	reporter  HealthReporter
	build     BuildInfo
	startedAt time.Time
	clock     func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthReporter sets the dependency reporter used by /readyz.
func WithHealthReporter(reporter HealthReporter) HealthOption {
	return func(h *HealthHandlers) {
		h.reporter = reporter
	}
}

// WithHealthBuildInfo sets the build metadata echoed by both endpoints.
func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the clock; the first reading becomes the start time.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithHealthStartedAt overrides the process start time used for uptime.
func WithHealthStartedAt(startedAt time.Time) HealthOption {
	return func(h *HealthHandlers) {
		h.startedAt = startedAt
	}
}

// NewHealthHandlers constructs HealthHandlers. Without a reporter /readyz reports ok.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.startedAt.IsZero() {
		h.startedAt = h.clock()
	}
	return h
}

// Healthz reports liveness without touching dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock()
	httpx.WriteJSON(w, http.StatusOK, h.basePayload(domain.HealthStatusOK, now))
}

// Readyz runs dependency checks. A failing required dependency answers 503.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := h.clock()
	if h.reporter == nil {
		httpx.WriteJSON(w, http.StatusOK, h.basePayload(domain.HealthStatusOK, now))
		return
	}

	report, err := h.reporter.Collect(ctx)
	if err != nil {
		requestctx.Logger(ctx).Error("readiness collection failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("health_unavailable", "unable to collect dependency health", http.StatusServiceUnavailable))
		return
	}

	checks := make(map[string]any, len(report.Checks))
	for name, check := range report.Checks {
		entry := map[string]any{
			"status":    check.Status,
			"latencyMs": check.Latency.Milliseconds(),
		}
		if check.Detail != "" {
			entry["detail"] = check.Detail
		}
		if check.Error != "" {
			entry["error"] = check.Error
		}
		if !check.CheckedAt.IsZero() {
			entry["checkedAt"] = check.CheckedAt.UTC().Format(time.RFC3339)
		}
		checks[name] = entry
	}

	if report.Status == domain.HealthStatusError {
		httpx.WriteError(ctx, w, httpx.NewError("dependency_unavailable", "one or more dependencies are unavailable", http.StatusServiceUnavailable).
			WithDetails(map[string]any{"checks": checks}))
		return
	}
	payload := h.basePayload(report.Status, now)
	payload["checks"] = checks
	httpx.WriteJSON(w, http.StatusOK, payload)
}

func (h *HealthHandlers) basePayload(status domain.HealthStatus, now time.Time) map[string]any {
	payload := map[string]any{
		"status":    status,
		"uptime":    now.Sub(h.startedAt).Round(time.Second).String(),
		"timestamp": now.UTC().Format(time.RFC3339),
	}
	if h.build.Version != "" {
		payload["version"] = h.build.Version
	}
	if h.build.CommitSHA != "" {
		payload["commitSha"] = h.build.CommitSHA
	}
	if h.build.Environment != "" {
		payload["environment"] = h.build.Environment
	}
	return payload
}
