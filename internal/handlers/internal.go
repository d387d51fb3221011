package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lionbidi/storefront/internal/platform/httpx"
	"github.com/lionbidi/storefront/internal/platform/requestctx"
)

const (
	defaultCleanupLimit = 500
	maxCleanupLimit     = 5000
)

// IdempotencyCleaner removes expired idempotency records.
type IdempotencyCleaner interface {
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// InternalHandlers serves scheduler-triggered maintenance endpoints. Callers are authenticated
// by the OIDC middleware mounted on the /internal group.
type InternalHandlers struct {
	cleaner IdempotencyCleaner
	clock   func() time.Time
}

// InternalOption customises InternalHandlers.
type InternalOption func(*InternalHandlers)

// WithInternalClock overrides the time source used as the expiry cut-off.
func WithInternalClock(clock func() time.Time) InternalOption {
	return func(h *InternalHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewInternalHandlers constructs InternalHandlers.
func NewInternalHandlers(cleaner IdempotencyCleaner, opts ...InternalOption) *InternalHandlers {
	h := &InternalHandlers{cleaner: cleaner, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/idempotency/cleanup", h.cleanupIdempotency)
}

func (h *InternalHandlers) cleanupIdempotency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cleaner == nil {
		writeUnavailable(ctx, w, "idempotency")
		return
	}
	limit := defaultCleanupLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a positive integer", http.StatusBadRequest))
			return
		}
		limit = min(value, maxCleanupLimit)
	}

	removed, err := h.cleaner.CleanupExpired(ctx, h.clock().UTC(), limit)
	if err != nil {
		requestctx.Logger(ctx).Error("idempotency cleanup failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("cleanup_failed", "idempotency cleanup failed", http.StatusServiceUnavailable))
		return
	}
	requestctx.Logger(ctx).Info("idempotency cleanup completed", zap.Int("removed", removed), zap.Int("limit", limit))
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"removed": removed})
}
