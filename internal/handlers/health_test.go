package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/lionbidi/storefront/internal/domain"
)

type stubHealthReporter struct {
	report domain.SystemHealthReport
	err    error
}

func (s *stubHealthReporter) Collect(context.Context) (domain.SystemHealthReport, error) {
	return s.report, s.err
}

func TestHealthHandlersHealthz(t *testing.T) {
	start := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	now := start.Add(90 * time.Second)
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(BuildInfo{Version: "1.4.0", CommitSHA: "abc123", Environment: "prod"}),
		WithHealthStartedAt(start),
		WithHealthClock(func() time.Time { return now }),
	)

	rr := httptest.NewRecorder()
	handlers.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "ok" || body["uptime"] != "1m30s" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["version"] != "1.4.0" || body["commitSha"] != "abc123" || body["environment"] != "prod" {
		t.Fatalf("unexpected build info %v", body)
	}
}

func TestHealthHandlersReadyz(t *testing.T) {
	checkedAt := time.Date(2026, time.March, 14, 9, 1, 0, 0, time.UTC)
	testCases := []struct {
		name       string
		reporter   *stubHealthReporter
		wantStatus int
	}{
		{
			name: "all healthy",
			reporter: &stubHealthReporter{report: domain.SystemHealthReport{
				Status: domain.HealthStatusOK,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond, CheckedAt: checkedAt},
					"redis":     {Status: domain.HealthStatusOK, Latency: 2 * time.Millisecond, CheckedAt: checkedAt},
				},
			}},
			wantStatus: http.StatusOK,
		},
		{
			name: "optional dependency degraded",
			reporter: &stubHealthReporter{report: domain.SystemHealthReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.SystemHealthCheck{
					"redis": {Status: domain.HealthStatusError, Error: "dial tcp: refused"},
				},
			}},
			wantStatus: http.StatusOK,
		},
		{
			name: "required dependency down",
			reporter: &stubHealthReporter{report: domain.SystemHealthReport{
				Status: domain.HealthStatusError,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusError, Error: "unavailable"},
				},
			}},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "collection failure",
			reporter:   &stubHealthReporter{err: errors.New("boom")},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			handlers := NewHealthHandlers(WithHealthReporter(tc.reporter))
			rr := httptest.NewRecorder()
			handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, rr.Code, rr.Body.String())
			}
			body := decodeBody(t, rr)
			if tc.wantStatus == http.StatusOK {
				if _, ok := body["checks"].(map[string]any); !ok {
					t.Fatalf("expected checks in body %v", body)
				}
			} else if body["success"] != false {
				t.Fatalf("expected failure envelope, got %v", body)
			}
		})
	}
}
