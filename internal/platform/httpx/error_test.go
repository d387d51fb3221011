package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lionbidi/storefront/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "trace-1"})
	rec := httptest.NewRecorder()

	WriteError(ctx, rec, NewError("transaction_id_in_use", "transaction id\nalready used", http.StatusConflict).
		WithRequestID("req-1").
		WithDetails(map[string]any{"field": "transactionId"}))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["success"] != false || body["error"] != "transaction_id_in_use" || body["kind"] != "conflict" {
		t.Fatalf("unexpected envelope %v", body)
	}
	if body["message"] != "transaction id already used" {
		t.Fatalf("expected sanitised message, got %v", body["message"])
	}
	if body["request_id"] != "req-1" || body["trace_id"] != "trace-1" {
		t.Fatalf("unexpected ids %v", body)
	}
	details, _ := body["details"].(map[string]any)
	if details["field"] != "transactionId" {
		t.Fatalf("unexpected details %v", body["details"])
	}
}

func TestKindForStatus(t *testing.T) {
	cases := map[int]string{
		http.StatusBadRequest:            "validation",
		http.StatusRequestEntityTooLarge: "validation",
		http.StatusConflict:              "conflict",
		http.StatusTooManyRequests:       "transient",
		http.StatusServiceUnavailable:    "transient",
		http.StatusUnauthorized:          "fatal",
		http.StatusNotFound:              "fatal",
	}
	for status, want := range cases {
		if got := NewError("x", "y", status).Kind; got != want {
			t.Errorf("status %d: expected %s, got %s", status, want, got)
		}
	}
}

func TestWriteJSONAddsSuccess(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]any{"orderNumber": "LB-2026-000001"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"success":true`) {
		t.Fatalf("missing success flag: %s", rec.Body.String())
	}
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Pincode string `json:"pincode"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"pincode":"560001"}`))
	if err := DecodeJSON(req, &dst, 0); err != nil || dst.Pincode != "560001" {
		t.Fatalf("DecodeJSON: %v %+v", err, dst)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"pincode":"`+strings.Repeat("9", 64)+`"}`))
	if err := DecodeJSON(req, &dst, 16); err != ErrBodyTooLarge {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(" "))
	if err := DecodeJSON(req, &dst, 0); err == nil {
		t.Fatalf("expected error for empty body")
	}
}
