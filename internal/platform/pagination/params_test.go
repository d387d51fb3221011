package pagination

import (
	"errors"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d got %d", DefaultPageSize, params.PageSize)
	}
	if params.PageToken != "" || !params.Cursor.IsZero() {
		t.Fatalf("expected empty cursor, got %#v", params)
	}
}

func TestParsePageSize(t *testing.T) {
	opts := Options{DefaultPageSize: 25, MaxPageSize: 40}
	values := url.Values{}
	values.Set("pageSize", "30")

	params, err := Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != 30 {
		t.Fatalf("expected page size 30 got %d", params.PageSize)
	}

	values.Set("pageSize", "400")
	params, err = Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != opts.MaxPageSize {
		t.Fatalf("expected page size clamped to %d got %d", opts.MaxPageSize, params.PageSize)
	}
}

func TestParseInvalidPageSize(t *testing.T) {
	for _, raw := range []string{"abc", "0", "-3"} {
		values := url.Values{}
		values.Set("pageSize", raw)
		if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageSize) {
			t.Fatalf("pageSize %q: expected ErrInvalidPageSize got %v", raw, err)
		}
	}
}

func TestTokenRoundTripThroughRequest(t *testing.T) {
	createdAt := time.Date(2024, time.May, 4, 10, 30, 0, 0, time.UTC)
	token, err := EncodeToken(Cursor{CreatedAt: createdAt, ID: "ord_01HZ"})
	if err != nil {
		t.Fatalf("EncodeToken returned error: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/orders/admin/pending?pageSize=5&pageToken="+url.QueryEscape(token), nil)
	params, err := FromRequest(req, Options{})
	if err != nil {
		t.Fatalf("FromRequest returned error: %v", err)
	}
	if params.PageSize != 5 || params.PageToken != token {
		t.Fatalf("unexpected params %#v", params)
	}
	if params.Cursor.ID != "ord_01HZ" || !params.Cursor.CreatedAt.Equal(createdAt) {
		t.Fatalf("unexpected cursor %#v", params.Cursor)
	}
}

func TestEncodeZeroCursor(t *testing.T) {
	token, err := EncodeToken(Cursor{})
	if err != nil || token != "" {
		t.Fatalf("expected empty token, got %q err %v", token, err)
	}
}

func TestDecodeTokenInvalid(t *testing.T) {
	for _, token := range []string{"!!!invalid!!!", "bm90LWpzb24", "e30"} {
		if _, err := DecodeToken(token); !errors.Is(err, ErrInvalidPageToken) {
			t.Fatalf("token %q: expected ErrInvalidPageToken got %v", token, err)
		}
	}
}
