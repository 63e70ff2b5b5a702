package httpx

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1,"b":2}`))
	var v struct {
		A int `json:"a"`
	}
	if err := DecodeJSON(req, &v); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestDecodeJSONRejectsTrailingData(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}{"a":2}`))
	var v struct {
		A int `json:"a"`
	}
	if err := DecodeJSON(req, &v); err == nil {
		t.Fatalf("expected trailing data error")
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusBadRequest, "bad")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type: %s", ct)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"error":"bad"}` {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}
