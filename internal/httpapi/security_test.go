package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vendia/backend/internal/domain"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	handler := newTestAPI(t)
	rec := doJSON(t, handler, http.MethodGet, "/healthz", "", "", nil)

	expected := map[string]string{
		"X-Content-Type-Options":      "nosniff",
		"X-Frame-Options":             "DENY",
		"Referrer-Policy":             "strict-origin-when-cross-origin",
		"Cross-Origin-Opener-Policy":  "same-origin",
		"Access-Control-Allow-Origin": "*",
	}
	for header, want := range expected {
		if got := rec.Header().Get(header); got != want {
			t.Fatalf("header %s: expected %q, got %q", header, want, got)
		}
	}
}

func TestPreflightRequestShortCircuits(t *testing.T) {
	handler := newTestAPI(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/products", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Methods"), "PATCH") {
		t.Fatalf("expected PATCH in allowed methods, got %q", rec.Header().Get("Access-Control-Allow-Methods"))
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	handler := newTestAPI(t)

	body := domain.LoginRequest{Username: "admin", Password: "wrong-password"}
	var last int
	for i := 0; i < 6; i++ {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", "", body)
		last = rec.Code
		if i < 5 && rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rec.Code)
		}
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on sixth attempt, got %d", last)
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	handler := newTestAPI(t)
	token := loginAs(t, handler, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, handler)

	huge := bytes.Repeat([]byte("a"), (1<<20)+1024)
	body := []byte(`{"product_id":"prod-espresso","quantity":1,"price_mode":"` + string(huge) + `"}`)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/lines", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", csrf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized body, got %d", rec.Code)
	}
}

func TestManagerPINRateLimitReturns429(t *testing.T) {
	handler := newTestAPI(t)
	token := loginAs(t, handler, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, handler)

	body := domain.ReturnRequest{
		SaleID:     "sale-missing",
		Lines:      []domain.ReturnLineInput{{ProductID: "prod-mug", Quantity: 1}},
		ManagerPIN: "000000",
	}
	for i := 0; i < 8; i++ {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/returns", token, csrf, body)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("attempt %d: expected 403, got %d: %s", i+1, rec.Code, rec.Body.String())
		}
	}
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/returns", token, csrf, body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after exhausting pin attempts, got %d", rec.Code)
	}
}

func TestCSRFTokenFromPreviousHourStillAccepted(t *testing.T) {
	api := &API{csrfSecret: []byte("test-secret")}

	now := time.Now().UTC().Truncate(time.Hour).Unix()
	previous := api.csrfTokenForHour(now - 3600)
	if !api.validateCSRFToken(previous) {
		t.Fatalf("expected previous-hour token to validate")
	}
	stale := api.csrfTokenForHour(now - 7200)
	if api.validateCSRFToken(stale) {
		t.Fatalf("expected two-hour-old token to be rejected")
	}
	if api.validateCSRFToken("") {
		t.Fatalf("expected empty token to be rejected")
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	if got := parsePositiveLimit("", 50, 200); got != 50 {
		t.Fatalf("expected fallback 50, got %d", got)
	}
	if got := parsePositiveLimit("25", 50, 200); got != 25 {
		t.Fatalf("expected 25, got %d", got)
	}
	if got := parsePositiveLimit("9999", 50, 200); got != 200 {
		t.Fatalf("expected cap 200, got %d", got)
	}
	if got := parsePositiveLimit("-3", 50, 200); got != 50 {
		t.Fatalf("expected fallback for negative, got %d", got)
	}
	if got := parsePositiveLimit("junk", 50, 200); got != 50 {
		t.Fatalf("expected fallback for junk, got %d", got)
	}
}

func TestAttemptLimiterWindowEviction(t *testing.T) {
	limiter := newAttemptLimiter(2, 0)
	if !limiter.Allow("key") || !limiter.Allow("key") {
		t.Fatalf("expected first two attempts to pass")
	}
	if limiter.Allow("key") {
		t.Fatalf("expected third attempt within window to fail")
	}
	if !limiter.Allow("other") {
		t.Fatalf("expected independent key to pass")
	}
}
