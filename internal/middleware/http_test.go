package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"civicreport/internal/models"
	"civicreport/internal/rate"
	"civicreport/internal/service"
)

func TestClientIPTrustProxy(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.5:12345"
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.5")

	if got := ClientIP(r, false); got != "10.0.0.5" {
		t.Fatalf("unexpected direct IP: %s", got)
	}
	if got := ClientIP(r, true); got != "1.2.3.4" {
		t.Fatalf("unexpected proxied IP: %s", got)
	}
}

type fakeSessions map[string]models.User

func (f fakeSessions) CurrentSession(_ context.Context, token string) (models.User, error) {
	if token == "boom" {
		return models.User{}, errors.New("store down")
	}
	u, ok := f[token]
	if !ok {
		return models.User{}, service.ErrUnauthenticated
	}
	return u, nil
}

func TestAuthnAndAdminOnly(t *testing.T) {
	sessions := fakeSessions{
		"citizen": {ID: "1", Role: models.RoleCitizen},
		"admin":   {ID: "2", Role: models.RoleAdmin},
	}
	var seen *models.User
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = User(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	authed := Authn(sessions, "sid", zap.NewNop())(final)
	admin := Authn(sessions, "sid", zap.NewNop())(AdminOnly(final))

	cases := []struct {
		name    string
		handler http.Handler
		cookie  string
		want    int
	}{
		{"no cookie", authed, "", http.StatusUnauthorized},
		{"unknown token", authed, "nope", http.StatusUnauthorized},
		{"store failure", authed, "boom", http.StatusInternalServerError},
		{"citizen", authed, "citizen", http.StatusNoContent},
		{"citizen on admin route", admin, "citizen", http.StatusForbidden},
		{"admin on admin route", admin, "admin", http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest("GET", "/", nil)
		if tc.cookie != "" {
			req.AddCookie(&http.Cookie{Name: "sid", Value: tc.cookie})
		}
		rec := httptest.NewRecorder()
		tc.handler.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, rec.Code)
		}
	}
	if seen == nil || seen.ID != "2" || !seen.IsAdmin() {
		t.Fatalf("expected admin user on context, got %+v", seen)
	}
}

func TestCSRFFromCookie(t *testing.T) {
	h := CSRFFromCookie("csrf")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	get := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, get)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected GET to bypass csrf, got %d", rec.Code)
	}

	for _, tc := range []struct {
		header, cookie string
		want           int
	}{
		{"", "abc", http.StatusForbidden},
		{"abc", "", http.StatusForbidden},
		{"abc", "abd", http.StatusForbidden},
		{"abc", "abc", http.StatusOK},
	} {
		req := httptest.NewRequest("POST", "/", nil)
		if tc.header != "" {
			req.Header.Set("X-CSRF-Token", tc.header)
		}
		if tc.cookie != "" {
			req.AddCookie(&http.Cookie{Name: "csrf", Value: tc.cookie})
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("header=%q cookie=%q: expected %d, got %d", tc.header, tc.cookie, tc.want, rec.Code)
		}
	}
}

func TestRateLimitRejectsAfterLimit(t *testing.T) {
	h := RateLimit(rate.NewLimiter(), "login", 2, time.Minute, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/", nil)
		req.RemoteAddr = "10.0.0.1:1000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if i == 2 && rec.Header().Get("Retry-After") != "60" {
			t.Fatalf("expected Retry-After 60, got %q", rec.Header().Get("Retry-After"))
		}
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes: %v", codes)
	}
}

func TestRequestIDAndLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := RequestIDMiddleware(RequestLogger(zap.New(core), false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("hi"))
	})))

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") != "abc-123" {
		t.Fatalf("expected inbound request id to be reused")
	}

	entries := logs.FilterMessage("request").All()
	if len(entries) != 1 {
		t.Fatalf("expected one request log, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["status"] != int64(http.StatusTeapot) || fields["request_id"] != "abc-123" || fields["path"] != "/x" {
		t.Fatalf("unexpected log fields: %v", fields)
	}

	req = httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("X-Request-ID", "has space")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got == "has space" || got == "" {
		t.Fatalf("expected a fresh request id, got %q", got)
	}
}
