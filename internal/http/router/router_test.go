package router

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sandeepkv93/account-lifecycle-service/internal/health"
	"github.com/sandeepkv93/account-lifecycle-service/internal/http/handler"
	"github.com/sandeepkv93/account-lifecycle-service/internal/security"
)

type staticChecker struct{ res health.CheckResult }

func (c staticChecker) Check(context.Context) health.CheckResult { return c.res }

func newTestRouter(readiness *health.ProbeRunner) http.Handler {
	return NewRouter(Dependencies{
		AuthHandler:      handler.NewAuthHandler(nil),
		UserHandler:      handler.NewUserHandler(nil),
		JWTManager:       security.NewJWTManager("iss", "aud", "abcdefghijklmnopqrstuvwxyz123456", "abcdefghijklmnopqrstuvwxyz654321"),
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		AuthRateLimitRPM: 100,
		APIRateLimitRPM:  100,
		Readiness:        readiness,
	})
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env.Error.Code
}

func TestRouterEnvelopes(t *testing.T) {
	h := newTestRouter(nil)
	tests := []struct {
		name   string
		method string
		path   string
		status int
		code   string
	}{
		{name: "liveness", method: http.MethodGet, path: "/health/live", status: http.StatusOK},
		{name: "readiness without checks", method: http.MethodGet, path: "/health/ready", status: http.StatusOK},
		{name: "unknown route", method: http.MethodGet, path: "/nope", status: http.StatusNotFound, code: "NOT_FOUND"},
		{name: "wrong method", method: http.MethodDelete, path: "/auth/login", status: http.StatusMethodNotAllowed, code: "METHOD_NOT_ALLOWED"},
		{name: "api requires bearer", method: http.MethodGet, path: "/api/me", status: http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if tc.code != "" {
				if got := errorCode(t, rr); got != tc.code {
					t.Fatalf("expected %s, got %s", tc.code, got)
				}
			}
			if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
				t.Fatal("expected security headers on every route")
			}
		})
	}
}

func TestRouterReadinessReportsFailingDependency(t *testing.T) {
	probe := health.NewProbeRunner(time.Second, 0, staticChecker{res: health.CheckResult{Name: "db", Healthy: false, Error: "down"}})
	rr := httptest.NewRecorder()
	newTestRouter(probe).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if got := errorCode(t, rr); got != "DEPENDENCY_UNREADY" {
		t.Fatalf("expected DEPENDENCY_UNREADY, got %s", got)
	}
}
