package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/powerpulse/powerpulse/internal/adapter/httpserver"
	"github.com/powerpulse/powerpulse/internal/app"
	"github.com/powerpulse/powerpulse/internal/config"
	"github.com/powerpulse/powerpulse/internal/service/progress"
	"github.com/powerpulse/powerpulse/internal/usecase"
)

func TestParseOrigins(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", []string{"*"}},
		{"*", []string{"*"}},
		{"https://a.example", []string{"https://a.example"}},
		{"https://a.example, https://b.example", []string{"https://a.example", "https://b.example"}},
		{" , , ", []string{"*"}},
	}
	for _, c := range cases {
		if got := app.ParseOrigins(c.in); !reflect.DeepEqual(got, c.want) {
			t.Fatalf("ParseOrigins(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func newRouter(cfg config.Config) http.Handler {
	srv := httpserver.NewServer(cfg, nil, usecase.ReportService{}, usecase.MetricsService{}, progress.NewTracker(),
		func(_ context.Context) error { return nil }, nil)
	return app.BuildRouter(cfg, srv)
}

func TestBuildRouter_HealthAndReadiness(t *testing.T) {
	h := newRouter(config.Config{Port: 8080, AIService: "stub", RateLimitPerMin: 60})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Result().StatusCode != http.StatusOK {
		t.Fatalf("/healthz: want 200, got %d", rec.Result().StatusCode)
	}

	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec2.Result().StatusCode != http.StatusOK {
		t.Fatalf("/readyz: want 200, got %d", rec2.Result().StatusCode)
	}

	rec3 := httptest.NewRecorder()
	h.ServeHTTP(rec3, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec3.Result().StatusCode != http.StatusOK {
		t.Fatalf("/metrics: want 200, got %d", rec3.Result().StatusCode)
	}
}

func TestBuildRouter_CommonHeaders(t *testing.T) {
	h := newRouter(config.Config{Port: 8080, AIService: "stub", RateLimitPerMin: 60})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/progress", nil))
	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("/api/progress: want 200, got %d", res.StatusCode)
	}
	if res.Header.Get("X-Request-Id") == "" {
		t.Fatalf("missing X-Request-Id header")
	}
	if got := res.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

func TestBuildRouter_UnknownRoute(t *testing.T) {
	h := newRouter(config.Config{Port: 8080, AIService: "stub", RateLimitPerMin: 60})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	if rec.Result().StatusCode != http.StatusNotFound {
		t.Fatalf("unknown route: want 404, got %d", rec.Result().StatusCode)
	}
}

func TestBuildRouter_RateLimitsMutations(t *testing.T) {
	h := newRouter(config.Config{Port: 8080, AIService: "stub", RateLimitPerMin: 2})

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodDelete, "/api/progress/does-not-exist", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		h.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Result().StatusCode)
	}
	if statuses[0] != http.StatusNotFound || statuses[1] != http.StatusNotFound {
		t.Fatalf("first two cancels should pass the limiter, got %v", statuses)
	}
	if statuses[2] != http.StatusTooManyRequests {
		t.Fatalf("third cancel: want 429, got %d", statuses[2])
	}
}

func TestBuildRouter_CORSPreflight(t *testing.T) {
	h := newRouter(config.Config{Port: 8080, AIService: "stub", RateLimitPerMin: 60, CORSAllowOrigins: "*"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/upload-json", nil)
	req.Header.Set("Origin", "https://dash.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	h.ServeHTTP(rec, req)
	if got := rec.Result().Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want *", got)
	}
}
