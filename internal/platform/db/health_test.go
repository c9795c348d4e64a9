package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func runHealth(t *testing.T, checks ...Check) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health/db", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := HealthHandler(checks...)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return rec, body
}

func TestHealthHandler_AllHealthy(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	rec, body := runHealth(t,
		Check{Name: "postgres", Pinger: ok, Stats: func() interface{} { return &PoolStats{TotalConns: 3} }},
		Check{Name: "redis", Pinger: ok},
	)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body["status"])
	}
}

func TestHealthHandler_OneUnhealthy(t *testing.T) {
	rec, body := runHealth(t,
		Check{Name: "postgres", Pinger: pingFunc(func(context.Context) error { return nil })},
		Check{Name: "mongo", Pinger: pingFunc(func(context.Context) error { return errors.New("connection refused") })},
	)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	checks := body["checks"].(map[string]interface{})
	mongo := checks["mongo"].(map[string]interface{})
	if mongo["status"] != "unhealthy" || mongo["error"] != "connection refused" {
		t.Errorf("unexpected mongo result: %v", mongo)
	}
}
