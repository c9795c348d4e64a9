package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// Pinger is anything whose reachability can be checked: the pgx pool, the
// Mongo store, the Redis event stream.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check is one dependency reported by the health endpoint.
type Check struct {
	Name   string
	Pinger Pinger
	// Stats, when set, adds backend details to the report.
	Stats func() interface{}
}

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// PoolCheck reports the Postgres pool.
func PoolCheck(pool *pgxpool.Pool) Check {
	return Check{
		Name:   "postgres",
		Pinger: pool,
		Stats:  func() interface{} { return GetPoolStats(pool) },
	}
}

type checkResult struct {
	Status string      `json:"status"`
	Error  string      `json:"error,omitempty"`
	Stats  interface{} `json:"stats,omitempty"`
}

// HealthHandler pings every check with a 5s budget and answers 503 when any
// of them fails.
func HealthHandler(checks ...Check) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		overall := "healthy"
		results := make(map[string]checkResult, len(checks))
		for _, chk := range checks {
			res := checkResult{Status: "healthy"}
			if err := chk.Pinger.Ping(ctx); err != nil {
				res.Status = "unhealthy"
				res.Error = err.Error()
				status = http.StatusServiceUnavailable
				overall = "unhealthy"
			}
			if chk.Stats != nil {
				res.Stats = chk.Stats()
			}
			results[chk.Name] = res
		}

		return c.JSON(status, map[string]interface{}{
			"status": overall,
			"checks": results,
		})
	}
}
