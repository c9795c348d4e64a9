package main

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/bedalloc/bedalloc/internal/config"
	"github.com/bedalloc/bedalloc/internal/domain/allocation"
	"github.com/bedalloc/bedalloc/internal/domain/facility"
	"github.com/bedalloc/bedalloc/internal/domain/matching"
	"github.com/bedalloc/bedalloc/internal/platform/auth"
	"github.com/bedalloc/bedalloc/internal/platform/db"
	"github.com/bedalloc/bedalloc/internal/platform/events"
	"github.com/bedalloc/bedalloc/internal/platform/metrics"
	"github.com/bedalloc/bedalloc/internal/platform/middleware"
)

const version = "0.1.0"

// app holds the wired services behind the HTTP API.
type app struct {
	facilities *facility.Service
	matcher    *matching.Matcher
	ledger     *allocation.Ledger
	discharge  *allocation.DischargeCoordinator
	bookings   *allocation.Service
	limiter    *middleware.LimiterStore
}

func newApp(cfg *config.Config, logger zerolog.Logger, st *stores, pub events.Publisher, m *metrics.Metrics) (*app, error) {
	ladder, err := matching.ParseLadder(cfg.RadiusLadder)
	if err != nil {
		return nil, fmt.Errorf("RADIUS_LADDER: %w", err)
	}

	a := &app{
		facilities: facility.NewService(st.registry, logger),
		matcher:    matching.NewMatcher(st.registry, ladder, logger),
		ledger:     allocation.NewLedger(st.registry, st.bookings, logger),
		discharge:  allocation.NewDischargeCoordinator(st.registry, st.bookings, logger),
		bookings:   allocation.NewService(st.registry, st.bookings, logger),
		limiter: middleware.NewLimiterStore(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
		}),
	}
	a.facilities.SetPublisher(pub)
	a.facilities.SetMetrics(m)
	a.matcher.SetMetrics(m)
	for _, s := range []interface {
		SetPublisher(events.Publisher)
		SetMetrics(*metrics.Metrics)
	}{a.ledger, a.discharge, a.bookings} {
		s.SetPublisher(pub)
		s.SetMetrics(m)
	}
	return a, nil
}

func newServer(cfg *config.Config, logger zerolog.Logger, a *app, m *metrics.Metrics, checks []db.Check) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	// Auth middleware
	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.AuthSigningKey),
		Skipper:    auth.AuthSkipper,
	}
	if cfg.AuthSigningKey == "" {
		jwtCfg.SigningKey = nil
	}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	e.Use(middleware.Audit(logger))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(checks...))
	e.GET("/metrics", m.Handler())

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(a.limiter))
	apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	facility.NewHandler(a.facilities).RegisterRoutes(apiV1)
	matching.NewHandler(a.matcher, cfg.DefaultRadiusKm).RegisterRoutes(apiV1)
	allocation.NewHandler(a.ledger, a.discharge, a.bookings).RegisterRoutes(apiV1)

	return e
}
