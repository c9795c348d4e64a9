package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/bedalloc/bedalloc/internal/platform/auth"
)

// AuditEntry records one state-changing call against the allocation API.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	Facility   string
	Action     string
	Path       string
	Method     string
	IPAddress  string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every booking, discharge and capacity change made through
// /api/v1, including rejected ones. Reads are not audited.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			action := auditAction(req.Method, c.Path())
			if action == "" {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if err != nil {
				status = http.StatusInternalServerError
			}
			entry := AuditEntry{
				UserID:     auth.UserIDFromContext(req.Context()),
				UserRoles:  auth.RolesFromContext(req.Context()),
				Facility:   auditFacility(c),
				Action:     action,
				Path:       req.URL.Path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				StatusCode: status,
				Timestamp:  time.Now().UTC(),
			}
			entry.RequestID, _ = c.Get("request_id").(string)

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "allocation_audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("facility", entry.Facility).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("allocation_change")

			return err
		}
	}
}

// auditAction maps a route to the allocation action it performs, or "" for
// routes that change nothing.
func auditAction(method, route string) string {
	if method == http.MethodGet || method == http.MethodHead || !strings.HasPrefix(route, "/api/v1/") {
		return ""
	}
	switch {
	case strings.HasSuffix(route, "/discharges"):
		return "discharge"
	case strings.HasSuffix(route, "/capacity"):
		return "adjust_capacity"
	case strings.HasSuffix(route, "/bookings"):
		return "book"
	case strings.HasSuffix(route, "/matches"):
		return ""
	}
	return strings.ToLower(method)
}

func auditFacility(c echo.Context) string {
	for _, name := range c.ParamNames() {
		if name == "name" {
			return c.Param("name")
		}
	}
	return ""
}
