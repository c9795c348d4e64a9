package matching

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/bedalloc/bedalloc/internal/domain/facility"
	"github.com/bedalloc/bedalloc/internal/platform/apperr"
	"github.com/bedalloc/bedalloc/internal/platform/auth"
)

type Handler struct {
	matcher       *Matcher
	defaultRadius float64
}

// NewHandler serves match requests. Requests without radius_km use
// defaultRadius.
func NewHandler(matcher *Matcher, defaultRadius float64) *Handler {
	return &Handler{matcher: matcher, defaultRadius: defaultRadius}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleFacilityAdmin))
	g.POST("/matches", h.Match)
}

type matchRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	RadiusKm  float64  `json:"radius_km"`
}

func (h *Handler) Match(c echo.Context) error {
	var req matchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Latitude == nil || req.Longitude == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "latitude and longitude are required")
	}
	radius := req.RadiusKm
	if radius == 0 {
		radius = h.defaultRadius
	}

	loc := facility.Location{Latitude: *req.Latitude, Longitude: *req.Longitude}
	m, err := h.matcher.Match(c.Request().Context(), loc, radius)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, m)
}
