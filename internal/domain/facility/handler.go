package facility

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/bedalloc/bedalloc/internal/platform/apperr"
	"github.com/bedalloc/bedalloc/internal/platform/auth"
	"github.com/bedalloc/bedalloc/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleFacilityAdmin))
	read.GET("/facilities", h.List)
	read.GET("/facilities/:name", h.Get)

	manage := api.Group("", auth.RequireRole(auth.RoleFacilityAdmin), auth.RequireFacility("name"))
	manage.PUT("/facilities/:name/capacity", h.AdjustCapacity)
	manage.GET("/facilities/:name/consistency", h.CheckConsistency)
}

// Summary is the facility view without the patient roster.
type Summary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Location  Location  `json:"location"`
	Total     int       `json:"total"`
	Available int       `json:"available"`
	Occupied  int       `json:"occupied"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (f *Facility) Summary() Summary {
	return Summary{
		ID:        f.ID,
		Name:      f.Name,
		Location:  f.Location,
		Total:     f.Total,
		Available: f.Available,
		Occupied:  f.Occupied,
		UpdatedAt: f.UpdatedAt,
	}
}

// NameParam returns the unescaped :name route parameter.
func NameParam(c echo.Context) string {
	name := c.Param("name")
	if unescaped, err := url.PathUnescape(name); err == nil {
		return unescaped
	}
	return name
}

// canSeeRoster reports whether the caller may read patient details of name.
func canSeeRoster(ctx context.Context, name string) bool {
	for _, r := range auth.RolesFromContext(ctx) {
		if r == auth.RoleAdmin {
			return true
		}
	}
	return auth.FacilityFromContext(ctx) == name
}

func (h *Handler) List(c echo.Context) error {
	items, err := h.svc.List(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	p := pagination.FromContext(c)
	start, end := p.Bounds(len(items))
	out := make([]Summary, 0, end-start)
	for _, f := range items[start:end] {
		out = append(out, f.Summary())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, len(items), p.Limit, p.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	name := NameParam(c)
	f, err := h.svc.Get(ctx, name)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if canSeeRoster(ctx, f.Name) {
		return c.JSON(http.StatusOK, f)
	}
	return c.JSON(http.StatusOK, f.Summary())
}

type capacityRequest struct {
	Total     *int `json:"total"`
	Available *int `json:"available"`
}

func (h *Handler) AdjustCapacity(c echo.Context) error {
	var req capacityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Total == nil || req.Available == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "total and available are required")
	}
	ctx := c.Request().Context()
	name := NameParam(c)
	if err := h.svc.AdjustCapacity(ctx, name, *req.Total, *req.Available); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"facility":  name,
		"total":     *req.Total,
		"available": *req.Available,
		"occupied":  *req.Total - *req.Available,
	})
}

func (h *Handler) CheckConsistency(c echo.Context) error {
	report, err := h.svc.CheckConsistency(c.Request().Context(), NameParam(c))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, report)
}
