package allocation

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/bedalloc/bedalloc/internal/domain/facility"
	"github.com/bedalloc/bedalloc/internal/platform/apperr"
	"github.com/bedalloc/bedalloc/internal/platform/auth"
	"github.com/bedalloc/bedalloc/pkg/pagination"
)

type Handler struct {
	ledger    *Ledger
	discharge *DischargeCoordinator
	svc       *Service
}

func NewHandler(ledger *Ledger, discharge *DischargeCoordinator, svc *Service) *Handler {
	return &Handler{ledger: ledger, discharge: discharge, svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	patients := api.Group("", auth.RequireRole(auth.RolePatient))
	patients.POST("/bookings", h.Book)

	read := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleFacilityAdmin))
	read.GET("/bookings/:id", h.GetBooking)

	manage := api.Group("", auth.RequireRole(auth.RoleFacilityAdmin), auth.RequireFacility("name"))
	manage.GET("/facilities/:name/bookings", h.ListRecentBookings)
	manage.POST("/facilities/:name/discharges", h.Discharge)
}

// pendingError is returned when a booking's outcome is unknown; BookingID is
// what the caller re-queries.
type pendingError struct {
	apperr.Body
	BookingID uuid.UUID `json:"booking_id"`
	Status    Status    `json:"status"`
}

func (h *Handler) Book(c echo.Context) error {
	var req BookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.ledger.Book(c.Request().Context(), req)
	if err != nil {
		if b != nil {
			return echo.NewHTTPError(apperr.HTTPStatus(err), pendingError{
				Body:      apperr.BodyOf(err),
				BookingID: b.ID,
				Status:    b.Status,
			}).SetInternal(err)
		}
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBooking(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	b, err := h.svc.GetBooking(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListRecentBookings(c echo.Context) error {
	limit, err := pagination.Limit(c, DefaultRecentLimit, MaxRecentLimit)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	items, err := h.svc.ListRecentBookings(c.Request().Context(), facility.NameParam(c), limit)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

type dischargeRequest struct {
	PatientName string `json:"patient_name"`
	Phone       string `json:"phone"`
}

func (h *Handler) Discharge(c echo.Context) error {
	var req dischargeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.discharge.Discharge(c.Request().Context(), DischargeRequest{
		Facility:    facility.NameParam(c),
		PatientName: req.PatientName,
		Phone:       req.Phone,
	})
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}
