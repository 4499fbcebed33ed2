package audit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cliniguard/cliniguard/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Reporting is restricted to security-relevant roles.
	sec := api.Group("/security", auth.RequireRole("admin", "clinic_admin"))
	sec.GET("/users/:id/summary", h.GetUserSummary)
	sec.GET("/report", h.GetReport)
}

func (h *Handler) GetUserSummary(c echo.Context) error {
	userID := c.Param("id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user id is required")
	}
	summary, err := h.svc.GetUserSecuritySummary(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, summary)
}

func (h *Handler) GetReport(c echo.Context) error {
	var f ReportFilter

	if s := c.QueryParam("start"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "start must be RFC 3339")
		}
		f.Start = &t
	}
	if s := c.QueryParam("end"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "end must be RFC 3339")
		}
		f.End = &t
	}
	if f.Start != nil && f.End != nil && f.End.Before(*f.Start) {
		return echo.NewHTTPError(http.StatusBadRequest, "end must not precede start")
	}
	f.ClinicID = c.QueryParam("clinic_id")
	if s := c.QueryParam("threat_threshold"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 || n > 100 {
			return echo.NewHTTPError(http.StatusBadRequest, "threat_threshold must be 0-100")
		}
		f.ThreatThreshold = n
	}

	report, err := h.svc.GenerateSecurityReport(c.Request().Context(), f)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, report)
}
