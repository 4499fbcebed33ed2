package rls

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cliniguard/cliniguard/internal/platform/auth"
)

type Handler struct {
	eval *Evaluator
}

func NewHandler(eval *Evaluator) *Handler {
	return &Handler{eval: eval}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/access/evaluate", h.EvaluateAccess)
}

// evaluateRequest is the request body for POST /access/evaluate.
type evaluateRequest struct {
	TableName       string            `json:"table_name"`
	Operation       string            `json:"operation"`
	RecordID        string            `json:"record_id,omitempty"`
	EmergencyAccess bool              `json:"emergency_access,omitempty"`
	RequestMethod   string            `json:"request_method,omitempty"`
	RequestPath     string            `json:"request_path,omitempty"`
	RequestData     map[string]string `json:"request_data,omitempty"`
}

// evaluateResponse is the wire shape of a verdict.
type evaluateResponse struct {
	Granted       bool        `json:"granted"`
	Reason        string      `json:"reason"`
	SecurityScore int         `json:"security_score"`
	ThreatLevel   int         `json:"threat_level"`
	Requirements  []string    `json:"requirements,omitempty"`
	Alerts        []alertView `json:"alerts,omitempty"`
}

type alertView struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	ActionTaken string `json:"action_taken"`
}

// EvaluateAccess runs the access-decision pipeline for the authenticated
// requester. The identity comes from the verified token, never from the
// request body; the body only names the target and asserted justification.
func (h *Handler) EvaluateAccess(c echo.Context) error {
	var body evaluateRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.TableName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "table_name is required")
	}
	op := Operation(body.Operation)
	if !op.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "operation must be SELECT, INSERT, UPDATE, or DELETE")
	}

	// The body describes the data access being judged, which is usually a
	// different request than the one carrying this call. Absent fields fall
	// back to the carrier request.
	method := body.RequestMethod
	if method == "" {
		method = c.Request().Method
	}
	path := body.RequestPath
	if path == "" {
		path = c.Request().URL.Path
	}

	ctx := c.Request().Context()
	sc := SecurityContext{
		UserID:          auth.UserIDFromContext(ctx),
		UserRole:        auth.RoleFromContext(ctx),
		ClinicID:        auth.ClinicIDFromContext(ctx),
		ProfessionalID:  auth.ProfessionalIDFromContext(ctx),
		SessionID:       auth.SessionIDFromContext(ctx),
		RequestMethod:   method,
		RequestPath:     path,
		IPAddress:       c.RealIP(),
		UserAgent:       c.Request().UserAgent(),
		EmergencyAccess: body.EmergencyAccess,
	}

	ev := h.eval.Evaluate(ctx, Request{
		Context:     sc,
		TableName:   body.TableName,
		Operation:   op,
		RecordID:    body.RecordID,
		RequestData: body.RequestData,
	})

	resp := evaluateResponse{
		Granted:       ev.Granted,
		Reason:        ev.Reason,
		SecurityScore: ev.SecurityScore,
		ThreatLevel:   ev.ThreatLevel,
		Requirements:  ev.Requirements,
	}
	for _, a := range ev.Alerts {
		resp.Alerts = append(resp.Alerts, alertView{
			ID:          a.ID.String(),
			Type:        string(a.Type),
			Severity:    string(a.Severity),
			Description: a.Description,
			ActionTaken: a.ActionTaken,
		})
	}

	status := http.StatusOK
	if !ev.Granted {
		status = http.StatusForbidden
	}
	return c.JSON(status, resp)
}
