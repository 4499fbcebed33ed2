// Package rls implements the row-level-security evaluation pipeline that
// produces a per-request authorization verdict for clinic data access. A
// single call to Evaluator.Evaluate runs threat assessment, access-pattern
// analysis, policy evaluation, header-compliance scoring, the emergency
// override, and final thresholding, then records the decision in the audit
// store. The pipeline fails closed: no internal error may surface to the
// caller as anything other than a denial.
package rls

import (
	"time"

	"github.com/google/uuid"
)

// Operation identifies the guarded database operation being requested.
type Operation string

const (
	OpSelect Operation = "SELECT"
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Valid reports whether op is one of the four recognized operations.
func (op Operation) Valid() bool {
	switch op {
	case OpSelect, OpInsert, OpUpdate, OpDelete:
		return true
	}
	return false
}

// SecurityContext identifies the requester and the request being evaluated.
// It is constructed fresh per inbound request and is immutable for the
// duration of one evaluation; it is never persisted directly, only embedded
// into the audit record.
type SecurityContext struct {
	UserID          string    `json:"user_id"`
	UserRole        string    `json:"user_role"`
	ClinicID        string    `json:"clinic_id"`
	ProfessionalID  string    `json:"professional_id,omitempty"`
	RequestMethod   string    `json:"request_method"`
	RequestPath     string    `json:"request_path"`
	SessionID       string    `json:"session_id"`
	IPAddress       string    `json:"ip_address,omitempty"`
	UserAgent       string    `json:"user_agent,omitempty"`
	EmergencyAccess bool      `json:"emergency_access"`
	Timestamp       time.Time `json:"timestamp"`
}

// AlertType classifies a security alert raised during evaluation.
type AlertType string

const (
	AlertAccessViolation   AlertType = "ACCESS_VIOLATION"
	AlertThreatDetected    AlertType = "THREAT_DETECTED"
	AlertSuspiciousPattern AlertType = "SUSPICIOUS_PATTERN"
	AlertEmergencyAccess   AlertType = "EMERGENCY_ACCESS"
)

// Severity grades how serious an alert is.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// AlertDetails is the closed set of structured payloads an Alert may carry.
// Each phase attaches its own payload type so that consumers can switch on
// the concrete type instead of digging through untyped maps.
type AlertDetails interface {
	alertDetails()
}

// ThreatDetails carries the per-factor breakdown of a threat assessment.
type ThreatDetails struct {
	IPScore        int `json:"ip_score"`
	FrequencyScore int `json:"frequency_score"`
	TimeScore      int `json:"time_score"`
	Total          int `json:"total"`
}

// PatternDetails carries the result of access-pattern analysis.
type PatternDetails struct {
	SecurityScore int      `json:"security_score"`
	Anomalies     []string `json:"anomalies,omitempty"`
}

// PolicyDetails carries the row-level policy engine's verdict.
type PolicyDetails struct {
	Allowed    bool     `json:"allowed"`
	Reason     string   `json:"reason,omitempty"`
	Conditions []string `json:"conditions,omitempty"`
}

// HeaderDetails records which required security headers were missing.
type HeaderDetails struct {
	Missing []string `json:"missing"`
	Penalty int      `json:"penalty"`
}

// OverrideDetails captures the decision an emergency override replaced.
type OverrideDetails struct {
	PriorGranted  bool   `json:"prior_granted"`
	PriorReason   string `json:"prior_reason"`
	SecurityScore int    `json:"security_score"`
	ThreatLevel   int    `json:"threat_level"`
}

func (ThreatDetails) alertDetails()   {}
func (PatternDetails) alertDetails()  {}
func (PolicyDetails) alertDetails()   {}
func (HeaderDetails) alertDetails()   {}
func (OverrideDetails) alertDetails() {}

// Alert is an append-only observation generated during evaluation. Alerts
// are embedded by value into the audit record's metadata and may be
// dispatched immediately through an AlertSink.
type Alert struct {
	ID          uuid.UUID       `json:"id"`
	Type        AlertType       `json:"type"`
	Severity    Severity        `json:"severity"`
	Description string          `json:"description"`
	Context     SecurityContext `json:"context"`
	Details     AlertDetails    `json:"details,omitempty"`
	ActionTaken string          `json:"action_taken"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Evaluation is the accumulated result of one evaluation call. Higher
// SecurityScore means safer; higher ThreatLevel means riskier. Both are
// always within [0, 100]. An Evaluation is never shared across requests.
type Evaluation struct {
	Granted       bool     `json:"granted"`
	Reason        string   `json:"reason"`
	SecurityScore int      `json:"security_score"`
	ThreatLevel   int      `json:"threat_level"`
	Requirements  []string `json:"requirements,omitempty"`
	Alerts        []Alert  `json:"alerts,omitempty"`
}

// clampScore bounds a score to the [0, 100] range.
func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
