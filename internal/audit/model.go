// Package audit persists every access-control decision as an append-only
// record and aggregates those records into reporting views. Writes are
// best-effort from the evaluator's perspective: a failed insert is logged
// by the caller, never propagated.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Record is one row of the rls_audit_log table: a single evaluation's
// final decision together with the context it was made in. Exactly one
// Record is attempted per evaluation, granted or denied.
type Record struct {
	ID              uuid.UUID `db:"id" json:"id"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UserID          string    `db:"user_id" json:"user_id"`
	UserRole        string    `db:"user_role" json:"user_role"`
	ClinicID        string    `db:"clinic_id" json:"clinic_id"`
	Operation       string    `db:"operation" json:"operation"`
	TableName       string    `db:"table_name" json:"table_name"`
	RecordID        string    `db:"record_id" json:"record_id,omitempty"`
	AccessGranted   bool      `db:"access_granted" json:"access_granted"`
	Reason          string    `db:"reason" json:"reason"`
	SecurityScore   int       `db:"security_score" json:"security_score"`
	ThreatLevel     int       `db:"threat_level" json:"threat_level"`
	EmergencyAccess bool      `db:"emergency_access" json:"emergency_access"`
	SessionID       string    `db:"session_id" json:"session_id"`
	IPAddress       string    `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent       string    `db:"user_agent" json:"user_agent,omitempty"`
	Metadata        Metadata  `db:"metadata" json:"metadata"`
}

// Metadata is the structured evaluation detail stored alongside a Record.
// Sub-phase results are optional: a phase that did not run (or failed
// before producing a result) leaves its field nil.
type Metadata struct {
	DurationMS  int64             `json:"duration_ms"`
	Threat      *ThreatMeta       `json:"threat,omitempty"`
	Pattern     *PatternMeta      `json:"pattern,omitempty"`
	Policy      *PolicyMeta       `json:"policy,omitempty"`
	Headers     *HeaderMeta       `json:"headers,omitempty"`
	Override    *OverrideMeta     `json:"override,omitempty"`
	Alerts      []AlertMeta       `json:"alerts,omitempty"`
	RequestData map[string]string `json:"request_data,omitempty"`
	ErrorType   string            `json:"error_type,omitempty"`
}

// ThreatMeta is the threat phase's per-factor breakdown.
type ThreatMeta struct {
	IPScore        int `json:"ip_score"`
	FrequencyScore int `json:"frequency_score"`
	TimeScore      int `json:"time_score"`
	Total          int `json:"total"`
}

// PatternMeta is the pattern phase's score and anomaly list.
type PatternMeta struct {
	SecurityScore int      `json:"security_score"`
	Anomalies     []string `json:"anomalies,omitempty"`
}

// PolicyMeta is the policy engine's verdict as received.
type PolicyMeta struct {
	Allowed    bool     `json:"allowed"`
	Reason     string   `json:"reason,omitempty"`
	Conditions []string `json:"conditions,omitempty"`
}

// HeaderMeta records header-compliance scoring.
type HeaderMeta struct {
	Missing []string `json:"missing,omitempty"`
	Penalty int      `json:"penalty"`
}

// OverrideMeta records an emergency-override attempt and what it replaced.
type OverrideMeta struct {
	Granted      bool   `json:"granted"`
	Reason       string `json:"reason"`
	PriorGranted bool   `json:"prior_granted"`
	PriorReason  string `json:"prior_reason"`
}

// AlertMeta is the embedded copy of an alert raised during evaluation.
type AlertMeta struct {
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	ActionTaken string `json:"action_taken"`
}

// ErrorTypeEvaluationFailure tags the audit row written when the evaluator
// itself failed and the fail-closed verdict was returned.
const ErrorTypeEvaluationFailure = "SECURITY_EVALUATION_FAILURE"
