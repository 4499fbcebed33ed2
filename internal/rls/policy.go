package rls

import (
	"context"
	"time"
)

// PolicyInput is the normalized context handed to the row-level policy
// engine.
type PolicyInput struct {
	UserID          string
	UserRole        string
	ClinicID        string
	ProfessionalID  string
	EmergencyAccess bool
	AccessTime      time.Time
	IPAddress       string
	TableName       string
	Operation       Operation
	RecordID        string
}

// PolicyResult is the engine's verdict on a PolicyInput.
type PolicyResult struct {
	Allowed         bool
	Reason          string
	AuditRequired   bool
	EmergencyAccess bool
	Conditions      []string
}

// PolicyEngine is the external row-level policy collaborator. Engine
// failures are recovered by the evaluator; implementations should return
// an error rather than guessing.
type PolicyEngine interface {
	EvaluatePolicy(ctx context.Context, in PolicyInput) (PolicyResult, error)
}

// PolicyEngineFunc adapts a function to the PolicyEngine interface.
type PolicyEngineFunc func(ctx context.Context, in PolicyInput) (PolicyResult, error)

func (f PolicyEngineFunc) EvaluatePolicy(ctx context.Context, in PolicyInput) (PolicyResult, error) {
	return f(ctx, in)
}

// policyPhaseResult is the policy phase's contribution to the evaluation.
type policyPhaseResult struct {
	Granted      bool
	Reason       string
	Requirements []string
	Details      PolicyDetails
	Failed       bool
}

// evaluatePolicy delegates to the policy engine and translates its verdict
// into grant, reason, and human-readable follow-up requirements. An engine
// failure fails closed with a manual-review requirement.
func (e *Evaluator) evaluatePolicy(ctx context.Context, sc SecurityContext, table string, op Operation, recordID string) policyPhaseResult {
	in := PolicyInput{
		UserID:          sc.UserID,
		UserRole:        sc.UserRole,
		ClinicID:        sc.ClinicID,
		ProfessionalID:  sc.ProfessionalID,
		EmergencyAccess: sc.EmergencyAccess,
		AccessTime:      sc.Timestamp,
		IPAddress:       sc.IPAddress,
		TableName:       table,
		Operation:       op,
		RecordID:        recordID,
	}

	res, err := e.policy.EvaluatePolicy(ctx, in)
	if err != nil {
		e.log.Error().Err(err).
			Str("user_id", sc.UserID).
			Str("table", table).
			Msg("policy engine call failed, denying access")
		return policyPhaseResult{
			Granted:      false,
			Reason:       "RLS evaluation error",
			Requirements: []string{"Manual security review required"},
			Failed:       true,
		}
	}

	var reqs []string
	if res.AuditRequired {
		reqs = append(reqs, "Audit logging required")
	}
	if res.EmergencyAccess {
		reqs = append(reqs, "Emergency access protocols active")
	}
	for _, c := range res.Conditions {
		reqs = append(reqs, "Condition: "+c)
	}

	return policyPhaseResult{
		Granted:      res.Allowed,
		Reason:       res.Reason,
		Requirements: reqs,
		Details: PolicyDetails{
			Allowed:    res.Allowed,
			Reason:     res.Reason,
			Conditions: res.Conditions,
		},
	}
}
