package rls

import (
	"context"
	"fmt"
)

// MatrixPolicyEngine is the built-in PolicyEngine: access is allowed when
// the requester's role may perform the operation on the table per the
// configured matrix, scoped to the requester's clinic. Deployments with an
// external policy service substitute their own PolicyEngine at wiring time.
type MatrixPolicyEngine struct {
	matrix    map[string]map[Operation][]string
	sensitive []string
}

// NewMatrixPolicyEngine builds the engine from the given config's role
// matrix and sensitive-table set.
func NewMatrixPolicyEngine(cfg Config) *MatrixPolicyEngine {
	return &MatrixPolicyEngine{
		matrix:    cfg.RoleMatrix,
		sensitive: cfg.SensitiveTables,
	}
}

// EvaluatePolicy implements PolicyEngine.
func (m *MatrixPolicyEngine) EvaluatePolicy(_ context.Context, in PolicyInput) (PolicyResult, error) {
	ops, ok := m.matrix[in.UserRole]
	if !ok {
		return PolicyResult{
			Allowed: false,
			Reason:  fmt.Sprintf("Role %q has no access policy", in.UserRole),
		}, nil
	}

	allowed := false
	for _, t := range ops[in.Operation] {
		if t == in.TableName {
			allowed = true
			break
		}
	}
	if !allowed {
		return PolicyResult{
			Allowed: false,
			Reason:  fmt.Sprintf("Role %q may not %s table %q", in.UserRole, in.Operation, in.TableName),
		}, nil
	}

	res := PolicyResult{
		Allowed:         true,
		Reason:          "Access permitted by role policy",
		EmergencyAccess: in.EmergencyAccess,
		Conditions:      []string{fmt.Sprintf("clinic_id = %s", in.ClinicID)},
	}
	for _, t := range m.sensitive {
		if t == in.TableName {
			res.AuditRequired = true
			break
		}
	}
	return res, nil
}
