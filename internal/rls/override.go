package rls

import (
	"fmt"
	"net/http"
)

// applyOverride runs the emergency-access override against the decision
// accumulated so far. Two gates must both pass: the justification gate
// (the emergency flag is asserted and the request is a read) and the
// privilege gate (the requester's role is on the override allow-list).
//
// The override is strictly one-way: it can turn a denial into a grant,
// never the reverse. It runs before final thresholding, so an emergency
// grant can still be vetoed by the score floor or threat ceiling.
func (e *Evaluator) applyOverride(sc SecurityContext, ev Evaluation) Evaluation {
	prior := OverrideDetails{
		PriorGranted:  ev.Granted,
		PriorReason:   ev.Reason,
		SecurityScore: ev.SecurityScore,
		ThreatLevel:   ev.ThreatLevel,
	}

	if !sc.EmergencyAccess || sc.RequestMethod != http.MethodGet {
		ev.Alerts = append(ev.Alerts, e.newAlert(sc, AlertAccessViolation, SeverityHigh,
			"Emergency access justification rejected: only read-only emergency access is permitted",
			prior, "override denied"))
		return ev
	}

	if !e.roleMayOverride(sc.UserRole) {
		ev.Alerts = append(ev.Alerts, e.newAlert(sc, AlertAccessViolation, SeverityHigh,
			"Emergency access privilege rejected: role "+sc.UserRole+" may not invoke emergency override",
			prior, "override denied"))
		return ev
	}

	ev.Alerts = append(ev.Alerts, e.newAlert(sc, AlertEmergencyAccess, SeverityHigh,
		"Emergency access override granted for user "+sc.UserID,
		prior, "access granted under emergency protocol"))

	if !ev.Granted {
		ev.Granted = true
		ev.Reason = "Emergency access override"
	}
	ev.Requirements = append(ev.Requirements, "Emergency access review required")

	e.log.Warn().
		Str("type", "emergency_override").
		Str("user_id", sc.UserID).
		Str("user_role", sc.UserRole).
		Str("clinic_id", sc.ClinicID).
		Bool("prior_granted", prior.PriorGranted).
		Str("remote_ip", sc.IPAddress).
		Msg("emergency_access_override")

	return ev
}

func (e *Evaluator) roleMayOverride(role string) bool {
	for _, r := range e.cfg.OverrideRoles {
		if r == role {
			return true
		}
	}
	return false
}

// applyThresholds enforces the two absolute limits after every other phase
// has run, including the emergency override: a security score under the
// floor or a threat level over the ceiling forces denial regardless of
// what any earlier phase decided.
func (e *Evaluator) applyThresholds(ev Evaluation) Evaluation {
	if ev.SecurityScore < e.cfg.ScoreFloor {
		ev.Granted = false
		ev.Reason = fmt.Sprintf("Security score %d below required threshold %d", ev.SecurityScore, e.cfg.ScoreFloor)
		return ev
	}
	if ev.ThreatLevel > e.cfg.ThreatCeiling {
		ev.Granted = false
		ev.Reason = fmt.Sprintf("Threat level %d exceeds maximum threshold %d", ev.ThreatLevel, e.cfg.ThreatCeiling)
		return ev
	}
	return ev
}
