package rls

import (
	"context"
	"fmt"
)

// patternResult is the pattern phase's output.
type patternResult struct {
	Score     int
	Anomalies []string
}

// degradedPattern is returned whenever a storage sub-check fails: a
// moderate score with a single explanatory anomaly, never an error.
func (e *Evaluator) degradedPattern(err error, sc SecurityContext) patternResult {
	e.log.Warn().Err(err).
		Str("user_id", sc.UserID).
		Msg("pattern analysis storage query failed, using degraded default")
	return patternResult{
		Score:     clampScore(e.cfg.DegradedSecurityScore),
		Anomalies: []string{"Pattern analysis failed"},
	}
}

// analyzePatterns computes the 0-100 security score for the request.
// Scoring starts at 100 and subtracts penalties for high-frequency access,
// sensitive-table sequences, role/table inconsistency, and geographic IP
// drift, flooring at zero.
func (e *Evaluator) analyzePatterns(ctx context.Context, sc SecurityContext, table string, op Operation) patternResult {
	score := 100
	var anomalies []string

	// High-frequency access within the short window.
	count, err := e.store.CountSince(ctx, sc.UserID, sc.ClinicID, e.now().Add(-e.cfg.FrequencyWindow))
	if err != nil {
		return e.degradedPattern(err, sc)
	}
	if count > e.cfg.FrequencyCount {
		score -= e.cfg.FrequencyPenalty
		anomalies = append(anomalies, fmt.Sprintf("High frequency access: %d requests in %s", count, e.cfg.FrequencyWindow))
	}

	recent, err := e.store.RecentByUser(ctx, sc.UserID, e.cfg.SequenceDepth)
	if err != nil {
		return e.degradedPattern(err, sc)
	}

	// Sensitive-table sequence: a run of SELECTs across the sensitive set
	// suggests record harvesting.
	if e.isSensitiveTable(table) {
		for _, rec := range recent {
			if rec.Operation == string(OpSelect) && e.isSensitiveTable(rec.TableName) {
				score -= e.cfg.SequencePenalty
				anomalies = append(anomalies, "Sequential access across sensitive tables")
				break
			}
		}
	}

	// Role/table consistency against the static matrix.
	if !e.roleMayAccess(sc.UserRole, op, table) {
		score -= e.cfg.RoleMatrixPenalty
		anomalies = append(anomalies, fmt.Sprintf("Role %q does not normally %s table %q", sc.UserRole, op, table))
	}

	// Geographic drift: the immediately preceding access came from a
	// different address.
	if len(recent) > 0 && sc.IPAddress != "" && recent[0].IPAddress != "" && recent[0].IPAddress != sc.IPAddress {
		score -= e.cfg.GeoDriftPenalty
		anomalies = append(anomalies, "IP address changed since previous access")
	}

	return patternResult{Score: clampScore(score), Anomalies: anomalies}
}

func (e *Evaluator) isSensitiveTable(table string) bool {
	for _, t := range e.cfg.SensitiveTables {
		if t == table {
			return true
		}
	}
	return false
}

// roleMayAccess consults the role/operation/table matrix. A role or
// operation absent from the matrix counts as a violation.
func (e *Evaluator) roleMayAccess(role string, op Operation, table string) bool {
	ops, ok := e.cfg.RoleMatrix[role]
	if !ok {
		return false
	}
	tables, ok := ops[op]
	if !ok {
		return false
	}
	for _, t := range tables {
		if t == table {
			return true
		}
	}
	return false
}
