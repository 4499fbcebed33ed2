package rls

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cliniguard/cliniguard/internal/audit"
)

// FailClosedReason is the reason string returned whenever the evaluator
// itself fails. Healthcare data access must never default to allowed on
// internal error.
const FailClosedReason = "Security system error - access denied"

// AlertSink receives alerts raised during evaluation for real-time
// surfacing. Dispatch failures are logged by the evaluator and never
// affect the verdict.
type AlertSink interface {
	Dispatch(ctx context.Context, a Alert) error
}

// AlertSinkFunc adapts a function to the AlertSink interface.
type AlertSinkFunc func(ctx context.Context, a Alert) error

func (f AlertSinkFunc) Dispatch(ctx context.Context, a Alert) error { return f(ctx, a) }

// Evaluator orchestrates the seven-phase access decision. All collaborators
// are injected at construction; the Evaluator itself holds no mutable
// state, so one instance serves concurrent evaluations.
type Evaluator struct {
	cfg        Config
	store      audit.Store
	policy     PolicyEngine
	headers    HeaderGenerator
	sink       AlertSink
	reputation ReputationProvider
	log        zerolog.Logger
	now        func() time.Time
}

// Option customizes an Evaluator.
type Option func(*Evaluator)

// WithClock overrides the evaluator's time source for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// WithReputationProvider replaces the built-in private/public prefix
// heuristic with a real IP-reputation source.
func WithReputationProvider(p ReputationProvider) Option {
	return func(e *Evaluator) { e.reputation = p }
}

// NewEvaluator constructs an Evaluator. The store, policy engine, and
// alert sink are required; headers may be nil, in which case the static
// recommended set is used.
func NewEvaluator(cfg Config, store audit.Store, policy PolicyEngine, headers HeaderGenerator, sink AlertSink, logger zerolog.Logger, opts ...Option) *Evaluator {
	if headers == nil {
		headers = StaticHeaderGenerator()
	}
	e := &Evaluator{
		cfg:        cfg,
		store:      store,
		policy:     policy,
		headers:    headers,
		sink:       sink,
		reputation: newPrefixReputation(cfg.PrivateIPScore, cfg.PublicIPScore),
		log:        logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Request bundles the per-call arguments to Evaluate.
type Request struct {
	Context     SecurityContext
	TableName   string
	Operation   Operation
	RecordID    string
	RequestData map[string]string
}

// Evaluate runs the full pipeline for one request and returns the verdict.
// It never returns an error: every failure path terminates in a concrete
// denial, and exactly one audit record is attempted regardless of outcome.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) Evaluation {
	start := e.now()
	sc := req.Context
	if sc.Timestamp.IsZero() {
		sc.Timestamp = start
	}

	meta := audit.Metadata{RequestData: req.RequestData}
	ev, failed := e.runPhases(ctx, sc, req, &meta)

	if failed {
		ev = Evaluation{
			Granted:       false,
			Reason:        FailClosedReason,
			SecurityScore: 0,
			ThreatLevel:   100,
		}
		meta.ErrorType = audit.ErrorTypeEvaluationFailure
	}

	meta.DurationMS = e.now().Sub(start).Milliseconds()

	// The audit write must survive caller cancellation: once the decision
	// exists, the record of it is written to completion or failure.
	e.writeAudit(context.WithoutCancel(ctx), sc, req, ev, meta)

	return ev
}

// runPhases executes phases 1-6, recovering any panic into the fail-closed
// path. Each phase folds its partial result into the evaluation value.
func (e *Evaluator) runPhases(ctx context.Context, sc SecurityContext, req Request, meta *audit.Metadata) (ev Evaluation, failed bool) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().
				Interface("panic", r).
				Str("user_id", sc.UserID).
				Str("table", req.TableName).
				Msg("security evaluation panicked, failing closed")
			failed = true
		}
	}()

	if sc.UserID == "" || sc.UserRole == "" || sc.ClinicID == "" || !req.Operation.Valid() {
		e.log.Error().
			Str("user_id", sc.UserID).
			Str("user_role", sc.UserRole).
			Str("clinic_id", sc.ClinicID).
			Str("operation", string(req.Operation)).
			Msg("security context failed validation, failing closed")
		return Evaluation{}, true
	}

	// Phase 1: threat assessment.
	threat := e.assessThreats(ctx, sc)
	ev.ThreatLevel = threat.Level
	ev.Alerts = append(ev.Alerts, threat.Alerts...)
	meta.Threat = &audit.ThreatMeta{
		IPScore:        threat.IP,
		FrequencyScore: threat.Burst,
		TimeScore:      threat.Time,
		Total:          threat.Level,
	}

	// Phase 2: access-pattern analysis.
	pattern := e.analyzePatterns(ctx, sc, req.TableName, req.Operation)
	ev.SecurityScore = pattern.Score
	meta.Pattern = &audit.PatternMeta{SecurityScore: pattern.Score, Anomalies: pattern.Anomalies}
	if len(pattern.Anomalies) > 0 {
		ev.Alerts = append(ev.Alerts, e.newAlert(sc, AlertSuspiciousPattern, SeverityMedium,
			"Anomalous access pattern detected",
			PatternDetails{SecurityScore: pattern.Score, Anomalies: pattern.Anomalies},
			"access evaluation continued"))
	}

	// Phase 3: row-level policy evaluation.
	policy := e.evaluatePolicy(ctx, sc, req.TableName, req.Operation, req.RecordID)
	ev.Granted = policy.Granted
	ev.Reason = policy.Reason
	ev.Requirements = append(ev.Requirements, policy.Requirements...)
	meta.Policy = &audit.PolicyMeta{
		Allowed:    policy.Details.Allowed,
		Reason:     policy.Details.Reason,
		Conditions: policy.Details.Conditions,
	}

	// Phase 4: header-compliance scoring.
	hdr := e.scoreHeaders(ctx, sc)
	ev.SecurityScore = clampScore(ev.SecurityScore - hdr.Penalty)
	meta.Headers = &audit.HeaderMeta{Missing: hdr.Missing, Penalty: hdr.Penalty}

	// Phase 5: emergency override, only when asserted by the requester.
	if sc.EmergencyAccess {
		before := ev.Granted
		beforeReason := ev.Reason
		ev = e.applyOverride(sc, ev)
		meta.Override = &audit.OverrideMeta{
			Granted:      ev.Granted && !before,
			Reason:       ev.Reason,
			PriorGranted: before,
			PriorReason:  beforeReason,
		}
	}

	// Phase 6: hard thresholds, absolute over everything above.
	ev = e.applyThresholds(ev)

	return ev, false
}

// writeAudit records the final decision (phase 7). The write is
// best-effort: a failure is logged and swallowed, and it never alters the
// already-computed verdict. High-threat and denied evaluations also
// dispatch their alerts through the sink.
func (e *Evaluator) writeAudit(ctx context.Context, sc SecurityContext, req Request, ev Evaluation, meta audit.Metadata) {
	// A panicking store or sink must not escape Evaluate: the verdict is
	// already final, so the failure is logged like any other write error.
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().
				Interface("panic", r).
				Str("user_id", sc.UserID).
				Str("table", req.TableName).
				Bool("granted", ev.Granted).
				Msg("audit write panicked; decision stands")
		}
	}()

	for _, a := range ev.Alerts {
		meta.Alerts = append(meta.Alerts, audit.AlertMeta{
			Type:        string(a.Type),
			Severity:    string(a.Severity),
			Description: a.Description,
			ActionTaken: a.ActionTaken,
		})
	}

	rec := &audit.Record{
		ID:              uuid.New(),
		CreatedAt:       e.now(),
		UserID:          sc.UserID,
		UserRole:        sc.UserRole,
		ClinicID:        sc.ClinicID,
		Operation:       string(req.Operation),
		TableName:       req.TableName,
		RecordID:        req.RecordID,
		AccessGranted:   ev.Granted,
		Reason:          ev.Reason,
		SecurityScore:   ev.SecurityScore,
		ThreatLevel:     ev.ThreatLevel,
		EmergencyAccess: sc.EmergencyAccess,
		SessionID:       sc.SessionID,
		IPAddress:       sc.IPAddress,
		UserAgent:       sc.UserAgent,
		Metadata:        meta,
	}

	if err := e.store.Insert(ctx, rec); err != nil {
		e.log.Error().Err(err).
			Str("user_id", sc.UserID).
			Str("table", req.TableName).
			Bool("granted", ev.Granted).
			Msg("audit write failed; decision stands")
	}

	if ev.ThreatLevel > e.cfg.DispatchThreatLevel || !ev.Granted {
		alerts := ev.Alerts
		if len(alerts) == 0 {
			alerts = []Alert{e.newAlert(sc, AlertAccessViolation, SeverityMedium,
				"Access denied: "+ev.Reason, nil, "access denied")}
		}
		for _, a := range alerts {
			if err := e.sink.Dispatch(ctx, a); err != nil {
				e.log.Error().Err(err).
					Str("alert_type", string(a.Type)).
					Msg("alert dispatch failed")
			}
		}
	}
}

// newAlert constructs an Alert bound to the current context and clock.
func (e *Evaluator) newAlert(sc SecurityContext, typ AlertType, sev Severity, desc string, details AlertDetails, action string) Alert {
	return Alert{
		ID:          uuid.New(),
		Type:        typ,
		Severity:    sev,
		Description: desc,
		Context:     sc,
		Details:     details,
		ActionTaken: action,
		CreatedAt:   e.now(),
	}
}
