// Package alert delivers security alerts raised during access evaluation
// to real-time channels: structured logs, signed webhooks, or any fan-out
// of sinks. Delivery is best-effort; a failed dispatch never feeds back
// into the access decision.
package alert

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/cliniguard/cliniguard/internal/rls"
)

// LogSink emits every alert as a structured zerolog event. Severity maps
// to log level: HIGH and CRITICAL alerts log at warn, the rest at info.
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink creates a LogSink over the given logger.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{log: logger}
}

// Dispatch implements rls.AlertSink.
func (s *LogSink) Dispatch(_ context.Context, a rls.Alert) error {
	evt := s.log.Info()
	if a.Severity == rls.SeverityHigh || a.Severity == rls.SeverityCritical {
		evt = s.log.Warn()
	}
	evt.
		Str("type", "security_alert").
		Str("alert_id", a.ID.String()).
		Str("alert_type", string(a.Type)).
		Str("severity", string(a.Severity)).
		Str("user_id", a.Context.UserID).
		Str("clinic_id", a.Context.ClinicID).
		Str("remote_ip", a.Context.IPAddress).
		Str("action_taken", a.ActionTaken).
		Msg(a.Description)
	return nil
}

// MultiSink dispatches to every wrapped sink, continuing past failures
// and returning the first error encountered.
type MultiSink struct {
	sinks []rls.AlertSink
}

// NewMultiSink creates a fan-out over the given sinks.
func NewMultiSink(sinks ...rls.AlertSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Dispatch implements rls.AlertSink.
func (s *MultiSink) Dispatch(ctx context.Context, a rls.Alert) error {
	var first error
	for _, sink := range s.sinks {
		if err := sink.Dispatch(ctx, a); err != nil && first == nil {
			first = err
		}
	}
	return first
}
