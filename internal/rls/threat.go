package rls

import (
	"context"
	"net/netip"
)

// ReputationProvider scores the network provenance of a request. The
// built-in provider is a coarse private/public prefix check; deployments
// with a real threat-intel feed plug in their own.
type ReputationProvider interface {
	Score(ip string) int
}

// ReputationProviderFunc adapts a function to the ReputationProvider interface.
type ReputationProviderFunc func(ip string) int

func (f ReputationProviderFunc) Score(ip string) int { return f(ip) }

// prefixReputation classifies addresses by RFC1918 (plus loopback and
// link-local) prefix membership. Anything unrecognized, including an
// unparseable or absent address, scores as public.
type prefixReputation struct {
	privateScore int
	publicScore  int
	prefixes     []netip.Prefix
}

func newPrefixReputation(privateScore, publicScore int) *prefixReputation {
	return &prefixReputation{
		privateScore: privateScore,
		publicScore:  publicScore,
		prefixes: []netip.Prefix{
			netip.MustParsePrefix("10.0.0.0/8"),
			netip.MustParsePrefix("172.16.0.0/12"),
			netip.MustParsePrefix("192.168.0.0/16"),
			netip.MustParsePrefix("127.0.0.0/8"),
			netip.MustParsePrefix("169.254.0.0/16"),
			netip.MustParsePrefix("::1/128"),
			netip.MustParsePrefix("fc00::/7"),
			netip.MustParsePrefix("fe80::/10"),
		},
	}
}

func (r *prefixReputation) Score(ip string) int {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return r.publicScore
	}
	for _, p := range r.prefixes {
		if p.Contains(addr) {
			return r.privateScore
		}
	}
	return r.publicScore
}

// threatResult is the threat phase's output.
type threatResult struct {
	Level  int
	IP     int
	Burst  int
	Time   int
	Alerts []Alert
}

// assessThreats computes the 0-100 threat level from IP reputation, burst
// frequency over the audit log, and time-of-day. A failing count query
// degrades the whole assessment to Config.DegradedThreatLevel instead of
// surfacing the error.
func (e *Evaluator) assessThreats(ctx context.Context, sc SecurityContext) threatResult {
	res := threatResult{}

	res.IP = e.reputation.Score(sc.IPAddress)

	since := e.now().Add(-e.cfg.BurstWindow)
	count, err := e.store.CountSince(ctx, sc.UserID, sc.ClinicID, since)
	if err != nil {
		e.log.Warn().Err(err).
			Str("user_id", sc.UserID).
			Msg("threat assessment count query failed, using degraded default")
		res.Level = clampScore(e.cfg.DegradedThreatLevel)
		return res
	}
	if count > e.cfg.BurstCount {
		res.Burst = e.cfg.BurstScore
	}

	res.Time = e.timeOfDayScore(sc)

	res.Level = clampScore(res.IP + res.Burst + res.Time)

	details := ThreatDetails{
		IPScore:        res.IP,
		FrequencyScore: res.Burst,
		TimeScore:      res.Time,
		Total:          res.Level,
	}
	if res.IP > e.cfg.IPAlertThreshold {
		res.Alerts = append(res.Alerts, e.newAlert(sc, AlertThreatDetected, SeverityHigh,
			"Request originates from a high-risk network address", details, "access evaluation continued"))
	}
	if res.Burst > e.cfg.BurstAlertThreshold {
		res.Alerts = append(res.Alerts, e.newAlert(sc, AlertThreatDetected, SeverityMedium,
			"Access frequency burst detected", details, "access evaluation continued"))
	}
	if res.Time > e.cfg.TimeAlertThreshold {
		res.Alerts = append(res.Alerts, e.newAlert(sc, AlertThreatDetected, SeverityMedium,
			"Access at anomalous time of day", details, "access evaluation continued"))
	}

	return res
}

// timeOfDayScore scores the request's hour of day. Business hours score
// zero, night hours score Config.NightScore. The fallback branch cannot be
// reached for a valid clock but guards against a corrupted timestamp.
func (e *Evaluator) timeOfDayScore(sc SecurityContext) int {
	ts := sc.Timestamp
	if ts.IsZero() {
		ts = e.now()
	}
	hour := ts.Hour()
	switch {
	case hour >= e.cfg.DayStartHour && hour < e.cfg.DayEndHour:
		return 0
	case hour >= e.cfg.DayEndHour || hour < e.cfg.DayStartHour:
		return e.cfg.NightScore
	default:
		return e.cfg.FallbackTimeScore
	}
}
