package rls

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cliniguard/cliniguard/internal/audit"
)

// testClock is 10:00 UTC, well inside business hours.
var testClock = time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

func nopLogger() zerolog.Logger { return zerolog.Nop() }

func allowAllPolicy() PolicyEngine {
	return PolicyEngineFunc(func(_ context.Context, _ PolicyInput) (PolicyResult, error) {
		return PolicyResult{Allowed: true, Reason: "Access permitted by role policy"}, nil
	})
}

func denyAllPolicy(reason string) PolicyEngine {
	return PolicyEngineFunc(func(_ context.Context, _ PolicyInput) (PolicyResult, error) {
		return PolicyResult{Allowed: false, Reason: reason}, nil
	})
}

// captureSink records every dispatched alert.
type captureSink struct {
	mu     sync.Mutex
	alerts []Alert
}

func (s *captureSink) Dispatch(_ context.Context, a Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

func newTestEvaluator(store audit.Store, policy PolicyEngine, sink AlertSink, opts ...Option) *Evaluator {
	if sink == nil {
		sink = &captureSink{}
	}
	opts = append([]Option{WithClock(func() time.Time { return testClock })}, opts...)
	return NewEvaluator(DefaultConfig(), store, policy, nil, sink, zerolog.Nop(), opts...)
}

func doctorContext() SecurityContext {
	return SecurityContext{
		UserID:        "user-1",
		UserRole:      "doctor",
		ClinicID:      "clinic-1",
		SessionID:     "sess-1",
		RequestMethod: http.MethodGet,
		RequestPath:   "/api/v1/patients",
		IPAddress:     "192.168.1.10",
		UserAgent:     "test-agent",
	}
}

func TestEvaluate_CleanRequestGranted(t *testing.T) {
	store := audit.NewMemoryStore()
	e := newTestEvaluator(store, allowAllPolicy(), nil)

	ev := e.Evaluate(context.Background(), Request{
		Context:   doctorContext(),
		TableName: "patients",
		Operation: OpSelect,
	})

	if !ev.Granted {
		t.Fatalf("expected grant, got denial: %s", ev.Reason)
	}
	if ev.SecurityScore != 100 {
		t.Errorf("expected security score 100, got %d", ev.SecurityScore)
	}
	if ev.ThreatLevel != 10 {
		t.Errorf("expected threat level 10 for private daytime access, got %d", ev.ThreatLevel)
	}
	if len(ev.Alerts) != 0 {
		t.Errorf("expected no alerts, got %d", len(ev.Alerts))
	}
}

func TestEvaluate_NightPublicIPStillGranted(t *testing.T) {
	store := audit.NewMemoryStore()
	night := time.Date(2025, 3, 10, 23, 30, 0, 0, time.UTC)
	e := NewEvaluator(DefaultConfig(), store, allowAllPolicy(), nil, &captureSink{}, zerolog.Nop(),
		WithClock(func() time.Time { return night }))

	sc := doctorContext()
	sc.IPAddress = "203.0.113.7"

	ev := e.Evaluate(context.Background(), Request{
		Context:   sc,
		TableName: "patients",
		Operation: OpSelect,
	})

	// 30 (public) + 30 (night) = 60, under the ceiling of 80.
	if !ev.Granted {
		t.Fatalf("expected grant, got denial: %s", ev.Reason)
	}
	if ev.ThreatLevel != 60 {
		t.Errorf("expected threat level 60, got %d", ev.ThreatLevel)
	}
}

func TestEvaluate_ThreatCeilingDenies(t *testing.T) {
	store := audit.NewMemoryStore()
	seedBurst(t, store, "user-1", "clinic-1", 25, testClock)

	e := newTestEvaluator(store, allowAllPolicy(), nil)
	sc := doctorContext()
	sc.IPAddress = "203.0.113.7" // public: 30 + 60 burst = 90 > 80

	ev := e.Evaluate(context.Background(), Request{
		Context:   sc,
		TableName: "patients",
		Operation: OpSelect,
	})

	if ev.Granted {
		t.Fatal("expected denial for threat level above ceiling")
	}
	if ev.ThreatLevel != 90 {
		t.Errorf("expected threat level 90, got %d", ev.ThreatLevel)
	}
	want := "Threat level 90 exceeds maximum threshold 80"
	if ev.Reason != want {
		t.Errorf("expected reason %q, got %q", want, ev.Reason)
	}
}

func TestEvaluate_ScoreFloorDenies(t *testing.T) {
	store := audit.NewMemoryStore()
	e := newTestEvaluator(store, allowAllPolicy(), nil)

	// A role absent from the matrix (-40) plus a sequence of sensitive
	// SELECTs (-25) plus IP drift (-20) pushes the score to 15, under the
	// floor of 30.
	prev := &audit.Record{
		UserID:    "user-1",
		ClinicID:  "clinic-1",
		Operation: "SELECT",
		TableName: "medical_records",
		IPAddress: "10.0.0.99",
		CreatedAt: testClock.Add(-10 * time.Minute),
	}
	if err := store.Insert(context.Background(), prev); err != nil {
		t.Fatal(err)
	}

	sc := doctorContext()
	sc.UserRole = "contractor"

	ev := e.Evaluate(context.Background(), Request{
		Context:   sc,
		TableName: "billing_records",
		Operation: OpSelect,
	})

	if ev.Granted {
		t.Fatal("expected denial for security score below floor")
	}
	if ev.SecurityScore != 15 {
		t.Errorf("expected security score 15, got %d", ev.SecurityScore)
	}
	want := "Security score 15 below required threshold 30"
	if ev.Reason != want {
		t.Errorf("expected reason %q, got %q", want, ev.Reason)
	}
}

func TestEvaluate_PolicyDenialPropagates(t *testing.T) {
	store := audit.NewMemoryStore()
	e := newTestEvaluator(store, denyAllPolicy("Row access denied by clinic policy"), nil)

	ev := e.Evaluate(context.Background(), Request{
		Context:   doctorContext(),
		TableName: "patients",
		Operation: OpSelect,
	})

	if ev.Granted {
		t.Fatal("expected policy denial")
	}
	if ev.Reason != "Row access denied by clinic policy" {
		t.Errorf("unexpected reason: %q", ev.Reason)
	}
}

func TestEvaluate_PolicyEngineErrorFailsClosed(t *testing.T) {
	store := audit.NewMemoryStore()
	engine := PolicyEngineFunc(func(_ context.Context, _ PolicyInput) (PolicyResult, error) {
		return PolicyResult{}, errors.New("policy service unreachable")
	})
	e := newTestEvaluator(store, engine, nil)

	ev := e.Evaluate(context.Background(), Request{
		Context:   doctorContext(),
		TableName: "patients",
		Operation: OpSelect,
	})

	if ev.Granted {
		t.Fatal("expected denial on policy engine error")
	}
	if ev.Reason != "RLS evaluation error" {
		t.Errorf("expected reason %q, got %q", "RLS evaluation error", ev.Reason)
	}
	found := false
	for _, r := range ev.Requirements {
		if r == "Manual security review required" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected manual review requirement, got %v", ev.Requirements)
	}
}

func TestEvaluate_PanicFailsClosed(t *testing.T) {
	store := audit.NewMemoryStore()
	engine := PolicyEngineFunc(func(_ context.Context, _ PolicyInput) (PolicyResult, error) {
		panic("boom")
	})
	e := newTestEvaluator(store, engine, nil)

	ev := e.Evaluate(context.Background(), Request{
		Context:   doctorContext(),
		TableName: "patients",
		Operation: OpSelect,
	})

	if ev.Granted {
		t.Fatal("expected fail-closed denial after panic")
	}
	if ev.Reason != FailClosedReason {
		t.Errorf("expected reason %q, got %q", FailClosedReason, ev.Reason)
	}
	if ev.SecurityScore != 0 || ev.ThreatLevel != 100 {
		t.Errorf("expected score 0 / threat 100, got %d / %d", ev.SecurityScore, ev.ThreatLevel)
	}

	recs := store.All()
	if len(recs) != 1 {
		t.Fatalf("expected exactly one audit record, got %d", len(recs))
	}
	if recs[0].Metadata.ErrorType != audit.ErrorTypeEvaluationFailure {
		t.Errorf("expected error type %q, got %q", audit.ErrorTypeEvaluationFailure, recs[0].Metadata.ErrorType)
	}
}

func TestEvaluate_InvalidContextFailsClosed(t *testing.T) {
	store := audit.NewMemoryStore()
	e := newTestEvaluator(store, allowAllPolicy(), nil)

	cases := []struct {
		name string
		sc   SecurityContext
		op   Operation
	}{
		{"missing user", SecurityContext{UserRole: "doctor", ClinicID: "c1"}, OpSelect},
		{"missing role", SecurityContext{UserID: "u1", ClinicID: "c1"}, OpSelect},
		{"missing clinic", SecurityContext{UserID: "u1", UserRole: "doctor"}, OpSelect},
		{"bad operation", doctorContext(), Operation("TRUNCATE")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := e.Evaluate(context.Background(), Request{
				Context:   tc.sc,
				TableName: "patients",
				Operation: tc.op,
			})
			if ev.Granted {
				t.Fatal("expected denial")
			}
			if ev.Reason != FailClosedReason {
				t.Errorf("expected fail-closed reason, got %q", ev.Reason)
			}
		})
	}
}

func TestEvaluate_DegradedStorageStillDecides(t *testing.T) {
	store := audit.NewMemoryStore()
	store.FailReads = errors.New("connection refused")

	e := newTestEvaluator(store, allowAllPolicy(), nil)

	ev := e.Evaluate(context.Background(), Request{
		Context:   doctorContext(),
		TableName: "patients",
		Operation: OpSelect,
	})

	// Threat degrades to 20, pattern degrades to 50; both within bounds,
	// so the grant survives on degraded data.
	if !ev.Granted {
		t.Fatalf("expected grant under degraded storage, got: %s", ev.Reason)
	}
	if ev.ThreatLevel != 20 {
		t.Errorf("expected degraded threat level 20, got %d", ev.ThreatLevel)
	}
	if ev.SecurityScore != 50 {
		t.Errorf("expected degraded security score 50, got %d", ev.SecurityScore)
	}
}

func TestEvaluate_AlwaysWritesOneAuditRecord(t *testing.T) {
	store := audit.NewMemoryStore()
	e := newTestEvaluator(store, allowAllPolicy(), nil)

	e.Evaluate(context.Background(), Request{Context: doctorContext(), TableName: "patients", Operation: OpSelect})
	e.Evaluate(context.Background(), Request{Context: SecurityContext{}, TableName: "patients", Operation: OpSelect})

	if store.Len() != 2 {
		t.Fatalf("expected 2 audit records (one per evaluation), got %d", store.Len())
	}

	recs := store.All()
	if !recs[0].AccessGranted {
		t.Error("expected first evaluation recorded as granted")
	}
	if recs[1].AccessGranted {
		t.Error("expected second evaluation recorded as denied")
	}
}

func TestEvaluate_AuditSurvivesCancelledContext(t *testing.T) {
	store := audit.NewMemoryStore()
	e := newTestEvaluator(store, allowAllPolicy(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ev := e.Evaluate(ctx, Request{Context: doctorContext(), TableName: "patients", Operation: OpSelect})
	if store.Len() != 1 {
		t.Fatalf("expected audit record despite cancelled context, got %d", store.Len())
	}
	_ = ev
}

func TestEvaluate_AuditWriteFailureDoesNotChangeVerdict(t *testing.T) {
	store := audit.NewMemoryStore()
	store.FailWrites = errors.New("disk full")
	e := newTestEvaluator(store, allowAllPolicy(), nil)

	ev := e.Evaluate(context.Background(), Request{
		Context:   doctorContext(),
		TableName: "patients",
		Operation: OpSelect,
	})

	if !ev.Granted {
		t.Fatalf("audit write failure must not change the verdict: %s", ev.Reason)
	}
}

// panicStore panics on Insert; reads pass through to the wrapped store.
type panicStore struct {
	*audit.MemoryStore
}

func (s *panicStore) Insert(_ context.Context, _ *audit.Record) error {
	panic("audit store corrupted")
}

func TestEvaluate_AuditPanicDoesNotEscape(t *testing.T) {
	store := &panicStore{MemoryStore: audit.NewMemoryStore()}
	e := newTestEvaluator(store, allowAllPolicy(), nil)

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("panic escaped Evaluate: %v", r)
		}
	}()

	ev := e.Evaluate(context.Background(), Request{
		Context:   doctorContext(),
		TableName: "patients",
		Operation: OpSelect,
	})

	// The verdict was final before the write; the panic must not alter it.
	if !ev.Granted {
		t.Fatalf("expected the grant to stand, got: %s", ev.Reason)
	}
}

func TestEvaluate_DeniedDispatchesAlerts(t *testing.T) {
	store := audit.NewMemoryStore()
	sink := &captureSink{}
	e := newTestEvaluator(store, denyAllPolicy("no"), sink)

	e.Evaluate(context.Background(), Request{
		Context:   doctorContext(),
		TableName: "patients",
		Operation: OpSelect,
	})

	if sink.count() == 0 {
		t.Fatal("expected at least one dispatched alert for a denied evaluation")
	}
}

func TestEvaluate_GrantedLowThreatDispatchesNothing(t *testing.T) {
	store := audit.NewMemoryStore()
	sink := &captureSink{}
	e := newTestEvaluator(store, allowAllPolicy(), sink)

	e.Evaluate(context.Background(), Request{
		Context:   doctorContext(),
		TableName: "patients",
		Operation: OpSelect,
	})

	if sink.count() != 0 {
		t.Fatalf("expected no dispatched alerts for a clean grant, got %d", sink.count())
	}
}

func TestEvaluate_RecordsDurationAndAlertsInMetadata(t *testing.T) {
	store := audit.NewMemoryStore()
	e := newTestEvaluator(store, denyAllPolicy("no"), nil)

	sc := doctorContext()
	sc.UserRole = "contractor" // role-matrix anomaly raises an alert

	e.Evaluate(context.Background(), Request{
		Context:   sc,
		TableName: "patients",
		Operation: OpSelect,
	})

	recs := store.All()
	if len(recs) != 1 {
		t.Fatalf("expected one record, got %d", len(recs))
	}
	md := recs[0].Metadata
	if md.Threat == nil || md.Pattern == nil || md.Policy == nil || md.Headers == nil {
		t.Fatal("expected phase metadata to be recorded")
	}
	if len(md.Alerts) == 0 {
		t.Error("expected alert metadata for the pattern anomaly")
	}
}

// seedBurst inserts n audit rows for the user inside the burst window.
func seedBurst(t *testing.T, store *audit.MemoryStore, userID, clinicID string, n int, now time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		rec := &audit.Record{
			UserID:    userID,
			ClinicID:  clinicID,
			Operation: "SELECT",
			TableName: "appointments",
			CreatedAt: now.Add(-time.Duration(i) * time.Second),
		}
		if err := store.Insert(context.Background(), rec); err != nil {
			t.Fatalf("seed insert: %v", err)
		}
	}
}
