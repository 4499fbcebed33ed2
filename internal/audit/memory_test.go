package audit

import (
	"context"
	"errors"
	"testing"
	"time"
)

var baseTime = time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

func seedRecord(t *testing.T, s *MemoryStore, userID, clinicID string, granted bool, threat int, at time.Time) {
	t.Helper()
	rec := &Record{
		UserID:        userID,
		ClinicID:      clinicID,
		Operation:     "SELECT",
		TableName:     "patients",
		AccessGranted: granted,
		SecurityScore: 90,
		ThreatLevel:   threat,
		CreatedAt:     at,
	}
	if err := s.Insert(context.Background(), rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestMemoryStore_CountSince(t *testing.T) {
	s := NewMemoryStore()
	seedRecord(t, s, "u1", "c1", true, 10, baseTime.Add(-10*time.Second))
	seedRecord(t, s, "u1", "c1", true, 10, baseTime.Add(-20*time.Second))
	seedRecord(t, s, "u1", "c1", true, 10, baseTime.Add(-10*time.Minute)) // outside window
	seedRecord(t, s, "u2", "c1", true, 10, baseTime)                      // other user
	seedRecord(t, s, "u1", "c2", true, 10, baseTime)                      // other clinic

	count, err := s.CountSince(context.Background(), "u1", "c1", baseTime.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("expected 2 rows in the window, got %d", count)
	}
}

func TestMemoryStore_RecentByUserNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	seedRecord(t, s, "u1", "c1", true, 10, baseTime.Add(-3*time.Minute))
	seedRecord(t, s, "u1", "c1", true, 10, baseTime.Add(-1*time.Minute))
	seedRecord(t, s, "u1", "c1", true, 10, baseTime.Add(-2*time.Minute))

	recs, err := s.RecentByUser(context.Background(), "u1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected limit applied, got %d rows", len(recs))
	}
	if !recs[0].CreatedAt.After(recs[1].CreatedAt) {
		t.Error("expected newest-first ordering")
	}
	if !recs[0].CreatedAt.Equal(baseTime.Add(-1 * time.Minute)) {
		t.Errorf("expected most recent row first, got %v", recs[0].CreatedAt)
	}
}

func TestMemoryStore_SearchFilters(t *testing.T) {
	s := NewMemoryStore()
	seedRecord(t, s, "u1", "c1", true, 10, baseTime.Add(-time.Hour))
	seedRecord(t, s, "u1", "c1", false, 90, baseTime.Add(-30*time.Minute))
	seedRecord(t, s, "u2", "c1", false, 50, baseTime.Add(-10*time.Minute))
	seedRecord(t, s, "u1", "c2", true, 10, baseTime)

	t.Run("by user", func(t *testing.T) {
		recs, err := s.Search(context.Background(), Filter{UserID: "u1"})
		if err != nil {
			t.Fatal(err)
		}
		if len(recs) != 3 {
			t.Errorf("expected 3 rows, got %d", len(recs))
		}
	})

	t.Run("by clinic", func(t *testing.T) {
		recs, err := s.Search(context.Background(), Filter{ClinicID: "c2"})
		if err != nil {
			t.Fatal(err)
		}
		if len(recs) != 1 {
			t.Errorf("expected 1 row, got %d", len(recs))
		}
	})

	t.Run("denied only", func(t *testing.T) {
		recs, err := s.Search(context.Background(), Filter{DeniedOnly: true})
		if err != nil {
			t.Fatal(err)
		}
		if len(recs) != 2 {
			t.Errorf("expected 2 denied rows, got %d", len(recs))
		}
	})

	t.Run("min threat", func(t *testing.T) {
		recs, err := s.Search(context.Background(), Filter{MinThreatLevel: 50})
		if err != nil {
			t.Fatal(err)
		}
		if len(recs) != 2 {
			t.Errorf("expected 2 high-threat rows, got %d", len(recs))
		}
	})

	t.Run("time range", func(t *testing.T) {
		start := baseTime.Add(-45 * time.Minute)
		end := baseTime.Add(-5 * time.Minute)
		recs, err := s.Search(context.Background(), Filter{Start: &start, End: &end})
		if err != nil {
			t.Fatal(err)
		}
		if len(recs) != 2 {
			t.Errorf("expected 2 rows in range, got %d", len(recs))
		}
	})

	t.Run("limit", func(t *testing.T) {
		recs, err := s.Search(context.Background(), Filter{Limit: 1})
		if err != nil {
			t.Fatal(err)
		}
		if len(recs) != 1 {
			t.Fatalf("expected limit applied, got %d", len(recs))
		}
		if !recs[0].CreatedAt.Equal(baseTime) {
			t.Error("expected the newest row under limit")
		}
	})
}

func TestMemoryStore_InsertCopies(t *testing.T) {
	s := NewMemoryStore()
	rec := &Record{UserID: "u1", ClinicID: "c1", CreatedAt: baseTime}
	if err := s.Insert(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	rec.UserID = "mutated"

	stored := s.All()
	if stored[0].UserID != "u1" {
		t.Error("store must copy records on insert")
	}
}

func TestMemoryStore_FailureInjection(t *testing.T) {
	s := NewMemoryStore()
	s.FailWrites = errors.New("write failed")
	if err := s.Insert(context.Background(), &Record{}); err == nil {
		t.Error("expected injected write failure")
	}

	s = NewMemoryStore()
	s.FailReads = errors.New("read failed")
	if _, err := s.CountSince(context.Background(), "u", "c", baseTime); err == nil {
		t.Error("expected injected read failure from CountSince")
	}
	if _, err := s.RecentByUser(context.Background(), "u", 5); err == nil {
		t.Error("expected injected read failure from RecentByUser")
	}
	if _, err := s.Search(context.Background(), Filter{}); err == nil {
		t.Error("expected injected read failure from Search")
	}
}
