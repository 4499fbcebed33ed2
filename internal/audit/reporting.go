package audit

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// UserSecuritySummary aggregates one user's decision history.
type UserSecuritySummary struct {
	UserID           string      `json:"user_id"`
	TotalEvaluations int         `json:"total_evaluations"`
	Granted          int         `json:"granted"`
	Denied           int         `json:"denied"`
	AvgSecurityScore float64     `json:"avg_security_score"`
	AvgThreatLevel   float64     `json:"avg_threat_level"`
	EmergencyCount   int         `json:"emergency_count"`
	LastAccess       *time.Time  `json:"last_access,omitempty"`
	RecentAlerts     []AlertMeta `json:"recent_alerts,omitempty"`
}

// ReportFilter narrows a security report.
type ReportFilter struct {
	Start           *time.Time
	End             *time.Time
	ClinicID        string
	ThreatThreshold int // rows at or above this threat level count as high-threat
}

// HourlyThreat is one hour's denied-decision count.
type HourlyThreat struct {
	Hour   int `json:"hour"`
	Denied int `json:"denied"`
}

// SecurityReport is an aggregation over the audit log for a period.
type SecurityReport struct {
	GeneratedAt      time.Time      `json:"generated_at"`
	Start            *time.Time     `json:"start,omitempty"`
	End              *time.Time     `json:"end,omitempty"`
	ClinicID         string         `json:"clinic_id,omitempty"`
	TotalEvaluations int            `json:"total_evaluations"`
	Granted          int            `json:"granted"`
	Denied           int            `json:"denied"`
	HighThreatCount  int            `json:"high_threat_count"`
	EmergencyCount   int            `json:"emergency_count"`
	AvgSecurityScore float64        `json:"avg_security_score"`
	AvgThreatLevel   float64        `json:"avg_threat_level"`
	PeakThreatHours  []HourlyThreat `json:"peak_threat_hours"`
}

// defaultThreatThreshold matches the evaluator's alert dispatch threshold.
const defaultThreatThreshold = 70

// maxSummaryWindow bounds how much history a user summary inspects.
const maxSummaryWindow = 500

// Service provides read-only reporting views over the audit store. It
// carries no invariants beyond reflecting whatever the store holds for the
// given filters.
type Service struct {
	store Store
}

// NewService creates a reporting service over the given store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// GetUserSecuritySummary aggregates the user's recent decisions into score
// averages and recent high-severity activity.
func (s *Service) GetUserSecuritySummary(ctx context.Context, userID string) (*UserSecuritySummary, error) {
	recs, err := s.store.Search(ctx, Filter{UserID: userID, Limit: maxSummaryWindow})
	if err != nil {
		return nil, fmt.Errorf("user security summary: %w", err)
	}

	summary := &UserSecuritySummary{UserID: userID}
	var scoreSum, threatSum int
	for _, r := range recs {
		summary.TotalEvaluations++
		if r.AccessGranted {
			summary.Granted++
		} else {
			summary.Denied++
		}
		if r.EmergencyAccess {
			summary.EmergencyCount++
		}
		scoreSum += r.SecurityScore
		threatSum += r.ThreatLevel
		for _, a := range r.Metadata.Alerts {
			if len(summary.RecentAlerts) < 10 {
				summary.RecentAlerts = append(summary.RecentAlerts, a)
			}
		}
	}
	if summary.TotalEvaluations > 0 {
		summary.AvgSecurityScore = float64(scoreSum) / float64(summary.TotalEvaluations)
		summary.AvgThreatLevel = float64(threatSum) / float64(summary.TotalEvaluations)
		last := recs[0].CreatedAt
		summary.LastAccess = &last
	}
	return summary, nil
}

// GenerateSecurityReport aggregates audit rows matching the filter into
// totals, score averages, and the hourly threat-pattern breakdown. Peak
// threat hours are the top three hours of day ranked by denied count.
func (s *Service) GenerateSecurityReport(ctx context.Context, f ReportFilter) (*SecurityReport, error) {
	threshold := f.ThreatThreshold
	if threshold <= 0 {
		threshold = defaultThreatThreshold
	}

	recs, err := s.store.Search(ctx, Filter{
		ClinicID: f.ClinicID,
		Start:    f.Start,
		End:      f.End,
	})
	if err != nil {
		return nil, fmt.Errorf("security report: %w", err)
	}

	report := &SecurityReport{
		GeneratedAt: time.Now().UTC(),
		Start:       f.Start,
		End:         f.End,
		ClinicID:    f.ClinicID,
	}

	deniedByHour := make(map[int]int)
	var scoreSum, threatSum int
	for _, r := range recs {
		report.TotalEvaluations++
		if r.AccessGranted {
			report.Granted++
		} else {
			report.Denied++
			deniedByHour[r.CreatedAt.Hour()]++
		}
		if r.ThreatLevel >= threshold {
			report.HighThreatCount++
		}
		if r.EmergencyAccess {
			report.EmergencyCount++
		}
		scoreSum += r.SecurityScore
		threatSum += r.ThreatLevel
	}
	if report.TotalEvaluations > 0 {
		report.AvgSecurityScore = float64(scoreSum) / float64(report.TotalEvaluations)
		report.AvgThreatLevel = float64(threatSum) / float64(report.TotalEvaluations)
	}

	report.PeakThreatHours = peakHours(deniedByHour, 3)
	return report, nil
}

// peakHours ranks hours of day by denied count and returns the top n.
// Ties break toward the earlier hour for deterministic output.
func peakHours(deniedByHour map[int]int, n int) []HourlyThreat {
	hours := make([]HourlyThreat, 0, len(deniedByHour))
	for h, c := range deniedByHour {
		hours = append(hours, HourlyThreat{Hour: h, Denied: c})
	}
	sort.Slice(hours, func(i, j int) bool {
		if hours[i].Denied != hours[j].Denied {
			return hours[i].Denied > hours[j].Denied
		}
		return hours[i].Hour < hours[j].Hour
	})
	if len(hours) > n {
		hours = hours[:n]
	}
	return hours
}
