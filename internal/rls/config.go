package rls

import "time"

// Config holds every tunable scoring constant the pipeline uses. Operators
// adjust thresholds here instead of editing phase code; DefaultConfig
// returns the values the service ships with.
type Config struct {
	// Threat scorer.
	PrivateIPScore      int           // contribution for RFC1918/internal addresses
	PublicIPScore       int           // contribution for any other address
	BurstWindow         time.Duration // lookback for burst detection
	BurstCount          int           // audit rows above which the burst score applies
	BurstScore          int
	NightScore          int // hours outside [DayStartHour, DayEndHour)
	FallbackTimeScore   int // defensive: hour outside 0..23
	DayStartHour        int
	DayEndHour          int
	DegradedThreatLevel int // returned when the counting query fails

	// Per-factor alert thresholds (a factor exceeding its threshold raises
	// a THREAT_DETECTED alert).
	IPAlertThreshold    int
	BurstAlertThreshold int
	TimeAlertThreshold  int

	// Pattern analyzer.
	FrequencyWindow       time.Duration
	FrequencyCount        int
	FrequencyPenalty      int
	SensitiveTables       []string
	SequenceDepth         int // how many recent accesses to inspect
	SequencePenalty       int
	RoleMatrixPenalty     int
	GeoDriftPenalty       int
	DegradedSecurityScore int // returned when any storage sub-check fails

	// RoleMatrix maps role -> operation -> tables the role may touch with
	// that operation. A lookup miss counts as a consistency violation.
	RoleMatrix map[string]map[Operation][]string

	// Header compliance.
	RequiredHeaders    []string
	HeaderPenalty      int // per missing header
	HeaderPenaltyFloor int // maximum total header penalty

	// Emergency override.
	OverrideRoles []string

	// Final thresholds.
	ScoreFloor    int // securityScore below this forces denial
	ThreatCeiling int // threatLevel above this forces denial

	// Audit sink.
	DispatchThreatLevel int // threatLevel above this triggers alert dispatch
}

// DefaultConfig returns the shipped scoring constants.
func DefaultConfig() Config {
	return Config{
		PrivateIPScore:      10,
		PublicIPScore:       30,
		BurstWindow:         300 * time.Second,
		BurstCount:          20,
		BurstScore:          60,
		NightScore:          30,
		FallbackTimeScore:   80,
		DayStartHour:        6,
		DayEndHour:          22,
		DegradedThreatLevel: 20,

		IPAlertThreshold:    70,
		BurstAlertThreshold: 60,
		TimeAlertThreshold:  80,

		FrequencyWindow:       60 * time.Second,
		FrequencyCount:        50,
		FrequencyPenalty:      30,
		SensitiveTables:       []string{"medical_records", "patient_diagnosis", "billing_records"},
		SequenceDepth:         10,
		SequencePenalty:       25,
		RoleMatrixPenalty:     40,
		GeoDriftPenalty:       20,
		DegradedSecurityScore: 50,

		RoleMatrix: DefaultRoleMatrix(),

		RequiredHeaders: []string{
			"content-security-policy",
			"strict-transport-security",
			"x-content-type-options",
			"x-frame-options",
		},
		HeaderPenalty:      10,
		HeaderPenaltyFloor: 50,

		OverrideRoles: []string{"doctor", "admin", "clinic_admin"},

		ScoreFloor:    30,
		ThreatCeiling: 80,

		DispatchThreatLevel: 70,
	}
}

// DefaultRoleMatrix returns the role/operation/table consistency matrix the
// service ships with. Tables absent from a role's list for an operation are
// treated as inconsistent access and penalized by the pattern analyzer.
func DefaultRoleMatrix() map[string]map[Operation][]string {
	return map[string]map[Operation][]string{
		"doctor": {
			OpSelect: {"patients", "medical_records", "appointments", "patient_diagnosis", "professionals"},
			OpInsert: {"medical_records", "patient_diagnosis", "appointments"},
			OpUpdate: {"medical_records", "patient_diagnosis", "appointments"},
			OpDelete: {"appointments"},
		},
		"nurse": {
			OpSelect: {"patients", "appointments", "medical_records"},
			OpInsert: {"appointments"},
			OpUpdate: {"appointments"},
		},
		"receptionist": {
			OpSelect: {"patients", "appointments", "professionals"},
			OpInsert: {"patients", "appointments"},
			OpUpdate: {"appointments"},
		},
		"admin": {
			OpSelect: {"patients", "medical_records", "appointments", "patient_diagnosis", "billing_records", "professionals", "clinics"},
			OpInsert: {"patients", "appointments", "billing_records", "professionals", "clinics"},
			OpUpdate: {"patients", "appointments", "billing_records", "professionals", "clinics"},
			OpDelete: {"appointments", "billing_records"},
		},
		"clinic_admin": {
			OpSelect: {"patients", "appointments", "billing_records", "professionals", "clinics"},
			OpInsert: {"patients", "appointments", "billing_records", "professionals"},
			OpUpdate: {"patients", "appointments", "billing_records", "professionals", "clinics"},
			OpDelete: {"appointments", "billing_records"},
		},
	}
}
