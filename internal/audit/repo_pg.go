package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StorePG is the PostgreSQL-backed audit store.
type StorePG struct {
	pool *pgxpool.Pool
}

// NewStorePG creates a StorePG over the given connection pool.
func NewStorePG(pool *pgxpool.Pool) *StorePG {
	return &StorePG{pool: pool}
}

const auditCols = `id, created_at, user_id, user_role, clinic_id, operation, table_name,
	record_id, access_granted, reason, security_score, threat_level,
	emergency_access, session_id, ip_address, user_agent, metadata`

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	var metaRaw []byte
	err := row.Scan(
		&r.ID, &r.CreatedAt, &r.UserID, &r.UserRole, &r.ClinicID, &r.Operation, &r.TableName,
		&r.RecordID, &r.AccessGranted, &r.Reason, &r.SecurityScore, &r.ThreatLevel,
		&r.EmergencyAccess, &r.SessionID, &r.IPAddress, &r.UserAgent, &metaRaw,
	)
	if err != nil {
		return nil, err
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &r.Metadata); err != nil {
			return nil, fmt.Errorf("decode audit metadata: %w", err)
		}
	}
	return &r, nil
}

// Insert appends one decision record. The store is append-only; there are
// no update or delete operations.
func (s *StorePG) Insert(ctx context.Context, rec *Record) error {
	metaRaw, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}

	const q = `
		INSERT INTO rls_audit_log (
			id, created_at, user_id, user_role, clinic_id, operation, table_name,
			record_id, access_granted, reason, security_score, threat_level,
			emergency_access, session_id, ip_address, user_agent, metadata
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`

	_, err = s.pool.Exec(ctx, q,
		rec.ID, rec.CreatedAt, rec.UserID, rec.UserRole, rec.ClinicID, rec.Operation, rec.TableName,
		rec.RecordID, rec.AccessGranted, rec.Reason, rec.SecurityScore, rec.ThreatLevel,
		rec.EmergencyAccess, rec.SessionID, rec.IPAddress, rec.UserAgent, metaRaw,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// CountSince counts decisions for a user within a clinic recorded at or
// after the given instant.
func (s *StorePG) CountSince(ctx context.Context, userID, clinicID string, since time.Time) (int, error) {
	const q = `SELECT COUNT(*) FROM rls_audit_log WHERE user_id = $1 AND clinic_id = $2 AND created_at >= $3`
	var count int
	if err := s.pool.QueryRow(ctx, q, userID, clinicID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count audit records: %w", err)
	}
	return count, nil
}

// RecentByUser returns the user's most recent decisions, newest first.
func (s *StorePG) RecentByUser(ctx context.Context, userID string, limit int) ([]*Record, error) {
	q := fmt.Sprintf("SELECT %s FROM rls_audit_log WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2", auditCols)
	rows, err := s.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent audit records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// Search returns records matching the filter, newest first.
func (s *StorePG) Search(ctx context.Context, f Filter) ([]*Record, error) {
	where := []string{}
	args := []interface{}{}
	idx := 1

	add := func(cond string, val interface{}) {
		where = append(where, fmt.Sprintf(cond, idx))
		args = append(args, val)
		idx++
	}

	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.ClinicID != "" {
		add("clinic_id = $%d", f.ClinicID)
	}
	if f.Start != nil {
		add("created_at >= $%d", *f.Start)
	}
	if f.End != nil {
		add("created_at <= $%d", *f.End)
	}
	if f.MinThreatLevel > 0 {
		add("threat_level >= $%d", f.MinThreatLevel)
	}
	if f.DeniedOnly {
		where = append(where, "access_granted = FALSE")
	}

	q := fmt.Sprintf("SELECT %s FROM rls_audit_log", auditCols)
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, f.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search audit records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func collectRecords(rows pgx.Rows) ([]*Record, error) {
	var items []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return items, nil
}
