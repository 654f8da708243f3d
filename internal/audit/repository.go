// Package audit records the per-value transmission audit trail.
//
// When remote.audit_values is enabled, the transmitter writes one row
// per queued value per delivery attempt, capturing what was sent
// where and how it went. The admin API exposes the trail read-only.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oakmere/fieldgate/internal/infrastructure/database"
	"github.com/oakmere/fieldgate/internal/queue"
)

// Outcomes of one delivery attempt for one value.
const (
	OutcomeDelivered = "delivered"
	OutcomeRetrying  = "retrying"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// Record is one value's delivery attempt.
type Record struct {
	ID         string      `json:"id"`
	Sequence   uint64      `json:"sequence"`
	DeviceID   string      `json:"device_id"`
	DeviceType string      `json:"device_type"`
	Value      queue.Value `json:"value"`
	Target     string      `json:"target"`
	Outcome    string      `json:"outcome"`
	Error      string      `json:"error,omitempty"`
	Attempt    int         `json:"attempt"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Filter controls which audit records to return.
type Filter struct {
	DeviceID string // optional: filter by device
	Outcome  string // optional: filter by outcome
	Limit    int    // default 50, max 200
	Offset   int    // pagination offset
}

// ListResult contains the paginated audit records.
type ListResult struct {
	Records []Record `json:"records"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

// Repository defines the interface for transmission audit operations.
type Repository interface {
	Create(ctx context.Context, rec *Record) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository persists audit records to SQLite.
type SQLiteRepository struct {
	db *database.DB
}

// NewSQLiteRepository creates a new transmission audit repository.
func NewSQLiteRepository(db *database.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts one audit record. The ID and CreatedAt are generated
// if empty.
func (r *SQLiteRepository) Create(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = "aud-" + uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	valueJSON, err := json.Marshal(rec.Value)
	if err != nil {
		return fmt.Errorf("marshalling audit value: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO transmission_audit (id, sequence, device_id, device_type, value, target, outcome, error, attempt, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Sequence, rec.DeviceID, rec.DeviceType,
		string(valueJSON), rec.Target, rec.Outcome,
		nullableString(rec.Error), rec.Attempt,
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting audit record: %w", err)
	}

	return nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns audit records matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	// Clamp limit.
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size for audit queries
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	// Build WHERE clause dynamically.
	var conditions []string
	var args []any

	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, filter.Outcome)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM transmission_audit %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit records: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT id, sequence, device_id, device_type, value, target, outcome, error, attempt, created_at FROM transmission_audit %s ORDER BY created_at DESC, sequence DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var valueJSON string
		var errText sql.NullString
		var createdAt string

		if err := rows.Scan(&rec.ID, &rec.Sequence, &rec.DeviceID, &rec.DeviceType,
			&valueJSON, &rec.Target, &rec.Outcome, &errText, &rec.Attempt, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit record: %w", err)
		}

		if errText.Valid {
			rec.Error = errText.String
		}
		if err := json.Unmarshal([]byte(valueJSON), &rec.Value); err != nil {
			return nil, fmt.Errorf("parsing audit value for %s: %w", rec.ID, err)
		}

		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing audit timestamp %q: %w", createdAt, err)
		}
		rec.CreatedAt = t

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit records: %w", err)
	}

	if records == nil {
		records = []Record{}
	}

	return &ListResult{
		Records: records,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
