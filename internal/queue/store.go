package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oakmere/fieldgate/internal/infrastructure/database"
)

// Store persists queue state so entries survive restarts.
//
// Implementations must be safe for use from the queue's single
// mutation path; the queue serialises all calls.
type Store interface {
	// Append persists a newly enqueued entry and advances the sequence
	// high-water mark in one transaction.
	Append(ctx context.Context, env Envelope) error

	// Remove deletes acknowledged entries by sequence.
	Remove(ctx context.Context, seqs []uint64) error

	// IncrementAttempts bumps delivery_attempts for requeued entries.
	IncrementAttempts(ctx context.Context, seqs []uint64) error

	// Replace overwrites the stored state with a full snapshot.
	// Used by the periodic flush when immediate persistence is off.
	Replace(ctx context.Context, entries []Envelope, nextSeq uint64) error

	// ReserveSequence raises the persisted sequence high-water mark to
	// next without touching stored entries. Must never lower the mark.
	// Lets the queue rule out sequence reuse after a crash that beats
	// the periodic flush.
	ReserveSequence(ctx context.Context, next uint64) error

	// Load returns all unacknowledged entries in ascending sequence
	// order plus the persisted next sequence number.
	Load(ctx context.Context) ([]Envelope, uint64, error)
}

// SQLiteStore persists queue entries to the queue_entries table and
// the sequence high-water mark to queue_sequence.
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore creates a store backed by the given database.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Append inserts the entry and advances the high-water mark.
func (s *SQLiteStore) Append(ctx context.Context, env Envelope) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if err := insertEntry(ctx, tx, env); err != nil {
		return err
	}
	if err := saveNextSequence(ctx, tx, env.Sequence+1); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing append: %w", err)
	}
	return nil
}

// Remove deletes entries by sequence.
func (s *SQLiteStore) Remove(ctx context.Context, seqs []uint64) error {
	if len(seqs) == 0 {
		return nil
	}

	query := "DELETE FROM queue_entries WHERE sequence IN (" + placeholders(len(seqs)) + ")"
	if _, err := s.db.ExecContext(ctx, query, sequenceArgs(seqs)...); err != nil {
		return fmt.Errorf("deleting queue entries: %w", err)
	}
	return nil
}

// IncrementAttempts bumps delivery_attempts for the given sequences.
func (s *SQLiteStore) IncrementAttempts(ctx context.Context, seqs []uint64) error {
	if len(seqs) == 0 {
		return nil
	}

	query := "UPDATE queue_entries SET delivery_attempts = delivery_attempts + 1 " +
		"WHERE sequence IN (" + placeholders(len(seqs)) + ")"
	if _, err := s.db.ExecContext(ctx, query, sequenceArgs(seqs)...); err != nil {
		return fmt.Errorf("updating delivery attempts: %w", err)
	}
	return nil
}

// Replace overwrites stored entries and the high-water mark with the
// given snapshot in one transaction.
func (s *SQLiteStore) Replace(ctx context.Context, entries []Envelope, nextSeq uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM queue_entries"); err != nil {
		return fmt.Errorf("clearing queue entries: %w", err)
	}
	for _, env := range entries {
		if err := insertEntry(ctx, tx, env); err != nil {
			return err
		}
	}
	if err := saveNextSequence(ctx, tx, nextSeq); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}
	return nil
}

// ReserveSequence raises the high-water mark to next. The MAX keeps a
// late Replace carrying an older mark from winding the reservation
// back.
func (s *SQLiteStore) ReserveSequence(ctx context.Context, next uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queue_sequence (id, next_sequence) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET next_sequence = MAX(next_sequence, excluded.next_sequence)
	`, next)
	if err != nil {
		return fmt.Errorf("reserving sequence mark: %w", err)
	}
	return nil
}

// Load reads all unacknowledged entries in sequence order and the
// persisted next sequence. After a crash, entries that were in flight
// reload as pending, preserving at-least-once delivery.
func (s *SQLiteStore) Load(ctx context.Context) ([]Envelope, uint64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, device_id, device_type, value, observed_at, enqueued_at, delivery_attempts
		FROM queue_entries
		ORDER BY sequence ASC
	`)
	if err != nil {
		return nil, 0, fmt.Errorf("querying queue entries: %w", err)
	}
	defer rows.Close()

	var entries []Envelope
	for rows.Next() {
		env, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, env)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating queue entries: %w", err)
	}

	var nextSeq uint64
	err = s.db.QueryRowContext(ctx,
		"SELECT next_sequence FROM queue_sequence WHERE id = 1",
	).Scan(&nextSeq)
	if errors.Is(err, sql.ErrNoRows) {
		nextSeq = 1
	} else if err != nil {
		return nil, 0, fmt.Errorf("reading sequence mark: %w", err)
	}

	// The mark can lag the stored entries if the process died between
	// writes. Never hand out a sequence that is already on disk.
	if n := len(entries); n > 0 && entries[n-1].Sequence >= nextSeq {
		nextSeq = entries[n-1].Sequence + 1
	}

	return entries, nextSeq, nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, env Envelope) error {
	value, err := env.Value.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encoding value for sequence %d: %w", env.Sequence, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO queue_entries
			(sequence, device_id, device_type, value, observed_at, enqueued_at, delivery_attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		env.Sequence,
		env.DeviceID,
		env.DeviceType,
		string(value),
		env.ObservedAt.UTC().Format(time.RFC3339Nano),
		env.EnqueuedAt.UTC().Format(time.RFC3339Nano),
		env.DeliveryAttempts,
	)
	if err != nil {
		return fmt.Errorf("inserting queue entry %d: %w", env.Sequence, err)
	}
	return nil
}

func saveNextSequence(ctx context.Context, tx *sql.Tx, next uint64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO queue_sequence (id, next_sequence) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET next_sequence = excluded.next_sequence
	`, next)
	if err != nil {
		return fmt.Errorf("saving sequence mark: %w", err)
	}
	return nil
}

func scanEntry(rows *sql.Rows) (Envelope, error) {
	var (
		env        Envelope
		value      string
		observedAt string
		enqueuedAt string
	)

	err := rows.Scan(
		&env.Sequence,
		&env.DeviceID,
		&env.DeviceType,
		&value,
		&observedAt,
		&enqueuedAt,
		&env.DeliveryAttempts,
	)
	if err != nil {
		return Envelope{}, fmt.Errorf("scanning queue entry: %w", err)
	}

	if err := env.Value.UnmarshalJSON([]byte(value)); err != nil {
		return Envelope{}, fmt.Errorf("decoding value for sequence %d: %w", env.Sequence, err)
	}
	if env.ObservedAt, err = time.Parse(time.RFC3339Nano, observedAt); err != nil {
		return Envelope{}, fmt.Errorf("parsing observed_at for sequence %d: %w", env.Sequence, err)
	}
	if env.EnqueuedAt, err = time.Parse(time.RFC3339Nano, enqueuedAt); err != nil {
		return Envelope{}, fmt.Errorf("parsing enqueued_at for sequence %d: %w", env.Sequence, err)
	}

	return env, nil
}

// placeholders builds a "?, ?, ?" list for IN clauses.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func sequenceArgs(seqs []uint64) []any {
	args := make([]any, len(seqs))
	for i, seq := range seqs {
		args[i] = seq
	}
	return args
}
