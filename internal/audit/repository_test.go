package audit

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oakmere/fieldgate/internal/infrastructure/database"
	"github.com/oakmere/fieldgate/internal/queue"
)

func openTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "audit.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() {
		db.Close() //nolint:errcheck // test cleanup
	})

	schema := `
		CREATE TABLE transmission_audit (
			id          TEXT PRIMARY KEY,
			sequence    INTEGER NOT NULL,
			device_id   TEXT NOT NULL,
			device_type TEXT NOT NULL,
			value       TEXT NOT NULL,
			target      TEXT NOT NULL,
			outcome     TEXT NOT NULL,
			error       TEXT,
			attempt     INTEGER NOT NULL,
			created_at  TEXT NOT NULL
		);
	`
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}

	return NewSQLiteRepository(db)
}

func TestCreateGeneratesIDAndTimestamp(t *testing.T) {
	repo := openTestRepo(t)

	rec := &Record{
		Sequence:   7,
		DeviceID:   "temp-1",
		DeviceType: "temperature_sensor",
		Value:      queue.NumberValue(21.5),
		Target:     "http://cloud.example/batch",
		Outcome:    OutcomeDelivered,
		Attempt:    1,
	}
	if err := repo.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if !strings.HasPrefix(rec.ID, "aud-") {
		t.Errorf("ID = %q, want aud- prefix", rec.ID)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("CreatedAt was not set")
	}
}

func TestCreateAndListRoundTrip(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	rec := &Record{
		Sequence:   12,
		DeviceID:   "relay-1",
		DeviceType: "relay",
		Value:      queue.BoolValue(true),
		Target:     "http://cloud.example/batch",
		Outcome:    OutcomeRetrying,
		Error:      "remote: retryable failure: HTTP 503",
		Attempt:    2,
	}
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	result, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if result.Total != 1 || len(result.Records) != 1 {
		t.Fatalf("List returned total=%d records=%d, want 1 each", result.Total, len(result.Records))
	}

	got := result.Records[0]
	if got.Sequence != 12 || got.DeviceID != "relay-1" || got.Attempt != 2 {
		t.Errorf("record = %+v", got)
	}
	if got.Value.Kind != queue.ValueBool || !got.Value.Bool {
		t.Errorf("value = %+v, want bool true", got.Value)
	}
	if got.Error != rec.Error {
		t.Errorf("error = %q, want %q", got.Error, rec.Error)
	}
}

func TestListFilters(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	seed := []Record{
		{Sequence: 1, DeviceID: "temp-1", DeviceType: "temperature_sensor", Value: queue.NumberValue(20), Target: "t", Outcome: OutcomeDelivered, Attempt: 1},
		{Sequence: 2, DeviceID: "temp-1", DeviceType: "temperature_sensor", Value: queue.NumberValue(21), Target: "t", Outcome: OutcomeRetrying, Attempt: 1},
		{Sequence: 3, DeviceID: "relay-1", DeviceType: "relay", Value: queue.BoolValue(false), Target: "t", Outcome: OutcomeDelivered, Attempt: 1},
	}
	for i := range seed {
		if err := repo.Create(ctx, &seed[i]); err != nil {
			t.Fatalf("seeding record %d: %v", i, err)
		}
	}

	byDevice, err := repo.List(ctx, Filter{DeviceID: "temp-1"})
	if err != nil {
		t.Fatalf("List by device failed: %v", err)
	}
	if byDevice.Total != 2 {
		t.Errorf("device filter total = %d, want 2", byDevice.Total)
	}

	byOutcome, err := repo.List(ctx, Filter{Outcome: OutcomeDelivered})
	if err != nil {
		t.Fatalf("List by outcome failed: %v", err)
	}
	if byOutcome.Total != 2 {
		t.Errorf("outcome filter total = %d, want 2", byOutcome.Total)
	}

	both, err := repo.List(ctx, Filter{DeviceID: "temp-1", Outcome: OutcomeDelivered})
	if err != nil {
		t.Fatalf("List with both filters failed: %v", err)
	}
	if both.Total != 1 || both.Records[0].Sequence != 1 {
		t.Errorf("combined filter returned %+v", both.Records)
	}
}

func TestListPagination(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)
	for i := range 5 {
		rec := &Record{
			Sequence:   uint64(i + 1),
			DeviceID:   "temp-1",
			DeviceType: "temperature_sensor",
			Value:      queue.NumberValue(float64(i)),
			Target:     "t",
			Outcome:    OutcomeDelivered,
			Attempt:    1,
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("seeding record %d: %v", i, err)
		}
	}

	page, err := repo.List(ctx, Filter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if page.Total != 5 {
		t.Errorf("Total = %d, want 5", page.Total)
	}
	if len(page.Records) != 2 {
		t.Fatalf("page carried %d records, want 2", len(page.Records))
	}
	// Most recent first: offset 1 skips sequence 5.
	if page.Records[0].Sequence != 4 || page.Records[1].Sequence != 3 {
		t.Errorf("page sequences = %d, %d, want 4, 3", page.Records[0].Sequence, page.Records[1].Sequence)
	}
}

func TestListEmpty(t *testing.T) {
	repo := openTestRepo(t)

	result, err := repo.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if result.Total != 0 {
		t.Errorf("Total = %d, want 0", result.Total)
	}
	if result.Records == nil {
		t.Error("Records is nil, want empty slice")
	}
}
