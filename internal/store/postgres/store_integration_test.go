package postgres

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"qms/queueing-engine/internal/models"
	"qms/queueing-engine/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestCallNextPriorityOrder(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	fx := seedBaseData(t, ctx, pool)

	regular := createSequence(t, ctx, st, fx.officeID, fx.regularPriorityID)
	urgent := createSequence(t, ctx, st, fx.officeID, fx.urgentPriorityID)

	claimed, err := st.CallNext(ctx, store.CallNextInput{
		RequestID:       uuid.NewString(),
		OfficeID:        fx.officeID,
		WindowID:        fx.windowA,
		ServingStatusID: fx.servingStatusID,
	})
	if err != nil {
		t.Fatalf("call next: %v", err)
	}
	if claimed.SequenceID != urgent.SequenceID {
		t.Fatalf("expected urgent sequence %s first, got %s", urgent.SequenceID, claimed.SequenceID)
	}
	if claimed.WindowID == nil || *claimed.WindowID != fx.windowA {
		t.Fatalf("expected window binding %s, got %v", fx.windowA, claimed.WindowID)
	}

	claimed, err = st.CallNext(ctx, store.CallNextInput{
		RequestID:       uuid.NewString(),
		OfficeID:        fx.officeID,
		WindowID:        fx.windowB,
		ServingStatusID: fx.servingStatusID,
	})
	if err != nil {
		t.Fatalf("second call next: %v", err)
	}
	if claimed.SequenceID != regular.SequenceID {
		t.Fatalf("expected regular sequence %s second, got %s", regular.SequenceID, claimed.SequenceID)
	}
}

func TestCallNextConcurrency(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	fx := seedBaseData(t, ctx, pool)

	createSequence(t, ctx, st, fx.officeID, fx.regularPriorityID)
	createSequence(t, ctx, st, fx.officeID, fx.regularPriorityID)

	var wg sync.WaitGroup
	results := make(chan claimResult, 2)
	for _, windowID := range []string{fx.windowA, fx.windowB} {
		wg.Add(1)
		go func(window string) {
			defer wg.Done()
			seq, err := st.CallNext(ctx, store.CallNextInput{
				RequestID:       uuid.NewString(),
				OfficeID:        fx.officeID,
				WindowID:        window,
				ServingStatusID: fx.servingStatusID,
			})
			results <- claimResult{sequenceID: seq.SequenceID, err: err}
		}(windowID)
	}
	wg.Wait()
	close(results)

	var ids []string
	for result := range results {
		if result.err != nil {
			t.Fatalf("call next error: %v", result.err)
		}
		ids = append(ids, result.sequenceID)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 claims, got %d", len(ids))
	}
	if ids[0] == ids[1] {
		t.Fatalf("expected distinct sequences, got %s twice", ids[0])
	}
}

func TestCallNextWindowBusy(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	fx := seedBaseData(t, ctx, pool)

	createSequence(t, ctx, st, fx.officeID, fx.regularPriorityID)
	createSequence(t, ctx, st, fx.officeID, fx.regularPriorityID)

	if _, err := st.CallNext(ctx, store.CallNextInput{
		RequestID:       uuid.NewString(),
		OfficeID:        fx.officeID,
		WindowID:        fx.windowA,
		ServingStatusID: fx.servingStatusID,
	}); err != nil {
		t.Fatalf("first call next: %v", err)
	}

	_, err := st.CallNext(ctx, store.CallNextInput{
		RequestID:       uuid.NewString(),
		OfficeID:        fx.officeID,
		WindowID:        fx.windowA,
		ServingStatusID: fx.servingStatusID,
	})
	if err != store.ErrWindowBusy {
		t.Fatalf("expected ErrWindowBusy, got %v", err)
	}
}

func TestCreateSequenceIdempotency(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	fx := seedBaseData(t, ctx, pool)

	requestID := uuid.NewString()
	first, created, err := st.CreateSequence(ctx, store.CreateSequenceInput{
		RequestID:  requestID,
		OfficeID:   fx.officeID,
		PriorityID: fx.regularPriorityID,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create sequence: %v", err)
	}
	if !created {
		t.Fatalf("expected first create to report created")
	}

	second, created, err := st.CreateSequence(ctx, store.CreateSequenceInput{
		RequestID:  requestID,
		OfficeID:   fx.officeID,
		PriorityID: fx.regularPriorityID,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("duplicate create: %v", err)
	}
	if created {
		t.Fatalf("expected duplicate create to report not created")
	}
	if first.SequenceID != second.SequenceID {
		t.Fatalf("expected same sequence for duplicate request")
	}

	var count int
	row := pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM change_events WHERE type = 'sequence.created'
	`)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count change events: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 sequence.created event, got %d", count)
	}
}

func TestTransferClearsWindow(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	fx := seedBaseData(t, ctx, pool)
	other := uuid.NewString()
	if _, err := pool.Exec(ctx, `
		INSERT INTO offices (office_id, name, code, active) VALUES ($1, 'Radiology', 'RAD', TRUE)
	`, other); err != nil {
		t.Fatalf("insert office: %v", err)
	}

	createSequence(t, ctx, st, fx.officeID, fx.regularPriorityID)
	claimed, err := st.CallNext(ctx, store.CallNextInput{
		RequestID:       uuid.NewString(),
		OfficeID:        fx.officeID,
		WindowID:        fx.windowA,
		ServingStatusID: fx.servingStatusID,
	})
	if err != nil {
		t.Fatalf("call next: %v", err)
	}

	moved, err := st.TransferSequence(ctx, store.TransferInput{
		RequestID:       uuid.NewString(),
		SequenceID:      claimed.SequenceID,
		ToOfficeID:      other,
		PendingStatusID: fx.pendingStatusID,
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if moved.OfficeID != other {
		t.Fatalf("expected office %s, got %s", other, moved.OfficeID)
	}
	if moved.WindowID != nil {
		t.Fatalf("expected cleared window, got %v", *moved.WindowID)
	}
	if moved.CalledAt != nil {
		t.Fatalf("expected cleared called_at")
	}
}

func TestChangeEventCursor(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	fx := seedBaseData(t, ctx, pool)

	createSequence(t, ctx, st, fx.officeID, fx.regularPriorityID)
	createSequence(t, ctx, st, fx.officeID, fx.regularPriorityID)
	createSequence(t, ctx, st, fx.officeID, fx.urgentPriorityID)

	events, err := st.ListChangeEvents(ctx, store.ChangeOffset{}, 10)
	if err != nil {
		t.Fatalf("list change events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}

	cursor := store.ChangeOffset{
		LastEventTime: events[1].CreatedAt,
		LastEventID:   events[1].EventID,
	}
	rest, err := st.ListChangeEvents(ctx, cursor, 10)
	if err != nil {
		t.Fatalf("list after cursor: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("expected 1 event after cursor, got %d", len(rest))
	}
	if rest[0].EventID != events[2].EventID {
		t.Fatalf("expected event %s, got %s", events[2].EventID, rest[0].EventID)
	}

	if err := st.UpdateChangeOffset(ctx, "reconciler", cursor); err != nil {
		t.Fatalf("update offset: %v", err)
	}
	saved, err := st.GetChangeOffset(ctx, "reconciler")
	if err != nil {
		t.Fatalf("get offset: %v", err)
	}
	if saved.LastEventID != cursor.LastEventID {
		t.Fatalf("expected persisted offset %s, got %s", cursor.LastEventID, saved.LastEventID)
	}
}

type claimResult struct {
	sequenceID string
	err        error
}

type fixture struct {
	officeID          string
	windowA           string
	windowB           string
	regularPriorityID string
	urgentPriorityID  string
	pendingStatusID   string
	servingStatusID   string
	arrivedStatusID   string
	completedStatusID string
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	st := NewStore(pool)
	cleanup := func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return st, pool, cleanup
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}

func seedBaseData(t *testing.T, ctx context.Context, pool *pgxpool.Pool) fixture {
	t.Helper()
	fx := fixture{
		officeID:          uuid.NewString(),
		windowA:           uuid.NewString(),
		windowB:           uuid.NewString(),
		regularPriorityID: uuid.NewString(),
		urgentPriorityID:  uuid.NewString(),
		pendingStatusID:   uuid.NewString(),
		servingStatusID:   uuid.NewString(),
		arrivedStatusID:   uuid.NewString(),
		completedStatusID: uuid.NewString(),
	}

	if _, err := pool.Exec(ctx, `
		INSERT INTO offices (office_id, name, code, active) VALUES ($1, 'Registration', 'REG', TRUE)
	`, fx.officeID); err != nil {
		t.Fatalf("insert office: %v", err)
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO windows (window_id, office_id, name, active) VALUES ($1, $2, 'Window 1', TRUE)
	`, fx.windowA, fx.officeID); err != nil {
		t.Fatalf("insert window A: %v", err)
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO windows (window_id, office_id, name, active) VALUES ($1, $2, 'Window 2', TRUE)
	`, fx.windowB, fx.officeID); err != nil {
		t.Fatalf("insert window B: %v", err)
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO priority_types (priority_id, label, active) VALUES ($1, 'Regular Patient', TRUE)
	`, fx.regularPriorityID); err != nil {
		t.Fatalf("insert regular priority: %v", err)
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO priority_types (priority_id, label, active) VALUES ($1, 'Urgent Case', TRUE)
	`, fx.urgentPriorityID); err != nil {
		t.Fatalf("insert urgent priority: %v", err)
	}
	statuses := []struct {
		id    string
		label string
	}{
		{fx.pendingStatusID, "Waiting in Lobby"},
		{fx.servingStatusID, "Called to Window"},
		{fx.arrivedStatusID, "Arrived at Window"},
		{fx.completedStatusID, "Service Completed"},
	}
	for _, st := range statuses {
		if _, err := pool.Exec(ctx, `
			INSERT INTO status_types (status_id, label) VALUES ($1, $2)
		`, st.id, st.label); err != nil {
			t.Fatalf("insert status %s: %v", st.label, err)
		}
	}
	return fx
}

func createSequence(t *testing.T, ctx context.Context, st *Store, officeID, priorityID string) models.Sequence {
	t.Helper()
	seq, _, err := st.CreateSequence(ctx, store.CreateSequenceInput{
		RequestID:  uuid.NewString(),
		OfficeID:   officeID,
		PriorityID: priorityID,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create sequence: %v", err)
	}
	return seq
}
