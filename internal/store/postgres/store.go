package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"qms/queueing-engine/internal/models"
	"qms/queueing-engine/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ticketCodePad = 3

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const seqColumns = `
	s.sequence_id, s.office_id, o.name, s.ticket_code_id, tc.code,
	s.priority_id, pt.label, s.status_id, st.label, s.window_id, w.name,
	s.request_id, s.created_at, s.called_at, s.arrived_at, s.completed_at`

const seqJoins = `
	FROM sequences s
	JOIN offices o ON o.office_id = s.office_id
	JOIN ticket_codes tc ON tc.ticket_code_id = s.ticket_code_id
	JOIN priority_types pt ON pt.priority_id = s.priority_id
	JOIN status_types st ON st.status_id = s.status_id
	LEFT JOIN windows w ON w.window_id = s.window_id`

// statusBucketSQL mirrors status.Classify for a status label column so the
// claim and transition conditions match free-text labels the same way the
// engine does.
func statusBucketSQL(column string) string {
	return fmt.Sprintf(`CASE
		WHEN %[1]s ILIKE '%%complete%%' OR %[1]s ILIKE '%%done%%' THEN 'completed'
		WHEN %[1]s ILIKE '%%arriv%%' THEN 'arrived'
		WHEN %[1]s ILIKE '%%serv%%' OR %[1]s ILIKE '%%call%%' THEN 'serving'
		WHEN %[1]s ILIKE '%%pend%%' OR %[1]s ILIKE '%%wait%%' THEN 'pending'
		ELSE 'unknown'
	END`, column)
}

// priorityRankSQL mirrors priority.Rank for a priority label column.
func priorityRankSQL(column string) string {
	return fmt.Sprintf(`CASE
		WHEN %[1]s ILIKE '%%urgent%%' THEN 0
		WHEN %[1]s ILIKE '%%vip%%' THEN 1
		WHEN %[1]s ILIKE '%%priority%%' THEN 2
		WHEN %[1]s ILIKE '%%disability%%' THEN 3
		WHEN %[1]s ILIKE '%%senior%%' THEN 4
		ELSE 5
	END`, column)
}

func (s *Store) CreateSequence(ctx context.Context, input store.CreateSequenceInput) (models.Sequence, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Sequence{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if input.RequestID != "" {
		existing, found, ferr := findSequenceByRequestID(ctx, tx, input.RequestID)
		if ferr != nil {
			err = ferr
			return models.Sequence{}, false, err
		}
		if found {
			if err = tx.Commit(ctx); err != nil {
				return models.Sequence{}, false, err
			}
			return existing, false, nil
		}
	}

	officeCode, err := lookupOfficeCode(ctx, tx, input.OfficeID)
	if err != nil {
		return models.Sequence{}, false, err
	}
	if err = ensurePriorityExists(ctx, tx, input.PriorityID); err != nil {
		return models.Sequence{}, false, err
	}
	pendingStatusID, err := resolveStatusID(ctx, tx, "pending")
	if err != nil {
		return models.Sequence{}, false, err
	}

	number, err := nextCodeNumber(ctx, tx, input.OfficeID)
	if err != nil {
		return models.Sequence{}, false, err
	}
	code := fmt.Sprintf("%s-%0*d", officeCode, ticketCodePad, number)

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	ticketCodeID := uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO ticket_codes (ticket_code_id, code, created_at)
		VALUES ($1, $2, $3)
	`, ticketCodeID, code, createdAt)
	if err != nil {
		return models.Sequence{}, false, err
	}

	sequenceID := uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO sequences (sequence_id, office_id, ticket_code_id, priority_id, status_id, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sequenceID, input.OfficeID, ticketCodeID, input.PriorityID, pendingStatusID, nullIfEmpty(input.RequestID), createdAt)
	if err != nil {
		return models.Sequence{}, false, err
	}

	seq, err := loadSequence(ctx, tx, sequenceID)
	if err != nil {
		return models.Sequence{}, false, err
	}
	if err = insertChangeEvent(ctx, tx, store.EventSequenceCreated, store.ActionInsert, seq); err != nil {
		return models.Sequence{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Sequence{}, false, err
	}
	return seq, true, nil
}

func (s *Store) GetSequence(ctx context.Context, sequenceID string) (models.Sequence, error) {
	seq, err := loadSequence(ctx, s.pool, sequenceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Sequence{}, store.ErrSequenceNotFound
	}
	return seq, err
}

// CallNext is the single atomic claim: find-earliest-pending plus conditional
// update in one transaction, so two windows calling concurrently can never
// both receive the same sequence. The window row is locked first so repeated
// claims against one window serialize.
func (s *Store) CallNext(ctx context.Context, input store.CallNextInput) (models.Sequence, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Sequence{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if input.RequestID != "" {
		seqID, found, empty, ferr := findActionRequest(ctx, tx, store.ActionCallNext, input.RequestID)
		if ferr != nil {
			err = ferr
			return models.Sequence{}, err
		}
		if found {
			if err = tx.Commit(ctx); err != nil {
				return models.Sequence{}, err
			}
			if empty {
				return models.Sequence{}, store.ErrNoSequence
			}
			return s.GetSequence(ctx, seqID)
		}
	}

	var lockedWindow string
	row := tx.QueryRow(ctx, `
		SELECT window_id
		FROM windows
		WHERE window_id = $1 AND office_id = $2 AND active = TRUE
		FOR UPDATE
	`, input.WindowID, input.OfficeID)
	if err = row.Scan(&lockedWindow); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrWindowNotFound
		}
		return models.Sequence{}, err
	}

	var busy int
	row = tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT COUNT(1)
		FROM sequences s
		JOIN status_types st ON st.status_id = s.status_id
		WHERE s.window_id = $1 AND %s IN ('serving', 'arrived')
	`, statusBucketSQL("st.label")), input.WindowID)
	if err = row.Scan(&busy); err != nil {
		return models.Sequence{}, err
	}
	if busy > 0 {
		err = store.ErrWindowBusy
		return models.Sequence{}, err
	}

	calledAt := input.CalledAt
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}

	var claimedID string
	row = tx.QueryRow(ctx, fmt.Sprintf(`
		WITH next_seq AS (
			SELECT s.sequence_id
			FROM sequences s
			JOIN priority_types pt ON pt.priority_id = s.priority_id
			JOIN status_types st ON st.status_id = s.status_id
			WHERE s.office_id = $1
				AND %s = 'pending'
				AND (s.window_id IS NULL OR s.window_id = $2)
			ORDER BY %s ASC, s.created_at ASC, s.sequence_id ASC
			FOR UPDATE OF s SKIP LOCKED
			LIMIT 1
		)
		UPDATE sequences
		SET status_id = $3,
			window_id = $2,
			called_at = $4
		FROM next_seq
		WHERE sequences.sequence_id = next_seq.sequence_id
		RETURNING sequences.sequence_id
	`, statusBucketSQL("st.label"), priorityRankSQL("pt.label")),
		input.OfficeID, input.WindowID, input.ServingStatusID, calledAt)
	if err = row.Scan(&claimedID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if input.RequestID != "" {
				if err = insertActionRequest(ctx, tx, store.ActionCallNext, input.RequestID, ""); err != nil {
					return models.Sequence{}, err
				}
			}
			if err = tx.Commit(ctx); err != nil {
				return models.Sequence{}, err
			}
			return models.Sequence{}, store.ErrNoSequence
		}
		return models.Sequence{}, err
	}

	seq, err := loadSequence(ctx, tx, claimedID)
	if err != nil {
		return models.Sequence{}, err
	}
	if input.RequestID != "" {
		if err = insertActionRequest(ctx, tx, store.ActionCallNext, input.RequestID, seq.SequenceID); err != nil {
			return models.Sequence{}, err
		}
	}
	if err = insertChangeEvent(ctx, tx, store.EventSequenceCalled, store.ActionUpdate, seq); err != nil {
		return models.Sequence{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Sequence{}, err
	}
	return seq, nil
}

func (s *Store) MarkArrived(ctx context.Context, input store.TransitionInput) (models.Sequence, error) {
	return s.applyTransition(ctx, input, store.ActionArrive, []string{"serving"}, store.EventSequenceArrived, "arrived_at", true)
}

func (s *Store) CompleteSequence(ctx context.Context, input store.TransitionInput) (models.Sequence, error) {
	return s.applyTransition(ctx, input, store.ActionComplete, []string{"arrived"}, store.EventSequenceCompleted, "completed_at", false)
}

// applyTransition performs a single conditional row update keyed on the
// expected current status bucket. A concurrent actor having already advanced
// the row surfaces as ErrInvalidState, never as a silent overwrite.
func (s *Store) applyTransition(ctx context.Context, input store.TransitionInput, action string, fromBuckets []string, eventType, timestampColumn string, requireWindow bool) (models.Sequence, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Sequence{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if input.RequestID != "" {
		seqID, found, empty, ferr := findActionRequest(ctx, tx, action, input.RequestID)
		if ferr != nil {
			err = ferr
			return models.Sequence{}, err
		}
		if found {
			if err = tx.Commit(ctx); err != nil {
				return models.Sequence{}, err
			}
			if empty {
				return models.Sequence{}, store.ErrInvalidState
			}
			return s.GetSequence(ctx, seqID)
		}
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	set := "status_id = $2"
	args := []any{input.SequenceID, input.StatusID, fromBuckets}
	if timestampColumn != "" {
		set += fmt.Sprintf(", %s = $4", timestampColumn)
		args = append(args, occurredAt)
	}
	condition := ""
	if requireWindow {
		condition = " AND window_id IS NOT NULL"
	}

	var updatedID string
	row := tx.QueryRow(ctx, fmt.Sprintf(`
		UPDATE sequences
		SET %s
		WHERE sequence_id = $1
			AND status_id IN (SELECT st.status_id FROM status_types st WHERE %s = ANY($3))
			%s
		RETURNING sequence_id
	`, set, statusBucketSQL("st.label"), condition), args...)
	if err = row.Scan(&updatedID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			_, lerr := loadSequence(ctx, tx, input.SequenceID)
			if errors.Is(lerr, pgx.ErrNoRows) {
				err = store.ErrSequenceNotFound
			} else if lerr != nil {
				err = lerr
			} else {
				err = store.ErrInvalidState
			}
			return models.Sequence{}, err
		}
		return models.Sequence{}, err
	}

	seq, err := loadSequence(ctx, tx, updatedID)
	if err != nil {
		return models.Sequence{}, err
	}
	if input.RequestID != "" {
		if err = insertActionRequest(ctx, tx, action, input.RequestID, seq.SequenceID); err != nil {
			return models.Sequence{}, err
		}
	}
	if err = insertChangeEvent(ctx, tx, eventType, store.ActionUpdate, seq); err != nil {
		return models.Sequence{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Sequence{}, err
	}
	return seq, nil
}

// TransferSequence re-queues a non-completed sequence into another office as
// pending, clearing any window binding.
func (s *Store) TransferSequence(ctx context.Context, input store.TransferInput) (models.Sequence, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Sequence{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if input.RequestID != "" {
		seqID, found, empty, ferr := findActionRequest(ctx, tx, store.ActionTransfer, input.RequestID)
		if ferr != nil {
			err = ferr
			return models.Sequence{}, err
		}
		if found {
			if err = tx.Commit(ctx); err != nil {
				return models.Sequence{}, err
			}
			if empty {
				return models.Sequence{}, store.ErrInvalidState
			}
			return s.GetSequence(ctx, seqID)
		}
	}

	var targetOffice string
	row := tx.QueryRow(ctx, `
		SELECT office_id FROM offices WHERE office_id = $1 AND active = TRUE
	`, input.ToOfficeID)
	if err = row.Scan(&targetOffice); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrOfficeNotFound
		}
		return models.Sequence{}, err
	}

	var updatedID string
	row = tx.QueryRow(ctx, fmt.Sprintf(`
		UPDATE sequences
		SET office_id = $2,
			status_id = $3,
			window_id = NULL,
			called_at = NULL,
			arrived_at = NULL
		WHERE sequence_id = $1
			AND status_id IN (SELECT st.status_id FROM status_types st WHERE %s <> 'completed')
		RETURNING sequence_id
	`, statusBucketSQL("st.label")), input.SequenceID, input.ToOfficeID, input.PendingStatusID)
	if err = row.Scan(&updatedID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			_, lerr := loadSequence(ctx, tx, input.SequenceID)
			if errors.Is(lerr, pgx.ErrNoRows) {
				err = store.ErrSequenceNotFound
			} else if lerr != nil {
				err = lerr
			} else {
				err = store.ErrInvalidState
			}
			return models.Sequence{}, err
		}
		return models.Sequence{}, err
	}

	seq, err := loadSequence(ctx, tx, updatedID)
	if err != nil {
		return models.Sequence{}, err
	}
	if input.RequestID != "" {
		if err = insertActionRequest(ctx, tx, store.ActionTransfer, input.RequestID, seq.SequenceID); err != nil {
			return models.Sequence{}, err
		}
	}
	if err = insertChangeEvent(ctx, tx, store.EventSequenceTransferred, store.ActionUpdate, seq); err != nil {
		return models.Sequence{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Sequence{}, err
	}
	return seq, nil
}

// RecallSequence re-emits the paging event for a sequence already bound to a
// window without changing its state.
func (s *Store) RecallSequence(ctx context.Context, input store.TransitionInput) (models.Sequence, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Sequence{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	seq, err := loadSequence(ctx, tx, input.SequenceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrSequenceNotFound
		}
		return models.Sequence{}, err
	}
	if !store.ValidTransition(store.ActionRecall, seq.Status) {
		err = store.ErrInvalidState
		return models.Sequence{}, err
	}

	if err = insertChangeEvent(ctx, tx, store.EventSequenceRecalled, store.ActionUpdate, seq); err != nil {
		return models.Sequence{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Sequence{}, err
	}
	return seq, nil
}

func (s *Store) SnapshotSequences(ctx context.Context, officeIDs []string) ([]models.Sequence, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s
		%s
		WHERE s.office_id = ANY($1)
			AND %s IN ('pending', 'serving', 'arrived')
		ORDER BY s.created_at ASC, s.sequence_id ASC
	`, seqColumns, seqJoins, statusBucketSQL("st.label")), officeIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSequences(rows)
}

func (s *Store) ListRecentSequences(ctx context.Context, officeIDs []string, since time.Time) ([]models.Sequence, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s
		%s
		WHERE s.office_id = ANY($1) AND s.created_at >= $2
		ORDER BY s.created_at ASC, s.sequence_id ASC
	`, seqColumns, seqJoins), officeIDs, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSequences(rows)
}

func (s *Store) ListOffices(ctx context.Context) ([]models.Office, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT office_id, name, code, active
		FROM offices
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var offices []models.Office
	for rows.Next() {
		var office models.Office
		if err := rows.Scan(&office.OfficeID, &office.Name, &office.Code, &office.Active); err != nil {
			return nil, err
		}
		offices = append(offices, office)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return offices, nil
}

func (s *Store) ListWindows(ctx context.Context, officeID string) ([]models.Window, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT window_id, office_id, name, active
		FROM windows
		WHERE office_id = $1
		ORDER BY name ASC
	`, officeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var windows []models.Window
	for rows.Next() {
		var window models.Window
		if err := rows.Scan(&window.WindowID, &window.OfficeID, &window.Name, &window.Active); err != nil {
			return nil, err
		}
		windows = append(windows, window)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return windows, nil
}

func (s *Store) ListPriorityTypes(ctx context.Context) ([]models.PriorityType, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT priority_id, label, active
		FROM priority_types
		ORDER BY label ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var priorities []models.PriorityType
	for rows.Next() {
		var priority models.PriorityType
		if err := rows.Scan(&priority.PriorityID, &priority.Label, &priority.Active); err != nil {
			return nil, err
		}
		priorities = append(priorities, priority)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return priorities, nil
}

func (s *Store) ListStatusTypes(ctx context.Context) ([]models.StatusType, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status_id, label
		FROM status_types
		ORDER BY label ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var statuses []models.StatusType
	for rows.Next() {
		var st models.StatusType
		if err := rows.Scan(&st.StatusID, &st.Label); err != nil {
			return nil, err
		}
		statuses = append(statuses, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return statuses, nil
}

func (s *Store) ListChangeEvents(ctx context.Context, offset store.ChangeOffset, limit int) ([]store.ChangeEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	lastID := offset.LastEventID
	if lastID == "" {
		lastID = uuid.Nil.String()
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, type, table_name, action, row_id, office_id, payload_json, created_at
		FROM change_events
		WHERE created_at > $1 OR (created_at = $1 AND event_id > $2)
		ORDER BY created_at ASC, event_id ASC
		LIMIT $3
	`, offset.LastEventTime, lastID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.ChangeEvent
	for rows.Next() {
		var event store.ChangeEvent
		if err := rows.Scan(&event.EventID, &event.Type, &event.Table, &event.Action, &event.RowID, &event.OfficeID, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) GetChangeOffset(ctx context.Context, consumer string) (store.ChangeOffset, error) {
	var offset store.ChangeOffset
	row := s.pool.QueryRow(ctx, `
		SELECT last_event_time, last_event_id
		FROM change_offsets
		WHERE consumer = $1
	`, consumer)
	if err := row.Scan(&offset.LastEventTime, &offset.LastEventID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ChangeOffset{}, nil
		}
		return store.ChangeOffset{}, err
	}
	return offset, nil
}

func (s *Store) UpdateChangeOffset(ctx context.Context, consumer string, offset store.ChangeOffset) error {
	lastID := offset.LastEventID
	if lastID == "" {
		lastID = uuid.Nil.String()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO change_offsets (consumer, last_event_time, last_event_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (consumer)
		DO UPDATE SET last_event_time = $2, last_event_id = $3
	`, consumer, offset.LastEventTime, lastID)
	return err
}

func findSequenceByRequestID(ctx context.Context, tx pgx.Tx, requestID string) (models.Sequence, bool, error) {
	row := tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s
		%s
		WHERE s.request_id = $1
	`, seqColumns, seqJoins), requestID)
	seq, err := scanSequence(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Sequence{}, false, nil
	}
	if err != nil {
		return models.Sequence{}, false, err
	}
	return seq, true, nil
}

func lookupOfficeCode(ctx context.Context, tx pgx.Tx, officeID string) (string, error) {
	var code string
	row := tx.QueryRow(ctx, `
		SELECT code FROM offices WHERE office_id = $1 AND active = TRUE
	`, officeID)
	if err := row.Scan(&code); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrOfficeNotFound
		}
		return "", err
	}
	if code == "" {
		code = "Q"
	}
	return code, nil
}

func ensurePriorityExists(ctx context.Context, tx pgx.Tx, priorityID string) error {
	var id string
	row := tx.QueryRow(ctx, `
		SELECT priority_id FROM priority_types WHERE priority_id = $1 AND active = TRUE
	`, priorityID)
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrPriorityNotFound
		}
		return err
	}
	return nil
}

func resolveStatusID(ctx context.Context, tx pgx.Tx, bucket string) (string, error) {
	var id string
	row := tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT st.status_id
		FROM status_types st
		WHERE %s = $1
		ORDER BY st.label ASC
		LIMIT 1
	`, statusBucketSQL("st.label")), bucket)
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrStatusNotFound
		}
		return "", err
	}
	return id, nil
}

func nextCodeNumber(ctx context.Context, tx pgx.Tx, officeID string) (int64, error) {
	var next int64
	row := tx.QueryRow(ctx, `
		INSERT INTO code_counters (office_id, next_number)
		VALUES ($1, 1)
		ON CONFLICT (office_id)
		DO UPDATE SET next_number = code_counters.next_number + 1
		RETURNING next_number
	`, officeID)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func findActionRequest(ctx context.Context, tx pgx.Tx, action, requestID string) (string, bool, bool, error) {
	var sequenceID sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT sequence_id FROM action_requests WHERE action = $1 AND request_id = $2
	`, action, requestID)
	if err := row.Scan(&sequenceID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, false, nil
		}
		return "", false, false, err
	}
	if !sequenceID.Valid || sequenceID.String == "" {
		return "", true, true, nil
	}
	return sequenceID.String, true, false, nil
}

func insertActionRequest(ctx context.Context, tx pgx.Tx, action, requestID, sequenceID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO action_requests (action, request_id, sequence_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, action, requestID, nullIfEmpty(sequenceID), time.Now().UTC())
	return err
}

func insertChangeEvent(ctx context.Context, tx pgx.Tx, eventType, action string, seq models.Sequence) error {
	payload, err := json.Marshal(seq)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO change_events (event_id, type, table_name, action, row_id, office_id, payload_json, created_at)
		VALUES ($1, $2, 'sequences', $3, $4, $5, $6, $7)
	`, uuid.NewString(), eventType, action, seq.SequenceID, seq.OfficeID, payload, time.Now().UTC())
	return err
}

func loadSequence(ctx context.Context, q querier, sequenceID string) (models.Sequence, error) {
	row := q.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s
		%s
		WHERE s.sequence_id = $1
	`, seqColumns, seqJoins), sequenceID)
	return scanSequence(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSequence(row rowScanner) (models.Sequence, error) {
	var seq models.Sequence
	var windowID, windowName, requestID sql.NullString
	var calledAt, arrivedAt, completedAt sql.NullTime
	if err := row.Scan(
		&seq.SequenceID, &seq.OfficeID, &seq.OfficeName, &seq.TicketCodeID, &seq.TicketCode,
		&seq.PriorityID, &seq.Priority, &seq.StatusID, &seq.Status, &windowID, &windowName,
		&requestID, &seq.CreatedAt, &calledAt, &arrivedAt, &completedAt,
	); err != nil {
		return models.Sequence{}, err
	}
	seq.WindowID = nullStringPtr(windowID)
	seq.WindowName = nullStringPtr(windowName)
	if requestID.Valid {
		seq.RequestID = requestID.String
	}
	seq.CalledAt = nullTimePtr(calledAt)
	seq.ArrivedAt = nullTimePtr(arrivedAt)
	seq.CompletedAt = nullTimePtr(completedAt)
	return seq, nil
}

func scanSequences(rows pgx.Rows) ([]models.Sequence, error) {
	var seqs []models.Sequence
	for rows.Next() {
		seq, err := scanSequence(rows)
		if err != nil {
			return nil, err
		}
		seqs = append(seqs, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return seqs, nil
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	v := value.Time
	return &v
}
