package store

import (
	"context"
	"encoding/json"
	"time"

	"qms/queueing-engine/internal/models"
)

type CreateSequenceInput struct {
	RequestID  string
	OfficeID   string
	PriorityID string
	CreatedAt  time.Time
}

type CallNextInput struct {
	RequestID       string
	OfficeID        string
	WindowID        string
	ServingStatusID string
	CalledAt        time.Time
}

type TransitionInput struct {
	RequestID  string
	SequenceID string
	StatusID   string
	OccurredAt time.Time
}

type TransferInput struct {
	RequestID       string
	SequenceID      string
	ToOfficeID      string
	PendingStatusID string
	OccurredAt      time.Time
}

// ChangeEvent is one row-level change recorded transactionally alongside the
// row it describes. Payload carries the full sequence row as JSON.
type ChangeEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Table     string          `json:"table"`
	Action    string          `json:"action"`
	RowID     string          `json:"row_id"`
	OfficeID  string          `json:"office_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

const (
	ActionInsert = "insert"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

const (
	EventSequenceCreated     = "sequence.created"
	EventSequenceCalled      = "sequence.called"
	EventSequenceArrived     = "sequence.arrived"
	EventSequenceCompleted   = "sequence.completed"
	EventSequenceTransferred = "sequence.transferred"
	EventSequenceRecalled    = "sequence.recalled"
)

// ChangeOffset marks the last change event a consumer has processed.
type ChangeOffset struct {
	LastEventTime time.Time
	LastEventID   string
}

type SequenceStore interface {
	CreateSequence(ctx context.Context, input CreateSequenceInput) (models.Sequence, bool, error)
	GetSequence(ctx context.Context, sequenceID string) (models.Sequence, error)
	CallNext(ctx context.Context, input CallNextInput) (models.Sequence, error)
	MarkArrived(ctx context.Context, input TransitionInput) (models.Sequence, error)
	CompleteSequence(ctx context.Context, input TransitionInput) (models.Sequence, error)
	TransferSequence(ctx context.Context, input TransferInput) (models.Sequence, error)
	RecallSequence(ctx context.Context, input TransitionInput) (models.Sequence, error)
	SnapshotSequences(ctx context.Context, officeIDs []string) ([]models.Sequence, error)
	ListRecentSequences(ctx context.Context, officeIDs []string, since time.Time) ([]models.Sequence, error)
	ListOffices(ctx context.Context) ([]models.Office, error)
	ListWindows(ctx context.Context, officeID string) ([]models.Window, error)
	ListPriorityTypes(ctx context.Context) ([]models.PriorityType, error)
	ListStatusTypes(ctx context.Context) ([]models.StatusType, error)
}

// ChangeFeed is the store's row-level change subscription surface, consumed
// by the stream poller.
type ChangeFeed interface {
	ListChangeEvents(ctx context.Context, offset ChangeOffset, limit int) ([]ChangeEvent, error)
	GetChangeOffset(ctx context.Context, consumer string) (ChangeOffset, error)
	UpdateChangeOffset(ctx context.Context, consumer string, offset ChangeOffset) error
}

// CheckpointStore persists the per-account clear checkpoint so that clearing
// notifications on one device suppresses them everywhere for that account.
type CheckpointStore interface {
	GetClearCheckpoint(ctx context.Context, accountID string) (time.Time, error)
	SetClearCheckpoint(ctx context.Context, accountID string, at time.Time) error
}
