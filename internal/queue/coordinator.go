package queue

import (
	"context"
	"errors"

	"qms/queueing-engine/internal/models"
	"qms/queueing-engine/internal/store"
)

var (
	ErrOfficeRequired = errors.New("office is required")
	ErrWindowRequired = errors.New("window is required")
)

// ClaimStore is the subset of the sequence store the coordinator needs.
type ClaimStore interface {
	SnapshotSequences(ctx context.Context, officeIDs []string) ([]models.Sequence, error)
	CallNext(ctx context.Context, input store.CallNextInput) (models.Sequence, error)
}

// Coordinator serializes the call-next claim. The snapshot guard here is an
// optimization against rapid repeated clicks; the safety mechanism is the
// store's atomic conditional claim.
type Coordinator struct {
	store ClaimStore
}

func NewCoordinator(st ClaimStore) *Coordinator {
	return &Coordinator{store: st}
}

// CallNext claims the highest-priority earliest pending sequence for the
// office and binds it to the window. A window already serving is rejected
// before any store call. Empty queue and lost race both surface as
// store.ErrNoSequence.
func (c *Coordinator) CallNext(ctx context.Context, input store.CallNextInput) (models.Sequence, error) {
	if input.OfficeID == "" {
		return models.Sequence{}, ErrOfficeRequired
	}
	if input.WindowID == "" {
		return models.Sequence{}, ErrWindowRequired
	}

	snapshot, err := c.store.SnapshotSequences(ctx, []string{input.OfficeID})
	if err != nil {
		return models.Sequence{}, err
	}
	if _, busy := ServingEntry(snapshot, input.OfficeID, input.WindowID); busy {
		return models.Sequence{}, store.ErrWindowBusy
	}

	return c.store.CallNext(ctx, input)
}
