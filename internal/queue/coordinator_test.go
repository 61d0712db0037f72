package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"qms/queueing-engine/internal/models"
	"qms/queueing-engine/internal/store"
)

type fakeClaimStore struct {
	snapshot   []models.Sequence
	claimCalls int
	claimFn    func(input store.CallNextInput) (models.Sequence, error)
}

func (f *fakeClaimStore) SnapshotSequences(ctx context.Context, officeIDs []string) ([]models.Sequence, error) {
	return f.snapshot, nil
}

func (f *fakeClaimStore) CallNext(ctx context.Context, input store.CallNextInput) (models.Sequence, error) {
	f.claimCalls++
	if f.claimFn == nil {
		return models.Sequence{}, store.ErrNoSequence
	}
	return f.claimFn(input)
}

func TestCallNextRejectsBusyWindowLocally(t *testing.T) {
	window := "w1"
	fake := &fakeClaimStore{
		snapshot: []models.Sequence{{
			SequenceID: "s1",
			OfficeID:   "o1",
			Status:     "Serving",
			WindowID:   &window,
		}},
	}
	c := NewCoordinator(fake)

	_, err := c.CallNext(context.Background(), store.CallNextInput{
		OfficeID: "o1",
		WindowID: "w1",
	})
	if !errors.Is(err, store.ErrWindowBusy) {
		t.Fatalf("expected ErrWindowBusy, got %v", err)
	}
	if fake.claimCalls != 0 {
		t.Fatalf("expected no store claim, got %d calls", fake.claimCalls)
	}
}

func TestCallNextValidation(t *testing.T) {
	c := NewCoordinator(&fakeClaimStore{})
	if _, err := c.CallNext(context.Background(), store.CallNextInput{WindowID: "w1"}); !errors.Is(err, ErrOfficeRequired) {
		t.Fatalf("expected ErrOfficeRequired, got %v", err)
	}
	if _, err := c.CallNext(context.Background(), store.CallNextInput{OfficeID: "o1"}); !errors.Is(err, ErrWindowRequired) {
		t.Fatalf("expected ErrWindowRequired, got %v", err)
	}
}

func TestCallNextClaims(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	fake := &fakeClaimStore{
		snapshot: []models.Sequence{
			{SequenceID: "t1", OfficeID: "o1", Priority: "Regular", Status: "Pending", CreatedAt: base},
			{SequenceID: "t2", OfficeID: "o1", Priority: "Urgent", Status: "Pending", CreatedAt: base.Add(5 * time.Second)},
		},
	}
	fake.claimFn = func(input store.CallNextInput) (models.Sequence, error) {
		// The store picks by the same ordering as the projection.
		list := WaitingList(fake.snapshot, input.OfficeID, input.WindowID)
		if len(list) == 0 {
			return models.Sequence{}, store.ErrNoSequence
		}
		claimed := list[0]
		claimed.Status = "Serving"
		claimed.WindowID = &input.WindowID
		for i := range fake.snapshot {
			if fake.snapshot[i].SequenceID == claimed.SequenceID {
				fake.snapshot[i] = claimed
			}
		}
		return claimed, nil
	}
	c := NewCoordinator(fake)

	first, err := c.CallNext(context.Background(), store.CallNextInput{OfficeID: "o1", WindowID: "w1"})
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if first.SequenceID != "t2" {
		t.Fatalf("expected urgent t2 first, got %s", first.SequenceID)
	}

	second, err := c.CallNext(context.Background(), store.CallNextInput{OfficeID: "o1", WindowID: "w2"})
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if second.SequenceID != "t1" {
		t.Fatalf("expected t1 second, got %s", second.SequenceID)
	}

	// w1 is now serving t2; a third call must be rejected without a claim.
	calls := fake.claimCalls
	if _, err := c.CallNext(context.Background(), store.CallNextInput{OfficeID: "o1", WindowID: "w1"}); !errors.Is(err, store.ErrWindowBusy) {
		t.Fatalf("expected ErrWindowBusy, got %v", err)
	}
	if fake.claimCalls != calls {
		t.Fatal("expected rejected claim to skip the store")
	}
}
