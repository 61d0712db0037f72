package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"qms/queueing-engine/internal/store"
)

type fakeSource struct {
	mu     sync.Mutex
	events []store.ChangeEvent
	offset store.ChangeOffset
	saved  []store.ChangeOffset
}

func (f *fakeSource) ListChangeEvents(ctx context.Context, offset store.ChangeOffset, limit int) ([]store.ChangeEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.ChangeEvent
	for _, ev := range f.events {
		if ev.CreatedAt.After(offset.LastEventTime) {
			out = append(out, ev)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSource) GetChangeOffset(ctx context.Context, consumer string) (store.ChangeOffset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offset, nil
}

func (f *fakeSource) UpdateChangeOffset(ctx context.Context, consumer string, offset store.ChangeOffset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, offset)
	return nil
}

func TestPollerDeliversAndAdvancesOffset(t *testing.T) {
	base := time.Now().UTC()
	source := &fakeSource{
		events: []store.ChangeEvent{
			{EventID: "ev-1", Type: store.EventSequenceCreated, CreatedAt: base.Add(time.Second)},
			{EventID: "ev-2", Type: store.EventSequenceCalled, CreatedAt: base.Add(2 * time.Second)},
		},
	}

	poller := NewPoller(source, "test", time.Millisecond, 10)
	events, cancel := poller.Subscribe(4)
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = poller.Run(ctx)
		close(done)
	}()

	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev.EventID)
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %v", got)
		}
	}
	stop()
	<-done

	if got[0] != "ev-1" || got[1] != "ev-2" {
		t.Fatalf("expected ordered delivery, got %v", got)
	}

	source.mu.Lock()
	defer source.mu.Unlock()
	if len(source.saved) == 0 {
		t.Fatalf("expected offset to be persisted")
	}
	last := source.saved[len(source.saved)-1]
	if last.LastEventID != "ev-2" {
		t.Fatalf("expected offset at ev-2, got %s", last.LastEventID)
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	poller := NewPoller(&fakeSource{}, "test", time.Millisecond, 10)
	events, cancel := poller.Subscribe(1)
	cancel()
	cancel()

	if _, open := <-events; open {
		t.Fatalf("expected closed channel after cancel")
	}

	// A dispatch after cancel must not panic on the closed channel.
	poller.dispatch(store.ChangeEvent{EventID: "late"})
}
