package announcer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"qms/queueing-engine/internal/models"
)

type fakePager struct {
	calls chan string
	err   error
}

func (f *fakePager) Announce(ctx context.Context, text string, repeats int, pause time.Duration) error {
	f.calls <- text
	return f.err
}

func newTestSequencer(pager Pager) *Sequencer {
	return New(pager, Config{Repeats: 2, Pause: time.Millisecond, Settle: time.Millisecond})
}

func waitCall(t *testing.T, calls chan string) string {
	t.Helper()
	select {
	case text := <-calls:
		return text
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for announcement")
		return ""
	}
}

func TestAnnouncementsRunInOrder(t *testing.T) {
	pager := &fakePager{calls: make(chan string, 8)}
	s := newTestSequencer(pager)

	s.Enqueue(Announcement{SequenceID: "s1", TicketCode: "REG-001", WindowName: "Window 1", OfficeName: "Registration"})
	s.Enqueue(Announcement{SequenceID: "s2", TicketCode: "REG-002", WindowName: "Window 2", OfficeName: "Registration"})
	s.Enqueue(Announcement{SequenceID: "s3", TicketCode: "REG-003", WindowName: "Window 1", OfficeName: "Registration"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	want := []string{"REG-001", "REG-002", "REG-003"}
	for _, code := range want {
		text := waitCall(t, pager.calls)
		if !strings.Contains(text, code) {
			t.Fatalf("expected announcement for %s, got %q", code, text)
		}
	}
}

func TestPagerErrorCountsAsDone(t *testing.T) {
	pager := &fakePager{calls: make(chan string, 8), err: errors.New("speaker offline")}
	s := newTestSequencer(pager)

	s.Enqueue(Announcement{SequenceID: "s1", TicketCode: "REG-001", OfficeName: "Registration"})
	s.Enqueue(Announcement{SequenceID: "s2", TicketCode: "REG-002", OfficeName: "Registration"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	first := waitCall(t, pager.calls)
	second := waitCall(t, pager.calls)
	if !strings.Contains(first, "REG-001") || !strings.Contains(second, "REG-002") {
		t.Fatalf("expected both tickets announced despite errors, got %q then %q", first, second)
	}
}

func TestSeededSequencesAreNotReannounced(t *testing.T) {
	pager := &fakePager{calls: make(chan string, 8)}
	s := newTestSequencer(pager)

	s.Seed([]models.Sequence{{SequenceID: "s1", TicketCode: "REG-001"}})
	s.Enqueue(Announcement{SequenceID: "s1", TicketCode: "REG-001", OfficeName: "Registration"})
	s.Enqueue(Announcement{SequenceID: "s2", TicketCode: "REG-002", OfficeName: "Registration"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	text := waitCall(t, pager.calls)
	if !strings.Contains(text, "REG-002") {
		t.Fatalf("expected only the unseeded ticket, got %q", text)
	}
	select {
	case extra := <-pager.calls:
		t.Fatalf("unexpected extra announcement %q", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReannounceBypassesHistory(t *testing.T) {
	pager := &fakePager{calls: make(chan string, 8)}
	s := newTestSequencer(pager)

	s.Enqueue(Announcement{SequenceID: "s1", TicketCode: "REG-001", OfficeName: "Registration"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	waitCall(t, pager.calls)

	s.Enqueue(Announcement{SequenceID: "s1", TicketCode: "REG-001", OfficeName: "Registration"})
	s.Reannounce(Announcement{SequenceID: "s1", TicketCode: "REG-001", OfficeName: "Registration"})

	text := waitCall(t, pager.calls)
	if !strings.Contains(text, "REG-001") {
		t.Fatalf("expected recall announcement, got %q", text)
	}
}

func TestTransferredSequenceIsPagedWhenReclaimed(t *testing.T) {
	pager := &fakePager{calls: make(chan string, 8)}
	s := newTestSequencer(pager)

	s.Enqueue(Announcement{SequenceID: "s1", TicketCode: "REG-001", WindowName: "Window 1", OfficeName: "Registration"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	waitCall(t, pager.calls)

	// Transfer keeps the sequence id; the claim at the new office must page.
	s.Forget("s1")
	s.Enqueue(Announcement{SequenceID: "s1", TicketCode: "REG-001", WindowName: "Window 3", OfficeName: "Cardiology"})

	text := waitCall(t, pager.calls)
	if !strings.Contains(text, "Window 3") || !strings.Contains(text, "Cardiology") {
		t.Fatalf("expected the re-claim announcement at the new office, got %q", text)
	}
}

func TestCurrentSlotTracksActiveAnnouncement(t *testing.T) {
	gate := make(chan struct{})
	pager := &gatedPager{calls: make(chan string, 1), gate: gate}
	s := newTestSequencer(pager)

	s.Enqueue(Announcement{SequenceID: "s1", TicketCode: "REG-001", OfficeName: "Registration"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	waitCall(t, pager.calls)
	current, ok := s.Current()
	if !ok || current.SequenceID != "s1" {
		t.Fatalf("expected s1 in the current slot, got %+v ok=%v", current, ok)
	}
	close(gate)
}

type gatedPager struct {
	calls chan string
	gate  chan struct{}
}

func (g *gatedPager) Announce(ctx context.Context, text string, repeats int, pause time.Duration) error {
	g.calls <- text
	<-g.gate
	return nil
}
