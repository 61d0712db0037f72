package announcer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"qms/queueing-engine/internal/models"
)

const (
	DefaultRepeats = 2
	DefaultPause   = 2 * time.Second
	DefaultSettle  = time.Second
)

// Pager is the external paging capability (TTS, display flash, intercom).
// The sequencer treats it as a black box: a failed announcement still counts
// as done so the queue keeps moving.
type Pager interface {
	Announce(ctx context.Context, text string, repeats int, pause time.Duration) error
}

type Announcement struct {
	SequenceID string
	TicketCode string
	WindowName string
	OfficeName string
}

type Config struct {
	Repeats int
	Pause   time.Duration
	Settle  time.Duration
}

// Sequencer serializes ticket paging: an append-only FIFO feeding a single
// currently-announcing slot, so two windows claiming in quick succession are
// paged one after the other rather than over each other.
type Sequencer struct {
	pager   Pager
	repeats int
	pause   time.Duration
	settle  time.Duration

	mu        sync.Mutex
	queue     []Announcement
	current   *Announcement
	announced map[string]struct{}
	wake      chan struct{}
}

func New(pager Pager, cfg Config) *Sequencer {
	repeats := cfg.Repeats
	if repeats <= 0 {
		repeats = DefaultRepeats
	}
	pause := cfg.Pause
	if pause <= 0 {
		pause = DefaultPause
	}
	settle := cfg.Settle
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &Sequencer{
		pager:     pager,
		repeats:   repeats,
		pause:     pause,
		settle:    settle,
		announced: make(map[string]struct{}),
		wake:      make(chan struct{}, 1),
	}
}

// Seed marks already-serving sequences as announced so a reconnecting viewer
// does not re-page historical state.
func (s *Sequencer) Seed(seqs []models.Sequence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seq := range seqs {
		s.announced[seq.SequenceID] = struct{}{}
	}
}

// Enqueue appends a newly-claimed ticket. A sequence already announced (or
// seeded) is skipped; use Reannounce for a deliberate repeat.
func (s *Sequencer) Enqueue(a Announcement) {
	s.mu.Lock()
	if _, done := s.announced[a.SequenceID]; done {
		s.mu.Unlock()
		return
	}
	s.announced[a.SequenceID] = struct{}{}
	s.queue = append(s.queue, a)
	s.mu.Unlock()
	s.signal()
}

// Reannounce queues a ticket again regardless of announcement history.
func (s *Sequencer) Reannounce(a Announcement) {
	s.mu.Lock()
	s.announced[a.SequenceID] = struct{}{}
	s.queue = append(s.queue, a)
	s.mu.Unlock()
	s.signal()
}

// Forget drops a sequence from announcement history. A transferred ticket
// keeps its sequence id but will be claimed again at the new office, and that
// claim must page.
func (s *Sequencer) Forget(sequenceID string) {
	s.mu.Lock()
	delete(s.announced, sequenceID)
	s.mu.Unlock()
}

// Current reports what is being paged right now, if anything.
func (s *Sequencer) Current() (Announcement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Announcement{}, false
	}
	return *s.current, true
}

func (s *Sequencer) Run(ctx context.Context) error {
	for {
		a, ok := s.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.wake:
				continue
			}
		}

		text := Text(a)
		if err := s.pager.Announce(ctx, text, s.repeats, s.pause); err != nil {
			log.Printf("event=announce_failed sequence_id=%s error=%v", a.SequenceID, err)
		}

		select {
		case <-ctx.Done():
			s.clearCurrent()
			return ctx.Err()
		case <-time.After(s.settle):
		}
		s.clearCurrent()
	}
}

func (s *Sequencer) pop() (Announcement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil || len(s.queue) == 0 {
		return Announcement{}, false
	}
	a := s.queue[0]
	s.queue = s.queue[1:]
	s.current = &a
	return a, true
}

func (s *Sequencer) clearCurrent() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	s.signal()
}

func (s *Sequencer) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Text renders the spoken/displayed paging line.
func Text(a Announcement) string {
	if a.WindowName != "" {
		return fmt.Sprintf("Ticket %s, please proceed to %s, %s", a.TicketCode, a.WindowName, a.OfficeName)
	}
	return fmt.Sprintf("Ticket %s, please proceed to %s", a.TicketCode, a.OfficeName)
}
