package stream

import (
	"context"
	"log"
	"sync"
	"time"

	"qms/queueing-engine/internal/store"
)

// Source is the persisted change feed the poller drains.
type Source interface {
	ListChangeEvents(ctx context.Context, offset store.ChangeOffset, limit int) ([]store.ChangeEvent, error)
	GetChangeOffset(ctx context.Context, consumer string) (store.ChangeOffset, error)
	UpdateChangeOffset(ctx context.Context, consumer string, offset store.ChangeOffset) error
}

// Poller tails the change_events table and fans events out to subscribers.
// The read offset is persisted per consumer name, so a restarted process
// resumes where it left off instead of replaying the whole feed.
type Poller struct {
	source   Source
	consumer string
	interval time.Duration
	batch    int

	mu     sync.Mutex
	subs   map[int]chan store.ChangeEvent
	nextID int
}

func NewPoller(source Source, consumer string, interval time.Duration, batch int) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &Poller{
		source:   source,
		consumer: consumer,
		interval: interval,
		batch:    batch,
		subs:     make(map[int]chan store.ChangeEvent),
	}
}

// Subscribe registers a buffered delivery channel. The returned cancel
// function removes the subscription and closes the channel; events arriving
// while the buffer is full are dropped for that subscriber only.
func (p *Poller) Subscribe(buffer int) (<-chan store.ChangeEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan store.ChangeEvent, buffer)

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = ch
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		sub, ok := p.subs[id]
		if ok {
			delete(p.subs, id)
		}
		p.mu.Unlock()
		if ok {
			close(sub)
		}
	}
	return ch, cancel
}

func (p *Poller) Run(ctx context.Context) error {
	offset, err := p.source.GetChangeOffset(ctx, p.consumer)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			events, err := p.source.ListChangeEvents(ctx, offset, p.batch)
			if err != nil {
				log.Printf("event=change_poll_failed consumer=%s error=%v", p.consumer, err)
				continue
			}
			if len(events) == 0 {
				continue
			}
			for _, event := range events {
				p.dispatch(event)
			}
			last := events[len(events)-1]
			offset = store.ChangeOffset{LastEventTime: last.CreatedAt, LastEventID: last.EventID}
			if err := p.source.UpdateChangeOffset(ctx, p.consumer, offset); err != nil {
				log.Printf("event=change_offset_save_failed consumer=%s error=%v", p.consumer, err)
			}
		}
	}
}

func (p *Poller) dispatch(event store.ChangeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- event:
		default:
			log.Printf("event=change_event_dropped consumer=%s subscriber=%d event_id=%s", p.consumer, id, event.EventID)
		}
	}
}
