package reconciler

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"qms/queueing-engine/internal/models"
	"qms/queueing-engine/internal/store"

	"github.com/google/uuid"
)

const (
	DefaultFeedCap         = 50
	DefaultBootstrapWindow = 24 * time.Hour
)

// HistorySource provides the bounded recent sequence window used to rebuild
// suppression state after a restart or stream reconnect.
type HistorySource interface {
	ListRecentSequences(ctx context.Context, officeIDs []string, since time.Time) ([]models.Sequence, error)
}

type Config struct {
	AccountID       string
	OfficeIDs       []string
	FeedCap         int
	BootstrapWindow time.Duration
}

// Reconciler folds the raw sequence change stream into an at-most-once
// notification feed: every staff action on a ticket re-touches the same
// ticket code, and only the first sighting of a code counts as an arrival.
//
// seenCodes never resets within a session, not even on Clear; only
// seenSequenceIDs does. Resetting seenCodes on clear would make a late
// staff-action row for an already-notified ticket look like a fresh arrival.
type Reconciler struct {
	history     HistorySource
	checkpoints store.CheckpointStore

	accountID string
	feedCap   int
	window    time.Duration

	mu              sync.Mutex
	offices         map[string]struct{}
	seenCodes       map[string]string // ticket code -> owning office id
	seenSequenceIDs map[string]string // sequence id -> owning office id
	clearCheckpoint time.Time
	feed            []models.Notification // head = newest
}

func New(history HistorySource, checkpoints store.CheckpointStore, cfg Config) *Reconciler {
	feedCap := cfg.FeedCap
	if feedCap <= 0 {
		feedCap = DefaultFeedCap
	}
	window := cfg.BootstrapWindow
	if window <= 0 {
		window = DefaultBootstrapWindow
	}
	offices := make(map[string]struct{}, len(cfg.OfficeIDs))
	for _, id := range cfg.OfficeIDs {
		offices[id] = struct{}{}
	}
	return &Reconciler{
		history:         history,
		checkpoints:     checkpoints,
		accountID:       cfg.AccountID,
		feedCap:         feedCap,
		window:          window,
		offices:         offices,
		seenCodes:       make(map[string]string),
		seenSequenceIDs: make(map[string]string),
	}
}

// Bootstrap rebuilds suppression state from the bounded recent window. It is
// safe to run repeatedly (restart, reconnect, scope change): already-emitted
// rows are skipped via seenSequenceIDs, and everything it does emit is marked
// already-read.
func (r *Reconciler) Bootstrap(ctx context.Context) error {
	if r.checkpoints != nil {
		remote, err := r.checkpoints.GetClearCheckpoint(ctx, r.accountID)
		if err != nil {
			log.Printf("event=clear_checkpoint_fetch_failed account=%s error=%v", r.accountID, err)
		} else {
			r.mu.Lock()
			if remote.After(r.clearCheckpoint) {
				r.clearCheckpoint = remote
			}
			r.mu.Unlock()
		}
	}

	r.mu.Lock()
	officeIDs := make([]string, 0, len(r.offices))
	for id := range r.offices {
		officeIDs = append(officeIDs, id)
	}
	r.mu.Unlock()
	if len(officeIDs) == 0 {
		return nil
	}
	sort.Strings(officeIDs)

	since := time.Now().UTC().Add(-r.window)
	seqs, err := r.history.ListRecentSequences(ctx, officeIDs, since)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	earliest := make(map[string]models.Sequence)
	for _, seq := range seqs {
		if _, ok := r.offices[seq.OfficeID]; !ok {
			continue
		}
		current, ok := earliest[seq.TicketCode]
		if !ok || seq.CreatedAt.Before(current.CreatedAt) ||
			(seq.CreatedAt.Equal(current.CreatedAt) && seq.SequenceID < current.SequenceID) {
			earliest[seq.TicketCode] = seq
		}
	}

	var candidates []models.Sequence
	for code, first := range earliest {
		_, alreadySeen := r.seenCodes[code]
		blocked := alreadySeen || first.CreatedAt.Before(r.clearCheckpoint)
		if !blocked {
			candidates = append(candidates, first)
		}
	}

	// Seed every observed code so later derivative rows are suppressed even
	// for codes this pass decided not to notify on.
	for code, first := range earliest {
		r.seenCodes[code] = first.OfficeID
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].SequenceID < candidates[j].SequenceID
	})
	if len(candidates) > r.feedCap {
		candidates = candidates[len(candidates)-r.feedCap:]
	}

	for _, seq := range candidates {
		if _, dup := r.seenSequenceIDs[seq.SequenceID]; dup {
			continue
		}
		r.seenSequenceIDs[seq.SequenceID] = seq.OfficeID
		r.push(notificationFrom(seq, true))
	}
	return nil
}

// Apply consumes one change event from the live stream. Only sequence row
// inserts can produce a notification; updates and deletes exist for the queue
// projection. Returns the emitted notification when the event was a genuine
// first sighting.
func (r *Reconciler) Apply(event store.ChangeEvent) (models.Notification, bool) {
	if event.Table != "sequences" {
		return models.Notification{}, false
	}
	if event.Action != store.ActionInsert {
		if event.Type == store.EventSequenceTransferred {
			r.reassign(event)
		}
		return models.Notification{}, false
	}
	var seq models.Sequence
	if err := json.Unmarshal(event.Payload, &seq); err != nil {
		log.Printf("event=change_payload_invalid event_id=%s error=%v", event.EventID, err)
		return models.Notification{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.offices[seq.OfficeID]; !ok {
		return models.Notification{}, false
	}
	if _, dup := r.seenSequenceIDs[seq.SequenceID]; dup {
		return models.Notification{}, false
	}
	r.seenSequenceIDs[seq.SequenceID] = seq.OfficeID
	if _, seen := r.seenCodes[seq.TicketCode]; seen {
		return models.Notification{}, false
	}
	r.seenCodes[seq.TicketCode] = seq.OfficeID

	notification := notificationFrom(seq, false)
	r.push(notification)
	return notification, true
}

// reassign moves suppression ownership of a transferred ticket to its new
// office. Suppression entries are pruned by owning office on scope changes,
// so a transferred ticket must belong to the office it now sits in.
func (r *Reconciler) reassign(event store.ChangeEvent) {
	var seq models.Sequence
	if err := json.Unmarshal(event.Payload, &seq); err != nil {
		log.Printf("event=change_payload_invalid event_id=%s error=%v", event.EventID, err)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seenCodes[seq.TicketCode]; ok {
		r.seenCodes[seq.TicketCode] = seq.OfficeID
	}
	if _, ok := r.seenSequenceIDs[seq.SequenceID]; ok {
		r.seenSequenceIDs[seq.SequenceID] = seq.OfficeID
	}
}

// Clear empties the visible feed for the account and moves the checkpoint
// forward everywhere via the shared checkpoint store. seenSequenceIDs resets;
// seenCodes deliberately does not.
func (r *Reconciler) Clear(ctx context.Context) error {
	now := time.Now().UTC()

	r.mu.Lock()
	if now.After(r.clearCheckpoint) {
		r.clearCheckpoint = now
	}
	r.feed = nil
	r.seenSequenceIDs = make(map[string]string)
	r.mu.Unlock()

	if r.checkpoints == nil {
		return nil
	}
	return r.checkpoints.SetClearCheckpoint(ctx, r.accountID, now)
}

// SetScope replaces the subscribed office set. Retained notifications and
// suppression entries for offices no longer in scope are purged, then the
// bootstrap pass re-runs so a restored office comes back as already-read
// history rather than a burst of fresh arrivals.
func (r *Reconciler) SetScope(ctx context.Context, officeIDs []string) error {
	r.mu.Lock()
	offices := make(map[string]struct{}, len(officeIDs))
	for _, id := range officeIDs {
		offices[id] = struct{}{}
	}
	r.offices = offices

	kept := r.feed[:0]
	for _, n := range r.feed {
		if _, ok := offices[n.OfficeID]; ok {
			kept = append(kept, n)
		}
	}
	r.feed = kept
	for code, officeID := range r.seenCodes {
		if _, ok := offices[officeID]; !ok {
			delete(r.seenCodes, code)
		}
	}
	for id, officeID := range r.seenSequenceIDs {
		if _, ok := offices[officeID]; !ok {
			delete(r.seenSequenceIDs, id)
		}
	}
	r.mu.Unlock()

	return r.Bootstrap(ctx)
}

// Notifications returns a copy of the feed, newest first.
func (r *Reconciler) Notifications() []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Notification, len(r.feed))
	copy(out, r.feed)
	return out
}

// push prepends, newest first, trimming to capacity. Callers hold r.mu.
func (r *Reconciler) push(n models.Notification) {
	r.feed = append([]models.Notification{n}, r.feed...)
	if len(r.feed) > r.feedCap {
		r.feed = r.feed[:r.feedCap]
	}
}

func notificationFrom(seq models.Sequence, read bool) models.Notification {
	return models.Notification{
		NotificationID: uuid.NewString(),
		SequenceID:     seq.SequenceID,
		TicketCodeID:   seq.TicketCodeID,
		OfficeID:       seq.OfficeID,
		OfficeName:     seq.OfficeName,
		TicketCode:     seq.TicketCode,
		Priority:       seq.Priority,
		CreatedAt:      seq.CreatedAt,
		Read:           read,
	}
}

// LocalCheckpoints is the in-memory fallback used when no shared checkpoint
// store is configured. Clears then only hold within the process lifetime.
type LocalCheckpoints struct {
	mu sync.Mutex
	m  map[string]time.Time
}

func NewLocalCheckpoints() *LocalCheckpoints {
	return &LocalCheckpoints{m: make(map[string]time.Time)}
}

func (l *LocalCheckpoints) GetClearCheckpoint(_ context.Context, accountID string) (time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.m[accountID], nil
}

func (l *LocalCheckpoints) SetClearCheckpoint(_ context.Context, accountID string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.m[accountID] = at
	return nil
}
