package main

import (
	"context"
	"encoding/json"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qms/queueing-engine/internal/announcer"
	"qms/queueing-engine/internal/config"
	"qms/queueing-engine/internal/httpapi"
	"qms/queueing-engine/internal/hub"
	"qms/queueing-engine/internal/models"
	"qms/queueing-engine/internal/queue"
	"qms/queueing-engine/internal/reconciler"
	"qms/queueing-engine/internal/status"
	"qms/queueing-engine/internal/store"
	"qms/queueing-engine/internal/store/postgres"
	"qms/queueing-engine/internal/store/rediskv"
	"qms/queueing-engine/internal/stream"
	"qms/queueing-engine/internal/telemetry"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type eventEnvelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type notificationEnvelope struct {
	Type         string              `json:"type"`
	Notification models.Notification `json:"notification"`
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	shutdownTelemetry := telemetry.Setup("queueing-engine")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	ctx, stopAll := context.WithCancel(context.Background())
	defer stopAll()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	st := postgres.NewStore(pool)
	coordinator := queue.NewCoordinator(st)

	var checkpoints store.CheckpointStore
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		defer client.Close()
		checkpoints = rediskv.NewCheckpointStore(client)
	} else {
		log.Printf("event=redis_not_configured fallback=local_checkpoints")
		checkpoints = reconciler.NewLocalCheckpoints()
	}

	officeIDs := cfg.OfficeIDs
	if len(officeIDs) == 0 {
		offices, err := st.ListOffices(ctx)
		if err != nil {
			log.Fatalf("list offices: %v", err)
		}
		for _, office := range offices {
			if office.Active {
				officeIDs = append(officeIDs, office.OfficeID)
			}
		}
	}

	rec := reconciler.New(st, checkpoints, reconciler.Config{
		AccountID:       cfg.AccountID,
		OfficeIDs:       officeIDs,
		FeedCap:         cfg.FeedCap,
		BootstrapWindow: cfg.BootstrapWindow,
	})
	if err := rec.Bootstrap(ctx); err != nil {
		log.Printf("event=bootstrap_failed error=%v", err)
	}

	h := hub.New()

	seq := announcer.New(&hubPager{hub: h}, announcer.Config{
		Repeats: cfg.AnnounceRepeats,
		Pause:   cfg.AnnouncePause,
		Settle:  cfg.AnnounceSettle,
	})
	if snapshot, err := st.SnapshotSequences(ctx, officeIDs); err != nil {
		log.Printf("event=seed_snapshot_failed error=%v", err)
	} else {
		var serving []models.Sequence
		for _, s := range snapshot {
			if status.IsServing(s.Status) {
				serving = append(serving, s)
			}
		}
		seq.Seed(serving)
	}
	if cfg.AnnounceEnabled {
		go func() { _ = seq.Run(ctx) }()
	}

	poller := stream.NewPoller(st, "engine", cfg.StreamInterval, cfg.StreamBatch)
	events, unsubscribe := poller.Subscribe(256)
	defer unsubscribe()
	go func() { _ = poller.Run(ctx) }()
	go dispatchEvents(events, rec, seq, h)

	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:     cfg.RateLimitPerMinute,
		IPBurst:         cfg.RateLimitBurst,
		OfficePerMinute: cfg.OfficeRateLimitPerMinute,
		OfficeBurst:     cfg.OfficeRateLimitBurst,
	})
	handler := httpapi.NewHandler(st, coordinator, rec)

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/realtime/", newRealtimeHandler(h))
	mux.Handle("/", handler.Routes())

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), "queueing-engine")
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("queueing-engine listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	stopAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// dispatchEvents fans the change stream into the reconciler, the announcement
// sequencer, and the realtime hub.
func dispatchEvents(events <-chan store.ChangeEvent, rec *reconciler.Reconciler, seq *announcer.Sequencer, h *hub.Hub) {
	for event := range events {
		if notification, emitted := rec.Apply(event); emitted {
			payload, err := json.Marshal(notificationEnvelope{Type: "notification", Notification: notification})
			if err == nil {
				h.Broadcast(payload, hub.Scope{OfficeID: notification.OfficeID})
			}
		}

		switch event.Type {
		case store.EventSequenceCalled:
			if a, ok := announcementFrom(event); ok {
				seq.Enqueue(a)
			}
		case store.EventSequenceRecalled:
			if a, ok := announcementFrom(event); ok {
				seq.Reannounce(a)
			}
		case store.EventSequenceTransferred:
			seq.Forget(event.RowID)
		}

		envelope, err := json.Marshal(eventEnvelope{Type: event.Type, Payload: event.Payload, CreatedAt: event.CreatedAt})
		if err != nil {
			continue
		}
		h.Broadcast(envelope, scopeFrom(event))
	}
}

func announcementFrom(event store.ChangeEvent) (announcer.Announcement, bool) {
	var s models.Sequence
	if err := json.Unmarshal(event.Payload, &s); err != nil {
		log.Printf("event=announce_payload_invalid event_id=%s error=%v", event.EventID, err)
		return announcer.Announcement{}, false
	}
	a := announcer.Announcement{
		SequenceID: s.SequenceID,
		TicketCode: s.TicketCode,
		OfficeName: s.OfficeName,
	}
	if s.WindowName != nil {
		a.WindowName = *s.WindowName
	}
	return a, true
}

func scopeFrom(event store.ChangeEvent) hub.Scope {
	var s models.Sequence
	if err := json.Unmarshal(event.Payload, &s); err != nil {
		return hub.Scope{OfficeID: event.OfficeID}
	}
	scope := hub.Scope{OfficeID: s.OfficeID}
	if s.WindowID != nil {
		scope.WindowID = *s.WindowID
	}
	return scope
}

// hubPager pages by broadcasting announcement frames to every connected
// display client, once per repeat with the configured pause between.
type hubPager struct {
	hub *hub.Hub
}

type announcementFrame struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	Repeat int    `json:"repeat"`
}

func (p *hubPager) Announce(ctx context.Context, text string, repeats int, pause time.Duration) error {
	for i := 0; i < repeats; i++ {
		payload, err := json.Marshal(announcementFrame{Type: "announcement", Text: text, Repeat: i + 1})
		if err != nil {
			return err
		}
		p.hub.Broadcast(payload, hub.Scope{})
		if i == repeats-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause):
		}
	}
	return nil
}

func newRealtimeHandler(h *hub.Hub) http.Handler {
	return sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		h.Register(client)
		defer h.Unregister(client)

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.UpdateScope(client, hub.Scope{})
				continue
			}
			h.UpdateScope(client, hub.Scope{OfficeID: parsed.OfficeID, WindowID: parsed.WindowID})
		}
	})
}
