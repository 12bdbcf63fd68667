// Package transport runs the Telegram transport bridge: the webhook ingest
// pipeline, the outbound dispatcher, and the webhook registration lifecycle.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/praekeltfoundation/vumi-telegram/pkg/bus"
	"github.com/praekeltfoundation/vumi-telegram/pkg/config"
	"github.com/praekeltfoundation/vumi-telegram/pkg/metrics"
	"github.com/praekeltfoundation/vumi-telegram/pkg/retry"
	"github.com/praekeltfoundation/vumi-telegram/pkg/store"
	"github.com/praekeltfoundation/vumi-telegram/pkg/telegram"
)

// Deps are the external collaborators the transport is wired with.
type Deps struct {
	Publisher bus.Publisher
	Consumer  bus.Consumer
	Dedup     store.DedupStore
	Contexts  store.ReplyContextStore
	Client    *APIClient
}

type webhookState struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

type statusResponse struct {
	Status        string           `json:"status"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Webhook       webhookState     `json:"webhook"`
	Counters      map[string]int64 `json:"counters"`
}

// Transport owns the inbound HTTP surface and the outbound dispatcher for one
// Telegram bot.
type Transport struct {
	cfg        *config.Config
	log        *slog.Logger
	deps       Deps
	translator *telegram.Translator
	dispatcher *Dispatcher
	metrics    *metrics.Metrics
	eventKey   string
	inboundKey string

	mu        sync.RWMutex
	startedAt time.Time
	webhook   webhookState
}

// New validates the wiring and constructs a transport.
func New(cfg *config.Config, deps Deps, log *slog.Logger) (*Transport, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if deps.Publisher == nil || deps.Dedup == nil || deps.Contexts == nil || deps.Client == nil {
		return nil, errors.New("publisher, dedup store, context store and api client are required")
	}
	if log == nil {
		log = slog.Default()
	}

	translator := telegram.NewTranslator(cfg.Transport.BotUsername, cfg.Transport.Name)
	t := &Transport{
		cfg:        cfg,
		log:        log.With("component", "transport"),
		deps:       deps,
		translator: translator,
		metrics:    metrics.New(),
		eventKey:   bus.EventKey(cfg.Transport.Name),
		inboundKey: bus.InboundKey(cfg.Transport.Name),
	}
	t.dispatcher = &Dispatcher{
		translator: translator,
		client:     deps.Client,
		publisher:  deps.Publisher,
		contexts:   deps.Contexts,
		eventKey:   t.eventKey,
		metrics:    t.metrics,
		log:        log.With("component", "transport.dispatcher"),
		retry: retry.Config{
			MaxAttempts:    cfg.Transport.SendRetryAttempts,
			InitialBackoff: cfg.SendRetryBackoff(),
		},
	}

	return t, nil
}

// Run registers the webhook, serves the inbound endpoint, and drains outbound
// envelopes until ctx is cancelled. Webhook registration failure is fatal.
func (t *Transport) Run(ctx context.Context) error {
	t.mu.Lock()
	t.startedAt = time.Now().UTC()
	t.mu.Unlock()

	if err := t.setupWebhook(ctx); err != nil {
		return err
	}
	defer t.removeWebhook()

	serverErrors := make(chan error, 1)
	go t.runServer(ctx, serverErrors)

	consumerErrors := make(chan error, 1)
	if t.deps.Consumer != nil {
		go func() {
			if err := t.deps.Consumer.Start(ctx, t.dispatcher.Handle); err != nil && !errors.Is(err, context.Canceled) {
				consumerErrors <- fmt.Errorf("run outbound consumer: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-serverErrors:
		return err
	case err := <-consumerErrors:
		return err
	}
}

func (t *Transport) runServer(ctx context.Context, errCh chan<- error) {
	host := strings.TrimSpace(t.cfg.Transport.Host)
	addr := host + ":" + strconv.Itoa(t.cfg.Transport.Port)

	mux := http.NewServeMux()
	mux.HandleFunc(t.cfg.Transport.WebPath, t.handleUpdate)
	mux.HandleFunc("/health", t.handleHealth)
	mux.HandleFunc("/status", t.handleStatus)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	t.log.Info("Webhook server started", "address", addr, "path", t.cfg.Transport.WebPath)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start webhook server: %w", err)
	}
}

func (t *Transport) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (t *Transport) handleStatus(w http.ResponseWriter, _ *http.Request) {
	t.mu.RLock()
	uptime := int64(0)
	if !t.startedAt.IsZero() {
		uptime = int64(time.Since(t.startedAt).Seconds())
	}
	webhook := t.webhook
	t.mu.RUnlock()

	status := "ok"
	if !webhook.OK {
		status = "degraded"
	}

	payload := statusResponse{
		Status:        status,
		UptimeSeconds: uptime,
		Webhook:       webhook,
		Counters:      t.metrics.Snapshot(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		t.log.Error("Failed to write status response", "error", err)
	}
}

func (t *Transport) setWebhookState(ok bool, detail string) {
	t.mu.Lock()
	t.webhook = webhookState{OK: ok, Detail: detail}
	t.mu.Unlock()
}
