// Package webhook delivers incident events to a configured endpoint,
// consuming the in-process broadcaster. Deliveries are signed with
// HMAC-SHA256 when a secret is configured and retried with exponential
// backoff.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/derekatbrim/ranger/internal/config"
	"github.com/derekatbrim/ranger/internal/notify"
)

type Worker struct {
	cfg         config.WebhookConfig
	broadcaster *notify.Broadcaster
	httpClient  *http.Client
	done        chan struct{}
	subID       uint64
}

func NewWorker(cfg config.WebhookConfig, broadcaster *notify.Broadcaster) *Worker {
	return &Worker{
		cfg:         cfg,
		broadcaster: broadcaster,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		done: make(chan struct{}),
	}
}

// Start consumes incident events until the subscription closes or ctx is
// cancelled.
func (w *Worker) Start(ctx context.Context) {
	id, events := w.broadcaster.Subscribe()
	w.subID = id

	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				w.deliver(ctx, event)
			}
		}
	}()
}

// Stop unsubscribes and waits for the delivery loop to drain.
func (w *Worker) Stop() {
	w.broadcaster.Unsubscribe(w.subID)
	<-w.done
}

func (w *Worker) deliver(ctx context.Context, event notify.Event) {
	if w.cfg.URL == "" {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal webhook payload", "error", err)
		return
	}

	delay := w.cfg.BaseDelay
	for attempt := 0; attempt < w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(payload))
		if err != nil {
			slog.Error("failed to create webhook request", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if w.cfg.Secret != "" {
			req.Header.Set("X-Webhook-Signature", sign(payload, w.cfg.Secret))
		}

		resp, err := w.httpClient.Do(req)
		if err != nil {
			slog.Warn("webhook delivery failed", "kind", event.Kind, "attempt", attempt+1, "error", err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			slog.Debug("webhook delivered", "kind", event.Kind, "incident_id", event.Incident.ID)
			return
		}
		slog.Warn("webhook delivery rejected", "kind", event.Kind, "status", resp.StatusCode, "attempt", attempt+1)
	}

	slog.Error("webhook delivery gave up", "kind", event.Kind, "incident_id", event.Incident.ID, "retries", w.cfg.MaxRetries)
}

func sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
