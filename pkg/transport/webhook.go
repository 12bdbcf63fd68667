package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/praekeltfoundation/vumi-telegram/pkg/retry"
	"github.com/praekeltfoundation/vumi-telegram/pkg/telegram"
)

// setupWebhook registers the configured inbound URL with Telegram. Transient
// failures are retried with backoff; exhausting the configured attempts is fatal
// to the transport.
func (t *Transport) setupWebhook(ctx context.Context) error {
	call := telegram.APICall{
		Method: telegram.MethodSetWebhook,
		Params: map[string]any{"url": t.cfg.Transport.InboundURL},
	}

	err := retry.Do(ctx, retry.Config{
		MaxAttempts:    t.cfg.Transport.WebhookSetupAttempts,
		InitialBackoff: t.cfg.SendRetryBackoff(),
	}, func() error {
		if err := t.deps.Client.Call(ctx, call); err != nil {
			if !IsTransient(err) {
				return retry.Permanent(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		detail := webhookFailureDetail(err)
		t.setWebhookState(false, detail)
		t.log.Error("Webhook setup failed", "detail", detail, "error", err)
		return fmt.Errorf("webhook setup: %w", err)
	}

	t.setWebhookState(true, "")
	t.log.Info("Webhook set up", "url", t.cfg.Transport.InboundURL)
	return nil
}

// removeWebhook deregisters the webhook on shutdown. Best effort: failure is
// logged, never fatal.
func (t *Transport) removeWebhook() {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.RequestTimeout())
	defer cancel()

	call := telegram.APICall{Method: telegram.MethodDeleteWebhook, Params: map[string]any{}}
	if err := t.deps.Client.Call(ctx, call); err != nil {
		t.log.Warn("Webhook removal failed", "error", err)
		return
	}

	t.log.Info("Webhook removed")
}

// webhookFailureDetail classifies a setup failure for the status surface.
func webhookFailureDetail(err error) string {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return "request failed"
	}

	switch apiErr.Kind {
	case FailureRedirect:
		return "request_redirected"
	case FailureBadFormat:
		return "unexpected_response_format"
	default:
		return "bad_response"
	}
}
