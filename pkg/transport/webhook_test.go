package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/praekeltfoundation/vumi-telegram/pkg/store"
)

func newWebhookTransport(t *testing.T, api *fakeTelegramAPI, setupAttempts int) *Transport {
	t.Helper()

	server := httptest.NewServer(api.handler())
	t.Cleanup(server.Close)

	cfg := testConfig()
	cfg.Transport.WebhookSetupAttempts = setupAttempts

	memory := store.NewMemoryStore(time.Minute)
	tr, err := New(cfg, Deps{
		Publisher: &fakePublisher{},
		Dedup:     memory,
		Contexts:  memory,
		Client:    NewAPIClient(server.URL+"/bottoken", time.Second),
	}, slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError})))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	return tr
}

func TestSetupWebhookRegistersInboundURL(t *testing.T) {
	api := newFakeTelegramAPI()
	tr := newWebhookTransport(t, api, 1)

	if err := tr.setupWebhook(context.Background()); err != nil {
		t.Fatalf("setupWebhook error: %v", err)
	}

	calls := api.calls()
	if len(calls) != 1 || calls[0].Method != "setWebhook" {
		t.Fatalf("calls = %+v, want one setWebhook", calls)
	}
	if calls[0].Params["url"] != "https://example.com/telegram" {
		t.Fatalf("url param = %v", calls[0].Params["url"])
	}

	rec := httptest.NewRecorder()
	tr.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	var status statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Webhook.OK {
		t.Fatalf("webhook state not ok: %+v", status.Webhook)
	}
}

func TestSetupWebhookRetriesServerErrors(t *testing.T) {
	api := newFakeTelegramAPI()
	api.respond = func(_ string, n int) (int, string) {
		if n == 1 {
			return http.StatusServiceUnavailable, "down"
		}
		return http.StatusOK, `{"ok":true,"result":true}`
	}
	tr := newWebhookTransport(t, api, 3)

	if err := tr.setupWebhook(context.Background()); err != nil {
		t.Fatalf("setupWebhook error: %v", err)
	}
	if got := len(api.calls()); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestSetupWebhookRedirectReportsInvalidToken(t *testing.T) {
	api := newFakeTelegramAPI()
	api.respond = func(string, int) (int, string) {
		return http.StatusFound, ""
	}
	tr := newWebhookTransport(t, api, 1)

	if err := tr.setupWebhook(context.Background()); err == nil {
		t.Fatal("expected setup failure on redirect")
	}

	rec := httptest.NewRecorder()
	tr.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	var status statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Status != "degraded" {
		t.Fatalf("status = %q, want degraded", status.Status)
	}
	if status.Webhook.Detail != "request_redirected" {
		t.Fatalf("detail = %q, want request_redirected", status.Webhook.Detail)
	}
}

func TestSetupWebhookNonJSONResponseDetail(t *testing.T) {
	api := newFakeTelegramAPI()
	api.respond = func(string, int) (int, string) {
		return http.StatusOK, "<html>unexpected proxy page</html>"
	}
	tr := newWebhookTransport(t, api, 1)

	if err := tr.setupWebhook(context.Background()); err == nil {
		t.Fatal("expected setup failure on non-JSON response")
	}

	rec := httptest.NewRecorder()
	tr.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	var status statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Webhook.Detail != "unexpected_response_format" {
		t.Fatalf("detail = %q, want unexpected_response_format", status.Webhook.Detail)
	}
}

func TestRemoveWebhookBestEffort(t *testing.T) {
	api := newFakeTelegramAPI()
	tr := newWebhookTransport(t, api, 1)

	tr.removeWebhook()

	calls := api.calls()
	if len(calls) != 1 || calls[0].Method != "deleteWebhook" {
		t.Fatalf("calls = %+v, want one deleteWebhook", calls)
	}

	// A failing removal is logged, not surfaced.
	api.respond = func(string, int) (int, string) {
		return http.StatusBadRequest, `{"ok":false,"description":"oops"}`
	}
	tr.removeWebhook()
}
