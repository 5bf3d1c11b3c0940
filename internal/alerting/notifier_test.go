package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dqwatch/internal/storage"
)

func sampleAlert() storage.Alert {
	baseline := decimal.NewFromInt(2)
	return storage.Alert{
		ID:        7,
		RuleID:    1,
		RuleName:  "duplicate_id_pct threshold",
		MetricKey: "duplicate_id_pct",
		Source:    "crm",
		Severity:  storage.SeverityWarn,
		Bucket:    time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC),
		Value:     decimal.NewFromInt(9),
		Baseline:  &baseline,
		Status:    storage.AlertOpen,
		Message:   "duplicate_id_pct on crm reached 9.00% (critical)",
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("Notify should succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("unexpected chat_id: %#v", received)
	}
	text := received["text"]
	if !strings.Contains(text, "duplicate_id_pct threshold") {
		t.Fatalf("text should mention the rule name, got %q", text)
	}
	if !strings.Contains(text, "crm") || !strings.Contains(text, "9.00") {
		t.Fatalf("text should carry source and value, got %q", text)
	}
	if !strings.Contains(text, "Previous: 2.00") {
		t.Fatalf("text should include the baseline, got %q", text)
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), sampleAlert()); err == nil {
		t.Fatal("ok=false should be reported as an error")
	}
}

func TestTelegramNotifierHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), sampleAlert()); err == nil {
		t.Fatal("non-2xx status should be reported as an error")
	}
}
