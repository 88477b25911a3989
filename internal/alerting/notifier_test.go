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

	"price-notifier/internal/storage"
)

func testNotification() Notification {
	return Notification{
		ItemName:    "USB-C Dock",
		ItemURL:     "https://shop.example/dock",
		AlertType:   storage.AlertTargetReached,
		OldPrice:    dec("129.99"),
		NewPrice:    dec("89.99"),
		TargetValue: dec("90.00"),
		TriggeredAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestTelegramNotify(t *testing.T) {
	var gotPath string
	var gotPayload map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	n := NewTelegramNotifier("test-token", "12345", server.URL, time.Second, zerolog.Nop())
	if err := n.Notify(context.Background(), testNotification()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if gotPath != "/bottest-token/sendMessage" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotPayload["chat_id"] != "12345" {
		t.Errorf("unexpected chat_id %q", gotPayload["chat_id"])
	}
	text := gotPayload["text"]
	for _, want := range []string{"target price reached", "USB-C Dock", "129.99 -> 89.99", "Target: 90.00"} {
		if !strings.Contains(text, want) {
			t.Errorf("message missing %q:\n%s", want, text)
		}
	}
}

func TestTelegramNotifyAPIRejects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer server.Close()

	n := NewTelegramNotifier("test-token", "12345", server.URL, time.Second, zerolog.Nop())
	if err := n.Notify(context.Background(), testNotification()); err == nil {
		t.Fatal("expected error for ok=false response")
	}
}

func TestTelegramNotifyServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	n := NewTelegramNotifier("test-token", "12345", server.URL, time.Second, zerolog.Nop())
	if err := n.Notify(context.Background(), testNotification()); err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestRenderMessagePercentageDrop(t *testing.T) {
	note := Notification{
		ItemName:    "Monitor",
		AlertType:   storage.AlertPercentageDrop,
		OldPrice:    dec("200"),
		NewPrice:    dec("150"),
		TargetValue: dec("20"),
		TriggeredAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	msg := renderMessage(note)
	if !strings.Contains(msg, "Drop: 25.00% (threshold 20.00%)") {
		t.Errorf("message missing drop line:\n%s", msg)
	}
}
