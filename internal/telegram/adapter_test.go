package telegram

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/wosafety/internal/state"
	"github.com/user/wosafety/internal/types"
)

func TestSplitMessage(t *testing.T) {
	short := "Hello world"
	parts := splitMessage(short)
	if len(parts) != 1 {
		t.Fatalf("expected 1 part, got %d", len(parts))
	}
	if parts[0] != short {
		t.Errorf("expected %q, got %q", short, parts[0])
	}
}

func TestSplitMessageLong(t *testing.T) {
	long := strings.Repeat("a", 5000)
	parts := splitMessage(long)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if len(parts[0]) != maxTelegramMessage {
		t.Errorf("expected first part length %d, got %d", maxTelegramMessage, len(parts[0]))
	}
}

func TestNotifyKeyRoundTrip(t *testing.T) {
	key := NotifyKey(-100123)
	if key != "telegram:-100123" {
		t.Errorf("expected 'telegram:-100123', got %q", key)
	}
	id, err := parseNotifyKey(key)
	if err != nil {
		t.Fatal(err)
	}
	if id != -100123 {
		t.Errorf("expected -100123, got %d", id)
	}

	for _, bad := range []string{"slack:1", "telegram:", "telegram:abc"} {
		if _, err := parseNotifyKey(bad); err == nil {
			t.Errorf("parseNotifyKey(%q) succeeded, want error", bad)
		}
	}
}

type fakeChecker struct {
	result string
	err    error
}

func (f *fakeChecker) RunSafetyCheck(ctx context.Context, id types.WorkOrderID) (string, error) {
	return f.result, f.err
}

type outbox struct {
	mu   sync.Mutex
	sent []string
}

func (o *outbox) send(chatID int64, text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, text)
	return nil
}

func (o *outbox) messages() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.sent...)
}

func newTestAdapter(t *testing.T, checker Checker) (*Adapter, *outbox) {
	t.Helper()
	store := state.NewWorkOrderStore(filepath.Join(t.TempDir(), "workorders.json"))
	ctx := context.Background()
	if err := store.Put(ctx, &types.WorkOrder{ID: "WO-1", Description: "Replace pump seal", Status: "Approved", Priority: "High"}); err != nil {
		t.Fatal(err)
	}
	if err := store.SetSafetyCheck(ctx, "WO-1", "<p>Wear gloves</p>", time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}
	box := &outbox{}
	a := &Adapter{checker: checker, workOrders: store, logger: slog.Default(), send: box.send}
	return a, box
}

func TestHandleCommandOrders(t *testing.T) {
	a, box := newTestAdapter(t, &fakeChecker{})
	a.handleCommand(context.Background(), 1, "orders", "")

	msgs := box.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "WO-1 [Approved] Replace pump seal") {
		t.Errorf("unexpected messages %q", msgs)
	}
}

func TestHandleCommandStatus(t *testing.T) {
	a, box := newTestAdapter(t, &fakeChecker{})
	a.handleCommand(context.Background(), 1, "status", "WO-1")
	a.handleCommand(context.Background(), 1, "status", "WO-404")

	msgs := box.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if !strings.Contains(msgs[0], "Wear gloves") {
		t.Errorf("status should include the stored result, got %q", msgs[0])
	}
	if !strings.Contains(msgs[1], "Unknown work order WO-404") {
		t.Errorf("unexpected reply %q", msgs[1])
	}
}

func TestHandleCommandCheck(t *testing.T) {
	a, box := newTestAdapter(t, &fakeChecker{result: "No hazards nearby."})
	a.handleCommand(context.Background(), 1, "check", "WO-1")

	deadline := time.Now().Add(2 * time.Second)
	for len(box.messages()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	msgs := box.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %q", msgs)
	}
	if !strings.HasPrefix(msgs[0], "Running safety check for WO-1") {
		t.Errorf("unexpected ack %q", msgs[0])
	}
	if !strings.Contains(msgs[1], "No hazards nearby.") {
		t.Errorf("unexpected result %q", msgs[1])
	}
}

func TestHandleCommandCheckFailure(t *testing.T) {
	a, box := newTestAdapter(t, &fakeChecker{err: errors.New("provider down")})
	a.handleCommand(context.Background(), 1, "check", "WO-1")

	deadline := time.Now().Add(2 * time.Second)
	for len(box.messages()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	msgs := box.messages()
	if len(msgs) != 2 || !strings.Contains(msgs[1], "failed: provider down") {
		t.Errorf("unexpected messages %q", msgs)
	}
}

func TestHandleCommandUsage(t *testing.T) {
	a, box := newTestAdapter(t, &fakeChecker{})
	a.handleCommand(context.Background(), 1, "check", "")
	a.handleCommand(context.Background(), 1, "bogus", "")

	msgs := box.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if !strings.HasPrefix(msgs[0], "Usage: /check") {
		t.Errorf("unexpected reply %q", msgs[0])
	}
	if !strings.HasPrefix(msgs[1], "Unknown command.") {
		t.Errorf("unexpected reply %q", msgs[1])
	}
}

func TestSendTo(t *testing.T) {
	a, box := newTestAdapter(t, &fakeChecker{})
	if err := a.SendTo("telegram:42", "hello"); err != nil {
		t.Fatal(err)
	}
	if err := a.SendTo("slack:42", "hello"); err == nil {
		t.Error("expected error for foreign notify key")
	}
	if msgs := box.messages(); len(msgs) != 1 || msgs[0] != "hello" {
		t.Errorf("unexpected messages %q", msgs)
	}
}
