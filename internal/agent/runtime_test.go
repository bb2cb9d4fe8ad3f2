package agent

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/user/wosafety/internal/gateway"
	"github.com/user/wosafety/internal/prompt"
	"github.com/user/wosafety/internal/state"
	"github.com/user/wosafety/internal/types"
	"github.com/user/wosafety/pkg/llm"
)

// mockProvider streams pre-configured turns, one per call.
type mockProvider struct {
	mu        sync.Mutex
	turns     [][]llm.Delta
	openErrs  []error
	callCount int
	seen      [][]llm.Message
}

func (m *mockProvider) Complete(context.Context, []llm.Message, []llm.Tool) (*llm.Response, error) {
	return nil, errors.New("not used")
}

func (m *mockProvider) Stream(_ context.Context, messages []llm.Message, _ []llm.Tool) (<-chan llm.Delta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.openErrs) > 0 {
		err := m.openErrs[0]
		m.openErrs = m.openErrs[1:]
		return nil, err
	}
	idx := m.callCount
	m.callCount++
	m.seen = append(m.seen, append([]llm.Message(nil), messages...))

	turn := []llm.Delta{{Content: "fallback"}}
	if idx < len(m.turns) {
		turn = m.turns[idx]
	}
	ch := make(chan llm.Delta, len(turn))
	for _, d := range turn {
		ch <- d
	}
	close(ch)
	return ch, nil
}

type recordingPublisher struct {
	mu        sync.Mutex
	events    []types.PushEvent
	completed []string
	failed    map[string]error
}

func (p *recordingPublisher) Publish(_ string, ev types.PushEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) Complete(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, key)
}

func (p *recordingPublisher) Fail(key string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failed == nil {
		p.failed = make(map[string]error)
	}
	p.failed[key] = err
}

type fixture struct {
	stores    Stores
	sessions  *state.SessionStore
	records   *state.RecordStore
	orders    *state.WorkOrderStore
	publisher *recordingPublisher
	session   *types.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		sessions:  state.NewSessionStore(dir),
		records:   state.NewRecordStore(dir),
		orders:    state.NewWorkOrderStore(filepath.Join(dir, "workorders.json")),
		publisher: &recordingPublisher{},
	}
	f.stores = Stores{Sessions: f.sessions, Records: f.records, WorkOrders: f.orders}

	ctx := context.Background()
	if err := f.orders.Put(ctx, &types.WorkOrder{
		ID:          "WO-1",
		Description: "Inspect substation",
		Status:      "Approved",
		Location:    &types.Location{Latitude: "-33.86", Longitude: "151.20"},
	}); err != nil {
		t.Fatal(err)
	}
	sess, err := f.sessions.Create(ctx, "WO-1")
	if err != nil {
		t.Fatal(err)
	}
	f.session = sess
	return f
}

func (f *fixture) runtime(t *testing.T, provider llm.Provider, registry *Registry, maxRounds int) *Runtime {
	t.Helper()
	engine, err := prompt.New("gpt-4", 128000, 4096, "")
	if err != nil {
		t.Fatal(err)
	}
	retry := &gateway.RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}
	return New(provider, engine, f.stores, registry, f.publisher, retry, maxRounds)
}

func TestProcessRunStreamsAndPersists(t *testing.T) {
	f := newFixture(t)
	provider := &mockProvider{turns: [][]llm.Delta{{
		{Content: "Risk: "},
		{Content: "Low"},
	}}}
	rt := f.runtime(t, provider, NewRegistry(), 5)

	var result string
	run := gateway.NewRun(f.session.ID, "WO-1")
	run.OnComplete = func(s string) { result = s }

	if err := rt.ProcessRun(run); err != nil {
		t.Fatal(err)
	}
	if result != "Risk: Low" {
		t.Errorf("expected 'Risk: Low', got %q", result)
	}

	if len(f.publisher.events) != 2 {
		t.Fatalf("expected 2 published fragments, got %d", len(f.publisher.events))
	}
	for i, ev := range f.publisher.events {
		if ev.Index == nil || *ev.Index != i {
			t.Errorf("fragment %d has index %v", i, ev.Index)
		}
	}
	if len(f.publisher.completed) != 1 || f.publisher.completed[0] != string(f.session.ID) {
		t.Errorf("expected completion for session, got %v", f.publisher.completed)
	}

	ctx := context.Background()
	count, err := f.records.Count(ctx, f.session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("expected human + ai records, got %d", count)
	}

	wo, err := f.orders.Get(ctx, "WO-1")
	if err != nil {
		t.Fatal(err)
	}
	if wo.SafetyCheckResponse != "Risk: Low" || wo.SafetyCheckPerformedAt == "" {
		t.Errorf("expected stored result, got %q at %q", wo.SafetyCheckResponse, wo.SafetyCheckPerformedAt)
	}

	sess, err := f.sessions.Get(ctx, f.session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sess.Status != state.SessionCompleted {
		t.Errorf("expected session completed, got %s", sess.Status)
	}
}

func TestProcessRunWithToolCall(t *testing.T) {
	f := newFixture(t)
	provider := &mockProvider{turns: [][]llm.Delta{
		{{ToolCalls: []llm.ToolCall{{
			ID:   "tc1",
			Type: "function",
			Function: llm.FunctionCall{
				Name:      "echo",
				Arguments: json.RawMessage(`{"text":"world"}`),
			},
		}}}},
		{{Content: "The echo returned: world"}},
	}}
	registry := NewRegistry()
	registry.Register(&echoTool{})
	rt := f.runtime(t, provider, registry, 10)

	run := gateway.NewRun(f.session.ID, "WO-1")
	if err := rt.ProcessRun(run); err != nil {
		t.Fatal(err)
	}

	// human + tool + ai
	count, err := f.records.Count(context.Background(), f.session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("expected 3 records, got %d", count)
	}

	if len(provider.seen) != 2 {
		t.Fatalf("expected 2 provider calls, got %d", len(provider.seen))
	}
	second := provider.seen[1]
	last := second[len(second)-1]
	if last.Role != "tool" || last.Content != "world" {
		t.Errorf("expected tool result message, got %+v", last)
	}
	if len(last.Tools) != 1 || last.Tools[0].ID != "tc1" {
		t.Errorf("expected tool call id on result message, got %+v", last.Tools)
	}
}

func TestProcessRunMaxRounds(t *testing.T) {
	f := newFixture(t)
	loop := []llm.Delta{{ToolCalls: []llm.ToolCall{{
		ID: "tc1", Type: "function",
		Function: llm.FunctionCall{Name: "echo", Arguments: json.RawMessage(`{"text":"loop"}`)},
	}}}}
	provider := &mockProvider{turns: [][]llm.Delta{loop, loop, loop, loop}}
	registry := NewRegistry()
	registry.Register(&echoTool{})
	rt := f.runtime(t, provider, registry, 3)

	err := rt.ProcessRun(gateway.NewRun(f.session.ID, "WO-1"))
	if err == nil {
		t.Fatal("expected error for max rounds exceeded")
	}
	if _, ok := f.publisher.failed[string(f.session.ID)]; !ok {
		t.Error("expected stream to be failed")
	}
	sess, _ := f.sessions.Get(context.Background(), f.session.ID)
	if sess.Status != state.SessionFailed {
		t.Errorf("expected session failed, got %s", sess.Status)
	}
}

func TestProcessRunRetriesStreamOpen(t *testing.T) {
	f := newFixture(t)
	provider := &mockProvider{
		openErrs: []error{errors.New("connection refused")},
		turns:    [][]llm.Delta{{{Content: "ok"}}},
	}
	rt := f.runtime(t, provider, NewRegistry(), 5)

	if err := rt.ProcessRun(gateway.NewRun(f.session.ID, "WO-1")); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
}

func TestProcessRunMidStreamError(t *testing.T) {
	f := newFixture(t)
	provider := &mockProvider{turns: [][]llm.Delta{{
		{Content: "partial"},
		{Err: errors.New("connection reset")},
	}}}
	rt := f.runtime(t, provider, NewRegistry(), 5)

	err := rt.ProcessRun(gateway.NewRun(f.session.ID, "WO-1"))
	if err == nil {
		t.Fatal("expected error")
	}
	if provider.callCount != 1 {
		t.Errorf("mid-stream failure must not be retried, got %d calls", provider.callCount)
	}
	wo, _ := f.orders.Get(context.Background(), "WO-1")
	if wo.SafetyCheckResponse != "" {
		t.Errorf("failed run must not store a result, got %q", wo.SafetyCheckResponse)
	}
}

func TestProcessRunUnknownWorkOrder(t *testing.T) {
	f := newFixture(t)
	rt := f.runtime(t, &mockProvider{}, NewRegistry(), 5)

	if err := rt.ProcessRun(gateway.NewRun(f.session.ID, "WO-404")); err == nil {
		t.Fatal("expected error for unknown work order")
	}
}
