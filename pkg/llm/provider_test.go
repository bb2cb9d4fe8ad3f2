package llm

import (
	"context"
	"errors"
	"testing"
)

// MockProvider is a test double that satisfies the Provider interface.
type MockProvider struct {
	CompleteFunc func(ctx context.Context, messages []Message, tools []Tool) (*Response, error)
	StreamFunc   func(ctx context.Context, messages []Message, tools []Tool) (<-chan Delta, error)
}

func (m *MockProvider) Complete(ctx context.Context, messages []Message, tools []Tool) (*Response, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, messages, tools)
	}
	return &Response{Content: "mock response"}, nil
}

func (m *MockProvider) Stream(ctx context.Context, messages []Message, tools []Tool) (<-chan Delta, error) {
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, messages, tools)
	}
	ch := make(chan Delta, 1)
	ch <- Delta{Content: "mock stream"}
	close(ch)
	return ch, nil
}

func deltas(ds ...Delta) <-chan Delta {
	ch := make(chan Delta, len(ds))
	for _, d := range ds {
		ch <- d
	}
	close(ch)
	return ch
}

func TestCollect(t *testing.T) {
	var provider Provider = &MockProvider{
		StreamFunc: func(ctx context.Context, messages []Message, tools []Tool) (<-chan Delta, error) {
			return deltas(
				Delta{Content: "Wear "},
				Delta{Content: "gloves."},
				Delta{ToolCalls: []ToolCall{{ID: "call_1", Type: "function", Function: FunctionCall{Name: "nearby_hazards"}}}},
			), nil
		},
	}

	ctx := context.Background()
	stream, err := provider.Stream(ctx, []Message{{Role: RoleUser, Content: "check"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := Collect(ctx, stream)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "Wear gloves." {
		t.Errorf("expected 'Wear gloves.', got %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Function.Name != "nearby_hazards" {
		t.Errorf("unexpected tool calls %+v", resp.ToolCalls)
	}
}

func TestCollectStopsOnError(t *testing.T) {
	boom := errors.New("connection reset")
	_, err := Collect(context.Background(), deltas(Delta{Content: "partial"}, Delta{Err: boom}))
	if !errors.Is(err, boom) {
		t.Fatalf("expected stream error, got %v", err)
	}
}

func TestCollectHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Collect(ctx, make(chan Delta)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := []Config{
		{Model: "gpt-4o-mini"},
		{Model: "llama3", BaseURL: "http://localhost:11434/v1"},
	}
	for _, c := range valid {
		if err := c.Validate(); err != nil {
			t.Errorf("Validate(%+v) = %v", c, err)
		}
	}

	invalid := []Config{
		{},
		{Model: "m", BaseURL: "localhost:11434"},
		{Model: "m", BaseURL: "ftp://example.com"},
		{Model: "m", MaxTokens: -1},
	}
	for _, c := range invalid {
		if err := c.Validate(); err == nil {
			t.Errorf("Validate(%+v) succeeded, want error", c)
		}
	}
}

func TestMockProviderComplete(t *testing.T) {
	mock := &MockProvider{
		CompleteFunc: func(ctx context.Context, messages []Message, tools []Tool) (*Response, error) {
			return &Response{
				Content: "custom response",
				Usage:   Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
			}, nil
		},
	}

	var provider Provider = mock
	resp, err := provider.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hello"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "custom response" {
		t.Errorf("expected 'custom response', got %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("expected 15 total tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestToolResult(t *testing.T) {
	call := ToolCall{ID: "call_7", Type: "function", Function: FunctionCall{Name: "read_url"}}
	msg := ToolResult(call, "page text")
	if msg.Role != RoleTool || msg.Content != "page text" {
		t.Errorf("unexpected message %+v", msg)
	}
	if msg.ToolCallID() != "call_7" {
		t.Errorf("expected call_7, got %q", msg.ToolCallID())
	}

	assistant := Message{Role: RoleAssistant, Tools: []ToolCall{call}}
	if assistant.ToolCallID() != "" {
		t.Errorf("assistant messages answer no call, got %q", assistant.ToolCallID())
	}
}
