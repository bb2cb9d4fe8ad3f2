// Package agent runs the safety agent for a work order: it streams the
// model's analysis to live subscribers, executes tool calls, and persists
// the conversation and final result.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/user/wosafety/internal/gateway"
	"github.com/user/wosafety/internal/prompt"
	"github.com/user/wosafety/internal/state"
	"github.com/user/wosafety/internal/types"
	"github.com/user/wosafety/pkg/llm"
)

// Publisher fans streamed fragments out to subscribers keyed by session.
type Publisher interface {
	Publish(key string, ev types.PushEvent)
	Complete(key string)
	Fail(key string, err error)
}

// Stores groups the persistence the runtime writes to.
type Stores struct {
	Sessions   types.SessionStore
	Records    types.RecordStore
	WorkOrders types.WorkOrderStore
}

// Runtime implements the agentic turn loop.
type Runtime struct {
	provider  llm.Provider
	engine    *prompt.Engine
	stores    Stores
	registry  *Registry
	publisher Publisher
	retry     *gateway.RetryPolicy
	maxRounds int
	now       func() time.Time
}

// New creates a Runtime. A nil retry policy means provider calls are
// attempted once.
func New(
	provider llm.Provider,
	engine *prompt.Engine,
	stores Stores,
	registry *Registry,
	publisher Publisher,
	retry *gateway.RetryPolicy,
	maxRounds int,
) *Runtime {
	if retry == nil {
		retry = &gateway.RetryPolicy{MaxAttempts: 1, Multiplier: 1}
	}
	return &Runtime{
		provider:  provider,
		engine:    engine,
		stores:    stores,
		registry:  registry,
		publisher: publisher,
		retry:     retry,
		maxRounds: maxRounds,
		now:       time.Now,
	}
}

// ProcessRun executes a safety check for a single run.
// This is the function passed to Queue.SetProcessor.
func (rt *Runtime) ProcessRun(run *gateway.Run) error {
	ctx := run.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	key := string(run.SessionID)

	result, err := rt.process(ctx, run)
	if err != nil {
		rt.publisher.Fail(key, err)
		if serr := rt.stores.Sessions.SetStatus(context.WithoutCancel(ctx), run.SessionID, state.SessionFailed); serr != nil {
			slog.Warn("mark session failed", "session_id", key, "error", serr)
		}
		return err
	}

	rt.publisher.Complete(key)
	if err := rt.stores.Sessions.SetStatus(ctx, run.SessionID, state.SessionCompleted); err != nil {
		slog.Warn("mark session completed", "session_id", key, "error", err)
	}
	if run.OnComplete != nil {
		run.OnComplete(result)
	}
	return nil
}

func (rt *Runtime) process(ctx context.Context, run *gateway.Run) (string, error) {
	wo, err := rt.stores.WorkOrders.Get(ctx, run.WorkOrderID)
	if err != nil {
		return "", fmt.Errorf("load work order: %w", err)
	}

	messages, err := rt.engine.BuildSafetyCheck(run.SessionID, wo, rt.registry.Names())
	if err != nil {
		return "", fmt.Errorf("build prompt: %w", err)
	}
	request, err := prompt.SafetyRequest(wo)
	if err != nil {
		return "", err
	}
	if err := rt.stores.Records.Append(ctx, &types.StreamingRecord{
		SessionID: run.SessionID,
		Role:      types.RoleHuman,
		Content:   request,
	}); err != nil {
		return "", fmt.Errorf("record request: %w", err)
	}
	if err := rt.stores.Sessions.SetStatus(ctx, run.SessionID, state.SessionStreaming); err != nil {
		return "", fmt.Errorf("mark session streaming: %w", err)
	}

	s := &turnStream{publisher: rt.publisher, key: string(run.SessionID)}
	for round := 0; round < rt.maxRounds; round++ {
		messages = rt.engine.Fit(messages)

		content, calls, err := rt.turn(ctx, messages, s)
		if err != nil {
			return "", err
		}

		if len(calls) == 0 {
			result := s.text.String()
			if err := rt.stores.Records.Append(ctx, &types.StreamingRecord{
				SessionID:        run.SessionID,
				Role:             types.RoleAI,
				Content:          result,
				ResponseComplete: true,
			}); err != nil {
				return "", fmt.Errorf("record response: %w", err)
			}
			if err := rt.stores.WorkOrders.SetSafetyCheck(ctx, wo.ID, result, rt.now()); err != nil {
				return "", fmt.Errorf("store safety check: %w", err)
			}
			slog.Info("safety check complete", "session_id", string(run.SessionID), "work_order_id", string(wo.ID), "rounds", round+1, "fragments", s.next)
			return result, nil
		}

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: content, Tools: calls})
		for _, tc := range calls {
			result := rt.execute(ctx, tc)
			callJSON, _ := json.Marshal(tc)
			if err := rt.stores.Records.Append(ctx, &types.StreamingRecord{
				SessionID:  run.SessionID,
				Role:       types.RoleTool,
				Content:    result,
				ToolName:   tc.Function.Name,
				ToolCallID: tc.ID,
				ToolCalls:  string(callJSON),
			}); err != nil {
				return "", fmt.Errorf("record tool result: %w", err)
			}
			messages = append(messages, llm.ToolResult(tc, result))
		}
	}

	return "", fmt.Errorf("max tool rounds (%d) exceeded", rt.maxRounds)
}

// turnStream numbers fragments across all rounds of one run.
type turnStream struct {
	publisher Publisher
	key       string
	next      int
	text      strings.Builder
}

func (s *turnStream) emit(chunk string) {
	s.publisher.Publish(s.key, types.PushEvent{Index: types.IndexOf(s.next), Chunk: chunk})
	s.next++
	s.text.WriteString(chunk)
}

// turn streams one model response. Opening the stream is retried; once
// fragments have been published a failure ends the run.
func (rt *Runtime) turn(ctx context.Context, messages []llm.Message, s *turnStream) (string, []llm.ToolCall, error) {
	var deltas <-chan llm.Delta
	err := rt.retry.Do(ctx, func() error {
		var err error
		deltas, err = rt.provider.Stream(ctx, messages, rt.registry.AsLLMTools())
		return err
	})
	if err != nil {
		return "", nil, fmt.Errorf("LLM call: %w", err)
	}

	var content strings.Builder
	var calls []llm.ToolCall
	for {
		select {
		case d, ok := <-deltas:
			if !ok {
				return content.String(), calls, nil
			}
			if d.Err != nil {
				return "", nil, fmt.Errorf("LLM stream: %w", d.Err)
			}
			if d.Content != "" {
				content.WriteString(d.Content)
				s.emit(d.Content)
			}
			calls = append(calls, d.ToolCalls...)
		case <-ctx.Done():
			return "", nil, ctx.Err()
		}
	}
}

// execute answers a tool call. Failures go back to the model as text so it
// can carry on without the tool.
func (rt *Runtime) execute(ctx context.Context, tc llm.ToolCall) string {
	result, err := rt.registry.Call(ctx, tc)
	if err != nil {
		slog.Warn("tool failed", "tool", tc.Function.Name, "error", err)
		return "error: " + err.Error()
	}
	return result
}
