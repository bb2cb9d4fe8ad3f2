package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/user/wosafety/pkg/llm"
)

// DefaultToolTimeout bounds a single tool call.
const DefaultToolTimeout = 45 * time.Second

// ErrUnknownTool is returned by Call for a name nothing registered.
var ErrUnknownTool = errors.New("unknown tool")

// Tool is something the safety agent can call during a check.
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// Registry maps tool names to tools. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	timeout time.Duration
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool), timeout: DefaultToolTimeout}
}

// SetTimeout changes the per-call deadline. Non-positive disables it.
func (r *Registry) SetTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeout = d
}

// Register adds t, replacing a tool of the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// AsLLMTools describes the tools to the provider in name order.
func (r *Registry) AsLLMTools() []llm.Tool {
	names := r.Names()
	out := make([]llm.Tool, 0, len(names))
	for _, name := range names {
		t, ok := r.Get(name)
		if !ok {
			continue
		}
		out = append(out, llm.Tool{
			Type: "function",
			Function: llm.Function{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return out
}

// Call runs the tool a model asked for. Empty arguments are passed as {}.
func (r *Registry) Call(ctx context.Context, tc llm.ToolCall) (string, error) {
	t, ok := r.Get(tc.Function.Name)
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownTool, tc.Function.Name)
	}
	args := tc.Function.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if !json.Valid(args) {
		return "", fmt.Errorf("%s: arguments are not valid JSON", tc.Function.Name)
	}

	r.mu.RLock()
	timeout := r.timeout
	r.mu.RUnlock()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := t.Execute(ctx, args)
	if err != nil {
		return "", fmt.Errorf("%s: %w", tc.Function.Name, err)
	}
	return out, nil
}
