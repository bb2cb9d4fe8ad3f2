// Package llm defines the chat-completion provider contract used by the
// safety agent.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Provider defines the interface for interacting with LLM backends.
// Implementations handle protocol-specific details such as request formatting,
// authentication, and response parsing.
type Provider interface {
	// Complete sends a chat completion request and returns the full response.
	Complete(ctx context.Context, messages []Message, tools []Tool) (*Response, error)

	// Stream sends a chat completion request and returns a channel of incremental deltas.
	Stream(ctx context.Context, messages []Message, tools []Tool) (<-chan Delta, error)
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
}

// StatusError is returned when the provider answers with a non-200 status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed when sent again.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Validate reports configuration a provider cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("llm config: model is required")
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("llm config: invalid base url %q", c.BaseURL)
		}
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("llm config: max tokens must not be negative, got %d", c.MaxTokens)
	}
	return nil
}

// Collect drains a stream into a Response. Content is concatenated and the
// tool calls of every delta are kept in order. A delta carrying Err ends the
// collection with that error.
func Collect(ctx context.Context, deltas <-chan Delta) (*Response, error) {
	var (
		b    strings.Builder
		resp Response
	)
	for {
		select {
		case d, ok := <-deltas:
			if !ok {
				resp.Content = b.String()
				return &resp, nil
			}
			if d.Err != nil {
				return nil, d.Err
			}
			b.WriteString(d.Content)
			resp.ToolCalls = append(resp.ToolCalls, d.ToolCalls...)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
