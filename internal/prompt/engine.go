// Package prompt assembles token-budgeted prompts for safety checks.
package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/wosafety/internal/types"
	"github.com/user/wosafety/pkg/llm"
)

const truncationMarker = "\n\n[Content truncated]"

// truncationSlack absorbs token boundary shifts after re-encoding.
const truncationSlack = 16

// Data is what the system prompt template can reference.
type Data struct {
	Time        string
	SessionID   string
	WorkOrderID string
	Tools       string
}

// Engine assembles token-budgeted prompts for the LLM.
type Engine struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
	reserve   int
	system    *template.Template
	now       func() time.Time
}

// New creates a prompt engine with the specified token budget.
// model is used to select the appropriate tokenizer (e.g. "gpt-4").
// maxTokens is the model's context window size.
// reserve is the number of tokens to reserve for the model's response.
// promptPath optionally names a file holding a custom system prompt template.
func New(model string, maxTokens, reserve int, promptPath string) (*Engine, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}

	text := DefaultSystemPrompt
	if promptPath != "" {
		data, err := os.ReadFile(promptPath)
		if err != nil {
			return nil, fmt.Errorf("read system prompt: %w", err)
		}
		text = string(data)
	}
	tmpl, err := template.New("system").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse system prompt: %w", err)
	}

	return &Engine{
		tokenizer: enc,
		maxTokens: maxTokens,
		reserve:   reserve,
		system:    tmpl,
		now:       time.Now,
	}, nil
}

// CountTokens returns the token count for a string.
func (e *Engine) CountTokens(text string) int {
	return len(e.tokenizer.Encode(text, nil, nil))
}

func (e *Engine) budget() int {
	return e.maxTokens - e.reserve
}

// BuildSafetyCheck returns the system and user messages that start a safety
// check. The work order is embedded as JSON without its previous result. If
// the prompt would exceed the budget the description is shortened.
func (e *Engine) BuildSafetyCheck(sessionID types.SessionID, wo *types.WorkOrder, toolNames []string) ([]llm.Message, error) {
	var sys bytes.Buffer
	if err := e.system.Execute(&sys, Data{
		Time:        e.now().Format(time.RFC3339),
		SessionID:   string(sessionID),
		WorkOrderID: string(wo.ID),
		Tools:       strings.Join(toolNames, ", "),
	}); err != nil {
		return nil, fmt.Errorf("render system prompt: %w", err)
	}
	sysPrompt := sys.String()

	clean := wo.WithoutSafetyCheck()
	user, err := safetyRequest(&clean)
	if err != nil {
		return nil, err
	}

	remaining := e.budget() - e.CountTokens(sysPrompt)
	if over := e.CountTokens(user) - remaining; over > 0 {
		descTokens := e.tokenizer.Encode(clean.Description, nil, nil)
		keep := len(descTokens) - over - e.CountTokens(truncationMarker) - truncationSlack
		if keep < 0 {
			return nil, fmt.Errorf("work order %s does not fit the prompt budget", wo.ID)
		}
		clean.Description = e.tokenizer.Decode(descTokens[:keep]) + truncationMarker
		if user, err = safetyRequest(&clean); err != nil {
			return nil, err
		}
	}

	return []llm.Message{
		{Role: llm.RoleSystem, Content: sysPrompt},
		{Role: llm.RoleUser, Content: user},
	}, nil
}

// SafetyRequest renders the user request for a work order the way it is
// persisted as the human record of a session.
func SafetyRequest(wo *types.WorkOrder) (string, error) {
	clean := wo.WithoutSafetyCheck()
	return safetyRequest(&clean)
}

func safetyRequest(wo *types.WorkOrder) (string, error) {
	data, err := json.MarshalIndent(wo, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal work order: %w", err)
	}
	return fmt.Sprintf(SafetyCheckRequest, data), nil
}

// Fit shortens tool results, longest first, until the conversation fits the
// budget. The first two messages are never touched.
func (e *Engine) Fit(messages []llm.Message) []llm.Message {
	total := 0
	for _, m := range messages {
		total += e.messageTokens(m)
	}
	for total > e.budget() {
		longest := -1
		for i := 2; i < len(messages); i++ {
			if messages[i].Role != "tool" || strings.HasSuffix(messages[i].Content, truncationMarker) {
				continue
			}
			if longest < 0 || len(messages[i].Content) > len(messages[longest].Content) {
				longest = i
			}
		}
		if longest < 0 {
			break
		}
		before := e.messageTokens(messages[longest])
		toks := e.tokenizer.Encode(messages[longest].Content, nil, nil)
		keep := len(toks) - (total - e.budget()) - e.CountTokens(truncationMarker) - truncationSlack
		if keep < 0 {
			keep = 0
		}
		messages[longest].Content = e.tokenizer.Decode(toks[:keep]) + truncationMarker
		total += e.messageTokens(messages[longest]) - before
	}
	return messages
}

func (e *Engine) messageTokens(m llm.Message) int {
	n := e.CountTokens(m.Content)
	for _, tc := range m.Tools {
		n += e.CountTokens(tc.Function.Name)
		n += e.CountTokens(string(tc.Function.Arguments))
	}
	return n
}
