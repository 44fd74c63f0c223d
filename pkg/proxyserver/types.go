package proxyserver

import (
	"encoding/json"
	"strings"
)

// ChatCompletionRequest is the OpenAI-compatible request body accepted by
// POST /v1/chat/completions. Content is kept raw because OpenAI clients
// send either a plain string or an array of typed parts.
type ChatCompletionRequest struct {
	Model    string        `json:"model,omitempty"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
	User     string        `json:"user,omitempty"`
}

// ChatMessage is one turn of the conversation.
type ChatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// contentPart is one element of an array-shaped message content.
type contentPart struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text,omitempty"`
}

// messageText extracts the text of a message content value: a JSON string
// passes through, an array of parts is joined with newlines on each
// part's text field. Anything else yields ok=false.
func messageText(content json.RawMessage) (string, bool) {
	if len(content) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return "", false
		}
		return s, true
	}
	var parts []contentPart
	if err := json.Unmarshal(content, &parts); err != nil {
		return "", false
	}
	var texts []string
	for _, p := range parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	if len(texts) == 0 {
		return "", false
	}
	return strings.Join(texts, "\n"), true
}

// lastUserMessage scans messages from the end for the most recent
// user-role turn carrying extractable text.
func lastUserMessage(messages []ChatMessage) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if !strings.EqualFold(messages[i].Role, "user") {
			continue
		}
		return messageText(messages[i].Content)
	}
	return "", false
}

// ChatCompletionResponse is the OpenAI-shaped success body, extended with
// the additive cortex envelope carrying the kernel's proof material.
type ChatCompletionResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []Choice       `json:"choices"`
	Usage   Usage          `json:"usage"`
	Cortex  CortexEnvelope `json:"cortex"`
}

// Choice is one completion candidate; the proxy always returns exactly
// one.
type Choice struct {
	Index        int              `json:"index"`
	Message      AssistantMessage `json:"message"`
	FinishReason string           `json:"finish_reason"`
}

// AssistantMessage carries the kernel-verified content.
type AssistantMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is zeroed: the proxy does not meter tokens, the kernel does not
// report them, and clients expect the field to exist.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CortexEnvelope is the additive response extension: kernel status, proof
// roots, and how the plan was obtained.
type CortexEnvelope struct {
	Status       string  `json:"status"`
	SemanticRoot *string `json:"semantic_root"`
	TraceRoot    *string `json:"trace_root"`
	ErrorCode    *string `json:"error_code"`
	PlanPrompt   *string `json:"plan_prompt"`
	PlanSource   *string `json:"plan_source"`
}
