package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cortexbrain/cortex/pkg/rmvmproto"
)

// OpenAIPlanner drives an external OpenAI-compatible chat completion
// endpoint as the plan source in CORTEX_PLANNER_MODE=openai: it sends a
// fixed system message forbidding prose and the manifest-derived prompt
// as the user message, and parses the assistant's single JSON reply as a
// plan.
type OpenAIPlanner struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration

	httpClient *http.Client
}

// NewOpenAIPlanner builds a planner client with a bounded request
// timeout; a cancelled or timed-out call surfaces as a plain error the
// proxy maps to planner_http_failed.
func NewOpenAIPlanner(baseURL, apiKey, model string, timeout time.Duration) *OpenAIPlanner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OpenAIPlanner{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		Timeout: timeout,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Plan asks the external planner for a plan covering manifest and
// returns it parsed (via Parse) but not yet structurally validated —
// callers must still call Validate before execute.
func (p *OpenAIPlanner) Plan(ctx context.Context, manifest rmvmproto.Manifest) (rmvmproto.Plan, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	reqBody := chatCompletionRequest{
		Model: p.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "Respond with JSON only. No prose, no markdown fences, no explanation."},
			{Role: "user", Content: BuildPrompt(manifest)},
		},
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return rmvmproto.Plan{}, fmt.Errorf("planner: marshal openai request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return rmvmproto.Plan{}, fmt.Errorf("planner: build openai request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return rmvmproto.Plan{}, fmt.Errorf("planner: openai request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return rmvmproto.Plan{}, fmt.Errorf("planner: openai returned status %d", resp.StatusCode)
	}

	var completion chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return rmvmproto.Plan{}, fmt.Errorf("planner: decode openai response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return rmvmproto.Plan{}, fmt.Errorf("planner: openai response had no choices")
	}

	extracted, err := ExtractJSON(completion.Choices[0].Message.Content)
	if err != nil {
		return rmvmproto.Plan{}, err
	}
	if err := ValidateRaw(extracted); err != nil {
		return rmvmproto.Plan{}, err
	}
	return Parse(extracted)
}
