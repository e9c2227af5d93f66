package llm

import (
	"context"
	"fmt"

	"go.nanao.dev/voicekey/internal/types"
)

const defaultClaudeBaseURL = "https://api.anthropic.com/v1/messages"

// claudeCompleter implements Completer for the Claude API.
type claudeCompleter struct {
	cfg completerConfig
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	Model     string          `json:"model"`
	Messages  []claudeMessage `json:"messages"`
	System    string          `json:"system,omitempty"`
	MaxTokens int             `json:"max_tokens"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *claudeCompleter) Complete(ctx context.Context, messages []Message) (string, types.Usage, error) {
	var msgs []claudeMessage
	var system string
	for _, m := range messages {
		if m.Role == "system" {
			system += m.Content
			continue
		}
		msgs = append(msgs, claudeMessage{Role: m.Role, Content: m.Content})
	}

	maxTokens := c.cfg.maxTokens
	if maxTokens == 0 {
		maxTokens = 1024 // Claude requires max_tokens
	}

	url := defaultClaudeBaseURL
	if c.cfg.baseURL != "" {
		url = c.cfg.baseURL
	}
	headers := map[string]string{
		"x-api-key":         c.cfg.apiKey,
		"anthropic-version": "2023-06-01",
	}

	req := claudeRequest{
		Model:     c.cfg.model,
		Messages:  msgs,
		System:    system,
		MaxTokens: maxTokens,
	}

	var resp claudeResponse
	if err := postJSON(ctx, c.cfg.http, url, headers, req, &resp); err != nil {
		return "", types.Usage{}, err
	}

	if resp.Error != nil {
		return "", types.Usage{}, fmt.Errorf("api error: %s - %s", resp.Error.Type, resp.Error.Message)
	}
	if len(resp.Content) == 0 {
		return "", types.Usage{}, fmt.Errorf("no content returned")
	}

	var usage types.Usage
	if resp.Usage != nil {
		usage = types.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}
	}
	return resp.Content[0].Text, usage, nil
}
