package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const httpTimeout = 120 * time.Second

// ErrRateLimited 上游返回 429，本轮放弃该 provider
var ErrRateLimited = errors.New("provider rate limited")

// ErrInvalidOutput 模型输出为空或超长，换下一个模型
var ErrInvalidOutput = errors.New("invalid model output")

// Provider 文本补全后端。Generate 输入 prompt 返回纯文本。
type Provider interface {
	ID() string
	Generate(ctx context.Context, model, prompt string) (string, error)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatClient OpenAI 兼容的 chat completion 客户端，
// openai / groq / deepseek 只是 baseURL 不同。
type chatClient struct {
	id      string
	baseURL string
	apiKey  string
}

func NewOpenAIClient(apiKey string) Provider {
	return &chatClient{id: "openai", baseURL: "https://api.openai.com/v1", apiKey: apiKey}
}

func NewGroqClient(apiKey string) Provider {
	return &chatClient{id: "groq", baseURL: "https://api.groq.com/openai/v1", apiKey: apiKey}
}

func NewDeepSeekClient(apiKey string) Provider {
	return &chatClient{id: "deepseek", baseURL: "https://api.deepseek.com/v1", apiKey: apiKey}
}

// NewClient 按 provider 名构造客户端，名字不认识返回 nil
func NewClient(id, apiKey string) Provider {
	switch id {
	case "openai":
		return NewOpenAIClient(apiKey)
	case "groq":
		return NewGroqClient(apiKey)
	case "deepseek":
		return NewDeepSeekClient(apiKey)
	default:
		return nil
	}
}

func (c *chatClient) ID() string { return c.id }

func (c *chatClient) Generate(ctx context.Context, model, prompt string) (string, error) {
	body := map[string]any{
		"model": model,
		"messages": []chatMessage{
			{Role: "user", Content: prompt},
		},
	}

	respBody, err := c.doJSONRequest(ctx, c.baseURL+"/chat/completions", body)
	if err != nil {
		return "", fmt.Errorf("%s chat: %w", c.id, err)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("%s decode: %w", c.id, err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("%s: no choices returned", c.id)
	}
	return result.Choices[0].Message.Content, nil
}

func (c *chatClient) doJSONRequest(ctx context.Context, url string, body any) ([]byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	client := &http.Client{Timeout: httpTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
