package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultOpenAIBaseURL   = "https://api.openai.com"
	defaultOpenAIModel     = "gpt-4o"
	defaultOpenAIMaxTokens = 4096
	defaultAzureAPIVersion = "2024-06-01"
)

// OpenAIConfig holds configuration for the OpenAI provider. Setting Deployment
// switches to the Azure OpenAI URL layout and api-key header.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxTokens  int
	Deployment string // Azure deployment name
	APIVersion string // Azure api-version query parameter
	Timeout    time.Duration
	HTTPClient *http.Client
}

// OpenAIProvider implements Provider using the Chat Completions API.
type OpenAIProvider struct {
	config OpenAIConfig
}

// NewOpenAIProvider creates a new OpenAI provider with the given config.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultOpenAIMaxTokens
	}
	if cfg.Deployment != "" && cfg.APIVersion == "" {
		cfg.APIVersion = defaultAzureAPIVersion
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &OpenAIProvider{config: cfg}
}

func (p *OpenAIProvider) Name() string {
	if p.config.Deployment != "" {
		return "azure"
	}
	return "openai"
}

type openaiRequest struct {
	Model     string          `json:"model,omitempty"`
	Messages  []openaiMessage `json:"messages"`
	Tools     []openaiTool    `json:"tools,omitempty"`
	MaxTokens int             `json:"max_tokens,omitempty"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
}

type openaiToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openaiToolCallFunc `json:"function"`
}

type openaiToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string
}

type openaiTool struct {
	Type     string         `json:"type"`
	Function openaiToolFunc `json:"function"`
}

type openaiToolFunc struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
	Error   *openaiError   `json:"error,omitempty"`
}

type openaiChoice struct {
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message, tools []ToolDef) (*Response, error) {
	data, err := json.Marshal(p.buildRequest(messages, tools))
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.Name(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", p.Name(), err)
	}
	p.setHeaders(req)

	resp, err := p.config.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", p.Name(), ctx.Err())
		}
		return nil, &TransportError{Provider: p.Name(), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Provider: p.Name(), Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Provider: p.Name(), StatusCode: resp.StatusCode, Body: string(body)}
	}

	var apiResp openaiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("%s: unmarshal response: %w", p.Name(), err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("%s: %s: %s", p.Name(), apiResp.Error.Type, apiResp.Error.Message)
	}
	return p.parseResponse(&apiResp)
}

func (p *OpenAIProvider) endpoint() string {
	if p.config.Deployment == "" {
		return p.config.BaseURL + "/v1/chat/completions"
	}
	return p.config.BaseURL + "/openai/deployments/" + url.PathEscape(p.config.Deployment) +
		"/chat/completions?api-version=" + url.QueryEscape(p.config.APIVersion)
}

func (p *OpenAIProvider) buildRequest(messages []Message, tools []ToolDef) *openaiRequest {
	req := &openaiRequest{MaxTokens: p.config.MaxTokens}
	if p.config.Deployment == "" {
		req.Model = p.config.Model
	}

	for _, msg := range messages {
		om := openaiMessage{Role: string(msg.Role), Content: msg.Content, ToolCallID: msg.ToolCallID}
		for _, tc := range msg.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			om.ToolCalls = append(om.ToolCalls, openaiToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: openaiToolCallFunc{Name: tc.Name, Arguments: string(args)},
			})
		}
		req.Messages = append(req.Messages, om)
	}

	for _, t := range tools {
		schema := t.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		req.Tools = append(req.Tools, openaiTool{
			Type:     "function",
			Function: openaiToolFunc{Name: t.Name, Description: t.Description, Parameters: schema},
		})
	}
	return req
}

func (p *OpenAIProvider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if p.config.Deployment != "" {
		req.Header.Set("api-key", p.config.APIKey)
		return
	}
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
}

func (p *OpenAIProvider) parseResponse(apiResp *openaiResponse) (*Response, error) {
	resp := &Response{
		Usage: Usage{
			InputTokens:  apiResp.Usage.PromptTokens,
			OutputTokens: apiResp.Usage.CompletionTokens,
		},
	}
	if len(apiResp.Choices) == 0 {
		return resp, nil
	}

	msg := apiResp.Choices[0].Message
	resp.Content = msg.Content
	for _, tc := range msg.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("%s: unmarshal tool call arguments for %q: %w", p.Name(), tc.Function.Name, err)
			}
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return resp, nil
}
