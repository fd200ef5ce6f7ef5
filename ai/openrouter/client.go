package openrouter

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/shopreel/ai/tracker"
	"github.com/teranos/shopreel/errors"
	"github.com/teranos/shopreel/internal/httpclient"
	"github.com/teranos/shopreel/internal/util"
)

const (
	// DefaultModel is the fallback model when none is specified
	// Should match the default in am/defaults.go for consistency
	DefaultModel = "openai/gpt-4o-mini"
)

// Client represents an OpenRouter.ai API client with ShopReel-specific functionality
type Client struct {
	apiKey       string
	baseURL      string
	httpClient   *httpclient.SaferClient
	config       Config
	usageTracker *tracker.UsageTracker
	logger       *zap.SugaredLogger
}

// Config holds AI client configuration
type Config struct {
	APIKey        string
	Model         string
	Temperature   *float64 // nil = use default (0.2)
	MaxTokens     *int     // nil = use default (1000)
	Debug         bool
	Logger        *zap.SugaredLogger // Structured logger (nil = nop logger)
	DB            *sql.DB            // Database for automatic cost/usage tracking (strongly recommended)
	Verbosity     int                // Verbosity level for usage tracking output
	OperationType string             // Operation type for tracking context (e.g., tracker.OpScriptWrite)
	EntityType    string             // Entity type for tracking context (e.g., tracker.EntityReelJob)
	EntityID      string             // Entity ID for tracking context (e.g., job ID)
}

// NewClient creates a new OpenRouter.ai client with ShopReel-specific defaults
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Temperature == nil {
		defaultTemp := 0.2
		config.Temperature = &defaultTemp
	}
	if config.MaxTokens == nil {
		defaultTokens := 1000
		config.MaxTokens = &defaultTokens
	}

	// Initialize usage tracker if database is provided
	var usageTracker *tracker.UsageTracker
	if config.DB != nil {
		usageTracker = tracker.NewUsageTracker(config.DB, config.Verbosity)
	}

	// Initialize logger (nop if not provided)
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	// Create SSRF-safer HTTP client with redirect protection
	// Blocks private IPs, localhost, AWS metadata endpoint, dangerous schemes
	blockPrivateIP := true
	saferClient := httpclient.NewSaferClientWithOptions(120*time.Second, httpclient.SaferClientOptions{
		BlockPrivateIP: &blockPrivateIP,
	})

	return &Client{
		apiKey:       config.APIKey,
		baseURL:      "https://openrouter.ai/api/v1",
		httpClient:   saferClient,
		config:       config,
		usageTracker: usageTracker,
		logger:       logger,
	}
}

// NewClientWithAPIKey creates a new OpenRouter.ai client with just an API key (for backward compatibility)
func NewClientWithAPIKey(apiKey string) *Client {
	return NewClient(Config{APIKey: apiKey})
}

// ChatCompletionRequest represents a request to the chat completions endpoint.
// Temperature is a pointer so an explicit 0 (the vision classifier runs
// deterministic) still serializes instead of being dropped by omitempty.
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// ChatRequest represents a high-level request to the AI
type ChatRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  *float64      // Override default temperature
	MaxTokens    *int          // Override default max tokens
	Model        *string       // Override default model
	Attachments  []ContentPart // Multimodal attachments (data-URI images)
	Operation    string        // Override Config.OperationType for this request's usage row
	EntityID     string        // Override Config.EntityID for this request's usage row (one client serves many jobs)
	Metadata     *string       // Optional JSON context recorded with the usage row (see tracker.NewUsageMetadata)
}

// ChatResponse represents the AI response
type ChatResponse struct {
	Content string
	Usage   Usage
}

// ContentPart represents a single part in a multimodal message content array.
// Used for text, images, and file attachments in OpenRouter's content array format.
//
// Images use type "image_url" with a data URI.
// Files (PDFs) use type "file" with filename + data URI.
type ContentPart struct {
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	ImageURL *ContentPartImage `json:"image_url,omitempty"`
	File     *ContentPartFile  `json:"file,omitempty"`
}

// ContentPartImage holds a data URI for an image attachment.
// URL is a data URI: "data:{mime};base64,{data}"
type ContentPartImage struct {
	URL string `json:"url"`
}

// ContentPartFile holds a file attachment (e.g. PDF).
// FileData is a data URI: "data:{mime};base64,{data}"
type ContentPartFile struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

// Message represents a message in a chat completion.
// Content is json.RawMessage so it can serialize as either a plain string
// (for text-only) or a []ContentPart array (for multimodal).
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// NewTextMessage creates a Message with plain text content (serialized as a JSON string).
func NewTextMessage(role, text string) Message {
	raw, _ := json.Marshal(text)
	return Message{Role: role, Content: raw}
}

// NewMultimodalMessage creates a Message with a content parts array (text + attachments).
func NewMultimodalMessage(role, text string, attachments []ContentPart) Message {
	parts := make([]ContentPart, 0, 1+len(attachments))
	parts = append(parts, ContentPart{Type: "text", Text: text})
	parts = append(parts, attachments...)
	raw, _ := json.Marshal(parts)
	return Message{Role: role, Content: raw}
}

// NewImagePart creates a ContentPart for an image attachment from raw bytes.
// The bytes are base64-encoded into a data URI as OpenRouter expects.
func NewImagePart(mimeType string, data []byte) ContentPart {
	uri := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
	return ContentPart{Type: "image_url", ImageURL: &ContentPartImage{URL: uri}}
}

// TextContent extracts the plain text from Content.
// LLM responses are always plain strings; this unmarshals back from json.RawMessage.
func (m Message) TextContent() string {
	var s string
	if err := json.Unmarshal(m.Content, &s); err != nil {
		// Fallback: return raw bytes as string (shouldn't happen for LLM responses)
		return string(m.Content)
	}
	return s
}

// ChatCompletionResponse represents the response from chat completions
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice represents a completion choice
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CreateChatCompletion sends a chat completion request to OpenRouter.
// Responses with status 429 or 5xx are marked errors.ErrServiceUnavailable
// so callers can tell transient upstream conditions from permanent ones.
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	// Set X-Title header for OpenRouter dashboard tracking
	if c.config.OperationType != "" {
		httpReq.Header.Set("X-Title", fmt.Sprintf("shopreel/%s", c.config.OperationType))
	} else {
		httpReq.Header.Set("X-Title", "shopreel")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := errors.Newf("API request failed with status %d: %s", resp.StatusCode, string(respBody))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return nil, errors.Mark(apiErr, errors.ErrServiceUnavailable)
		}
		return nil, apiErr
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}

	return &chatResp, nil
}

// Chat sends a single chat completion request with ShopReel-specific functionality.
// It does not retry: transient failures come back marked errors.ErrServiceUnavailable
// and retry policy belongs to the caller.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	// Handle API key validation
	if c.config.APIKey == "" {
		return nil, errors.New("OpenRouter API key not configured")
	}

	// Prepare request parameters (dereference config defaults, allow per-request overrides)
	temperature := *c.config.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	maxTokens := *c.config.MaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	model := c.config.Model
	if req.Model != nil {
		model = *req.Model
	}

	c.logger.Debugw("AI chat request",
		"model", model,
		"temperature", temperature,
		"max_tokens", maxTokens,
		"operation", c.operationFor(req),
		"system_prompt", util.Truncate(req.SystemPrompt, 200),
		"user_prompt", util.Truncate(req.UserPrompt, 200),
		"attachments", len(req.Attachments),
	)

	// Prepare OpenRouter request
	var userMsg Message
	if len(req.Attachments) > 0 {
		userMsg = NewMultimodalMessage("user", req.UserPrompt, req.Attachments)
	} else {
		userMsg = NewTextMessage("user", req.UserPrompt)
	}
	messages := []Message{userMsg}

	// Add system prompt if provided
	if req.SystemPrompt != "" {
		messages = append([]Message{NewTextMessage("system", req.SystemPrompt)}, messages...)
	}

	openrouterReq := ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: &temperature,
		MaxTokens:   maxTokens,
	}

	// UTC so usage rows compare cleanly against SQLite's datetime('now') in budget windows
	requestTime := time.Now().UTC()

	resp, err := c.CreateChatCompletion(ctx, openrouterReq)
	if err != nil {
		c.logger.Warnw("OpenRouter API error",
			"error", err, "model", model,
			"url", c.baseURL+"/chat/completions")
		c.trackFailedRequest(ctx, req, requestTime, model, temperature, maxTokens, err)
		if c.isTransientError(err) {
			return nil, errors.Mark(errors.Wrap(err, "OpenRouter API error"), errors.ErrServiceUnavailable)
		}
		return nil, errors.Wrap(err, "OpenRouter API error")
	}

	// Validate response before accessing
	if len(resp.Choices) == 0 {
		return nil, errors.New("no response choices from OpenRouter")
	}

	responseText := resp.Choices[0].Message.TextContent()

	c.logger.Debugw("OpenRouter response",
		"content_length", len(responseText),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"total_tokens", resp.Usage.TotalTokens,
	)

	// Track successful usage
	if c.usageTracker != nil {
		responseTime := time.Now().UTC()
		tokensUsed := resp.Usage.TotalTokens
		modelConfig := tracker.NewModelConfig(&temperature, &maxTokens)

		// Calculate cost based on model pricing
		cost := CalculateCost(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

		usage := &tracker.ModelUsage{
			OperationType:     c.operationFor(req),
			EntityType:        c.config.EntityType,
			EntityID:          c.entityIDFor(ctx, req),
			ModelName:         model,
			ModelProvider:     "openrouter",
			ModelConfig:       modelConfig,
			Metadata:          req.Metadata,
			RequestTimestamp:  requestTime,
			ResponseTimestamp: &responseTime,
			TokensUsed:        &tokensUsed,
			Cost:              &cost,
			Success:           true,
			ErrorMessage:      nil,
		}

		if err := c.usageTracker.TrackUsage(usage); err != nil {
			// Always log tracking errors (budget system relies on this data)
			c.logger.Warnw("Failed to track usage", "error", err, "model", model, "tokens", tokensUsed)
		}
	}

	return &ChatResponse{
		Content: strings.TrimSpace(responseText),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// operationFor resolves the operation type recorded for a request
func (c *Client) operationFor(req ChatRequest) string {
	if req.Operation != "" {
		return req.Operation
	}
	return c.config.OperationType
}

// entityIDFor resolves the entity ID recorded for a request: explicit
// request value, then the context-carried entity, then the client config
func (c *Client) entityIDFor(ctx context.Context, req ChatRequest) string {
	if req.EntityID != "" {
		return req.EntityID
	}
	if id, ok := tracker.EntityIDFromContext(ctx); ok {
		return id
	}
	return c.config.EntityID
}

// isTransientError checks if an error reflects a transient upstream condition
// (network failure, timeout, 429/5xx response) rather than a request that
// would fail the same way again
func (c *Client) isTransientError(err error) bool {
	if errors.Is(err, errors.ErrServiceUnavailable) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.IsAny(err, syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ETIMEDOUT) {
		return true
	}

	// Check for common network error strings
	errStr := strings.ToLower(err.Error())
	networkErrors := []string{
		"connection reset by peer",
		"connection refused",
		"timeout",
		"temporary failure",
		"network is unreachable",
		"i/o timeout",
	}

	for _, substr := range networkErrors {
		if strings.Contains(errStr, substr) {
			return true
		}
	}

	return false
}

// trackFailedRequest tracks a failed API request
func (c *Client) trackFailedRequest(ctx context.Context, req ChatRequest, requestTime time.Time, model string, temperature float64, maxTokens int, err error) {
	if c.usageTracker == nil {
		return
	}

	responseTime := time.Now().UTC()
	errMsg := err.Error()
	modelConfig := tracker.NewModelConfig(&temperature, &maxTokens)

	usage := &tracker.ModelUsage{
		OperationType:     c.operationFor(req),
		EntityType:        c.config.EntityType,
		EntityID:          c.entityIDFor(ctx, req),
		ModelName:         model,
		ModelProvider:     "openrouter",
		ModelConfig:       modelConfig,
		Metadata:          req.Metadata,
		RequestTimestamp:  requestTime,
		ResponseTimestamp: &responseTime,
		TokensUsed:        nil,
		Cost:              nil,
		Success:           false,
		ErrorMessage:      &errMsg,
	}

	if trackErr := c.usageTracker.TrackUsage(usage); trackErr != nil {
		// Always log tracking errors (budget system relies on this data)
		c.logger.Warnw("Failed to track failed request", "error", trackErr, "model", model, "original_error", err.Error())
	}
}

// IsConfigured returns true if the client has a valid API key
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != ""
}

// SetHTTPClient allows overriding the HTTP client for testing
// ⚠️ WARNING: Only use this in tests. Production code should use the default SSRF-safer client.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = httpclient.WrapClient(client)
}
