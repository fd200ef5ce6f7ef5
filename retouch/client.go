// Package retouch wraps the hosted image-edit service that prepares a
// product photo for video synthesis. It runs in one of two modes: edit
// removes every human element from the photo, optimize re-encodes it
// without changing content. The orchestrator picks the mode from the
// vision classifier's verdict.
package retouch

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
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
)

const (
	// DefaultModel is the default image-edit model
	DefaultModel = "flux-kontext-pro"

	// DefaultTimeout bounds a single edit request. Edits are slow;
	// the service holds the connection until the result is ready.
	DefaultTimeout = 120 * time.Second
)

// Mode selects which transformation the service performs.
type Mode string

const (
	// ModeEdit removes all human elements while preserving product detail.
	ModeEdit Mode = "edit"
	// ModeOptimize re-encodes for synthesis without changing content.
	ModeOptimize Mode = "optimize"
)

const editInstruction = `Remove every human element from this product photo: people, faces, hands, limbs, and their reflections. Preserve the product's detail, color, and lighting exactly. Keep the background, or fill it cleanly where a person occluded it.`

const optimizeInstruction = `Re-encode this product photo for video synthesis. Correct exposure and sharpen lightly. Do not add, remove, or move any content.`

// Client talks to the image-edit API
type Client struct {
	apiKey       string
	baseURL      string
	httpClient   *httpclient.SaferClient
	config       Config
	usageTracker *tracker.UsageTracker
	logger       *zap.SugaredLogger
}

// Config holds image-edit client configuration
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	Timeout   time.Duration
	Logger    *zap.SugaredLogger
	DB        *sql.DB // Database for automatic usage tracking
	Verbosity int     // Verbosity level for usage tracking output
}

// NewClient creates a new image-edit client
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}

	// Initialize usage tracker if database is provided
	var usageTracker *tracker.UsageTracker
	if config.DB != nil {
		usageTracker = tracker.NewUsageTracker(config.DB, config.Verbosity)
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	// Create SSRF-safer HTTP client
	blockPrivateIP := true
	saferClient := httpclient.NewSaferClientWithOptions(config.Timeout, httpclient.SaferClientOptions{
		BlockPrivateIP: &blockPrivateIP,
	})

	return &Client{
		apiKey:       config.APIKey,
		baseURL:      strings.TrimRight(config.BaseURL, "/"),
		httpClient:   saferClient,
		config:       config,
		usageTracker: usageTracker,
		logger:       logger,
	}
}

// editRequest represents a request to the edits endpoint
type editRequest struct {
	Model       string `json:"model"`
	Instruction string `json:"instruction"`
	Image       string `json:"image"` // base64-encoded source
	MimeType    string `json:"mime_type"`
}

// editResponse represents the response from the edits endpoint
type editResponse struct {
	Image string `json:"image"` // base64-encoded result
	Error string `json:"error,omitempty"`
}

// Transform sends the photo through the service in the given mode and
// returns the resulting image bytes. The call is one-shot: retouching is
// not retried, so transient upstream failures are marked
// errors.ErrServiceUnavailable and surfaced to the caller to classify.
func (c *Client) Transform(ctx context.Context, imageBytes []byte, mode Mode) ([]byte, error) {
	if !c.IsConfigured() {
		return nil, errors.New("retouch service not configured")
	}
	if len(imageBytes) == 0 {
		return nil, errors.New("empty image")
	}

	mimeType := http.DetectContentType(imageBytes)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, errors.Newf("source is not an image (detected %s)", mimeType)
	}

	instruction, err := instructionFor(mode)
	if err != nil {
		return nil, err
	}

	// UTC so usage rows compare cleanly against SQLite's datetime('now')
	// in budget windows
	requestTime := time.Now().UTC()

	resp, err := c.createEdit(ctx, editRequest{
		Model:       c.config.Model,
		Instruction: instruction,
		Image:       base64.StdEncoding.EncodeToString(imageBytes),
		MimeType:    mimeType,
	})
	if err != nil {
		c.logger.Warnw("Retouch request failed",
			"error", err,
			"mode", mode,
			"model", c.config.Model)
		c.trackFailedRequest(ctx, requestTime, mode, len(imageBytes), err)
		if c.isTransientError(err) {
			return nil, errors.Mark(errors.Wrapf(err, "image %s failed", mode), errors.ErrServiceUnavailable)
		}
		return nil, errors.Wrapf(err, "image %s failed", mode)
	}

	result, err := base64.StdEncoding.DecodeString(resp.Image)
	if err != nil {
		return nil, errors.Wrap(err, "service returned undecodable image data")
	}
	if len(result) == 0 {
		return nil, errors.New("service returned an empty image")
	}

	// Track usage
	if c.usageTracker != nil {
		responseTime := time.Now().UTC()
		inLen := len(imageBytes)
		outLen := len(result)
		entityID, _ := tracker.EntityIDFromContext(ctx)

		usage := &tracker.ModelUsage{
			OperationType:     tracker.OpImageTransform,
			EntityType:        tracker.EntityReelJob,
			EntityID:          entityID,
			ModelName:         c.config.Model,
			ModelProvider:     "retouch",
			RequestTimestamp:  requestTime,
			ResponseTimestamp: &responseTime,
			Success:           true,
			Metadata: tracker.NewUsageMetadata(tracker.UsageMetadata{
				OperationDetail: string(mode),
				InputLength:     &inLen,
				OutputLength:    &outLen,
			}),
		}

		if err := c.usageTracker.TrackUsage(usage); err != nil {
			c.logger.Warnw("Failed to track retouch usage", "error", err)
		}
	}

	return result, nil
}

// createEdit sends a request to the edits endpoint
func (c *Client) createEdit(ctx context.Context, req editRequest) (*editResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/edits", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)

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
		// Throttling and server-side failures are transient; the caller
		// decides whether the job can survive them
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return nil, errors.Mark(apiErr, errors.ErrServiceUnavailable)
		}
		return nil, apiErr
	}

	var editResp editResponse
	if err := json.Unmarshal(respBody, &editResp); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}

	if editResp.Error != "" {
		return nil, errors.Newf("service rejected the edit: %s", editResp.Error)
	}

	return &editResp, nil
}

// instructionFor maps a transform mode to its service instruction
func instructionFor(mode Mode) (string, error) {
	switch mode {
	case ModeEdit:
		return editInstruction, nil
	case ModeOptimize:
		return optimizeInstruction, nil
	default:
		return "", errors.Newf("unknown transform mode %q", mode)
	}
}

// isTransientError reports whether the error came from load or network
// conditions rather than the request itself
func (c *Client) isTransientError(err error) bool {
	if err == nil {
		return false
	}

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

	errStr := strings.ToLower(err.Error())
	transientSubstrings := []string{
		"connection reset by peer",
		"connection refused",
		"timeout",
		"temporary failure",
		"network is unreachable",
		"i/o timeout",
	}
	for _, substr := range transientSubstrings {
		if strings.Contains(errStr, substr) {
			return true
		}
	}

	return false
}

// trackFailedRequest tracks a failed edit request
func (c *Client) trackFailedRequest(ctx context.Context, requestTime time.Time, mode Mode, inputLen int, err error) {
	if c.usageTracker == nil {
		return
	}

	errorMsg := err.Error()
	entityID, _ := tracker.EntityIDFromContext(ctx)

	usage := &tracker.ModelUsage{
		OperationType:    tracker.OpImageTransform,
		EntityType:       tracker.EntityReelJob,
		EntityID:         entityID,
		ModelName:        c.config.Model,
		ModelProvider:    "retouch",
		RequestTimestamp: requestTime,
		Success:          false,
		ErrorMessage:     &errorMsg,
		Metadata: tracker.NewUsageMetadata(tracker.UsageMetadata{
			OperationDetail: string(mode),
			InputLength:     &inputLen,
		}),
	}

	if trackErr := c.usageTracker.TrackUsage(usage); trackErr != nil {
		c.logger.Warnw("Failed to track retouch usage", "error", trackErr)
	}
}

// IsConfigured returns true when both the endpoint and the API key are set
func (c *Client) IsConfigured() bool {
	return c.apiKey != "" && c.baseURL != ""
}

// SetHTTPClient allows overriding the HTTP client for testing
// ⚠️ WARNING: Only use this in tests. Production code should use the default SSRF-safer client.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = httpclient.WrapClient(client)
}
