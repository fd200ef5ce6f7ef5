// Package synth wraps the hosted image-to-video service. Task creation
// and status polling are the only two operations; the poll/remediate loop
// that drives them lives in the pipeline, not here. All calls share one
// rate limiter because the vendor meters the account, not the endpoint.
package synth

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/shopreel/ai/tracker"
	"github.com/teranos/shopreel/errors"
	"github.com/teranos/shopreel/internal/httpclient"
)

const (
	// DefaultModel is the default video generation model
	DefaultModel = "pixverse-v4"

	// DefaultAspectRatio suits the short-form vertical formats the
	// reels are published to
	DefaultAspectRatio = "9:16"

	// DefaultDurationSeconds is the default clip length
	DefaultDurationSeconds = 8

	// DefaultRequestsPerSecond paces calls against the vendor quota
	DefaultRequestsPerSecond = 2

	// DefaultTimeout bounds a single API call, not a whole task
	DefaultTimeout = 60 * time.Second
)

// State is the decoded phase of a synthesis task
type State int

const (
	// StatePending covers everything between submission and a terminal
	// answer: queued, starting, rendering
	StatePending State = iota
	// StateSucceeded means the video is ready at TaskStatus.VideoURL
	StateSucceeded
	// StateFailed means the vendor gave up; TaskStatus.Reason says why
	StateFailed
)

// String returns the state name for logs
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TaskStatus is a synthesis task's status decoded at the client boundary.
// VideoURL is set only for StateSucceeded, Reason only for StateFailed.
type TaskStatus struct {
	State    State
	VideoURL string
	Reason   string
}

// Client talks to the video synthesis API
type Client struct {
	apiKey       string
	baseURL      string
	httpClient   *httpclient.SaferClient
	config       Config
	limiter      *rate.Limiter
	usageTracker *tracker.UsageTracker
	logger       *zap.SugaredLogger
}

// Config holds video synthesis client configuration
type Config struct {
	BaseURL           string
	APIKey            string
	Model             string
	AspectRatio       string
	DurationSeconds   int
	Watermark         bool
	TaskCostUSD       float64 // Flat per-task price; recorded on usage rows for budget enforcement
	RequestsPerSecond float64
	Timeout           time.Duration
	Logger            *zap.SugaredLogger
	DB                *sql.DB // Database for automatic cost/usage tracking
	Verbosity         int     // Verbosity level for usage tracking output
}

// NewClient creates a new video synthesis client
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.AspectRatio == "" {
		config.AspectRatio = DefaultAspectRatio
	}
	if config.DurationSeconds == 0 {
		config.DurationSeconds = DefaultDurationSeconds
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = DefaultRequestsPerSecond
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
		limiter:      rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
		usageTracker: usageTracker,
		logger:       logger,
	}
}

// createTaskRequest represents a request to the tasks endpoint
type createTaskRequest struct {
	Model       string `json:"model"`
	Prompt      string `json:"prompt"`
	ImageURL    string `json:"image_url"`
	AspectRatio string `json:"aspect_ratio"`
	Duration    int    `json:"duration"`
	Watermark   bool   `json:"watermark"`
}

// createTaskResponse represents the response from task creation
type createTaskResponse struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error,omitempty"`
}

// taskStatusResponse represents the raw status returned by the vendor
type taskStatusResponse struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	VideoURL string `json:"video_url,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// CreateTask submits one async generation request and returns the vendor
// task id. Output configuration (aspect ratio, duration, watermark) is
// fixed from config, not per call. Each accepted task writes a usage row
// carrying the flat task cost; budget windows are computed from these
// rows. The call is one-shot: transient vendor failures come back marked
// errors.ErrServiceUnavailable for the caller to classify.
func (c *Client) CreateTask(ctx context.Context, prompt, imageURL string) (string, error) {
	if !c.IsConfigured() {
		return "", errors.New("synthesis service not configured")
	}
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("prompt is required")
	}
	if imageURL == "" {
		return "", errors.New("image URL is required")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", errors.Wrap(err, "rate limit wait interrupted")
	}

	// UTC so usage rows compare cleanly against SQLite's datetime('now')
	// in budget windows
	requestTime := time.Now().UTC()

	body, err := c.doRequest(ctx, "POST", "/v1/tasks", createTaskRequest{
		Model:       c.config.Model,
		Prompt:      prompt,
		ImageURL:    imageURL,
		AspectRatio: c.config.AspectRatio,
		Duration:    c.config.DurationSeconds,
		Watermark:   c.config.Watermark,
	})
	if err != nil {
		c.logger.Warnw("Synthesis task creation failed",
			"error", err,
			"model", c.config.Model)
		c.trackFailedCreate(ctx, requestTime, len(prompt), err)
		if c.isTransientError(err) {
			return "", errors.Mark(errors.Wrap(err, "task creation failed"), errors.ErrServiceUnavailable)
		}
		return "", errors.Wrap(err, "task creation failed")
	}

	var created createTaskResponse
	if err := json.Unmarshal(body, &created); err != nil {
		return "", errors.Wrap(err, "failed to unmarshal response")
	}
	if created.Error != "" {
		return "", errors.Newf("service rejected the task: %s", created.Error)
	}
	if created.TaskID == "" {
		return "", errors.New("service returned no task id")
	}

	// Track usage with the flat task cost
	if c.usageTracker != nil {
		responseTime := time.Now().UTC()
		cost := c.config.TaskCostUSD
		promptLen := len(prompt)
		entityID, _ := tracker.EntityIDFromContext(ctx)

		usage := &tracker.ModelUsage{
			OperationType:     tracker.OpSynthCreateTask,
			EntityType:        tracker.EntityReelJob,
			EntityID:          entityID,
			ModelName:         c.config.Model,
			ModelProvider:     "synth",
			RequestTimestamp:  requestTime,
			ResponseTimestamp: &responseTime,
			Cost:              &cost,
			Success:           true,
			Metadata: tracker.NewUsageMetadata(tracker.UsageMetadata{
				OperationDetail: created.TaskID,
				InputLength:     &promptLen,
			}),
		}

		if err := c.usageTracker.TrackUsage(usage); err != nil {
			c.logger.Warnw("Failed to track synthesis usage", "error", err)
		}
	}

	c.logger.Infow("Synthesis task created",
		"task_id", created.TaskID,
		"model", c.config.Model,
		"duration", c.config.DurationSeconds,
		"aspect_ratio", c.config.AspectRatio)

	return created.TaskID, nil
}

// GetTask polls one task and decodes the vendor status into a TaskStatus.
// Polling is free, so no usage row is written. Transient vendor failures
// come back marked errors.ErrServiceUnavailable.
func (c *Client) GetTask(ctx context.Context, taskID string) (TaskStatus, error) {
	if !c.IsConfigured() {
		return TaskStatus{}, errors.New("synthesis service not configured")
	}
	if taskID == "" {
		return TaskStatus{}, errors.New("task id is required")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return TaskStatus{}, errors.Wrap(err, "rate limit wait interrupted")
	}

	body, err := c.doRequest(ctx, "GET", "/v1/tasks/"+taskID, nil)
	if err != nil {
		if c.isTransientError(err) {
			return TaskStatus{}, errors.Mark(errors.Wrapf(err, "task %s status check failed", taskID), errors.ErrServiceUnavailable)
		}
		return TaskStatus{}, errors.Wrapf(err, "task %s status check failed", taskID)
	}

	var status taskStatusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return TaskStatus{}, errors.Wrap(err, "failed to unmarshal response")
	}

	return decodeStatus(&status)
}

// decodeStatus maps vendor status strings onto the three states the
// pipeline acts on. Unknown strings are an error, not a silent pending:
// treating them as pending would burn poll attempts against a task the
// vendor may never move again.
func decodeStatus(resp *taskStatusResponse) (TaskStatus, error) {
	switch strings.ToLower(resp.Status) {
	case "pending", "queued", "processing":
		return TaskStatus{State: StatePending}, nil
	case "succeeded", "completed":
		if resp.VideoURL == "" {
			return TaskStatus{}, errors.Newf("task %s succeeded without a video URL", resp.TaskID)
		}
		return TaskStatus{State: StateSucceeded, VideoURL: resp.VideoURL}, nil
	case "failed":
		reason := resp.Reason
		if reason == "" {
			reason = "task failed without a stated reason"
		}
		return TaskStatus{State: StateFailed, Reason: reason}, nil
	default:
		return TaskStatus{}, errors.Newf("unknown task status %q", resp.Status)
	}
}

// doRequest sends one API request and returns the raw response body.
// Throttling and server-side failures come back marked transient.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal request")
		}
		reqBody = bytes.NewBuffer(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
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
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return nil, errors.Mark(apiErr, errors.ErrServiceUnavailable)
		}
		return nil, apiErr
	}

	return respBody, nil
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

// trackFailedCreate tracks a failed task creation. No cost is recorded;
// the vendor only bills accepted tasks.
func (c *Client) trackFailedCreate(ctx context.Context, requestTime time.Time, promptLen int, err error) {
	if c.usageTracker == nil {
		return
	}

	errorMsg := err.Error()
	entityID, _ := tracker.EntityIDFromContext(ctx)

	usage := &tracker.ModelUsage{
		OperationType:    tracker.OpSynthCreateTask,
		EntityType:       tracker.EntityReelJob,
		EntityID:         entityID,
		ModelName:        c.config.Model,
		ModelProvider:    "synth",
		RequestTimestamp: requestTime,
		Success:          false,
		ErrorMessage:     &errorMsg,
		Metadata: tracker.NewUsageMetadata(tracker.UsageMetadata{
			InputLength: &promptLen,
		}),
	}

	if trackErr := c.usageTracker.TrackUsage(usage); trackErr != nil {
		c.logger.Warnw("Failed to track synthesis usage", "error", trackErr)
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
