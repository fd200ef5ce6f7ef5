package pipeline

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/shopreel/errors"
	"github.com/teranos/shopreel/internal/httpclient"
	"github.com/teranos/shopreel/pipeline/budget"
)

const (
	// MaxSourceImageBytes caps how much of a source image is downloaded.
	// Listing photos above this are rejected rather than truncated.
	MaxSourceImageBytes = 20 << 20 // 20 MiB

	// DefaultFetchTimeout bounds a single source image download
	DefaultFetchTimeout = 30 * time.Second

	// DefaultFetchRequestsPerMinute paces downloads across all workers
	DefaultFetchRequestsPerMinute = 30
)

// ImageFetcher downloads source images. The HTTP client refuses
// private-network targets, so a crafted source_image_url cannot reach
// internal services, and a shared per-minute limiter keeps a burst of
// jobs from hammering a shop's image host.
type ImageFetcher struct {
	httpClient *httpclient.SaferClient
	limiter    *budget.Limiter
	logger     *zap.SugaredLogger
}

// NewImageFetcher creates a fetcher. Zero values fall back to the
// package defaults.
func NewImageFetcher(maxRequestsPerMinute int, timeout time.Duration, logger *zap.SugaredLogger) *ImageFetcher {
	if maxRequestsPerMinute <= 0 {
		maxRequestsPerMinute = DefaultFetchRequestsPerMinute
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	blockPrivateIP := true
	return &ImageFetcher{
		httpClient: httpclient.NewSaferClientWithOptions(timeout, httpclient.SaferClientOptions{
			BlockPrivateIP: &blockPrivateIP,
		}),
		limiter: budget.NewLimiter(maxRequestsPerMinute),
		logger:  logger,
	}
}

// Fetch downloads the image at imageURL, enforcing the rate limit, the
// size cap, and a sniffed image content check.
func (f *ImageFetcher) Fetch(ctx context.Context, imageURL string) ([]byte, error) {
	if strings.TrimSpace(imageURL) == "" {
		return nil, errors.Mark(errors.New("source image URL is required"), ErrValidation)
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "image fetch rate limit wait interrupted")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "invalid source image URL"), ErrValidation)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to fetch source image"), ErrTransientExternal)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Mark(errors.Newf("source image fetch returned HTTP %d", resp.StatusCode), ErrTransientExternal)
	}

	// Read one byte past the cap so oversized bodies are detected
	// without downloading them whole.
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxSourceImageBytes+1))
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to read source image"), ErrTransientExternal)
	}
	if len(data) > MaxSourceImageBytes {
		return nil, errors.Mark(errors.Newf("source image exceeds the %d MiB limit", MaxSourceImageBytes>>20), ErrValidation)
	}
	if len(data) == 0 {
		return nil, errors.Mark(errors.New("source image is empty"), ErrValidation)
	}

	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return nil, errors.Mark(errors.Newf("source URL returned %s, not an image", contentType), ErrValidation)
	}

	f.logger.Debugw("Fetched source image",
		"url", imageURL,
		"bytes", len(data),
		"content_type", contentType)
	return data, nil
}

// SetHTTPClient allows overriding the HTTP client for testing
// ⚠️ WARNING: Only use this in tests. Production code should use the default SSRF-safer client.
func (f *ImageFetcher) SetHTTPClient(client *http.Client) {
	f.httpClient = httpclient.WrapClient(client)
}
