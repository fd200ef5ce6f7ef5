package pipeline

import (
	"context"

	"github.com/teranos/shopreel/assets"
	"github.com/teranos/shopreel/retouch"
	"github.com/teranos/shopreel/script"
	"github.com/teranos/shopreel/synth"
	"github.com/teranos/shopreel/vision"
)

// Collaborator contracts the orchestrator consumes. Each stage depends
// on exactly one of these, so tests swap in doubles without touching
// the vendor clients.

// SourceFetcher downloads the listing's source image.
type SourceFetcher interface {
	Fetch(ctx context.Context, imageURL string) ([]byte, error)
}

// SubjectClassifier decides whether a product image shows a human
// subject (face, hand, body part, or worn/held product on a person).
type SubjectClassifier interface {
	DetectSubject(ctx context.Context, imageBytes []byte) (bool, error)
}

// ImageTransformer rewrites a product photo: ModeEdit removes human
// elements, ModeOptimize re-encodes without content changes.
type ImageTransformer interface {
	Transform(ctx context.Context, imageBytes []byte, mode retouch.Mode) ([]byte, error)
}

// AssetPublisher stores a produced artifact and returns its public URL.
type AssetPublisher interface {
	Publish(ctx context.Context, data []byte, key string) (string, error)
}

// ScriptWriter produces the video-generation prompt from listing
// metadata, and rewrites a rejected prompt during remediation.
type ScriptWriter interface {
	Write(ctx context.Context, req script.Request) (string, error)
	Sanitize(ctx context.Context, originalPrompt, violationReason string) (string, error)
}

// VideoSynthesizer submits asynchronous video-generation tasks and
// reports their status.
type VideoSynthesizer interface {
	CreateTask(ctx context.Context, prompt, imageURL string) (string, error)
	GetTask(ctx context.Context, taskID string) (synth.TaskStatus, error)
}

// The concrete clients satisfy the stage contracts.
var (
	_ SourceFetcher     = (*ImageFetcher)(nil)
	_ SubjectClassifier = (*vision.Classifier)(nil)
	_ ImageTransformer  = (*retouch.Client)(nil)
	_ AssetPublisher    = (*assets.Publisher)(nil)
	_ ScriptWriter      = (*script.Writer)(nil)
	_ VideoSynthesizer  = (*synth.Client)(nil)
)
