// Package script turns a product listing into the prose prompt a
// text-to-video model animates. It has a second mode, Sanitize, that
// rewrites a prompt the synthesizer rejected for content policy so the
// job can resubmit instead of failing.
package script

import (
	"context"
	"fmt"
	"strings"

	"github.com/teranos/shopreel/ai/openrouter"
	"github.com/teranos/shopreel/ai/tracker"
	"github.com/teranos/shopreel/errors"
)

const writeSystemPrompt = `You are a short-form video copywriter for e-commerce.
Write a single prose paragraph describing a 10-15 second marketing video for the product you are given.
The paragraph must contain three things: a described presenter, a camera framing direction, and the presenter's spoken lines. The spoken lines must mention the product by name.
No markup, no scene lists, no headings. Output the paragraph and nothing else.`

const sanitizeSystemPrompt = `You rewrite video-generation prompts that were rejected for content policy violations.
Remove brand names, character names, celebrity likenesses, and any other protected references from the prompt.
Keep the staging, camera directions, and technical instructions unchanged.
Output only the rewritten prompt.`

// ChatClient is the completion surface the writer needs. Both modes ride
// the same client and differ only in the prompt template.
type ChatClient interface {
	Chat(ctx context.Context, req openrouter.ChatRequest) (*openrouter.ChatResponse, error)
}

// Request carries the listing fields the writer works from. Title is
// required; the rest are optional and omitted from the prompt when empty.
type Request struct {
	Title       string
	Description string
	Tags        []string
	ImageURL    string
}

// Writer produces and repairs video narration prompts.
type Writer struct {
	client    ChatClient
	model     string
	maxTokens *int
}

// NewWriter creates a Writer. An empty model defers to the client's
// configured default; a nil maxTokens does the same.
func NewWriter(client ChatClient, model string, maxTokens *int) *Writer {
	return &Writer{client: client, model: model, maxTokens: maxTokens}
}

// Write produces the narration paragraph for a listing. It has no side
// effects and is not retried; a failure here is fatal to the job.
func (w *Writer) Write(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Title) == "" {
		return "", errors.New("product title is required")
	}

	userPrompt := buildWritePrompt(req)
	inputLen := len(userPrompt)

	resp, err := w.client.Chat(ctx, openrouter.ChatRequest{
		SystemPrompt: writeSystemPrompt,
		UserPrompt:   userPrompt,
		MaxTokens:    w.maxTokens,
		Model:        w.modelOverride(),
		Operation:    tracker.OpScriptWrite,
		Metadata: tracker.NewUsageMetadata(tracker.UsageMetadata{
			OperationDetail: req.Title,
			InputLength:     &inputLen,
		}),
	})
	if err != nil {
		return "", errors.Wrap(err, "script writing failed")
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", errors.New("model returned an empty script")
	}
	return text, nil
}

// Sanitize rewrites a rejected prompt using the synthesizer's stated
// reason. Called only from the remediation loop, at most once per round.
func (w *Writer) Sanitize(ctx context.Context, originalPrompt, violationReason string) (string, error) {
	if strings.TrimSpace(originalPrompt) == "" {
		return "", errors.New("original prompt is required")
	}

	inputLen := len(originalPrompt)

	resp, err := w.client.Chat(ctx, openrouter.ChatRequest{
		SystemPrompt: sanitizeSystemPrompt,
		UserPrompt:   buildSanitizePrompt(originalPrompt, violationReason),
		MaxTokens:    w.maxTokens,
		Model:        w.modelOverride(),
		Operation:    tracker.OpScriptSanitize,
		Metadata: tracker.NewUsageMetadata(tracker.UsageMetadata{
			OperationDetail: violationReason,
			InputLength:     &inputLen,
		}),
	})
	if err != nil {
		return "", errors.Wrap(err, "script sanitization failed")
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", errors.New("model returned an empty sanitized script")
	}
	return text, nil
}

func (w *Writer) modelOverride() *string {
	if w.model == "" {
		return nil
	}
	return &w.model
}

// buildWritePrompt lays the listing out as labeled lines so the model can
// tell fields apart regardless of their content.
func buildWritePrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Product: %s\n", req.Title)
	if req.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", req.Description)
	}
	if len(req.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(req.Tags, ", "))
	}
	if req.ImageURL != "" {
		fmt.Fprintf(&b, "Image: %s\n", req.ImageURL)
	}
	b.WriteString("\nWrite the video paragraph now.")
	return b.String()
}

func buildSanitizePrompt(originalPrompt, violationReason string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rejection reason: %s\n\n", violationReason)
	fmt.Fprintf(&b, "Rejected prompt:\n%s\n\n", originalPrompt)
	b.WriteString("Rewrite it now.")
	return b.String()
}
