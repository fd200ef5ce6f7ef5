// Package vision answers one question about a product photo: does it show a
// person? The pipeline branches on the verdict, routing images with people
// through the edit stage before any video is synthesized.
package vision

import (
	"context"
	"net/http"
	"strings"

	"github.com/teranos/shopreel/ai/openrouter"
	"github.com/teranos/shopreel/ai/tracker"
	"github.com/teranos/shopreel/errors"
)

const detectSystemPrompt = `You are a strict image classifier for an e-commerce video pipeline. ` +
	`Decide whether the photo contains a real human subject. Answer YES if you see any of: ` +
	`a visible face, a visible hand, any other visible body part, or a product being worn or held by a person. ` +
	`Answer NO for mannequins, stylized or illustrated figures, and product-only shots. ` +
	`When genuinely unsure, answer YES. Reply with exactly one word: YES or NO.`

const detectUserPrompt = `Does this product photo contain a real human subject?`

// ChatClient is the slice of the LLM client the classifier needs.
type ChatClient interface {
	Chat(ctx context.Context, req openrouter.ChatRequest) (*openrouter.ChatResponse, error)
}

// Classifier detects human subjects in product images via a multimodal model.
type Classifier struct {
	client ChatClient
	model  string
}

// NewClassifier creates a subject classifier. An empty model defers to the
// client's configured default.
func NewClassifier(client ChatClient, model string) *Classifier {
	return &Classifier{client: client, model: model}
}

// DetectSubject reports whether the image contains a real human subject.
// The policy is deliberately inclusive: a face, a hand, any body part, or a
// worn or held product all count, and the model is told to answer YES when
// unsure. The call has no side effects on the image or the job record.
func (c *Classifier) DetectSubject(ctx context.Context, imageBytes []byte) (bool, error) {
	if len(imageBytes) == 0 {
		return false, errors.New("empty image")
	}

	mimeType := http.DetectContentType(imageBytes)
	if !strings.HasPrefix(mimeType, "image/") {
		return false, errors.Newf("source is not an image (detected %s)", mimeType)
	}

	// Deterministic single-token verdict
	temperature := 0.0
	maxTokens := 3

	req := openrouter.ChatRequest{
		SystemPrompt: detectSystemPrompt,
		UserPrompt:   detectUserPrompt,
		Temperature:  &temperature,
		MaxTokens:    &maxTokens,
		Attachments:  []openrouter.ContentPart{openrouter.NewImagePart(mimeType, imageBytes)},
		Operation:    tracker.OpVisionClassify,
	}
	if c.model != "" {
		req.Model = &c.model
	}

	resp, err := c.client.Chat(ctx, req)
	if err != nil {
		return false, errors.Wrap(err, "subject detection failed")
	}

	return parseVerdict(resp.Content)
}

// parseVerdict maps the model's one-word answer onto a boolean. Anything
// other than YES or NO (after trimming trailing punctuation) is an error;
// guessing from a malformed verdict would corrupt the edit/optimize branch.
func parseVerdict(content string) (bool, error) {
	verdict := strings.ToUpper(strings.TrimRight(strings.TrimSpace(content), ".!"))
	switch verdict {
	case "YES":
		return true, nil
	case "NO":
		return false, nil
	}
	return false, errors.Newf("unexpected subject verdict %q (want YES or NO)", content)
}
