package pipeline

import (
	"github.com/teranos/shopreel/errors"
)

// Failure taxonomy for reel jobs. Stage errors are marked with exactly
// one of these sentinels on their way up to the orchestrator, which
// decides between remediation and terminal failure with errors.Is alone.
var (
	// ErrValidation flags missing or malformed input, detected before
	// any external call is made.
	ErrValidation = errors.New("invalid input")

	// ErrTransientExternal flags a failed external call outside the
	// video stage. Stages are never re-entered, so the job still fails.
	ErrTransientExternal = errors.New("transient external service error")

	// ErrContentPolicy flags a synthesis rejection whose reason matches
	// the policy keyword set. Remediable while retry_count is under the
	// configured bound.
	ErrContentPolicy = errors.New("content policy violation")

	// ErrSynthesisTimeout flags a poll budget spent without the task
	// reaching a terminal state.
	ErrSynthesisTimeout = errors.New("video synthesis timed out")

	// ErrUnrecoverableService flags a video-stage failure that cannot
	// be remediated: a non-policy rejection, or a policy rejection
	// after the remediation bound is spent.
	ErrUnrecoverableService = errors.New("unrecoverable synthesis failure")
)
