package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/shopreel/ai/tracker"
	"github.com/teranos/shopreel/assets"
	"github.com/teranos/shopreel/errors"
	"github.com/teranos/shopreel/retouch"
	"github.com/teranos/shopreel/script"
	"github.com/teranos/shopreel/synth"
)

const (
	// DefaultMaxPollAttempts bounds how many times one synthesis task
	// is polled before the job times out
	DefaultMaxPollAttempts = 30

	// DefaultPollInterval is the fixed wait between status polls
	DefaultPollInterval = 10 * time.Second

	// DefaultMaxRemediationRounds bounds sanitize-and-resubmit cycles
	// per job
	DefaultMaxRemediationRounds = 2
)

// OrchestratorConfig tunes the synthesis polling and remediation loop.
type OrchestratorConfig struct {
	MaxPollAttempts      int
	PollInterval         time.Duration
	MaxRemediationRounds int
}

// DefaultOrchestratorConfig returns the bounds used when the config
// file leaves them unset.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxPollAttempts:      DefaultMaxPollAttempts,
		PollInterval:         DefaultPollInterval,
		MaxRemediationRounds: DefaultMaxRemediationRounds,
	}
}

// Collaborators bundles the stage clients the orchestrator drives.
type Collaborators struct {
	Fetcher     SourceFetcher
	Classifier  SubjectClassifier
	Transformer ImageTransformer
	Publisher   AssetPublisher
	Writer      ScriptWriter
	Synthesizer VideoSynthesizer
}

// Orchestrator drives one reel job through its stages: fetch and
// classify the source image, edit or optimize it, write the video
// script, then create and watch the synthesis task. Each stage result
// is persisted together with the status it unlocks, so the record never
// shows a status without that stage's data.
type Orchestrator struct {
	queue       *Queue
	fetcher     SourceFetcher
	classifier  SubjectClassifier
	transformer ImageTransformer
	publisher   AssetPublisher
	writer      ScriptWriter
	synthesizer VideoSynthesizer
	config      OrchestratorConfig
	logger      *zap.SugaredLogger
}

// NewOrchestrator creates an orchestrator. Zero config values fall back
// to the package defaults.
func NewOrchestrator(queue *Queue, collab Collaborators, config OrchestratorConfig, logger *zap.SugaredLogger) *Orchestrator {
	if config.MaxPollAttempts <= 0 {
		config.MaxPollAttempts = DefaultMaxPollAttempts
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.MaxRemediationRounds < 0 {
		config.MaxRemediationRounds = DefaultMaxRemediationRounds
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Orchestrator{
		queue:       queue,
		fetcher:     collab.Fetcher,
		classifier:  collab.Classifier,
		transformer: collab.Transformer,
		publisher:   collab.Publisher,
		writer:      collab.Writer,
		synthesizer: collab.Synthesizer,
		config:      config,
		logger:      logger,
	}
}

// Run drives the job with the given id from pending to a terminal
// status and returns the final video URL. The claim out of pending is
// atomic, so a concurrent Run for the same id gets ErrConflict without
// touching the record. Any stage error is persisted once as failed +
// error_message and returned.
func (o *Orchestrator) Run(ctx context.Context, jobID string) (string, error) {
	job, err := o.queue.Claim(jobID)
	if err != nil {
		return "", err
	}

	// Usage rows written by the stage clients attribute to this job.
	ctx = tracker.WithEntityID(ctx, job.ID)

	log := o.logger.With("job_id", job.ID, "listing_id", job.ListingID)
	log.Infow("Reel job claimed", "title", job.ProductTitle)

	videoURL, err := o.generate(ctx, job, log)
	if err != nil {
		log.Warnw("Reel job failed", "status", job.Status, "error", err)
		job.Fail(err)
		if updateErr := o.queue.UpdateJob(job); updateErr != nil {
			log.Errorw("Failed to persist job failure", "error", updateErr)
		}
		return "", err
	}

	log.Infow("Reel job completed",
		"video_url", videoURL,
		"retry_count", job.RetryCount,
		"duration", job.Duration().String())
	return videoURL, nil
}

// generate walks the job through the stages up to and including the
// synthesis loop. It returns the final video URL or the error that
// should become the job's error_message.
func (o *Orchestrator) generate(ctx context.Context, job *Job, log *zap.SugaredLogger) (string, error) {
	// Analyze: fetch the source image and classify it.
	imageBytes, err := o.fetcher.Fetch(ctx, job.SourceImageURL)
	if err != nil {
		return "", err
	}

	subjectDetected, err := o.classifier.DetectSubject(ctx, imageBytes)
	if err != nil {
		return "", errors.Mark(err, ErrTransientExternal)
	}

	job.EnterImageStage(subjectDetected)
	if err := o.queue.UpdateJob(job); err != nil {
		return "", err
	}
	log.Infow("Subject analysis complete", "subject_detected", subjectDetected, "status", job.Status)

	// Transform: remove the subject or just re-encode, then publish.
	mode := retouch.ModeOptimize
	if subjectDetected {
		mode = retouch.ModeEdit
	}
	transformed, err := o.transformer.Transform(ctx, imageBytes, mode)
	if err != nil {
		return "", errors.Mark(err, ErrTransientExternal)
	}

	key := assets.ObjectKey(job.ID, "processed", imageExtension(transformed))
	processedURL, err := o.publisher.Publish(ctx, transformed, key)
	if err != nil {
		return "", errors.Mark(err, ErrTransientExternal)
	}

	job.EnterScriptStage(processedURL, subjectDetected)
	if err := o.queue.UpdateJob(job); err != nil {
		return "", err
	}
	log.Infow("Image stage complete", "mode", string(mode), "processed_image_url", processedURL)

	// Script: turn the listing into the synthesis prompt.
	scriptText, err := o.writer.Write(ctx, script.Request{
		Title:       job.ProductTitle,
		Description: job.ProductDescription,
		Tags:        job.ProductTags,
		ImageURL:    processedURL,
	})
	if err != nil {
		return "", errors.Mark(err, ErrTransientExternal)
	}

	job.EnterSynthesisStage(scriptText)
	if err := o.queue.UpdateJob(job); err != nil {
		return "", err
	}
	log.Infow("Script written", "script_length", len(scriptText))

	return o.synthesize(ctx, job, log)
}

// synthesize runs the create/poll/remediate loop. Loop state is exactly
// the current prompt, the task id, the poll attempt, and the persisted
// retry_count; a remediation round restarts the loop with a fresh task
// and a rewritten prompt, never the whole pipeline.
func (o *Orchestrator) synthesize(ctx context.Context, job *Job, log *zap.SugaredLogger) (string, error) {
	prompt := job.VideoScript

	for {
		taskID, err := o.synthesizer.CreateTask(ctx, prompt, job.ProcessedImageURL)
		if err != nil {
			// Nothing was submitted, so there is nothing to poll or
			// remediate.
			return "", errors.Mark(err, ErrUnrecoverableService)
		}

		job.RecordTask(taskID)
		if err := o.queue.UpdateJob(job); err != nil {
			return "", err
		}
		log.Infow("Video task created", "task_id", taskID, "retry_count", job.RetryCount)

		status, err := o.poll(ctx, taskID, log)
		if err != nil {
			return "", err
		}

		if status.State == synth.StateSucceeded {
			thumbnailURL := deriveThumbnailURL(status.VideoURL)
			job.Complete(status.VideoURL, thumbnailURL)
			if err := o.queue.UpdateJob(job); err != nil {
				return "", err
			}
			return status.VideoURL, nil
		}

		failure := classifyFailure(status.Reason)
		if !errors.Is(failure, ErrContentPolicy) {
			return "", failure
		}
		if job.RetryCount >= o.config.MaxRemediationRounds {
			return "", errors.Mark(
				errors.Wrapf(failure, "remediation bound exhausted after %d rounds", job.RetryCount),
				ErrUnrecoverableService)
		}

		log.Warnw("Content policy violation, sanitizing script",
			"task_id", taskID,
			"reason", status.Reason,
			"round", job.RetryCount+1)

		sanitized, err := o.writer.Sanitize(ctx, prompt, status.Reason)
		if err != nil {
			return "", errors.Mark(err, ErrTransientExternal)
		}

		job.RecordRemediation(sanitized)
		if err := o.queue.UpdateJob(job); err != nil {
			return "", err
		}
		prompt = sanitized
	}
}

// poll watches one synthesis task until it leaves StatePending or the
// attempt budget runs out. A transport error on a single poll consumes
// that attempt and polling continues; the task may still be rendering.
func (o *Orchestrator) poll(ctx context.Context, taskID string, log *zap.SugaredLogger) (synth.TaskStatus, error) {
	var lastPollErr error

	for attempt := 1; attempt <= o.config.MaxPollAttempts; attempt++ {
		status, err := o.synthesizer.GetTask(ctx, taskID)
		switch {
		case err != nil && ctx.Err() != nil:
			return synth.TaskStatus{}, errors.Wrap(ctx.Err(), "video polling interrupted")
		case err != nil:
			lastPollErr = err
			log.Warnw("Video task poll failed", "task_id", taskID, "attempt", attempt, "error", err)
		case status.State == synth.StatePending:
			log.Debugw("Video task still rendering", "task_id", taskID, "attempt", attempt)
		default:
			return status, nil
		}

		if attempt < o.config.MaxPollAttempts {
			if err := sleepContext(ctx, o.config.PollInterval); err != nil {
				return synth.TaskStatus{}, errors.Wrap(err, "video polling interrupted")
			}
		}
	}

	timeoutErr := errors.Newf("video task %s did not reach a terminal state within %d polls", taskID, o.config.MaxPollAttempts)
	if lastPollErr != nil {
		timeoutErr = errors.WithDetail(timeoutErr, fmt.Sprintf("last poll error: %v", lastPollErr))
	}
	return synth.TaskStatus{}, errors.Mark(timeoutErr, ErrSynthesisTimeout)
}

// classifyFailure converts a vendor failure reason into the taxonomy:
// policy violations are remediable, everything else is not.
func classifyFailure(reason string) error {
	err := errors.Newf("video synthesis failed: %s", reason)
	if IsPolicyViolation(reason) {
		return errors.Mark(err, ErrContentPolicy)
	}
	return errors.Mark(err, ErrUnrecoverableService)
}

// deriveThumbnailURL points at the poster frame vendors render next to
// the video: the same URL with the extension swapped to .jpg.
func deriveThumbnailURL(videoURL string) string {
	parsed, err := url.Parse(videoURL)
	if err != nil {
		return ""
	}
	if ext := path.Ext(parsed.Path); ext != "" {
		parsed.Path = strings.TrimSuffix(parsed.Path, ext)
	}
	parsed.Path += ".jpg"
	return parsed.String()
}

// imageExtension picks the object-key extension for a transformed image.
func imageExtension(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "jpg"
	}
}

// sleepContext waits for d or until ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
