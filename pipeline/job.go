package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/teranos/shopreel/errors"
	id "github.com/teranos/vanity-id"
)

// JobStatus represents the current stage of a reel job in its lifecycle
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting for a worker to claim it
	JobStatusPending JobStatus = "pending"
	// JobStatusAnalyzingSubject indicates the vision classifier is inspecting the source image
	JobStatusAnalyzingSubject JobStatus = "analyzing_subject"
	// JobStatusEditingImage indicates a human subject was detected and is being removed
	JobStatusEditingImage JobStatus = "editing_image"
	// JobStatusOptimizingImage indicates no subject was detected and the image is being re-encoded
	JobStatusOptimizingImage JobStatus = "optimizing_image"
	// JobStatusWritingScript indicates the video script is being generated
	JobStatusWritingScript JobStatus = "writing_script"
	// JobStatusSynthesizingVideo indicates the synthesis task is running (create, poll, remediate)
	JobStatusSynthesizingVideo JobStatus = "synthesizing_video"
	// JobStatusCompleted indicates the video is rendered and published
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job stopped with an error recorded in error_message
	JobStatusFailed JobStatus = "failed"
)

// IsValidStatus checks if a status string is a recognized job status
func IsValidStatus(status string) bool {
	switch JobStatus(status) {
	case JobStatusPending, JobStatusAnalyzingSubject, JobStatusEditingImage,
		JobStatusOptimizingImage, JobStatusWritingScript, JobStatusSynthesizingVideo,
		JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status is final. Terminal records are
// immutable: the store refuses every write to a row already in one.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// statusRank orders the pipeline stages for transition checks.
// editing_image and optimizing_image share a rank: they are the two
// mutually exclusive arms of the image stage.
var statusRank = map[JobStatus]int{
	JobStatusPending:           0,
	JobStatusAnalyzingSubject:  1,
	JobStatusEditingImage:      2,
	JobStatusOptimizingImage:   2,
	JobStatusWritingScript:     3,
	JobStatusSynthesizingVideo: 4,
	JobStatusCompleted:         5,
	JobStatusFailed:            5,
}

// CanTransitionTo reports whether moving from s to next respects the
// stage ordering: strictly forward one stage at a time, failed reachable
// from any non-terminal state, terminal states frozen. Remediation does
// not appear here because it rewrites fields without changing status.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == JobStatusFailed {
		return true
	}
	if next == JobStatusCompleted {
		return s == JobStatusSynthesizingVideo
	}
	fromRank, ok := statusRank[s]
	if !ok {
		return false
	}
	toRank, ok := statusRank[next]
	if !ok {
		return false
	}
	return toRank == fromRank+1
}

// Job is a single reel generation request moving through the pipeline.
// Every field maps to a column of the reel_jobs table; the record is the
// authoritative state a caller polls or subscribes to.
type Job struct {
	ID                 string     `json:"id"`
	Owner              string     `json:"owner"`
	ListingID          string     `json:"listing_id"`
	ProductTitle       string     `json:"product_title"`
	ProductDescription string     `json:"product_description,omitempty"`
	ProductTags        []string   `json:"product_tags,omitempty"`
	SourceImageURL     string     `json:"source_image_url"`
	ProcessedImageURL  string     `json:"processed_image_url,omitempty"`
	SubjectDetected    bool       `json:"subject_detected"`
	ImageWasEdited     bool       `json:"image_was_edited"`
	VideoScript        string     `json:"video_script,omitempty"`
	ExternalTaskID     string     `json:"external_task_id,omitempty"`
	VideoURL           string     `json:"video_url,omitempty"`
	ThumbnailURL       string     `json:"thumbnail_url,omitempty"`
	Status             JobStatus  `json:"status"`
	RetryCount         int        `json:"retry_count"`
	ErrorMessage       string     `json:"error_message,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

// JobRequest carries the listing details needed to open a reel job.
type JobRequest struct {
	Owner              string   `json:"owner" validate:"required"`
	ListingID          string   `json:"listing_id" validate:"required"`
	ProductTitle       string   `json:"product_title" validate:"required"`
	ProductDescription string   `json:"product_description,omitempty"`
	ProductTags        []string `json:"product_tags,omitempty"`
	SourceImageURL     string   `json:"source_image_url" validate:"required,url"`
}

var validate = validator.New()

// Validate checks the required request fields before any external call
// is made. Failures carry ErrValidation so the HTTP layer can map them
// to a 400 response.
func (r JobRequest) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s is %s", strings.ToLower(fe.Field()), describeTag(fe)))
		}
		return errors.Mark(errors.Newf("invalid reel request: %s", strings.Join(fields, "; ")), ErrValidation)
	}
	return errors.Mark(errors.Wrap(err, "invalid reel request"), ErrValidation)
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "url":
		return "not a valid URL"
	default:
		return fe.Tag()
	}
}

// NewJob creates a pending reel job for a listing with a generated ASID.
func NewJob(req JobRequest) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	jobID, err := id.GenerateJobASID("reelgen", req.ListingID, req.Owner)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate job ID")
	}

	now := time.Now().UTC()
	return &Job{
		ID:                 jobID,
		Owner:              req.Owner,
		ListingID:          req.ListingID,
		ProductTitle:       req.ProductTitle,
		ProductDescription: req.ProductDescription,
		ProductTags:        req.ProductTags,
		SourceImageURL:     req.SourceImageURL,
		Status:             JobStatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// EnterImageStage records the classifier verdict and moves the job into
// the branch the verdict selects. The verdict and the branch status land
// in the same write, so a reader never sees one without the other.
func (j *Job) EnterImageStage(subjectDetected bool) {
	j.SubjectDetected = subjectDetected
	if subjectDetected {
		j.Status = JobStatusEditingImage
	} else {
		j.Status = JobStatusOptimizingImage
	}
	j.UpdatedAt = time.Now().UTC()
}

// EnterScriptStage records the published image and advances the job.
func (j *Job) EnterScriptStage(processedImageURL string, wasEdited bool) {
	j.ProcessedImageURL = processedImageURL
	j.ImageWasEdited = wasEdited
	j.Status = JobStatusWritingScript
	j.UpdatedAt = time.Now().UTC()
}

// EnterSynthesisStage records the finished script and advances the job.
func (j *Job) EnterSynthesisStage(script string) {
	j.VideoScript = script
	j.Status = JobStatusSynthesizingVideo
	j.UpdatedAt = time.Now().UTC()
}

// RecordTask stores the vendor task handle. Remediation resubmissions
// replace it; status stays synthesizing_video.
func (j *Job) RecordTask(taskID string) {
	j.ExternalTaskID = taskID
	j.UpdatedAt = time.Now().UTC()
}

// RecordRemediation replaces the script with its sanitized rewrite and
// counts the round. Status is untouched: remediation never regresses it.
func (j *Job) RecordRemediation(sanitizedScript string) {
	j.VideoScript = sanitizedScript
	j.ExternalTaskID = ""
	j.RetryCount++
	j.UpdatedAt = time.Now().UTC()
}

// Complete marks the job finished with its rendered video.
func (j *Job) Complete(videoURL, thumbnailURL string) {
	now := time.Now().UTC()
	j.VideoURL = videoURL
	j.ThumbnailURL = thumbnailURL
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Fail marks the job failed with the error that stopped it.
// error_message is the single failure channel back to the caller.
func (j *Job) Fail(err error) {
	now := time.Now().UTC()
	j.Status = JobStatusFailed
	// A failed record never carries a video. Complete may have set the
	// URLs in memory before its own persist failed; they must not leak
	// into the failure row.
	j.VideoURL = ""
	j.ThumbnailURL = ""
	if err != nil {
		j.ErrorMessage = err.Error()
	}
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Duration returns how long the job took, or has been running so far.
func (j *Job) Duration() time.Duration {
	if j.CompletedAt != nil {
		return j.CompletedAt.Sub(j.CreatedAt)
	}
	return time.Since(j.CreatedAt)
}
