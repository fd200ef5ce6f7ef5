package pipeline

import (
	"database/sql"
	"encoding/json"

	"github.com/teranos/shopreel/errors"
)

// StandardJobSelectColumns returns the column list every job SELECT
// uses, in the order the scan helpers expect.
func StandardJobSelectColumns() string {
	return `id, owner, listing_id, product_title, product_description, product_tags,
		source_image_url, processed_image_url, subject_detected, image_was_edited,
		video_script, external_task_id, video_url, thumbnail_url,
		status, retry_count, error_message, created_at, updated_at, completed_at`
}

// JobScanArgs holds scan destinations for the nullable reel_jobs columns.
type JobScanArgs struct {
	ProductDescription sql.NullString
	ProductTags        sql.NullString
	ProcessedImageURL  sql.NullString
	VideoScript        sql.NullString
	ExternalTaskID     sql.NullString
	VideoURL           sql.NullString
	ThumbnailURL       sql.NullString
	ErrorMessage       sql.NullString
	CompletedAt        sql.NullTime
}

// GetJobScanTargets returns scan destinations in
// StandardJobSelectColumns order. Nullable columns scan into args and
// are copied onto the job by ProcessJobScanArgs.
func GetJobScanTargets(job *Job, args *JobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&job.Owner,
		&job.ListingID,
		&job.ProductTitle,
		&args.ProductDescription,
		&args.ProductTags,
		&job.SourceImageURL,
		&args.ProcessedImageURL,
		&job.SubjectDetected,
		&job.ImageWasEdited,
		&args.VideoScript,
		&args.ExternalTaskID,
		&args.VideoURL,
		&args.ThumbnailURL,
		&job.Status,
		&job.RetryCount,
		&args.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
		&args.CompletedAt,
	}
}

// ProcessJobScanArgs copies nullable scan results onto the job.
func ProcessJobScanArgs(job *Job, args *JobScanArgs) error {
	job.ProductDescription = args.ProductDescription.String
	job.ProcessedImageURL = args.ProcessedImageURL.String
	job.VideoScript = args.VideoScript.String
	job.ExternalTaskID = args.ExternalTaskID.String
	job.VideoURL = args.VideoURL.String
	job.ThumbnailURL = args.ThumbnailURL.String
	job.ErrorMessage = args.ErrorMessage.String

	if args.CompletedAt.Valid {
		completedAt := args.CompletedAt.Time
		job.CompletedAt = &completedAt
	}

	if args.ProductTags.Valid && args.ProductTags.String != "" {
		if err := json.Unmarshal([]byte(args.ProductTags.String), &job.ProductTags); err != nil {
			return errors.Wrapf(err, "failed to decode product tags for job %s", job.ID)
		}
	}

	return nil
}

// encodeTags marshals tags for the product_tags TEXT column. Empty tag
// lists store as NULL so the column stays queryable for "has tags".
func encodeTags(tags []string) (sql.NullString, error) {
	if len(tags) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return sql.NullString{}, errors.Wrap(err, "failed to encode product tags")
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
