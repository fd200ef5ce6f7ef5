package pipeline

import (
	"database/sql"
	"time"

	"github.com/teranos/shopreel/errors"
)

// Store handles reel_jobs persistence. It is the only writer to the
// table; every mutation goes through it so the terminal-status guard
// cannot be bypassed.
type Store struct {
	db *sql.DB
}

// NewStore creates a new job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateJob inserts a new job row.
func (s *Store) CreateJob(job *Job) error {
	tags, err := encodeTags(job.ProductTags)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO reel_jobs (
			id, owner, listing_id, product_title, product_description, product_tags,
			source_image_url, processed_image_url, subject_detected, image_was_edited,
			video_script, external_task_id, video_url, thumbnail_url,
			status, retry_count, error_message, created_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.Exec(query,
		job.ID,
		job.Owner,
		job.ListingID,
		job.ProductTitle,
		nullableString(job.ProductDescription),
		tags,
		job.SourceImageURL,
		nullableString(job.ProcessedImageURL),
		job.SubjectDetected,
		job.ImageWasEdited,
		nullableString(job.VideoScript),
		nullableString(job.ExternalTaskID),
		nullableString(job.VideoURL),
		nullableString(job.ThumbnailURL),
		string(job.Status),
		job.RetryCount,
		nullableString(job.ErrorMessage),
		job.CreatedAt,
		job.UpdatedAt,
		nullableTime(job.CompletedAt),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create job %s", job.ID)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(jobID string) (*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + ` FROM reel_jobs WHERE id = ?`

	job := &Job{}
	args := &JobScanArgs{}
	err := s.db.QueryRow(query, jobID).Scan(GetJobScanTargets(job, args)...)
	if err == sql.ErrNoRows {
		return nil, errors.Mark(errors.Newf("job not found: %s", jobID), errors.ErrNotFound)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job %s", jobID)
	}
	if err := ProcessJobScanArgs(job, args); err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateJob persists the job's mutable fields. Rows already in a
// terminal status are refused, which makes completed and failed records
// immutable at the storage layer no matter what the caller holds in
// memory.
func (s *Store) UpdateJob(job *Job) error {
	tags, err := encodeTags(job.ProductTags)
	if err != nil {
		return err
	}

	query := `
		UPDATE reel_jobs SET
			product_description = ?, product_tags = ?, processed_image_url = ?,
			subject_detected = ?, image_was_edited = ?, video_script = ?,
			external_task_id = ?, video_url = ?, thumbnail_url = ?,
			status = ?, retry_count = ?, error_message = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND status NOT IN (?, ?)
	`
	result, err := s.db.Exec(query,
		nullableString(job.ProductDescription),
		tags,
		nullableString(job.ProcessedImageURL),
		job.SubjectDetected,
		job.ImageWasEdited,
		nullableString(job.VideoScript),
		nullableString(job.ExternalTaskID),
		nullableString(job.VideoURL),
		nullableString(job.ThumbnailURL),
		string(job.Status),
		job.RetryCount,
		nullableString(job.ErrorMessage),
		job.UpdatedAt,
		nullableTime(job.CompletedAt),
		job.ID,
		string(JobStatusCompleted),
		string(JobStatusFailed),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update job %s", job.ID)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "failed to read update result for job %s", job.ID)
	}
	if affected == 0 {
		var status string
		err := s.db.QueryRow(`SELECT status FROM reel_jobs WHERE id = ?`, job.ID).Scan(&status)
		if err == sql.ErrNoRows {
			return errors.Mark(errors.Newf("job not found: %s", job.ID), errors.ErrNotFound)
		}
		if err != nil {
			return errors.Wrapf(err, "failed to inspect job %s after refused update", job.ID)
		}
		return errors.Mark(errors.Newf("job %s is %s and cannot be modified", job.ID, status), errors.ErrConflict)
	}
	return nil
}

// ClaimPending atomically moves a pending job into analyzing_subject.
// The conditional UPDATE is the duplicate-start guard: when two workers
// race for the same job exactly one sees an affected row, the other
// gets ErrConflict.
func (s *Store) ClaimPending(jobID string) error {
	result, err := s.db.Exec(
		`UPDATE reel_jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(JobStatusAnalyzingSubject),
		time.Now().UTC(),
		jobID,
		string(JobStatusPending),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to claim job %s", jobID)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "failed to read claim result for job %s", jobID)
	}
	if affected == 0 {
		return errors.Mark(errors.Newf("job %s is not pending", jobID), errors.ErrConflict)
	}
	return nil
}

// NextPending returns the oldest pending job, or nil when none is
// waiting.
func (s *Store) NextPending() (*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM reel_jobs WHERE status = ? ORDER BY created_at ASC LIMIT 1`

	job := &Job{}
	args := &JobScanArgs{}
	err := s.db.QueryRow(query, string(JobStatusPending)).Scan(GetJobScanTargets(job, args)...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get next pending job")
	}
	if err := ProcessJobScanArgs(job, args); err != nil {
		return nil, err
	}
	return job, nil
}

// ListJobs returns jobs ordered newest first, optionally filtered by
// status.
func (s *Store) ListJobs(status *JobStatus, limit int) ([]*Job, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if status != nil {
		query := `SELECT ` + StandardJobSelectColumns() + `
			FROM reel_jobs WHERE status = ? ORDER BY created_at DESC LIMIT ?`
		rows, err = s.db.Query(query, string(*status), limit)
	} else {
		query := `SELECT ` + StandardJobSelectColumns() + `
			FROM reel_jobs ORDER BY created_at DESC LIMIT ?`
		rows, err = s.db.Query(query, limit)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "list jobs")
}

// ListJobsByOwner returns a shop owner's jobs, newest first.
func (s *Store) ListJobsByOwner(owner string, limit int) ([]*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM reel_jobs WHERE owner = ? ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.Query(query, owner, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list jobs for owner %s", owner)
	}
	defer rows.Close()

	return scanJobs(rows, "list jobs by owner")
}

// FindActiveJobByListing returns the listing's non-terminal job, or nil
// when the listing has none in flight. The API uses this to refuse a
// duplicate trigger while a reel is still being generated.
func (s *Store) FindActiveJobByListing(listingID string) (*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM reel_jobs WHERE listing_id = ? AND status NOT IN (?, ?)
		ORDER BY created_at DESC LIMIT 1`

	job := &Job{}
	args := &JobScanArgs{}
	err := s.db.QueryRow(query, listingID, string(JobStatusCompleted), string(JobStatusFailed)).
		Scan(GetJobScanTargets(job, args)...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find active job for listing %s", listingID)
	}
	if err := ProcessJobScanArgs(job, args); err != nil {
		return nil, err
	}
	return job, nil
}

// ListOrphanedJobs returns jobs a previous process claimed but never
// finished. After a crash these are mid-stage rows with no worker
// attached; they cannot be resumed because stages are not re-entrant.
func (s *Store) ListOrphanedJobs(limit int) ([]*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM reel_jobs WHERE status NOT IN (?, ?, ?) ORDER BY created_at ASC LIMIT ?`
	rows, err := s.db.Query(query,
		string(JobStatusPending), string(JobStatusCompleted), string(JobStatusFailed), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list orphaned jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "orphaned jobs")
}

// CountJobsByStatus returns how many jobs sit in each status.
func (s *Store) CountJobsByStatus() (map[JobStatus]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM reel_jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs by status")
	}
	defer rows.Close()

	counts := make(map[JobStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count row")
		}
		counts[JobStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate job count rows")
	}
	return counts, nil
}

// CleanupOldJobs deletes terminal jobs that finished before the
// retention window. In-flight and pending rows are never touched.
func (s *Store) CleanupOldJobs(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	result, err := s.db.Exec(
		`DELETE FROM reel_jobs WHERE status IN (?, ?) AND completed_at < ?`,
		string(JobStatusCompleted), string(JobStatusFailed), cutoff,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to clean up old jobs")
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to count cleaned up jobs")
	}
	return deleted, nil
}

// scanJobs reads all rows into jobs. context names the calling query
// for error messages.
func scanJobs(rows *sql.Rows, context string) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job := &Job{}
		args := &JobScanArgs{}
		if err := rows.Scan(GetJobScanTargets(job, args)...); err != nil {
			return nil, errors.Wrapf(err, "failed to scan job row (%s)", context)
		}
		if err := ProcessJobScanArgs(job, args); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to iterate job rows (%s)", context)
	}
	return jobs, nil
}

func nullableString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func nullableTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *value, Valid: true}
}
