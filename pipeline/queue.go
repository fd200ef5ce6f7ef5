// Package pipeline turns a product listing into a short marketing video
// by walking a persisted reel job through subject classification, image
// transformation, script writing, and video synthesis. The reel_jobs
// record is the authoritative state: callers poll it or subscribe to
// the queue for push updates.
package pipeline

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/teranos/shopreel/errors"
)

const (
	// SubscriberChannelBufferSize is the buffer size of subscriber
	// channels. Slow consumers drop updates instead of stalling the
	// pipeline.
	SubscriberChannelBufferSize = 100

	// MaxJobsLimit caps how many jobs a single list call can return
	MaxJobsLimit = 10000

	// DefaultJobsLimit applies when a caller passes no explicit limit
	DefaultJobsLimit = 100
)

// Queue hands reel jobs between the API, the worker pool, and any
// subscriber watching for updates.
type Queue struct {
	store       *Store
	mu          sync.RWMutex
	subscribers []chan *Job
}

// NewQueue creates a job queue backed by the given database.
func NewQueue(db *sql.DB) *Queue {
	return &Queue{
		store: NewStore(db),
	}
}

// Enqueue validates the request and persists a new pending job. The job
// starts once a worker claims it.
func (q *Queue) Enqueue(req JobRequest) (*Job, error) {
	job, err := NewJob(req)
	if err != nil {
		return nil, err
	}

	if err := q.store.CreateJob(job); err != nil {
		return nil, errors.WithDetail(err, fmt.Sprintf("listing_id: %s", req.ListingID))
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	q.notifySubscribers(job)
	return job, nil
}

// GetJob retrieves a job by ID.
func (q *Queue) GetJob(jobID string) (*Job, error) {
	return q.store.GetJob(jobID)
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (q *Queue) ListJobs(status *JobStatus, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = DefaultJobsLimit
	}
	if limit > MaxJobsLimit {
		limit = MaxJobsLimit
	}
	return q.store.ListJobs(status, limit)
}

// ListJobsByOwner returns a shop owner's jobs, newest first.
func (q *Queue) ListJobsByOwner(owner string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = DefaultJobsLimit
	}
	if limit > MaxJobsLimit {
		limit = MaxJobsLimit
	}
	return q.store.ListJobsByOwner(owner, limit)
}

// FindActiveJobByListing returns the listing's in-flight job, or nil
// when it has none. The API layer uses this to refuse duplicate
// triggers for the same listing.
func (q *Queue) FindActiveJobByListing(listingID string) (*Job, error) {
	return q.store.FindActiveJobByListing(listingID)
}

// Claim atomically takes a pending job for processing and notifies
// subscribers of the analyzing_subject transition. ErrConflict means
// another worker got there first; callers treat that as "nothing to do".
func (q *Queue) Claim(jobID string) (*Job, error) {
	if err := q.store.ClaimPending(jobID); err != nil {
		return nil, err
	}

	job, err := q.store.GetJob(jobID)
	if err != nil {
		return nil, errors.WithDetail(err, fmt.Sprintf("job_id: %s", jobID))
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	q.notifySubscribers(job)
	return job, nil
}

// NextPending returns the oldest pending job, or nil when the queue is
// drained.
func (q *Queue) NextPending() (*Job, error) {
	return q.store.NextPending()
}

// UpdateJob persists the job and notifies subscribers.
func (q *Queue) UpdateJob(job *Job) error {
	if err := q.store.UpdateJob(job); err != nil {
		return errors.WithDetail(err, fmt.Sprintf("job_id: %s", job.ID))
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	q.notifySubscribers(job)
	return nil
}

// FailJob marks a job failed with the given error and notifies
// subscribers.
func (q *Queue) FailJob(jobID string, jobErr error) error {
	job, err := q.store.GetJob(jobID)
	if err != nil {
		return errors.WithDetail(err, fmt.Sprintf("job_id: %s", jobID))
	}

	job.Fail(jobErr)
	return q.UpdateJob(job)
}

// Subscribe returns a channel receiving every job update. Callers must
// Unsubscribe when done; the channel is never closed by the queue.
func (q *Queue) Subscribe() chan *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan *Job, SubscriberChannelBufferSize)
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel.
func (q *Queue) Unsubscribe(ch chan *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			break
		}
	}
}

// notifySubscribers delivers the job to every subscriber without
// blocking. Callers must hold q.mu (read lock is enough). Subscribers
// get a snapshot: the orchestrator keeps mutating its own copy, and an
// observer must see the state each update described, not a later one.
func (q *Queue) notifySubscribers(job *Job) {
	snapshot := *job
	for _, ch := range q.subscribers {
		select {
		case ch <- &snapshot:
		default:
			// Subscriber buffer full; drop the update
		}
	}
}

// QueueStats summarizes how many jobs sit in each status.
type QueueStats struct {
	Pending           int `json:"pending"`
	AnalyzingSubject  int `json:"analyzing_subject"`
	EditingImage      int `json:"editing_image"`
	OptimizingImage   int `json:"optimizing_image"`
	WritingScript     int `json:"writing_script"`
	SynthesizingVideo int `json:"synthesizing_video"`
	Completed         int `json:"completed"`
	Failed            int `json:"failed"`
	Total             int `json:"total"`
}

// GetStats returns queue statistics.
func (q *Queue) GetStats() (*QueueStats, error) {
	counts, err := q.store.CountJobsByStatus()
	if err != nil {
		return nil, err
	}

	stats := &QueueStats{
		Pending:           counts[JobStatusPending],
		AnalyzingSubject:  counts[JobStatusAnalyzingSubject],
		EditingImage:      counts[JobStatusEditingImage],
		OptimizingImage:   counts[JobStatusOptimizingImage],
		WritingScript:     counts[JobStatusWritingScript],
		SynthesizingVideo: counts[JobStatusSynthesizingVideo],
		Completed:         counts[JobStatusCompleted],
		Failed:            counts[JobStatusFailed],
	}
	for _, count := range counts {
		stats.Total += count
	}
	return stats, nil
}

// CleanupOldJobs deletes terminal jobs that finished before the
// retention window and returns how many were removed.
func (q *Queue) CleanupOldJobs(olderThan time.Duration) (int64, error) {
	return q.store.CleanupOldJobs(olderThan)
}
