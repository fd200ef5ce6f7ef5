package server

import (
	"net/http"

	"github.com/teranos/shopreel/pipeline"
	"github.com/teranos/shopreel/sym"
)

const (
	// Default and max limits for job listing queries
	defaultJobLimit = 50
	maxJobLimit     = 500
)

// HandleReelJobs handles /api/reel/jobs
// GET: list jobs, newest first, optionally filtered by status or owner
// POST: trigger a new reel job for a listing
func (s *Server) HandleReelJobs(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "Pipeline not available")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleListJobs(w, r)
	case http.MethodPost:
		s.handleCreateJob(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQueryParam(r, "limit", defaultJobLimit, 1, maxJobLimit)

	var statusFilter *pipeline.JobStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		if !pipeline.IsValidStatus(raw) {
			writeError(w, http.StatusBadRequest, "Unknown status: "+raw)
			return
		}
		status := pipeline.JobStatus(raw)
		statusFilter = &status
	}

	var (
		jobs []*pipeline.Job
		err  error
	)
	if owner := r.URL.Query().Get("owner"); owner != "" {
		jobs, err = s.queue.ListJobsByOwner(owner, limit)
	} else {
		jobs, err = s.queue.ListJobs(statusFilter, limit)
	}
	if err != nil {
		handleError(w, s.logger, err, "failed to list reel jobs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleCreateJob validates the trigger request, refuses a duplicate
// while the listing already has a reel in flight, and enqueues the job.
// The workers pick it up; the response is the pending record the caller
// can poll or watch over /ws.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req pipeline.JobRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	active, err := s.queue.FindActiveJobByListing(req.ListingID)
	if err != nil {
		handleError(w, s.logger, err, "failed to check for active reel job")
		return
	}
	if active != nil {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error": "listing already has a reel job in flight",
			"job":   active,
		})
		return
	}

	job, err := s.queue.Enqueue(req)
	if err != nil {
		handleError(w, s.logger, err, "failed to enqueue reel job")
		return
	}

	s.logger.Infow(sym.Reel+" Reel job triggered",
		"job_id", job.ID,
		"listing_id", job.ListingID,
		"owner", job.Owner)

	writeJSON(w, http.StatusCreated, job)
}

// HandleReelJob handles /api/reel/jobs/{id}
// GET: one job record
func (s *Server) HandleReelJob(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "Pipeline not available")
		return
	}
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	parts := extractPathParts(r.URL.Path, "/api/reel/jobs/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "Missing job ID")
		return
	}

	job, err := s.queue.GetJob(parts[0])
	if err != nil {
		handleError(w, s.logger, err, "failed to get reel job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandleReelStats handles /api/reel/stats
// GET: queue counts plus pool and host metrics
func (s *Server) HandleReelStats(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "Pipeline not available")
		return
	}

	stats, err := s.queue.GetStats()
	if err != nil {
		handleError(w, s.logger, err, "failed to get queue stats")
		return
	}

	response := map[string]interface{}{
		"queue": stats,
	}
	if s.pool != nil {
		response["system"] = s.pool.GetSystemMetrics()
		response["uptime_seconds"] = int(s.pool.Uptime().Seconds())
	}
	writeJSON(w, http.StatusOK, response)
}
