package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gramflow/internal/models"
)

// JobHandler handles job-related API requests
type JobHandler struct {
	queue  JobQueue
	logger arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(queue JobQueue, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		queue:  queue,
		logger: logger,
	}
}

// CreateJobHandler enqueues a job
// POST /api/jobs {"workspaceId","accountId","kind","payload"}
func (h *JobHandler) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	var req models.EnqueueRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteServiceError(w, h.logger, r, err)
		return
	}
	// Automation provenance is only assigned by the scheduler
	req.AutomationID = ""

	job, err := h.queue.Enqueue(r.Context(), req)
	if err != nil {
		WriteServiceError(w, h.logger, r, err)
		return
	}

	WriteSuccess(w, http.StatusAccepted, map[string]interface{}{
		"job": job,
	})
}

// ListJobsHandler returns jobs, newest first
// GET /api/jobs?workspaceId=&accountId=&status=&limit=
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := models.JobFilter{
		WorkspaceID: query.Get("workspaceId"),
		AccountID:   query.Get("accountId"),
		State:       models.JobState(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			WriteServiceError(w, h.logger, r, fmt.Errorf("%w: limit must be a non-negative integer", errBadRequest))
			return
		}
		filter.Limit = limit
	}

	jobs, err := h.queue.ListJobs(r.Context(), filter)
	if err != nil {
		WriteServiceError(w, h.logger, r, err)
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}

	WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJobHandler returns a single job
// GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	segments := PathSegments(r.URL.Path, "/api/jobs/")
	if len(segments) != 1 {
		WriteError(w, http.StatusNotFound, "endpoint not found: "+r.URL.Path)
		return
	}

	job, err := h.queue.GetJob(r.Context(), segments[0])
	if err != nil {
		WriteServiceError(w, h.logger, r, err)
		return
	}

	WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"job": job,
	})
}
