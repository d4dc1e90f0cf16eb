package rest

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/faceforge/orchestrator/common/gerror"
	"github.com/faceforge/orchestrator/common/logger"
	"github.com/faceforge/orchestrator/common/models"
	"github.com/faceforge/orchestrator/server/services/orchestrator"
	"github.com/faceforge/orchestrator/server/store"
)

// AdminAPI implements the /api/v1/jobs surface: listing, bulk lifecycle operations, and
// aggregate status reporting, as distinct from the single-job surface in JobAPI.
type AdminAPI struct {
	*apiBase
	orch *orchestrator.Orchestrator
}

func NewAdminAPI(orch *orchestrator.Orchestrator, logFactory logger.LogFactory) *AdminAPI {
	return &AdminAPI{
		apiBase: &apiBase{Log: logFactory("AdminAPI")},
		orch:    orch,
	}
}

// List handles GET /api/v1/jobs: a newest-first listing with compact fields.
func (a *AdminAPI) List(w http.ResponseWriter, r *http.Request) {
	jobs, err := a.orch.ListJobs(r.Context(), store.JobFilter{})
	if err != nil {
		a.Error(w, r, err)
		return
	}
	// ListJobs returns dequeue order (priority first); the listing is by creation time, newest first.
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt.Time)
	})
	summaries := make([]JobSummary, 0, len(jobs))
	for _, job := range jobs {
		summaries = append(summaries, summarize(job))
	}
	a.JSON(w, r, http.StatusOK, summaries)
}

func summarize(job *models.Job) JobSummary {
	summary := JobSummary{
		ID:        job.ID,
		Status:    job.Status.String(),
		Priority:  job.Priority,
		Progress:  job.Progress,
		CreatedAt: job.CreatedAt.Format(timestampResponseFormat),
		UpdatedAt: job.UpdatedAt.Format(timestampResponseFormat),
	}
	if target, ok := job.Config["target_path"].(string); ok {
		summary.TargetPath = target
	}
	if output, ok := job.Config["output_path"].(string); ok {
		summary.OutputPath = output
	}
	if job.StartedAt != nil {
		summary.StartedAt = job.StartedAt.Format(timestampResponseFormat)
	}
	if job.CompletedAt != nil {
		summary.CompletedAt = job.CompletedAt.Format(timestampResponseFormat)
	}
	return summary
}

const timestampResponseFormat = "2006-01-02T15:04:05.000Z07:00"

// Detail handles GET /api/v1/jobs/{id}: a full job snapshot, same shape as JobAPI.Get.
func (a *AdminAPI) Detail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := a.orch.GetJob(r.Context(), id)
	if err != nil {
		a.Error(w, r, err)
		return
	}
	a.JSON(w, r, http.StatusOK, job)
}

// Submit handles POST /api/v1/jobs/submit: bulk-queues a set of drafted jobs.
func (a *AdminAPI) Submit(w http.ResponseWriter, r *http.Request) {
	var req BulkJobIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.Error(w, r, gerror.NewErrValidationFailed("malformed request body"))
		return
	}
	result := newBulkResult()
	for _, id := range req.JobIDs {
		if err := a.orch.QueueJob(r.Context(), id); err != nil {
			result.Failed[id] = err.Error()
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	a.JSON(w, r, http.StatusOK, result)
}

// Unqueue handles POST /api/v1/jobs/unqueue: bulk-resets a set of queued jobs back to drafted.
func (a *AdminAPI) Unqueue(w http.ResponseWriter, r *http.Request) {
	var req BulkJobIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.Error(w, r, gerror.NewErrValidationFailed("malformed request body"))
		return
	}
	result := newBulkResult()
	for _, id := range req.JobIDs {
		ok, err := a.orch.UnqueueJob(r.Context(), id)
		if err != nil {
			result.Failed[id] = err.Error()
			continue
		}
		if !ok {
			result.Failed[id] = "job is not queued"
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	a.JSON(w, r, http.StatusOK, result)
}

// Delete handles DELETE /api/v1/jobs: bulk-deletes a set of jobs by id.
func (a *AdminAPI) Delete(w http.ResponseWriter, r *http.Request) {
	var req BulkJobIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.Error(w, r, gerror.NewErrValidationFailed("malformed request body"))
		return
	}
	result := newBulkResult()
	for _, id := range req.JobIDs {
		if err := a.orch.DeleteJob(r.Context(), id); err != nil {
			result.Failed[id] = err.Error()
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	a.JSON(w, r, http.StatusOK, result)
}

// Priority handles POST /api/v1/jobs/priority: updates a single job's dequeue priority.
func (a *AdminAPI) Priority(w http.ResponseWriter, r *http.Request) {
	var req PriorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.Error(w, r, gerror.NewErrValidationFailed("malformed request body"))
		return
	}
	if req.JobID == "" {
		a.Error(w, r, gerror.NewErrValidationFailed("job_id is required"))
		return
	}
	if err := a.orch.SetPriority(r.Context(), req.JobID, req.Priority); err != nil {
		a.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Run handles POST /api/v1/jobs/run: wakes the worker pool to drain every queued job now.
func (a *AdminAPI) Run(w http.ResponseWriter, r *http.Request) {
	count, err := a.orch.RunQueued(r.Context())
	if err != nil {
		a.Error(w, r, err)
		return
	}
	a.JSON(w, r, http.StatusOK, RunQueuedResponse{Queued: count})
}

// Status handles GET /api/v1/jobs/status: aggregate job counters plus resource availability.
func (a *AdminAPI) Status(w http.ResponseWriter, r *http.Request) {
	counts, err := a.orch.StatusCounts(r.Context())
	if err != nil {
		a.Error(w, r, err)
		return
	}
	byName := make(map[string]int64, len(counts))
	for status, count := range counts {
		byName[status.String()] = count
	}
	a.JSON(w, r, http.StatusOK, StatusCountsResponse{
		Counts:    byName,
		Resources: a.orch.ResourceStatus(),
	})
}
