package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/faceforge/orchestrator/common/gerror"
	"github.com/faceforge/orchestrator/common/logger"
	"github.com/faceforge/orchestrator/common/models"
	"github.com/faceforge/orchestrator/server/services/event"
	"github.com/faceforge/orchestrator/server/services/orchestrator"
	"github.com/faceforge/orchestrator/server/services/security"
	"github.com/faceforge/orchestrator/server/store"
)

// JobAPI implements the single-job surface: submission, cancellation, lookup, and streaming.
type JobAPI struct {
	*apiBase
	orch *orchestrator.Orchestrator
	bus  *event.EventBus
}

func NewJobAPI(orch *orchestrator.Orchestrator, bus *event.EventBus, logFactory logger.LogFactory) *JobAPI {
	return &JobAPI{
		apiBase: &apiBase{Log: logFactory("JobAPI")},
		orch:    orch,
		bus:     bus,
	}
}

// Run handles POST /run: validates the target path is present, auto-fills an empty output path
// under the system temp directory, submits the job, and reports 202 on success.
func (a *JobAPI) Run(w http.ResponseWriter, r *http.Request) {
	var req models.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.Error(w, r, gerror.NewErrValidationFailed("malformed request body"))
		return
	}
	if strings.TrimSpace(req.TargetPath) == "" {
		a.Error(w, r, gerror.NewErrValidationFailed("target_path is required"))
		return
	}
	if strings.TrimSpace(req.OutputPath) == "" {
		req.OutputPath = defaultOutputPath(req.TargetPath)
	}

	job, err := a.orch.Submit(r.Context(), req)
	if err != nil {
		a.Error(w, r, fmt.Errorf("error submitting job: %w", err))
		return
	}
	a.JSON(w, r, http.StatusAccepted, RunResponse{
		Status:     "queued",
		JobID:      job.ID,
		OutputPath: req.OutputPath,
	})
}

// defaultOutputPath picks a destination under the system temp directory derived from the
// target's base name, used when a caller of /run omits output_path.
func defaultOutputPath(targetPath string) string {
	base := filepath.Base(targetPath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return filepath.Join(os.TempDir(), security.SanitizeFilename(name+"-output"+ext))
}

// Stop handles POST /stop: cancels every running and queued job and reports how many.
func (a *JobAPI) Stop(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	canceled := 0
	for _, status := range []models.JobStatus{models.JobStatusRunning, models.JobStatusQueued} {
		s := status
		jobs, err := a.orch.ListJobs(ctx, store.JobFilter{Status: &s})
		if err != nil {
			a.Error(w, r, err)
			return
		}
		for _, job := range jobs {
			if err := a.orch.CancelJob(ctx, job.ID); err != nil {
				a.Errorf("error canceling job %s during stop-all: %v", job.ID, err)
				continue
			}
			canceled++
		}
	}
	a.JSON(w, r, http.StatusOK, StopResponse{Canceled: canceled})
}

// Get handles GET /jobs/{id}: returns a full JSON snapshot of the job.
func (a *JobAPI) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := a.orch.GetJob(r.Context(), id)
	if err != nil {
		a.Error(w, r, err)
		return
	}
	a.JSON(w, r, http.StatusOK, job)
}

// Events handles GET /jobs/{id}/events: opens a Server-Sent Events stream of every event
// published for the job, closing once a terminal event is delivered or the client disconnects.
func (a *JobAPI) Events(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.Error(w, r, fmt.Errorf("response writer does not support streaming"))
		return
	}

	sub := a.bus.SubscribeJob(id)
	defer a.bus.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			buf, err := json.Marshal(evt)
			if err != nil {
				a.Errorf("error marshalling event for job %s: %v", id, err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", buf); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
