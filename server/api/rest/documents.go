package rest

import (
	"github.com/faceforge/orchestrator/common/gerror"
	"github.com/faceforge/orchestrator/server/services/resource"
)

// ErrorDocument is the standard JSON shape every error response is rendered as.
type ErrorDocument struct {
	Code           gerror.Code `json:"error_code"`
	HTTPStatusCode int         `json:"http_status_code"`
	Message        string      `json:"message"`
}

// RunResponse is returned by POST /run.
type RunResponse struct {
	Status     string `json:"status"`
	JobID      string `json:"job_id"`
	OutputPath string `json:"output_path"`
}

// StopResponse is returned by POST /stop.
type StopResponse struct {
	Canceled int `json:"canceled"`
}

// JobSummary is the compact shape used by the newest-first job listing.
type JobSummary struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	Priority    int     `json:"priority"`
	Progress    float64 `json:"progress"`
	TargetPath  string  `json:"target_path,omitempty"`
	OutputPath  string  `json:"output_path,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
	StartedAt   string  `json:"started_at,omitempty"`
	CompletedAt string  `json:"completed_at,omitempty"`
}

// BulkJobIDsRequest carries a list of job ids, used by the bulk submit/unqueue/delete endpoints.
type BulkJobIDsRequest struct {
	JobIDs []string `json:"job_ids"`
}

// BulkResult reports how a bulk operation fared per job id.
type BulkResult struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// PriorityRequest is the body of POST /api/v1/jobs/priority.
type PriorityRequest struct {
	JobID    string `json:"job_id"`
	Priority int    `json:"priority"`
}

// RunQueuedResponse is returned by POST /api/v1/jobs/run.
type RunQueuedResponse struct {
	Queued int `json:"queued"`
}

// StatusCountsResponse is returned by GET /api/v1/jobs/status.
type StatusCountsResponse struct {
	Counts    map[string]int64 `json:"counts"`
	Resources resource.Status  `json:"resources"`
}

func newBulkResult() *BulkResult {
	return &BulkResult{Succeeded: []string{}, Failed: map[string]string{}}
}
