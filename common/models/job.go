package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/faceforge/orchestrator/common/gerror"
	"github.com/faceforge/orchestrator/common/util"
)

// maxErrorMessageLength bounds how much of a pipeline's failure message is retained on the job
// row; pipeline implementations are free to return arbitrarily long diagnostic text.
const maxErrorMessageLength = 2000

// JobConfig is the opaque, pipeline-specific configuration a job was submitted with
// (derived from a RunRequest via RunRequest.ToConfig). It is persisted as a JSON text column.
type JobConfig map[string]interface{}

func (c *JobConfig) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	buf, err := asBytes(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, c)
}

func (c JobConfig) Value() (driver.Value, error) {
	buf, err := json.Marshal(map[string]interface{}(c))
	if err != nil {
		return nil, fmt.Errorf("error marshalling job config: %w", err)
	}
	return string(buf), nil
}

// JobSteps is the ordered list of steps a job is broken into, persisted as a JSON text column.
type JobSteps []Step

func (s *JobSteps) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	buf, err := asBytes(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, s)
}

func (s JobSteps) Value() (driver.Value, error) {
	buf, err := json.Marshal([]Step(s))
	if err != nil {
		return nil, fmt.Errorf("error marshalling job steps: %w", err)
	}
	return string(buf), nil
}

// JobMetadata carries free-form, job-specific annotations not covered by a dedicated column,
// e.g. a recovered panic's stack trace under the "traceback" key.
type JobMetadata map[string]interface{}

func (m *JobMetadata) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	buf, err := asBytes(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, m)
}

func (m JobMetadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	buf, err := json.Marshal(map[string]interface{}(m))
	if err != nil {
		return nil, fmt.Errorf("error marshalling job metadata: %w", err)
	}
	return string(buf), nil
}

func asBytes(src interface{}) ([]byte, error) {
	switch v := src.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported type for JSON column: %[1]T (%[1]v)", src)
	}
}

// Job is a single unit of work tracked by the orchestrator from submission through to a
// terminal outcome. A Job owns an ordered set of Steps, each representing a named phase of
// the underlying pipeline's execution (analysing, extracting, processing, merging, ...).
type Job struct {
	ID              string      `json:"id" db:"job_id" goqu:"skipupdate"`
	Status          JobStatus   `json:"status" db:"status"`
	Priority        int         `json:"priority" db:"priority" goqu:"skipupdate"`
	Progress        float64     `json:"progress" db:"progress"`
	ErrorCode       ErrorCode   `json:"error_code,omitempty" db:"error_code"`
	ErrorMessage    string      `json:"error_message,omitempty" db:"error_message"`
	CancelRequested bool        `json:"cancel_requested" db:"cancel_requested"`
	Config          JobConfig   `json:"config" db:"config_json" goqu:"skipupdate"`
	Steps           JobSteps    `json:"steps" db:"steps_json"`
	Metadata        JobMetadata `json:"metadata,omitempty" db:"metadata_json"`
	CreatedAt       Time        `json:"created_at" db:"created_at" goqu:"skipupdate"`
	UpdatedAt       Time        `json:"updated_at" db:"updated_at"`
	StartedAt       *Time       `json:"started_at,omitempty" db:"started_at"`
	CompletedAt     *Time       `json:"completed_at,omitempty" db:"completed_at"`
}

// NewJob creates a freshly drafted job from a run request and a pre-generated id, with a
// single default "Processing" step, matching the shape a caller gets back before any
// pipeline-specific steps are known. Priority starts at zero; it has no input from RunRequest
// and is only ever changed later in the store, via JobStore.SetPriority.
func NewJob(id string, request RunRequest, now Time) *Job {
	metadata := JobMetadata{}
	if fingerprint, err := request.Fingerprint(); err == nil {
		metadata["fingerprint"] = fingerprint
	}
	return &Job{
		ID:        id,
		Status:    JobStatusDrafted,
		Priority:  0,
		Config:    request.ToConfig(),
		Steps:     JobSteps{NewStep(0, "Processing")},
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Fingerprint returns the content hash NewJob recorded for this job's originating request, or
// "" if none was recorded.
func (j *Job) Fingerprint() string {
	fingerprint, _ := j.Metadata["fingerprint"].(string)
	return fingerprint
}

// TransitionTo moves the job to next if the transition is legal, updating UpdatedAt (and
// StartedAt/CompletedAt where appropriate). It returns a gerror.Error (ErrCodeInvalidTransition)
// if the transition is not allowed from the job's current status.
func (j *Job) TransitionTo(next JobStatus, now Time) error {
	if !j.Status.CanTransitionTo(next) {
		return gerror.NewErrInvalidTransition(
			fmt.Sprintf("cannot transition job %s from %s to %s", j.ID, j.Status, next),
		)
	}
	j.Status = next
	j.UpdatedAt = now
	switch next {
	case JobStatusRunning:
		if j.StartedAt == nil {
			started := now
			j.StartedAt = &started
		}
	case JobStatusCompleted, JobStatusFailed, JobStatusCanceled:
		completed := now
		j.CompletedAt = &completed
	case JobStatusQueued:
		// Retrying a failed job: clear the terminal bookkeeping from the previous attempt.
		j.CompletedAt = nil
		j.ErrorCode = ""
		j.ErrorMessage = ""
	}
	return nil
}

// UpdateProgress advances the job's progress monotonically: a lower value than the job
// already holds is silently ignored, matching the store's conditional update semantics.
func (j *Job) UpdateProgress(progress float64, now Time) {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	if progress > j.Progress {
		j.Progress = progress
		j.UpdatedAt = now
	}
}

// Fail transitions the job to failed, recording the error code and message. It does not
// return an error: it sets the failed status directly from whatever status the job is in,
// without consulting the transition table that TransitionTo enforces.
func (j *Job) Fail(code ErrorCode, message string, now Time) {
	j.ErrorCode = code
	j.ErrorMessage = util.TruncateStringToMaxLength(message, maxErrorMessageLength)
	j.Status = JobStatusFailed
	j.UpdatedAt = now
	completed := now
	j.CompletedAt = &completed
}

// Step returns a pointer to the step at the given index, or nil if out of range.
func (j *Job) Step(index int) *Step {
	if index < 0 || index >= len(j.Steps) {
		return nil
	}
	return &j.Steps[index]
}
