package models

import (
	"database/sql/driver"
	"fmt"
)

const (
	// JobStatusDrafted is the initial state of a job immediately after creation, before it has
	// been handed to the queue.
	JobStatusDrafted JobStatus = "drafted"
	// JobStatusQueued indicates the job is waiting for a worker to become available.
	JobStatusQueued JobStatus = "queued"
	// JobStatusRunning indicates a worker is actively executing the job's pipeline.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job finished with an error, or was reconciled as orphaned.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCanceled indicates the job was stopped in response to a cancellation request.
	JobStatusCanceled JobStatus = "canceled"
)

// JobStatus is the lifecycle state of a Job. Valid transitions are defined by validTransitions
// below; all other transitions are rejected.
type JobStatus string

// validTransitions enumerates, for each status, the set of statuses it may legally move to.
// A failed job may be resubmitted by transitioning back to queued (the retry path); every
// other edge is one-directional and terminal states (completed/failed/canceled) have no
// outgoing edges except that one. A drafted job has no direct path to canceled: canceling a
// drafted job only sets its cancel_requested flag, since drafted jobs are never executed.
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusDrafted: {
		JobStatusQueued: true,
	},
	JobStatusQueued: {
		JobStatusRunning:  true,
		JobStatusCanceled: true,
	},
	JobStatusRunning: {
		JobStatusCompleted: true,
		JobStatusFailed:    true,
		JobStatusCanceled:  true,
	},
	JobStatusCompleted: {},
	JobStatusFailed: {
		JobStatusQueued: true, // retry
	},
	JobStatusCanceled: {},
}

var jobStatuses = map[string]JobStatus{
	string(JobStatusDrafted):   JobStatusDrafted,
	string(JobStatusQueued):    JobStatusQueued,
	string(JobStatusRunning):   JobStatusRunning,
	string(JobStatusCompleted): JobStatusCompleted,
	string(JobStatusFailed):    JobStatusFailed,
	string(JobStatusCanceled):  JobStatusCanceled,
}

func (s JobStatus) Valid() bool {
	_, ok := jobStatuses[string(s)]
	return ok
}

func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal returns true if a job in this status will never transition again, barring the
// failed->queued retry path.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCanceled
}

// CanTransitionTo reports whether moving from s to next is a legal transition.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	edges, ok := validTransitions[s]
	if !ok {
		return false
	}
	return edges[next]
}

func (s *JobStatus) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	str, ok := src.(string)
	if !ok {
		if b, ok := src.([]byte); ok {
			str = string(b)
		} else {
			return fmt.Errorf("unsupported type for job status: %[1]T (%[1]v)", src)
		}
	}
	status, ok := jobStatuses[str]
	if !ok {
		return fmt.Errorf("unknown job status: %q", str)
	}
	*s = status
	return nil
}

func (s JobStatus) Value() (driver.Value, error) {
	return string(s), nil
}
