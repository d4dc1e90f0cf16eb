package event

import "github.com/faceforge/orchestrator/common/models"

const (
	// EventTypeDrafted is published the moment a job is created, before it is queued.
	EventTypeDrafted EventType = "drafted"
	// EventTypeQueued is published when a job is placed on (or returned to) the queue.
	EventTypeQueued EventType = "queued"
	// EventTypeRunning is published when a worker picks up a job and begins executing it.
	EventTypeRunning EventType = "running"
	// EventTypeProgress is published whenever a job's progress advances (subject to throttling).
	EventTypeProgress EventType = "progress"
	// EventTypeStepStarted is published when an individual step transitions to running.
	EventTypeStepStarted EventType = "step_started"
	// EventTypeStepCompleted is published when an individual step finishes, successfully or not.
	EventTypeStepCompleted EventType = "step_completed"
	// EventTypeCompleted is published when a job finishes successfully.
	EventTypeCompleted EventType = "completed"
	// EventTypeFailed is published when a job finishes with an error.
	EventTypeFailed EventType = "failed"
	// EventTypeCanceled is published when a job is stopped due to cancellation.
	EventTypeCanceled EventType = "canceled"
	// EventTypeCancelRequested is published as soon as a cancellation request is recorded,
	// ahead of the job actually stopping.
	EventTypeCancelRequested EventType = "cancel_requested"
	// EventTypeLog is published for a single log line emitted during job execution.
	EventTypeLog EventType = "log"
)

// EventType identifies the kind of JobEvent being published.
type EventType string

func (t EventType) String() string {
	return string(t)
}

// IsTerminal reports whether this event type marks the end of a job's lifecycle; a per-job
// subscription stream is closed after delivering a terminal event.
func (t EventType) IsTerminal() bool {
	return t == EventTypeCompleted || t == EventTypeFailed || t == EventTypeCanceled
}

// JobEvent is a single notification about a job's state, published to both per-job and
// global subscribers.
type JobEvent struct {
	Type      EventType   `json:"type"`
	JobID     string      `json:"job_id"`
	Progress  float64     `json:"progress,omitempty"`
	Status    models.JobStatus `json:"status,omitempty"`
	Message   string      `json:"message,omitempty"`
	Level     string      `json:"level,omitempty"`
	Timestamp models.Time `json:"timestamp"`
}

// NewProgressEvent builds an EventTypeProgress notification.
func NewProgressEvent(jobID string, progress float64, now models.Time) JobEvent {
	return JobEvent{Type: EventTypeProgress, JobID: jobID, Progress: progress, Timestamp: now}
}

// NewStatusEvent builds a notification for a job status change. The event type is derived
// from the status (e.g. JobStatusRunning -> EventTypeRunning).
func NewStatusEvent(jobID string, status models.JobStatus, now models.Time) JobEvent {
	return JobEvent{Type: eventTypeForStatus(status), JobID: jobID, Status: status, Timestamp: now}
}

// NewLogEvent builds an EventTypeLog notification carrying a single log line.
func NewLogEvent(jobID, level, message string, now models.Time) JobEvent {
	return JobEvent{Type: EventTypeLog, JobID: jobID, Level: level, Message: message, Timestamp: now}
}

// NewCancelRequestedEvent builds an EventTypeCancelRequested notification.
func NewCancelRequestedEvent(jobID string, now models.Time) JobEvent {
	return JobEvent{Type: EventTypeCancelRequested, JobID: jobID, Timestamp: now}
}

func eventTypeForStatus(status models.JobStatus) EventType {
	switch status {
	case models.JobStatusDrafted:
		return EventTypeDrafted
	case models.JobStatusQueued:
		return EventTypeQueued
	case models.JobStatusRunning:
		return EventTypeRunning
	case models.JobStatusCompleted:
		return EventTypeCompleted
	case models.JobStatusFailed:
		return EventTypeFailed
	case models.JobStatusCanceled:
		return EventTypeCanceled
	default:
		return EventTypeLog
	}
}
