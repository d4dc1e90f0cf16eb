package models

const (
	// StepStatusPending indicates the step has not started yet.
	StepStatusPending StepStatus = "pending"
	// StepStatusRunning indicates the step is currently executing.
	StepStatusRunning StepStatus = "running"
	// StepStatusCompleted indicates the step finished successfully.
	StepStatusCompleted StepStatus = "completed"
	// StepStatusFailed indicates the step finished with an error.
	StepStatusFailed StepStatus = "failed"
	// StepStatusSkipped indicates the step was not executed, e.g. because the job was canceled first.
	StepStatusSkipped StepStatus = "skipped"
)

var stepStatuses = map[string]StepStatus{
	string(StepStatusPending):   StepStatusPending,
	string(StepStatusRunning):   StepStatusRunning,
	string(StepStatusCompleted): StepStatusCompleted,
	string(StepStatusFailed):    StepStatusFailed,
	string(StepStatusSkipped):   StepStatusSkipped,
}

// StepStatus is the lifecycle state of a single Step within a Job.
type StepStatus string

func (s StepStatus) Valid() bool {
	_, ok := stepStatuses[string(s)]
	return ok
}

func (s StepStatus) String() string {
	return string(s)
}

// Step is a single named phase of work within a Job, e.g. "extracting" or "merging".
// A Job's Steps slice is persisted as part of its JSON-encoded state; steps are not
// queried independently, so they carry no identifier of their own beyond Index/Name.
type Step struct {
	Index    int        `json:"index"`
	Name     string     `json:"name"`
	Status   StepStatus `json:"status"`
	Progress float64    `json:"progress"`
}

// NewStep returns a Step in its initial pending state.
func NewStep(index int, name string) Step {
	return Step{Index: index, Name: name, Status: StepStatusPending}
}

// ToDict returns a plain map representation of the step, used when a step needs to be
// embedded in a context that isn't itself marshalled through encoding/json (e.g. an
// event payload assembled field by field).
func (s Step) ToDict() map[string]interface{} {
	return map[string]interface{}{
		"index":    s.Index,
		"name":     s.Name,
		"status":   s.Status.String(),
		"progress": s.Progress,
	}
}
