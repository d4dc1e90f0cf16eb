// Package pipeline defines the contract between the orchestrator and the actual media
// processing work it schedules. The orchestrator knows nothing about faces, frames, codecs or
// models - it only knows how to drive something implementing Pipeline to completion while
// tracking progress and honoring cancellation.
package pipeline

import "context"

// Phase identifies a named stage of a pipeline's execution, used by the runner to translate a
// phase-local progress value into an overall job progress value.
type Phase string

const (
	PhaseAnalysing  Phase = "analysing"
	PhaseExtracting Phase = "extracting"
	PhaseProcessing Phase = "processing"
	PhaseMerging    Phase = "merging"
)

// ProgressFunc is called by a Pipeline to report progress within the current phase, as a
// fraction in [0, 1]. An empty phase is treated as a pass-through: the reported value is
// forwarded as overall job progress unchanged.
type ProgressFunc func(phase Phase, fraction float64)

// IsCanceledFunc is polled by a Pipeline between units of work to decide whether to stop early.
type IsCanceledFunc func() bool

// Pipeline is the opaque external unit of work a Runner drives to completion. Config is the
// job's configuration map (see models.RunRequest.ToConfig). Implementations should poll
// isCanceled regularly and return promptly (with ok=false) once it reports true, and should
// call onProgress from within the same goroutine Execute runs on.
type Pipeline interface {
	Execute(ctx context.Context, config map[string]interface{}, onProgress ProgressFunc, isCanceled IsCanceledFunc) (ok bool, err error)
}

// Func adapts a plain function to the Pipeline interface.
type Func func(ctx context.Context, config map[string]interface{}, onProgress ProgressFunc, isCanceled IsCanceledFunc) (bool, error)

func (f Func) Execute(ctx context.Context, config map[string]interface{}, onProgress ProgressFunc, isCanceled IsCanceledFunc) (bool, error) {
	return f(ctx, config, onProgress, isCanceled)
}
