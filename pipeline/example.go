package pipeline

import "context"

// NoOp returns a Pipeline that reports progress through each phase in turn and completes
// successfully without doing any real work. It exists so the orchestrator process has
// something to run out of the box, and as a scripted fixture for tests; a real deployment
// wires in its own Pipeline implementation instead.
func NoOp() Pipeline {
	return Func(func(ctx context.Context, config map[string]interface{}, onProgress ProgressFunc, isCanceled IsCanceledFunc) (bool, error) {
		phases := []Phase{PhaseAnalysing, PhaseExtracting, PhaseProcessing, PhaseMerging}
		for _, phase := range phases {
			if isCanceled() {
				return false, nil
			}
			onProgress(phase, 1.0)
		}
		return true, nil
	})
}
