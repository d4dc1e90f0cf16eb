package runner

import (
	"context"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/faceforge/orchestrator/common/gerror"
	"github.com/faceforge/orchestrator/common/logger"
	"github.com/faceforge/orchestrator/common/models"
	"github.com/faceforge/orchestrator/common/util"
	"github.com/faceforge/orchestrator/pipeline"
	"github.com/faceforge/orchestrator/server/services/event"
	"github.com/faceforge/orchestrator/server/services/security"
	"github.com/faceforge/orchestrator/server/store"
)

// progressThrottleInterval bounds how often a progress update is persisted and published; the
// final update to 1.0 always goes through immediately regardless of this interval.
const progressThrottleInterval = 200 * time.Millisecond

// Runner adapts a single Job to the opaque pipeline.Pipeline contract: it validates the job's
// paths, drives the pipeline to completion, translates the pipeline's phase-local progress
// into the job's overall progress, and reconciles the job's final status from how the
// pipeline returned.
type Runner struct {
	job   *models.Job
	store *store.JobStore
	bus   *event.EventBus
	log   logger.Log
	clock clock.Clock

	jobLog      logger.Log
	jobLogClose func() error

	mu             sync.Mutex
	lastUpdateTime time.Time
}

// NewRunner constructs a Runner for job, opening a dedicated per-job structured log file under
// logDir (if logDir is non-empty).
func NewRunner(
	job *models.Job,
	jobStore *store.JobStore,
	bus *event.EventBus,
	logFactory logger.LogFactory,
	logDir string,
	clk clock.Clock,
) (*Runner, error) {
	if clk == nil {
		clk = clock.New()
	}
	r := &Runner{
		job:   job,
		store: jobStore,
		bus:   bus,
		log:   logFactory("Runner"),
		clock: clk,
	}
	if logDir != "" {
		// job.ID may have been supplied verbatim by the caller (RunRequest.JobID), so it is
		// escaped before becoming part of a filesystem path rather than trusted directly.
		jobLog, closeFn, err := logger.MakeLogrusFileLoggerJSON(
			logger.LogFilePath(filepath.Join(logDir, util.EscapeFileName(job.ID)+".json.log")),
			logrus.DebugLevel,
			logger.Fields{"job_id": job.ID},
		)
		if err != nil {
			r.log.Warnf("error creating per-job log file for job %s: %v", job.ID, err)
		} else {
			r.jobLog = jobLog
			r.jobLogClose = closeFn
		}
	}
	if r.jobLog == nil {
		r.jobLog = logger.NewNoOpLog()
	}
	return r, nil
}

// IsCanceled reports whether cancellation has been requested for this job.
func (r *Runner) IsCanceled(ctx context.Context) bool {
	canceled, err := r.store.IsCancelRequested(ctx, r.job.ID)
	if err != nil {
		r.log.Warnf("error checking cancel_requested for job %s: %v", r.job.ID, err)
		return false
	}
	return canceled
}

// phaseWeights maps each known pipeline phase to the [low, high) slice of overall job
// progress it accounts for.
var phaseWeights = map[pipeline.Phase][2]float64{
	pipeline.PhaseAnalysing:  {0.00, 0.05},
	pipeline.PhaseExtracting: {0.05, 0.15},
	pipeline.PhaseProcessing: {0.15, 0.90},
	pipeline.PhaseMerging:    {0.90, 1.00},
}

// onProgress is the callback handed to the pipeline. It maps a phase-local fraction onto
// overall job progress, throttles how often that gets persisted/published, and always lets a
// final progress of 1.0 through immediately.
func (r *Runner) onProgress(ctx context.Context, phase pipeline.Phase, fraction float64) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}

	overall := fraction
	if weights, ok := phaseWeights[phase]; ok {
		low, high := weights[0], weights[1]
		overall = low + fraction*(high-low)
	}

	r.mu.Lock()
	now := r.clock.Now()
	elapsed := now.Sub(r.lastUpdateTime)
	if overall < 1.0 && elapsed < progressThrottleInterval {
		r.mu.Unlock()
		return
	}
	r.lastUpdateTime = now
	r.mu.Unlock()

	nowModel := models.NewTime(now)
	r.job.UpdateProgress(overall, nowModel)
	if err := r.store.UpdateProgress(ctx, r.job.ID, overall); err != nil {
		r.log.Warnf("error persisting progress for job %s: %v", r.job.ID, err)
	}
	r.bus.Publish(event.NewProgressEvent(r.job.ID, overall, nowModel))
}

// logLine publishes a single log line both to the job's dedicated structured log file and to
// the event bus, so a WebSocket firehose subscriber sees it in real time.
func (r *Runner) logLine(level, message string) {
	switch level {
	case "error":
		r.jobLog.Error(message)
	case "warn":
		r.jobLog.Warn(message)
	default:
		r.jobLog.Info(message)
	}
	r.bus.Publish(event.NewLogEvent(r.job.ID, level, message, models.NewTime(r.clock.Now())))
}

// Run validates the job's input/output paths, drives pl to completion, and reconciles the
// job's final status. It never returns an error itself: failures are recorded on the job and
// persisted, since a job failing is an expected outcome, not a bug in the runner.
func (r *Runner) Run(ctx context.Context, pl pipeline.Pipeline, allowedRoots []string) {
	defer func() {
		if r.jobLogClose != nil {
			_ = r.jobLogClose()
		}
	}()
	defer func() {
		if rec := recover(); rec != nil {
			now := models.NewTime(r.clock.Now())
			if r.job.Metadata == nil {
				r.job.Metadata = models.JobMetadata{}
			}
			r.job.Metadata["traceback"] = string(debug.Stack())
			r.job.Fail(models.ErrorCodeInternal, "Unexpected error: panic recovered in runner", now)
			r.persist(ctx)
			r.publishTerminal(now)
			r.log.Errorf("recovered panic running job %s: %v", r.job.ID, rec)
		}
	}()

	now := models.NewTime(r.clock.Now())

	targetPath, _ := r.job.Config["target_path"].(string)
	outputPath, _ := r.job.Config["output_path"].(string)
	sourcePaths := stringsFromConfig(r.job.Config["source_paths"])

	if _, err := security.ValidateInputPath(targetPath, allowedRoots); err != nil {
		r.failWithPathError(ctx, err, now)
		return
	}
	for _, sourcePath := range sourcePaths {
		if _, err := security.ValidateInputPath(sourcePath, allowedRoots); err != nil {
			r.failWithPathError(ctx, err, now)
			return
		}
	}
	if _, err := security.ValidateOutputPath(outputPath, allowedRoots); err != nil {
		r.failWithPathError(ctx, err, now)
		return
	}

	if step := r.job.Step(0); step != nil {
		step.Status = models.StepStatusRunning
	}
	r.persist(ctx)

	onProgress := func(phase pipeline.Phase, fraction float64) { r.onProgress(ctx, phase, fraction) }
	isCanceled := func() bool { return r.IsCanceled(ctx) }

	ok, execErr := pl.Execute(ctx, r.job.Config, onProgress, isCanceled)

	now = models.NewTime(r.clock.Now())
	switch {
	case execErr != nil:
		if step := r.job.Step(0); step != nil {
			step.Status = models.StepStatusFailed
		}
		r.job.Fail(models.ErrorCodeInternal, "Unexpected error: "+execErr.Error(), now)
	case r.IsCanceled(ctx):
		if step := r.job.Step(0); step != nil {
			step.Status = models.StepStatusSkipped
		}
		r.job.ErrorCode = models.ErrorCodeCanceled
		r.job.ErrorMessage = "Job canceled"
		if err := r.job.TransitionTo(models.JobStatusCanceled, now); err != nil {
			r.log.Warnf("error transitioning job %s to canceled: %v", r.job.ID, err)
		}
	case ok:
		if step := r.job.Step(0); step != nil {
			step.Status = models.StepStatusCompleted
			step.Progress = 1.0
		}
		r.job.UpdateProgress(1.0, now)
		if err := r.job.TransitionTo(models.JobStatusCompleted, now); err != nil {
			r.log.Warnf("error transitioning job %s to completed: %v", r.job.ID, err)
		}
	default:
		if step := r.job.Step(0); step != nil {
			step.Status = models.StepStatusFailed
		}
		r.job.Fail(models.ErrorCodePipelineFailed, "Pipeline processing failed", now)
	}

	r.persist(ctx)
	r.publishTerminal(now)
}

// stringsFromConfig coerces a config value that started life as a []string (set directly by
// RunRequest.ToConfig on a freshly submitted job) or came back as []interface{} (after a JSON
// round trip through the store) into a plain []string, skipping anything else.
func stringsFromConfig(v interface{}) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func (r *Runner) failWithPathError(ctx context.Context, err error, now models.Time) {
	message := "invalid path"
	if gerr := gerror.ToPathError(err); gerr != nil {
		message = gerr.Message()
	}
	r.job.Fail(models.ErrorCodePath, message, now)
	r.persist(ctx)
	r.publishTerminal(now)
}

func (r *Runner) persist(ctx context.Context) {
	if err := r.store.UpdateJob(ctx, r.job); err != nil {
		r.log.Errorf("error persisting job %s: %v", r.job.ID, err)
	}
}

func (r *Runner) publishTerminal(now models.Time) {
	r.bus.Publish(event.NewStatusEvent(r.job.ID, r.job.Status, now))
}
