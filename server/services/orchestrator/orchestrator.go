// Package orchestrator is the front door of the job system: it accepts run requests, owns the
// worker pool that executes queued jobs, and reconciles jobs left dangling by a process crash.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"

	"github.com/faceforge/orchestrator/common/logger"
	"github.com/faceforge/orchestrator/common/models"
	"github.com/faceforge/orchestrator/common/util"
	"github.com/faceforge/orchestrator/pipeline"
	"github.com/faceforge/orchestrator/server/services/event"
	"github.com/faceforge/orchestrator/server/services/resource"
	runnerpkg "github.com/faceforge/orchestrator/server/services/runner"
	"github.com/faceforge/orchestrator/server/store"
)

// Config configures an Orchestrator.
type Config struct {
	// AllowedRoots bounds where a job's input/output paths may resolve to.
	AllowedRoots []string
	// JobLogDir is where per-job structured log files are written. Empty disables them.
	JobLogDir string
	// PollInterval is how often idle workers check the queue for newly-queued work, unless
	// DisableContinuousPoll is set.
	PollInterval time.Duration
	// DisableContinuousPoll stops idle workers from polling the queue for any queued job on
	// PollInterval; only an explicit RunJob or RunQueued call then makes a queued job eligible
	// to run. The zero value (false) matches a long-running daemon's worker pool continuously
	// draining the queue on its own; callers that need a deterministic window to cancel a
	// queued job before it is ever dispatched set this to true.
	DisableContinuousPoll bool
}

// Orchestrator is the single point of contact for submitting, querying, and canceling jobs.
// It owns a worker pool sized to the resource manager's CPU worker count; each worker polls
// the store for the highest-priority queued job, runs it end to end through a Runner, and goes
// back to polling.
type Orchestrator struct {
	config    Config
	store     *store.JobStore
	bus       *event.EventBus
	resources *resource.ResourceManager
	pipeline  pipeline.Pipeline
	log       logger.Log
	clock     clock.Clock

	service *util.StatefulService
	workC   chan struct{} // signals a worker to wake up and poll immediately
}

func New(
	config Config,
	jobStore *store.JobStore,
	bus *event.EventBus,
	resources *resource.ResourceManager,
	pl pipeline.Pipeline,
	logFactory logger.LogFactory,
	clk clock.Clock,
) *Orchestrator {
	if clk == nil {
		clk = clock.New()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 500 * time.Millisecond
	}
	return &Orchestrator{
		config:    config,
		store:     jobStore,
		bus:       bus,
		resources: resources,
		pipeline:  pl,
		log:       logFactory("Orchestrator"),
		clock:     clk,
		workC:     make(chan struct{}, 1),
	}
}

// Start launches the worker pool and performs crash-recovery reconciliation of any job left
// in the running state by a previous process that didn't shut down cleanly.
func (o *Orchestrator) Start(ctx context.Context) {
	o.service = util.NewStatefulService(ctx, o.log, o.run)
	o.reconcileOrphans(o.service.Ctx())
	o.service.Start()
}

// Stop waits for in-flight workers to notice shutdown and exit; it does not forcibly cancel
// jobs that are currently running.
func (o *Orchestrator) Stop() {
	if o.service != nil {
		o.service.Stop()
	}
}

// reconcileOrphans fails any job still marked running at startup: a running job can only
// exist while the process that was executing it is alive, so one found at startup was
// abandoned by a previous, now-dead process.
func (o *Orchestrator) reconcileOrphans(ctx context.Context) {
	running := models.JobStatusRunning
	orphans, err := o.store.ListJobs(ctx, store.JobFilter{Status: &running})
	if err != nil {
		o.log.Errorf("error listing running jobs for crash recovery: %v", err)
		return
	}
	for _, job := range orphans {
		now := models.NewTime(o.clock.Now())
		job.Fail(models.ErrorCodeInternal, "orphaned", now)
		if err := o.store.UpdateJob(ctx, job); err != nil {
			o.log.Errorf("error reconciling orphaned job %s: %v", job.ID, err)
			continue
		}
		o.resources.ReleaseAll(job.ID)
		o.bus.Publish(event.NewStatusEvent(job.ID, job.Status, now))
		o.log.Warnf("reconciled orphaned job %s as failed", job.ID)
	}
}

// Submit creates a new job from request, stores it in the drafted state, and immediately
// queues it. Returns the created job. If an existing drafted, queued, or running job was
// already submitted with identical source paths, target, output, processors, and settings,
// that job is returned unchanged instead of creating a duplicate.
func (o *Orchestrator) Submit(ctx context.Context, request models.RunRequest) (*models.Job, error) {
	if fingerprint, err := request.Fingerprint(); err == nil {
		if existing, err := o.findActiveByFingerprint(ctx, fingerprint); err != nil {
			o.log.Warnf("error checking for duplicate submission: %v", err)
		} else if existing != nil {
			return existing, nil
		}
	}

	id := request.JobID
	if id == "" {
		var err error
		id, err = models.GenerateJobID(models.DefaultJobIDPrefix)
		if err != nil {
			return nil, fmt.Errorf("error generating job id: %w", err)
		}
	}
	now := models.NewTime(o.clock.Now())
	job := models.NewJob(id, request, now)

	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	o.bus.Publish(event.NewStatusEvent(job.ID, job.Status, now))

	if err := o.QueueJob(ctx, job.ID); err != nil {
		return nil, err
	}
	return o.GetJob(ctx, job.ID)
}

// findActiveByFingerprint returns the first non-terminal job matching fingerprint, or nil if
// none is found.
func (o *Orchestrator) findActiveByFingerprint(ctx context.Context, fingerprint string) (*models.Job, error) {
	if fingerprint == "" {
		return nil, nil
	}
	for _, status := range []models.JobStatus{
		models.JobStatusDrafted, models.JobStatusQueued, models.JobStatusRunning,
	} {
		s := status
		jobs, err := o.store.ListJobs(ctx, store.JobFilter{Status: &s})
		if err != nil {
			return nil, err
		}
		for _, job := range jobs {
			if job.Fingerprint() == fingerprint {
				return job, nil
			}
		}
	}
	return nil, nil
}

// QueueJob transitions a job from drafted (or failed, as a retry) to queued. Queuing a job does
// not wake a worker: a continuously-polling worker pool picks it up on its next poll tick
// unless DisableContinuousPoll is set, and only RunJob or RunQueued
// signals a worker to look immediately rather than waiting for the next poll tick.
func (o *Orchestrator) QueueJob(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	now := models.NewTime(o.clock.Now())
	if err := job.TransitionTo(models.JobStatusQueued, now); err != nil {
		return err
	}
	if err := o.store.UpdateJob(ctx, job); err != nil {
		return err
	}
	o.bus.Publish(event.NewStatusEvent(job.ID, job.Status, now))
	return nil
}

// RunJob submits a single queued job to the worker pool for immediate execution: it wakes an
// idle worker rather than waiting for the next poll tick (or, if DisableContinuousPoll is set,
// for a poll that would otherwise never happen). It returns true if jobID was queued at the
// time of the call; false if it was in any other status, in which case nothing is done - this
// is not an error, since calling RunJob on a job that was already started, finished, or
// canceled in the meantime is expected, not exceptional. Non-blocking: it returns before the
// job actually starts running.
func (o *Orchestrator) RunJob(ctx context.Context, jobID string) (bool, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job.Status != models.JobStatusQueued {
		return false, nil
	}
	o.wake()
	return true, nil
}

// CancelJob records a cancellation request for jobID. Cancellation is cooperative: a running
// job notices the request the next time its pipeline polls IsCanceled; a job that is still
// queued is moved straight to canceled here.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return nil // already finished; canceling is a no-op, not an error
	}
	if err := o.store.SetCancelRequested(ctx, jobID); err != nil {
		return err
	}
	now := models.NewTime(o.clock.Now())
	o.bus.Publish(event.NewCancelRequestedEvent(jobID, now))

	// A drafted job has no queued/running worker to notice cancel_requested and no direct
	// drafted->canceled edge in the state machine (drafted jobs are never executed, so there is
	// nothing to stop); recording the flag above is all cancellation means for it. A queued job
	// has not been claimed by a worker yet, so it is moved straight to canceled here rather than
	// left for a worker that would otherwise pick it up.
	if job.Status == models.JobStatusQueued {
		if err := job.TransitionTo(models.JobStatusCanceled, now); err == nil {
			if err := o.store.UpdateJob(ctx, job); err != nil {
				return err
			}
			o.bus.Publish(event.NewStatusEvent(jobID, job.Status, now))
		}
	}
	return nil
}

// SetPriority updates a job's dequeue priority. It takes effect on the job's next dequeue; a
// job already claimed by a worker is unaffected.
func (o *Orchestrator) SetPriority(ctx context.Context, jobID string, priority int) error {
	return o.store.SetPriority(ctx, jobID, priority)
}

// UnqueueJob moves a queued job back to drafted. This is an administrative reset rather than a
// step in the job's ordinary lifecycle (drafted->queued is the only forward edge the model
// allows), so it bypasses Job.TransitionTo and writes the status directly; it only succeeds
// when the job is currently queued; any other status is left untouched and reported as not done.
func (o *Orchestrator) UnqueueJob(ctx context.Context, jobID string) (bool, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job.Status != models.JobStatusQueued {
		return false, nil
	}
	now := models.NewTime(o.clock.Now())
	job.Status = models.JobStatusDrafted
	job.UpdatedAt = now
	if err := o.store.UpdateJob(ctx, job); err != nil {
		return false, err
	}
	o.bus.Publish(event.NewStatusEvent(job.ID, job.Status, now))
	return true, nil
}

// RunQueued wakes the worker pool so it immediately drains every currently queued job, rather
// than waiting for the next poll tick. It returns how many jobs were queued at the time of the
// call; workers may race ahead of that count by the time the caller observes it.
func (o *Orchestrator) RunQueued(ctx context.Context) (int, error) {
	queued := models.JobStatusQueued
	count, err := o.store.CountJobs(ctx, store.JobFilter{Status: &queued})
	if err != nil {
		return 0, err
	}
	o.wake()
	return int(count), nil
}

// StatusCounts returns the number of jobs currently in each lifecycle status.
func (o *Orchestrator) StatusCounts(ctx context.Context) (map[models.JobStatus]int64, error) {
	statuses := []models.JobStatus{
		models.JobStatusDrafted, models.JobStatusQueued, models.JobStatusRunning,
		models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCanceled,
	}
	counts := make(map[models.JobStatus]int64, len(statuses))
	for _, status := range statuses {
		s := status
		count, err := o.store.CountJobs(ctx, store.JobFilter{Status: &s})
		if err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, nil
}

// DeleteJob removes a job row permanently. Deleting a running or queued job does not stop or
// unqueue it; callers should cancel first.
func (o *Orchestrator) DeleteJob(ctx context.Context, jobID string) error {
	return o.store.DeleteJob(ctx, jobID)
}

// GetJob returns the current state of a job.
func (o *Orchestrator) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	return o.store.GetJob(ctx, jobID)
}

// ListJobs returns jobs matching filter.
func (o *Orchestrator) ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.Job, error) {
	return o.store.ListJobs(ctx, filter)
}

// ResourceStatus exposes the resource manager's current availability snapshot.
func (o *Orchestrator) ResourceStatus() resource.Status {
	return o.resources.Status()
}

func (o *Orchestrator) wake() {
	select {
	case o.workC <- struct{}{}:
	default:
	}
}

// run is the body of every worker goroutine in the pool: poll for the next queued job by
// priority, run it to completion, repeat. Workers share the same poll loop rather than each
// owning a private queue, since the store (not an in-process channel) is the authoritative
// queue - this keeps queued jobs durable across a restart.
func (o *Orchestrator) run() {
	workers := o.resources.CPUWorkerCount()
	if workers < 1 {
		workers = 1
	}
	var wg multierror.Group
	for i := 0; i < workers; i++ {
		wg.Go(func() error {
			o.workerLoop()
			return nil
		})
	}
	_ = wg.Wait()
}

func (o *Orchestrator) workerLoop() {
	ctx := o.service.Ctx()
	// A nil tickC is never ready in a select, so disabling continuous polling simply removes
	// this case from consideration: the worker then only wakes on an explicit RunJob/RunQueued
	// signal via workC.
	var tickC <-chan time.Time
	if !o.config.DisableContinuousPoll {
		ticker := o.clock.Ticker(o.config.PollInterval)
		defer ticker.Stop()
		tickC = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.workC:
		case <-tickC:
		}
		for o.runNextQueuedJob(ctx) {
			// keep draining the queue without waiting for the next tick
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	}
}

// runNextQueuedJob claims and runs the single highest-priority queued job, if any. Returns
// true if a job was found (regardless of how it finished), so the caller can keep draining.
func (o *Orchestrator) runNextQueuedJob(ctx context.Context) bool {
	queued := models.JobStatusQueued
	jobs, err := o.store.ListJobs(ctx, store.JobFilter{Status: &queued, Limit: 1})
	if err != nil {
		o.log.Errorf("error polling for queued jobs: %v", err)
		return false
	}
	if len(jobs) == 0 {
		return false
	}
	o.runJob(ctx, jobs[0])
	return true
}

func (o *Orchestrator) runJob(ctx context.Context, job *models.Job) {
	now := models.NewTime(o.clock.Now())
	claimed, err := o.store.ClaimJob(ctx, job.ID, now)
	if err != nil {
		o.log.Errorf("error claiming job %s: %v", job.ID, err)
		return
	}
	if !claimed {
		// Another worker (or a cancellation) already claimed this job between our list
		// query and now; nothing to do.
		return
	}
	job.Status = models.JobStatusRunning
	job.StartedAt = &now
	job.UpdatedAt = now
	o.bus.Publish(event.NewStatusEvent(job.ID, job.Status, now))

	r, err := runnerpkg.NewRunner(job, o.store, o.bus, func(subsystem string) logger.Log {
		return o.log
	}, o.config.JobLogDir, o.clock)
	if err != nil {
		o.log.Errorf("error creating runner for job %s: %v", job.ID, err)
		return
	}

	// GPU acquisition wraps the entire run, not just a sub-phase within it: the pipeline is
	// assumed to need the GPU for its whole duration, and holding the slot only around a
	// sub-phase would let two jobs interleave GPU use in ways the hardware can't actually support.
	release, err := o.resources.AcquireGPU(ctx, job.ID)
	if err != nil {
		now := models.NewTime(o.clock.Now())
		job.Fail(models.ErrorCodeInternal, fmt.Sprintf("error acquiring GPU: %v", err), now)
		_ = o.store.UpdateJob(ctx, job)
		o.bus.Publish(event.NewStatusEvent(job.ID, job.Status, now))
		return
	}
	defer release()

	r.Run(ctx, o.pipeline, o.config.AllowedRoots)
}
