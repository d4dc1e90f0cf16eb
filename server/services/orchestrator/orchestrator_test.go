package orchestrator_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/faceforge/orchestrator/common/logger"
	"github.com/faceforge/orchestrator/common/models"
	"github.com/faceforge/orchestrator/pipeline"
	"github.com/faceforge/orchestrator/server/services/event"
	"github.com/faceforge/orchestrator/server/services/orchestrator"
	"github.com/faceforge/orchestrator/server/services/resource"
	"github.com/faceforge/orchestrator/server/store"
	"github.com/faceforge/orchestrator/server/store/migrations"
)

func newTestOrchestrator(t *testing.T, pl pipeline.Pipeline) (*orchestrator.Orchestrator, *event.EventBus, string) {
	return newTestOrchestratorWithConfig(t, pl, orchestrator.Config{
		PollInterval: time.Millisecond,
	})
}

// newTestOrchestratorWithConfig is like newTestOrchestrator but lets the caller tune Config
// fields (AllowedRoots and PollInterval are always overwritten to valid test defaults).
func newTestOrchestratorWithConfig(t *testing.T, pl pipeline.Pipeline, cfg orchestrator.Config) (*orchestrator.Orchestrator, *event.EventBus, string) {
	t.Helper()
	logRegistry, err := logger.NewLogRegistry(logger.LogLevelConfig(""))
	require.NoError(t, err)
	logFactory := logger.MakeLogrusLogFactoryStdOut(logRegistry)

	migrationRunner := migrations.NewOrchestratorMigrateRunner(logFactory)
	db, cleanup, err := store.NewDatabase(context.Background(), store.DatabaseConfig{
		ConnectionString:   ":memory:",
		Driver:             store.Sqlite,
		MaxIdleConnections: 1,
		MaxOpenConnections: 1,
	}, migrationRunner)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	jobStore := store.NewJobStore(db)
	bus := event.NewEventBus(logFactory, event.DefaultSubscriberQueueSize)
	// A real clock, not a mock one: these tests rely on the worker pool actually making
	// progress through a poll loop and GPU-acquisition timeout, neither of which a mock
	// clock would advance on its own.
	clk := clock.New()
	resources := resource.NewResourceManager(resource.ResourceLimits{
		MaxGPUJobs:         1,
		MaxCPUWorkers:      1,
		MaxFFmpegProcesses: 1,
		GPUTimeout:         time.Minute,
	}, clk)

	workDir := t.TempDir()
	cfg.AllowedRoots = []string{workDir}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	orch := orchestrator.New(cfg, jobStore, bus, resources, pl, logFactory, clk)

	ctx := context.Background()
	bus.Start(ctx)
	t.Cleanup(bus.Stop)
	orch.Start(ctx)
	t.Cleanup(orch.Stop)

	return orch, bus, workDir
}

// newTestRequest writes a real target file under workDir and returns a RunRequest pointing at
// it, so path validation (which requires the target to actually exist) succeeds.
func newTestRequest(t *testing.T, workDir, name string) models.RunRequest {
	t.Helper()
	target := filepath.Join(workDir, name+"-in.mp4")
	require.NoError(t, os.WriteFile(target, []byte("fixture"), 0o644))
	return models.RunRequest{
		TargetPath: target,
		OutputPath: filepath.Join(workDir, name+"-out.mp4"),
	}
}

func TestSubmitDeduplicatesIdenticalActiveRequests(t *testing.T) {
	orch, _, workDir := newTestOrchestrator(t, pipeline.NoOp())
	ctx := context.Background()

	req := newTestRequest(t, workDir, "dup")
	first, err := orch.Submit(ctx, req)
	require.NoError(t, err)

	second, err := orch.Submit(ctx, req)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID, "resubmitting identical work must not create a second job")
}

func TestSubmitDoesNotDeduplicateDifferentRequests(t *testing.T) {
	orch, _, workDir := newTestOrchestrator(t, pipeline.NoOp())
	ctx := context.Background()

	first, err := orch.Submit(ctx, newTestRequest(t, workDir, "first"))
	require.NoError(t, err)
	second, err := orch.Submit(ctx, newTestRequest(t, workDir, "second"))
	require.NoError(t, err)

	require.NotEqual(t, first.ID, second.ID)
}

func TestUnqueueJobResetsQueuedJobToDrafted(t *testing.T) {
	orch, _, workDir := newTestOrchestrator(t, pipeline.NoOp())
	ctx := context.Background()

	job, err := orch.Submit(ctx, newTestRequest(t, workDir, "unqueue"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, err := orch.GetJob(ctx, job.ID)
		require.NoError(t, err)
		return j.Status == models.JobStatusQueued || j.Status.IsTerminal()
	}, time.Second, time.Millisecond)

	j, err := orch.GetJob(ctx, job.ID)
	require.NoError(t, err)
	if j.Status != models.JobStatusQueued {
		t.Skip("job was already claimed by the worker pool before it could be unqueued")
	}

	ok, err := orch.UnqueueJob(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)

	j, err = orch.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusDrafted, j.Status)
}

func TestUnqueueJobReportsFalseForNonQueuedJob(t *testing.T) {
	orch, _, workDir := newTestOrchestrator(t, pipeline.NoOp())
	ctx := context.Background()

	job, err := orch.Submit(ctx, newTestRequest(t, workDir, "nonqueued"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, err := orch.GetJob(ctx, job.ID)
		require.NoError(t, err)
		return j.Status.IsTerminal()
	}, 2*time.Second, time.Millisecond)

	ok, err := orch.UnqueueJob(ctx, job.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStatusCountsReflectsJobLifecycle(t *testing.T) {
	orch, _, workDir := newTestOrchestrator(t, pipeline.NoOp())
	ctx := context.Background()

	job, err := orch.Submit(ctx, newTestRequest(t, workDir, "status"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, err := orch.GetJob(ctx, job.ID)
		require.NoError(t, err)
		return j.Status.IsTerminal()
	}, 2*time.Second, time.Millisecond)

	counts, err := orch.StatusCounts(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), counts[models.JobStatusCompleted])
}

// TestCancelBeforeRunJobLeavesJobCanceledWithoutRunning reproduces the race-free window a
// caller gets between queuing a job and actually dispatching it: with continuous polling
// disabled, a queued job sits untouched until RunJob is called, so canceling it first must
// leave it canceled with no worker ever having claimed or run it.
func TestCancelBeforeRunJobLeavesJobCanceledWithoutRunning(t *testing.T) {
	orch, bus, workDir := newTestOrchestratorWithConfig(t, pipeline.NoOp(), orchestrator.Config{
		DisableContinuousPoll: true,
	})
	ctx := context.Background()

	job, err := orch.Submit(ctx, newTestRequest(t, workDir, "race"))
	require.NoError(t, err)

	j, err := orch.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusQueued, j.Status, "submit only queues the job; with polling disabled it must not start on its own")

	sub := bus.SubscribeJob(job.ID)
	defer bus.Unsubscribe(sub)

	require.NoError(t, orch.CancelJob(ctx, job.ID))

	j, err = orch.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCanceled, j.Status)

	ok, err := orch.RunJob(ctx, job.ID)
	require.NoError(t, err)
	require.False(t, ok, "RunJob on an already-canceled job must be a no-op")

	// Give any (incorrectly) woken worker a chance to act, then confirm it never did: the job
	// must still be canceled, and no running/completed/failed status event was ever published
	// for it.
	time.Sleep(20 * time.Millisecond)

	j, err = orch.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCanceled, j.Status)

	for {
		select {
		case evt := <-sub.C:
			require.NotEqual(t, models.JobStatusRunning, evt.Status, "a canceled-while-queued job must never be claimed and run")
		default:
			return
		}
	}
}

func TestDeleteJobRemovesIt(t *testing.T) {
	orch, _, workDir := newTestOrchestrator(t, pipeline.NoOp())
	ctx := context.Background()

	job, err := orch.Submit(ctx, newTestRequest(t, workDir, "delete"))
	require.NoError(t, err)
	require.NoError(t, orch.DeleteJob(ctx, job.ID))

	_, err = orch.GetJob(ctx, job.ID)
	require.Error(t, err)
}
