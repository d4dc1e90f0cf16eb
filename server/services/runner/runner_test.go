package runner_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/faceforge/orchestrator/common/logger"
	"github.com/faceforge/orchestrator/common/models"
	"github.com/faceforge/orchestrator/pipeline"
	"github.com/faceforge/orchestrator/server/services/event"
	"github.com/faceforge/orchestrator/server/services/runner"
	"github.com/faceforge/orchestrator/server/store"
	"github.com/faceforge/orchestrator/server/store/migrations"
)

func newTestStore(t *testing.T) *store.JobStore {
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

	return store.NewJobStore(db)
}

func newRunningJob(t *testing.T, jobStore *store.JobStore, workDir string) *models.Job {
	t.Helper()
	target := filepath.Join(workDir, "in.mp4")
	require.NoError(t, os.WriteFile(target, []byte("fixture"), 0o644))

	request := models.RunRequest{
		TargetPath: target,
		OutputPath: filepath.Join(workDir, "out.mp4"),
	}
	id, err := models.GenerateJobID("job")
	require.NoError(t, err)
	now := models.NewTime(time.Now())
	job := models.NewJob(id, request, now)
	require.NoError(t, jobStore.CreateJob(context.Background(), job))
	require.NoError(t, job.TransitionTo(models.JobStatusQueued, now))
	require.NoError(t, job.TransitionTo(models.JobStatusRunning, now))
	require.NoError(t, jobStore.UpdateJob(context.Background(), job))
	return job
}

func newTestLogFactory(t *testing.T) logger.LogFactory {
	t.Helper()
	logRegistry, err := logger.NewLogRegistry(logger.LogLevelConfig(""))
	require.NoError(t, err)
	return logger.MakeLogrusLogFactoryStdOut(logRegistry)
}

func TestRunCompletesJobOnSuccessfulPipeline(t *testing.T) {
	jobStore := newTestStore(t)
	workDir := t.TempDir()
	job := newRunningJob(t, jobStore, workDir)

	bus := event.NewEventBus(newTestLogFactory(t), event.DefaultSubscriberQueueSize)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop()

	sub := bus.SubscribeJob(job.ID)
	defer bus.Unsubscribe(sub)

	r, err := runner.NewRunner(job, jobStore, bus, newTestLogFactory(t), "", nil)
	require.NoError(t, err)

	r.Run(ctx, pipeline.NoOp(), []string{workDir})

	require.Equal(t, models.JobStatusCompleted, job.Status)
	require.Equal(t, 1.0, job.Progress)
	require.NotNil(t, job.CompletedAt)

	stored, err := jobStore.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, stored.Status)

	sawTerminal := false
	for {
		select {
		case evt, ok := <-sub.C:
			if !ok {
				sawTerminal = true
			} else if evt.Status == models.JobStatusCompleted {
				sawTerminal = true
			}
		case <-time.After(time.Second):
			require.True(t, sawTerminal, "expected a terminal status event")
			return
		}
		if sawTerminal {
			return
		}
	}
}

func TestRunFailsJobWhenPipelineReturnsFalse(t *testing.T) {
	jobStore := newTestStore(t)
	workDir := t.TempDir()
	job := newRunningJob(t, jobStore, workDir)

	bus := event.NewEventBus(newTestLogFactory(t), event.DefaultSubscriberQueueSize)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop()

	r, err := runner.NewRunner(job, jobStore, bus, newTestLogFactory(t), "", nil)
	require.NoError(t, err)

	failing := pipeline.Func(func(ctx context.Context, config map[string]interface{}, onProgress pipeline.ProgressFunc, isCanceled pipeline.IsCanceledFunc) (bool, error) {
		onProgress(pipeline.PhaseAnalysing, 1.0)
		return false, nil
	})

	r.Run(ctx, failing, []string{workDir})

	require.Equal(t, models.JobStatusFailed, job.Status)
	require.Equal(t, models.ErrorCodePipelineFailed, job.ErrorCode)
}

func TestRunFailsJobWhenPipelineErrors(t *testing.T) {
	jobStore := newTestStore(t)
	workDir := t.TempDir()
	job := newRunningJob(t, jobStore, workDir)

	bus := event.NewEventBus(newTestLogFactory(t), event.DefaultSubscriberQueueSize)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop()

	r, err := runner.NewRunner(job, jobStore, bus, newTestLogFactory(t), "", nil)
	require.NoError(t, err)

	erroring := pipeline.Func(func(ctx context.Context, config map[string]interface{}, onProgress pipeline.ProgressFunc, isCanceled pipeline.IsCanceledFunc) (bool, error) {
		return false, errors.New("model load failed")
	})

	r.Run(ctx, erroring, []string{workDir})

	require.Equal(t, models.JobStatusFailed, job.Status)
	require.Equal(t, models.ErrorCodeInternal, job.ErrorCode)
	require.Contains(t, job.ErrorMessage, "model load failed")
}

func TestRunCancelsJobWhenCancelRequested(t *testing.T) {
	jobStore := newTestStore(t)
	workDir := t.TempDir()
	job := newRunningJob(t, jobStore, workDir)
	require.NoError(t, jobStore.SetCancelRequested(context.Background(), job.ID))

	bus := event.NewEventBus(newTestLogFactory(t), event.DefaultSubscriberQueueSize)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop()

	r, err := runner.NewRunner(job, jobStore, bus, newTestLogFactory(t), "", nil)
	require.NoError(t, err)

	r.Run(ctx, pipeline.NoOp(), []string{workDir})

	require.Equal(t, models.JobStatusCanceled, job.Status)
	require.Equal(t, models.ErrorCodeCanceled, job.ErrorCode)
}

func TestRunFailsJobWithPathErrorOutsideAllowedRoots(t *testing.T) {
	jobStore := newTestStore(t)
	workDir := t.TempDir()
	job := newRunningJob(t, jobStore, workDir)

	bus := event.NewEventBus(newTestLogFactory(t), event.DefaultSubscriberQueueSize)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop()

	r, err := runner.NewRunner(job, jobStore, bus, newTestLogFactory(t), "", nil)
	require.NoError(t, err)

	// allowedRoots deliberately excludes workDir, so path validation must reject the job's
	// own target path before the pipeline is ever invoked.
	r.Run(ctx, pipeline.NoOp(), []string{t.TempDir()})

	require.Equal(t, models.JobStatusFailed, job.Status)
	require.Equal(t, models.ErrorCodePath, job.ErrorCode)
}

func TestRunWritesPerJobLogFile(t *testing.T) {
	jobStore := newTestStore(t)
	workDir := t.TempDir()
	job := newRunningJob(t, jobStore, workDir)
	logDir := t.TempDir()

	bus := event.NewEventBus(newTestLogFactory(t), event.DefaultSubscriberQueueSize)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop()

	r, err := runner.NewRunner(job, jobStore, bus, newTestLogFactory(t), logDir, nil)
	require.NoError(t, err)

	r.Run(ctx, pipeline.NoOp(), []string{workDir})

	entries, err := os.ReadDir(logDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Contains(t, entries[0].Name(), job.ID)
}
