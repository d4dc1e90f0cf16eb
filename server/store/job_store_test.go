package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/faceforge/orchestrator/common/gerror"
	"github.com/faceforge/orchestrator/common/logger"
	"github.com/faceforge/orchestrator/common/models"
	"github.com/faceforge/orchestrator/server/store"
	"github.com/faceforge/orchestrator/server/store/migrations"
)

func newTestJobStore(t *testing.T) *store.JobStore {
	t.Helper()
	logRegistry, err := logger.NewLogRegistry(logger.LogLevelConfig(""))
	require.NoError(t, err)
	logFactory := logger.MakeLogrusLogFactoryStdOut(logRegistry)
	migrationRunner := migrations.NewOrchestratorMigrateRunner(logFactory)

	// A single pooled connection to an in-memory database: NewDatabase gives ":memory:" a unique
	// shared-cache name so the migration runner's connection and the pool see the same database,
	// which lives as long as the pool keeps its connection open.
	db, cleanup, err := store.NewDatabase(context.Background(), store.DatabaseConfig{
		ConnectionString:   store.DatabaseConnectionString(":memory:"),
		Driver:             store.Sqlite,
		MaxIdleConnections: 1,
		MaxOpenConnections: 1,
	}, migrationRunner)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	return store.NewJobStore(db)
}

func newTestJob(id string) *models.Job {
	now := models.NewTime(time.Now())
	return models.NewJob(id, models.RunRequest{TargetPath: "/in.mp4", OutputPath: "/out.mp4"}, now)
}

func TestJobStoreCreateAndGet(t *testing.T) {
	s := newTestJobStore(t)
	ctx := context.Background()

	job := newTestJob("job-1")
	require.NoError(t, s.CreateJob(ctx, job))

	fetched, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, job.ID, fetched.ID)
	require.Equal(t, models.JobStatusDrafted, fetched.Status)
	require.Equal(t, "/in.mp4", fetched.Config["target_path"])

	_, err = s.GetJob(ctx, "does-not-exist")
	require.True(t, gerror.IsNotFound(err))
}

func TestJobStoreCreateRejectsDuplicateID(t *testing.T) {
	s := newTestJobStore(t)
	ctx := context.Background()

	job := newTestJob("job-dup")
	require.NoError(t, s.CreateJob(ctx, job))

	err := s.CreateJob(ctx, newTestJob("job-dup"))
	require.Error(t, err)
	require.True(t, gerror.IsAlreadyExists(err))
}

func TestJobStoreListJobsOrdersByPriorityThenCreatedAt(t *testing.T) {
	s := newTestJobStore(t)
	ctx := context.Background()

	low := newTestJob("job-low")
	low.CreatedAt = models.NewTime(time.Now())
	require.NoError(t, s.CreateJob(ctx, low))

	high := newTestJob("job-high")
	high.CreatedAt = models.NewTime(time.Now().Add(time.Second))
	require.NoError(t, s.CreateJob(ctx, high))
	require.NoError(t, s.SetPriority(ctx, "job-high", 10))

	jobs, err := s.ListJobs(ctx, store.JobFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "job-high", jobs[0].ID, "higher priority job must be listed first")
	require.Equal(t, "job-low", jobs[1].ID)
}

func TestJobStoreUpdateProgressIsConditional(t *testing.T) {
	s := newTestJobStore(t)
	ctx := context.Background()

	job := newTestJob("job-progress")
	require.NoError(t, s.CreateJob(ctx, job))

	require.NoError(t, s.UpdateProgress(ctx, job.ID, 0.5))
	fetched, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, 0.5, fetched.Progress)

	// Lower progress is silently ignored rather than regressing the stored value.
	require.NoError(t, s.UpdateProgress(ctx, job.ID, 0.1))
	fetched, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, 0.5, fetched.Progress)
}

func TestJobStoreClaimJobIsExclusive(t *testing.T) {
	s := newTestJobStore(t)
	ctx := context.Background()

	job := newTestJob("job-claim")
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, job.TransitionTo(models.JobStatusQueued, models.NewTime(time.Now())))
	require.NoError(t, s.UpdateJob(ctx, job))

	claimed, err := s.ClaimJob(ctx, job.ID, models.NewTime(time.Now()))
	require.NoError(t, err)
	require.True(t, claimed)

	claimedAgain, err := s.ClaimJob(ctx, job.ID, models.NewTime(time.Now()))
	require.NoError(t, err)
	require.False(t, claimedAgain, "a job already claimed cannot be claimed a second time")
}

func TestJobStoreCountJobsFiltersByStatus(t *testing.T) {
	s := newTestJobStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, newTestJob("job-a")))
	require.NoError(t, s.CreateJob(ctx, newTestJob("job-b")))

	drafted := models.JobStatusDrafted
	count, err := s.CountJobs(ctx, store.JobFilter{Status: &drafted})
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	running := models.JobStatusRunning
	count, err = s.CountJobs(ctx, store.JobFilter{Status: &running})
	require.NoError(t, err)
	require.Equal(t, int64(0), count)
}

func TestJobStoreDeleteJob(t *testing.T) {
	s := newTestJobStore(t)
	ctx := context.Background()

	job := newTestJob("job-delete")
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.DeleteJob(ctx, job.ID))

	_, err := s.GetJob(ctx, job.ID)
	require.True(t, gerror.IsNotFound(err))
}

func TestJobStoreCancelRequested(t *testing.T) {
	s := newTestJobStore(t)
	ctx := context.Background()

	job := newTestJob("job-cancel")
	require.NoError(t, s.CreateJob(ctx, job))

	requested, err := s.IsCancelRequested(ctx, job.ID)
	require.NoError(t, err)
	require.False(t, requested)

	require.NoError(t, s.SetCancelRequested(ctx, job.ID))
	requested, err = s.IsCancelRequested(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, requested)
}
