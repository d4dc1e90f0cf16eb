package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/pkg/errors"

	"github.com/faceforge/orchestrator/common/gerror"
	"github.com/faceforge/orchestrator/common/models"
)

const jobsTable = "jobs"

// JobStore is the durable backing store for Job state, built directly on top of DB's
// dialect-aware goqu accessors. All mutations go through a single jobs table; there is no
// separate steps table since a job's steps are small, always read/written together with the
// job, and never queried independently.
type JobStore struct {
	db *DB
}

func NewJobStore(db *DB) *JobStore {
	return &JobStore{db: db}
}

// CreateJob inserts a new job row. Returns a gerror.Error (ErrCodeAlreadyExists) if a job
// with the same id already exists.
func (s *JobStore) CreateJob(ctx context.Context, job *models.Job) error {
	err := s.db.Write2(nil, func(tx Writer) error {
		_, err := tx.Insert(jobsTable).Rows(job).Executor().ExecContext(ctx)
		return err
	})
	if err != nil {
		if isUniqueConstraintErr(err) {
			return gerror.NewErrAlreadyExists(fmt.Sprintf("job %q already exists", job.ID)).Wrap(err)
		}
		return errors.Wrapf(err, "error creating job %q", job.ID)
	}
	return nil
}

// UpdateJob writes the job's mutable columns, keyed on job_id. Columns tagged skipupdate
// (job_id, priority, config_json, created_at) keep their stored values.
func (s *JobStore) UpdateJob(ctx context.Context, job *models.Job) error {
	err := s.db.Write2(nil, func(tx Writer) error {
		_, err := tx.Update(jobsTable).
			Set(job).
			Where(goqu.Ex{"job_id": job.ID}).
			Executor().ExecContext(ctx)
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "error updating job %q", job.ID)
	}
	return nil
}

// GetJob fetches a job by id. Returns a gerror.Error (ErrCodeNotFound) if no such job exists.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	var found bool
	err := s.db.Read2(nil, func(tx Reader) error {
		var err error
		found, err = tx.From(jobsTable).
			Where(goqu.Ex{"job_id": jobID}).
			ScanStructContext(ctx, &job)
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "error reading job %q", jobID)
	}
	if !found {
		return nil, gerror.NewErrNotFound(fmt.Sprintf("job %q not found", jobID))
	}
	return &job, nil
}

// JobFilter narrows the result of ListJobs. A zero value applies no filtering.
type JobFilter struct {
	Status *models.JobStatus
	Limit  int
	Offset int
}

// ListJobs returns jobs ordered by priority (highest first) and then creation time (oldest
// first) - the same order the orchestrator dequeues work in, so this doubles as the
// queue-peek query.
func (s *JobStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error) {
	var jobs []*models.Job
	err := s.db.Read2(nil, func(tx Reader) error {
		dataset := tx.From(jobsTable)
		if filter.Status != nil {
			dataset = dataset.Where(goqu.Ex{"status": string(*filter.Status)})
		}
		dataset = dataset.Order(
			goqu.I("priority").Desc(),
			goqu.I("created_at").Asc(),
		)
		if filter.Limit > 0 {
			dataset = dataset.Limit(uint(filter.Limit))
		}
		if filter.Offset > 0 {
			dataset = dataset.Offset(uint(filter.Offset))
		}
		return dataset.ScanStructsContext(ctx, &jobs)
	})
	if err != nil {
		return nil, errors.Wrap(err, "error listing jobs")
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching filter's status (ignoring Limit/Offset),
// used to build aggregate status counters without pulling every row's JSON columns.
func (s *JobStore) CountJobs(ctx context.Context, filter JobFilter) (int64, error) {
	var count int64
	err := s.db.Read2(nil, func(tx Reader) error {
		dataset := tx.From(jobsTable)
		if filter.Status != nil {
			dataset = dataset.Where(goqu.Ex{"status": string(*filter.Status)})
		}
		var err error
		count, err = dataset.CountContext(ctx)
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, "error counting jobs")
	}
	return count, nil
}

// DeleteJob removes a job row permanently. Deleting a running job does not stop it; callers
// should cancel first.
func (s *JobStore) DeleteJob(ctx context.Context, jobID string) error {
	err := s.db.Write2(nil, func(tx Writer) error {
		_, err := tx.Delete(jobsTable).Where(goqu.Ex{"job_id": jobID}).Executor().ExecContext(ctx)
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "error deleting job %q", jobID)
	}
	return nil
}

// SetCancelRequested sets the durable cancel flag for a job. This is idempotent and never
// regresses an already-set flag back to false via this path alone.
func (s *JobStore) SetCancelRequested(ctx context.Context, jobID string) error {
	err := s.db.Write2(nil, func(tx Writer) error {
		_, err := tx.Update(jobsTable).
			Set(goqu.Record{"cancel_requested": true}).
			Where(goqu.Ex{"job_id": jobID}).
			Executor().ExecContext(ctx)
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "error setting cancel_requested for job %q", jobID)
	}
	return nil
}

// IsCancelRequested reports whether cancellation has been requested for a job.
func (s *JobStore) IsCancelRequested(ctx context.Context, jobID string) (bool, error) {
	var requested bool
	err := s.db.Read2(nil, func(tx Reader) error {
		found, err := tx.From(jobsTable).
			Select("cancel_requested").
			Where(goqu.Ex{"job_id": jobID}).
			ScanValContext(ctx, &requested)
		if err != nil {
			return err
		}
		if !found {
			return sql.ErrNoRows
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, gerror.NewErrNotFound(fmt.Sprintf("job %q not found", jobID))
		}
		return false, errors.Wrapf(err, "error reading cancel_requested for job %q", jobID)
	}
	return requested, nil
}

// UpdateProgress performs a single conditional UPDATE that only takes effect if the new
// progress value is strictly greater than what's already stored, making repeated or
// out-of-order progress updates from a pipeline safe to apply without a read-modify-write.
func (s *JobStore) UpdateProgress(ctx context.Context, jobID string, progress float64) error {
	return s.db.Write2(nil, func(tx Writer) error {
		_, err := tx.Update(jobsTable).
			Set(goqu.Record{"progress": progress}).
			Where(goqu.Ex{"job_id": jobID}, goqu.C("progress").Lt(progress)).
			Executor().ExecContext(ctx)
		return err
	})
}

// SetPriority updates a job's dequeue priority in place. Higher values are dequeued first by
// ListJobs's fixed ordering; this does not touch status or any other field.
func (s *JobStore) SetPriority(ctx context.Context, jobID string, priority int) error {
	err := s.db.Write2(nil, func(tx Writer) error {
		_, err := tx.Update(jobsTable).
			Set(goqu.Record{"priority": priority}).
			Where(goqu.Ex{"job_id": jobID}).
			Executor().ExecContext(ctx)
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "error setting priority for job %q", jobID)
	}
	return nil
}

// ClaimJob atomically transitions a queued job to running via a single conditional UPDATE,
// guaranteeing that if two workers race to pick up the same job only one succeeds. Returns
// claimed=false (with no error) if the job was no longer queued by the time this ran.
func (s *JobStore) ClaimJob(ctx context.Context, jobID string, startedAt models.Time) (bool, error) {
	var claimed bool
	err := s.db.Write2(nil, func(tx Writer) error {
		result, err := tx.Update(jobsTable).
			Set(goqu.Record{
				"status":     string(models.JobStatusRunning),
				"started_at": startedAt,
				"updated_at": startedAt,
			}).
			Where(goqu.Ex{"job_id": jobID, "status": string(models.JobStatusQueued)}).
			Executor().ExecContext(ctx)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		claimed = rows > 0
		return nil
	})
	if err != nil {
		return false, errors.Wrapf(err, "error claiming job %q", jobID)
	}
	return claimed, nil
}

func isUniqueConstraintErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
