package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransitionTo(t *testing.T) {
	allStatuses := []JobStatus{
		JobStatusDrafted, JobStatusQueued, JobStatusRunning,
		JobStatusCompleted, JobStatusFailed, JobStatusCanceled,
	}

	allowed := map[[2]JobStatus]bool{
		{JobStatusDrafted, JobStatusQueued}:    true,
		{JobStatusQueued, JobStatusRunning}:    true,
		{JobStatusQueued, JobStatusCanceled}:   true,
		{JobStatusRunning, JobStatusCompleted}: true,
		{JobStatusRunning, JobStatusFailed}:    true,
		{JobStatusRunning, JobStatusCanceled}:  true,
		{JobStatusFailed, JobStatusQueued}:     true,
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := allowed[[2]JobStatus{from, to}]
			require.Equalf(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestJobStatusIsTerminal(t *testing.T) {
	require.True(t, JobStatusCompleted.IsTerminal())
	require.True(t, JobStatusFailed.IsTerminal())
	require.True(t, JobStatusCanceled.IsTerminal())
	require.False(t, JobStatusDrafted.IsTerminal())
	require.False(t, JobStatusQueued.IsTerminal())
	require.False(t, JobStatusRunning.IsTerminal())
}

func TestJobStatusValid(t *testing.T) {
	require.True(t, JobStatusRunning.Valid())
	require.False(t, JobStatus("bogus").Valid())
}

func TestJobStatusScan(t *testing.T) {
	var s JobStatus
	require.NoError(t, s.Scan("running"))
	require.Equal(t, JobStatusRunning, s)

	require.NoError(t, s.Scan([]byte("failed")))
	require.Equal(t, JobStatusFailed, s)

	require.NoError(t, s.Scan(nil))
	require.Equal(t, JobStatusFailed, s) // unchanged

	require.Error(t, s.Scan("not-a-status"))
	require.Error(t, s.Scan(42))
}
