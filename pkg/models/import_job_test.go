package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		allowed  bool
	}{
		{JobStatusPending, JobStatusProcessing, true},
		{JobStatusPending, JobStatusFailed, true},
		{JobStatusPending, JobStatusCompleted, false},
		{JobStatusProcessing, JobStatusCompleted, true},
		{JobStatusProcessing, JobStatusFailed, true},
		{JobStatusProcessing, JobStatusPending, false},
		{JobStatusCompleted, JobStatusFailed, false},
		{JobStatusFailed, JobStatusProcessing, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestProgressFor(t *testing.T) {
	p, ok := ProgressFor(5, 0)
	assert.False(t, ok)
	assert.Equal(t, 0, p)

	p, ok = ProgressFor(2500, 10000)
	assert.True(t, ok)
	assert.Equal(t, 25, p)

	p, ok = ProgressFor(2, 3)
	assert.True(t, ok)
	assert.Equal(t, 66, p)

	p, _ = ProgressFor(12, 10)
	assert.Equal(t, 100, p)
}

func TestImportJobDuration(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	job := NewImportJob("products.csv", 42, now)
	assert.Nil(t, job.Duration())

	started := now
	completed := now.Add(2500 * time.Millisecond)
	job.StartedAt = &started
	job.CompletedAt = &completed

	d := job.Duration()
	require.NotNil(t, d)
	assert.Equal(t, 2.5, *d)

	snap := job.Snapshot()
	assert.Equal(t, job.ID, snap.JobID)
	assert.Equal(t, JobStatusPending, snap.Status)
	require.NotNil(t, snap.Duration)
}
