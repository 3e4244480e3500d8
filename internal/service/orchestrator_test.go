package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campaignservice/internal/models"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestOrchestrator(repo *MockRepository, jobs *MockJobPublisher, cfg OrchestratorConfig) *Orchestrator {
	o := NewOrchestrator(repo, jobs, cfg, zerolog.Nop())
	o.now = func() time.Time { return fixedNow }
	return o
}

func addExecution(repo *MockRepository, id, campaignID string, status models.ExecutionStatus, runAt time.Time) {
	repo.Executions[id] = &models.CampaignExecution{ID: id, CampaignID: campaignID, Status: status, RunAt: runAt}
}

func TestEnqueueIfDue_NilAndInactive(t *testing.T) {
	repo := NewMockRepository()
	jobs := &MockJobPublisher{}
	o := newTestOrchestrator(repo, jobs, OrchestratorConfig{})

	res, err := o.EnqueueIfDue(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, ReasonCampaignNull, res.Reason)

	campaign := newTestCampaign()
	campaign.Status = models.CampaignStatusPaused
	res, err = o.EnqueueIfDue(context.Background(), campaign)
	require.NoError(t, err)
	assert.False(t, res.Enqueued)
	assert.Equal(t, ReasonStatusNotActive, res.Reason)

	assert.Equal(t, 0, repo.CallCount("CreateCampaignExecution"))
	assert.Empty(t, jobs.Jobs)
}

// TestEnqueueIfDue_OneTimeFirstRun tests that a fresh one-time campaign is enqueued
func TestEnqueueIfDue_OneTimeFirstRun(t *testing.T) {
	repo := NewMockRepository()
	jobs := &MockJobPublisher{}
	o := newTestOrchestrator(repo, jobs, OrchestratorConfig{MaxAttempts: 3})

	res, err := o.EnqueueIfDue(context.Background(), newTestCampaign())

	require.NoError(t, err)
	assert.True(t, res.Enqueued)
	require.Len(t, jobs.Jobs, 1)
	job := jobs.Jobs[0]
	assert.Equal(t, "camp-1", job.CampaignID)
	assert.Equal(t, "biz-1", job.BusinessID)
	assert.Equal(t, res.ExecutionID, job.CampaignExecutionID)
	assert.Equal(t, 0, job.Attempt)
	assert.Equal(t, 3, job.MaxAttempts)
}

func TestEnqueueIfDue_OneTimeAlreadyExecuted(t *testing.T) {
	repo := NewMockRepository()
	jobs := &MockJobPublisher{}
	runAt := fixedNow.Add(-time.Hour)
	addExecution(repo, "exec-old", "camp-1", models.ExecutionCompleted, runAt)
	o := newTestOrchestrator(repo, jobs, OrchestratorConfig{})

	res, err := o.EnqueueIfDue(context.Background(), newTestCampaign())

	require.NoError(t, err)
	assert.False(t, res.Enqueued)
	assert.Equal(t, ReasonOneTimeExecuted, res.Reason)
	require.NotNil(t, res.LastRunAt)
	assert.Equal(t, runAt, *res.LastRunAt)
	assert.Equal(t, 0, repo.CallCount("CreateCampaignExecution"))
}

// TestEnqueueIfDue_OneTimeFailedDoesNotBlock tests that only RUNNING or COMPLETED executions gate
func TestEnqueueIfDue_OneTimeFailedDoesNotBlock(t *testing.T) {
	repo := NewMockRepository()
	jobs := &MockJobPublisher{}
	addExecution(repo, "exec-old", "camp-1", models.ExecutionFailed, fixedNow.Add(-time.Hour))
	o := newTestOrchestrator(repo, jobs, OrchestratorConfig{})

	res, err := o.EnqueueIfDue(context.Background(), newTestCampaign())

	require.NoError(t, err)
	assert.True(t, res.Enqueued)
}

func TestEnqueueIfDue_OneTimeRerun(t *testing.T) {
	cfg := OrchestratorConfig{AllowOneTimeRerun: true, OneTimeRerunInterval: 5 * time.Minute}

	t.Run("not due", func(t *testing.T) {
		repo := NewMockRepository()
		addExecution(repo, "exec-old", "camp-1", models.ExecutionRunning, fixedNow.Add(-2*time.Minute))
		o := newTestOrchestrator(repo, &MockJobPublisher{}, cfg)

		res, err := o.EnqueueIfDue(context.Background(), newTestCampaign())
		require.NoError(t, err)
		assert.Equal(t, ReasonOneTimeRerunNotDue, res.Reason)
	})

	t.Run("due", func(t *testing.T) {
		repo := NewMockRepository()
		addExecution(repo, "exec-old", "camp-1", models.ExecutionCompleted, fixedNow.Add(-10*time.Minute))
		o := newTestOrchestrator(repo, &MockJobPublisher{}, cfg)

		res, err := o.EnqueueIfDue(context.Background(), newTestCampaign())
		require.NoError(t, err)
		assert.True(t, res.Enqueued)
	})
}

func TestEnqueueIfDue_RecurringDaily(t *testing.T) {
	daily := models.RecurrenceDaily
	tests := []struct {
		name   string
		ago    time.Duration
		due    bool
		reason string
	}{
		{"25 hours ago", 25 * time.Hour, true, ""},
		{"10 hours ago", 10 * time.Hour, false, ReasonRecurrenceNotDue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewMockRepository()
			addExecution(repo, "exec-old", "camp-1", models.ExecutionCompleted, fixedNow.Add(-tt.ago))
			o := newTestOrchestrator(repo, &MockJobPublisher{}, OrchestratorConfig{})

			campaign := newTestCampaign()
			campaign.ScheduleType = models.ScheduleRecurring
			campaign.RecurrenceRule = &daily

			res, err := o.EnqueueIfDue(context.Background(), campaign)
			require.NoError(t, err)
			assert.Equal(t, tt.due, res.Enqueued)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

// TestEnqueueIfDue_RecurringIgnoresRunning tests that only completed runs count for recurrence
func TestEnqueueIfDue_RecurringIgnoresRunning(t *testing.T) {
	daily := models.RecurrenceDaily
	repo := NewMockRepository()
	addExecution(repo, "exec-old", "camp-1", models.ExecutionRunning, fixedNow.Add(-time.Hour))
	o := newTestOrchestrator(repo, &MockJobPublisher{}, OrchestratorConfig{})

	campaign := newTestCampaign()
	campaign.ScheduleType = models.ScheduleRecurring
	campaign.RecurrenceRule = &daily

	res, err := o.EnqueueIfDue(context.Background(), campaign)
	require.NoError(t, err)
	assert.True(t, res.Enqueued)
}

func TestEnqueueIfDue_GatingPolicy(t *testing.T) {
	failing := func(ctx context.Context, campaignID string, statuses []models.ExecutionStatus) (*models.CampaignExecution, error) {
		return nil, errors.New("connection reset")
	}

	t.Run("fail-open", func(t *testing.T) {
		repo := NewMockRepository()
		repo.FindLatestFunc = failing
		jobs := &MockJobPublisher{}
		o := newTestOrchestrator(repo, jobs, OrchestratorConfig{GatingPolicy: GatingFailOpen})

		res, err := o.EnqueueIfDue(context.Background(), newTestCampaign())
		require.NoError(t, err)
		assert.True(t, res.Enqueued)
		assert.Len(t, jobs.Jobs, 1)
	})

	t.Run("fail-closed", func(t *testing.T) {
		repo := NewMockRepository()
		repo.FindLatestFunc = failing
		jobs := &MockJobPublisher{}
		o := newTestOrchestrator(repo, jobs, OrchestratorConfig{GatingPolicy: GatingFailClosed})

		res, err := o.EnqueueIfDue(context.Background(), newTestCampaign())
		require.NoError(t, err)
		assert.False(t, res.Enqueued)
		assert.Equal(t, ReasonGatingError, res.Reason)
		assert.Empty(t, jobs.Jobs)
	})
}

// TestEnqueueIfDue_PublishFailure tests that an unqueued execution is marked FAILED
func TestEnqueueIfDue_PublishFailure(t *testing.T) {
	repo := NewMockRepository()
	jobs := &MockJobPublisher{PublishFunc: func(ctx context.Context, job models.CampaignJob) error {
		return errors.New("channel closed")
	}}
	o := newTestOrchestrator(repo, jobs, OrchestratorConfig{})

	res, err := o.EnqueueIfDue(context.Background(), newTestCampaign())

	assert.Error(t, err)
	assert.Nil(t, res)
	require.Len(t, repo.Executions, 1)
	for _, e := range repo.Executions {
		assert.Equal(t, models.ExecutionFailed, e.Status)
		require.NotNil(t, e.ErrorMessage)
		assert.Contains(t, *e.ErrorMessage, "channel closed")
	}
}

func TestEnqueueIfDue_PublishFailureAfterCancel(t *testing.T) {
	repo := NewMockRepository()
	repo.UpdateExecutionFunc = func(ctx context.Context, id string, u models.ExecutionUpdate) error {
		return ctx.Err()
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	jobs := &MockJobPublisher{PublishFunc: func(ctx context.Context, job models.CampaignJob) error {
		cancel()
		return ctx.Err()
	}}
	o := newTestOrchestrator(repo, jobs, OrchestratorConfig{})

	_, err := o.EnqueueIfDue(ctx, newTestCampaign())

	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, repo.Executions, 1)
	for _, e := range repo.Executions {
		assert.Equal(t, models.ExecutionFailed, e.Status)
	}
}

func TestEnqueueIfDue_CreateFailure(t *testing.T) {
	repo := NewMockRepository()
	repo.CreateExecutionFunc = func(ctx context.Context, campaignID string) (*models.CampaignExecution, error) {
		return nil, errors.New("insert failed")
	}
	jobs := &MockJobPublisher{}
	o := newTestOrchestrator(repo, jobs, OrchestratorConfig{})

	_, err := o.EnqueueIfDue(context.Background(), newTestCampaign())
	assert.Error(t, err)
	assert.Empty(t, jobs.Jobs)
}

func TestParseGatingPolicy(t *testing.T) {
	p, err := ParseGatingPolicy("")
	require.NoError(t, err)
	assert.Equal(t, GatingFailOpen, p)

	p, err = ParseGatingPolicy("fail-closed")
	require.NoError(t, err)
	assert.Equal(t, GatingFailClosed, p)

	_, err = ParseGatingPolicy("sometimes")
	assert.Error(t, err)
}
