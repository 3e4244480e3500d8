package models

import (
	"fmt"
	"strings"
	"time"
)

// CampaignJob is the queue payload for one campaign execution
type CampaignJob struct {
	CampaignID          string `json:"campaignId"`
	CampaignExecutionID string `json:"campaignExecutionId"`
	BusinessID          string `json:"businessId"`
	Attempt             int    `json:"attempt"`
	MaxAttempts         int    `json:"maxAttempts"`
}

// Validate checks the identifying fields. A zero MaxAttempts is filled in
// by the processor from its configured ceiling.
func (j *CampaignJob) Validate() error {
	var missing []string
	if strings.TrimSpace(j.CampaignID) == "" {
		missing = append(missing, "campaignId")
	}
	if strings.TrimSpace(j.CampaignExecutionID) == "" {
		missing = append(missing, "campaignExecutionId")
	}
	if strings.TrimSpace(j.BusinessID) == "" {
		missing = append(missing, "businessId")
	}
	if j.Attempt < 0 {
		missing = append(missing, "attempt")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing or invalid fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// StepSummary is the per-step outcome of one job
type StepSummary struct {
	StepID          string              `json:"stepId"`
	StepExecutionID string              `json:"stepExecutionId,omitempty"`
	Status          StepExecutionStatus `json:"status"`
	Scheduled       int                 `json:"scheduled"`
	Failed          int                 `json:"failed"`
	Skipped         bool                `json:"skipped,omitempty"`
	Reason          string              `json:"reason,omitempty"`
	Error           string              `json:"error,omitempty"`
}

// ExecutionResult is returned by the processor for one job
type ExecutionResult struct {
	CampaignExecutionID string         `json:"campaignExecutionId"`
	Steps               []*StepSummary `json:"steps"`
	Failed              bool           `json:"failed"`
	FinalFailure        bool           `json:"finalFailure"`
	Skipped             bool           `json:"skipped,omitempty"`
	Reason              string         `json:"reason,omitempty"`
	Attempt             int            `json:"attempt"`
	MaxAttempts         int            `json:"maxAttempts"`
}

// EnqueueResult is returned by the orchestrator gate
type EnqueueResult struct {
	Skipped     bool       `json:"skipped,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	Enqueued    bool       `json:"enqueued,omitempty"`
	ExecutionID string     `json:"executionId,omitempty"`
	LastRunAt   *time.Time `json:"lastRunAt,omitempty"`
}

// Skip builds a skipped EnqueueResult
func Skip(reason string) *EnqueueResult {
	return &EnqueueResult{Skipped: true, Reason: reason}
}
