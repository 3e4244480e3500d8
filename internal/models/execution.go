package models

import "time"

// ExecutionStatus is the lifecycle of one campaign run
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionRetrying  ExecutionStatus = "RETRYING"
	ExecutionStopped   ExecutionStatus = "STOPPED"
)

// StepExecutionStatus is the lifecycle of one step run
type StepExecutionStatus string

const (
	StepRunning   StepExecutionStatus = "RUNNING"
	StepCompleted StepExecutionStatus = "COMPLETED"
	StepFailed    StepExecutionStatus = "FAILED"
	StepSkipped   StepExecutionStatus = "SKIPPED"
)

// RecipientStatus is the delivery state of one fan-out target
type RecipientStatus string

const (
	RecipientPending   RecipientStatus = "PENDING"
	RecipientScheduled RecipientStatus = "SCHEDULED"
	RecipientSent      RecipientStatus = "SENT"
	RecipientDelivered RecipientStatus = "DELIVERED"
	RecipientFailed    RecipientStatus = "FAILED"
)

// CampaignExecution is one materialized run of a campaign
type CampaignExecution struct {
	ID           string          `json:"id" db:"id"`
	CampaignID   string          `json:"campaignId" db:"campaign_id"`
	Status       ExecutionStatus `json:"status" db:"status"`
	RunAt        time.Time       `json:"runAt" db:"run_at"`
	ErrorMessage *string         `json:"errorMessage,omitempty" db:"error_message"`
	CreatedAt    time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time       `json:"updatedAt" db:"updated_at"`
}

// ExecutionUpdate carries a status change. A nil ErrorMessage leaves the
// stored message alone unless ClearError is set.
type ExecutionUpdate struct {
	Status       ExecutionStatus
	ErrorMessage *string
	ClearError   bool
}

// StepExecution is one run of a single step within an execution
type StepExecution struct {
	ID                  string              `json:"id" db:"id"`
	CampaignExecutionID string              `json:"campaignExecutionId" db:"campaign_execution_id"`
	StepID              string              `json:"campaignStepId" db:"step_id"`
	Status              StepExecutionStatus `json:"status" db:"status"`
	ErrorMessage        *string             `json:"errorMessage,omitempty" db:"error_message"`
	CreatedAt           time.Time           `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time           `json:"updatedAt" db:"updated_at"`
}

// StepExecutionUpdate carries a step status change
type StepExecutionUpdate struct {
	Status       StepExecutionStatus
	ErrorMessage *string
}

// StepRecipient is one targeted user within a step execution
type StepRecipient struct {
	ID                string          `json:"id" db:"id"`
	StepExecutionID   string          `json:"stepExecutionId" db:"step_execution_id"`
	UserID            string          `json:"userId" db:"user_id"`
	Status            RecipientStatus `json:"status" db:"status"`
	Attempts          int             `json:"attempts" db:"attempts"`
	EnqueuedAt        *time.Time      `json:"enqueuedAt,omitempty" db:"enqueued_at"`
	SentAt            *time.Time      `json:"sentAt,omitempty" db:"sent_at"`
	DeliveredAt       *time.Time      `json:"deliveredAt,omitempty" db:"delivered_at"`
	ExternalMessageID *string         `json:"externalMessageId,omitempty" db:"external_message_id"`
	CreatedAt         time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time       `json:"updatedAt" db:"updated_at"`
}

// Active reports whether the recipient holds a slot of step capacity
func (r *StepRecipient) Active() bool {
	return r.Status != RecipientFailed
}

// RecipientUpdate carries changes to an existing recipient
type RecipientUpdate struct {
	Status            RecipientStatus
	Attempts          *int
	EnqueuedAt        *time.Time
	ExternalMessageID *string
}
