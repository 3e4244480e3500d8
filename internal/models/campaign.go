package models

import (
	"encoding/json"
	"time"
)

// CampaignStatus represents valid campaign statuses
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "DRAFT"
	CampaignStatusActive    CampaignStatus = "ACTIVE"
	CampaignStatusPaused    CampaignStatus = "PAUSED"
	CampaignStatusCompleted CampaignStatus = "COMPLETED"
)

// ScheduleType distinguishes single-run from cyclic campaigns
type ScheduleType string

const (
	ScheduleOneTime   ScheduleType = "ONE_TIME"
	ScheduleRecurring ScheduleType = "RECURRING"
)

// RecurrenceRule is the cycle length of a RECURRING campaign
type RecurrenceRule string

const (
	RecurrenceDaily   RecurrenceRule = "DAILY"
	RecurrenceWeekly  RecurrenceRule = "WEEKLY"
	RecurrenceMonthly RecurrenceRule = "MONTHLY"
)

// Channel represents a delivery channel
type Channel string

const (
	ChannelEmail    Channel = "EMAIL"
	ChannelSMS      Channel = "SMS"
	ChannelPush     Channel = "PUSH"
	ChannelWhatsApp Channel = "WHATSAPP"
	ChannelViber    Channel = "VIBER"
	ChannelVoice    Channel = "VOICE"
)

// KnownChannels lists the channels every allowance map carries
var KnownChannels = []Channel{ChannelEmail, ChannelSMS, ChannelPush, ChannelWhatsApp, ChannelViber, ChannelVoice}

// RuleDatabaseUser scopes a targeting rule to user attributes
const RuleDatabaseUser = "USER"

// Campaign represents a campaign with its ordered steps
type Campaign struct {
	ID             string          `json:"id" db:"id"`
	BusinessID     string          `json:"businessId" db:"business_id"`
	Name           string          `json:"name" db:"name"`
	Status         CampaignStatus  `json:"status" db:"status"`
	ScheduleType   ScheduleType    `json:"scheduleType" db:"schedule_type"`
	RecurrenceRule *RecurrenceRule `json:"recurrenceRule,omitempty" db:"recurrence_rule"`
	StartAt        *time.Time      `json:"startAt,omitempty" db:"start_at"`
	EndAt          *time.Time      `json:"endAt,omitempty" db:"end_at"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time       `json:"updatedAt" db:"updated_at"`
	Steps          []*Step         `json:"steps"`
}

// IsActive reports whether the campaign may produce executions
func (c *Campaign) IsActive() bool {
	return c != nil && c.Status == CampaignStatusActive
}

// Step is one channel-specific stage of a campaign
type Step struct {
	ID             string           `json:"id" db:"id"`
	CampaignID     string           `json:"campaignId" db:"campaign_id"`
	StepOrder      int              `json:"stepOrder" db:"step_order"`
	Name           string           `json:"name" db:"name"`
	Channel        Channel          `json:"channel" db:"channel"`
	PrizeID        *string          `json:"prizeId,omitempty" db:"prize_id"`
	Template       *Template        `json:"template,omitempty"`
	TargetingRules []*TargetingRule `json:"targetingRules"`
}

// UserRules returns only the rules scoped to the USER rule database
func (s *Step) UserRules() []*TargetingRule {
	out := make([]*TargetingRule, 0, len(s.TargetingRules))
	for _, r := range s.TargetingRules {
		if r != nil && r.Database == RuleDatabaseUser {
			out = append(out, r)
		}
	}
	return out
}

// Template is the per-step rendering source
type Template struct {
	ID       string  `json:"id" db:"id"`
	Channel  Channel `json:"channel" db:"channel"`
	Subject  *string `json:"subject,omitempty" db:"subject"`
	BodyText string  `json:"bodyText" db:"body_text"`
	BodyHTML *string `json:"bodyHtml,omitempty" db:"body_html"`
}

// TargetingRule is a filter evaluated by the user service
type TargetingRule struct {
	ID       string          `json:"id" db:"id"`
	StepID   string          `json:"campaignStepId" db:"step_id"`
	Database string          `json:"database" db:"database"`
	Field    string          `json:"field" db:"field"`
	Operator string          `json:"operator" db:"operator"`
	Value    json.RawMessage `json:"value" db:"value"`
}

// CampaignUpdate carries lifecycle changes. Nil fields are left unchanged.
type CampaignUpdate struct {
	Status  *CampaignStatus
	StartAt *time.Time
	EndAt   *time.Time
}

// IsEmpty reports whether the update changes nothing
func (u CampaignUpdate) IsEmpty() bool {
	return u.Status == nil && u.StartAt == nil && u.EndAt == nil
}

// DueCampaign is the slim row returned by the due-campaign query
type DueCampaign struct {
	ID         string `json:"id"`
	BusinessID string `json:"businessId"`
}
