package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campaignservice/internal/models"
	"campaignservice/internal/repository"
)

// CampaignAction is a lifecycle action on a campaign
type CampaignAction string

const (
	ActionStart      CampaignAction = "start"
	ActionStop       CampaignAction = "stop"
	ActionPause      CampaignAction = "pause"
	ActionResume     CampaignAction = "resume"
	ActionReschedule CampaignAction = "reschedule"
)

// CampaignService handles campaign lifecycle actions
type CampaignService struct {
	campaignRepo repository.CampaignRepository
	templateSvc  *TemplateService
}

// NewCampaignService creates a new campaign service
func NewCampaignService(campaignRepo repository.CampaignRepository, templateSvc *TemplateService) *CampaignService {
	return &CampaignService{
		campaignRepo: campaignRepo,
		templateSvc:  templateSvc,
	}
}

// GetCampaign retrieves a campaign with its steps within scope
func (s *CampaignService) GetCampaign(ctx context.Context, id string, scope []string) (*models.Campaign, error) {
	campaign, err := s.campaignRepo.FindCampaignByID(ctx, id, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	if campaign == nil {
		return nil, &NotFoundError{Resource: "campaign", ID: id}
	}
	return campaign, nil
}

// Manage applies a lifecycle action and returns the updated campaign
func (s *CampaignService) Manage(ctx context.Context, id string, scope []string, req *ManageCampaignRequest) (*models.Campaign, error) {
	if err := req.Validate(); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	campaign, err := s.GetCampaign(ctx, id, scope)
	if err != nil {
		return nil, err
	}

	update, err := lifecycleUpdate(campaign, req)
	if err != nil {
		return nil, err
	}

	if err := s.campaignRepo.UpdateCampaign(ctx, id, scope, update); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &NotFoundError{Resource: "campaign", ID: id}
		}
		return nil, fmt.Errorf("failed to update campaign: %w", err)
	}

	return s.GetCampaign(ctx, id, scope)
}

// PreviewStep renders a step's template for a posted user
func (s *CampaignService) PreviewStep(ctx context.Context, campaignID, stepID string, scope []string, user *models.User) (*RenderedTemplate, error) {
	campaign, err := s.GetCampaign(ctx, campaignID, scope)
	if err != nil {
		return nil, err
	}

	for _, step := range campaign.Steps {
		if step.ID == stepID {
			return s.templateSvc.Preview(step.Template, user)
		}
	}
	return nil, &NotFoundError{Resource: "step", ID: stepID}
}

// lifecycleUpdate maps an action to the fields it changes
func lifecycleUpdate(c *models.Campaign, req *ManageCampaignRequest) (models.CampaignUpdate, error) {
	status := func(st models.CampaignStatus) *models.CampaignStatus { return &st }

	if c.Status == models.CampaignStatusCompleted && c.ScheduleType == models.ScheduleOneTime && req.Action != ActionStop {
		return models.CampaignUpdate{}, &BusinessLogicError{Message: "completed one-time campaign cannot be changed"}
	}

	var update models.CampaignUpdate
	switch req.Action {
	case ActionStart:
		update.Status = status(models.CampaignStatusActive)
		update.EndAt = req.EndAt
	case ActionStop:
		update.Status = status(models.CampaignStatusCompleted)
	case ActionPause:
		if c.Status != models.CampaignStatusActive {
			return update, &BusinessLogicError{Message: fmt.Sprintf("campaign cannot be paused: status is %s", c.Status)}
		}
		update.Status = status(models.CampaignStatusPaused)
	case ActionResume:
		if c.Status != models.CampaignStatusPaused {
			return update, &BusinessLogicError{Message: fmt.Sprintf("campaign cannot be resumed: status is %s", c.Status)}
		}
		update.Status = status(models.CampaignStatusActive)
	case ActionReschedule:
		update.StartAt = req.StartAt
		update.EndAt = req.EndAt
	}
	return update, nil
}

// Request/Response types

// ManageCampaignRequest represents a lifecycle action request
type ManageCampaignRequest struct {
	Action  CampaignAction `json:"action"`
	StartAt *time.Time     `json:"-"`
	EndAt   *time.Time     `json:"-"`
	Payload *struct {
		StartAt *time.Time `json:"startAt,omitempty"`
		EndAt   *time.Time `json:"endAt,omitempty"`
	} `json:"payload,omitempty"`
}

// Validate validates the action and lifts the payload window
func (r *ManageCampaignRequest) Validate() error {
	if r.Payload != nil {
		if r.StartAt == nil {
			r.StartAt = r.Payload.StartAt
		}
		if r.EndAt == nil {
			r.EndAt = r.Payload.EndAt
		}
	}

	switch r.Action {
	case ActionStart, ActionStop, ActionPause, ActionResume:
	case ActionReschedule:
		if r.StartAt == nil && r.EndAt == nil {
			return fmt.Errorf("reschedule requires startAt or endAt")
		}
	default:
		return fmt.Errorf("invalid action %q: must be start, stop, pause, resume or reschedule", r.Action)
	}

	if r.StartAt != nil && r.EndAt != nil && !r.EndAt.After(*r.StartAt) {
		return fmt.Errorf("endAt must be after startAt")
	}
	return nil
}

// PaginationInfo represents pagination metadata
type PaginationInfo struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}
