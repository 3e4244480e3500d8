package clients

import (
	"context"
	"fmt"

	"campaignservice/internal/models"
)

// TargetingQuery selects users matching a step's rules
type TargetingQuery struct {
	Rules      []*models.TargetingRule
	Limit      int
	BusinessID string
	PrizeID    string
}

// TargetingResponse is one page of matching users
type TargetingResponse struct {
	Users      []*models.User `json:"users"`
	NextCursor *string        `json:"nextCursor,omitempty"`
}

type targetingRequest struct {
	TargetingRules []*models.TargetingRule `json:"targetingRules"`
	Limit          int                     `json:"limit"`
	Prize          *prizeRef               `json:"prize,omitempty"`
	BusinessID     string                  `json:"businessId,omitempty"`
}

type prizeRef struct {
	ID string `json:"id"`
}

// UserClient queries the user service for targeted recipients
type UserClient struct {
	req     *requester
	baseURL string
}

// NewUserClient creates a user-service client
func NewUserClient(opts Options) *UserClient {
	return &UserClient{req: newRequester(opts, "user"), baseURL: trimBase(opts.BaseURL)}
}

// TargetingUsers returns up to q.Limit users matching q.Rules
func (c *UserClient) TargetingUsers(ctx context.Context, q TargetingQuery) (*TargetingResponse, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("user service URL is not configured")
	}

	body := targetingRequest{
		TargetingRules: q.Rules,
		Limit:          q.Limit,
		BusinessID:     q.BusinessID,
	}
	if q.PrizeID != "" {
		body.Prize = &prizeRef{ID: q.PrizeID}
	}

	resp := &TargetingResponse{}
	if err := c.req.postJSON(ctx, c.baseURL+"/internal/v1/users/query", body, resp); err != nil {
		return nil, fmt.Errorf("failed to query targeting users: %w", err)
	}
	return resp, nil
}
