package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestCampaignJob_Validate(t *testing.T) {
	job := CampaignJob{CampaignID: "c", CampaignExecutionID: "e", BusinessID: "b", MaxAttempts: 2}
	assert.NoError(t, job.Validate())

	job.BusinessID = " "
	err := job.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "businessId")

	assert.NoError(t, (&CampaignJob{CampaignID: "c", CampaignExecutionID: "e", BusinessID: "b"}).Validate())
	assert.Error(t, (&CampaignJob{CampaignID: "c", CampaignExecutionID: "e", BusinessID: "b", Attempt: -1}).Validate())
}

func TestStep_UserRules(t *testing.T) {
	step := &Step{TargetingRules: []*TargetingRule{
		{ID: "1", Database: "USER"},
		{ID: "2", Database: "ORDERS"},
		nil,
		{ID: "3", Database: "USER"},
	}}
	rules := step.UserRules()
	assert.Len(t, rules, 2)
	assert.Equal(t, "1", rules[0].ID)
	assert.Equal(t, "3", rules[1].ID)
}

func TestUser_FullName(t *testing.T) {
	assert.Equal(t, "Customer", (&User{}).FullName())
	assert.Equal(t, "Ada", (&User{FirstName: strPtr("Ada")}).FullName())
	assert.Equal(t, "Ada Lovelace", (&User{FirstName: strPtr("Ada"), LastName: strPtr("Lovelace")}).FullName())
	assert.Equal(t, "Lovelace", (&User{FirstName: strPtr("  "), LastName: strPtr("Lovelace")}).FullName())
}

func TestUser_Context(t *testing.T) {
	u := &User{ID: "u1", FirstName: strPtr("Ada"), Attributes: map[string]any{"tier": "gold", "id": "shadowed"}}
	ctx := u.Context()["user"].(map[string]any)
	assert.Equal(t, "u1", ctx["id"])
	assert.Equal(t, "Ada", ctx["firstName"])
	assert.Equal(t, "gold", ctx["tier"])
	assert.NotContains(t, ctx, "email")
}

func TestOutboxEvent_States(t *testing.T) {
	e := &OutboxEvent{Attempt: 10, MaxAttempts: 10}
	assert.True(t, e.IsGivenUp())
	assert.False(t, e.IsPublished())

	e.Attempt = 3
	assert.False(t, e.IsGivenUp())
}
