package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"campaignservice/internal/models"
)

func TestBuildScheduleInput(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	step := newTestStep("step-1", 1, models.ChannelEmail)
	user := &models.User{ID: "u-1", Email: strPtr("a@example.com"), FirstName: strPtr("Ann"), LastName: strPtr("Lee")}
	rendered := &RenderedTemplate{Subject: strPtr("Hi"), BodyText: "Body"}

	in := BuildScheduleInput("se-1", step, user, rendered, "", at)

	assert.Equal(t, "se-1", in.CampaignID)
	assert.Equal(t, "u-1", in.RecipientID)
	assert.Equal(t, models.ChannelEmail, in.Channel)
	assert.Equal(t, at, in.ScheduledAt)
	assert.Equal(t, 1, in.MaxAttempts)
	assert.Equal(t, DefaultFrom, in.Payload.From)
	assert.Equal(t, "Body", in.Payload.BodyText)
	assert.Equal(t, "Ann Lee", in.Payload.To.Name)
	assert.Equal(t, user.Email, in.Payload.To.Email)
	assert.Nil(t, in.Payload.To.Phone)
}

// TestBuildScheduleInput_Defaults tests blank bodies and unnamed users
func TestBuildScheduleInput_Defaults(t *testing.T) {
	step := newTestStep("step-1", 1, models.ChannelSMS)
	user := &models.User{ID: "u-2", Phone: strPtr("+254700000001")}

	in := BuildScheduleInput("se-1", step, user, &RenderedTemplate{BodyText: "  "}, "promo@example.com", time.Now())

	assert.Equal(t, " ", in.Payload.BodyText)
	assert.Equal(t, "Customer", in.Payload.To.Name)
	assert.Equal(t, "promo@example.com", in.Payload.From)
}
