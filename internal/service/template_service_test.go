package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campaignservice/internal/models"
)

// TestTemplateRendering_AllFields tests placeholder substitution against a full user
func TestTemplateRendering_AllFields(t *testing.T) {
	svc := NewTemplateService()
	user := &models.User{
		ID:         "u-1",
		Email:      strPtr("jane@example.com"),
		FirstName:  strPtr("Jane"),
		LastName:   strPtr("Doe"),
		Attributes: map[string]any{"city": "Nairobi", "points": float64(120)},
	}
	tpl := &models.Template{
		Subject:  strPtr("Hello {{ user.firstName }}"),
		BodyText: "{{user.firstName}} {{ user.lastName }} from {{ user.city }} has {{ user.attributes.points }} points",
	}

	out, err := svc.Render(tpl, user.Context())

	require.NoError(t, err)
	require.NotNil(t, out.Subject)
	assert.Equal(t, "Hello Jane", *out.Subject)
	assert.Equal(t, "Jane Doe from Nairobi has 120 points", out.BodyText)
	assert.Nil(t, out.BodyHTML)
}

// TestTemplateRendering_MissingFields tests that unknown paths render empty
func TestTemplateRendering_MissingFields(t *testing.T) {
	svc := NewTemplateService()
	user := &models.User{ID: "u-1"}
	tpl := &models.Template{BodyText: "Hi {{ user.firstName }}{{ user.nope.deeper }}!"}

	out, err := svc.Render(tpl, user.Context())

	require.NoError(t, err)
	assert.Equal(t, "Hi !", out.BodyText)
}

// TestTemplateRendering_HTMLEscaping tests that double braces escape and triple braces do not
func TestTemplateRendering_HTMLEscaping(t *testing.T) {
	svc := NewTemplateService()
	user := &models.User{ID: "u-1", FirstName: strPtr("<b>Tom & Jerry</b>")}
	tpl := &models.Template{
		BodyText: "Hi {{{ user.firstName }}}",
		BodyHTML: strPtr("<p>{{ user.firstName }}</p><p>{{{ user.firstName }}}</p>"),
	}

	out, err := svc.Render(tpl, user.Context())

	require.NoError(t, err)
	assert.Equal(t, "Hi <b>Tom & Jerry</b>", out.BodyText)
	require.NotNil(t, out.BodyHTML)
	assert.Equal(t, "<p>&lt;b&gt;Tom &amp; Jerry&lt;/b&gt;</p><p><b>Tom & Jerry</b></p>", *out.BodyHTML)
}

// TestTemplateRendering_Conditionals tests if/else blocks on present and missing fields
func TestTemplateRendering_Conditionals(t *testing.T) {
	svc := NewTemplateService()
	tpl := &models.Template{BodyText: "{{#if user.firstName}}Hi {{user.firstName}}{{else}}Hi there{{/if}}"}

	out, err := svc.Render(tpl, map[string]any{"user": map[string]any{"firstName": "Ana"}})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ana", out.BodyText)

	out, err = svc.Render(tpl, (&models.User{ID: "u-1"}).Context())
	require.NoError(t, err)
	assert.Equal(t, "Hi there", out.BodyText)
}

// TestTemplateRendering_Blocks tests each and with blocks over the recipient context
func TestTemplateRendering_Blocks(t *testing.T) {
	svc := NewTemplateService()
	data := map[string]any{"user": map[string]any{
		"firstName": "Ana",
		"tags":      []any{"gold", "early"},
	}}
	tpl := &models.Template{BodyText: "{{#with user}}{{firstName}}:{{/with}}{{#each user.tags}} {{this}}{{/each}}{{#unless user.lastName}} (no surname){{/unless}}"}

	out, err := svc.Render(tpl, data)

	require.NoError(t, err)
	assert.Equal(t, "Ana: gold early (no surname)", out.BodyText)
}

func TestTemplateRendering_ParseError(t *testing.T) {
	_, err := NewTemplateService().Render(&models.Template{BodyText: "{{#if user.firstName}}unclosed"}, nil)
	assert.Error(t, err)
}

// TestTemplateRendering_NoPlaceholders tests static text passes through
func TestTemplateRendering_NoPlaceholders(t *testing.T) {
	svc := NewTemplateService()
	out, err := svc.Render(&models.Template{BodyText: "Static message"}, nil)

	require.NoError(t, err)
	assert.Equal(t, "Static message", out.BodyText)
}

func TestTemplateRendering_NilTemplate(t *testing.T) {
	_, err := NewTemplateService().Render(nil, nil)
	assert.Error(t, err)
}

func TestValidateTemplate(t *testing.T) {
	svc := NewTemplateService()
	assert.NoError(t, svc.ValidateTemplate("Hi {{ user.firstName }}"))
	assert.NoError(t, svc.ValidateTemplate("no placeholders"))
	assert.NoError(t, svc.ValidateTemplate("{{#if user.vip}}VIP{{else}}Hi{{/if}}"))
	assert.Error(t, svc.ValidateTemplate("Hi {{ user.firstName "))
	assert.Error(t, svc.ValidateTemplate("{{#each user.tags}}no close"))
}

func TestPreview(t *testing.T) {
	svc := NewTemplateService()
	tpl := &models.Template{BodyText: "Hi {{ user.firstName }}"}

	out, err := svc.Preview(tpl, &models.User{ID: "u-1", FirstName: strPtr("Ann")})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ann", out.BodyText)

	_, err = svc.Preview(tpl, nil)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = svc.Preview(&models.Template{BodyText: "Hi {{ user.firstName"}, &models.User{ID: "u-1"})
	assert.ErrorAs(t, err, &verr)

	_, err = svc.Preview(&models.Template{Subject: strPtr("{{#if x}}"), BodyText: "ok"}, &models.User{ID: "u-1"})
	assert.ErrorAs(t, err, &verr)

	_, err = svc.Preview(nil, &models.User{ID: "u-1"})
	assert.ErrorAs(t, err, &verr)
}
