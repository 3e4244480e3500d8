package service

import (
	"fmt"
	"sync"

	"github.com/aymerick/raymond"

	"campaignservice/internal/models"
)

// RenderedTemplate is a template rendered for one recipient. Nil fields
// mirror nil template fields.
type RenderedTemplate struct {
	Subject  *string `json:"subject"`
	BodyText string  `json:"bodyText"`
	BodyHTML *string `json:"bodyHtml"`
}

// TemplateService handles message template rendering
type TemplateService struct {
	compiled sync.Map // source -> *raymond.Template
}

// NewTemplateService creates a new template service
func NewTemplateService() *TemplateService {
	return &TemplateService{}
}

// Render renders subject, text body and HTML body as Handlebars templates
// against data, e.g. {{ user.firstName }} or {{#if user.firstName}}...{{/if}}.
// Missing values render empty. {{ }} output is HTML-escaped, {{{ }}} is not.
func (s *TemplateService) Render(tpl *models.Template, data map[string]any) (*RenderedTemplate, error) {
	if tpl == nil {
		return nil, fmt.Errorf("template cannot be nil")
	}
	if data == nil {
		data = map[string]any{}
	}

	body, err := s.exec(tpl.BodyText, data)
	if err != nil {
		return nil, fmt.Errorf("failed to render body: %w", err)
	}
	out := &RenderedTemplate{BodyText: body}

	if tpl.Subject != nil {
		subject, err := s.exec(*tpl.Subject, data)
		if err != nil {
			return nil, fmt.Errorf("failed to render subject: %w", err)
		}
		out.Subject = &subject
	}
	if tpl.BodyHTML != nil {
		html, err := s.exec(*tpl.BodyHTML, data)
		if err != nil {
			return nil, fmt.Errorf("failed to render HTML body: %w", err)
		}
		out.BodyHTML = &html
	}
	return out, nil
}

// ValidateTemplate checks that text parses as a Handlebars template
func (s *TemplateService) ValidateTemplate(text string) error {
	if _, err := s.compile(text); err != nil {
		return fmt.Errorf("invalid template: %w", err)
	}
	return nil
}

// Preview renders a step template against a posted user
func (s *TemplateService) Preview(tpl *models.Template, user *models.User) (*RenderedTemplate, error) {
	if user == nil {
		return nil, &ValidationError{Message: "user is required"}
	}
	if tpl == nil {
		return nil, &ValidationError{Message: "step has no template"}
	}
	for _, text := range []*string{tpl.Subject, &tpl.BodyText, tpl.BodyHTML} {
		if text == nil {
			continue
		}
		if err := s.ValidateTemplate(*text); err != nil {
			return nil, &ValidationError{Message: err.Error()}
		}
	}
	return s.Render(tpl, user.Context())
}

// compile parses source once; parsed templates are shared between renders
func (s *TemplateService) compile(source string) (*raymond.Template, error) {
	if cached, ok := s.compiled.Load(source); ok {
		return cached.(*raymond.Template), nil
	}
	parsed, err := raymond.Parse(source)
	if err != nil {
		return nil, err
	}
	actual, _ := s.compiled.LoadOrStore(source, parsed)
	return actual.(*raymond.Template), nil
}

func (s *TemplateService) exec(source string, data map[string]any) (string, error) {
	tpl, err := s.compile(source)
	if err != nil {
		return "", err
	}
	return tpl.Exec(data)
}
