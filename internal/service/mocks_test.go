package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"campaignservice/internal/clients"
	"campaignservice/internal/models"
)

// MockRepository is an in-memory repository.Repository. Func fields override
// individual methods.
type MockRepository struct {
	mu  sync.Mutex
	seq int

	Campaigns      map[string]*models.Campaign
	Due            []models.DueCampaign
	Executions     map[string]*models.CampaignExecution
	StepExecutions map[string]*models.StepExecution
	Recipients     map[string]*models.StepRecipient
	OutboxEvents   []models.NewOutboxEvent
	StepUpdates    map[string][]models.StepExecutionUpdate
	ExecUpdates    map[string][]models.ExecutionUpdate

	FindDueFunc         func(ctx context.Context, now time.Time) ([]models.DueCampaign, error)
	FindCampaignFunc    func(ctx context.Context, id string, scope []string) (*models.Campaign, error)
	FindLatestFunc      func(ctx context.Context, campaignID string, statuses []models.ExecutionStatus) (*models.CampaignExecution, error)
	CreateExecutionFunc func(ctx context.Context, campaignID string) (*models.CampaignExecution, error)
	CreateRecipientFunc func(ctx context.Context, r *models.StepRecipient) error
	CreateOutboxFunc    func(ctx context.Context, e models.NewOutboxEvent) (*models.OutboxEvent, error)
	UpdateCampaignFunc  func(ctx context.Context, id string, scope []string, u models.CampaignUpdate) error
	CreateStepExecFunc  func(ctx context.Context, executionID, stepID string) (*models.StepExecution, error)
	UpdateExecutionFunc func(ctx context.Context, id string, u models.ExecutionUpdate) error
	LastScope           []string
	LastCampaignUpdate  *models.CampaignUpdate
	LastListPage        [2]int

	Calls map[string]int // Track method calls
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		Campaigns:      map[string]*models.Campaign{},
		Executions:     map[string]*models.CampaignExecution{},
		StepExecutions: map[string]*models.StepExecution{},
		Recipients:     map[string]*models.StepRecipient{},
		StepUpdates:    map[string][]models.StepExecutionUpdate{},
		ExecUpdates:    map[string][]models.ExecutionUpdate{},
		Calls:          map[string]int{},
	}
}

func (m *MockRepository) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *MockRepository) call(name string) {
	m.mu.Lock()
	m.Calls[name]++
	m.mu.Unlock()
}

func (m *MockRepository) CallCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[name]
}

func (m *MockRepository) FindDueActiveCampaigns(ctx context.Context, now time.Time) ([]models.DueCampaign, error) {
	m.call("FindDueActiveCampaigns")
	if m.FindDueFunc != nil {
		return m.FindDueFunc(ctx, now)
	}
	return m.Due, nil
}

func (m *MockRepository) FindCampaignByID(ctx context.Context, id string, scope []string) (*models.Campaign, error) {
	m.call("FindCampaignByID")
	m.mu.Lock()
	m.LastScope = scope
	m.mu.Unlock()
	if m.FindCampaignFunc != nil {
		return m.FindCampaignFunc(ctx, id, scope)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Campaigns[id], nil
}

func (m *MockRepository) UpdateCampaign(ctx context.Context, id string, scope []string, u models.CampaignUpdate) error {
	m.call("UpdateCampaign")
	m.mu.Lock()
	m.LastCampaignUpdate = &u
	m.mu.Unlock()
	if m.UpdateCampaignFunc != nil {
		return m.UpdateCampaignFunc(ctx, id, scope, u)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.Campaigns[id]
	if c == nil {
		return fmt.Errorf("campaign %s missing", id)
	}
	if u.Status != nil {
		c.Status = *u.Status
	}
	if u.StartAt != nil {
		c.StartAt = u.StartAt
	}
	if u.EndAt != nil {
		c.EndAt = u.EndAt
	}
	return nil
}

func (m *MockRepository) CreateCampaignExecution(ctx context.Context, campaignID string) (*models.CampaignExecution, error) {
	m.call("CreateCampaignExecution")
	if m.CreateExecutionFunc != nil {
		return m.CreateExecutionFunc(ctx, campaignID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &models.CampaignExecution{ID: m.nextID("exec"), CampaignID: campaignID, Status: models.ExecutionRunning, RunAt: time.Now()}
	m.Executions[e.ID] = e
	return e, nil
}

func (m *MockRepository) FindCampaignExecution(ctx context.Context, id string) (*models.CampaignExecution, error) {
	m.call("FindCampaignExecution")
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.Executions[id]; ok {
		copied := *e
		return &copied, nil
	}
	return nil, nil
}

func (m *MockRepository) FindLatestCampaignExecution(ctx context.Context, campaignID string, statuses []models.ExecutionStatus) (*models.CampaignExecution, error) {
	m.call("FindLatestCampaignExecution")
	if m.FindLatestFunc != nil {
		return m.FindLatestFunc(ctx, campaignID, statuses)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.CampaignExecution
	for _, e := range m.Executions {
		if e.CampaignID != campaignID || !hasStatus(statuses, e.Status) {
			continue
		}
		if latest == nil || e.RunAt.After(latest.RunAt) {
			latest = e
		}
	}
	return latest, nil
}

func hasStatus(statuses []models.ExecutionStatus, s models.ExecutionStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func (m *MockRepository) ListCampaignExecutions(ctx context.Context, campaignID string, page, pageSize int) ([]*models.CampaignExecution, int, error) {
	m.call("ListCampaignExecutions")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastListPage = [2]int{page, pageSize}
	var out []*models.CampaignExecution
	for _, e := range m.Executions {
		if e.CampaignID == campaignID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.After(out[j].RunAt) })
	return out, len(out), nil
}

func (m *MockRepository) UpdateCampaignExecution(ctx context.Context, id string, u models.ExecutionUpdate) error {
	m.call("UpdateCampaignExecution")
	if m.UpdateExecutionFunc != nil {
		if err := m.UpdateExecutionFunc(ctx, id, u); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExecUpdates[id] = append(m.ExecUpdates[id], u)
	if e, ok := m.Executions[id]; ok {
		e.Status = u.Status
		if u.ErrorMessage != nil {
			e.ErrorMessage = u.ErrorMessage
		} else if u.ClearError {
			e.ErrorMessage = nil
		}
	}
	return nil
}

func (m *MockRepository) CreateStepExecution(ctx context.Context, executionID, stepID string) (*models.StepExecution, error) {
	m.call("CreateStepExecution")
	if m.CreateStepExecFunc != nil {
		return m.CreateStepExecFunc(ctx, executionID, stepID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	se := &models.StepExecution{ID: m.nextID("se"), CampaignExecutionID: executionID, StepID: stepID, Status: models.StepRunning}
	m.StepExecutions[se.ID] = se
	copied := *se
	return &copied, nil
}

func (m *MockRepository) FindStepExecution(ctx context.Context, executionID, stepID string) (*models.StepExecution, error) {
	m.call("FindStepExecution")
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, se := range m.StepExecutions {
		if se.CampaignExecutionID == executionID && se.StepID == stepID {
			copied := *se
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *MockRepository) UpdateStepExecution(ctx context.Context, id string, u models.StepExecutionUpdate) error {
	m.call("UpdateStepExecution")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StepUpdates[id] = append(m.StepUpdates[id], u)
	if se, ok := m.StepExecutions[id]; ok {
		se.Status = u.Status
		if u.ErrorMessage != nil {
			se.ErrorMessage = u.ErrorMessage
		}
	}
	return nil
}

func (m *MockRepository) CreateStepRecipient(ctx context.Context, r *models.StepRecipient) error {
	m.call("CreateStepRecipient")
	if m.CreateRecipientFunc != nil {
		if err := m.CreateRecipientFunc(ctx, r); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = m.nextID("rcpt")
	copied := *r
	m.Recipients[r.ID] = &copied
	return nil
}

func (m *MockRepository) FindStepRecipient(ctx context.Context, stepExecutionID, userID string) (*models.StepRecipient, error) {
	m.call("FindStepRecipient")
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.Recipients {
		if r.StepExecutionID == stepExecutionID && r.UserID == userID {
			copied := *r
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *MockRepository) ListStepRecipients(ctx context.Context, stepExecutionID string) ([]*models.StepRecipient, error) {
	m.call("ListStepRecipients")
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.StepRecipient
	for _, r := range m.Recipients {
		if r.StepExecutionID == stepExecutionID {
			copied := *r
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockRepository) UpdateStepRecipient(ctx context.Context, id string, u models.RecipientUpdate) error {
	m.call("UpdateStepRecipient")
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.Recipients[id]
	if !ok {
		return fmt.Errorf("recipient %s missing", id)
	}
	r.Status = u.Status
	if u.Attempts != nil {
		r.Attempts = *u.Attempts
	}
	if u.EnqueuedAt != nil {
		r.EnqueuedAt = u.EnqueuedAt
	}
	return nil
}

func (m *MockRepository) CreateOutboxEvent(ctx context.Context, e models.NewOutboxEvent) (*models.OutboxEvent, error) {
	m.call("CreateOutboxEvent")
	if m.CreateOutboxFunc != nil {
		return m.CreateOutboxFunc(ctx, e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OutboxEvents = append(m.OutboxEvents, e)
	return &models.OutboxEvent{ID: m.nextID("evt"), Type: e.Type, Payload: e.Payload}, nil
}

func (m *MockRepository) FetchUnpublishedOutboxEvents(ctx context.Context, limit int, now time.Time) ([]*models.OutboxEvent, error) {
	m.call("FetchUnpublishedOutboxEvents")
	return nil, nil
}

func (m *MockRepository) MarkOutboxEventPublished(ctx context.Context, id string) error {
	m.call("MarkOutboxEventPublished")
	return nil
}

func (m *MockRepository) MarkOutboxEventFailed(ctx context.Context, id, errMsg string, backoffSeconds int) error {
	m.call("MarkOutboxEventFailed")
	return nil
}

func (m *MockRepository) MarkOutboxEventGiveUp(ctx context.Context, id, errMsg string) error {
	m.call("MarkOutboxEventGiveUp")
	return nil
}

// recipientsFor returns the recipients of a step execution by status
func (m *MockRepository) recipientsFor(stepExecutionID string) map[models.RecipientStatus]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[models.RecipientStatus]int{}
	for _, r := range m.Recipients {
		if r.StepExecutionID == stepExecutionID {
			out[r.Status]++
		}
	}
	return out
}

// MockBusinessClient mocks BusinessClient
type MockBusinessClient struct {
	AvailableFunc func(ctx context.Context, businessID string) ([]byte, error)
	CouponFunc    func(ctx context.Context, userID, businessID, prizeID string) (bool, error)
	Allowance     string

	mu    sync.Mutex
	Calls map[string]int
}

func NewMockBusinessClient(allowance string) *MockBusinessClient {
	return &MockBusinessClient{Allowance: allowance, Calls: map[string]int{}}
}

func (m *MockBusinessClient) AvailableMessages(ctx context.Context, businessID string) ([]byte, error) {
	m.mu.Lock()
	m.Calls["AvailableMessages"]++
	m.mu.Unlock()
	if m.AvailableFunc != nil {
		return m.AvailableFunc(ctx, businessID)
	}
	return []byte(m.Allowance), nil
}

func (m *MockBusinessClient) EnsureCoupon(ctx context.Context, userID, businessID, prizeID string) (bool, error) {
	m.mu.Lock()
	m.Calls["EnsureCoupon"]++
	m.mu.Unlock()
	if m.CouponFunc != nil {
		return m.CouponFunc(ctx, userID, businessID, prizeID)
	}
	return true, nil
}

// MockUserClient mocks UserClient
type MockUserClient struct {
	TargetingFunc func(ctx context.Context, q clients.TargetingQuery) (*clients.TargetingResponse, error)
	Users         []*models.User
	Queries       []clients.TargetingQuery
}

func (m *MockUserClient) TargetingUsers(ctx context.Context, q clients.TargetingQuery) (*clients.TargetingResponse, error) {
	m.Queries = append(m.Queries, q)
	if m.TargetingFunc != nil {
		return m.TargetingFunc(ctx, q)
	}
	return &clients.TargetingResponse{Users: m.Users}, nil
}

// MockMessagingClient mocks MessagingClient
type MockMessagingClient struct {
	ScheduleFunc func(ctx context.Context, in clients.ScheduleInput) error

	mu   sync.Mutex
	Sent []clients.ScheduleInput
}

func (m *MockMessagingClient) Schedule(ctx context.Context, in clients.ScheduleInput) error {
	if m.ScheduleFunc != nil {
		if err := m.ScheduleFunc(ctx, in); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.Sent = append(m.Sent, in)
	m.mu.Unlock()
	return nil
}

// MockJobPublisher mocks JobPublisher
type MockJobPublisher struct {
	PublishFunc func(ctx context.Context, job models.CampaignJob) error

	mu   sync.Mutex
	Jobs []models.CampaignJob
}

func (m *MockJobPublisher) PublishJob(ctx context.Context, job models.CampaignJob) error {
	if m.PublishFunc != nil {
		if err := m.PublishFunc(ctx, job); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.Jobs = append(m.Jobs, job)
	m.mu.Unlock()
	return nil
}

// Test fixtures

func strPtr(s string) *string { return &s }

func ruleUser() *models.TargetingRule {
	return &models.TargetingRule{ID: "r-1", Database: models.RuleDatabaseUser, Field: "age", Operator: "gt", Value: []byte(`18`)}
}

func newTestStep(id string, order int, channel models.Channel) *models.Step {
	return &models.Step{
		ID:        id,
		StepOrder: order,
		Channel:   channel,
		Template: &models.Template{
			ID:       "tpl-" + id,
			Channel:  channel,
			Subject:  strPtr("Hi {{ user.firstName }}"),
			BodyText: "Hello {{ user.firstName }}",
		},
		TargetingRules: []*models.TargetingRule{ruleUser()},
	}
}

func newTestCampaign(steps ...*models.Step) *models.Campaign {
	for _, s := range steps {
		s.CampaignID = "camp-1"
	}
	return &models.Campaign{
		ID:           "camp-1",
		BusinessID:   "biz-1",
		Name:         "Spring promo",
		Status:       models.CampaignStatusActive,
		ScheduleType: models.ScheduleOneTime,
		Steps:        steps,
	}
}

func newTestUsers(n int) []*models.User {
	users := make([]*models.User, n)
	for i := range users {
		users[i] = &models.User{
			ID:        fmt.Sprintf("user-%d", i+1),
			Email:     strPtr(fmt.Sprintf("user%d@example.com", i+1)),
			FirstName: strPtr(fmt.Sprintf("User%d", i+1)),
		}
	}
	return users
}
