package management

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herald/internal/broker"
	"herald/internal/logger"
	"herald/internal/rules"
	"herald/pkg/cel"
	pkgerrors "herald/pkg/errors"
	"herald/pkg/models"
)

type memRules struct {
	byID map[string]rules.Rule
	err  error
}

func newMemRules() *memRules { return &memRules{byID: map[string]rules.Rule{}} }

func (m *memRules) Create(_ context.Context, rule *rules.Rule) error {
	if m.err != nil {
		return m.err
	}
	if rule.ID == "" {
		rule.ID = "generated"
	}
	if _, ok := m.byID[rule.ID]; ok {
		return rules.ErrRuleExists
	}
	m.byID[rule.ID] = *rule
	return nil
}

func (m *memRules) Get(_ context.Context, tenantID, id string) (*rules.Rule, error) {
	r, ok := m.byID[id]
	if !ok || r.TenantID != tenantID {
		return nil, rules.ErrRuleNotFound
	}
	return &r, nil
}

func (m *memRules) ListByTenant(_ context.Context, tenantID string) ([]rules.Rule, error) {
	var out []rules.Rule
	for _, r := range m.byID {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out, m.err
}

func (m *memRules) Update(_ context.Context, rule *rules.Rule) error {
	if _, ok := m.byID[rule.ID]; !ok {
		return rules.ErrRuleNotFound
	}
	m.byID[rule.ID] = *rule
	return nil
}

func (m *memRules) Delete(_ context.Context, tenantID, id string) error {
	r, ok := m.byID[id]
	if !ok || r.TenantID != tenantID {
		return rules.ErrRuleNotFound
	}
	delete(m.byID, id)
	return nil
}

type memTemplates map[string]rules.Template

func (m memTemplates) Get(_ context.Context, tenantID, ref string) (*rules.Template, error) {
	t, ok := m[tenantID+"/"+ref]
	if !ok {
		return nil, rules.ErrTemplateNotFound
	}
	return &t, nil
}

func (m memTemplates) List(_ context.Context, tenantID string) ([]rules.Template, error) {
	out := []rules.Template{}
	for _, t := range m {
		if t.TenantID == tenantID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m memTemplates) Put(_ context.Context, tmpl *rules.Template) error {
	m[tmpl.TenantID+"/"+tmpl.Ref] = *tmpl
	return nil
}

func (m memTemplates) Delete(_ context.Context, tenantID, ref string) error {
	if _, ok := m[tenantID+"/"+ref]; !ok {
		return rules.ErrTemplateNotFound
	}
	delete(m, tenantID+"/"+ref)
	return nil
}

type memEntities struct {
	upserted []rules.Entity
}

func (m *memEntities) Upsert(_ context.Context, e *rules.Entity) error {
	m.upserted = append(m.upserted, *e)
	return nil
}

func (m *memEntities) Delete(_ context.Context, _, _, _ string) error {
	return rules.ErrEntityNotFound
}

type recordingProducer struct {
	mu     sync.Mutex
	events []RuleChangeEvent
	err    error
}

func (p *recordingProducer) Publish(_ context.Context, _, _ string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, payload.(RuleChangeEvent))
	return nil
}

func (p *recordingProducer) Close() error { return nil }

var _ broker.Producer = (*recordingProducer)(nil)

type serviceHarness struct {
	svc       Service
	rules     *memRules
	templates memTemplates
	entities  *memEntities
	producer  *recordingProducer
}

func newServiceHarness(t *testing.T) *serviceHarness {
	t.Helper()
	conditions, err := cel.NewEvaluator()
	require.NoError(t, err)

	h := &serviceHarness{
		rules:     newMemRules(),
		templates: memTemplates{},
		entities:  &memEntities{},
		producer:  &recordingProducer{},
	}
	h.svc = NewService(h.rules, h.templates, h.entities, conditions, logger.NopLogger(),
		WithRuleEvents(NewRuleEventProducer(h.producer, "rule_changes")),
	)
	return h
}

func createReq() CreateRuleRequest {
	return CreateRuleRequest{
		ID:          "rule-fees",
		Name:        "Overdue fees",
		EntityType:  "student",
		TimeOfDay:   "09:00",
		TemplateRef: "fee_due",
	}
}

func TestCreateRuleAppliesDefaults(t *testing.T) {
	h := newServiceHarness(t)
	ctx := WithActor(context.Background(), "ops@school")

	rule, err := h.svc.CreateRule(ctx, "school-1", createReq())
	require.NoError(t, err)

	assert.Equal(t, "school-1", rule.TenantID)
	assert.True(t, rule.Enabled)
	assert.Equal(t, rules.FrequencyDaily, rule.Frequency)
	assert.Equal(t, models.PriorityNormal, rule.Priority)
	assert.Equal(t, "recipient", rule.RecipientField)

	require.Len(t, h.producer.events, 1)
	assert.Equal(t, ActionCreate, h.producer.events[0].Action)
	assert.Equal(t, "ops@school", h.producer.events[0].ChangedBy)
}

func TestCreateRuleValidationAndConflict(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()

	bad := createReq()
	bad.TimeOfDay = "nine"
	_, err := h.svc.CreateRule(ctx, "school-1", bad)
	assert.True(t, pkgerrors.IsValidation(err))

	_, err = h.svc.CreateRule(ctx, "school-1", createReq())
	require.NoError(t, err)
	_, err = h.svc.CreateRule(ctx, "school-1", createReq())
	assert.True(t, pkgerrors.IsConflict(err))
}

func TestUpdateRuleChangesOnlySetFields(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateRule(ctx, "school-1", createReq())
	require.NoError(t, err)

	disabled := false
	weekly := rules.FrequencyWeekly
	days := []int{1, 4}
	rule, err := h.svc.UpdateRule(ctx, "school-1", "rule-fees", UpdateRuleRequest{
		Enabled:   &disabled,
		Frequency: &weekly,
		Days:      &days,
	})
	require.NoError(t, err)
	assert.False(t, rule.Enabled)
	assert.Equal(t, []int{1, 4}, rule.Days)
	assert.Equal(t, "Overdue fees", rule.Name)

	noDays := []int{}
	_, err = h.svc.UpdateRule(ctx, "school-1", "rule-fees", UpdateRuleRequest{Days: &noDays})
	assert.True(t, pkgerrors.IsValidation(err))

	_, err = h.svc.UpdateRule(ctx, "school-2", "rule-fees", UpdateRuleRequest{Enabled: &disabled})
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestDeleteRule(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateRule(ctx, "school-1", createReq())
	require.NoError(t, err)

	require.NoError(t, h.svc.DeleteRule(ctx, "school-1", "rule-fees"))
	assert.True(t, pkgerrors.IsNotFound(h.svc.DeleteRule(ctx, "school-1", "rule-fees")))

	require.Len(t, h.producer.events, 2)
	assert.Equal(t, ActionDelete, h.producer.events[1].Action)
	assert.Equal(t, "system", h.producer.events[1].ChangedBy)
}

func TestRuleEventFailureDoesNotFailChange(t *testing.T) {
	h := newServiceHarness(t)
	h.producer.err = errors.New("broker down")

	_, err := h.svc.CreateRule(context.Background(), "school-1", createReq())
	assert.NoError(t, err)
}

func TestListRulesNeverNil(t *testing.T) {
	h := newServiceHarness(t)
	list, err := h.svc.ListRules(context.Background(), "school-1")
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestTemplates(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()

	tmpl, err := h.svc.PutTemplate(ctx, "school-1", "fee_due", TemplateRequest{Name: "Fee due", Body: "Hi {{name}}"})
	require.NoError(t, err)
	assert.Equal(t, "fee_due", tmpl.Ref)

	got, err := h.svc.GetTemplate(ctx, "school-1", "fee_due")
	require.NoError(t, err)
	assert.Equal(t, "Hi {{name}}", got.Body)

	_, err = h.svc.GetTemplate(ctx, "school-2", "fee_due")
	assert.True(t, pkgerrors.IsNotFound(err))

	_, err = h.svc.PutTemplate(ctx, "school-1", "empty", TemplateRequest{})
	assert.True(t, pkgerrors.IsValidation(err))

	require.NoError(t, h.svc.DeleteTemplate(ctx, "school-1", "fee_due"))
	assert.True(t, pkgerrors.IsNotFound(h.svc.DeleteTemplate(ctx, "school-1", "fee_due")))
}

func TestEntities(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()

	e, err := h.svc.PutEntity(ctx, "school-1", "student", "s1", EntityRequest{
		Attributes: map[string]interface{}{"name": "Ada", "recipient": "+15550001"},
	})
	require.NoError(t, err)
	assert.Equal(t, "student", e.Type)
	require.Len(t, h.entities.upserted, 1)

	assert.True(t, pkgerrors.IsNotFound(h.svc.DeleteEntity(ctx, "school-1", "student", "missing")))
}
