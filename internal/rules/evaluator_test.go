package rules

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herald/internal/config"
	"herald/internal/delivery"
	"herald/internal/logger"
	"herald/internal/queuestore"
	"herald/pkg/cel"
	"herald/pkg/models"
)

type fakeRules struct {
	rules  []Rule
	err    error
	marked []string
}

func (f *fakeRules) ListEnabled(context.Context) ([]Rule, error) {
	return f.rules, f.err
}

func (f *fakeRules) MarkRun(_ context.Context, ruleID string, _ time.Time) error {
	f.marked = append(f.marked, ruleID)
	return nil
}

type fakeEntities struct {
	entities []Entity
	err      error
}

func (f *fakeEntities) ListByType(_ context.Context, tenantID, entityType string) ([]Entity, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []Entity
	for _, e := range f.entities {
		if e.TenantID == tenantID && e.Type == entityType {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeTemplates map[string]*Template

func (f fakeTemplates) Get(_ context.Context, tenantID, ref string) (*Template, error) {
	if t, ok := f[tenantID+"/"+ref]; ok {
		return t, nil
	}
	return nil, ErrTemplateNotFound
}

type recordingSubmitter struct {
	mu       sync.Mutex
	envs     []*models.Envelope
	rejectTo map[string]string
}

func (s *recordingSubmitter) Enqueue(_ context.Context, env *models.Envelope) (delivery.EnqueueResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reason, ok := s.rejectTo[env.Recipient]; ok {
		return delivery.EnqueueResult{Accepted: false, MessageID: env.ID, Reason: reason}, nil
	}
	s.envs = append(s.envs, env)
	return delivery.EnqueueResult{Accepted: true, MessageID: env.ID, Status: models.StatusQueued}, nil
}

type evalHarness struct {
	eval      *Evaluator
	rules     *fakeRules
	entities  *fakeEntities
	submitter *recordingSubmitter
	store     *queuestore.MemoryStore
}

func newEvalHarness(t *testing.T, rules []Rule, entities []Entity) *evalHarness {
	t.Helper()

	conditions, err := cel.NewEvaluator()
	require.NoError(t, err)

	h := &evalHarness{
		rules:     &fakeRules{rules: rules},
		entities:  &fakeEntities{entities: entities},
		submitter: &recordingSubmitter{},
		store:     queuestore.NewMemoryStore(0),
	}
	templates := fakeTemplates{
		"school-1/fee_due": {Ref: "fee_due", TenantID: "school-1", Body: "Hello {{name}}, your fee of {{amount}} is overdue."},
	}

	h.eval, err = NewEvaluator(
		config.RulesConfig{GraceMinutes: 5, Timezone: "UTC"},
		h.rules, h.entities, templates, h.submitter, h.store, conditions, logger.NopLogger(),
	)
	require.NoError(t, err)
	return h
}

func feeRule() Rule {
	return Rule{
		ID:          "rule-fees",
		TenantID:    "school-1",
		Enabled:     true,
		EntityType:  "student",
		TimeOfDay:   "09:00",
		Frequency:   FrequencyDaily,
		TemplateRef: "fee_due",
		MessageType: "fee_reminder",
		Criteria: []Criterion{
			{Field: "status", Operator: OperatorEquals, Value: "unpaid"},
			{Field: "due_date", Operator: OperatorDate, Condition: DateOverdue},
		},
	}
}

func students() []Entity {
	return []Entity{
		{ID: "s1", TenantID: "school-1", Type: "student", Attributes: map[string]interface{}{
			"name": "Ada", "recipient": "+15550001", "status": "unpaid", "due_date": "2026-02-20", "amount": float64(120),
		}},
		{ID: "s2", TenantID: "school-1", Type: "student", Attributes: map[string]interface{}{
			"name": "Bo", "recipient": "+15550002", "status": "paid", "due_date": "2026-02-20", "amount": float64(80),
		}},
		{ID: "s3", TenantID: "school-1", Type: "student", Attributes: map[string]interface{}{
			"name": "Cy", "recipient": "+15550003", "status": "unpaid", "due_date": "2026-02-27", "amount": float64(40),
		}},
		{ID: "s4", TenantID: "school-2", Type: "student", Attributes: map[string]interface{}{
			"name": "Di", "recipient": "+15550004", "status": "unpaid", "due_date": "2026-02-01",
		}},
	}
}

var sweepTime = time.Date(2026, 3, 2, 9, 3, 0, 0, time.UTC)

func TestSweepSubmitsMatchingEntities(t *testing.T) {
	h := newEvalHarness(t, []Rule{feeRule()}, students())

	res, err := h.eval.Sweep(context.Background(), sweepTime)
	require.NoError(t, err)

	assert.Equal(t, 1, res.RulesChecked)
	assert.Equal(t, 1, res.RulesFired)
	assert.Equal(t, 2, res.Submitted)
	require.Len(t, h.submitter.envs, 2)

	env := h.submitter.envs[0]
	assert.Equal(t, "school-1", env.TenantID)
	assert.Equal(t, "+15550001", env.Recipient)
	assert.Equal(t, "Hello Ada, your fee of 120 is overdue.", env.Content)
	assert.Equal(t, "fee_reminder", env.Type)
	assert.Equal(t, "rule", env.Metadata.Source)
	assert.Equal(t, "rule-fees", env.Metadata.RuleID)
	assert.Equal(t, "rules", env.Behavior.Service)
	assert.Equal(t, []string{"rule-fees"}, h.rules.marked)
}

func TestSweepFiresOncePerDay(t *testing.T) {
	h := newEvalHarness(t, []Rule{feeRule()}, students())
	ctx := context.Background()

	_, err := h.eval.Sweep(ctx, sweepTime)
	require.NoError(t, err)

	res, err := h.eval.Sweep(ctx, sweepTime.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, res.RulesFired)
	assert.Equal(t, 1, res.RulesSkipped)
	assert.Len(t, h.submitter.envs, 2)

	next := sweepTime.Add(24 * time.Hour)
	res, err = h.eval.Sweep(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RulesFired)
	assert.Len(t, h.submitter.envs, 4)
}

func TestSweepGraceWindowCrossesMidnight(t *testing.T) {
	rule := feeRule()
	rule.TimeOfDay = "23:58"
	rule.Frequency = FrequencyWeekly
	rule.Days = []int{int(time.Monday)}
	ctx := context.Background()

	late := newEvalHarness(t, []Rule{rule}, students())
	res, err := late.eval.Sweep(ctx, time.Date(2026, 3, 3, 0, 2, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, res.RulesFired, "Monday's firing is still inside the grace window on Tuesday")

	h := newEvalHarness(t, []Rule{rule}, students())
	res, err = h.eval.Sweep(ctx, time.Date(2026, 3, 2, 23, 59, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, res.RulesFired)

	res, err = h.eval.Sweep(ctx, time.Date(2026, 3, 3, 0, 2, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, res.RulesFired)
	assert.Equal(t, 1, res.RulesSkipped)
	assert.Len(t, h.submitter.envs, 2)
}

func TestSweepOutsideTimeWindowDoesNothing(t *testing.T) {
	h := newEvalHarness(t, []Rule{feeRule()}, students())

	res, err := h.eval.Sweep(context.Background(), sweepTime.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, res.RulesFired)
	assert.Empty(t, h.submitter.envs)
}

func TestSweepWeeklyRule(t *testing.T) {
	rule := feeRule()
	rule.Frequency = FrequencyWeekly
	rule.Days = []int{int(time.Tuesday)}
	h := newEvalHarness(t, []Rule{rule}, students())

	res, err := h.eval.Sweep(context.Background(), sweepTime)
	require.NoError(t, err)
	assert.Equal(t, 0, res.RulesFired)

	res, err = h.eval.Sweep(context.Background(), sweepTime.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, res.RulesFired)
}

func TestSweepSkipsRulesWithoutTemplate(t *testing.T) {
	noRef := feeRule()
	noRef.ID = "rule-no-ref"
	noRef.TemplateRef = ""
	missing := feeRule()
	missing.ID = "rule-missing"
	missing.TemplateRef = "deleted"
	h := newEvalHarness(t, []Rule{noRef, missing, feeRule()}, students())

	res, err := h.eval.Sweep(context.Background(), sweepTime)
	require.NoError(t, err)

	assert.Equal(t, 3, res.RulesChecked)
	assert.Equal(t, 2, res.RulesSkipped)
	assert.Equal(t, 1, res.RulesFired)
	assert.Len(t, h.submitter.envs, 2)
}

func TestSweepAppliesCondition(t *testing.T) {
	rule := feeRule()
	rule.Condition = `double(entity.amount) >= 100.0`
	h := newEvalHarness(t, []Rule{rule}, students())

	res, err := h.eval.Sweep(context.Background(), sweepTime)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Submitted)
	require.Len(t, h.submitter.envs, 1)
	assert.Equal(t, "+15550001", h.submitter.envs[0].Recipient)
}

func TestSweepCountsRejections(t *testing.T) {
	h := newEvalHarness(t, []Rule{feeRule()}, students())
	h.submitter.rejectTo = map[string]string{"+15550003": "duplicate_content"}

	res, err := h.eval.Sweep(context.Background(), sweepTime)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Submitted)
	assert.Equal(t, 1, res.Rejected)
}

func TestSweepReleasesMarkerWhenEntitiesFail(t *testing.T) {
	h := newEvalHarness(t, []Rule{feeRule()}, students())
	h.entities.err = errors.New("connection refused")
	ctx := context.Background()

	res, err := h.eval.Sweep(ctx, sweepTime)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 0, res.RulesFired)

	_, err = h.store.Get(ctx, queuestore.RuleFiredKey("rule-fees", sweepTime))
	assert.ErrorIs(t, err, queuestore.ErrNotFound)

	h.entities.err = nil
	res, err = h.eval.Sweep(ctx, sweepTime.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, res.RulesFired)
	assert.Equal(t, 2, res.Submitted)
}

func TestSweepRuleListFailure(t *testing.T) {
	h := newEvalHarness(t, nil, nil)
	h.rules.err = errors.New("db down")

	_, err := h.eval.Sweep(context.Background(), sweepTime)
	assert.Error(t, err)
}

func TestSweepUsesConfiguredTimezone(t *testing.T) {
	h := newEvalHarness(t, []Rule{feeRule()}, students())
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	h.eval.location = loc

	// 09:03 UTC is 04:03 in New York.
	res, err := h.eval.Sweep(context.Background(), sweepTime)
	require.NoError(t, err)
	assert.Equal(t, 0, res.RulesFired)

	res, err = h.eval.Sweep(context.Background(), time.Date(2026, 3, 2, 14, 2, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, res.RulesFired)
}

func TestNewEvaluatorRejectsUnknownTimezone(t *testing.T) {
	_, err := NewEvaluator(config.RulesConfig{Timezone: "Mars/Olympus"}, nil, nil, nil, nil, nil, nil, logger.NopLogger())
	assert.Error(t, err)
}
