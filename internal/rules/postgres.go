package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"herald/pkg/metrics"
	"herald/pkg/models"
)

const metricsService = "rules"

// uniqueViolation is the PostgreSQL error code for a duplicate key.
const uniqueViolation = "23505"

const ruleColumns = `id, tenant_id, name, enabled, entity_type, time_of_day, frequency, days,
	criteria, condition, template_ref, recipient_field, message_type, priority,
	behavior, last_run_at, created_at, updated_at`

func observeQuery(database, operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.IncDatabaseQuery(metricsService, database, operation, status)
	metrics.ObserveDatabaseQueryDuration(metricsService, database, operation, time.Since(start))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (Rule, error) {
	var (
		rule                     Rule
		frequency, priority      string
		days                     pq.Int64Array
		criteriaRaw, behaviorRaw []byte
		lastRun                  sql.NullTime
	)

	if err := row.Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Enabled, &rule.EntityType,
		&rule.TimeOfDay, &frequency, &days, &criteriaRaw, &rule.Condition,
		&rule.TemplateRef, &rule.RecipientField, &rule.MessageType, &priority,
		&behaviorRaw, &lastRun, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return Rule{}, err
	}

	rule.Frequency = Frequency(frequency)
	rule.Priority = models.Priority(priority)
	for _, d := range days {
		rule.Days = append(rule.Days, int(d))
	}
	if len(criteriaRaw) > 0 {
		if err := json.Unmarshal(criteriaRaw, &rule.Criteria); err != nil {
			return Rule{}, fmt.Errorf("failed to decode criteria for rule %s: %w", rule.ID, err)
		}
	}
	if len(behaviorRaw) > 0 {
		if err := json.Unmarshal(behaviorRaw, &rule.Behavior); err != nil {
			return Rule{}, fmt.Errorf("failed to decode behavior for rule %s: %w", rule.ID, err)
		}
	}
	if lastRun.Valid {
		t := lastRun.Time
		rule.LastRunAt = &t
	}
	return rule, nil
}

// encodeRule prepares the array and JSONB columns.
func encodeRule(rule *Rule) (pq.Int64Array, []byte, []byte, error) {
	days := make(pq.Int64Array, 0, len(rule.Days))
	for _, d := range rule.Days {
		days = append(days, int64(d))
	}
	criteria := rule.Criteria
	if criteria == nil {
		criteria = []Criterion{}
	}
	criteriaRaw, err := json.Marshal(criteria)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode criteria: %w", err)
	}
	behaviorRaw, err := json.Marshal(rule.Behavior)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode behavior: %w", err)
	}
	return days, criteriaRaw, behaviorRaw, nil
}

type PostgresRuleRepository struct {
	db *sql.DB
}

func NewPostgresRuleRepository(db *sql.DB) *PostgresRuleRepository {
	return &PostgresRuleRepository{db: db}
}

func (r *PostgresRuleRepository) ListEnabled(ctx context.Context) (rules []Rule, err error) {
	start := time.Now()
	defer func() { observeQuery("postgres", "list_rules", start, err) }()

	query := `SELECT ` + ruleColumns + `
		FROM automation_rules
		WHERE enabled = true
		ORDER BY tenant_id, id
	`
	return r.queryRules(ctx, query)
}

func (r *PostgresRuleRepository) ListByTenant(ctx context.Context, tenantID string) (rules []Rule, err error) {
	start := time.Now()
	defer func() { observeQuery("postgres", "list_tenant_rules", start, err) }()

	query := `SELECT ` + ruleColumns + `
		FROM automation_rules
		WHERE tenant_id = $1
		ORDER BY created_at, id
	`
	return r.queryRules(ctx, query, tenantID)
}

func (r *PostgresRuleRepository) queryRules(ctx context.Context, query string, args ...interface{}) ([]Rule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rules, nil
}

func (r *PostgresRuleRepository) Get(ctx context.Context, tenantID, id string) (rule *Rule, err error) {
	start := time.Now()
	defer func() { observeQuery("postgres", "get_rule", start, err) }()

	query := `SELECT ` + ruleColumns + `
		FROM automation_rules
		WHERE tenant_id = $1 AND id = $2
	`

	found, err := scanRule(r.db.QueryRowContext(ctx, query, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return &found, nil
}

func (r *PostgresRuleRepository) Create(ctx context.Context, rule *Rule) (err error) {
	start := time.Now()
	defer func() { observeQuery("postgres", "create_rule", start, err) }()

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	days, criteriaRaw, behaviorRaw, err := encodeRule(rule)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO automation_rules (id, tenant_id, name, enabled, entity_type, time_of_day, frequency, days,
			criteria, condition, template_ref, recipient_field, message_type, priority,
			behavior, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err = r.db.ExecContext(ctx, query,
		rule.ID, rule.TenantID, rule.Name, rule.Enabled, rule.EntityType, rule.TimeOfDay,
		string(rule.Frequency), days, criteriaRaw, rule.Condition, rule.TemplateRef,
		rule.RecipientField, rule.MessageType, string(rule.Priority), behaviorRaw,
		rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", ErrRuleExists, rule.ID)
		}
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

func (r *PostgresRuleRepository) Update(ctx context.Context, rule *Rule) (err error) {
	start := time.Now()
	defer func() { observeQuery("postgres", "update_rule", start, err) }()

	rule.UpdatedAt = time.Now()

	days, criteriaRaw, behaviorRaw, err := encodeRule(rule)
	if err != nil {
		return err
	}

	query := `
		UPDATE automation_rules
		SET name = $1, enabled = $2, entity_type = $3, time_of_day = $4, frequency = $5, days = $6,
			criteria = $7, condition = $8, template_ref = $9, recipient_field = $10,
			message_type = $11, priority = $12, behavior = $13, updated_at = $14
		WHERE tenant_id = $15 AND id = $16
	`

	res, err := r.db.ExecContext(ctx, query,
		rule.Name, rule.Enabled, rule.EntityType, rule.TimeOfDay, string(rule.Frequency), days,
		criteriaRaw, rule.Condition, rule.TemplateRef, rule.RecipientField,
		rule.MessageType, string(rule.Priority), behaviorRaw, rule.UpdatedAt,
		rule.TenantID, rule.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return expectAffected(res, ErrRuleNotFound)
}

func (r *PostgresRuleRepository) Delete(ctx context.Context, tenantID, id string) (err error) {
	start := time.Now()
	defer func() { observeQuery("postgres", "delete_rule", start, err) }()

	res, err := r.db.ExecContext(ctx, `DELETE FROM automation_rules WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return expectAffected(res, ErrRuleNotFound)
}

func (r *PostgresRuleRepository) MarkRun(ctx context.Context, ruleID string, at time.Time) error {
	start := time.Now()
	query := `UPDATE automation_rules SET last_run_at = $1, updated_at = NOW() WHERE id = $2`

	_, err := r.db.ExecContext(ctx, query, at, ruleID)
	observeQuery("postgres", "mark_rule_run", start, err)
	if err != nil {
		return fmt.Errorf("failed to mark rule run: %w", err)
	}
	return nil
}

func expectAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

type PostgresEntityRepository struct {
	db *sql.DB
}

func NewPostgresEntityRepository(db *sql.DB) *PostgresEntityRepository {
	return &PostgresEntityRepository{db: db}
}

func (r *PostgresEntityRepository) ListByType(ctx context.Context, tenantID, entityType string) (entities []Entity, err error) {
	start := time.Now()
	defer func() { observeQuery("postgres", "list_entities", start, err) }()

	query := `
		SELECT id, tenant_id, entity_type, attributes, updated_at
		FROM rule_entities
		WHERE tenant_id = $1 AND entity_type = $2
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			entity Entity
			raw    []byte
		)
		if err := rows.Scan(&entity.ID, &entity.TenantID, &entity.Type, &raw, &entity.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entity.Attributes = make(map[string]interface{})
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &entity.Attributes); err != nil {
				return nil, fmt.Errorf("failed to decode attributes for entity %s: %w", entity.ID, err)
			}
		}
		entities = append(entities, entity)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}

	return entities, nil
}

// Upsert replaces the entity's attributes wholesale.
func (r *PostgresEntityRepository) Upsert(ctx context.Context, entity *Entity) (err error) {
	start := time.Now()
	defer func() { observeQuery("postgres", "upsert_entity", start, err) }()

	attrs := entity.Attributes
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("failed to encode attributes: %w", err)
	}
	entity.UpdatedAt = time.Now()

	query := `
		INSERT INTO rule_entities (id, tenant_id, entity_type, attributes, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, entity_type, id)
		DO UPDATE SET attributes = EXCLUDED.attributes, updated_at = EXCLUDED.updated_at
	`

	if _, err = r.db.ExecContext(ctx, query, entity.ID, entity.TenantID, entity.Type, raw, entity.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert entity: %w", err)
	}
	return nil
}

func (r *PostgresEntityRepository) Delete(ctx context.Context, tenantID, entityType, id string) (err error) {
	start := time.Now()
	defer func() { observeQuery("postgres", "delete_entity", start, err) }()

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM rule_entities WHERE tenant_id = $1 AND entity_type = $2 AND id = $3`,
		tenantID, entityType, id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	return expectAffected(res, ErrEntityNotFound)
}
