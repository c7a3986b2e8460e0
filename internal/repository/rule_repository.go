package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-procurement-letters/pkg/database"
	"github.com/pesio-ai/be-procurement-letters/pkg/errors"
)

// RuleRepository reads and administers procurement_rules and their steps.
type RuleRepository struct {
	db *database.DB
}

// NewRuleRepository creates a new RuleRepository.
func NewRuleRepository(db *database.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

const ruleColumns = `id, name, min_amount, max_amount, created_at, updated_at`

// FindRuleForAmount returns the single rule whose range contains amount.
// Zero or several matches mean the rule set no longer partitions the amount
// space, which is reported as a configuration error.
func (r *RuleRepository) FindRuleForAmount(ctx context.Context, amount int64) (*Rule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM procurement_rules
		WHERE min_amount <= $1
		  AND (max_amount IS NULL OR max_amount >= $1)
		ORDER BY min_amount ASC
	`

	rules, err := r.queryRules(ctx, r.db.Querier(ctx), query, amount)
	if err != nil {
		return nil, err
	}
	return SelectRule(rules, amount)
}

// SelectRule picks the unique rule containing amount.
func SelectRule(rules []*Rule, amount int64) (*Rule, error) {
	var matched []*Rule
	for _, rule := range rules {
		if rule.Contains(amount) {
			matched = append(matched, rule)
		}
	}

	switch len(matched) {
	case 0:
		return nil, errors.Configuration(fmt.Sprintf("no procurement rule covers amount %d", amount)).
			WithDetail("amount", amount)
	case 1:
		return matched[0], nil
	default:
		ids := make([]string, 0, len(matched))
		for _, m := range matched {
			ids = append(ids, string(m.ID))
		}
		return nil, errors.Configuration(fmt.Sprintf("%d procurement rules overlap at amount %d", len(matched), amount)).
			WithDetail("amount", amount).
			WithDetail("rule_ids", ids)
	}
}

// GetByID retrieves a rule and its steps.
func (r *RuleRepository) GetByID(ctx context.Context, id RuleID) (*Rule, error) {
	if !IsUUID(string(id)) {
		return nil, errors.NotFound("procurement_rule", string(id))
	}
	query := `SELECT ` + ruleColumns + ` FROM procurement_rules WHERE id = $1`

	rules, err := r.queryRules(ctx, r.db, query, id)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, errors.NotFound("procurement_rule", string(id))
	}
	return rules[0], nil
}

// List returns a page of rules ordered by name, optionally filtered by a
// case-insensitive name search, plus the total count.
func (r *RuleRepository) List(ctx context.Context, search string, limit, offset int) ([]*Rule, int64, error) {
	where := ""
	args := []any{}
	if search != "" {
		where = " WHERE name ILIKE $1"
		args = append(args, "%"+search+"%")
	}

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM procurement_rules`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count procurement rules")
	}

	query := `SELECT ` + ruleColumns + ` FROM procurement_rules` + where +
		fmt.Sprintf(" ORDER BY name ASC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	rules, err := r.queryRules(ctx, r.db, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	return rules, total, nil
}

// ListAll returns every rule ordered by min_amount.
func (r *RuleRepository) ListAll(ctx context.Context) ([]*Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM procurement_rules ORDER BY min_amount ASC`
	return r.queryRules(ctx, r.db, query)
}

// Create inserts a rule and all its steps in one transaction.
func (r *RuleRepository) Create(ctx context.Context, rule *Rule) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO procurement_rules (name, min_amount, max_amount)
			VALUES ($1, $2, $3)
			RETURNING id, created_at, updated_at
		`
		err := tx.QueryRow(ctx, query, rule.Name, rule.MinAmount, rule.MaxAmount).
			Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
		if err != nil {
			return database.Classify(err, "failed to create procurement rule")
		}
		return r.insertSteps(ctx, tx, rule.ID, rule.Steps)
	})
}

// UpdateDetails persists name and range changes.
func (r *RuleRepository) UpdateDetails(ctx context.Context, rule *Rule) error {
	if !IsUUID(string(rule.ID)) {
		return errors.NotFound("procurement_rule", string(rule.ID))
	}
	query := `
		UPDATE procurement_rules
		SET name       = $2,
		    min_amount = $3,
		    max_amount = $4,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query, rule.ID, rule.Name, rule.MinAmount, rule.MaxAmount).Scan(&rule.UpdatedAt)
	if database.IsNoRows(err) {
		return errors.NotFound("procurement_rule", string(rule.ID))
	}
	return database.Classify(err, "failed to update procurement rule")
}

// ReplaceSteps swaps a rule's whole chain atomically.
func (r *RuleRepository) ReplaceSteps(ctx context.Context, ruleID RuleID, steps []Step) error {
	if !IsUUID(string(ruleID)) {
		return errors.NotFound("procurement_rule", string(ruleID))
	}
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var id RuleID
		err := tx.QueryRow(ctx, `SELECT id FROM procurement_rules WHERE id = $1 FOR UPDATE`, ruleID).Scan(&id)
		if database.IsNoRows(err) {
			return errors.NotFound("procurement_rule", string(ruleID))
		}
		if err != nil {
			return database.Classify(err, "failed to lock procurement rule")
		}

		if _, err := tx.Exec(ctx, `DELETE FROM procurement_steps WHERE rule_id = $1`, ruleID); err != nil {
			return database.Classify(err, "failed to delete procurement steps")
		}
		if err := r.insertSteps(ctx, tx, ruleID, steps); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE procurement_rules SET updated_at = NOW() WHERE id = $1`, ruleID)
		return database.Classify(err, "failed to touch procurement rule")
	})
}

// Delete removes a rule and its steps.
func (r *RuleRepository) Delete(ctx context.Context, id RuleID) error {
	if !IsUUID(string(id)) {
		return errors.NotFound("procurement_rule", string(id))
	}
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM procurement_steps WHERE rule_id = $1`, id); err != nil {
			return database.Classify(err, "failed to delete procurement steps")
		}
		tag, err := tx.Exec(ctx, `DELETE FROM procurement_rules WHERE id = $1`, id)
		if err != nil {
			return database.Classify(err, "failed to delete procurement rule")
		}
		if tag.RowsAffected() == 0 {
			return errors.NotFound("procurement_rule", string(id))
		}
		return nil
	})
}

// ── helpers ──────────────────────────────────────────────────────────────────

func (r *RuleRepository) insertSteps(ctx context.Context, tx pgx.Tx, ruleID RuleID, steps []Step) error {
	query := `
		INSERT INTO procurement_steps (rule_id, step_order, step_type, role_id)
		VALUES ($1, $2, $3::step_type, $4)
		RETURNING id
	`
	for i := range steps {
		steps[i].RuleID = ruleID
		err := tx.QueryRow(ctx, query, ruleID, steps[i].Order, steps[i].Kind, steps[i].RoleID).Scan(&steps[i].ID)
		if err != nil {
			return database.Classify(err, "failed to create procurement step")
		}
	}
	return nil
}

// queryRules runs a rule query and attaches each rule's ordered steps.
func (r *RuleRepository) queryRules(ctx context.Context, q database.Querier, query string, args ...any) ([]*Rule, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to query procurement rules")
	}

	var rules []*Rule
	byID := make(map[RuleID]*Rule)
	for rows.Next() {
		rule := &Rule{}
		if err := rows.Scan(&rule.ID, &rule.Name, &rule.MinAmount, &rule.MaxAmount, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan procurement rule")
		}
		rules = append(rules, rule)
		byID[rule.ID] = rule
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read procurement rules")
	}
	if len(rules) == 0 {
		return rules, nil
	}

	ids := make([]string, 0, len(rules))
	for _, rule := range rules {
		ids = append(ids, string(rule.ID))
	}

	stepRows, err := q.Query(ctx, `
		SELECT s.id, s.rule_id, s.step_order, s.step_type, s.role_id, ro.name
		FROM procurement_steps s
		JOIN roles ro ON ro.id = s.role_id
		WHERE s.rule_id = ANY($1)
		ORDER BY s.rule_id, s.step_order ASC
	`, ids)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to query procurement steps")
	}
	defer stepRows.Close()

	for stepRows.Next() {
		var s Step
		if err := stepRows.Scan(&s.ID, &s.RuleID, &s.Order, &s.Kind, &s.RoleID, &s.RoleName); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan procurement step")
		}
		if rule, ok := byID[s.RuleID]; ok {
			rule.Steps = append(rule.Steps, s)
		}
	}
	if err := stepRows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read procurement steps")
	}

	for _, rule := range rules {
		SortSteps(rule.Steps)
	}
	return rules, nil
}

// SortSteps orders steps ascending by Order.
func SortSteps(steps []Step) {
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
}
