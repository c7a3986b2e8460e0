package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/pesio-ai/be-procurement-letters/internal/repository"
	"github.com/pesio-ai/be-procurement-letters/pkg/errors"
	"github.com/pesio-ai/be-procurement-letters/pkg/logger"
)

const maxRuleNameLen = 255

// RuleService administers procurement rules and their approval chains.
type RuleService struct {
	rules RuleStore
	log   *logger.Logger
}

// NewRuleService creates a new RuleService.
func NewRuleService(rules RuleStore, log *logger.Logger) *RuleService {
	return &RuleService{rules: rules, log: log}
}

// StepInput is one step of a chain as submitted by an administrator.
type StepInput struct {
	Order  int
	Kind   repository.StepKind
	RoleID repository.RoleID
}

// CreateRuleRequest represents a create rule request.
type CreateRuleRequest struct {
	Name      string
	MinAmount int64
	MaxAmount *int64
	Steps     []StepInput
}

// UpdateRuleRequest changes a rule's name and range. Steps are replaced
// separately through ReplaceSteps.
type UpdateRuleRequest struct {
	Name      string
	MinAmount int64
	MaxAmount *int64
}

// RulePage is one page of rules.
type RulePage struct {
	Rules    []*repository.Rule
	Total    int64
	Page     int
	PageSize int
}

// CreateRule validates and stores a rule with its chain. A range that
// overlaps an existing rule is rejected with CONFLICT.
func (s *RuleService) CreateRule(ctx context.Context, req CreateRuleRequest) (*repository.Rule, error) {
	name, err := validateRuleName(req.Name)
	if err != nil {
		return nil, err
	}
	if err := ValidateRange(req.MinAmount, req.MaxAmount); err != nil {
		return nil, err
	}
	steps, err := ValidateChain(req.Steps)
	if err != nil {
		return nil, err
	}
	if err := s.assertNoOverlap(ctx, "", req.MinAmount, req.MaxAmount); err != nil {
		return nil, err
	}

	rule := &repository.Rule{
		Name:      name,
		MinAmount: req.MinAmount,
		MaxAmount: req.MaxAmount,
		Steps:     steps,
	}
	if err := s.rules.Create(ctx, rule); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("rule_id", string(rule.ID)).
		Int64("min_amount", rule.MinAmount).
		Int("steps", len(rule.Steps)).
		Msg("Procurement rule created")

	return s.rules.GetByID(ctx, rule.ID)
}

// GetRule retrieves a rule and its chain.
func (s *RuleService) GetRule(ctx context.Context, id repository.RuleID) (*repository.Rule, error) {
	return s.rules.GetByID(ctx, id)
}

// ListRules returns a page of rules.
func (s *RuleService) ListRules(ctx context.Context, search string, page, pageSize int) (*RulePage, error) {
	page, pageSize = normalizePage(page, pageSize)

	rules, total, err := s.rules.List(ctx, strings.TrimSpace(search), pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	return &RulePage{Rules: rules, Total: total, Page: page, PageSize: pageSize}, nil
}

// UpdateRule changes a rule's name and range.
func (s *RuleService) UpdateRule(ctx context.Context, id repository.RuleID, req UpdateRuleRequest) (*repository.Rule, error) {
	name, err := validateRuleName(req.Name)
	if err != nil {
		return nil, err
	}
	if err := ValidateRange(req.MinAmount, req.MaxAmount); err != nil {
		return nil, err
	}

	rule, err := s.rules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.assertNoOverlap(ctx, id, req.MinAmount, req.MaxAmount); err != nil {
		return nil, err
	}

	rule.Name = name
	rule.MinAmount = req.MinAmount
	rule.MaxAmount = req.MaxAmount
	if err := s.rules.UpdateDetails(ctx, rule); err != nil {
		return nil, err
	}

	s.log.Info().Str("rule_id", string(id)).Msg("Procurement rule updated")
	return rule, nil
}

// ReplaceSteps swaps a rule's whole chain.
func (s *RuleService) ReplaceSteps(ctx context.Context, id repository.RuleID, inputs []StepInput) (*repository.Rule, error) {
	steps, err := ValidateChain(inputs)
	if err != nil {
		return nil, err
	}
	if err := s.rules.ReplaceSteps(ctx, id, steps); err != nil {
		return nil, err
	}

	s.log.Info().Str("rule_id", string(id)).Int("steps", len(steps)).Msg("Procurement rule steps replaced")
	return s.rules.GetByID(ctx, id)
}

// DeleteRule removes a rule and its steps.
func (s *RuleService) DeleteRule(ctx context.Context, id repository.RuleID) error {
	if err := s.rules.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("rule_id", string(id)).Msg("Procurement rule deleted")
	return nil
}

// ── Coverage ──────────────────────────────────────────────────────────────────

// AmountRange is an inclusive range; To nil means unbounded.
type AmountRange struct {
	From int64
	To   *int64
}

// RuleOverlap names two rules whose ranges intersect.
type RuleOverlap struct {
	First  repository.RuleID
	Second repository.RuleID
	Range  AmountRange
}

// CoverageReport describes how the rule set partitions [0, +inf).
type CoverageReport struct {
	Rules    int
	Gaps     []AmountRange
	Overlaps []RuleOverlap
}

// OK reports whether every amount resolves to exactly one rule.
func (c *CoverageReport) OK() bool {
	return len(c.Gaps) == 0 && len(c.Overlaps) == 0
}

// Err returns a CONFIGURATION error describing the defects, or nil.
func (c *CoverageReport) Err() error {
	if c.OK() {
		return nil
	}
	return errors.Configuration(fmt.Sprintf("rule set has %d gap(s) and %d overlap(s)", len(c.Gaps), len(c.Overlaps))).
		WithDetail("gaps", c.Gaps).
		WithDetail("overlaps", c.Overlaps)
}

// CheckCoverage inspects the whole rule set for gaps and overlaps.
func (s *RuleService) CheckCoverage(ctx context.Context) (*CoverageReport, error) {
	rules, err := s.rules.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	report := Coverage(rules)
	if !report.OK() {
		s.log.Error().
			Int("gaps", len(report.Gaps)).
			Int("overlaps", len(report.Overlaps)).
			Msg("Procurement rules do not partition the amount space")
	}
	return report, nil
}

// Coverage computes the report for rules.
func Coverage(rules []*repository.Rule) *CoverageReport {
	sorted := make([]*repository.Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].MinAmount < sorted[j].MinAmount })

	report := &CoverageReport{Rules: len(rules)}
	var (
		next      int64 // first amount not yet covered
		unbounded bool
		reach     *repository.Rule // rule that covers up to next-1
	)

	for _, r := range sorted {
		switch {
		case unbounded || r.MinAmount < next:
			report.Overlaps = append(report.Overlaps, RuleOverlap{
				First:  reach.ID,
				Second: r.ID,
				Range:  AmountRange{From: r.MinAmount, To: overlapEnd(r, next, unbounded)},
			})
		case r.MinAmount > next:
			to := r.MinAmount - 1
			report.Gaps = append(report.Gaps, AmountRange{From: next, To: &to})
		}

		if unbounded {
			continue
		}
		if r.MaxAmount == nil || *r.MaxAmount == math.MaxInt64 {
			unbounded = true
			reach = r
			continue
		}
		if *r.MaxAmount+1 > next {
			next = *r.MaxAmount + 1
			reach = r
		}
	}

	if !unbounded {
		report.Gaps = append(report.Gaps, AmountRange{From: next})
	}
	return report
}

func overlapEnd(r *repository.Rule, next int64, unbounded bool) *int64 {
	if unbounded {
		return r.MaxAmount
	}
	end := next - 1
	if r.MaxAmount != nil && *r.MaxAmount < end {
		end = *r.MaxAmount
	}
	return &end
}

// ── Validation ────────────────────────────────────────────────────────────────

// ValidateRange checks 0 <= min <= max.
func ValidateRange(min int64, max *int64) error {
	if min < 0 {
		return errors.InvalidInput("min_amount", "must not be negative")
	}
	if max != nil && *max < min {
		return errors.InvalidInput("max_amount", "must not be less than min_amount")
	}
	return nil
}

// ValidateChain checks a chain can be routed and returns its steps ordered.
// A chain has at least two steps with orders 1..n, a single CREATE step at
// order 1, REVIEW or APPROVE steps after it and no role twice.
func ValidateChain(inputs []StepInput) ([]repository.Step, error) {
	if len(inputs) < 2 {
		return nil, errors.InvalidInput("steps", "a chain needs a CREATE step and at least one approver")
	}

	sorted := make([]StepInput, len(inputs))
	copy(sorted, inputs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	seen := make(map[repository.RoleID]int, len(sorted))
	steps := make([]repository.Step, 0, len(sorted))
	for i, in := range sorted {
		if in.Order != i+1 {
			return nil, errors.InvalidInput("steps", "step orders must be contiguous starting at 1")
		}
		if !in.Kind.IsValid() {
			return nil, errors.InvalidInput("steps", fmt.Sprintf("step %d has unknown kind %q", in.Order, in.Kind))
		}
		if i == 0 && in.Kind != repository.StepCreate {
			return nil, errors.InvalidInput("steps", "step 1 must be CREATE")
		}
		if i > 0 && in.Kind == repository.StepCreate {
			return nil, errors.InvalidInput("steps", fmt.Sprintf("step %d: only step 1 may be CREATE", in.Order))
		}
		if in.RoleID == "" {
			return nil, errors.InvalidInput("steps", fmt.Sprintf("step %d has no role", in.Order))
		}
		if prev, dup := seen[in.RoleID]; dup {
			return nil, errors.InvalidInput("steps", fmt.Sprintf("role appears at steps %d and %d", prev, in.Order))
		}
		seen[in.RoleID] = in.Order

		steps = append(steps, repository.Step{Order: in.Order, Kind: in.Kind, RoleID: in.RoleID})
	}
	return steps, nil
}

func validateRuleName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.InvalidInput("name", "is required")
	}
	if utf8.RuneCountInString(name) > maxRuleNameLen {
		return "", errors.InvalidInput("name", fmt.Sprintf("must be at most %d characters", maxRuleNameLen))
	}
	return name, nil
}

func (s *RuleService) assertNoOverlap(ctx context.Context, self repository.RuleID, min int64, max *int64) error {
	rules, err := s.rules.ListAll(ctx)
	if err != nil {
		return err
	}
	for _, r := range rules {
		if r.ID == self {
			continue
		}
		if rangesOverlap(min, max, r.MinAmount, r.MaxAmount) {
			return errors.New(errors.ErrCodeConflict, fmt.Sprintf("range overlaps rule %q", r.Name)).
				WithDetail("rule_id", string(r.ID))
		}
	}
	return nil
}

func rangesOverlap(aMin int64, aMax *int64, bMin int64, bMax *int64) bool {
	if aMax != nil && *aMax < bMin {
		return false
	}
	if bMax != nil && *bMax < aMin {
		return false
	}
	return true
}
