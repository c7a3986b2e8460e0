package handler

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-procurement-letters/internal/repository"
	"github.com/pesio-ai/be-procurement-letters/internal/service"
	"github.com/pesio-ai/be-procurement-letters/pkg/auth"
	"github.com/pesio-ai/be-procurement-letters/pkg/errors"
)

const dateLayout = "2006-01-02"

var maxAmount = decimal.NewFromInt(math.MaxInt64)

// ── Requests ──────────────────────────────────────────────────────────────────

type letterRequest struct {
	LetterNumber   string          `json:"letter_number"`
	Subject        string          `json:"subject"`
	IncomingDate   string          `json:"incoming_date"`
	AttachmentPath *string         `json:"attachment_path"`
	Amount         decimal.Decimal `json:"amount"`
	UnitID         *string         `json:"unit_id,omitempty"`
}

type decisionRequest struct {
	Decision string  `json:"decision"`
	Comment  *string `json:"comment"`
}

type stepRequest struct {
	Order  int    `json:"order"`
	Kind   string `json:"kind"`
	RoleID string `json:"role_id"`
}

type ruleRequest struct {
	Name      string           `json:"name"`
	MinAmount decimal.Decimal  `json:"min_amount"`
	MaxAmount *decimal.Decimal `json:"max_amount"`
	Steps     []stepRequest    `json:"steps"`
}

type stepsRequest struct {
	Steps []stepRequest `json:"steps"`
}

func (r letterRequest) toCreate() (service.CreateLetterRequest, error) {
	amount, err := parseAmount("amount", r.Amount)
	if err != nil {
		return service.CreateLetterRequest{}, err
	}
	date, err := parseDate(r.IncomingDate)
	if err != nil {
		return service.CreateLetterRequest{}, err
	}

	req := service.CreateLetterRequest{
		LetterNumber:   r.LetterNumber,
		Subject:        r.Subject,
		IncomingDate:   date,
		AttachmentPath: trimOptional(r.AttachmentPath),
		Amount:         amount,
	}
	if r.UnitID != nil && strings.TrimSpace(*r.UnitID) != "" {
		unit := repository.UnitID(strings.TrimSpace(*r.UnitID))
		req.UnitID = &unit
	}
	return req, nil
}

func (r letterRequest) toResubmit() (service.ResubmitRequest, error) {
	c, err := r.toCreate()
	if err != nil {
		return service.ResubmitRequest{}, err
	}
	return service.ResubmitRequest{
		LetterNumber:   c.LetterNumber,
		Subject:        c.Subject,
		IncomingDate:   c.IncomingDate,
		AttachmentPath: c.AttachmentPath,
		Amount:         c.Amount,
	}, nil
}

func (r ruleRequest) toCreate() (service.CreateRuleRequest, error) {
	min, max, err := parseRange(r.MinAmount, r.MaxAmount)
	if err != nil {
		return service.CreateRuleRequest{}, err
	}
	return service.CreateRuleRequest{
		Name:      r.Name,
		MinAmount: min,
		MaxAmount: max,
		Steps:     toStepInputs(r.Steps),
	}, nil
}

func (r ruleRequest) toUpdate() (service.UpdateRuleRequest, error) {
	min, max, err := parseRange(r.MinAmount, r.MaxAmount)
	if err != nil {
		return service.UpdateRuleRequest{}, err
	}
	return service.UpdateRuleRequest{Name: r.Name, MinAmount: min, MaxAmount: max}, nil
}

func toDecision(raw string) repository.Decision {
	return repository.Decision(strings.ToUpper(strings.TrimSpace(raw)))
}

func toStepInputs(steps []stepRequest) []service.StepInput {
	out := make([]service.StepInput, 0, len(steps))
	for _, s := range steps {
		out = append(out, service.StepInput{
			Order:  s.Order,
			Kind:   repository.StepKind(strings.ToUpper(strings.TrimSpace(s.Kind))),
			RoleID: repository.RoleID(strings.TrimSpace(s.RoleID)),
		})
	}
	return out
}

// parseAmount accepts a positive whole number that fits in int64.
func parseAmount(field string, d decimal.Decimal) (int64, error) {
	if !d.IsInteger() {
		return 0, errors.InvalidInput(field, "must be a whole number")
	}
	if !d.IsPositive() {
		return 0, errors.InvalidInput(field, "must be positive")
	}
	if d.GreaterThan(maxAmount) {
		return 0, errors.InvalidInput(field, "is too large")
	}
	return d.IntPart(), nil
}

func parseBound(field string, d decimal.Decimal) (int64, error) {
	if d.IsZero() {
		return 0, nil
	}
	if d.IsNegative() {
		return 0, errors.InvalidInput(field, "must not be negative")
	}
	return parseAmount(field, d)
}

func parseRange(minD decimal.Decimal, maxD *decimal.Decimal) (int64, *int64, error) {
	min, err := parseBound("min_amount", minD)
	if err != nil {
		return 0, nil, err
	}
	if maxD == nil {
		return min, nil, nil
	}
	max, err := parseBound("max_amount", *maxD)
	if err != nil {
		return 0, nil, err
	}
	return min, &max, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, errors.InvalidInput("incoming_date", "expected YYYY-MM-DD")
	}
	return t, nil
}

func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func actorFrom(uc *auth.UserContext) repository.Actor {
	return repository.Actor{
		UserID: repository.UserID(uc.UserID),
		RoleID: repository.RoleID(uc.RoleID),
		UnitID: repository.UnitID(uc.UnitID),
	}
}

// ── Responses ─────────────────────────────────────────────────────────────────

type letterView struct {
	ID                string          `json:"id"`
	LetterNumber      string          `json:"letter_number"`
	Subject           string          `json:"subject"`
	IncomingDate      string          `json:"incoming_date"`
	AttachmentPath    *string         `json:"attachment_path"`
	Amount            decimal.Decimal `json:"amount"`
	Status            string          `json:"status"`
	UnitID            string          `json:"unit_id"`
	CreatedBy         string          `json:"created_by"`
	CurrentApproverID *string         `json:"current_approver_id"`
	Version           int64           `json:"version"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type logView struct {
	ID           string    `json:"id"`
	LetterID     string    `json:"letter_id"`
	ActorID      string    `json:"actor_id"`
	Action       string    `json:"action"`
	Comment      *string   `json:"comment"`
	StatusBefore *string   `json:"status_before"`
	StatusAfter  string    `json:"status_after"`
	CreatedAt    time.Time `json:"created_at"`
}

type stepView struct {
	Order    int    `json:"order"`
	Kind     string `json:"kind"`
	RoleID   string `json:"role_id"`
	RoleName string `json:"role_name,omitempty"`
	State    string `json:"state,omitempty"`
}

type progressView struct {
	Letter  letterView `json:"letter"`
	History []logView  `json:"history"`
	Chain   []stepView `json:"chain"`
}

type ruleView struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	MinAmount decimal.Decimal  `json:"min_amount"`
	MaxAmount *decimal.Decimal `json:"max_amount"`
	Steps     []stepView       `json:"steps"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

type rangeView struct {
	From decimal.Decimal  `json:"from"`
	To   *decimal.Decimal `json:"to"`
}

type overlapView struct {
	First  string    `json:"first_rule_id"`
	Second string    `json:"second_rule_id"`
	Range  rangeView `json:"range"`
}

type coverageView struct {
	OK       bool          `json:"ok"`
	Rules    int           `json:"rules"`
	Gaps     []rangeView   `json:"gaps"`
	Overlaps []overlapView `json:"overlaps"`
}

type pageView struct {
	Items    any   `json:"items"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
}

func toLetterView(l *repository.Letter) letterView {
	v := letterView{
		ID:             string(l.ID),
		LetterNumber:   l.LetterNumber,
		Subject:        l.Subject,
		IncomingDate:   l.IncomingDate.Format(dateLayout),
		AttachmentPath: l.AttachmentPath,
		Amount:         decimal.NewFromInt(l.Amount),
		Status:         string(l.Status),
		UnitID:         string(l.UnitID),
		CreatedBy:      string(l.CreatedBy),
		Version:        l.Version,
		CreatedAt:      l.CreatedAt,
		UpdatedAt:      l.UpdatedAt,
	}
	if l.CurrentApprover != nil {
		id := string(*l.CurrentApprover)
		v.CurrentApproverID = &id
	}
	return v
}

func toLetterViews(letters []*repository.Letter) []letterView {
	out := make([]letterView, 0, len(letters))
	for _, l := range letters {
		out = append(out, toLetterView(l))
	}
	return out
}

func toLogViews(entries []*repository.LogEntry) []logView {
	out := make([]logView, 0, len(entries))
	for _, e := range entries {
		v := logView{
			ID:          e.ID,
			LetterID:    string(e.LetterID),
			ActorID:     string(e.ActorID),
			Action:      string(e.Action),
			Comment:     e.Comment,
			StatusAfter: string(e.StatusAfter),
			CreatedAt:   e.CreatedAt,
		}
		if e.StatusBefore != nil {
			s := string(*e.StatusBefore)
			v.StatusBefore = &s
		}
		out = append(out, v)
	}
	return out
}

func toProgressView(p *service.Progress) progressView {
	v := progressView{
		Letter:  toLetterView(p.Letter),
		History: toLogViews(p.History),
		Chain:   make([]stepView, 0, len(p.Chain)),
	}
	for _, s := range p.Chain {
		v.Chain = append(v.Chain, stepView{
			Order:    s.Order,
			Kind:     string(s.Kind),
			RoleID:   string(s.RoleID),
			RoleName: s.RoleName,
			State:    string(s.State),
		})
	}
	return v
}

func toRuleView(r *repository.Rule) ruleView {
	v := ruleView{
		ID:        string(r.ID),
		Name:      r.Name,
		MinAmount: decimal.NewFromInt(r.MinAmount),
		MaxAmount: optionalDecimal(r.MaxAmount),
		Steps:     make([]stepView, 0, len(r.Steps)),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	for _, s := range r.Steps {
		v.Steps = append(v.Steps, stepView{
			Order:    s.Order,
			Kind:     string(s.Kind),
			RoleID:   string(s.RoleID),
			RoleName: s.RoleName,
		})
	}
	return v
}

func toCoverageView(c *service.CoverageReport) coverageView {
	v := coverageView{
		OK:       c.OK(),
		Rules:    c.Rules,
		Gaps:     make([]rangeView, 0, len(c.Gaps)),
		Overlaps: make([]overlapView, 0, len(c.Overlaps)),
	}
	for _, g := range c.Gaps {
		v.Gaps = append(v.Gaps, toRangeView(g))
	}
	for _, o := range c.Overlaps {
		v.Overlaps = append(v.Overlaps, overlapView{
			First:  string(o.First),
			Second: string(o.Second),
			Range:  toRangeView(o.Range),
		})
	}
	return v
}

func toRangeView(r service.AmountRange) rangeView {
	return rangeView{From: decimal.NewFromInt(r.From), To: optionalDecimal(r.To)}
}

func optionalDecimal(v *int64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromInt(*v)
	return &d
}
