package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pesio-ai/be-procurement-letters/internal/client"
	"github.com/pesio-ai/be-procurement-letters/internal/repository"
	"github.com/pesio-ai/be-procurement-letters/pkg/errors"
	"github.com/pesio-ai/be-procurement-letters/pkg/logger"
)

const (
	maxLetterNumberLen = 100
	maxSubjectLen      = 255
	maxCommentLen      = 1000

	defaultPageSize = 20
	maxPageSize     = 100
)

// LetterService is the routing engine: it creates letters, moves them along
// their approval chain and exposes their progress.
type LetterService struct {
	rules    RuleStore
	letters  LetterStore
	resolver *ApproverResolver
	notifier Notifier
	log      *logger.Logger
}

// NewLetterService creates a new LetterService. notifier may be nil.
func NewLetterService(
	rules RuleStore,
	letters LetterStore,
	resolver *ApproverResolver,
	notifier Notifier,
	log *logger.Logger,
) *LetterService {
	return &LetterService{
		rules:    rules,
		letters:  letters,
		resolver: resolver,
		notifier: notifier,
		log:      log,
	}
}

// CreateLetterRequest carries the descriptive fields of a new letter.
type CreateLetterRequest struct {
	LetterNumber   string
	Subject        string
	IncomingDate   time.Time
	AttachmentPath *string
	Amount         int64
	// UnitID overrides the actor's unit as the letter's home unit.
	UnitID *repository.UnitID
}

// ResubmitRequest carries the revised fields of a letter sent back for revision.
type ResubmitRequest struct {
	LetterNumber   string
	Subject        string
	IncomingDate   time.Time
	AttachmentPath *string
	Amount         int64
}

// ── Create ────────────────────────────────────────────────────────────────────

// CreateLetter routes a new letter to the first reviewer of the chain that
// covers its amount. Only the chain's CREATE role may create it.
func (s *LetterService) CreateLetter(ctx context.Context, actor repository.Actor, req CreateLetterRequest) (*repository.Letter, error) {
	if err := validateLetterFields(req.LetterNumber, req.Subject, req.IncomingDate, req.Amount); err != nil {
		return nil, err
	}

	rule, err := s.chainFor(ctx, req.Amount)
	if err != nil {
		return nil, err
	}
	if err := assertCreator(rule, actor); err != nil {
		return nil, err
	}

	homeUnit := actor.UnitID
	if req.UnitID != nil && *req.UnitID != "" {
		unit, err := s.resolver.Unit(ctx, *req.UnitID)
		if errors.Is(err, errors.ErrCodeNotFound) {
			return nil, errors.InvalidInput("unit_id", "unknown unit")
		}
		if err != nil {
			return nil, err
		}
		homeUnit = unit.ID
	}

	approver, err := s.resolver.Resolve(ctx, rule.Steps[1].RoleID, homeUnit)
	if err != nil {
		return nil, err
	}

	letter := &repository.Letter{
		LetterNumber:    strings.TrimSpace(req.LetterNumber),
		Subject:         strings.TrimSpace(req.Subject),
		IncomingDate:    req.IncomingDate,
		AttachmentPath:  req.AttachmentPath,
		Amount:          req.Amount,
		Status:          repository.StatusPendingReview,
		UnitID:          homeUnit,
		CreatedBy:       actor.UserID,
		CurrentApprover: &approver,
	}
	entry := &repository.LogEntry{
		ActorID:     actor.UserID,
		Action:      repository.ActionCreated,
		StatusAfter: repository.StatusPendingReview,
	}

	if err := s.letters.Create(ctx, letter, entry); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("letter_id", string(letter.ID)).
		Str("rule_id", string(rule.ID)).
		Int64("amount", letter.Amount).
		Str("approver_id", string(approver)).
		Msg("Letter created")

	s.notify(ctx, client.EventLetterSubmitted, letter, actor.UserID, approver)
	return letter, nil
}

// ── Decide ────────────────────────────────────────────────────────────────────

// Decide applies the current approver's decision. The assignment check and
// the next-approver lookup run inside the letter's transition so two racing
// approvers cannot both move the letter.
func (s *LetterService) Decide(
	ctx context.Context,
	letterID repository.LetterID,
	actor repository.Actor,
	decision repository.Decision,
	comment *string,
) (*repository.Letter, error) {
	if !decision.IsValid() {
		return nil, errors.InvalidInput("decision", "must be APPROVE, REJECT or REQUEST_REVISION")
	}
	comment, err := normalizeComment(comment)
	if err != nil {
		return nil, err
	}

	var event string
	letter, err := s.letters.Transition(ctx, letterID, func(ctx context.Context, l *repository.Letter) (*repository.LogEntry, error) {
		if l.CurrentApprover == nil || *l.CurrentApprover != actor.UserID {
			return nil, errors.Forbidden("letter is not assigned to you")
		}
		if l.Status == repository.StatusNeedsRevision {
			return nil, errors.Forbidden("letter is awaiting resubmission by its creator")
		}

		entry := &repository.LogEntry{
			ActorID:      actor.UserID,
			Comment:      comment,
			StatusBefore: statusPtr(l.Status),
		}

		switch decision {
		case repository.DecisionReject:
			l.Status = repository.StatusRejected
			l.CurrentApprover = nil
			entry.Action = repository.ActionRejected
			event = client.EventLetterRejected

		case repository.DecisionRequestRevision:
			creator := l.CreatedBy
			l.Status = repository.StatusNeedsRevision
			l.CurrentApprover = &creator
			entry.Action = repository.ActionRevisionRequested
			event = client.EventLetterRevisionRequested

		case repository.DecisionApprove:
			if err := s.advance(ctx, l, actor); err != nil {
				return nil, err
			}
			if l.Status == repository.StatusApproved {
				entry.Action = repository.ActionApproved
				event = client.EventLetterApproved
			} else {
				entry.Action = repository.ActionReviewed
				event = client.EventLetterApprovalRequired
			}
		}

		entry.StatusAfter = l.Status
		return entry, nil
	})
	if err != nil {
		s.logFailure(err, "Letter decision failed", letterID, actor)
		return nil, err
	}

	s.log.Info().
		Str("letter_id", string(letter.ID)).
		Str("actor_id", string(actor.UserID)).
		Str("decision", string(decision)).
		Str("status", string(letter.Status)).
		Msg("Letter decided")

	if letter.CurrentApprover != nil {
		s.notify(ctx, event, letter, actor.UserID, *letter.CurrentApprover)
	} else {
		s.notify(ctx, event, letter, actor.UserID, letter.CreatedBy)
	}
	return letter, nil
}

// advance moves an approved letter to the next step, or to APPROVED when the
// actor holds the chain's final step. The chain is re-resolved from the
// letter's current amount on every call.
func (s *LetterService) advance(ctx context.Context, l *repository.Letter, actor repository.Actor) error {
	rule, err := s.chainFor(ctx, l.Amount)
	if err != nil {
		return err
	}

	step, ok := approvalStepFor(rule, actor.RoleID)
	if !ok {
		return errors.Forbidden("role not part of chain").
			WithDetail("actor_role", string(actor.RoleID)).
			WithDetail("rule_id", string(rule.ID))
	}

	final, _ := rule.FinalStep()
	if step.Order == final.Order {
		l.Status = repository.StatusApproved
		l.CurrentApprover = nil
		return nil
	}

	next, ok := rule.StepByOrder(step.Order + 1)
	if !ok {
		return errors.Configuration(fmt.Sprintf("rule %s has no step %d", rule.ID, step.Order+1))
	}
	approver, err := s.resolver.Resolve(ctx, next.RoleID, l.UnitID)
	if err != nil {
		return err
	}
	l.Status = repository.StatusPendingApproval
	l.CurrentApprover = &approver
	return nil
}

// ── Resubmit ──────────────────────────────────────────────────────────────────

// Resubmit lets the creator of a letter in NEEDS_REVISION send revised fields
// back to the start of the (possibly different) chain for the new amount.
func (s *LetterService) Resubmit(
	ctx context.Context,
	letterID repository.LetterID,
	actor repository.Actor,
	req ResubmitRequest,
) (*repository.Letter, error) {
	if err := validateLetterFields(req.LetterNumber, req.Subject, req.IncomingDate, req.Amount); err != nil {
		return nil, err
	}

	var ruleID repository.RuleID
	letter, err := s.letters.Transition(ctx, letterID, func(ctx context.Context, l *repository.Letter) (*repository.LogEntry, error) {
		if l.CreatedBy != actor.UserID {
			return nil, errors.Forbidden("only the creator can resubmit a letter")
		}
		if l.Status != repository.StatusNeedsRevision {
			return nil, errors.Forbidden(fmt.Sprintf("letter cannot be resubmitted from status %s", l.Status))
		}

		rule, err := s.chainFor(ctx, req.Amount)
		if err != nil {
			return nil, err
		}
		if err := assertCreator(rule, actor); err != nil {
			return nil, err
		}
		approver, err := s.resolver.Resolve(ctx, rule.Steps[1].RoleID, l.UnitID)
		if err != nil {
			return nil, err
		}
		ruleID = rule.ID

		before := l.Status
		l.LetterNumber = strings.TrimSpace(req.LetterNumber)
		l.Subject = strings.TrimSpace(req.Subject)
		l.IncomingDate = req.IncomingDate
		l.AttachmentPath = req.AttachmentPath
		l.Amount = req.Amount
		l.Status = repository.StatusPendingReview
		l.CurrentApprover = &approver

		return &repository.LogEntry{
			ActorID:      actor.UserID,
			Action:       repository.ActionSubmitted,
			StatusBefore: statusPtr(before),
			StatusAfter:  l.Status,
		}, nil
	})
	if err != nil {
		s.logFailure(err, "Letter resubmission failed", letterID, actor)
		return nil, err
	}

	s.log.Info().
		Str("letter_id", string(letter.ID)).
		Str("rule_id", string(ruleID)).
		Int64("amount", letter.Amount).
		Msg("Letter resubmitted")

	s.notify(ctx, client.EventLetterSubmitted, letter, actor.UserID, *letter.CurrentApprover)
	return letter, nil
}

// ── Progress ──────────────────────────────────────────────────────────────────

// StepState is where a chain step stands for a given letter.
type StepState string

const (
	StepDone     StepState = "DONE"
	StepCurrent  StepState = "CURRENT"
	StepPending  StepState = "PENDING"
	StepRejected StepState = "REJECTED"
)

// StepProgress is one chain step annotated with its state.
type StepProgress struct {
	Order    int
	Kind     repository.StepKind
	RoleID   repository.RoleID
	RoleName string
	State    StepState
}

// Progress is a letter with its audit trail and chain view.
type Progress struct {
	Letter  *repository.Letter
	History []*repository.LogEntry
	// Chain is nil when no rule currently covers the letter's amount.
	Chain []StepProgress
}

// GetProgress returns the letter, its history oldest-first and the live chain.
func (s *LetterService) GetProgress(ctx context.Context, letterID repository.LetterID) (*Progress, error) {
	letter, err := s.letters.GetByID(ctx, letterID)
	if err != nil {
		return nil, err
	}
	history, err := s.letters.History(ctx, letterID)
	if err != nil {
		return nil, err
	}

	progress := &Progress{Letter: letter, History: history}

	rule, err := s.rules.FindRuleForAmount(ctx, letter.Amount)
	switch {
	case err == nil:
		progress.Chain = chainProgress(rule, letter.Status, history)
	case errors.Is(err, errors.ErrCodeConfiguration):
		s.log.Warn().Err(err).
			Str("letter_id", string(letterID)).
			Msg("No chain view for letter")
	default:
		return nil, err
	}
	return progress, nil
}

// chainProgress derives each step's state from the letter status and the log
// entries since the letter was last (re)submitted.
func chainProgress(rule *repository.Rule, status repository.Status, history []*repository.LogEntry) []StepProgress {
	reviewed := 0
	for _, e := range history {
		switch e.Action {
		case repository.ActionCreated, repository.ActionSubmitted:
			reviewed = 0
		case repository.ActionReviewed:
			reviewed++
		}
	}

	// Order of the step that is (or was, for REJECTED) waiting to act.
	active := 2 + reviewed
	switch status {
	case repository.StatusNeedsRevision:
		active = 1
	case repository.StatusApproved:
		active = len(rule.Steps) + 1
	}

	out := make([]StepProgress, 0, len(rule.Steps))
	for _, step := range rule.Steps {
		sp := StepProgress{
			Order:    step.Order,
			Kind:     step.Kind,
			RoleID:   step.RoleID,
			RoleName: step.RoleName,
		}
		switch {
		case step.Order < active:
			sp.State = StepDone
		case step.Order == active && status == repository.StatusRejected:
			sp.State = StepRejected
		case step.Order == active:
			sp.State = StepCurrent
		default:
			sp.State = StepPending
		}
		out = append(out, sp)
	}
	return out
}

// ── Listings ──────────────────────────────────────────────────────────────────

// LetterPage is one page of letters.
type LetterPage struct {
	Letters  []*repository.Letter
	Total    int64
	Page     int
	PageSize int
}

// ActivityPage is one page of log entries.
type ActivityPage struct {
	Entries  []*repository.LogEntry
	Total    int64
	Page     int
	PageSize int
}

// ListInbox returns letters waiting on the actor, including their own letters
// sent back for revision.
func (s *LetterService) ListInbox(ctx context.Context, actor repository.Actor, search string, page, pageSize int) (*LetterPage, error) {
	page, pageSize = normalizePage(page, pageSize)

	letters, total, err := s.letters.ListInbox(ctx, repository.InboxFilter{
		UserID: actor.UserID,
		Search: strings.TrimSpace(search),
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	})
	if err != nil {
		return nil, err
	}
	return &LetterPage{Letters: letters, Total: total, Page: page, PageSize: pageSize}, nil
}

// ListActivity returns the actions the actor has taken, newest first.
func (s *LetterService) ListActivity(ctx context.Context, actor repository.Actor, page, pageSize int) (*ActivityPage, error) {
	page, pageSize = normalizePage(page, pageSize)

	entries, total, err := s.letters.ListByActor(ctx, actor.UserID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	return &ActivityPage{Entries: entries, Total: total, Page: page, PageSize: pageSize}, nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

// chainFor resolves the rule for amount and checks it can route a letter.
func (s *LetterService) chainFor(ctx context.Context, amount int64) (*repository.Rule, error) {
	rule, err := s.rules.FindRuleForAmount(ctx, amount)
	if err != nil {
		if errors.Is(err, errors.ErrCodeConfiguration) {
			s.log.Error().Err(err).Int64("amount", amount).Msg("Rule lookup failed")
		}
		return nil, err
	}
	if len(rule.Steps) < 2 {
		s.log.Error().Str("rule_id", string(rule.ID)).Msg("Rule chain has no approver")
		return nil, errors.Configuration(fmt.Sprintf("rule %s has fewer than 2 steps", rule.ID))
	}
	if rule.Steps[0].Kind != repository.StepCreate {
		return nil, errors.Configuration(fmt.Sprintf("rule %s does not start with a CREATE step", rule.ID))
	}
	return rule, nil
}

// assertCreator checks the actor holds the chain's CREATE role.
func assertCreator(rule *repository.Rule, actor repository.Actor) error {
	required := rule.Steps[0]
	if actor.RoleID != required.RoleID {
		return errors.Forbidden("role not allowed to create letters of this amount").
			WithDetail("actor_role", string(actor.RoleID)).
			WithDetail("required_role", string(required.RoleID))
	}
	return nil
}

// approvalStepFor finds the non-CREATE step held by roleID. Roles are unique
// within a chain, so at most one step matches.
func approvalStepFor(rule *repository.Rule, roleID repository.RoleID) (repository.Step, bool) {
	for _, step := range rule.Steps {
		if step.Kind != repository.StepCreate && step.RoleID == roleID {
			return step, true
		}
	}
	return repository.Step{}, false
}

func validateLetterFields(number, subject string, incoming time.Time, amount int64) error {
	number = strings.TrimSpace(number)
	subject = strings.TrimSpace(subject)

	if number == "" {
		return errors.InvalidInput("letter_number", "is required")
	}
	if utf8.RuneCountInString(number) > maxLetterNumberLen {
		return errors.InvalidInput("letter_number", fmt.Sprintf("must be at most %d characters", maxLetterNumberLen))
	}
	if subject == "" {
		return errors.InvalidInput("subject", "is required")
	}
	if utf8.RuneCountInString(subject) > maxSubjectLen {
		return errors.InvalidInput("subject", fmt.Sprintf("must be at most %d characters", maxSubjectLen))
	}
	if incoming.IsZero() {
		return errors.InvalidInput("incoming_date", "is required")
	}
	if amount <= 0 {
		return errors.InvalidInput("amount", "must be positive")
	}
	return nil
}

func normalizeComment(comment *string) (*string, error) {
	if comment == nil {
		return nil, nil
	}
	c := strings.TrimSpace(*comment)
	if c == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(c) > maxCommentLen {
		return nil, errors.InvalidInput("comment", fmt.Sprintf("must be at most %d characters", maxCommentLen))
	}
	return &c, nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

func statusPtr(s repository.Status) *repository.Status {
	return &s
}

func (s *LetterService) notify(ctx context.Context, event string, letter *repository.Letter, actorID, recipient repository.UserID) {
	if s.notifier == nil || event == "" {
		return
	}
	s.notifier.PublishLetterEvent(ctx, event, letter, actorID, []repository.UserID{recipient})
}

func (s *LetterService) logFailure(err error, msg string, letterID repository.LetterID, actor repository.Actor) {
	ev := s.log.Warn()
	switch errors.CodeOf(err) {
	case errors.ErrCodeConfiguration, errors.ErrCodeApproverNotFound, errors.ErrCodeInternal:
		ev = s.log.Error()
	}
	ev.Err(err).
		Str("letter_id", string(letterID)).
		Str("actor_id", string(actor.UserID)).
		Str("code", string(errors.CodeOf(err))).
		Msg(msg)
}
