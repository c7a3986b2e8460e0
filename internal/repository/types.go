package repository

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ── Identifiers ──────────────────────────────────────────────────────────────

type (
	RoleID   string
	UnitID   string
	UserID   string
	LetterID string
	RuleID   string
)

// IsUUID reports whether id is well-formed. Stored IDs are UUIDs, so anything
// else cannot match a row.
func IsUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// ── Enums ────────────────────────────────────────────────────────────────────

// StepKind is the action a step's role performs.
type StepKind string

const (
	StepCreate  StepKind = "CREATE"
	StepReview  StepKind = "REVIEW"
	StepApprove StepKind = "APPROVE"
)

func (k StepKind) IsValid() bool {
	return k == StepCreate || k == StepReview || k == StepApprove
}

// Status is a letter's lifecycle state.
type Status string

const (
	StatusPendingReview   Status = "PENDING_REVIEW"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusNeedsRevision   Status = "NEEDS_REVISION"
	StatusApproved        Status = "APPROVED"
	StatusRejected        Status = "REJECTED"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// HasAssignee reports whether a letter in this status must carry a current
// approver (for NEEDS_REVISION that is the creator).
func (s Status) HasAssignee() bool {
	return s == StatusPendingReview || s == StatusPendingApproval || s == StatusNeedsRevision
}

// Decision is what the current approver does with a letter.
type Decision string

const (
	DecisionApprove         Decision = "APPROVE"
	DecisionReject          Decision = "REJECT"
	DecisionRequestRevision Decision = "REQUEST_REVISION"
)

func (d Decision) IsValid() bool {
	return d == DecisionApprove || d == DecisionReject || d == DecisionRequestRevision
}

// LogAction is the audit action recorded for a transition.
type LogAction string

const (
	ActionCreated           LogAction = "CREATED"
	ActionReviewed          LogAction = "REVIEWED"
	ActionApproved          LogAction = "APPROVED"
	ActionRejected          LogAction = "REJECTED"
	ActionRevisionRequested LogAction = "REVISION_REQUESTED"
	ActionSubmitted         LogAction = "SUBMITTED"
)

// ── Rules ────────────────────────────────────────────────────────────────────

// Step is one position in a rule's approval chain.
type Step struct {
	ID       string
	RuleID   RuleID
	Order    int
	Kind     StepKind
	RoleID   RoleID
	RoleName string
}

// Rule maps an amount range to an approval chain. MaxAmount nil means the
// range is unbounded above.
type Rule struct {
	ID        RuleID
	Name      string
	MinAmount int64
	MaxAmount *int64
	Steps     []Step // ascending by Order
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Contains reports whether amount falls inside [MinAmount, MaxAmount].
func (r *Rule) Contains(amount int64) bool {
	if amount < r.MinAmount {
		return false
	}
	return r.MaxAmount == nil || amount <= *r.MaxAmount
}

// StepByOrder returns the step at order n.
func (r *Rule) StepByOrder(n int) (Step, bool) {
	for _, s := range r.Steps {
		if s.Order == n {
			return s, true
		}
	}
	return Step{}, false
}

// FinalStep returns the step with the highest order.
func (r *Rule) FinalStep() (Step, bool) {
	if len(r.Steps) == 0 {
		return Step{}, false
	}
	final := r.Steps[0]
	for _, s := range r.Steps[1:] {
		if s.Order > final.Order {
			final = s
		}
	}
	return final, true
}

// ── Directory ────────────────────────────────────────────────────────────────

type Role struct {
	ID   RoleID
	Code string
	Name string
}

type Unit struct {
	ID   UnitID
	Code string
	Name string
}

type User struct {
	ID       UserID
	Name     string
	Email    string
	RoleID   RoleID
	UnitID   UnitID
	IsActive bool
}

// Actor is the authenticated caller performing an operation.
type Actor struct {
	UserID UserID
	RoleID RoleID
	UnitID UnitID
}

// ── Letters ──────────────────────────────────────────────────────────────────

// Letter is a procurement letter routed through an approval chain.
type Letter struct {
	ID              LetterID
	LetterNumber    string
	Subject         string
	IncomingDate    time.Time
	AttachmentPath  *string
	Amount          int64
	Status          Status
	UnitID          UnitID
	CreatedBy       UserID
	CurrentApprover *UserID
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LogEntry is one immutable record in a letter's audit trail.
type LogEntry struct {
	ID           string
	Seq          int64
	LetterID     LetterID
	ActorID      UserID
	Action       LogAction
	Comment      *string
	StatusBefore *Status
	StatusAfter  Status
	CreatedAt    time.Time
}

// InboxFilter narrows ListInbox results. Search matches letter number or
// subject, or the exact amount when it is a whole number.
type InboxFilter struct {
	UserID UserID
	Search string
	Limit  int
	Offset int
}

// SearchAmount returns Search as an amount when it parses as one.
func (f InboxFilter) SearchAmount() (int64, bool) {
	v, err := strconv.ParseInt(f.Search, 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
