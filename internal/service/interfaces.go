package service

import (
	"context"

	"github.com/pesio-ai/be-procurement-letters/internal/repository"
)

// RuleStore is satisfied by *repository.RuleRepository.
type RuleStore interface {
	FindRuleForAmount(ctx context.Context, amount int64) (*repository.Rule, error)
	GetByID(ctx context.Context, id repository.RuleID) (*repository.Rule, error)
	List(ctx context.Context, search string, limit, offset int) ([]*repository.Rule, int64, error)
	ListAll(ctx context.Context) ([]*repository.Rule, error)
	Create(ctx context.Context, rule *repository.Rule) error
	UpdateDetails(ctx context.Context, rule *repository.Rule) error
	ReplaceSteps(ctx context.Context, ruleID repository.RuleID, steps []repository.Step) error
	Delete(ctx context.Context, id repository.RuleID) error
}

// Directory is satisfied by *repository.DirectoryRepository.
type Directory interface {
	GetUnit(ctx context.Context, id repository.UnitID) (*repository.Unit, error)
	GetUnitByCode(ctx context.Context, code string) (*repository.Unit, error)
	FindActiveUsers(ctx context.Context, roleID repository.RoleID, unitID repository.UnitID) ([]*repository.User, error)
}

// LetterStore is satisfied by *repository.LetterRepository.
//
// Transition is the only way to change an existing letter: fn runs against the
// locked row and returns the log entry that must be written with it. Lookups
// made inside fn must use the context fn receives so they join the lock's
// transaction.
type LetterStore interface {
	Create(ctx context.Context, letter *repository.Letter, entry *repository.LogEntry) error
	GetByID(ctx context.Context, id repository.LetterID) (*repository.Letter, error)
	History(ctx context.Context, id repository.LetterID) ([]*repository.LogEntry, error)
	Transition(ctx context.Context, id repository.LetterID, fn func(context.Context, *repository.Letter) (*repository.LogEntry, error)) (*repository.Letter, error)
	ListInbox(ctx context.Context, filter repository.InboxFilter) ([]*repository.Letter, int64, error)
	ListByActor(ctx context.Context, userID repository.UserID, limit, offset int) ([]*repository.LogEntry, int64, error)
}

// Notifier is satisfied by *client.NotificationPublisher.
type Notifier interface {
	PublishLetterEvent(ctx context.Context, eventType string, letter *repository.Letter, actorID repository.UserID, recipients []repository.UserID)
}
