// Package testutil provides in-memory implementations of the repository
// contracts used by the service and handler tests.
package testutil

import (
	"context"
	stderrors "errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-procurement-letters/internal/repository"
	"github.com/pesio-ai/be-procurement-letters/pkg/errors"
)

// ErrInjected is returned by stores when a failure has been injected.
var ErrInjected = stderrors.New("injected failure")

type transitionKey struct{}

// InTransition reports whether ctx is the one LetterStore.Transition hands to
// its callback, the in-memory stand-in for a transaction-bound context.
func InTransition(ctx context.Context) bool {
	v, _ := ctx.Value(transitionKey{}).(bool)
	return v
}

// ── Rules ─────────────────────────────────────────────────────────────────────

// RuleStore keeps rules in memory.
type RuleStore struct {
	mu    sync.Mutex
	rules map[repository.RuleID]*repository.Rule
	// Lookups counts FindRuleForAmount calls; TxLookups counts those made
	// inside a letter transition.
	Lookups   int
	TxLookups int
}

func NewRuleStore(rules ...*repository.Rule) *RuleStore {
	s := &RuleStore{rules: make(map[repository.RuleID]*repository.Rule)}
	for _, r := range rules {
		if r.ID == "" {
			r.ID = repository.RuleID(uuid.NewString())
		}
		s.rules[r.ID] = cloneRule(r)
	}
	return s
}

func (s *RuleStore) FindRuleForAmount(ctx context.Context, amount int64) (*repository.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Lookups++
	if InTransition(ctx) {
		s.TxLookups++
	}

	rule, err := repository.SelectRule(s.sorted(), amount)
	if err != nil {
		return nil, err
	}
	return cloneRule(rule), nil
}

func (s *RuleStore) GetByID(_ context.Context, id repository.RuleID) (*repository.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[id]
	if !ok {
		return nil, errors.NotFound("procurement_rule", string(id))
	}
	return cloneRule(r), nil
}

func (s *RuleStore) List(_ context.Context, search string, limit, offset int) ([]*repository.Rule, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*repository.Rule
	for _, r := range s.sorted() {
		if search == "" || strings.Contains(strings.ToLower(r.Name), strings.ToLower(search)) {
			matched = append(matched, cloneRule(r))
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
	return page(matched, limit, offset), int64(len(matched)), nil
}

func (s *RuleStore) ListAll(_ context.Context) ([]*repository.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*repository.Rule
	for _, r := range s.sorted() {
		out = append(out, cloneRule(r))
	}
	return out, nil
}

func (s *RuleStore) Create(_ context.Context, rule *repository.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule.ID = repository.RuleID(uuid.NewString())
	rule.CreatedAt = time.Now()
	rule.UpdatedAt = rule.CreatedAt
	for i := range rule.Steps {
		rule.Steps[i].ID = uuid.NewString()
		rule.Steps[i].RuleID = rule.ID
	}
	s.rules[rule.ID] = cloneRule(rule)
	return nil
}

func (s *RuleStore) UpdateDetails(_ context.Context, rule *repository.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.rules[rule.ID]
	if !ok {
		return errors.NotFound("procurement_rule", string(rule.ID))
	}
	stored.Name = rule.Name
	stored.MinAmount = rule.MinAmount
	stored.MaxAmount = rule.MaxAmount
	stored.UpdatedAt = time.Now()
	rule.UpdatedAt = stored.UpdatedAt
	return nil
}

func (s *RuleStore) ReplaceSteps(_ context.Context, ruleID repository.RuleID, steps []repository.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.rules[ruleID]
	if !ok {
		return errors.NotFound("procurement_rule", string(ruleID))
	}
	stored.Steps = make([]repository.Step, len(steps))
	for i, step := range steps {
		step.ID = uuid.NewString()
		step.RuleID = ruleID
		stored.Steps[i] = step
	}
	repository.SortSteps(stored.Steps)
	return nil
}

func (s *RuleStore) Delete(_ context.Context, id repository.RuleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[id]; !ok {
		return errors.NotFound("procurement_rule", string(id))
	}
	delete(s.rules, id)
	return nil
}

func (s *RuleStore) sorted() []*repository.Rule {
	out := make([]*repository.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MinAmount < out[j].MinAmount })
	return out
}

func cloneRule(r *repository.Rule) *repository.Rule {
	c := *r
	if r.MaxAmount != nil {
		max := *r.MaxAmount
		c.MaxAmount = &max
	}
	c.Steps = append([]repository.Step(nil), r.Steps...)
	repository.SortSteps(c.Steps)
	return &c
}

// ── Directory ─────────────────────────────────────────────────────────────────

// Directory keeps units and users in memory.
type Directory struct {
	mu    sync.Mutex
	units map[string]*repository.Unit
	users []*repository.User

	// Queries and TxQueries count user lookups, overall and inside a letter
	// transition.
	Queries   int
	TxQueries int
}

func NewDirectory() *Directory {
	return &Directory{units: make(map[string]*repository.Unit)}
}

// AddUnit registers a unit under code and returns its ID.
func (d *Directory) AddUnit(code string) repository.UnitID {
	d.mu.Lock()
	defer d.mu.Unlock()

	u := &repository.Unit{ID: repository.UnitID("unit-" + strings.ToLower(code)), Code: code, Name: code}
	d.units[code] = u
	return u.ID
}

// AddUser registers an active user.
func (d *Directory) AddUser(id repository.UserID, role repository.RoleID, unit repository.UnitID) *repository.User {
	d.mu.Lock()
	defer d.mu.Unlock()

	u := &repository.User{ID: id, Name: string(id), Email: string(id) + "@example.test", RoleID: role, UnitID: unit, IsActive: true}
	d.users = append(d.users, u)
	return u
}

// Deactivate marks a user inactive.
func (d *Directory) Deactivate(id repository.UserID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, u := range d.users {
		if u.ID == id {
			u.IsActive = false
		}
	}
}

func (d *Directory) GetUnit(_ context.Context, id repository.UnitID) (*repository.Unit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, u := range d.units {
		if u.ID == id {
			c := *u
			return &c, nil
		}
	}
	return nil, errors.NotFound("unit", string(id))
}

func (d *Directory) GetUnitByCode(_ context.Context, code string) (*repository.Unit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.units[code]
	if !ok {
		return nil, errors.NotFound("unit", code)
	}
	c := *u
	return &c, nil
}

func (d *Directory) FindActiveUsers(ctx context.Context, roleID repository.RoleID, unitID repository.UnitID) ([]*repository.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Queries++
	if InTransition(ctx) {
		d.TxQueries++
	}

	var out []*repository.User
	for _, u := range d.users {
		if u.IsActive && u.RoleID == roleID && u.UnitID == unitID {
			c := *u
			out = append(out, &c)
		}
	}
	return out, nil
}

// ── Letters ───────────────────────────────────────────────────────────────────

// LetterStore keeps letters and their logs in memory. Transition holds the
// store lock for its whole duration, which serialises transitions the way a
// row lock does.
type LetterStore struct {
	mu      sync.Mutex
	letters map[repository.LetterID]*repository.Letter
	logs    []*repository.LogEntry
	seq     int64

	// FailNextAppend makes the next log append fail after the letter write.
	FailNextAppend bool
}

func NewLetterStore() *LetterStore {
	return &LetterStore{letters: make(map[repository.LetterID]*repository.Letter)}
}

func (s *LetterStore) Create(_ context.Context, letter *repository.Letter, entry *repository.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailNextAppend {
		s.FailNextAppend = false
		return errors.Wrap(ErrInjected, errors.ErrCodeInternal, "failed to append letter log")
	}

	now := time.Now()
	letter.ID = repository.LetterID(uuid.NewString())
	letter.Version = 1
	letter.CreatedAt = now
	letter.UpdatedAt = now
	s.letters[letter.ID] = cloneLetter(letter)

	entry.LetterID = letter.ID
	s.appendLocked(entry, now)
	return nil
}

func (s *LetterStore) GetByID(_ context.Context, id repository.LetterID) (*repository.Letter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.letters[id]
	if !ok {
		return nil, errors.NotFound("letter", string(id))
	}
	return cloneLetter(l), nil
}

func (s *LetterStore) History(_ context.Context, id repository.LetterID) ([]*repository.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*repository.LogEntry
	for _, e := range s.logs {
		if e.LetterID == id {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *LetterStore) Transition(ctx context.Context, id repository.LetterID, fn func(context.Context, *repository.Letter) (*repository.LogEntry, error)) (*repository.Letter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.letters[id]
	if !ok {
		return nil, errors.NotFound("letter", string(id))
	}

	next := cloneLetter(current)
	entry, err := fn(context.WithValue(ctx, transitionKey{}, true), next)
	if err != nil {
		return nil, err
	}

	if s.FailNextAppend {
		s.FailNextAppend = false
		return nil, errors.Wrap(ErrInjected, errors.ErrCodeInternal, "failed to append letter log")
	}

	now := time.Now()
	next.Version = current.Version + 1
	next.UpdatedAt = now
	s.letters[id] = next

	entry.LetterID = id
	s.appendLocked(entry, now)
	return cloneLetter(next), nil
}

func (s *LetterStore) ListInbox(_ context.Context, filter repository.InboxFilter) ([]*repository.Letter, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	search := strings.ToLower(filter.Search)
	amount, hasAmount := filter.SearchAmount()
	var matched []*repository.Letter
	for _, l := range s.letters {
		if l.CurrentApprover == nil || *l.CurrentApprover != filter.UserID {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(l.LetterNumber), search) &&
			!strings.Contains(strings.ToLower(l.Subject), search) &&
			(!hasAmount || l.Amount != amount) {
			continue
		}
		matched = append(matched, cloneLetter(l))
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].UpdatedAt.After(matched[j].UpdatedAt) })
	return page(matched, filter.Limit, filter.Offset), int64(len(matched)), nil
}

func (s *LetterStore) ListByActor(_ context.Context, userID repository.UserID, limit, offset int) ([]*repository.LogEntry, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*repository.LogEntry
	for i := len(s.logs) - 1; i >= 0; i-- {
		if s.logs[i].ActorID == userID {
			c := *s.logs[i]
			matched = append(matched, &c)
		}
	}
	return page(matched, limit, offset), int64(len(matched)), nil
}

// Logs returns every stored log entry in insertion order.
func (s *LetterStore) Logs() []*repository.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*repository.LogEntry, len(s.logs))
	for i, e := range s.logs {
		c := *e
		out[i] = &c
	}
	return out
}

func (s *LetterStore) appendLocked(entry *repository.LogEntry, now time.Time) {
	s.seq++
	entry.ID = uuid.NewString()
	entry.Seq = s.seq
	entry.CreatedAt = now
	c := *entry
	s.logs = append(s.logs, &c)
}

func cloneLetter(l *repository.Letter) *repository.Letter {
	c := *l
	if l.CurrentApprover != nil {
		a := *l.CurrentApprover
		c.CurrentApprover = &a
	}
	if l.AttachmentPath != nil {
		p := *l.AttachmentPath
		c.AttachmentPath = &p
	}
	return &c
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

// ── Notifications ─────────────────────────────────────────────────────────────

// Event is a recorded notification.
type Event struct {
	Type       string
	LetterID   repository.LetterID
	ActorID    repository.UserID
	Recipients []repository.UserID
}

// Notifier records published events.
type Notifier struct {
	mu     sync.Mutex
	Events []Event
}

func (n *Notifier) PublishLetterEvent(_ context.Context, eventType string, letter *repository.Letter, actorID repository.UserID, recipients []repository.UserID) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.Events = append(n.Events, Event{
		Type:       eventType,
		LetterID:   letter.ID,
		ActorID:    actorID,
		Recipients: append([]repository.UserID(nil), recipients...),
	})
}

// Last returns the most recent event.
func (n *Notifier) Last() (Event, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.Events) == 0 {
		return Event{}, false
	}
	return n.Events[len(n.Events)-1], true
}
