//go:build integration

package repository_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-procurement-letters/internal/config"
	"github.com/pesio-ai/be-procurement-letters/internal/repository"
	"github.com/pesio-ai/be-procurement-letters/internal/service"
	"github.com/pesio-ai/be-procurement-letters/migrations"
	"github.com/pesio-ai/be-procurement-letters/pkg/database"
	"github.com/pesio-ai/be-procurement-letters/pkg/errors"
	"github.com/pesio-ai/be-procurement-letters/pkg/logger"
)

// Run with a reachable Postgres:
//
//	DATABASE_HOST=localhost DATABASE_PASSWORD=... go test -tags integration ./internal/repository/
//
// Each test works in its own schema, dropped afterwards.

const poolSize = 2

type pgFixture struct {
	db      *database.DB
	letters *repository.LetterRepository
	rules   *repository.RuleRepository
	dir     *repository.DirectoryRepository
	svc     *service.LetterService

	branch repository.UnitID
	seq    int
	staff  repository.Actor
	mk     repository.Actor
	gm     repository.Actor
}

func newPGFixture(t *testing.T) *pgFixture {
	t.Helper()
	if os.Getenv("DATABASE_HOST") == "" {
		t.Skip("DATABASE_HOST not set")
	}
	ctx := context.Background()

	cfg, err := config.LoadTooling()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	admin, err := database.New(ctx, cfg.Database.Pool())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	schema := "it_" + uuid.NewString()[:8]
	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		admin.Close()
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		admin.Close()
	})

	poolCfg := cfg.Database.Pool()
	poolCfg.Schema = schema
	poolCfg.MaxConns = poolSize
	poolCfg.MinConns = 0
	db, err := database.New(ctx, poolCfg)
	if err != nil {
		t.Fatalf("connect to schema: %v", err)
	}
	t.Cleanup(db.Close)

	if _, err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	f := &pgFixture{
		db:    db,
		rules: repository.NewRuleRepository(db),
		dir:   repository.NewDirectoryRepository(db),
	}
	f.letters = repository.NewLetterRepository(db, repository.NewLetterLogRepository(db))

	roles := map[string]*repository.Role{}
	for _, code := range []string{"STAFF", "MANAJER_KEUANGAN", "GM"} {
		role := &repository.Role{Code: code, Name: code}
		if err := f.dir.UpsertRole(ctx, role); err != nil {
			t.Fatalf("upsert role %s: %v", code, err)
		}
		roles[code] = role
	}
	unit := &repository.Unit{Code: "CAB1", Name: "Cabang Satu"}
	if err := f.dir.UpsertUnit(ctx, unit); err != nil {
		t.Fatalf("upsert unit: %v", err)
	}
	f.branch = unit.ID

	f.staff = f.addUser(t, "staff", roles["STAFF"].ID)
	f.mk = f.addUser(t, "mk", roles["MANAJER_KEUANGAN"].ID)
	f.gm = f.addUser(t, "gm", roles["GM"].ID)

	ruleSvc := service.NewRuleService(f.rules, logger.Nop())
	_, err = ruleSvc.CreateRule(ctx, service.CreateRuleRequest{
		Name:      "All amounts",
		MinAmount: 0,
		Steps: []service.StepInput{
			{Order: 1, Kind: repository.StepCreate, RoleID: roles["STAFF"].ID},
			{Order: 2, Kind: repository.StepReview, RoleID: roles["MANAJER_KEUANGAN"].ID},
			{Order: 3, Kind: repository.StepApprove, RoleID: roles["GM"].ID},
		},
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	resolver := service.NewApproverResolver(f.dir, service.ResolverConfig{CentralUnitCode: "HO"}, logger.Nop())
	f.svc = service.NewLetterService(f.rules, f.letters, resolver, nil, logger.Nop())
	return f
}

func (f *pgFixture) addUser(t *testing.T, name string, role repository.RoleID) repository.Actor {
	t.Helper()
	var id repository.UserID
	err := f.db.QueryRow(context.Background(),
		`INSERT INTO users (name, email, role_id, unit_id) VALUES ($1, $2, $3, $4) RETURNING id`,
		name, name+"@example.test", string(role), string(f.branch),
	).Scan(&id)
	if err != nil {
		t.Fatalf("insert user %s: %v", name, err)
	}
	return repository.Actor{UserID: id, RoleID: role, UnitID: f.branch}
}

func (f *pgFixture) create(t *testing.T, amount int64) *repository.Letter {
	t.Helper()
	f.seq++
	letter, err := f.svc.CreateLetter(context.Background(), f.staff, service.CreateLetterRequest{
		LetterNumber: fmt.Sprintf("SP/IT/L%d", f.seq),
		Subject:      "Pengadaan server",
		IncomingDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Amount:       amount,
	})
	if err != nil {
		t.Fatalf("CreateLetter(%d) error = %v", amount, err)
	}
	return letter
}

func TestPostgresTransitionRollsBack(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	letter := f.create(t, 1_000_000)

	tests := []struct {
		name string
		fn   func(context.Context, *repository.Letter) (*repository.LogEntry, error)
	}{
		{"callback error", func(_ context.Context, l *repository.Letter) (*repository.LogEntry, error) {
			l.Status = repository.StatusRejected
			l.CurrentApprover = nil
			return nil, errors.Forbidden("no")
		}},
		{"log append fails after update", func(_ context.Context, l *repository.Letter) (*repository.LogEntry, error) {
			l.Status = repository.StatusRejected
			l.CurrentApprover = nil
			return &repository.LogEntry{ActorID: f.mk.UserID, Action: "BOGUS", StatusAfter: l.Status}, nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.letters.Transition(ctx, letter.ID, tt.fn); err == nil {
				t.Fatal("Transition() expected error")
			}
			stored, err := f.letters.GetByID(ctx, letter.ID)
			if err != nil {
				t.Fatalf("GetByID() error = %v", err)
			}
			if stored.Status != repository.StatusPendingReview || stored.Version != letter.Version {
				t.Errorf("letter changed: status=%s version=%d", stored.Status, stored.Version)
			}
			history, _ := f.letters.History(ctx, letter.ID)
			if len(history) != 1 {
				t.Errorf("history = %d entries, want 1", len(history))
			}
		})
	}
}

func TestPostgresConcurrentDecisions(t *testing.T) {
	f := newPGFixture(t)

	// More deciders than pooled connections, each on its own letter. Every
	// decision re-reads the chain and the next approver while holding its row
	// lock.
	const n = poolSize * 3
	letters := make([]*repository.Letter, n)
	for i := range letters {
		letters[i] = f.create(t, int64(1_000_000+i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i, l := range letters {
		wg.Add(1)
		go func(i int, id repository.LetterID) {
			defer wg.Done()
			_, errs[i] = f.svc.Decide(ctx, id, f.mk, repository.DecisionApprove, nil)
		}(i, l.ID)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("Decide(letter %d) error = %v", i, err)
		}
	}

	// Racing final approvals of one letter: exactly one wins.
	target := letters[0].ID
	var (
		mu        sync.Mutex
		succeeded int
		forbidden int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Decide(ctx, target, f.gm, repository.DecisionApprove, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, errors.ErrCodeForbidden):
				forbidden++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if succeeded != 1 || forbidden != 3 {
		t.Errorf("succeeded=%d forbidden=%d, want 1/3", succeeded, forbidden)
	}

	history, err := f.letters.History(context.Background(), target)
	if err != nil || len(history) != 3 {
		t.Errorf("history = %d entries (%v), want 3", len(history), err)
	}
}

func TestPostgresMalformedIDs(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()

	if _, err := f.letters.GetByID(ctx, "abc"); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("GetByID(abc) error = %v, want NOT_FOUND", err)
	}
	_, err := f.letters.Transition(ctx, "abc", func(context.Context, *repository.Letter) (*repository.LogEntry, error) {
		t.Fatal("callback must not run")
		return nil, nil
	})
	if !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("Transition(abc) error = %v, want NOT_FOUND", err)
	}
	if _, err := f.rules.GetByID(ctx, "abc"); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("rules.GetByID(abc) error = %v, want NOT_FOUND", err)
	}
	if _, err := f.dir.GetUnit(ctx, "abc"); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("GetUnit(abc) error = %v, want NOT_FOUND", err)
	}

	unknown := repository.UnitID(uuid.NewString())
	_, err = f.svc.CreateLetter(ctx, f.staff, service.CreateLetterRequest{
		LetterNumber: "SP/IT/unit",
		Subject:      "Pengadaan meja",
		IncomingDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Amount:       500_000,
		UnitID:       &unknown,
	})
	if !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("CreateLetter(unknown unit) error = %v, want INVALID_INPUT", err)
	}
}

func TestPostgresInboxSearch(t *testing.T) {
	f := newPGFixture(t)
	ctx := context.Background()
	a := f.create(t, 1_250_000)
	f.create(t, 3_000_000)

	tests := []struct {
		search string
		want   int64
	}{
		{"", 2},
		{"1250000", 1},
		{"3000000", 1},
		{"sp/it/l2", 1},
		{"server", 2},
		{"1250001", 0},
	}
	for _, tt := range tests {
		letters, total, err := f.letters.ListInbox(ctx, repository.InboxFilter{
			UserID: f.mk.UserID, Search: tt.search, Limit: 10,
		})
		if err != nil {
			t.Fatalf("ListInbox(%q) error = %v", tt.search, err)
		}
		if total != tt.want || int64(len(letters)) != tt.want {
			t.Errorf("ListInbox(%q) = %d/%d, want %d", tt.search, len(letters), total, tt.want)
		}
		if tt.search == "1250000" && total == 1 && letters[0].ID != a.ID {
			t.Errorf("amount search returned %s, want %s", letters[0].ID, a.ID)
		}
	}
}
