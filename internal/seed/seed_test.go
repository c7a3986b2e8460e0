package seed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pesio-ai/be-procurement-letters/internal/repository"
	"github.com/pesio-ai/be-procurement-letters/internal/service"
	"github.com/pesio-ai/be-procurement-letters/internal/testutil"
	"github.com/pesio-ai/be-procurement-letters/pkg/errors"
	"github.com/pesio-ai/be-procurement-letters/pkg/logger"
)

type fakeDirectory struct {
	roles map[string]repository.RoleID
	units map[string]repository.UnitID
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		roles: make(map[string]repository.RoleID),
		units: make(map[string]repository.UnitID),
	}
}

func (d *fakeDirectory) UpsertRole(_ context.Context, role *repository.Role) error {
	id, ok := d.roles[role.Code]
	if !ok {
		id = repository.RoleID("role-" + strings.ToLower(role.Code))
		d.roles[role.Code] = id
	}
	role.ID = id
	return nil
}

func (d *fakeDirectory) UpsertUnit(_ context.Context, unit *repository.Unit) error {
	id, ok := d.units[unit.Code]
	if !ok {
		id = repository.UnitID("unit-" + strings.ToLower(unit.Code))
		d.units[unit.Code] = id
	}
	unit.ID = id
	return nil
}

func (d *fakeDirectory) RoleIDsByCode(_ context.Context, codes []string) (map[string]repository.RoleID, error) {
	out := make(map[string]repository.RoleID)
	for _, c := range codes {
		if id, ok := d.roles[c]; ok {
			out[c] = id
		}
	}
	return out, repository.MissingCodes(codes, out)
}

func TestDefaultSeed(t *testing.T) {
	f, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	if len(f.Roles) != 8 || len(f.Units) != 1 || len(f.Rules) != 4 {
		t.Errorf("default seed has %d roles, %d units, %d rules", len(f.Roles), len(f.Units), len(f.Rules))
	}
	if top := f.Rules[3]; top.MaxAmount != nil {
		t.Errorf("top tier max = %d, want unbounded", *top.MaxAmount)
	}
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not yaml", "roles: [unclosed"},
		{"role without name", "roles:\n  - {code: STAFF}\n"},
		{"duplicate role", "roles:\n  - {code: GM, name: a}\n  - {code: GM, name: b}\n"},
		{"duplicate unit", "units:\n  - {code: HO, name: a}\n  - {code: HO, name: b}\n"},
		{"step without role", "rules:\n  - name: x\n    steps:\n      - {kind: CREATE}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc)); !errors.Is(err, errors.ErrCodeInvalidInput) {
				t.Errorf("Parse() error = %v, want INVALID_INPUT", err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	doc := "units:\n  - {code: CAB2, name: Cabang Dua}\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(f.Units) != 1 || f.Units[0].Code != "CAB2" {
		t.Errorf("units = %+v", f.Units)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load(missing) expected error")
	}
}

func TestApplyDefaultSeed(t *testing.T) {
	ctx := context.Background()
	f, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	dir := newFakeDirectory()
	rules := service.NewRuleService(testutil.NewRuleStore(), logger.Nop())

	res, err := Apply(ctx, f, dir, rules)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.Roles != 8 || res.Units != 1 || res.Rules != 4 || res.RulesSkipped {
		t.Errorf("Apply() = %+v", res)
	}

	report, err := rules.CheckCoverage(ctx)
	if err != nil || !report.OK() {
		t.Errorf("coverage after seed = %+v, %v", report, err)
	}

	page, _ := rules.ListRules(ctx, "Tier 2", 1, 10)
	if page.Total != 1 || page.Rules[0].Steps[0].RoleID != "role-general_affair" {
		t.Errorf("Tier 2 = %+v", page.Rules)
	}

	again, err := Apply(ctx, f, dir, rules)
	if err != nil {
		t.Fatalf("second Apply() error = %v", err)
	}
	if !again.RulesSkipped || again.Rules != 0 || again.Roles != 8 {
		t.Errorf("second Apply() = %+v, want rules skipped", again)
	}
}

func TestApplyUnknownRoleCode(t *testing.T) {
	doc := `
rules:
  - name: Orphan
    min_amount: 0
    steps:
      - {kind: CREATE, role: NOBODY}
      - {kind: APPROVE, role: NOONE}
`
	f, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	_, err = Apply(context.Background(), f, newFakeDirectory(), service.NewRuleService(testutil.NewRuleStore(), logger.Nop()))
	if !errors.Is(err, errors.ErrCodeConfiguration) {
		t.Errorf("Apply() error = %v, want CONFIGURATION", err)
	}
}
