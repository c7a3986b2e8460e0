// Package seed loads bootstrap data for the routing engine (roles, units and
// amount-tiered rules) from YAML and writes it through the repositories.
package seed

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pesio-ai/be-procurement-letters/internal/repository"
	"github.com/pesio-ai/be-procurement-letters/internal/service"
	"github.com/pesio-ai/be-procurement-letters/pkg/errors"
)

//go:embed default.yaml
var defaultFile []byte

type RoleSeed struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

type UnitSeed struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

// StepSeed is one chain position; Role is a role code. Order follows the
// position in the list.
type StepSeed struct {
	Kind string `yaml:"kind"`
	Role string `yaml:"role"`
}

type RuleSeed struct {
	Name      string     `yaml:"name"`
	MinAmount int64      `yaml:"min_amount"`
	MaxAmount *int64     `yaml:"max_amount"`
	Steps     []StepSeed `yaml:"steps"`
}

// File is the root of a seed document.
type File struct {
	Roles []RoleSeed `yaml:"roles"`
	Units []UnitSeed `yaml:"units"`
	Rules []RuleSeed `yaml:"rules"`
}

// Default returns the embedded standard organisation.
func Default() (*File, error) {
	return Parse(defaultFile)
}

// Load reads and validates a seed file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a seed document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid seed document")
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks codes are present and unique and every rule step names a
// kind and a role. Range and chain shape are checked by the rule service.
func (f *File) Validate() error {
	seen := make(map[string]struct{})
	for i, r := range f.Roles {
		if strings.TrimSpace(r.Code) == "" || strings.TrimSpace(r.Name) == "" {
			return errors.InvalidInput(fmt.Sprintf("roles[%d]", i), "code and name are required")
		}
		if _, dup := seen[r.Code]; dup {
			return errors.InvalidInput(fmt.Sprintf("roles[%d]", i), "duplicate role code "+r.Code)
		}
		seen[r.Code] = struct{}{}
	}

	seen = make(map[string]struct{})
	for i, u := range f.Units {
		if strings.TrimSpace(u.Code) == "" || strings.TrimSpace(u.Name) == "" {
			return errors.InvalidInput(fmt.Sprintf("units[%d]", i), "code and name are required")
		}
		if _, dup := seen[u.Code]; dup {
			return errors.InvalidInput(fmt.Sprintf("units[%d]", i), "duplicate unit code "+u.Code)
		}
		seen[u.Code] = struct{}{}
	}

	for i, r := range f.Rules {
		for j, s := range r.Steps {
			if strings.TrimSpace(s.Kind) == "" || strings.TrimSpace(s.Role) == "" {
				return errors.InvalidInput(fmt.Sprintf("rules[%d].steps[%d]", i, j), "kind and role are required")
			}
		}
	}
	return nil
}

// roleCodes returns the distinct role codes referenced by rule steps.
func (f *File) roleCodes() []string {
	seen := make(map[string]struct{})
	var codes []string
	for _, r := range f.Rules {
		for _, s := range r.Steps {
			if _, ok := seen[s.Role]; !ok {
				seen[s.Role] = struct{}{}
				codes = append(codes, s.Role)
			}
		}
	}
	return codes
}

// Directory is the write side of the organisation directory.
type Directory interface {
	UpsertRole(ctx context.Context, role *repository.Role) error
	UpsertUnit(ctx context.Context, unit *repository.Unit) error
	RoleIDsByCode(ctx context.Context, codes []string) (map[string]repository.RoleID, error)
}

// Rules is the rule administration surface used by seeding.
type Rules interface {
	ListRules(ctx context.Context, search string, page, pageSize int) (*service.RulePage, error)
	CreateRule(ctx context.Context, req service.CreateRuleRequest) (*repository.Rule, error)
}

// Result summarises what Apply wrote.
type Result struct {
	Roles        int
	Units        int
	Rules        int
	RulesSkipped bool
}

// Apply upserts roles and units, then creates the rules. Rules are only
// created into an empty rule table so re-running a seed never duplicates
// tiers.
func Apply(ctx context.Context, f *File, dir Directory, rules Rules) (*Result, error) {
	res := &Result{}

	for _, rs := range f.Roles {
		role := &repository.Role{Code: rs.Code, Name: rs.Name}
		if err := dir.UpsertRole(ctx, role); err != nil {
			return res, fmt.Errorf("seed role %s: %w", rs.Code, err)
		}
		res.Roles++
	}
	for _, us := range f.Units {
		unit := &repository.Unit{Code: us.Code, Name: us.Name}
		if err := dir.UpsertUnit(ctx, unit); err != nil {
			return res, fmt.Errorf("seed unit %s: %w", us.Code, err)
		}
		res.Units++
	}

	if len(f.Rules) == 0 {
		return res, nil
	}
	existing, err := rules.ListRules(ctx, "", 1, 1)
	if err != nil {
		return res, fmt.Errorf("list rules: %w", err)
	}
	if existing.Total > 0 {
		res.RulesSkipped = true
		return res, nil
	}

	roleIDs, err := dir.RoleIDsByCode(ctx, f.roleCodes())
	if err != nil {
		return res, fmt.Errorf("resolve rule roles: %w", err)
	}

	for _, rs := range f.Rules {
		req := service.CreateRuleRequest{
			Name:      rs.Name,
			MinAmount: rs.MinAmount,
			MaxAmount: rs.MaxAmount,
			Steps:     make([]service.StepInput, 0, len(rs.Steps)),
		}
		for i, s := range rs.Steps {
			req.Steps = append(req.Steps, service.StepInput{
				Order:  i + 1,
				Kind:   repository.StepKind(strings.ToUpper(strings.TrimSpace(s.Kind))),
				RoleID: roleIDs[s.Role],
			})
		}
		if _, err := rules.CreateRule(ctx, req); err != nil {
			return res, fmt.Errorf("seed rule %q: %w", rs.Name, err)
		}
		res.Rules++
	}
	return res, nil
}
