package service

import (
	"context"
	"fmt"

	"github.com/pesio-ai/be-procurement-letters/internal/repository"
	"github.com/pesio-ai/be-procurement-letters/pkg/errors"
	"github.com/pesio-ai/be-procurement-letters/pkg/logger"
)

// ResolverConfig describes the organisation the resolver works against.
type ResolverConfig struct {
	// CentralUnitCode is the unit central-scope roles are resolved in.
	CentralUnitCode string
	// CentralRoles always act from the central unit, whatever the letter's
	// home unit is.
	CentralRoles map[repository.RoleID]struct{}
}

// IsCentral reports whether roleID is a central-scope role.
func (c ResolverConfig) IsCentral(roleID repository.RoleID) bool {
	_, ok := c.CentralRoles[roleID]
	return ok
}

// ApproverResolver turns a step role into the concrete user who acts next.
type ApproverResolver struct {
	dir Directory
	cfg ResolverConfig
	log *logger.Logger
}

// NewApproverResolver creates a new ApproverResolver.
func NewApproverResolver(dir Directory, cfg ResolverConfig, log *logger.Logger) *ApproverResolver {
	return &ApproverResolver{dir: dir, cfg: cfg, log: log}
}

// Resolve returns the single active user holding roleID in the unit the role
// acts from: the central unit for central-scope roles, homeUnit otherwise.
func (r *ApproverResolver) Resolve(ctx context.Context, roleID repository.RoleID, homeUnit repository.UnitID) (repository.UserID, error) {
	unitID := homeUnit
	if r.cfg.IsCentral(roleID) {
		central, err := r.dir.GetUnitByCode(ctx, r.cfg.CentralUnitCode)
		if errors.Is(err, errors.ErrCodeNotFound) {
			r.log.Error().
				Str("unit_code", r.cfg.CentralUnitCode).
				Msg("Central unit is not configured")
			return "", errors.Configuration(fmt.Sprintf("central unit %q not found", r.cfg.CentralUnitCode))
		}
		if err != nil {
			return "", err
		}
		unitID = central.ID
	}

	users, err := r.dir.FindActiveUsers(ctx, roleID, unitID)
	if err != nil {
		return "", err
	}

	switch len(users) {
	case 0:
		r.log.Error().
			Str("role_id", string(roleID)).
			Str("unit_id", string(unitID)).
			Msg("No active approver for role")
		return "", errors.ApproverNotFound(string(roleID), string(unitID))
	case 1:
		return users[0].ID, nil
	default:
		r.log.Error().
			Str("role_id", string(roleID)).
			Str("unit_id", string(unitID)).
			Int("candidates", len(users)).
			Msg("Approver is ambiguous")
		return "", errors.Configuration(fmt.Sprintf("%d active users hold role %s in unit %s", len(users), roleID, unitID)).
			WithDetail("role", string(roleID)).
			WithDetail("unit", string(unitID))
	}
}

// Unit returns a unit of the directory the resolver reads.
func (r *ApproverResolver) Unit(ctx context.Context, id repository.UnitID) (*repository.Unit, error) {
	return r.dir.GetUnit(ctx, id)
}
