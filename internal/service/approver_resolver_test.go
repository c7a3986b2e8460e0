package service

import (
	"context"
	"testing"

	"github.com/pesio-ai/be-procurement-letters/internal/repository"
	"github.com/pesio-ai/be-procurement-letters/internal/testutil"
	"github.com/pesio-ai/be-procurement-letters/pkg/errors"
	"github.com/pesio-ai/be-procurement-letters/pkg/logger"
)

func TestApproverResolverResolve(t *testing.T) {
	org := testutil.NewOrg()
	org.Directory.AddUser("gm-ho", testutil.RoleGM, org.HeadOffice)
	org.Directory.AddUser("mk-ho-a", testutil.RoleManajerKeuangan, org.HeadOffice)
	org.Directory.AddUser("mk-ho-b", testutil.RoleManajerKeuangan, org.HeadOffice)

	resolver := NewApproverResolver(org.Directory, ResolverConfig{
		CentralUnitCode: testutil.CentralUnitCode,
		CentralRoles:    testutil.CentralRoles(),
	}, logger.Nop())

	tests := []struct {
		name     string
		role     repository.RoleID
		home     repository.UnitID
		want     repository.UserID
		wantCode errors.ErrorCode
	}{
		{"local role resolves in home unit", testutil.RoleManajerKeuangan, org.Branch, "mk-branch", ""},
		{"same local role elsewhere", testutil.RoleGM, org.HeadOffice, "gm-ho", ""},
		{"central role ignores home unit", testutil.RoleDirekturKeuangan, org.Branch, "dirkeu-ho", ""},
		{"central role from head office", testutil.RoleGeneralAffair, org.HeadOffice, "ga-ho", ""},
		{"nobody holds role in unit", testutil.RoleStaff, org.HeadOffice, "", errors.ErrCodeApproverNotFound},
		{"two holders is ambiguous", testutil.RoleManajerKeuangan, org.HeadOffice, "", errors.ErrCodeConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.Resolve(context.Background(), tt.role, tt.home)
			if tt.wantCode != "" {
				if !errors.Is(err, tt.wantCode) {
					t.Fatalf("Resolve() error = %v, want code %s", err, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Resolve() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestApproverResolverSkipsInactiveUsers(t *testing.T) {
	org := testutil.NewOrg()
	org.Directory.Deactivate("gm-branch")

	resolver := NewApproverResolver(org.Directory, ResolverConfig{
		CentralUnitCode: testutil.CentralUnitCode,
		CentralRoles:    testutil.CentralRoles(),
	}, logger.Nop())

	_, err := resolver.Resolve(context.Background(), testutil.RoleGM, org.Branch)
	if !errors.Is(err, errors.ErrCodeApproverNotFound) {
		t.Fatalf("Resolve() error = %v, want APPROVER_NOT_FOUND", err)
	}

	var appErr *errors.AppError
	if !errors.As(err, &appErr) || appErr.Details["role"] != string(testutil.RoleGM) {
		t.Errorf("error details = %+v, want role detail", appErr)
	}
}

func TestApproverResolverMissingCentralUnit(t *testing.T) {
	org := testutil.NewOrg()

	resolver := NewApproverResolver(org.Directory, ResolverConfig{
		CentralUnitCode: "HQ-MISSING",
		CentralRoles:    testutil.CentralRoles(),
	}, logger.Nop())

	_, err := resolver.Resolve(context.Background(), testutil.RoleDirekturUtama, org.Branch)
	if !errors.Is(err, errors.ErrCodeConfiguration) {
		t.Fatalf("Resolve() error = %v, want CONFIGURATION", err)
	}

	// Local roles never touch the central unit.
	if _, err := resolver.Resolve(context.Background(), testutil.RoleGM, org.Branch); err != nil {
		t.Errorf("Resolve(local) unexpected error: %v", err)
	}
}

func TestResolverConfigIsCentral(t *testing.T) {
	cfg := ResolverConfig{CentralRoles: testutil.CentralRoles()}
	if !cfg.IsCentral(testutil.RoleKadivKeuangan) {
		t.Error("Kadiv Keuangan should be central")
	}
	if cfg.IsCentral(testutil.RoleStaff) {
		t.Error("Staff should not be central")
	}
	if (ResolverConfig{}).IsCentral(testutil.RoleStaff) {
		t.Error("empty config should have no central roles")
	}
}
