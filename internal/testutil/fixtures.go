package testutil

import "github.com/pesio-ai/be-procurement-letters/internal/repository"

// Role IDs of the standard organisation.
const (
	RoleStaff               repository.RoleID = "role-staff"
	RoleManajerKeuangan     repository.RoleID = "role-manajer-keuangan"
	RoleGM                  repository.RoleID = "role-gm"
	RoleGeneralAffair       repository.RoleID = "role-general-affair"
	RoleKadivKeuangan       repository.RoleID = "role-kadiv-keuangan"
	RoleDirekturKeuangan    repository.RoleID = "role-direktur-keuangan"
	RoleDirekturOperasional repository.RoleID = "role-direktur-operasional"
	RoleDirekturUtama       repository.RoleID = "role-direktur-utama"
)

// CentralUnitCode is the head-office unit code of the standard organisation.
const CentralUnitCode = "HO"

// CentralRoles is the standard central-scope role set.
func CentralRoles() map[repository.RoleID]struct{} {
	return map[repository.RoleID]struct{}{
		RoleDirekturKeuangan:    {},
		RoleDirekturOperasional: {},
		RoleDirekturUtama:       {},
		RoleKadivKeuangan:       {},
		RoleGeneralAffair:       {},
	}
}

func amount(v int64) *int64 { return &v }

func chain(roles ...repository.RoleID) []repository.Step {
	steps := make([]repository.Step, len(roles))
	for i, role := range roles {
		kind := repository.StepReview
		switch {
		case i == 0:
			kind = repository.StepCreate
		case i == len(roles)-1:
			kind = repository.StepApprove
		}
		steps[i] = repository.Step{Order: i + 1, Kind: kind, RoleID: role, RoleName: string(role)}
	}
	return steps
}

// StandardRules returns the four amount tiers.
func StandardRules() []*repository.Rule {
	return []*repository.Rule{
		{
			ID: "rule-1", Name: "Tier 1", MinAmount: 0, MaxAmount: amount(2_000_000),
			Steps: chain(RoleStaff, RoleManajerKeuangan, RoleGM),
		},
		{
			ID: "rule-2", Name: "Tier 2", MinAmount: 2_000_001, MaxAmount: amount(10_000_000),
			Steps: chain(RoleGeneralAffair, RoleKadivKeuangan, RoleDirekturKeuangan),
		},
		{
			ID: "rule-3", Name: "Tier 3", MinAmount: 10_000_001, MaxAmount: amount(50_000_000),
			Steps: chain(RoleGM, RoleDirekturOperasional, RoleDirekturUtama),
		},
		{
			ID: "rule-4", Name: "Tier 4", MinAmount: 50_000_001,
			Steps: chain(RoleDirekturOperasional, RoleDirekturKeuangan, RoleDirekturUtama),
		},
	}
}

// Org is the standard organisation: a head office staffed with the central
// roles and one branch staffed with the local roles.
type Org struct {
	Directory  *Directory
	HeadOffice repository.UnitID
	Branch     repository.UnitID
}

// Actors of the standard organisation.
var (
	BranchStaff   = repository.Actor{UserID: "staff-branch", RoleID: RoleStaff}
	BranchMK      = repository.Actor{UserID: "mk-branch", RoleID: RoleManajerKeuangan}
	BranchGM      = repository.Actor{UserID: "gm-branch", RoleID: RoleGM}
	CentralGA     = repository.Actor{UserID: "ga-ho", RoleID: RoleGeneralAffair}
	CentralKadiv  = repository.Actor{UserID: "kadiv-ho", RoleID: RoleKadivKeuangan}
	CentralDirKeu = repository.Actor{UserID: "dirkeu-ho", RoleID: RoleDirekturKeuangan}
	CentralDirOps = repository.Actor{UserID: "dirops-ho", RoleID: RoleDirekturOperasional}
	CentralDirut  = repository.Actor{UserID: "dirut-ho", RoleID: RoleDirekturUtama}
)

// NewOrg builds the standard organisation. Use InBranch and InHeadOffice to
// give an actor its unit.
func NewOrg() *Org {
	dir := NewDirectory()
	ho := dir.AddUnit(CentralUnitCode)
	branch := dir.AddUnit("CAB1")

	for _, a := range []repository.Actor{BranchStaff, BranchMK, BranchGM} {
		dir.AddUser(a.UserID, a.RoleID, branch)
	}
	for _, a := range []repository.Actor{CentralGA, CentralKadiv, CentralDirKeu, CentralDirOps, CentralDirut} {
		dir.AddUser(a.UserID, a.RoleID, ho)
	}
	return &Org{Directory: dir, HeadOffice: ho, Branch: branch}
}

// InBranch returns a with its unit set to the branch.
func (o *Org) InBranch(a repository.Actor) repository.Actor {
	a.UnitID = o.Branch
	return a
}

// InHeadOffice returns a with its unit set to the head office.
func (o *Org) InHeadOffice(a repository.Actor) repository.Actor {
	a.UnitID = o.HeadOffice
	return a
}
