package repository

import (
	"testing"

	"github.com/pesio-ai/be-procurement-letters/pkg/errors"
)

func bounded(max int64) *int64 { return &max }

func TestSelectRule(t *testing.T) {
	tier1 := &Rule{ID: "r1", MinAmount: 0, MaxAmount: bounded(2_000_000)}
	tier2 := &Rule{ID: "r2", MinAmount: 2_000_001, MaxAmount: bounded(10_000_000)}
	open := &Rule{ID: "r4", MinAmount: 50_000_001}
	overlapping := &Rule{ID: "rx", MinAmount: 1_000_000, MaxAmount: bounded(3_000_000)}

	tests := []struct {
		name     string
		rules    []*Rule
		amount   int64
		wantID   RuleID
		wantCode errors.ErrorCode
	}{
		{"lower bound inclusive", []*Rule{tier1, tier2}, 0, "r1", ""},
		{"upper bound inclusive", []*Rule{tier1, tier2}, 2_000_000, "r1", ""},
		{"next tier starts one above", []*Rule{tier1, tier2}, 2_000_001, "r2", ""},
		{"unbounded max", []*Rule{tier1, open}, 900_000_000_000, "r4", ""},
		{"gap", []*Rule{tier1, open}, 20_000_000, "", errors.ErrCodeConfiguration},
		{"no rules", nil, 1, "", errors.ErrCodeConfiguration},
		{"overlap", []*Rule{tier1, tier2, overlapping}, 2_500_000, "", errors.ErrCodeConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectRule(tt.rules, tt.amount)
			if tt.wantCode != "" {
				if !errors.Is(err, tt.wantCode) {
					t.Fatalf("SelectRule() error = %v, want code %s", err, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("SelectRule() unexpected error: %v", err)
			}
			if got.ID != tt.wantID {
				t.Errorf("SelectRule() = %s, want %s", got.ID, tt.wantID)
			}
		})
	}
}

func TestRuleSteps(t *testing.T) {
	rule := &Rule{Steps: []Step{
		{Order: 3, Kind: StepApprove, RoleID: "gm"},
		{Order: 1, Kind: StepCreate, RoleID: "staff"},
		{Order: 2, Kind: StepReview, RoleID: "mk"},
	}}

	final, ok := rule.FinalStep()
	if !ok || final.RoleID != "gm" {
		t.Errorf("FinalStep() = %+v, %v", final, ok)
	}

	SortSteps(rule.Steps)
	for i, s := range rule.Steps {
		if s.Order != i+1 {
			t.Fatalf("SortSteps() position %d has order %d", i, s.Order)
		}
	}

	if s, ok := rule.StepByOrder(2); !ok || s.RoleID != "mk" {
		t.Errorf("StepByOrder(2) = %+v, %v", s, ok)
	}
	if _, ok := rule.StepByOrder(4); ok {
		t.Error("StepByOrder(4) should not exist")
	}
	if _, ok := (&Rule{}).FinalStep(); ok {
		t.Error("FinalStep() on empty rule should report false")
	}
}

func TestMissingCodes(t *testing.T) {
	found := map[string]RoleID{"GM": "1", "STAFF": "2"}

	if err := MissingCodes([]string{"GM", "STAFF"}, found); err != nil {
		t.Errorf("MissingCodes() unexpected error: %v", err)
	}
	err := MissingCodes([]string{"GM", "CFO"}, found)
	if !errors.Is(err, errors.ErrCodeConfiguration) {
		t.Errorf("MissingCodes() error = %v, want CONFIGURATION", err)
	}
}

func TestStatusPredicates(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
		assignee bool
	}{
		{StatusPendingReview, false, true},
		{StatusPendingApproval, false, true},
		{StatusNeedsRevision, false, true},
		{StatusApproved, true, false},
		{StatusRejected, true, false},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("%s.IsTerminal() = %v", tt.status, got)
		}
		if got := tt.status.HasAssignee(); got != tt.assignee {
			t.Errorf("%s.HasAssignee() = %v", tt.status, got)
		}
	}
	if Decision("MAYBE").IsValid() || !DecisionRequestRevision.IsValid() {
		t.Error("Decision.IsValid() mismatch")
	}
	if StepKind("SIGN").IsValid() || !StepReview.IsValid() {
		t.Error("StepKind.IsValid() mismatch")
	}
}

func TestIsUUID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"6f1c2b1e-8a3d-4c1e-9a57-1d2e3f405a6b", true},
		{"abc", false},
		{"", false},
		{"6f1c2b1e-8a3d-4c1e-9a57-1d2e3f405a6", false},
		{"1; DROP TABLE procurement_letters", false},
	}
	for _, tt := range tests {
		if got := IsUUID(tt.id); got != tt.want {
			t.Errorf("IsUUID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestInboxFilterSearchAmount(t *testing.T) {
	tests := []struct {
		search string
		want   int64
		ok     bool
	}{
		{"1500000", 1_500_000, true},
		{"PO-2024", 0, false},
		{"15.5", 0, false},
		{"0", 0, false},
		{"-5", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := InboxFilter{Search: tt.search}.SearchAmount()
		if got != tt.want || ok != tt.ok {
			t.Errorf("SearchAmount(%q) = %d, %v; want %d, %v", tt.search, got, ok, tt.want, tt.ok)
		}
	}
}
