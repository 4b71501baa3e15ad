package workflow

import (
	"errors"
	"testing"
)

// expected mirrors the documented transition table row by row. The sweep
// below checks every other (status, role, action) triple is rejected.
var expected = map[[3]string]Status{
	{"Needs Factual Review", "Junior Marketer", "Approve"}:         StatusNeedsBrandReview,
	{"Needs Factual Review", "Junior Marketer", "Request Changes"}: StatusChangesRequestedFactual,
	{"Needs Brand Review", "Senior Editor", "Approve"}:             StatusApproved,
	{"Needs Brand Review", "Senior Editor", "Request Changes"}:     StatusChangesRequestedBrand,
	{"Needs Brand Review", "Senior Editor", "Reject"}:              StatusRejected,
	{"Changes Requested (Factual)", "Content Creator", "Resubmit"}: StatusNeedsFactualReview,
	{"Changes Requested (Brand)", "Content Creator", "Resubmit"}:   StatusNeedsFactualReview,
}

func TestApplyFullCube(t *testing.T) {
	for _, status := range Statuses {
		for _, role := range Roles {
			for _, action := range Actions {
				next, err := Apply(status, role, action)
				want, ok := expected[[3]string{string(status), string(role), string(action)}]
				if !ok {
					if !errors.Is(err, ErrInvalidTransition) {
						t.Fatalf("Apply(%q,%q,%q): want ErrInvalidTransition, got next=%q err=%v",
							status, role, action, next, err)
					}
					continue
				}
				if err != nil {
					t.Fatalf("Apply(%q,%q,%q): unexpected error %v", status, role, action, err)
				}
				if next != want {
					t.Fatalf("Apply(%q,%q,%q)=%q, want %q", status, role, action, next, want)
				}
			}
		}
	}
}

func TestApplyIsPure(t *testing.T) {
	for i := 0; i < 3; i++ {
		next, err := Apply(StatusNeedsFactualReview, RoleJuniorMarketer, ActionApprove)
		if err != nil || next != StatusNeedsBrandReview {
			t.Fatalf("call %d: got %q, %v", i, next, err)
		}
	}
}

func TestTerminalStatusesRejectEverything(t *testing.T) {
	for _, status := range []Status{StatusApproved, StatusRejected} {
		for _, role := range Roles {
			for _, action := range Actions {
				if _, err := Apply(status, role, action); !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("terminal %q accepted %s by %s", status, action, role)
				}
			}
		}
	}
}

func TestPermittedActionsMatchesTable(t *testing.T) {
	for _, status := range Statuses {
		for _, role := range Roles {
			permitted := PermittedActions(role, status)
			seen := make(map[Action]bool, len(permitted))
			for _, action := range permitted {
				seen[action] = true
				if _, err := Apply(status, role, action); err != nil {
					t.Fatalf("PermittedActions(%q,%q) lists %s but Apply rejects it", role, status, action)
				}
			}
			for _, action := range Actions {
				if seen[action] {
					continue
				}
				if _, err := Apply(status, role, action); err == nil {
					t.Fatalf("Apply(%q,%q,%q) succeeds but PermittedActions omits it", status, role, action)
				}
			}
		}
	}
}

func TestApprovedOnlyViaBrandReview(t *testing.T) {
	for _, status := range Statuses {
		for _, role := range Roles {
			for _, action := range Actions {
				next, err := Apply(status, role, action)
				if err != nil || next != StatusApproved {
					continue
				}
				if status != StatusNeedsBrandReview || role != RoleSeniorEditor || action != ActionApprove {
					t.Fatalf("Approved reachable via %s by %s on %q", action, role, status)
				}
			}
		}
	}
}

func TestCanEditDraft(t *testing.T) {
	cases := []struct {
		role   Role
		status Status
		want   bool
	}{
		{RoleContentCreator, StatusChangesRequestedFactual, true},
		{RoleContentCreator, StatusChangesRequestedBrand, true},
		{RoleJuniorMarketer, StatusNeedsFactualReview, true},
		{RoleSeniorEditor, StatusNeedsBrandReview, true},
		{RoleContentCreator, StatusNeedsFactualReview, false},
		{RoleJuniorMarketer, StatusNeedsBrandReview, false},
		{RoleSeniorEditor, StatusNeedsFactualReview, false},
		{RoleContentCreator, StatusApproved, false},
		{RoleSeniorEditor, StatusApproved, false},
		{RoleAdmin, StatusNeedsFactualReview, false},
		{RoleGuest, StatusNeedsFactualReview, false},
	}
	for _, tc := range cases {
		if got := CanEditDraft(tc.role, tc.status); got != tc.want {
			t.Fatalf("CanEditDraft(%q,%q)=%v, want %v", tc.role, tc.status, got, tc.want)
		}
	}
}

func TestParseRoleLegacyCasings(t *testing.T) {
	cases := map[string]Role{
		"Content Creator": RoleContentCreator,
		"creator":         RoleContentCreator,
		"CREATOR":         RoleContentCreator,
		"  Editor ":       RoleSeniorEditor,
		"approver":        RoleSeniorEditor,
		"reviewer":        RoleJuniorMarketer,
		"Junior Marketer": RoleJuniorMarketer,
		"admin":           RoleAdmin,
		"Admin":           RoleAdmin,
		"guest":           RoleGuest,
	}
	for raw, want := range cases {
		got, err := ParseRole(raw)
		if err != nil {
			t.Fatalf("ParseRole(%q): %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseRole(%q)=%q, want %q", raw, got, want)
		}
	}
	for _, raw := range []string{"", "   ", "intern", "superuser"} {
		if _, err := ParseRole(raw); !errors.Is(err, ErrUnknownRole) {
			t.Fatalf("ParseRole(%q): want ErrUnknownRole, got %v", raw, err)
		}
	}
}

func TestParseStatusAndAction(t *testing.T) {
	if s, err := ParseStatus("Needs Brand Review"); err != nil || s != StatusNeedsBrandReview {
		t.Fatalf("ParseStatus: %q, %v", s, err)
	}
	if _, err := ParseStatus("Under Review"); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("want ErrUnknownStatus, got %v", err)
	}
	if a, err := ParseAction("request changes"); err != nil || a != ActionRequestChanges {
		t.Fatalf("ParseAction: %q, %v", a, err)
	}
	if _, err := ParseAction("Delete"); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("want ErrUnknownAction, got %v", err)
	}
}
