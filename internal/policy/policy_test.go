package policy_test

import (
	"testing"

	"scholarflow/internal/policy"
)

func TestWildcardSatisfiesEverything(t *testing.T) {
	m := policy.Default()
	actions := []string{
		policy.CapManuscriptUpdateStatus,
		policy.CapDecisionSubmitFinal,
		policy.CapInvoiceOverrideAPC,
		policy.CapScopeManage,
		"made:up_token",
	}
	for _, action := range actions {
		if !m.CanPerform(action, []string{policy.RoleAdmin}) {
			t.Fatalf("admin should satisfy %s", action)
		}
	}
}

func TestFinalDecisionRestricted(t *testing.T) {
	m := policy.Default()
	if !m.CanPerform(policy.CapDecisionSubmitFinal, []string{policy.RoleEditorInChief}) {
		t.Fatalf("editor_in_chief should submit final decisions")
	}
	for _, role := range []string{policy.RoleManagingEditor, policy.RoleAssistantEditor, policy.RoleLayoutEditor, policy.RoleAuthor} {
		if m.CanPerform(policy.CapDecisionSubmitFinal, []string{role}) {
			t.Fatalf("%s should not submit final decisions", role)
		}
	}
}

func TestCanPerformMonotone(t *testing.T) {
	m := policy.Default()
	base := []string{policy.RoleAssistantEditor}
	grown := append([]string{policy.RoleManagingEditor}, base...)
	for token := range m.ListAllowed(base) {
		if !m.CanPerform(token, grown) {
			t.Fatalf("adding a role removed capability %s", token)
		}
	}
}

func TestListAllowedUnionAndCollapse(t *testing.T) {
	m := policy.Default()
	union := m.ListAllowed([]string{policy.RoleAssistantEditor, policy.RoleLayoutEditor})
	if !union.Has(policy.CapDecisionRecordFirst) || !union.Has(policy.CapProductionUploadGalley) {
		t.Fatalf("union missing tokens: %v", union)
	}
	collapsed := m.ListAllowed([]string{policy.RoleAssistantEditor, policy.RoleAdmin})
	if len(collapsed) != 1 || !collapsed[policy.Wildcard] {
		t.Fatalf("wildcard should collapse to itself, got %v", collapsed)
	}
	if !collapsed.Has(policy.CapInvoiceOverrideAPC) {
		t.Fatalf("collapsed set should still satisfy any token")
	}
}

// Every action the workflow dispatches must have at least one authorized
// non-admin role, except tokens reserved for the wildcard.
func TestMatrixTotality(t *testing.T) {
	m := policy.Default()
	staff := []string{
		policy.RoleEditorInChief,
		policy.RoleManagingEditor,
		policy.RoleAssistantEditor,
		policy.RoleLayoutEditor,
	}
	actions := []string{
		policy.CapManuscriptUpdateStatus,
		policy.CapManuscriptBindOwner,
		policy.CapManuscriptPublish,
		policy.CapDecisionRecordFirst,
		policy.CapDecisionSubmitFinal,
		policy.CapInvoiceUpdate,
		policy.CapInvoiceOverrideAPC,
		policy.CapProductionCreateCycle,
		policy.CapProductionUploadGalley,
		policy.CapProductionApprove,
		policy.CapProductionCancel,
		policy.CapAuditRead,
	}
	for _, action := range actions {
		if !m.CanPerform(action, staff) {
			t.Fatalf("no staff role authorizes %s", action)
		}
	}
	// scope management is deliberately wildcard-only
	if m.CanPerform(policy.CapScopeManage, staff) {
		t.Fatalf("scope:manage should require admin")
	}
}

func TestEmptyRoles(t *testing.T) {
	m := policy.Default()
	if m.CanPerform(policy.CapManuscriptUpdateStatus, nil) {
		t.Fatalf("no roles should grant nothing")
	}
	if set := m.ListAllowed([]string{policy.RoleAuthor}); len(set) != 0 {
		t.Fatalf("author should hold no workflow tokens, got %v", set)
	}
}
