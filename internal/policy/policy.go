// Package policy maps staff roles to capability tokens. The matrix is the
// single source of truth for role checks; no role inherits from another, and
// totality (every action used in the workflow has at least one authorized
// role) is enforced by test coverage.
package policy

// Staff roles known to the workflow.
const (
	RoleAdmin           = "admin"
	RoleEditorInChief   = "editor_in_chief"
	RoleManagingEditor  = "managing_editor"
	RoleAssistantEditor = "assistant_editor"
	RoleLayoutEditor    = "layout_editor"
	RoleAuthor          = "author"
	RoleReviewer        = "reviewer"
)

// Wildcard satisfies every capability check. It is the single code path for
// admin bypass; individual checks must not special-case the admin role.
const Wildcard = "*"

// Capability tokens.
const (
	CapManuscriptUpdateStatus = "manuscript:update_status"
	CapManuscriptBindOwner    = "manuscript:bind_owner"
	CapManuscriptPublish      = "manuscript:publish"
	CapDecisionRecordFirst    = "decision:record_first"
	CapDecisionSubmitFinal    = "decision:submit_final"
	CapInvoiceUpdate          = "invoice:update"
	CapInvoiceOverrideAPC     = "invoice:override_apc"
	CapProductionCreateCycle  = "production:create_cycle"
	CapProductionUploadGalley = "production:upload_galley"
	CapProductionApprove      = "production:approve"
	CapProductionCancel       = "production:cancel"
	CapAuditRead              = "audit:read"
	CapScopeManage            = "scope:manage"
)

// CapabilitySet is a resolved set of tokens.
type CapabilitySet map[string]bool

func (s CapabilitySet) Has(capability string) bool {
	return s[Wildcard] || s[capability]
}

// Matrix is the injectable role-action table. Treat instances as read-only
// after construction.
type Matrix struct {
	Roles map[string][]string
}

// Default returns the production matrix.
func Default() Matrix {
	return Matrix{Roles: map[string][]string{
		RoleAdmin: {Wildcard},
		RoleEditorInChief: {
			CapManuscriptUpdateStatus,
			CapManuscriptBindOwner,
			CapManuscriptPublish,
			CapDecisionRecordFirst,
			CapDecisionSubmitFinal,
			CapInvoiceUpdate,
			CapProductionCreateCycle,
			CapProductionApprove,
			CapProductionCancel,
			CapAuditRead,
		},
		RoleManagingEditor: {
			CapManuscriptUpdateStatus,
			CapManuscriptBindOwner,
			CapDecisionRecordFirst,
			CapInvoiceUpdate,
			CapInvoiceOverrideAPC,
			CapProductionCreateCycle,
			CapProductionUploadGalley,
			CapProductionApprove,
			CapProductionCancel,
			CapAuditRead,
		},
		RoleAssistantEditor: {
			CapManuscriptUpdateStatus,
			CapDecisionRecordFirst,
			CapAuditRead,
		},
		RoleLayoutEditor: {
			CapProductionCreateCycle,
			CapProductionUploadGalley,
			CapProductionCancel,
		},
		RoleAuthor:   {},
		RoleReviewer: {},
	}}
}

// CanPerform reports whether any of the given roles grants the action,
// either through the wildcard or the specific token.
func (m Matrix) CanPerform(action string, roles []string) bool {
	for _, role := range roles {
		for _, token := range m.Roles[role] {
			if token == Wildcard || token == action {
				return true
			}
		}
	}
	return false
}

// HasWildcard reports whether any role carries the wildcard token.
func (m Matrix) HasWildcard(roles []string) bool {
	return m.CanPerform(Wildcard, roles)
}

// ListAllowed returns the union of tokens across roles, used for front-end
// capability hints. A wildcard collapses the result to the wildcard alone.
func (m Matrix) ListAllowed(roles []string) CapabilitySet {
	set := make(CapabilitySet)
	for _, role := range roles {
		for _, token := range m.Roles[role] {
			if token == Wildcard {
				return CapabilitySet{Wildcard: true}
			}
			set[token] = true
		}
	}
	return set
}
