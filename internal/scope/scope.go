// Package scope decides which journals a staff member may act on. Detail
// checks (EnsureManuscriptScopeAccess) and bulk listings
// (FilterRowsByJournalScope) funnel through the same resolution path so the
// two surfaces cannot drift apart.
package scope

import (
	"context"
	"errors"

	"scholarflow/internal/fault"
	"scholarflow/internal/policy"
	"scholarflow/internal/repo"
)

// Roles that carry journal scope rows at all.
var scopeEligible = map[string]bool{
	policy.RoleManagingEditor:  true,
	policy.RoleAssistantEditor: true,
	policy.RoleEditorInChief:   true,
}

// Roles scope-checked even when deployment-wide enforcement is off.
var alwaysStrict = map[string]bool{
	policy.RoleManagingEditor: true,
	policy.RoleEditorInChief:  true,
}

type Resolver struct {
	Repo   repo.Repo
	Policy policy.Matrix
	// Enforce is the deployment-wide toggle from config.
	Enforce bool
}

// EnforcementEnabled reports the deployment-wide toggle.
func (r Resolver) EnforcementEnabled() bool { return r.Enforce }

func (r Resolver) eligibleRoles(roles []string) []string {
	var out []string
	for _, role := range roles {
		if scopeEligible[role] {
			out = append(out, role)
		}
	}
	return out
}

func (r Resolver) enforcedFor(roles []string) bool {
	for _, role := range roles {
		if alwaysStrict[role] {
			return true
		}
		if r.Enforce && scopeEligible[role] {
			return true
		}
	}
	return false
}

// UserScopeJournalIDs returns the journals the caller may act on. For a
// wildcard caller the result is empty meaning "unrestricted", not "no
// access"; callers must branch on the role, not on emptiness. An absent
// scope table also yields an empty set, which callers must treat as "no
// restriction enforced" so a half-migrated environment is not bricked.
func (r Resolver) UserScopeJournalIDs(ctx context.Context, userID string, roles []string) ([]string, error) {
	if r.Policy.HasWildcard(roles) {
		return nil, nil
	}
	eligible := r.eligibleRoles(roles)
	if len(eligible) == 0 {
		return nil, nil
	}
	ids, err := r.Repo.ActiveScopeJournalIDs(ctx, userID, eligible)
	if err != nil {
		if repo.IsSchemaMissing(err) {
			return nil, nil
		}
		return nil, err
	}
	return ids, nil
}

// resolve returns the caller's scope set and whether it must be applied.
func (r Resolver) resolve(ctx context.Context, userID string, roles []string, allowAdminBypass bool) (map[string]bool, bool, error) {
	// Admin bypass while enforcement is on is preserved from the observed
	// behavior; flagged for product confirmation rather than tightened.
	if allowAdminBypass && r.Policy.HasWildcard(roles) {
		return nil, false, nil
	}
	if !r.enforcedFor(roles) {
		return nil, false, nil
	}
	eligible := r.eligibleRoles(roles)
	ids, err := r.Repo.ActiveScopeJournalIDs(ctx, userID, eligible)
	if err != nil {
		if repo.IsSchemaMissing(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, true, nil
}

// EnsureManuscriptScopeAccess resolves the manuscript's journal and requires
// it to be inside the caller's scope. A scope failure is Forbidden, never
// NotFound: "exists but you can't see it" stays distinguishable here.
func (r Resolver) EnsureManuscriptScopeAccess(ctx context.Context, manuscriptID, userID string, roles []string, allowAdminBypass bool) (string, error) {
	m, err := r.Repo.GetManuscript(ctx, manuscriptID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", fault.NotFoundf("manuscript %s not found", manuscriptID)
		}
		return "", err
	}
	journalID := ""
	if m.JournalID != nil {
		journalID = *m.JournalID
	}
	set, apply, err := r.resolve(ctx, userID, roles, allowAdminBypass)
	if err != nil {
		return "", err
	}
	if !apply || journalID == "" {
		return journalID, nil
	}
	if !set[journalID] {
		return "", fault.Forbiddenf("journal %s outside caller scope", journalID)
	}
	return journalID, nil
}

// FilterRowsByJournalScope drops rows whose journal is outside the caller's
// scope set. Wildcard callers and disabled enforcement pass everything
// through unfiltered. Rows without a journal binding are kept.
func FilterRowsByJournalScope[T any](ctx context.Context, r Resolver, rows []T, userID string, roles []string, journalOf func(T) string, allowAdminBypass bool) ([]T, error) {
	set, apply, err := r.resolve(ctx, userID, roles, allowAdminBypass)
	if err != nil {
		return nil, err
	}
	if !apply {
		return rows, nil
	}
	out := rows[:0:0]
	for _, row := range rows {
		jid := journalOf(row)
		if jid == "" || set[jid] {
			out = append(out, row)
		}
	}
	return out, nil
}
