// Package engine is the editorial workflow core: status transitions, decision
// letters, production cycles and the publish gate. It authorizes against a
// resolved (user, roles) pair and never authenticates.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"scholarflow/internal/audit"
	"scholarflow/internal/config"
	"scholarflow/internal/domain"
	"scholarflow/internal/fault"
	"scholarflow/internal/notify"
	"scholarflow/internal/policy"
	"scholarflow/internal/repo"
	"scholarflow/internal/scope"
	"scholarflow/internal/status"
	"scholarflow/internal/storage"
)

// Principal is the resolved identity attached to every workflow request.
type Principal struct {
	UserID string
	Roles  []string
}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Audit    audit.Writer
	Storage  storage.Store
	Notify   notify.Sink
	Scope    scope.Resolver
	Policy   policy.Matrix
	Statuses status.Model
	Config   *config.Config
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config, store storage.Store) Engine {
	r := repo.Repo{DB: db}
	matrix := policy.Default()
	return Engine{
		DB:      db,
		Repo:    r,
		Audit:   audit.Writer{DB: db},
		Storage: store,
		Notify:  notify.RowSink{Repo: r},
		Scope: scope.Resolver{
			Repo:    r,
			Policy:  matrix,
			Enforce: cfg.Access.ScopeEnforcement,
		},
		Policy:   matrix,
		Statuses: cfg.StatusModel(),
		Config:   cfg,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) requireCapability(action string, actor Principal) error {
	if !e.Policy.CanPerform(action, actor.Roles) {
		return fault.Forbiddenf("role set %v lacks %s", actor.Roles, action)
	}
	return nil
}

// isInternal reports whether the actor holds any staff role at all.
func (e Engine) isInternal(actor Principal) bool {
	for _, role := range actor.Roles {
		switch role {
		case policy.RoleAdmin, policy.RoleEditorInChief, policy.RoleManagingEditor,
			policy.RoleAssistantEditor, policy.RoleLayoutEditor:
			return true
		}
	}
	return false
}

// isBoundEditor reports whether the actor is the manuscript's bound editor,
// assistant editor or owner.
func isBoundEditor(m domain.Manuscript, userID string) bool {
	for _, ref := range []*string{m.EditorID, m.AssistantEditorID, m.OwnerID} {
		if ref != nil && *ref == userID {
			return true
		}
	}
	return false
}

// GetManuscript applies visibility rules: authors see their own submissions,
// staff go through the journal scope check.
func (e Engine) GetManuscript(ctx context.Context, id string, actor Principal) (domain.Manuscript, error) {
	m, err := e.Repo.GetManuscript(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Manuscript{}, fault.NotFoundf("manuscript %s not found", id)
		}
		return domain.Manuscript{}, err
	}
	if m.AuthorID == actor.UserID {
		return m, nil
	}
	if !e.isInternal(actor) {
		return domain.Manuscript{}, fault.Forbiddenf("manuscript %s is not yours", id)
	}
	if _, err := e.Scope.EnsureManuscriptScopeAccess(ctx, id, actor.UserID, actor.Roles, true); err != nil {
		return domain.Manuscript{}, err
	}
	return m, nil
}

// ListManuscripts filters by journal scope for staff; external callers only
// ever see their own submissions.
func (e Engine) ListManuscripts(ctx context.Context, f repo.ManuscriptFilters, actor Principal) ([]domain.Manuscript, error) {
	if !e.isInternal(actor) {
		f.AuthorID = actor.UserID
	}
	rows, err := e.Repo.ListManuscripts(ctx, f)
	if err != nil {
		return nil, err
	}
	return scope.FilterRowsByJournalScope(ctx, e.Scope, rows, actor.UserID, actor.Roles, func(m domain.Manuscript) string {
		if m.JournalID == nil {
			return ""
		}
		return *m.JournalID
	}, true)
}

// AllowedTransitions returns the targets reachable from the manuscript's
// normalized status, for capability hints.
func (e Engine) AllowedTransitions(ctx context.Context, id string, actor Principal) ([]string, error) {
	m, err := e.GetManuscript(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	current, ok := e.Statuses.Normalize(m.Status)
	if !ok {
		return nil, nil
	}
	return e.Statuses.AllowedNext(current), nil
}

// TransitionLogs returns the audit trail for a manuscript, newest first.
func (e Engine) TransitionLogs(ctx context.Context, manuscriptID string, limit int, actor Principal) ([]domain.StatusTransitionLog, error) {
	if err := e.requireCapability(policy.CapAuditRead, actor); err != nil {
		return nil, err
	}
	if _, err := e.Scope.EnsureManuscriptScopeAccess(ctx, manuscriptID, actor.UserID, actor.Roles, true); err != nil {
		return nil, err
	}
	return e.Repo.ListTransitionLogs(ctx, manuscriptID, limit)
}

// StatusUpdateOptions are parameters for UpdateStatus.
type StatusUpdateOptions struct {
	ManuscriptID string
	ToStatus     string
	Actor        Principal
	Comment      string
	// AllowSkip permits a transition outside the adjacency map. It only
	// takes effect when the actor holds the wildcard capability.
	AllowSkip bool
}

// UpdateStatus applies one lifecycle transition. The audit row is appended
// after commit and its failure never rolls back the transition.
func (e Engine) UpdateStatus(ctx context.Context, opts StatusUpdateOptions) (domain.Manuscript, error) {
	if err := e.requireCapability(policy.CapManuscriptUpdateStatus, opts.Actor); err != nil {
		return domain.Manuscript{}, err
	}
	target, ok := e.Statuses.Normalize(opts.ToStatus)
	if !ok {
		return domain.Manuscript{}, fault.Validationf("unknown target status %q", opts.ToStatus)
	}
	if _, err := e.Scope.EnsureManuscriptScopeAccess(ctx, opts.ManuscriptID, opts.Actor.UserID, opts.Actor.Roles, true); err != nil {
		return domain.Manuscript{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Manuscript{}, err
	}
	defer tx.Rollback()

	m, err := e.Repo.GetManuscriptTx(ctx, tx, opts.ManuscriptID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Manuscript{}, fault.NotFoundf("manuscript %s not found", opts.ManuscriptID)
		}
		return domain.Manuscript{}, err
	}
	rawStatus := m.Status
	current, ok := e.Statuses.Normalize(rawStatus)
	if !ok {
		return domain.Manuscript{}, fault.Conflictf("manuscript %s has unrecognized status %q", m.ID, rawStatus)
	}

	override := false
	if !e.Statuses.IsAllowed(current, target) {
		if !(opts.AllowSkip && e.Policy.HasWildcard(opts.Actor.Roles)) {
			return domain.Manuscript{}, fault.Conflictf("transition %s -> %s is not allowed", current, target)
		}
		override = true
	}

	payload := audit.Payload{}
	if override {
		payload["override"] = true
	}
	if target == status.Published {
		doi, err := e.checkPublishGates(ctx, m, rawStatus)
		if err != nil {
			return domain.Manuscript{}, err
		}
		now := e.nowRFC3339()
		m.DOI = &doi
		m.PublishedAt = &now
		payload["doi"] = doi
	}

	m.Status = target
	if current == status.PreCheck && target != status.PreCheck {
		m.PreCheckStatus = nil
	}
	if target == status.Resubmitted {
		m.Version++
		payload["version"] = m.Version
	}
	m.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateManuscript(ctx, tx, m); err != nil {
		return domain.Manuscript{}, fmt.Errorf("update manuscript: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Manuscript{}, err
	}

	e.Audit.BestEffortAppend(ctx, audit.Entry{
		ManuscriptID: m.ID,
		FromStatus:   current,
		ToStatus:     target,
		ActorID:      opts.Actor.UserID,
		Comment:      opts.Comment,
		Payload:      payload,
	})
	return m, nil
}

// InvoiceUpdateOptions mutate billing details without implying a lifecycle
// transition.
type InvoiceUpdateOptions struct {
	ManuscriptID string
	Actor        Principal
	// AmountCents overrides the APC; requires invoice:override_apc.
	AmountCents   *int64
	InvoiceStatus string
	MarkConfirmed bool
	// Metadata replaces the manuscript's free-form invoice metadata.
	Metadata string
	Comment  string
}

func validInvoiceStatus(s string) bool {
	switch s {
	case "unpaid", "paid", "waived":
		return true
	}
	return false
}

// UpdateInvoiceInfo corrects invoice state and manuscript billing metadata,
// writing a before/after audit payload distinct from a status change.
func (e Engine) UpdateInvoiceInfo(ctx context.Context, opts InvoiceUpdateOptions) (domain.Invoice, error) {
	if err := e.requireCapability(policy.CapInvoiceUpdate, opts.Actor); err != nil {
		return domain.Invoice{}, err
	}
	if opts.AmountCents != nil {
		if *opts.AmountCents < 0 {
			return domain.Invoice{}, fault.Validationf("amount_cents must not be negative")
		}
		if err := e.requireCapability(policy.CapInvoiceOverrideAPC, opts.Actor); err != nil {
			return domain.Invoice{}, err
		}
	}
	if opts.InvoiceStatus != "" && !validInvoiceStatus(opts.InvoiceStatus) {
		return domain.Invoice{}, fault.Validationf("invalid invoice status %q", opts.InvoiceStatus)
	}
	if _, err := e.Scope.EnsureManuscriptScopeAccess(ctx, opts.ManuscriptID, opts.Actor.UserID, opts.Actor.Roles, true); err != nil {
		return domain.Invoice{}, err
	}

	inv, err := e.Repo.LatestInvoice(ctx, opts.ManuscriptID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Invoice{}, fault.NotFoundf("no invoice for manuscript %s", opts.ManuscriptID)
		}
		return domain.Invoice{}, err
	}
	before := audit.Payload{"amount_cents": inv.AmountCents, "status": inv.Status}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Invoice{}, err
	}
	defer tx.Rollback()

	if opts.AmountCents != nil {
		inv.AmountCents = *opts.AmountCents
	}
	if opts.InvoiceStatus != "" {
		inv.Status = opts.InvoiceStatus
	}
	if opts.MarkConfirmed && inv.ConfirmedAt == nil {
		now := e.nowRFC3339()
		inv.ConfirmedAt = &now
	}
	if err := e.Repo.UpdateInvoice(ctx, tx, inv); err != nil {
		return domain.Invoice{}, fmt.Errorf("update invoice: %w", err)
	}

	m, err := e.Repo.GetManuscriptTx(ctx, tx, opts.ManuscriptID)
	if err != nil {
		return domain.Invoice{}, err
	}
	if opts.Metadata != "" {
		m.InvoiceMetaJSON = &opts.Metadata
		m.UpdatedAt = e.nowRFC3339()
		if err := e.Repo.UpdateManuscript(ctx, tx, m); err != nil {
			return domain.Invoice{}, fmt.Errorf("update manuscript metadata: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Invoice{}, err
	}

	e.Audit.BestEffortAppend(ctx, audit.Entry{
		ManuscriptID: m.ID,
		FromStatus:   m.Status,
		ToStatus:     m.Status,
		ActorID:      opts.Actor.UserID,
		Comment:      opts.Comment,
		Payload: audit.Payload{
			"action": "invoice_update",
			"before": before,
			"after":  audit.Payload{"amount_cents": inv.AmountCents, "status": inv.Status},
		},
	})
	return inv, nil
}
