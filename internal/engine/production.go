package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"scholarflow/internal/audit"
	"scholarflow/internal/domain"
	"scholarflow/internal/fault"
	"scholarflow/internal/notify"
	"scholarflow/internal/policy"
	"scholarflow/internal/repo"
	"scholarflow/internal/status"
)

// Production cycle states. approved_for_publish and cancelled are terminal.
const (
	CycleDraft                = "draft"
	CycleAwaitingAuthor       = "awaiting_author"
	CycleCorrectionsSubmitted = "author_corrections_submitted"
	CycleAuthorConfirmed      = "author_confirmed"
	CycleInLayoutRevision     = "in_layout_revision"
	CycleApprovedForPublish   = "approved_for_publish"
	CycleCancelled            = "cancelled"
)

func cycleTerminal(s string) bool {
	return s == CycleApprovedForPublish || s == CycleCancelled
}

// hasEditorAccess is the approval-side check: assignment binding or an
// elevated role, with the wildcard as the single bypass path.
func (e Engine) hasEditorAccess(m domain.Manuscript, actor Principal) bool {
	if e.Policy.HasWildcard(actor.Roles) {
		return true
	}
	if isBoundEditor(m, actor.UserID) {
		return true
	}
	for _, role := range actor.Roles {
		if role == policy.RoleEditorInChief {
			return true
		}
	}
	return false
}

// isCycleParticipant covers the external side: the manuscript's author or
// the cycle's assigned proofreader.
func isCycleParticipant(m domain.Manuscript, c domain.ProductionCycle, userID string) bool {
	if m.AuthorID == userID {
		return true
	}
	return c.ProofreaderID != nil && *c.ProofreaderID == userID
}

func (e Engine) loadCycle(ctx context.Context, cycleID string) (domain.ProductionCycle, domain.Manuscript, error) {
	c, err := e.Repo.GetCycle(ctx, cycleID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.ProductionCycle{}, domain.Manuscript{}, fault.NotFoundf("production cycle %s not found", cycleID)
		}
		return domain.ProductionCycle{}, domain.Manuscript{}, err
	}
	m, err := e.Repo.GetManuscript(ctx, c.ManuscriptID)
	if err != nil {
		return domain.ProductionCycle{}, domain.Manuscript{}, err
	}
	return c, m, nil
}

func (e Engine) saveCycle(ctx context.Context, c domain.ProductionCycle) (domain.ProductionCycle, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProductionCycle{}, err
	}
	defer tx.Rollback()
	c.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateCycle(ctx, tx, c); err != nil {
		return domain.ProductionCycle{}, fmt.Errorf("update cycle: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.ProductionCycle{}, err
	}
	return c, nil
}

// CycleCreateOptions are parameters for CreateCycle.
type CycleCreateOptions struct {
	ManuscriptID  string
	Actor         Principal
	ProofreaderID string
	DueDate       string
}

// CreateCycle opens a new production cycle. Cycles are only legal while the
// manuscript sits in the post-acceptance set, and at most one cycle may be
// active per manuscript. The pre-insert active check can race with a
// concurrent creation; a resulting double-active cycle is resolved by a
// follow-up reconciliation, not prevented by a store constraint.
func (e Engine) CreateCycle(ctx context.Context, opts CycleCreateOptions) (domain.ProductionCycle, error) {
	if err := e.requireCapability(policy.CapProductionCreateCycle, opts.Actor); err != nil {
		return domain.ProductionCycle{}, err
	}
	if _, err := e.Scope.EnsureManuscriptScopeAccess(ctx, opts.ManuscriptID, opts.Actor.UserID, opts.Actor.Roles, true); err != nil {
		return domain.ProductionCycle{}, err
	}
	m, err := e.Repo.GetManuscript(ctx, opts.ManuscriptID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.ProductionCycle{}, fault.NotFoundf("manuscript %s not found", opts.ManuscriptID)
		}
		return domain.ProductionCycle{}, err
	}
	current, ok := e.Statuses.Normalize(m.Status)
	if !ok || !status.IsPostAcceptance(current) {
		return domain.ProductionCycle{}, fault.Unprocessablef("manuscript %s is %s, production requires the post-acceptance set", m.ID, m.Status)
	}
	if active, err := e.Repo.ActiveCycle(ctx, opts.ManuscriptID); err == nil {
		return domain.ProductionCycle{}, fault.Conflictf("cycle %d is still active for manuscript %s", active.CycleNo, m.ID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.ProductionCycle{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProductionCycle{}, err
	}
	defer tx.Rollback()

	no, err := e.Repo.NextCycleNo(ctx, tx, opts.ManuscriptID)
	if err != nil {
		return domain.ProductionCycle{}, err
	}
	now := e.nowRFC3339()
	c := domain.ProductionCycle{
		ID:             uuid.New().String(),
		ManuscriptID:   opts.ManuscriptID,
		CycleNo:        no,
		Status:         CycleDraft,
		LayoutEditorID: opts.Actor.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if opts.ProofreaderID != "" {
		c.ProofreaderID = &opts.ProofreaderID
	}
	if opts.DueDate != "" {
		c.DueDate = &opts.DueDate
	}
	if err := e.Repo.InsertCycle(ctx, tx, c); err != nil {
		return domain.ProductionCycle{}, fmt.Errorf("insert cycle: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.ProductionCycle{}, err
	}
	return c, nil
}

// GalleyUploadOptions are parameters for UploadGalley.
type GalleyUploadOptions struct {
	CycleID     string
	Actor       Principal
	Filename    string
	ContentType string
	Data        []byte
}

// UploadGalley stores a new galley and hands the cycle to the author.
func (e Engine) UploadGalley(ctx context.Context, opts GalleyUploadOptions) (domain.ProductionCycle, error) {
	if err := e.requireCapability(policy.CapProductionUploadGalley, opts.Actor); err != nil {
		return domain.ProductionCycle{}, err
	}
	if opts.Filename == "" {
		return domain.ProductionCycle{}, fault.Validationf("filename is required")
	}
	c, m, err := e.loadCycle(ctx, opts.CycleID)
	if err != nil {
		return domain.ProductionCycle{}, err
	}
	if _, err := e.Scope.EnsureManuscriptScopeAccess(ctx, m.ID, opts.Actor.UserID, opts.Actor.Roles, true); err != nil {
		return domain.ProductionCycle{}, err
	}
	if c.Status != CycleDraft && c.Status != CycleInLayoutRevision {
		return domain.ProductionCycle{}, fault.Conflictf("cycle %d is %s, galley upload requires draft or in_layout_revision", c.CycleNo, c.Status)
	}

	path := fmt.Sprintf("manuscripts/%s/production/cycle-%d/%s", m.ID, c.CycleNo, opts.Filename)
	if err := e.Storage.Upload(ctx, opts.Data, path, opts.ContentType); err != nil {
		return domain.ProductionCycle{}, fmt.Errorf("upload galley: %w", err)
	}
	c.GalleyPath = &path
	c.Status = CycleAwaitingAuthor
	c, err = e.saveCycle(ctx, c)
	if err != nil {
		return domain.ProductionCycle{}, err
	}
	e.Notify.Create(ctx, notify.Notification{
		UserID:       m.AuthorID,
		ManuscriptID: m.ID,
		Type:         "production.galley_ready",
		Title:        "Galley ready for proofreading",
		Content:      fmt.Sprintf("A new galley for %q awaits your corrections.", m.Title),
	})
	return c, nil
}

// SubmitCorrections records that the author returned correction items.
func (e Engine) SubmitCorrections(ctx context.Context, cycleID string, actor Principal) (domain.ProductionCycle, error) {
	c, m, err := e.loadCycle(ctx, cycleID)
	if err != nil {
		return domain.ProductionCycle{}, err
	}
	if !isCycleParticipant(m, c, actor.UserID) {
		return domain.ProductionCycle{}, fault.Forbiddenf("cycle %d is not assigned to you", c.CycleNo)
	}
	if c.Status != CycleAwaitingAuthor {
		return domain.ProductionCycle{}, fault.Conflictf("cycle %d is %s, corrections require awaiting_author", c.CycleNo, c.Status)
	}
	c.Status = CycleCorrectionsSubmitted
	c, err = e.saveCycle(ctx, c)
	if err != nil {
		return domain.ProductionCycle{}, err
	}
	e.Notify.Create(ctx, notify.Notification{
		UserID:       c.LayoutEditorID,
		ManuscriptID: m.ID,
		Type:         "production.corrections",
		Title:        "Author corrections submitted",
		Content:      fmt.Sprintf("Corrections for %q cycle %d need a new galley pass.", m.Title, c.CycleNo),
	})
	return c, nil
}

// ConfirmClean records the author's confirmation that the galley is clean.
func (e Engine) ConfirmClean(ctx context.Context, cycleID string, actor Principal) (domain.ProductionCycle, error) {
	c, m, err := e.loadCycle(ctx, cycleID)
	if err != nil {
		return domain.ProductionCycle{}, err
	}
	if !isCycleParticipant(m, c, actor.UserID) {
		return domain.ProductionCycle{}, fault.Forbiddenf("cycle %d is not assigned to you", c.CycleNo)
	}
	if c.Status != CycleAwaitingAuthor {
		return domain.ProductionCycle{}, fault.Conflictf("cycle %d is %s, confirmation requires awaiting_author", c.CycleNo, c.Status)
	}
	c.Status = CycleAuthorConfirmed
	return e.saveCycle(ctx, c)
}

// StartRevision reopens the layout pass after author corrections.
func (e Engine) StartRevision(ctx context.Context, cycleID string, actor Principal) (domain.ProductionCycle, error) {
	if err := e.requireCapability(policy.CapProductionUploadGalley, actor); err != nil {
		return domain.ProductionCycle{}, err
	}
	c, m, err := e.loadCycle(ctx, cycleID)
	if err != nil {
		return domain.ProductionCycle{}, err
	}
	if _, err := e.Scope.EnsureManuscriptScopeAccess(ctx, m.ID, actor.UserID, actor.Roles, true); err != nil {
		return domain.ProductionCycle{}, err
	}
	if c.Status != CycleCorrectionsSubmitted {
		return domain.ProductionCycle{}, fault.Conflictf("cycle %d is %s, revision requires author_corrections_submitted", c.CycleNo, c.Status)
	}
	c.Status = CycleInLayoutRevision
	return e.saveCycle(ctx, c)
}

// ApproveCycle closes a cycle as approved_for_publish. Legal only from
// author_confirmed with a galley present. The approved galley path is copied
// onto the manuscript best-effort: a missing column degrades unless strict
// mode makes the absence a configuration error.
func (e Engine) ApproveCycle(ctx context.Context, cycleID string, actor Principal) (domain.ProductionCycle, error) {
	if err := e.requireCapability(policy.CapProductionApprove, actor); err != nil {
		return domain.ProductionCycle{}, err
	}
	c, m, err := e.loadCycle(ctx, cycleID)
	if err != nil {
		return domain.ProductionCycle{}, err
	}
	if _, err := e.Scope.EnsureManuscriptScopeAccess(ctx, m.ID, actor.UserID, actor.Roles, true); err != nil {
		return domain.ProductionCycle{}, err
	}
	if !e.hasEditorAccess(m, actor) {
		return domain.ProductionCycle{}, fault.Forbiddenf("approval requires an assignment binding or elevated role")
	}
	if c.Status != CycleAuthorConfirmed {
		return domain.ProductionCycle{}, fault.Unprocessablef("cycle %d is %s, approval requires author_confirmed", c.CycleNo, c.Status)
	}
	if c.GalleyPath == nil || *c.GalleyPath == "" {
		return domain.ProductionCycle{}, fault.Unprocessablef("cycle %d has no galley", c.CycleNo)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProductionCycle{}, err
	}
	defer tx.Rollback()

	now := e.nowRFC3339()
	c.Status = CycleApprovedForPublish
	c.ApprovedBy = &actor.UserID
	c.ApprovedAt = &now
	c.UpdatedAt = now
	if err := e.Repo.UpdateCycle(ctx, tx, c); err != nil {
		return domain.ProductionCycle{}, fmt.Errorf("approve cycle: %w", err)
	}
	if err := e.copyGalleyToManuscript(ctx, tx, m.ID, *c.GalleyPath, now); err != nil {
		return domain.ProductionCycle{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProductionCycle{}, err
	}

	e.Audit.BestEffortAppend(ctx, audit.Entry{
		ManuscriptID: m.ID,
		FromStatus:   m.Status,
		ToStatus:     m.Status,
		ActorID:      actor.UserID,
		Payload: audit.Payload{
			"action":   "production_approve",
			"cycle_no": c.CycleNo,
			"galley":   *c.GalleyPath,
		},
	})
	e.Notify.Create(ctx, notify.Notification{
		UserID:       m.AuthorID,
		ManuscriptID: m.ID,
		Type:         "production.approved",
		Title:        "Production approved",
		Content:      fmt.Sprintf("The production galley for %q has been approved for publication.", m.Title),
	})
	return c, nil
}

func (e Engine) copyGalleyToManuscript(ctx context.Context, tx *sql.Tx, manuscriptID, galleyPath, updatedAt string) error {
	err := e.Repo.SetFinalPDFPath(ctx, tx, manuscriptID, galleyPath, updatedAt)
	if err == nil {
		return nil
	}
	if repo.IsSchemaMissing(err) {
		if e.Config.Production.Strict {
			return fmt.Errorf("final_pdf_path column missing but production gate is strict: %w", err)
		}
		log.Printf("final_pdf_path column missing, skipping galley copy for manuscript %s", manuscriptID)
		return nil
	}
	return err
}

// CancelCycle aborts any non-terminal cycle.
func (e Engine) CancelCycle(ctx context.Context, cycleID string, actor Principal) (domain.ProductionCycle, error) {
	if err := e.requireCapability(policy.CapProductionCancel, actor); err != nil {
		return domain.ProductionCycle{}, err
	}
	c, m, err := e.loadCycle(ctx, cycleID)
	if err != nil {
		return domain.ProductionCycle{}, err
	}
	if _, err := e.Scope.EnsureManuscriptScopeAccess(ctx, m.ID, actor.UserID, actor.Roles, true); err != nil {
		return domain.ProductionCycle{}, err
	}
	if cycleTerminal(c.Status) {
		return domain.ProductionCycle{}, fault.Conflictf("cycle %d is already %s", c.CycleNo, c.Status)
	}
	c.Status = CycleCancelled
	return e.saveCycle(ctx, c)
}

// ListCycles returns a manuscript's cycles, newest first, applying the same
// visibility rules as manuscript reads.
func (e Engine) ListCycles(ctx context.Context, manuscriptID string, actor Principal) ([]domain.ProductionCycle, error) {
	if _, err := e.GetManuscript(ctx, manuscriptID, actor); err != nil {
		return nil, err
	}
	return e.Repo.ListCycles(ctx, manuscriptID)
}

// GalleySignedURL returns an expiring download link for a cycle's galley.
// Internal roles go through the editor-access path; authors and proofreaders
// must be bound to the manuscript or cycle.
func (e Engine) GalleySignedURL(ctx context.Context, cycleID string, actor Principal) (string, error) {
	c, m, err := e.loadCycle(ctx, cycleID)
	if err != nil {
		return "", err
	}
	if c.GalleyPath == nil || *c.GalleyPath == "" {
		return "", fault.NotFoundf("cycle %d has no galley", c.CycleNo)
	}
	if e.isInternal(actor) {
		if _, err := e.Scope.EnsureManuscriptScopeAccess(ctx, m.ID, actor.UserID, actor.Roles, true); err != nil {
			return "", err
		}
	} else if !isCycleParticipant(m, c, actor.UserID) {
		return "", fault.Forbiddenf("cycle %d is not assigned to you", c.CycleNo)
	}
	ttl := time.Duration(e.Config.Storage.URLTTLSeconds) * time.Second
	return e.Storage.SignedURL(*c.GalleyPath, ttl)
}
