package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"scholarflow/internal/domain"
	"scholarflow/internal/fault"
	"scholarflow/internal/notify"
	"scholarflow/internal/policy"
	"scholarflow/internal/repo"
)

// Decision letter stages and statuses.
const (
	StageFirst = "first"
	StageFinal = "final"

	LetterDraft = "draft"
	LetterFinal = "final"
)

// EncodeAttachmentRef builds the compact pipe-delimited attachment
// reference. Legacy rows may carry the id alone; ParseAttachmentRef accepts
// both encodings.
func EncodeAttachmentRef(id, path string) string {
	return id + "|" + path
}

func ParseAttachmentRef(ref string) (id, path string) {
	if i := strings.IndexByte(ref, '|'); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}

func validDecision(d string) bool {
	switch d {
	case "accept", "reject", "major_revision", "minor_revision":
		return true
	}
	return false
}

// DecisionSubmitOptions are parameters for SubmitDecision.
type DecisionSubmitOptions struct {
	ManuscriptID string
	Actor        Principal
	Content      string
	Decision     string
	IsFinal      bool
	// DecisionStage is optional; when supplied it must agree with IsFinal.
	DecisionStage  string
	AttachmentRefs []string
	// LastUpdatedAt enables the optimistic lock against the stored draft.
	LastUpdatedAt string
}

// SubmitDecision records or updates a decision letter. First-pass decisions
// require the record capability plus the editor/assistant binding; final
// decisions additionally require the final-submission capability.
func (e Engine) SubmitDecision(ctx context.Context, opts DecisionSubmitOptions) (domain.DecisionLetter, error) {
	if !validDecision(opts.Decision) {
		return domain.DecisionLetter{}, fault.Validationf("invalid decision %q", opts.Decision)
	}
	if strings.TrimSpace(opts.Content) == "" {
		return domain.DecisionLetter{}, fault.Validationf("decision content is required")
	}
	stage := StageFirst
	if opts.IsFinal {
		stage = StageFinal
	}
	if opts.DecisionStage != "" && opts.DecisionStage != stage {
		return domain.DecisionLetter{}, fault.Validationf("decision_stage %q contradicts is_final=%t", opts.DecisionStage, opts.IsFinal)
	}
	if err := e.requireCapability(policy.CapDecisionRecordFirst, opts.Actor); err != nil {
		return domain.DecisionLetter{}, err
	}
	if opts.IsFinal {
		if err := e.requireCapability(policy.CapDecisionSubmitFinal, opts.Actor); err != nil {
			return domain.DecisionLetter{}, err
		}
	}
	if _, err := e.Scope.EnsureManuscriptScopeAccess(ctx, opts.ManuscriptID, opts.Actor.UserID, opts.Actor.Roles, true); err != nil {
		return domain.DecisionLetter{}, err
	}
	m, err := e.Repo.GetManuscript(ctx, opts.ManuscriptID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.DecisionLetter{}, fault.NotFoundf("manuscript %s not found", opts.ManuscriptID)
		}
		return domain.DecisionLetter{}, err
	}
	// Ownership, not just role: an unbound managing editor is still denied.
	if !isBoundEditor(m, opts.Actor.UserID) && !e.Policy.HasWildcard(opts.Actor.Roles) {
		return domain.DecisionLetter{}, fault.Forbiddenf("caller is not bound to manuscript %s", m.ID)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DecisionLetter{}, err
	}
	defer tx.Rollback()

	now := e.nowRFC3339()
	letter, err := e.Repo.DraftLetter(ctx, opts.ManuscriptID, stage)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		// A supplied lock timestamp with no draft left means the draft was
		// finalized underneath the caller.
		if opts.LastUpdatedAt != "" {
			return domain.DecisionLetter{}, fault.Conflictf("decision letter was finalized by another editor")
		}
		letter = domain.DecisionLetter{
			ID:                uuid.New().String(),
			ManuscriptID:      m.ID,
			ManuscriptVersion: m.Version,
			EditorID:          opts.Actor.UserID,
			Content:           opts.Content,
			Decision:          opts.Decision,
			DecisionStage:     stage,
			Status:            LetterDraft,
			Attachments:       opts.AttachmentRefs,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if opts.IsFinal {
			letter.Status = LetterFinal
		}
		if err := e.Repo.InsertDecisionLetter(ctx, tx, letter); err != nil {
			return domain.DecisionLetter{}, fmt.Errorf("insert decision letter: %w", err)
		}
	case err != nil:
		return domain.DecisionLetter{}, err
	default:
		if opts.LastUpdatedAt != "" && opts.LastUpdatedAt != letter.UpdatedAt {
			return domain.DecisionLetter{}, fault.Conflictf("decision letter changed since %s", opts.LastUpdatedAt)
		}
		letter.Content = opts.Content
		letter.Decision = opts.Decision
		if len(opts.AttachmentRefs) > 0 {
			letter.Attachments = opts.AttachmentRefs
		}
		if opts.IsFinal {
			letter.Status = LetterFinal
		}
		letter.UpdatedAt = now
		if err := e.Repo.UpdateDecisionLetter(ctx, tx, letter); err != nil {
			return domain.DecisionLetter{}, fmt.Errorf("update decision letter: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.DecisionLetter{}, err
	}

	if opts.IsFinal {
		e.Notify.Create(ctx, notify.Notification{
			UserID:       m.AuthorID,
			ManuscriptID: m.ID,
			Type:         "decision.final",
			Title:        "Editorial decision issued",
			Content:      fmt.Sprintf("A final decision (%s) has been recorded for %q.", letter.Decision, m.Title),
		})
	}
	return letter, nil
}

// ListDecisions returns a manuscript's decision letters. Authors only ever
// see finalized letters; confidential drafts stay internal.
func (e Engine) ListDecisions(ctx context.Context, manuscriptID string, actor Principal) ([]domain.DecisionLetter, error) {
	m, err := e.GetManuscript(ctx, manuscriptID, actor)
	if err != nil {
		return nil, err
	}
	letters, err := e.Repo.ListDecisionLetters(ctx, manuscriptID)
	if err != nil {
		return nil, err
	}
	if e.isInternal(actor) {
		return letters, nil
	}
	var visible []domain.DecisionLetter
	for _, l := range letters {
		if l.Status == LetterFinal && m.AuthorID == actor.UserID {
			visible = append(visible, l)
		}
	}
	return visible, nil
}

// AttachmentUploadOptions are parameters for UploadDecisionAttachment.
type AttachmentUploadOptions struct {
	ManuscriptID string
	Actor        Principal
	Filename     string
	ContentType  string
	Data         []byte
}

// UploadDecisionAttachment stores an attachment under a manuscript-scoped
// path and returns the row plus the reference to embed in a letter.
func (e Engine) UploadDecisionAttachment(ctx context.Context, opts AttachmentUploadOptions) (domain.DecisionAttachment, string, error) {
	if err := e.requireCapability(policy.CapDecisionRecordFirst, opts.Actor); err != nil {
		return domain.DecisionAttachment{}, "", err
	}
	if opts.Filename == "" {
		return domain.DecisionAttachment{}, "", fault.Validationf("filename is required")
	}
	if maxBytes := e.Config.Decisions.AttachmentMaxBytes; int64(len(opts.Data)) > maxBytes {
		return domain.DecisionAttachment{}, "", fault.Validationf("attachment exceeds %d bytes", maxBytes)
	}
	if _, err := e.Scope.EnsureManuscriptScopeAccess(ctx, opts.ManuscriptID, opts.Actor.UserID, opts.Actor.Roles, true); err != nil {
		return domain.DecisionAttachment{}, "", err
	}

	id := uuid.New().String()
	path := fmt.Sprintf("manuscripts/%s/decisions/%s_%s", opts.ManuscriptID, id, opts.Filename)
	if err := e.Storage.Upload(ctx, opts.Data, path, opts.ContentType); err != nil {
		return domain.DecisionAttachment{}, "", fmt.Errorf("upload attachment: %w", err)
	}
	a := domain.DecisionAttachment{
		ID:           id,
		ManuscriptID: opts.ManuscriptID,
		Path:         path,
		Filename:     opts.Filename,
		Size:         int64(len(opts.Data)),
		CreatedAt:    e.nowRFC3339(),
	}
	if err := e.Repo.InsertDecisionAttachment(ctx, a); err != nil {
		return domain.DecisionAttachment{}, "", fmt.Errorf("insert attachment: %w", err)
	}
	return a, EncodeAttachmentRef(a.ID, a.Path), nil
}

// letterReferences reports whether the letter carries the attachment under
// either reference encoding.
func letterReferences(l domain.DecisionLetter, attachmentID string) bool {
	for _, ref := range l.Attachments {
		if id, _ := ParseAttachmentRef(ref); id == attachmentID {
			return true
		}
	}
	return false
}

// DecisionAttachmentURL returns a signed download link. Staff with journal
// access see attachments regardless of letter status; the author only once
// an owning letter is final.
func (e Engine) DecisionAttachmentURL(ctx context.Context, attachmentID string, actor Principal) (string, error) {
	a, err := e.Repo.GetDecisionAttachment(ctx, attachmentID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", fault.NotFoundf("attachment %s not found", attachmentID)
		}
		return "", err
	}
	if e.isInternal(actor) {
		if _, err := e.Scope.EnsureManuscriptScopeAccess(ctx, a.ManuscriptID, actor.UserID, actor.Roles, true); err != nil {
			return "", err
		}
	} else {
		m, err := e.Repo.GetManuscript(ctx, a.ManuscriptID)
		if err != nil {
			return "", err
		}
		if m.AuthorID != actor.UserID {
			return "", fault.Forbiddenf("attachment %s is not accessible", attachmentID)
		}
		letters, err := e.Repo.ListDecisionLetters(ctx, a.ManuscriptID)
		if err != nil {
			return "", err
		}
		released := false
		for _, l := range letters {
			if l.Status == LetterFinal && letterReferences(l, a.ID) {
				released = true
				break
			}
		}
		if !released {
			return "", fault.Forbiddenf("attachment %s is not released to the author", attachmentID)
		}
	}
	ttl := time.Duration(e.Config.Storage.URLTTLSeconds) * time.Second
	return e.Storage.SignedURL(a.Path, ttl)
}
