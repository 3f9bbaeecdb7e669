package engine_test

import (
	"errors"
	"strings"
	"testing"

	"scholarflow/internal/domain"
	"scholarflow/internal/engine"
	"scholarflow/internal/fault"
	"scholarflow/internal/policy"
)

func (env *testEnv) seedDecisionManuscript(t *testing.T) (domain.Manuscript, engine.Principal, engine.Principal) {
	t.Helper()
	chief := chiefActor()
	assistant := engine.Principal{UserID: "ae-1", Roles: []string{policy.RoleAssistantEditor}}
	editorID := chief.UserID
	assistantID := assistant.UserID
	m := env.seedManuscript(t, domain.Manuscript{
		Status: "decision", EditorID: &editorID, AssistantEditorID: &assistantID,
	})
	env.grantScope(t, chief.UserID, "j-1", policy.RoleEditorInChief)
	return m, chief, assistant
}

func TestParseAttachmentRef(t *testing.T) {
	id, path := engine.ParseAttachmentRef("att-1|manuscripts/ms-1/decisions/att-1_review.pdf")
	if id != "att-1" || path != "manuscripts/ms-1/decisions/att-1_review.pdf" {
		t.Fatalf("pipe ref parsed as (%s, %s)", id, path)
	}
	id, path = engine.ParseAttachmentRef("att-legacy")
	if id != "att-legacy" || path != "" {
		t.Fatalf("bare ref parsed as (%s, %s)", id, path)
	}
}

func TestSubmitDecisionStageMismatch(t *testing.T) {
	env := newTestEnv(t)
	_, chief, _ := env.seedDecisionManuscript(t)

	_, err := env.Engine.SubmitDecision(env.Ctx, engine.DecisionSubmitOptions{
		ManuscriptID: "ms-1", Actor: chief, Content: "x", Decision: "accept",
		IsFinal: false, DecisionStage: "final",
	})
	var validation fault.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestSubmitDecisionRequiresBinding(t *testing.T) {
	env := newTestEnv(t)
	env.seedDecisionManuscript(t)
	manager := engine.Principal{UserID: "me-9", Roles: []string{policy.RoleManagingEditor}}
	env.grantScope(t, manager.UserID, "j-1", policy.RoleManagingEditor)

	_, err := env.Engine.SubmitDecision(env.Ctx, engine.DecisionSubmitOptions{
		ManuscriptID: "ms-1", Actor: manager, Content: "x", Decision: "accept",
	})
	var forbidden fault.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("err = %v, want forbidden: role without binding must be denied", err)
	}
}

func TestSubmitFinalRequiresFinalCapability(t *testing.T) {
	env := newTestEnv(t)
	_, _, assistant := env.seedDecisionManuscript(t)

	_, err := env.Engine.SubmitDecision(env.Ctx, engine.DecisionSubmitOptions{
		ManuscriptID: "ms-1", Actor: assistant, Content: "x", Decision: "accept", IsFinal: true,
	})
	var forbidden fault.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("err = %v, want forbidden", err)
	}
}

func TestSubmitDecisionDraftThenFinalize(t *testing.T) {
	env := newTestEnv(t)
	m, chief, assistant := env.seedDecisionManuscript(t)

	draft, err := env.Engine.SubmitDecision(env.Ctx, engine.DecisionSubmitOptions{
		ManuscriptID: m.ID, Actor: assistant, Content: "needs minor fixes", Decision: "minor_revision",
	})
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	if draft.Status != "draft" || draft.DecisionStage != "first" {
		t.Fatalf("draft = %+v", draft)
	}
	if draft.ManuscriptVersion != m.Version {
		t.Fatalf("letter version = %d, want %d", draft.ManuscriptVersion, m.Version)
	}

	final, err := env.Engine.SubmitDecision(env.Ctx, engine.DecisionSubmitOptions{
		ManuscriptID: m.ID, Actor: chief, Content: "accepted", Decision: "accept",
		IsFinal: true,
	})
	if err != nil {
		t.Fatalf("final: %v", err)
	}
	if final.Status != "final" || final.DecisionStage != "final" {
		t.Fatalf("final = %+v", final)
	}

	notes, err := env.Engine.Repo.ListNotifications(env.Ctx, m.AuthorID, 0)
	if err != nil || len(notes) != 1 {
		t.Fatalf("author notifications = %d (%v), want 1", len(notes), err)
	}
}

func TestSubmitDecisionStaleLock(t *testing.T) {
	env := newTestEnv(t)
	m, _, assistant := env.seedDecisionManuscript(t)

	draft, err := env.Engine.SubmitDecision(env.Ctx, engine.DecisionSubmitOptions{
		ManuscriptID: m.ID, Actor: assistant, Content: "original", Decision: "minor_revision",
	})
	if err != nil {
		t.Fatalf("draft: %v", err)
	}

	_, err = env.Engine.SubmitDecision(env.Ctx, engine.DecisionSubmitOptions{
		ManuscriptID: m.ID, Actor: assistant, Content: "overwrite", Decision: "accept",
		LastUpdatedAt: "2020-01-01T00:00:00Z",
	})
	var conflict fault.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
	stored, err := env.Engine.Repo.GetDecisionLetter(env.Ctx, draft.ID)
	if err != nil || stored.Content != "original" {
		t.Fatalf("stale write mutated draft: %q (%v)", stored.Content, err)
	}

	updated, err := env.Engine.SubmitDecision(env.Ctx, engine.DecisionSubmitOptions{
		ManuscriptID: m.ID, Actor: assistant, Content: "revised", Decision: "accept",
		LastUpdatedAt: draft.UpdatedAt,
	})
	if err != nil || updated.Content != "revised" {
		t.Fatalf("matching lock rejected: %v", err)
	}
}

func TestSubmitDecisionAfterFinalizeConflicts(t *testing.T) {
	env := newTestEnv(t)
	m, chief, _ := env.seedDecisionManuscript(t)

	final, err := env.Engine.SubmitDecision(env.Ctx, engine.DecisionSubmitOptions{
		ManuscriptID: m.ID, Actor: chief, Content: "done", Decision: "accept", IsFinal: true,
	})
	if err != nil {
		t.Fatalf("final: %v", err)
	}
	_, err = env.Engine.SubmitDecision(env.Ctx, engine.DecisionSubmitOptions{
		ManuscriptID: m.ID, Actor: chief, Content: "edit after final", Decision: "reject",
		IsFinal: true, LastUpdatedAt: final.UpdatedAt,
	})
	var conflict fault.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
}

func TestAttachmentSizeCap(t *testing.T) {
	env := newTestEnv(t)
	_, chief, _ := env.seedDecisionManuscript(t)
	env.Cfg.Decisions.AttachmentMaxBytes = 16

	_, _, err := env.Engine.UploadDecisionAttachment(env.Ctx, engine.AttachmentUploadOptions{
		ManuscriptID: "ms-1", Actor: chief, Filename: "review.pdf",
		ContentType: "application/pdf", Data: []byte(strings.Repeat("a", 17)),
	})
	var validation fault.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestAttachmentVisibilityForAuthor(t *testing.T) {
	env := newTestEnv(t)
	m, chief, _ := env.seedDecisionManuscript(t)
	author := engine.Principal{UserID: m.AuthorID, Roles: []string{policy.RoleAuthor}}

	a, ref, err := env.Engine.UploadDecisionAttachment(env.Ctx, engine.AttachmentUploadOptions{
		ManuscriptID: m.ID, Actor: chief, Filename: "report.pdf",
		ContentType: "application/pdf", Data: []byte("pdf bytes"),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if _, err := env.Engine.DecisionAttachmentURL(env.Ctx, a.ID, chief); err != nil {
		t.Fatalf("staff access before final: %v", err)
	}

	_, err = env.Engine.DecisionAttachmentURL(env.Ctx, a.ID, author)
	var forbidden fault.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("author access before final = %v, want forbidden", err)
	}

	if _, err := env.Engine.SubmitDecision(env.Ctx, engine.DecisionSubmitOptions{
		ManuscriptID: m.ID, Actor: chief, Content: "done", Decision: "accept",
		IsFinal: true, AttachmentRefs: []string{ref},
	}); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	url, err := env.Engine.DecisionAttachmentURL(env.Ctx, a.ID, author)
	if err != nil {
		t.Fatalf("author access after final: %v", err)
	}
	if !strings.Contains(url, "token=") {
		t.Fatalf("url = %s, want signed token", url)
	}
}

func TestListDecisionsHidesDraftsFromAuthor(t *testing.T) {
	env := newTestEnv(t)
	m, chief, assistant := env.seedDecisionManuscript(t)
	author := engine.Principal{UserID: m.AuthorID, Roles: []string{policy.RoleAuthor}}

	if _, err := env.Engine.SubmitDecision(env.Ctx, engine.DecisionSubmitOptions{
		ManuscriptID: m.ID, Actor: assistant, Content: "draft", Decision: "minor_revision",
	}); err != nil {
		t.Fatalf("draft: %v", err)
	}
	visible, err := env.Engine.ListDecisions(env.Ctx, m.ID, author)
	if err != nil || len(visible) != 0 {
		t.Fatalf("author sees %d letters (%v), want 0", len(visible), err)
	}
	staff, err := env.Engine.ListDecisions(env.Ctx, m.ID, chief)
	if err != nil || len(staff) != 1 {
		t.Fatalf("chief sees %d letters (%v), want 1", len(staff), err)
	}
}
