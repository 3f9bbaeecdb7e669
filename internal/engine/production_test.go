package engine_test

import (
	"errors"
	"testing"

	"scholarflow/internal/domain"
	"scholarflow/internal/engine"
	"scholarflow/internal/fault"
	"scholarflow/internal/policy"
)

func layoutActor() engine.Principal {
	return engine.Principal{UserID: "le-1", Roles: []string{policy.RoleLayoutEditor}}
}

func TestCreateCycleRequiresPostAcceptance(t *testing.T) {
	env := newTestEnv(t)
	env.seedManuscript(t, domain.Manuscript{Status: "under_review"})

	_, err := env.Engine.CreateCycle(env.Ctx, engine.CycleCreateOptions{
		ManuscriptID: "ms-1", Actor: layoutActor(),
	})
	var unprocessable fault.UnprocessableError
	if !errors.As(err, &unprocessable) {
		t.Fatalf("err = %v, want unprocessable", err)
	}
}

func TestCreateCycleSingleActive(t *testing.T) {
	env := newTestEnv(t)
	env.seedManuscript(t, domain.Manuscript{Status: "layout"})

	c, err := env.Engine.CreateCycle(env.Ctx, engine.CycleCreateOptions{
		ManuscriptID: "ms-1", Actor: layoutActor(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.CycleNo != 1 || c.Status != "draft" {
		t.Fatalf("cycle = %+v", c)
	}

	_, err = env.Engine.CreateCycle(env.Ctx, engine.CycleCreateOptions{
		ManuscriptID: "ms-1", Actor: layoutActor(),
	})
	var conflict fault.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("second create = %v, want conflict", err)
	}
}

func TestCycleNumbersIncreaseAcrossCancellations(t *testing.T) {
	env := newTestEnv(t)
	env.seedManuscript(t, domain.Manuscript{Status: "layout"})
	le := layoutActor()

	c1, err := env.Engine.CreateCycle(env.Ctx, engine.CycleCreateOptions{ManuscriptID: "ms-1", Actor: le})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.CancelCycle(env.Ctx, c1.ID, le); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	c2, err := env.Engine.CreateCycle(env.Ctx, engine.CycleCreateOptions{ManuscriptID: "ms-1", Actor: le})
	if err != nil || c2.CycleNo != 2 {
		t.Fatalf("second cycle no = %d (%v), want 2", c2.CycleNo, err)
	}
}

func TestCycleCorrectionsLoop(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedManuscript(t, domain.Manuscript{Status: "layout"})
	le := layoutActor()
	author := engine.Principal{UserID: m.AuthorID, Roles: []string{policy.RoleAuthor}}

	c, err := env.Engine.CreateCycle(env.Ctx, engine.CycleCreateOptions{ManuscriptID: m.ID, Actor: le})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	c, err = env.Engine.UploadGalley(env.Ctx, engine.GalleyUploadOptions{
		CycleID: c.ID, Actor: le, Filename: "galley-v1.pdf",
		ContentType: "application/pdf", Data: []byte("galley"),
	})
	if err != nil || c.Status != "awaiting_author" {
		t.Fatalf("upload: %v, status %s", err, c.Status)
	}
	c, err = env.Engine.SubmitCorrections(env.Ctx, c.ID, author)
	if err != nil || c.Status != "author_corrections_submitted" {
		t.Fatalf("corrections: %v, status %s", err, c.Status)
	}
	c, err = env.Engine.StartRevision(env.Ctx, c.ID, le)
	if err != nil || c.Status != "in_layout_revision" {
		t.Fatalf("revision: %v, status %s", err, c.Status)
	}
	c, err = env.Engine.UploadGalley(env.Ctx, engine.GalleyUploadOptions{
		CycleID: c.ID, Actor: le, Filename: "galley-v2.pdf",
		ContentType: "application/pdf", Data: []byte("galley v2"),
	})
	if err != nil || c.Status != "awaiting_author" {
		t.Fatalf("second upload: %v, status %s", err, c.Status)
	}
	c, err = env.Engine.ConfirmClean(env.Ctx, c.ID, author)
	if err != nil || c.Status != "author_confirmed" {
		t.Fatalf("confirm: %v, status %s", err, c.Status)
	}
}

func TestApproveCycleEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	manager := engine.Principal{UserID: "me-1", Roles: []string{policy.RoleManagingEditor}}
	editorID := manager.UserID
	m := env.seedManuscript(t, domain.Manuscript{Status: "layout", EditorID: &editorID})
	env.grantScope(t, manager.UserID, "j-1", policy.RoleManagingEditor)
	le := layoutActor()
	author := engine.Principal{UserID: m.AuthorID, Roles: []string{policy.RoleAuthor}}

	c, err := env.Engine.CreateCycle(env.Ctx, engine.CycleCreateOptions{ManuscriptID: m.ID, Actor: le})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	c, err = env.Engine.UploadGalley(env.Ctx, engine.GalleyUploadOptions{
		CycleID: c.ID, Actor: le, Filename: "galley.pdf",
		ContentType: "application/pdf", Data: []byte("galley"),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if _, err = env.Engine.ConfirmClean(env.Ctx, c.ID, author); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	c, err = env.Engine.ApproveCycle(env.Ctx, c.ID, manager)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if c.Status != "approved_for_publish" || c.ApprovedBy == nil || *c.ApprovedBy != manager.UserID {
		t.Fatalf("cycle = %+v", c)
	}

	got, err := env.Engine.Repo.GetManuscript(env.Ctx, m.ID)
	if err != nil || got.FinalPDFPath == nil || *got.FinalPDFPath != *c.GalleyPath {
		t.Fatalf("final_pdf_path not copied: %+v (%v)", got.FinalPDFPath, err)
	}

	// galley-ready + approval notifications for the author
	notes, err := env.Engine.Repo.ListNotifications(env.Ctx, m.AuthorID, 0)
	if err != nil || len(notes) != 2 {
		t.Fatalf("author notifications = %d (%v), want 2", len(notes), err)
	}
	rows := env.auditRows(t, m.ID)
	if len(rows) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(rows))
	}
}

func TestApproveCycleRequiresAuthorConfirmed(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedManuscript(t, domain.Manuscript{Status: "layout"})
	le := layoutActor()

	c, err := env.Engine.CreateCycle(env.Ctx, engine.CycleCreateOptions{ManuscriptID: m.ID, Actor: le})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	c, err = env.Engine.UploadGalley(env.Ctx, engine.GalleyUploadOptions{
		CycleID: c.ID, Actor: le, Filename: "galley.pdf",
		ContentType: "application/pdf", Data: []byte("galley"),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	_, err = env.Engine.ApproveCycle(env.Ctx, c.ID, adminActor())
	var unprocessable fault.UnprocessableError
	if !errors.As(err, &unprocessable) {
		t.Fatalf("approve from %s = %v, want unprocessable", c.Status, err)
	}
}

func TestApproveCycleRequiresGalley(t *testing.T) {
	env := newTestEnv(t)
	env.seedManuscript(t, domain.Manuscript{Status: "layout"})
	c := domain.ProductionCycle{
		ID: "cyc-1", ManuscriptID: "ms-1", CycleNo: 1, Status: "author_confirmed",
		LayoutEditorID: "le-1", CreatedAt: "2026-02-20T00:00:00Z", UpdatedAt: "2026-02-20T00:00:00Z",
	}
	tx, err := env.Engine.DB.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Repo.InsertCycle(env.Ctx, tx, c); err != nil {
		t.Fatalf("insert cycle: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	_, err = env.Engine.ApproveCycle(env.Ctx, c.ID, adminActor())
	var unprocessable fault.UnprocessableError
	if !errors.As(err, &unprocessable) {
		t.Fatalf("err = %v, want unprocessable", err)
	}
}

func TestApproveCycleRequiresBindingOrElevatedRole(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedManuscript(t, domain.Manuscript{Status: "layout"})
	le := layoutActor()
	author := engine.Principal{UserID: m.AuthorID, Roles: []string{policy.RoleAuthor}}
	manager := engine.Principal{UserID: "me-unbound", Roles: []string{policy.RoleManagingEditor}}
	env.grantScope(t, manager.UserID, "j-1", policy.RoleManagingEditor)

	c, err := env.Engine.CreateCycle(env.Ctx, engine.CycleCreateOptions{ManuscriptID: m.ID, Actor: le})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	c, err = env.Engine.UploadGalley(env.Ctx, engine.GalleyUploadOptions{
		CycleID: c.ID, Actor: le, Filename: "galley.pdf",
		ContentType: "application/pdf", Data: []byte("galley"),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if _, err = env.Engine.ConfirmClean(env.Ctx, c.ID, author); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	_, err = env.Engine.ApproveCycle(env.Ctx, c.ID, manager)
	var forbidden fault.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("unbound manager approve = %v, want forbidden", err)
	}
}

func TestCancelTerminalCycleConflicts(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedManuscript(t, domain.Manuscript{Status: "layout"})
	le := layoutActor()
	author := engine.Principal{UserID: m.AuthorID, Roles: []string{policy.RoleAuthor}}

	c, err := env.Engine.CreateCycle(env.Ctx, engine.CycleCreateOptions{ManuscriptID: m.ID, Actor: le})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	c, err = env.Engine.UploadGalley(env.Ctx, engine.GalleyUploadOptions{
		CycleID: c.ID, Actor: le, Filename: "galley.pdf",
		ContentType: "application/pdf", Data: []byte("galley"),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if _, err = env.Engine.ConfirmClean(env.Ctx, c.ID, author); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err = env.Engine.ApproveCycle(env.Ctx, c.ID, adminActor()); err != nil {
		t.Fatalf("approve: %v", err)
	}

	_, err = env.Engine.CancelCycle(env.Ctx, c.ID, adminActor())
	var conflict fault.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("cancel terminal = %v, want conflict", err)
	}
}

func TestGalleySignedURLAccess(t *testing.T) {
	env := newTestEnv(t)
	m := env.seedManuscript(t, domain.Manuscript{Status: "layout"})
	le := layoutActor()
	author := engine.Principal{UserID: m.AuthorID, Roles: []string{policy.RoleAuthor}}
	stranger := engine.Principal{UserID: "someone-else", Roles: []string{policy.RoleAuthor}}

	c, err := env.Engine.CreateCycle(env.Ctx, engine.CycleCreateOptions{ManuscriptID: m.ID, Actor: le})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	c, err = env.Engine.UploadGalley(env.Ctx, engine.GalleyUploadOptions{
		CycleID: c.ID, Actor: le, Filename: "galley.pdf",
		ContentType: "application/pdf", Data: []byte("galley"),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if _, err := env.Engine.GalleySignedURL(env.Ctx, c.ID, author); err != nil {
		t.Fatalf("author galley url: %v", err)
	}
	if _, err := env.Engine.GalleySignedURL(env.Ctx, c.ID, le); err != nil {
		t.Fatalf("layout editor galley url: %v", err)
	}
	_, err = env.Engine.GalleySignedURL(env.Ctx, c.ID, stranger)
	var forbidden fault.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("stranger galley url = %v, want forbidden", err)
	}
}
