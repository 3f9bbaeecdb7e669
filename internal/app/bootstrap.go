// Package app wires a workspace into a ready engine: config, database,
// migrations and object storage.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"scholarflow/internal/config"
	"scholarflow/internal/db"
	"scholarflow/internal/domain"
	"scholarflow/internal/engine"
	"scholarflow/internal/migrate"
	"scholarflow/internal/repo"
	"scholarflow/internal/storage"
)

// Context is the assembled application state shared by the CLI and server.
type Context struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
	Files     storage.FSStore
}

func (c *Context) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}

// Open loads the workspace config, opens and migrates the database and
// builds the engine. A missing config file falls back to defaults.
func Open(workspace string) (*Context, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	dir := cfg.Storage.Dir
	if dir == "" {
		dir = filepath.Join(workspace, ".scholarflow", "objects")
	}
	files := storage.FSStore{
		Dir:     dir,
		Secret:  cfg.Storage.URLSecret,
		BaseURL: cfg.Storage.PublicBaseURL,
	}
	eng := engine.New(conn, cfg, files)
	return &Context{
		Workspace: workspace,
		Config:    cfg,
		DB:        conn,
		Engine:    eng,
		Files:     files,
	}, nil
}

// Init provisions a fresh workspace: default config file, database schema
// and a demo journal so the API has something to scope against.
func Init(ctx context.Context, workspace string) (*Context, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	cfgPath := config.Path(workspace)
	if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
			return nil, fmt.Errorf("write config: %w", err)
		}
	}
	appCtx, err := Open(workspace)
	if err != nil {
		return nil, err
	}
	if err := seedDemoJournal(ctx, appCtx.Engine.Repo); err != nil {
		appCtx.Close()
		return nil, err
	}
	return appCtx, nil
}

func seedDemoJournal(ctx context.Context, r repo.Repo) error {
	const journalID = "journal-demo"
	if _, err := r.GetJournal(ctx, journalID); err == nil {
		return nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	if err := r.InsertJournal(ctx, domain.Journal{
		ID:        journalID,
		Title:     "Demo Journal",
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return err
	}
	// A scoped managing editor so the demo journal is workable out of the box.
	return r.UpsertScope(ctx, domain.JournalRoleScope{
		UserID:    "demo-editor",
		JournalID: journalID,
		Role:      "managing_editor",
		IsActive:  true,
	})
}
