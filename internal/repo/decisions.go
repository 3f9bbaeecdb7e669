package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"scholarflow/internal/domain"
)

func marshalAttachments(refs []string) any {
	if len(refs) == 0 {
		return nil
	}
	b, err := json.Marshal(refs)
	if err != nil {
		return nil
	}
	return string(b)
}

func scanLetter(scan func(dest ...any) error) (domain.DecisionLetter, error) {
	var l domain.DecisionLetter
	var attachments sql.NullString
	err := scan(&l.ID, &l.ManuscriptID, &l.ManuscriptVersion, &l.EditorID, &l.Content, &l.Decision,
		&l.DecisionStage, &l.Status, &attachments, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	if attachments.Valid && attachments.String != "" {
		_ = json.Unmarshal([]byte(attachments.String), &l.Attachments)
	}
	return l, nil
}

const letterCols = `id,manuscript_id,manuscript_version,editor_id,content,decision,decision_stage,status,attachments_json,created_at,updated_at`

func (r Repo) InsertDecisionLetter(ctx context.Context, tx *sql.Tx, l domain.DecisionLetter) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO decision_letters(`+letterCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		l.ID, l.ManuscriptID, l.ManuscriptVersion, l.EditorID, l.Content, l.Decision,
		l.DecisionStage, l.Status, marshalAttachments(l.Attachments), l.CreatedAt, l.UpdatedAt)
	return err
}

func (r Repo) UpdateDecisionLetter(ctx context.Context, tx *sql.Tx, l domain.DecisionLetter) error {
	res, err := tx.ExecContext(ctx, `UPDATE decision_letters SET content=?, decision=?, status=?, attachments_json=?, updated_at=? WHERE id=?`,
		l.Content, l.Decision, l.Status, marshalAttachments(l.Attachments), l.UpdatedAt, l.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetDecisionLetter(ctx context.Context, id string) (domain.DecisionLetter, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+letterCols+` FROM decision_letters WHERE id=?`, id)
	return scanLetter(row.Scan)
}

// DraftLetter returns the current draft for a manuscript and stage, if any.
func (r Repo) DraftLetter(ctx context.Context, manuscriptID, stage string) (domain.DecisionLetter, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+letterCols+` FROM decision_letters WHERE manuscript_id=? AND decision_stage=? AND status='draft' ORDER BY updated_at DESC, id DESC LIMIT 1`,
		manuscriptID, stage)
	return scanLetter(row.Scan)
}

func (r Repo) ListDecisionLetters(ctx context.Context, manuscriptID string) ([]domain.DecisionLetter, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+letterCols+` FROM decision_letters WHERE manuscript_id=? ORDER BY created_at DESC, id DESC`, manuscriptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DecisionLetter
	for rows.Next() {
		l, err := scanLetter(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func (r Repo) InsertDecisionAttachment(ctx context.Context, a domain.DecisionAttachment) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO decision_attachments(id,manuscript_id,path,filename,size,created_at) VALUES (?,?,?,?,?,?)`,
		a.ID, a.ManuscriptID, a.Path, a.Filename, a.Size, a.CreatedAt)
	return err
}

func (r Repo) GetDecisionAttachment(ctx context.Context, id string) (domain.DecisionAttachment, error) {
	var a domain.DecisionAttachment
	err := r.DB.QueryRowContext(ctx, `SELECT id,manuscript_id,path,filename,size,created_at FROM decision_attachments WHERE id=?`, id).
		Scan(&a.ID, &a.ManuscriptID, &a.Path, &a.Filename, &a.Size, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}
