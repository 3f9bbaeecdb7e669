package repo

import (
	"context"
	"database/sql"

	"scholarflow/internal/domain"
)

const cycleCols = `id,manuscript_id,cycle_no,status,layout_editor_id,proofreader_id,galley_path,due_date,approved_by,approved_at,created_at,updated_at`

func scanCycle(scan func(dest ...any) error) (domain.ProductionCycle, error) {
	var c domain.ProductionCycle
	var proofreader, galley, dueDate, approvedBy, approvedAt sql.NullString
	err := scan(&c.ID, &c.ManuscriptID, &c.CycleNo, &c.Status, &c.LayoutEditorID,
		&proofreader, &galley, &dueDate, &approvedBy, &approvedAt, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if proofreader.Valid {
		c.ProofreaderID = &proofreader.String
	}
	if galley.Valid {
		c.GalleyPath = &galley.String
	}
	if dueDate.Valid {
		c.DueDate = &dueDate.String
	}
	if approvedBy.Valid {
		c.ApprovedBy = &approvedBy.String
	}
	if approvedAt.Valid {
		c.ApprovedAt = &approvedAt.String
	}
	return c, nil
}

func (r Repo) InsertCycle(ctx context.Context, tx *sql.Tx, c domain.ProductionCycle) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO production_cycles(`+cycleCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.ManuscriptID, c.CycleNo, c.Status, c.LayoutEditorID,
		nullableStringPtr(c.ProofreaderID), nullableStringPtr(c.GalleyPath), nullableStringPtr(c.DueDate),
		nullableStringPtr(c.ApprovedBy), nullableStringPtr(c.ApprovedAt), c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) UpdateCycle(ctx context.Context, tx *sql.Tx, c domain.ProductionCycle) error {
	res, err := tx.ExecContext(ctx, `UPDATE production_cycles SET status=?, proofreader_id=?, galley_path=?, due_date=?, approved_by=?, approved_at=?, updated_at=? WHERE id=?`,
		c.Status, nullableStringPtr(c.ProofreaderID), nullableStringPtr(c.GalleyPath), nullableStringPtr(c.DueDate),
		nullableStringPtr(c.ApprovedBy), nullableStringPtr(c.ApprovedAt), c.UpdatedAt, c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetCycle(ctx context.Context, id string) (domain.ProductionCycle, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+cycleCols+` FROM production_cycles WHERE id=?`, id)
	return scanCycle(row.Scan)
}

// ListCycles returns all cycles for a manuscript, newest first.
func (r Repo) ListCycles(ctx context.Context, manuscriptID string) ([]domain.ProductionCycle, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+cycleCols+` FROM production_cycles WHERE manuscript_id=? ORDER BY cycle_no DESC`, manuscriptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProductionCycle
	for rows.Next() {
		c, err := scanCycle(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// LatestCycle returns the cycle with the highest cycle_no for a manuscript.
func (r Repo) LatestCycle(ctx context.Context, manuscriptID string) (domain.ProductionCycle, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+cycleCols+` FROM production_cycles WHERE manuscript_id=? ORDER BY cycle_no DESC LIMIT 1`, manuscriptID)
	return scanCycle(row.Scan)
}

// ActiveCycle returns the non-terminal cycle for a manuscript, if one
// exists. The single-active-cycle invariant is enforced by callers checking
// here before insert; two simultaneous creations can still race (documented
// on Engine.CreateCycle).
func (r Repo) ActiveCycle(ctx context.Context, manuscriptID string) (domain.ProductionCycle, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+cycleCols+` FROM production_cycles WHERE manuscript_id=? AND status NOT IN ('approved_for_publish','cancelled') ORDER BY cycle_no DESC LIMIT 1`, manuscriptID)
	return scanCycle(row.Scan)
}

// NextCycleNo returns the next monotonically increasing cycle number.
func (r Repo) NextCycleNo(ctx context.Context, tx *sql.Tx, manuscriptID string) (int, error) {
	var max sql.NullInt64
	err := tx.QueryRowContext(ctx, `SELECT MAX(cycle_no) FROM production_cycles WHERE manuscript_id=?`, manuscriptID).Scan(&max)
	if err != nil {
		return 0, err
	}
	if !max.Valid {
		return 1, nil
	}
	return int(max.Int64) + 1, nil
}
