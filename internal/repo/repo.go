package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"scholarflow/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// IsSchemaMissing reports whether err comes from querying a table or column
// that has not been provisioned yet. Callers use it to degrade gracefully
// during partial migrations instead of failing hard.
func IsSchemaMissing(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no such table") || strings.Contains(msg, "no such column")
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- journals ---

func (r Repo) InsertJournal(ctx context.Context, j domain.Journal) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO journals(id,title,created_at) VALUES (?,?,?)`,
		j.ID, j.Title, j.CreatedAt)
	return err
}

func (r Repo) GetJournal(ctx context.Context, id string) (domain.Journal, error) {
	var j domain.Journal
	err := r.DB.QueryRowContext(ctx, `SELECT id,title,created_at FROM journals WHERE id=?`, id).
		Scan(&j.ID, &j.Title, &j.CreatedAt)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	return j, err
}

func (r Repo) ListJournals(ctx context.Context) ([]domain.Journal, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,title,created_at FROM journals ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Journal
	for rows.Next() {
		var j domain.Journal
		if err := rows.Scan(&j.ID, &j.Title, &j.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

// --- manuscripts ---

const manuscriptCols = `id,journal_id,title,status,pre_check_status,author_id,owner_id,editor_id,assistant_editor_id,final_pdf_path,invoice_metadata_json,doi,version,published_at,created_at,updated_at`

func scanManuscript(scan func(dest ...any) error) (domain.Manuscript, error) {
	var m domain.Manuscript
	var journalID, preCheck, ownerID, editorID, assistantID, finalPDF, invoiceMeta, doi, publishedAt sql.NullString
	err := scan(&m.ID, &journalID, &m.Title, &m.Status, &preCheck, &m.AuthorID, &ownerID, &editorID,
		&assistantID, &finalPDF, &invoiceMeta, &doi, &m.Version, &publishedAt, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if journalID.Valid {
		m.JournalID = &journalID.String
	}
	if preCheck.Valid {
		m.PreCheckStatus = &preCheck.String
	}
	if ownerID.Valid {
		m.OwnerID = &ownerID.String
	}
	if editorID.Valid {
		m.EditorID = &editorID.String
	}
	if assistantID.Valid {
		m.AssistantEditorID = &assistantID.String
	}
	if finalPDF.Valid {
		m.FinalPDFPath = &finalPDF.String
	}
	if invoiceMeta.Valid {
		m.InvoiceMetaJSON = &invoiceMeta.String
	}
	if doi.Valid {
		m.DOI = &doi.String
	}
	if publishedAt.Valid {
		m.PublishedAt = &publishedAt.String
	}
	return m, nil
}

func (r Repo) InsertManuscript(ctx context.Context, m domain.Manuscript) error {
	if m.Version == 0 {
		m.Version = 1
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO manuscripts(`+manuscriptCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, nullableStringPtr(m.JournalID), m.Title, m.Status, nullableStringPtr(m.PreCheckStatus), m.AuthorID,
		nullableStringPtr(m.OwnerID), nullableStringPtr(m.EditorID), nullableStringPtr(m.AssistantEditorID),
		nullableStringPtr(m.FinalPDFPath), nullableStringPtr(m.InvoiceMetaJSON), nullableStringPtr(m.DOI),
		m.Version, nullableStringPtr(m.PublishedAt), m.CreatedAt, m.UpdatedAt)
	return err
}

func (r Repo) GetManuscript(ctx context.Context, id string) (domain.Manuscript, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+manuscriptCols+` FROM manuscripts WHERE id=?`, id)
	return scanManuscript(row.Scan)
}

func (r Repo) GetManuscriptTx(ctx context.Context, tx *sql.Tx, id string) (domain.Manuscript, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+manuscriptCols+` FROM manuscripts WHERE id=?`, id)
	return scanManuscript(row.Scan)
}

func (r Repo) UpdateManuscript(ctx context.Context, tx *sql.Tx, m domain.Manuscript) error {
	res, err := tx.ExecContext(ctx, `UPDATE manuscripts SET journal_id=?, title=?, status=?, pre_check_status=?, owner_id=?, editor_id=?, assistant_editor_id=?, final_pdf_path=?, invoice_metadata_json=?, doi=?, version=?, published_at=?, updated_at=? WHERE id=?`,
		nullableStringPtr(m.JournalID), m.Title, m.Status, nullableStringPtr(m.PreCheckStatus),
		nullableStringPtr(m.OwnerID), nullableStringPtr(m.EditorID), nullableStringPtr(m.AssistantEditorID),
		nullableStringPtr(m.FinalPDFPath), nullableStringPtr(m.InvoiceMetaJSON), nullableStringPtr(m.DOI),
		m.Version, nullableStringPtr(m.PublishedAt), m.UpdatedAt, m.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetFinalPDFPath writes only the final_pdf_path column so that a missing
// column surfaces as a schema error distinct from other update failures.
func (r Repo) SetFinalPDFPath(ctx context.Context, tx *sql.Tx, id, path, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE manuscripts SET final_pdf_path=?, updated_at=? WHERE id=?`, path, updatedAt, id)
	return err
}

type ManuscriptFilters struct {
	JournalID string
	Status    string
	AuthorID  string
	Limit     int
}

func (r Repo) ListManuscripts(ctx context.Context, f ManuscriptFilters) ([]domain.Manuscript, error) {
	var clauses []string
	var args []any
	if f.JournalID != "" {
		clauses = append(clauses, "journal_id=?")
		args = append(args, f.JournalID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AuthorID != "" {
		clauses = append(clauses, "author_id=?")
		args = append(args, f.AuthorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + manuscriptCols + ` FROM manuscripts ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Manuscript
	for rows.Next() {
		m, err := scanManuscript(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// --- invoices ---

func (r Repo) InsertInvoice(ctx context.Context, inv domain.Invoice) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO invoices(id,manuscript_id,amount_cents,status,confirmed_at,created_at) VALUES (?,?,?,?,?,?)`,
		inv.ID, inv.ManuscriptID, inv.AmountCents, inv.Status, nullableStringPtr(inv.ConfirmedAt), inv.CreatedAt)
	return err
}

// LatestInvoice returns the most recent invoice for a manuscript.
func (r Repo) LatestInvoice(ctx context.Context, manuscriptID string) (domain.Invoice, error) {
	var inv domain.Invoice
	var confirmedAt sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,manuscript_id,amount_cents,status,confirmed_at,created_at FROM invoices WHERE manuscript_id=? ORDER BY created_at DESC, id DESC LIMIT 1`, manuscriptID).
		Scan(&inv.ID, &inv.ManuscriptID, &inv.AmountCents, &inv.Status, &confirmedAt, &inv.CreatedAt)
	if err == sql.ErrNoRows {
		return inv, ErrNotFound
	}
	if err != nil {
		return inv, err
	}
	if confirmedAt.Valid {
		inv.ConfirmedAt = &confirmedAt.String
	}
	return inv, nil
}

func (r Repo) UpdateInvoice(ctx context.Context, tx *sql.Tx, inv domain.Invoice) error {
	res, err := tx.ExecContext(ctx, `UPDATE invoices SET amount_cents=?, status=?, confirmed_at=? WHERE id=?`,
		inv.AmountCents, inv.Status, nullableStringPtr(inv.ConfirmedAt), inv.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- journal role scopes ---

// ActiveScopeJournalIDs returns the journals the user may act on through any
// of the given roles, considering only active scope rows.
func (r Repo) ActiveScopeJournalIDs(ctx context.Context, userID string, roles []string) ([]string, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(roles)), ",")
	args := []any{userID}
	for _, role := range roles {
		args = append(args, role)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT journal_id FROM journal_role_scopes WHERE user_id=? AND is_active=1 AND role IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) UpsertScope(ctx context.Context, s domain.JournalRoleScope) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO journal_role_scopes(user_id,journal_id,role,is_active) VALUES (?,?,?,?)
ON CONFLICT(user_id,journal_id,role) DO UPDATE SET is_active=excluded.is_active`,
		s.UserID, s.JournalID, s.Role, boolToInt(s.IsActive))
	return err
}

func (r Repo) ListScopesForJournal(ctx context.Context, journalID string) ([]domain.JournalRoleScope, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT user_id,journal_id,role,is_active FROM journal_role_scopes WHERE journal_id=?`, journalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.JournalRoleScope
	for rows.Next() {
		var s domain.JournalRoleScope
		var active int
		if err := rows.Scan(&s.UserID, &s.JournalID, &s.Role, &active); err != nil {
			return nil, err
		}
		s.IsActive = active != 0
		res = append(res, s)
	}
	return res, rows.Err()
}

// --- notifications ---

func (r Repo) InsertNotification(ctx context.Context, n domain.Notification) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO notifications(id,user_id,manuscript_id,type,title,content,action_url,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		n.ID, n.UserID, nullableStringPtr(n.ManuscriptID), n.Type, n.Title, n.Content, nullableStringPtr(n.ActionURL), n.CreatedAt)
	return err
}

func (r Repo) ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	query := `SELECT id,user_id,manuscript_id,type,title,content,action_url,created_at FROM notifications WHERE user_id=? ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var manuscriptID, actionURL sql.NullString
		if err := rows.Scan(&n.ID, &n.UserID, &manuscriptID, &n.Type, &n.Title, &n.Content, &actionURL, &n.CreatedAt); err != nil {
			return nil, err
		}
		if manuscriptID.Valid {
			n.ManuscriptID = &manuscriptID.String
		}
		if actionURL.Valid {
			n.ActionURL = &actionURL.String
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

// --- transition logs (read side; writes go through internal/audit) ---

func (r Repo) ListTransitionLogs(ctx context.Context, manuscriptID string, limit int) ([]domain.StatusTransitionLog, error) {
	query := `SELECT id,manuscript_id,from_status,to_status,actor_id,comment,payload_json,ts FROM status_transition_logs WHERE manuscript_id=? ORDER BY id DESC`
	args := []any{manuscriptID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StatusTransitionLog
	for rows.Next() {
		var l domain.StatusTransitionLog
		var comment, payload sql.NullString
		if err := rows.Scan(&l.ID, &l.ManuscriptID, &l.FromStatus, &l.ToStatus, &l.ActorID, &comment, &payload, &l.TS); err != nil {
			return nil, err
		}
		if comment.Valid {
			l.Comment = &comment.String
		}
		if payload.Valid {
			l.PayloadJSON = payload.String
		}
		res = append(res, l)
	}
	return res, rows.Err()
}
