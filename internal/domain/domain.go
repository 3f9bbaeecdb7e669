package domain

type Journal struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Manuscript struct {
	ID                string  `json:"id"`
	JournalID         *string `json:"journal_id,omitempty"`
	Title             string  `json:"title"`
	Status            string  `json:"status"`
	PreCheckStatus    *string `json:"pre_check_status,omitempty"`
	AuthorID          string  `json:"author_id"`
	OwnerID           *string `json:"owner_id,omitempty"`
	EditorID          *string `json:"editor_id,omitempty"`
	AssistantEditorID *string `json:"assistant_editor_id,omitempty"`
	FinalPDFPath      *string `json:"final_pdf_path,omitempty"`
	InvoiceMetaJSON   *string `json:"invoice_metadata,omitempty"`
	DOI               *string `json:"doi,omitempty"`
	Version           int     `json:"version"`
	PublishedAt       *string `json:"published_at,omitempty" format:"date-time"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
	UpdatedAt         string  `json:"updated_at" format:"date-time"`
}

// StatusTransitionLog rows are append-only; they are never updated or
// deleted once written.
type StatusTransitionLog struct {
	ID           int64   `json:"id"`
	ManuscriptID string  `json:"manuscript_id"`
	FromStatus   string  `json:"from_status"`
	ToStatus     string  `json:"to_status"`
	ActorID      string  `json:"actor_id"`
	Comment      *string `json:"comment,omitempty"`
	PayloadJSON  string  `json:"payload_json,omitempty"`
	TS           string  `json:"ts" format:"date-time"`
}

type DecisionLetter struct {
	ID                string   `json:"id"`
	ManuscriptID      string   `json:"manuscript_id"`
	ManuscriptVersion int      `json:"manuscript_version"`
	EditorID          string   `json:"editor_id"`
	Content           string   `json:"content"`
	Decision          string   `json:"decision" enum:"accept,reject,major_revision,minor_revision"`
	DecisionStage     string   `json:"decision_stage" enum:"first,final"`
	Status            string   `json:"status" enum:"draft,final"`
	Attachments       []string `json:"attachments,omitempty"`
	CreatedAt         string   `json:"created_at" format:"date-time"`
	UpdatedAt         string   `json:"updated_at" format:"date-time"`
}

type DecisionAttachment struct {
	ID           string `json:"id"`
	ManuscriptID string `json:"manuscript_id"`
	Path         string `json:"path"`
	Filename     string `json:"filename"`
	Size         int64  `json:"size"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type ProductionCycle struct {
	ID             string  `json:"id"`
	ManuscriptID   string  `json:"manuscript_id"`
	CycleNo        int     `json:"cycle_no"`
	Status         string  `json:"status" enum:"draft,awaiting_author,author_corrections_submitted,author_confirmed,in_layout_revision,approved_for_publish,cancelled"`
	LayoutEditorID string  `json:"layout_editor_id"`
	ProofreaderID  *string `json:"proofreader_id,omitempty"`
	GalleyPath     *string `json:"galley_path,omitempty"`
	DueDate        *string `json:"due_date,omitempty" format:"date-time"`
	ApprovedBy     *string `json:"approved_by,omitempty"`
	ApprovedAt     *string `json:"approved_at,omitempty" format:"date-time"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
}

type Invoice struct {
	ID           string  `json:"id"`
	ManuscriptID string  `json:"manuscript_id"`
	AmountCents  int64   `json:"amount_cents"`
	Status       string  `json:"status" enum:"unpaid,paid,waived"`
	ConfirmedAt  *string `json:"confirmed_at,omitempty" format:"date-time"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

type JournalRoleScope struct {
	UserID    string `json:"user_id"`
	JournalID string `json:"journal_id"`
	Role      string `json:"role"`
	IsActive  bool   `json:"is_active"`
}

type Notification struct {
	ID           string  `json:"id"`
	UserID       string  `json:"user_id"`
	ManuscriptID *string `json:"manuscript_id,omitempty"`
	Type         string  `json:"type"`
	Title        string  `json:"title"`
	Content      string  `json:"content"`
	ActionURL    *string `json:"action_url,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
