package server

import "scholarflow/internal/domain"

// Requests.

type StatusUpdateRequest struct {
	ToStatus  string `json:"to_status" example:"under_review"`
	Comment   string `json:"comment,omitempty"`
	AllowSkip bool   `json:"allow_skip,omitempty" doc:"Apply a transition outside the adjacency map; wildcard roles only"`
}

type InvoiceUpdateRequest struct {
	AmountCents   *int64 `json:"amount_cents,omitempty"`
	Status        string `json:"status,omitempty" enum:",unpaid,paid,waived"`
	MarkConfirmed bool   `json:"mark_confirmed,omitempty"`
	Metadata      string `json:"metadata,omitempty" doc:"Replaces the manuscript's invoice metadata"`
	Comment       string `json:"comment,omitempty"`
}

type DecisionSubmitRequest struct {
	Content        string   `json:"content"`
	Decision       string   `json:"decision" enum:"accept,reject,major_revision,minor_revision"`
	IsFinal        bool     `json:"is_final,omitempty"`
	DecisionStage  string   `json:"decision_stage,omitempty" enum:",first,final"`
	AttachmentRefs []string `json:"attachment_refs,omitempty"`
	LastUpdatedAt  string   `json:"last_updated_at,omitempty" doc:"Optimistic lock against the stored draft"`
}

type AttachmentUploadRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"data" doc:"Base64-encoded file content"`
}

type CycleCreateRequest struct {
	ProofreaderID string `json:"proofreader_id,omitempty"`
	DueDate       string `json:"due_date,omitempty" format:"date-time"`
}

type GalleyUploadRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"data" doc:"Base64-encoded galley content"`
}

type ScopeGrantRequest struct {
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	IsActive bool   `json:"is_active"`
}

type DevLoginRequest struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles,omitempty"`
}

// Responses.

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	UserID       string   `json:"user_id"`
	Roles        []string `json:"roles"`
	Capabilities []string `json:"capabilities"`
}

type AttachmentUploadResponse struct {
	Attachment domain.DecisionAttachment `json:"attachment"`
	Ref        string                    `json:"ref" doc:"Reference to embed in a decision letter"`
}

type SignedURLResponse struct {
	URL string `json:"url"`
}

type AllowedTransitionsResponse struct {
	AllowedNext []string `json:"allowed_next"`
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
