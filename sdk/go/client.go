package scholarflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal ScholarFlow HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Manuscript represents the API manuscript model (partial).
type Manuscript struct {
	ID          string `json:"id"`
	JournalID   string `json:"journal_id,omitempty"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	AuthorID    string `json:"author_id"`
	DOI         string `json:"doi,omitempty"`
	Version     int    `json:"version"`
	PublishedAt string `json:"published_at,omitempty"`
}

// DecisionLetter represents an editorial decision letter.
type DecisionLetter struct {
	ID             string   `json:"id"`
	ManuscriptID   string   `json:"manuscript_id"`
	Stage          string   `json:"decision_stage"`
	Decision       string   `json:"decision"`
	Content        string   `json:"content"`
	Status         string   `json:"status"`
	AttachmentRefs []string `json:"attachment_refs,omitempty"`
	UpdatedAt      string   `json:"updated_at"`
}

// ProductionCycle represents a post-acceptance production cycle.
type ProductionCycle struct {
	ID             string `json:"id"`
	ManuscriptID   string `json:"manuscript_id"`
	CycleNo        int    `json:"cycle_no"`
	Status         string `json:"status"`
	LayoutEditorID string `json:"layout_editor_id"`
	GalleyPath     string `json:"galley_path,omitempty"`
	ApprovedBy     string `json:"approved_by,omitempty"`
}

// TransitionLog is one audit-trail entry.
type TransitionLog struct {
	ID         int64  `json:"id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	ActorID    string `json:"actor_id"`
	Comment    string `json:"comment,omitempty"`
	TS         string `json:"ts"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ListManuscripts returns manuscripts visible to the caller, optionally
// filtered by journal and status.
func (c *Client) ListManuscripts(ctx context.Context, journalID, status string) ([]Manuscript, error) {
	endpoint := "v1/manuscripts"
	q := url.Values{}
	if journalID != "" {
		q.Set("journal_id", journalID)
	}
	if status != "" {
		q.Set("status", status)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Manuscript
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetManuscript fetches one manuscript.
func (c *Client) GetManuscript(ctx context.Context, id string) (Manuscript, error) {
	var resp Manuscript
	err := c.do(ctx, http.MethodGet, c.manuscriptPath(id, ""), nil, &resp)
	return resp, err
}

// AllowedTransitions lists the target statuses legal from the current one.
func (c *Client) AllowedTransitions(ctx context.Context, id string) ([]string, error) {
	var resp struct {
		AllowedNext []string `json:"allowed_next"`
	}
	err := c.do(ctx, http.MethodGet, c.manuscriptPath(id, "transitions"), nil, &resp)
	return resp.AllowedNext, err
}

// UpdateStatus applies a lifecycle transition.
func (c *Client) UpdateStatus(ctx context.Context, id, toStatus, comment string) (Manuscript, error) {
	body := map[string]any{
		"to_status": toStatus,
		"comment":   comment,
	}
	var resp Manuscript
	err := c.do(ctx, http.MethodPost, c.manuscriptPath(id, "status"), body, &resp)
	return resp, err
}

// Publish moves the manuscript through the publish gates.
func (c *Client) Publish(ctx context.Context, id, comment string) (Manuscript, error) {
	body := map[string]any{"comment": comment}
	var resp Manuscript
	err := c.do(ctx, http.MethodPost, c.manuscriptPath(id, "publish"), body, &resp)
	return resp, err
}

// SubmitDecision writes or finalizes a decision letter.
func (c *Client) SubmitDecision(ctx context.Context, id string, letter DecisionLetter, isFinal bool, lastUpdatedAt string) (DecisionLetter, error) {
	body := map[string]any{
		"content":         letter.Content,
		"decision":        letter.Decision,
		"decision_stage":  letter.Stage,
		"is_final":        isFinal,
		"attachment_refs": letter.AttachmentRefs,
	}
	if lastUpdatedAt != "" {
		body["last_updated_at"] = lastUpdatedAt
	}
	var resp DecisionLetter
	err := c.do(ctx, http.MethodPost, c.manuscriptPath(id, "decisions"), body, &resp)
	return resp, err
}

// ListDecisions returns the decision letters visible to the caller.
func (c *Client) ListDecisions(ctx context.Context, id string) ([]DecisionLetter, error) {
	var resp []DecisionLetter
	err := c.do(ctx, http.MethodGet, c.manuscriptPath(id, "decisions"), nil, &resp)
	return resp, err
}

// CreateCycle opens a production cycle for a post-acceptance manuscript.
func (c *Client) CreateCycle(ctx context.Context, id, proofreaderID, dueDate string) (ProductionCycle, error) {
	body := map[string]any{
		"proofreader_id": proofreaderID,
		"due_date":       dueDate,
	}
	var resp ProductionCycle
	err := c.do(ctx, http.MethodPost, c.manuscriptPath(id, "cycles"), body, &resp)
	return resp, err
}

// ListCycles returns the production cycles of a manuscript.
func (c *Client) ListCycles(ctx context.Context, id string) ([]ProductionCycle, error) {
	var resp []ProductionCycle
	err := c.do(ctx, http.MethodGet, c.manuscriptPath(id, "cycles"), nil, &resp)
	return resp, err
}

// ApproveCycle marks a cycle approved for publication.
func (c *Client) ApproveCycle(ctx context.Context, cycleID string) (ProductionCycle, error) {
	var resp ProductionCycle
	endpoint := fmt.Sprintf("v1/cycles/%s/approve", url.PathEscape(cycleID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{}, &resp)
	return resp, err
}

// TransitionLogs returns the audit trail for a manuscript.
func (c *Client) TransitionLogs(ctx context.Context, id string, limit int) ([]TransitionLog, error) {
	endpoint := c.manuscriptPath(id, "logs")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []TransitionLog
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GrantScope assigns a journal-scoped role to a user. Requires scope
// management capability on the caller.
func (c *Client) GrantScope(ctx context.Context, journalID, userID, role string) error {
	body := map[string]any{
		"user_id":   userID,
		"role":      role,
		"is_active": true,
	}
	endpoint := fmt.Sprintf("v1/journals/%s/scopes", url.PathEscape(journalID))
	return c.do(ctx, http.MethodPost, endpoint, body, nil)
}

// Me returns the caller's identity and capability tokens.
func (c *Client) Me(ctx context.Context) (userID string, capabilities []string, err error) {
	var resp struct {
		UserID       string   `json:"user_id"`
		Capabilities []string `json:"capabilities"`
	}
	err = c.do(ctx, http.MethodGet, "v1/me", nil, &resp)
	return resp.UserID, resp.Capabilities, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) manuscriptPath(id, suffix string) string {
	p := fmt.Sprintf("v1/manuscripts/%s", url.PathEscape(id))
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
