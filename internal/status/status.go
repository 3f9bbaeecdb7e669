// Package status holds the authoritative manuscript lifecycle model: the
// set of known statuses, the transition adjacency map and the legacy-value
// normalizer.
package status

// Known manuscript statuses.
const (
	PreCheck       = "pre_check"
	UnderReview    = "under_review"
	MajorRevision  = "major_revision"
	MinorRevision  = "minor_revision"
	Resubmitted    = "resubmitted"
	Decision       = "decision"
	DecisionDone   = "decision_done"
	Approved       = "approved"
	Rejected       = "rejected"
	Layout         = "layout"
	EnglishEditing = "english_editing"
	Proofreading   = "proofreading"
	Published      = "published"
)

// PendingPayment is a legacy status still present on historical rows. It
// normalizes to Approved but the publish gate inspects the raw value.
const PendingPayment = "pending_payment"

// Revision states funnel back through resubmitted before re-entering review
// or decision, so every revision round is independently auditable. decision
// and decision_done stay separate so a first-pass decision can itself demand
// revision without touching approved/rejected.
var transitions = map[string][]string{
	PreCheck:       {UnderReview, MinorRevision, Decision},
	UnderReview:    {Decision, MajorRevision, MinorRevision},
	MajorRevision:  {Resubmitted},
	MinorRevision:  {Resubmitted},
	Resubmitted:    {UnderReview, Decision, MajorRevision, MinorRevision},
	Decision:       {DecisionDone, MajorRevision, MinorRevision},
	DecisionDone:   {Approved, Rejected, MajorRevision, MinorRevision},
	Approved:       {Layout},
	Layout:         {EnglishEditing, Proofreading},
	EnglishEditing: {Proofreading},
	Proofreading:   {Published},
	Rejected:       {},
	Published:      {},
}

// DefaultAliases is the versioned translation table for legacy stored
// values. It is fed into Normalize and never leaks into the transition map.
// v2: added pending_payment and formatting (2024 backfill).
var DefaultAliases = map[string]string{
	"submitted":         PreCheck,
	"pending":           PreCheck,
	"in_review":         UnderReview,
	"reviewing":         UnderReview,
	"revision_required": MajorRevision,
	"accepted":          Approved,
	PendingPayment:      Approved,
	"formatting":        Layout,
	"denied":            Rejected,
	"online":            Published,
	"publish":           Published,
}

// Model is the injectable lifecycle policy. The zero value is unusable; use
// Default or construct with an explicit alias table in tests.
type Model struct {
	Aliases map[string]string
}

func Default() Model {
	return Model{Aliases: DefaultAliases}
}

// IsKnown reports whether s is a current (non-legacy) status.
func IsKnown(s string) bool {
	_, ok := transitions[s]
	return ok
}

// Normalize maps a raw stored value onto a current status. It returns
// ok=false for anything unrecognized.
func (m Model) Normalize(raw string) (string, bool) {
	if IsKnown(raw) {
		return raw, true
	}
	if mapped, ok := m.Aliases[raw]; ok && IsKnown(mapped) {
		return mapped, true
	}
	return "", false
}

// AllowedNext returns the set of statuses reachable from current. Terminal
// states yield an empty set, unknown values nil.
func (m Model) AllowedNext(current string) []string {
	next, ok := transitions[current]
	if !ok {
		return nil
	}
	out := make([]string, len(next))
	copy(out, next)
	return out
}

// IsAllowed reports whether from -> to is in the adjacency map.
func (m Model) IsAllowed(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s has no outgoing transitions.
func (m Model) IsTerminal(s string) bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// IsPostAcceptance reports whether s belongs to the post-acceptance
// production set; only these statuses may hold a production cycle.
func IsPostAcceptance(s string) bool {
	switch s {
	case Approved, Layout, EnglishEditing, Proofreading:
		return true
	}
	return false
}
