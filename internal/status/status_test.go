package status_test

import (
	"sort"
	"testing"

	"scholarflow/internal/status"
)

func sorted(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

func TestAllowedNextIsStable(t *testing.T) {
	m := status.Default()
	first := sorted(m.AllowedNext(status.Resubmitted))
	second := sorted(m.AllowedNext(status.Resubmitted))
	if len(first) != 4 {
		t.Fatalf("expected 4 successors for resubmitted, got %v", first)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("allowedNext not stable: %v vs %v", first, second)
		}
	}
}

func TestTerminalStatesEmpty(t *testing.T) {
	m := status.Default()
	for _, s := range []string{status.Published, status.Rejected} {
		if next := m.AllowedNext(s); len(next) != 0 {
			t.Fatalf("expected %s terminal, got %v", s, next)
		}
		if !m.IsTerminal(s) {
			t.Fatalf("expected IsTerminal(%s)", s)
		}
	}
}

func TestTransitionGraph(t *testing.T) {
	m := status.Default()
	allowed := [][2]string{
		{status.PreCheck, status.UnderReview},
		{status.PreCheck, status.MinorRevision},
		{status.PreCheck, status.Decision},
		{status.UnderReview, status.Decision},
		{status.MajorRevision, status.Resubmitted},
		{status.MinorRevision, status.Resubmitted},
		{status.Resubmitted, status.UnderReview},
		{status.Decision, status.DecisionDone},
		{status.DecisionDone, status.Approved},
		{status.DecisionDone, status.Rejected},
		{status.Approved, status.Layout},
		{status.Layout, status.EnglishEditing},
		{status.Layout, status.Proofreading},
		{status.EnglishEditing, status.Proofreading},
		{status.Proofreading, status.Published},
	}
	for _, pair := range allowed {
		if !m.IsAllowed(pair[0], pair[1]) {
			t.Fatalf("expected %s -> %s allowed", pair[0], pair[1])
		}
	}
	denied := [][2]string{
		{status.PreCheck, status.Published},
		{status.UnderReview, status.Approved},
		{status.MajorRevision, status.UnderReview},
		{status.Approved, status.Published},
		{status.Published, status.PreCheck},
		{status.Rejected, status.Resubmitted},
	}
	for _, pair := range denied {
		if m.IsAllowed(pair[0], pair[1]) {
			t.Fatalf("expected %s -> %s denied", pair[0], pair[1])
		}
	}
}

func TestNormalizeLegacyValues(t *testing.T) {
	m := status.Default()
	cases := map[string]string{
		"submitted":       status.PreCheck,
		"in_review":       status.UnderReview,
		"pending_payment": status.Approved,
		"online":          status.Published,
		status.Layout:     status.Layout,
	}
	for raw, want := range cases {
		got, ok := m.Normalize(raw)
		if !ok || got != want {
			t.Fatalf("normalize(%s) = %s,%v want %s", raw, got, ok, want)
		}
	}
	if _, ok := m.Normalize("garbage"); ok {
		t.Fatalf("expected garbage to be unrecognized")
	}
}

func TestNormalizeWithCustomAliases(t *testing.T) {
	m := status.Model{Aliases: map[string]string{"wip": status.UnderReview}}
	got, ok := m.Normalize("wip")
	if !ok || got != status.UnderReview {
		t.Fatalf("custom alias not applied: %s %v", got, ok)
	}
	if _, ok := m.Normalize("submitted"); ok {
		t.Fatalf("default alias should not apply with custom table")
	}
}

func TestPostAcceptanceSet(t *testing.T) {
	for _, s := range []string{status.Approved, status.Layout, status.EnglishEditing, status.Proofreading} {
		if !status.IsPostAcceptance(s) {
			t.Fatalf("expected %s post-acceptance", s)
		}
	}
	for _, s := range []string{status.PreCheck, status.Published, status.Rejected, status.Decision} {
		if status.IsPostAcceptance(s) {
			t.Fatalf("did not expect %s post-acceptance", s)
		}
	}
}
