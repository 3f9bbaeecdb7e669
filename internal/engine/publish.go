package engine

import (
	"context"
	"errors"
	"fmt"

	"scholarflow/internal/domain"
	"scholarflow/internal/fault"
	"scholarflow/internal/repo"
	"scholarflow/internal/status"
)

// paymentExpected reports whether the raw pre-gate status implies an APC was
// owed. pending_payment is checked on the raw stored value on purpose: it
// normalizes to approved everywhere else.
func paymentExpected(rawStatus string) bool {
	return rawStatus == status.Approved || rawStatus == status.PendingPayment
}

// checkPublishGates runs the payment and production gates and returns the
// DOI to assign. It must be called before the status write so a rejection
// leaves the manuscript untouched.
func (e Engine) checkPublishGates(ctx context.Context, m domain.Manuscript, rawStatus string) (string, error) {
	inv, err := e.Repo.LatestInvoice(ctx, m.ID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		if paymentExpected(rawStatus) {
			return "", fault.Forbiddenf("no invoice recorded for manuscript %s", m.ID)
		}
	case err != nil:
		return "", err
	default:
		// Amount zero is an implicit waiver regardless of stored status.
		if inv.AmountCents != 0 && inv.Status != "paid" {
			return "", fault.Forbiddenf("invoice %s is %s", inv.ID, inv.Status)
		}
	}

	if e.Config.Production.GateEnabled {
		if m.FinalPDFPath == nil || *m.FinalPDFPath == "" {
			return "", fault.Validationf("production artifact missing for manuscript %s", m.ID)
		}
		if e.Config.Production.Strict {
			cycle, err := e.Repo.LatestCycle(ctx, m.ID)
			if errors.Is(err, repo.ErrNotFound) {
				return "", fault.Unprocessablef("no production cycle recorded for manuscript %s", m.ID)
			}
			if err != nil {
				return "", err
			}
			if cycle.Status != CycleApprovedForPublish {
				return "", fault.Unprocessablef("latest production cycle is %s, not %s", cycle.Status, CycleApprovedForPublish)
			}
			if cycle.GalleyPath == nil || *cycle.GalleyPath == "" {
				return "", fault.Unprocessablef("approved production cycle has no galley")
			}
		}
	}
	return e.mockDOI(m.ID), nil
}

// mockDOI derives a deterministic placeholder DOI; real registration happens
// in an external task queue.
func (e Engine) mockDOI(manuscriptID string) string {
	return fmt.Sprintf("10.5555/sf.%d.%s", e.now().UTC().Year(), manuscriptID)
}
