package ledger

import (
	"github.com/google/uuid"

	"github.com/reelforge/backend/internal/models"
)

// DisplayEntry is a read-side projection of a ledger entry. Amount and
// BalanceAfter may differ from the stored row (a resolved deduct shows the
// hold's original figures); the ledger itself is never touched.
type DisplayEntry struct {
	models.TokenTransaction
	Hidden bool `json:"hidden"`
}

// DecorateHistory collapses hold/deduct/refund triples for display:
//   - entries with no job id pass through unchanged
//   - {hold, refund}: both hidden, the job netted to zero
//   - {hold, deduct}: hold hidden, deduct shown with the hold's amount and
//     balance so the user sees one line for the original charge
//   - a lone hold (render still pending) is shown as-is
//
// Input order is preserved.
func DecorateHistory(entries []*models.TokenTransaction) []DisplayEntry {
	type jobTxs struct {
		hold   *models.TokenTransaction
		deduct *models.TokenTransaction
		refund *models.TokenTransaction
	}
	byJob := make(map[uuid.UUID]*jobTxs)
	for _, t := range entries {
		if t.RenderJobID == nil {
			continue
		}
		j := byJob[*t.RenderJobID]
		if j == nil {
			j = &jobTxs{}
			byJob[*t.RenderJobID] = j
		}
		switch t.Type {
		case models.TxTypeRenderHold:
			j.hold = t
		case models.TxTypeRenderDeduct:
			j.deduct = t
		case models.TxTypeRenderRefund:
			j.refund = t
		}
	}

	out := make([]DisplayEntry, 0, len(entries))
	for _, t := range entries {
		e := DisplayEntry{TokenTransaction: *t}
		if t.RenderJobID != nil {
			j := byJob[*t.RenderJobID]
			switch t.Type {
			case models.TxTypeRenderHold:
				e.Hidden = j.deduct != nil || j.refund != nil
			case models.TxTypeRenderRefund:
				e.Hidden = j.hold != nil
			case models.TxTypeRenderDeduct:
				if j.hold != nil {
					e.Amount = j.hold.Amount
					e.BalanceAfter = j.hold.BalanceAfter
				}
			}
		}
		out = append(out, e)
	}
	return out
}
