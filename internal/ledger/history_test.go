package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/reelforge/backend/internal/models"
)

func entry(accountID uuid.UUID, txType string, amount, balanceAfter int64, jobID *uuid.UUID) *models.TokenTransaction {
	return &models.TokenTransaction{
		ID:           uuid.New(),
		AccountID:    accountID,
		Type:         txType,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		RenderJobID:  jobID,
		CreatedAt:    time.Now(),
	}
}

func TestDecoratePassThrough(t *testing.T) {
	account := uuid.New()
	in := []*models.TokenTransaction{
		entry(account, models.TxTypeAdminDebit, -10, 90, nil),
		entry(account, models.TxTypeTokenPurchase, 50, 100, nil),
		entry(account, models.TxTypeAdminCredit, 50, 50, nil),
	}
	out := DecorateHistory(in)
	if len(out) != 3 {
		t.Fatalf("got %d entries, want 3", len(out))
	}
	for i, e := range out {
		if e.Hidden {
			t.Errorf("entry %d hidden, want visible", i)
		}
		if e.Amount != in[i].Amount || e.BalanceAfter != in[i].BalanceAfter {
			t.Errorf("entry %d figures modified", i)
		}
	}
}

func TestDecoratePendingHoldVisible(t *testing.T) {
	account := uuid.New()
	job := uuid.New()
	out := DecorateHistory([]*models.TokenTransaction{
		entry(account, models.TxTypeRenderHold, -60, 40, &job),
		entry(account, models.TxTypeAdminCredit, 100, 100, nil),
	})
	if out[0].Hidden {
		t.Error("pending hold must stay visible")
	}
	if out[0].Amount != -60 || out[0].BalanceAfter != 40 {
		t.Errorf("pending hold figures modified: amount %d balance %d", out[0].Amount, out[0].BalanceAfter)
	}
}

func TestDecorateHoldRefundPairHidden(t *testing.T) {
	account := uuid.New()
	job := uuid.New()
	out := DecorateHistory([]*models.TokenTransaction{
		entry(account, models.TxTypeRenderRefund, 60, 100, &job),
		entry(account, models.TxTypeRenderHold, -60, 40, &job),
	})
	for _, e := range out {
		if !e.Hidden {
			t.Errorf("%s should be hidden, job netted to zero", e.Type)
		}
	}
}

func TestDecorateHoldDeductCollapse(t *testing.T) {
	account := uuid.New()
	job := uuid.New()
	other := uuid.New()
	out := DecorateHistory([]*models.TokenTransaction{
		entry(account, models.TxTypeRenderDeduct, 0, 40, &job),
		entry(account, models.TxTypeRenderHold, -60, 40, &job),
		entry(account, models.TxTypeRenderHold, -25, 100, &other), // unrelated pending job
	})
	if !out[1].Hidden {
		t.Error("deducted hold should be hidden")
	}
	if out[0].Hidden {
		t.Error("deduct should be visible")
	}
	if out[0].Amount != -60 || out[0].BalanceAfter != 40 {
		t.Errorf("deduct should show hold figures: amount %d balance %d, want -60/40", out[0].Amount, out[0].BalanceAfter)
	}
	if out[2].Hidden || out[2].Amount != -25 {
		t.Error("unrelated pending hold must be untouched")
	}
}
