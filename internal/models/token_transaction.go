package models

import (
	"time"

	"github.com/google/uuid"
)

// Token transaction types. The ledger is append-only: corrections are new
// entries, never updates or deletes.
const (
	TxTypeRenderHold    = "render_hold"
	TxTypeRenderDeduct  = "render_deduct"
	TxTypeRenderRefund  = "render_refund"
	TxTypeAdminCredit   = "admin_credit"
	TxTypeAdminDebit    = "admin_debit"
	TxTypeTokenPurchase = "token_purchase"
)

type TokenTransaction struct {
	ID           uuid.UUID      `json:"id"`
	AccountID    uuid.UUID      `json:"account_id"`
	Type         string         `json:"type"`
	Amount       int64          `json:"amount"`
	BalanceAfter int64          `json:"balance_after"`
	Description  string         `json:"description"`
	RenderJobID  *uuid.UUID     `json:"render_job_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// IsResolution reports whether the type closes a hold (deduct or refund).
func IsResolution(txType string) bool {
	return txType == TxTypeRenderDeduct || txType == TxTypeRenderRefund
}
