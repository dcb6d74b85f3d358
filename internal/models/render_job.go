package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Render job statuses. A job transitions out of processing exactly once.
const (
	JobStatusProcessing = "processing"
	JobStatusDone       = "done"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
)

type RenderJob struct {
	ID                  uuid.UUID       `json:"id"`
	AccountID           uuid.UUID       `json:"account_id"`
	Title               string          `json:"title"`
	MessageCount        int             `json:"message_count"`
	HasCustomBackground bool            `json:"has_custom_background"`
	UsesMonetization    bool            `json:"uses_monetization"`
	Timeline            json.RawMessage `json:"timeline"`
	EngineID            *uuid.UUID      `json:"engine_id,omitempty"`
	OutputURL           *string         `json:"output_url,omitempty"`
	FailureReason       *string         `json:"failure_reason,omitempty"`
	Status              string          `json:"status"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
}

// Terminal reports whether the job has reached a final state.
func (j *RenderJob) Terminal() bool {
	return j.Status != JobStatusProcessing
}
