package models

import (
	"time"

	"github.com/google/uuid"
)

// Render engine statuses.
const (
	EngineStatusActive   = "active"
	EngineStatusDisabled = "disabled"
)

// Engine is an external render endpoint (a Remotion render server) that the
// execution worker posts timelines to.
type Engine struct {
	ID               uuid.UUID  `json:"id"`
	Name             string     `json:"name"`
	WebhookURL       string     `json:"webhook_url"`
	Status           string     `json:"status"`
	LastDispatchedAt *time.Time `json:"last_dispatched_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
