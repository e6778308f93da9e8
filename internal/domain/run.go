package domain

import "time"

// RunStatus enumerates persisted run outcomes.
type RunStatus string

const (
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunRecord is the history entry written once a run reaches a terminal state.
type RunRecord struct {
	ID          string        `json:"id"`
	SessionID   string        `json:"session_id"`
	Description string        `json:"description"`
	ImageCount  int           `json:"image_count"`
	Settings    Settings      `json:"settings"`
	ProductLock ProductLock   `json:"product_lock"`
	Status      RunStatus     `json:"status"`
	Error       string        `json:"error,omitempty"`
	Packs       []ContentPack `json:"packs"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
}
