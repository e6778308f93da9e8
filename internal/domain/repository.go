package domain

import "context"

// RunRepository persists finished runs and their packs.
type RunRepository interface {
	Save(ctx context.Context, run *RunRecord) error
	GetByID(ctx context.Context, runID string) (*RunRecord, error)
	ListBySession(ctx context.Context, sessionID string, limit int) ([]RunRecord, error)
}
