package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"pinstrategy/internal/domain"
	"pinstrategy/internal/infra"
	"pinstrategy/internal/sqlinline"
)

const maxListLimit = 100

type txRunner interface {
	InTx(ctx context.Context, fn func(infra.SQLExecutor) error) error
}

// RunRepositoryPG implements domain.RunRepository using PostgreSQL.
type RunRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewRunRepository constructs a new run repository instance.
func NewRunRepository(sql infra.SQLExecutor) *RunRepositoryPG {
	return &RunRepositoryPG{sql: sql}
}

// EnsureSchema creates the history tables when they are missing.
func (r *RunRepositoryPG) EnsureSchema(ctx context.Context) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QEnsureRunSchema); err != nil {
		return fmt.Errorf("ensure run schema: %w", err)
	}
	return nil
}

// Save upserts the run row and replaces its packs. It runs in a transaction
// when the executor supports one.
func (r *RunRepositoryPG) Save(ctx context.Context, run *domain.RunRecord) error {
	if run == nil {
		return fmt.Errorf("%w: run is required", domain.ErrValidation)
	}
	if _, err := uuid.Parse(run.ID); err != nil {
		return fmt.Errorf("%w: run id: %v", domain.ErrValidation, err)
	}
	if _, err := uuid.Parse(run.SessionID); err != nil {
		return fmt.Errorf("%w: session id: %v", domain.ErrValidation, err)
	}
	if tx, ok := r.sql.(txRunner); ok {
		return tx.InTx(ctx, func(exec infra.SQLExecutor) error { return saveRun(ctx, exec, run) })
	}
	return saveRun(ctx, r.sql, run)
}

func saveRun(ctx context.Context, exec infra.SQLExecutor, run *domain.RunRecord) error {
	settings, err := json.Marshal(run.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if _, err := exec.Exec(ctx, sqlinline.QInsertPipelineRun,
		run.ID, run.SessionID, run.Description, run.ImageCount, settings,
		run.ProductLock.String(), string(run.Status), run.Error, len(run.Packs),
		run.StartedAt, run.FinishedAt,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if _, err := exec.Exec(ctx, sqlinline.QDeleteContentPacks, run.ID); err != nil {
		return fmt.Errorf("clear packs: %w", err)
	}
	for i, p := range run.Packs {
		keywords := p.Keywords
		if keywords == nil {
			keywords = []string{}
		}
		if _, err := exec.Exec(ctx, sqlinline.QInsertContentPack,
			run.ID, i, p.ID, p.ImageURL, p.Title, p.Description, p.AltText,
			keywords, p.SourcePrompt, string(p.AspectRatio), p.LayoutType, p.Verified, p.Attempts,
		); err != nil {
			return fmt.Errorf("insert pack %d: %w", i, err)
		}
	}
	return nil
}

// GetByID returns the run with its packs in order.
func (r *RunRepositoryPG) GetByID(ctx context.Context, runID string) (*domain.RunRecord, error) {
	if _, err := uuid.Parse(strings.TrimSpace(runID)); err != nil {
		return nil, fmt.Errorf("%w: run %s", domain.ErrNotFound, runID)
	}
	run, err := scanRun(r.sql.QueryRow(ctx, sqlinline.QSelectPipelineRun, runID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, fmt.Errorf("%w: run %s", domain.ErrNotFound, runID)
		}
		return nil, err
	}

	rows, err := r.sql.Query(ctx, sqlinline.QSelectContentPacks, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	run.Packs = []domain.ContentPack{}
	for rows.Next() {
		var (
			p     domain.ContentPack
			ratio string
		)
		if err := rows.Scan(&p.ID, &p.ImageURL, &p.Title, &p.Description, &p.AltText, &p.Keywords, &p.SourcePrompt, &ratio, &p.LayoutType, &p.Verified, &p.Attempts); err != nil {
			return nil, err
		}
		p.AspectRatio = domain.AspectRatio(ratio)
		run.Packs = append(run.Packs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return run, nil
}

// ListBySession returns the most recent runs of a session without packs.
func (r *RunRepositoryPG) ListBySession(ctx context.Context, sessionID string, limit int) ([]domain.RunRecord, error) {
	if _, err := uuid.Parse(strings.TrimSpace(sessionID)); err != nil {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	rows, err := r.sql.Query(ctx, sqlinline.QListSessionRuns, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

func scanRun(row pgx.Row) (*domain.RunRecord, error) {
	var (
		run      domain.RunRecord
		settings []byte
		lock     string
		status   string
	)
	if err := row.Scan(&run.ID, &run.SessionID, &run.Description, &run.ImageCount, &settings, &lock, &status, &run.Error, &run.StartedAt, &run.FinishedAt); err != nil {
		return nil, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &run.Settings); err != nil {
			return nil, fmt.Errorf("decode run settings: %w", err)
		}
	}
	run.ProductLock = domain.ProductLock(lock)
	run.Status = domain.RunStatus(status)
	return &run, nil
}

var _ domain.RunRepository = (*RunRepositoryPG)(nil)
