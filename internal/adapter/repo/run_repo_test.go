package repo

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"pinstrategy/internal/domain"
	"pinstrategy/internal/infra"
	"pinstrategy/internal/sqlinline"
)

type execCall struct {
	query string
	args  []any
}

type stubExecutor struct {
	execs   []execCall
	execErr error
	row     pgx.Row
	rows    *stubRows
}

func (s *stubExecutor) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.execs = append(s.execs, execCall{query: query, args: args})
	return pgconn.CommandTag{}, s.execErr
}

func (s *stubExecutor) QueryRow(context.Context, string, ...any) pgx.Row {
	return s.row
}

func (s *stubExecutor) Query(context.Context, string, ...any) (pgx.Rows, error) {
	if s.rows == nil {
		return nil, errors.New("no rows configured")
	}
	return s.rows, nil
}

type scanFunc func(dest ...any) error

func (f scanFunc) Scan(dest ...any) error { return f(dest...) }

type stubRows struct {
	values [][]any
	idx    int
	closed bool
}

func (r *stubRows) Close()                                       { r.closed = true }
func (r *stubRows) Err() error                                   { return nil }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) Values() ([]any, error)                       { return r.values[r.idx-1], nil }
func (r *stubRows) RawValues() [][]byte                          { return nil }
func (r *stubRows) Conn() *pgx.Conn                              { return nil }

func (r *stubRows) Next() bool {
	if r.idx >= len(r.values) {
		return false
	}
	r.idx++
	return true
}

func (r *stubRows) Scan(dest ...any) error {
	return assign(r.values[r.idx-1], dest)
}

func assign(values []any, dest []any) error {
	if len(values) != len(dest) {
		return errors.New("column count mismatch")
	}
	for i, v := range values {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int:
			*d = v.(int)
		case *bool:
			*d = v.(bool)
		case *[]byte:
			*d = v.([]byte)
		case *[]string:
			*d = v.([]string)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return errors.New("unsupported destination")
		}
	}
	return nil
}

const (
	testRunID     = "6f1c2d3e-4a5b-4c6d-8e7f-901a2b3c4d5e"
	testSessionID = "1a2b3c4d-5e6f-4a7b-8c9d-0e1f2a3b4c5d"
)

func sampleRecord() *domain.RunRecord {
	return &domain.RunRecord{
		ID:          testRunID,
		SessionID:   testSessionID,
		Description: "ceramic mug",
		ImageCount:  1,
		Settings:    domain.DefaultSettings(),
		ProductLock: "black mug",
		Status:      domain.RunStatusComplete,
		Packs: []domain.ContentPack{
			{ID: "pack-0-1", Title: "Mug", AspectRatio: domain.AspectVertical, Keywords: []string{"mug"}, Verified: true, Attempts: 1},
			{ID: "pack-1-1", Title: "Mug 2", AspectRatio: domain.AspectSquare, Attempts: 2},
		},
		StartedAt:  time.Unix(1700000000, 0).UTC(),
		FinishedAt: time.Unix(1700000060, 0).UTC(),
	}
}

func TestRunRepositorySave(t *testing.T) {
	exec := &stubExecutor{}
	repo := NewRunRepository(exec)

	if err := repo.Save(context.Background(), sampleRecord()); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if len(exec.execs) != 4 {
		t.Fatalf("expected run insert, pack delete and 2 pack inserts, got %d", len(exec.execs))
	}
	if exec.execs[0].query != sqlinline.QInsertPipelineRun {
		t.Fatalf("first statement should insert the run")
	}
	var settings domain.Settings
	if err := json.Unmarshal(exec.execs[0].args[4].([]byte), &settings); err != nil {
		t.Fatalf("settings arg is not JSON: %v", err)
	}
	if settings != domain.DefaultSettings() {
		t.Fatalf("settings mismatch: %+v", settings)
	}
	if got := exec.execs[0].args[8]; got != 2 {
		t.Fatalf("expected pack_count 2, got %v", got)
	}
	second := exec.execs[3]
	if second.query != sqlinline.QInsertContentPack || second.args[1] != 1 {
		t.Fatalf("expected second pack at position 1, got %v", second.args[1])
	}
	if kw, ok := second.args[7].([]string); !ok || kw == nil {
		t.Fatalf("nil keywords must be sent as an empty array, got %#v", second.args[7])
	}
}

func TestRunRepositorySaveRejectsBadIDs(t *testing.T) {
	exec := &stubExecutor{}
	repo := NewRunRepository(exec)
	rec := sampleRecord()
	rec.SessionID = "not-a-uuid"

	if err := repo.Save(context.Background(), rec); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(exec.execs) != 0 {
		t.Fatalf("no statements expected, got %d", len(exec.execs))
	}
}

func TestRunRepositorySavePropagatesErrors(t *testing.T) {
	repo := NewRunRepository(&stubExecutor{execErr: errors.New("connection reset")})
	err := repo.Save(context.Background(), sampleRecord())
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected wrapped exec error, got %v", err)
	}
}

func TestRunRepositoryGetByID(t *testing.T) {
	settings, _ := json.Marshal(domain.DefaultSettings())
	started := time.Unix(1700000000, 0).UTC()
	exec := &stubExecutor{
		row: scanFunc(func(dest ...any) error {
			return assign([]any{testRunID, testSessionID, "mug", 1, settings, "black mug", "complete", "", started, started.Add(time.Minute)}, dest)
		}),
		rows: &stubRows{values: [][]any{
			{"pack-0-1", "http://cdn/p0.png", "Mug", "desc", "alt", []string{"mug"}, "prompt", "9:16", "hero", true, 1},
			{"pack-1-1", "http://cdn/p1.png", "Mug 2", "desc", "alt", []string{}, "prompt", "1:1", "", false, 2},
		}},
	}
	repo := NewRunRepository(exec)

	run, err := repo.GetByID(context.Background(), testRunID)
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if run.Status != domain.RunStatusComplete || run.ProductLock != "black mug" {
		t.Fatalf("unexpected run %+v", run)
	}
	if run.Settings.VerticalCount != domain.DefaultVerticalCount {
		t.Fatalf("settings not decoded: %+v", run.Settings)
	}
	if len(run.Packs) != 2 || run.Packs[0].AspectRatio != domain.AspectVertical || run.Packs[1].Attempts != 2 {
		t.Fatalf("unexpected packs %+v", run.Packs)
	}
	if !exec.rows.closed {
		t.Fatalf("rows must be closed")
	}
}

func TestRunRepositoryGetByIDNotFound(t *testing.T) {
	repo := NewRunRepository(&stubExecutor{
		row: scanFunc(func(...any) error { return pgx.ErrNoRows }),
	})
	if _, err := repo.GetByID(context.Background(), testRunID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := repo.GetByID(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for malformed id, got %v", err)
	}
}

func TestRunRepositoryUsesTransactionWhenAvailable(t *testing.T) {
	exec := &txStub{stubExecutor: &stubExecutor{}}
	repo := NewRunRepository(exec)
	if err := repo.Save(context.Background(), sampleRecord()); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if !exec.used {
		t.Fatalf("expected InTx to be used")
	}
}

type txStub struct {
	*stubExecutor
	used bool
}

func (t *txStub) InTx(_ context.Context, fn func(infra.SQLExecutor) error) error {
	t.used = true
	return fn(t.stubExecutor)
}
