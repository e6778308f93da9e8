package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"pinstrategy/internal/infra"
	"pinstrategy/internal/sqlinline"
)

const ProviderGemini = "gemini"

// Source says where a resolved key came from.
type Source string

const (
	SourceNone     Source = "none"
	SourceEnv      Source = "env"
	SourceDatabase Source = "database"
)

// Store reads and writes provider tokens kept in integration_tokens.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

func (s *Store) GeminiAPIKey(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderGemini)
}

// Token returns the stored token, or "" when none is recorded.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

func (s *Store) SetGeminiAPIKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("gemini api key is required")
	}
	return s.upsert(ctx, ProviderGemini, key, map[string]any{
		"rotated_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// ResolveGeminiKey prefers envKey and falls back to the stored token. A nil
// store only consults envKey.
func ResolveGeminiKey(ctx context.Context, store *Store, envKey string) (string, Source, error) {
	if key := strings.TrimSpace(envKey); key != "" {
		return key, SourceEnv, nil
	}
	if store == nil {
		return "", SourceNone, nil
	}
	key, err := store.GeminiAPIKey(ctx)
	if err != nil {
		return "", SourceNone, err
	}
	if key == "" {
		return "", SourceNone, nil
	}
	return key, SourceDatabase, nil
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw)
	return err
}
