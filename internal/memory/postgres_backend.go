package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"

	"goalcoach/internal/conversation"
)

// PostgresPersister keeps one row per user key. Save replaces the whole table inside a
// transaction so it behaves like the file rewrite.
type PostgresPersister struct {
	db *sql.DB

	schemaOnce sync.Once
	schemaErr  error
}

func NewPostgresPersister(ctx context.Context, dsn string) (*PostgresPersister, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresPersister{db: db}, nil
}

func (p *PostgresPersister) Name() string { return "postgres" }

func (p *PostgresPersister) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *PostgresPersister) ensureSchema(ctx context.Context) error {
	p.schemaOnce.Do(func() {
		_, p.schemaErr = p.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS conversation_states (
  user_key TEXT PRIMARY KEY,
  state JSONB NOT NULL,
  updated_at BIGINT NOT NULL DEFAULT 0
);`)
	})
	return p.schemaErr
}

func (p *PostgresPersister) Load(ctx context.Context) (map[string]conversation.State, error) {
	if err := p.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	rows, err := p.db.QueryContext(ctx, `SELECT user_key, state FROM conversation_states`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]conversation.State{}
	for rows.Next() {
		var (
			key string
			raw []byte
		)
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		var state conversation.State
		if err := json.Unmarshal(raw, &state); err != nil {
			return nil, fmt.Errorf("decode state for %s: %w", key, err)
		}
		if state.History == nil {
			state.History = []conversation.HistoryItem{}
		}
		out[key] = state
	}
	return out, rows.Err()
}

func (p *PostgresPersister) Save(ctx context.Context, states map[string]conversation.State) error {
	if err := p.ensureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_states`); err != nil {
		return err
	}
	for key, state := range states {
		raw, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("encode state for %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO conversation_states (user_key, state, updated_at)
VALUES ($1, $2, $3)`, key, string(raw), state.UpdatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}
