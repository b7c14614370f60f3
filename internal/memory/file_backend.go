package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"goalcoach/internal/conversation"
)

// FilePersister keeps the document as one indented JSON file.
type FilePersister struct {
	path string
}

func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: strings.TrimSpace(path)}
}

func (p *FilePersister) Name() string { return "file:" + p.path }

func (p *FilePersister) Path() string { return p.path }

func (p *FilePersister) Load(_ context.Context) (map[string]conversation.State, error) {
	rows := map[string]conversation.State{}
	b, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return rows, nil
		}
		return nil, fmt.Errorf("read %s: %w", p.path, err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return rows, nil
	}
	return decodeDocument(b)
}

func (p *FilePersister) Save(_ context.Context, rows map[string]conversation.State) error {
	b, err := encodeDocument(rows)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	return os.Rename(tmp, p.path)
}

func encodeDocument(rows map[string]conversation.State) ([]byte, error) {
	if rows == nil {
		rows = map[string]conversation.State{}
	}
	b, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode conversation state: %w", err)
	}
	return b, nil
}

func decodeDocument(b []byte) (map[string]conversation.State, error) {
	rows := map[string]conversation.State{}
	if err := json.Unmarshal(b, &rows); err != nil {
		return nil, fmt.Errorf("decode conversation state: %w", err)
	}
	for key, state := range rows {
		if state.History == nil {
			state.History = []conversation.HistoryItem{}
			rows[key] = state
		}
	}
	return rows, nil
}
