package memory

import (
	"context"

	"goalcoach/internal/conversation"
)

// Persister stores the whole user-key → state document.
type Persister interface {
	Name() string
	// Load returns an empty map, not an error, when nothing has been saved yet.
	Load(ctx context.Context) (map[string]conversation.State, error)
	Save(ctx context.Context, rows map[string]conversation.State) error
}
