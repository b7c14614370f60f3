// Package adapter turns a scored user message into a coach reply. Implementations are
// interchangeable and selected by name through a Registry.
package adapter

import (
	"context"
	"errors"

	"goalcoach/internal/conversation"
)

// Kind names a registered adapter. Lookups are case-insensitive.
type Kind string

const (
	KindDeterministic Kind = "deterministic"
	KindSimulated     Kind = "mock-openai"
	KindGemini        Kind = "gemini"
)

var ErrEmptyReply = errors.New("adapter returned an empty reply")

type Input struct {
	Message     string
	History     []conversation.HistoryItem
	Personality *conversation.PersonalitySnapshot
	Context     conversation.Context
}

type Output struct {
	Reply     string
	Sentiment conversation.SentimentScore
	Meta      conversation.Meta
}

type Adapter interface {
	Name() string
	Generate(ctx context.Context, in Input) (Output, error)
}
