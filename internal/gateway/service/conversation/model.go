package conversation

import (
	"fmt"
	"sort"
	"strings"

	domain "goalcoach/internal/conversation"
)

type Request struct {
	Message string
	History []domain.HistoryItem
	Context domain.Context
	// RequestID is the caller's retry key. Leave it empty for server generated ids.
	RequestID string
}

type Response struct {
	Reply     string                `json:"reply"`
	Sentiment domain.SentimentScore `json:"sentiment"`
	Meta      domain.Meta           `json:"meta"`
}

func (r Response) clone() Response {
	r.Meta = r.Meta.Clone()
	return r
}

// ValidationError carries per-field messages in the same shape the client already parses:
// form-level errors plus a field name to messages map.
type ValidationError struct {
	FormErrors  []string            `json:"formErrors"`
	FieldErrors map[string][]string `json:"fieldErrors"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.FieldErrors)+len(e.FormErrors))
	parts = append(parts, e.FormErrors...)
	keys := make([]string, 0, len(e.FieldErrors))
	for k := range e.FieldErrors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.FieldErrors[k], ", "))
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.FieldErrors == nil {
		e.FieldErrors = make(map[string][]string)
	}
	e.FieldErrors[field] = append(e.FieldErrors[field], msg)
}

// Validate checks the inbound payload before any state is touched.
func Validate(message string, history []domain.HistoryItem) error {
	verr := &ValidationError{FormErrors: []string{}}
	if message == "" {
		verr.add("message", "Message is required")
	}
	if len(history) > domain.MaxHistory {
		verr.add("history", fmt.Sprintf("History must contain at most %d items", domain.MaxHistory))
	}
	for i, item := range history {
		if !item.Role.Valid() {
			verr.add(fmt.Sprintf("history.%d.role", i), "Role must be one of user, assistant, system")
		}
		if item.Content == "" {
			verr.add(fmt.Sprintf("history.%d.content", i), "History message requires content")
		}
		if item.Sentiment != "" && !item.Sentiment.Valid() {
			verr.add(fmt.Sprintf("history.%d.sentiment", i), "Sentiment must be one of bright, neutral, heavy")
		}
	}
	if len(verr.FieldErrors) > 0 {
		return verr
	}
	return nil
}
