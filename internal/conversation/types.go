package conversation

import "strings"

// MaxHistory is the number of turns kept per user key.
const MaxHistory = 12

// AnonymousKey partitions state for requests that carry no user id.
const AnonymousKey = "anonymous"

type Tone string

const (
	ToneBright  Tone = "bright"
	ToneNeutral Tone = "neutral"
	ToneHeavy   Tone = "heavy"
)

func (t Tone) Valid() bool {
	switch t {
	case ToneBright, ToneNeutral, ToneHeavy:
		return true
	}
	return false
}

// Delta is the change a turn of this tone applies to the cumulative score.
func (t Tone) Delta() int {
	switch t {
	case ToneBright:
		return 1
	case ToneHeavy:
		return -1
	default:
		return 0
	}
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

type SentimentScore struct {
	Label      Tone    `json:"label"`
	Confidence float64 `json:"confidence"`
}

type HistoryItem struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Sentiment Tone   `json:"sentiment,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

type Stage string

const (
	StageDiscovering Stage = "discovering"
	StageForming     Stage = "forming"
	StageAnchoring   Stage = "anchoring"
)

type PersonalitySnapshot struct {
	Stage        Stage    `json:"stage"`
	Archetype    string   `json:"archetype"`
	Voice        string   `json:"voice"`
	Focus        string   `json:"focus"`
	Affirmations []string `json:"affirmations"`
}

// Clone returns a copy that shares no memory with p. A nil receiver yields nil.
func (p *PersonalitySnapshot) Clone() *PersonalitySnapshot {
	if p == nil {
		return nil
	}
	out := *p
	out.Affirmations = append([]string{}, p.Affirmations...)
	return &out
}

// State is everything remembered for one user key.
type State struct {
	History      []HistoryItem        `json:"history"`
	Personality  *PersonalitySnapshot `json:"personality,omitempty"`
	Interactions int                  `json:"interactions"`
	Score        int                  `json:"score"`
	UpdatedAt    int64                `json:"updatedAt"`
}

func (s State) Clone() State {
	out := s
	out.History = CloneHistory(s.History)
	out.Personality = s.Personality.Clone()
	return out
}

// CloneHistory copies items into a new non-nil slice.
func CloneHistory(items []HistoryItem) []HistoryItem {
	out := make([]HistoryItem, len(items))
	copy(out, items)
	return out
}

// Context is the request-scoped identity a transport hands to the core.
type Context struct {
	UserID        string
	Phase         string
	SessionID     string
	ClientVersion string
}

// NewContext trims every field, drops blanks and lower-cases the phase.
func NewContext(userID, phase, sessionID, clientVersion string) Context {
	return Context{
		UserID:        strings.TrimSpace(userID),
		Phase:         strings.ToLower(strings.TrimSpace(phase)),
		SessionID:     strings.TrimSpace(sessionID),
		ClientVersion: strings.TrimSpace(clientVersion),
	}
}

// UserKey maps a possibly blank user id to the key its state lives under.
func UserKey(userID string) string {
	if id := strings.TrimSpace(userID); id != "" {
		return id
	}
	return AnonymousKey
}

// Meta carries adapter and orchestrator metadata in the response envelope.
type Meta map[string]any

func (m Meta) Clone() Meta {
	out := make(Meta, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
