// Package personality advances the per-user stage and archetype on every turn.
package personality

import (
	"fmt"

	"go.uber.org/zap"

	"goalcoach/internal/analysis"
	"goalcoach/internal/conversation"
	"goalcoach/internal/logging"
)

const (
	formingThreshold   = 4
	anchoringThreshold = 10

	radiantScore  = 3
	groundedScore = -3
)

type stageTemplate struct {
	voice        string
	focus        string
	affirmations []string
}

var stageTemplates = map[conversation.Stage]stageTemplate{
	conversation.StageDiscovering: {
		voice:        "Curious companion",
		focus:        "Notice what lights you up",
		affirmations: []string{"Every small spark is data.", "You are allowed to arrive as you are."},
	},
	conversation.StageForming: {
		voice:        "Steady rhythm",
		focus:        "Protect the rituals that serve you",
		affirmations: []string{"Consistency can feel like kindness.", "You can adjust without abandoning."},
	},
	conversation.StageAnchoring: {
		voice:        "Quiet confidence",
		focus:        "Trust the muscle memory you've built",
		affirmations: []string{"Your practices live in you now.", "Return only to what nourishes."},
	},
}

var stageHints = map[conversation.Stage]map[conversation.Tone]string{
	conversation.StageDiscovering: {
		conversation.ToneBright:  "Collect the details of what feels alive right now.",
		conversation.ToneNeutral: "Stay curious about what wants to emerge.",
		conversation.ToneHeavy:   "Name the weight gently - awareness is the first step.",
	},
	conversation.StageForming: {
		conversation.ToneBright:  "Channel that energy into one tiny ritual you can repeat.",
		conversation.ToneNeutral: "Choose one practice to refine; let it guide the day.",
		conversation.ToneHeavy:   "Find the 2% move that keeps momentum without forcing.",
	},
	conversation.StageAnchoring: {
		conversation.ToneBright:  "Share the light - teaching it will deepen your integration.",
		conversation.ToneNeutral: "Check which habits still fit; release the ones that don't.",
		conversation.ToneHeavy:   "Lean on the muscle memory you already built; it can hold you.",
	},
}

// StateStore is the part of the memory store the engine reads and writes.
type StateStore interface {
	Load(userID string) conversation.State
	SavePersonality(userID string, snapshot conversation.PersonalitySnapshot, score, interactions int) conversation.State
}

type Input struct {
	UserID  string
	Message string
	// History is accepted for callers that already hold it; the stage machine only
	// depends on the stored counters.
	History []conversation.HistoryItem
	// Sentiment overrides scoring Message when set.
	Sentiment *conversation.Tone
}

type Computation struct {
	Snapshot     conversation.PersonalitySnapshot
	Hint         string
	Interactions int
	Score        int
}

type Engine struct {
	store  StateStore
	logger *zap.Logger
}

func NewEngine(store StateStore, logger *zap.Logger) *Engine {
	return &Engine{store: store, logger: logging.OrNop(logger)}
}

// Compute counts one interaction for the user and persists the new snapshot. Each call
// advances state, so call it once per conversational turn.
func (e *Engine) Compute(in Input) (Computation, error) {
	if e == nil || e.store == nil {
		return Computation{}, fmt.Errorf("personality engine has no store")
	}
	current := e.store.Load(in.UserID)

	tone := analysis.ScoreSentiment(in.Message).Label
	if in.Sentiment != nil && in.Sentiment.Valid() {
		tone = *in.Sentiment
	}

	interactions := current.Interactions + 1
	score := current.Score + tone.Delta()
	stage := StageFor(interactions)
	tmpl := stageTemplates[stage]

	snapshot := conversation.PersonalitySnapshot{
		Stage:        stage,
		Archetype:    ArchetypeFor(score),
		Voice:        tmpl.voice,
		Focus:        tmpl.focus,
		Affirmations: append([]string{}, tmpl.affirmations...),
	}
	hint := composeHint(stage, tone, in.Message)

	e.store.SavePersonality(in.UserID, snapshot, score, interactions)
	if current.Personality != nil && current.Personality.Stage != stage {
		e.logger.Info("personality stage advanced",
			zap.String("user", conversation.UserKey(in.UserID)),
			zap.String("from", string(current.Personality.Stage)),
			zap.String("to", string(stage)),
			zap.Int("interactions", interactions))
	}

	return Computation{
		Snapshot:     snapshot,
		Hint:         hint,
		Interactions: interactions,
		Score:        score,
	}, nil
}

// StageFor maps a post-increment interaction count to a stage.
func StageFor(interactions int) conversation.Stage {
	switch {
	case interactions >= anchoringThreshold:
		return conversation.StageAnchoring
	case interactions >= formingThreshold:
		return conversation.StageForming
	default:
		return conversation.StageDiscovering
	}
}

func ArchetypeFor(score int) string {
	switch {
	case score >= radiantScore:
		return "Radiant Explorer"
	case score <= groundedScore:
		return "Grounded Ember"
	default:
		return "Listening Mirror"
	}
}

func composeHint(stage conversation.Stage, tone conversation.Tone, message string) string {
	base := stageHints[stage][tone]
	if snippet, ok := analysis.FocusSnippet(message); ok {
		return fmt.Sprintf("%s I'm holding \"%s\".", base, snippet)
	}
	return base
}
