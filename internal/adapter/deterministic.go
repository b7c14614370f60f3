package adapter

import (
	"context"
	"strings"

	"goalcoach/internal/analysis"
	"goalcoach/internal/conversation"
)

// Deterministic replies from a fixed script. Same message, same reply.
type Deterministic struct{}

func NewDeterministic() *Deterministic { return &Deterministic{} }

func (d *Deterministic) Name() string { return string(KindDeterministic) }

func (d *Deterministic) Generate(_ context.Context, in Input) (Output, error) {
	reply, sentiment := Script(in.Message)
	meta := conversation.Meta{
		"strategy":    "scripted",
		"version":     1,
		"adapter":     d.Name(),
		"historySize": len(in.History),
	}
	if in.Context.Phase != "" {
		meta["phase"] = in.Context.Phase
	}
	if in.Personality != nil {
		meta["personality"] = in.Personality.Clone()
	}
	return Output{Reply: reply, Sentiment: sentiment, Meta: meta}, nil
}

// Script builds the scripted reply: a tone opening, the quoted focus snippet and a
// closing prompt picked by tone and whether the user asked something.
func Script(message string) (string, conversation.SentimentScore) {
	sentiment := analysis.ScoreSentiment(message)
	question := analysis.HasQuestion(message)

	var opening, prompt string
	switch sentiment.Label {
	case conversation.ToneBright:
		opening = "I can feel the spark in what you shared."
		prompt = "What's one small move you want to protect while that energy is here?"
	case conversation.ToneHeavy:
		opening = "I'm sensing some weight in this moment."
		if question {
			prompt = "Let's not rush it - what would a 2% gentler next step look like?"
		} else {
			prompt = "Take a breath with me. What feels like the kindest next step you could take?"
		}
	default:
		opening = "Thanks for coming as you are right now."
		if question {
			prompt = "Let's explore it slowly - what detail feels important to examine first?"
		} else {
			prompt = "Where should we shine the light together right now?"
		}
	}

	reflection := ""
	if snippet, ok := analysis.FocusSnippet(message); ok {
		reflection = ` "` + snippet + `"`
	}
	return strings.TrimSpace(opening + reflection + " " + prompt), sentiment
}
