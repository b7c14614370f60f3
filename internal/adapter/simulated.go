package adapter

import (
	"context"
	"strings"
	"time"

	"goalcoach/internal/analysis"
	"goalcoach/internal/conversation"
)

// DefaultSimulatedLatency stands in for a hosted model's round trip.
const DefaultSimulatedLatency = 20 * time.Millisecond

const defaultPhase = "discovery"

var phaseGlosses = map[string]string{
	"discovery":   "We are still listening for the edges. Stay with the texture of it.",
	"dance":       "You have practiced this rhythm. Notice where it wants to lead next.",
	"integration": "Your steps are almost muscle memory. Let us check what still needs presence.",
}

var analysisTemplates = map[conversation.Tone]string{
	conversation.ToneBright:  "The emotional tone leans bright with momentum we can harness.",
	conversation.ToneNeutral: "The emotional tone feels balanced; we can choose the direction intentionally.",
	conversation.ToneHeavy:   "There is weight here that deserves gentleness and pacing.",
}

// Simulated mimics a remote model: it waits a fixed latency, then composes a longer
// reflective reply from the same analysis the scripted adapter uses.
type Simulated struct {
	latency time.Duration
}

func NewSimulated(latency time.Duration) *Simulated {
	if latency < 0 {
		latency = 0
	}
	return &Simulated{latency: latency}
}

func (s *Simulated) Name() string { return string(KindSimulated) }

func (s *Simulated) Generate(ctx context.Context, in Input) (Output, error) {
	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Output{}, ctx.Err()
		case <-timer.C:
		}
	}

	sentiment := analysis.ScoreSentiment(in.Message)
	question := analysis.HasQuestion(in.Message)
	seed, _ := Script(in.Message)

	lines := []string{analysisTemplates[sentiment.Label]}
	if snippet, ok := analysis.FocusSnippet(in.Message); ok {
		lines = append(lines, `Here is the fragment I am holding: "`+snippet+`".`)
	}
	lines = append(lines, phaseGuidance(in.Context.Phase), followUp(sentiment.Label, question))

	meta := conversation.Meta{
		"strategy":          string(KindSimulated),
		"deterministicSeed": seed,
		"adapter":           s.Name(),
		"latencyMs":         s.latency.Milliseconds(),
	}
	if in.Context.Phase != "" {
		meta["phase"] = in.Context.Phase
	}
	if len(in.History) > 0 {
		meta["historySize"] = len(in.History)
	}
	if in.Personality != nil {
		meta["personality"] = in.Personality.Clone()
		lines = append(lines, "Keep holding "+strings.ToLower(in.Personality.Focus)+".")
	}

	return Output{
		Reply:     strings.Join(lines, " "),
		Sentiment: sentiment,
		Meta:      meta,
	}, nil
}

func phaseGuidance(phase string) string {
	if gloss, ok := phaseGlosses[strings.ToLower(phase)]; ok {
		return gloss
	}
	return phaseGlosses[defaultPhase]
}

func followUp(tone conversation.Tone, question bool) string {
	switch tone {
	case conversation.ToneBright:
		return "What commitment would protect that spark over the next 24 hours?"
	case conversation.ToneHeavy:
		if question {
			return "Take pressure off the answer. What is the smallest experiment that would move this one notch?"
		}
		return "Before moving forward, what support would make this feel 2% lighter?"
	default:
		if question {
			return "Name the first detail that deserves more light and we will stay with it."
		}
		return "Choose one angle you want to examine more closely and I will stay with you there."
	}
}
