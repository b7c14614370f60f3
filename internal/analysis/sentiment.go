// Package analysis holds the stateless text heuristics the coach runs on every turn:
// keyword sentiment, question detection, focus snippets and goal extraction.
package analysis

import (
	"math"
	"strings"

	"goalcoach/internal/conversation"
)

const maxConfidence = 0.85

var brightMarkers = []string{
	"good",
	"great",
	"grateful",
	"excited",
	"hopeful",
	"energized",
	"joy",
	"ready",
	"proud",
	"calm",
}

var heavyMarkers = []string{
	"tired",
	"stuck",
	"lost",
	"sad",
	"overwhelmed",
	"anxious",
	"worried",
	"afraid",
	"lonely",
	"burned out",
}

var questionMarkers = []string{"?", "what now", "how do i", "where do i start", "idk", "i don't know"}

// ScoreSentiment counts marker hits by substring containment, so compound words can
// match more than one marker.
func ScoreSentiment(message string) conversation.SentimentScore {
	normalized := strings.ToLower(message)
	net := 0
	for _, m := range brightMarkers {
		if strings.Contains(normalized, m) {
			net++
		}
	}
	for _, m := range heavyMarkers {
		if strings.Contains(normalized, m) {
			net--
		}
	}

	label := conversation.ToneNeutral
	switch {
	case net > 0:
		label = conversation.ToneBright
	case net < 0:
		label = conversation.ToneHeavy
	}
	return conversation.SentimentScore{
		Label:      label,
		Confidence: math.Min(math.Abs(float64(net))/3, maxConfidence),
	}
}

func HasQuestion(message string) bool {
	normalized := strings.ToLower(message)
	for _, m := range questionMarkers {
		if strings.Contains(normalized, m) {
			return true
		}
	}
	return false
}
