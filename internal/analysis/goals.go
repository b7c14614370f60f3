package analysis

import (
	"regexp"
	"strings"
	"unicode"

	"goalcoach/internal/conversation"
)

const (
	minGoalHistory = 6
	maxGoals       = 3
)

var desireMarkers = []string{"want", "wish", "need", "struggling", "longing", "dream", "hope"}

var actionRewrites = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`(?i)\bi want to\b`), ""},
	{regexp.MustCompile(`(?i)\bi want\b`), ""},
	{regexp.MustCompile(`(?i)\bi wish i could\b`), ""},
	{regexp.MustCompile(`(?i)\bi wish\b`), ""},
	{regexp.MustCompile(`(?i)\bi need to\b`), ""},
	{regexp.MustCompile(`(?i)\bi need\b`), ""},
	{regexp.MustCompile(`(?i)\bi'm struggling to\b`), "Practice "},
	{regexp.MustCompile(`(?i)\bi'm struggling with\b`), "Care for "},
	{regexp.MustCompile(`(?i)\bi hope to\b`), ""},
}

// Goal is a user desire rewritten as something they could act on.
type Goal struct {
	Raw  string `json:"raw"`
	Text string `json:"text"`
}

// ExtractGoals looks for desire statements once a conversation has some depth and returns
// the most recent three, oldest first.
func ExtractGoals(history []conversation.HistoryItem) []Goal {
	if len(history) < minGoalHistory {
		return nil
	}
	var desires []conversation.HistoryItem
	for _, item := range history {
		if isDesire(item) {
			desires = append(desires, item)
		}
	}
	if len(desires) > maxGoals {
		desires = desires[len(desires)-maxGoals:]
	}
	goals := make([]Goal, 0, len(desires))
	for _, d := range desires {
		goals = append(goals, Goal{Raw: d.Content, Text: actionable(d.Content)})
	}
	return goals
}

func isDesire(item conversation.HistoryItem) bool {
	if item.Role != conversation.RoleUser {
		return false
	}
	content := strings.ToLower(item.Content)
	for _, m := range desireMarkers {
		if strings.Contains(content, m) {
			return true
		}
	}
	return false
}

func actionable(raw string) string {
	out := strings.TrimSpace(raw)
	for _, rw := range actionRewrites {
		if loc := rw.pattern.FindStringIndex(out); loc != nil {
			out = strings.TrimSpace(out[:loc[0]] + rw.replacement + out[loc[1]:])
		}
	}
	if out == "" {
		return "Explore this desire"
	}
	if r := []rune(out); unicode.IsLower(r[0]) && r[0] <= unicode.MaxASCII {
		r[0] = unicode.ToUpper(r[0])
		out = string(r)
	}
	if !strings.ContainsAny(out[len(out)-1:], ".!?") {
		out += "."
	}
	return out
}
