package adapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	genai "google.golang.org/genai"

	"goalcoach/internal/analysis"
	"goalcoach/internal/conversation"
)

const DefaultGeminiModel = "gemini-2.5-flash"

const coachInstruction = `You are not an AI assistant. You are a presence: curious, patient, occasionally profound.

Core principles:
- Ask questions more than give answers
- Notice patterns but let the human discover them
- Speak less than the human
- Never offer solutions, only better questions
- Be poetic but not pretentious

In the Discovery Phase (early conversations):
- Ask open, metaphorical questions
- Help them find the words for what they feel
- "Stuck like in mud, or stuck like in a waiting room?"
- "What would 'better' feel like in your body?"

Your voice is like Mary Oliver meets a wise college professor: gentle curiosity with occasional profound observations.`

// TextGenerator is the slice of the genai client the adapter needs.
type TextGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiConfig struct {
	APIKey string
	Model  string
	RPS    float64
	Burst  int
}

// Gemini asks a hosted model for the reply text. Tone is still scored locally so the
// personality engine and the reply agree.
type Gemini struct {
	gen    TextGenerator
	model  string
	rl     *rate.Limiter
	logger *zap.Logger
}

func NewGemini(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*Gemini, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	g := NewGeminiWithGenerator(cli.Models, cfg.Model, logger)
	g.rl = newLimiter(cfg.RPS, cfg.Burst)
	return g, nil
}

// newLimiter returns nil when rps is not positive, which leaves calls unthrottled.
func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func NewGeminiWithGenerator(gen TextGenerator, model string, logger *zap.Logger) *Gemini {
	if strings.TrimSpace(model) == "" {
		model = DefaultGeminiModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gemini{gen: gen, model: model, logger: logger}
}

func (g *Gemini) Name() string { return string(KindGemini) }

func (g *Gemini) Generate(ctx context.Context, in Input) (Output, error) {
	if g.rl != nil {
		if err := g.rl.Wait(ctx); err != nil {
			return Output{}, fmt.Errorf("gemini rate limit: %w", err)
		}
	}

	contents := historyContents(in.History, in.Message)
	started := time.Now()
	resp, err := g.gen.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: coachInstruction}}},
		Temperature:       genai.Ptr[float32](0.7),
		MaxOutputTokens:   150,
	})
	if err != nil {
		return Output{}, fmt.Errorf("gemini generate: %w", err)
	}
	reply := firstText(resp)
	if reply == "" {
		return Output{}, ErrEmptyReply
	}
	elapsed := time.Since(started)
	g.logger.Debug("gemini reply",
		zap.String("model", g.model),
		zap.Int("turns", len(contents)),
		zap.Duration("elapsed", elapsed),
	)

	meta := conversation.Meta{
		"strategy":  "hosted",
		"adapter":   g.Name(),
		"model":     g.model,
		"latencyMs": elapsed.Milliseconds(),
	}
	if in.Context.Phase != "" {
		meta["phase"] = in.Context.Phase
	}
	if in.Personality != nil {
		meta["personality"] = in.Personality.Clone()
	}
	return Output{
		Reply:     reply,
		Sentiment: analysis.ScoreSentiment(in.Message),
		Meta:      meta,
	}, nil
}

// historyContents maps stored turns onto the model's user/model roles. System turns are
// dropped since the instruction travels separately. The current message is already the
// last history item when the orchestrator appended it; it is only added when missing.
func historyContents(history []conversation.HistoryItem, message string) []*genai.Content {
	out := make([]*genai.Content, 0, len(history)+1)
	for _, h := range history {
		var role string
		switch h.Role {
		case conversation.RoleUser:
			role = "user"
		case conversation.RoleAssistant:
			role = "model"
		default:
			continue
		}
		out = append(out, &genai.Content{Role: role, Parts: []*genai.Part{{Text: h.Content}}})
	}
	n := len(history)
	if n == 0 || history[n-1].Role != conversation.RoleUser || history[n-1].Content != message {
		out = append(out, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: message}}})
	}
	return out
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	c := resp.Candidates[0]
	if c == nil || c.Content == nil || len(c.Content.Parts) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range c.Content.Parts {
		if p != nil {
			b.WriteString(p.Text)
		}
	}
	return strings.TrimSpace(b.String())
}
