// Package conversation runs one coaching turn: it records the user's message, advances
// the personality model, asks the selected adapter for a reply and records that too.
package conversation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"goalcoach/internal/adapter"
	"goalcoach/internal/analysis"
	domain "goalcoach/internal/conversation"
	"goalcoach/internal/logging"
	"goalcoach/internal/memory"
	"goalcoach/internal/personality"
)

const (
	DefaultAdapterTimeout  = 15 * time.Second
	DefaultReplayCacheSize = 256

	createdAtLayout = "2006-01-02T15:04:05.000Z07:00"
)

type Config struct {
	AdapterTimeout time.Duration
	// ReplayCacheSize bounds how many caller supplied request ids are remembered. Zero
	// disables replay.
	ReplayCacheSize int
}

type Service struct {
	store    *memory.Store
	engine   *personality.Engine
	registry *adapter.Registry
	selector *adapter.Selector
	timeout  time.Duration
	replay   *lru.Cache[string, Response]
	logger   *zap.Logger
	now      func() time.Time
}

func New(store *memory.Store, registry *adapter.Registry, selector *adapter.Selector, cfg Config, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("conversation service requires a store")
	}
	if registry == nil {
		registry = adapter.NewRegistry()
	}
	if selector == nil {
		selector = adapter.NewSelector(string(adapter.KindDeterministic))
	}
	logger = logging.OrNop(logger)

	s := &Service{
		store:    store,
		engine:   personality.NewEngine(store, logger),
		registry: registry,
		selector: selector,
		timeout:  cfg.AdapterTimeout,
		logger:   logger,
		now:      time.Now,
	}
	if cfg.ReplayCacheSize > 0 {
		cache, err := lru.New[string, Response](cfg.ReplayCacheSize)
		if err != nil {
			return nil, fmt.Errorf("replay cache: %w", err)
		}
		s.replay = cache
	}
	return s, nil
}

// SetAdapter switches the reply strategy for every request that starts afterwards.
func (s *Service) SetAdapter(name string) {
	s.selector.Set(name)
	s.logger.Info("adapter selected", zap.String("requested", name), zap.String("active", s.ActiveAdapter()))
}

// ActiveAdapter is the name the next request will resolve to.
func (s *Service) ActiveAdapter() string {
	return s.registry.Resolve(s.selector.Current()).Name()
}

func (s *Service) Adapters() []string {
	return s.registry.Names()
}

func (s *Service) State(userID string) domain.State {
	return s.store.Load(userID)
}

func (s *Service) Converse(ctx context.Context, req Request) (Response, error) {
	userKey := domain.UserKey(req.Context.UserID)
	replayKey := ""
	if s.replay != nil && strings.TrimSpace(req.RequestID) != "" {
		replayKey = replayKeyFor(userKey, req)
		if cached, ok := s.replay.Get(replayKey); ok {
			s.logger.Debug("replaying response", zap.String("user", userKey), zap.String("request_id", req.RequestID))
			return cached.clone(), nil
		}
	}

	existing := s.store.Load(req.Context.UserID)
	if len(existing.History) == 0 && len(req.History) > 0 {
		s.store.SeedHistory(req.Context.UserID, req.History)
	}

	sentiment := analysis.ScoreSentiment(req.Message)
	userState := s.store.AppendHistory(req.Context.UserID, domain.HistoryItem{
		Role:      domain.RoleUser,
		Content:   req.Message,
		Sentiment: sentiment.Label,
		CreatedAt: s.timestamp(),
	})

	tone := sentiment.Label
	comp, err := s.engine.Compute(personality.Input{
		UserID:    req.Context.UserID,
		Message:   req.Message,
		History:   userState.History,
		Sentiment: &tone,
	})
	if err != nil {
		return Response{}, fmt.Errorf("compute personality: %w", err)
	}

	active := s.registry.Resolve(s.selector.Current())
	genCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	snapshot := comp.Snapshot
	out, err := active.Generate(genCtx, adapter.Input{
		Message:     req.Message,
		History:     userState.History,
		Personality: &snapshot,
		Context:     req.Context,
	})
	if err != nil {
		s.logger.Warn("adapter failed",
			zap.String("adapter", active.Name()),
			zap.String("user", userKey),
			zap.Error(err))
		return Response{}, fmt.Errorf("adapter %s: %w", active.Name(), err)
	}

	final := s.store.AppendHistory(req.Context.UserID, domain.HistoryItem{
		Role:      domain.RoleAssistant,
		Content:   out.Reply,
		Sentiment: out.Sentiment.Label,
		CreatedAt: s.timestamp(),
	})

	meta := domain.Meta{"adapter": active.Name()}
	for k, v := range out.Meta {
		meta[k] = v
	}
	meta["personality"] = comp.Snapshot.Clone()
	meta["personalityHint"] = comp.Hint
	meta["historySize"] = len(final.History)
	if goals := analysis.ExtractGoals(final.History); len(goals) > 0 {
		meta["goals"] = goals
	}

	resp := Response{Reply: out.Reply, Sentiment: out.Sentiment, Meta: meta}
	if replayKey != "" {
		s.replay.Add(replayKey, resp.clone())
	}
	s.logger.Debug("turn complete",
		zap.String("user", userKey),
		zap.String("adapter", active.Name()),
		zap.String("tone", string(out.Sentiment.Label)),
		zap.Int("history", len(final.History)),
		zap.String("stage", string(comp.Snapshot.Stage)))
	return resp, nil
}

// replayKeyFor binds a request id to the exact payload it was first sent with, so a reused
// id carrying a different message runs as a new turn.
func replayKeyFor(userKey string, req Request) string {
	h := sha256.New()
	h.Write([]byte(req.Message))
	for _, item := range req.History {
		h.Write([]byte{0})
		h.Write([]byte(item.Role))
		h.Write([]byte{0})
		h.Write([]byte(item.Content))
		h.Write([]byte{0})
		h.Write([]byte(item.Sentiment))
	}
	return userKey + "|" + strings.TrimSpace(req.RequestID) + "|" + hex.EncodeToString(h.Sum(nil))
}

func (s *Service) timestamp() string {
	return s.now().UTC().Format(createdAtLayout)
}
