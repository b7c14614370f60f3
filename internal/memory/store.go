// Package memory keeps per-user conversation state in process and mirrors the whole
// document to a Persister after every mutation.
package memory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"goalcoach/internal/conversation"
	"goalcoach/internal/logging"
)

const defaultPersistTimeout = 5 * time.Second

// Store is safe for concurrent use. Two requests for the same user that interleave
// load and save still resolve last-write-wins on the full record.
type Store struct {
	persister      Persister
	logger         *zap.Logger
	now            func() time.Time
	capacity       int
	persistTimeout time.Duration

	mu     sync.RWMutex
	byUser map[string]conversation.State

	// persistMu orders snapshots so an older document never overwrites a newer one.
	persistMu sync.Mutex
}

type Option func(*Store)

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = logging.OrNop(l) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

func WithPersistTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.persistTimeout = d
		}
	}
}

// New builds a store and restores whatever the persister holds. A missing or unreadable
// snapshot leaves the store empty; it never fails construction.
func New(persister Persister, opts ...Option) *Store {
	s := &Store{
		persister:      persister,
		logger:         zap.NewNop(),
		now:            time.Now,
		capacity:       conversation.MaxHistory,
		persistTimeout: defaultPersistTimeout,
		byUser:         make(map[string]conversation.State),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.restore()
	return s
}

func (s *Store) restore() {
	if s.persister == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()
	rows, err := s.persister.Load(ctx)
	if err != nil {
		s.logger.Warn("failed to load conversation memory store",
			zap.String("backend", s.persister.Name()), zap.Error(err))
		return
	}
	for key, state := range rows {
		s.byUser[key] = s.normalize(state)
	}
	s.logger.Debug("conversation memory restored",
		zap.String("backend", s.persister.Name()), zap.Int("users", len(rows)))
}

func (s *Store) normalize(state conversation.State) conversation.State {
	out := state.Clone()
	if len(out.History) > s.capacity {
		out.History = out.History[len(out.History)-s.capacity:]
	}
	return out
}

func (s *Store) defaultState() conversation.State {
	return conversation.State{
		History:   []conversation.HistoryItem{},
		UpdatedAt: s.now().UnixMilli(),
	}
}

// Load returns a copy of the user's state, or a fresh default when none exists.
func (s *Store) Load(userID string) conversation.State {
	key := conversation.UserKey(userID)
	s.mu.RLock()
	state, ok := s.byUser[key]
	s.mu.RUnlock()
	if !ok {
		return s.defaultState()
	}
	return state.Clone()
}

// SeedHistory installs prior turns for a user that has none yet. It is a no-op when
// items is empty or the user already has history.
func (s *Store) SeedHistory(userID string, items []conversation.HistoryItem) conversation.State {
	if len(items) == 0 {
		return s.Load(userID)
	}
	key := conversation.UserKey(userID)

	s.mu.Lock()
	state, ok := s.byUser[key]
	if !ok {
		state = s.defaultState()
	}
	if len(state.History) > 0 {
		out := state.Clone()
		s.mu.Unlock()
		return out
	}
	if len(items) > s.capacity {
		items = items[len(items)-s.capacity:]
	}
	state.History = conversation.CloneHistory(items)
	state.UpdatedAt = s.now().UnixMilli()
	s.byUser[key] = state
	out := state.Clone()
	s.mu.Unlock()

	s.persist()
	return out
}

// AppendHistory adds item unless it repeats the last turn's role and content, then drops
// the oldest turns beyond capacity.
func (s *Store) AppendHistory(userID string, item conversation.HistoryItem) conversation.State {
	key := conversation.UserKey(userID)

	s.mu.Lock()
	state, ok := s.byUser[key]
	if !ok {
		state = s.defaultState()
	}
	if n := len(state.History); n > 0 {
		last := state.History[n-1]
		if last.Role == item.Role && last.Content == item.Content {
			out := state.Clone()
			s.mu.Unlock()
			return out
		}
	}
	history := append(conversation.CloneHistory(state.History), item)
	if len(history) > s.capacity {
		history = history[len(history)-s.capacity:]
	}
	state.History = history
	state.UpdatedAt = s.now().UnixMilli()
	s.byUser[key] = state
	out := state.Clone()
	s.mu.Unlock()

	s.persist()
	return out
}

// SavePersonality overwrites the personality and counters. History is left alone.
func (s *Store) SavePersonality(userID string, snapshot conversation.PersonalitySnapshot, score, interactions int) conversation.State {
	key := conversation.UserKey(userID)

	s.mu.Lock()
	state, ok := s.byUser[key]
	if !ok {
		state = s.defaultState()
	}
	state = state.Clone()
	state.Personality = snapshot.Clone()
	state.Score = score
	state.Interactions = interactions
	state.UpdatedAt = s.now().UnixMilli()
	s.byUser[key] = state
	out := state.Clone()
	s.mu.Unlock()

	s.persist()
	return out
}

// Reset forgets one user.
func (s *Store) Reset(userID string) {
	s.mu.Lock()
	delete(s.byUser, conversation.UserKey(userID))
	s.mu.Unlock()
	s.persist()
}

// ResetAll forgets every user.
func (s *Store) ResetAll() {
	s.mu.Lock()
	s.byUser = make(map[string]conversation.State)
	s.mu.Unlock()
	s.persist()
}

// Users lists the keys that currently hold state.
func (s *Store) Users() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.byUser))
	for key := range s.byUser {
		out = append(out, key)
	}
	return out
}

// persist writes the full document. Failures are logged and the in-memory state stays
// authoritative.
func (s *Store) persist() {
	if s.persister == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	rows := make(map[string]conversation.State, len(s.byUser))
	for key, state := range s.byUser {
		rows[key] = state.Clone()
	}
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()
	if err := s.persister.Save(ctx, rows); err != nil {
		s.logger.Warn("failed to persist conversation memory store",
			zap.String("backend", s.persister.Name()), zap.Error(err))
	}
}
