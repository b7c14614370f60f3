package conversation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"goalcoach/internal/adapter"
	"goalcoach/internal/analysis"
	domain "goalcoach/internal/conversation"
	"goalcoach/internal/memory"
)

func TestMain(m *testing.M) {
	// genai pulls in opencensus, whose view worker starts at init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type stubAdapter struct {
	name  string
	err   error
	block bool
	meta  domain.Meta
	calls int
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) Generate(ctx context.Context, in adapter.Input) (adapter.Output, error) {
	a.calls++
	if a.block {
		<-ctx.Done()
		return adapter.Output{}, ctx.Err()
	}
	if a.err != nil {
		return adapter.Output{}, a.err
	}
	return adapter.Output{
		Reply:     "stub reply to " + in.Message,
		Sentiment: domain.SentimentScore{Label: domain.ToneNeutral},
		Meta:      a.meta,
	}, nil
}

func newService(t *testing.T, store *memory.Store, cfg Config, extra ...adapter.Adapter) *Service {
	t.Helper()
	if store == nil {
		store = memory.New(nil)
	}
	reg := adapter.NewRegistry(append([]adapter.Adapter{adapter.NewSimulated(0)}, extra...)...)
	svc, err := New(store, reg, adapter.NewSelector("deterministic"), cfg, nil)
	require.NoError(t, err)
	return svc
}

func TestConverseFirstTurn(t *testing.T) {
	svc := newService(t, nil, Config{})
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC) }

	resp, err := svc.Converse(context.Background(), Request{Message: "I feel hopeful about the next chapter."})
	require.NoError(t, err)

	assert.Contains(t, resp.Reply, "spark")
	assert.Equal(t, domain.ToneBright, resp.Sentiment.Label)
	assert.Equal(t, "deterministic", resp.Meta["adapter"])
	assert.Equal(t, "scripted", resp.Meta["strategy"])
	assert.Equal(t, 2, resp.Meta["historySize"])
	assert.Equal(t, `Collect the details of what feels alive right now. I'm holding "I feel hopeful about the next chapter".`, resp.Meta["personalityHint"])
	snap, ok := resp.Meta["personality"].(*domain.PersonalitySnapshot)
	require.True(t, ok)
	assert.Equal(t, domain.StageDiscovering, snap.Stage)
	assert.NotContains(t, resp.Meta, "goals")

	state := svc.State("")
	require.Len(t, state.History, 2)
	assert.Equal(t, domain.RoleUser, state.History[0].Role)
	assert.Equal(t, domain.ToneBright, state.History[0].Sentiment)
	assert.Equal(t, "2024-05-01T09:30:00.000Z", state.History[0].CreatedAt)
	assert.Equal(t, domain.RoleAssistant, state.History[1].Role)
	assert.Equal(t, resp.Reply, state.History[1].Content)
	assert.Equal(t, 1, state.Interactions)
	assert.Equal(t, 1, state.Score)
}

func TestConverseSeedsOnlyEmptyHistory(t *testing.T) {
	svc := newService(t, nil, Config{})
	prior := []domain.HistoryItem{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "hello"},
	}
	ctx := domain.NewContext("seeded", "", "", "")

	resp, err := svc.Converse(context.Background(), Request{Message: "hello again", History: prior, Context: ctx})
	require.NoError(t, err)
	assert.Equal(t, 4, resp.Meta["historySize"])

	resp, err = svc.Converse(context.Background(), Request{Message: "one more", History: prior, Context: ctx})
	require.NoError(t, err)
	assert.Equal(t, 6, resp.Meta["historySize"])
	assert.Equal(t, "hi", svc.State("seeded").History[0].Content)
}

func TestConverseKeepsUsersApart(t *testing.T) {
	svc := newService(t, nil, Config{})
	_, err := svc.Converse(context.Background(), Request{Message: "a", Context: domain.NewContext("alice", "", "", "")})
	require.NoError(t, err)
	_, err = svc.Converse(context.Background(), Request{Message: "b", Context: domain.NewContext(" ", "", "", "")})
	require.NoError(t, err)

	assert.Len(t, svc.State("alice").History, 2)
	assert.Equal(t, "b", svc.State(domain.AnonymousKey).History[0].Content)
}

func TestConverseTrimsHistory(t *testing.T) {
	svc := newService(t, nil, Config{})
	var resp Response
	for i := 0; i < 8; i++ {
		var err error
		resp, err = svc.Converse(context.Background(), Request{Message: fmt.Sprintf("turn %d", i)})
		require.NoError(t, err)
	}
	assert.Equal(t, domain.MaxHistory, resp.Meta["historySize"])
	state := svc.State("")
	require.Len(t, state.History, domain.MaxHistory)
	assert.Equal(t, "turn 2", state.History[0].Content)
	assert.Equal(t, 8, state.Interactions)
	assert.Equal(t, domain.StageForming, state.Personality.Stage)
}

func TestConverseAdapterFailureKeepsUserTurn(t *testing.T) {
	boom := errors.New("upstream unavailable")
	broken := &stubAdapter{name: "broken", err: boom}
	svc := newService(t, nil, Config{}, broken)
	svc.SetAdapter("broken")

	_, err := svc.Converse(context.Background(), Request{Message: "I feel stuck"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	state := svc.State("")
	require.Len(t, state.History, 1)
	assert.Equal(t, domain.RoleUser, state.History[0].Role)
	assert.Equal(t, 1, state.Interactions)
	assert.Equal(t, -1, state.Score)
}

func TestConverseAdapterTimeout(t *testing.T) {
	slow := &stubAdapter{name: "slow", block: true}
	svc := newService(t, nil, Config{AdapterTimeout: 10 * time.Millisecond}, slow)
	svc.SetAdapter("slow")

	_, err := svc.Converse(context.Background(), Request{Message: "hello"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, svc.State("").History, 1)
}

func TestConverseAdapterSwitchMidSession(t *testing.T) {
	svc := newService(t, nil, Config{})

	first, err := svc.Converse(context.Background(), Request{Message: "I feel hopeful."})
	require.NoError(t, err)
	assert.Equal(t, "deterministic", first.Meta["adapter"])

	svc.SetAdapter("MOCK-OPENAI")
	assert.Equal(t, "mock-openai", svc.ActiveAdapter())

	second, err := svc.Converse(context.Background(), Request{Message: "I feel ready."})
	require.NoError(t, err)
	assert.Equal(t, "mock-openai", second.Meta["adapter"])
	assert.Equal(t, "mock-openai", second.Meta["strategy"])
	assert.Equal(t, 4, second.Meta["historySize"])
	assert.Equal(t, 2, svc.State("").Interactions)

	svc.SetAdapter("nonexistent")
	third, err := svc.Converse(context.Background(), Request{Message: "ok"})
	require.NoError(t, err)
	assert.Equal(t, "deterministic", third.Meta["adapter"])
}

func TestConverseAdapterNameDefaultsAndMetaOverride(t *testing.T) {
	plain := &stubAdapter{name: "plain"}
	custom := &stubAdapter{name: "custom", meta: domain.Meta{"adapter": "custom-v2", "historySize": 99}}
	svc := newService(t, nil, Config{}, plain, custom)

	svc.SetAdapter("plain")
	resp, err := svc.Converse(context.Background(), Request{Message: "x"})
	require.NoError(t, err)
	assert.Equal(t, "plain", resp.Meta["adapter"])

	svc.SetAdapter("custom")
	resp, err = svc.Converse(context.Background(), Request{Message: "y"})
	require.NoError(t, err)
	assert.Equal(t, "custom-v2", resp.Meta["adapter"])
	assert.Equal(t, 4, resp.Meta["historySize"], "final history size wins over adapter meta")
}

func TestConverseReplaysRequestID(t *testing.T) {
	counting := &stubAdapter{name: "counting"}
	svc := newService(t, nil, Config{ReplayCacheSize: 8}, counting)
	svc.SetAdapter("counting")

	req := Request{Message: "hello", RequestID: "req-1", Context: domain.NewContext("u", "", "", "")}
	first, err := svc.Converse(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.Converse(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, counting.calls)
	assert.Len(t, svc.State("u").History, 2)

	req.RequestID = "req-2"
	_, err = svc.Converse(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, counting.calls)
}

func TestConverseReusedRequestIDWithNewMessageRunsTurn(t *testing.T) {
	svc := newService(t, nil, Config{ReplayCacheSize: 8})
	user := domain.NewContext("reuse", "", "", "")

	first, err := svc.Converse(context.Background(), Request{Message: "I feel hopeful", RequestID: "r1", Context: user})
	require.NoError(t, err)
	second, err := svc.Converse(context.Background(), Request{Message: "I am anxious and stuck", RequestID: "r1", Context: user})
	require.NoError(t, err)

	assert.NotEqual(t, first.Reply, second.Reply)
	assert.Equal(t, domain.ToneHeavy, second.Sentiment.Label)
	state := svc.State("reuse")
	assert.Len(t, state.History, 4)
	assert.Equal(t, 2, state.Interactions)
}

func TestConverseWithoutRequestIDNeverReplays(t *testing.T) {
	counting := &stubAdapter{name: "counting"}
	svc := newService(t, nil, Config{ReplayCacheSize: 8}, counting)
	svc.SetAdapter("counting")

	for i := 0; i < 2; i++ {
		_, err := svc.Converse(context.Background(), Request{Message: "hello"})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, counting.calls)
	assert.Equal(t, 0, svc.replay.Len())
}

func TestConverseSurfacesGoals(t *testing.T) {
	svc := newService(t, nil, Config{})
	msgs := []string{"I want to run a marathon.", "hello", "I'm struggling to sleep"}
	var resp Response
	for _, m := range msgs {
		var err error
		resp, err = svc.Converse(context.Background(), Request{Message: m})
		require.NoError(t, err)
	}
	goals, ok := resp.Meta["goals"].([]analysis.Goal)
	require.True(t, ok)
	require.Len(t, goals, 2)
	assert.Equal(t, "Run a marathon.", goals[0].Text)
	assert.Equal(t, "Practice  sleep.", goals[1].Text, "only the ends are trimmed after the rewrite")
}

func TestConversePersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversationStore.json")
	svc := newService(t, memory.New(memory.NewFilePersister(path)), Config{})
	_, err := svc.Converse(context.Background(), Request{Message: "I feel calm", Context: domain.NewContext("r", "", "", "")})
	require.NoError(t, err)

	restarted := newService(t, memory.New(memory.NewFilePersister(path)), Config{})
	state := restarted.State("r")
	require.Len(t, state.History, 2)
	assert.Equal(t, 1, state.Interactions)
	require.NotNil(t, state.Personality)

	resp, err := restarted.Converse(context.Background(), Request{Message: "still calm", Context: domain.NewContext("r", "", "", "")})
	require.NoError(t, err)
	assert.Equal(t, 4, resp.Meta["historySize"])
}

func TestConverseConcurrentUsers(t *testing.T) {
	svc := newService(t, nil, Config{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", i)
			for j := 0; j < 3; j++ {
				_, err := svc.Converse(context.Background(), Request{Message: fmt.Sprintf("m%d", j), Context: domain.NewContext(user, "", "", "")})
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()
	for i := 0; i < 8; i++ {
		state := svc.State(fmt.Sprintf("user-%d", i))
		assert.Len(t, state.History, 6)
		assert.Equal(t, 3, state.Interactions)
	}
}

func TestValidate(t *testing.T) {
	tooMany := make([]domain.HistoryItem, domain.MaxHistory+1)
	for i := range tooMany {
		tooMany[i] = domain.HistoryItem{Role: domain.RoleUser, Content: "x"}
	}
	tests := []struct {
		name    string
		message string
		history []domain.HistoryItem
		fields  []string
	}{
		{"valid", "hi", []domain.HistoryItem{{Role: domain.RoleAssistant, Content: "ok", Sentiment: domain.ToneHeavy}}, nil},
		{"empty message", "", nil, []string{"message"}},
		{"too much history", "hi", tooMany, []string{"history"}},
		{"bad item", "hi", []domain.HistoryItem{{Role: "bot", Content: "", Sentiment: "angry"}}, []string{"history.0.role", "history.0.content", "history.0.sentiment"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.message, tt.history)
			if tt.fields == nil {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			for _, f := range tt.fields {
				assert.Contains(t, verr.FieldErrors, f)
			}
			assert.Len(t, verr.FieldErrors, len(tt.fields))
		})
	}
}
