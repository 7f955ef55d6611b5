package split

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/splitchat/internal/ai"
	"github.com/suPer8Hu/splitchat/internal/controller"
)

type capturedCall struct {
	ctx context.Context
	req ai.Request
	cb  ai.Callbacks
}

// fakeCompleter records requests; tests fire the callbacks by hand.
type fakeCompleter struct {
	mu    sync.Mutex
	calls []*capturedCall
}

func (f *fakeCompleter) Chat(ctx context.Context, req ai.Request, cb ai.Callbacks) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, &capturedCall{ctx: ctx, req: req, cb: cb})
}

func (f *fakeCompleter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeCompleter) forModel(t *testing.T, model string) *capturedCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].req.Config.Model == model {
			return f.calls[i]
		}
	}
	t.Fatalf("no request for model %q", model)
	return nil
}

type memorySink struct {
	mu     sync.Mutex
	events []ResultEvent
}

func (s *memorySink) Report(ctx context.Context, ev ResultEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *memorySink) all() []ResultEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ResultEvent(nil), s.events...)
}

func newTestOrchestrator(fc *fakeCompleter, pool *controller.Pool, sink ResultSink) *Orchestrator {
	return NewOrchestrator(context.Background(), Config{
		ConversationID: "conv-1",
		Context: ConversationContext{
			Prompts: []ai.Message{{Role: ai.RoleSystem, Content: "be brief"}},
			Config:  ai.ModelConfig{Provider: "ollama", Temperature: 0.2},
		},
		LeftModel:  "A",
		RightModel: "B",
		Completer:  fc,
		Pool:       pool,
		Sink:       sink,
	})
}

func content(t *testing.T, o *Orchestrator, side Side, id string) string {
	t.Helper()
	b, err := o.Branch(side)
	require.NoError(t, err)
	for _, m := range b.Messages() {
		if m.ID == id {
			return m.Content
		}
	}
	t.Fatalf("message %s not on %s", id, side)
	return ""
}

func TestSubmitTurn_BothSidesGetUserAndPlaceholder(t *testing.T) {
	fc := &fakeCompleter{}
	pool := controller.NewPool()
	o := newTestOrchestrator(fc, pool, nil)
	o.SetInput("hello")

	turn, err := o.SubmitInput()
	require.NoError(t, err)
	assert.Empty(t, o.Input(), "shared input is cleared")

	for _, side := range Sides {
		b, _ := o.Branch(side)
		msgs := b.Messages()
		require.Len(t, msgs, 2)
		assert.Equal(t, ai.RoleUser, msgs[0].Role)
		assert.Equal(t, "hello", msgs[0].Content)
		assert.Equal(t, turn.UserMessageID, msgs[0].ID)
		assert.Equal(t, ai.RoleAssistant, msgs[1].Role)
		assert.Empty(t, msgs[1].Content)
		assert.Equal(t, turn.MessageID(side), msgs[1].ID)
		assert.True(t, pool.Has("conv-1", turn.MessageID(side)))
	}
	assert.NotEqual(t, turn.LeftMessageID, turn.RightMessageID)
	assert.Equal(t, 2, pool.Len())

	left, _ := o.Branch(Left)
	right, _ := o.Branch(Right)
	assert.Equal(t, "A", left.Messages()[1].Model)
	assert.Equal(t, "B", right.Messages()[1].Model)

	require.Equal(t, 2, fc.count())
	req := fc.forModel(t, "A").req
	assert.True(t, req.Config.Stream)
	assert.Equal(t, "ollama", req.Config.Provider)
	assert.Equal(t, 0.2, req.Config.Temperature)
	assert.Equal(t, []ai.Message{
		{Role: ai.RoleSystem, Content: "be brief"},
		{Role: ai.RoleUser, Content: "hello"},
	}, req.Messages)
	assert.Equal(t, "B", fc.forModel(t, "B").req.Config.Model)
}

func TestSubmitTurn_UserMessageOwnedPerSide(t *testing.T) {
	fc := &fakeCompleter{}
	o := newTestOrchestrator(fc, nil, nil)
	turn, err := o.SubmitTurn("hello")
	require.NoError(t, err)

	left, _ := o.Branch(Left)
	require.True(t, left.ApplyUpdate(turn.UserMessageID, "edited"))

	assert.Equal(t, "edited", content(t, o, Left, turn.UserMessageID))
	assert.Equal(t, "hello", content(t, o, Right, turn.UserMessageID))
}

func TestSubmitTurn_EmptyInputIsIgnored(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t"} {
		fc := &fakeCompleter{}
		pool := controller.NewPool()
		o := newTestOrchestrator(fc, pool, nil)
		o.SetInput(text)

		_, err := o.SubmitInput()
		assert.ErrorIs(t, err, ErrEmptyInput)

		for _, side := range Sides {
			b, _ := o.Branch(side)
			assert.Zero(t, b.Len())
		}
		assert.Zero(t, fc.count())
		assert.Zero(t, pool.Len())
		assert.Equal(t, text, o.Input())
	}
}

func TestSubmitTurn_HistoryCarriesPreviousTurns(t *testing.T) {
	fc := &fakeCompleter{}
	o := newTestOrchestrator(fc, nil, nil)

	first, err := o.SubmitTurn("one")
	require.NoError(t, err)
	fc.forModel(t, "A").cb.OnFinish("left reply")
	fc.forModel(t, "B").cb.OnFinish("right reply")

	_, err = o.SubmitTurn("two")
	require.NoError(t, err)
	require.Equal(t, 4, fc.count())

	left := fc.forModel(t, "A").req.Messages
	assert.Equal(t, []ai.Message{
		{Role: ai.RoleSystem, Content: "be brief"},
		{Role: ai.RoleUser, Content: "one"},
		{Role: ai.RoleAssistant, Content: "left reply"},
		{Role: ai.RoleUser, Content: "two"},
	}, left)
	right := fc.forModel(t, "B").req.Messages
	assert.Equal(t, "right reply", right[2].Content)
	assert.Equal(t, "left reply", content(t, o, Left, first.LeftMessageID))
}

func TestCallbacks_LastSnapshotWins(t *testing.T) {
	fc := &fakeCompleter{}
	pool := controller.NewPool()
	sink := &memorySink{}
	o := newTestOrchestrator(fc, pool, sink)
	turn, err := o.SubmitTurn("hello")
	require.NoError(t, err)

	cb := fc.forModel(t, "A").cb
	cb.OnUpdate("a")
	assert.Equal(t, "a", content(t, o, Left, turn.LeftMessageID))
	cb.OnUpdate("ab")
	cb.OnFinish("abc")

	assert.Equal(t, "abc", content(t, o, Left, turn.LeftMessageID))
	assert.False(t, pool.Has("conv-1", turn.LeftMessageID))
	assert.True(t, pool.Has("conv-1", turn.RightMessageID))
	assert.Empty(t, content(t, o, Right, turn.RightMessageID))

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, ResultFinished, events[0].Status)
	assert.Equal(t, Left, events[0].Side)
	assert.Equal(t, "A", events[0].Model)
	assert.Equal(t, "abc", events[0].Content)
}

func TestCallbacks_StalledSideDoesNotBlockOther(t *testing.T) {
	fc := &fakeCompleter{}
	pool := controller.NewPool()
	o := newTestOrchestrator(fc, pool, nil)
	turn, err := o.SubmitTurn("hello")
	require.NoError(t, err)

	// left never calls back
	fc.forModel(t, "B").cb.OnFinish("right done")

	assert.Equal(t, "right done", content(t, o, Right, turn.RightMessageID))
	assert.False(t, pool.Has("conv-1", turn.RightMessageID))
	assert.True(t, pool.Has("conv-1", turn.LeftMessageID))
	assert.Empty(t, content(t, o, Left, turn.LeftMessageID))
}

func TestCallbacks_ErrorBeforeAnyUpdate(t *testing.T) {
	fc := &fakeCompleter{}
	pool := controller.NewPool()
	sink := &memorySink{}
	o := newTestOrchestrator(fc, pool, sink)
	turn, err := o.SubmitTurn("hello")
	require.NoError(t, err)

	fc.forModel(t, "A").cb.OnError(errors.New("timeout"))

	got := content(t, o, Left, turn.LeftMessageID)
	assert.Contains(t, got, "timeout")
	assert.Equal(t, DefaultErrorPrefix+"timeout", got)
	assert.False(t, pool.Has("conv-1", turn.LeftMessageID))
	assert.True(t, pool.Has("conv-1", turn.RightMessageID))
	assert.Empty(t, content(t, o, Right, turn.RightMessageID))

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, ResultFailed, events[0].Status)
	assert.Equal(t, "timeout", events[0].Error)
}

func TestCancel_AbortsOnlyThatSide(t *testing.T) {
	fc := &fakeCompleter{}
	pool := controller.NewPool()
	o := newTestOrchestrator(fc, pool, nil)
	turn, err := o.SubmitTurn("hello")
	require.NoError(t, err)

	left := fc.forModel(t, "A")
	right := fc.forModel(t, "B")
	left.cb.OnUpdate("par")

	assert.True(t, o.Cancel(turn.LeftMessageID))
	assert.ErrorIs(t, left.ctx.Err(), context.Canceled)
	assert.NoError(t, right.ctx.Err())
	assert.False(t, o.InFlight(turn.LeftMessageID))
	assert.True(t, o.InFlight(turn.RightMessageID))

	// late callbacks after cancel are dropped
	left.cb.OnUpdate("partial")
	left.cb.OnFinish("partial answer")
	assert.Equal(t, "par", content(t, o, Left, turn.LeftMessageID))

	assert.False(t, o.Cancel(turn.LeftMessageID))
}

func TestOnController_SwapIsCancelledInstead(t *testing.T) {
	fc := &fakeCompleter{}
	pool := controller.NewPool()
	o := newTestOrchestrator(fc, pool, nil)
	turn, err := o.SubmitTurn("hello")
	require.NoError(t, err)

	provisional := fc.forModel(t, "A")
	var realAborted int
	provisional.cb.OnController(controller.HandleFunc(func() { realAborted++ }))

	require.True(t, o.Cancel(turn.LeftMessageID))
	assert.Equal(t, 1, realAborted)
	assert.NoError(t, provisional.ctx.Err(), "superseded provisional handle is not the one aborted")
}

func TestOnController_SwapAfterCancelAbortsImmediately(t *testing.T) {
	fc := &fakeCompleter{}
	pool := controller.NewPool()
	o := newTestOrchestrator(fc, pool, nil)
	turn, err := o.SubmitTurn("hello")
	require.NoError(t, err)

	require.True(t, o.Cancel(turn.RightMessageID))

	var aborted int
	fc.forModel(t, "B").cb.OnController(controller.HandleFunc(func() { aborted++ }))
	assert.Equal(t, 1, aborted)
	assert.False(t, pool.Has("conv-1", turn.RightMessageID))
}

func TestReseed_DropsStaleCallbacks(t *testing.T) {
	fc := &fakeCompleter{}
	pool := controller.NewPool()
	o := newTestOrchestrator(fc, pool, nil)
	turn, err := o.SubmitTurn("hello")
	require.NoError(t, err)

	o.Reseed([]Message{
		{ID: "u1", Role: ai.RoleUser, Content: "first"},
		{ID: "a1", Role: ai.RoleAssistant, Content: "reply"},
		{ID: "u2", Role: ai.RoleUser, Content: "second"},
	})

	for _, side := range Sides {
		b, _ := o.Branch(side)
		msgs := b.Messages()
		require.Len(t, msgs, 2)
		assert.Equal(t, "u1", msgs[0].ID)
		assert.Equal(t, "u2", msgs[1].ID)
	}

	cb := fc.forModel(t, "A").cb
	cb.OnUpdate("late")
	cb.OnFinish("late final")

	left, _ := o.Branch(Left)
	assert.Len(t, left.Messages(), 2)
	assert.False(t, pool.Has("conv-1", turn.LeftMessageID), "finish still releases the entry")
}

func TestDispatch_ConstructionFailureIsPerSide(t *testing.T) {
	fc := &fakeCompleter{}
	pool := controller.NewPool()
	o := NewOrchestrator(context.Background(), Config{
		ConversationID: "conv-1",
		LeftModel:      "",
		RightModel:     "B",
		Completer:      fc,
		Pool:           pool,
	})

	turn, err := o.SubmitTurn("hello")
	require.NoError(t, err)

	require.Equal(t, 1, fc.count())
	assert.Equal(t, "B", fc.forModel(t, "B").req.Config.Model)
	assert.False(t, pool.Has("conv-1", turn.LeftMessageID))
	assert.True(t, pool.Has("conv-1", turn.RightMessageID))
	assert.Empty(t, content(t, o, Left, turn.LeftMessageID))
}

func TestDispatch_MalformedContextFailsWithoutSideEffectsOnBranches(t *testing.T) {
	fc := &fakeCompleter{}
	o := NewOrchestrator(context.Background(), Config{
		ConversationID: "conv-1",
		Context:        ConversationContext{Prompts: []ai.Message{{Content: "no role"}}},
		LeftModel:      "A",
		RightModel:     "B",
		Completer:      fc,
	})

	_, err := o.SubmitTurn("hello")
	require.NoError(t, err)
	assert.Zero(t, fc.count())
	for _, side := range Sides {
		b, _ := o.Branch(side)
		assert.Equal(t, 2, b.Len())
	}
}

func TestSetModel_AffectsLaterTurnsOnly(t *testing.T) {
	fc := &fakeCompleter{}
	o := newTestOrchestrator(fc, nil, nil)
	first, err := o.SubmitTurn("one")
	require.NoError(t, err)

	require.NoError(t, o.SetModel(Right, "C"))
	assert.ErrorIs(t, o.SetModel(Right, " "), ai.ErrNoModel)
	assert.ErrorIs(t, o.SetModel(Side("middle"), "C"), ErrUnknownSide)

	second, err := o.SubmitTurn("two")
	require.NoError(t, err)

	right, _ := o.Branch(Right)
	msgs := right.Messages()
	assert.Equal(t, first.RightMessageID, msgs[1].ID)
	assert.Equal(t, "B", msgs[1].Model)
	assert.Equal(t, second.RightMessageID, msgs[3].ID)
	assert.Equal(t, "C", msgs[3].Model)
	fc.forModel(t, "C")
}

func TestOnChange_FiresForTheUpdatedSideOnly(t *testing.T) {
	fc := &fakeCompleter{}
	var mu sync.Mutex
	changes := map[Side]int{}
	o := NewOrchestrator(context.Background(), Config{
		ConversationID: "conv-1",
		LeftModel:      "A",
		RightModel:     "B",
		Completer:      fc,
		OnChange: func(s Side) {
			mu.Lock()
			changes[s]++
			mu.Unlock()
		},
	})
	_, err := o.SubmitTurn("hello")
	require.NoError(t, err)

	mu.Lock()
	base := map[Side]int{Left: changes[Left], Right: changes[Right]}
	mu.Unlock()

	fc.forModel(t, "B").cb.OnUpdate("x")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, base[Left], changes[Left])
	assert.Equal(t, base[Right]+1, changes[Right])
}

func TestSides_StreamConcurrently(t *testing.T) {
	fc := &fakeCompleter{}
	pool := controller.NewPool()
	o := newTestOrchestrator(fc, pool, nil)
	turn, err := o.SubmitTurn("hello")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, model := range []string{"A", "B"} {
		cb := fc.forModel(t, model).cb
		wg.Add(1)
		go func(model string) {
			defer wg.Done()
			text := ""
			for i := 0; i < 100; i++ {
				text += model
				cb.OnUpdate(text)
			}
			cb.OnFinish(text + "!")
		}(model)
	}
	wg.Wait()

	assert.Len(t, content(t, o, Left, turn.LeftMessageID), 101)
	assert.Equal(t, "!", content(t, o, Left, turn.LeftMessageID)[100:])
	assert.NotContains(t, content(t, o, Left, turn.LeftMessageID), "B")
	assert.NotContains(t, content(t, o, Right, turn.RightMessageID), "A")
	assert.Zero(t, pool.Len())
}
