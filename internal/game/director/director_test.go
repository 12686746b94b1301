package director

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmagent/internal/config"
	"dmagent/internal/faults"
	"dmagent/internal/game/actions"
	"dmagent/internal/game/dispatch"
	"dmagent/internal/game/extract"
	"dmagent/internal/llm"
	"dmagent/internal/logging"
	"dmagent/internal/store"
)

type scriptedModel struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []llm.Request
	before   func(ctx context.Context, n int) error
}

func (m *scriptedModel) Complete(ctx context.Context, req llm.Request) (string, error) {
	m.mu.Lock()
	n := len(m.requests)
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.before != nil {
		if err := m.before(ctx, n); err != nil {
			return "", err
		}
	}
	if m.err != nil {
		return "", m.err
	}
	if n >= len(m.replies) {
		return "", errors.New("no scripted reply")
	}
	return m.replies[n], nil
}

func (m *scriptedModel) userMessage(i int) string {
	return m.requests[i].Messages[1].Content
}

type recorder struct {
	mu     sync.Mutex
	passes []logging.Pass
}

func (r *recorder) LogCompletion(_ context.Context, _, _ string, pass logging.Pass, _, _ string, _ logging.CompletionMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.passes = append(r.passes, pass)
	return nil
}

type fixture struct {
	store    *store.MemoryStore
	model    *scriptedModel
	recorder *recorder
	director *Director
}

func newFixture(t *testing.T, opts Options, replies ...string) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	model := &scriptedModel{replies: replies}
	rec := &recorder{}
	opts.Recorder = rec
	opts.State = st
	exec := NewLocalExecutor(dispatch.New(actions.NewRegistry(st, nil), nil))
	return &fixture{
		store:    st,
		model:    model,
		recorder: rec,
		director: New(model, exec, st, opts, nil),
	}
}

var key = store.SessionKey{PlayerID: "p1", SessionID: "s1"}

func (f *fixture) transcript(t *testing.T) (string, bool) {
	t.Helper()
	tr, ok, err := f.store.ReadHistory(context.Background(), key)
	require.NoError(t, err)
	return tr.Text, ok
}

func turnReq(input string) TurnRequest {
	return TurnRequest{PlayerID: "p1", SessionID: "s1", InputText: input}
}

func TestTurnWithoutToolCalls(t *testing.T) {
	f := newFixture(t, Options{}, "The tavern is loud. What do you do?")

	resp, err := f.director.PlayTurn(context.Background(), turnReq("I look around"))
	require.NoError(t, err)
	assert.Equal(t, "The tavern is loud. What do you do?", resp.Reply)
	assert.Equal(t, 1, resp.ModelCalls)
	assert.Empty(t, resp.ToolCalls)
	assert.Equal(t, []Phase{PhaseBuildingPrompt, PhaseAwaitingModel, PhaseDone}, resp.Phases)

	text, ok := f.transcript(t)
	require.True(t, ok)
	assert.Equal(t, "\nUser: I look around\nDM: The tavern is loud. What do you do?", text)
	assert.Equal(t, []logging.Pass{logging.PassFirst}, f.recorder.passes)
}

func TestChestScenario(t *testing.T) {
	f := newFixture(t, Options{},
		`You find a sword. save_character('p1','s1','{"sword":true}')`,
		"You lift the gleaming sword from the chest.",
	)

	resp, err := f.director.PlayTurn(context.Background(), turnReq("I open the chest"))
	require.NoError(t, err)
	assert.Equal(t, "You lift the gleaming sword from the chest.", resp.Reply)
	assert.Equal(t, 2, resp.ModelCalls)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "save_character", resp.ToolCalls[0].Name)
	assert.Equal(t, `{"sword":true}`, resp.ToolCalls[0].Params["character"])
	assert.Equal(t, []Phase{PhaseBuildingPrompt, PhaseAwaitingModel, PhaseExecutingTools, PhaseAwaitingModel, PhaseDone}, resp.Phases)

	rec, ok, err := f.store.Read(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"sword":true}`, *rec.Character)

	second := f.model.userMessage(1)
	assert.Contains(t, second, `assistant: I need to use tools. Tool save_character result: {"status":"saved"}`)
	assert.Contains(t, second, "user: Please provide your response based on the tool results.")
	assert.Contains(t, second, "user: PLAYER(p1): I open the chest")

	text, _ := f.transcript(t)
	assert.Equal(t, "\nUser: I open the chest\nDM: You lift the gleaming sword from the chest.", text)
	assert.Equal(t, []logging.Pass{logging.PassFirst, logging.PassSecond}, f.recorder.passes)
}

func TestManyCallsStillTwoModelInvocations(t *testing.T) {
	f := newFixture(t, Options{},
		"append_log(p1, s1, 'a') get_character(p1, s1) append_log(p1, s1, 'b')",
		"Done. get_character(p1, s1)",
	)

	resp, err := f.director.PlayTurn(context.Background(), turnReq("go"))
	require.NoError(t, err)
	assert.Equal(t, 2, resp.ModelCalls)
	assert.Len(t, resp.ToolCalls, 3)
	assert.Equal(t, "Done. get_character(p1, s1)", resp.Reply)

	summary := f.model.userMessage(1)
	first := strings.Index(summary, "Tool append_log result")
	get := strings.Index(summary, "Tool get_character result")
	assert.True(t, first >= 0 && get > first, "results keep call order")

	rec, _, err := f.store.Read(context.Background(), key)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, rec.World.Logs)
}

func TestPromptCarriesHistoryAndPlayer(t *testing.T) {
	f := newFixture(t, Options{}, "first reply", "second reply")

	_, err := f.director.PlayTurn(context.Background(), turnReq("hello"))
	require.NoError(t, err)
	_, err = f.director.PlayTurn(context.Background(), turnReq("again"))
	require.NoError(t, err)

	req := f.model.requests[1]
	require.Len(t, req.Messages, 2)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "get_character(playerId, sessionId)")
	assert.Equal(t, "Conversation History:\n\nUser: hello\nDM: first reply\n\nCurrent Exchange:\nuser: PLAYER(p1): again\n\nAssistant:",
		req.Messages[1].Content)
	assert.Equal(t, 1000, req.MaxTokens)

	text, _ := f.transcript(t)
	assert.Equal(t, "\nUser: hello\nDM: first reply\nUser: again\nDM: second reply", text)
}

func TestValidationListsMissingFields(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.director.PlayTurn(context.Background(), TurnRequest{PlayerID: "p1", InputText: "  "})
	require.Error(t, err)
	fault := faults.As(err)
	assert.Equal(t, faults.KindValidation, fault.Kind)
	assert.Equal(t, []string{"sessionId", "inputText"}, fault.Missing)
	assert.Empty(t, f.model.requests)
}

func TestModelFailureDoesNotPersist(t *testing.T) {
	f := newFixture(t, Options{})
	f.model.err = errors.New("throttled")

	_, err := f.director.PlayTurn(context.Background(), turnReq("hello"))
	assert.Equal(t, faults.KindModel, faults.KindOf(err))
	_, ok := f.transcript(t)
	assert.False(t, ok)
}

func TestEmptyCompletionIsModelFault(t *testing.T) {
	f := newFixture(t, Options{}, "   ")

	_, err := f.director.PlayTurn(context.Background(), turnReq("hello"))
	assert.Equal(t, faults.KindModel, faults.KindOf(err))
}

func TestToolErrorFailsTurn(t *testing.T) {
	f := newFixture(t, Options{}, "append_log(p1, s1, x)", "never used")
	f.director.executor = executorFunc(func(context.Context, extract.Call) (map[string]any, error) {
		return map[string]any{"error": "disk full"}, nil
	})

	_, err := f.director.PlayTurn(context.Background(), turnReq("hello"))
	require.Error(t, err)
	assert.Equal(t, faults.KindTool, faults.KindOf(err))
	assert.Contains(t, err.Error(), "disk full")
	assert.Len(t, f.model.requests, 1)
	_, ok := f.transcript(t)
	assert.False(t, ok)
}

func TestUnknownNoticeIsNotAFailure(t *testing.T) {
	f := newFixture(t, Options{}, "get_character(p1, s1)", "ok")
	f.director.executor = executorFunc(func(_ context.Context, call extract.Call) (map[string]any, error) {
		return map[string]any{"notice": "Unknown function: " + call.Name}, nil
	})

	resp, err := f.director.PlayTurn(context.Background(), turnReq("hello"))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Reply)
}

func TestCallsAreBoundToTurnSession(t *testing.T) {
	f := newFixture(t, Options{}, "append_log(someone, else, 'sneaky')", "ok")

	_, err := f.director.PlayTurn(context.Background(), turnReq("hello"))
	require.NoError(t, err)

	rec, ok, err := f.store.Read(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"sneaky"}, rec.World.Logs)

	_, ok, err = f.store.Read(context.Background(), store.SessionKey{PlayerID: "someone", SessionID: "else"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeadlineIsTimeoutFault(t *testing.T) {
	f := newFixture(t, Options{TurnTimeout: 20 * time.Millisecond})
	f.model.before = func(ctx context.Context, _ int) error {
		<-ctx.Done()
		return ctx.Err()
	}

	_, err := f.director.PlayTurn(context.Background(), turnReq("hello"))
	assert.Equal(t, faults.KindTimeout, faults.KindOf(err))
	_, ok := f.transcript(t)
	assert.False(t, ok)
}

type flakyHistory struct {
	*store.MemoryStore
	failReads int
}

func (h *flakyHistory) ReadHistory(ctx context.Context, k store.SessionKey) (store.Transcript, bool, error) {
	if h.failReads > 0 {
		h.failReads--
		return store.Transcript{}, false, errors.New("unavailable")
	}
	return h.MemoryStore.ReadHistory(ctx, k)
}

func TestHistoryReadFailureIsSoft(t *testing.T) {
	st := store.NewMemoryStore()
	_, err := st.WriteHistory(context.Background(), key, "\nUser: old\nDM: older", store.AnyVersion)
	require.NoError(t, err)

	model := &scriptedModel{replies: []string{"fresh"}}
	hist := &flakyHistory{MemoryStore: st, failReads: 1}
	d := New(model, NewLocalExecutor(dispatch.New(actions.NewRegistry(st, nil), nil)), hist, Options{}, nil)

	resp, err := d.PlayTurn(context.Background(), turnReq("hello"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", resp.Reply)
	assert.Contains(t, model.userMessage(0), "Conversation History:\n\n\nCurrent Exchange:")

	tr, _, err := st.ReadHistory(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "\nUser: old\nDM: older\nUser: hello\nDM: fresh", tr.Text)
}

func TestHistoryPersistFailureIsStoreFault(t *testing.T) {
	st := store.NewMemoryStore()
	model := &scriptedModel{replies: []string{"fresh"}}
	hist := &flakyHistory{MemoryStore: st, failReads: 2}
	d := New(model, NewLocalExecutor(dispatch.New(actions.NewRegistry(st, nil), nil)), hist, Options{}, nil)

	_, err := d.PlayTurn(context.Background(), turnReq("hello"))
	assert.Equal(t, faults.KindStore, faults.KindOf(err))
}

func TestRejectPolicyDetectsOverlappingTurn(t *testing.T) {
	f := newFixture(t, Options{HistoryPolicy: config.HistoryReject}, "mine")
	f.model.before = func(ctx context.Context, _ int) error {
		_, err := f.store.WriteHistory(ctx, key, "\nUser: other\nDM: theirs", store.AnyVersion)
		return err
	}

	_, err := f.director.PlayTurn(context.Background(), turnReq("hello"))
	assert.Equal(t, faults.KindConflict, faults.KindOf(err))

	text, _ := f.transcript(t)
	assert.Equal(t, "\nUser: other\nDM: theirs", text)
}

func TestRejectPolicySequentialTurns(t *testing.T) {
	f := newFixture(t, Options{HistoryPolicy: config.HistoryReject}, "one", "two")

	_, err := f.director.PlayTurn(context.Background(), turnReq("a"))
	require.NoError(t, err)
	_, err = f.director.PlayTurn(context.Background(), turnReq("b"))
	require.NoError(t, err)

	text, _ := f.transcript(t)
	assert.Equal(t, "\nUser: a\nDM: one\nUser: b\nDM: two", text)
}

func TestLastWriteWinsKeepsOverlappingTurn(t *testing.T) {
	f := newFixture(t, Options{}, "mine")
	f.model.before = func(ctx context.Context, _ int) error {
		_, err := f.store.WriteHistory(ctx, key, "\nUser: other\nDM: theirs", store.AnyVersion)
		return err
	}

	_, err := f.director.PlayTurn(context.Background(), turnReq("hello"))
	require.NoError(t, err)

	text, _ := f.transcript(t)
	assert.Equal(t, "\nUser: other\nDM: theirs\nUser: hello\nDM: mine", text)
}

type executorFunc func(ctx context.Context, call extract.Call) (map[string]any, error)

func (f executorFunc) Execute(ctx context.Context, call extract.Call) (map[string]any, error) {
	return f(ctx, call)
}

func TestFailedSecondPassRollsBackToolWrites(t *testing.T) {
	f := newFixture(t, Options{}, `save_character(p1, s1, '{"gold":5}') append_log(p1, s1, 'found gold')`)
	f.model.before = func(_ context.Context, n int) error {
		if n == 1 {
			return errors.New("model down")
		}
		return nil
	}

	_, err := f.director.PlayTurn(context.Background(), turnReq("I search the room"))
	assert.Equal(t, faults.KindModel, faults.KindOf(err))

	_, ok, err := f.store.Read(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok, "tool writes of a failed turn are undone")
	_, ok = f.transcript(t)
	assert.False(t, ok)
}

func TestFailedTurnRestoresEarlierState(t *testing.T) {
	f := newFixture(t, Options{}, `save_character(p1, s1, '{"gold":5}') append_log(p1, s1, 'spent it')`)
	ctx := context.Background()
	character := `{"gold":1}`
	entry := "arrived in town"
	require.NoError(t, f.store.Write(ctx, key, store.Patch{Character: &character, AppendLog: &entry}))

	_, err := f.director.PlayTurn(ctx, turnReq("I buy a horse"))
	require.Error(t, err)

	rec, ok, err := f.store.Read(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"gold":1}`, *rec.Character)
	assert.Equal(t, []string{"arrived in town"}, rec.World.Logs)
}

func TestToolFailureRollsBackSiblingWrites(t *testing.T) {
	f := newFixture(t, Options{}, "append_log(p1, s1, 'kept?') get_character(p1, s1)", "never used")
	local := f.director.executor
	f.director.executor = executorFunc(func(ctx context.Context, call extract.Call) (map[string]any, error) {
		if call.Name == "get_character" {
			return map[string]any{"error": "lookup failed"}, nil
		}
		return local.Execute(ctx, call)
	})

	_, err := f.director.PlayTurn(context.Background(), turnReq("hello"))
	assert.Equal(t, faults.KindTool, faults.KindOf(err))

	_, ok, err := f.store.Read(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestToolCallsRunConcurrently(t *testing.T) {
	f := newFixture(t, Options{},
		"append_log(p1, s1, 'a') append_log(p1, s1, 'b') get_character(p1, s1)",
		"All three at once.",
	)

	var arrived sync.WaitGroup
	arrived.Add(3)
	together := make(chan struct{})
	go func() {
		arrived.Wait()
		close(together)
	}()

	f.director.executor = executorFunc(func(ctx context.Context, call extract.Call) (map[string]any, error) {
		arrived.Done()
		select {
		case <-together:
			return map[string]any{"status": "ok"}, nil
		case <-time.After(2 * time.Second):
			return nil, errors.New(call.Name + " ran alone")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	resp, err := f.director.PlayTurn(context.Background(), turnReq("go"))
	require.NoError(t, err)
	assert.Equal(t, "All three at once.", resp.Reply)
	assert.Len(t, resp.ToolCalls, 3)
}
