// Package director runs a game turn: it prompts the model, executes any tool
// calls written into the completion, prompts the model once more with their
// results and persists the transcript.
package director

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dmagent/internal/config"
	"dmagent/internal/debug"
	"dmagent/internal/faults"
	"dmagent/internal/game"
	"dmagent/internal/game/extract"
	"dmagent/internal/llm"
	"dmagent/internal/logging"
	"dmagent/internal/observability"
	"dmagent/internal/store"
)

// Model turns an ordered list of messages into a text completion.
type Model interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// Executor runs one tool call and returns its result body. A transport
// failure is an error; an operation failure is an {error} body.
type Executor interface {
	Execute(ctx context.Context, call extract.Call) (map[string]any, error)
}

// CompletionRecorder receives every model exchange for later review.
type CompletionRecorder interface {
	LogCompletion(ctx context.Context, playerID, sessionID string, pass logging.Pass,
		prompt, response string, metadata logging.CompletionMetadata) error
}

type Phase string

const (
	PhaseBuildingPrompt Phase = "building_prompt"
	PhaseAwaitingModel  Phase = "awaiting_model"
	PhaseExecutingTools Phase = "executing_tools"
	PhaseDone           Phase = "done"
)

type TurnRequest struct {
	PlayerID  string `json:"playerId"`
	SessionID string `json:"sessionId"`
	InputText string `json:"inputText"`
}

// Validate reports every missing field at once.
func (r TurnRequest) Validate() error {
	var missing []string
	if strings.TrimSpace(r.SessionID) == "" {
		missing = append(missing, "sessionId")
	}
	if strings.TrimSpace(r.PlayerID) == "" {
		missing = append(missing, "playerId")
	}
	if strings.TrimSpace(r.InputText) == "" {
		missing = append(missing, "inputText")
	}
	if len(missing) > 0 {
		return faults.Validation("Missing required parameters", missing...)
	}
	return nil
}

type TurnResponse struct {
	Reply string `json:"reply"`

	// Not part of the wire response.
	Phases     []Phase        `json:"-"`
	ModelCalls int            `json:"-"`
	ToolCalls  []extract.Call `json:"-"`
}

type Options struct {
	Model         string
	MaxTokens     int
	TurnTimeout   time.Duration
	HistoryPolicy string
	Recorder      CompletionRecorder
	Metrics       *observability.Metrics
	// State is the game state the tools write to. When set, a turn that
	// fails after running tools puts the state back as it was before them.
	State         store.Restorer
}

// Director owns the two-pass turn protocol. It holds no per-turn state and is
// safe for concurrent use.
type Director struct {
	model    Model
	executor Executor
	history  store.HistoryStore
	parser   *extract.Parser
	opts     Options
	debug    *debug.Logger
	tracer   trace.Tracer
}

func New(model Model, executor Executor, history store.HistoryStore, opts Options, debug *debug.Logger) *Director {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1000
	}
	if opts.HistoryPolicy == "" {
		opts.HistoryPolicy = config.HistoryLastWriteWins
	}
	return &Director{
		model:    model,
		executor: executor,
		history:  history,
		parser:   extract.Default(),
		opts:     opts,
		debug:    debug.With("director"),
		tracer:   otel.Tracer("director"),
	}
}

// turn carries the state of one PlayTurn call.
type turn struct {
	req        TurnRequest
	key        store.SessionKey
	transcript store.Transcript
	haveRead   bool
	resp       TurnResponse
	span       trace.Span
	// state as read just before the tools ran
	snapshot   *stateSnapshot
}

type stateSnapshot struct {
	rec    store.Record
	exists bool
}

func (t *turn) enter(p Phase) {
	t.resp.Phases = append(t.resp.Phases, p)
	t.span.AddEvent("phase", trace.WithAttributes(attribute.String("turn.phase", string(p))))
}

// PlayTurn runs one full turn. On any failure the transcript is left alone,
// tool writes are rolled back when Options.State is set, and a *faults.Fault
// is returned.
func (d *Director) PlayTurn(ctx context.Context, req TurnRequest) (resp TurnResponse, err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(faults.KindOf(err))
		}
		d.opts.Metrics.ObserveTurn(outcome, time.Since(start))
	}()

	if err := req.Validate(); err != nil {
		return TurnResponse{}, err
	}

	ctx = observability.WithSession(ctx, req.PlayerID, req.SessionID)
	ctx, span := d.tracer.Start(ctx, "turn.play", trace.WithAttributes(
		observability.CreateLangfuseAttributes("turn.play", req.SessionID, req.PlayerID, []string{"dm-agent"})...,
	))
	defer span.End()

	if d.opts.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.TurnTimeout)
		defer cancel()
	}

	t := &turn{
		req:  req,
		key:  store.SessionKey{PlayerID: req.PlayerID, SessionID: req.SessionID},
		span: span,
	}

	reply, err := d.run(ctx, t)
	if err != nil {
		d.rollback(ctx, t)
		err = d.classify(ctx, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.debug.Printf("turn %s failed: %v", t.key, err)
		return TurnResponse{}, err
	}

	t.resp.Reply = reply
	t.enter(PhaseDone)
	span.SetAttributes(
		attribute.Int("turn.model_calls", t.resp.ModelCalls),
		attribute.Int("turn.tool_calls", len(t.resp.ToolCalls)),
	)
	return t.resp, nil
}

func (d *Director) run(ctx context.Context, t *turn) (string, error) {
	t.enter(PhaseBuildingPrompt)
	d.readHistory(ctx, t)

	exchange := []llm.Message{
		{Role: llm.RoleUser, Content: playerLine(t.req.PlayerID, t.req.InputText)},
	}

	t.enter(PhaseAwaitingModel)
	first, err := d.complete(ctx, t, logging.PassFirst, exchange)
	if err != nil {
		return "", err
	}

	calls, rejects := d.parser.Parse(first)
	for _, r := range rejects {
		d.debug.Printf("dropped malformed call %s", r)
	}
	d.opts.Metrics.ObserveRejectedCalls(len(rejects))

	reply := first
	if len(calls) > 0 {
		t.enter(PhaseExecutingTools)
		if err := d.snapshotState(ctx, t); err != nil {
			return "", err
		}
		results, err := d.executeTools(ctx, t, calls)
		if err != nil {
			return "", err
		}

		exchange = append(exchange,
			llm.Message{Role: llm.RoleAssistant, Content: toolSummary(calls, results)},
			llm.Message{Role: llm.RoleUser, Content: followUpInstruction},
		)
		t.enter(PhaseAwaitingModel)
		reply, err = d.complete(ctx, t, logging.PassSecond, exchange)
		if err != nil {
			return "", err
		}
	}

	if err := d.persist(ctx, t, reply); err != nil {
		return "", err
	}
	return reply, nil
}

// readHistory loads the transcript. A failed read counts as no history.
func (d *Director) readHistory(ctx context.Context, t *turn) {
	tr, ok, err := d.history.ReadHistory(ctx, t.key)
	if err != nil {
		d.debug.Printf("history read for %s failed, continuing without it: %v", t.key, err)
		t.span.AddEvent("history.read_failed", trace.WithAttributes(attribute.String("error", err.Error())))
		return
	}
	t.haveRead = true
	if ok {
		t.transcript = tr
	}
}

func (d *Director) complete(ctx context.Context, t *turn, pass logging.Pass, exchange []llm.Message) (string, error) {
	req := llm.Request{
		Model:     d.opts.Model,
		Messages:  buildMessages(t.transcript.Text, exchange),
		MaxTokens: d.opts.MaxTokens,
	}

	started := time.Now()
	out, err := d.model.Complete(llm.WithOperationType(ctx, "llm."+string(pass)+"_pass"), req)
	t.resp.ModelCalls++
	d.opts.Metrics.ObserveModelCall(string(pass))

	meta := logging.CompletionMetadata{
		Model:        d.opts.Model,
		MaxTokens:    d.opts.MaxTokens,
		ResponseTime: time.Since(started),
		ToolCalls:    len(t.resp.ToolCalls),
	}
	if err == nil && strings.TrimSpace(out) == "" {
		err = faults.Model("model returned an empty completion", nil)
	}
	if err != nil {
		msg := err.Error()
		meta.Error = &msg
	}
	d.record(ctx, t, pass, req, out, meta)

	if err != nil {
		if faults.KindOf(err) == faults.KindInternal {
			return "", faults.Model("model invocation failed", err)
		}
		return "", err
	}
	d.debug.Printf("%s pass for %s: %d chars", pass, t.key, len(out))
	return out, nil
}

func (d *Director) record(ctx context.Context, t *turn, pass logging.Pass, req llm.Request, out string, meta logging.CompletionMetadata) {
	if d.opts.Recorder == nil {
		return
	}
	err := d.opts.Recorder.LogCompletion(context.WithoutCancel(ctx), t.req.PlayerID, t.req.SessionID, pass,
		renderPrompt(req.Messages), out, meta)
	if err != nil {
		d.debug.Printf("failed to record completion: %v", err)
	}
}

func (d *Director) snapshotState(ctx context.Context, t *turn) error {
	if d.opts.State == nil {
		return nil
	}
	rec, ok, err := d.opts.State.Read(ctx, t.key)
	if err != nil {
		return faults.Store("failed to read game state", err)
	}
	t.snapshot = &stateSnapshot{rec: rec, exists: ok}
	return nil
}

// rollback undoes the tool writes of a failed turn.
func (d *Director) rollback(ctx context.Context, t *turn) {
	if t.snapshot == nil {
		return
	}
	err := d.opts.State.Restore(context.WithoutCancel(ctx), t.key, t.snapshot.rec, t.snapshot.exists)
	if err != nil {
		d.debug.Printf("failed to roll back game state for %s: %v", t.key, err)
		t.span.RecordError(err)
		return
	}
	t.span.AddEvent("state.rolled_back")
}

// persist appends the exchange to the transcript. Under last-write-wins the
// transcript is re-read and overwritten unconditionally. Under reject the
// write only succeeds if no other turn wrote since this turn read it.
func (d *Director) persist(ctx context.Context, t *turn, reply string) error {
	reject := d.opts.HistoryPolicy == config.HistoryReject
	base := t.transcript

	if !reject || !t.haveRead {
		tr, ok, err := d.history.ReadHistory(ctx, t.key)
		if err != nil {
			return faults.Store("failed to read conversation history", err)
		}
		base = store.Transcript{}
		if ok {
			base = tr
		}
	}
	expected := base.Version
	if !reject {
		expected = store.AnyVersion
	}

	text := game.AppendExchange(base.Text, t.req.InputText, reply)
	if _, err := d.history.WriteHistory(ctx, t.key, text, expected); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return faults.Conflict("another turn for this session finished first", err)
		}
		return faults.Store("failed to save conversation history", err)
	}
	return nil
}

// classify turns err into a fault, mapping deadline expiry onto a timeout.
func (d *Director) classify(ctx context.Context, err error) error {
	f := faults.As(err)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && f.Kind != faults.KindTimeout {
		return faults.Timeout(fmt.Sprintf("turn exceeded %s", d.opts.TurnTimeout), err)
	}
	return f
}
