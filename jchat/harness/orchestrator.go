package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	ports "github.com/ZanzyTHEbar/journey-chat/jchat/harness/ports"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

var (
	// ErrBusy rejects a submission while another turn is in flight.
	ErrBusy = errors.New("a turn is already in progress")
	// ErrEmptyMessage rejects blank user input.
	ErrEmptyMessage = errors.New("message is empty")
)

// State is the position of the orchestrator in the turn sequence.
type State int

const (
	StateIdle State = iota
	StateAwaitingModel
	StatePlain
	StateAwaitingTool
	StateAwaitingFollowUp
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingModel:
		return "awaiting_model"
	case StatePlain:
		return "plain"
	case StateAwaitingTool:
		return "awaiting_tool"
	case StateAwaitingFollowUp:
		return "awaiting_follow_up"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Policy bounds the remote calls of a turn.
type Policy struct {
	ModelTimeout time.Duration // per model call, on top of the client timeout
	ToolTimeout  time.Duration // per tool invocation
}

// DefaultPolicy returns sensible defaults.
func DefaultPolicy() *Policy {
	return &Policy{
		ModelTimeout: 60 * time.Second,
		ToolTimeout:  30 * time.Second,
	}
}

// TurnResult reports how one submission ended.
type TurnResult struct {
	User  ports.DisplayMessage
	Final ports.DisplayMessage // the bot message the turn ended on
	// Tool is the tool the model asked for, empty for plain answers.
	Tool     string
	State    State // StatePlain, StateIdle after a tool follow-up, or StateErrored
	Err      error
	Duration time.Duration
}

// Orchestrator runs the turn sequence of one chat session: model turn,
// optional tool invocation through the dispatcher, and the follow-up answer.
type Orchestrator struct {
	model      ports.ChatModel
	tools      ports.ToolHost
	guardrails *Guardrails
	tracer     ports.Tracer
	audit      ports.AuditSink
	policy     *Policy
	logger     zerolog.Logger
	configErr  error

	busy atomic.Bool
	wg   conc.WaitGroup

	mu            sync.Mutex
	state         State
	history       *History
	board         *Board
	catalog       []string
	catalogLoaded bool
	sessionID     string
	observers     []func(ports.DisplayMessage)
}

type Option func(*Orchestrator)

func WithGuardrails(g *Guardrails) Option { return func(o *Orchestrator) { o.guardrails = g } }

func WithTracer(t ports.Tracer) Option { return func(o *Orchestrator) { o.tracer = t } }

// WithAuditSink records every tool invocation attempt to sink.
func WithAuditSink(sink ports.AuditSink) Option { return func(o *Orchestrator) { o.audit = sink } }

func WithPolicy(p *Policy) Option { return func(o *Orchestrator) { o.policy = p } }

func WithLogger(l zerolog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithConfigurationError blocks the session: every submission fails with err.
func WithConfigurationError(err error) Option { return func(o *Orchestrator) { o.configErr = err } }

// NewOrchestrator creates an orchestrator for a fresh session.
func NewOrchestrator(model ports.ChatModel, tools ports.ToolHost, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		model:     model,
		tools:     tools,
		tracer:    &noOpTracer{},
		policy:    DefaultPolicy(),
		logger:    zerolog.Nop(),
		history:   NewHistory(),
		board:     NewBoard(),
		sessionID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.guardrails == nil {
		o.guardrails = NewGuardrails(true)
	}
	return o
}

// Blocked returns the configuration error that keeps the session from running, if any.
func (o *Orchestrator) Blocked() error { return o.configErr }

func (o *Orchestrator) Busy() bool { return o.busy.Load() }

func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// History returns a copy of the model-facing history.
func (o *Orchestrator) History() []ports.ConversationTurn {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.history.Turns()
}

// Messages returns a copy of the display board.
func (o *Orchestrator) Messages() []ports.DisplayMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.board.Messages()
}

// Catalog returns the tool names offered to the model, nil before the first load.
func (o *Orchestrator) Catalog() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.catalog)
}

// OnMessage registers fn to be called on every display transition. fn runs
// on the turn goroutine outside the orchestrator lock.
func (o *Orchestrator) OnMessage(fn func(ports.DisplayMessage)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, fn)
}

// RefreshCatalog reloads the tool catalog from the tool host and replaces the allowlist.
// It is rejected with ErrBusy while a turn is in flight.
func (o *Orchestrator) RefreshCatalog(ctx context.Context) ([]string, error) {
	if o.configErr != nil {
		return nil, o.configErr
	}
	if !o.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer o.busy.Store(false)

	return o.loadCatalog(ctx)
}

func (o *Orchestrator) loadCatalog(ctx context.Context) ([]string, error) {
	ctx, finish := o.tracer.StartSpan(ctx, "refresh_catalog", nil)
	schemas, err := o.tools.Refresh(ctx)
	finish(err)
	if err != nil {
		return nil, fmt.Errorf("refresh tool catalog: %w", err)
	}

	names := make([]string, 0, len(schemas))
	for _, s := range schemas {
		names = append(names, s.Name)
	}
	o.guardrails.SetAllowlist(names)

	o.mu.Lock()
	o.catalog = names
	o.catalogLoaded = true
	o.mu.Unlock()

	o.logger.Info().Int("tools", len(names)).Strs("catalog", names).Msg("tool catalog loaded")
	return slices.Clone(names), nil
}

// Reset starts a new session: empty history, empty board and a catalog reload on the next turn.
func (o *Orchestrator) Reset() error {
	if !o.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer o.busy.Store(false)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = NewHistory()
	o.board = NewBoard()
	o.catalog = nil
	o.catalogLoaded = false
	o.state = StateIdle
	o.sessionID = uuid.NewString()
	return nil
}

// SubmitAsync runs Submit on a background goroutine and hands the outcome to done.
func (o *Orchestrator) SubmitAsync(ctx context.Context, text string, done func(*TurnResult, error)) {
	o.wg.Go(func() {
		res, err := o.Submit(ctx, text)
		if done != nil {
			done(res, err)
		}
	})
}

// Wait blocks until every SubmitAsync turn has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Submit runs one full turn for text. The returned error is only ever
// ConfigurationError, ErrBusy or ErrEmptyMessage; every failure inside the
// turn is reported through TurnResult.Err and the final display message.
func (o *Orchestrator) Submit(ctx context.Context, text string) (*TurnResult, error) {
	if o.configErr != nil {
		return nil, o.configErr
	}
	if !o.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer o.busy.Store(false)

	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	start := time.Now()
	t := &turn{o: o, res: &TurnResult{}}

	ctx, finish := o.tracer.StartSpan(ctx, "turn", map[string]any{"session_id": o.SessionID()})
	var catcher panics.Catcher
	catcher.Try(func() { t.run(ctx, text) })
	if r := catcher.Recovered(); r != nil {
		o.logger.Error().Str("stack", string(r.Stack)).Msg("turn panicked")
		t.fail(ctx, r.AsError())
	}
	finish(t.res.Err)

	o.setState(StateIdle)
	t.res.Duration = time.Since(start)

	ev := o.logger.Info()
	if t.res.Err != nil {
		ev = o.logger.Warn().Str("error_kind", ports.Kind(t.res.Err)).Err(t.res.Err)
	}
	ev.Str("state", t.res.State.String()).Str("tool", t.res.Tool).Dur("duration", t.res.Duration).Msg("turn finished")

	return t.res, nil
}

// turn carries the per-submission bookkeeping.
type turn struct {
	o       *Orchestrator
	res     *TurnResult
	pending string // id of the pending bot message, if any
}

func (t *turn) run(ctx context.Context, text string) {
	o := t.o
	catalog := o.ensureCatalog(ctx)

	var user ports.DisplayMessage
	history := o.mutate(func() error {
		if err := o.history.Append(ports.ConversationTurn{Role: ports.RoleUser, Content: text}); err != nil {
			return err
		}
		user = o.board.Add(ports.SenderUser, text, false)
		o.state = StateAwaitingModel
		return nil
	}, &user)
	t.res.User = user

	reply, err := o.requestTurn(ctx, history, catalog)
	if err != nil {
		t.fail(ctx, err)
		return
	}

	if reply.ToolRequest == nil {
		if strings.TrimSpace(reply.Content) == "" {
			t.fail(ctx, &ports.ProviderError{Message: "model returned neither an answer nor a tool call"})
			return
		}
		var final ports.DisplayMessage
		o.mutate(func() error {
			if err := o.history.Append(ports.ConversationTurn{Role: ports.RoleAssistant, Content: reply.Content}); err != nil {
				return err
			}
			final = o.board.Add(ports.SenderBot, reply.Content, false)
			o.state = StatePlain
			return nil
		}, &final)
		t.res.Final = final
		t.res.State = StatePlain
		return
	}

	var pending ports.DisplayMessage
	o.mutate(func() error {
		if err := o.history.Append(ports.ConversationTurn{
			Role:    ports.RoleAssistant,
			Content: reply.Content,
			Request: reply.ToolRequest,
		}); err != nil {
			return err
		}
		pending = o.board.Add(ports.SenderBot, "", true)
		o.state = StateAwaitingTool
		return nil
	}, &pending)
	t.pending = pending.ID

	dispatch, err := ParseDispatch(*reply.ToolRequest, o.guardrails.Validator())
	if err == nil {
		err = o.guardrails.CheckTool(dispatch.Tool)
	}
	if err != nil {
		o.tracer.Event(ctx, "dispatch_rejected", map[string]any{
			"error_kind": ports.Kind(err),
			"payload":    o.guardrails.SanitizeOutput(reply.ToolRequest.RawArguments),
		})
		t.fail(ctx, err)
		return
	}
	t.res.Tool = dispatch.Tool

	result, err := o.invoke(ctx, dispatch)
	if err != nil {
		t.fail(ctx, err)
		return
	}

	history = o.mutate(func() error {
		if err := o.history.Append(ports.ConversationTurn{
			Role:     ports.RoleToolResult,
			ToolName: dispatch.Tool,
			Content:  result.Text(),
		}); err != nil {
			return err
		}
		o.state = StateAwaitingFollowUp
		return nil
	}, nil)
	if history == nil {
		t.fail(ctx, fmt.Errorf("record tool result: %w", ErrOutOfOrder))
		return
	}

	answer, err := o.requestFinalAnswer(ctx, history)
	if err != nil {
		t.fail(ctx, err)
		return
	}

	var final ports.DisplayMessage
	o.mutate(func() error {
		if err := o.history.Append(ports.ConversationTurn{Role: ports.RoleAssistant, Content: answer}); err != nil {
			return err
		}
		var err error
		final, err = o.board.Resolve(t.pending, answer)
		o.state = StateIdle
		return err
	}, &final)
	t.res.Final = final
	t.res.State = StateIdle
}

// fail ends the turn in Errored. The pending bot message, or a new one,
// carries the human-readable summary.
func (t *turn) fail(ctx context.Context, err error) {
	o := t.o
	detail := ports.Summarize(err)

	var msg ports.DisplayMessage
	o.mutate(func() error {
		var uerr error
		if t.pending != "" {
			msg, uerr = o.board.Fail(t.pending, detail)
		}
		if t.pending == "" || uerr != nil {
			msg = o.board.Add(ports.SenderBot, "", false)
			msg, _ = o.board.Fail(msg.ID, detail)
		}
		o.state = StateErrored
		return nil
	}, &msg)

	o.tracer.Event(ctx, "turn_errored", map[string]any{"error_kind": ports.Kind(err)})
	t.res.Final = msg
	t.res.State = StateErrored
	t.res.Err = err
}

// mutate runs fn under the lock and returns a history snapshot, or nil when
// fn failed. When msg is non-nil it is published to observers after unlocking.
func (o *Orchestrator) mutate(fn func() error, msg *ports.DisplayMessage) []ports.ConversationTurn {
	o.mu.Lock()
	err := fn()
	var history []ports.ConversationTurn
	if err == nil {
		history = o.history.Turns()
	}
	observers := slices.Clone(o.observers)
	o.mu.Unlock()

	if err != nil {
		o.logger.Error().Err(err).Msg("session update rejected")
		return nil
	}
	if msg != nil && msg.ID != "" {
		for _, fn := range observers {
			fn(*msg)
		}
	}
	return history
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// ensureCatalog loads the catalog once. Without one the model is offered no tools.
func (o *Orchestrator) ensureCatalog(ctx context.Context) []string {
	o.mu.Lock()
	loaded, catalog := o.catalogLoaded, slices.Clone(o.catalog)
	o.mu.Unlock()
	if loaded {
		return catalog
	}

	catalog, err := o.loadCatalog(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Str("error_kind", ports.Kind(err)).Msg("tool catalog unavailable, answering without tools")
		return nil
	}
	return catalog
}

func (o *Orchestrator) requestTurn(ctx context.Context, history []ports.ConversationTurn, catalog []string) (ports.TurnReply, error) {
	ctx, finish := o.tracer.StartSpan(ctx, "model_turn", map[string]any{
		"history_len":  len(history),
		"catalog_size": len(catalog),
	})
	ctx, cancel := withTimeout(ctx, o.policy.ModelTimeout)
	defer cancel()

	reply, err := o.model.RequestTurn(ctx, history, catalog)
	finish(err)
	return reply, err
}

func (o *Orchestrator) requestFinalAnswer(ctx context.Context, history []ports.ConversationTurn) (string, error) {
	ctx, finish := o.tracer.StartSpan(ctx, "model_follow_up", map[string]any{"history_len": len(history)})
	ctx, cancel := withTimeout(ctx, o.policy.ModelTimeout)
	defer cancel()

	answer, err := o.model.RequestFinalAnswer(ctx, history)
	finish(err)
	return answer, err
}

func (o *Orchestrator) invoke(ctx context.Context, d Dispatch) (ports.ToolResult, error) {
	ctx, finish := o.tracer.StartSpan(ctx, "tool_call", map[string]any{"tool": d.Tool})
	callCtx, cancel := withTimeout(ctx, o.policy.ToolTimeout)
	defer cancel()

	start := time.Now()
	result, err := o.tools.ResolveAndInvoke(callCtx, d.Tool, d.Arguments)
	finish(err)
	o.record(ctx, d, err, time.Since(start))
	return result, err
}

// record writes the audit entry for one invocation attempt. Failures are logged only.
func (o *Orchestrator) record(ctx context.Context, d Dispatch, callErr error, elapsed time.Duration) {
	if o.audit == nil {
		return
	}

	args := "{}"
	if raw, err := json.Marshal(d.Arguments); err == nil {
		args = o.guardrails.SanitizeOutput(string(raw))
	}
	rec := ports.AuditRecord{
		SessionID: o.SessionID(),
		ToolName:  d.Tool,
		Arguments: args,
		Outcome:   "ok",
		Duration:  elapsed,
		CreatedAt: time.Now(),
	}
	if callErr != nil {
		rec.Outcome = "error"
		rec.ErrorKind = ports.Kind(callErr)
	}

	if err := o.audit.Record(context.WithoutCancel(ctx), rec); err != nil {
		o.logger.Warn().Err(err).Str("tool", d.Tool).Msg("audit record failed")
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
