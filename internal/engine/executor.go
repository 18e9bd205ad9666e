package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/prospecta-ai/prospecta/internal/llm"
	"github.com/prospecta-ai/prospecta/internal/model"
	"github.com/prospecta-ai/prospecta/internal/storage"
	"github.com/prospecta-ai/prospecta/internal/tools"
)

const (
	// defaultMaxIterations caps think/tools round-trips per run.
	defaultMaxIterations = 50

	providerRetries     = 2
	providerBackoffBase = time.Second
	providerBackoffCap  = 10 * time.Second
)

// ToolRunner executes tool calls and answers policy queries.
// *tools.Registry satisfies it.
type ToolRunner interface {
	Definitions() []mcp.Tool
	Gated(name string) bool
	Execute(ctx context.Context, user model.User, name string, args json.RawMessage) tools.Result
}

// ApprovalGate suspends runs on gated tool calls. *Gate satisfies it.
type ApprovalGate interface {
	Suspend(ctx context.Context, runID uuid.UUID, call llm.ToolCall) (model.WaitToken, error)
}

// Outcome is how an executor invocation ended: the run either finished with a
// response or suspended on a wait token. Failures come back as errors.
type Outcome struct {
	Status       model.RunStatus
	ResponseText string
	WaitToken    *model.WaitToken
	State        *RunState
}

// Executor drives one run through the step loop: think, execute tools,
// process results, repeat until the model produces a final answer or the run
// suspends for approval.
type Executor struct {
	provider llm.Provider
	runner   ToolRunner
	gate     ApprovalGate
	sink     Sink
	logger   *slog.Logger

	systemPrompt  string
	maxIterations int
	sleep         func(ctx context.Context, d time.Duration) error
}

// NewExecutor wires an executor. maxIterations <= 0 uses the default cap.
func NewExecutor(provider llm.Provider, runner ToolRunner, gate ApprovalGate, sink Sink, systemPrompt string, maxIterations int, logger *slog.Logger) *Executor {
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	return &Executor{
		provider:      provider,
		runner:        runner,
		gate:          gate,
		sink:          sink,
		logger:        logger,
		systemPrompt:  systemPrompt,
		maxIterations: maxIterations,
		sleep:         sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Start executes a freshly claimed run from its user message.
func (e *Executor) Start(ctx context.Context, run model.AgentRun, user model.User, history []llm.Message, message string) (Outcome, error) {
	st := NewRunState(run)
	st.Messages = append(st.Messages, history...)
	st.Messages = append(st.Messages, llm.Message{Role: llm.RoleUser, Text: message})

	if err := e.publishStep(ctx, st, model.StepLoadContext); err != nil {
		return Outcome{}, err
	}
	return e.loop(ctx, st, user)
}

// Resume continues a suspended run with the human's resolution of its
// pending gated call. A rejection records a failed result for the call; the
// model sees it and decides how to proceed.
func (e *Executor) Resume(ctx context.Context, st *RunState, user model.User, res Resolution) (Outcome, error) {
	var resolved *llm.ToolCall
	for i := range st.Pending {
		if st.Pending[i].ID == res.CallID {
			resolved = &st.Pending[i]
			break
		}
	}
	if resolved == nil {
		return Outcome{}, fmt.Errorf("engine: resolution for unknown call %q", res.CallID)
	}

	var result tools.Result
	if res.Approved {
		result = e.runner.Execute(ctx, user, resolved.Name, resolved.Args)
	} else {
		result = tools.Fail("call rejected by user")
	}
	if err := st.Ledger.RecordResult(resolved.ID, result); err != nil {
		return Outcome{}, err
	}

	outcome, err := e.drainPending(ctx, st, user)
	if err != nil || outcome != nil {
		return orEmpty(outcome), err
	}
	if err := e.processResults(ctx, st); err != nil {
		return Outcome{}, err
	}
	return e.loop(ctx, st, user)
}

func orEmpty(o *Outcome) Outcome {
	if o == nil {
		return Outcome{}
	}
	return *o
}

func (e *Executor) loop(ctx context.Context, st *RunState, user model.User) (Outcome, error) {
	for {
		if st.Iterations >= e.maxIterations {
			return e.finishAtIterationCeiling(ctx, st)
		}
		st.Iterations++

		step := model.StepThink
		if st.Plan.Empty() {
			step = model.StepPlan
		}
		if err := e.publishStep(ctx, st, step); err != nil {
			return Outcome{}, err
		}

		turn, err := e.generate(ctx, st)
		if err != nil {
			return Outcome{}, err
		}
		st.InputTokens += turn.InputTokens
		st.OutputTokens += turn.OutputTokens

		if len(turn.Plan) > 0 {
			if st.Plan.Empty() {
				if err := st.Plan.Seed(turn.Plan); err != nil {
					return Outcome{}, err
				}
			} else {
				st.Plan.Revise(turn.Plan)
			}
			st.Plan.StartNext()
			if err := e.publishTodos(ctx, st); err != nil {
				return Outcome{}, err
			}
		}

		if len(turn.ToolCalls) == 0 {
			return e.finish(ctx, st, turn.Text)
		}

		st.Messages = append(st.Messages, llm.Message{
			Role:      llm.RoleModel,
			Text:      turn.Text,
			ToolCalls: turn.ToolCalls,
		})
		for _, call := range turn.ToolCalls {
			if err := st.Ledger.RecordCall(call); err != nil {
				return Outcome{}, err
			}
		}
		st.Pending = turn.ToolCalls

		if err := e.publishStep(ctx, st, model.StepTools); err != nil {
			return Outcome{}, err
		}

		outcome, err := e.drainPending(ctx, st, user)
		if err != nil {
			return Outcome{}, err
		}
		if outcome != nil {
			return *outcome, nil
		}
		if err := e.processResults(ctx, st); err != nil {
			return Outcome{}, err
		}
	}
}

// generate calls the provider, retrying transient failures with exponential
// backoff. The context carries the run's wall-clock deadline, so retrying
// never outlives the run budget.
func (e *Executor) generate(ctx context.Context, st *RunState) (llm.Turn, error) {
	req := llm.Request{
		Model:       st.Run.Model,
		Temperature: st.Run.Temperature,
		System:      e.systemPrompt,
		Messages:    st.Messages,
		Tools:       e.runner.Definitions(),
	}

	backoff := providerBackoffBase
	var lastErr error
	for attempt := 0; attempt <= providerRetries; attempt++ {
		turn, err := e.provider.Generate(ctx, req)
		if err == nil {
			return turn, nil
		}
		lastErr = err
		if !llm.IsTransient(err) {
			return llm.Turn{}, err
		}
		if attempt == providerRetries {
			break
		}
		e.logger.Warn("engine: transient provider error, retrying",
			"run_id", st.Run.ID, "attempt", attempt+1, "error", err)
		if err := e.sleep(ctx, backoff); err != nil {
			return llm.Turn{}, err
		}
		backoff = time.Duration(float64(backoff) * 1.5)
		if backoff > providerBackoffCap {
			backoff = providerBackoffCap
		}
	}
	return llm.Turn{}, lastErr
}

// drainPending executes the current batch of pending calls in order. A gated
// call suspends the run: a wait token is minted, the checkpoint is persisted,
// and the caller returns a waiting outcome. Calls that already have results
// are skipped, which makes resume re-entry safe.
func (e *Executor) drainPending(ctx context.Context, st *RunState, user model.User) (*Outcome, error) {
	for _, call := range st.Pending {
		if st.Ledger.HasResult(call.ID) {
			continue
		}
		if e.runner.Gated(call.Name) {
			tok, err := e.gate.Suspend(ctx, st.Run.ID, call)
			if err != nil {
				return nil, err
			}
			if err := e.publishSuspension(ctx, st); err != nil {
				return nil, err
			}
			return &Outcome{
				Status:    model.RunStatusWaitingApproval,
				WaitToken: &tok,
				State:     st,
			}, nil
		}
		result := e.runner.Execute(ctx, user, call.Name, call.Args)
		if err := st.Ledger.RecordResult(call.ID, result); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// processResults feeds the batch's results back to the transcript, advances
// the plan, and publishes the ledger.
func (e *Executor) processResults(ctx context.Context, st *RunState) error {
	results := make([]llm.ToolResult, 0, len(st.Pending))
	batchOK := true
	var batchErr string
	for _, call := range st.Pending {
		entry := resultEntry(st.Ledger, call.ID)
		tr := llm.ToolResult{CallID: call.ID, Name: call.Name}
		if entry != nil {
			tr.Output = entry.Output
			tr.Success = entry.Success != nil && *entry.Success
			if entry.ErrorMessage != nil {
				tr.ErrorMessage = *entry.ErrorMessage
			}
		}
		if !tr.Success {
			batchOK = false
			if batchErr == "" {
				batchErr = tr.ErrorMessage
			}
		}
		results = append(results, tr)
	}
	st.Messages = append(st.Messages, llm.Message{Role: llm.RoleUser, ToolResults: results})
	st.Pending = nil

	st.Plan.FinishCurrent(batchOK, batchErr)
	st.Plan.StartNext()

	st.Step = model.StepProcessResults
	step := st.Step
	history := st.Ledger.Entries()
	todos := st.Plan.Todos()
	return e.sink.Publish(ctx, st.Run, storage.RunUpdate{
		CurrentStep: &step,
		ToolHistory: history,
		Todos:       todos,
	})
}

func resultEntry(l *Ledger, callID string) *model.ToolInvocation {
	for _, entry := range l.Entries() {
		if entry.Kind == model.InvocationResult && entry.CallID == callID {
			e := entry
			return &e
		}
	}
	return nil
}

// finish completes the run with the model's final answer.
func (e *Executor) finish(ctx context.Context, st *RunState, text string) (Outcome, error) {
	if err := e.publishStep(ctx, st, model.StepFinalizing); err != nil {
		return Outcome{}, err
	}
	st.Plan.CloseRemaining(true, "")
	st.ResponseText = text

	now := time.Now().UTC()
	status := model.RunStatusCompleted
	step := model.StepCompleted
	st.Step = step
	upd := storage.RunUpdate{
		Status:       &status,
		CurrentStep:  &step,
		Todos:        st.Plan.Todos(),
		ToolHistory:  st.Ledger.Entries(),
		ResponseText: &text,
		InputTokens:  &st.InputTokens,
		OutputTokens: &st.OutputTokens,
		CompletedAt:  &now,
	}
	if err := e.sink.Publish(ctx, st.Run, upd); err != nil {
		return Outcome{}, err
	}
	return Outcome{Status: status, ResponseText: text, State: st}, nil
}

// finishAtIterationCeiling closes out a run that hit the step cap. Every
// outstanding call gets a synthesized failed result so the ledger stays
// complete, then the run completes with an explanatory answer.
func (e *Executor) finishAtIterationCeiling(ctx context.Context, st *RunState) (Outcome, error) {
	for _, call := range st.Ledger.Outstanding() {
		_ = st.Ledger.RecordResult(call.ID, tools.Fail("iteration limit reached"))
	}
	st.Pending = nil
	st.Plan.CloseRemaining(false, "iteration limit reached")

	e.logger.Warn("engine: iteration ceiling reached", "run_id", st.Run.ID, "iterations", st.Iterations)
	text := "I reached the step limit for this request before finishing. Here is what I have so far; please narrow the request and try again."
	return e.finish(ctx, st, text)
}

func (e *Executor) publishStep(ctx context.Context, st *RunState, step model.Step) error {
	st.Step = step
	return e.sink.Publish(ctx, st.Run, storage.RunUpdate{CurrentStep: &step})
}

func (e *Executor) publishTodos(ctx context.Context, st *RunState) error {
	return e.sink.Publish(ctx, st.Run, storage.RunUpdate{Todos: st.Plan.Todos()})
}

// publishSuspension persists the checkpoint and flips the run to
// waiting_approval in one write, so a resume always finds a consistent pair.
func (e *Executor) publishSuspension(ctx context.Context, st *RunState) error {
	checkpoint, err := st.Checkpoint()
	if err != nil {
		return err
	}
	status := model.RunStatusWaitingApproval
	step := model.StepTools
	st.Step = step
	return e.sink.Publish(ctx, st.Run, storage.RunUpdate{
		Status:       &status,
		CurrentStep:  &step,
		Todos:        st.Plan.Todos(),
		ToolHistory:  st.Ledger.Entries(),
		InputTokens:  &st.InputTokens,
		OutputTokens: &st.OutputTokens,
		Context:      checkpoint,
	})
}
