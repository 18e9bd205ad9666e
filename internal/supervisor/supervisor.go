// Package supervisor owns the run lifecycle outside the step loop: admission,
// dispatch onto a bounded worker pool, wall-clock enforcement, approval
// resolution, token expiry, and post-run settlement.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/prospecta-ai/prospecta/internal/engine"
	"github.com/prospecta-ai/prospecta/internal/llm"
	"github.com/prospecta-ai/prospecta/internal/model"
	"github.com/prospecta-ai/prospecta/internal/quota"
	"github.com/prospecta-ai/prospecta/internal/storage"
	"github.com/prospecta-ai/prospecta/internal/telemetry"
)

var runMeter = telemetry.Meter("prospecta/supervisor")

// ErrQuotaExceeded is returned by StartRun when the user's prompt quota for
// the period is exhausted.
var ErrQuotaExceeded = errors.New("supervisor: prompt quota exceeded")

// ErrThreadBusy is returned when the thread already has an active run.
var ErrThreadBusy = errors.New("supervisor: thread has an active run")

// Config tunes the supervisor.
type Config struct {
	Workers            int
	WallClock          time.Duration // per-run execution budget
	SweepInterval      time.Duration // how often expired wait tokens are reaped
	DefaultModel       string
	DefaultTemperature float32
	HistoryLimit       int
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.WallClock <= 0 {
		c.WallClock = 30 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.DefaultModel == "" {
		c.DefaultModel = "gemini-2.5-flash"
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 100
	}
}

// Supervisor accepts runs, executes them on a bounded pool, and settles them.
type Supervisor struct {
	cfg      Config
	db       *storage.DB
	executor *engine.Executor
	quota    *quota.Service
	logger   *slog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	pool    *errgroup.Group
}

// New creates and starts a supervisor. The expiry sweeper runs until Close.
func New(cfg Config, db *storage.DB, executor *engine.Executor, quotaSvc *quota.Service, logger *slog.Logger) *Supervisor {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	pool := &errgroup.Group{}
	pool.SetLimit(cfg.Workers)

	s := &Supervisor{
		cfg:      cfg,
		db:       db,
		executor: executor,
		quota:    quotaSvc,
		logger:   logger,
		baseCtx:  ctx,
		cancel:   cancel,
		pool:     pool,
	}
	go s.sweepLoop()
	return s
}

// Close stops accepting work and waits for in-flight runs to finish. Runs
// interrupted by shutdown fail through their context and are settled as
// failed by the worker before it exits.
func (s *Supervisor) Close() {
	s.cancel()
	_ = s.pool.Wait()
}

// StartRun admits a new run: it reserves one prompt from the user's quota,
// persists the queued run and the user's message, and dispatches execution.
// The returned run is in status queued; callers observe progress through the
// run feed.
func (s *Supervisor) StartRun(ctx context.Context, req model.CreateRunRequest) (model.AgentRun, error) {
	if err := req.Validate(); err != nil {
		return model.AgentRun{}, err
	}

	user, err := s.db.GetUser(ctx, req.UserID)
	if err != nil {
		return model.AgentRun{}, fmt.Errorf("supervisor: lookup user: %w", err)
	}

	decision, err := s.quota.CheckAndReserve(ctx, user, model.UsagePrompt)
	if err != nil {
		return model.AgentRun{}, err
	}
	if !decision.Allowed {
		return model.AgentRun{}, fmt.Errorf("%w: %d of %d prompts used this period", ErrQuotaExceeded, decision.Used, decision.Limit)
	}

	modelName := req.Model
	if modelName == "" {
		modelName = s.cfg.DefaultModel
	}
	temperature := s.cfg.DefaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	run, err := s.db.CreateRun(ctx, req, modelName, temperature)
	if err != nil {
		return model.AgentRun{}, err
	}

	runID := run.ID
	if _, err := s.db.InsertConversationMessage(ctx, model.ConversationMessage{
		ConversationID: req.ConversationID,
		RunID:          &runID,
		Role:           "user",
		Content:        req.Message,
	}); err != nil {
		s.logger.Warn("supervisor: persist user message", "run_id", run.ID, "error", err)
	}

	message := req.Message
	history := historyFromRequest(req.History, s.cfg.HistoryLimit)
	s.pool.Go(func() error {
		s.execute(run, user, history, message)
		return nil
	})
	if counter, err := runMeter.Int64Counter("agent.runs.started"); err == nil {
		counter.Add(ctx, 1)
	}
	return run, nil
}

// historyFromRequest maps prior chat turns onto provider roles, keeping only
// the most recent limit messages so long conversations stay inside the
// model's context budget.
func historyFromRequest(history []model.ChatMessage, limit int) []llm.Message {
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		role := llm.RoleUser
		if m.Role == "assistant" {
			role = llm.RoleModel
		}
		out = append(out, llm.Message{Role: role, Text: m.Content})
	}
	return out
}

// execute runs one claimed run to completion or suspension under the
// wall-clock budget.
func (s *Supervisor) execute(run model.AgentRun, user model.User, history []llm.Message, message string) {
	ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.WallClock)
	defer cancel()

	if err := s.db.ClaimRun(ctx, run.ID); err != nil {
		if errors.Is(err, storage.ErrRunConflict) {
			s.fail(run.ID, "another run is already active on this thread")
			return
		}
		s.logger.Error("supervisor: claim run", "run_id", run.ID, "error", err)
		s.fail(run.ID, "run could not be started")
		return
	}

	outcome, err := s.executor.Start(ctx, run, user, history, message)
	s.settle(run, user, outcome, err)
}

// settle records the terminal outcome of an executor invocation. Suspended
// runs need nothing here; their state is already persisted.
func (s *Supervisor) settle(run model.AgentRun, user model.User, outcome engine.Outcome, err error) {
	if err != nil {
		msg := "run failed"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "run exceeded the execution time budget"
		}
		s.logger.Error("supervisor: run failed", "run_id", run.ID, "error", err)
		s.fail(run.ID, msg)
		if outcome.State != nil {
			s.recordCost(user, run.Model, outcome.State.InputTokens, outcome.State.OutputTokens)
		}
		return
	}

	switch outcome.Status {
	case model.RunStatusWaitingApproval:
		s.logger.Info("supervisor: run suspended for approval", "run_id", run.ID)
	case model.RunStatusCompleted:
		s.logger.Info("supervisor: run completed", "run_id", run.ID)
		if counter, err := runMeter.Int64Counter("agent.runs.completed"); err == nil {
			counter.Add(context.Background(), 1)
		}
		runID := run.ID
		st := outcome.State
		settleCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := s.db.InsertConversationMessage(settleCtx, model.ConversationMessage{
			ConversationID: run.ConversationID,
			RunID:          &runID,
			Role:           "assistant",
			Content:        outcome.ResponseText,
			ModelName:      run.Model,
			InputTokens:    st.InputTokens,
			OutputTokens:   st.OutputTokens,
		}); err != nil {
			s.logger.Warn("supervisor: persist assistant message", "run_id", run.ID, "error", err)
		}
		s.recordCost(user, run.Model, st.InputTokens, st.OutputTokens)
	}
}

// recordCost settles token spend against the user's period. Best effort: the
// run's outcome stands even when metering fails.
func (s *Supervisor) recordCost(user model.User, modelName string, inputTokens, outputTokens int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.quota.RecordCost(ctx, user, modelName, inputTokens, outputTokens); err != nil {
		s.logger.Warn("supervisor: record cost", "user_id", user.ID, "error", err)
	}
}

func (s *Supervisor) fail(runID uuid.UUID, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.db.FailRun(ctx, runID, msg); err != nil {
		s.logger.Error("supervisor: fail run", "run_id", runID, "error", err)
	}
	if counter, err := runMeter.Int64Counter("agent.runs.failed"); err == nil {
		counter.Add(ctx, 1)
	}
}

// ResolveApproval consumes a wait token and resumes the suspended run with
// the human's decision. The guarded token update makes double resolution
// impossible; the loser sees storage.ErrTokenResolved.
func (s *Supervisor) ResolveApproval(ctx context.Context, tokenID uuid.UUID, approved bool) error {
	tok, err := s.db.ResolveWaitToken(ctx, tokenID, approved)
	if err != nil {
		return err
	}
	return s.resumeRun(ctx, tok, approved)
}

func (s *Supervisor) resumeRun(ctx context.Context, tok model.WaitToken, approved bool) error {
	run, err := s.db.GetRun(ctx, tok.RunID)
	if err != nil {
		return fmt.Errorf("supervisor: lookup suspended run: %w", err)
	}
	if run.Status != model.RunStatusWaitingApproval {
		return fmt.Errorf("supervisor: run %s is %s, not waiting for approval", run.ID, run.Status)
	}

	// The wait token is already consumed. From here on an error would strand
	// the run in waiting_approval with nothing left to rescue it, so
	// restoration failures fail the run instead of leaving it suspended.
	user, err := s.db.GetUser(ctx, run.UserID)
	if err != nil {
		s.fail(run.ID, "run state could not be restored")
		return fmt.Errorf("supervisor: lookup user: %w", err)
	}
	checkpoint, err := s.db.GetRunContext(ctx, run.ID)
	if err != nil {
		s.fail(run.ID, "run state could not be restored")
		return fmt.Errorf("supervisor: load checkpoint: %w", err)
	}
	st, err := engine.RestoreState(run, checkpoint)
	if err != nil {
		s.fail(run.ID, "run state could not be restored")
		return err
	}
	if err := s.db.ResumeRun(ctx, run.ID); err != nil {
		s.fail(run.ID, "run state could not be restored")
		return err
	}

	resolution := engine.Resolution{CallID: tok.CallID, Approved: approved}
	s.pool.Go(func() error {
		execCtx, cancel := context.WithTimeout(s.baseCtx, s.cfg.WallClock)
		defer cancel()
		outcome, err := s.executor.Resume(execCtx, st, user, resolution)
		s.settle(run, user, outcome, err)
		return nil
	})
	return nil
}

// sweepLoop reaps expired wait tokens. Expiry is a rejection: the suspended
// run resumes and the gated call fails.
func (s *Supervisor) sweepLoop() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.baseCtx.Done():
			return
		case <-ticker.C:
			s.sweepExpired()
		}
	}
}

func (s *Supervisor) sweepExpired() {
	ctx, cancel := context.WithTimeout(s.baseCtx, 30*time.Second)
	defer cancel()

	expired, err := s.db.ExpireWaitTokens(ctx, time.Now())
	if err != nil {
		s.logger.Error("supervisor: expire wait tokens", "error", err)
		return
	}
	for _, tok := range expired {
		s.logger.Info("supervisor: wait token expired", "token_id", tok.ID, "run_id", tok.RunID)
		if err := s.resumeRun(ctx, tok, false); err != nil {
			s.logger.Error("supervisor: resume after expiry", "run_id", tok.RunID, "error", err)
		}
	}
}
