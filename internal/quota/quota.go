package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/prospecta-ai/prospecta/internal/model"
	"github.com/prospecta-ai/prospecta/internal/storage"
)

// UsageStore is the storage contract the ledger needs. *storage.DB satisfies
// it; tests substitute an in-memory implementation.
type UsageStore interface {
	EnsureUsagePeriod(ctx context.Context, userID uuid.UUID, periodStart, periodEnd time.Time) error
	IncrementWithLimit(ctx context.Context, userID uuid.UUID, periodStart time.Time, kind model.UsageKind, limit int) (int, error)
	AddPromptCost(ctx context.Context, userID uuid.UUID, periodStart time.Time, inputTokens, outputTokens int64, dollars float64) error
	GetUsage(ctx context.Context, userID uuid.UUID, periodStart time.Time) (model.Usage, error)
}

// planLimits maps subscription tiers to their per-period ceilings (0 = unlimited).
var planLimits = map[model.PlanName]model.PlanLimits{
	model.PlanFree:       {Searches: 10, Exports: 10, Prompts: 10},
	model.PlanPro:        {Searches: 0, Exports: 50, Prompts: 100},
	model.PlanEnterprise: {Searches: 0, Exports: 0, Prompts: 500},
}

// Limits returns the ceilings for a plan, defaulting unknown plans to FREE.
func Limits(plan model.PlanName) model.PlanLimits {
	if l, ok := planLimits[plan]; ok {
		return l
	}
	return planLimits[model.PlanFree]
}

// Decision is the outcome of an admission check. Remaining is -1 when the
// counter is unlimited.
type Decision struct {
	Allowed   bool
	Remaining int
	Limit     int
	Used      int
}

// Service enforces per-user usage quotas and records prompt spend.
type Service struct {
	store  UsageStore
	logger *slog.Logger
	now    func() time.Time
}

// New creates a quota service.
func New(store UsageStore, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

// CheckAndReserve atomically reserves one unit of kind for the user's active
// period. The reservation only succeeds if the post-increment counter stays
// within the user's plan limit, so concurrent callers cannot jointly exceed
// it. Denials carry the limit and current usage so callers can explain
// themselves; they are decisions, not errors.
func (s *Service) CheckAndReserve(ctx context.Context, user model.User, kind model.UsageKind) (Decision, error) {
	start, end := PeriodForAnchor(user.CreatedAt, s.now())
	if err := s.store.EnsureUsagePeriod(ctx, user.ID, start, end); err != nil {
		return Decision{}, fmt.Errorf("quota: ensure period: %w", err)
	}

	limit := limitFor(Limits(user.Plan), kind)
	newValue, err := s.store.IncrementWithLimit(ctx, user.ID, start, kind, limit)
	if err != nil {
		if errors.Is(err, storage.ErrLimitReached) {
			usage, usageErr := s.store.GetUsage(ctx, user.ID, start)
			if usageErr != nil {
				s.logger.Warn("quota: usage lookup after denial", "error", usageErr, "user_id", user.ID)
			}
			return Decision{Allowed: false, Remaining: 0, Limit: limit, Used: usedFor(usage, kind)}, nil
		}
		return Decision{}, fmt.Errorf("quota: reserve %s: %w", kind, err)
	}

	remaining := -1
	if limit > 0 {
		remaining = limit - newValue
	}
	return Decision{Allowed: true, Remaining: remaining, Limit: limit, Used: newValue}, nil
}

// RecordCost converts a completed run's token counts into dollars using the
// tiered pricing table and adds them to the period counters. Metering is
// best-effort after the fact: failures are returned for logging but must
// never block or reverse the finished run.
func (s *Service) RecordCost(ctx context.Context, user model.User, modelName string, inputTokens, outputTokens int64) error {
	if inputTokens == 0 && outputTokens == 0 {
		return nil
	}
	start, end := PeriodForAnchor(user.CreatedAt, s.now())
	if err := s.store.EnsureUsagePeriod(ctx, user.ID, start, end); err != nil {
		return fmt.Errorf("quota: ensure period: %w", err)
	}

	dollars := Cost(modelName, inputTokens, outputTokens)
	if err := s.store.AddPromptCost(ctx, user.ID, start, inputTokens, outputTokens, dollars); err != nil {
		return fmt.Errorf("quota: record cost: %w", err)
	}
	return nil
}

// CurrentUsage returns the user's counters for the active period alongside
// their plan limits, creating the period row on demand.
func (s *Service) CurrentUsage(ctx context.Context, user model.User) (model.Usage, model.PlanLimits, error) {
	start, end := PeriodForAnchor(user.CreatedAt, s.now())
	if err := s.store.EnsureUsagePeriod(ctx, user.ID, start, end); err != nil {
		return model.Usage{}, model.PlanLimits{}, fmt.Errorf("quota: ensure period: %w", err)
	}
	usage, err := s.store.GetUsage(ctx, user.ID, start)
	if err != nil {
		return model.Usage{}, model.PlanLimits{}, fmt.Errorf("quota: current usage: %w", err)
	}
	return usage, Limits(user.Plan), nil
}

func limitFor(l model.PlanLimits, kind model.UsageKind) int {
	switch kind {
	case model.UsageSearch:
		return l.Searches
	case model.UsageExport:
		return l.Exports
	case model.UsagePrompt:
		return l.Prompts
	default:
		return 0
	}
}

func usedFor(u model.Usage, kind model.UsageKind) int {
	switch kind {
	case model.UsageSearch:
		return u.Searches
	case model.UsageExport:
		return u.Exports
	case model.UsagePrompt:
		return u.Prompts
	default:
		return 0
	}
}
