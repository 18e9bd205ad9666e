package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/prospecta-ai/prospecta/internal/model"
)

// usageColumn maps a usage kind to its counter column. The column name is
// interpolated into SQL, so it must come from this closed set.
func usageColumn(kind model.UsageKind) (string, error) {
	switch kind {
	case model.UsageSearch:
		return "searches", nil
	case model.UsageExport:
		return "exports", nil
	case model.UsagePrompt:
		return "prompts", nil
	default:
		return "", fmt.Errorf("storage: unknown usage kind %q", kind)
	}
}

// EnsureUsagePeriod creates the zeroed counter row for (user, period) if it
// does not exist yet. Safe under concurrent callers; the first insert wins
// and later ones are no-ops. Past periods are never mutated.
func (db *DB) EnsureUsagePeriod(ctx context.Context, userID uuid.UUID, periodStart, periodEnd time.Time) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO user_usage (user_id, period_start, period_end)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, period_start) DO NOTHING`,
		userID, periodStart.UTC(), periodEnd.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage: ensure usage period: %w", err)
	}
	return nil
}

// IncrementWithLimit atomically increments a period counter only if the
// post-increment value does not exceed limit (limit 0 = unlimited). The
// WHERE clause makes the compare and the increment a single statement, so
// two concurrent callers can never both slip past a hard limit.
// Returns the new counter value, or ErrLimitReached.
func (db *DB) IncrementWithLimit(ctx context.Context, userID uuid.UUID, periodStart time.Time, kind model.UsageKind, limit int) (int, error) {
	col, err := usageColumn(kind)
	if err != nil {
		return 0, err
	}

	var query string
	if limit <= 0 {
		query = fmt.Sprintf(
			`UPDATE user_usage SET %[1]s = %[1]s + 1, updated_at = now()
			 WHERE user_id = $1 AND period_start = $2
			 RETURNING %[1]s`, col)
	} else {
		query = fmt.Sprintf(
			`UPDATE user_usage SET %[1]s = %[1]s + 1, updated_at = now()
			 WHERE user_id = $1 AND period_start = $2 AND %[1]s < $3
			 RETURNING %[1]s`, col)
	}

	var newValue int
	if limit <= 0 {
		err = db.pool.QueryRow(ctx, query, userID, periodStart.UTC()).Scan(&newValue)
	} else {
		err = db.pool.QueryRow(ctx, query, userID, periodStart.UTC(), limit).Scan(&newValue)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the row is missing or the counter is at the limit.
			var exists bool
			if lookupErr := db.pool.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM user_usage WHERE user_id = $1 AND period_start = $2)`,
				userID, periodStart.UTC(),
			).Scan(&exists); lookupErr != nil {
				return 0, fmt.Errorf("storage: increment lookup: %w", lookupErr)
			}
			if !exists {
				return 0, ErrNotFound
			}
			return 0, ErrLimitReached
		}
		return 0, fmt.Errorf("storage: increment %s: %w", col, err)
	}
	return newValue, nil
}

// AddPromptCost atomically adds token counts and the computed dollar amount
// to the period's counters in a single increment-by-amount statement.
func (db *DB) AddPromptCost(ctx context.Context, userID uuid.UUID, periodStart time.Time, inputTokens, outputTokens int64, dollars float64) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE user_usage SET
		   prompt_input_tokens  = prompt_input_tokens + $3,
		   prompt_output_tokens = prompt_output_tokens + $4,
		   prompt_dollars       = prompt_dollars + $5,
		   updated_at           = now()
		 WHERE user_id = $1 AND period_start = $2`,
		userID, periodStart.UTC(), inputTokens, outputTokens, dollars,
	)
	if err != nil {
		return fmt.Errorf("storage: add prompt cost: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetUsage returns the counters for (user, period).
func (db *DB) GetUsage(ctx context.Context, userID uuid.UUID, periodStart time.Time) (model.Usage, error) {
	var u model.Usage
	err := db.pool.QueryRow(ctx,
		`SELECT user_id, period_start, period_end, searches, exports, prompts,
		        prompt_input_tokens, prompt_output_tokens, prompt_dollars
		 FROM user_usage WHERE user_id = $1 AND period_start = $2`,
		userID, periodStart.UTC(),
	).Scan(&u.UserID, &u.PeriodStart, &u.PeriodEnd, &u.Searches, &u.Exports, &u.Prompts,
		&u.PromptInputTokens, &u.PromptOutputTokens, &u.PromptDollars)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Usage{}, ErrNotFound
		}
		return model.Usage{}, fmt.Errorf("storage: get usage: %w", err)
	}
	return u, nil
}
