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

// GetUser returns the account projection used for quota decisions: the plan
// name and the creation timestamp that anchors the billing period.
func (db *DB) GetUser(ctx context.Context, id uuid.UUID) (model.User, error) {
	var u model.User
	err := db.pool.QueryRow(ctx,
		`SELECT id, email, plan, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.Plan, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("storage: get user: %w", err)
	}
	return u, nil
}

// CreateUser inserts a user. Primarily used by tests and dev seeding.
func (db *DB) CreateUser(ctx context.Context, email string, plan model.PlanName, createdAt time.Time) (model.User, error) {
	u := model.User{
		ID:        uuid.New(),
		Email:     email,
		Plan:      plan,
		CreatedAt: createdAt.UTC(),
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO users (id, email, plan, created_at) VALUES ($1, $2, $3, $4)`,
		u.ID, u.Email, string(u.Plan), u.CreatedAt,
	)
	if err != nil {
		return model.User{}, fmt.Errorf("storage: create user: %w", err)
	}
	return u, nil
}
