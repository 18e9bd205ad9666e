package engine

import (
	"fmt"
	"time"

	"github.com/prospecta-ai/prospecta/internal/model"
)

// Tracker maintains the run's todo plan. Todos only move forward (pending to
// in_progress to completed or failed); the tracker enforces that and keeps
// positions stable so observers see a consistent ordering throughout the run.
type Tracker struct {
	todos []model.Todo
	index map[string]int
	now   func() time.Time
}

// NewTracker creates an empty plan tracker.
func NewTracker() *Tracker {
	return &Tracker{index: make(map[string]int), now: func() time.Time { return time.Now().UTC() }}
}

// RestoreTracker rebuilds a tracker from persisted todos.
func RestoreTracker(todos []model.Todo) *Tracker {
	t := NewTracker()
	for _, todo := range todos {
		t.index[todo.ID] = len(t.todos)
		t.todos = append(t.todos, todo)
	}
	return t
}

// Seed installs the initial plan. Positions and IDs are assigned from list
// order. Seeding a non-empty tracker is rejected; use Revise for plan changes.
func (t *Tracker) Seed(descriptions []string) error {
	if len(t.todos) > 0 {
		return fmt.Errorf("engine: plan already seeded")
	}
	for i, desc := range descriptions {
		todo := model.Todo{
			ID:          fmt.Sprintf("todo-%d", i+1),
			Position:    i,
			Description: desc,
			Status:      model.TodoPending,
			CreatedAt:   t.now(),
		}
		t.index[todo.ID] = len(t.todos)
		t.todos = append(t.todos, todo)
	}
	return nil
}

// Revise applies a new plan while honoring forward-only movement: todos at
// positions the new plan keeps retain their status, extra new items append as
// pending, and dropped trailing items that never started are removed. Started
// items are never removed.
func (t *Tracker) Revise(descriptions []string) {
	if len(t.todos) == 0 {
		_ = t.Seed(descriptions)
		return
	}
	for i, desc := range descriptions {
		if i < len(t.todos) {
			if t.todos[i].Status == model.TodoPending {
				t.todos[i].Description = desc
			}
			continue
		}
		todo := model.Todo{
			ID:          fmt.Sprintf("todo-%d", i+1),
			Position:    i,
			Description: desc,
			Status:      model.TodoPending,
			CreatedAt:   t.now(),
		}
		t.index[todo.ID] = len(t.todos)
		t.todos = append(t.todos, todo)
	}
	for len(t.todos) > len(descriptions) {
		last := t.todos[len(t.todos)-1]
		if last.Status != model.TodoPending {
			break
		}
		delete(t.index, last.ID)
		t.todos = t.todos[:len(t.todos)-1]
	}
}

// Transition moves one todo to a new status, enforcing forward-only movement.
// Repeating a terminal status is a no-op so replays are safe.
func (t *Tracker) Transition(id string, next model.TodoStatus, errMsg string) error {
	i, ok := t.index[id]
	if !ok {
		return fmt.Errorf("engine: unknown todo %q", id)
	}
	cur := t.todos[i].Status
	if !cur.CanTransition(next) {
		return fmt.Errorf("engine: todo %q cannot move %s -> %s", id, cur, next)
	}
	if cur == next {
		return nil
	}
	t.todos[i].Status = next
	if next == model.TodoCompleted || next == model.TodoFailed {
		now := t.now()
		t.todos[i].CompletedAt = &now
	}
	if errMsg != "" {
		t.todos[i].ErrorMessage = &errMsg
	}
	return nil
}

// StartNext marks the first pending todo as in progress and returns it.
// Returns false when no pending todo remains or one is already in progress.
func (t *Tracker) StartNext() (model.Todo, bool) {
	for _, todo := range t.todos {
		if todo.Status == model.TodoInProgress {
			return model.Todo{}, false
		}
	}
	for i, todo := range t.todos {
		if todo.Status == model.TodoPending {
			t.todos[i].Status = model.TodoInProgress
			return t.todos[i], true
		}
	}
	return model.Todo{}, false
}

// FinishCurrent closes the in-progress todo as completed or failed.
func (t *Tracker) FinishCurrent(success bool, errMsg string) {
	for _, todo := range t.todos {
		if todo.Status != model.TodoInProgress {
			continue
		}
		status := model.TodoCompleted
		if !success {
			status = model.TodoFailed
		}
		_ = t.Transition(todo.ID, status, errMsg)
		return
	}
}

// CloseRemaining finalizes every non-terminal todo when the run ends. A
// successful run completes them; a failed run fails them with the message.
func (t *Tracker) CloseRemaining(success bool, errMsg string) {
	status := model.TodoCompleted
	if !success {
		status = model.TodoFailed
	}
	for _, todo := range t.todos {
		if todo.Status == model.TodoPending || todo.Status == model.TodoInProgress {
			_ = t.Transition(todo.ID, status, errMsg)
		}
	}
}

// Todos returns a copy of the plan in position order.
func (t *Tracker) Todos() []model.Todo {
	out := make([]model.Todo, len(t.todos))
	copy(out, t.todos)
	return out
}

// Empty reports whether no plan has been seeded.
func (t *Tracker) Empty() bool { return len(t.todos) == 0 }
