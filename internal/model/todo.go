package model

import "time"

// TodoStatus is the state of one planned sub-task.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
	TodoFailed     TodoStatus = "failed"
)

// todoRank orders statuses along the only legal direction of travel.
var todoRank = map[TodoStatus]int{
	TodoPending:    0,
	TodoInProgress: 1,
	TodoCompleted:  2,
	TodoFailed:     2,
}

// CanTransition reports whether moving from s to next is a forward transition.
// Statuses never move backward; completed and failed are terminal.
func (s TodoStatus) CanTransition(next TodoStatus) bool {
	from, ok := todoRank[s]
	if !ok {
		return false
	}
	to, ok := todoRank[next]
	if !ok {
		return false
	}
	if s == TodoCompleted || s == TodoFailed {
		return s == next
	}
	return to >= from
}

// Todo is one planned sub-task within a run. Position is stable once assigned.
type Todo struct {
	ID           string     `json:"id"`
	Position     int        `json:"position"`
	Description  string     `json:"description"`
	Status       TodoStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}
