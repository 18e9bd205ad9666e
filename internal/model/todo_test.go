package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTodoStatusCanTransition(t *testing.T) {
	tests := []struct {
		from, to TodoStatus
		want     bool
	}{
		{TodoPending, TodoInProgress, true},
		{TodoPending, TodoCompleted, true},
		{TodoPending, TodoFailed, true},
		{TodoPending, TodoPending, true},
		{TodoInProgress, TodoCompleted, true},
		{TodoInProgress, TodoFailed, true},
		{TodoInProgress, TodoPending, false},
		{TodoCompleted, TodoCompleted, true},
		{TodoCompleted, TodoFailed, false},
		{TodoCompleted, TodoInProgress, false},
		{TodoFailed, TodoFailed, true},
		{TodoFailed, TodoCompleted, false},
		{TodoStatus("bogus"), TodoCompleted, false},
		{TodoPending, TodoStatus("bogus"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}
