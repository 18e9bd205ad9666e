package storage

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrRunConflict is returned when another run is already active
	// (running or waiting_approval) on the same thread.
	ErrRunConflict = errors.New("storage: thread already has an active run")

	// ErrRunTerminal is returned when attempting to mutate a run that has
	// already reached completed or failed.
	ErrRunTerminal = errors.New("storage: run is terminal")

	// ErrTokenResolved is returned when a wait token has already been
	// consumed (or has expired); tokens resolve exactly once.
	ErrTokenResolved = errors.New("storage: wait token already resolved")

	// ErrLimitReached is returned by IncrementWithLimit when the
	// post-increment value would exceed the limit.
	ErrLimitReached = errors.New("storage: usage limit reached")
)
