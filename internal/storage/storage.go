// Package storage holds what the persistence backends have in common.
package storage

import "errors"

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a write violates a uniqueness constraint.
	ErrDuplicate = errors.New("duplicate record")
	// ErrConstraint is returned when a write violates referential integrity.
	ErrConstraint = errors.New("constraint violation")
)
