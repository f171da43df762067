package rules

import "errors"

var (
	// ErrUnknownFamily is returned for a FamilyKind the engine does not dispatch.
	ErrUnknownFamily = errors.New("unknown screening family")

	// ErrMissingTable is returned when a request carries no input table.
	ErrMissingTable = errors.New("input table is required")

	// ErrMissingPrevious is returned when a two-period screening has no earlier table.
	ErrMissingPrevious = errors.New("previous period table is required")
)
