package model

import "errors"

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")
	// ErrInvalidTransition is returned when a job status change is not in the transition table.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrForbidden is returned when the requester doesn't own the resource.
	ErrForbidden = errors.New("forbidden")
)
