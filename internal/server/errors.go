package server

import "errors"

var (
	// ErrAccessDenied means the caller is not a participant of the room or
	// not the owner of the notification it tried to act on.
	ErrAccessDenied = errors.New("access denied")

	// ErrValidation means the request payload failed a content check.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound means the referenced room, message or notification does
	// not exist.
	ErrNotFound = errors.New("not found")
)
