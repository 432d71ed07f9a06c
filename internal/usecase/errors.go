package usecase

import "errors"

// Caller-facing error taxonomy, mapped to HTTP codes by the handlers.
var (
	ErrNotFound   = errors.New("record not found")
	ErrForbidden  = errors.New("record belongs to another user")
	ErrConflict   = errors.New("record is already being processed")
	ErrNotAnImage = errors.New("uploaded file is not a supported image")
)
