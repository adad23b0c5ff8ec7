package apperrors

import "errors"

var (
	ErrClientNotFound = errors.New("client not found")
	ErrUnknownHandler = errors.New("unknown handler")
	ErrUnknownMutator = errors.New("unknown mutator")
)
