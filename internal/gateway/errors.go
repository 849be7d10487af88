package gateway

import "errors"

// Error definitions. Callers match them with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("conflict")
	ErrResourceFault   = errors.New("resource fault")
	ErrBindFailed      = errors.New("failed to bind listener")
)
