package core

// Error codes for domain errors. Authentication failures never reach this
// layer: a connection is refused before registration.
const (
	ErrCodeForbidden     = "forbidden"
	ErrCodeValidation    = "validation_failed"
	ErrCodeNotFound      = "not_found"
	ErrCodeStateConflict = "state_conflict"
	ErrCodeInternal      = "internal_error"
)

// CoreError wraps a code and human-readable message. It is delivered as a
// scoped error event to the originating connection only, never broadcast.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func errForbidden(msg string) *CoreError {
	return &CoreError{Code: ErrCodeForbidden, Message: msg}
}

func errValidation(msg string) *CoreError {
	return &CoreError{Code: ErrCodeValidation, Message: msg}
}

func errNotFound(msg string) *CoreError {
	return &CoreError{Code: ErrCodeNotFound, Message: msg}
}

func errStateConflict(msg string) *CoreError {
	return &CoreError{Code: ErrCodeStateConflict, Message: msg}
}
