package services

import "errors"

var (
	ErrDuplicateEmail = errors.New("email already registered")
	ErrUserNotFound   = errors.New("user not found")
	ErrBadCredentials = errors.New("bad credentials")
	ErrHashing        = errors.New("failed to hash password")
	ErrTokenIssuance  = errors.New("failed to issue token")
	ErrTodoNotFound   = errors.New("todo not found")
)

// ValidationError reports client-supplied data that breaks a business rule.
// Its message is safe to return to the client.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationError(message string) error {
	return &ValidationError{Message: message}
}
