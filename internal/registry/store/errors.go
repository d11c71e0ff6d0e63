package store

import "fmt"

// NotFoundError indicates the referenced resource does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ValidationError indicates a client-side validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// ConflictError indicates a uniqueness/conflict violation.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// ForbiddenError indicates the caller may not perform the operation on the
// conversation. Operation and ConversationID feed the HTTP error detail.
type ForbiddenError struct {
	Operation      string
	ConversationID string
}

func (e *ForbiddenError) Error() string {
	if e.Operation == "" {
		return "forbidden"
	}
	return fmt.Sprintf("can not %s conversation %s", e.Operation, e.ConversationID)
}
