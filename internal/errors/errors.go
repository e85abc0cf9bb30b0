// internal/errors/errors.go
package appErrors

import "fmt"

// ErrMessageNotFound is returned when an outbound message lookup misses.
type ErrMessageNotFound struct {
	MessageID string
}

func (e *ErrMessageNotFound) Error() string {
	return fmt.Sprintf("message %s not found", e.MessageID)
}

func NewMessageNotFound(id string) error {
	return &ErrMessageNotFound{MessageID: id}
}

// ErrContentBlocked is returned when generated content fails validation
// and must not be delivered.
type ErrContentBlocked struct {
	Reasons []string
}

func (e *ErrContentBlocked) Error() string {
	return fmt.Sprintf("content blocked by validation: %v", e.Reasons)
}

func NewContentBlocked(reasons []string) error {
	return &ErrContentBlocked{Reasons: reasons}
}
