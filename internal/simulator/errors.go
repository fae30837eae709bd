package simulator

import "fmt"

// ValidationError reports malformed or out-of-range input to a mutating
// operation. Portfolio state is left unchanged.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidOperationError reports an operation whose precondition is violated
// by the current state (insufficient balance, coin without a usable price).
// Portfolio state is left unchanged.
type InvalidOperationError struct {
	Op     string
	Reason string
}

func (e *InvalidOperationError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Op, e.Reason)
}

// NotFoundError reports a reference to a holding or coin that does not exist
// in the current state.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}
