package kms

import "fmt"

// InvalidUidError is returned when a caller attempts to write a record other
// than their own.
type InvalidUidError struct {
	UID      string
	CallerID string
}

func (e *InvalidUidError) Error() string {
	return fmt.Sprintf("not allowed to write to: %s | user id: %s", e.UID, e.CallerID)
}

// IncompleteDataError is returned when the request body is missing required
// data.
type IncompleteDataError struct {
	Message string
}

func (e *IncompleteDataError) Error() string {
	return e.Message
}
