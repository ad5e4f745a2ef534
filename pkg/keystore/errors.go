package keystore

import "fmt"

// CodeResourceNotFound is the backend error code reserved for the not-found
// sub-case of DataAccessError.
const CodeResourceNotFound = "ResourceNotFound"

// NotFoundError is returned when no record exists for a uid.
type NotFoundError struct {
	UID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("record does not exist: %s", e.UID)
}

// Code returns the backend error code for the not-found case.
func (e *NotFoundError) Code() string {
	return CodeResourceNotFound
}

// DataAccessError is returned for any other backing-store failure, including
// a uid that fails format validation before a backend call is made.
type DataAccessError struct {
	Message string
	ErrCode string
}

func (e *DataAccessError) Error() string {
	return e.Message
}

// Code returns the backend error code, when one was reported.
func (e *DataAccessError) Code() string {
	return e.ErrCode
}
