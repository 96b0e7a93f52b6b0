package entity

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError means the input can never succeed as sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// MissingFieldsError is a ValidationError listing every absent field.
func MissingFieldsError(fields []string) *ValidationError {
	return &ValidationError{
		Field:  strings.Join(fields, ","),
		Reason: "required",
	}
}

// TransientDeliveryError marks a failure that is worth retrying.
type TransientDeliveryError struct {
	Op  string
	Err error
}

func (e *TransientDeliveryError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientDeliveryError) Unwrap() error {
	return e.Err
}

// NotificationError is a gateway rejection of an outbound message.
type NotificationError struct {
	Number  string
	Status  int
	Message string
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notify %s: status %d: %s", e.Number, e.Status, e.Message)
}

// PersistenceError wraps a storage failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsTransient(err error) bool {
	var t *TransientDeliveryError
	return errors.As(err, &t)
}

func IsPersistence(err error) bool {
	var p *PersistenceError
	return errors.As(err, &p)
}
