package types

import (
	"errors"
	"fmt"
)

// Code is a stable, serializable error code in the coordinator's error
// taxonomy. Codes are part of the wire contract: clients match on Code, not
// on Message text.
type Code string

const (
	CodeMissingRequiredField  Code = "MissingRequiredField"
	CodeInvalidFieldValue     Code = "InvalidFieldValue"
	CodeInvalidState          Code = "InvalidState"
	CodeWorkerNotFound        Code = "WorkerNotFound"
	CodeTaskNotFound          Code = "TaskNotFound"
	CodeFileNotFound          Code = "FileNotFound"
	CodeAttachmentNotFound    Code = "AttachmentNotFound"
	CodeAlreadyClaimed        Code = "AlreadyClaimed"
	CodeAlreadyExists         Code = "AlreadyExists"
	CodeDependencyCycle       Code = "DependencyCycle"
	CodeClaimLimitExceeded    Code = "ClaimLimitExceeded"
	CodeTagMismatch           Code = "TagMismatch"
	CodeNotOwner              Code = "NotOwner"
	CodeDependencyNotSatisfied Code = "DependencyNotSatisfied"
	CodeDatabaseError         Code = "DatabaseError"
	CodeInternalError         Code = "InternalError"
	CodeUnknownTool           Code = "UnknownTool"
)

// Error is the single error type returned across the kernel's public
// boundary. It carries a stable Code plus enough context (Field, Details)
// for a caller to act without parsing Message.
type Error struct {
	Code    Code
	Message string
	Field   string
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError constructs an Error with no field or details.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithField returns a copy of e with Field set, for chaining at the call site.
func (e *Error) WithField(field string) *Error {
	cp := *e
	cp.Field = field
	return &cp
}

// WithDetails returns a copy of e with the given details merged in.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// AsError extracts a *Error from err (including wrapped errors), matching
// the errors.As convention over sentinel string comparison.
func AsError(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
