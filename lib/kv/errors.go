package kv

import (
	"fmt"
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message
	Err  error   // Optional underlying cause
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("KVError (code %s): %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("KVError (code %s): %s", e.Code, e.Msg)
}

// Unwrap exposes the underlying cause (if any) to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// WrapError creates a new Error with the given code, message and cause.
func WrapError(code RetCode, msg string, err error) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
		Err:  err,
	}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess           RetCode = iota // 0: Operation executed successfully.
	RetCInternalError                    // 1: Operation failed due to an internal error.
	RetCAllocationFailure                // 2: The upstream memory resource refused a request.
	RetCCapacityExceeded                 // 3: Worker registration past the configured maximum.
	RetCContractViolation                // 4: A caller-side contract was violated (table options, key/value type).
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCAllocationFailure:
		return "AllocationFailure"
	case RetCCapacityExceeded:
		return "CapacityExceeded"
	case RetCContractViolation:
		return "ContractViolation"
	default:
		return "Unknown"
	}
}
