package engine

import (
	"errors"
	"fmt"
)

// RuntimeError is a failure that ends the generation loop.
//
// Per-program failures are not RuntimeErrors: they become verdicts. A
// RuntimeError means a collaborator the loop cannot work without broke.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Round is the loop round in which the error happened.
	Round int

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeGenerator indicates the generator exhausted its retry budget.
	ErrCodeGenerator RuntimeErrorCode = "GENERATOR_FAILED"

	// ErrCodeToolchain indicates the compiler or coverage tools could not run.
	ErrCodeToolchain RuntimeErrorCode = "TOOLCHAIN_FAILED"

	// ErrCodeStore indicates a persistence failure.
	ErrCodeStore RuntimeErrorCode = "STORE_FAILED"

	// ErrCodeCorpus indicates the seed corpus could not be written.
	ErrCodeCorpus RuntimeErrorCode = "CORPUS_FAILED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Round > 0 {
		msg = fmt.Sprintf("%s (round=%d)", msg, e.Round)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func newRuntimeError(code RuntimeErrorCode, round int, msg string, err error) *RuntimeError {
	return &RuntimeError{Code: code, Message: msg, Round: round, Err: err}
}

// IsGeneratorError returns true if err is a RuntimeError with
// ErrCodeGenerator. Uses errors.As to handle wrapped errors.
func IsGeneratorError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeGenerator
	}
	return false
}

// IsToolchainError returns true if err is a RuntimeError with
// ErrCodeToolchain.
func IsToolchainError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeToolchain
	}
	return false
}
