package main

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("kernel image rejected")
	ErrNotFound     = errors.New("symbol not found")
	ErrOrdering     = errors.New("operation not allowed in current state")
	ErrInvalidEntry = errors.New("entry address outside loaded code")
	ErrBadPointer   = errors.New("pointer outside kernel memory")
	ErrFatal        = errors.New("kernel CPU control failure")
	ErrUntrusted    = fmt.Errorf("kernel CPU untrusted after control failure: %w", ErrFatal)
)

// ValidationError reports the first image check that failed.
type ValidationError struct {
	Code int    // IMAGE_ERR_*
	Msg  string // human readable detail
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", imageErrName(e.Code), e.Msg)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalidImage(code int, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func imageErrName(code int) string {
	switch code {
	case IMAGE_ERR_SHORT:
		return "image too short"
	case IMAGE_ERR_TRUNCATED:
		return "image truncated"
	case IMAGE_ERR_BAD_TAG:
		return "bad image tag"
	case IMAGE_ERR_BAD_VERSION:
		return "unsupported image version"
	case IMAGE_ERR_CODE_TOO_LARGE:
		return "code section too large"
	case IMAGE_ERR_PAYLOAD_TOO_LARGE:
		return "payload section too large"
	case IMAGE_ERR_SYMTAB_BOUNDS:
		return "symbol table out of bounds"
	case IMAGE_ERR_LENGTH:
		return "image length mismatch"
	case IMAGE_ERR_BAD_SYMBOL:
		return "bad symbol entry"
	default:
		return "invalid image"
	}
}

// FatalError wraps a failure of the halt/reset/run control path or of the
// shared memory regions. The kernel CPU is untrusted afterwards.
type FatalError struct {
	Operation string
	Err       error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("kernel CPU %s failed: %v", e.Operation, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

func (e *FatalError) Is(target error) bool {
	return target == ErrFatal
}
