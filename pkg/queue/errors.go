package queue

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is the numeric result of a queue operation.
type Code uint32

const (
	CodeSuccess Code = iota
	// CodeMoreData means the buffer passed to Receive could not hold the
	// request. The returned size is the exact size needed.
	CodeMoreData
	// CodeConnectionInvalid means the connection carrying the request is gone.
	CodeConnectionInvalid
	CodeInsufficientBuffer
	CodeNotEnoughMemory
	CodeInvalidParameter
	CodeAlreadyExists
	CodeNotFound
	CodeOperationAborted
	CodeIO
)

var codeNames = map[Code]string{
	CodeSuccess:            "success",
	CodeMoreData:           "more data",
	CodeConnectionInvalid:  "connection invalid",
	CodeInsufficientBuffer: "insufficient buffer",
	CodeNotEnoughMemory:    "not enough memory",
	CodeInvalidParameter:   "invalid parameter",
	CodeAlreadyExists:      "already exists",
	CodeNotFound:           "not found",
	CodeOperationAborted:   "operation aborted",
	CodeIO:                 "i/o error",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", uint32(c))
}

// Error is returned by every queue operation that fails.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s (%d)", e.Op, e.Code, uint32(e.Code))
	if e.Err != nil {
		s = fmt.Sprintf("%s: %v", s, e.Err)
	}
	return s
}

// NewError returns an *Error for the given code and operation.
func NewError(code Code, op string, err error) error {
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf returns the result code carried by err. Errors wrapped with
// github.com/pkg/errors are unwrapped. A nil error is CodeSuccess and an error
// that doesn't come from the queue is CodeIO.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	if e, ok := errors.Cause(err).(*Error); ok {
		return e.Code
	}
	return CodeIO
}
