package backend

import (
	"errors"
	"fmt"

	"govportal/pkg/platform/sentinel"
)

// Op names a backend operation in structured errors.
type Op string

const (
	OpQuery     Op = "query"
	OpInsert    Op = "insert"
	OpUpdate    Op = "update"
	OpSubscribe Op = "subscribe"
)

// Error is the structured failure returned by backend operations.
type Error struct {
	Op      Op
	Table   string
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s %s: %s (%s)", e.Op, e.Table, msg, e.Code)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Table, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a structured error wrapping cause.
func Errorf(op Op, table string, cause error, format string, args ...any) *Error {
	return &Error{Op: op, Table: table, Message: fmt.Sprintf(format, args...), Err: cause}
}

var (
	// ErrFeedInterrupted ends a subscription whose transport lost events;
	// subscribers should resubscribe and re-read.
	ErrFeedInterrupted = errors.New("change feed interrupted")
	// ErrSlowConsumer ends a subscription whose buffer overflowed.
	ErrSlowConsumer = errors.New("subscriber too slow")
)

// IsNotFound reports whether err means the target row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sentinel.ErrNotFound)
}
