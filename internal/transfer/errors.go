package transfer

import (
	"context"
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindConnection ErrorKind = "ConnectionError"
	KindValidation ErrorKind = "ValidationError"
	KindParse      ErrorKind = "ParseError"
	KindSchema     ErrorKind = "SchemaError"
	KindQuery      ErrorKind = "QueryError"
)

// Sentinels for errors.Is. An *Error matches the sentinel of its kind.
var (
	ErrConnection = &Error{Kind: KindConnection}
	ErrValidation = &Error{Kind: KindValidation}
	ErrParse      = &Error{Kind: KindParse}
	ErrSchema     = &Error{Kind: KindSchema}
	ErrQuery      = &Error{Kind: KindQuery}
)

type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	typed, ok := target.(*Error)
	if !ok {
		return false
	}
	return typed.Message == "" && typed.Err == nil && typed.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return ""
}

func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Parsef(format string, args ...any) error {
	return &Error{Kind: KindParse, Message: fmt.Sprintf(format, args...)}
}

func Schemaf(format string, args ...any) error {
	return &Error{Kind: KindSchema, Message: fmt.Sprintf(format, args...)}
}

func ConnectionError(err error) error {
	if passThrough(err) {
		return err
	}
	return &Error{Kind: KindConnection, Err: err}
}

// QueryError wraps a store rejection, keeping the store's message verbatim.
func QueryError(err error) error {
	if passThrough(err) {
		return err
	}
	return &Error{Kind: KindQuery, Err: err}
}

func ParseError(message string, err error) error {
	return &Error{Kind: KindParse, Message: message, Err: err}
}

func passThrough(err error) bool {
	if err == nil || KindOf(err) != "" {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
