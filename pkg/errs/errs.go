// Package errs classifies pipeline errors into the kinds operators act on.
package errs

import "errors"

// Kind is the operational class of an error.
type Kind string

const (
	KindNone       Kind = ""
	KindData       Kind = "data"
	KindValidation Kind = "validation"
	KindExecution  Kind = "execution"
	KindDegraded   Kind = "degraded"
	KindSystem     Kind = "system"
)

// Coded is implemented by errors that carry a stable machine-readable code
// and an operator-facing hint.
type Coded interface {
	error
	Kind() Kind
	Code() string
	Hint() string
}

// Error is a generic coded error.
type Error struct {
	K   Kind
	C   string
	Msg string
	H   string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }
func (e *Error) Kind() Kind    { return e.K }
func (e *Error) Code() string  { return e.C }
func (e *Error) Hint() string  { return e.H }

// New returns a coded error.
func New(kind Kind, code, msg string) *Error {
	return &Error{K: kind, C: code, Msg: msg}
}

// Wrap attaches a kind and code to err.
func Wrap(kind Kind, code string, err error, msg string) *Error {
	return &Error{K: kind, C: code, Msg: msg, Err: err}
}

// Data marks err as a data error (skip and continue).
func Data(code string, err error) *Error {
	return &Error{K: KindData, C: code, Msg: "data error", Err: err}
}

// KindOf returns the kind of the first coded error in err's chain.
// Uncoded errors are system errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var c Coded
	if errors.As(err, &c) {
		return c.Kind()
	}
	return KindSystem
}

// CodeOf returns the code of the first coded error in err's chain, or "INTERNAL".
func CodeOf(err error) string {
	var c Coded
	if errors.As(err, &c) && c.Code() != "" {
		return c.Code()
	}
	return "INTERNAL"
}

// HintOf returns the remediation hint, if any.
func HintOf(err error) string {
	var c Coded
	if errors.As(err, &c) {
		return c.Hint()
	}
	return ""
}
