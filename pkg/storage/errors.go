package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Code is the failure class every Store error carries.
type Code uint8

const (
	CodeTransport Code = iota
	CodeNotFound
	CodePermission
	CodeIO
	CodeSizeLimit
)

func (c Code) String() string {
	switch c {
	case CodeNotFound:
		return "not found"
	case CodePermission:
		return "permission denied"
	case CodeTransport:
		return "transport error"
	case CodeIO:
		return "local i/o error"
	case CodeSizeLimit:
		return "size limit exceeded"
	}
	return fmt.Sprintf("Code(%d)", uint8(c))
}

var (
	ErrNotFound   = errors.New("not found")
	ErrPermission = errors.New("permission denied")
	ErrTransport  = errors.New("transport error")
	ErrIO         = errors.New("local i/o error")
	ErrSizeLimit  = errors.New("size limit exceeded")

	// ErrInvalidName is returned before any backend call for malformed container or blob names.
	ErrInvalidName = errors.New("invalid name")

	// ErrNotAppendBlob is the cause when an append targets an existing block blob.
	ErrNotAppendBlob = errors.New("blob is not an append blob")

	// ErrNameConflict is the cause when a backend with real directories cannot place a blob,
	// for example "a/b" when a blob named "a" already exists.
	ErrNameConflict = errors.New("blob name conflicts with an existing blob or directory")
)

// permanentCauses never go away on a retry, whatever class they were reported under.
var permanentCauses = []error{
	context.Canceled,
	context.DeadlineExceeded,
	ErrInvalidName,
	ErrNotAppendBlob,
	ErrNameConflict,
}

func (c Code) sentinel() error {
	switch c {
	case CodeNotFound:
		return ErrNotFound
	case CodePermission:
		return ErrPermission
	case CodeIO:
		return ErrIO
	case CodeSizeLimit:
		return ErrSizeLimit
	}
	return ErrTransport
}

// Error is a classified storage failure.
type Error struct {
	Code      Code
	Op        string
	Container string
	Blob      string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	switch {
	case e.Container != "" && e.Blob != "":
		fmt.Fprintf(&b, "%s/%s: ", e.Container, e.Blob)
	case e.Container != "":
		fmt.Fprintf(&b, "%s: ", e.Container)
	}
	b.WriteString(e.Code.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the class sentinel and the cause, so errors.Is matches either.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Code.sentinel()}
	}
	return []error{e.Code.sentinel(), e.Err}
}

// NewError builds a classified error. Backends use it to report vendor failures.
func NewError(code Code, op, container, blob string, err error) *Error {
	return &Error{Code: code, Op: op, Container: container, Blob: blob, Err: err}
}

// CodeOf returns the class of err. Unclassified errors are transport errors.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeTransport
}

// IsRetryable reports whether a caller may retry the failed operation.
// Only classified transport failures qualify, and none caused by a cancelled context, a
// malformed name, an append to a block blob or a name conflict.
func IsRetryable(err error) bool {
	var se *Error
	if !errors.As(err, &se) || se.Code != CodeTransport {
		return false
	}
	for _, cause := range permanentCauses {
		if errors.Is(err, cause) {
			return false
		}
	}
	return true
}

// classify fills in operation context on a backend error, keeping any class the backend set.
func classify(op, container, blob string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		if se.Op == "" || se.Container == "" || (se.Blob == "" && blob != "") {
			cp := *se
			if cp.Op == "" {
				cp.Op = op
			}
			if cp.Container == "" {
				cp.Container = container
			}
			if cp.Blob == "" {
				cp.Blob = blob
			}
			return &cp
		}
		return err
	}
	return NewError(CodeTransport, op, container, blob, err)
}
