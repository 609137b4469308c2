package doc

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes document errors.
type ErrorCode string

const (
	// ErrCodeMissingDependency: an op refers to something not integrated yet.
	ErrCodeMissingDependency ErrorCode = "MISSING_DEPENDENCY"

	// ErrCodeMalformedUpdate: an update cannot be decoded or an op is
	// structurally impossible (e.g. a child inserted under a file).
	ErrCodeMalformedUpdate ErrorCode = "MALFORMED_UPDATE"

	// ErrCodeTxnAborted: the transaction function returned an error and
	// every op it applied was rolled back.
	ErrCodeTxnAborted ErrorCode = "TXN_ABORTED"
)

// ErrTxnInProgress is returned when a mutation is attempted while another
// transaction holds the document, including from inside a transaction
// function.
var ErrTxnInProgress = errors.New("doc: transaction already in progress")

// Error carries a code plus the op or key it concerns.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func missing(format string, args ...any) *Error {
	return &Error{Code: ErrCodeMissingDependency, Message: fmt.Sprintf(format, args...)}
}

func malformed(format string, args ...any) *Error {
	return &Error{Code: ErrCodeMalformedUpdate, Message: fmt.Sprintf(format, args...)}
}

func hasCode(err error, code ErrorCode) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// IsMissingDependency reports whether err is a parked-op condition.
func IsMissingDependency(err error) bool {
	return hasCode(err, ErrCodeMissingDependency)
}

// IsMalformed reports whether err is a malformed update or op.
func IsMalformed(err error) bool {
	return hasCode(err, ErrCodeMalformedUpdate)
}

// IsAborted reports whether err came from a rolled back transaction.
func IsAborted(err error) bool {
	return hasCode(err, ErrCodeTxnAborted)
}
