package bridge

import (
	"errors"
	"fmt"
)

// ErrorCode is the native error code attached to a cursor (must match the
// engine's cursor::error_code_t).
type ErrorCode int32

const (
	CodeNone                    ErrorCode = 0
	CodeDatabaseAlreadyExists   ErrorCode = 1
	CodeDatabaseNotExists       ErrorCode = 2
	CodeCollectionAlreadyExists ErrorCode = 3
	CodeCollectionNotExists     ErrorCode = 4
	CodeCollectionDropped       ErrorCode = 5
	CodeSQLParseError           ErrorCode = 6
	CodeCreatePhysicalPlanError ErrorCode = 7
	CodeOther                   ErrorCode = -1
)

// CodeFromNative maps a raw native code to an ErrorCode. Unknown values map
// to CodeOther.
func CodeFromNative(v int32) ErrorCode {
	switch c := ErrorCode(v); c {
	case CodeNone,
		CodeDatabaseAlreadyExists,
		CodeDatabaseNotExists,
		CodeCollectionAlreadyExists,
		CodeCollectionNotExists,
		CodeCollectionDropped,
		CodeSQLParseError,
		CodeCreatePhysicalPlanError:
		return c
	default:
		return CodeOther
	}
}

func (c ErrorCode) String() string {
	switch c {
	case CodeNone:
		return "none"
	case CodeDatabaseAlreadyExists:
		return "database already exists"
	case CodeDatabaseNotExists:
		return "database does not exist"
	case CodeCollectionAlreadyExists:
		return "collection already exists"
	case CodeCollectionNotExists:
		return "collection does not exist"
	case CodeCollectionDropped:
		return "collection dropped"
	case CodeSQLParseError:
		return "sql parse error"
	case CodeCreatePhysicalPlanError:
		return "physical plan creation error"
	default:
		return "other error"
	}
}

// Error is a native error descriptor.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return "otterbrix: " + e.Code.String()
	}
	return fmt.Sprintf("otterbrix: %s: %s", e.Code, e.Message)
}

// Is matches any *Error with the same code, so the sentinels below work with
// errors.Is regardless of the message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrDatabaseAlreadyExists   = &Error{Code: CodeDatabaseAlreadyExists}
	ErrDatabaseNotExists       = &Error{Code: CodeDatabaseNotExists}
	ErrCollectionAlreadyExists = &Error{Code: CodeCollectionAlreadyExists}
	ErrCollectionNotExists     = &Error{Code: CodeCollectionNotExists}
	ErrCollectionDropped       = &Error{Code: CodeCollectionDropped}
	ErrSQLParse                = &Error{Code: CodeSQLParseError}
	ErrCreatePhysicalPlan      = &Error{Code: CodeCreatePhysicalPlanError}
	ErrOther                   = &Error{Code: CodeOther}
)

// Boundary errors that do not come from a cursor.
var (
	ErrNullHandle        = errors.New("native call returned a null handle")
	ErrInvalidHandle     = errors.New("invalid native handle")
	ErrNativeUnavailable = errors.New("libotterbrix is not linked into this binary (build with -tags otterbrix)")
)

// NewError converts a native code and message into an error. CodeNone yields
// nil.
func NewError(code ErrorCode, what string) error {
	if code == CodeNone {
		return nil
	}
	return &Error{Code: code, Message: what}
}

// CodeOf extracts the native code from err. Errors that did not come from the
// engine report CodeOther; nil reports CodeNone.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeOther
}
