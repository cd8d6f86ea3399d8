package metadata

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Code classifies metadata errors.
type Code uint8

const (
	CodeAlreadyExists Code = iota + 1 // a different entity with the same name exists
	CodeNotFound                      // a referenced entity does not exist
	CodeInvalid                       // the request itself is invalid
	CodeConflict                      // a concurrent transaction changed the metadata, retryable
	CodeCorrupt                       // persisted metadata violates an invariant
)

func (c Code) String() string {
	switch c {
	case CodeAlreadyExists:
		return "AlreadyExists"
	case CodeNotFound:
		return "NotFound"
	case CodeInvalid:
		return "Invalid"
	case CodeConflict:
		return "Conflict"
	case CodeCorrupt:
		return "Corrupt"
	default:
		return "Unknown"
	}
}

// Error is a domain error of the metadata layer.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func newError(code Code, format string, args ...interface{}) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// AlreadyExists reports a name collision with a different entity.
func AlreadyExists(format string, args ...interface{}) error {
	return newError(CodeAlreadyExists, format, args...)
}

// NotFound reports a missing entity.
func NotFound(format string, args ...interface{}) error {
	return newError(CodeNotFound, format, args...)
}

// Invalid reports a malformed request.
func Invalid(format string, args ...interface{}) error {
	return newError(CodeInvalid, format, args...)
}

// IsCode reports whether err is (or wraps) a metadata error with the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// ErrNoChange is returned by a mutation when the desired state is already present.
// Update treats it as success without committing anything.
var ErrNoChange = errors.New("metadata: desired state already present")
