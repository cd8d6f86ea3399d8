package store

import (
	"errors"
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IStore is the generic interface for the key–value substrate the admin service
// persists plans, metadata catalogs and leases in.
// All write operations return only an error (nil on success), read operations
// return the requested data along with an error (nil on success).
// Errors returned by implementations are of type *Error.
type IStore interface {
	// Set inserts or updates a key–value pair.
	Set(key string, value []byte) (err error)
	// SetIfUnset inserts a key–value pair if the key does not exist (or is expired).
	// A zero ttl means the entry never expires.
	// No error is returned if the key already exists, callers must read the key
	// back to learn whether their value was written.
	SetIfUnset(key string, value []byte, ttl time.Duration) (err error)
	// Delete deletes a key–value pair. Deleting a missing key is not an error.
	Delete(key string) (err error)
	// Get return the value for a key. The boolean return value indicates whether a value for the key was found.
	Get(key string) (value []byte, loaded bool, err error)
	// Keys returns all live keys starting with prefix, sorted ascending.
	Keys(prefix string) (keys []string, err error)
	// Batch applies all operations atomically: either every operation is visible
	// afterward or none is.
	// OpExpect and OpExpectAbsent entries are checked against the state before the
	// batch. If one of them does not hold, nothing is written and the batch fails
	// with RetCConflict.
	Batch(ops []Op) (err error)
}

// --------------------------------------------------------------------------
// Batch Operations
// --------------------------------------------------------------------------

// OpType is the kind of write inside a batch.
type OpType uint8

const (
	OpSet          OpType = iota + 1 // Set the key to Value.
	OpDelete                         // Delete the key.
	OpExpect                         // Require the live value of the key to equal Value.
	OpExpectAbsent                   // Require the key to be missing or expired.
)

func (t OpType) String() string {
	switch t {
	case OpSet:
		return "Set"
	case OpDelete:
		return "Delete"
	case OpExpect:
		return "Expect"
	case OpExpectAbsent:
		return "ExpectAbsent"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// IsGuard reports whether the op is a condition rather than a write.
func (t OpType) IsGuard() bool {
	return t == OpExpect || t == OpExpectAbsent
}

// Op is a single entry of a batch.
type Op struct {
	Type  OpType
	Key   string
	Value []byte
	// TTL of an OpSet entry, zero means the entry never expires.
	TTL time.Duration
}

// SetOp is shorthand for an OpSet batch entry.
func SetOp(key string, value []byte) Op {
	return Op{Type: OpSet, Key: key, Value: value}
}

// SetTTLOp is an OpSet batch entry that expires after ttl.
func SetTTLOp(key string, value []byte, ttl time.Duration) Op {
	return Op{Type: OpSet, Key: key, Value: value, TTL: ttl}
}

// ExpectOp guards a batch on the current value of key.
// A nil value expects the key to be absent.
func ExpectOp(key string, value []byte) Op {
	if value == nil {
		return Op{Type: OpExpectAbsent, Key: key}
	}
	return Op{Type: OpExpect, Key: key, Value: value}
}

// DeleteOp is shorthand for an OpDelete batch entry.
func DeleteOp(key string) Op {
	return Op{Type: OpDelete, Key: key}
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("StoreError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new store error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// IsConflict reports whether err is a batch that failed one of its guards.
func IsConflict(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == RetCConflict
}

// ConflictError builds the error returned for a failed batch guard.
func ConflictError(op Op) *Error {
	return NewError(RetCConflict, fmt.Sprintf("%s failed for key %s", op.Type, op.Key))
}

// WrapError turns any backend error into a *Error with the given code.
// Nil stays nil and existing *Error values are returned unchanged.
func WrapError(code RetCode, err error) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return NewError(code, err.Error())
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by the backend.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCUnavailable                         // 4: Backend could not be reached in time.
	RetCConflict                            // 5: A batch guard did not hold, nothing was written.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCUnavailable:
		return "Unavailable"
	case RetCConflict:
		return "Conflict"
	default:
		return "Unknown"
	}
}
