package store

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/document"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IStore is the generic interface for interacting with a document store.
// Documents are grouped into named collections that are created on first reference.
// Filters are mappings as understood by the query package; a nil filter matches all.
// Documents returned by the store are copies owned by the caller.
type IStore interface {
	// Insert stores doc in collection under a freshly assigned _id and returns that id.
	// An _id supplied by the caller is replaced.
	Insert(collection string, doc *document.Object) (id string, err error)
	// Update shallow-merges patch into every document matching filter and returns the
	// number of modified documents. The _id field of patch is ignored.
	Update(collection string, filter, patch *document.Object) (modified int, err error)
	// Delete removes every document matching filter and returns how many were removed.
	Delete(collection string, filter *document.Object) (deleted int, err error)
	// Find returns all documents matching filter in insertion order.
	Find(collection string, filter *document.Object) (docs []*document.Object, err error)
	// FindOne returns the first document matching filter. The boolean return value
	// indicates whether a document was found.
	FindOne(collection string, filter *document.Object) (doc *document.Object, found bool, err error)
	// ListCollections returns the sorted names of all known collections.
	ListCollections() (names []string, err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode),
// an error message and optionally the underlying cause.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
	Err  error   // The cause, may be nil.
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("StoreError (code %s): %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("StoreError (code %s): %s", e.Code, e.Msg)
}

// Unwrap returns the cause of the error.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// WrapError creates a new Error with the given code and message wrapping err.
func WrapError(code RetCode, msg string, err error) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
		Err:  err,
	}
}

// CodeOf returns the RetCode carried by err, or RetCSuccess for nil and
// RetCInternalError for errors that are not a *Error.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return RetCInternalError
}

// IsValidation reports whether err was caused by a malformed request.
func IsValidation(err error) bool { return err != nil && CodeOf(err) == RetCValidation }

// IsStorage reports whether err was caused by a failed durable write.
func IsStorage(err error) bool { return err != nil && CodeOf(err) == RetCStorage }

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess       RetCode = iota // 0: Command executed successfully.
	RetCInternalError                // 1: Command failed due to an internal error.
	RetCValidation                   // 2: Request was malformed (missing field, bad name, bad filter).
	RetCStorage                      // 3: Persisting the change failed; nothing was committed.
	RetCRemote                       // 4: The remote server answered with an error.
)

// String returns the name of the return code.
func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCValidation:
		return "Validation"
	case RetCStorage:
		return "Storage"
	case RetCRemote:
		return "Remote"
	default:
		return "Unknown"
	}
}
