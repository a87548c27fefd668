package store

import (
	"errors"
	"fmt"
)

// Failure kinds. Every error returned by a backend matches exactly one of
// these with errors.Is. A missing key is never an error.
var (
	// ErrTaskFailure means an offloaded operation panicked or its caller
	// stopped waiting for it.
	ErrTaskFailure = errors.New("store: task failed")
	// ErrConnection means the backend is unreachable or rejected a command.
	ErrConnection = errors.New("store: connection failed")
	// ErrDeserialization means a persisted counter is not a valid int64.
	ErrDeserialization = errors.New("store: deserialization failed")
	// ErrInvalidKey is returned for an empty key.
	ErrInvalidKey = errors.New("store: invalid key")
)

// Error carries the failure kind together with the operation, the key and
// the underlying cause.
type Error struct {
	Kind error
	Op   string
	Key  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s %q", e.Kind, e.Op, e.Key)
	}
	return fmt.Sprintf("%v: %s %q: %v", e.Kind, e.Op, e.Key, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func taskFailure(op, key string, err error) error {
	return &Error{Kind: ErrTaskFailure, Op: op, Key: key, Err: err}
}

func connectionFailure(op, key string, err error) error {
	return &Error{Kind: ErrConnection, Op: op, Key: key, Err: err}
}

func deserializationFailure(op, key string, err error) error {
	return &Error{Kind: ErrDeserialization, Op: op, Key: key, Err: err}
}

func checkKey(op, key string) error {
	if key == "" {
		return &Error{Kind: ErrInvalidKey, Op: op, Key: key}
	}
	return nil
}
