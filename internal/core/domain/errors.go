package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a store failure independently of the backend that
// produced it.
type ErrorKind int

const (
	KindFatal ErrorKind = iota
	KindTransient
	KindAlreadyExists
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAlreadyExists:
		return "already_exists"
	case KindNotFound:
		return "not_found"
	default:
		return "fatal"
	}
}

// StoreError is returned by every store adapter.
type StoreError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func NewStoreError(op string, kind ErrorKind, err error) *StoreError {
	return &StoreError{Op: op, Kind: kind, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first StoreError in err's chain, or
// KindFatal when there is none.
func KindOf(err error) ErrorKind {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindFatal
}

func IsTransient(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}

func IsAlreadyExists(err error) bool {
	return err != nil && KindOf(err) == KindAlreadyExists
}
