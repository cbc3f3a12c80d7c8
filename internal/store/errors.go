package store

import "errors"

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateIdentity is returned when an account with the same email already exists.
var ErrDuplicateIdentity = errors.New("duplicate identity")
