// Package repository contains data access logic separated from HTTP handlers.
// This file defines sentinel errors reused across the repositories so that
// higher layers can distinguish failure scenarios: a row that does not exist
// maps to HTTP 404 and a malformed reorder request to 400.  Ownership
// violations never surface from this package; the middleware compares the
// resolved owner id itself and answers 403 directly.
package repository

import "errors"

// ErrNotFound is returned when a requested row does not exist.  Handlers and
// the ownership middleware translate this into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrInvalidOrder is returned by Reorder when the submitted ordering is not a
// permutation of the layout's current element indices.  The whole reorder is
// rolled back in that case.
var ErrInvalidOrder = errors.New("invalid element order")
