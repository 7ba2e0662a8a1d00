package ginternals

import "errors"

// ErrObjectNotFound is an error corresponding to a git object not being
// found
var ErrObjectNotFound = errors.New("object not found")

// ErrIgnoredPath is returned when trying to add a path to the index that
// is matched by an ignore pattern
var ErrIgnoredPath = errors.New("path is ignored")

// ErrIndexInvalid is returned when an on-disk index file cannot be parsed
var ErrIndexInvalid = errors.New("index is invalid")

// ErrPathNotInIndex is returned when acting on a path that isn't tracked
// by the index
var ErrPathNotInIndex = errors.New("path is not in the index")
