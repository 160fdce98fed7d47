package vfs

import (
	"errors"
	"fmt"
)

var (
	// ErrPathNotFound indicates a path segment doesn't exist in the tree
	ErrPathNotFound = errors.New("path not found")

	// ErrInvalidPath indicates an empty or malformed path
	ErrInvalidPath = errors.New("invalid path")

	// ErrNotDir indicates a file sits where a directory was expected
	ErrNotDir = errors.New("not a directory")

	// ErrIsDir indicates a directory sits where a file was expected
	ErrIsDir = errors.New("is a directory")
)

// PathError wraps a tree error with the operation and path involved
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("vfs %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("vfs %s %q: %v", e.Op, e.Path, e.Err)
}

// Unwrap implements error unwrapping for the errors.Is/As functions
func (e *PathError) Unwrap() error {
	return e.Err
}
