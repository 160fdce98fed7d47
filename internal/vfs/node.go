// Package vfs models the bundler's in-memory output filesystem as a tree of
// files and directories and re-linearises it into a stream of output files.
package vfs

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Node is either a *File or a *Dir
type Node interface {
	isNode()
}

// File is a leaf holding raw content
type File struct {
	Data []byte
}

// Dir maps names to child nodes
type Dir struct {
	children map[string]Node
}

func (*File) isNode() {}
func (*Dir) isNode()  {}

// NewDir creates an empty directory node
func NewDir() *Dir {
	return &Dir{children: make(map[string]Node)}
}

// Names returns the child names in lexicographic order.
// This is the enumeration order every walk follows.
func (d *Dir) Names() []string {
	return slices.Sorted(maps.Keys(d.children))
}

// Child returns the named child, or nil
func (d *Dir) Child(name string) Node {
	return d.children[name]
}

// Len returns the number of direct children
func (d *Dir) Len() int {
	return len(d.children)
}

// Mkdir returns the named subdirectory, creating it when missing.
// It fails when name is already taken by a file.
func (d *Dir) Mkdir(name string) (*Dir, error) {
	switch n := d.children[name].(type) {
	case nil:
		sub := NewDir()
		d.children[name] = sub
		return sub, nil
	case *Dir:
		return n, nil
	default:
		return nil, &PathError{Op: "mkdir", Path: name, Err: ErrNotDir}
	}
}

// Put stores data at a slash separated path, creating intermediate directories
func (d *Dir) Put(path string, data []byte) error {
	segments := splitPath(path)
	if len(segments) == 0 {
		return &PathError{Op: "put", Path: path, Err: ErrInvalidPath}
	}

	cwd := d
	for i, segment := range segments[:len(segments)-1] {
		sub, err := cwd.Mkdir(segment)
		if err != nil {
			return &PathError{Op: "put", Path: strings.Join(segments[:i+1], "/"), Err: ErrNotDir}
		}
		cwd = sub
	}

	name := segments[len(segments)-1]
	if _, isDir := cwd.children[name].(*Dir); isDir {
		return &PathError{Op: "put", Path: path, Err: ErrIsDir}
	}
	cwd.children[name] = &File{Data: data}
	return nil
}

// Lookup resolves a slash separated path. Leading and trailing separators
// are ignored; an empty path resolves to d itself.
func (d *Dir) Lookup(path string) (Node, error) {
	var cwd Node = d
	for _, segment := range splitPath(path) {
		dir, ok := cwd.(*Dir)
		if !ok {
			return nil, &PathError{Op: "lookup", Path: path, Err: ErrPathNotFound}
		}
		child, ok := dir.children[segment]
		if !ok {
			return nil, &PathError{Op: "lookup", Path: path, Err: ErrPathNotFound}
		}
		cwd = child
	}
	return cwd, nil
}

// LookupDir resolves path and requires the result to be a directory
func (d *Dir) LookupDir(path string) (*Dir, error) {
	n, err := d.Lookup(path)
	if err != nil {
		return nil, err
	}
	dir, ok := n.(*Dir)
	if !ok {
		return nil, &PathError{Op: "lookup", Path: path, Err: ErrPathNotFound}
	}
	return dir, nil
}

// String renders the tree for debugging
func (d *Dir) String() string {
	var b strings.Builder
	d.dump(&b, "")
	return b.String()
}

func (d *Dir) dump(b *strings.Builder, indent string) {
	for _, name := range d.Names() {
		switch n := d.children[name].(type) {
		case *File:
			fmt.Fprintf(b, "%s%s (%d bytes)\n", indent, name, len(n.Data))
		case *Dir:
			fmt.Fprintf(b, "%s%s/\n", indent, name)
			n.dump(b, indent+"  ")
		}
	}
}

// splitPath strips leading and trailing separators and drops empty segments
func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	segments := parts[:0]
	for _, p := range parts {
		if p != "" {
			segments = append(segments, p)
		}
	}
	return segments
}
