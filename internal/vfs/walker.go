package vfs

import (
	"context"
	"iter"
	"strings"
)

// OutputFile is one file re-emitted from the tree.
// Path is relative to the walk root, forward-slash separated, without a leading slash.
type OutputFile struct {
	Path     string `json:"path" yaml:"path"`
	Contents []byte `json:"-" yaml:"-"`
}

// Sink receives walked files one at a time. Push blocks until the consumer
// is ready, which is how backpressure reaches the walk.
type Sink interface {
	Push(ctx context.Context, f OutputFile) error
	End()
}

// WalkerOption configures a Walker
type WalkerOption func(*Walker)

// KeepOpen makes Pump leave the sink open after the walk so a later walk can
// feed the same sink again (watch mode).
func KeepOpen() WalkerOption {
	return func(w *Walker) {
		w.keepOpen = true
	}
}

// Walker linearises a tree into files, starting from a root path
type Walker struct {
	root     string
	keepOpen bool
}

// NewWalker creates a walker rooted at root. Leading and trailing
// separators in root are ignored.
func NewWalker(root string, opts ...WalkerOption) *Walker {
	w := &Walker{root: strings.Trim(root, "/")}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Root returns the normalised root path
func (w *Walker) Root() string {
	return w.root
}

// Closes reports whether Pump ends the sink after a walk
func (w *Walker) Closes() bool {
	return !w.keepOpen
}

// Walk descends to the root and returns a lazy pre-order sequence of the
// files beneath it. Within a directory, names are visited in lexicographic order.
func (w *Walker) Walk(tree *Dir) (iter.Seq[OutputFile], error) {
	start, err := tree.LookupDir(w.root)
	if err != nil {
		return nil, err
	}

	return func(yield func(OutputFile) bool) {
		walkDir(start, "", yield)
	}, nil
}

// Pump walks the tree and pushes every file into sink, then ends the sink
// unless the walker keeps it open. It stops at the first push error.
func (w *Walker) Pump(ctx context.Context, tree *Dir, sink Sink) error {
	files, err := w.Walk(tree)
	if err != nil {
		return err
	}

	for f := range files {
		if err := sink.Push(ctx, f); err != nil {
			return err
		}
	}

	if !w.keepOpen {
		sink.End()
	}
	return nil
}

func walkDir(dir *Dir, prefix string, yield func(OutputFile) bool) bool {
	for _, name := range dir.Names() {
		switch n := dir.children[name].(type) {
		case *File:
			if !yield(OutputFile{Path: prefix + name, Contents: n.Data}) {
				return false
			}
		case *Dir:
			if !walkDir(n, prefix+name+"/", yield) {
				return false
			}
		}
	}
	return true
}
