// Package bundler defines the bundler collaborator the pipeline drives and
// provides the esbuild-backed implementation.
package bundler

import (
	"context"
	"time"

	"github.com/spf13/afero"

	"github.com/fluxbase-eu/pipedbundle/internal/config"
)

// Engine creates compilers for a finalized build configuration
type Engine interface {
	NewCompiler(cfg *config.BuildConfig) (Compiler, error)
}

// Callback receives the outcome of one compile cycle. Compilers never call
// it concurrently with itself.
type Callback func(Result)

// Compiler runs builds for one configuration
type Compiler interface {
	// Run performs a single build and returns once cb has returned
	Run(ctx context.Context, cb Callback) error

	// Watch builds, then rebuilds whenever inputs change, calling cb after
	// every cycle. It blocks until ctx is done.
	Watch(ctx context.Context, opts map[string]any, cb Callback) error

	// OutputFS is the in-memory filesystem the last cycle wrote into.
	// Paths in it are absolute.
	OutputFS() afero.Fs

	// Close releases the compiler's resources
	Close() error
}

// Result is the outcome of one compile cycle: either Err is set (the
// invocation itself failed) or Stats describes the build
type Result struct {
	Err   error
	Stats *Stats
}

// Stats summarises one compile cycle
type Stats struct {
	// Hash identifies the cycle's output. Identical output yields an
	// identical hash; an empty hash means no hash is available.
	Hash     string
	Start    time.Time
	Duration time.Duration

	Errors   []Message
	Warnings []Message

	Assets  []Asset
	Modules []Module

	// Analysis is the engine's own human-readable breakdown of the bundle
	Analysis string
}

// HasErrors reports whether the cycle produced compile errors
func (s *Stats) HasErrors() bool {
	return len(s.Errors) > 0
}

// HasWarnings reports whether the cycle produced warnings
func (s *Stats) HasWarnings() bool {
	return len(s.Warnings) > 0
}

// Asset is one emitted output file
type Asset struct {
	Name       string // relative to the working directory, forward slashes
	Size       int
	EntryPoint string
	Cached     bool // unchanged since the previous cycle
}

// Module is one input file that went into the build
type Module struct {
	Path   string
	Size   int
	Cached bool
}
