// Package testutil provides shared test utilities and mocks for unit testing.
package testutil

import (
	"context"
	"errors"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/fluxbase-eu/pipedbundle/internal/bundler"
	"github.com/fluxbase-eu/pipedbundle/internal/config"
	"github.com/fluxbase-eu/pipedbundle/internal/vfs"
)

// ErrMockEngine is a generic engine failure for tests
var ErrMockEngine = errors.New("mock engine failure")

// Cycle is one scripted compile result. Files are written to the output
// filesystem, relative to the config's output directory, before the result
// is delivered.
type Cycle struct {
	Result bundler.Result
	Files  map[string]string
}

// MockEngine implements bundler.Engine with scripted cycles
type MockEngine struct {
	mu sync.Mutex

	// Cycles are delivered in order: Run delivers the first, Watch all of them
	Cycles []Cycle
	// NewCompilerErr is returned from NewCompiler when set
	NewCompilerErr error
	// RunErr is returned from Run and Watch when set
	RunErr error

	configs   []*config.BuildConfig
	compilers []*MockCompiler
}

// NewCompiler records cfg and returns a MockCompiler replaying the engine's cycles
func (e *MockEngine) NewCompiler(cfg *config.BuildConfig) (bundler.Compiler, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.configs = append(e.configs, cfg)
	if e.NewCompilerErr != nil {
		return nil, e.NewCompilerErr
	}

	c := &MockCompiler{
		engine:   e,
		cfg:      cfg,
		outputFS: afero.NewMemMapFs(),
	}
	e.compilers = append(e.compilers, c)
	return c, nil
}

// Configs returns every config NewCompiler was called with
func (e *MockEngine) Configs() []*config.BuildConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*config.BuildConfig(nil), e.configs...)
}

// Compilers returns every compiler created so far
func (e *MockEngine) Compilers() []*MockCompiler {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*MockCompiler(nil), e.compilers...)
}

// MockCompiler implements bundler.Compiler
type MockCompiler struct {
	engine *MockEngine
	cfg    *config.BuildConfig

	mu           sync.Mutex
	outputFS     afero.Fs
	runs         int
	watches      int
	watchOptions map[string]any
	closed       bool
}

// Run delivers the first scripted cycle
func (c *MockCompiler) Run(ctx context.Context, cb bundler.Callback) error {
	c.mu.Lock()
	c.runs++
	c.mu.Unlock()

	if c.engine.RunErr != nil {
		return c.engine.RunErr
	}
	if len(c.engine.Cycles) == 0 {
		return nil
	}
	return c.deliver(c.engine.Cycles[0], cb)
}

// Watch delivers every scripted cycle in order, then blocks until ctx is done
func (c *MockCompiler) Watch(ctx context.Context, opts map[string]any, cb bundler.Callback) error {
	c.mu.Lock()
	c.watches++
	c.watchOptions = opts
	c.mu.Unlock()

	if c.engine.RunErr != nil {
		return c.engine.RunErr
	}
	for _, cycle := range c.engine.Cycles {
		if err := c.deliver(cycle, cb); err != nil {
			return err
		}
	}

	<-ctx.Done()
	return nil
}

func (c *MockCompiler) deliver(cycle Cycle, cb bundler.Callback) error {
	if cycle.Files != nil {
		fs := afero.NewMemMapFs()
		for name, content := range cycle.Files {
			path := filepath.Join(c.cfg.OutputDir(), name)
			if err := fs.MkdirAll(filepath.Dir(path), 0750); err != nil {
				return err
			}
			if err := afero.WriteFile(fs, path, []byte(content), 0600); err != nil {
				return err
			}
		}
		c.mu.Lock()
		c.outputFS = fs
		c.mu.Unlock()
	}

	cb(cycle.Result)
	return nil
}

func (c *MockCompiler) OutputFS() afero.Fs {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outputFS
}

func (c *MockCompiler) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Runs returns how many times Run was called
func (c *MockCompiler) Runs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

// Watches returns how many times Watch was called
func (c *MockCompiler) Watches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watches
}

// WatchOptions returns the options passed to the last Watch call
func (c *MockCompiler) WatchOptions() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watchOptions
}

// Closed reports whether Close was called
func (c *MockCompiler) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Success returns a successful result with the given hash
func Success(hash string) bundler.Result {
	return bundler.Result{Stats: &bundler.Stats{Hash: hash}}
}

// RecordingSink is an output sink that records everything it receives
type RecordingSink struct {
	mu     sync.Mutex
	files  []vfs.OutputFile
	errs   []error
	ends   int
	pushed chan vfs.OutputFile
}

// NewRecordingSink creates a sink. When buffer is positive, pushed files
// are also sent to Pushed() so tests can wait on them.
func NewRecordingSink(buffer int) *RecordingSink {
	s := &RecordingSink{}
	if buffer > 0 {
		s.pushed = make(chan vfs.OutputFile, buffer)
	}
	return s
}

func (s *RecordingSink) Push(ctx context.Context, f vfs.OutputFile) error {
	s.mu.Lock()
	s.files = append(s.files, f)
	s.mu.Unlock()

	if s.pushed != nil {
		select {
		case s.pushed <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *RecordingSink) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ends++
}

func (s *RecordingSink) Error(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

// Pushed returns the channel files are mirrored to
func (s *RecordingSink) Pushed() <-chan vfs.OutputFile {
	return s.pushed
}

// Paths returns the paths of the recorded files in push order
func (s *RecordingSink) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.files))
	for _, f := range s.files {
		paths = append(paths, f.Path)
	}
	return paths
}

// Files returns the recorded files
func (s *RecordingSink) Files() []vfs.OutputFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]vfs.OutputFile(nil), s.files...)
}

// Errors returns the recorded errors
func (s *RecordingSink) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

// Ends returns how many times End was called
func (s *RecordingSink) Ends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ends
}
