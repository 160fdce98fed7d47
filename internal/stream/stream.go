// Package stream exposes a pipeline as one duplex channel: files written in
// become entry points, and compiled output files are read out.
package stream

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/pipedbundle/internal/config"
	"github.com/fluxbase-eu/pipedbundle/internal/entries"
	"github.com/fluxbase-eu/pipedbundle/internal/vfs"
)

var (
	// ErrWriteAfterEnd is returned by Write once CloseWrite has been called
	ErrWriteAfterEnd = errors.New("write after end")

	// ErrAlreadyEnded is returned by a second CloseWrite
	ErrAlreadyEnded = errors.New("stream already ended")

	// ErrClosed is returned by Push once the readable side has finished
	ErrClosed = errors.New("stream closed")
)

// Starter compiles the entry table once input is complete
type Starter interface {
	Compile(ctx context.Context) error
}

// Stream is the duplex channel of one pipeline. The writable side takes
// input files; the readable side yields output files, one per Read, with
// no buffering between the producer and the reader.
type Stream struct {
	id        string
	ctx       context.Context
	cfg       *config.BuildConfig
	registrar *entries.Registrar
	starter   Starter

	mu        sync.Mutex
	ended     bool
	compiling bool
	errs      []error
	written   int

	items     chan vfs.OutputFile
	done      chan struct{}
	closeOnce sync.Once
	compiled  chan struct{}
}

// Option configures a Stream
type Option func(*Stream)

// WithID sets the ID used in logs instead of a random one
func WithID(id string) Option {
	return func(s *Stream) {
		s.id = id
	}
}

// New creates a stream registering files on cfg with registrar. starter is
// run on ctx once CloseWrite is called.
func New(ctx context.Context, cfg *config.BuildConfig, registrar *entries.Registrar, starter Starter, opts ...Option) *Stream {
	s := &Stream{
		id:        uuid.NewString(),
		ctx:       ctx,
		cfg:       cfg,
		registrar: registrar,
		starter:   starter,
		items:     make(chan vfs.OutputFile),
		done:      make(chan struct{}),
		compiled:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID identifies the stream in logs
func (s *Stream) ID() string {
	return s.id
}

// Write registers f as an entry point. A registration error fails the
// stream and is also returned.
func (s *Stream) Write(f entries.File) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return ErrWriteAfterEnd
	}

	if err := s.registrar.Register(s.cfg, f); err != nil {
		s.failLocked(err)
		return err
	}
	s.written++
	return nil
}

// CloseWrite signals the end of input and starts compiling in the background
func (s *Stream) CloseWrite() error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return ErrAlreadyEnded
	}
	s.ended = true
	failed := len(s.errs) > 0
	written := s.written
	s.compiling = !failed
	s.mu.Unlock()

	log.Debug().
		Str("pipeline", s.id).
		Int("files", written).
		Int("entry_points", len(s.cfg.Entry)).
		Msg("Input complete")

	if failed {
		close(s.compiled)
		return nil
	}

	go func() {
		defer close(s.compiled)
		if err := s.starter.Compile(s.ctx); err != nil {
			log.Debug().Err(err).Str("pipeline", s.id).Msg("Compile returned an error")
		}
		s.finish()
	}()
	return nil
}

// Compiled is closed once the compile started by CloseWrite has returned.
// In watch mode that is when the stream's context is done.
func (s *Stream) Compiled() <-chan struct{} {
	return s.compiled
}

// Read returns the next output file. It returns io.EOF once the output is
// complete, and the stream's error after a failure.
func (s *Stream) Read(ctx context.Context) (vfs.OutputFile, error) {
	select {
	case f := <-s.items:
		return f, nil
	case <-s.done:
		return vfs.OutputFile{}, s.terminalErr()
	case <-ctx.Done():
		return vfs.OutputFile{}, ctx.Err()
	}
}

// Files iterates over the output files until the output is complete. A
// failure is yielded as the final element.
func (s *Stream) Files(ctx context.Context) iter.Seq2[vfs.OutputFile, error] {
	return func(yield func(vfs.OutputFile, error) bool) {
		for {
			f, err := s.Read(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(vfs.OutputFile{}, err)
				return
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}

// Collect reads every output file
func (s *Stream) Collect(ctx context.Context) ([]vfs.OutputFile, error) {
	var files []vfs.OutputFile
	for f, err := range s.Files(ctx) {
		if err != nil {
			return files, err
		}
		files = append(files, f)
	}
	return files, nil
}

// Err returns the error the stream failed with, if any. Errors reported
// during one compile are joined.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errLocked()
}

// Push hands f to the next Read, blocking until a reader takes it
func (s *Stream) Push(ctx context.Context, f vfs.OutputFile) error {
	s.mu.Lock()
	failed := len(s.errs) > 0
	s.mu.Unlock()
	if failed {
		return ErrClosed
	}

	select {
	case s.items <- f:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// End completes the readable side; pending and later reads return io.EOF
func (s *Stream) End() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// Error fails the stream. While a compile is running its errors are
// collected and readers see them together once it returns; otherwise the
// first error completes the stream and later ones are dropped.
func (s *Stream) Error(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLocked(err)
}

func (s *Stream) failLocked(err error) {
	select {
	case <-s.done:
		// already complete
		return
	default:
	}
	s.errs = append(s.errs, err)
	if !s.compiling {
		s.End()
	}
}

// finish completes the readable side once the compile has returned
func (s *Stream) finish() {
	s.mu.Lock()
	s.compiling = false
	s.mu.Unlock()
	s.End()
}

func (s *Stream) errLocked() error {
	switch len(s.errs) {
	case 0:
		return nil
	case 1:
		return s.errs[0]
	default:
		return errors.Join(s.errs...)
	}
}

func (s *Stream) terminalErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errLocked(); err != nil {
		return err
	}
	return io.EOF
}
