// Package compile drives the bundler for one pipeline: it runs or watches
// builds, interprets each cycle's result and feeds the output tree downstream.
package compile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/pipedbundle/internal/bundler"
	"github.com/fluxbase-eu/pipedbundle/internal/config"
	"github.com/fluxbase-eu/pipedbundle/internal/observability"
	"github.com/fluxbase-eu/pipedbundle/internal/stats"
	"github.com/fluxbase-eu/pipedbundle/internal/vfs"
)

// State is the lifecycle state of an Orchestrator
type State int

const (
	Idle State = iota
	Collecting
	Compiling
	Succeeded
	Failed
	Watching
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Collecting:
		return "collecting"
	case Compiling:
		return "compiling"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Watching:
		return "watching"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Sink receives the output files of every cycle, and the errors of
// one-shot cycles
type Sink interface {
	vfs.Sink
	Error(err error)
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithMetrics records compile metrics on m
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithPipelineID tags logs and spans with id
func WithPipelineID(id string) Option {
	return func(o *Orchestrator) {
		o.id = id
	}
}

// Orchestrator owns the compile lifecycle of one pipeline
type Orchestrator struct {
	cfg     *config.BuildConfig
	engine  bundler.Engine
	stats   stats.Options
	metrics *observability.Metrics
	id      string

	stateMu sync.RWMutex
	state   State
	sink    Sink

	// cycleMu serialises result handling
	cycleMu  sync.Mutex
	prevHash string
}

// New creates an orchestrator for cfg. The stats setting is normalised
// here, so a bad one fails before anything is compiled.
func New(cfg *config.BuildConfig, engine bundler.Engine, opts ...Option) (*Orchestrator, error) {
	statsOpts, err := stats.Normalize(cfg.Stats)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:    cfg,
		engine: engine,
		stats:  statsOpts,
		state:  Idle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// IsEmptyEntryPoints reports whether cfg has no entry points to build
func IsEmptyEntryPoints(cfg *config.BuildConfig) bool {
	return cfg == nil || len(cfg.Entry) == 0
}

// State returns the current lifecycle state
func (o *Orchestrator) State() State {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	o.state = s
}

// Attach sets the sink that receives output and errors. Without a sink,
// errors are only logged.
func (o *Orchestrator) Attach(sink Sink) {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	o.sink = sink
}

func (o *Orchestrator) attached() Sink {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.sink
}

// Begin marks the start of input collection
func (o *Orchestrator) Begin() {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	if o.state == Idle {
		o.state = Collecting
	}
}

// Compile builds the finalized config. In watch mode it blocks until ctx is
// done, handling every rebuild; otherwise it returns after one cycle.
// The returned error is also reported to the sink or the log.
func (o *Orchestrator) Compile(ctx context.Context) error {
	if IsEmptyEntryPoints(o.cfg) {
		log.Debug().Str("pipeline", o.id).Msg("No entry points, skipping compile")
		o.setState(Succeeded)
		if o.metrics != nil {
			o.metrics.RecordCompile(observability.OutcomeEmpty, 0)
		}
		if sink := o.attached(); sink != nil {
			sink.End()
		}
		return nil
	}

	o.setState(Compiling)
	if o.metrics != nil {
		o.metrics.SetEntryPoints(len(o.cfg.Entry))
	}

	if err := o.cfg.Validate(); err != nil {
		o.fail(err)
		return err
	}

	compiler, err := o.engine.NewCompiler(o.cfg)
	if err != nil {
		o.fail(asFatal(err))
		return err
	}
	defer func() {
		if err := compiler.Close(); err != nil {
			log.Warn().Err(err).Str("pipeline", o.id).Msg("Failed to close compiler")
		}
	}()

	cb := func(r bundler.Result) {
		o.cycleMu.Lock()
		defer o.cycleMu.Unlock()
		o.cycle(ctx, compiler, r)
	}

	if !o.cfg.Watch {
		if err := compiler.Run(ctx, cb); err != nil {
			o.fail(asFatal(err))
			return err
		}
		return nil
	}

	o.setState(Watching)
	log.Info().
		Str("pipeline", o.id).
		Int("entry_points", len(o.cfg.Entry)).
		Msg("Watching")
	if o.metrics != nil {
		o.metrics.WatchStarted()
		defer o.metrics.WatchStopped()
	}

	err = compiler.Watch(ctx, o.cfg.WatchOptions, cb)

	// The session is over; let readers finish
	if sink := o.attached(); sink != nil {
		sink.End()
	}
	if err != nil {
		o.report(asFatal(err))
		return err
	}
	return nil
}

// cycle handles one compile result
func (o *Orchestrator) cycle(ctx context.Context, compiler bundler.Compiler, r bundler.Result) {
	started := time.Now()
	ctx, span := observability.StartCompileSpan(ctx, o.id, len(o.cfg.Entry), o.cfg.Watch)

	outcome, err := o.handle(ctx, compiler, r)

	observability.EndCompileSpan(span, outcome, err)
	if o.metrics != nil {
		duration := time.Since(started)
		if r.Stats != nil && r.Stats.Duration > 0 {
			duration = r.Stats.Duration
		}
		o.metrics.RecordCompile(outcome, duration)
	}
}

func (o *Orchestrator) handle(ctx context.Context, compiler bundler.Compiler, r bundler.Result) (string, error) {
	if r.Err != nil {
		o.prevHash = ""
		err := asFatal(r.Err)
		o.fail(err)
		return observability.OutcomeFatal, err
	}
	s := r.Stats
	if s == nil {
		o.prevHash = ""
		err := &bundler.FatalError{Err: errors.New("bundler returned no stats")}
		o.fail(err)
		return observability.OutcomeFatal, err
	}

	if o.cfg.Watch && s.Hash != "" && s.Hash == o.prevHash {
		log.Debug().Str("pipeline", o.id).Str("hash", s.Hash).Msg("Output unchanged, skipping")
		return observability.OutcomeSuppressed, nil
	}
	o.prevHash = s.Hash

	if o.metrics != nil {
		o.metrics.RecordMessages(len(s.Errors), len(s.Warnings))
	}

	if s.HasErrors() {
		// a failed cycle never counts as the last good output
		o.prevHash = ""
		for _, m := range s.Errors {
			o.report(&bundler.CompileError{Message: m})
		}
		o.settle(Failed)
		return observability.OutcomeErrors, fmt.Errorf("%d compile errors", len(s.Errors))
	}

	for _, w := range s.Warnings {
		event := log.Warn().Str("pipeline", o.id)
		if len(w.Notes) > 0 {
			event = event.Strs("notes", w.Notes)
		}
		event.Msg(w.String())
	}

	o.printStats(s)

	if err := o.output(ctx, compiler); err != nil {
		o.fail(err)
		return observability.OutcomeFatal, err
	}

	o.settle(Succeeded)
	if s.HasWarnings() {
		return observability.OutcomeWarnings, nil
	}
	return observability.OutcomeSuccess, nil
}

// output walks the compiler's output filesystem from the output directory
// into the sink
func (o *Orchestrator) output(ctx context.Context, compiler bundler.Compiler) error {
	sink := o.attached()
	if sink == nil {
		return nil
	}

	tree, err := vfs.Load(compiler.OutputFS(), "/")
	if err != nil {
		return fmt.Errorf("failed to read output filesystem: %w", err)
	}

	var opts []vfs.WalkerOption
	if o.cfg.Watch {
		opts = append(opts, vfs.KeepOpen())
	}
	walker := vfs.NewWalker(o.cfg.OutputDir(), opts...)

	return walker.Pump(ctx, tree, &countingSink{Sink: sink, metrics: o.metrics})
}

func (o *Orchestrator) printStats(s *bundler.Stats) {
	summary := stats.Render(s, o.stats)
	if summary == "" {
		return
	}
	log.Info().Str("pipeline", o.id).Msg("Compiled\n" + summary)
}

// settle records a cycle's terminal state. Watch sessions stay Watching.
func (o *Orchestrator) settle(s State) {
	if o.cfg.Watch {
		return
	}
	o.setState(s)
}

func (o *Orchestrator) fail(err error) {
	o.settle(Failed)
	o.report(err)
}

// report sends err to the sink in one-shot mode and logs it otherwise
func (o *Orchestrator) report(err error) {
	sink := o.attached()
	toSink := sink != nil && !o.cfg.Watch

	event := log.Error()
	if toSink {
		event = log.Debug()
	}
	event = event.Err(err).Str("pipeline", o.id)

	var fatal *bundler.FatalError
	var compileErr *bundler.CompileError
	switch {
	case errors.As(err, &fatal) && len(fatal.Details) > 0:
		event = event.Strs("details", fatal.Details)
	case errors.As(err, &compileErr) && compileErr.Details() != "":
		event = event.Str("details", compileErr.Details())
	}
	event.Msg("Compile failed")

	if toSink {
		sink.Error(err)
	}
}

// asFatal wraps invocation failures that aren't already classified
func asFatal(err error) error {
	var fatal *bundler.FatalError
	if errors.As(err, &fatal) || errors.Is(err, config.ErrConfiguration) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &bundler.FatalError{Err: err}
}

type countingSink struct {
	Sink
	metrics *observability.Metrics
}

func (s *countingSink) Push(ctx context.Context, f vfs.OutputFile) error {
	if err := s.Sink.Push(ctx, f); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordOutputFile(len(f.Contents))
	}
	return nil
}
