// Package pipeline is the entry point for building a streaming bundler
// pipeline from a build configuration.
package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/pipedbundle/internal/bundler"
	"github.com/fluxbase-eu/pipedbundle/internal/compile"
	"github.com/fluxbase-eu/pipedbundle/internal/config"
	"github.com/fluxbase-eu/pipedbundle/internal/entries"
	"github.com/fluxbase-eu/pipedbundle/internal/observability"
	"github.com/fluxbase-eu/pipedbundle/internal/stream"
)

// ErrIncompatiblePlugin is returned when a bundler engine is passed where a
// plugin factory is expected
var ErrIncompatiblePlugin = fmt.Errorf("%w: expected a plugin factory, got a bundler engine; wrap it in BundlerFactory", config.ErrConfiguration)

// Plugin is one constructed pipeline, ready to run
type Plugin interface {
	Run(ctx context.Context) (*stream.Stream, error)
}

// Factory constructs plugins from a build configuration
type Factory interface {
	Construct(cfg *config.BuildConfig) (Plugin, error)
}

// FactoryFunc adapts a function to Factory
type FactoryFunc func(cfg *config.BuildConfig) (Plugin, error)

func (f FactoryFunc) Construct(cfg *config.BuildConfig) (Plugin, error) {
	return f(cfg)
}

// Run builds a pipeline for cfg and returns its stream. A nil factory uses
// BundlerFactory with the esbuild engine.
func Run(ctx context.Context, cfg *config.BuildConfig, factory Factory) (*stream.Stream, error) {
	if _, ok := factory.(bundler.Engine); ok {
		return nil, ErrIncompatiblePlugin
	}
	if factory == nil {
		factory = &BundlerFactory{}
	}

	plugin, err := factory.Construct(cfg)
	if err != nil {
		return nil, err
	}
	return plugin.Run(ctx)
}

// BundlerFactory builds the production pipeline: an orchestrator driving
// Engine, fed by a stream
type BundlerFactory struct {
	// Engine defaults to esbuild
	Engine bundler.Engine
	// Metrics, when set, records compile metrics
	Metrics *observability.Metrics
}

// Construct copies cfg, defaulting its working directory to the process
// one, and parses its additional entries. Configuration
// errors surface here or from Run, before any input is accepted.
func (f *BundlerFactory) Construct(cfg *config.BuildConfig) (Plugin, error) {
	own := cfg.Clone()
	if own.WorkingDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		own.WorkingDir = wd
	}
	if own.Entry == nil {
		own.Entry = make(map[string][]string)
	}

	registrar, err := entries.NewRegistrar(own.AdditionalEntries)
	if err != nil {
		return nil, err
	}

	engine := f.Engine
	if engine == nil {
		engine = bundler.NewEsbuild()
	}

	return &bundlerPlugin{
		cfg:       own,
		engine:    engine,
		registrar: registrar,
		metrics:   f.Metrics,
	}, nil
}

type bundlerPlugin struct {
	cfg       *config.BuildConfig
	engine    bundler.Engine
	registrar *entries.Registrar
	metrics   *observability.Metrics
}

func (p *bundlerPlugin) Run(ctx context.Context) (*stream.Stream, error) {
	id := uuid.NewString()

	opts := []compile.Option{compile.WithPipelineID(id)}
	if p.metrics != nil {
		opts = append(opts, compile.WithMetrics(p.metrics))
	}
	orch, err := compile.New(p.cfg, p.engine, opts...)
	if err != nil {
		return nil, err
	}

	s := stream.New(ctx, p.cfg, p.registrar, orch, stream.WithID(id))
	orch.Attach(s)
	orch.Begin()

	log.Debug().
		Str("pipeline", id).
		Bool("watch", p.cfg.Watch).
		Int("entry_points", len(p.cfg.Entry)).
		Msg("Pipeline started")

	return s, nil
}
