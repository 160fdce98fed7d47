package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/pipedbundle/cli/output"
	"github.com/fluxbase-eu/pipedbundle/internal/config"
	"github.com/fluxbase-eu/pipedbundle/internal/entries"
	"github.com/fluxbase-eu/pipedbundle/internal/observability"
	"github.com/fluxbase-eu/pipedbundle/internal/pipeline"
	"github.com/fluxbase-eu/pipedbundle/internal/vfs"
)

var (
	buildOutDir      string
	buildWatch       bool
	buildStats       string
	buildFilename    string
	buildMetricsAddr string
)

var buildCmd = &cobra.Command{
	Use:   "build [files or globs...]",
	Short: "Bundle input files and write the output",
	Long: `Bundle every input file as its own entry point, named after the file
without its extension, together with the entry points from the config file.

Globs support ** (e.g. "src/**/*.entry.js").

Examples:
  pipedbundle build src/app.js src/admin.js
  pipedbundle build "src/pages/*.js" --filename "pages/[name].js" --out-dir public
  pipedbundle build --watch --stats verbose`,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVar(&buildOutDir, "out-dir", ".", "directory output files are written to")
	buildCmd.Flags().BoolVarP(&buildWatch, "watch", "w", false, "rebuild when inputs change")
	buildCmd.Flags().StringVar(&buildStats, "stats", "", "stats preset (none, errors-only, minimal, normal, detailed, verbose) or true/false")
	buildCmd.Flags().StringVar(&buildFilename, "filename", "", `output filename template (e.g. "dist/[name].js")`)
	buildCmd.Flags().StringVar(&buildMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

func runBuild(cmd *cobra.Command, args []string) error {
	appCfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if appCfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	applyBuildFlags(cmd, appCfg)

	inputs, err := expandInputs(args, appCfg.Bundle.WorkingDir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, err := observability.NewTracer(ctx, appCfg.Tracing)
	if err != nil {
		return err
	}
	defer shutdown("tracer", tracer.Shutdown)

	metrics := observability.NewMetrics()
	if appCfg.Metrics.Enabled {
		srv := observability.NewMetricsServer(metrics, appCfg.Metrics)
		go func() {
			if err := srv.Start(); err != nil {
				log.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
		defer shutdown("metrics server", srv.Shutdown)
	}

	s, err := pipeline.Run(ctx, &appCfg.Bundle, &pipeline.BundlerFactory{Metrics: metrics})
	if err != nil {
		return err
	}

	for _, input := range inputs {
		if err := s.Write(entries.File{Path: input}); err != nil {
			return err
		}
	}
	if err := s.CloseWrite(); err != nil {
		return err
	}

	outDir, err := filepath.Abs(buildOutDir)
	if err != nil {
		return fmt.Errorf("invalid output directory: %w", err)
	}
	out := afero.NewBasePathFs(afero.NewOsFs(), outDir)

	var written []output.WrittenFile
	for f, err := range s.Files(ctx) {
		if err != nil {
			if appCfg.Bundle.Watch && errors.Is(err, context.Canceled) {
				break
			}
			return err
		}
		if err := writeOutput(out, f); err != nil {
			return err
		}
		if appCfg.Bundle.Watch {
			log.Info().Str("file", f.Path).Int("bytes", len(f.Contents)).Msg("Wrote output")
			continue
		}
		written = append(written, output.WrittenFile{Path: f.Path, Bytes: len(f.Contents)})
	}

	if appCfg.Bundle.Watch {
		return nil
	}
	return formatter.PrintFiles(written)
}

// applyBuildFlags overrides loaded settings with explicitly set flags
func applyBuildFlags(cmd *cobra.Command, appCfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("watch") {
		appCfg.Bundle.Watch = buildWatch
	}
	if flags.Changed("filename") {
		appCfg.Bundle.Output.Filename = buildFilename
	}
	if flags.Changed("stats") {
		appCfg.Bundle.Stats = parseStatsFlag(buildStats)
	}
	if flags.Changed("metrics-addr") {
		appCfg.Metrics.Enabled = true
		appCfg.Metrics.Address = buildMetricsAddr
	}
}

// parseStatsFlag maps "true"/"false" to booleans and keeps preset names
func parseStatsFlag(value string) any {
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return value
}

// expandInputs resolves globs and relative paths against dir. Literal
// paths are kept even if they don't match anything, so the bundler can
// report them.
func expandInputs(args []string, dir string) ([]string, error) {
	var inputs []string
	for _, arg := range args {
		pattern := arg
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(dir, pattern)
		}

		if !strings.ContainsAny(arg, "*?[{") {
			inputs = append(inputs, pattern)
			continue
		}

		matches, err := doublestar.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid glob %q: %w", arg, err)
		}
		if len(matches) == 0 {
			log.Warn().Str("pattern", arg).Msg("Glob matched no files")
		}
		inputs = append(inputs, matches...)
	}
	return inputs, nil
}

func writeOutput(fs afero.Fs, f vfs.OutputFile) error {
	if err := fs.MkdirAll(filepath.Dir(f.Path), 0750); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", f.Path, err)
	}
	if err := afero.WriteFile(fs, f.Path, f.Contents, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", f.Path, err)
	}
	return nil
}

func shutdown(name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Warn().Err(err).Str("component", name).Msg("Shutdown failed")
	}
}
